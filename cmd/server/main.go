// Command server runs the livechat WebSocket server.
//
// Usage:
//
//	# Start with settings from environment variables
//	server
//
//	# Start with a YAML configuration file
//	server --config /etc/livechat/config.yaml
//
//	# Issue a token for user 3 with the configured secret
//	server token --user 3
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string

	rootFlags struct {
		listen   string
		logLevel string
	}
)

var rootCmd = &cobra.Command{
	Use:   "server",
	Short: "livechat real-time delivery server",
	Long: `Runs the livechat WebSocket server.

Clients connect to /ws, announce their user id and exchange direct and room
messages. Messages are stored before they are delivered; history is served
over HTTP for clients that were offline.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServer,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "livechat: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML config file (defaults to environment variables)")
	rootCmd.Flags().StringVarP(&rootFlags.listen, "listen", "l", "", "override listen address, e.g. :8080")
	rootCmd.Flags().StringVar(&rootFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
}

func main() {
	Execute()
}
