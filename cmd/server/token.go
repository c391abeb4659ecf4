package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/livechat/internal/auth"
	"github.com/Tyrowin/livechat/internal/chat"
)

var tokenFlags struct {
	user int64
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a session token for a user",
	Long: `Signs a token with the configured auth secret. Pass it to chatclient
with -token or send it as "Authorization: Bearer <token>" on the /ws upgrade.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cfgFile)
		if err != nil {
			return err
		}
		token, err := issueToken(cfg.Auth.Secret, cfg.Auth.TokenTTL, chat.Identity(tokenFlags.user))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func issueToken(secret string, ttl time.Duration, user chat.Identity) (string, error) {
	if user <= 0 {
		return "", errors.New("--user must be a positive id")
	}
	verifier, err := auth.NewJWT(secret, ttl)
	if err != nil {
		return "", err
	}
	return verifier.Issue(user)
}

func init() {
	tokenCmd.Flags().Int64VarP(&tokenFlags.user, "user", "u", 0, "user id to issue the token for")
	rootCmd.AddCommand(tokenCmd)
}
