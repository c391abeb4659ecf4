// Command chatclient is a terminal chat client.
//
// Each stdin line is sent as a message: "@<userId> text" goes to one user and
// "#<roomId> text" goes to a room. Incoming messages are printed as they
// arrive; the connection is re-established automatically.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/Tyrowin/livechat/internal/client"
	"github.com/Tyrowin/livechat/internal/logging"
	"github.com/Tyrowin/livechat/internal/protocol"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "WebSocket endpoint")
	user := flag.Int64("user", 0, "user id to authenticate as")
	token := flag.String("token", os.Getenv("LIVECHAT_TOKEN"), "bearer token for the upgrade request")
	origin := flag.String("origin", "", "Origin header to send")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	if *user <= 0 {
		fmt.Fprintln(os.Stderr, "chatclient: -user is required")
		os.Exit(2)
	}

	logger := logging.New(logging.Config{Level: *logLevel})
	c := client.New(client.Config{
		URL:    *url,
		UserID: chat.Identity(*user),
		Token:  *token,
		Origin: *origin,
	}, logger)

	out := bufio.NewWriter(os.Stdout)
	p := newPrinter(out)
	c.On(protocol.TypeNewMessage, p.notification)
	c.On(protocol.TypeError, p.serverError)
	c.OnState(p.state)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		readInput(os.Stdin, c, p)
		stop()
	}()

	if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "chatclient: %v\n", err)
		os.Exit(1)
	}
}

type sender interface {
	SendDirect(to chat.Identity, content string) error
	SendRoom(room chat.RoomID, content string) error
}

func readInput(r io.Reader, s sender, p *printer) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := dispatchLine(line, s); err != nil {
			p.printf("! %v\n", err)
		}
	}
}

// dispatchLine sends "@<id> text" as a direct message and "#<id> text" as a
// room message.
func dispatchLine(line string, s sender) error {
	target, content, ok := strings.Cut(line, " ")
	if !ok || len(target) < 2 {
		return errors.New(`usage: "@<userId> text" or "#<roomId> text"`)
	}
	id, err := strconv.ParseInt(target[1:], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid id %q", target[1:])
	}

	switch target[0] {
	case '@':
		return s.SendDirect(chat.Identity(id), content)
	case '#':
		return s.SendRoom(chat.RoomID(id), content)
	default:
		return errors.New(`usage: "@<userId> text" or "#<roomId> text"`)
	}
}
