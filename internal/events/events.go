// Package events publishes persisted messages to NATS so consumers outside
// the live path (search indexing, push notifications, audit) can follow the
// message stream.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Tyrowin/livechat/internal/chat"
)

// Publisher receives every message after it has been stored and routed.
type Publisher interface {
	Publish(ctx context.Context, msg chat.Message) error
}

// Noop drops events.
type Noop struct{}

func (Noop) Publish(context.Context, chat.Message) error { return nil }

// Config configures the NATS publisher.
type Config struct {
	Servers       []string
	Name          string
	SubjectPrefix string
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// NATS publishes to <prefix>.direct.<receiverId> or <prefix>.room.<roomId>.
type NATS struct {
	nc     *nats.Conn
	prefix string
}

// NewNATS connects to the configured servers. The connection reconnects
// forever in the background.
func NewNATS(cfg Config) (*NATS, error) {
	if len(cfg.Servers) == 0 {
		return nil, errors.New("nats servers missing")
	}
	if cfg.Name == "" {
		cfg.Name = "livechat"
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 3 * time.Second
	}

	nc, err := nats.Connect(strings.Join(cfg.Servers, ","),
		nats.Name(cfg.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	)
	if err != nil {
		return nil, err
	}
	return &NATS{nc: nc, prefix: normalizePrefix(cfg.SubjectPrefix)}, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return "livechat.messages"
	}
	return prefix
}

// Subject returns the subject msg is published on.
func Subject(prefix string, msg chat.Message) string {
	prefix = normalizePrefix(prefix)
	if msg.ReceiverID != nil {
		return fmt.Sprintf("%s.direct.%d", prefix, *msg.ReceiverID)
	}
	if msg.ChatRoomID != nil {
		return fmt.Sprintf("%s.room.%d", prefix, *msg.ChatRoomID)
	}
	return prefix + ".unknown"
}

// Publish encodes msg as JSON and publishes it.
func (n *NATS) Publish(_ context.Context, msg chat.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message %d: %w", msg.ID, err)
	}
	return n.nc.Publish(Subject(n.prefix, msg), payload)
}

// Close drains pending publishes and closes the connection.
func (n *NATS) Close() error {
	return n.nc.Drain()
}
