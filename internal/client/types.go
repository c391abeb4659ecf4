package client

import (
	"errors"
	"time"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/Tyrowin/livechat/internal/protocol"
)

// Errors returned by the client.
var (
	ErrNotConnected   = errors.New("client: not connected")
	ErrClosed         = errors.New("client: closed")
	ErrAlreadyRunning = errors.New("client: already running")
)

// Defaults for zero Config fields.
const (
	DefaultReconnectDelay   = 3 * time.Second
	DefaultHandshakeTimeout = 10 * time.Second
	DefaultWriteTimeout     = 10 * time.Second
	DefaultPongWait         = 60 * time.Second
)

// State is the connection state of a Client.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Listener receives decoded frames of the type it was registered for.
// Listeners run on the read goroutine and must not block.
type Listener func(protocol.Inbound)

// Config configures a Client.
type Config struct {
	// URL is the ws:// or wss:// address of the /ws endpoint.
	URL string
	// UserID is announced in the auth frame after every connect.
	UserID chat.Identity
	// Token, when set, is sent as a bearer token on the upgrade request.
	Token string
	// Origin is sent as the Origin header when set.
	Origin string

	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PongWait bounds the silence tolerated between server pings.
	PongWait time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PongWait <= 0 {
		c.PongWait = DefaultPongWait
	}
}
