// Package client is a chat client that keeps one WebSocket connection to the
// server alive.
//
// Run dials the server, announces the user with an auth frame and then reads
// frames until the connection drops. After a drop it waits ReconnectDelay and
// dials again, forever, until the context is cancelled or Close is called.
// Frames sent by peers while the client is disconnected are not replayed;
// callers recover them from the history API.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/Tyrowin/livechat/internal/protocol"
)

type listenerEntry struct {
	id uint64
	fn Listener
}

type stateEntry struct {
	id uint64
	fn func(State)
}

// Client is a reconnecting chat client. Listeners registered with On and
// OnState belong to the Client and survive reconnects.
type Client struct {
	cfg    Config
	logger *slog.Logger
	dialer websocket.Dialer

	// writeMu serializes writes and guards conn. conn is only set once the
	// auth frame has been written on it.
	writeMu sync.Mutex
	conn    *websocket.Conn

	mu        sync.RWMutex
	state     State
	listeners map[string][]listenerEntry
	watchers  []stateEntry
	nextID    uint64

	running   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a Client. It does not connect until Run is called.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	return &Client{
		cfg:    cfg,
		logger: logger.With("component", "chat-client", "user", cfg.UserID),
		dialer: websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		listeners: make(map[string][]listenerEntry),
		done:      make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// On registers fn for frames of the given type and returns a function that
// removes it.
func (c *Client) On(frameType string, fn Listener) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[frameType] = append(c.listeners[frameType], listenerEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			entries := c.listeners[frameType]
			for i, e := range entries {
				if e.id == id {
					c.listeners[frameType] = append(entries[:i:i], entries[i+1:]...)
					break
				}
			}
		})
	}
}

// OnState registers fn for state changes and returns a function that removes
// it.
func (c *Client) OnState(fn func(State)) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.watchers = append(c.watchers, stateEntry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, w := range c.watchers {
				if w.id == id {
					c.watchers = append(c.watchers[:i:i], c.watchers[i+1:]...)
					break
				}
			}
		})
	}
}

// Run keeps the client connected until ctx is cancelled or Close is called.
// It returns nil after Close and ctx.Err() after cancellation.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	select {
	case <-c.done:
		return nil
	default:
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err != nil {
			c.setState(StateDisconnected)
			if ctx.Err() == nil {
				c.logger.Warn("connect failed", "url", c.cfg.URL, "error", err, "retry_in", c.cfg.ReconnectDelay)
			}
		} else {
			err = c.serve(ctx, conn)
			if ctx.Err() == nil {
				c.logger.Info("connection lost", "error", err, "retry_in", c.cfg.ReconnectDelay)
			}
		}

		if err := c.wait(ctx); err != nil {
			return c.exitError(err)
		}
	}
}

// Close stops Run and closes the current connection. It is safe to call more
// than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	return nil
}

// Send writes a compose frame. It fails with ErrNotConnected while the
// client is not authenticated on a live connection.
func (c *Client) Send(req chat.ComposeRequest) error {
	if _, err := req.Validate(c.cfg.UserID); err != nil {
		return err
	}
	frame, err := protocol.EncodeCompose(req)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	return c.write(frame)
}

// SendDirect sends a text message to one user.
func (c *Client) SendDirect(to chat.Identity, content string) error {
	return c.Send(chat.ComposeRequest{Content: content, ReceiverID: &to})
}

// SendRoom sends a text message to a room.
func (c *Client) SendRoom(room chat.RoomID, content string) error {
	return c.Send(chat.ComposeRequest{Content: content, ChatRoomID: &room})
}

func (c *Client) write(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		select {
		case <-c.done:
			return ErrClosed
		default:
			return ErrNotConnected
		}
	}

	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.Origin != "" {
		header.Set("Origin", c.cfg.Origin)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}
	return conn, nil
}

// serve runs one connection until it fails or ctx is cancelled.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		_ = conn.Close()
	})
	defer stop()

	if err := c.authenticate(conn); err != nil {
		_ = conn.Close()
		c.setState(StateDisconnected)
		return err
	}
	c.logger.Debug("connected", "url", c.cfg.URL)

	err := c.readLoop(conn)
	c.detach(conn)
	_ = conn.Close()
	return err
}

// authenticate writes the auth frame and publishes conn for Send while
// holding the write lock, so no compose frame can precede it.
func (c *Client) authenticate(conn *websocket.Conn) error {
	frame, err := protocol.EncodeAuth(c.cfg.UserID)
	if err != nil {
		return fmt.Errorf("encode auth: %w", err)
	}

	c.writeMu.Lock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		c.writeMu.Unlock()
		return fmt.Errorf("send auth: %w", err)
	}
	c.conn = conn
	c.mu.Lock()
	c.state = StateConnected
	c.mu.Unlock()
	c.writeMu.Unlock()

	c.notifyState(StateConnected)
	return nil
}

func (c *Client) detach(conn *websocket.Conn) {
	c.writeMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.writeMu.Unlock()
	c.setState(StateDisconnected)
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))

		frames, err := protocol.DecodeBatch(data)
		for _, frame := range frames {
			c.dispatch(frame)
		}
		if err != nil {
			c.logger.Warn("discarding malformed frame", "error", err)
		}
	}
}

func (c *Client) dispatch(frame protocol.Inbound) {
	c.mu.RLock()
	entries := append([]listenerEntry(nil), c.listeners[frame.Type]...)
	c.mu.RUnlock()

	for _, e := range entries {
		e.fn(frame)
	}
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()

	if changed {
		c.notifyState(s)
	}
}

func (c *Client) notifyState(s State) {
	c.mu.RLock()
	watchers := append([]stateEntry(nil), c.watchers...)
	c.mu.RUnlock()

	for _, w := range watchers {
		w.fn(s)
	}
}

func (c *Client) wait(ctx context.Context) error {
	timer := time.NewTimer(c.cfg.ReconnectDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) exitError(err error) error {
	c.setState(StateDisconnected)
	select {
	case <-c.done:
		return nil
	default:
		return err
	}
}
