package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/Tyrowin/livechat/internal/protocol"
)

const (
	writeWait       = 10 * time.Second
	pongWait        = 60 * time.Second
	pingPeriod      = (pongWait * 9) / 10
	presenceTimeout = 2 * time.Second
)

// SessionState is the authentication state of a session.
type SessionState int32

const (
	StateUnauthenticated SessionState = iota
	StateAuthenticated
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session owns one WebSocket connection. Frames are handled one at a time on
// the read pump; outbound frames are queued on send and written by the write
// pump.
type Session struct {
	id     string
	conn   *websocket.Conn
	hub    *Hub
	addr   string
	logger *slog.Logger

	// verified is the identity proven by the HTTP upgrade, zero when anonymous.
	verified chat.Identity

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	cleanOnce sync.Once
	ctx       context.Context
	cancel    context.CancelFunc

	limiter *rateLimiter

	mu    sync.RWMutex
	state SessionState
	user  chat.Identity
}

func newSession(h *Hub, conn *websocket.Conn, addr string, verified chat.Identity) *Session {
	ctx, cancel := context.WithCancel(h.ctx)
	id := uuid.NewString()
	if conn != nil {
		conn.SetReadLimit(h.cfg.MaxMessageSize)
	}
	return &Session{
		id:       id,
		conn:     conn,
		hub:      h,
		addr:     addr,
		logger:   h.logger.With("session", id, "remote", addr),
		verified: verified,
		send:     make(chan []byte, h.cfg.SendBufferSize),
		done:     make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		limiter:  newRateLimiter(h.cfg.RateLimit.Burst, h.cfg.RateLimit.RefillInterval),
	}
}

// ID returns the session's unique id.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Identity returns the bound identity once authenticated.
func (s *Session) Identity() (chat.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user, s.state == StateAuthenticated
}

// Deliver queues frame for the write pump without blocking. A full buffer
// means the peer is not keeping up; the session is closed and the frame is
// dropped.
func (s *Session) Deliver(frame []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- frame:
		return true
	case <-s.done:
		return false
	default:
		s.logger.Warn("send buffer full, closing session")
		s.Close()
		return false
	}
}

// Close stops both pumps. It is safe to call from any goroutine and more
// than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.cancel()
	})
}

func (s *Session) readPump() {
	defer func() {
		s.finish()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Debug("close connection in read pump", "error", err)
		}
	}()

	s.setupReadConnection()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}
		s.handleFrame(raw)
	}
}

func (s *Session) setupReadConnection() {
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.logger.Debug("set initial read deadline", "error", err)
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

func (s *Session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.logger.Warn("frame exceeded maximum size", "limit", s.hub.cfg.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		s.logger.Debug("client disconnected", "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		s.logger.Debug("connection closed", "error", err)
	default:
		s.logger.Info("websocket read error", "error", err)
	}
}

func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Debug("close connection in write pump", "error", err)
		}
	}()

	for {
		select {
		case frame := <-s.send:
			if !s.write(websocket.TextMessage, frame) {
				return
			}
		case <-ticker.C:
			if !s.write(websocket.PingMessage, nil) {
				return
			}
			s.refreshPresence()
		case <-s.done:
			s.flush()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// flush writes frames that were queued before the session closed.
func (s *Session) flush() {
	for {
		select {
		case frame := <-s.send:
			if !s.write(websocket.TextMessage, frame) {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) write(messageType int, data []byte) bool {
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		s.logger.Debug("set write deadline", "error", err)
		return false
	}
	if err := s.conn.WriteMessage(messageType, data); err != nil {
		if !isExpectedCloseError(err) {
			s.logger.Info("websocket write error", "error", err)
		}
		return false
	}
	return true
}

// finish runs the close-time cleanup exactly once.
func (s *Session) finish() {
	s.cleanOnce.Do(func() {
		s.Close()

		s.mu.Lock()
		user, wasAuthed := s.user, s.state == StateAuthenticated
		s.state = StateClosed
		s.mu.Unlock()

		if wasAuthed {
			if s.hub.registry.Unregister(user, s) {
				s.hub.metrics.SetReachable(s.hub.registry.Len())
			}
			ctx, cancel := context.WithTimeout(context.Background(), presenceTimeout)
			if err := s.hub.presence.Offline(ctx, user, s.id); err != nil {
				s.logger.Warn("presence offline", "user", int64(user), "error", err)
			}
			cancel()
		}

		s.hub.unregisterSession(s)
	})
}

func (s *Session) refreshPresence() {
	user, ok := s.Identity()
	if !ok {
		return
	}
	// A replaced session must not overwrite the newer connection's entry.
	if current, ok := s.hub.registry.Lookup(user); !ok || current != Conn(s) {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, presenceTimeout)
	defer cancel()
	if err := s.hub.presence.Online(ctx, user, s.id); err != nil {
		s.logger.Debug("presence refresh", "user", int64(user), "error", err)
	}
}

func (s *Session) handleFrame(raw []byte) {
	if !s.limiter.allow() {
		s.logger.Warn("rate limit exceeded, discarding frame",
			"burst", s.hub.cfg.RateLimit.Burst, "interval", s.hub.cfg.RateLimit.RefillInterval)
		s.reject("rate_limited", protocol.ErrTextRateLimited)
		return
	}

	in, err := protocol.Decode(raw)
	if err != nil {
		s.logger.Debug("invalid frame", "error", err)
		s.reject("invalid_format", protocol.ErrTextInvalidFormat)
		return
	}
	s.hub.metrics.FrameReceived(in.Type)

	switch in.Type {
	case protocol.TypeAuth:
		s.handleAuth(in)
	case protocol.TypeMessage:
		s.handleCompose(in)
	default:
		s.reject("unknown_type", protocol.ErrTextUnknownType)
	}
}

func (s *Session) handleAuth(in protocol.Inbound) {
	if in.UserID == nil || *in.UserID <= 0 {
		s.reject("invalid_user", protocol.ErrTextInvalidUser)
		return
	}
	id := *in.UserID
	if s.verified != 0 && id != s.verified {
		s.logger.Warn("auth frame does not match verified identity", "user", int64(id), "verified", int64(s.verified))
		s.reject("identity_mismatch", protocol.ErrTextIdentityMismatch)
		return
	}

	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return
	case StateAuthenticated:
		bound := s.user
		s.mu.Unlock()
		if bound != id {
			s.reject("already_authenticated", protocol.ErrTextAlreadyAuthed)
			return
		}
		// A repeated auth reclaims the registry slot if a newer
		// connection for the same user has since replaced this one.
		s.bind(id)
		s.Deliver(protocol.EncodeAuthSuccess())
		return
	}
	s.state = StateAuthenticated
	s.user = id
	s.mu.Unlock()

	s.bind(id)
	s.logger.Info("session authenticated", "user", int64(id))
	s.Deliver(protocol.EncodeAuthSuccess())
}

// bind makes s the reachable connection for id.
func (s *Session) bind(id chat.Identity) {
	if prev, replaced := s.hub.registry.Register(id, s); replaced {
		s.logger.Info("replaced previous connection", "user", int64(id), "previous", prev.ID())
	}
	s.hub.metrics.SetReachable(s.hub.registry.Len())

	ctx, cancel := context.WithTimeout(s.ctx, presenceTimeout)
	if err := s.hub.presence.Online(ctx, id, s.id); err != nil {
		s.logger.Warn("presence online", "user", int64(id), "error", err)
	}
	cancel()
}

func (s *Session) handleCompose(in protocol.Inbound) {
	user, ok := s.Identity()
	if !ok {
		s.reject("auth_required", protocol.ErrTextAuthRequired)
		return
	}

	req, err := protocol.DecodeCompose(in.Data)
	if err != nil {
		s.reject("invalid_format", protocol.ErrTextInvalidFormat)
		return
	}
	draft, err := req.Validate(user)
	if err != nil {
		s.reject("invalid_message", validationText(err))
		return
	}

	start := time.Now()
	msg, err := s.hub.store.Create(s.ctx, draft)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrUnknownTarget):
			s.reject("unknown_target", protocol.ErrTextUnknownTarget)
		case s.ctx.Err() != nil:
			// session closed while the store was working
		default:
			s.logger.Error("persist message", "user", int64(user), "error", err)
			s.reject("persist_failed", protocol.ErrTextSendFailed)
		}
		return
	}
	s.hub.metrics.MessagePersisted(msg.Kind(), time.Since(start).Seconds())

	out := s.hub.router.Route(s.ctx, s, msg)
	s.logger.Debug("message routed",
		"message", msg.ID,
		"kind", msg.Kind(),
		"targets", out.Targets,
		"delivered", out.Delivered,
		"offline", out.Offline,
		"dropped", out.Dropped,
	)

	if err := s.hub.events.Publish(s.ctx, msg); err != nil {
		s.logger.Warn("publish message event", "message", msg.ID, "error", err)
	}
}

func (s *Session) reject(reason, text string) {
	s.hub.metrics.FrameRejected(reason)
	s.Deliver(protocol.EncodeError(text))
}

// validationText turns "invalid message: content is required" into
// "Invalid message: content is required".
func validationText(err error) string {
	text := err.Error()
	if text == "" {
		return protocol.ErrTextInvalidFormat
	}
	return strings.ToUpper(text[:1]) + text[1:]
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "broken pipe")
}
