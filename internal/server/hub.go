package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Tyrowin/livechat/internal/auth"
	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/Tyrowin/livechat/internal/events"
	"github.com/Tyrowin/livechat/internal/metrics"
	"github.com/Tyrowin/livechat/internal/presence"
)

// Dependencies are the collaborators a Hub delegates to. Store and Members
// are required; the rest fall back to no-op implementations.
type Dependencies struct {
	Store   chat.MessageStore
	Members chat.RoomMembership
	Users   chat.UserDirectory
	History chat.History
	Rooms   chat.RoomDirectory
	Catalog chat.RoomCatalog

	Auth     auth.Authenticator
	Presence presence.Tracker
	// Locator answers presence queries for users connected to other
	// processes. Nil limits them to this process.
	Locator presence.Locator
	Events   events.Publisher
	Metrics  *metrics.Collector
	Logger   *slog.Logger
}

// StoreDependencies fills every persistence collaborator from st.
func StoreDependencies(st chat.Store) Dependencies {
	return Dependencies{
		Store:   st,
		Members: st,
		Users:   st,
		History: st,
		Rooms:   st,
		Catalog: st,
	}
}

// Hub owns the live sessions of one server process, the connection registry
// and the router.
type Hub struct {
	cfg Config

	store    chat.MessageStore
	history  chat.History
	rooms    chat.RoomDirectory
	catalog  chat.RoomCatalog
	auth     auth.Authenticator
	presence presence.Tracker
	locator  presence.Locator
	events   events.Publisher
	metrics  *metrics.Collector
	logger   *slog.Logger

	registry *Registry
	router   *Router
	origins  *originPolicy

	sessions   map[*Session]struct{}
	register   chan *Session
	unregister chan *Session
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	startOnce  sync.Once
}

// NewHub validates deps and builds a hub. Call Start before serving.
func NewHub(cfg Config, deps Dependencies) (*Hub, error) {
	if deps.Store == nil || deps.Members == nil {
		return nil, errors.New("hub needs a message store and room membership")
	}
	cfg.applyDefaults()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Auth == nil {
		deps.Auth = auth.Anonymous{}
	}
	if deps.Presence == nil {
		deps.Presence = presence.Noop{}
	}
	if deps.Events == nil {
		deps.Events = events.Noop{}
	}

	registry := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	return &Hub{
		cfg:        cfg,
		store:      deps.Store,
		history:    deps.History,
		rooms:      deps.Rooms,
		catalog:    deps.Catalog,
		auth:       deps.Auth,
		presence:   deps.Presence,
		locator:    deps.Locator,
		events:     deps.Events,
		metrics:    deps.Metrics,
		logger:     logger,
		registry:   registry,
		router:     NewRouter(registry, deps.Members, deps.Users, deps.Metrics, logger),
		origins:    newOriginPolicy(cfg.AllowedOrigins, logger),
		sessions:   make(map[*Session]struct{}),
		register:   make(chan *Session),
		unregister: make(chan *Session),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}, nil
}

// Registry returns the hub's connection registry.
func (h *Hub) Registry() *Registry { return h.registry }

// Router returns the hub's message router.
func (h *Hub) Router() *Router { return h.router }

// Start runs the event loop in a new goroutine. Extra calls are ignored.
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		go h.Run()
		h.logger.Info("hub started")
	})
}

// SessionCount returns the number of open sessions, authenticated or not.
func (h *Hub) SessionCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

// Run is the hub's event loop: it admits sessions, starts their pumps and
// forgets them once they finish. It returns after Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownSessions()
			return

		case s := <-h.register:
			h.mutex.Lock()
			h.sessions[s] = struct{}{}
			count := len(h.sessions)
			h.mutex.Unlock()
			h.metrics.ConnectionOpened()
			s.logger.Debug("session registered", "sessions", count)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				s.writePump()
			}()
			go func() {
				defer h.wg.Done()
				s.readPump()
			}()

		case s := <-h.unregister:
			h.removeSession(s)
		}
	}
}

// admit hands a new session to the event loop. It reports false when the hub
// is shutting down.
func (h *Hub) admit(s *Session) bool {
	select {
	case h.register <- s:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterSession(s *Session) {
	select {
	case h.unregister <- s:
	case <-h.done:
		h.removeSession(s)
	}
}

func (h *Hub) removeSession(s *Session) {
	h.mutex.Lock()
	_, ok := h.sessions[s]
	if ok {
		delete(h.sessions, s)
	}
	count := len(h.sessions)
	h.mutex.Unlock()

	if ok {
		h.metrics.ConnectionClosed()
		s.logger.Debug("session unregistered", "sessions", count)
	}
}

func (h *Hub) shutdownSessions() {
	h.mutex.RLock()
	sessions := make([]*Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mutex.RUnlock()

	for _, s := range sessions {
		s.Close()
	}
	h.logger.Info("closing sessions", "count", len(sessions))
}

// Shutdown closes every session and waits for their pumps to finish, or
// until timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")
	h.cancel()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// a hub that never ran still needs its loop to observe the cancel
	h.Start()
	select {
	case <-h.done:
	case <-deadline.C:
		return context.DeadlineExceeded
	}

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-deadline.C:
		h.logger.Warn("hub shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
