package server

import (
	"sync"

	"github.com/Tyrowin/livechat/internal/chat"
)

// Conn is a live connection as seen by the registry and the router.
// Deliver enqueues one encoded frame without blocking and reports whether it
// was accepted.
type Conn interface {
	ID() string
	Deliver(frame []byte) bool
}

// Registry maps each authenticated identity to its current connection.
// A later registration for the same identity replaces the earlier one.
type Registry struct {
	mu    sync.RWMutex
	conns map[chat.Identity]Conn
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[chat.Identity]Conn)}
}

// Register binds id to conn and returns the connection it replaced, if any.
// The replaced connection is left open.
func (r *Registry) Register(id chat.Identity, conn Conn) (Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.conns[id]
	r.conns[id] = conn
	if ok && prev == conn {
		return nil, false
	}
	return prev, ok
}

// Unregister removes id only while it still points at conn, so a stale
// connection closing late cannot evict a newer one.
func (r *Registry) Unregister(id chat.Identity, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[id]
	if !ok || current != conn {
		return false
	}
	delete(r.conns, id)
	return true
}

// Lookup returns the connection for id. Absence is the normal offline case.
func (r *Registry) Lookup(id chat.Identity) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[id]
	return conn, ok
}

// Len returns the number of reachable identities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
