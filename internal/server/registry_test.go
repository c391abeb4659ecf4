package server

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Tyrowin/livechat/internal/chat"
)

// fakeConn records delivered frames. A full fakeConn refuses frames.
type fakeConn struct {
	id string

	mu     sync.Mutex
	frames [][]byte
	full   bool
}

func newFakeConn(id string) *fakeConn { return &fakeConn{id: id} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Deliver(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return false
	}
	c.frames = append(c.frames, frame)
	return true
}

func (c *fakeConn) received() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.frames...)
}

func TestRegistryLatestRegisterWins(t *testing.T) {
	r := NewRegistry()
	first := newFakeConn("first")
	second := newFakeConn("second")

	if prev, replaced := r.Register(1, first); replaced || prev != nil {
		t.Fatalf("first register should not replace anything, got %v", prev)
	}
	prev, replaced := r.Register(1, second)
	if !replaced || prev != first {
		t.Fatalf("expected first connection to be replaced, got %v (%v)", prev, replaced)
	}

	got, ok := r.Lookup(1)
	if !ok || got != second {
		t.Fatalf("expected second connection, got %v", got)
	}
	if r.Len() != 1 {
		t.Errorf("expected one entry, got %d", r.Len())
	}
	if len(first.received()) != 0 {
		t.Error("registry must not touch the replaced connection")
	}
}

func TestRegistryReRegisterSameConnection(t *testing.T) {
	r := NewRegistry()
	c := newFakeConn("c")
	r.Register(4, c)
	if prev, replaced := r.Register(4, c); replaced || prev != nil {
		t.Errorf("re-registering the same connection is not a replacement, got %v", prev)
	}
}

func TestRegistryStaleUnregisterKeepsNewer(t *testing.T) {
	r := NewRegistry()
	stale := newFakeConn("stale")
	fresh := newFakeConn("fresh")

	r.Register(7, stale)
	r.Register(7, fresh)

	if r.Unregister(7, stale) {
		t.Fatal("stale unregister must not remove the newer registration")
	}
	if got, ok := r.Lookup(7); !ok || got != fresh {
		t.Fatalf("expected fresh connection to remain, got %v", got)
	}

	if !r.Unregister(7, fresh) {
		t.Fatal("expected current connection to unregister")
	}
	if _, ok := r.Lookup(7); ok {
		t.Error("expected identity to be unreachable")
	}
	if r.Unregister(7, fresh) {
		t.Error("second unregister should be a no-op")
	}
}

func TestRegistryLookupMissing(t *testing.T) {
	r := NewRegistry()
	if c, ok := r.Lookup(99); ok || c != nil {
		t.Errorf("expected no entry, got %v", c)
	}
}

func TestRegistryConcurrentRegisterUnregister(t *testing.T) {
	r := NewRegistry()
	const users = 20
	const rounds = 200

	var wg sync.WaitGroup
	finals := make([]*fakeConn, users)
	for u := 0; u < users; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			id := chat.Identity(u + 1)
			var prev *fakeConn
			for i := 0; i < rounds; i++ {
				c := newFakeConn(fmt.Sprintf("%d-%d", u, i))
				r.Register(id, c)
				if prev != nil {
					r.Unregister(id, prev)
				}
				prev = c
			}
			finals[u] = prev
		}(u)
	}

	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for j := 0; j < rounds; j++ {
				for u := 1; u <= users; u++ {
					r.Lookup(chat.Identity(u))
				}
			}
		}()
	}

	wg.Wait()
	readers.Wait()

	if r.Len() != users {
		t.Fatalf("expected %d entries, got %d", users, r.Len())
	}
	for u := 0; u < users; u++ {
		got, ok := r.Lookup(chat.Identity(u + 1))
		if !ok || got != finals[u] {
			t.Errorf("user %d: expected last connection %s, got %v", u+1, finals[u].ID(), got)
		}
	}
}
