package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/Tyrowin/livechat/internal/logging"
	"github.com/Tyrowin/livechat/internal/protocol"
	"github.com/Tyrowin/livechat/internal/store"
)

const testOrigin = "http://localhost:8080"

// fixture is a running hub backed by an in-memory store with three users
// (ids 1, 2, 3) and one room whose members are 1 and 3.
type fixture struct {
	hub    *Hub
	store  *store.Memory
	server *httptest.Server
	wsURL  string
	alice  chat.Identity
	bob    chat.Identity
	carol  chat.Identity
	room   chat.RoomID
}

func newFixture(t *testing.T, mutate func(*Config, *Dependencies)) *fixture {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	avatar := "/avatars/alice.png"
	alice, err := mem.CreateUser(ctx, "alice@example.com", "Alice", &avatar)
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bob, err := mem.CreateUser(ctx, "bob@example.com", "Bob", nil)
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}
	carol, err := mem.CreateUser(ctx, "carol@example.com", "Carol", nil)
	if err != nil {
		t.Fatalf("create carol: %v", err)
	}
	general, err := mem.CreateRoom(ctx, chat.NewRoom{Name: "general", CreatedBy: alice.ID})
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	room := general.ID
	if err := mem.JoinRoom(ctx, carol.ID, room); err != nil {
		t.Fatalf("join room: %v", err)
	}

	cfg := *NewConfig()
	cfg.AllowedOrigins = []string{testOrigin}
	cfg.RateLimit = RateLimitConfig{Burst: 100, RefillInterval: time.Second}
	deps := StoreDependencies(mem)
	deps.Logger = logging.Discard()
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	hub, err := NewHub(cfg, deps)
	if err != nil {
		t.Fatalf("NewHub: %v", err)
	}
	hub.Start()

	srv := httptest.NewServer(SetupRoutes(hub))
	t.Cleanup(func() {
		srv.Close()
		_ = hub.Shutdown(2 * time.Second)
	})

	return &fixture{
		hub:    hub,
		store:  mem,
		server: srv,
		wsURL:  "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
		alice:  alice.ID,
		bob:    bob.ID,
		carol:  carol.ID,
		room:   room,
	}
}

func (f *fixture) dial(t *testing.T, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := f.dialRaw(header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *fixture) dialRaw(header http.Header) (*websocket.Conn, *http.Response, error) {
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Origin") == "" {
		header.Set("Origin", testOrigin)
	}
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	return dialer.Dial(f.wsURL, header)
}

// login dials and authenticates as id, consuming the auth_success frame.
func (f *fixture) login(t *testing.T, id chat.Identity) *websocket.Conn {
	t.Helper()
	conn := f.dial(t, nil)
	sendAuth(t, conn, id)
	expectFrame(t, conn, protocol.TypeAuthSuccess)
	waitFor(t, func() bool {
		c, ok := f.hub.Registry().Lookup(id)
		return ok && c != nil
	})
	return conn
}

func sendAuth(t *testing.T, conn *websocket.Conn, id chat.Identity) {
	t.Helper()
	raw, err := protocol.EncodeAuth(id)
	if err != nil {
		t.Fatalf("encode auth: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write auth: %v", err)
	}
}

func sendCompose(t *testing.T, conn *websocket.Conn, req chat.ComposeRequest) {
	t.Helper()
	raw, err := protocol.EncodeCompose(req)
	if err != nil {
		t.Fatalf("encode compose: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("write compose: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) protocol.Inbound {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read frame: %v", err)
	}
	in, err := protocol.Decode(raw)
	if err != nil {
		t.Fatalf("decode frame %s: %v", raw, err)
	}
	return in
}

func expectFrame(t *testing.T, conn *websocket.Conn, frameType string) protocol.Inbound {
	t.Helper()
	in := readFrame(t, conn)
	if in.Type != frameType {
		t.Fatalf("expected %s frame, got %s (message %q)", frameType, in.Type, in.Message)
	}
	return in
}

// expectNoFrame fails if any frame arrives within wait. The connection is not
// usable for reads afterwards.
func expectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %s", raw)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func identityPtr(id chat.Identity) *chat.Identity { return &id }

func roomPtr(id chat.RoomID) *chat.RoomID { return &id }
