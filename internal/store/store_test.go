package store_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/Tyrowin/livechat/internal/chat"
	"github.com/Tyrowin/livechat/internal/store"
)

type backendFactory func(t *testing.T) chat.Store

func backends(t *testing.T) map[string]backendFactory {
	t.Helper()

	factories := map[string]backendFactory{
		"memory": func(t *testing.T) chat.Store {
			return store.NewMemory()
		},
		"sqlite": func(t *testing.T) chat.Store {
			s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "chat.db"))
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			return s
		},
	}

	if url := os.Getenv("LIVECHAT_TEST_POSTGRES_URL"); url != "" {
		factories["postgres"] = func(t *testing.T) chat.Store {
			s, err := store.OpenPostgres(context.Background(), store.PostgresConfig{URL: url})
			if err != nil {
				t.Fatalf("OpenPostgres: %v", err)
			}
			return s
		}
	}
	return factories
}

type fixture struct {
	store chat.Store
	alice chat.Profile
	bob   chat.Profile
	carol chat.Profile
	room  chat.RoomID
}

func newFixture(t *testing.T, factory backendFactory) fixture {
	t.Helper()
	ctx := context.Background()
	s := factory(t)
	t.Cleanup(func() { _ = s.Close() })

	// Emails are suffixed so repeated runs against a shared postgres do not collide.
	suffix := filepath.Base(t.TempDir())
	avatar := "/uploads/alice.png"
	alice, err := s.CreateUser(ctx, "alice-"+suffix+"@example.com", "Alice", &avatar)
	if err != nil {
		t.Fatalf("CreateUser alice: %v", err)
	}
	bob, err := s.CreateUser(ctx, "bob-"+suffix+"@example.com", "Bob", nil)
	if err != nil {
		t.Fatalf("CreateUser bob: %v", err)
	}
	carol, err := s.CreateUser(ctx, "carol-"+suffix+"@example.com", "Carol", nil)
	if err != nil {
		t.Fatalf("CreateUser carol: %v", err)
	}
	room, err := s.CreateRoom(ctx, chat.NewRoom{Name: "general", CreatedBy: alice.ID})
	if err != nil {
		t.Fatalf("CreateRoom: %v", err)
	}
	return fixture{store: s, alice: alice, bob: bob, carol: carol, room: room.ID}
}

func TestStoreCreateDirectMessage(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, factory)
			ctx := context.Background()

			receiver := f.bob.ID
			msg, err := f.store.Create(ctx, chat.NewMessage{
				Content: "hi", SenderID: f.alice.ID, ReceiverID: &receiver, MessageType: "text",
			})
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if msg.ID <= 0 {
				t.Errorf("expected positive id, got %d", msg.ID)
			}
			if msg.ReceiverID == nil || *msg.ReceiverID != f.bob.ID || msg.ChatRoomID != nil {
				t.Errorf("unexpected targets: %+v", msg)
			}
			if msg.CreatedAt.IsZero() {
				t.Error("expected createdAt to be set")
			}
		})
	}
}

func TestStoreCreateRejectsUnknownTarget(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, factory)
			ctx := context.Background()

			missingUser := chat.Identity(1 << 30)
			_, err := f.store.Create(ctx, chat.NewMessage{
				Content: "hi", SenderID: f.alice.ID, ReceiverID: &missingUser, MessageType: "text",
			})
			if !errors.Is(err, chat.ErrUnknownTarget) {
				t.Errorf("expected ErrUnknownTarget for receiver, got %v", err)
			}

			missingRoom := chat.RoomID(1 << 30)
			_, err = f.store.Create(ctx, chat.NewMessage{
				Content: "hi", SenderID: f.alice.ID, ChatRoomID: &missingRoom, MessageType: "text",
			})
			if !errors.Is(err, chat.ErrUnknownTarget) {
				t.Errorf("expected ErrUnknownTarget for room, got %v", err)
			}
		})
	}
}

func TestStoreMembershipIsFresh(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, factory)
			ctx := context.Background()

			assertMembers(t, f.store, f.room, f.alice.ID)

			if err := f.store.JoinRoom(ctx, f.bob.ID, f.room); err != nil {
				t.Fatalf("JoinRoom: %v", err)
			}
			if err := f.store.JoinRoom(ctx, f.bob.ID, f.room); err != nil {
				t.Fatalf("JoinRoom twice: %v", err)
			}
			assertMembers(t, f.store, f.room, f.alice.ID, f.bob.ID)

			if err := f.store.LeaveRoom(ctx, f.alice.ID, f.room); err != nil {
				t.Fatalf("LeaveRoom: %v", err)
			}
			assertMembers(t, f.store, f.room, f.bob.ID)
		})
	}
}

func TestStoreJoinUnknownRoom(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, factory)
			err := f.store.JoinRoom(context.Background(), f.bob.ID, chat.RoomID(1<<30))
			if !errors.Is(err, chat.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreRooms(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, factory)
			ctx := context.Background()

			topic := "release planning"
			created, err := f.store.CreateRoom(ctx, chat.NewRoom{
				Name: "  planning  ", Description: &topic, IsPrivate: true, CreatedBy: f.bob.ID,
			})
			if err != nil {
				t.Fatalf("CreateRoom: %v", err)
			}
			if created.Name != "planning" || created.CreatedBy != f.bob.ID || !created.IsPrivate {
				t.Errorf("unexpected room %+v", created)
			}
			if created.CreatedAt.IsZero() {
				t.Error("expected a creation time")
			}
			assertMembers(t, f.store, created.ID, f.bob.ID)

			rooms, err := f.store.ListRooms(ctx)
			if err != nil {
				t.Fatalf("ListRooms: %v", err)
			}
			newer, older := -1, -1
			for i, r := range rooms {
				switch r.ID {
				case created.ID:
					newer = i
					if r.Description == nil || *r.Description != topic {
						t.Errorf("description = %v, want %q", r.Description, topic)
					}
				case f.room:
					older = i
				}
			}
			if newer < 0 || older < 0 {
				t.Fatalf("rooms %v missing %d or %d", rooms, created.ID, f.room)
			}
			if newer > older {
				t.Errorf("expected newest room first, got positions %d and %d", newer, older)
			}

			if _, err := f.store.CreateRoom(ctx, chat.NewRoom{Name: "   ", CreatedBy: f.bob.ID}); !errors.Is(err, chat.ErrInvalidRoom) {
				t.Errorf("expected ErrInvalidRoom for a blank name, got %v", err)
			}
		})
	}
}

func TestStoreProfile(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, factory)
			ctx := context.Background()

			p, err := f.store.Profile(ctx, f.alice.ID)
			if err != nil {
				t.Fatalf("Profile: %v", err)
			}
			if p.DisplayName != "Alice" || p.ProfilePicture == nil || *p.ProfilePicture != "/uploads/alice.png" {
				t.Errorf("unexpected profile %+v", p)
			}

			p, err = f.store.Profile(ctx, f.bob.ID)
			if err != nil {
				t.Fatalf("Profile: %v", err)
			}
			if p.ProfilePicture != nil {
				t.Errorf("expected nil picture, got %q", *p.ProfilePicture)
			}

			if _, err := f.store.Profile(ctx, chat.Identity(1<<30)); !errors.Is(err, chat.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStoreHistory(t *testing.T) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, factory)
			ctx := context.Background()

			send := func(from, to chat.Identity, content string) {
				t.Helper()
				receiver := to
				if _, err := f.store.Create(ctx, chat.NewMessage{
					Content: content, SenderID: from, ReceiverID: &receiver, MessageType: "text",
				}); err != nil {
					t.Fatalf("Create: %v", err)
				}
			}
			send(f.alice.ID, f.bob.ID, "one")
			send(f.bob.ID, f.alice.ID, "two")
			send(f.alice.ID, f.carol.ID, "other")
			send(f.alice.ID, f.bob.ID, "three")

			room := f.room
			if _, err := f.store.Create(ctx, chat.NewMessage{
				Content: "room", SenderID: f.alice.ID, ChatRoomID: &room, MessageType: "text",
			}); err != nil {
				t.Fatalf("Create room message: %v", err)
			}

			direct, err := f.store.DirectMessages(ctx, f.bob.ID, f.alice.ID, 0)
			if err != nil {
				t.Fatalf("DirectMessages: %v", err)
			}
			assertContents(t, direct, "one", "two", "three")

			latest, err := f.store.DirectMessages(ctx, f.alice.ID, f.bob.ID, 2)
			if err != nil {
				t.Fatalf("DirectMessages: %v", err)
			}
			assertContents(t, latest, "two", "three")

			roomMsgs, err := f.store.RoomMessages(ctx, f.room, 10)
			if err != nil {
				t.Fatalf("RoomMessages: %v", err)
			}
			assertContents(t, roomMsgs, "room")
		})
	}
}

func TestClampLimit(t *testing.T) {
	tests := map[int]int{
		-1:   store.DefaultHistoryLimit,
		0:    store.DefaultHistoryLimit,
		10:   10,
		5000: store.MaxHistoryLimit,
	}
	for in, want := range tests {
		if got := store.ClampLimit(in); got != want {
			t.Errorf("ClampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := store.Open(context.Background(), "mysql", ""); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func assertMembers(t *testing.T, s chat.Store, room chat.RoomID, want ...chat.Identity) {
	t.Helper()
	got, err := s.MembersOf(context.Background(), room)
	if err != nil {
		t.Fatalf("MembersOf: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected members %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected members %v, got %v", want, got)
		}
	}
}

func assertContents(t *testing.T, msgs []chat.Message, want ...string) {
	t.Helper()
	if len(msgs) != len(want) {
		t.Fatalf("expected %d messages, got %d", len(want), len(msgs))
	}
	for i, msg := range msgs {
		if msg.Content != want[i] {
			t.Errorf("message %d: expected %q, got %q", i, want[i], msg.Content)
		}
	}
}
