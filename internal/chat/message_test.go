package chat_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/livechat/internal/chat"
)

func identity(v int64) *chat.Identity {
	id := chat.Identity(v)
	return &id
}

func room(v int64) *chat.RoomID {
	id := chat.RoomID(v)
	return &id
}

// TestComposeRequestValidate covers the target exclusivity rule and the
// content and type checks applied before persistence.
func TestComposeRequestValidate(t *testing.T) {
	tests := []struct {
		name    string
		sender  chat.Identity
		req     chat.ComposeRequest
		wantErr bool
	}{
		{name: "direct", sender: 1, req: chat.ComposeRequest{Content: "hi", ReceiverID: identity(2)}},
		{name: "room", sender: 1, req: chat.ComposeRequest{Content: "hi", ChatRoomID: room(7)}},
		{name: "both targets", sender: 1, req: chat.ComposeRequest{Content: "hi", ReceiverID: identity(2), ChatRoomID: room(7)}, wantErr: true},
		{name: "no target", sender: 1, req: chat.ComposeRequest{Content: "hi"}, wantErr: true},
		{name: "blank content", sender: 1, req: chat.ComposeRequest{Content: "   ", ReceiverID: identity(2)}, wantErr: true},
		{name: "zero receiver", sender: 1, req: chat.ComposeRequest{Content: "hi", ReceiverID: identity(0)}, wantErr: true},
		{name: "negative room", sender: 1, req: chat.ComposeRequest{Content: "hi", ChatRoomID: room(-3)}, wantErr: true},
		{name: "no sender", sender: 0, req: chat.ComposeRequest{Content: "hi", ReceiverID: identity(2)}, wantErr: true},
		{name: "long type", sender: 1, req: chat.ComposeRequest{Content: "hi", ReceiverID: identity(2), MessageType: strings.Repeat("x", 21)}, wantErr: true},
		{name: "invalid utf8", sender: 1, req: chat.ComposeRequest{Content: "\xff\xfe", ReceiverID: identity(2)}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.req.Validate(tt.sender)
			if tt.wantErr {
				if !errors.Is(err, chat.ErrInvalidMessage) {
					t.Fatalf("expected ErrInvalidMessage, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestComposeRequestDefaultsMessageType(t *testing.T) {
	nm, err := chat.ComposeRequest{Content: "hi", ChatRoomID: room(7)}.Validate(1)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if nm.MessageType != chat.DefaultMessageType {
		t.Errorf("expected message type %q, got %q", chat.DefaultMessageType, nm.MessageType)
	}
	if nm.SenderID != 1 {
		t.Errorf("expected sender 1, got %d", nm.SenderID)
	}
}

func TestComposeRequestCopiesTargets(t *testing.T) {
	req := chat.ComposeRequest{Content: "hi", ReceiverID: identity(2)}
	nm, err := req.Validate(1)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	*req.ReceiverID = 99
	if *nm.ReceiverID != 2 {
		t.Errorf("validated message shares the request's receiver pointer")
	}
}

func TestPersistedMessage(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("X", 3600))
	nm := chat.NewMessage{Content: "hi", SenderID: 1, ChatRoomID: room(7), MessageType: "text"}

	msg := nm.Persisted(42, created)

	if msg.ID != 42 || msg.Content != "hi" || msg.SenderID != 1 {
		t.Errorf("unexpected message %+v", msg)
	}
	if msg.IsDirect() || msg.Kind() != "room" {
		t.Errorf("expected a room message, got kind %q", msg.Kind())
	}
	if msg.CreatedAt.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %v", msg.CreatedAt.Location())
	}
}

func TestPersistedCopiesTargets(t *testing.T) {
	direct := chat.NewMessage{Content: "hi", SenderID: 1, ReceiverID: identity(2), MessageType: "text"}
	inRoom := chat.NewMessage{Content: "hi", SenderID: 1, ChatRoomID: room(7), MessageType: "text"}

	dm := direct.Persisted(1, time.Now())
	rm := inRoom.Persisted(2, time.Now())
	*direct.ReceiverID = 99
	*inRoom.ChatRoomID = 99

	if *dm.ReceiverID != 2 {
		t.Errorf("persisted receiver = %d, want 2", *dm.ReceiverID)
	}
	if *rm.ChatRoomID != 7 {
		t.Errorf("persisted room = %d, want 7", *rm.ChatRoomID)
	}
}
