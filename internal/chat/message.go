// Package chat defines the message model shared by the live delivery path,
// the storage backends and the client, together with the collaborator
// interfaces the delivery path consumes.
package chat

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"
)

// Identity is the stable id of a user account.
type Identity int64

// RoomID is the id of a chat room.
type RoomID int64

const (
	// DefaultMessageType is applied when a compose request leaves messageType empty.
	DefaultMessageType = "text"

	// MaxMessageTypeLength matches the width of the message_type column.
	MaxMessageTypeLength = 20
)

var (
	// ErrInvalidMessage reports a compose request that fails validation.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrUnknownTarget reports a receiver or room that does not exist.
	ErrUnknownTarget = errors.New("unknown recipient")

	// ErrNotFound reports a missing user or room on lookup.
	ErrNotFound = errors.New("not found")
)

// Message is a persisted chat message. Exactly one of ReceiverID and
// ChatRoomID is set.
type Message struct {
	ID          int64     `json:"id"`
	Content     string    `json:"content"`
	SenderID    Identity  `json:"senderId"`
	ReceiverID  *Identity `json:"receiverId"`
	ChatRoomID  *RoomID   `json:"chatRoomId"`
	MessageType string    `json:"messageType"`
	CreatedAt   time.Time `json:"createdAt"`
}

// IsDirect reports whether the message is addressed to a single user.
func (m Message) IsDirect() bool {
	return m.ReceiverID != nil
}

// Kind returns "direct" or "room"; used as a log and metric label.
func (m Message) Kind() string {
	if m.IsDirect() {
		return "direct"
	}
	return "room"
}

// NewMessage is a validated message that has not been stored yet.
type NewMessage struct {
	Content     string
	SenderID    Identity
	ReceiverID  *Identity
	ChatRoomID  *RoomID
	MessageType string
}

// ComposeRequest is the client supplied body of a compose frame.
type ComposeRequest struct {
	Content     string    `json:"content"`
	ReceiverID  *Identity `json:"receiverId,omitempty"`
	ChatRoomID  *RoomID   `json:"chatRoomId,omitempty"`
	MessageType string    `json:"messageType,omitempty"`
}

// Validate checks the request on behalf of sender and returns the message to
// persist. The returned error wraps ErrInvalidMessage.
func (r ComposeRequest) Validate(sender Identity) (NewMessage, error) {
	if sender <= 0 {
		return NewMessage{}, invalid("sender is required")
	}
	if strings.TrimSpace(r.Content) == "" {
		return NewMessage{}, invalid("content is required")
	}
	if !utf8.ValidString(r.Content) {
		return NewMessage{}, invalid("content is not valid UTF-8")
	}

	switch {
	case r.ReceiverID != nil && r.ChatRoomID != nil:
		return NewMessage{}, invalid("receiverId and chatRoomId are mutually exclusive")
	case r.ReceiverID == nil && r.ChatRoomID == nil:
		return NewMessage{}, invalid("one of receiverId or chatRoomId is required")
	case r.ReceiverID != nil && *r.ReceiverID <= 0:
		return NewMessage{}, invalid("receiverId must be positive")
	case r.ChatRoomID != nil && *r.ChatRoomID <= 0:
		return NewMessage{}, invalid("chatRoomId must be positive")
	}

	messageType := strings.TrimSpace(r.MessageType)
	if messageType == "" {
		messageType = DefaultMessageType
	}
	if len(messageType) > MaxMessageTypeLength {
		return NewMessage{}, invalid("messageType is too long")
	}

	nm := NewMessage{
		Content:     r.Content,
		SenderID:    sender,
		MessageType: messageType,
	}
	if r.ReceiverID != nil {
		id := *r.ReceiverID
		nm.ReceiverID = &id
	}
	if r.ChatRoomID != nil {
		id := *r.ChatRoomID
		nm.ChatRoomID = &id
	}
	return nm, nil
}

// Persisted builds the stored form of nm.
// The result does not share target pointers with nm.
func (nm NewMessage) Persisted(id int64, createdAt time.Time) Message {
	msg := Message{
		ID:          id,
		Content:     nm.Content,
		SenderID:    nm.SenderID,
		MessageType: nm.MessageType,
		CreatedAt:   createdAt.UTC(),
	}
	if nm.ReceiverID != nil {
		r := *nm.ReceiverID
		msg.ReceiverID = &r
	}
	if nm.ChatRoomID != nil {
		room := *nm.ChatRoomID
		msg.ChatRoomID = &room
	}
	return msg
}

type validationError struct {
	reason string
}

func (e *validationError) Error() string {
	return "invalid message: " + e.reason
}

func (e *validationError) Unwrap() error {
	return ErrInvalidMessage
}

func invalid(reason string) error {
	return &validationError{reason: reason}
}
