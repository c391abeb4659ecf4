// Package protocol defines the JSON frames exchanged over the /ws endpoint.
//
// Every WebSocket text message carries one JSON object with a "type" field.
// Client frames are auth and message; server frames are auth_success,
// new_message, message_sent and error.
package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Tyrowin/livechat/internal/chat"
)

// Frame types.
const (
	TypeAuth        = "auth"
	TypeMessage     = "message"
	TypeAuthSuccess = "auth_success"
	TypeNewMessage  = "new_message"
	TypeMessageSent = "message_sent"
	TypeError       = "error"
)

// Error texts sent in error frames.
const (
	ErrTextInvalidFormat    = "Invalid message format"
	ErrTextUnknownType      = "Unknown frame type"
	ErrTextInvalidUser      = "Invalid user id"
	ErrTextIdentityMismatch = "User id does not match the authenticated session"
	ErrTextAlreadyAuthed    = "Connection is already authenticated as another user"
	ErrTextAuthRequired     = "Authentication required"
	ErrTextUnknownTarget    = "Unknown recipient"
	ErrTextSendFailed       = "Failed to send message"
	ErrTextRateLimited      = "Rate limit exceeded"
)

// ErrInvalidFrame reports bytes that are not a JSON object with a type.
var ErrInvalidFrame = errors.New("invalid frame")

// Inbound is the decoded envelope of any frame. UserID is set on auth frames,
// Data on message, new_message and message_sent frames, Message on error
// frames.
type Inbound struct {
	Type    string          `json:"type"`
	UserID  *chat.Identity  `json:"userId,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
}

// Auth is the client's identity announcement.
type Auth struct {
	Type   string        `json:"type"`
	UserID chat.Identity `json:"userId"`
}

// Compose is the client's new message frame.
type Compose struct {
	Type string              `json:"type"`
	Data chat.ComposeRequest `json:"data"`
}

// Notification is the payload of new_message: the stored message plus the
// sender's display fields.
type Notification struct {
	chat.Message
	SenderName   string  `json:"senderName"`
	SenderAvatar *string `json:"senderAvatar"`
}

type outbound struct {
	Type    string `json:"type"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

// Decode parses a single frame.
func Decode(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	if in.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrInvalidFrame)
	}
	return in, nil
}

// DecodeBatch parses a WebSocket message that may hold several frames
// separated by newlines.
func DecodeBatch(raw []byte) ([]Inbound, error) {
	var out []Inbound
	for _, line := range bytes.Split(raw, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		in, err := Decode(line)
		if err != nil {
			return out, err
		}
		out = append(out, in)
	}
	return out, nil
}

// DecodeCompose parses the data of a message frame. Unknown fields such as a
// client supplied senderId are ignored; the sender is always the session's
// identity.
func DecodeCompose(data json.RawMessage) (chat.ComposeRequest, error) {
	var req chat.ComposeRequest
	if len(data) == 0 {
		return req, fmt.Errorf("%w: missing data", ErrInvalidFrame)
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return req, nil
}

// DecodeMessage parses the data of a message_sent frame.
func DecodeMessage(data json.RawMessage) (chat.Message, error) {
	var msg chat.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return msg, nil
}

// DecodeNotification parses the data of a new_message frame.
func DecodeNotification(data json.RawMessage) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(data, &n); err != nil {
		return n, fmt.Errorf("%w: %v", ErrInvalidFrame, err)
	}
	return n, nil
}

// EncodeAuth builds an auth frame.
func EncodeAuth(id chat.Identity) ([]byte, error) {
	return json.Marshal(Auth{Type: TypeAuth, UserID: id})
}

// EncodeCompose builds a message frame.
func EncodeCompose(req chat.ComposeRequest) ([]byte, error) {
	return json.Marshal(Compose{Type: TypeMessage, Data: req})
}

// EncodeAuthSuccess builds an auth_success frame.
func EncodeAuthSuccess() []byte {
	return []byte(`{"type":"auth_success"}`)
}

// EncodeNewMessage builds a new_message frame.
func EncodeNewMessage(n Notification) ([]byte, error) {
	return json.Marshal(outbound{Type: TypeNewMessage, Data: n})
}

// EncodeMessageSent builds a message_sent frame.
func EncodeMessageSent(msg chat.Message) ([]byte, error) {
	return json.Marshal(outbound{Type: TypeMessageSent, Data: msg})
}

// EncodeError builds an error frame.
func EncodeError(text string) []byte {
	b, err := json.Marshal(outbound{Type: TypeError, Message: text})
	if err != nil {
		return []byte(`{"type":"error","message":"Internal error"}`)
	}
	return b
}
