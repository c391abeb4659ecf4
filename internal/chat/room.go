package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxRoomNameLength matches the width of the chat_rooms.name column.
const MaxRoomNameLength = 100

// ErrInvalidRoom reports a room creation request that fails validation.
var ErrInvalidRoom = errors.New("invalid room")

// Room is a persisted chat room.
type Room struct {
	ID          RoomID    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	IsPrivate   bool      `json:"isPrivate"`
	CreatedBy   Identity  `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// NewRoom is a room ready to be stored. The creator becomes its first member.
type NewRoom struct {
	Name        string   `json:"name"`
	Description *string  `json:"description,omitempty"`
	IsPrivate   bool     `json:"isPrivate,omitempty"`
	CreatedBy   Identity `json:"-"`
}

// Validate trims the name and checks it against the column limits.
func (nr NewRoom) Validate() (NewRoom, error) {
	nr.Name = strings.TrimSpace(nr.Name)
	switch {
	case nr.Name == "":
		return NewRoom{}, fmt.Errorf("%w: name is required", ErrInvalidRoom)
	case utf8.RuneCountInString(nr.Name) > MaxRoomNameLength:
		return NewRoom{}, fmt.Errorf("%w: name exceeds %d characters", ErrInvalidRoom, MaxRoomNameLength)
	case nr.CreatedBy <= 0:
		return NewRoom{}, fmt.Errorf("%w: creator is required", ErrInvalidRoom)
	}
	if nr.Description != nil {
		d := *nr.Description
		nr.Description = &d
	}
	return nr, nil
}
