package chat

import "context"

// Profile holds the display fields of a user that notifications carry.
type Profile struct {
	ID             Identity `json:"id"`
	DisplayName    string   `json:"displayName"`
	ProfilePicture *string  `json:"profilePicture"`
}

// MessageStore persists messages. Create returns ErrUnknownTarget when the
// receiver or room does not exist.
type MessageStore interface {
	Create(ctx context.Context, msg NewMessage) (Message, error)
}

// RoomMembership resolves the current members of a room.
type RoomMembership interface {
	MembersOf(ctx context.Context, room RoomID) ([]Identity, error)
}

// UserDirectory resolves display fields for a user.
type UserDirectory interface {
	Profile(ctx context.Context, id Identity) (Profile, error)
}

// History reads persisted messages for the fallback fetch path. Results are
// ordered oldest first.
type History interface {
	DirectMessages(ctx context.Context, a, b Identity, limit int) ([]Message, error)
	RoomMessages(ctx context.Context, room RoomID, limit int) ([]Message, error)
}

// RoomDirectory mutates room membership.
type RoomDirectory interface {
	JoinRoom(ctx context.Context, user Identity, room RoomID) error
	LeaveRoom(ctx context.Context, user Identity, room RoomID) error
}

// RoomCatalog creates and lists rooms.
type RoomCatalog interface {
	CreateRoom(ctx context.Context, room NewRoom) (Room, error)
	// ListRooms returns every room, newest first.
	ListRooms(ctx context.Context) ([]Room, error)
}

// Store is the full set of persistence operations a backend provides.
type Store interface {
	MessageStore
	RoomMembership
	UserDirectory
	History
	RoomDirectory
	RoomCatalog

	CreateUser(ctx context.Context, email, displayName string, picture *string) (Profile, error)
	Close() error
}
