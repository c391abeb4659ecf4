package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/Tyrowin/livechat/internal/chat"
)

// Memory is a process-local Store used for development and tests.
type Memory struct {
	mu       sync.RWMutex
	users    map[chat.Identity]chat.Profile
	emails   map[string]chat.Identity
	rooms    map[chat.RoomID]chat.Room
	members  map[chat.RoomID]map[chat.Identity]struct{}
	messages []chat.Message
	nextUser chat.Identity
	nextRoom chat.RoomID
	nextMsg  int64
	now      func() time.Time
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:   make(map[chat.Identity]chat.Profile),
		emails:  make(map[string]chat.Identity),
		rooms:   make(map[chat.RoomID]chat.Room),
		members: make(map[chat.RoomID]map[chat.Identity]struct{}),
		now:     time.Now,
	}
}

// CreateUser adds a user with the given display fields.
func (m *Memory) CreateUser(_ context.Context, email, displayName string, picture *string) (chat.Profile, error) {
	email = strings.ToLower(strings.TrimSpace(email))

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.emails[email]; exists {
		return chat.Profile{}, errors.Errorf("email %q already registered", email)
	}
	m.nextUser++
	p := chat.Profile{ID: m.nextUser, DisplayName: displayName, ProfilePicture: picture}
	m.users[p.ID] = p
	m.emails[email] = p.ID
	return p, nil
}

// CreateRoom adds a room and makes its creator a member.
func (m *Memory) CreateRoom(_ context.Context, room chat.NewRoom) (chat.Room, error) {
	room, err := room.Validate()
	if err != nil {
		return chat.Room{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[room.CreatedBy]; !ok {
		return chat.Room{}, errors.Wrapf(chat.ErrNotFound, "user %d", room.CreatedBy)
	}
	m.nextRoom++
	stored := chat.Room{
		ID:          m.nextRoom,
		Name:        room.Name,
		Description: room.Description,
		IsPrivate:   room.IsPrivate,
		CreatedBy:   room.CreatedBy,
		CreatedAt:   m.now().UTC(),
	}
	m.rooms[stored.ID] = stored
	m.members[stored.ID] = map[chat.Identity]struct{}{room.CreatedBy: {}}
	return stored, nil
}

// ListRooms returns every room, newest first.
func (m *Memory) ListRooms(_ context.Context) ([]chat.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]chat.Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// Create stores msg and assigns its id and timestamp.
func (m *Memory) Create(_ context.Context, msg chat.NewMessage) (chat.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ReceiverID != nil {
		if _, ok := m.users[*msg.ReceiverID]; !ok {
			return chat.Message{}, errors.Wrapf(chat.ErrUnknownTarget, "receiver %d", *msg.ReceiverID)
		}
	}
	if msg.ChatRoomID != nil {
		if _, ok := m.rooms[*msg.ChatRoomID]; !ok {
			return chat.Message{}, errors.Wrapf(chat.ErrUnknownTarget, "room %d", *msg.ChatRoomID)
		}
	}

	m.nextMsg++
	stored := msg.Persisted(m.nextMsg, m.now())
	m.messages = append(m.messages, stored)
	return stored, nil
}

// MembersOf returns the current members of room in ascending id order.
func (m *Memory) MembersOf(_ context.Context, room chat.RoomID) ([]chat.Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	set := m.members[room]
	out := make([]chat.Identity, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// Profile returns the display fields of id.
func (m *Memory) Profile(_ context.Context, id chat.Identity) (chat.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.users[id]
	if !ok {
		return chat.Profile{}, errors.Wrapf(chat.ErrNotFound, "user %d", id)
	}
	return p, nil
}

// JoinRoom adds user to room; joining twice is a no-op.
func (m *Memory) JoinRoom(_ context.Context, user chat.Identity, room chat.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[room]
	if !ok {
		return errors.Wrapf(chat.ErrNotFound, "room %d", room)
	}
	if _, ok := m.users[user]; !ok {
		return errors.Wrapf(chat.ErrNotFound, "user %d", user)
	}
	set[user] = struct{}{}
	return nil
}

// LeaveRoom removes user from room.
func (m *Memory) LeaveRoom(_ context.Context, user chat.Identity, room chat.RoomID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[room]
	if !ok {
		return errors.Wrapf(chat.ErrNotFound, "room %d", room)
	}
	delete(set, user)
	return nil
}

// DirectMessages returns the latest messages exchanged between a and b.
func (m *Memory) DirectMessages(_ context.Context, a, b chat.Identity, limit int) ([]chat.Message, error) {
	return m.latest(limit, func(msg chat.Message) bool {
		if msg.ReceiverID == nil {
			return false
		}
		r := *msg.ReceiverID
		return (msg.SenderID == a && r == b) || (msg.SenderID == b && r == a)
	}), nil
}

// RoomMessages returns the latest messages posted to room.
func (m *Memory) RoomMessages(_ context.Context, room chat.RoomID, limit int) ([]chat.Message, error) {
	return m.latest(limit, func(msg chat.Message) bool {
		return msg.ChatRoomID != nil && *msg.ChatRoomID == room
	}), nil
}

func (m *Memory) latest(limit int, match func(chat.Message) bool) []chat.Message {
	limit = ClampLimit(limit)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]chat.Message, 0, limit)
	for i := len(m.messages) - 1; i >= 0 && len(out) < limit; i-- {
		if match(m.messages[i]) {
			out = append(out, m.messages[i])
		}
	}
	reverse(out)
	return out
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
