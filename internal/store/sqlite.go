package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/Tyrowin/livechat/internal/chat"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		email TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL,
		profile_picture TEXT,
		status TEXT DEFAULT 'online',
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS chat_rooms (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		description TEXT,
		is_private INTEGER NOT NULL DEFAULT 0,
		created_by INTEGER REFERENCES users(id),
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		content TEXT NOT NULL,
		sender_id INTEGER NOT NULL REFERENCES users(id),
		receiver_id INTEGER REFERENCES users(id),
		chat_room_id INTEGER REFERENCES chat_rooms(id),
		message_type TEXT NOT NULL DEFAULT 'text',
		created_at TEXT NOT NULL,
		CHECK ((receiver_id IS NULL) <> (chat_room_id IS NULL))
	)`,
	`CREATE TABLE IF NOT EXISTS chat_room_members (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		chat_room_id INTEGER NOT NULL REFERENCES chat_rooms(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		role TEXT NOT NULL DEFAULT 'member',
		joined_at TEXT NOT NULL,
		UNIQUE(chat_room_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_direct ON messages(sender_id, receiver_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(chat_room_id, id)`,
}

// SQLite is a Store backed by an embedded SQLite database.
type SQLite struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// schema. An empty path or ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		path = ":memory:"
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite serializes writers; a single connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, now: time.Now}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) migrate(ctx context.Context) error {
	for _, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply sqlite schema")
		}
	}
	return nil
}

func (s *SQLite) stamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// CreateUser inserts a user row.
func (s *SQLite) CreateUser(ctx context.Context, email, displayName string, picture *string) (chat.Profile, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, display_name, profile_picture, created_at) VALUES (?, ?, ?, ?)`,
		strings.ToLower(strings.TrimSpace(email)), displayName, picture, s.stamp())
	if err != nil {
		return chat.Profile{}, errors.Wrap(err, "insert user")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Profile{}, errors.Wrap(err, "user id")
	}
	return chat.Profile{ID: chat.Identity(id), DisplayName: displayName, ProfilePicture: picture}, nil
}

// CreateRoom inserts a room and adds its creator as owner.
func (s *SQLite) CreateRoom(ctx context.Context, room chat.NewRoom) (chat.Room, error) {
	room, err := room.Validate()
	if err != nil {
		return chat.Room{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Room{}, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	created := s.now().UTC()
	now := created.Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO chat_rooms (name, description, is_private, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
		room.Name, room.Description, room.IsPrivate, int64(room.CreatedBy), now)
	if err != nil {
		return chat.Room{}, errors.Wrap(err, "insert room")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Room{}, errors.Wrap(err, "room id")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_room_members (chat_room_id, user_id, role, joined_at) VALUES (?, ?, 'owner', ?)`,
		id, int64(room.CreatedBy), now); err != nil {
		return chat.Room{}, errors.Wrap(err, "insert owner")
	}
	if err := tx.Commit(); err != nil {
		return chat.Room{}, errors.Wrap(err, "commit room")
	}
	return chat.Room{
		ID:          chat.RoomID(id),
		Name:        room.Name,
		Description: room.Description,
		IsPrivate:   room.IsPrivate,
		CreatedBy:   room.CreatedBy,
		CreatedAt:   created,
	}, nil
}

// ListRooms returns every room, newest first. created_at is stored as text,
// so rows are ordered by id, which follows insertion order.
func (s *SQLite) ListRooms(ctx context.Context) ([]chat.Room, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, is_private, created_by, created_at
		 FROM chat_rooms ORDER BY id DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "query rooms")
	}
	defer rows.Close()

	out := []chat.Room{}
	for rows.Next() {
		var (
			r           chat.Room
			description sql.NullString
			createdBy   sql.NullInt64
			created     string
		)
		if err := rows.Scan(&r.ID, &r.Name, &description, &r.IsPrivate, &createdBy, &created); err != nil {
			return nil, errors.Wrap(err, "scan room")
		}
		if description.Valid {
			d := description.String
			r.Description = &d
		}
		r.CreatedBy = chat.Identity(createdBy.Int64)
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, errors.Wrapf(err, "parse created_at of room %d", r.ID)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate rooms")
	}
	return out, nil
}

// Create stores msg after checking that its target exists.
func (s *SQLite) Create(ctx context.Context, msg chat.NewMessage) (chat.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	var receiver, room sql.NullInt64
	if msg.ReceiverID != nil {
		receiver = sql.NullInt64{Int64: int64(*msg.ReceiverID), Valid: true}
		if err := sqliteExists(ctx, tx, `SELECT 1 FROM users WHERE id = ?`, receiver.Int64); err != nil {
			return chat.Message{}, errors.Wrapf(err, "receiver %d", receiver.Int64)
		}
	}
	if msg.ChatRoomID != nil {
		room = sql.NullInt64{Int64: int64(*msg.ChatRoomID), Valid: true}
		if err := sqliteExists(ctx, tx, `SELECT 1 FROM chat_rooms WHERE id = ?`, room.Int64); err != nil {
			return chat.Message{}, errors.Wrapf(err, "room %d", room.Int64)
		}
	}

	created := s.now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (content, sender_id, receiver_id, chat_room_id, message_type, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.Content, int64(msg.SenderID), receiver, room, msg.MessageType, created.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "insert message")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "message id")
	}
	if err := tx.Commit(); err != nil {
		return chat.Message{}, errors.Wrap(err, "commit message")
	}
	return msg.Persisted(id, created), nil
}

func sqliteExists(ctx context.Context, tx *sql.Tx, query string, id int64) error {
	var one int
	err := tx.QueryRowContext(ctx, query, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.ErrUnknownTarget
	}
	return err
}

// MembersOf returns the current members of room.
func (s *SQLite) MembersOf(ctx context.Context, room chat.RoomID) ([]chat.Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM chat_room_members WHERE chat_room_id = ? ORDER BY user_id`, int64(room))
	if err != nil {
		return nil, errors.Wrap(err, "query members")
	}
	defer rows.Close()

	var out []chat.Identity
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan member")
		}
		out = append(out, chat.Identity(id))
	}
	return out, errors.Wrap(rows.Err(), "iterate members")
}

// Profile returns the display fields of id.
func (s *SQLite) Profile(ctx context.Context, id chat.Identity) (chat.Profile, error) {
	p := chat.Profile{ID: id}
	var picture sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name, profile_picture FROM users WHERE id = ?`, int64(id)).Scan(&p.DisplayName, &picture)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Profile{}, errors.Wrapf(chat.ErrNotFound, "user %d", id)
	}
	if err != nil {
		return chat.Profile{}, errors.Wrap(err, "query profile")
	}
	if picture.Valid {
		p.ProfilePicture = &picture.String
	}
	return p, nil
}

// JoinRoom adds user to room; joining twice is a no-op.
func (s *SQLite) JoinRoom(ctx context.Context, user chat.Identity, room chat.RoomID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer tx.Rollback()

	if err := sqliteExists(ctx, tx, `SELECT 1 FROM chat_rooms WHERE id = ?`, int64(room)); err != nil {
		if errors.Is(err, chat.ErrUnknownTarget) {
			return errors.Wrapf(chat.ErrNotFound, "room %d", room)
		}
		return err
	}
	if err := sqliteExists(ctx, tx, `SELECT 1 FROM users WHERE id = ?`, int64(user)); err != nil {
		if errors.Is(err, chat.ErrUnknownTarget) {
			return errors.Wrapf(chat.ErrNotFound, "user %d", user)
		}
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO chat_room_members (chat_room_id, user_id, joined_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_room_id, user_id) DO NOTHING`,
		int64(room), int64(user), s.stamp()); err != nil {
		return errors.Wrap(err, "insert member")
	}
	return errors.Wrap(tx.Commit(), "commit join")
}

// LeaveRoom removes user from room.
func (s *SQLite) LeaveRoom(ctx context.Context, user chat.Identity, room chat.RoomID) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_room_members WHERE chat_room_id = ? AND user_id = ?`, int64(room), int64(user))
	return errors.Wrap(err, "delete member")
}

// DirectMessages returns the latest messages exchanged between a and b.
func (s *SQLite) DirectMessages(ctx context.Context, a, b chat.Identity, limit int) ([]chat.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, content, sender_id, receiver_id, chat_room_id, message_type, created_at
		 FROM messages
		 WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		 ORDER BY id DESC LIMIT ?`,
		int64(a), int64(b), int64(b), int64(a), ClampLimit(limit))
}

// RoomMessages returns the latest messages posted to room.
func (s *SQLite) RoomMessages(ctx context.Context, room chat.RoomID, limit int) ([]chat.Message, error) {
	return s.queryMessages(ctx,
		`SELECT id, content, sender_id, receiver_id, chat_room_id, message_type, created_at
		 FROM messages WHERE chat_room_id = ? ORDER BY id DESC LIMIT ?`,
		int64(room), ClampLimit(limit))
}

func (s *SQLite) queryMessages(ctx context.Context, query string, args ...any) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var (
			msg      chat.Message
			sender   int64
			receiver sql.NullInt64
			room     sql.NullInt64
			created  string
		)
		if err := rows.Scan(&msg.ID, &msg.Content, &sender, &receiver, &room, &msg.MessageType, &created); err != nil {
			return nil, errors.Wrap(err, "scan message")
		}
		msg.SenderID = chat.Identity(sender)
		if receiver.Valid {
			id := chat.Identity(receiver.Int64)
			msg.ReceiverID = &id
		}
		if room.Valid {
			id := chat.RoomID(room.Int64)
			msg.ChatRoomID = &id
		}
		if msg.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, errors.Wrapf(err, "parse created_at of message %d", msg.ID)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate messages")
	}
	reverse(out)
	return out, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
