package store

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/Tyrowin/livechat/internal/chat"
)

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		password TEXT NOT NULL DEFAULT '',
		display_name VARCHAR(100) NOT NULL,
		profile_picture TEXT,
		status VARCHAR(20) DEFAULT 'online',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS chat_rooms (
		id SERIAL PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		description TEXT,
		is_private BOOLEAN NOT NULL DEFAULT false,
		created_by INTEGER REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id SERIAL PRIMARY KEY,
		content TEXT NOT NULL,
		sender_id INTEGER NOT NULL REFERENCES users(id),
		receiver_id INTEGER REFERENCES users(id),
		chat_room_id INTEGER REFERENCES chat_rooms(id),
		message_type VARCHAR(20) NOT NULL DEFAULT 'text',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CHECK ((receiver_id IS NULL) <> (chat_room_id IS NULL))
	)`,
	`CREATE TABLE IF NOT EXISTS chat_room_members (
		id SERIAL PRIMARY KEY,
		chat_room_id INTEGER NOT NULL REFERENCES chat_rooms(id),
		user_id INTEGER NOT NULL REFERENCES users(id),
		role VARCHAR(20) NOT NULL DEFAULT 'member',
		joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (chat_room_id, user_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_direct ON messages(sender_id, receiver_id, id)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(chat_room_id, id)`,
}

// PostgresConfig configures the PostgreSQL backend.
type PostgresConfig struct {
	URL      string
	MinConns int32
	MaxConns int32
}

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects, verifies the connection and applies the schema.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("postgres url is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errors.Wrap(err, "parse connection string")
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	p := &Postgres{pool: pool}
	if err := p.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) migrate(ctx context.Context) error {
	for _, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrap(err, "apply postgres schema")
		}
	}
	return nil
}

// CreateUser inserts a user row.
func (p *Postgres) CreateUser(ctx context.Context, email, displayName string, picture *string) (chat.Profile, error) {
	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (email, display_name, profile_picture) VALUES ($1, $2, $3) RETURNING id`,
		strings.ToLower(strings.TrimSpace(email)), displayName, picture).Scan(&id)
	if err != nil {
		return chat.Profile{}, errors.Wrap(err, "insert user")
	}
	return chat.Profile{ID: chat.Identity(id), DisplayName: displayName, ProfilePicture: picture}, nil
}

// CreateRoom inserts a room and adds its creator as owner.
func (p *Postgres) CreateRoom(ctx context.Context, room chat.NewRoom) (chat.Room, error) {
	room, err := room.Validate()
	if err != nil {
		return chat.Room{}, err
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return chat.Room{}, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	stored := chat.Room{
		Name:        room.Name,
		Description: room.Description,
		IsPrivate:   room.IsPrivate,
		CreatedBy:   room.CreatedBy,
	}
	var id int64
	if err := tx.QueryRow(ctx,
		`INSERT INTO chat_rooms (name, description, is_private, created_by) VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		room.Name, room.Description, room.IsPrivate, int64(room.CreatedBy)).Scan(&id, &stored.CreatedAt); err != nil {
		return chat.Room{}, errors.Wrap(err, "insert room")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO chat_room_members (chat_room_id, user_id, role) VALUES ($1, $2, 'owner')`,
		id, int64(room.CreatedBy)); err != nil {
		return chat.Room{}, errors.Wrap(err, "insert owner")
	}
	if err := tx.Commit(ctx); err != nil {
		return chat.Room{}, errors.Wrap(err, "commit room")
	}
	stored.ID = chat.RoomID(id)
	stored.CreatedAt = stored.CreatedAt.UTC()
	return stored, nil
}

// ListRooms returns every room, newest first.
func (p *Postgres) ListRooms(ctx context.Context) ([]chat.Room, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, name, description, is_private, created_by, created_at
		 FROM chat_rooms ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "query rooms")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Room, error) {
		var (
			r         chat.Room
			createdBy *int64
		)
		if err := row.Scan(&r.ID, &r.Name, &r.Description, &r.IsPrivate, &createdBy, &r.CreatedAt); err != nil {
			return chat.Room{}, err
		}
		if createdBy != nil {
			r.CreatedBy = chat.Identity(*createdBy)
		}
		r.CreatedAt = r.CreatedAt.UTC()
		return r, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect rooms")
	}
	return out, nil
}

// Create stores msg after checking that its target exists.
func (p *Postgres) Create(ctx context.Context, msg chat.NewMessage) (chat.Message, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return chat.Message{}, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	var receiver, room *int64
	if msg.ReceiverID != nil {
		v := int64(*msg.ReceiverID)
		receiver = &v
		if err := pgExists(ctx, tx, `SELECT 1 FROM users WHERE id = $1`, v); err != nil {
			return chat.Message{}, errors.Wrapf(err, "receiver %d", v)
		}
	}
	if msg.ChatRoomID != nil {
		v := int64(*msg.ChatRoomID)
		room = &v
		if err := pgExists(ctx, tx, `SELECT 1 FROM chat_rooms WHERE id = $1`, v); err != nil {
			return chat.Message{}, errors.Wrapf(err, "room %d", v)
		}
	}

	var (
		id      int64
		created time.Time
	)
	if err := tx.QueryRow(ctx,
		`INSERT INTO messages (content, sender_id, receiver_id, chat_room_id, message_type)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		msg.Content, int64(msg.SenderID), receiver, room, msg.MessageType).Scan(&id, &created); err != nil {
		return chat.Message{}, errors.Wrap(err, "insert message")
	}
	if err := tx.Commit(ctx); err != nil {
		return chat.Message{}, errors.Wrap(err, "commit message")
	}
	return msg.Persisted(id, created), nil
}

func pgExists(ctx context.Context, tx pgx.Tx, query string, id int64) error {
	var one int
	err := tx.QueryRow(ctx, query, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.ErrUnknownTarget
	}
	return err
}

// MembersOf returns the current members of room.
func (p *Postgres) MembersOf(ctx context.Context, room chat.RoomID) ([]chat.Identity, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT user_id FROM chat_room_members WHERE chat_room_id = $1 ORDER BY user_id`, int64(room))
	if err != nil {
		return nil, errors.Wrap(err, "query members")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, errors.Wrap(err, "collect members")
	}
	out := make([]chat.Identity, len(ids))
	for i, id := range ids {
		out[i] = chat.Identity(id)
	}
	return out, nil
}

// Profile returns the display fields of id.
func (p *Postgres) Profile(ctx context.Context, id chat.Identity) (chat.Profile, error) {
	prof := chat.Profile{ID: id}
	err := p.pool.QueryRow(ctx,
		`SELECT display_name, profile_picture FROM users WHERE id = $1`, int64(id)).
		Scan(&prof.DisplayName, &prof.ProfilePicture)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.Profile{}, errors.Wrapf(chat.ErrNotFound, "user %d", id)
	}
	if err != nil {
		return chat.Profile{}, errors.Wrap(err, "query profile")
	}
	return prof, nil
}

// JoinRoom adds user to room; joining twice is a no-op.
func (p *Postgres) JoinRoom(ctx context.Context, user chat.Identity, room chat.RoomID) error {
	tag, err := p.pool.Exec(ctx,
		`INSERT INTO chat_room_members (chat_room_id, user_id)
		 SELECT r.id, u.id FROM chat_rooms r, users u WHERE r.id = $1 AND u.id = $2
		 ON CONFLICT (chat_room_id, user_id) DO NOTHING`,
		int64(room), int64(user))
	if err != nil {
		return errors.Wrap(err, "insert member")
	}
	if tag.RowsAffected() == 0 {
		var one int
		err := p.pool.QueryRow(ctx,
			`SELECT 1 FROM chat_room_members WHERE chat_room_id = $1 AND user_id = $2`,
			int64(room), int64(user)).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.Wrapf(chat.ErrNotFound, "room %d or user %d", room, user)
		}
		return errors.Wrap(err, "check member")
	}
	return nil
}

// LeaveRoom removes user from room.
func (p *Postgres) LeaveRoom(ctx context.Context, user chat.Identity, room chat.RoomID) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM chat_room_members WHERE chat_room_id = $1 AND user_id = $2`, int64(room), int64(user))
	return errors.Wrap(err, "delete member")
}

// DirectMessages returns the latest messages exchanged between a and b.
func (p *Postgres) DirectMessages(ctx context.Context, a, b chat.Identity, limit int) ([]chat.Message, error) {
	return p.queryMessages(ctx,
		`SELECT id, content, sender_id, receiver_id, chat_room_id, message_type, created_at
		 FROM messages
		 WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		 ORDER BY id DESC LIMIT $3`,
		int64(a), int64(b), ClampLimit(limit))
}

// RoomMessages returns the latest messages posted to room.
func (p *Postgres) RoomMessages(ctx context.Context, room chat.RoomID, limit int) ([]chat.Message, error) {
	return p.queryMessages(ctx,
		`SELECT id, content, sender_id, receiver_id, chat_room_id, message_type, created_at
		 FROM messages WHERE chat_room_id = $1 ORDER BY id DESC LIMIT $2`,
		int64(room), ClampLimit(limit))
}

func (p *Postgres) queryMessages(ctx context.Context, query string, args ...any) ([]chat.Message, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query messages")
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Message, error) {
		var (
			msg              chat.Message
			sender           int64
			receiver, roomID *int64
		)
		if err := row.Scan(&msg.ID, &msg.Content, &sender, &receiver, &roomID, &msg.MessageType, &msg.CreatedAt); err != nil {
			return chat.Message{}, err
		}
		msg.SenderID = chat.Identity(sender)
		msg.CreatedAt = msg.CreatedAt.UTC()
		if receiver != nil {
			id := chat.Identity(*receiver)
			msg.ReceiverID = &id
		}
		if roomID != nil {
			id := chat.RoomID(*roomID)
			msg.ChatRoomID = &id
		}
		return msg, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "collect messages")
	}
	reverse(out)
	return out, nil
}

// Close releases the pool.
func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
