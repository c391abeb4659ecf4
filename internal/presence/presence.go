// Package presence publishes which users hold a live connection so other
// processes (HTTP API nodes, notification workers) can see who is online.
//
// The in-process ConnectionRegistry stays the source of truth for routing;
// presence is an advisory mirror with a TTL.
package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tyrowin/livechat/internal/chat"
)

// Tracker mirrors registry changes.
type Tracker interface {
	// Online records that id is reachable through connID; repeated calls refresh the TTL.
	Online(ctx context.Context, id chat.Identity, connID string) error
	// Offline clears the record only if it still names connID.
	Offline(ctx context.Context, id chat.Identity, connID string) error
}

// Locator reads the presence record another process may have written.
type Locator interface {
	// Lookup returns the connection id recorded for id, if any.
	Lookup(ctx context.Context, id chat.Identity) (connID string, online bool, err error)
}

// Noop discards presence updates.
type Noop struct{}

func (Noop) Online(context.Context, chat.Identity, string) error  { return nil }
func (Noop) Offline(context.Context, chat.Identity, string) error { return nil }

// Config configures the Redis tracker.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// Redis stores presence as prefix+<userId> = connID with a TTL.
type Redis struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var (
	_ Tracker = (*Redis)(nil)
	_ Locator = (*Redis)(nil)
)

// compare-and-delete so a stale connection cannot clear a newer one.
var offlineScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedis connects and pings the server.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return NewRedisWithClient(client, cfg.KeyPrefix, cfg.TTL), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "livechat:presence:"
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Redis{client: client, prefix: prefix, ttl: ttl}
}

func (r *Redis) key(id chat.Identity) string {
	return r.prefix + strconv.FormatInt(int64(id), 10)
}

// Online sets the presence key.
func (r *Redis) Online(ctx context.Context, id chat.Identity, connID string) error {
	return r.client.Set(ctx, r.key(id), connID, r.ttl).Err()
}

// Offline deletes the presence key if connID still owns it.
func (r *Redis) Offline(ctx context.Context, id chat.Identity, connID string) error {
	return offlineScript.Run(ctx, r.client, []string{r.key(id)}, connID).Err()
}

// Lookup reports the connection id currently recorded for id.
func (r *Redis) Lookup(ctx context.Context, id chat.Identity) (string, bool, error) {
	val, err := r.client.Get(ctx, r.key(id)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}
