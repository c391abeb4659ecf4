// Package store provides the persistence backends behind the chat
// collaborator interfaces: an in-memory store, an embedded SQLite store and a
// PostgreSQL store.
package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/Tyrowin/livechat/internal/chat"
)

// Driver names accepted by Open.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultHistoryLimit and MaxHistoryLimit bound history reads.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 200
)

// Open returns the backend for driver. dsn is a file path for sqlite and a
// connection string for postgres; it is ignored for memory.
func Open(ctx context.Context, driver, dsn string) (chat.Store, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverMemory:
		return NewMemory(), nil
	case DriverSQLite:
		return OpenSQLite(ctx, dsn)
	case DriverPostgres, "postgresql", "pgx":
		return OpenPostgres(ctx, PostgresConfig{URL: dsn})
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
}

// ClampLimit normalizes a requested history size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func reverse(msgs []chat.Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
