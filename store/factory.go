package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
)

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown store backend")

// RedisKeyPrefix namespaces snapshot keys written by the redis backend.
const RedisKeyPrefix = "docstore:"

// New creates a Store based on the backend name.
//
// Supported backends and the meaning of location:
//
//	"json"   - directory of JSON files (default)
//	"sqlite" - directory holding docstore.db
//	"redis"  - redis:// URL
//	"memory" - ignored (ephemeral, for testing)
func New(ctx context.Context, backend, location string) (Store, error) {
	switch backend {
	case "json", "":
		return NewFileStore(location)
	case "sqlite":
		return NewSqliteStore(filepath.Join(location, "docstore.db"))
	case "redis":
		return NewRedisStore(ctx, location, RedisKeyPrefix)
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("%w: %q (supported: json, sqlite, redis, memory)", ErrUnknownBackend, backend)
	}
}
