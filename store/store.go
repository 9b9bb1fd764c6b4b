// Package store defines the persistence backends that hold serialized
// database snapshots.
package store

import "context"

// Store is the interface that all backing stores must implement.
// It is a flat key-value space: each key is a database name and each value
// is that database's whole serialized snapshot.
type Store interface {
	// Get returns the blob stored under key, or nil if the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set inserts or replaces the blob stored under key.
	Set(ctx context.Context, key string, blob []byte) error

	// Delete removes a key. Returns true if it existed.
	Delete(ctx context.Context, key string) (bool, error)

	// Keys returns every stored key in sorted order.
	Keys(ctx context.Context) ([]string, error)

	// Close releases any resources held by the backend.
	Close() error
}
