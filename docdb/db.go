// Package docdb is an embeddable document store. A DB holds named
// collections of schemaless documents, each row addressed by an
// auto-incrementing _id, and mirrors the whole database to a key-value
// Adapter as one serialized snapshot after every change.
//
// Collections may be capped (the oldest row is evicted once Max rows are
// stored) and may declare unique fields. Rows are selected with the filter
// language of the query package.
package docdb

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Adapter is the key-value persistence layer a DB mirrors its snapshot to.
// The store package provides implementations.
type Adapter interface {
	// Get returns the blob stored under key, or nil if absent.
	Get(ctx context.Context, key string) ([]byte, error)
	// Set replaces the blob stored under key.
	Set(ctx context.Context, key string, blob []byte) error
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(db *DB) {
		if l != nil {
			db.log = l
		}
	}
}

// DB is a handle on one named database. All collections obtained from it
// share a single snapshot that is loaded on first use and written back
// whole after every mutation.
//
// Each operation runs under a DB-wide mutex. Operations made of several
// steps, such as Upsert, are not atomic.
type DB struct {
	name string
	log  *zap.Logger

	mu   sync.Mutex
	snap *snapshot
}

// New returns a DB named name persisted through adapter. Nothing is read
// until the first collection operation.
func New(name string, adapter Adapter, opts ...Option) *DB {
	db := &DB{name: name, log: zap.NewNop()}
	for _, opt := range opts {
		opt(db)
	}
	db.log = db.log.With(zap.String("database", name))
	db.snap = &snapshot{key: name, adapter: adapter, log: db.log}
	return db
}

// Name returns the database name, which is also its adapter key.
func (db *DB) Name() string { return db.name }

// Capped configures a collection when it is first created. Max of zero
// means unbounded. It has no effect on a collection that already exists in
// the snapshot.
type Capped struct {
	Max    int
	Unique []string
}

// Collection returns a new handle on the named collection. Handles are
// cheap; every call returns a fresh one bound to the shared snapshot.
func (db *DB) Collection(name string, capped Capped) *Collection {
	return &Collection{name: name, capped: capped, db: db}
}

// Clear drops the cached snapshot so the next operation reloads it from
// the adapter. Persisted data is left untouched.
func (db *DB) Clear() {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.snap.clear()
}

// Collections returns the sorted names of the collections in the snapshot.
func (db *DB) Collections(ctx context.Context) ([]string, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	cols, err := db.snap.load(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
