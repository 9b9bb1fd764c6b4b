package docdb

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

// collectionState is one collection's counters, constraints and rows as
// held in the snapshot and written to the adapter.
type collectionState struct {
	TotalRows     int      `json:"totalRows"`
	AutoIncrement int64    `json:"autoIncrement"`
	MaxRows       int      `json:"maxRows,omitempty"`
	Unique        []string `json:"unique,omitempty"`
	Rows          *rowSet  `json:"rows"`
}

func newCollectionState(capped Capped) *collectionState {
	maxRows := capped.Max
	if maxRows < 0 {
		maxRows = 0
	}
	return &collectionState{
		MaxRows: maxRows,
		Unique:  normalizeFields(capped.Unique),
		Rows:    newRowSet(),
	}
}

func normalizeFields(fields []string) []string {
	var out []string
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// snapshot is the in-memory image of one database: every collection,
// loaded lazily from the adapter and written back whole.
type snapshot struct {
	key         string
	adapter     Adapter
	log         *zap.Logger
	collections map[string]*collectionState
}

// load returns the cached collections, reading them from the adapter on
// first use. A missing or empty blob creates and persists an empty database.
func (s *snapshot) load(ctx context.Context) (map[string]*collectionState, error) {
	if s.collections != nil {
		return s.collections, nil
	}
	blob, err := s.adapter.Get(ctx, s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: get %q: %v", ErrPersistence, s.key, err)
	}
	if len(blob) == 0 {
		s.log.Debug("creating database", zap.String("database", s.key))
		s.collections = map[string]*collectionState{}
		if err := s.persist(ctx); err != nil {
			return nil, err
		}
		return s.collections, nil
	}

	cols, err := decodeSnapshot(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrCorruptSnapshot, s.key, err)
	}
	for name, st := range cols {
		if st.TotalRows != st.Rows.Len() {
			s.log.Warn("row count out of sync, using stored rows",
				zap.String("database", s.key),
				zap.String("collection", name),
				zap.Int("totalRows", st.TotalRows),
				zap.Int("rows", st.Rows.Len()))
			st.TotalRows = st.Rows.Len()
		}
	}
	s.log.Debug("loaded database", zap.String("database", s.key), zap.Int("collections", len(cols)))
	s.collections = cols
	return cols, nil
}

// persist writes the whole snapshot. On failure the cache is dropped so the
// next access reloads the last state the adapter accepted.
func (s *snapshot) persist(ctx context.Context) error {
	blob, err := encodeSnapshot(s.collections)
	if err == nil {
		err = s.adapter.Set(ctx, s.key, blob)
	}
	if err != nil {
		s.log.Warn("persist failed, dropping cached snapshot", zap.String("database", s.key), zap.Error(err))
		s.collections = nil
		return fmt.Errorf("%w: set %q: %v", ErrPersistence, s.key, err)
	}
	return nil
}

func (s *snapshot) clear() {
	s.collections = nil
}

func encodeSnapshot(cols map[string]*collectionState) ([]byte, error) {
	return json.Marshal(cols)
}

func decodeSnapshot(blob []byte) (map[string]*collectionState, error) {
	var cols map[string]*collectionState
	if err := json.Unmarshal(blob, &cols); err != nil {
		return nil, err
	}
	if cols == nil {
		cols = map[string]*collectionState{}
	}
	for name, st := range cols {
		if st == nil {
			st = &collectionState{}
			cols[name] = st
		}
		if st.Rows == nil {
			st.Rows = newRowSet()
		}
	}
	return cols, nil
}
