package docdb

import (
	"context"
	"strconv"

	"go.uber.org/zap"

	"github.com/stevemurr/docstore/query"
)

// Mode selects how equality is evaluated while matching.
type Mode int

const (
	// Strict compares values of the same kind only. It is the default.
	Strict Mode = iota
	// Loose applies the conversions documented on query.Equal.
	Loose
)

// Params windows a scan. Offset skips the first matches, Limit stops after
// that many matches are returned (zero or less means no limit).
type Params struct {
	Limit  int
	Offset int
	Mode   Mode
}

func (p Params) strict() bool { return p.Mode != Loose }

// Info describes a collection's counters and constraints.
type Info struct {
	Name          string   `json:"name"`
	TotalRows     int      `json:"totalRows"`
	AutoIncrement int64    `json:"autoIncrement"`
	MaxRows       int      `json:"maxRows,omitempty"`
	Unique        []string `json:"unique,omitempty"`
}

// Collection is a handle on one collection of a DB.
type Collection struct {
	name   string
	capped Capped
	db     *DB
}

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// state loads the snapshot and returns this collection's state, creating
// it from the capped config when absent. Callers hold db.mu.
func (c *Collection) state(ctx context.Context) (*collectionState, error) {
	cols, err := c.db.snap.load(ctx)
	if err != nil {
		return nil, err
	}
	st, ok := cols[c.name]
	if !ok {
		st = newCollectionState(c.capped)
		cols[c.name] = st
	}
	return st, nil
}

// scan calls fn for every row matching q inside the window described by p,
// oldest first. fn may remove or replace the row.
func (st *collectionState) scan(q query.Query, p Params, fn func(r *row)) {
	strict := p.strict()
	matched, applied := 0, 0
	st.Rows.each(func(r *row) bool {
		if !q.Match(r.doc, strict) {
			return true
		}
		matched++
		if matched <= p.Offset {
			return true
		}
		fn(r)
		applied++
		return p.Limit <= 0 || applied < p.Limit
	})
}

// Insert stores doc and returns it with its assigned _id.
//
// When the collection has unique fields, the insert fails with a
// *UniqueConstraintError if any existing row equals doc on one of them.
// A capped collection that is full evicts its oldest row first.
func (c *Collection) Insert(ctx context.Context, doc Document) (Document, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	st, err := c.state(ctx)
	if err != nil {
		return nil, err
	}
	data, err := normalize(doc)
	if err != nil {
		return nil, err
	}

	if len(st.Unique) > 0 {
		cond := make(map[string]any, len(st.Unique))
		for _, f := range st.Unique {
			cond[f] = map[string]any{"$ne": data[f]}
		}
		q := query.Parse(cond)
		var conflict *row
		st.Rows.each(func(r *row) bool {
			if !q.Match(r.doc, true) {
				conflict = r
				return false
			}
			return true
		})
		if conflict != nil {
			return nil, &UniqueConstraintError{
				Collection: c.name,
				Fields:     append([]string(nil), st.Unique...),
				Query:      cond,
				Conflict:   conflict.doc.Clone(),
			}
		}
	}

	id := st.AutoIncrement
	st.AutoIncrement++
	data[IDField] = id

	if st.MaxRows > 0 && st.TotalRows >= st.MaxRows {
		if evicted := st.Rows.shift(); evicted != nil {
			st.TotalRows--
			c.db.log.Debug("evicted row",
				zap.String("collection", c.name),
				zap.String("key", evicted.key),
				zap.Int("maxRows", st.MaxRows))
		}
	}
	st.Rows.put(strconv.FormatInt(id, 10), data)
	st.TotalRows++

	if err := c.db.snap.persist(ctx); err != nil {
		return nil, err
	}
	return data.Clone(), nil
}

// Update merges patch into every row matching q within the window and
// returns the matched rows as they were before the update. Fields named in
// patch replace the row's fields, including _id.
func (c *Collection) Update(ctx context.Context, patch Document, q any, p Params) ([]Document, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	st, err := c.state(ctx)
	if err != nil {
		return nil, err
	}
	data, err := normalize(patch)
	if err != nil {
		return nil, err
	}

	results := []Document{}
	st.scan(query.Parse(q), p, func(r *row) {
		results = append(results, r.doc.Clone())
		merged := make(Document, len(r.doc)+len(data))
		for k, v := range r.doc {
			merged[k] = v
		}
		for k, v := range data {
			merged[k] = cloneValue(v)
		}
		r.doc = merged
	})

	if err := c.db.snap.persist(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// Upsert runs Update and, when nothing matched, inserts patch. It returns
// Update's result, which is empty when the insert path was taken.
//
// The two steps are separate operations: another caller may act on the
// collection between them.
func (c *Collection) Upsert(ctx context.Context, patch Document, q any, p Params) ([]Document, error) {
	docs, err := c.Update(ctx, patch, q, p)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		if _, err := c.Insert(ctx, patch); err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// Remove deletes every row matching q within the window and returns them.
func (c *Collection) Remove(ctx context.Context, q any, p Params) ([]Document, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	st, err := c.state(ctx)
	if err != nil {
		return nil, err
	}
	results := []Document{}
	st.scan(query.Parse(q), p, func(r *row) {
		results = append(results, r.doc)
		st.Rows.remove(r.key)
		st.TotalRows--
	})

	if err := c.db.snap.persist(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// Find returns copies of the rows matching q within the window, oldest
// first. It never writes to the adapter.
func (c *Collection) Find(ctx context.Context, q any, p Params) ([]Document, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	st, err := c.state(ctx)
	if err != nil {
		return nil, err
	}
	results := []Document{}
	st.scan(query.Parse(q), p, func(r *row) {
		results = append(results, r.doc.Clone())
	})
	return results, nil
}

// FindOne returns the first row matching q after p.Offset, or nil when
// nothing matches.
func (c *Collection) FindOne(ctx context.Context, q any, p Params) (Document, error) {
	p.Limit = 1
	docs, err := c.Find(ctx, q, p)
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// Count returns the number of rows Find would return.
func (c *Collection) Count(ctx context.Context, q any, p Params) (int, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	st, err := c.state(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	st.scan(query.Parse(q), p, func(*row) { n++ })
	return n, nil
}

// Info returns the collection's counters and constraints.
func (c *Collection) Info(ctx context.Context) (Info, error) {
	c.db.mu.Lock()
	defer c.db.mu.Unlock()

	st, err := c.state(ctx)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Name:          c.name,
		TotalRows:     st.TotalRows,
		AutoIncrement: st.AutoIncrement,
		MaxRows:       st.MaxRows,
		Unique:        append([]string(nil), st.Unique...),
	}, nil
}
