package docdb_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevemurr/docstore/docdb"
	"github.com/stevemurr/docstore/query"
	"github.com/stevemurr/docstore/store"
)

func newDB(t *testing.T) (*docdb.DB, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	return docdb.New("test", s), s
}

func ids(t *testing.T, docs []docdb.Document) []int64 {
	t.Helper()
	out := make([]int64, 0, len(docs))
	for _, d := range docs {
		id, ok := d.ID()
		require.True(t, ok, "document without integer _id: %v", d)
		out = append(out, id)
	}
	return out
}

func mustInsert(t *testing.T, c *docdb.Collection, docs ...docdb.Document) {
	t.Helper()
	for _, d := range docs {
		_, err := c.Insert(context.Background(), d)
		require.NoError(t, err)
	}
}

func assertConsistent(t *testing.T, c *docdb.Collection) {
	t.Helper()
	ctx := context.Background()
	info, err := c.Info(ctx)
	require.NoError(t, err)
	n, err := c.Count(ctx, nil, docdb.Params{})
	require.NoError(t, err)
	assert.Equal(t, n, info.TotalRows, "totalRows out of sync with rows")
}

func TestInsertAssignsMonotonicIDs(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("users", docdb.Capped{})

	for i := 0; i < 3; i++ {
		doc, err := c.Insert(ctx, docdb.Document{"n": i})
		require.NoError(t, err)
		assert.Equal(t, int64(i), doc[docdb.IDField])
	}

	removed, err := c.Remove(ctx, map[string]any{"_id": 2}, docdb.Params{})
	require.NoError(t, err)
	require.Len(t, removed, 1)

	doc, err := c.Insert(ctx, docdb.Document{"n": 3})
	require.NoError(t, err)
	assert.Equal(t, int64(3), doc[docdb.IDField], "ids must never be reused")

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), info.AutoIncrement)
	assert.Equal(t, 3, info.TotalRows)
	assertConsistent(t, c)
}

func TestInsertCopiesDocument(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("users", docdb.Capped{})

	in := docdb.Document{"name": "a", "tags": []any{"x"}}
	out, err := c.Insert(ctx, in)
	require.NoError(t, err)
	assert.NotContains(t, in, docdb.IDField)

	in["name"] = "changed"
	out["name"] = "changed too"

	got, err := c.FindOne(ctx, nil, docdb.Params{})
	require.NoError(t, err)
	assert.Equal(t, "a", got["name"])
}

func TestInsertRejectsUnserializable(t *testing.T) {
	db, _ := newDB(t)
	c := db.Collection("users", docdb.Capped{})

	_, err := c.Insert(context.Background(), docdb.Document{"ch": make(chan int)})
	assert.ErrorIs(t, err, docdb.ErrInvalidDocument)
}

func TestCappedEvictsOldest(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("events", docdb.Capped{Max: 2})

	mustInsert(t, c, docdb.Document{"k": "a"}, docdb.Document{"k": "b"})
	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.TotalRows)

	mustInsert(t, c, docdb.Document{"k": "c"})
	info, err = c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.TotalRows, "at capacity: one evicted, one added")

	docs, err := c.Find(ctx, nil, docdb.Params{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(t, docs))
	assert.Equal(t, "b", docs[0]["k"])

	// Removing the newest row keeps eviction on the oldest.
	_, err = c.Remove(ctx, map[string]any{"k": "c"}, docdb.Params{})
	require.NoError(t, err)
	mustInsert(t, c, docdb.Document{"k": "d"}, docdb.Document{"k": "e"})
	docs, err = c.Find(ctx, nil, docdb.Params{})
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 4}, ids(t, docs))
	assertConsistent(t, c)
}

func TestUniqueConstraint(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("users", docdb.Capped{Unique: []string{"email"}})

	mustInsert(t, c, docdb.Document{"email": "a@x.io"})

	_, err := c.Insert(ctx, docdb.Document{"email": "a@x.io", "name": "dup"})
	require.ErrorIs(t, err, docdb.ErrUniqueConstraint)
	var uerr *docdb.UniqueConstraintError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, []string{"email"}, uerr.Fields)
	assert.Equal(t, map[string]any{"email": map[string]any{"$ne": "a@x.io"}}, uerr.Query)
	assert.Equal(t, "a@x.io", uerr.Conflict["email"])
	assert.Contains(t, uerr.Error(), "conflicts with _id 0")
	uerr.Conflict["email"] = "changed"

	_, err = c.Insert(ctx, docdb.Document{"email": "b@x.io"})
	require.NoError(t, err)
	_, err = c.Insert(ctx, docdb.Document{"email": "changed"})
	require.NoError(t, err, "the error holds a copy of the conflicting row")

	info, err := c.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, info.TotalRows)
	assert.Equal(t, int64(3), info.AutoIncrement, "a rejected insert consumes no id")
}

func TestUniqueAnyFieldConflicts(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("users", docdb.Capped{Unique: []string{"email", "handle"}})

	mustInsert(t, c, docdb.Document{"email": "a@x.io", "handle": "a"})

	_, err := c.Insert(ctx, docdb.Document{"email": "b@x.io", "handle": "a"})
	assert.ErrorIs(t, err, docdb.ErrUniqueConstraint)

	_, err = c.Insert(ctx, docdb.Document{"email": "b@x.io", "handle": "b"})
	assert.NoError(t, err)
}

func TestFindOrdering(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("people", docdb.Capped{})
	mustInsert(t, c, docdb.Document{"age": 17}, docdb.Document{"age": 18}, docdb.Document{"age": 40})

	docs, err := c.Find(ctx, map[string]any{"age": map[string]any{"$gte": 18}}, docdb.Params{})
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, float64(18), docs[0]["age"])
	assert.Equal(t, float64(40), docs[1]["age"])
}

func TestFindWindow(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("nums", docdb.Capped{})
	for i := 0; i < 6; i++ {
		mustInsert(t, c, docdb.Document{"even": i%2 == 0})
	}

	tests := []struct {
		name   string
		params docdb.Params
		want   []int64
	}{
		{"all", docdb.Params{}, []int64{0, 2, 4}},
		{"limit", docdb.Params{Limit: 2}, []int64{0, 2}},
		{"offset", docdb.Params{Offset: 1}, []int64{2, 4}},
		{"offset and limit", docdb.Params{Offset: 1, Limit: 1}, []int64{2}},
		{"offset past end", docdb.Params{Offset: 5}, []int64{}},
		{"negative limit is unbounded", docdb.Params{Limit: -1}, []int64{0, 2, 4}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			docs, err := c.Find(ctx, map[string]any{"even": true}, tc.params)
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(t, docs))
		})
	}
}

func TestFindLooseMode(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("items", docdb.Capped{})
	mustInsert(t, c, docdb.Document{"qty": "5"})

	docs, err := c.Find(ctx, map[string]any{"qty": 5}, docdb.Params{})
	require.NoError(t, err)
	assert.Empty(t, docs)

	docs, err = c.Find(ctx, map[string]any{"qty": 5}, docdb.Params{Mode: docdb.Loose})
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestFindPredicate(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("items", docdb.Capped{})
	mustInsert(t, c, docdb.Document{"name": "apple"}, docdb.Document{"name": "kiwi"})

	short := query.Predicate(func(v any) bool {
		s, ok := v.(string)
		return ok && len(s) <= 4
	})
	docs, err := c.Find(ctx, map[string]any{"name": map[string]any{"$predicate": short}}, docdb.Params{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "kiwi", docs[0]["name"])
}

func TestFindOne(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("items", docdb.Capped{})

	doc, err := c.FindOne(ctx, map[string]any{"x": 1}, docdb.Params{})
	require.NoError(t, err)
	assert.Nil(t, doc)

	mustInsert(t, c, docdb.Document{"x": 1}, docdb.Document{"x": 1})
	doc, err = c.FindOne(ctx, map[string]any{"x": 1}, docdb.Params{Limit: 10})
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, int64(0), doc[docdb.IDField])

	doc, err = c.FindOne(ctx, map[string]any{"x": 1}, docdb.Params{Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc[docdb.IDField])
}

func TestUpdateReturnsPreUpdateRows(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("tasks", docdb.Capped{})
	mustInsert(t, c,
		docdb.Document{"status": "pending", "title": "one"},
		docdb.Document{"status": "pending", "title": "two"},
	)

	docs, err := c.Update(ctx, docdb.Document{"status": "done"}, map[string]any{"status": "pending"}, docdb.Params{Limit: 1})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "pending", docs[0]["status"])
	assert.Equal(t, "one", docs[0]["title"])

	all, err := c.Find(ctx, nil, docdb.Params{})
	require.NoError(t, err)
	assert.Equal(t, "done", all[0]["status"])
	assert.Equal(t, "one", all[0]["title"], "unnamed fields are kept")
	assert.Equal(t, "pending", all[1]["status"])
	assertConsistent(t, c)
}

func TestUpdateCanOverwriteID(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("tasks", docdb.Capped{})
	mustInsert(t, c, docdb.Document{"a": 1})

	_, err := c.Update(ctx, docdb.Document{"_id": "custom"}, nil, docdb.Params{})
	require.NoError(t, err)

	doc, err := c.FindOne(ctx, map[string]any{"_id": "custom"}, docdb.Params{})
	require.NoError(t, err)
	assert.NotNil(t, doc)
}

func TestUpdateNoMatchStillSucceeds(t *testing.T) {
	db, _ := newDB(t)
	c := db.Collection("tasks", docdb.Capped{})

	docs, err := c.Update(context.Background(), docdb.Document{"x": 1}, map[string]any{"x": 2}, docdb.Params{})
	require.NoError(t, err)
	assert.NotNil(t, docs)
	assert.Empty(t, docs)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("tasks", docdb.Capped{})
	mustInsert(t, c, docdb.Document{"status": "a"}, docdb.Document{"status": "b"}, docdb.Document{"status": "a"})

	t.Run("no match", func(t *testing.T) {
		docs, err := c.Remove(ctx, map[string]any{"status": "x"}, docdb.Params{})
		require.NoError(t, err)
		assert.Empty(t, docs)
		info, err := c.Info(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, info.TotalRows)
	})

	t.Run("offset", func(t *testing.T) {
		docs, err := c.Remove(ctx, map[string]any{"status": "a"}, docdb.Params{Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []int64{2}, ids(t, docs))
	})

	t.Run("all remaining", func(t *testing.T) {
		docs, err := c.Remove(ctx, nil, docdb.Params{})
		require.NoError(t, err)
		assert.Equal(t, []int64{0, 1}, ids(t, docs))
		assertConsistent(t, c)
	})
}

func TestUpsert(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("users", docdb.Capped{})

	docs, err := c.Upsert(ctx, docdb.Document{"name": "a"}, map[string]any{"name": "a"}, docdb.Params{})
	require.NoError(t, err)
	assert.Empty(t, docs)

	all, err := c.Find(ctx, nil, docdb.Params{})
	require.NoError(t, err)
	assert.Equal(t, []docdb.Document{{"name": "a", "_id": int64(0)}}, all)

	docs, err = c.Upsert(ctx, docdb.Document{"name": "a", "seen": true}, map[string]any{"name": "a"}, docdb.Params{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.NotContains(t, docs[0], "seen")

	all, err = c.Find(ctx, nil, docdb.Params{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, true, all[0]["seen"])
}

func TestUpsertPropagatesInsertError(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("users", docdb.Capped{Unique: []string{"email"}})
	mustInsert(t, c, docdb.Document{"email": "a@x.io", "name": "a"})

	_, err := c.Upsert(ctx, docdb.Document{"email": "a@x.io", "name": "b"}, map[string]any{"name": "b"}, docdb.Params{})
	assert.ErrorIs(t, err, docdb.ErrUniqueConstraint)
}

func TestCollectionsShareSnapshot(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	a := db.Collection("logs", docdb.Capped{Max: 1})
	mustInsert(t, a, docdb.Document{"n": 1})

	// Capped config only applies on creation.
	b := db.Collection("logs", docdb.Capped{Max: 10})
	mustInsert(t, b, docdb.Document{"n": 2})

	docs, err := a.Find(ctx, nil, docdb.Params{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(t, docs))

	names, err := db.Collections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"logs"}, names)
}

func TestConcurrentInserts(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("hits", docdb.Capped{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Insert(ctx, docdb.Document{"i": i})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	docs, err := c.Find(ctx, nil, docdb.Params{})
	require.NoError(t, err)
	assert.Len(t, docs, 50)
	seen := map[int64]bool{}
	for _, id := range ids(t, docs) {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
	assert.IsIncreasing(t, ids(t, docs))
	assertConsistent(t, c)
}

func TestTypedClauseLists(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("tasks", docdb.Capped{})
	mustInsert(t, c, docdb.Document{"status": "a"}, docdb.Document{"status": "b"})

	removed, err := c.Remove(ctx, []docdb.Document{{"status": "zzz"}}, docdb.Params{})
	require.NoError(t, err)
	assert.Empty(t, removed)

	removed, err = c.Remove(ctx, []any{map[string]any{"status": "a"}, "status"}, docdb.Params{})
	require.NoError(t, err)
	assert.Empty(t, removed, "a list element that is not a clause matches nothing")

	updated, err := c.Update(ctx, docdb.Document{"status": "x"}, []map[string]string{{"status": "nope"}}, docdb.Params{})
	require.NoError(t, err)
	assert.Empty(t, updated)

	removed, err = c.Remove(ctx, []docdb.Document{{"status": "b"}}, docdb.Params{})
	require.NoError(t, err)
	assert.Equal(t, []int64{1}, ids(t, removed))

	docs, err := c.Find(ctx, nil, docdb.Params{})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0]["status"])
	assertConsistent(t, c)
}

func TestFindCompositeOperands(t *testing.T) {
	ctx := context.Background()
	db, _ := newDB(t)
	c := db.Collection("posts", docdb.Capped{})
	mustInsert(t, c,
		docdb.Document{"tags": []any{1, 2}, "meta": map[string]int{"v": 1}},
		docdb.Document{"tags": []string{"go", "db"}},
	)

	tests := []struct {
		name  string
		query any
		want  []int64
	}{
		{"list operand", map[string]any{"tags": map[string]any{"$eq": []any{1, 2}}}, []int64{0}},
		{"typed list operand", map[string]any{"tags": []string{"go", "db"}}, []int64{1}},
		{"order matters", map[string]any{"tags": []int{2, 1}}, []int64{}},
		{"map operand", map[string]any{"meta": map[string]any{"$eq": map[string]int{"v": 1}}}, []int64{0}},
		{"ne list", map[string]any{"tags": map[string]any{"$ne": []any{1, 2}}}, []int64{1}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			docs, err := c.Find(ctx, tc.query, docdb.Params{})
			require.NoError(t, err)
			assert.Equal(t, tc.want, ids(t, docs))
		})
	}
}
