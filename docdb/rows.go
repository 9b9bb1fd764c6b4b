package docdb

import (
	"bytes"
	"container/list"
	"sort"
	"strconv"

	json "github.com/goccy/go-json"
)

type row struct {
	key string
	doc Document
}

// rowSet holds a collection's rows in insertion order. The front row is the
// oldest and is the one evicted from a capped collection.
type rowSet struct {
	order *list.List
	index map[string]*list.Element
}

func newRowSet() *rowSet {
	return &rowSet{order: list.New(), index: make(map[string]*list.Element)}
}

func (s *rowSet) Len() int { return s.order.Len() }

// put appends a new row, or replaces the document of an existing key
// without changing its position.
func (s *rowSet) put(key string, doc Document) {
	if e, ok := s.index[key]; ok {
		e.Value.(*row).doc = doc
		return
	}
	s.index[key] = s.order.PushBack(&row{key: key, doc: doc})
}

func (s *rowSet) remove(key string) bool {
	e, ok := s.index[key]
	if !ok {
		return false
	}
	s.order.Remove(e)
	delete(s.index, key)
	return true
}

// shift removes and returns the oldest row.
func (s *rowSet) shift() *row {
	e := s.order.Front()
	if e == nil {
		return nil
	}
	r := e.Value.(*row)
	s.remove(r.key)
	return r
}

// each visits rows oldest first until fn returns false. fn may remove or
// replace the row it is given.
func (s *rowSet) each(fn func(r *row) bool) {
	for e := s.order.Front(); e != nil; {
		next := e.Next()
		if !fn(e.Value.(*row)) {
			return
		}
		e = next
	}
}

// MarshalJSON writes rows as an object whose keys appear in insertion order.
func (s *rowSet) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	var err error
	s.each(func(r *row) bool {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		var k, v []byte
		if k, err = json.Marshal(r.key); err != nil {
			return false
		}
		if v, err = json.Marshal(r.doc); err != nil {
			return false
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return true
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON restores rows ordered by numeric id. Ids are handed out in
// increasing order, so this is insertion order. Keys that are not integers
// sort after all numeric keys.
func (s *rowSet) UnmarshalJSON(data []byte) error {
	var raw map[string]Document
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ni, errI := strconv.ParseInt(keys[i], 10, 64)
		nj, errJ := strconv.ParseInt(keys[j], 10, 64)
		switch {
		case errI == nil && errJ == nil:
			return ni < nj
		case errI == nil:
			return true
		case errJ == nil:
			return false
		}
		return keys[i] < keys[j]
	})

	*s = *newRowSet()
	for _, k := range keys {
		doc := raw[k]
		if doc == nil {
			doc = Document{}
		}
		restoreID(doc)
		s.put(k, doc)
	}
	return nil
}
