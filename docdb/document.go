package docdb

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// IDField is the reserved field holding a row's auto-incremented id.
const IDField = "_id"

// Document is a schemaless record.
type Document map[string]any

// ID returns the document's _id when it is an integer.
func (d Document) ID() (int64, bool) {
	switch v := d[IDField].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

// Clone returns a deep copy of d.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Document(t).Clone())
	case Document:
		return t.Clone()
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// normalize converts src to the form it takes after a round trip through
// the snapshot codec: numbers become float64 and nested values become
// map[string]any or []any.
func normalize(src map[string]any) (Document, error) {
	if src == nil {
		return Document{}, nil
	}
	b, err := json.Marshal(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	var dst Document
	if err := json.Unmarshal(b, &dst); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	restoreID(dst)
	return dst, nil
}

// restoreID turns a whole-number float _id back into int64.
func restoreID(d Document) {
	if f, ok := d[IDField].(float64); ok && f == float64(int64(f)) {
		d[IDField] = int64(f)
	}
}
