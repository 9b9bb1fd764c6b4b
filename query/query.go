// Package query implements the filter language used to select documents.
//
// A query is one clause object or a list of clause objects. Each key of a
// clause object names a document field. A plain value means equality; a
// nested map is read as {operator: operand}:
//
//	{"status": "done"}
//	{"age": {"$gte": 18}}
//	[{"age": {"$gte": 18}}, {"name": {"$like": "^a"}}]
//
// All clauses must match (AND). An empty query matches every document.
package query

import (
	"reflect"
	"regexp"
	"sort"
)

// Operator is a comparison applied to a document field.
type Operator int

const (
	OpUnknown Operator = iota
	OpEq
	OpNe
	OpGt
	OpGte
	OpLt
	OpLte
	OpLike
	OpPredicate

	opCount
)

var operatorNames = map[string]Operator{
	"$eq":        OpEq,
	"$ne":        OpNe,
	"$gt":        OpGt,
	"$gte":       OpGte,
	"$lt":        OpLt,
	"$lte":       OpLte,
	"$like":      OpLike,
	"$predicate": OpPredicate,
}

// String returns the operator as written in a query.
func (o Operator) String() string {
	for name, op := range operatorNames {
		if op == o {
			return name
		}
	}
	return "$unknown"
}

// ParseOperator maps a query key such as "$gte" to its Operator.
// Unrecognized names return OpUnknown.
func ParseOperator(name string) Operator {
	if op, ok := operatorNames[name]; ok {
		return op
	}
	return OpUnknown
}

// Predicate is a caller-supplied test used with the $predicate operator.
// It receives the field value, or nil when the field is absent.
type Predicate func(value any) bool

// Clause is a single (field, operator, value) test.
type Clause struct {
	Field string
	Op    Operator
	Value any

	re *regexp.Regexp
}

// Query is a normalized list of clauses joined with AND.
type Query []Clause

// Parse normalizes a query spec into clauses.
//
// Accepted forms are nil, a map with string keys, a slice or array of such
// maps, or an already parsed Query. A list element that is not a clause
// object adds a clause that never matches. Other top-level inputs
// contribute no clauses. When an operator map carries more than one key
// only the first key in sorted order is used.
func Parse(spec any) Query {
	switch s := spec.(type) {
	case nil:
		return nil
	case Query:
		return s
	case []Clause:
		return Query(s)
	}
	if obj, ok := asMap(spec); ok {
		return parseObject(obj)
	}
	rv := reflect.ValueOf(spec)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	q := Query{}
	for i := 0; i < rv.Len(); i++ {
		q = append(q, parseElement(rv.Index(i).Interface())...)
	}
	return q
}

// parseElement reads one entry of a clause list.
func parseElement(item any) Query {
	switch s := item.(type) {
	case Query:
		return s
	case []Clause:
		return Query(s)
	case Clause:
		return Query{s}
	}
	if obj, ok := asMap(item); ok {
		return parseObject(obj)
	}
	return Query{{Op: OpUnknown}}
}

func parseObject(obj map[string]any) Query {
	fields := make([]string, 0, len(obj))
	for f := range obj {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	q := make(Query, 0, len(fields))
	for _, field := range fields {
		q = append(q, newClause(field, obj[field]))
	}
	return q
}

func newClause(field string, item any) Clause {
	cond, ok := asMap(item)
	if !ok {
		return Clause{Field: field, Op: OpEq, Value: item}
	}
	if len(cond) == 0 {
		return Clause{Field: field, Op: OpUnknown}
	}
	keys := make([]string, 0, len(cond))
	for k := range cond {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	c := Clause{Field: field, Op: ParseOperator(keys[0]), Value: cond[keys[0]]}
	if c.Op == OpLike {
		// An invalid pattern leaves re nil and the clause never matches.
		c.re, _ = regexp.Compile(formatScalar(c.Value))
	}
	return c
}

// asMap returns m as map[string]any when it is any map keyed by strings.
func asMap(m any) (map[string]any, bool) {
	switch v := m.(type) {
	case map[string]any:
		return v, true
	case nil:
		return nil, false
	}
	rv := reflect.ValueOf(m)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return nil, false
	}
	out := make(map[string]any, rv.Len())
	iter := rv.MapRange()
	for iter.Next() {
		out[iter.Key().String()] = iter.Value().Interface()
	}
	return out, true
}

// Match reports whether doc satisfies every clause. An empty query matches.
func (q Query) Match(doc map[string]any, strict bool) bool {
	for _, c := range q {
		if !c.Match(doc, strict) {
			return false
		}
	}
	return true
}

// Match evaluates the clause against doc. A missing field is seen as nil.
func (c Clause) Match(doc map[string]any, strict bool) bool {
	if c.Op <= OpUnknown || c.Op >= opCount {
		return false
	}
	return evaluators[c.Op](doc[c.Field], c, strict)
}

// Evaluate parses spec and matches it against doc.
func Evaluate(doc map[string]any, spec any, strict bool) bool {
	return Parse(spec).Match(doc, strict)
}
