package query

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

type evaluator func(field any, c Clause, strict bool) bool

// evaluators is indexed by Operator. Every operator in (OpUnknown, opCount)
// must have an entry.
var evaluators = [opCount]evaluator{
	OpEq: func(field any, c Clause, strict bool) bool {
		return Equal(field, c.Value, strict)
	},
	OpNe: func(field any, c Clause, strict bool) bool {
		return !Equal(field, c.Value, strict)
	},
	OpGt: func(field any, c Clause, strict bool) bool {
		n, ok := compare(field, c.Value, strict)
		return ok && n > 0
	},
	OpGte: func(field any, c Clause, strict bool) bool {
		n, ok := compare(field, c.Value, strict)
		return ok && n >= 0
	},
	OpLt: func(field any, c Clause, strict bool) bool {
		n, ok := compare(field, c.Value, strict)
		return ok && n < 0
	},
	OpLte: func(field any, c Clause, strict bool) bool {
		n, ok := compare(field, c.Value, strict)
		return ok && n <= 0
	},
	OpLike: func(field any, c Clause, _ bool) bool {
		if c.re == nil || field == nil {
			return false
		}
		switch field.(type) {
		case string, bool:
		default:
			if _, ok := toFloat(field); !ok {
				return false
			}
		}
		return c.re.MatchString(formatScalar(field))
	},
	OpPredicate: func(field any, c Clause, _ bool) bool {
		switch p := c.Value.(type) {
		case Predicate:
			return p != nil && p(field)
		case func(any) bool:
			return p != nil && p(field)
		}
		return false
	},
}

// Equal compares two field values.
//
// Strict mode requires the same kind of value: nil with nil, numbers by
// value regardless of Go numeric type, strings and bools by value. Lists
// and string-keyed maps are equal when their elements are equal under the
// same mode, whatever their Go element types.
//
// Loose mode also accepts these conversions:
//   - number and string: the trimmed string is parsed as a float ("" is 0)
//   - bool and number or string: the bool becomes 1 or 0 and is compared again
//
// nil is only ever equal to nil.
func Equal(a, b any, strict bool) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return av == bv
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return av == bv
		}
	}
	if eq, ok := equalComposite(a, b, strict); ok {
		return eq
	}
	if strict {
		return false
	}
	return looseEqual(a, b)
}

func looseEqual(a, b any) bool {
	if ab, ok := a.(bool); ok {
		return Equal(boolNumber(ab), b, false)
	}
	if bb, ok := b.(bool); ok {
		return Equal(a, boolNumber(bb), false)
	}
	if fa, ok := toFloat(a); ok {
		if s, ok := b.(string); ok {
			fb, ok := parseNumber(s)
			return ok && fa == fb
		}
	}
	if fb, ok := toFloat(b); ok {
		if s, ok := a.(string); ok {
			fa, ok := parseNumber(s)
			return ok && fa == fb
		}
	}
	return false
}

// equalComposite compares lists with lists and string-keyed maps with
// string-keyed maps, element by element with Equal. ok is false when a and
// b are not both lists or both maps.
func equalComposite(a, b any, strict bool) (eq, ok bool) {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	switch {
	case isList(va) && isList(vb):
		if va.Len() != vb.Len() {
			return false, true
		}
		for i := 0; i < va.Len(); i++ {
			if !Equal(va.Index(i).Interface(), vb.Index(i).Interface(), strict) {
				return false, true
			}
		}
		return true, true
	case isObject(va) && isObject(vb):
		if va.Len() != vb.Len() {
			return false, true
		}
		iter := va.MapRange()
		for iter.Next() {
			other := vb.MapIndex(iter.Key().Convert(vb.Type().Key()))
			if !other.IsValid() || !Equal(iter.Value().Interface(), other.Interface(), strict) {
				return false, true
			}
		}
		return true, true
	}
	return false, false
}

// isList excludes []byte, which the codec writes as a string.
func isList(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Slice:
		return v.Type().Elem().Kind() != reflect.Uint8
	case reflect.Array:
		return true
	}
	return false
}

func isObject(v reflect.Value) bool {
	return v.Kind() == reflect.Map && v.Type().Key().Kind() == reflect.String
}

// compare orders a against b. ok is false when the values are not comparable.
func compare(a, b any, strict bool) (n int, ok bool) {
	if a == nil || b == nil {
		return 0, false
	}
	fa, aNum := toFloat(a)
	fb, bNum := toFloat(b)
	if !strict {
		if s, isStr := a.(string); isStr && bNum {
			fa, aNum = parseNumber(s)
		}
		if s, isStr := b.(string); isStr && aNum {
			fb, bNum = parseNumber(s)
		}
	}
	if aNum && bNum {
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		}
		return 0, true
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv), true
		}
	case bool:
		if bv, ok := b.(bool); ok {
			return int(boolNumber(av) - boolNumber(bv)), true
		}
	}
	return 0, false
}

func boolNumber(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func formatScalar(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	case nil:
		return ""
	}
	if f, ok := toFloat(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
