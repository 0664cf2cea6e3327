package translate

import (
	"fmt"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/typeexpr"
)

// Infer derives the runtime-observed type of a payload value. Container
// elements are inferred recursively: a slice whose elements all infer to
// one type infers list<that>, otherwise list<any>; map values unify the
// same way into dict<str,V>. Tuples cannot be
// distinguished from lists at runtime and infer as lists.
func Infer(v any) typeexpr.Type {
	switch val := v.(type) {
	case nil:
		return typeexpr.NullT
	case string:
		return typeexpr.StrT
	case bool:
		return typeexpr.BoolT
	case []byte:
		return typeexpr.BytesT
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return typeexpr.IntT
	case float32, float64:
		return typeexpr.FloatT
	case []any:
		return typeexpr.ListOf(unifyElems(val))
	case map[string]any:
		vals := make([]any, 0, len(val))
		for _, e := range val {
			vals = append(vals, e)
		}
		return typeexpr.DictOf(typeexpr.StrT, unifyElems(vals))
	}
	return typeexpr.AnyT
}

// unifyElems returns the shared element type of a slice, or any.
func unifyElems(elems []any) typeexpr.Type {
	if len(elems) == 0 {
		return typeexpr.AnyT
	}
	first := Infer(elems[0])
	for _, e := range elems[1:] {
		if !Infer(e).Equal(first) {
			return typeexpr.AnyT
		}
	}
	return first
}

// asInt64 normalises any Go integer to int64.
func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

// asFloat64 normalises any Go number to float64.
func asFloat64(v any) (float64, bool) {
	if i, ok := asInt64(v); ok {
		return float64(i), true
	}
	switch n := v.(type) {
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// asSlice coerces list-shaped payloads to []any.
func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// dedupe returns the elements of s with duplicates removed, keeping the
// first occurrence of each. Equality is by rendered value, which is stable
// within one run.
func dedupe(s []any) []any {
	seen := make(map[string]struct{}, len(s))
	out := make([]any, 0, len(s))
	for _, e := range s {
		k := fmt.Sprintf("%T:%v", e, e)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}
