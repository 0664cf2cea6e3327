// Package translate bridges small type mismatches between a producer's
// declared output type and a consumer's declared input type. Selection of
// a coercion strategy for a (source, destination) type pair is memoised in
// a bounded LRU cache, since dispatch cost dominates for small payloads.
package translate

import (
	"fmt"
	"sort"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/fault"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/typeexpr"
)

// DefaultCacheSize bounds the strategy cache when no size is configured.
const DefaultCacheSize = 1024

// Strategy converts one payload value. Strategies are pure and safe for
// concurrent use.
type Strategy func(v any) (any, error)

// Translator owns the coercion rule table and the strategy cache.
type Translator struct {
	cache *lru.Cache[string, Strategy]
}

// New creates a Translator with the given strategy-cache capacity.
// Sizes below 1 fall back to DefaultCacheSize.
func New(cacheSize int) *Translator {
	if cacheSize < 1 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, Strategy](cacheSize)
	if err != nil {
		// Only reachable with a non-positive size, which we just excluded.
		panic(err)
	}
	return &Translator{cache: cache}
}

// Translate coerces v to the declared destination type. The source type is
// observed from the value at runtime. On failure the original value is not
// returned; callers must treat the delivery as skipped.
func (t *Translator) Translate(v any, dst typeexpr.Type) (any, error) {
	src := Infer(v)
	key := src.String() + "\x00" + dst.String()
	if s, ok := t.cache.Get(key); ok {
		return s(v)
	}
	s, err := t.compile(src, dst)
	if err != nil {
		return nil, err
	}
	t.cache.Add(key, s)
	return s(v)
}

// CacheLen reports the number of memoised strategies, for diagnostics.
func (t *Translator) CacheLen() int { return t.cache.Len() }

var identity Strategy = func(v any) (any, error) { return v, nil }

// compile selects the coercion strategy for a (src, dst) type pair, or
// fails with a TranslationFailure.
func (t *Translator) compile(src, dst typeexpr.Type) (Strategy, error) {
	if dst.Kind == typeexpr.Any || src.Equal(dst) {
		return identity, nil
	}

	// A union destination accepts the value unchanged when the source
	// matches a member, otherwise the first coercible member wins.
	if dst.Kind == typeexpr.Union {
		for _, m := range dst.Args {
			if src.Equal(m) || m.Kind == typeexpr.Any {
				return identity, nil
			}
		}
		for _, m := range dst.Args {
			if s, err := t.compile(src, m); err == nil {
				return s, nil
			}
		}
		return nil, t.failure(src, dst, "no union member accepts the source type")
	}

	switch {
	case src.Kind == typeexpr.Int && dst.Kind == typeexpr.Float:
		return func(v any) (any, error) {
			f, ok := asFloat64(v)
			if !ok {
				return nil, t.failure(src, dst, fmt.Sprintf("value %T is not numeric", v))
			}
			return f, nil
		}, nil

	case src.Kind == typeexpr.Str && dst.Kind == typeexpr.Bytes:
		return func(v any) (any, error) {
			s, ok := v.(string)
			if !ok {
				return nil, t.failure(src, dst, fmt.Sprintf("value %T is not a string", v))
			}
			return []byte(s), nil
		}, nil

	case src.Kind == typeexpr.Bytes && dst.Kind == typeexpr.Str:
		return func(v any) (any, error) {
			b, ok := v.([]byte)
			if !ok {
				return nil, t.failure(src, dst, fmt.Sprintf("value %T is not a byte slice", v))
			}
			if !utf8.Valid(b) {
				return nil, t.failure(src, dst, "byte sequence is not valid UTF-8")
			}
			return string(b), nil
		}, nil

	case dst.Kind == typeexpr.List || dst.Kind == typeexpr.Set:
		return t.compileContainer(src, dst)
	}

	return nil, t.failure(src, dst, "no coercion rule")
}

// compileContainer handles every rule whose destination is list<T> or
// set<T>: re-containering, element-wise conversion, dict-to-entry-list and
// wrap-singleton.
func (t *Translator) compileContainer(src, dst typeexpr.Type) (Strategy, error) {
	elemT := dst.Args[0]
	finish := func(s []any) []any { return s }
	if dst.Kind == typeexpr.Set {
		finish = dedupe
	}

	switch src.Kind {
	case typeexpr.List, typeexpr.Set, typeexpr.Tuple:
		// Element-wise conversion; each element re-dispatches through the
		// translator so heterogeneous (any-typed) elements still resolve.
		if !typeexpr.Compatible(src.Args[0], elemT) && src.Args[0].Kind != typeexpr.Any {
			return nil, t.failure(src, dst, "element types are not coercible")
		}
		return func(v any) (any, error) {
			s, ok := asSlice(v)
			if !ok {
				return nil, t.failure(src, dst, fmt.Sprintf("value %T is not a list", v))
			}
			out := make([]any, 0, len(s))
			for _, e := range s {
				conv, err := t.Translate(e, elemT)
				if err != nil {
					return nil, err
				}
				out = append(out, conv)
			}
			return finish(out), nil
		}, nil

	case typeexpr.Dict:
		// dict<K,V> -> list<tuple<K,V>>; entries ordered by key so the
		// result is deterministic within one run.
		if elemT.Kind != typeexpr.Tuple || len(elemT.Args) != 2 {
			return nil, t.failure(src, dst, "dict converts only to a list of two-element tuples")
		}
		return func(v any) (any, error) {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, t.failure(src, dst, fmt.Sprintf("value %T is not a dict", v))
			}
			keys := make([]string, 0, len(m))
			for k := range m {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			out := make([]any, 0, len(keys))
			for _, k := range keys {
				key, err := t.Translate(k, elemT.Args[0])
				if err != nil {
					return nil, err
				}
				val, err := t.Translate(m[k], elemT.Args[1])
				if err != nil {
					return nil, err
				}
				out = append(out, []any{key, val})
			}
			return finish(out), nil
		}, nil

	default:
		// Wrap-singleton: T -> list<T> / set<T>.
		if !typeexpr.Compatible(src, elemT) {
			return nil, t.failure(src, dst, "singleton element type is not coercible")
		}
		return func(v any) (any, error) {
			conv, err := t.Translate(v, elemT)
			if err != nil {
				return nil, err
			}
			return finish([]any{conv}), nil
		}, nil
	}
}

func (t *Translator) failure(src, dst typeexpr.Type, reason string) error {
	return fault.TranslationFailure(src.String(), dst.String(), reason)
}
