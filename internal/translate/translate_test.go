package translate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/fault"
	"github.com/lachlanharrisdev/PROJECT-EIDOLON/internal/typeexpr"
)

func TestInfer(t *testing.T) {
	t.Parallel()

	cases := []struct {
		value any
		want  string
	}{
		{nil, "null"},
		{"hello", "str"},
		{3, "int"},
		{int64(3), "int"},
		{3.5, "float"},
		{true, "bool"},
		{[]byte("x"), "bytes"},
		{[]any{1, 2, 3}, "list<int>"},
		{[]any{1, "two"}, "list<any>"},
		{[]any{}, "list<any>"},
		{map[string]any{"a": 1}, "dict<str,int>"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, Infer(tc.value).String(), "value %#v", tc.value)
	}
}

func TestTranslate_Coercions(t *testing.T) {
	t.Parallel()

	tr := New(0)

	cases := []struct {
		name  string
		value any
		dst   string
		want  any
	}{
		{"identity", "hi", "str", "hi"},
		{"to any", map[string]any{"k": 1}, "any", map[string]any{"k": 1}},
		{"int widening", 3, "float", 3.0},
		{"str to bytes", "abc", "bytes", []byte("abc")},
		{"bytes to str", []byte("abc"), "str", "abc"},
		{"wrap singleton list", "x", "list<str>", []any{"x"}},
		{"wrap singleton set", 7, "set<int>", []any{7}},
		{"list to set dedupes", []any{1, 2, 1, 3, 2}, "set<int>", []any{1, 2, 3}},
		{"set to list", []any{1, 2}, "list<int>", []any{1, 2}},
		{"elementwise int list to float list", []any{1, 2}, "list<float>", []any{1.0, 2.0}},
		{"dict to entry list", map[string]any{"b": 2, "a": 1}, "list<tuple<str,int>>", []any{[]any{"a", 1}, []any{"b", 2}}},
		{"union picks matching member", 5, "int|str", 5},
		{"union coerces to member", 5, "float|bool", 5.0},
		{"optional passes value", "s", "optional<str>", "s"},
		{"optional passes null", nil, "optional<str>", nil},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			got, err := tr.Translate(tc.value, typeexpr.MustParse(tc.dst))
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestTranslate_Failures(t *testing.T) {
	t.Parallel()

	tr := New(0)

	cases := []struct {
		name  string
		value any
		dst   string
	}{
		{"str to int has no rule", "not-an-int", "int"},
		{"invalid utf8 bytes to str", []byte{0xff, 0xfe}, "str"},
		{"bool to float", true, "float"},
		{"union with no viable member", map[string]any{}, "int|str"},
		{"heterogeneous list element fails", []any{1, "x"}, "list<float>"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := tr.Translate(tc.value, typeexpr.MustParse(tc.dst))
			require.Error(t, err)
			assert.Equal(t, "translation_failure", fault.CodeOf(err))
		})
	}
}

// Translating T -> any -> T must preserve the value.
func TestTranslate_AnyRoundTrip(t *testing.T) {
	t.Parallel()

	tr := New(0)
	for _, v := range []any{"s", 3, 3.5, true, []any{1, 2}, map[string]any{"k": "v"}} {
		mid, err := tr.Translate(v, typeexpr.AnyT)
		require.NoError(t, err)
		back, err := tr.Translate(mid, Infer(v))
		require.NoError(t, err)
		assert.Equal(t, v, back)
	}
}

func TestTranslate_CachesStrategies(t *testing.T) {
	t.Parallel()

	tr := New(8)
	_, err := tr.Translate(1, typeexpr.FloatT)
	require.NoError(t, err)
	first := tr.CacheLen()
	_, err = tr.Translate(2, typeexpr.FloatT)
	require.NoError(t, err)
	assert.Equal(t, first, tr.CacheLen(), "repeated pair must not grow the cache")
}

func TestTranslate_CacheEviction(t *testing.T) {
	t.Parallel()

	tr := New(2)
	dsts := []typeexpr.Type{typeexpr.FloatT, typeexpr.AnyT, typeexpr.ListOf(typeexpr.IntT)}
	for _, dst := range dsts {
		_, err := tr.Translate(1, dst)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, tr.CacheLen(), 2)
}
