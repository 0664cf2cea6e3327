package manifest

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// ctyToNative lowers a cty.Value from HCL expression evaluation into the
// plain Go values that flow through the engine: string, int64, float64,
// bool, []any and map[string]any. Whole numbers lower to int64 so that
// the translation layer's numeric rules observe them as ints.
func ctyToNative(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString(), nil
	case t == cty.Bool:
		return v.True(), nil
	case t == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			i, _ := bf.Int64()
			return i, nil
		}
		f, _ := bf.Float64()
		return f, nil
	case t.IsListType() || t.IsSetType() || t.IsTupleType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			native, err := ctyToNative(ev)
			if err != nil {
				return nil, err
			}
			out = append(out, native)
		}
		return out, nil
	case t.IsMapType() || t.IsObjectType():
		out := make(map[string]any, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			kv, ev := it.Element()
			native, err := ctyToNative(ev)
			if err != nil {
				return nil, err
			}
			out[kv.AsString()] = native
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported configuration value type %s", t.FriendlyName())
}
