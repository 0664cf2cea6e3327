package typeexpr

// Compatible reports whether a value declared as type out may be wired to
// an input declared as type in. The relation is static — it is evaluated at
// pipeline validation time, before any value flows:
//
//  1. in = any accepts everything.
//  2. Structural equality.
//  3. A coercion rule covers (out, in).
//  4. in is a union containing a member for which 1-3 holds.
//
// A union-typed output is compatible only if every member is.
func Compatible(out, in Type) bool {
	if in.Kind == Any {
		return true
	}
	if out.Kind == Union {
		for _, m := range out.Args {
			if !Compatible(m, in) {
				return false
			}
		}
		return true
	}
	if out.Equal(in) {
		return true
	}
	if coercible(out, in) {
		return true
	}
	if in.Kind == Union {
		for _, m := range in.Args {
			if Compatible(out, m) {
				return true
			}
		}
	}
	return false
}

// coercible mirrors the runtime coercion rule table on declared types.
func coercible(out, in Type) bool {
	// numeric widening
	if out.Kind == Int && in.Kind == Float {
		return true
	}
	// str <-> bytes
	if out.Kind == Str && in.Kind == Bytes {
		return true
	}
	if out.Kind == Bytes && in.Kind == Str {
		return true
	}
	// re-container between list and set
	if (out.Kind == List && in.Kind == Set) || (out.Kind == Set && in.Kind == List) {
		return Compatible(out.Args[0], in.Args[0])
	}
	// element-wise list conversion
	if out.Kind == List && in.Kind == List {
		return Compatible(out.Args[0], in.Args[0])
	}
	if out.Kind == Set && in.Kind == Set {
		return Compatible(out.Args[0], in.Args[0])
	}
	// dict<K,V> -> list<tuple<K,V>>
	if out.Kind == Dict && in.Kind == List && in.Args[0].Kind == Tuple && len(in.Args[0].Args) == 2 {
		return Compatible(out.Args[0], in.Args[0].Args[0]) && Compatible(out.Args[1], in.Args[0].Args[1])
	}
	// homogeneous tuple -> list
	if out.Kind == Tuple && in.Kind == List {
		for _, e := range out.Args {
			if !Compatible(e, in.Args[0]) {
				return false
			}
		}
		return true
	}
	// wrap-singleton: T -> list<T> / set<T>
	if (in.Kind == List || in.Kind == Set) && out.Kind != List && out.Kind != Set && out.Kind != Dict && out.Kind != Tuple {
		return Compatible(out, in.Args[0])
	}
	return false
}
