// Package typeexpr implements the textual type grammar used by module
// manifests: primitives (str, int, float, bool, bytes, any), parametric
// containers (list<T>, set<T>, dict<K,V>, tuple<T1,...,Tn>), unions
// (T1|T2) and optional<T>, which is shorthand for T|null.
package typeexpr

import (
	"fmt"
	"strings"
)

// Kind discriminates the variants of a Type.
type Kind uint8

const (
	Invalid Kind = iota
	Str
	Int
	Float
	Bool
	Bytes
	Any
	Null
	List
	Set
	Dict
	Tuple
	Union
)

var kindNames = map[Kind]string{
	Str: "str", Int: "int", Float: "float", Bool: "bool",
	Bytes: "bytes", Any: "any", Null: "null",
	List: "list", Set: "set", Dict: "dict", Tuple: "tuple",
}

// Type is a parsed type expression. Args holds element types for the
// parametric kinds: one for List/Set, two (key, value) for Dict, one per
// element for Tuple, and one per member for Union.
type Type struct {
	Kind Kind
	Args []Type
}

// Convenience constructors for the primitive types.
var (
	StrT   = Type{Kind: Str}
	IntT   = Type{Kind: Int}
	FloatT = Type{Kind: Float}
	BoolT  = Type{Kind: Bool}
	BytesT = Type{Kind: Bytes}
	AnyT   = Type{Kind: Any}
	NullT  = Type{Kind: Null}
)

// ListOf returns list<elem>.
func ListOf(elem Type) Type { return Type{Kind: List, Args: []Type{elem}} }

// SetOf returns set<elem>.
func SetOf(elem Type) Type { return Type{Kind: Set, Args: []Type{elem}} }

// DictOf returns dict<key,val>.
func DictOf(key, val Type) Type { return Type{Kind: Dict, Args: []Type{key, val}} }

// TupleOf returns tuple<elems...>.
func TupleOf(elems ...Type) Type { return Type{Kind: Tuple, Args: elems} }

// UnionOf returns the union of the given members, flattening nested unions
// and removing duplicates while preserving first-occurrence order.
func UnionOf(members ...Type) Type {
	var flat []Type
	var add func(t Type)
	add = func(t Type) {
		if t.Kind == Union {
			for _, m := range t.Args {
				add(m)
			}
			return
		}
		for _, existing := range flat {
			if existing.Equal(t) {
				return
			}
		}
		flat = append(flat, t)
	}
	for _, m := range members {
		add(m)
	}
	if len(flat) == 1 {
		return flat[0]
	}
	return Type{Kind: Union, Args: flat}
}

// Optional returns t|null.
func Optional(t Type) Type { return UnionOf(t, NullT) }

// IsZero reports whether t is the zero (invalid) Type.
func (t Type) IsZero() bool { return t.Kind == Invalid }

// Equal reports structural equality. Union members compare as unordered
// sets so that "int|str" equals "str|int".
func (t Type) Equal(o Type) bool {
	if t.Kind != o.Kind {
		return false
	}
	if t.Kind == Union {
		if len(t.Args) != len(o.Args) {
			return false
		}
		for _, m := range t.Args {
			found := false
			for _, n := range o.Args {
				if m.Equal(n) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	if len(t.Args) != len(o.Args) {
		return false
	}
	for i := range t.Args {
		if !t.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	return true
}

// String renders the canonical form of the type expression. A two-member
// union containing null renders as optional<T>.
func (t Type) String() string {
	switch t.Kind {
	case Invalid:
		return "<invalid>"
	case Str, Int, Float, Bool, Bytes, Any, Null:
		return kindNames[t.Kind]
	case List, Set:
		return fmt.Sprintf("%s<%s>", kindNames[t.Kind], t.Args[0])
	case Dict:
		return fmt.Sprintf("dict<%s,%s>", t.Args[0], t.Args[1])
	case Tuple:
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = a.String()
		}
		return "tuple<" + strings.Join(parts, ",") + ">"
	case Union:
		if len(t.Args) == 2 {
			if t.Args[1].Kind == Null {
				return "optional<" + t.Args[0].String() + ">"
			}
			if t.Args[0].Kind == Null {
				return "optional<" + t.Args[1].String() + ">"
			}
		}
		parts := make([]string, len(t.Args))
		for i, a := range t.Args {
			parts[i] = a.String()
		}
		return strings.Join(parts, "|")
	}
	return "<invalid>"
}

// Parse parses a type expression string into a Type.
func Parse(s string) (Type, error) {
	p := &parser{input: s}
	t, err := p.union()
	if err != nil {
		return Type{}, err
	}
	p.skipSpace()
	if p.pos != len(p.input) {
		return Type{}, fmt.Errorf("type %q: unexpected trailing input at offset %d", s, p.pos)
	}
	return t, nil
}

// MustParse is Parse that panics on error, for fixtures and tests.
func MustParse(s string) Type {
	t, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return t
}

type parser struct {
	input string
	pos   int
}

func (p *parser) skipSpace() {
	for p.pos < len(p.input) && (p.input[p.pos] == ' ' || p.input[p.pos] == '\t') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	if p.pos >= len(p.input) {
		return 0
	}
	return p.input[p.pos]
}

// union := term ('|' term)*
func (p *parser) union() (Type, error) {
	first, err := p.term()
	if err != nil {
		return Type{}, err
	}
	members := []Type{first}
	for {
		p.skipSpace()
		if p.peek() != '|' {
			break
		}
		p.pos++
		next, err := p.term()
		if err != nil {
			return Type{}, err
		}
		members = append(members, next)
	}
	return UnionOf(members...), nil
}

// term := ident ('<' union (',' union)* '>')?
func (p *parser) term() (Type, error) {
	p.skipSpace()
	name := p.ident()
	if name == "" {
		return Type{}, fmt.Errorf("type %q: expected type name at offset %d", p.input, p.pos)
	}

	switch name {
	case "str", "string":
		return StrT, nil
	case "int":
		return IntT, nil
	case "float":
		return FloatT, nil
	case "bool":
		return BoolT, nil
	case "bytes":
		return BytesT, nil
	case "any":
		return AnyT, nil
	case "null", "none":
		return NullT, nil
	}

	args, err := p.typeArgs()
	if err != nil {
		return Type{}, err
	}

	switch name {
	case "list", "set":
		if len(args) != 1 {
			return Type{}, fmt.Errorf("type %q: %s takes exactly one type argument", p.input, name)
		}
		if name == "list" {
			return ListOf(args[0]), nil
		}
		return SetOf(args[0]), nil
	case "dict":
		if len(args) != 2 {
			return Type{}, fmt.Errorf("type %q: dict takes exactly two type arguments", p.input)
		}
		return DictOf(args[0], args[1]), nil
	case "tuple":
		if len(args) == 0 {
			return Type{}, fmt.Errorf("type %q: tuple requires at least one type argument", p.input)
		}
		return TupleOf(args...), nil
	case "optional":
		if len(args) != 1 {
			return Type{}, fmt.Errorf("type %q: optional takes exactly one type argument", p.input)
		}
		return Optional(args[0]), nil
	}
	return Type{}, fmt.Errorf("type %q: unknown type name %q", p.input, name)
}

// typeArgs parses a required '<' union (',' union)* '>' bracket group.
func (p *parser) typeArgs() ([]Type, error) {
	p.skipSpace()
	if p.peek() != '<' {
		return nil, fmt.Errorf("type %q: expected '<' at offset %d", p.input, p.pos)
	}
	p.pos++
	var args []Type
	for {
		arg, err := p.union()
		if err != nil {
			return nil, err
		}
		args = append(args, arg)
		p.skipSpace()
		switch p.peek() {
		case ',':
			p.pos++
		case '>':
			p.pos++
			return args, nil
		default:
			return nil, fmt.Errorf("type %q: expected ',' or '>' at offset %d", p.input, p.pos)
		}
	}
}

func (p *parser) ident() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' {
			p.pos++
			continue
		}
		break
	}
	return strings.ToLower(p.input[start:p.pos])
}
