package tiptree

import (
	"fmt"
	"math"
	"math/big"

	"github.com/ipfs/go-cid"
)

// Kind identifies the variant of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindString
	KindInt
	KindFloat
	KindSeq
	KindMap
	KindLink
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindSeq:
		return "seq"
	case KindMap:
		return "map"
	case KindLink:
		return "link"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is anything that can be stored in a tree. The set of
// implementations is closed: Null, Bool, String, Int, Float, Seq, Map and
// Link.
type Value interface {
	Kind() Kind
	isValue()
}

type (
	// Null is the absence of a value, stored explicitly.
	Null struct{}
	// Bool is a boolean.
	Bool bool
	// String is UTF-8 text.
	String string
	// Float is an IEEE-754 double.
	Float float64
	// Seq is an ordered list of values.
	Seq []Value
	// Map is a string-keyed map of values. Key order is not significant.
	Map map[string]Value
)

// Int is an integer of any size. The zero Int is 0.
type Int struct {
	i *big.Int
}

// Link refers to a node stored in its own block, by content.
type Link struct {
	cid.Cid
}

func (Null) Kind() Kind   { return KindNull }
func (Bool) Kind() Kind   { return KindBool }
func (String) Kind() Kind { return KindString }
func (Int) Kind() Kind    { return KindInt }
func (Float) Kind() Kind  { return KindFloat }
func (Seq) Kind() Kind    { return KindSeq }
func (Map) Kind() Kind    { return KindMap }
func (Link) Kind() Kind   { return KindLink }

func (Null) isValue()   {}
func (Bool) isValue()   {}
func (String) isValue() {}
func (Int) isValue()    {}
func (Float) isValue()  {}
func (Seq) isValue()    {}
func (Map) isValue()    {}
func (Link) isValue()   {}

// NewInt returns the Int for n.
func NewInt(n int64) Int {
	return Int{big.NewInt(n)}
}

// NewBigInt returns an Int holding a copy of b.
func NewBigInt(b *big.Int) Int {
	return Int{new(big.Int).Set(b)}
}

// ParseInt parses a base-10 integer of any size.
func ParseInt(s string) (Int, bool) {
	b, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return Int{}, false
	}
	return Int{b}, true
}

func (i Int) big() *big.Int {
	if i.i == nil {
		return new(big.Int)
	}
	return i.i
}

// Big returns a copy of the integer.
func (i Int) Big() *big.Int {
	return new(big.Int).Set(i.big())
}

// Int64 returns the integer if it fits in an int64.
func (i Int) Int64() (int64, bool) {
	b := i.big()
	if !b.IsInt64() {
		return 0, false
	}
	return b.Int64(), true
}

func (i Int) String() string {
	return i.big().String()
}

// Equal reports whether a and b hold the same value, which is whether
// they encode the same. So NaN equals NaN, and -0 does not equal 0.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if a.Kind() != b.Kind() {
		return false
	}
	switch av := a.(type) {
	case Null:
		return true
	case Bool:
		return av == b.(Bool)
	case String:
		return av == b.(String)
	case Int:
		return av.big().Cmp(b.(Int).big()) == 0
	case Float:
		bf := float64(b.(Float))
		if math.IsNaN(float64(av)) {
			return math.IsNaN(bf)
		}
		return math.Float64bits(float64(av)) == math.Float64bits(bf)
	case Seq:
		bv := b.(Seq)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv := b.(Map)
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	case Link:
		return av.Cid.Equals(b.(Link).Cid)
	}
	return false
}

// FromGo converts plain Go values into a Value. Supported are nil, bool,
// string, every int and uint width, big.Int, float32/64, cid.Cid,
// []interface{}, map[string]interface{}, and Values themselves.
func FromGo(i interface{}) (Value, error) {
	switch v := i.(type) {
	case nil:
		return Null{}, nil
	case Value:
		if err := validate(v, 0); err != nil {
			return nil, err
		}
		return v, nil
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case int:
		return NewInt(int64(v)), nil
	case int8:
		return NewInt(int64(v)), nil
	case int16:
		return NewInt(int64(v)), nil
	case int32:
		return NewInt(int64(v)), nil
	case int64:
		return NewInt(v), nil
	case uint:
		return Int{new(big.Int).SetUint64(uint64(v))}, nil
	case uint8:
		return NewInt(int64(v)), nil
	case uint16:
		return NewInt(int64(v)), nil
	case uint32:
		return NewInt(int64(v)), nil
	case uint64:
		return Int{new(big.Int).SetUint64(v)}, nil
	case *big.Int:
		if v == nil {
			return nil, fmt.Errorf("%w: nil *big.Int", ErrUnsupportedValue)
		}
		return NewBigInt(v), nil
	case big.Int:
		return NewBigInt(&v), nil
	case float32:
		return Float(v), nil
	case float64:
		return Float(v), nil
	case cid.Cid:
		if !v.Defined() {
			return nil, fmt.Errorf("%w: undefined cid", ErrUnsupportedValue)
		}
		return Link{v}, nil
	case []interface{}:
		seq := make(Seq, len(v))
		for j, e := range v {
			ev, err := FromGo(e)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", j, err)
			}
			seq[j] = ev
		}
		return seq, nil
	case map[string]interface{}:
		m := make(Map, len(v))
		for k, e := range v {
			ev, err := FromGo(e)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			m[k] = ev
		}
		return m, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, i)
}

// validate checks that a Value tree contains nothing that can't be
// encoded: nil interfaces, undefined links, or pathological nesting.
func validate(v Value, depth int) error {
	if depth > MaxNestingDepth {
		return fmt.Errorf("%w: nested deeper than %d", ErrUnsupportedValue, MaxNestingDepth)
	}
	switch tv := v.(type) {
	case nil:
		return fmt.Errorf("%w: nil", ErrUnsupportedValue)
	case Seq:
		for i, e := range tv {
			if err := validate(e, depth+1); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	case Map:
		for k, e := range tv {
			if err := validate(e, depth+1); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
	case Link:
		if !tv.Defined() {
			return fmt.Errorf("%w: undefined link", ErrUnsupportedValue)
		}
	case Null, Bool, String, Int, Float:
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
	return nil
}
