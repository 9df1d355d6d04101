package value

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// --------------------------------------------------------------------------
// Value Type
// --------------------------------------------------------------------------

// Type is the discriminant of a Value
type Type uint8

const (
	TypeNil    Type = iota // Absent value, removes a bin when written
	TypeInt                // 64 bit signed integer
	TypeFloat              // 64 bit float
	TypeString             // UTF-8 string
	TypeBytes              // Raw byte sequence
	TypeList               // Ordered list of values
	TypeMap                // Mapping from string to value
)

// String returns the name of the type
func (t Type) String() string {
	switch t {
	case TypeNil:
		return "nil"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeBytes:
		return "bytes"
	case TypeList:
		return "list"
	case TypeMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged variant holding one bin value. Lists and maps nest
// recursively. The zero Value is nil.
type Value struct {
	typ Type
	i   int64
	f   float64
	s   string
	b   []byte
	l   []Value
	m   map[string]Value
}

// Bins maps bin names to values
type Bins map[string]Value

// --------------------------------------------------------------------------
// Constructors
// --------------------------------------------------------------------------

// Nil returns the nil value
func Nil() Value { return Value{} }

// Int creates an integer value
func Int(i int64) Value { return Value{typ: TypeInt, i: i} }

// Bool creates an integer value of 1 (true) or 0 (false)
func Bool(b bool) Value {
	if b {
		return Int(1)
	}
	return Int(0)
}

// Float creates a float value
func Float(f float64) Value { return Value{typ: TypeFloat, f: f} }

// String creates a string value
func String(s string) Value { return Value{typ: TypeString, s: s} }

// Bytes creates a byte sequence value
func Bytes(b []byte) Value { return Value{typ: TypeBytes, b: b} }

// List creates a list value
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{typ: TypeList, l: items}
}

// Map creates a map value
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{typ: TypeMap, m: m}
}

// Of converts a native Go value into a Value. Supported are nil, bool,
// all integer kinds, float32/64, string, []byte, []Value, []any,
// map[string]Value, map[string]any, Bins and Value itself.
func Of(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Nil(), nil
	case Value:
		return x, nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int8:
		return Int(int64(x)), nil
	case int16:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return ofUnsigned(uint64(x))
	case uint8:
		return Int(int64(x)), nil
	case uint16:
		return Int(int64(x)), nil
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return ofUnsigned(x)
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case string:
		return String(x), nil
	case []byte:
		return Bytes(x), nil
	case []Value:
		return List(x...), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			converted, err := Of(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = converted
		}
		return List(items...), nil
	case []string:
		items := make([]Value, len(x))
		for i, item := range x {
			items[i] = String(item)
		}
		return List(items...), nil
	case map[string]Value:
		return Map(x), nil
	case Bins:
		return Map(x), nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			converted, err := Of(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = converted
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", v)
	}
}

// MustOf is like Of but panics on unsupported types. Intended for literals.
func MustOf(v any) Value {
	val, err := Of(v)
	if err != nil {
		panic(err)
	}
	return val
}

// BinsOf converts a map of native values into Bins
func BinsOf(m map[string]any) (Bins, error) {
	bins := make(Bins, len(m))
	for k, v := range m {
		val, err := Of(v)
		if err != nil {
			return nil, fmt.Errorf("bin %q: %w", k, err)
		}
		bins[k] = val
	}
	return bins, nil
}

func ofUnsigned(u uint64) (Value, error) {
	if u > math.MaxInt64 {
		return Value{}, fmt.Errorf("unsigned integer %d overflows int64", u)
	}
	return Int(int64(u)), nil
}

// --------------------------------------------------------------------------
// Accessors
// --------------------------------------------------------------------------

// Type returns the discriminant of the value
func (v Value) Type() Type { return v.typ }

// IsNil reports whether the value is nil
func (v Value) IsNil() bool { return v.typ == TypeNil }

// AsInt returns the integer and whether the value is an integer
func (v Value) AsInt() (int64, bool) { return v.i, v.typ == TypeInt }

// AsFloat returns the float and whether the value is a float
func (v Value) AsFloat() (float64, bool) { return v.f, v.typ == TypeFloat }

// AsString returns the string and whether the value is a string
func (v Value) AsString() (string, bool) { return v.s, v.typ == TypeString }

// AsBytes returns the bytes and whether the value is a byte sequence
func (v Value) AsBytes() ([]byte, bool) { return v.b, v.typ == TypeBytes }

// AsList returns the items and whether the value is a list
func (v Value) AsList() ([]Value, bool) { return v.l, v.typ == TypeList }

// AsMap returns the entries and whether the value is a map
func (v Value) AsMap() (map[string]Value, bool) { return v.m, v.typ == TypeMap }

// Interface converts the value back into native Go types: nil, int64,
// float64, string, []byte, []any and map[string]any.
func (v Value) Interface() any {
	switch v.typ {
	case TypeInt:
		return v.i
	case TypeFloat:
		return v.f
	case TypeString:
		return v.s
	case TypeBytes:
		if v.b == nil {
			return []byte{}
		}
		return v.b
	case TypeList:
		items := make([]any, len(v.l))
		for i, item := range v.l {
			items[i] = item.Interface()
		}
		return items
	case TypeMap:
		m := make(map[string]any, len(v.m))
		for k, item := range v.m {
			m[k] = item.Interface()
		}
		return m
	default:
		return nil
	}
}

// Depth returns the nesting depth of the value (scalars have depth 1)
func (v Value) Depth() int {
	depth := 0
	switch v.typ {
	case TypeList:
		for _, item := range v.l {
			depth = max(depth, item.Depth())
		}
	case TypeMap:
		for _, item := range v.m {
			depth = max(depth, item.Depth())
		}
	}
	return depth + 1
}

// Equal reports whether two values are deeply equal. Nil lists/maps and
// empty lists/maps compare equal.
func (v Value) Equal(other Value) bool {
	if v.typ != other.typ {
		return false
	}
	switch v.typ {
	case TypeNil:
		return true
	case TypeInt:
		return v.i == other.i
	case TypeFloat:
		return v.f == other.f || (math.IsNaN(v.f) && math.IsNaN(other.f))
	case TypeString:
		return v.s == other.s
	case TypeBytes:
		return bytes.Equal(v.b, other.b)
	case TypeList:
		if len(v.l) != len(other.l) {
			return false
		}
		for i := range v.l {
			if !v.l[i].Equal(other.l[i]) {
				return false
			}
		}
		return true
	case TypeMap:
		if len(v.m) != len(other.m) {
			return false
		}
		for k, item := range v.m {
			o, ok := other.m[k]
			if !ok || !item.Equal(o) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// String returns a human readable representation of the value
func (v Value) String() string {
	switch v.typ {
	case TypeNil:
		return "nil"
	case TypeInt:
		return strconv.FormatInt(v.i, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case TypeString:
		return strconv.Quote(v.s)
	case TypeBytes:
		return fmt.Sprintf("bytes(%x)", v.b)
	case TypeList:
		parts := make([]string, len(v.l))
		for i, item := range v.l {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case TypeMap:
		return formatMap(v.m)
	default:
		return "unknown"
	}
}

func formatMap(m map[string]Value) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%q: %s", k, m[k].String())
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// --------------------------------------------------------------------------
// Bins helpers
// --------------------------------------------------------------------------

// Equal reports whether two bin maps hold the same bins with equal values
func (b Bins) Equal(other Bins) bool {
	return Map(b).Equal(Map(other))
}

// Select returns a copy of the bins restricted to the given names.
// An empty name list selects all bins.
func (b Bins) Select(names []string) Bins {
	if len(names) == 0 {
		out := make(Bins, len(b))
		for k, v := range b {
			out[k] = v
		}
		return out
	}
	out := make(Bins, len(names))
	for _, name := range names {
		if v, ok := b[name]; ok {
			out[name] = v
		}
	}
	return out
}

// String returns a human readable representation of the bins
func (b Bins) String() string {
	return formatMap(b)
}
