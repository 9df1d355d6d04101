package value

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// MaxDepth is the maximum nesting depth of a value accepted by the codec
const MaxDepth = 32

var (
	// ErrTooDeep is returned when a value exceeds MaxDepth
	ErrTooDeep = errors.New("value exceeds maximum nesting depth")

	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// canonical encoding keeps map keys sorted, so equal bins encode to equal bytes
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType:  reflect.TypeOf(map[string]any(nil)),
		MaxNestedLevels: 2*MaxDepth + 8,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// --------------------------------------------------------------------------
// Public codec functions
// --------------------------------------------------------------------------

// Marshal encodes any CBOR compatible structure (including Values and Bins)
// using the canonical encoding shared by client and server.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data produced by Marshal into v
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeValue validates and encodes a single value
func EncodeValue(v Value) ([]byte, error) {
	if v.Depth() > MaxDepth {
		return nil, ErrTooDeep
	}
	return encMode.Marshal(v)
}

// DecodeValue decodes a single value
func DecodeValue(data []byte) (Value, error) {
	var v Value
	if err := decMode.Unmarshal(data, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// EncodeBins validates and encodes a bin map
func EncodeBins(bins Bins) ([]byte, error) {
	if err := ValidateBins(bins); err != nil {
		return nil, err
	}
	if bins == nil {
		bins = Bins{}
	}
	return encMode.Marshal(bins)
}

// DecodeBins decodes a bin map
func DecodeBins(data []byte) (Bins, error) {
	bins := Bins{}
	if len(data) == 0 {
		return bins, nil
	}
	if err := decMode.Unmarshal(data, &bins); err != nil {
		return nil, err
	}
	return bins, nil
}

// ValidateBins checks names and nesting depth of all bins
func ValidateBins(bins Bins) error {
	for name, v := range bins {
		if name == "" {
			return errors.New("bin name must not be empty")
		}
		if v.Depth() > MaxDepth {
			return fmt.Errorf("bin %q: %w", name, ErrTooDeep)
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// CBOR integration
// --------------------------------------------------------------------------

// MarshalCBOR implements cbor.Marshaler
func (v Value) MarshalCBOR() ([]byte, error) {
	return encMode.Marshal(v.Interface())
}

// UnmarshalCBOR implements cbor.Unmarshaler
func (v *Value) UnmarshalCBOR(data []byte) error {
	var native any
	if err := decMode.Unmarshal(data, &native); err != nil {
		return err
	}
	converted, err := fromDecoded(native, 1)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

// fromDecoded converts the generic output of the CBOR decoder into a Value
func fromDecoded(native any, depth int) (Value, error) {
	if depth > MaxDepth {
		return Value{}, ErrTooDeep
	}
	switch x := native.(type) {
	case nil:
		return Nil(), nil
	case bool:
		return Bool(x), nil
	case uint64:
		if x > math.MaxInt64 {
			return Value{}, fmt.Errorf("integer %d overflows int64", x)
		}
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case float64:
		return Float(x), nil
	case float32:
		return Float(float64(x)), nil
	case string:
		return String(x), nil
	case []byte:
		return Bytes(x), nil
	case []any:
		items := make([]Value, len(x))
		for i, item := range x {
			converted, err := fromDecoded(item, depth+1)
			if err != nil {
				return Value{}, err
			}
			items[i] = converted
		}
		return List(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(x))
		for k, item := range x {
			converted, err := fromDecoded(item, depth+1)
			if err != nil {
				return Value{}, err
			}
			m[k] = converted
		}
		return Map(m), nil
	default:
		return Value{}, fmt.Errorf("unsupported encoded type %T", native)
	}
}
