// Package value implements the bin value model of rKV records.
//
// A Value is a tagged variant over nil, integer, float, string, bytes,
// list and map. Lists and maps nest recursively; booleans are stored as
// the integers 0 and 1. Bins maps bin names to values and forms the
// payload of a record.
//
// Values are validated at the serialization boundary rather than at
// construction: EncodeValue and EncodeBins reject values nested deeper
// than MaxDepth. The codec uses canonical CBOR (fxamacker/cbor), so equal
// bins always encode to equal bytes and byte sequences stay distinct from
// strings across the wire.
//
// Usage:
//
//	bins, _ := value.BinsOf(map[string]any{
//	  "i": 123,
//	  "f": 3.1415,
//	  "l": []any{123, "abc", []any{"x", "y"}},
//	  "m": map[string]any{"x": 1},
//	})
//	data, _ := value.EncodeBins(bins)
//	decoded, _ := value.DecodeBins(data)
//	decoded.Equal(bins) // true
package value
