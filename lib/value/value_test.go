package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sampleBins mirrors the record written by the async example
func sampleBins(t *testing.T) Bins {
	bins, err := BinsOf(map[string]any{
		"i": 123,
		"f": 3.1415,
		"s": "abc",
		"u": "안녕하세요",
		"b": []byte("def"),
		"l": []any{123, "abc", "안녕하세요", []any{"x", "y", "z"}, map[string]any{"x": 1, "y": 2, "z": 3}},
		"m": map[string]any{
			"i": 123,
			"s": "abc",
			"u": "안녕하세요",
			"l": []any{"x", "y", "z"},
			"d": map[string]any{"x": 1, "y": 2, "z": 3},
		},
	})
	require.NoError(t, err)
	return bins
}

func TestBinsRoundTrip(t *testing.T) {
	bins := sampleBins(t)

	data, err := EncodeBins(bins)
	require.NoError(t, err)

	decoded, err := DecodeBins(data)
	require.NoError(t, err)
	assert.True(t, decoded.Equal(bins), "decoded %s, want %s", decoded, bins)

	// canonical encoding is deterministic
	again, err := EncodeBins(decoded)
	require.NoError(t, err)
	assert.Equal(t, data, again)
}

func TestValueKindsSurviveEncoding(t *testing.T) {
	testCases := []struct {
		name string
		val  Value
	}{
		{"nil", Nil()},
		{"negative int", Int(-42)},
		{"max int", Int(1<<63 - 1)},
		{"integral float", Float(2)},
		{"empty string", String("")},
		{"empty bytes", Bytes(nil)},
		{"bytes vs string", Bytes([]byte("abc"))},
		{"empty list", List()},
		{"empty map", Map(nil)},
		{"nested", List(Map(map[string]Value{"a": List(Int(1), Float(1.5))}))},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := EncodeValue(tc.val)
			require.NoError(t, err)
			decoded, err := DecodeValue(data)
			require.NoError(t, err)
			assert.Equal(t, tc.val.Type(), decoded.Type())
			assert.True(t, decoded.Equal(tc.val), "decoded %s, want %s", decoded, tc.val)
		})
	}
}

func TestOf(t *testing.T) {
	v, err := Of(true)
	require.NoError(t, err)
	i, ok := v.AsInt()
	assert.True(t, ok)
	assert.Equal(t, int64(1), i)

	v, err = Of(uint8(7))
	require.NoError(t, err)
	assert.True(t, v.Equal(Int(7)))

	_, err = Of(uint64(1 << 63))
	assert.Error(t, err)

	_, err = Of(struct{}{})
	assert.Error(t, err)

	_, err = Of(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}

func TestDepthIsValidatedAtEncoding(t *testing.T) {
	deep := Int(1)
	for i := 0; i < MaxDepth; i++ {
		deep = List(deep)
	}
	assert.Equal(t, MaxDepth+1, deep.Depth())

	// construction is fine, encoding is not
	_, err := EncodeValue(deep)
	assert.ErrorIs(t, err, ErrTooDeep)

	_, err = EncodeBins(Bins{"deep": deep})
	assert.ErrorIs(t, err, ErrTooDeep)

	_, err = EncodeBins(Bins{"": Int(1)})
	assert.Error(t, err)
}

func TestEqual(t *testing.T) {
	assert.False(t, Int(1).Equal(Float(1)))
	assert.False(t, String("a").Equal(Bytes([]byte("a"))))
	assert.False(t, List(Int(1)).Equal(List(Int(1), Int(2))))
	assert.False(t, Map(map[string]Value{"a": Int(1)}).Equal(Map(map[string]Value{"b": Int(1)})))
	assert.True(t, Bins{"a": Int(1)}.Equal(Bins{"a": Int(1)}))
}

func TestSelect(t *testing.T) {
	bins := Bins{"a": Int(1), "b": Int(2), "c": Int(3)}
	assert.Len(t, bins.Select(nil), 3)
	selected := bins.Select([]string{"a", "missing"})
	assert.Len(t, selected, 1)
	assert.True(t, selected["a"].Equal(Int(1)))
}
