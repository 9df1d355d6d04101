package util

import (
	"testing"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValue(t *testing.T) {
	tests := []struct {
		literal string
		want    value.Value
	}{
		{"42", value.Int(42)},
		{"-7", value.Int(-7)},
		{"4.5", value.Float(4.5)},
		{"true", value.Bool(true)},
		{"abc", value.String("abc")},
		{"안녕하세요", value.String("안녕하세요")},
		{"", value.Nil()},
		{"[1, x]", value.List(value.Int(1), value.String("x"))},
		{"{a: 1, b: [y]}", value.Map(map[string]value.Value{"a": value.Int(1), "b": value.List(value.String("y"))})},
		{"[unclosed", value.String("[unclosed")},
	}
	for _, tt := range tests {
		t.Run(tt.literal, func(t *testing.T) {
			got, err := ParseValue(tt.literal)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}
}

func TestParseBins(t *testing.T) {
	bins, err := ParseBins([]string{"i=1", "s=hello world", "gone="})
	require.NoError(t, err)
	assert.True(t, bins.Equal(value.Bins{"i": value.Int(1), "s": value.String("hello world"), "gone": value.Nil()}))

	_, err = ParseBins([]string{"novalue"})
	assert.Error(t, err)
	_, err = ParseBins([]string{"=1"})
	assert.Error(t, err)
}

func TestParseMembers(t *testing.T) {
	members, err := ParseMembers("node-1=127.0.0.1:3000, node-2=/tmp/rkv-2.sock,")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"node-1": "127.0.0.1:3000", "node-2": "/tmp/rkv-2.sock"}, members)

	members, err = ParseMembers("")
	require.NoError(t, err)
	assert.Empty(t, members)

	_, err = ParseMembers("node-1")
	assert.Error(t, err)
}

func TestParseKey(t *testing.T) {
	intKey, err := ParseKey("test", "demo", "111")
	require.NoError(t, err)
	assert.Equal(t, int64(111), intKey.UserKey())

	strKey, err := ParseKey("test", "demo", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", strKey.UserKey())

	byDigest, err := ParseKey("test", "demo", "digest:"+intKey.Digest().String())
	require.NoError(t, err)
	assert.Equal(t, intKey.Digest(), byDigest.Digest())
	assert.Nil(t, byDigest.UserKey())

	_, err = ParseKey("test", "demo", "digest:zz")
	assert.ErrorIs(t, err, store.ErrInvalidKey)
}
