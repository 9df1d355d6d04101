package store

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDigest(t *testing.T) {
	testCases := []struct {
		name      string
		set       string
		userKey   any
		digest    string
		partition uint32
	}{
		{"string key", "demo", "key1", "ec91192d4b7f8ce35d5d78d34bca65cbaaaac960", 492},
		{"integer key", "demo", 1, "b7f4b83889e2da67de683e1df6919a1eacc446c8", 1207},
		{"int64 key", "demo", int64(1), "b7f4b83889e2da67de683e1df6919a1eacc446c8", 1207},
		{"value key", "demo", value.Int(1), "b7f4b83889e2da67de683e1df6919a1eacc446c8", 1207},
		{"uint64 key", "demo", uint64(1), "b7f4b83889e2da67de683e1df6919a1eacc446c8", 1207},
		{"uint key", "demo", uint(1), "b7f4b83889e2da67de683e1df6919a1eacc446c8", 1207},
		{"empty set", "", "key1", "579f05ecf9e6a9e796f4da2ab0b1323364df5c10", 0},
		{"bytes key", "demo", []byte("key1"), "c3d9ee7252bb75fdd6172ac69dc44cb31fbe2c2a", 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := ComputeDigest(tc.set, tc.userKey)
			require.NoError(t, err)
			assert.Equal(t, tc.digest, d.String())

			key, err := NewKey("test", tc.set, tc.userKey)
			require.NoError(t, err)
			assert.Equal(t, d, key.Digest())
			if tc.partition != 0 {
				assert.Equal(t, tc.partition, key.PartitionID())
			}
			assert.Less(t, key.PartitionID(), uint32(PartitionCount))
		})
	}
}

func TestNamespaceIsNotPartOfDigest(t *testing.T) {
	a, err := NewKey("ns1", "demo", "k")
	require.NoError(t, err)
	b, err := NewKey("ns2", "demo", "k")
	require.NoError(t, err)
	assert.Equal(t, a.Digest(), b.Digest())
	assert.False(t, a.Equal(b))
}

func TestInvalidKeys(t *testing.T) {
	for _, userKey := range []any{nil, 1.5, true, []any{1}, map[string]any{}, value.Float(1), uint64(math.MaxUint64), uint(math.MaxInt64) + 1} {
		_, err := NewKey("test", "demo", userKey)
		assert.ErrorIs(t, err, ErrInvalidKey, "user key %v (%T)", userKey, userKey)
	}

	_, err := NewKey("", "demo", "k")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// a set containing a particle byte could collide with another set and key
	_, err = NewKey("test", "x\x03y", "z")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = ComputeDigest("demo\n", "z")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyWithDigest(t *testing.T) {
	key, err := NewKey("test", "demo", "key1")
	require.NoError(t, err)

	d, err := ParseDigest(key.Digest().String())
	require.NoError(t, err)
	other, err := NewKeyWithDigest("test", "demo", d)
	require.NoError(t, err)
	assert.True(t, key.Equal(other))
	assert.Nil(t, other.UserKey())

	_, err = ParseDigest("abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestErrorKinds(t *testing.T) {
	testCases := []struct {
		code    ResultCode
		kind    error
		connErr bool
		retry   bool
	}{
		{ResultKeyNotFound, ErrRecordNotFound, false, false},
		{ResultGenerationError, ErrGenerationMismatch, false, false},
		{ResultClusterUnavailable, ErrConnection, true, false},
		{ResultInvalidCredential, ErrAuthentication, true, false},
		{ResultConnectionClosed, ErrConnectionClosed, true, false},
		{ResultServerNotAvailable, ErrConnection, true, true},
		{ResultNetworkError, ErrNetwork, false, true},
		{ResultTimeout, ErrTimeout, false, false},
		{ResultUDFError, ErrAggregation, false, false},
		{ResultIndexNotFound, ErrIndexNotFound, false, false},
		{ResultParameterError, ErrInvalidArgument, false, false},
	}

	for _, tc := range testCases {
		t.Run(tc.code.String(), func(t *testing.T) {
			var err error = NewError(tc.code, "boom")
			assert.ErrorIs(t, err, tc.kind)
			assert.Equal(t, tc.connErr, errors.Is(err, ErrConnection))
			assert.Equal(t, tc.retry, IsRetryable(err))
			assert.Equal(t, tc.code, CodeOf(err))
			assert.ErrorIs(t, err, &Error{Code: tc.code})
		})
	}

	assert.Equal(t, ResultClientError, CodeOf(errors.New("plain")))
	assert.Equal(t, ResultOK, CodeOf(nil))
}

func TestPolicyResolve(t *testing.T) {
	defaults := &Policy{TotalTimeout: 2 * time.Second, SocketTimeout: 500 * time.Millisecond, RetryCount: 3}

	resolved := (*Policy)(nil).Resolve(defaults)
	assert.Equal(t, *defaults, resolved)

	p := &Policy{RetryCount: 1, Expiration: 10}
	resolved = p.Resolve(defaults)
	assert.Equal(t, 2*time.Second, resolved.TotalTimeout)
	assert.Equal(t, 500*time.Millisecond, resolved.SocketTimeout)
	assert.Equal(t, 1, resolved.RetryCount)
	assert.Equal(t, uint32(10), resolved.Expiration)
	// the input is never modified
	assert.Zero(t, p.TotalTimeout)

	// an unset retry count inherits the default, NoRetry disables retries
	resolved = (&Policy{TotalTimeout: time.Second}).Resolve(defaults)
	assert.Equal(t, 3, resolved.RetryCount)
	assert.Equal(t, time.Second, resolved.TotalTimeout)
	resolved = (&Policy{RetryCount: NoRetry}).Resolve(defaults)
	assert.Equal(t, 0, resolved.RetryCount)

	assert.Equal(t, 500*time.Millisecond, resolved.AttemptTimeout(time.Second))
	assert.Equal(t, 100*time.Millisecond, resolved.AttemptTimeout(100*time.Millisecond))
	assert.Equal(t, time.Second, Policy{}.AttemptTimeout(time.Second))
}

func TestQuerySnapshot(t *testing.T) {
	_, err := NewQuery("", "demo").Snapshot()
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewQuery("test", "demo").Where(Equals("age", nil)).Snapshot()
	require.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, "predicate is invalid.", AsError(err).Msg)

	_, err = NewQuery("test", "demo").Where(Between("age", 1.5, 2)).Snapshot()
	assert.ErrorIs(t, err, ErrInvalidArgument)

	q := NewQuery("test", "demo").Select("name").Where(Between("test_age", true, true)).Apply("stream_example", "count")
	spec, err := q.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, int64(1), spec.Predicate.Low)
	assert.Equal(t, int64(1), spec.Predicate.High)

	// later changes do not leak into the snapshot
	q.Select("other").Apply("", "")
	assert.Equal(t, []string{"name"}, spec.Bins)
	require.NotNil(t, spec.Aggregation)

	data, err := EncodeQuery(spec)
	require.NoError(t, err)
	decoded, err := DecodeQuery(data)
	require.NoError(t, err)
	assert.Equal(t, spec.Namespace, decoded.Namespace)
	assert.Equal(t, spec.Bins, decoded.Bins)
	assert.Equal(t, *spec.Predicate, *decoded.Predicate)
	assert.Equal(t, "count", decoded.Aggregation.Function)
}

func TestPredicateMatches(t *testing.T) {
	assert.True(t, Equals("a", "x").Matches(value.String("x")))
	assert.False(t, Equals("a", "x").Matches(value.Bytes([]byte("x"))))
	assert.True(t, Equals("a", true).Matches(value.Int(1)))
	assert.True(t, Between("a", 1, 3).Matches(value.Int(3)))
	assert.False(t, Between("a", 1, 3).Matches(value.Int(4)))
	assert.False(t, Between("a", 1, 3).Matches(value.String("2")))
	assert.Equal(t, IndexString, Equals("a", "x").IndexType())
	assert.Equal(t, IndexNumeric, Equals("a", 1).IndexType())
}

func TestRowEncoding(t *testing.T) {
	key, err := NewKey("test", "demo", "key1")
	require.NoError(t, err)
	row := Row{Record: &Record{Key: key, Bins: value.Bins{"a": value.Int(1)}, Generation: 2}}

	data, err := EncodeRow(row)
	require.NoError(t, err)
	decoded, err := DecodeRow("test", data)
	require.NoError(t, err)
	require.False(t, decoded.IsAggregate())
	assert.True(t, decoded.Record.Key.Equal(key))
	assert.True(t, decoded.Record.Bins.Equal(row.Record.Bins))
	assert.Equal(t, uint32(2), decoded.Record.Generation)

	data, err = EncodeRow(Row{Result: value.Nil()})
	require.NoError(t, err)
	decoded, err = DecodeRow("test", data)
	require.NoError(t, err)
	assert.True(t, decoded.IsAggregate())
	assert.True(t, decoded.Result.IsNil())
}

func TestReducer(t *testing.T) {
	t.Run("Add", func(t *testing.T) {
		sum, err := ReduceAdd.Merge(value.Int(1), value.Int(3))
		require.NoError(t, err)
		assert.True(t, sum.Equal(value.Int(4)))

		a := value.Map(map[string]value.Value{"x": value.Int(1), "y": value.Int(2)})
		b := value.Map(map[string]value.Value{"y": value.Int(3), "z": value.Int(4)})
		merged, err := ReduceAdd.Merge(a, b)
		require.NoError(t, err)
		assert.True(t, merged.Equal(value.Map(map[string]value.Value{
			"x": value.Int(1), "y": value.Int(5), "z": value.Int(4),
		})), "got %s", merged)
	})

	t.Run("Mismatch", func(t *testing.T) {
		_, err := ReduceAdd.Merge(value.Int(1), value.String("a"))
		require.ErrorIs(t, err, ErrAggregation)
		assert.Equal(t, DiagExecution, AsError(err).Diagnostic)

		_, err = ReduceAdd.Merge(
			value.Map(map[string]value.Value{"x": value.Int(1)}),
			value.Map(map[string]value.Value{"x": value.String("a")}))
		assert.ErrorIs(t, err, ErrAggregation)

		_, err = ReduceNone.Merge(value.Int(1), value.Int(1))
		assert.Error(t, err)
	})

	t.Run("Wire", func(t *testing.T) {
		data, err := EncodeRow(Row{Result: value.Int(7), Reduce: ReduceAdd})
		require.NoError(t, err)
		decoded, err := DecodeRow("test", data)
		require.NoError(t, err)
		assert.Equal(t, ReduceAdd, decoded.Reduce)
		assert.True(t, decoded.Result.Equal(value.Int(7)))
	})
}
