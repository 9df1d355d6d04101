package testing

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Namespace is the namespace every store under test must serve
const Namespace = "test"

// StoreFactory creates a fresh, empty store serving Namespace. The store is
// closed by the suite.
type StoreFactory func(t *testing.T) store.IStore

// RunStoreTests runs the conformance suite for an IStore implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("PutGet", func(t *testing.T) {
			testPutGet(t, factory(t))
		})

		t.Run("SampleRecord", func(t *testing.T) {
			testSampleRecord(t, factory(t))
		})

		t.Run("MergeBins", func(t *testing.T) {
			testMergeBins(t, factory(t))
		})

		t.Run("Generation", func(t *testing.T) {
			testGeneration(t, factory(t))
		})

		t.Run("Remove", func(t *testing.T) {
			testRemove(t, factory(t))
		})

		t.Run("InvalidRequests", func(t *testing.T) {
			testInvalidRequests(t, factory(t))
		})

		t.Run("ConcurrentPuts", func(t *testing.T) {
			testConcurrentPuts(t, factory(t))
		})

		t.Run("Query", func(t *testing.T) {
			testQuery(t, factory(t))
		})

		t.Run("QueryErrors", func(t *testing.T) {
			testQueryErrors(t, factory(t))
		})

		t.Run("Aggregation", func(t *testing.T) {
			testAggregation(t, factory(t))
		})

		t.Run("AggregationErrors", func(t *testing.T) {
			testAggregationErrors(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

func key(t *testing.T, set string, userKey any) *store.Key {
	t.Helper()
	k, err := store.NewKey(Namespace, set, userKey)
	require.NoError(t, err)
	return k
}

func bins(t *testing.T, m map[string]any) value.Bins {
	t.Helper()
	b, err := value.BinsOf(m)
	require.NoError(t, err)
	return b
}

// SampleBins returns a record with every value kind, nested lists and maps
// and unicode strings
func SampleBins() value.Bins {
	b, err := value.BinsOf(map[string]any{
		"i": 123,
		"f": 3.1415,
		"s": "abc",
		"u": "안녕하세요",
		"b": []byte("bytes"),
		"l": []any{123, "abc", "안녕하세요", []any{"x", "y", "z"}, map[string]any{"x": 1, "y": 2, "z": 3}},
		"m": map[string]any{
			"i": 123,
			"s": "abc",
			"u": "안녕하세요",
			"l": []any{"x", "y", "z"},
			"d": map[string]any{"x": 1, "y": 2, "z": 3},
		},
	})
	if err != nil {
		panic(err)
	}
	return b
}

// seedDemo writes the five demo records and creates the indexes used by the
// query tests
func seedDemo(t *testing.T, s store.IStore) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		err := s.Put(ctx, key(t, "demo", i), bins(t, map[string]any{
			"name":     fmt.Sprintf("name%d", i),
			"addr":     fmt.Sprintf("name%d", i),
			"test_age": i,
			"no":       i,
		}), nil)
		require.NoError(t, err)
	}
	// a record of another set never matches
	require.NoError(t, s.Put(ctx, key(t, "other", 1), bins(t, map[string]any{"test_age": 1, "name": "other"}), nil))

	require.NoError(t, s.CreateIndex(ctx, store.IndexSpec{Namespace: Namespace, Set: "demo", Bin: "test_age", Name: "age_index", Type: store.IndexNumeric}, nil))
	require.NoError(t, s.CreateIndex(ctx, store.IndexSpec{Namespace: Namespace, Set: "demo", Bin: "name", Name: "name_index", Type: store.IndexString}, nil))
}

func collect(t *testing.T, s store.IStore, q *store.Query) ([]store.Row, error) {
	t.Helper()
	var rows []store.Row
	err := s.Query(context.Background(), q, nil, func(row store.Row) error {
		rows = append(rows, row)
		return nil
	})
	return rows, err
}

// singleResult returns the only row of an aggregation as an integer
func singleResult(t *testing.T, rows []store.Row) int64 {
	t.Helper()
	require.Len(t, rows, 1, "aggregation must yield one result for the whole cluster")
	require.True(t, rows[0].IsAggregate())
	i, ok := rows[0].Result.AsInt()
	require.True(t, ok, "expected integer result, got %s", rows[0].Result)
	return i
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testPutGet(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	k := key(t, "demo", "key1")
	_, err := s.Get(ctx, k, nil)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)

	exists, err := s.Exists(ctx, k, nil)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, s.Put(ctx, k, bins(t, map[string]any{"a": 1, "b": "two"}), nil))

	rec, err := s.Get(ctx, k, nil)
	require.NoError(t, err)
	assert.True(t, rec.Key.Equal(k))
	assert.Equal(t, uint32(1), rec.Generation)
	assert.Equal(t, uint32(0), rec.Expiration)
	assert.True(t, rec.Bins.Equal(bins(t, map[string]any{"a": 1, "b": "two"})), "got %s", rec.Bins)

	exists, err = s.Exists(ctx, k, nil)
	require.NoError(t, err)
	assert.True(t, exists)

	// records are owned by the caller
	rec.Bins["a"] = value.Int(99)
	again, err := s.Get(ctx, k, nil)
	require.NoError(t, err)
	assert.True(t, again.Bins["a"].Equal(value.Int(1)))

	// the key built from a digest addresses the same record
	byDigest, err := store.NewKeyWithDigest(Namespace, "demo", k.Digest())
	require.NoError(t, err)
	rec, err = s.Get(ctx, byDigest, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.Generation)

	// expiration is reported as seconds to live
	require.NoError(t, s.Put(ctx, key(t, "demo", "ttl"), bins(t, map[string]any{"a": 1}), &store.Policy{Expiration: 3600}))
	rec, err = s.Get(ctx, key(t, "demo", "ttl"), nil)
	require.NoError(t, err)
	assert.Greater(t, rec.Expiration, uint32(3500))
	assert.LessOrEqual(t, rec.Expiration, uint32(3600))
}

func testSampleRecord(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	k := key(t, "demo", 1)
	sample := SampleBins()
	require.NoError(t, s.Put(ctx, k, sample, nil))

	rec, err := s.Get(ctx, k, nil)
	require.NoError(t, err)
	assert.True(t, rec.Bins.Equal(sample), "got %s, want %s", rec.Bins, sample)
	assert.Equal(t, value.TypeBytes, rec.Bins["b"].Type())
	assert.Equal(t, value.TypeFloat, rec.Bins["f"].Type())
}

func testMergeBins(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	k := key(t, "demo", "merge")
	require.NoError(t, s.Put(ctx, k, bins(t, map[string]any{"a": 1, "b": 2}), nil))
	require.NoError(t, s.Put(ctx, k, value.Bins{"b": value.Nil(), "c": value.Int(3)}, nil))

	rec, err := s.Get(ctx, k, nil)
	require.NoError(t, err)
	assert.True(t, rec.Bins.Equal(bins(t, map[string]any{"a": 1, "c": 3})), "got %s", rec.Bins)
	assert.Equal(t, uint32(2), rec.Generation)

	// removing the last bins removes the record
	require.NoError(t, s.Put(ctx, k, value.Bins{"a": value.Nil(), "c": value.Nil()}, nil))
	_, err = s.Get(ctx, k, nil)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
}

func testGeneration(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	k := key(t, "demo", "gen")

	// generation 0 means the record must not exist yet
	create := &store.Policy{GenerationCheck: true, Generation: 0}
	require.NoError(t, s.Put(ctx, k, bins(t, map[string]any{"v": 1}), create))
	err := s.Put(ctx, k, bins(t, map[string]any{"v": 2}), create)
	assert.ErrorIs(t, err, store.ErrGenerationMismatch)

	require.NoError(t, s.Put(ctx, k, bins(t, map[string]any{"v": 2}), &store.Policy{GenerationCheck: true, Generation: 1}))
	err = s.Put(ctx, k, bins(t, map[string]any{"v": 3}), &store.Policy{GenerationCheck: true, Generation: 1})
	assert.ErrorIs(t, err, store.ErrGenerationMismatch)

	rec, err := s.Get(ctx, k, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), rec.Generation)
	assert.True(t, rec.Bins["v"].Equal(value.Int(2)))
}

func testRemove(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	k := key(t, "demo", "remove")
	err := s.Remove(ctx, k, nil)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)
	require.NoError(t, s.Remove(ctx, k, &store.Policy{IgnoreNotFound: true}))

	require.NoError(t, s.Put(ctx, k, bins(t, map[string]any{"a": 1}), nil))
	require.NoError(t, s.Remove(ctx, k, nil))
	_, err = s.Get(ctx, k, nil)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)

	// a recreated record starts over
	require.NoError(t, s.Put(ctx, k, bins(t, map[string]any{"a": 1}), nil))
	rec, err := s.Get(ctx, k, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.Generation)
}

func testInvalidRequests(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	wrongNs, err := store.NewKey("no_such_namespace", "demo", 1)
	require.NoError(t, err)
	_, err = s.Get(ctx, wrongNs, nil)
	assert.ErrorIs(t, err, store.ErrRequestInvalid)

	deep := value.Int(1)
	for i := 0; i < value.MaxDepth; i++ {
		deep = value.List(deep)
	}
	err = s.Put(ctx, key(t, "demo", 1), value.Bins{"deep": deep}, nil)
	assert.ErrorIs(t, err, store.ErrSerialize)

	err = s.CreateIndex(ctx, store.IndexSpec{Namespace: Namespace, Bin: "a"}, nil)
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}

func testConcurrentPuts(t *testing.T, s store.IStore) {
	defer s.Close()
	ctx := context.Background()

	k := key(t, "demo", "concurrent")
	numWorkers := 8
	putsPerWorker := 25

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < putsPerWorker; i++ {
				if err := s.Put(ctx, k, value.Bins{fmt.Sprintf("w%d", w): value.Int(int64(i))}, nil); err != nil {
					t.Errorf("put failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	rec, err := s.Get(ctx, k, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(numWorkers*putsPerWorker), rec.Generation)
	assert.Len(t, rec.Bins, numWorkers)
}

func testQuery(t *testing.T, s store.IStore) {
	defer s.Close()
	seedDemo(t, s)

	// between is inclusive
	rows, err := collect(t, s, store.NewQuery(Namespace, "demo").Where(store.Between("test_age", 1, 3)))
	require.NoError(t, err)
	assert.Len(t, rows, 3)
	for _, row := range rows {
		require.False(t, row.IsAggregate())
		age, ok := row.Record.Bins["test_age"].AsInt()
		require.True(t, ok)
		assert.True(t, age >= 1 && age <= 3)
		assert.Equal(t, "demo", row.Record.Key.Set())
	}

	// booleans are integers
	rows, err = collect(t, s, store.NewQuery(Namespace, "demo").Where(store.Between("test_age", true, true)))
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	// string equality and bin selection
	rows, err = collect(t, s, store.NewQuery(Namespace, "demo").Select("name").Where(store.Equals("name", "name2")))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Record.Bins.Equal(value.Bins{"name": value.String("name2")}), "got %s", rows[0].Record.Bins)
	assert.True(t, rows[0].Record.Key.Equal(key(t, "demo", 2)))

	// zero matching rows never calls the callback
	called := false
	err = s.Query(context.Background(), store.NewQuery(Namespace, "demo").Where(store.Equals("test_age", 42)), nil, func(store.Row) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.False(t, called)

	// a query is reusable and re-evaluated on every execution
	q := store.NewQuery(Namespace, "demo").Where(store.Between("test_age", 0, 10))
	rows, err = collect(t, s, q)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	require.NoError(t, s.Remove(context.Background(), key(t, "demo", 0), nil))
	rows, err = collect(t, s, q)
	require.NoError(t, err)
	assert.Len(t, rows, 4)

	// the callback can abort the query
	abort := fmt.Errorf("abort")
	err = s.Query(context.Background(), q, nil, func(store.Row) error { return abort })
	assert.Error(t, err)
}

func testQueryErrors(t *testing.T, s store.IStore) {
	defer s.Close()
	seedDemo(t, s)

	_, err := collect(t, s, store.NewQuery("", ""))
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	assert.Equal(t, "query() expects atleast 1 parameter", store.AsError(err).Msg)

	_, err = collect(t, s, store.NewQuery(Namespace, "demo").Where(store.Equals("name", nil)))
	require.ErrorIs(t, err, store.ErrInvalidArgument)
	assert.Equal(t, "predicate is invalid.", store.AsError(err).Msg)

	// no index on bin "no"
	_, err = collect(t, s, store.NewQuery(Namespace, "demo").Where(store.Between("no", 1, 5)))
	require.ErrorIs(t, err, store.ErrIndexNotFound)
	assert.Equal(t, store.ResultIndexNotFound, store.CodeOf(err))

	// index type must match the predicate
	_, err = collect(t, s, store.NewQuery(Namespace, "demo").Where(store.Equals("test_age", "1")))
	assert.ErrorIs(t, err, store.ErrIndexNotFound)

	_, err = collect(t, s, store.NewQuery("test1", "demo1").Where(store.Between("test_age", 1, 5)))
	require.ErrorIs(t, err, store.ErrRequestInvalid)
	assert.Equal(t, store.ResultRequestInvalid, store.CodeOf(err))

	// removed indexes are gone
	require.NoError(t, s.RemoveIndex(context.Background(), Namespace, "age_index", nil))
	require.NoError(t, s.RemoveIndex(context.Background(), Namespace, "age_index", nil))
	_, err = collect(t, s, store.NewQuery(Namespace, "demo").Where(store.Between("test_age", 1, 5)))
	assert.ErrorIs(t, err, store.ErrIndexNotFound)
}

func testAggregation(t *testing.T, s store.IStore) {
	defer s.Close()
	seedDemo(t, s)

	count := store.NewQuery(Namespace, "demo").Select("name", "test_age").
		Where(store.Between("test_age", 1, 5)).Apply("stream_example", "count")

	// repeated executions yield the same result
	for i := 0; i < 2; i++ {
		rows, err := collect(t, s, count)
		require.NoError(t, err)
		assert.Equal(t, int64(4), singleResult(t, rows))
	}

	// extra arguments are tolerated
	rows, err := collect(t, s, store.NewQuery(Namespace, "demo").
		Where(store.Between("test_age", 1, 5)).Apply("stream_example", "count", nil))
	require.NoError(t, err)
	assert.Equal(t, int64(4), singleResult(t, rows))

	rows, err = collect(t, s, store.NewQuery(Namespace, "demo").
		Where(store.Between("test_age", 0, 5)).Apply("stream_example", "sum", "test_age"))
	require.NoError(t, err)
	assert.Equal(t, int64(0+1+2+3+4), singleResult(t, rows))

	rows, err = collect(t, s, store.NewQuery(Namespace, "demo").
		Where(store.Between("test_age", 0, 5)).Apply("stream_example", "group_count", "name", "addr"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].IsAggregate())
	assert.True(t, rows[0].Result.Equal(value.Map(map[string]value.Value{
		"name0": value.Int(1), "name1": value.Int(1), "name2": value.Int(1), "name3": value.Int(1), "name4": value.Int(1),
	})), "got %s", rows[0].Result)

	// no matching records, no rows
	rows, err = collect(t, s, store.NewQuery(Namespace, "demo").
		Where(store.Equals("test_age", 42)).Apply("stream_example", "count"))
	require.NoError(t, err)
	assert.Empty(t, rows)

	// empty module and function means no aggregation
	rows, err = collect(t, s, store.NewQuery(Namespace, "demo").
		Where(store.Equals("test_age", 1)).Apply("", ""))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsAggregate())
}

func testAggregationErrors(t *testing.T, s store.IStore) {
	defer s.Close()
	seedDemo(t, s)

	base := func() *store.Query {
		return store.NewQuery(Namespace, "demo").Where(store.Between("test_age", 1, 5))
	}

	testCases := []struct {
		name  string
		query *store.Query
		diag  store.Diagnostic
	}{
		{"module not found", base().Apply("streamwrong", "count"), store.DiagModuleNotFound},
		{"function not found", base().Apply("stream_example", "countno"), store.DiagFunctionNotFound},
		{"too few arguments", base().Apply("stream_example", "sum"), store.DiagTooFewArguments},
		{"argument type mismatch", base().Apply("stream_example", "sum", 5), store.DiagExecution},
		{"runtime failure", base().Apply("stream_example", "sum", "name"), store.DiagExecution},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := collect(t, s, tc.query)
			require.ErrorIs(t, err, store.ErrAggregation)
			e := store.AsError(err)
			assert.Equal(t, store.ResultUDFError, e.Code)
			assert.Equal(t, tc.diag, e.Diagnostic)
		})
	}

	_, err := collect(t, s, base().Apply("stream_example", "count", make(chan int)))
	assert.ErrorIs(t, err, store.ErrInvalidArgument)
}
