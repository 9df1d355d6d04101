package lstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/bolt"
	"github.com/ValentinKolb/rKV/lib/db/engines/memory"
	"github.com/ValentinKolb/rKV/lib/store"
	storetesting "github.com/ValentinKolb/rKV/lib/store/testing"
	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryFactory() (db.KVDB, error) {
	return memory.NewMemoryDB(), nil
}

func TestLocalStore(t *testing.T) {
	storetesting.RunStoreTests(t, "Memory", func(t *testing.T) store.IStore {
		s, err := NewLocalStore(memoryFactory, nil)
		require.NoError(t, err)
		return s
	})

	dir := t.TempDir()
	var n atomic.Int64
	storetesting.RunStoreTests(t, "Bolt", func(t *testing.T) store.IStore {
		path := filepath.Join(dir, fmt.Sprintf("store-%d.db", n.Add(1)))
		s, err := NewLocalStore(func() (db.KVDB, error) {
			return bolt.NewBoltDB(path, &bolt.Options{NoSync: true})
		}, nil)
		require.NoError(t, err)
		return s
	})
}

func TestExpiration(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }

	s, err := NewLocalStore(memoryFactory, &Options{Now: clock})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	key, err := store.NewKey("test", "demo", "expiring")
	require.NoError(t, err)

	require.NoError(t, s.Put(ctx, key, value.Bins{"a": value.Int(1)}, &store.Policy{Expiration: 10}))

	now = now.Add(4 * time.Second)
	rec, err := s.Get(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), rec.Expiration)

	now = now.Add(6 * time.Second)
	_, err = s.Get(ctx, key, nil)
	assert.ErrorIs(t, err, store.ErrRecordNotFound)

	// an expired record is absent for writes as well
	require.NoError(t, s.Put(ctx, key, value.Bins{"b": value.Int(2)}, nil))
	rec, err = s.Get(ctx, key, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), rec.Generation)
	assert.True(t, rec.Bins.Equal(value.Bins{"b": value.Int(2)}))
	assert.Equal(t, uint32(0), rec.Expiration)
}

func TestIndexesSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "indexes.db")
	factory := func() (db.KVDB, error) { return bolt.NewBoltDB(path, nil) }
	ctx := context.Background()

	s, err := NewLocalStore(factory, nil)
	require.NoError(t, err)
	spec := store.IndexSpec{Namespace: "test", Set: "demo", Bin: "age", Name: "age_index", Type: store.IndexNumeric}
	require.NoError(t, s.CreateIndex(ctx, spec, nil))
	// same definition again is fine, a conflicting one is not
	require.NoError(t, s.CreateIndex(ctx, spec, nil))
	conflicting := spec
	conflicting.Bin = "other"
	assert.ErrorIs(t, s.CreateIndex(ctx, conflicting, nil), store.ErrRequestInvalid)
	require.NoError(t, s.Close())

	s, err = NewLocalStore(factory, nil)
	require.NoError(t, err)
	defer s.Close()

	err = s.Query(ctx, store.NewQuery("test", "demo").Where(store.Between("age", 0, 1)), nil, func(store.Row) error { return nil })
	assert.NoError(t, err)
}

func TestInvalidNamespaces(t *testing.T) {
	_, err := NewLocalStore(memoryFactory, &Options{Namespaces: []string{"__indexes"}})
	assert.ErrorIs(t, err, store.ErrInvalidArgument)

	s, err := NewLocalStore(memoryFactory, &Options{Namespaces: []string{"bar", "foo"}})
	require.NoError(t, err)
	defer s.Close()

	key, err := store.NewKey("test", "demo", 1)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Put(context.Background(), key, value.Bins{"a": value.Int(1)}, nil), store.ErrRequestInvalid)
}

func TestCanceledContext(t *testing.T) {
	s, err := NewLocalStore(memoryFactory, nil)
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	key, err := store.NewKey("test", "demo", 1)
	require.NoError(t, err)
	_, err = s.Get(ctx, key, nil)
	assert.ErrorIs(t, err, store.ErrTimeout)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"stream_example"}, r.Modules())

	agg, reducer, err := r.Prepare(&store.Aggregation{Module: "stream_example", Function: "group_count", Args: []value.Value{value.String("name")}})
	require.NoError(t, err)
	assert.Equal(t, store.ReduceAdd, reducer)
	require.NoError(t, agg.Add(value.Bins{"name": value.String("a")}))
	require.NoError(t, agg.Add(value.Bins{"name": value.String("a")}))
	require.NoError(t, agg.Add(value.Bins{"name": value.Int(1)}))
	results := agg.Results()
	require.Len(t, results, 1)
	assert.True(t, results[0].Equal(value.Map(map[string]value.Value{"a": value.Int(2)})))

	_, _, err = r.Prepare(&store.Aggregation{Module: "stream_example", Function: "countno"})
	require.Error(t, err)
	assert.Equal(t, "UDF: Execution Error 2 : function not found", store.AsError(err).Msg)
}
