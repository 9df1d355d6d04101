package server

import (
	"context"
	"testing"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/db/engines/memory"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/store/lstore"
	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) store.IStore {
	t.Helper()
	s, err := lstore.NewLocalStore(func() (db.KVDB, error) { return memory.NewMemoryDB(), nil }, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func noStream(*common.Message) error { return nil }

func TestIStoreAdapter(t *testing.T) {
	ctx := context.Background()
	adapter := NewIStoreServerAdapter()
	s := newTestStore(t)
	ns := lstore.DefaultNamespace

	key, err := store.NewKey(ns, "demo", "user-1")
	require.NoError(t, err)
	bins, err := value.EncodeBins(value.Bins{"name": value.String("ada"), "age": value.Int(36)})
	require.NoError(t, err)

	t.Run("PutGet", func(t *testing.T) {
		resp := adapter.Handle(ctx, ns, common.NewPutRequest(key, bins, *store.NewPolicy()), s, noStream)
		require.Nil(t, resp.Error())
		assert.Equal(t, common.MsgTPut, resp.MsgType)

		resp = adapter.Handle(ctx, ns, common.NewGetRequest(key), s, noStream)
		require.Nil(t, resp.Error())
		assert.Equal(t, uint32(1), resp.Generation)
		got, err := value.DecodeBins(resp.Value)
		require.NoError(t, err)
		assert.True(t, got.Equal(value.Bins{"name": value.String("ada"), "age": value.Int(36)}))

		resp = adapter.Handle(ctx, ns, common.NewExistsRequest(key), s, noStream)
		require.Nil(t, resp.Error())
		assert.True(t, resp.Ok)
	})

	t.Run("GenerationCheck", func(t *testing.T) {
		p := store.NewPolicy()
		p.GenerationCheck = true
		p.Generation = 7
		resp := adapter.Handle(ctx, ns, common.NewPutRequest(key, bins, *p), s, noStream)
		require.NotNil(t, resp.Error())
		assert.Equal(t, store.ResultGenerationError, resp.Error().Code)
	})

	t.Run("Remove", func(t *testing.T) {
		resp := adapter.Handle(ctx, ns, common.NewRemoveRequest(key, *store.NewPolicy()), s, noStream)
		require.Nil(t, resp.Error())

		resp = adapter.Handle(ctx, ns, common.NewRemoveRequest(key, *store.NewPolicy()), s, noStream)
		assert.Equal(t, store.ResultKeyNotFound, resp.Error().Code)

		p := store.NewPolicy()
		p.IgnoreNotFound = true
		resp = adapter.Handle(ctx, ns, common.NewRemoveRequest(key, *p), s, noStream)
		assert.Nil(t, resp.Error())

		resp = adapter.Handle(ctx, ns, common.NewGetRequest(key), s, noStream)
		assert.Equal(t, store.ResultKeyNotFound, resp.Error().Code)
	})

	t.Run("InvalidDigest", func(t *testing.T) {
		req := common.NewGetRequest(key)
		req.Digest = req.Digest[:5]
		resp := adapter.Handle(ctx, ns, req, s, noStream)
		assert.Equal(t, store.ResultParameterError, resp.Error().Code)
	})

	t.Run("InvalidBins", func(t *testing.T) {
		resp := adapter.Handle(ctx, ns, common.NewPutRequest(key, []byte{0xff, 0x00}, *store.NewPolicy()), s, noStream)
		assert.Equal(t, store.ResultSerializeError, resp.Error().Code)
	})

	t.Run("QueryStreamsRows", func(t *testing.T) {
		indexSpec, err := value.Marshal(store.IndexSpec{Namespace: ns, Set: "demo", Bin: "age", Name: "demo_age", Type: store.IndexNumeric})
		require.NoError(t, err)
		resp := adapter.Handle(ctx, ns, common.NewIndexCreateRequest(indexSpec), s, noStream)
		require.Nil(t, resp.Error())

		for i := 0; i < 3; i++ {
			k, err := store.NewKey(ns, "demo", i)
			require.NoError(t, err)
			b, err := value.EncodeBins(value.Bins{"age": value.Int(int64(20 + i))})
			require.NoError(t, err)
			require.Nil(t, adapter.Handle(ctx, ns, common.NewPutRequest(k, b, *store.NewPolicy()), s, noStream).Error())
		}

		spec, err := store.NewQuery(ns, "demo").Where(store.Between("age", 21, 30)).Snapshot()
		require.NoError(t, err)
		data, err := store.EncodeQuery(spec)
		require.NoError(t, err)

		var rows []store.Row
		resp = adapter.Handle(ctx, ns, common.NewQueryRequest(data), s, func(part *common.Message) error {
			assert.Equal(t, common.MsgTQueryRow, part.MsgType)
			row, err := store.DecodeRow(ns, part.Value)
			require.NoError(t, err)
			rows = append(rows, row)
			return nil
		})
		require.Nil(t, resp.Error())
		assert.Equal(t, common.MsgTQuery, resp.MsgType)
		assert.Len(t, rows, 2)

		resp = adapter.Handle(ctx, ns, common.NewIndexRemoveRequest(indexSpec), s, noStream)
		assert.Nil(t, resp.Error())
	})

	t.Run("QueryNamespaceMismatch", func(t *testing.T) {
		spec, err := store.NewQuery("other", "demo").Snapshot()
		require.NoError(t, err)
		data, err := store.EncodeQuery(spec)
		require.NoError(t, err)
		resp := adapter.Handle(ctx, ns, common.NewQueryRequest(data), s, noStream)
		assert.Equal(t, store.ResultRequestInvalid, resp.Error().Code)
	})

	t.Run("UnsupportedMessage", func(t *testing.T) {
		resp := adapter.Handle(ctx, ns, &common.Message{MsgType: common.MsgTLogin}, s, noStream)
		assert.Equal(t, store.ResultRequestInvalid, resp.Error().Code)
	})
}
