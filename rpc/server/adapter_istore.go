package server

import (
	"context"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/ValentinKolb/rKV/rpc/common"
)

// NewIStoreServerAdapter creates the adapter translating record, query and
// index requests into store.IStore calls
func NewIStoreServerAdapter() IRPCServerAdapter {
	return &iStoreServerAdapterImpl{}
}

type iStoreServerAdapterImpl struct{}

func (adapter *iStoreServerAdapterImpl) Handle(ctx context.Context, namespace string, req *common.Message, s store.IStore, stream StreamFunc) *common.Message {
	// Check for nil store
	if s == nil {
		return common.NewErrorResponse(store.NewError(store.ResultClientError, "handler: store is nil"))
	}

	// Handle different message types
	switch req.MsgType {
	case common.MsgTGet:
		key, err := requestKey(namespace, req)
		if err != nil {
			return common.NewGetResponse(nil, 0, 0, err)
		}
		rec, err := s.Get(ctx, key, nil)
		if err != nil {
			return common.NewGetResponse(nil, 0, 0, err)
		}
		bins, err := value.EncodeBins(rec.Bins)
		if err != nil {
			return common.NewGetResponse(nil, 0, 0, store.NewError(store.ResultSerializeError, err.Error()))
		}
		return common.NewGetResponse(bins, rec.Generation, rec.Expiration, nil)

	case common.MsgTExists:
		key, err := requestKey(namespace, req)
		if err != nil {
			return common.NewExistsResponse(false, err)
		}
		ok, err := s.Exists(ctx, key, nil)
		return common.NewExistsResponse(ok, err)

	case common.MsgTPut:
		key, err := requestKey(namespace, req)
		if err != nil {
			return common.NewPutResponse(err)
		}
		bins, err := value.DecodeBins(req.Value)
		if err != nil {
			return common.NewPutResponse(store.NewError(store.ResultSerializeError, err.Error()))
		}
		return common.NewPutResponse(s.Put(ctx, key, bins, requestPolicy(req)))

	case common.MsgTRemove:
		key, err := requestKey(namespace, req)
		if err != nil {
			return common.NewRemoveResponse(err)
		}
		return common.NewRemoveResponse(s.Remove(ctx, key, requestPolicy(req)))

	case common.MsgTQuery:
		spec, err := store.DecodeQuery(req.Value)
		if err != nil {
			return common.NewQueryResponse(err)
		}
		if spec.Namespace != namespace {
			return common.NewQueryResponse(store.Errorf(store.ResultRequestInvalid,
				"query namespace %q sent to shard of namespace %q", spec.Namespace, namespace))
		}
		err = s.Query(ctx, store.QueryFromSpec(spec), nil, func(row store.Row) error {
			data, err := store.EncodeRow(row)
			if err != nil {
				return err
			}
			return stream(common.NewQueryRowResponse(data))
		})
		return common.NewQueryResponse(err)

	case common.MsgTIndexCreate:
		spec, err := requestIndex(namespace, req)
		if err != nil {
			return common.NewIndexCreateResponse(err)
		}
		return common.NewIndexCreateResponse(s.CreateIndex(ctx, spec, nil))

	case common.MsgTIndexRemove:
		spec, err := requestIndex(namespace, req)
		if err != nil {
			return common.NewIndexRemoveResponse(err)
		}
		return common.NewIndexRemoveResponse(s.RemoveIndex(ctx, spec.Namespace, spec.Name, nil))

	default:
		return common.NewErrorResponse(store.Errorf(store.ResultRequestInvalid,
			"RPC IStoreAdapter - Unsupported message type: %s", req.MsgType))
	}
}

// --------------------------------------------------------------------------
// Helper Functions
// --------------------------------------------------------------------------

// requestKey rebuilds the key of a record request, only the digest is sent
func requestKey(namespace string, req *common.Message) (*store.Key, error) {
	var digest store.Digest
	if len(req.Digest) != store.DigestSize {
		return nil, store.Errorf(store.ResultParameterError, "invalid digest length %d", len(req.Digest))
	}
	copy(digest[:], req.Digest)
	return store.NewKeyWithDigest(namespace, req.Set, digest)
}

// requestPolicy restores the write options of a request
func requestPolicy(req *common.Message) *store.Policy {
	p := store.NewPolicy()
	p.GenerationCheck = req.Flags&common.FlagGenerationCheck != 0
	p.IgnoreNotFound = req.Flags&common.FlagIgnoreNotFound != 0
	p.Generation = req.Generation
	p.Expiration = req.Expiration
	return p
}

func requestIndex(namespace string, req *common.Message) (store.IndexSpec, error) {
	var spec store.IndexSpec
	if err := value.Unmarshal(req.Value, &spec); err != nil {
		return spec, store.Errorf(store.ResultSerializeError, "decode index spec: %v", err)
	}
	if spec.Namespace != namespace {
		return spec, store.Errorf(store.ResultRequestInvalid,
			"index namespace %q sent to shard of namespace %q", spec.Namespace, namespace)
	}
	return spec, nil
}
