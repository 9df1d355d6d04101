package lstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("store")

// DefaultNamespace is served if no namespaces are configured
const DefaultNamespace = "test"

// systemPrefix is reserved for internal buckets
const systemPrefix = "__"

// Options configures the local store
type Options struct {
	Namespaces []string         // Namespaces served by the store (nil = DefaultNamespace)
	Registry   *Registry        // Aggregation functions (nil = DefaultRegistry)
	Now        func() time.Time // Clock used for record expiration (nil = time.Now)
}

type storeImpl struct {
	db         db.KVDB
	namespaces map[string]struct{}
	indexes    *indexRegistry
	registry   *Registry
	now        func() time.Time
}

// storedRecord is the representation of a record inside the database
type storedRecord struct {
	Set        string     `cbor:"1,keyasint"`
	Bins       value.Bins `cbor:"2,keyasint"`
	Generation uint32     `cbor:"3,keyasint"`
	ExpiresAt  int64      `cbor:"4,keyasint,omitempty"` // unix seconds, 0 = never
}

// NewLocalStore creates a new local store instance.
// This store implementation is not distributed and only works on a single node.
// Records of every namespace are kept in their own bucket of the db created by factory.
func NewLocalStore(factory store.DBFactory, opts *Options) (store.IStore, error) {
	if opts == nil {
		opts = &Options{}
	}
	names := opts.Namespaces
	if len(names) == 0 {
		names = []string{DefaultNamespace}
	}
	namespaces := make(map[string]struct{}, len(names))
	for _, ns := range names {
		if ns == "" || strings.HasPrefix(ns, systemPrefix) {
			return nil, store.Errorf(store.ResultParameterError, "invalid namespace name %q", ns)
		}
		namespaces[ns] = struct{}{}
	}

	database, err := factory()
	if err != nil {
		return nil, store.Errorf(store.ResultClientError, "create database: %v", err)
	}
	if !database.SupportsFeature(db.FeatureGet | db.FeatureUpdate | db.FeatureForEach) {
		_ = database.Close()
		return nil, store.NewError(store.ResultClientError, "database does not support Get, Update and ForEach")
	}

	indexes, err := loadIndexes(database)
	if err != nil {
		_ = database.Close()
		return nil, err
	}
	Logger.Debugf("Opened local store with namespaces %v and %d indexes", names, indexes.len())

	s := &storeImpl{
		db:         database,
		namespaces: namespaces,
		indexes:    indexes,
		registry:   opts.Registry,
		now:        opts.Now,
	}
	if s.registry == nil {
		s.registry = DefaultRegistry()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *storeImpl) checkNamespace(ns string) error {
	if _, ok := s.namespaces[ns]; !ok {
		return store.Errorf(store.ResultRequestInvalid, "namespace %q not found", ns)
	}
	return nil
}

func (s *storeImpl) checkKey(ctx context.Context, key *store.Key) error {
	if err := ctx.Err(); err != nil {
		return store.Errorf(store.ResultTimeout, "%v", err)
	}
	if key == nil {
		return store.NewError(store.ResultParameterError, "key must not be nil")
	}
	return s.checkNamespace(key.Namespace())
}

func dbError(err error) error {
	if err == nil {
		return nil
	}
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		return storeErr
	}
	return store.Errorf(store.ResultClientError, "database: %v", err)
}

// decode decodes a stored record and reports whether it is still alive
func (s *storeImpl) decode(raw []byte) (storedRecord, bool, error) {
	var rec storedRecord
	if err := value.Unmarshal(raw, &rec); err != nil {
		return rec, false, store.Errorf(store.ResultSerializeError, "decode record: %v", err)
	}
	if rec.ExpiresAt != 0 && rec.ExpiresAt <= s.now().Unix() {
		return rec, false, nil
	}
	return rec, true, nil
}

// ttl returns the remaining seconds to live of a record (0 = never expires)
func (s *storeImpl) ttl(rec storedRecord) uint32 {
	if rec.ExpiresAt == 0 {
		return 0
	}
	remaining := rec.ExpiresAt - s.now().Unix()
	if remaining < 1 {
		remaining = 1
	}
	return uint32(remaining)
}

func (s *storeImpl) toRecord(key *store.Key, rec storedRecord) *store.Record {
	bins := rec.Bins
	if bins == nil {
		bins = value.Bins{}
	}
	return &store.Record{Key: key, Bins: bins, Generation: rec.Generation, Expiration: s.ttl(rec)}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Get(ctx context.Context, key *store.Key, _ *store.Policy) (*store.Record, error) {
	if err := s.checkKey(ctx, key); err != nil {
		return nil, err
	}
	digest := key.Digest()
	raw, ok, err := s.db.Get(key.Namespace(), digest[:])
	if err != nil {
		return nil, dbError(err)
	}
	if !ok {
		return nil, store.NewError(store.ResultKeyNotFound, "record not found")
	}
	rec, alive, err := s.decode(raw)
	if err != nil {
		return nil, err
	}
	if !alive {
		return nil, store.NewError(store.ResultKeyNotFound, "record not found")
	}
	return s.toRecord(key, rec), nil
}

func (s *storeImpl) Exists(ctx context.Context, key *store.Key, policy *store.Policy) (bool, error) {
	_, err := s.Get(ctx, key, policy)
	switch {
	case err == nil:
		return true, nil
	case store.CodeOf(err) == store.ResultKeyNotFound:
		return false, nil
	default:
		return false, err
	}
}

func (s *storeImpl) Put(ctx context.Context, key *store.Key, bins value.Bins, policy *store.Policy) error {
	if err := s.checkKey(ctx, key); err != nil {
		return err
	}
	if err := value.ValidateBins(bins); err != nil {
		return store.NewError(store.ResultSerializeError, err.Error())
	}
	p := policy.Resolve(nil)
	digest := key.Digest()

	err := s.db.Update(key.Namespace(), digest[:], func(old []byte, exists bool) ([]byte, bool, error) {
		var current storedRecord
		alive := false
		if exists {
			var err error
			if current, alive, err = s.decode(old); err != nil {
				return nil, false, err
			}
		}
		if !alive {
			current = storedRecord{Bins: value.Bins{}}
		}
		if p.GenerationCheck && current.Generation != p.Generation {
			return nil, false, store.Errorf(store.ResultGenerationError, "generation mismatch: expected %d, stored %d", p.Generation, current.Generation)
		}

		merged := make(value.Bins, len(current.Bins)+len(bins))
		for name, v := range current.Bins {
			merged[name] = v
		}
		for name, v := range bins {
			if v.IsNil() {
				delete(merged, name)
			} else {
				merged[name] = v
			}
		}
		if len(merged) == 0 {
			// a record without bins does not exist
			return nil, true, nil
		}

		next := storedRecord{Set: key.Set(), Bins: merged, Generation: current.Generation + 1}
		if p.Expiration > 0 {
			next.ExpiresAt = s.now().Unix() + int64(p.Expiration)
		}
		raw, err := value.Marshal(next)
		if err != nil {
			return nil, false, store.Errorf(store.ResultSerializeError, "encode record: %v", err)
		}
		return raw, false, nil
	})
	return dbError(err)
}

func (s *storeImpl) Remove(ctx context.Context, key *store.Key, policy *store.Policy) error {
	if err := s.checkKey(ctx, key); err != nil {
		return err
	}
	p := policy.Resolve(nil)
	digest := key.Digest()

	found := false
	err := s.db.Update(key.Namespace(), digest[:], func(old []byte, exists bool) ([]byte, bool, error) {
		var rec storedRecord
		if exists {
			var err error
			if rec, found, err = s.decode(old); err != nil {
				return nil, false, err
			}
		}
		if found && p.GenerationCheck {
			if rec.Generation != p.Generation {
				return nil, false, store.Errorf(store.ResultGenerationError, "generation mismatch: expected %d, stored %d", p.Generation, rec.Generation)
			}
		}
		return nil, true, nil
	})
	if err != nil {
		return dbError(err)
	}
	if !found && !p.IgnoreNotFound {
		return store.NewError(store.ResultKeyNotFound, "record not found")
	}
	return nil
}

func (s *storeImpl) Query(ctx context.Context, query *store.Query, _ *store.Policy, onRow store.RowHandler) error {
	spec, err := query.Snapshot()
	if err != nil {
		return err
	}
	if onRow == nil {
		return store.NewError(store.ResultParameterError, "row callback must not be nil")
	}
	if err := s.checkNamespace(spec.Namespace); err != nil {
		return err
	}
	if spec.Predicate != nil {
		if _, ok := s.indexes.find(spec.Namespace, spec.Set, spec.Predicate.Bin, spec.Predicate.IndexType()); !ok {
			return store.Errorf(store.ResultIndexNotFound, "no %s index on %s.%s(%s)",
				spec.Predicate.IndexType(), spec.Namespace, spec.Set, spec.Predicate.Bin)
		}
	}

	var aggregator Aggregator
	var reducer store.Reducer
	if spec.Aggregation != nil {
		if aggregator, reducer, err = s.registry.Prepare(spec.Aggregation); err != nil {
			return err
		}
	}

	// collect first so onRow never runs inside a database transaction
	var matches []store.Row
	err = s.db.ForEach(spec.Namespace, func(k, raw []byte) error {
		if err := ctx.Err(); err != nil {
			return store.Errorf(store.ResultTimeout, "%v", err)
		}
		rec, alive, err := s.decode(raw)
		if err != nil {
			return err
		}
		if !alive || (spec.Set != "" && rec.Set != spec.Set) {
			return nil
		}
		if spec.Predicate != nil && !spec.Predicate.Matches(rec.Bins[spec.Predicate.Bin]) {
			return nil
		}
		var digest store.Digest
		copy(digest[:], k)
		key, err := store.NewKeyWithDigest(spec.Namespace, rec.Set, digest)
		if err != nil {
			return err
		}
		rec.Bins = rec.Bins.Select(spec.Bins)
		matches = append(matches, store.Row{Record: s.toRecord(key, rec)})
		return nil
	})
	if err != nil {
		return dbError(err)
	}

	if aggregator != nil {
		if len(matches) == 0 {
			return nil
		}
		for _, row := range matches {
			if err := aggregator.Add(row.Record.Bins); err != nil {
				return udfError(store.DiagExecution, "%v", err)
			}
		}
		matches = matches[:0]
		for _, result := range aggregator.Results() {
			matches = append(matches, store.Row{Result: result, Reduce: reducer})
		}
	}

	for _, row := range matches {
		if err := onRow(row); err != nil {
			return err
		}
	}
	return nil
}

func (s *storeImpl) CreateIndex(ctx context.Context, spec store.IndexSpec, _ *store.Policy) error {
	if err := ctx.Err(); err != nil {
		return store.Errorf(store.ResultTimeout, "%v", err)
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	if err := s.checkNamespace(spec.Namespace); err != nil {
		return err
	}
	if err := s.indexes.create(s.db, spec); err != nil {
		return err
	}
	Logger.Infof("Created index %s on %s.%s.%s (%s)", spec.Name, spec.Namespace, spec.Set, spec.Bin, spec.Type)
	return nil
}

func (s *storeImpl) RemoveIndex(ctx context.Context, namespace, name string, _ *store.Policy) error {
	if err := ctx.Err(); err != nil {
		return store.Errorf(store.ResultTimeout, "%v", err)
	}
	if namespace == "" || name == "" {
		return store.NewError(store.ResultParameterError, "namespace and index name must not be empty")
	}
	if err := s.checkNamespace(namespace); err != nil {
		return err
	}
	return s.indexes.remove(s.db, namespace, name)
}

func (s *storeImpl) Close() error {
	return dbError(s.db.Close())
}
