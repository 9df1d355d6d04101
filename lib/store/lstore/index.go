package lstore

import (
	"sync"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/value"
)

// indexBucket holds the index definitions so they survive restarts of
// persistent engines
const indexBucket = systemPrefix + "indexes"

// indexRegistry tracks the secondary index definitions per namespace.
// Queries resolve their predicate against it and then filter by scan.
type indexRegistry struct {
	mu     sync.RWMutex
	byName map[string]store.IndexSpec // namespace + "/" + name
}

func indexKey(namespace, name string) string {
	return namespace + "/" + name
}

func loadIndexes(database db.KVDB) (*indexRegistry, error) {
	r := &indexRegistry{byName: make(map[string]store.IndexSpec)}
	err := database.ForEach(indexBucket, func(key, raw []byte) error {
		var spec store.IndexSpec
		if err := value.Unmarshal(raw, &spec); err != nil {
			return store.Errorf(store.ResultSerializeError, "decode index %s: %v", key, err)
		}
		r.byName[string(key)] = spec
		return nil
	})
	if err != nil {
		return nil, dbError(err)
	}
	return r, nil
}

func (r *indexRegistry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// find returns an index covering the bin of a set with the given type
func (r *indexRegistry) find(namespace, set, bin string, typ store.IndexType) (store.IndexSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, spec := range r.byName {
		if spec.Namespace == namespace && spec.Set == set && spec.Bin == bin && spec.Type == typ {
			return spec, true
		}
	}
	return store.IndexSpec{}, false
}

func (r *indexRegistry) create(database db.KVDB, spec store.IndexSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := indexKey(spec.Namespace, spec.Name)
	if existing, ok := r.byName[key]; ok {
		if existing == spec {
			return nil
		}
		return store.Errorf(store.ResultRequestInvalid, "index %s already exists with a different definition", spec.Name)
	}
	raw, err := value.Marshal(spec)
	if err != nil {
		return store.Errorf(store.ResultSerializeError, "encode index: %v", err)
	}
	if err = database.Set(indexBucket, []byte(key), raw); err != nil {
		return dbError(err)
	}
	r.byName[key] = spec
	return nil
}

func (r *indexRegistry) remove(database db.KVDB, namespace, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := indexKey(namespace, name)
	if _, ok := r.byName[key]; !ok {
		return nil
	}
	if _, err := database.Delete(indexBucket, []byte(key)); err != nil {
		return dbError(err)
	}
	delete(r.byName, key)
	return nil
}
