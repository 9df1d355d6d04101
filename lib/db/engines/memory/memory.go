package memory

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// snapshotVersion identifies the Save format
const snapshotVersion = 1

type bucket = *xsync.MapOf[string, []byte]

// memoryImpl keeps every bucket in its own concurrent map
type memoryImpl struct {
	buckets *xsync.MapOf[string, bucket]
	closed  atomic.Bool

	// loadMu blocks all operations while a snapshot is restored
	loadMu sync.RWMutex
}

type snapshot struct {
	Version int                          `cbor:"1,keyasint"`
	Buckets map[string]map[string][]byte `cbor:"2,keyasint"`
}

// NewMemoryDB creates a new, empty in-memory database
func NewMemoryDB() db.KVDB {
	return &memoryImpl{
		buckets: xsync.NewMapOf[string, bucket](),
	}
}

func (m *memoryImpl) bucket(name string, create bool) bucket {
	if !create {
		b, _ := m.buckets.Load(name)
		return b
	}
	b, _ := m.buckets.LoadOrCompute(name, func() bucket {
		return xsync.NewMapOf[string, []byte]()
	})
	return b
}

func (m *memoryImpl) enter() error {
	m.loadMu.RLock()
	if m.closed.Load() {
		m.loadMu.RUnlock()
		return db.ErrClosed
	}
	return nil
}

func (m *memoryImpl) leave() {
	m.loadMu.RUnlock()
}

func clone(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return append(make([]byte, 0, len(b)), b...)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db/db.go)
// --------------------------------------------------------------------------

func (m *memoryImpl) Set(bucket string, key, value []byte) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	m.bucket(bucket, true).Store(string(key), clone(value))
	return nil
}

func (m *memoryImpl) Update(bucket string, key []byte, fn db.UpdateFunc) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	var fnErr error
	m.bucket(bucket, true).Compute(string(key), func(old []byte, loaded bool) ([]byte, bool) {
		var oldCopy []byte
		if loaded {
			oldCopy = clone(old)
		}
		value, remove, err := fn(oldCopy, loaded)
		if err != nil {
			fnErr = err
			// keep the entry as it was (or absent)
			return old, !loaded
		}
		if remove {
			return nil, true
		}
		return clone(value), false
	})
	return fnErr
}

func (m *memoryImpl) Delete(bucket string, key []byte) (bool, error) {
	if err := m.enter(); err != nil {
		return false, err
	}
	defer m.leave()

	b := m.bucket(bucket, false)
	if b == nil {
		return false, nil
	}
	_, existed := b.LoadAndDelete(string(key))
	return existed, nil
}

func (m *memoryImpl) Get(bucket string, key []byte) ([]byte, bool, error) {
	if err := m.enter(); err != nil {
		return nil, false, err
	}
	defer m.leave()

	b := m.bucket(bucket, false)
	if b == nil {
		return nil, false, nil
	}
	value, ok := b.Load(string(key))
	if !ok {
		return nil, false, nil
	}
	return clone(value), true, nil
}

func (m *memoryImpl) Has(bucket string, key []byte) (bool, error) {
	if err := m.enter(); err != nil {
		return false, err
	}
	defer m.leave()

	b := m.bucket(bucket, false)
	if b == nil {
		return false, nil
	}
	_, ok := b.Load(string(key))
	return ok, nil
}

func (m *memoryImpl) ForEach(bucket string, fn func(key, value []byte) error) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	b := m.bucket(bucket, false)
	if b == nil {
		return nil
	}
	var fnErr error
	b.Range(func(key string, value []byte) bool {
		fnErr = fn([]byte(key), clone(value))
		return fnErr == nil
	})
	return fnErr
}

func (m *memoryImpl) Buckets() ([]string, error) {
	if err := m.enter(); err != nil {
		return nil, err
	}
	defer m.leave()

	names := make([]string, 0, m.buckets.Size())
	m.buckets.Range(func(name string, _ bucket) bool {
		names = append(names, name)
		return true
	})
	return names, nil
}

func (m *memoryImpl) Save(w io.Writer) error {
	if err := m.enter(); err != nil {
		return err
	}
	defer m.leave()

	snap := snapshot{Version: snapshotVersion, Buckets: make(map[string]map[string][]byte)}
	m.buckets.Range(func(name string, b bucket) bool {
		entries := make(map[string][]byte, b.Size())
		b.Range(func(key string, value []byte) bool {
			entries[key] = value
			return true
		})
		snap.Buckets[name] = entries
		return true
	})
	return errors.Wrap(cbor.NewEncoder(w).Encode(snap), "encode snapshot")
}

func (m *memoryImpl) Load(r io.Reader) error {
	var snap snapshot
	if err := cbor.NewDecoder(r).Decode(&snap); err != nil {
		return errors.Wrap(err, "decode snapshot")
	}
	if snap.Version != snapshotVersion {
		return errors.Errorf("unsupported snapshot version %d", snap.Version)
	}

	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	if m.closed.Load() {
		return db.ErrClosed
	}

	m.buckets.Clear()
	for name, entries := range snap.Buckets {
		b := xsync.NewMapOf[string, []byte]()
		for key, value := range entries {
			b.Store(key, clone(value))
		}
		m.buckets.Store(name, b)
	}
	return nil
}

func (m *memoryImpl) SupportsFeature(feature db.Feature) bool {
	supported := db.FeatureSet | db.FeatureGet | db.FeatureDelete | db.FeatureHas |
		db.FeatureUpdate | db.FeatureForEach | db.FeatureSave | db.FeatureLoad
	return feature&supported == feature
}

func (m *memoryImpl) GetInfo() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:            db.ImplMemory,
		SupportedFeatures: (db.FeatureSet | db.FeatureGet | db.FeatureDelete | db.FeatureHas | db.FeatureUpdate | db.FeatureForEach | db.FeatureSave | db.FeatureLoad).Features(),
	}
	m.buckets.Range(func(_ string, b bucket) bool {
		info.Buckets++
		info.Entries += b.Size()
		return true
	})
	return info
}

func (m *memoryImpl) Close() error {
	m.loadMu.Lock()
	defer m.loadMu.Unlock()
	if m.closed.Swap(true) {
		return nil
	}
	m.buckets.Clear()
	return nil
}
