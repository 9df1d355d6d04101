package bolt

import (
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/pkg/errors"
	"go.etcd.io/bbolt"
)

// Options configures the bolt database
type Options struct {
	Timeout time.Duration // Time to wait for the file lock (0 = default: 3 sec)
	NoSync  bool          // Skip fsync after each commit
}

// DefaultOptions returns the default bolt options
func DefaultOptions() *Options {
	return &Options{Timeout: 3 * time.Second}
}

type boltImpl struct {
	path string
	opts *Options

	// mu guards bolt against being swapped out by Load or Close
	mu     sync.RWMutex
	bolt   *bbolt.DB
	closed bool
}

// NewBoltDB opens (or creates) a bbolt file at path. Every bucket of the
// KVDB maps to a top level bolt bucket.
func NewBoltDB(path string, opts *Options) (db.KVDB, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	impl := &boltImpl{path: path, opts: opts}
	if err := impl.open(); err != nil {
		return nil, err
	}
	return impl, nil
}

func (b *boltImpl) open() error {
	timeout := b.opts.Timeout
	if timeout <= 0 {
		timeout = DefaultOptions().Timeout
	}
	handle, err := bbolt.Open(b.path, 0600, &bbolt.Options{Timeout: timeout, NoSync: b.opts.NoSync})
	if err != nil {
		return errors.Wrapf(err, "open bolt database %s", b.path)
	}
	b.bolt = handle
	return nil
}

func (b *boltImpl) view(fn func(tx *bbolt.Tx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return db.ErrClosed
	}
	return b.bolt.View(fn)
}

func (b *boltImpl) update(fn func(tx *bbolt.Tx) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return db.ErrClosed
	}
	return b.bolt.Update(fn)
}

func clone(v []byte) []byte {
	return append(make([]byte, 0, len(v)), v...)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see db/db.go)
// --------------------------------------------------------------------------

func (b *boltImpl) Set(bucket string, key, value []byte) error {
	return b.update(func(tx *bbolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		return bkt.Put(key, clone(value))
	})
}

func (b *boltImpl) Update(bucket string, key []byte, fn db.UpdateFunc) error {
	return b.update(func(tx *bbolt.Tx) error {
		bkt, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}
		old := bkt.Get(key)
		exists := old != nil
		if exists {
			old = clone(old)
		}
		value, remove, err := fn(old, exists)
		if err != nil {
			// returning the error rolls the transaction back
			return err
		}
		if remove {
			if !exists {
				return nil
			}
			return bkt.Delete(key)
		}
		return bkt.Put(key, clone(value))
	})
}

func (b *boltImpl) Delete(bucket string, key []byte) (bool, error) {
	existed := false
	err := b.update(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		existed = bkt.Get(key) != nil
		if !existed {
			return nil
		}
		return bkt.Delete(key)
	})
	return existed, err
}

func (b *boltImpl) Get(bucket string, key []byte) ([]byte, bool, error) {
	var value []byte
	err := b.view(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		if v := bkt.Get(key); v != nil {
			// bolt memory is only valid inside the transaction
			value = clone(v)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return value, value != nil, nil
}

func (b *boltImpl) Has(bucket string, key []byte) (bool, error) {
	found := false
	err := b.view(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		found = bkt != nil && bkt.Get(key) != nil
		return nil
	})
	return found, err
}

func (b *boltImpl) ForEach(bucket string, fn func(key, value []byte) error) error {
	return b.view(func(tx *bbolt.Tx) error {
		bkt := tx.Bucket([]byte(bucket))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(fn)
	})
}

func (b *boltImpl) Buckets() ([]string, error) {
	var names []string
	err := b.view(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bbolt.Bucket) error {
			names = append(names, string(name))
			return nil
		})
	})
	return names, err
}

func (b *boltImpl) Save(w io.Writer) error {
	return b.view(func(tx *bbolt.Tx) error {
		_, err := tx.WriteTo(w)
		return errors.Wrap(err, "write bolt snapshot")
	})
}

// Load replaces the database file with the snapshot read from r
func (b *boltImpl) Load(r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(b.path), filepath.Base(b.path)+".load-*")
	if err != nil {
		return errors.Wrap(err, "create snapshot file")
	}
	defer os.Remove(tmp.Name())

	if _, err = io.Copy(tmp, r); err != nil {
		tmp.Close()
		return errors.Wrap(err, "read snapshot")
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close snapshot file")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return db.ErrClosed
	}
	if err = b.bolt.Close(); err != nil {
		return errors.Wrap(err, "close bolt database")
	}
	if err = os.Rename(tmp.Name(), b.path); err != nil {
		// reopen the old file so the database stays usable
		if openErr := b.open(); openErr != nil {
			b.closed = true
		}
		return errors.Wrap(err, "replace bolt database")
	}
	if err = b.open(); err != nil {
		b.closed = true
		return err
	}
	return nil
}

func (b *boltImpl) SupportsFeature(feature db.Feature) bool {
	return feature&b.features() == feature
}

func (b *boltImpl) features() db.Feature {
	return db.FeatureSet | db.FeatureGet | db.FeatureDelete | db.FeatureHas |
		db.FeatureUpdate | db.FeatureForEach | db.FeatureSave | db.FeatureLoad | db.FeaturePersistent
}

func (b *boltImpl) GetInfo() db.DatabaseInfo {
	info := db.DatabaseInfo{
		DbType:            db.ImplBolt,
		SupportedFeatures: b.features().Features(),
		Metadata:          map[string]any{"path": b.path},
	}
	_ = b.view(func(tx *bbolt.Tx) error {
		return tx.ForEach(func(_ []byte, bkt *bbolt.Bucket) error {
			info.Buckets++
			info.Entries += bkt.Stats().KeyN
			return nil
		})
	})
	return info
}

func (b *boltImpl) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.bolt.Close()
}
