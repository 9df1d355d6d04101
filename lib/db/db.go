package db

import (
	"errors"
	"io"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplMemory Implementation = "memory"
	ImplBolt   Implementation = "bolt"
)

// ErrClosed is returned by operations on a closed database
var ErrClosed = errors.New("database is closed")

// Feature represents database features as bit flags
type Feature uint64

const (
	FeatureSet     Feature = 1 << iota // Support for Set operations
	FeatureGet                         // Support for Get operations
	FeatureDelete                      // Support for Delete operations
	FeatureHas                         // Support for Has operations
	FeatureUpdate                      // Support for atomic Update operations
	FeatureForEach                     // Support for ForEach scans
	FeatureSave                        // Support for Save operations
	FeatureLoad                        // Support for Load operations
	FeaturePersistent                  // Data survives a restart
)

func (f Feature) String() string {
	switch f {
	case FeatureSet:
		return "Set"
	case FeatureGet:
		return "Get"
	case FeatureDelete:
		return "Delete"
	case FeatureHas:
		return "Has"
	case FeatureUpdate:
		return "Update"
	case FeatureForEach:
		return "ForEach"
	case FeatureSave:
		return "Save"
	case FeatureLoad:
		return "Load"
	case FeaturePersistent:
		return "Persistent"
	default:
		return "Unknown"
	}
}

// Features returns the single features contained in a feature set
func (f Feature) Features() []Feature {
	var out []Feature
	for bit := FeatureSet; bit <= FeaturePersistent; bit <<= 1 {
		if f&bit != 0 {
			out = append(out, bit)
		}
	}
	return out
}

type DatabaseInfo struct {
	Entries           int            `json:"entries"`
	Buckets           int            `json:"buckets"`
	DbType            Implementation `json:"db_type"`
	SupportedFeatures []Feature      `json:"supported_features"`
	Metadata          interface{}    `json:"metadata"`
}

// UpdateFunc computes the new value of an entry from its current value.
// Returning remove=true deletes the entry, returning an error leaves the
// entry unchanged.
type UpdateFunc func(old []byte, exists bool) (value []byte, remove bool, err error)

// --------------------------------------------------------------------------
// Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for bucketed key-value database implementations.
// Entries live in named buckets; buckets are created on first write.
// Implementations can vary in their feature support, which can be queried with SupportsFeature.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Set inserts or updates an entry. The value is copied.
	Set(bucket string, key, value []byte) (err error)

	// Update atomically replaces an entry with the result of fn. No other write
	// to the same key is applied between reading the old value and writing the new one.
	Update(bucket string, key []byte, fn UpdateFunc) (err error)

	// Delete removes an entry and reports whether it existed.
	Delete(bucket string, key []byte) (existed bool, err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves a copy of the value for an exact key.
	// The boolean return value indicates whether a value for the key was found.
	Get(bucket string, key []byte) (value []byte, loaded bool, err error)

	// Has checks whether a key exists in a bucket.
	Has(bucket string, key []byte) (loaded bool, err error)

	// ForEach calls fn for every entry of a bucket. Key and value are only valid
	// during the call. Returning an error from fn stops the iteration and is
	// returned. A missing bucket is empty.
	ForEach(bucket string, fn func(key, value []byte) error) (err error)

	// Buckets returns the names of all buckets.
	Buckets() (names []string, err error)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// --------------------------------------------------------------------------
	// Feature Support
	// --------------------------------------------------------------------------

	// SupportsFeature checks if the database implementation supports the specified feature.
	// Multiple features can be checked at once using bitwise OR (|) operator.
	SupportsFeature(feature Feature) (ok bool)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close closes the database. Closing twice is a no-op.
	Close() (err error)
}
