package store

import (
	"context"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/value"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() (db.KVDB, error)

// RowHandler receives query rows. Returning an error aborts the query.
type RowHandler func(row Row) error

// IStore is the generic interface for interacting with a record store.
// All methods return an *Error on failure.
type IStore interface {
	// Get returns the record for a key. Fails with ErrRecordNotFound if the record does not exist.
	Get(ctx context.Context, key *Key, policy *Policy) (record *Record, err error)
	// Exists returns whether a record exists for the key.
	Exists(ctx context.Context, key *Key, policy *Policy) (exists bool, err error)
	// Put writes bins into the record, creating it if necessary. Existing bins are
	// merged and a nil bin removes the bin. The change is applied atomically.
	Put(ctx context.Context, key *Key, bins value.Bins, policy *Policy) (err error)
	// Remove deletes the record. Fails with ErrRecordNotFound if the record does not
	// exist unless policy.IgnoreNotFound is set.
	Remove(ctx context.Context, key *Key, policy *Policy) (err error)
	// Query runs a secondary index query and delivers every row to onRow.
	// onRow is never called concurrently.
	Query(ctx context.Context, query *Query, policy *Policy, onRow RowHandler) (err error)
	// CreateIndex creates a secondary index. Creating an existing index with the same
	// definition succeeds.
	CreateIndex(ctx context.Context, spec IndexSpec, policy *Policy) (err error)
	// RemoveIndex removes a secondary index. Removing a missing index succeeds.
	RemoveIndex(ctx context.Context, namespace, name string, policy *Policy) (err error)
	// Close releases all resources. Closing twice is a no-op.
	Close() (err error)
}
