// Package store provides the record level abstraction of rKV: keys and their
// digests, records, per operation policies, secondary index queries and the
// unified error taxonomy shared by the client and the development node.
//
// Key Components:
//
//   - Key: addresses a record by namespace, optional set and a user key
//     (integer, string or bytes). The 20 byte RIPEMD-160 digest over the set,
//     the particle type and the key bytes identifies the record inside its
//     namespace; PartitionID derives the partition used for node routing.
//
//   - IStore Interface: the operations every store implementation offers
//     (Get, Exists, Put, Remove, Query, CreateIndex, RemoveIndex). The RPC
//     client and the local store both implement it, so the conformance suite
//     in lib/store/testing runs against either.
//
//   - Query: built incrementally with Select, Where and Apply and snapshotted
//     when an execution starts. Predicates are Equals (integer, boolean or
//     string) and Between (integer or boolean bounds).
//
//   - Error System: every failure is an *Error carrying a ResultCode. Codes map
//     to a Kind, and the Kind values double as sentinels:
//
//     if errors.Is(err, store.ErrRecordNotFound) { ... }
//
//     Authentication and closed connection errors also match ErrConnection.
//     Only network faults and unavailable owner nodes are retryable.
//
// Implementations:
//
//	- Local Store (lstore): keeps records in a db.KVDB on the local node. It is
//	  the storage behind the development node and is used directly in tests.
//	  Available in the "github.com/ValentinKolb/rKV/lib/store/lstore" package.
//
//	- RPC Client: talks to one or more nodes over the framed transport.
//	  Available in the "github.com/ValentinKolb/rKV/rpc/client" package.
package store
