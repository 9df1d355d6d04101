// Package db provides a standardized interface for bucketed key-value database
// implementations. It is the storage layer underneath the local record store
// of an rKV development node.
//
// The package focuses on:
//   - A unified interface for key-value operations grouped in buckets
//   - Atomic read-modify-write through Update
//   - Feature discovery through capability flags
//   - Standardized persistence operations
//
// Key Components:
//
//   - KVDB Interface: The core interface that all database implementations must satisfy.
//     It provides basic operations (Set, Get, Has, Delete), the atomic Update used
//     for record changes, bucket scans (ForEach, Buckets) and persistence (Save, Load).
//
//   - Feature Flags: The Feature type defines capability flags that implementations
//     can advertise through the SupportsFeature method.
//
//   - Database Information: DatabaseInfo reports entry and bucket counts, the
//     implementation type and implementation-specific metadata.
//
// Implementations:
//
// The engines/memory package keeps all buckets in xsync concurrent maps. Update
// uses the per-key Compute of the map, so concurrent writers to one key never
// lose updates. Snapshots are CBOR encoded.
//
// The engines/bolt package stores every bucket as a top level bbolt bucket in a
// single file. Update runs inside one bolt write transaction and Save writes a
// consistent copy of the file.
//
// The testing package (github.com/ValentinKolb/rKV/lib/db/testing) provides a
// standardized test suite for db.KVDB implementations (RunKVDBTests).
package db
