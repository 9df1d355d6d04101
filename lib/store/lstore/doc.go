// Package lstore implements the local, single-node record store behind an rKV
// development node. It satisfies store.IStore on top of any db.KVDB that
// supports Get, Update and ForEach.
//
// Key Features:
//   - One database bucket per configured namespace, records keyed by digest
//   - Atomic record changes through db.KVDB.Update (bin merge, generation
//     check, generation increment)
//   - Record expiration checked on read against an injectable clock
//   - Secondary index definitions persisted in an internal bucket
//   - A registry of Go stream functions for query aggregations
//
// Implementation Details:
//
//   - Records: a stored record holds its set, its bins, its generation and an
//     absolute expiry time. A put merges the given bins into the stored ones
//     (a nil bin removes the bin); a record left without bins is removed.
//
//   - Queries: the predicate is resolved against the index definitions
//     (missing index: ErrIndexNotFound), then the namespace bucket is scanned
//     and filtered. Matching rows are collected before the row callback runs,
//     so callbacks never execute inside a database transaction.
//
//   - Aggregations: Registry.Prepare resolves (module, function) and checks the
//     argument count before the scan. Failures are aggregation errors with a
//     diagnostic (1 module, 2 function, 3 too few arguments, 4 execution).
//     The reduced values of one execution are returned as rows.
//
// Usage Example:
//
//	factory := func() (db.KVDB, error) { return memory.NewMemoryDB(), nil }
//	s, err := lstore.NewLocalStore(factory, &lstore.Options{Namespaces: []string{"test"}})
//
//	key, _ := store.NewKey("test", "demo", "user-1")
//	err = s.Put(ctx, key, value.Bins{"age": value.Int(42)}, nil)
//	rec, err := s.Get(ctx, key, nil)
package lstore
