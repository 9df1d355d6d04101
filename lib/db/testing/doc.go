// Package testing provides a standardised test suite for database
// implementations that satisfy the db.KVDB interface.
//
// The suite checks the interface contract: copy semantics of Set and Get,
// bucket isolation, atomic Update under concurrent writers, ForEach scans,
// Save/Load snapshots and idempotent Close. Tests for features an
// implementation does not advertise through SupportsFeature are skipped.
//
// Example usage:
//
//	// Creating a factory function for your implementation
//	factory := func() db.KVDB {
//		return NewMyDatabase()
//	}
//
//	// Running the standard test suite
//	dbtesting.RunKVDBTests(t, "MyDatabase", factory)
package testing
