// Package cmd implements the command-line interface of rKV. It provides a
// client for the record operations of a cluster and a dev node to run one.
//
// The package is organized into several subpackages:
//
//   - serve: Starts a dev node (tcp or unix, memory or bolt engine)
//   - record: Record operations (get, put, remove, exists, digest) plus the
//     async example and a benchmark
//   - query: Secondary index queries with optional aggregation
//   - index: Creates and removes secondary indexes on all nodes
//   - user: Maintains the users file of a node
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// All flags can be set as RKV_<FLAG> environment variables (e.g.
// RKV_HOSTS=127.0.0.1:3000), .env and .env.local are loaded on start.
//
// See rkv -help for a list of all commands.
package cmd
