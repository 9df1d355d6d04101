// Package rpc is the wire layer between the rKV client driver and the
// cluster nodes. Every request is a common.Message addressed to a shard: the
// control shard carries login and heartbeats, every namespace has its own
// shard derived from its name.
//
// The package is organized into several subpackages:
//
//   - common: The Message protocol, client and node configuration and the
//     zerolog backed logger factory.
//
//   - serializer: Message framing in three formats (binary, cbor, json).
//
//   - transport: Multiplexed request/stream transports over tcp and unix
//     sockets with reconnects.
//
//   - client: The driver. Cluster membership, routing by partition,
//     retries, authentication, heartbeats, queries and async operations.
//
//   - server: A dev node that serves the namespaces of a local store.
package rpc
