// Package common provides the data structures shared by the rKV client and
// the rKV node: the wire protocol, the configuration structs and the logger.
//
// The package focuses on:
//   - Message protocol definition for the client/node communication
//   - Configuration structures for clients and nodes
//   - Logging integrated with the dragonboat logger interface
//
// Key Components:
//
//   - Message: Core data structure for all RPC communication. Which fields are
//     used depends on the MessageType. Record addressing always uses the digest,
//     never the raw user key. Errors travel as a (code, message) pair plus an
//     optional diagnostic and are turned back into *store.Error by Message.Error.
//
//   - Shards: every namespace is served on its own shard id (NamespaceShard),
//     shard 0 (ControlShard) carries the session handshake and the heartbeats.
//
//   - ClientConfig / ServerConfig: configuration of clients and nodes with
//     human readable String dumps.
//
//   - Logger: a dragonboat logger.ILogger factory backed by zerolog, so all
//     packages keep using logger.GetLogger(name).
package common
