// Package unix implements a transport layer for the rKV RPC system using Unix
// domain sockets. It provides optimized communication for a client and a node
// running on the same machine.
//
// This package extends the base transport layer with Unix socket-specific connectors
// while inheriting all core functionality like connection pooling, request routing,
// streaming and error handling from the base package.
//
// Key Components:
//
//   - clientConnector: Establishes connections using Unix domain sockets
//
//   - serverConnector: Creates Unix socket listeners and accepts connections.
//     A stale socket file at the endpoint is removed before listening.
package unix
