// Package tcp implements the TCP socket-based transport of the rKV RPC system.
// It provides concrete implementations of the base package's connector
// interfaces for TCP connections.
//
// This package builds on the base package's transport functionality, inheriting
// connection pooling, buffer reuse, streaming and reconnects. See the base
// package documentation for the frame format and error semantics.
//
// Key Components:
//
//   - clientConnector: TCP-specific implementation of base.IClientConnector
//
//   - serverConnector: TCP-specific implementation of base.IServerConnector
//
// Both sides apply common.SocketConf and common.TCPConf to every connection
// (no delay, buffer sizes, keep alive and linger).
package tcp
