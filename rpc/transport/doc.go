// Package transport defines the interfaces and abstractions for RPC communication
// between rKV clients and nodes. It provides a common contract that all transport
// implementations must fulfill, enabling protocol-agnostic communication.
//
// The package focuses on:
//   - Defining clear interfaces for client and server transport layers
//   - Supporting shard-based request routing
//   - Streaming responses (query rows) followed by one final response
//   - Enabling multiple transport implementations (TCP, Unix sockets)
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles the connections to one node and sending requests.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and routes them to appropriate handlers.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
//
// Errors returned by client transports are *store.Error values: NetworkError for
// socket faults, Timeout when the context expires and ConnectionClosed once the
// transport is closed.
package transport
