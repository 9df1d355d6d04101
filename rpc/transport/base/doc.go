// Package base provides a foundation for the transport layers of rKV,
// implementing core functionality for RPC communication independent of the specific
// network protocol (TCP, Unix sockets). It serves as a base layer that can be
// extended with protocol-specific connectors.
//
// The package focuses on:
//   - Protocol-agnostic client and server transport implementations
//   - Frame-based message protocol with shardID and requestID tracking
//   - Streamed responses: any number of intermediate frames and one final frame
//   - Automatic response correlation through a pending-request table
//   - Reconnection of broken connections with backoff
//
// Frame format:
//
//	shardID (8) | requestID (8) | flags (1) | length (4) | payload (length)
//
// The only flag is flagFinal, set on every request and on the last frame of a
// response.
//
// Key Components:
//
//   - IClientConnector/IServerConnector: Interfaces for protocol-specific operations
//     that allow extending the base transport with different network protocols.
//
//   - clientTransport: Manages the connections to one endpoint with round-robin
//     load balancing. Every connection owns a pending-request table (xsync.MapOf)
//     and a reader goroutine. A broken connection fails its pending requests with
//     a NetworkError and is re-established with backoff. Close fails all pending
//     requests with ConnectionClosed and is idempotent.
//
//   - serverTransport: Accepts connections and runs the handler for every request
//     in a bounded pool of workers per connection. Reads use pooled buffers.
//
// Thread Safety:
//
//	All public methods are thread-safe. Writes to a connection are serialized by
//	a mutex, frames of concurrent requests interleave on the wire.
package base
