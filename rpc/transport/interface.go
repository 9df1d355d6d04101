package transport

import (
	"context"
	"net"

	"github.com/ValentinKolb/rKV/rpc/common"
)

// --------------------------------------------------------------------------
// Server Transport
// --------------------------------------------------------------------------

// StreamFunc sends one intermediate response frame of a request.
// It returns an error if the connection is broken.
type StreamFunc func(part []byte) error

// ServerHandleFunc is a function type that handles incoming requests
// This function is called by a server transport layer when a request is received
// It takes a shardId and a request as parameters and returns the final response.
// Streamed results are sent through stream before the handler returns.
type ServerHandleFunc func(shardId uint64, req []byte, stream StreamFunc) (resp []byte)

// IRPCServerTransport is the interface for the RPC transport layer
type IRPCServerTransport interface {
	// RegisterHandler registers a handler for the transport layer
	// This handler should be called when a request is received
	// The transport layer is responsible for routing the request to the appropriate shard
	RegisterHandler(handler ServerHandleFunc)
	// Listen creates the listener and starts accepting connections in the background.
	// It returns the address of the listener.
	Listen(config common.ServerTransportConfig) (net.Addr, error)
	// Close stops accepting connections and closes all open connections
	Close() error
}

// --------------------------------------------------------------------------
// Client Transport
// --------------------------------------------------------------------------

// IRPCClientTransport is the interface for the RPC client transport.
// A client transport is bound to a single endpoint (one node).
type IRPCClientTransport interface {
	// Connect establishes the connections to the endpoint
	Connect(endpoint string, config common.ClientTransportConfig) error
	// Send sends a request to the server and returns the final response.
	// The request is bounded by the deadline of ctx.
	Send(ctx context.Context, shardId uint64, req []byte) (resp []byte, err error)
	// Stream sends a request and calls onPart for every intermediate frame in
	// arrival order before it returns the final response. An error returned by
	// onPart aborts the request.
	Stream(ctx context.Context, shardId uint64, req []byte, onPart func(part []byte) error) (resp []byte, err error)
	// Connected reports whether at least one connection is established
	Connected() bool
	// Close closes the transport connection. Requests in flight fail with
	// store.ErrConnectionClosed. Closing twice is a no-op.
	Close() error
}

// ClientTransportFactory creates an unconnected client transport
type ClientTransportFactory func() IRPCClientTransport
