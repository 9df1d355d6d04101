package server

import (
	"context"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/rpc/common"
)

// StreamFunc sends one intermediate response of a streaming request
type StreamFunc func(part *common.Message) error

// IRPCServerAdapter is the interface for all RPC server adapters
// It is responsible for handling requests and responses
type IRPCServerAdapter interface {
	// Handle handles a request for a namespace and returns the final response.
	// Streaming requests (queries) send their rows with stream before returning.
	// If an error occurs, it is set in the response.
	Handle(ctx context.Context, namespace string, req *common.Message, s store.IStore, stream StreamFunc) (resp *common.Message)
}
