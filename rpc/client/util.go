package client

import (
	"context"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/ValentinKolb/rKV/lib/value"
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/ValentinKolb/rKV/rpc/serializer"
	"github.com/ValentinKolb/rKV/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("client")
)

// invokeRPCRequest is a helper function used for all requests of the client
// It takes a shard ID, a request message, a transport layer and a serializer as parameters
// It returns a response message and an error if any occurs
// This method also checks if the response is an error response and if the type of the response is the expected type
// If onPart is not nil every streamed message is decoded and passed to it.
func invokeRPCRequest(
	ctx context.Context,
	shardId uint64,
	req *common.Message,
	t transport.IRPCClientTransport,
	s serializer.IRPCSerializer,
	onPart func(part *common.Message) error,
) (*common.Message, error) {
	// Serialize the request
	reqBytes, err := s.Serialize(*req)
	if err != nil {
		return nil, store.Errorf(store.ResultSerializeError, "serialize %s request: %v", req.MsgType, err)
	}

	var streamFn func([]byte) error
	if onPart != nil {
		streamFn = func(data []byte) error {
			part := new(common.Message)
			if err := s.Deserialize(data, part); err != nil {
				return store.Errorf(store.ResultSerializeError, "deserialize %s stream message: %v", req.MsgType, err)
			}
			if err := part.Error(); err != nil {
				return err
			}
			return onPart(part)
		}
	}

	// Send the request
	respBytes, err := t.Stream(ctx, shardId, reqBytes, streamFn)
	if err != nil {
		return nil, err
	}

	// Deserialize the response
	resp := &common.Message{}
	if err := s.Deserialize(respBytes, resp); err != nil {
		return nil, store.Errorf(store.ResultSerializeError, "deserialize %s response: %v", req.MsgType, err)
	}

	// Check if the response is an error response
	if err := resp.Error(); err != nil {
		return nil, err
	}

	// Check if the type of the response is the expected type
	if resp.MsgType != req.MsgType {
		return nil, store.Errorf(store.ResultClientError, "unexpected message type: %s, expected %s", resp.MsgType, req.MsgType)
	}

	return resp, nil
}

// decodeNodeInfo decodes the node info of a login or heartbeat response
func decodeNodeInfo(data []byte) (common.NodeInfo, error) {
	var info common.NodeInfo
	if err := value.Unmarshal(data, &info); err != nil {
		return info, store.Errorf(store.ResultSerializeError, "decode node info: %v", err)
	}
	return info, nil
}
