package serializer

import "github.com/ValentinKolb/rKV/rpc/common"

// IRPCSerializer is the interface for all Message Serializers
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into a Message.
	// All fields of msg are overwritten.
	Deserialize(b []byte, msg *common.Message) error
}

// ByName returns the serializer for a name as used by the CLI (binary, cbor, json)
func ByName(name string) (IRPCSerializer, bool) {
	switch name {
	case "binary", "":
		return NewBinarySerializer(), true
	case "cbor":
		return NewCBORSerializer(), true
	case "json":
		return NewJSONSerializer(), true
	default:
		return nil, false
	}
}
