package serializer

import (
	"github.com/ValentinKolb/rKV/rpc/common"
	"github.com/fxamacker/cbor/v2"
)

// NewCBORSerializer creates a new serializer using cbor encoding
func NewCBORSerializer() IRPCSerializer {
	return &cborSerializerImpl{}
}

// cborSerializerImpl implements the IRPCSerializer interface using cbor encoding.
// The message is mapped to an integer keyed struct to keep the payload small.
type cborSerializerImpl struct {
}

type cborMessage struct {
	MsgType    common.MessageType `cbor:"1,keyasint"`
	Token      string             `cbor:"2,keyasint,omitempty"`
	User       string             `cbor:"3,keyasint,omitempty"`
	Set        string             `cbor:"4,keyasint,omitempty"`
	Digest     []byte             `cbor:"5,keyasint,omitempty"`
	Value      []byte             `cbor:"6,keyasint,omitempty"`
	Generation uint32             `cbor:"7,keyasint,omitempty"`
	Expiration uint32             `cbor:"8,keyasint,omitempty"`
	Flags      uint8              `cbor:"9,keyasint,omitempty"`
	Timeout    uint32             `cbor:"10,keyasint,omitempty"`
	Ok         bool               `cbor:"11,keyasint,omitempty"`
	Code       int32              `cbor:"12,keyasint,omitempty"`
	Err        string             `cbor:"13,keyasint,omitempty"`
	Meta       []byte             `cbor:"14,keyasint,omitempty"`
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (c cborSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	return cbor.Marshal(cborMessage(msg))
}

func (c cborSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	var m cborMessage
	if err := cbor.Unmarshal(b, &m); err != nil {
		return err
	}
	*msg = common.Message(m)
	return nil
}
