package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/rKV/rpc/common"
)

// NewBinarySerializer creates a new serializer using a custom binary format
// optimized for speed and efficiency
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format:
//
//	MsgType (1) | presence bits (2, big endian) | present fields in the order below
//
// Strings and byte slices are length prefixed (uint32), numbers are fixed size.
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasToken      uint16 = 1 << 0
	hasUser       uint16 = 1 << 1
	hasSet        uint16 = 1 << 2
	hasDigest     uint16 = 1 << 3
	hasValue      uint16 = 1 << 4
	hasGeneration uint16 = 1 << 5
	hasExpiration uint16 = 1 << 6
	hasFlags      uint16 = 1 << 7
	hasTimeout    uint16 = 1 << 8
	hasOk         uint16 = 1 << 9
	hasCode       uint16 = 1 << 10
	hasErr        uint16 = 1 << 11
	hasMeta       uint16 = 1 << 12
)

const headerSize = 3

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	presence := presenceOf(msg)
	w := writer{buf: make([]byte, headerSize, sizeBytes(msg, presence))}
	w.buf[0] = byte(msg.MsgType)
	binary.BigEndian.PutUint16(w.buf[1:3], presence)

	if presence&hasToken != 0 {
		w.bytes([]byte(msg.Token))
	}
	if presence&hasUser != 0 {
		w.bytes([]byte(msg.User))
	}
	if presence&hasSet != 0 {
		w.bytes([]byte(msg.Set))
	}
	if presence&hasDigest != 0 {
		w.bytes(msg.Digest)
	}
	if presence&hasValue != 0 {
		w.bytes(msg.Value)
	}
	if presence&hasGeneration != 0 {
		w.buf = binary.BigEndian.AppendUint32(w.buf, msg.Generation)
	}
	if presence&hasExpiration != 0 {
		w.buf = binary.BigEndian.AppendUint32(w.buf, msg.Expiration)
	}
	if presence&hasFlags != 0 {
		w.buf = append(w.buf, msg.Flags)
	}
	if presence&hasTimeout != 0 {
		w.buf = binary.BigEndian.AppendUint32(w.buf, msg.Timeout)
	}
	if presence&hasCode != 0 {
		w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(msg.Code))
	}
	if presence&hasErr != 0 {
		w.bytes([]byte(msg.Err))
	}
	if presence&hasMeta != 0 {
		w.bytes(msg.Meta)
	}

	return w.buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	// Check minimum size (MsgType + presence bits)
	if len(data) < headerSize {
		return fmt.Errorf("data too short for message header")
	}

	*msg = common.Message{MsgType: common.MessageType(data[0])}
	presence := binary.BigEndian.Uint16(data[1:3])
	r := reader{data: data, pos: headerSize}

	if presence&hasToken != 0 {
		msg.Token = string(r.bytes("token"))
	}
	if presence&hasUser != 0 {
		msg.User = string(r.bytes("user"))
	}
	if presence&hasSet != 0 {
		msg.Set = string(r.bytes("set"))
	}
	if presence&hasDigest != 0 {
		msg.Digest = r.bytes("digest")
	}
	if presence&hasValue != 0 {
		msg.Value = r.bytes("value")
	}
	if presence&hasGeneration != 0 {
		msg.Generation = r.uint32("generation")
	}
	if presence&hasExpiration != 0 {
		msg.Expiration = r.uint32("expiration")
	}
	if presence&hasFlags != 0 {
		if f := r.next(1, "flags"); f != nil {
			msg.Flags = f[0]
		}
	}
	if presence&hasTimeout != 0 {
		msg.Timeout = r.uint32("timeout")
	}
	msg.Ok = presence&hasOk != 0
	if presence&hasCode != 0 {
		msg.Code = int32(r.uint32("code"))
	}
	if presence&hasErr != 0 {
		msg.Err = string(r.bytes("error"))
	}
	if presence&hasMeta != 0 {
		msg.Meta = r.bytes("meta")
	}

	return r.err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// presenceOf returns the presence bits of a message. Byte slices are present
// if they are not nil so empty and nil slices survive a round trip.
func presenceOf(msg common.Message) uint16 {
	var p uint16
	if msg.Token != "" {
		p |= hasToken
	}
	if msg.User != "" {
		p |= hasUser
	}
	if msg.Set != "" {
		p |= hasSet
	}
	if msg.Digest != nil {
		p |= hasDigest
	}
	if msg.Value != nil {
		p |= hasValue
	}
	if msg.Generation != 0 {
		p |= hasGeneration
	}
	if msg.Expiration != 0 {
		p |= hasExpiration
	}
	if msg.Flags != 0 {
		p |= hasFlags
	}
	if msg.Timeout != 0 {
		p |= hasTimeout
	}
	if msg.Ok {
		p |= hasOk // the bit is the value
	}
	if msg.Code != 0 {
		p |= hasCode
	}
	if msg.Err != "" {
		p |= hasErr
	}
	if msg.Meta != nil {
		p |= hasMeta
	}
	return p
}

// sizeBytes calculates the total size needed for serialization
func sizeBytes(msg common.Message, presence uint16) int {
	size := headerSize
	for _, field := range []struct {
		bit uint16
		n   int
	}{
		{hasToken, 4 + len(msg.Token)},
		{hasUser, 4 + len(msg.User)},
		{hasSet, 4 + len(msg.Set)},
		{hasDigest, 4 + len(msg.Digest)},
		{hasValue, 4 + len(msg.Value)},
		{hasGeneration, 4},
		{hasExpiration, 4},
		{hasFlags, 1},
		{hasTimeout, 4},
		{hasCode, 4},
		{hasErr, 4 + len(msg.Err)},
		{hasMeta, 4 + len(msg.Meta)},
	} {
		if presence&field.bit != 0 {
			size += field.n
		}
	}
	return size
}

type writer struct {
	buf []byte
}

func (w *writer) bytes(b []byte) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(len(b)))
	w.buf = append(w.buf, b...)
}

// reader keeps the first error, all reads after an error return zero values
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) next(n int, field string) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.pos+n > len(r.data) {
		r.err = fmt.Errorf("data too short for %s", field)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *reader) uint32(field string) uint32 {
	b := r.next(4, field)
	if b == nil {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// bytes reads a length prefixed field into a new slice (never nil on success)
func (r *reader) bytes(field string) []byte {
	n := r.uint32(field + " length")
	b := r.next(int(n), field)
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
