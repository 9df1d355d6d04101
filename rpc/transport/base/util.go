package base

import (
	"encoding/binary"
	"io"
	"net"

	"github.com/pkg/errors"
)

const (
	frameHeaderSize = 21

	// flagFinal marks the last frame of a response
	flagFinal byte = 1 << 0

	// maxFrameSize protects readers from corrupt length fields
	maxFrameSize = 64 << 20
)

// frame is one decoded frame
type frame struct {
	shardID   uint64
	requestID uint64
	flags     byte
	data      []byte
}

func (f frame) final() bool {
	return f.flags&flagFinal != 0
}

// writeFrame writes a frame to the connection with the format:
// - 8 bytes: shardId (uint64, big endian)
// - 8 bytes: requestID (uint64, big endian)
// - 1 byte: flags (flagFinal)
// - 4 bytes: data length (uint32, big endian)
// - N bytes: data payload
func writeFrame(conn net.Conn, shardID uint64, requestID uint64, flags byte, data []byte) error {
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint64(header[:8], shardID)
	binary.BigEndian.PutUint64(header[8:16], requestID)
	header[16] = flags
	binary.BigEndian.PutUint32(header[17:21], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads a frame from the connection using the provided buffer
// If the buffer is too small, it will allocate a new temporary buffer for the data.
// The returned data aliases buf, callers that keep it must copy.
func readFrame(conn net.Conn, buf []byte) (frame, error) {
	if len(buf) < frameHeaderSize {
		buf = make([]byte, frameHeaderSize)
	}

	if _, err := io.ReadFull(conn, buf[:frameHeaderSize]); err != nil {
		return frame{}, err
	}

	f := frame{
		shardID:   binary.BigEndian.Uint64(buf[:8]),
		requestID: binary.BigEndian.Uint64(buf[8:16]),
		flags:     buf[16],
	}
	contentLength := binary.BigEndian.Uint32(buf[17:21])
	if contentLength > maxFrameSize {
		return frame{}, errors.Errorf("frame of %d bytes exceeds the limit of %d bytes", contentLength, maxFrameSize)
	}

	if contentLength == 0 {
		f.data = []byte{}
		return f, nil
	}

	if len(buf) < int(contentLength) {
		buf = make([]byte, contentLength)
	}
	if _, err := io.ReadFull(conn, buf[:contentLength]); err != nil {
		return frame{}, errors.Wrap(err, "read frame payload")
	}
	f.data = buf[:contentLength]
	return f, nil
}
