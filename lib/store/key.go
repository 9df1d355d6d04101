package store

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"github.com/ValentinKolb/rKV/lib/value"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // the digest algorithm is fixed by the wire format
)

// DigestSize is the length of a record digest in bytes
const DigestSize = ripemd160.Size

// PartitionCount is the number of partitions records are distributed over
const PartitionCount = 4096

// Particle types of the supported user key values. They are part of the
// digest input, so an integer key and a string key never collide.
const (
	particleInteger byte = 1
	particleString  byte = 3
	particleBytes   byte = 4
)

// Digest is the 20 byte identifier of a record within a namespace
type Digest [DigestSize]byte

// String returns the hex representation of the digest
func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// ParseDigest parses the hex representation of a digest
func ParseDigest(s string) (Digest, error) {
	var d Digest
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, NewError(ResultInvalidKey, fmt.Sprintf("invalid digest %q: %v", s, err))
	}
	if len(raw) != DigestSize {
		return d, NewError(ResultInvalidKey, fmt.Sprintf("invalid digest length %d, expected %d", len(raw), DigestSize))
	}
	copy(d[:], raw)
	return d, nil
}

// ComputeDigest computes the digest of a user key within a set.
// Supported user key types are all integer kinds, string and []byte.
// Unsigned integers above math.MaxInt64 are rejected. Set names must not
// contain control characters, the particle byte separates set and key.
func ComputeDigest(set string, userKey any) (Digest, error) {
	var d Digest
	for i := 0; i < len(set); i++ {
		if set[i] < 0x20 || set[i] == 0x7f {
			return d, Errorf(ResultInvalidKey, "set name %q contains a control character", set)
		}
	}
	particle, raw, err := keyBytes(userKey)
	if err != nil {
		return d, err
	}
	h := ripemd160.New()
	h.Write([]byte(set))
	h.Write([]byte{particle})
	h.Write(raw)
	copy(d[:], h.Sum(nil))
	return d, nil
}

func keyBytes(userKey any) (byte, []byte, error) {
	var i int64
	switch k := userKey.(type) {
	case string:
		return particleString, []byte(k), nil
	case []byte:
		return particleBytes, k, nil
	case value.Value:
		switch k.Type() {
		case value.TypeInt:
			n, _ := k.AsInt()
			return keyBytes(n)
		case value.TypeString:
			s, _ := k.AsString()
			return keyBytes(s)
		case value.TypeBytes:
			b, _ := k.AsBytes()
			return keyBytes(b)
		}
		return 0, nil, NewError(ResultInvalidKey, fmt.Sprintf("unsupported key value type %s", k.Type()))
	case int:
		i = int64(k)
	case int8:
		i = int64(k)
	case int16:
		i = int64(k)
	case int32:
		i = int64(k)
	case int64:
		i = k
	case uint8:
		i = int64(k)
	case uint16:
		i = int64(k)
	case uint32:
		i = int64(k)
	case uint:
		if uint64(k) > math.MaxInt64 {
			return 0, nil, Errorf(ResultInvalidKey, "unsigned key %d overflows int64", k)
		}
		i = int64(k)
	case uint64:
		if k > math.MaxInt64 {
			return 0, nil, Errorf(ResultInvalidKey, "unsigned key %d overflows int64", k)
		}
		i = int64(k)
	case nil:
		return 0, nil, NewError(ResultInvalidKey, "key value must not be nil")
	default:
		return 0, nil, NewError(ResultInvalidKey, fmt.Sprintf("unsupported key value type %T", userKey))
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(i))
	return particleInteger, buf, nil
}

// --------------------------------------------------------------------------
// Key
// --------------------------------------------------------------------------

// Key addresses a single record. It is immutable once constructed.
type Key struct {
	namespace string
	set       string
	userKey   any
	digest    Digest
}

// NewKey creates a key from a namespace, an optional set and a user key value.
// The namespace is not part of the digest.
func NewKey(namespace, set string, userKey any) (*Key, error) {
	if namespace == "" {
		return nil, NewError(ResultParameterError, "namespace must not be empty")
	}
	digest, err := ComputeDigest(set, userKey)
	if err != nil {
		return nil, err
	}
	if b, ok := userKey.([]byte); ok {
		userKey = append([]byte(nil), b...)
	}
	return &Key{namespace: namespace, set: set, userKey: userKey, digest: digest}, nil
}

// NewKeyWithDigest creates a key from a precomputed digest. The user key of
// such a key is unknown.
func NewKeyWithDigest(namespace, set string, digest Digest) (*Key, error) {
	if namespace == "" {
		return nil, NewError(ResultParameterError, "namespace must not be empty")
	}
	return &Key{namespace: namespace, set: set, digest: digest}, nil
}

// Namespace returns the namespace of the key
func (k *Key) Namespace() string { return k.namespace }

// Set returns the set of the key (may be empty)
func (k *Key) Set() string { return k.set }

// UserKey returns the original user key value or nil if the key was built from a digest
func (k *Key) UserKey() any { return k.userKey }

// Digest returns the digest of the key
func (k *Key) Digest() Digest { return k.digest }

// PartitionID returns the partition the record belongs to
func (k *Key) PartitionID() uint32 {
	return PartitionOf(k.digest)
}

// PartitionOf returns the partition of a digest
func PartitionOf(d Digest) uint32 {
	return uint32(binary.LittleEndian.Uint16(d[0:2])) % PartitionCount
}

// Equal reports whether two keys address the same record
func (k *Key) Equal(other *Key) bool {
	if k == nil || other == nil {
		return k == other
	}
	return k.namespace == other.namespace && k.digest == other.digest
}

// String returns a human readable representation of the key
func (k *Key) String() string {
	if k.userKey != nil {
		return fmt.Sprintf("%s:%s:%v:%s", k.namespace, k.set, k.userKey, k.digest)
	}
	return fmt.Sprintf("%s:%s::%s", k.namespace, k.set, k.digest)
}
