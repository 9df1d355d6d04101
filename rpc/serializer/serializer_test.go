package serializer

import (
	"reflect"
	"testing"

	"github.com/ValentinKolb/rKV/rpc/common"
)

// testSerializers is a map of serializer name to factory function
var testSerializers = map[string]func() IRPCSerializer{
	"JSON":   NewJSONSerializer,
	"CBOR":   NewCBORSerializer,
	"Binary": NewBinarySerializer,
}

var testDigest = []byte{
	0xec, 0x91, 0x19, 0x2d, 0x4b, 0x7f, 0x8c, 0xe3, 0x5d, 0x5d,
	0x78, 0xd3, 0x4b, 0xca, 0x65, 0xcb, 0xaa, 0xaa, 0xc9, 0x60,
}

// testMessages creates a set of test messages with different fields filled
func testMessages() []common.Message {
	return []common.Message{
		// Basic message with just a type
		{MsgType: common.MsgTSuccess},

		// Login request and response
		{
			MsgType: common.MsgTLogin,
			User:    "admin",
			Value:   []byte("admin123"),
		},
		{
			MsgType: common.MsgTLogin,
			Token:   "5f1b9f7e-4a57-4a9e-9c1d-7a3f35e0c2b1",
			Value:   []byte{0xa1, 0x01, 0x66, 'n', 'o', 'd', 'e', '-', '1'},
		},

		// Put request with policy
		{
			MsgType:    common.MsgTPut,
			Token:      "token",
			Set:        "demo",
			Digest:     testDigest,
			Value:      []byte("bins"),
			Generation: 3,
			Expiration: 60,
			Flags:      common.FlagGenerationCheck,
			Timeout:    1000,
		},

		// Exists response
		{
			MsgType: common.MsgTExists,
			Ok:      true,
		},

		// Aggregation error response
		{
			MsgType: common.MsgTError,
			Code:    100,
			Err:     "UDF: Execution Error 2 : function not found",
			Meta:    []byte{2},
		},

		// Negative result code
		{
			MsgType: common.MsgTError,
			Code:    -2,
			Err:     "predicate is invalid.",
		},
	}
}

// TestSerializerRoundTrip tests that messages can be serialized and deserialized correctly
func TestSerializerRoundTrip(t *testing.T) {
	messages := testMessages()

	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			for i, msg := range messages {
				// Serialize
				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message %d: %v", i, err)
					continue
				}

				// Deserialize into a dirty message, all fields must be overwritten
				result := common.Message{Token: "stale", Ok: true, Meta: []byte("stale")}
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message %d: %v", i, err)
					continue
				}

				// Compare
				if !reflect.DeepEqual(msg, result) {
					t.Errorf("Message %d doesn't match after round trip:\nOriginal: %+v\nResult: %+v",
						i, msg, result)
				}
			}
		})
	}
}

// TestMessageTypes tests each message type with each serializer
func TestMessageTypes(t *testing.T) {
	for name, factory := range testSerializers {
		t.Run(name, func(t *testing.T) {
			serializer := factory()

			// Test each message type (don't test for MsgTUnknown since json rejects it)
			for msgType := common.MsgTSuccess; msgType <= common.MsgTIndexRemove; msgType++ {
				msg := common.Message{MsgType: msgType}

				data, err := serializer.Serialize(msg)
				if err != nil {
					t.Errorf("Failed to serialize message type %s: %v", msgType.String(), err)
					continue
				}

				var result common.Message
				err = serializer.Deserialize(data, &result)
				if err != nil {
					t.Errorf("Failed to deserialize message type %s: %v", msgType.String(), err)
					continue
				}

				if result.MsgType != msgType {
					t.Errorf("Message type doesn't match after round trip: Expected %s, got %s",
						msgType.String(), result.MsgType.String())
				}
			}
		})
	}
}

// TestBinarySerializerSpecific tests specific edge cases for the binary serializer
func TestBinarySerializerSpecific(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name string
		msg  common.Message
	}{
		{
			name: "Empty message",
			msg:  common.Message{},
		},
		{
			name: "Empty value slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTPut,
				Digest:  testDigest,
				Value:   []byte{},
			},
		},
		{
			name: "Empty meta slice but not nil",
			msg: common.Message{
				MsgType: common.MsgTError,
				Meta:    []byte{},
			},
		},
		{
			name: "Maximum numbers",
			msg: common.Message{
				MsgType:    common.MsgTGet,
				Generation: ^uint32(0),
				Expiration: ^uint32(0),
				Flags:      0xff,
				Timeout:    ^uint32(0),
				Code:       -2147483648,
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data, err := serializer.Serialize(tc.msg)
			if err != nil {
				t.Fatalf("Failed to serialize: %v", err)
			}

			var result common.Message
			if err = serializer.Deserialize(data, &result); err != nil {
				t.Fatalf("Failed to deserialize: %v", err)
			}

			// nil and empty slices must be kept apart
			if !reflect.DeepEqual(tc.msg, result) {
				t.Errorf("Message doesn't match after round trip:\nOriginal: %+v\nResult: %+v", tc.msg, result)
			}
		})
	}
}

// TestInvalidBinaryData tests how the binary serializer handles corrupt or invalid data
func TestInvalidBinaryData(t *testing.T) {
	serializer := NewBinarySerializer()

	testCases := []struct {
		name        string
		data        []byte
		expectError bool
	}{
		{
			name:        "Empty data",
			data:        []byte{},
			expectError: true,
		},
		{
			name:        "Too short header",
			data:        []byte{1, 0}, // Message type and one presence byte
			expectError: true,
		},
		{
			name:        "Valid header only",
			data:        []byte{1, 0, 0},
			expectError: false,
		},
		{
			name:        "Invalid length for token",
			data:        []byte{1, 0, 1, 0, 0, 0, 5, 'a', 'b', 'c'}, // Claims length 5 but only 3 bytes provided
			expectError: true,
		},
		{
			name:        "Invalid length for value",
			data:        []byte{1, 0, 16, 0, 0, 0, 10}, // Claims value length 10 but no bytes provided
			expectError: true,
		},
		{
			name:        "Missing generation",
			data:        []byte{6, 0, 32, 0, 0},
			expectError: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var msg common.Message
			err := serializer.Deserialize(tc.data, &msg)

			if tc.expectError && err == nil {
				t.Errorf("Expected error but got none")
			} else if !tc.expectError && err != nil {
				t.Errorf("Did not expect error but got: %v", err)
			}
		})
	}
}

func TestByName(t *testing.T) {
	for _, name := range []string{"", "binary", "cbor", "json"} {
		if _, ok := ByName(name); !ok {
			t.Errorf("ByName(%q) returned no serializer", name)
		}
	}
	if _, ok := ByName("gob"); ok {
		t.Errorf("ByName(gob) should fail")
	}
}
