package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/rKV/lib/store"
	"github.com/cespare/xxhash/v2"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Session fields
	Token string `json:"token,omitempty"` // Session token, used for all requests after login
	User  string `json:"user,omitempty"`  // Used for: Login (request)

	// Record addressing
	Set    string `json:"set,omitempty"`    // Used for: Get, Put, Remove, Exists
	Digest []byte `json:"digest,omitempty"` // Used for: Get, Put, Remove, Exists

	// Payload, cbor encoded depending on the message type:
	// Put/Get bins, Query spec, QueryRow row, Index spec, Login password (raw) and node info
	Value []byte `json:"value,omitempty"`

	// Record meta data and policy
	Generation uint32 `json:"generation,omitempty"` // Used for: Get (response), Put/Remove with FlagGenerationCheck
	Expiration uint32 `json:"expiration,omitempty"` // Used for: Get (response), Put (request)
	Flags      uint8  `json:"flags,omitempty"`      // Policy flags, see FlagGenerationCheck and FlagIgnoreNotFound
	Timeout    uint32 `json:"timeout,omitempty"`    // Attempt budget in milliseconds (0 = server default)

	// Response only fields
	Ok   bool   `json:"ok,omitempty"`   // Used for: Exists responses
	Code int32  `json:"code,omitempty"` // Result code of an error response
	Err  string `json:"err,omitempty"`  // Empty if no error, otherwise contains the error message

	// Meta information
	Meta []byte `json:"meta,omitempty"` // Used for: the diagnostic of aggregation errors
}

// Policy flags of a request
const (
	FlagGenerationCheck uint8 = 1 << 0
	FlagIgnoreNotFound  uint8 = 1 << 1
)

// ControlShard is the shard id used for the session handshake and heartbeats.
// Every namespace is served on the shard NamespaceShard(namespace).
const ControlShard uint64 = 0

// NamespaceShard returns the shard id of a namespace
func NamespaceShard(namespace string) uint64 {
	return xxhash.Sum64String(namespace)
}

// NodeInfo is returned by a node on login and on every heartbeat
type NodeInfo struct {
	Name         string            `cbor:"1,keyasint" json:"name"`
	Members      map[string]string `cbor:"2,keyasint" json:"members"` // node name -> endpoint
	AuthRequired bool              `cbor:"3,keyasint" json:"auth_required"`
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewLoginRequest creates a new Login request
func NewLoginRequest(user, password string) *Message {
	return &Message{
		MsgType: MsgTLogin,
		User:    user,
		Value:   []byte(password),
	}
}

// NewLoginResponse creates a new Login response
func NewLoginResponse(token string, info []byte, err error) *Message {
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Message{
		MsgType: MsgTLogin,
		Token:   token,
		Value:   info,
	}
}

// NewHeartbeatRequest creates a new Heartbeat request
func NewHeartbeatRequest(token string) *Message {
	return &Message{
		MsgType: MsgTHeartbeat,
		Token:   token,
	}
}

// NewHeartbeatResponse creates a new Heartbeat response
func NewHeartbeatResponse(info []byte, err error) *Message {
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Message{
		MsgType: MsgTHeartbeat,
		Value:   info,
	}
}

// NewGetRequest creates a new Get request
func NewGetRequest(key *store.Key) *Message {
	digest := key.Digest()
	return &Message{
		MsgType: MsgTGet,
		Set:     key.Set(),
		Digest:  digest[:],
	}
}

// NewGetResponse creates a new Get response
func NewGetResponse(bins []byte, generation, expiration uint32, err error) *Message {
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Message{
		MsgType:    MsgTGet,
		Value:      bins,
		Generation: generation,
		Expiration: expiration,
	}
}

// NewExistsRequest creates a new Exists request
func NewExistsRequest(key *store.Key) *Message {
	msg := NewGetRequest(key)
	msg.MsgType = MsgTExists
	return msg
}

// NewExistsResponse creates a new Exists response
func NewExistsResponse(ok bool, err error) *Message {
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Message{
		MsgType: MsgTExists,
		Ok:      ok,
	}
}

// NewPutRequest creates a new Put request
func NewPutRequest(key *store.Key, bins []byte, p store.Policy) *Message {
	digest := key.Digest()
	return &Message{
		MsgType:    MsgTPut,
		Set:        key.Set(),
		Digest:     digest[:],
		Value:      bins,
		Generation: p.Generation,
		Expiration: p.Expiration,
		Flags:      policyFlags(p),
	}
}

// NewPutResponse creates a new Put response
func NewPutResponse(err error) *Message {
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Message{MsgType: MsgTPut}
}

// NewRemoveRequest creates a new Remove request
func NewRemoveRequest(key *store.Key, p store.Policy) *Message {
	digest := key.Digest()
	return &Message{
		MsgType:    MsgTRemove,
		Set:        key.Set(),
		Digest:     digest[:],
		Generation: p.Generation,
		Flags:      policyFlags(p),
	}
}

// NewRemoveResponse creates a new Remove response
func NewRemoveResponse(err error) *Message {
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Message{MsgType: MsgTRemove}
}

// NewQueryRequest creates a new Query request, the QuerySpec is encoded with store.EncodeQuery
func NewQueryRequest(spec []byte) *Message {
	return &Message{
		MsgType: MsgTQuery,
		Value:   spec,
	}
}

// NewQueryRowResponse creates one streamed row of a query, the row is encoded with store.EncodeRow
func NewQueryRowResponse(row []byte) *Message {
	return &Message{
		MsgType: MsgTQueryRow,
		Value:   row,
	}
}

// NewQueryResponse creates the final message of a query stream
func NewQueryResponse(err error) *Message {
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Message{MsgType: MsgTQuery}
}

// NewIndexCreateRequest creates a new IndexCreate request
func NewIndexCreateRequest(spec []byte) *Message {
	return &Message{
		MsgType: MsgTIndexCreate,
		Value:   spec,
	}
}

// NewIndexCreateResponse creates a new IndexCreate response
func NewIndexCreateResponse(err error) *Message {
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Message{MsgType: MsgTIndexCreate}
}

// NewIndexRemoveRequest creates a new IndexRemove request, only namespace and index name are sent
func NewIndexRemoveRequest(spec []byte) *Message {
	return &Message{
		MsgType: MsgTIndexRemove,
		Value:   spec,
	}
}

// NewIndexRemoveResponse creates a new IndexRemove response
func NewIndexRemoveResponse(err error) *Message {
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Message{MsgType: MsgTIndexRemove}
}

// NewErrorResponse creates a new error response. Errors that are not a
// *store.Error are reported as store.ResultClientError.
func NewErrorResponse(err error) *Message {
	storeErr := store.AsError(err)
	msg := &Message{
		MsgType: MsgTError,
		Code:    int32(storeErr.Code),
		Err:     storeErr.Msg,
	}
	if storeErr.Diagnostic != store.DiagNone {
		msg.Meta = []byte{byte(storeErr.Diagnostic)}
	}
	return msg
}

// Error converts an error response back into a *store.Error.
// It returns nil if the message is not an error response.
func (m *Message) Error() *store.Error {
	if m.MsgType != MsgTError && m.Err == "" {
		return nil
	}
	err := store.NewError(store.ResultCode(m.Code), m.Err)
	if len(m.Meta) > 0 {
		err.Diagnostic = store.Diagnostic(m.Meta[0])
	}
	return err
}

func policyFlags(p store.Policy) uint8 {
	var flags uint8
	if p.GenerationCheck {
		flags |= FlagGenerationCheck
	}
	if p.IgnoreNotFound {
		flags |= FlagIgnoreNotFound
	}
	return flags
}

// --------------------------------------------------------------------------
// Message Type Definition
// --------------------------------------------------------------------------

// MessageType defines the type of message used in RPC communication.
type MessageType uint8

// String returns the string representation of a MessageType.
func (t MessageType) String() string {
	switch t {
	case MsgTLogin:
		return "login"
	case MsgTHeartbeat:
		return "heartbeat"
	case MsgTGet:
		return "get"
	case MsgTPut:
		return "put"
	case MsgTRemove:
		return "remove"
	case MsgTExists:
		return "exists"
	case MsgTQuery:
		return "query"
	case MsgTQueryRow:
		return "queryRow"
	case MsgTIndexCreate:
		return "indexCreate"
	case MsgTIndexRemove:
		return "indexRemove"
	case MsgTError:
		return "error"
	case MsgTSuccess:
		return "success"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
// This allows MessageType to be deserialized from a string in JSON.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	// Convert string back to MessageType
	switch s {
	case "login":
		*t = MsgTLogin
	case "heartbeat":
		*t = MsgTHeartbeat
	case "get":
		*t = MsgTGet
	case "put":
		*t = MsgTPut
	case "remove":
		*t = MsgTRemove
	case "exists":
		*t = MsgTExists
	case "query":
		*t = MsgTQuery
	case "queryRow":
		*t = MsgTQueryRow
	case "indexCreate":
		*t = MsgTIndexCreate
	case "indexRemove":
		*t = MsgTIndexRemove
	case "error":
		*t = MsgTError
	case "success":
		*t = MsgTSuccess
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}

	return nil
}

// --------------------------------------------------------------------------
// Message Type Constants
// --------------------------------------------------------------------------

const (
	// General message types

	MsgTUnknown MessageType = iota
	MsgTSuccess             // Indicates a successful operation
	MsgTError               // Indicates an error occurred

	// Session operations

	MsgTLogin     // Authenticate and open a session
	MsgTHeartbeat // Liveness check, returns the node info

	// Record operations

	MsgTGet    // Read a record
	MsgTPut    // Write (merge) the bins of a record
	MsgTRemove // Remove a record
	MsgTExists // Check if a record exists

	// Query operations

	MsgTQuery       // Execute a query (request and final response)
	MsgTQueryRow    // One streamed row of a query
	MsgTIndexCreate // Create a secondary index
	MsgTIndexRemove // Remove a secondary index
)
