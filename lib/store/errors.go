package store

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Result Codes
// --------------------------------------------------------------------------

// ResultCode is the numeric status of an operation. Positive codes are
// reported by the server, negative codes originate in the client.
type ResultCode int

const (
	ResultOK                 ResultCode = 0   // Command executed successfully.
	ResultKeyNotFound        ResultCode = 2   // Record does not exist.
	ResultGenerationError    ResultCode = 3   // Generation check failed.
	ResultRequestInvalid     ResultCode = 4   // Request is malformed or names an unknown namespace.
	ResultTimeout            ResultCode = 9   // No response within the timeout.
	ResultClusterUnavailable ResultCode = 11  // No connection to the cluster.
	ResultInvalidCredential  ResultCode = 65  // User or password rejected.
	ResultNotAuthenticated   ResultCode = 80  // Session unknown or expired.
	ResultUDFError           ResultCode = 100 // Aggregation failed.
	ResultIndexNotFound      ResultCode = 201 // No matching secondary index.

	ResultClientError        ResultCode = -1  // Unexpected client side failure.
	ResultParameterError     ResultCode = -2  // Missing or malformed parameter.
	ResultNetworkError       ResultCode = -3  // Socket fault.
	ResultConnectionClosed   ResultCode = -4  // Client closed while the request was pending.
	ResultInvalidKey         ResultCode = -5  // Key cannot be digested.
	ResultServerNotAvailable ResultCode = -8  // Owning node is unreachable.
	ResultSerializeError     ResultCode = -10 // Value cannot be encoded or decoded.
)

// String returns the symbolic name of the code
func (c ResultCode) String() string {
	switch c {
	case ResultOK:
		return "OK"
	case ResultKeyNotFound:
		return "KeyNotFound"
	case ResultGenerationError:
		return "GenerationError"
	case ResultRequestInvalid:
		return "RequestInvalid"
	case ResultTimeout:
		return "Timeout"
	case ResultClusterUnavailable:
		return "ClusterUnavailable"
	case ResultInvalidCredential:
		return "InvalidCredential"
	case ResultNotAuthenticated:
		return "NotAuthenticated"
	case ResultUDFError:
		return "UDFError"
	case ResultIndexNotFound:
		return "IndexNotFound"
	case ResultClientError:
		return "ClientError"
	case ResultParameterError:
		return "ParameterError"
	case ResultNetworkError:
		return "NetworkError"
	case ResultConnectionClosed:
		return "ConnectionClosed"
	case ResultInvalidKey:
		return "InvalidKey"
	case ResultServerNotAvailable:
		return "ServerNotAvailable"
	case ResultSerializeError:
		return "SerializeError"
	default:
		return "Unknown"
	}
}

// --------------------------------------------------------------------------
// Error Kinds
// --------------------------------------------------------------------------

// Kind classifies errors independent of the exact result code.
// Kinds implement error so they can be used as errors.Is targets.
type Kind uint8

const (
	KindInternal Kind = iota
	KindRecordNotFound
	KindGenerationMismatch
	KindRequestInvalid
	KindTimeout
	KindConnection
	KindAuthentication
	KindConnectionClosed
	KindAggregation
	KindIndexNotFound
	KindInvalidArgument
	KindNetwork
	KindInvalidKey
	KindSerialize
)

// Sentinels for errors.Is
var (
	ErrInternal           error = KindInternal
	ErrRecordNotFound     error = KindRecordNotFound
	ErrGenerationMismatch error = KindGenerationMismatch
	ErrRequestInvalid     error = KindRequestInvalid
	ErrTimeout            error = KindTimeout
	ErrConnection         error = KindConnection
	ErrAuthentication     error = KindAuthentication
	ErrConnectionClosed   error = KindConnectionClosed
	ErrAggregation        error = KindAggregation
	ErrIndexNotFound      error = KindIndexNotFound
	ErrInvalidArgument    error = KindInvalidArgument
	ErrNetwork            error = KindNetwork
	ErrInvalidKey         error = KindInvalidKey
	ErrSerialize          error = KindSerialize
)

// Error implements the error interface
func (k Kind) Error() string {
	switch k {
	case KindRecordNotFound:
		return "record not found"
	case KindGenerationMismatch:
		return "generation mismatch"
	case KindRequestInvalid:
		return "request invalid"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection error"
	case KindAuthentication:
		return "authentication error"
	case KindConnectionClosed:
		return "connection closed"
	case KindAggregation:
		return "aggregation error"
	case KindIndexNotFound:
		return "index not found"
	case KindInvalidArgument:
		return "invalid argument"
	case KindNetwork:
		return "network error"
	case KindInvalidKey:
		return "invalid key"
	case KindSerialize:
		return "serialize error"
	default:
		return "internal error"
	}
}

// KindOf maps a result code to its error kind
func KindOf(code ResultCode) Kind {
	switch code {
	case ResultKeyNotFound:
		return KindRecordNotFound
	case ResultGenerationError:
		return KindGenerationMismatch
	case ResultRequestInvalid:
		return KindRequestInvalid
	case ResultTimeout:
		return KindTimeout
	case ResultClusterUnavailable, ResultServerNotAvailable:
		return KindConnection
	case ResultInvalidCredential, ResultNotAuthenticated:
		return KindAuthentication
	case ResultConnectionClosed:
		return KindConnectionClosed
	case ResultUDFError:
		return KindAggregation
	case ResultIndexNotFound:
		return KindIndexNotFound
	case ResultParameterError:
		return KindInvalidArgument
	case ResultNetworkError:
		return KindNetwork
	case ResultInvalidKey:
		return KindInvalidKey
	case ResultSerializeError:
		return KindSerialize
	default:
		return KindInternal
	}
}

// --------------------------------------------------------------------------
// Aggregation Diagnostics
// --------------------------------------------------------------------------

// Diagnostic details an aggregation failure
type Diagnostic int

const (
	DiagNone             Diagnostic = 0
	DiagModuleNotFound   Diagnostic = 1
	DiagFunctionNotFound Diagnostic = 2
	DiagTooFewArguments  Diagnostic = 3
	DiagExecution        Diagnostic = 4
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error wraps a result code, a message and, for aggregation failures,
// a diagnostic. Every error returned by the store packages is an *Error.
type Error struct {
	Code       ResultCode // The result code
	Msg        string     // The error message
	Diagnostic Diagnostic // Aggregation diagnostic (0 if not applicable)
}

// NewError creates a new Error with the given code and message.
func NewError(code ResultCode, msg string) *Error {
	return &Error{Code: code, Msg: msg}
}

// Errorf creates a new Error with a formatted message
func Errorf(code ResultCode, format string, args ...any) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// NewAggregationError creates an aggregation error with a diagnostic
func NewAggregationError(diag Diagnostic, msg string) *Error {
	return &Error{Code: ResultUDFError, Msg: msg, Diagnostic: diag}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Diagnostic != DiagNone {
		return fmt.Sprintf("%s (code %d, diagnostic %d): %s", e.Code, e.Code, e.Diagnostic, e.Msg)
	}
	return fmt.Sprintf("%s (code %d): %s", e.Code, e.Code, e.Msg)
}

// Kind returns the error kind of the result code
func (e *Error) Kind() Kind {
	return KindOf(e.Code)
}

// Is makes errors.Is work with Kind sentinels and with *Error values of the same code.
// Authentication and closed-connection errors are connection errors as well.
func (e *Error) Is(target error) bool {
	switch t := target.(type) {
	case Kind:
		kind := e.Kind()
		if kind == t {
			return true
		}
		return t == KindConnection && (kind == KindAuthentication || kind == KindConnectionClosed)
	case *Error:
		return t != nil && t.Code == e.Code
	}
	return false
}

// Retryable reports whether the operation may be attempted again
func (e *Error) Retryable() bool {
	return e.Code == ResultNetworkError || e.Code == ResultServerNotAvailable
}

// AsError converts any error into an *Error. Errors that are not already
// an *Error become client errors.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Code: ResultClientError, Msg: err.Error()}
}

// CodeOf returns the result code of an error (ResultOK for nil)
func CodeOf(err error) ResultCode {
	if err == nil {
		return ResultOK
	}
	return AsError(err).Code
}

// IsRetryable reports whether err is a retryable transport fault
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}
