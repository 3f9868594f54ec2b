package roomkit

import (
	"errors"
	"fmt"
)

// ErrorCode represents a categorized error type.
type ErrorCode int

const (
	ErrorUnknown ErrorCode = iota

	// ErrorConnection covers transport-level failures (dial refused, write
	// failed, abrupt drop).
	ErrorConnection

	// ErrorReconnectFailed is terminal: the reconnect attempt budget for the
	// current session was exhausted.
	ErrorReconnectFailed

	// ErrorNotConnected means a send was attempted without an open transport.
	ErrorNotConnected

	// ErrorProtocol means an inbound frame could not be decoded. The frame is
	// discarded; the connection stays up.
	ErrorProtocol

	// ErrorSerialization means an outbound payload could not be encoded.
	ErrorSerialization

	// ErrorInvalidConfig means the client configuration is unusable.
	ErrorInvalidConfig

	// ErrorAPI wraps a REST facade failure (history, presence, room metadata).
	ErrorAPI
)

// String returns the string representation of an ErrorCode.
func (e ErrorCode) String() string {
	switch e {
	case ErrorUnknown:
		return "unknown"
	case ErrorConnection:
		return "connection_error"
	case ErrorReconnectFailed:
		return "reconnect_failed"
	case ErrorNotConnected:
		return "not_connected"
	case ErrorProtocol:
		return "protocol_error"
	case ErrorSerialization:
		return "serialization_error"
	case ErrorInvalidConfig:
		return "invalid_config"
	case ErrorAPI:
		return "api_error"
	default:
		return fmt.Sprintf("unknown_code_%d", e)
	}
}

// Error is a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Wrapped error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s (wrapped: %v)", e.Code, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Unwrap support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// Is implements errors.Is support for error comparison by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with an Error.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Wrapped: err,
	}
}

// CodeOf extracts the ErrorCode from err, or ErrorUnknown if err does not
// carry one.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrorUnknown
}

// IsConnectionError checks if an error is a connection-related error.
func IsConnectionError(err error) bool {
	switch CodeOf(err) {
	case ErrorConnection, ErrorReconnectFailed, ErrorNotConnected:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether err ended the current session for good. A
// terminal error requires a fresh Connect to recover.
func IsTerminal(err error) bool {
	return CodeOf(err) == ErrorReconnectFailed
}
