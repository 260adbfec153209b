package model

import (
	"context"
	"errors"
	"fmt"

	"s3mcp/internal/protocol"
)

// Error is the typed failure surfaced by the storage adapter and transfer
// engine. Kind is one of the protocol.ErrorKind* constants; the dispatcher
// maps it verbatim into the response envelope so the calling agent can branch
// on it instead of parsing free text.
type Error struct {
	Kind      string
	Message   string
	Retryable bool
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newError(kind, message string, retryable bool, cause error) *Error {
	return &Error{Kind: kind, Message: message, Retryable: retryable, cause: cause}
}

func NewConnectivityError(message string, cause error) *Error {
	return newError(protocol.ErrorKindConnectivity, message, true, cause)
}

func NewNotFoundError(message string, cause error) *Error {
	return newError(protocol.ErrorKindNotFound, message, false, cause)
}

func NewRangeNotSatisfiableError(message string, cause error) *Error {
	return newError(protocol.ErrorKindRangeNotSatisfiable, message, false, cause)
}

func NewIntegrityError(message string, cause error) *Error {
	return newError(protocol.ErrorKindIntegrity, message, false, cause)
}

// NewDestinationError reports a failure writing the local destination sink
// (disk full, permissions). Not retryable: the caller cannot fix it by
// re-invoking.
func NewDestinationError(message string, cause error) *Error {
	return newError(protocol.ErrorKindDestination, message, false, cause)
}

func NewSchemaValidationError(message string) *Error {
	return newError(protocol.ErrorKindSchemaValidation, message, false, nil)
}

func NewTimeoutError(message string, cause error) *Error {
	return newError(protocol.ErrorKindTimeout, message, false, cause)
}

func NewCancelledError(message string, cause error) *Error {
	return newError(protocol.ErrorKindCancelled, message, false, cause)
}

func NewOverloadError(message string) *Error {
	return newError(protocol.ErrorKindOverload, message, true, nil)
}

// AsError extracts a typed *Error from err's chain, if present.
func AsError(err error) (*Error, bool) {
	var typed *Error
	if errors.As(err, &typed) {
		return typed, true
	}
	return nil, false
}

// KindOf reports the error kind for err. Untyped errors classify by context
// state first (deadline vs explicit cancel), then fall back to connectivity.
func KindOf(err error) string {
	if typed, ok := AsError(err); ok {
		return typed.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return protocol.ErrorKindCancelled
	default:
		return protocol.ErrorKindConnectivity
	}
}

// IsRetryable reports whether the caller may usefully retry err as-is.
func IsRetryable(err error) bool {
	if typed, ok := AsError(err); ok {
		return typed.Retryable
	}
	return KindOf(err) == protocol.ErrorKindConnectivity
}
