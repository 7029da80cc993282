package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported indicates that the platform lacks the requested capability
	// (e.g. CPU affinity or real-time scheduling). It is never transient.
	ErrUnsupported = errors.New("operation not supported on this platform")

	// ErrTaskDeleted indicates that a task handle was already deleted
	ErrTaskDeleted = errors.New("task already deleted")

	// ErrInvalidBufferSize indicates a Buffer policy without a positive size
	ErrInvalidBufferSize = errors.New("buffer policy requires a size greater than zero")

	// ErrUnknownTransport indicates that the policy names a transport that is not registered
	ErrUnknownTransport = errors.New("unknown transport")

	// ErrMissingNameID indicates that a stream was requested without a name
	ErrMissingNameID = errors.New("stream requires a name_id")

	// ErrLocalStream indicates that a stream was requested over the in-process transport
	ErrLocalStream = errors.New("streams require a non-local transport")

	// ErrAlreadyConnected indicates that the requested connection conflicts with an existing one
	ErrAlreadyConnected = errors.New("ports already have an incompatible connection")

	// ErrIncompatiblePort indicates a direction or data type mismatch between two ports
	ErrIncompatiblePort = errors.New("incompatible port")

	// ErrDuplicatePort indicates that a port with the same name is already registered
	ErrDuplicatePort = errors.New("port already registered")

	// ErrPortNotFound indicates that no port with the given name is registered
	ErrPortNotFound = errors.New("port not found")

	// ErrTransportClosed indicates that a stream endpoint was used after Close
	ErrTransportClosed = errors.New("transport endpoint closed")

	// ErrCircuitOpen indicates that a stream writer is failing fast after repeated publish errors
	ErrCircuitOpen = errors.New("circuit breaker is open")
)

// Error represents a structured error carrying a machine-readable code
type Error struct {
	// Code is a machine-readable error code
	Code string

	// Message is a human-readable error message
	Message string

	// Err is the underlying error, if any
	Err error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new coded error
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewResourceError reports an OS resource failure (thread creation, scheduling attributes).
func NewResourceError(message string, err error) *Error {
	return NewError("RESOURCE", message, err)
}

// NewConnectionError reports a rejected connection or stream request.
func NewConnectionError(message string, err error) *Error {
	return NewError("CONNECTION", message, err)
}

// NewTransportError reports a failure inside a transport endpoint.
func NewTransportError(message string, err error) *Error {
	return NewError("TRANSPORT", message, err)
}

// IsUnsupported checks if an error reports a missing platform capability
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}
