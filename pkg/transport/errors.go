package transport

import (
	"errors"
	"fmt"
)

// Common transport errors
var (
	ErrUnknownDestination = errors.New("unknown destination")
	ErrReceiverClosed     = errors.New("receiver is closed")
	ErrTransportClosed    = errors.New("transport is closed")
	ErrFrameTooLarge      = errors.New("frame exceeds maximum message size")
	ErrEmptyEndpoint      = errors.New("endpoint name is empty")
)

// TransportError carries the failing operation and endpoint alongside the
// underlying cause.
type TransportError struct {
	Operation string
	Endpoint  string
	Cause     error
}

// Error implements the error interface
func (e *TransportError) Error() string {
	if e.Endpoint != "" {
		return fmt.Sprintf("transport error in %s for %q: %v", e.Operation, e.Endpoint, e.Cause)
	}
	return fmt.Sprintf("transport error in %s: %v", e.Operation, e.Cause)
}

// Unwrap returns the underlying error
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// NewTransportError creates a new transport error
func NewTransportError(operation, endpoint string, cause error) *TransportError {
	return &TransportError{
		Operation: operation,
		Endpoint:  endpoint,
		Cause:     cause,
	}
}
