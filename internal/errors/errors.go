// Package errors provides structured error handling with context propagation and HTTP status code mapping.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType represents the category of error for metrics and response formatting.
type ErrorType string

const (
	// TypeValidation indicates invalid input, e.g. a missing group id (HTTP 400)
	TypeValidation ErrorType = "validation"
	// TypeUnknownConnection indicates an operation referencing a connection id that is not registered (HTTP 404)
	TypeUnknownConnection ErrorType = "unknown_connection"
	// TypeTransport indicates the underlying multicast/send primitive failed (HTTP 502)
	TypeTransport ErrorType = "transport"
	// TypeChannel indicates the cross-node channel is unavailable (HTTP 503)
	TypeChannel ErrorType = "channel_unavailable"
	// TypeInternal indicates a server-side error (HTTP 500)
	TypeInternal ErrorType = "internal"
)

// Error represents a structured error with type, message, and context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the appropriate HTTP status code for this error type.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeUnknownConnection:
		return http.StatusNotFound
	case TypeTransport:
		return http.StatusBadGateway
	case TypeChannel:
		return http.StatusServiceUnavailable
	case TypeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// ValidationError creates a new validation error (HTTP 400).
func ValidationError(message string) *Error {
	return &Error{
		Type:    TypeValidation,
		Message: message,
		Context: make(map[string]any),
	}
}

// UnknownConnectionError creates an error for an unregistered connection id (HTTP 404).
func UnknownConnectionError(connID string) *Error {
	return &Error{
		Type:    TypeUnknownConnection,
		Message: "connection not registered",
		Context: map[string]any{"connection_id": connID},
	}
}

// TransportError wraps a failure of the underlying send/multicast primitive (HTTP 502).
func TransportError(message string, cause error) *Error {
	return &Error{
		Type:    TypeTransport,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// ChannelUnavailableError wraps a cross-node channel failure (HTTP 503).
func ChannelUnavailableError(message string, cause error) *Error {
	return &Error{
		Type:    TypeChannel,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// InternalError creates a new internal error (HTTP 500).
func InternalError(message string, cause error) *Error {
	return &Error{
		Type:    TypeInternal,
		Message: message,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// WithContext adds context fields to the error (chainable).
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Response is the JSON body returned to HTTP clients for a structured error.
type Response struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// ToResponse converts the error into its client-facing JSON form. The cause
// is never exposed.
func (e *Error) ToResponse() Response {
	return Response{
		Error:   string(e.Type),
		Message: e.Message,
		Context: e.Context,
	}
}

// AsStructuredError converts any error into a structured Error, wrapping
// unstructured errors as TypeInternal.
func AsStructuredError(err error) *Error {
	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}
	return InternalError("internal server error", err)
}

// TypeOf extracts the ErrorType from err, returning TypeInternal for
// unstructured errors.
func TypeOf(err error) ErrorType {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.Type
	}
	return TypeInternal
}

// HTTPStatusOf returns the HTTP status for err, defaulting to 500 for
// unstructured errors.
func HTTPStatusOf(err error) int {
	var structured *Error
	if errors.As(err, &structured) {
		return structured.HTTPStatus()
	}
	return http.StatusInternalServerError
}
