package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessageFormatting(t *testing.T) {
	withCause := TransportError("multicast failed", errors.New("connection reset"))
	assert.Equal(t, "transport: multicast failed: connection reset", withCause.Error())

	withoutCause := ValidationError("group id is required")
	assert.Equal(t, "validation: group id is required", withoutCause.Error())
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("redis down")
	err := ChannelUnavailableError("subscribe failed", cause)

	assert.True(t, errors.Is(err, cause))
}

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		err    *Error
		status int
	}{
		{ValidationError("missing field"), http.StatusBadRequest},
		{UnknownConnectionError("abc"), http.StatusNotFound},
		{TransportError("send failed", nil), http.StatusBadGateway},
		{ChannelUnavailableError("down", nil), http.StatusServiceUnavailable},
		{InternalError("boom", nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.status, tt.err.HTTPStatus(), "type %s", tt.err.Type)
	}
}

func TestTypeOfUnstructuredError(t *testing.T) {
	assert.Equal(t, TypeInternal, TypeOf(errors.New("plain")))
	assert.Equal(t, TypeValidation, TypeOf(fmt.Errorf("wrapped: %w", ValidationError("bad"))))
}

func TestHTTPStatusOf(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusOf(errors.New("plain")))
	assert.Equal(t, http.StatusNotFound, HTTPStatusOf(fmt.Errorf("op: %w", UnknownConnectionError("x"))))
}

func TestWithContextChaining(t *testing.T) {
	err := ValidationError("group id is required").
		WithContext("connection_id", "conn-1").
		WithContext("event", "join-group")

	assert.Equal(t, "conn-1", err.Context["connection_id"])
	assert.Equal(t, "join-group", err.Context["event"])
}

func TestAsStructuredErrorPassesThrough(t *testing.T) {
	original := ValidationError("bad input")
	assert.Same(t, original, AsStructuredError(original))

	wrapped := fmt.Errorf("handler: %w", original)
	assert.Same(t, original, AsStructuredError(wrapped))
}

func TestAsStructuredErrorWrapsUnstructured(t *testing.T) {
	err := AsStructuredError(errors.New("boom"))
	assert.Equal(t, TypeInternal, err.Type)
	assert.EqualError(t, err.Cause, "boom")
}

func TestToResponseHidesCause(t *testing.T) {
	err := TransportError("multicast failed", errors.New("secret detail")).
		WithContext("room", "group_12")

	resp := err.ToResponse()
	assert.Equal(t, "transport", resp.Error)
	assert.Equal(t, "multicast failed", resp.Message)
	assert.Equal(t, "group_12", resp.Context["room"])
	assert.NotContains(t, resp.Message, "secret")
}
