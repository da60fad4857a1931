package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"not connected", NotConnected("threads"), CodeNotConnected},
		{"handshake", HandshakeFailed("attach", io.EOF), CodeHandshakeFailed},
		{"channel closed", ChannelClosed(io.EOF), CodeChannelClosed},
		{"timeout", Timeout("evaluate", time.Second), CodeTimeout},
		{"rejected", ProtocolRejected("next", "not stopped"), CodeProtocolRejected},
		{"bad request", BadRequest("step_type", "sideways", "in, over, out"), CodeBadRequest},
		{"wrapped", fmt.Errorf("outer: %w", ChannelClosed(nil)), CodeChannelClosed},
		{"plain", stderrors.New("boom"), CodeUnknown},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestDebugError_UnwrapsCause(t *testing.T) {
	err := HandshakeFailed("initialize", io.ErrUnexpectedEOF)

	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.Contains(t, err.Error(), "initialize failed")
	assert.Contains(t, err.Error(), "Hint:")
}

func TestFromError_PreservesStructure(t *testing.T) {
	original := Timeout("threads", 2*time.Second)
	wrapped := fmt.Errorf("gateway: %w", original)

	de := FromError(wrapped)
	require.NotNil(t, de)
	assert.Equal(t, CodeTimeout, de.Code)
	assert.Equal(t, "threads", de.Details["command"])

	plain := FromError(stderrors.New("boom"))
	assert.Equal(t, CodeUnknown, plain.Code)
	assert.Equal(t, "boom", plain.Message)
}

func TestIs(t *testing.T) {
	assert.True(t, Is(NotConnected("pause"), CodeNotConnected))
	assert.False(t, Is(nil, CodeNotConnected))
	assert.False(t, Is(ChannelClosed(nil), CodeTimeout))
}

func TestDebugError_WithCauseAndDetails(t *testing.T) {
	err := BadRequest("body", "{", "a JSON object").
		WithCause(io.ErrUnexpectedEOF).
		WithDetails("length", 1)

	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.Equal(t, 1, err.Details["length"])
	assert.Equal(t, "body", err.Details["parameter"])
}

func TestFromError_WrapsUnknown(t *testing.T) {
	cause := stderrors.New("boom")
	de := FromError(cause)

	assert.Equal(t, CodeUnknown, de.Code)
	assert.Same(t, cause, de.Cause)
	assert.NotEmpty(t, de.Hint)
}
