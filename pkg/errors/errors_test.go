package errors

import (
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCarriesMetadata(t *testing.T) {
	err := New(CodeProtocolError, "bad frame", CategoryProtocol, SeverityError)

	assert.Equal(t, CodeProtocolError, err.Code())
	assert.Equal(t, CategoryProtocol, err.Category())
	assert.Equal(t, SeverityError, err.Severity())
	assert.Equal(t, "bad frame", err.Error())
	require.NotNil(t, err.Context())
	assert.False(t, err.Context().Timestamp.IsZero())
}

func TestWrapPreservesCause(t *testing.T) {
	err := Wrap(io.ErrUnexpectedEOF, CodeTransportBroken, "stream died", CategoryTransport, SeverityError)

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Contains(t, err.Error(), "stream died")
	assert.Contains(t, err.Error(), io.ErrUnexpectedEOF.Error())
}

func TestWithContextDoesNotMutateOriginal(t *testing.T) {
	base := New(CodeRequestTimeout, "timed out", CategoryTimeout, SeverityError)
	withCtx := base.WithContext(&Context{Method: "tools/call", RequestID: 9})

	assert.Equal(t, "tools/call", withCtx.Context().Method)
	assert.NotEqual(t, "tools/call", base.Context().Method)
}

func TestIsCategoryUnwraps(t *testing.T) {
	inner := RequestTimeout("tools/list", 4, 30*time.Second)
	outer := fmt.Errorf("request failed: %w", inner)

	assert.True(t, IsCategory(outer, CategoryTimeout))
	assert.False(t, IsCategory(outer, CategoryProtocol))
	assert.False(t, IsCategory(nil, CategoryTimeout))
}

func TestIsCodeUnwraps(t *testing.T) {
	inner := InvalidTransport("carrier-pigeon")
	outer := fmt.Errorf("setup failed: %w", inner)

	assert.True(t, IsCode(outer, CodeInvalidTransport))
	assert.False(t, IsCode(outer, CodeToolError))
}

func TestConstructorHelpers(t *testing.T) {
	tests := []struct {
		name     string
		err      Error
		code     int
		category Category
	}{
		{"invalid transport", InvalidTransport("smoke-signal"), CodeInvalidTransport, CategoryConfig},
		{"missing config", MissingConfig("sse", "an endpoint URL"), CodeInvalidTransport, CategoryConfig},
		{"init failed", InitializationFailed(io.EOF), CodeInitializationFailed, CategoryTransport},
		{"transport broken", TransportBroken("stdio", "write", io.ErrClosedPipe), CodeTransportBroken, CategoryTransport},
		{"connection failed", ConnectionFailed("sse", "https://h/sse", io.EOF), CodeConnectionFailed, CategoryTransport},
		{"handshake failed", HandshakeFailed("https://h/sse", io.EOF), CodeHandshakeFailed, CategoryTransport},
		{"timeout", RequestTimeout("ping", 1, time.Second), CodeRequestTimeout, CategoryTimeout},
		{"closed", ClientClosed(), CodeClientClosed, CategoryTransport},
		{"protocol", ProtocolError("tools/call", io.EOF), CodeProtocolError, CategoryProtocol},
		{"tool", ToolError("echo", "boom"), CodeToolError, CategoryTool},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code())
			assert.Equal(t, tt.category, tt.err.Category())
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestRequestTimeoutMessageNamesRequest(t *testing.T) {
	err := RequestTimeout("tools/call", 6, 30*time.Second)

	assert.Contains(t, err.Error(), "tools/call")
	assert.Contains(t, err.Error(), "id 6")
	assert.Equal(t, int64(6), err.Context().RequestID)
}
