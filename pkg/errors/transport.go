package errors

import (
	"fmt"
	"time"
)

// InvalidTransport creates an error for an unknown or misconfigured
// transport type.
func InvalidTransport(transportType string) Error {
	return New(
		CodeInvalidTransport,
		fmt.Sprintf("invalid transport type %q", transportType),
		CategoryConfig,
		SeverityCritical,
	)
}

// MissingConfig creates an error for a required configuration field that was
// left empty.
func MissingConfig(transportType, field string) Error {
	return New(
		CodeInvalidTransport,
		fmt.Sprintf("%s transport requires %s", transportType, field),
		CategoryConfig,
		SeverityCritical,
	)
}

// InitializationFailed creates an error for a failed initialize handshake.
func InitializationFailed(cause error) Error {
	return Wrap(
		cause,
		CodeInitializationFailed,
		"initialization handshake failed",
		CategoryTransport,
		SeverityCritical,
	)
}

// TransportBroken creates an error for a transport that failed mid-operation.
func TransportBroken(transport, operation string, cause error) Error {
	return Wrap(
		cause,
		CodeTransportBroken,
		fmt.Sprintf("%s transport broken during %s", transport, operation),
		CategoryTransport,
		SeverityError,
	).WithContext(&Context{Transport: transport})
}

// ConnectionFailed creates an error for a connection that could not be
// established.
func ConnectionFailed(transport, endpoint string, cause error) Error {
	return Wrap(
		cause,
		CodeConnectionFailed,
		fmt.Sprintf("failed to connect to %s via %s", endpoint, transport),
		CategoryTransport,
		SeverityCritical,
	).WithContext(&Context{Transport: transport, Endpoint: endpoint})
}

// HandshakeFailed creates an error for an SSE bootstrap that did not yield a
// messages URL.
func HandshakeFailed(endpoint string, cause error) Error {
	return Wrap(
		cause,
		CodeHandshakeFailed,
		fmt.Sprintf("SSE handshake with %s failed", endpoint),
		CategoryTransport,
		SeverityCritical,
	).WithContext(&Context{Transport: "sse", Endpoint: endpoint})
}

// RequestTimeout creates an error for a request that received no response
// within the timeout.
func RequestTimeout(method string, id int64, timeout time.Duration) Error {
	return New(
		CodeRequestTimeout,
		fmt.Sprintf("request %q (id %d) timed out after %s", method, id, timeout),
		CategoryTimeout,
		SeverityError,
	).WithContext(&Context{RequestID: id, Method: method})
}

// ClientClosed creates an error for an operation attempted after Close.
func ClientClosed() Error {
	return New(
		CodeClientClosed,
		"client is closed",
		CategoryTransport,
		SeverityError,
	)
}

// ProtocolError creates an error for a server-returned JSON-RPC error
// envelope or an otherwise malformed exchange.
func ProtocolError(method string, cause error) Error {
	return Wrap(
		cause,
		CodeProtocolError,
		fmt.Sprintf("protocol error on %q", method),
		CategoryProtocol,
		SeverityError,
	).WithContext(&Context{Method: method})
}

// ToolError creates an error for a tools/call result flagged isError. The
// joined content is preserved as the message so the caller still sees what
// the tool reported.
func ToolError(tool, content string) Error {
	return New(
		CodeToolError,
		fmt.Sprintf("tool %q reported an error: %s", tool, content),
		CategoryTool,
		SeverityWarning,
	)
}
