// Package transport provides the message channels the MCP client speaks
// over: a subprocess speaking line-delimited JSON on stdio, and a remote
// server streaming Server-Sent Events with HTTP POST for outbound frames.
//
// Both transports share the same multiplexing core: monotonic request ID
// allocation and an ID-keyed pending-registry that routes responses read by
// the background reader back to the caller awaiting them.
//
// Usage:
//
//	config := transport.DefaultConfig(transport.TypeStdio)
//	config.Command = "mcp-server"
//	t, err := transport.New(config)
package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	mcperrors "github.com/modelhost/mcp-client-go/pkg/errors"
	"github.com/modelhost/mcp-client-go/pkg/logging"
	"github.com/modelhost/mcp-client-go/pkg/observability"
	"github.com/modelhost/mcp-client-go/pkg/protocol"
)

// Transport is the narrow contract the client consumes. Implementations
// own the connection lifecycle, the background reader, and request
// multiplexing.
type Transport interface {
	// Start establishes the connection and launches the background reader.
	// For the SSE transport it blocks until the handshake yields the
	// messages URL or the handshake timeout elapses.
	Start(ctx context.Context) error

	// SendRequest transmits a request frame and blocks until the reader
	// delivers the matching response, the request timeout elapses, or the
	// transport fails.
	SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error)

	// SendNotification transmits a notification frame and returns as soon
	// as the frame is written.
	SendNotification(ctx context.Context, method string, params interface{}) error

	// SetNotificationHandler registers the handler invoked for each
	// server-originated notification, in stream order.
	SetNotificationHandler(handler NotificationHandler)

	// Close idempotently tears down background goroutines and the
	// underlying connection.
	Close() error
}

// NotificationHandler processes a server-originated notification.
type NotificationHandler func(ctx context.Context, notification *protocol.Notification)

// Type identifies the transport implementation.
type Type string

const (
	TypeStdio Type = "stdio"
	TypeSSE   Type = "sse"
)

// Config is the unified configuration for both transports.
type Config struct {
	// Type of transport to create
	Type Type `json:"type"`

	// Subprocess settings (stdio)
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// Testing support: bypass the subprocess and frame over these instead.
	StdioReader io.Reader `json:"-"`
	StdioWriter io.Writer `json:"-"`

	// Remote settings (sse)
	Endpoint   string            `json:"endpoint,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	HTTPClient *http.Client      `json:"-"`

	// RequestTimeout caps how long SendRequest waits for a response.
	RequestTimeout time.Duration `json:"request_timeout"`

	// HandshakeTimeout caps the SSE bootstrap (session + endpoint events).
	HandshakeTimeout time.Duration `json:"handshake_timeout"`

	// ReconnectDelay and MaxReconnectDelay bound the backoff between
	// reconnect or restart attempts. MaxRestarts bounds the failures before
	// the transport gives up: for SSE, consecutive stream failures (the count
	// resets after a successful reconnect); for stdio, subprocess restarts
	// over the lifetime of the transport.
	ReconnectDelay    time.Duration `json:"reconnect_delay"`
	MaxReconnectDelay time.Duration `json:"max_reconnect_delay"`
	MaxRestarts       int           `json:"max_restarts"`

	// Observability
	Logger  logging.Logger                `json:"-"`
	Metrics observability.MetricsProvider `json:"-"`
}

// DefaultConfig returns a transport configuration with sensible defaults.
func DefaultConfig(transportType Type) Config {
	return Config{
		Type:              transportType,
		RequestTimeout:    30 * time.Second,
		HandshakeTimeout:  30 * time.Second,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 3 * time.Second,
		MaxRestarts:       5,
		Logger:            logging.New(nil, nil),
		Metrics:           observability.NopMetrics{},
	}
}

// New creates a transport from config, wrapped with the observability
// middleware.
func New(config Config) (Transport, error) {
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	var base Transport
	var err error

	switch config.Type {
	case TypeStdio:
		base, err = newStdioTransport(config)
	case TypeSSE:
		base, err = newSSETransport(config)
	default:
		return nil, mcperrors.InvalidTransport(string(config.Type))
	}

	if err != nil {
		return nil, err
	}

	return Chain(NewObservabilityMiddleware(config)).Wrap(base), nil
}

func validateConfig(config *Config) error {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 30 * time.Second
	}
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = 1 * time.Second
	}
	if config.MaxReconnectDelay < config.ReconnectDelay {
		config.MaxReconnectDelay = 3 * time.Second
	}
	if config.MaxRestarts <= 0 {
		config.MaxRestarts = 5
	}
	if config.Logger == nil {
		config.Logger = logging.New(nil, nil)
	}
	if config.Metrics == nil {
		config.Metrics = observability.NopMetrics{}
	}

	switch config.Type {
	case TypeStdio:
		if config.Command == "" && config.StdioReader == nil {
			return mcperrors.MissingConfig(string(TypeStdio), "a command")
		}
		return nil
	case TypeSSE:
		if config.Endpoint == "" {
			return mcperrors.MissingConfig(string(TypeSSE), "an endpoint URL")
		}
		return nil
	default:
		return mcperrors.InvalidTransport(string(config.Type))
	}
}

// BaseTransport provides the multiplexing core shared by both transports:
// ID allocation, the pending-registry, response delivery, and notification
// dispatch.
type BaseTransport struct {
	mu                  sync.Mutex
	nextID              int64
	pending             map[int64]chan *protocol.Response
	closed              bool
	notificationHandler NotificationHandler
	logger              logging.Logger
	waitTimeout         time.Duration
}

// NewBaseTransport creates a BaseTransport with the given response wait cap.
func NewBaseTransport(logger logging.Logger, waitTimeout time.Duration) *BaseTransport {
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}
	return &BaseTransport{
		nextID:      1,
		pending:     make(map[int64]chan *protocol.Response),
		logger:      logger,
		waitTimeout: waitTimeout,
	}
}

// NextID returns the next request ID. IDs are positive and monotonic for
// the lifetime of the transport.
func (t *BaseTransport) NextID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	t.nextID++
	return id
}

// RegisterPending creates the single-slot rendezvous for a request ID. It
// returns an error if the transport is already closed.
func (t *BaseTransport) RegisterPending(id int64) (chan *protocol.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, mcperrors.ClientClosed()
	}
	ch := make(chan *protocol.Response, 1)
	t.pending[id] = ch
	return ch, nil
}

// RemovePending deletes a slot, typically by the timing-out caller. A late
// response for the ID then finds no slot and is dropped.
func (t *BaseTransport) RemovePending(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, id)
}

// PendingCount reports the number of outstanding request slots.
func (t *BaseTransport) PendingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

// Deliver routes a response to its pending slot and removes the slot. The
// reader goroutine is the only caller, so each slot is resolved at most
// once. Responses without a slot are dropped.
func (t *BaseTransport) Deliver(resp *protocol.Response) {
	t.mu.Lock()
	ch, ok := t.pending[resp.ID]
	if ok {
		delete(t.pending, resp.ID)
	}
	t.mu.Unlock()

	if !ok {
		t.logger.Debug("dropping response with no pending slot", logging.Int64("id", resp.ID))
		return
	}
	ch <- resp
}

// WaitForResponse blocks until the slot is resolved, the context is done,
// or the wait timeout elapses. On timeout the caller removes its own slot.
func (t *BaseTransport) WaitForResponse(ctx context.Context, method string, id int64, ch chan *protocol.Response) (*protocol.Response, error) {
	start := time.Now()
	timer := time.NewTimer(t.waitTimeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, mcperrors.ClientClosed()
		}
		return resp, nil
	case <-ctx.Done():
		t.RemovePending(id)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, mcperrors.RequestTimeout(method, id, time.Since(start).Round(time.Millisecond))
		}
		return nil, ctx.Err()
	case <-timer.C:
		t.RemovePending(id)
		return nil, mcperrors.RequestTimeout(method, id, t.waitTimeout)
	}
}

// SetNotificationHandler registers the notification handler.
func (t *BaseTransport) SetNotificationHandler(handler NotificationHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.notificationHandler = handler
}

// DispatchMessage classifies one inbound frame and routes it: responses to
// their pending slot, notifications to the handler. Malformed frames are
// logged and discarded; they are never fatal to the session.
func (t *BaseTransport) DispatchMessage(data []byte) {
	switch {
	case protocol.IsResponse(data):
		var resp protocol.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			t.logger.Warn("discarding malformed response frame", logging.ErrorField(err))
			return
		}
		t.Deliver(&resp)
	case protocol.IsNotification(data):
		var notif protocol.Notification
		if err := json.Unmarshal(data, &notif); err != nil {
			t.logger.Warn("discarding malformed notification frame", logging.ErrorField(err))
			return
		}
		t.mu.Lock()
		handler := t.notificationHandler
		t.mu.Unlock()
		if handler != nil {
			handler(context.Background(), &notif)
		} else {
			t.logger.Debug("dropping notification with no handler", logging.String("method", notif.Method))
		}
	default:
		t.logger.Warn("discarding unrecognized frame", logging.String("data", truncate(data, 256)))
	}
}

// Cleanup resolves the registry on shutdown: every pending slot is closed,
// which surfaces to waiters as a closed-client error.
func (t *BaseTransport) Cleanup() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
