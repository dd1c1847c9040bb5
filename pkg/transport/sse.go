package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"

	mcperrors "github.com/modelhost/mcp-client-go/pkg/errors"
	"github.com/modelhost/mcp-client-go/pkg/logging"
	"github.com/modelhost/mcp-client-go/pkg/observability"
	"github.com/modelhost/mcp-client-go/pkg/protocol"
)

// SSE bootstrap event types. The server advertises the session ID and the
// messages URL over the stream before any JSON-RPC traffic.
const (
	sseEventSession  = "session"
	sseEventEndpoint = "endpoint"
	sseEventMessage  = "message"
)

// sseTransport holds one long-lived GET stream for inbound frames and sends
// outbound frames as individual POSTs to the messages URL advertised during
// the handshake. A dropped stream reconnects with bounded backoff; the
// server then issues fresh session and endpoint events, and requests that
// were in flight across the drop are abandoned to their timeouts.
type sseTransport struct {
	*BaseTransport

	config     Config
	logger     logging.Logger
	metrics    observability.MetricsProvider
	httpClient *http.Client
	clientID   string

	// stateMu guards the handshake products and the stream body.
	stateMu     sync.Mutex
	sessionID   string
	messagesURL string
	body        io.ReadCloser

	ctx       context.Context
	cancel    context.CancelFunc
	readerWG  sync.WaitGroup
	closeOnce sync.Once
}

func newSSETransport(config Config) (Transport, error) {
	if _, err := url.Parse(config.Endpoint); err != nil {
		return nil, mcperrors.Wrap(err, mcperrors.CodeInvalidEndpoint,
			fmt.Sprintf("invalid SSE endpoint %q", config.Endpoint),
			mcperrors.CategoryConfig, mcperrors.SeverityCritical)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &sseTransport{
		BaseTransport: NewBaseTransport(config.Logger, config.RequestTimeout),
		config:        config,
		logger:        config.Logger.WithFields(logging.String("transport", "sse")),
		metrics:       config.Metrics,
		httpClient:    httpClient,
		clientID:      uuid.New().String(),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start opens the stream and blocks until the handshake yields the messages
// URL or the handshake timeout elapses. On success the reader keeps the
// stream alive, reconnecting with backoff, until Close.
func (t *sseTransport) Start(ctx context.Context) error {
	t.metrics.RecordConnectionState(ctx, string(TypeSSE), "connecting")

	ready := make(chan error, 1)
	body, err := t.connect(ctx)
	if err != nil {
		return mcperrors.ConnectionFailed(string(TypeSSE), t.config.Endpoint, err)
	}

	t.readerWG.Add(1)
	go t.readLoop(body, ready)

	select {
	case err := <-ready:
		if err != nil {
			t.Close()
			return mcperrors.HandshakeFailed(t.config.Endpoint, err)
		}
	case <-time.After(t.config.HandshakeTimeout):
		t.Close()
		return mcperrors.HandshakeFailed(t.config.Endpoint, errors.New("timed out waiting for endpoint event"))
	case <-ctx.Done():
		t.Close()
		return mcperrors.HandshakeFailed(t.config.Endpoint, ctx.Err())
	}

	t.metrics.RecordConnectionState(ctx, string(TypeSSE), "connected")
	return nil
}

// connect issues the long-lived GET and returns the open stream body.
func (t *sseTransport) connect(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(t.ctx, http.MethodGet, t.config.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	t.applyHeaders(req)
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	t.stateMu.Lock()
	t.body = resp.Body
	t.stateMu.Unlock()

	return resp.Body, nil
}

func (t *sseTransport) applyHeaders(req *http.Request) {
	req.Header.Set("X-CLIENT-ID", t.clientID)
	for k, v := range t.config.Headers {
		req.Header.Set(k, v)
	}
}

// readLoop consumes the event stream, reconnecting on failure with bounded
// backoff. The first ready send reports the initial handshake outcome;
// after a reconnect the fresh handshake is consumed internally.
func (t *sseTransport) readLoop(body io.ReadCloser, ready chan<- error) {
	defer t.readerWG.Done()

	handshakeDone := false
	failures := 0
	delay := t.config.ReconnectDelay

	for {
		err := t.readStream(body, func(err error) {
			handshakeDone = err == nil
			select {
			case ready <- err:
			default:
			}
		})
		body.Close()

		if t.ctx.Err() != nil {
			return
		}
		if !handshakeDone {
			// The initial handshake never completed; report the failure to
			// Start, nothing to reconnect to.
			if err == nil {
				err = io.ErrUnexpectedEOF
			}
			select {
			case ready <- fmt.Errorf("stream ended before endpoint event: %w", err):
			default:
			}
			return
		}

		t.logger.Warn("event stream dropped", logging.ErrorField(err))
		t.metrics.RecordConnectionState(context.Background(), string(TypeSSE), "connecting")

		// The advertised endpoint died with the stream.
		t.stateMu.Lock()
		t.messagesURL = ""
		t.stateMu.Unlock()

		failures++
		if failures > t.config.MaxRestarts {
			t.logger.Error("giving up on event stream after repeated failures",
				logging.Int("failures", failures-1))
			t.metrics.RecordConnectionState(context.Background(), string(TypeSSE), "disconnected")
			return
		}

		select {
		case <-time.After(delay):
		case <-t.ctx.Done():
			return
		}
		if delay *= 2; delay > t.config.MaxReconnectDelay {
			delay = t.config.MaxReconnectDelay
		}

		t.metrics.RecordTransportRestart(context.Background(), string(TypeSSE))
		newBody, err := t.connect(t.ctx)
		if err != nil {
			t.logger.Error("reconnect failed", logging.ErrorField(err))
			body = io.NopCloser(bytes.NewReader(nil))
			continue
		}

		t.logger.Info("event stream reconnected")
		failures = 0
		delay = t.config.ReconnectDelay
		body = newBody
	}
}

// readStream parses one stream until it ends. onHandshake fires once the
// endpoint event resolves (or fails to resolve) to a messages URL.
func (t *sseTransport) readStream(body io.Reader, onHandshake func(error)) error {
	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			return err
		}

		switch ev.Type {
		case sseEventSession:
			t.stateMu.Lock()
			t.sessionID = ev.Data
			t.stateMu.Unlock()
			t.logger.Info("server session established", logging.String("session_id", ev.Data))

		case sseEventEndpoint:
			resolved, err := t.resolveEndpoint(ev.Data)
			if err != nil {
				onHandshake(err)
				return err
			}
			t.stateMu.Lock()
			t.messagesURL = resolved
			t.stateMu.Unlock()
			t.logger.Info("messages URL advertised", logging.String("url", resolved))
			onHandshake(nil)

		case "", sseEventMessage:
			// Unnamed events carry JSON-RPC response frames.
			t.DispatchMessage([]byte(ev.Data))

		default:
			t.logger.Debug("ignoring unhandled event type", logging.String("type", ev.Type))
		}
	}
	return io.EOF
}

// resolveEndpoint turns the advertised endpoint into an absolute messages
// URL. Absolute URLs are used as-is; paths resolve against the connect
// URL's scheme, host, and port.
func (t *sseTransport) resolveEndpoint(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint URL: %w", err)
	}
	if u.String() == "" {
		return "", errors.New("empty endpoint URL")
	}
	if u.IsAbs() {
		return u.String(), nil
	}

	base, err := url.Parse(t.config.Endpoint)
	if err != nil {
		return "", fmt.Errorf("parse connect URL: %w", err)
	}
	return base.ResolveReference(u).String(), nil
}

// post sends one frame to the messages URL. The real response arrives
// asynchronously on the event stream; any 2xx status means accepted.
func (t *sseTransport) post(ctx context.Context, data []byte) error {
	t.stateMu.Lock()
	messagesURL := t.messagesURL
	t.stateMu.Unlock()

	if messagesURL == "" {
		return mcperrors.TransportBroken(string(TypeSSE), "post", errors.New("no messages URL advertised"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messagesURL, bytes.NewReader(data))
	if err != nil {
		return mcperrors.TransportBroken(string(TypeSSE), "post", err)
	}
	t.applyHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return mcperrors.TransportBroken(string(TypeSSE), "post", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return mcperrors.TransportBroken(string(TypeSSE), "post",
			fmt.Errorf("unexpected status code: %d", resp.StatusCode))
	}
	return nil
}

// SendRequest POSTs a request frame and waits for its response to arrive
// over the event stream.
func (t *sseTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	id := t.NextID()

	req, err := protocol.NewRequest(id, method, params)
	if err != nil {
		return nil, mcperrors.ProtocolError(method, err)
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, mcperrors.ProtocolError(method, err)
	}

	ch, err := t.RegisterPending(id)
	if err != nil {
		return nil, err
	}

	if err := t.post(ctx, data); err != nil {
		t.RemovePending(id)
		return nil, err
	}

	resp, err := t.WaitForResponse(ctx, method, id, ch)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, mcperrors.ProtocolError(method, resp.Error)
	}
	return resp.Result, nil
}

// SendNotification POSTs a notification frame; nothing arrives back for it.
func (t *sseTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	notif, err := protocol.NewNotification(method, params)
	if err != nil {
		return mcperrors.ProtocolError(method, err)
	}
	data, err := json.Marshal(notif)
	if err != nil {
		return mcperrors.ProtocolError(method, err)
	}
	return t.post(ctx, data)
}

// SessionID returns the opaque session identifier announced by the server,
// if any. Retained for logging.
func (t *sseTransport) SessionID() string {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.sessionID
}

// Close cancels the stream context, closes the body to unblock the reader,
// and joins it within the shutdown bound.
func (t *sseTransport) Close() error {
	t.closeOnce.Do(func() {
		t.cancel()

		t.stateMu.Lock()
		body := t.body
		t.stateMu.Unlock()
		if body != nil {
			_ = body.Close()
		}

		joined := make(chan struct{})
		go func() {
			t.readerWG.Wait()
			close(joined)
		}()
		select {
		case <-joined:
		case <-time.After(1 * time.Second):
			t.logger.Warn("reader goroutine did not stop within shutdown bound")
		}

		t.Cleanup()
		t.metrics.RecordConnectionState(context.Background(), string(TypeSSE), "disconnected")
	})
	return nil
}
