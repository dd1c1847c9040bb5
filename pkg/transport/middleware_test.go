package transport

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modelhost/mcp-client-go/pkg/logging"
	"github.com/modelhost/mcp-client-go/pkg/observability"
)

// recordingTransport counts calls and returns canned results.
type recordingTransport struct {
	requests      int
	notifications int
	result        json.RawMessage
	err           error
}

func (r *recordingTransport) Start(ctx context.Context) error { return nil }
func (r *recordingTransport) Close() error                    { return nil }
func (r *recordingTransport) SetNotificationHandler(handler NotificationHandler) {}

func (r *recordingTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	r.requests++
	return r.result, r.err
}

func (r *recordingTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	r.notifications++
	return r.err
}

func TestObservabilityMiddlewarePassesThrough(t *testing.T) {
	inner := &recordingTransport{result: json.RawMessage(`{"ok":true}`)}

	config := DefaultConfig(TypeStdio)
	config.Logger = logging.NewNop()
	config.Metrics = observability.NopMetrics{}
	wrapped := NewObservabilityMiddleware(config).Wrap(inner)

	result, err := wrapped.SendRequest(context.Background(), "tools/list", nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(result))
	assert.Equal(t, 1, inner.requests)

	require.NoError(t, wrapped.SendNotification(context.Background(), "notifications/initialized", nil))
	assert.Equal(t, 1, inner.notifications)
}

func TestObservabilityMiddlewarePassesErrors(t *testing.T) {
	boom := errors.New("boom")
	inner := &recordingTransport{err: boom}

	config := DefaultConfig(TypeStdio)
	config.Logger = logging.NewNop()
	wrapped := NewObservabilityMiddleware(config).Wrap(inner)

	_, err := wrapped.SendRequest(context.Background(), "tools/call", nil)
	assert.ErrorIs(t, err, boom)

	err = wrapped.SendNotification(context.Background(), "notifications/initialized", nil)
	assert.ErrorIs(t, err, boom)
}

func TestChainForwardsOnceThroughAllLayers(t *testing.T) {
	inner := &recordingTransport{}

	config := DefaultConfig(TypeStdio)
	config.Logger = logging.NewNop()
	mw := Chain(NewObservabilityMiddleware(config), NewObservabilityMiddleware(config))
	wrapped := mw.Wrap(inner)

	_, _ = wrapped.SendRequest(context.Background(), "ping", nil)
	assert.Equal(t, 1, inner.requests)
}
