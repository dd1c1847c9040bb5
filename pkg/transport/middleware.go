package transport

import (
	"context"
	"encoding/json"
)

// Middleware wraps a Transport with additional behavior.
type Middleware interface {
	Wrap(transport Transport) Transport
}

// Chain composes middleware so the first listed is outermost.
func Chain(middleware ...Middleware) Middleware {
	return chain(middleware)
}

type chain []Middleware

func (c chain) Wrap(transport Transport) Transport {
	for i := len(c) - 1; i >= 0; i-- {
		transport = c[i].Wrap(transport)
	}
	return transport
}

// middlewareTransport forwards every method to the next transport.
// Middleware embed it and override what they instrument.
type middlewareTransport struct {
	next Transport
}

func (m *middlewareTransport) Start(ctx context.Context) error {
	return m.next.Start(ctx)
}

func (m *middlewareTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return m.next.SendRequest(ctx, method, params)
}

func (m *middlewareTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	return m.next.SendNotification(ctx, method, params)
}

func (m *middlewareTransport) SetNotificationHandler(handler NotificationHandler) {
	m.next.SetNotificationHandler(handler)
}

func (m *middlewareTransport) Close() error {
	return m.next.Close()
}
