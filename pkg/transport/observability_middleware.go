package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/modelhost/mcp-client-go/pkg/logging"
	"github.com/modelhost/mcp-client-go/pkg/observability"
)

// ObservabilityMiddleware records Prometheus metrics and debug logs around
// every request and notification. Results and errors pass through
// unchanged.
type ObservabilityMiddleware struct {
	transportType Type
	logger        logging.Logger
	metrics       observability.MetricsProvider
}

// NewObservabilityMiddleware creates the middleware from transport config.
func NewObservabilityMiddleware(config Config) Middleware {
	return &ObservabilityMiddleware{
		transportType: config.Type,
		logger:        config.Logger,
		metrics:       config.Metrics,
	}
}

// Wrap implements the Middleware interface
func (om *ObservabilityMiddleware) Wrap(transport Transport) Transport {
	return &observabilityTransport{
		middlewareTransport: middlewareTransport{next: transport},
		middleware:          om,
	}
}

type observabilityTransport struct {
	middlewareTransport
	middleware *ObservabilityMiddleware
}

func (ot *observabilityTransport) SendRequest(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	start := time.Now()
	ot.middleware.logger.Debug("sending request", logging.String("method", method))

	result, err := ot.middlewareTransport.SendRequest(ctx, method, params)

	duration := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
		ot.middleware.logger.Warn("request failed",
			logging.String("method", method),
			logging.Duration("duration", duration),
			logging.ErrorField(err))
	} else {
		ot.middleware.logger.Debug("request succeeded",
			logging.String("method", method),
			logging.Duration("duration", duration))
	}
	ot.middleware.metrics.RecordRequest(ctx, method, status, duration)

	return result, err
}

func (ot *observabilityTransport) SendNotification(ctx context.Context, method string, params interface{}) error {
	start := time.Now()
	ot.middleware.logger.Debug("sending notification", logging.String("method", method))

	err := ot.middlewareTransport.SendNotification(ctx, method, params)

	duration := time.Since(start)
	status := "success"
	if err != nil {
		status = "error"
		ot.middleware.logger.Warn("notification failed",
			logging.String("method", method),
			logging.ErrorField(err))
	}
	ot.middleware.metrics.RecordNotification(ctx, method, status, duration)

	return err
}
