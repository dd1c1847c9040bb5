// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the MCP client. The transport middleware and the client report
// into the providers defined here.
package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the metrics provider
type MetricsConfig struct {
	// Service identification
	ServiceName    string
	ServiceVersion string

	// Prometheus configuration
	MetricsPath string // HTTP path for metrics endpoint (default: /metrics)
	MetricsPort int    // Port for metrics server (default: 9090)

	// Metric options
	Namespace        string    // Prometheus namespace (default: mcp_client)
	HistogramBuckets []float64 // Custom histogram buckets for latency

	// Registerer overrides the default registry, mainly for tests.
	Registerer prometheus.Registerer
}

// MetricsProvider records client-side MCP metrics.
type MetricsProvider interface {
	// RecordRequest records an outgoing request round trip
	RecordRequest(ctx context.Context, method, status string, duration time.Duration)

	// RecordNotification records an outgoing notification
	RecordNotification(ctx context.Context, method, status string, duration time.Duration)

	// RecordToolCall records a tool invocation
	RecordToolCall(ctx context.Context, tool, status string, duration time.Duration)

	// RecordConnectionState records the transport connection state
	RecordConnectionState(ctx context.Context, transport, state string)

	// RecordTransportRestart counts subprocess restarts and SSE reconnects
	RecordTransportRestart(ctx context.Context, transport string)

	// Start exposes the /metrics endpoint; Shutdown stops it.
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// PrometheusMetricsProvider implements MetricsProvider using Prometheus
type PrometheusMetricsProvider struct {
	config MetricsConfig
	server *http.Server

	requestDuration       *prometheus.HistogramVec
	requestTotal          *prometheus.CounterVec
	notificationTotal     *prometheus.CounterVec
	toolCallDuration      *prometheus.HistogramVec
	connectionState       *prometheus.GaugeVec
	transportRestartTotal *prometheus.CounterVec
}

// NewMetricsProvider creates a new Prometheus metrics provider
func NewMetricsProvider(config MetricsConfig) (*PrometheusMetricsProvider, error) {
	if config.Namespace == "" {
		config.Namespace = "mcp_client"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}
	if config.MetricsPort == 0 {
		config.MetricsPort = 9090
	}
	if config.HistogramBuckets == nil {
		// Default buckets for milliseconds
		config.HistogramBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}
	}
	if config.Registerer == nil {
		config.Registerer = prometheus.DefaultRegisterer
	}

	constLabels := prometheus.Labels{}
	if config.ServiceName != "" {
		constLabels["service"] = config.ServiceName
	}
	if config.ServiceVersion != "" {
		constLabels["version"] = config.ServiceVersion
	}

	p := &PrometheusMetricsProvider{config: config}

	p.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "request_duration_milliseconds",
			Help:        "Duration of MCP requests in milliseconds",
			Buckets:     config.HistogramBuckets,
			ConstLabels: constLabels,
		},
		[]string{"method", "status"},
	)

	p.requestTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "request_total",
			Help:        "Total number of MCP requests",
			ConstLabels: constLabels,
		},
		[]string{"method", "status"},
	)

	p.notificationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "notification_total",
			Help:        "Total number of MCP notifications sent",
			ConstLabels: constLabels,
		},
		[]string{"method", "status"},
	)

	p.toolCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Name:        "tool_call_duration_milliseconds",
			Help:        "Duration of tool calls in milliseconds",
			Buckets:     config.HistogramBuckets,
			ConstLabels: constLabels,
		},
		[]string{"tool", "status"},
	)

	p.connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Name:        "connection_state",
			Help:        "Current connection state per transport (1 on the current state, 0 on the others)",
			ConstLabels: constLabels,
		},
		[]string{"transport", "state"},
	)

	p.transportRestartTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Name:        "transport_restart_total",
			Help:        "Total number of subprocess restarts and stream reconnects",
			ConstLabels: constLabels,
		},
		[]string{"transport"},
	)

	collectors := []prometheus.Collector{
		p.requestDuration,
		p.requestTotal,
		p.notificationTotal,
		p.toolCallDuration,
		p.connectionState,
		p.transportRestartTotal,
	}
	for _, collector := range collectors {
		if err := config.Registerer.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return nil, fmt.Errorf("failed to register metrics: %w", err)
			}
		}
	}

	return p, nil
}

// RecordRequest records an outgoing request round trip.
func (p *PrometheusMetricsProvider) RecordRequest(ctx context.Context, method, status string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	p.requestDuration.WithLabelValues(method, status).Observe(ms)
	p.requestTotal.WithLabelValues(method, status).Inc()
}

// RecordNotification records an outgoing notification.
func (p *PrometheusMetricsProvider) RecordNotification(ctx context.Context, method, status string, duration time.Duration) {
	p.notificationTotal.WithLabelValues(method, status).Inc()
}

// RecordToolCall records a tool invocation.
func (p *PrometheusMetricsProvider) RecordToolCall(ctx context.Context, tool, status string, duration time.Duration) {
	ms := float64(duration.Milliseconds())
	p.toolCallDuration.WithLabelValues(tool, status).Observe(ms)
}

// RecordConnectionState records the transport connection state.
func (p *PrometheusMetricsProvider) RecordConnectionState(ctx context.Context, transport, state string) {
	for _, s := range []string{"connected", "disconnected", "connecting"} {
		p.connectionState.WithLabelValues(transport, s).Set(0)
	}
	p.connectionState.WithLabelValues(transport, state).Set(1)
}

// RecordTransportRestart counts a subprocess restart or stream reconnect.
func (p *PrometheusMetricsProvider) RecordTransportRestart(ctx context.Context, transport string) {
	p.transportRestartTotal.WithLabelValues(transport).Inc()
}

// Start starts the metrics HTTP server
func (p *PrometheusMetricsProvider) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle(p.config.MetricsPath, promhttp.Handler())

	p.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", p.config.MetricsPort),
		Handler: mux,
	}

	go func() {
		_ = p.server.ListenAndServe()
	}()

	return nil
}

// Shutdown gracefully shuts down the metrics server
func (p *PrometheusMetricsProvider) Shutdown(ctx context.Context) error {
	if p.server != nil {
		return p.server.Shutdown(ctx)
	}
	return nil
}

// NopMetrics is a MetricsProvider that records nothing. It is the default
// when observability is disabled.
type NopMetrics struct{}

func (NopMetrics) RecordRequest(context.Context, string, string, time.Duration)      {}
func (NopMetrics) RecordNotification(context.Context, string, string, time.Duration) {}
func (NopMetrics) RecordToolCall(context.Context, string, string, time.Duration)     {}
func (NopMetrics) RecordConnectionState(context.Context, string, string)             {}
func (NopMetrics) RecordTransportRestart(context.Context, string)                    {}
func (NopMetrics) Start(context.Context) error                                       { return nil }
func (NopMetrics) Shutdown(context.Context) error                                    { return nil }
