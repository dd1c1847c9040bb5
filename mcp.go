// Package mcp provides a Go client for the Model Context Protocol (2025-03-26)
package mcp

import (
	"context"
	"net/url"
	"time"

	"github.com/modelhost/mcp-client-go/pkg/client"
	mcperrors "github.com/modelhost/mcp-client-go/pkg/errors"
	"github.com/modelhost/mcp-client-go/pkg/transport"
)

// Version represents the current version of the library
const Version = "0.1.0"

// These exports provide direct access to the core components
var (
	// NewClient creates a new MCP client from a transport config
	NewClient = client.New

	// NewStdioClient spawns a subprocess server and connects over stdio
	NewStdioClient = client.NewStdioClient

	// NewSSEClient connects to a remote SSE server
	NewSSEClient = client.NewSSEClient

	// NewTransport creates a transport from config
	NewTransport = transport.New
)

// Client options
var (
	WithClientVersion   = client.WithVersion
	WithRequestTimeout  = client.WithRequestTimeout
	WithLogger          = client.WithLogger
	WithMetrics         = client.WithMetrics
	WithTracing         = client.WithTracing
	WithContentPolicy   = client.WithContentPolicy
	WithToolErrorPolicy = client.WithToolErrorPolicy
)

// ClientConfig is the orchestration-facing configuration for Connect. It
// carries the union of transport settings; only the fields for the chosen
// transport type are consulted.
type ClientConfig struct {
	// Subprocess settings (stdio)
	Command string
	Args    []string
	Env     map[string]string

	// Remote settings (sse)
	URL     string
	Headers map[string]string

	// RequestTimeout bounds each request round trip; zero keeps the default.
	RequestTimeout time.Duration

	// ReverseProxyURL, when set for an SSE transport, replaces the scheme
	// and host of URL so traffic routes through the proxy.
	ReverseProxyURL string
}

// Connect creates a client for the named transport type ("stdio" or "sse").
// It is the entry point the orchestration layer calls.
func Connect(ctx context.Context, name, transportType string, config ClientConfig, options ...client.Option) (*client.Client, error) {
	var tc transport.Config

	switch transport.Type(transportType) {
	case transport.TypeStdio:
		tc = transport.DefaultConfig(transport.TypeStdio)
		tc.Command = config.Command
		tc.Args = config.Args
		tc.Env = config.Env
	case transport.TypeSSE:
		tc = transport.DefaultConfig(transport.TypeSSE)
		endpoint := config.URL
		if config.ReverseProxyURL != "" {
			rewritten, err := rewriteThroughProxy(endpoint, config.ReverseProxyURL)
			if err != nil {
				return nil, err
			}
			endpoint = rewritten
		}
		tc.Endpoint = endpoint
		tc.Headers = config.Headers
	default:
		return nil, mcperrors.InvalidTransport(transportType)
	}

	if config.RequestTimeout > 0 {
		options = append(options, client.WithRequestTimeout(config.RequestTimeout))
	}

	return client.New(ctx, name, tc, options...)
}

// rewriteThroughProxy swaps the scheme and host of endpoint for those of
// the proxy, keeping the endpoint's path and query.
func rewriteThroughProxy(endpoint, proxy string) (string, error) {
	eu, err := url.Parse(endpoint)
	if err != nil {
		return "", mcperrors.Wrap(err, mcperrors.CodeInvalidEndpoint,
			"invalid endpoint URL", mcperrors.CategoryConfig, mcperrors.SeverityCritical)
	}
	pu, err := url.Parse(proxy)
	if err != nil {
		return "", mcperrors.Wrap(err, mcperrors.CodeInvalidEndpoint,
			"invalid reverse proxy URL", mcperrors.CategoryConfig, mcperrors.SeverityCritical)
	}
	eu.Scheme = pu.Scheme
	eu.Host = pu.Host
	return eu.String(), nil
}
