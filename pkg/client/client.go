// Package client provides the MCP session: it owns one transport, performs
// the initialization handshake, and exposes tool discovery and invocation
// to the orchestration layer.
package client

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	mcperrors "github.com/modelhost/mcp-client-go/pkg/errors"
	"github.com/modelhost/mcp-client-go/pkg/logging"
	"github.com/modelhost/mcp-client-go/pkg/observability"
	"github.com/modelhost/mcp-client-go/pkg/protocol"
	"github.com/modelhost/mcp-client-go/pkg/schema"
	"github.com/modelhost/mcp-client-go/pkg/transport"
)

// DefaultRequestTimeout bounds each client-level request round trip. The
// transport applies its own, longer cap on the response wait.
const DefaultRequestTimeout = 8 * time.Second

// ContentPolicy renders one tools/call content item to text. Returning
// false drops the item. The default keeps text items and drops image and
// resource items.
type ContentPolicy func(item protocol.Content) (string, bool)

// ToolErrorPolicy decides what a tools/call result with isError set means
// to the caller. It receives the tool name and the joined content; the
// default returns the joined content with no error.
type ToolErrorPolicy func(tool, content string) (string, error)

// DefaultContentPolicy keeps text items and drops everything else.
func DefaultContentPolicy(item protocol.Content) (string, bool) {
	if item.Type == protocol.ContentTypeText {
		return item.Text, true
	}
	return "", false
}

// DefaultToolErrorPolicy passes the joined content through unchanged.
func DefaultToolErrorPolicy(tool, content string) (string, error) {
	return content, nil
}

// StrictToolErrorPolicy surfaces isError results as a distinct tool error.
func StrictToolErrorPolicy(tool, content string) (string, error) {
	return "", mcperrors.ToolError(tool, content)
}

// Client is an MCP session over one transport.
type Client struct {
	transport transport.Transport
	name      string
	version   string

	logger  logging.Logger
	metrics observability.MetricsProvider
	tracing *observability.TracingProvider

	requestTimeout  time.Duration
	contentPolicy   ContentPolicy
	toolErrorPolicy ToolErrorPolicy

	toolsMu    sync.RWMutex
	tools      []*schema.Tool
	serverInfo *protocol.ServerInfo

	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithVersion sets the client version advertised during initialization.
func WithVersion(version string) Option {
	return func(c *Client) { c.version = version }
}

// WithRequestTimeout bounds each request round trip at the client level.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) { c.requestTimeout = timeout }
}

// WithLogger sets the client logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithMetrics sets the metrics provider for tool-call recording.
func WithMetrics(metrics observability.MetricsProvider) Option {
	return func(c *Client) { c.metrics = metrics }
}

// WithTracing enables span creation around client operations.
func WithTracing(tracing *observability.TracingProvider) Option {
	return func(c *Client) { c.tracing = tracing }
}

// WithContentPolicy overrides how tools/call content items render to text.
func WithContentPolicy(policy ContentPolicy) Option {
	return func(c *Client) { c.contentPolicy = policy }
}

// WithToolErrorPolicy overrides how isError results surface to the caller.
func WithToolErrorPolicy(policy ToolErrorPolicy) Option {
	return func(c *Client) { c.toolErrorPolicy = policy }
}

// New creates the transport from config, starts it, and performs the
// initialization handshake: an initialize request followed by the
// notifications/initialized notification. It fails if either step fails.
func New(ctx context.Context, name string, config transport.Config, options ...Option) (*Client, error) {
	t, err := transport.New(config)
	if err != nil {
		return nil, err
	}
	return NewWithTransport(ctx, name, t, options...)
}

// NewWithTransport is New for a caller-constructed transport, mainly tests.
func NewWithTransport(ctx context.Context, name string, t transport.Transport, options ...Option) (*Client, error) {
	c := &Client{
		transport:       t,
		name:            name,
		version:         "0.1.0",
		logger:          logging.NewNop(),
		metrics:         observability.NopMetrics{},
		requestTimeout:  DefaultRequestTimeout,
		contentPolicy:   DefaultContentPolicy,
		toolErrorPolicy: DefaultToolErrorPolicy,
	}
	for _, option := range options {
		option(c)
	}

	t.SetNotificationHandler(c.handleNotification)

	if err := t.Start(ctx); err != nil {
		return nil, err
	}

	if err := c.initialize(ctx); err != nil {
		_ = t.Close()
		return nil, mcperrors.InitializationFailed(err)
	}

	return c, nil
}

// initialize performs the two-step handshake.
func (c *Client) initialize(ctx context.Context) error {
	params := &protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		Capabilities: protocol.ClientCapabilities{
			Tools: &protocol.ToolsCapability{ListChanged: true},
		},
		ClientInfo: protocol.ClientInfo{
			Name:    c.name,
			Version: c.version,
		},
	}

	result, err := c.request(ctx, protocol.MethodInitialize, params)
	if err != nil {
		return err
	}

	var initResult protocol.InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		return mcperrors.ProtocolError(protocol.MethodInitialize, err)
	}

	c.toolsMu.Lock()
	c.serverInfo = &initResult.ServerInfo
	c.toolsMu.Unlock()

	c.logger.Info("session initialized",
		logging.String("server", initResult.ServerInfo.Name),
		logging.String("server_version", initResult.ServerInfo.Version),
		logging.String("protocol_version", initResult.ProtocolVersion))

	return c.transport.SendNotification(ctx, protocol.MethodInitialized, struct{}{})
}

// request wraps transport.SendRequest with the client-level timeout and an
// optional tracing span.
func (c *Client) request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	if c.tracing != nil {
		spanCtx, span := c.tracing.StartMethodSpan(ctx, method)
		defer span.End()
		ctx = spanCtx
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	result, err := c.transport.SendRequest(ctx, method, params)
	if err != nil && c.tracing != nil {
		c.tracing.RecordError(ctx, err)
	}
	return result, err
}

// Request sends an arbitrary request and returns the raw result. Exposed
// for protocol extensions the typed surface does not cover yet.
func (c *Client) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	return c.request(ctx, method, params)
}

// Notify sends an arbitrary notification.
func (c *Client) Notify(ctx context.Context, method string, params interface{}) error {
	return c.transport.SendNotification(ctx, method, params)
}

// ServerInfo returns the server identity from the initialize result.
func (c *Client) ServerInfo() *protocol.ServerInfo {
	c.toolsMu.RLock()
	defer c.toolsMu.RUnlock()
	return c.serverInfo
}

// Ping checks that the server is responding.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.request(ctx, protocol.MethodPing, struct{}{})
	return err
}

// Tools returns the cached tool descriptors, fetching them on first use or
// when refresh is set. A refresh replaces the cache atomically.
func (c *Client) Tools(ctx context.Context, refresh bool) ([]*schema.Tool, error) {
	c.toolsMu.RLock()
	cached := c.tools
	c.toolsMu.RUnlock()
	if cached != nil && !refresh {
		return cached, nil
	}

	result, err := c.request(ctx, protocol.MethodListTools, struct{}{})
	if err != nil {
		return nil, err
	}

	var listResult protocol.ListToolsResult
	if err := json.Unmarshal(result, &listResult); err != nil {
		return nil, mcperrors.ProtocolError(protocol.MethodListTools, err)
	}

	tools := make([]*schema.Tool, 0, len(listResult.Tools))
	for _, pt := range listResult.Tools {
		tool, err := schema.ToolFromProtocol(pt)
		if err != nil {
			return nil, mcperrors.ProtocolError(protocol.MethodListTools, err)
		}
		tools = append(tools, tool)
	}

	c.toolsMu.Lock()
	c.tools = tools
	c.toolsMu.Unlock()

	c.logger.Debug("tool list refreshed", logging.Int("count", len(tools)))
	return tools, nil
}

// ExecuteTool invokes a tool by name and returns its text content, items
// joined with newlines. Non-text items go through the content policy;
// isError results go through the tool error policy.
func (c *Client) ExecuteTool(ctx context.Context, name string, parameters map[string]interface{}) (string, error) {
	start := time.Now()

	params := &protocol.CallToolParams{
		Name:      name,
		Arguments: parameters,
	}

	result, err := c.request(ctx, protocol.MethodCallTool, params)
	if err != nil {
		c.metrics.RecordToolCall(ctx, name, "error", time.Since(start))
		return "", err
	}

	var callResult protocol.CallToolResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		c.metrics.RecordToolCall(ctx, name, "error", time.Since(start))
		return "", mcperrors.ProtocolError(protocol.MethodCallTool, err)
	}

	parts := make([]string, 0, len(callResult.Content))
	for _, item := range callResult.Content {
		if text, ok := c.contentPolicy(item); ok {
			parts = append(parts, text)
		}
	}
	joined := strings.Join(parts, "\n")

	status := "success"
	if callResult.IsError {
		status = "tool_error"
		joined, err = c.toolErrorPolicy(name, joined)
	}
	c.metrics.RecordToolCall(ctx, name, status, time.Since(start))

	return joined, err
}

// handleNotification is invoked by the transport reader in stream order.
func (c *Client) handleNotification(ctx context.Context, notif *protocol.Notification) {
	switch notif.Method {
	case protocol.MethodToolsChanged:
		c.toolsMu.Lock()
		c.tools = nil
		c.toolsMu.Unlock()
		c.logger.Info("tool list invalidated by server notification")
	default:
		c.logger.Debug("unhandled server notification", logging.String("method", notif.Method))
	}
}

// Close tears down the transport. Safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.transport.Close()
	})
	return err
}
