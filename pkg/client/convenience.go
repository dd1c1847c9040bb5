package client

import (
	"context"

	"github.com/modelhost/mcp-client-go/pkg/transport"
)

// NewStdioClient spawns command with args and env and speaks MCP over its
// standard streams.
func NewStdioClient(ctx context.Context, name, command string, args []string, env map[string]string, options ...Option) (*Client, error) {
	config := transport.DefaultConfig(transport.TypeStdio)
	config.Command = command
	config.Args = args
	config.Env = env
	return New(ctx, name, config, options...)
}

// NewSSEClient connects to a remote MCP server streaming over SSE at
// endpoint. Headers are sent on the stream GET and on every message POST.
func NewSSEClient(ctx context.Context, name, endpoint string, headers map[string]string, options ...Option) (*Client, error) {
	config := transport.DefaultConfig(transport.TypeSSE)
	config.Endpoint = endpoint
	config.Headers = headers
	return New(ctx, name, config, options...)
}
