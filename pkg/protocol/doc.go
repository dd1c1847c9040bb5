// Package protocol defines the JSON-RPC 2.0 message frames and the MCP
// method payloads exchanged between a host client and a tool server.
package protocol
