package protocol

import "encoding/json"

// Tool is a single server-described tool as returned by tools/list. The
// InputSchema is a JSON Schema fragment of shape {type: "object",
// properties: {...}, required: [...]} and is retained raw for conversion by
// the schema package.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsResult is the result of a tools/list request.
type ListToolsResult struct {
	Tools []Tool `json:"tools"`
}

// CallToolParams are the params of a tools/call request.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Content kinds that may appear in a tools/call result.
const (
	ContentTypeText     = "text"
	ContentTypeImage    = "image"
	ContentTypeResource = "resource"
)

// Content is a single item of a tools/call result. Only text items carry
// Text; image items keep their payload in Data and MimeType. Other payload
// fields, such as a resource item's resource object, are not decoded.
type Content struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
}

// CallToolResult is the result of a tools/call request. IsError marks a
// tool-level failure reported inside an otherwise successful response.
type CallToolResult struct {
	Content []Content `json:"content"`
	IsError bool      `json:"isError,omitempty"`
}
