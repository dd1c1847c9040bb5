// Package schema converts the JSON Schema fragments that MCP servers attach
// to their tools into a host-neutral parameter tree, and emits that tree
// back out as provider-specific schemas for LLM clients.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/modelhost/mcp-client-go/pkg/protocol"
)

// Parameter types accepted from tool input schemas.
const (
	TypeString  = "string"
	TypeNumber  = "number"
	TypeInteger = "integer"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
)

// Parameter is one named property of a tool's input schema. Array
// parameters retain their raw items fragment; object parameters recurse
// into nested Properties.
type Parameter struct {
	Name        string
	Type        string
	Description string
	Required    bool
	Items       json.RawMessage
	Properties  map[string]*Parameter
}

// Tool is the host-neutral descriptor of a single server tool.
type Tool struct {
	Name        string
	Description string
	Parameters  map[string]*Parameter
}

// inputSchema is the wire shape of a tool's inputSchema fragment.
type inputSchema struct {
	Type        string                     `json:"type"`
	Description string                     `json:"description"`
	Properties  map[string]json.RawMessage `json:"properties"`
	Required    []string                   `json:"required"`
	Items       json.RawMessage            `json:"items"`
}

// ToolFromProtocol converts a tools/list entry into a Tool descriptor.
func ToolFromProtocol(t protocol.Tool) (*Tool, error) {
	params, err := ParametersFromInputSchema(t.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("tool %q: %w", t.Name, err)
	}
	return &Tool{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}, nil
}

// ParametersFromInputSchema builds the parameter map from a raw inputSchema
// fragment of shape {type: "object", properties: {...}, required: [...]}.
// A nil or empty fragment yields an empty map.
func ParametersFromInputSchema(raw json.RawMessage) (map[string]*Parameter, error) {
	params := make(map[string]*Parameter)
	if len(raw) == 0 {
		return params, nil
	}

	var root inputSchema
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, fmt.Errorf("failed to parse input schema: %w", err)
	}

	required := make(map[string]bool, len(root.Required))
	for _, name := range root.Required {
		required[name] = true
	}

	for name, propRaw := range root.Properties {
		p, err := parameterFromProperty(name, propRaw, required[name])
		if err != nil {
			return nil, err
		}
		params[name] = p
	}

	return params, nil
}

func parameterFromProperty(name string, raw json.RawMessage, required bool) (*Parameter, error) {
	var prop inputSchema
	if err := json.Unmarshal(raw, &prop); err != nil {
		return nil, fmt.Errorf("failed to parse property %q: %w", name, err)
	}

	p := &Parameter{
		Name:        name,
		Type:        prop.Type,
		Description: prop.Description,
		Required:    required,
	}

	switch prop.Type {
	case TypeArray:
		p.Items = prop.Items
	case TypeObject:
		if len(prop.Properties) > 0 {
			nestedRequired := make(map[string]bool, len(prop.Required))
			for _, n := range prop.Required {
				nestedRequired[n] = true
			}
			p.Properties = make(map[string]*Parameter, len(prop.Properties))
			for childName, childRaw := range prop.Properties {
				child, err := parameterFromProperty(childName, childRaw, nestedRequired[childName])
				if err != nil {
					return nil, err
				}
				p.Properties[childName] = child
			}
		}
	}

	return p, nil
}
