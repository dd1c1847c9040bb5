package schema

import "encoding/json"

// OpenAISchema emits one parameter as an OpenAI-style JSON schema fragment.
// Absent optional fields are dropped from the output.
func OpenAISchema(p *Parameter) map[string]interface{} {
	out := make(map[string]interface{}, 4)
	if p.Type != "" {
		out["type"] = p.Type
	}
	if p.Description != "" {
		out["description"] = p.Description
	}
	if len(p.Items) > 0 {
		out["items"] = json.RawMessage(p.Items)
	}
	if len(p.Properties) > 0 {
		props := make(map[string]interface{}, len(p.Properties))
		for name, child := range p.Properties {
			props[name] = OpenAISchema(child)
		}
		out["properties"] = props
	}
	return out
}

// OpenAIToolSchema emits the full parameter map of a tool as the
// {type: "object", properties: {...}, required: [...]} schema an OpenAI tool
// definition expects.
func OpenAIToolSchema(params map[string]*Parameter) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := make([]string, 0)
	for name, p := range params {
		properties[name] = OpenAISchema(p)
		if p.Required {
			required = append(required, name)
		}
	}

	out := map[string]interface{}{
		"type":       TypeObject,
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}

// AnthropicToolSchema emits the parameter map as the input_schema object an
// Anthropic tool definition expects. The per-parameter shape matches the
// OpenAI emitter; only the top-level application differs.
func AnthropicToolSchema(params map[string]*Parameter) map[string]interface{} {
	return OpenAIToolSchema(params)
}
