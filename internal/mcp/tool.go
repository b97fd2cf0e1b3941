package mcp

import (
	"encoding/json"
	"strings"
)

// ToolInfo describes one tool discovered from a server's tools/list
// response (spec §3, MCPToolInfo).
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
	ServerName  string          `json:"-"`
}

// Parameter is one derived entry of ToolInfo.Parameters.
type Parameter struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Required    bool   `json:"required"`
	Default     any    `json:"default,omitempty"`
}

type jsonSchema struct {
	Type       string                 `json:"type"`
	Properties map[string]schemaField `json:"properties"`
	Required   []string               `json:"required"`
}

type schemaField struct {
	Type        any    `json:"type"`
	Description string `json:"description"`
	Default     any    `json:"default"`
}

// Parameters derives a name->Parameter mapping from the tool's raw JSON
// Schema input_schema, per spec §3.
func (t *ToolInfo) Parameters() map[string]Parameter {
	out := map[string]Parameter{}
	if len(t.InputSchema) == 0 {
		return out
	}
	var schema jsonSchema
	if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
		return out
	}
	required := map[string]bool{}
	for _, name := range schema.Required {
		required[name] = true
	}
	for name, field := range schema.Properties {
		out[name] = Parameter{
			Type:        schemaTypeString(field.Type),
			Description: field.Description,
			Required:    required[name],
			Default:     field.Default,
		}
	}
	return out
}

func schemaTypeString(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case []any:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok {
				return s
			}
		}
	}
	return "any"
}

type textContentResult struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// UnwrapResult applies the MCP result-unwrapping rule of spec §4.2: if the
// result is {content:[{type:"text", text:T}]}, return T, parsed as JSON
// when T itself looks like a JSON object/array. Any other shape is
// returned verbatim as a generic value.
func UnwrapResult(raw json.RawMessage) (any, error) {
	var wrapped textContentResult
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Content) > 0 && wrapped.Content[0].Type == "text" {
		text := wrapped.Content[0].Text
		if looksLikeJSON(text) {
			var parsed any
			if err := json.Unmarshal([]byte(text), &parsed); err == nil {
				return parsed, nil
			}
		}
		return text, nil
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

func looksLikeJSON(s string) bool {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return false
	}
	first := trimmed[0]
	last := trimmed[len(trimmed)-1]
	return (first == '{' && last == '}') || (first == '[' && last == ']')
}
