package provider

import (
	"encoding/json"
	"strings"

	"github.com/mozilla-ai/mcpshield/internal/errors"
)

// InputSchema renders the tool's parameters as a JSON Schema object, the shape MCP clients expect in inputSchema.
// Parameters of type "any" carry no type constraint.
func (t Tool) InputSchema() json.RawMessage {
	properties := make(map[string]map[string]any, len(t.Parameters))
	required := make([]string, 0)

	for _, p := range t.Parameters {
		prop := map[string]any{}
		if p.Type != "" && p.Type != "any" {
			prop["type"] = p.Type
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Default) > 0 {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop

		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	b, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return b
}

// MCPTool renders the tool as an entry of a tools/list result.
func (t Tool) MCPTool() map[string]any {
	return map[string]any{
		"name":        t.Name,
		"description": t.Description,
		"inputSchema": t.InputSchema(),
	}
}

// CallToolResult renders r as the result of an MCP tools/call.
// Content is used as is when present; otherwise Data (or Error) becomes a single text item.
func (r Result) CallToolResult() map[string]any {
	content := r.Content
	if len(content) == 0 {
		var text string
		switch {
		case !r.Success:
			text = r.Error
		case len(r.Data) > 0:
			text = string(r.Data)
		default:
			text = ""
		}
		content = []any{map[string]any{"type": "text", "text": text}}
	}

	out := map[string]any{"content": content}
	if !r.Success {
		out["isError"] = true
	}
	return out
}

// SplitToolName splits "<provider>.<tool>" at the first dot.
func SplitToolName(full string) (string, string, error) {
	providerName, toolName, ok := strings.Cut(full, ".")
	if !ok || providerName == "" || toolName == "" {
		return "", "", errors.InvalidRequest("invalid tool name format: %s. Use provider.tool_name", full)
	}
	return providerName, toolName, nil
}
