// Package provider gives MCP servers and file-defined skills one tool abstraction.
package provider

import (
	"context"
	"encoding/json"
	"strings"
)

// Type identifies the kind of a Provider.
type Type string

const (
	TypeMCPStdio Type = "mcp-stdio"
	TypeMCPSSE   Type = "mcp-sse"
	TypeMCPHTTP  Type = "mcp-http"
	TypeSkill    Type = "skill"
)

// IsMCP reports whether t is backed by an MCP server.
func (t Type) IsMCP() bool {
	switch t {
	case TypeMCPStdio, TypeMCPSSE, TypeMCPHTTP:
		return true
	default:
		return false
	}
}

// TypeForTransport maps a configured transport name to a provider type.
// Unknown names map to TypeMCPStdio.
func TypeForTransport(transport string) Type {
	switch strings.ToLower(transport) {
	case "sse":
		return TypeMCPSSE
	case "streamable-http", "streamable", "streamable_http", "websocket", "ws":
		return TypeMCPHTTP
	default:
		return TypeMCPStdio
	}
}

// Parameter describes one argument of a tool.
type Parameter struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required"`
	Type        string          `json:"type"`
	Default     json.RawMessage `json:"default,omitempty"`
}

// Tool is a tool offered by a provider. Name is prefixed with the provider name: "<provider>.<tool>".
type Tool struct {
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Provider     string         `json:"provider"`
	ProviderType Type           `json:"provider_type"`
	Parameters   []Parameter    `json:"parameters"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// DisplayName returns the tool name without the provider prefix.
func (t Tool) DisplayName() string {
	return strings.TrimPrefix(t.Name, t.Provider+".")
}

// Result is the outcome of a tool call.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Content []any           `json:"content,omitempty"`
}

// Text returns the first text content item, if any.
func (r Result) Text() (string, bool) {
	for _, c := range r.Content {
		m, ok := c.(map[string]any)
		if !ok {
			continue
		}
		if s, ok := m["text"].(string); ok {
			return s, true
		}
	}
	return "", false
}

// ErrorResult builds a failed Result.
func ErrorResult(msg string) Result {
	return Result{Error: msg}
}

// Provider is a source of tools.
type Provider interface {
	// Name is the unique provider name, used as the tool prefix.
	Name() string

	// Type identifies the provider kind.
	Type() Type

	// IsAvailable reports whether the provider can currently serve calls.
	IsAvailable(ctx context.Context) bool

	// ListTools returns every tool of the provider.
	ListTools(ctx context.Context) ([]Tool, error)

	// CallTool invokes a tool. name may carry the provider prefix.
	CallTool(ctx context.Context, name string, args json.RawMessage) (Result, error)
}

// stripPrefix removes "<provider>." from name when present.
func stripPrefix(provider, name string) string {
	return strings.TrimPrefix(name, provider+".")
}
