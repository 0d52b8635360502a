package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
)

var _ Provider = (*MCPProvider)(nil)

// Server is the part of a managed MCP server that MCPProvider needs.
type Server interface {
	Name() string
	IsConnected() bool
	SendRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)
}

// MCPProvider adapts an MCP server to the Provider interface.
type MCPProvider struct {
	name   string
	typ    Type
	server Server
	ids    *jsonrpc.Generator
}

// NewMCPProvider wraps server. Request ids are drawn from ids.
func NewMCPProvider(name string, typ Type, server Server, ids *jsonrpc.Generator) (*MCPProvider, error) {
	if name == "" {
		return nil, fmt.Errorf("provider name cannot be empty")
	}
	if server == nil {
		return nil, fmt.Errorf("server cannot be nil")
	}
	if ids == nil {
		return nil, fmt.Errorf("id generator cannot be nil")
	}

	return &MCPProvider{name: name, typ: typ, server: server, ids: ids}, nil
}

// Name implements Provider.
func (p *MCPProvider) Name() string {
	return p.name
}

// Type implements Provider.
func (p *MCPProvider) Type() Type {
	return p.typ
}

// IsAvailable reports whether the server's transport is connected.
func (p *MCPProvider) IsAvailable(context.Context) bool {
	return p.server.IsConnected()
}

// ListTools sends tools/list and converts each tool's inputSchema into parameters.
func (p *MCPProvider) ListTools(ctx context.Context) ([]Tool, error) {
	req, err := jsonrpc.NewRequest(p.ids.Next(), string(mcp.MethodToolsList), nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.server.SendRequest(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("listing tools of '%s': %w", p.name, err)
	}
	if resp.Error != nil {
		return nil, errors.Internal("listing tools of '%s': %s", p.name, resp.Error.Message)
	}

	var result struct {
		Tools []struct {
			Name        string          `json:"name"`
			Description string          `json:"description"`
			InputSchema json.RawMessage `json:"inputSchema"`
		} `json:"tools"`
	}
	if err := resp.DecodeResult(&result); err != nil {
		return nil, fmt.Errorf("listing tools of '%s': %w", p.name, err)
	}

	tools := make([]Tool, 0, len(result.Tools))
	for _, t := range result.Tools {
		name := t.Name
		if name == "" {
			name = "unknown"
		}
		tools = append(tools, Tool{
			Name:         p.name + "." + name,
			Description:  t.Description,
			Provider:     p.name,
			ProviderType: p.typ,
			Parameters:   ParametersFromSchema(t.InputSchema),
		})
	}

	return tools, nil
}

// CallTool sends tools/call with {name, arguments}. A JSON-RPC error from the server is returned as a failed Result.
func (p *MCPProvider) CallTool(ctx context.Context, name string, args json.RawMessage) (Result, error) {
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	params := map[string]any{
		"name":      stripPrefix(p.name, name),
		"arguments": args,
	}
	req, err := jsonrpc.NewRequest(p.ids.Next(), string(mcp.MethodToolsCall), params)
	if err != nil {
		return Result{}, err
	}

	resp, err := p.server.SendRequest(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("calling '%s' on '%s': %w", name, p.name, err)
	}
	if resp.Error != nil {
		return ErrorResult(resp.Error.Message), nil
	}
	if len(resp.Result) == 0 || string(resp.Result) == "null" {
		return Result{Success: true, Data: json.RawMessage(`{"status":"ok"}`)}, nil
	}

	var body struct {
		Content []any `json:"content"`
		IsError bool  `json:"isError"`
	}
	if err := json.Unmarshal(resp.Result, &body); err != nil {
		return Result{}, errors.Wrap(errors.KindSerialization, err, "tool result from '%s'", p.name)
	}

	return Result{
		Success: !body.IsError,
		Data:    resp.Result,
		Content: body.Content,
	}, nil
}

// ParametersFromSchema converts a JSON schema object into parameters, sorted by name.
// Properties without a type are reported as "any".
func ParametersFromSchema(schema json.RawMessage) []Parameter {
	if len(schema) == 0 {
		return nil
	}

	var s struct {
		Properties map[string]struct {
			Type        any             `json:"type"`
			Description string          `json:"description"`
			Default     json.RawMessage `json:"default"`
		} `json:"properties"`
		Required []string `json:"required"`
	}
	if err := json.Unmarshal(schema, &s); err != nil {
		return nil
	}

	params := make([]Parameter, 0, len(s.Properties))
	for name, prop := range s.Properties {
		typ, ok := prop.Type.(string)
		if !ok || typ == "" {
			typ = "any"
		}
		params = append(params, Parameter{
			Name:        name,
			Description: prop.Description,
			Required:    slices.Contains(s.Required, name),
			Type:        typ,
			Default:     prop.Default,
		})
	}
	slices.SortFunc(params, func(a, b Parameter) int {
		return strings.Compare(a.Name, b.Name)
	})

	return params
}
