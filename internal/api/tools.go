package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/mozilla-ai/mcpshield/internal/contracts"
	"github.com/mozilla-ai/mcpshield/internal/domain"
)

// toolDetailLevel controls how much of each tool is returned by the listing.
type toolDetailLevel string

const (
	toolDetailMinimal toolDetailLevel = "minimal"
	toolDetailSummary toolDetailLevel = "summary"
	toolDetailFull    toolDetailLevel = "full"
)

// DomainTool wraps domain.Tool for conversion via ToAPIType.
type DomainTool domain.Tool

// Tool is a tool exposed by an upstream server or a skill.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
	Server      string         `json:"server"`
}

// ToolsRequest filters the tool listing.
type ToolsRequest struct {
	Server string `doc:"Only list tools of this server or skill" example:"filesystem" query:"server"`
	Tag    string `doc:"Only list tools of servers with this tag" example:"files"     query:"tag"`
	Detail string `default:"full" doc:"Level of detail" enum:"minimal,summary,full" query:"detail"`
}

// ToolsResponse represents the wrapped API response for a tool listing.
type ToolsResponse struct {
	Body struct {
		Tools []Tool `doc:"Tools visible to the caller" json:"tools"`
		Count int    `doc:"Number of tools"             json:"count"`
	}
}

// ToolSchemaRequest identifies one tool.
type ToolSchemaRequest struct {
	Name   string `doc:"Name of the tool"                                         example:"read_file" path:"name"`
	Server string `doc:"Server providing the tool, searched across all when empty" example:"filesystem" query:"server"`
}

// ToolSchemaResponse represents the wrapped API response for a single tool.
type ToolSchemaResponse struct {
	Body Tool
}

// ToolInvokeRequest represents the incoming API request to call a tool.
type ToolInvokeRequest struct {
	Name string `doc:"Name of the tool to call" example:"read_file" path:"name"`
	Body struct {
		Server    string         `doc:"Server providing the tool, searched across all when empty" json:"server,omitempty"`
		Arguments map[string]any `doc:"Tool arguments, validated against the input schema"         json:"arguments,omitempty"`
	} `required:"false"`
}

// ToolInvokeResponse carries the tools/call result returned by the server.
type ToolInvokeResponse struct {
	Body any
}

// Normalize handles case-insensitivity and trimming, providing a safe default.
func (t toolDetailLevel) Normalize() toolDetailLevel {
	normalized := toolDetailLevel(strings.ToLower(strings.TrimSpace(string(t))))
	switch normalized {
	case toolDetailMinimal, toolDetailSummary, toolDetailFull:
		return normalized
	default:
		return toolDetailFull
	}
}

// ToAPIType can be used to convert a wrapped domain type to an API-safe type.
func (d DomainTool) ToAPIType() (Tool, error) {
	var schema map[string]any
	if len(d.InputSchema) > 0 {
		if err := json.Unmarshal(d.InputSchema, &schema); err != nil {
			return Tool{}, fmt.Errorf("input schema of tool %s: %w", d.Name, err)
		}
	}

	return Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: schema,
		Server:      d.Server,
	}, nil
}

// project trims t down to the given detail level.
func (t Tool) project(level toolDetailLevel) Tool {
	switch level {
	case toolDetailMinimal:
		return Tool{Name: t.Name, Server: t.Server}
	case toolDetailSummary:
		return Tool{Name: t.Name, Description: t.Description, Server: t.Server}
	default:
		return t
	}
}

// RegisterToolRoutes sets up the tool catalog endpoints.
func RegisterToolRoutes(routerAPI huma.API, catalog contracts.MCPToolCatalog, apiPathPrefix string) {
	toolsAPI := huma.NewGroup(routerAPI, apiPathPrefix)
	tags := []string{"Tools"}

	huma.Register(
		toolsAPI,
		huma.Operation{
			OperationID: "listTools",
			Method:      http.MethodGet,
			Summary:     "List the tools visible to the caller",
			Tags:        tags,
		},
		func(ctx context.Context, input *ToolsRequest) (*ToolsResponse, error) {
			return handleTools(ctx, catalog, input)
		},
	)

	huma.Register(
		toolsAPI,
		huma.Operation{
			OperationID: "getToolSchema",
			Method:      http.MethodGet,
			Path:        "/{name}/schema",
			Summary:     "Get the schema of a tool",
			Tags:        tags,
		},
		func(ctx context.Context, input *ToolSchemaRequest) (*ToolSchemaResponse, error) {
			return handleToolSchema(ctx, catalog, input.Name, input.Server)
		},
	)

	huma.Register(
		toolsAPI,
		huma.Operation{
			OperationID: "invokeTool",
			Method:      http.MethodPost,
			Path:        "/{name}/invoke",
			Summary:     "Call a tool",
			Tags:        tags,
		},
		func(ctx context.Context, input *ToolInvokeRequest) (*ToolInvokeResponse, error) {
			return handleToolInvoke(ctx, catalog, input)
		},
	)
}

func handleTools(ctx context.Context, catalog contracts.MCPToolCatalog, input *ToolsRequest) (*ToolsResponse, error) {
	tools, err := catalog.Tools(ctx, domain.ToolQuery{Server: input.Server, Tag: input.Tag})
	if err != nil {
		return nil, err
	}

	level := toolDetailLevel(input.Detail).Normalize()

	resp := &ToolsResponse{}
	resp.Body.Tools = make([]Tool, 0, len(tools))
	for _, t := range tools {
		data, err := DomainTool(t).ToAPIType()
		if err != nil {
			return nil, err
		}
		resp.Body.Tools = append(resp.Body.Tools, data.project(level))
	}
	resp.Body.Count = len(resp.Body.Tools)

	return resp, nil
}

func handleToolSchema(
	ctx context.Context,
	catalog contracts.MCPToolCatalog,
	name string,
	server string,
) (*ToolSchemaResponse, error) {
	t, err := catalog.Schema(ctx, name, server)
	if err != nil {
		return nil, err
	}

	data, err := DomainTool(t).ToAPIType()
	if err != nil {
		return nil, err
	}

	return &ToolSchemaResponse{Body: data}, nil
}

func handleToolInvoke(
	ctx context.Context,
	catalog contracts.MCPToolCatalog,
	input *ToolInvokeRequest,
) (*ToolInvokeResponse, error) {
	args, err := json.Marshal(input.Body.Arguments)
	if err != nil {
		return nil, fmt.Errorf("encoding arguments: %w", err)
	}

	raw, err := catalog.Invoke(ctx, input.Name, input.Body.Server, args)
	if err != nil {
		return nil, err
	}

	var result any
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			return nil, fmt.Errorf("decoding result of tool %s: %w", input.Name, err)
		}
	}

	return &ToolInvokeResponse{Body: result}, nil
}
