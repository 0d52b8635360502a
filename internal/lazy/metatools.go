package lazy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/scope"
)

const (
	// MetaServer is reported as the server of the meta-tools.
	MetaServer = "__mcpshield__"

	ToolList   = "tool_list"
	ToolSchema = "tool_schema"
	ToolInvoke = "tool_invoke"

	// PlaceholderSuffix is appended to a server name to form its Full-mode placeholder tool.
	PlaceholderSuffix = "_lazy_loader"
)

// MetaTools returns the tools listed in Metatool mode.
func MetaTools() []Tool {
	defs := []mcp.Tool{
		mcp.NewTool(ToolList,
			mcp.WithDescription("List available tools across all MCP servers with optional filtering"),
			mcp.WithArray("server", mcp.Description("Filter to specific server names"), mcp.WithStringItems()),
			mcp.WithArray("tags", mcp.Description("Filter by tags"), mcp.WithStringItems()),
		),
		mcp.NewTool(ToolSchema,
			mcp.WithDescription("Get the schema for a specific tool"),
			mcp.WithString("name", mcp.Required(), mcp.Description("The name of the tool to get schema for")),
			mcp.WithString("server", mcp.Description("The server providing the tool")),
		),
		mcp.NewTool(ToolInvoke,
			mcp.WithDescription("Invoke a tool on a specific server"),
			mcp.WithString("server", mcp.Required(), mcp.Description("The server name")),
			mcp.WithString("tool", mcp.Required(), mcp.Description("The tool name to invoke")),
			mcp.WithObject("arguments", mcp.Description("Tool arguments as JSON object")),
		),
	}

	out := make([]Tool, 0, len(defs))
	for _, d := range defs {
		schema, _ := json.Marshal(d.InputSchema)
		out = append(out, Tool{Name: d.Name, Description: d.Description, InputSchema: schema, Server: MetaServer})
	}
	return out
}

// IsMetaTool reports whether name is one of the meta-tools.
func IsMetaTool(name string) bool {
	return name == ToolList || name == ToolSchema || name == ToolInvoke
}

// placeholders returns the Full-mode placeholder of every visible server.
func (l *Loader) placeholders(f Filter) []Tool {
	var out []Tool
	for _, name := range l.servers.ListServers() {
		if !l.visible(name, f) {
			continue
		}

		def := mcp.NewTool(name+PlaceholderSuffix,
			mcp.WithDescription(fmt.Sprintf(
				"Placeholder for lazy loading tools from server '%s'. Invoke with tool name to load.", name,
			)),
			mcp.WithString("tool_name", mcp.Required(), mcp.Description("The name of the tool to load and invoke")),
			mcp.WithObject("arguments", mcp.Description("Arguments for the tool")),
		)
		schema, _ := json.Marshal(def.InputSchema)
		out = append(out, Tool{Name: def.Name, Description: def.Description, InputSchema: schema, Server: name})
	}
	return out
}

// HandleCall answers a tools/call request that targets a meta-tool (Metatool mode) or a placeholder (Full mode).
// It reports false when the request is for an ordinary tool and must be forwarded by the caller.
// Denials, unknown tools and invalid arguments are answered with JSON-RPC error responses.
// The returned response carries req's id.
func (l *Loader) HandleCall(ctx context.Context, req *jsonrpc.Request, sf *scope.Filter) (*jsonrpc.Response, bool, error) {
	if req.Method != string(mcp.MethodToolsCall) {
		return nil, false, nil
	}

	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, false, nil
	}

	switch {
	case l.opts.Mode == Metatool && IsMetaTool(params.Name):
		l.metrics.metaInvocations.Add(1)
		resp, err := l.handleMeta(ctx, req.ID, params.Name, params.Arguments, sf)
		return resp, true, err

	case l.opts.Mode == Full && strings.HasSuffix(params.Name, PlaceholderSuffix):
		name := strings.TrimSuffix(params.Name, PlaceholderSuffix)
		if _, ok := l.servers.Server(name); !ok {
			return nil, false, nil
		}
		l.metrics.templateInvocations.Add(1)

		var args struct {
			ToolName  string          `json:"tool_name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(params.Arguments, &args); err != nil || args.ToolName == "" {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "tool_name is required"), true, nil
		}

		resp, err := l.invoke(ctx, req.ID, name, args.ToolName, args.Arguments, sf)
		return resp, true, err
	}

	return nil, false, nil
}

func (l *Loader) handleMeta(ctx context.Context, id *jsonrpc.ID, tool string, rawArgs json.RawMessage, sf *scope.Filter) (*jsonrpc.Response, error) {
	if len(rawArgs) == 0 || string(rawArgs) == "null" {
		rawArgs = json.RawMessage(`{}`)
	}

	switch tool {
	case ToolList:
		var args struct {
			Server []string `json:"server"`
			Tags   []string `json:"tags"`
		}
		if err := json.Unmarshal(rawArgs, &args); err != nil {
			return jsonrpc.NewErrorResponse(id, jsonrpc.CodeInvalidParams, err.Error()), nil
		}

		f := Filter{Servers: args.Server, Tags: args.Tags, Scope: sf}
		var names []string
		for _, name := range l.servers.ListServers() {
			if l.visible(name, f) {
				names = append(names, name)
			}
		}

		type summary struct {
			Server      string `json:"server"`
			Name        string `json:"name"`
			Description string `json:"description,omitempty"`
		}
		tools := l.collect(ctx, names, sf)
		out := make([]summary, 0, len(tools))
		for _, t := range tools {
			out = append(out, summary{Server: t.Server, Name: t.Name, Description: t.Description})
		}
		return textResult(id, out)

	case ToolSchema:
		var args struct {
			Name   string `json:"name"`
			Server string `json:"server"`
		}
		if err := json.Unmarshal(rawArgs, &args); err != nil || args.Name == "" {
			return jsonrpc.NewErrorResponse(id, jsonrpc.CodeInvalidParams, "name is required"), nil
		}
		if sf != nil && !sf.CanUseTool(args.Name) {
			return scope.DeniedResponse(id, args.Name), nil
		}

		t, err := l.ToolSchema(ctx, args.Server, args.Name)
		if err != nil {
			return errorResult(id, err)
		}
		if !l.visible(t.Server, Filter{Scope: sf}) {
			return scope.DeniedResponse(id, t.Server), nil
		}
		return textResult(id, t)

	default:
		var args struct {
			Server    string          `json:"server"`
			Tool      string          `json:"tool"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(rawArgs, &args); err != nil || args.Server == "" || args.Tool == "" {
			return jsonrpc.NewErrorResponse(id, jsonrpc.CodeInvalidParams, "server and tool are required"), nil
		}
		return l.invoke(ctx, id, args.Server, args.Tool, args.Arguments, sf)
	}
}

// invoke checks access, then calls the tool and rewrites the upstream response to id.
func (l *Loader) invoke(ctx context.Context, id *jsonrpc.ID, server, tool string, args json.RawMessage, sf *scope.Filter) (*jsonrpc.Response, error) {
	if sf != nil {
		if !sf.CanUseTool(tool) {
			return scope.DeniedResponse(id, tool), nil
		}
		if !l.visible(server, Filter{Scope: sf}) {
			if _, ok := l.servers.Server(server); ok {
				return scope.DeniedResponse(id, server), nil
			}
		}
	}

	resp, err := l.InvokeTool(ctx, server, tool, args)
	if err != nil {
		return errorResult(id, err)
	}

	out := *resp
	out.ID = id
	return &out, nil
}

// errorResult converts client-caused errors into JSON-RPC error responses and passes the rest through.
func errorResult(id *jsonrpc.ID, err error) (*jsonrpc.Response, error) {
	switch errors.KindOf(err) {
	case errors.KindInvalidRequest:
		return jsonrpc.NewErrorResponse(id, jsonrpc.CodeInvalidParams, err.Error()), nil
	case errors.KindServerNotFound:
		return jsonrpc.NewErrorResponse(id, jsonrpc.CodeInvalidParams, err.Error()), nil
	default:
		return nil, err
	}
}

func textResult(id *jsonrpc.ID, v any) (*jsonrpc.Response, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.Wrap(errors.KindSerialization, err, "encoding meta-tool result")
	}
	return jsonrpc.NewResult(id, mcp.NewToolResultText(string(b)))
}
