package daemon

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/mcpshield/internal/contracts"
	"github.com/mozilla-ai/mcpshield/internal/domain"
	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/lazy"
	"github.com/mozilla-ai/mcpshield/internal/provider"
)

var (
	_ contracts.MCPToolCatalog = (*Gateway)(nil)
	_ contracts.MCPGateway     = (*Gateway)(nil)
)

// Tools lists the tools of every server matching q, plus the skill tools when q has no tag.
// Unlike tools/list on /mcp the listing ignores the lazy loading mode.
func (g *Gateway) Tools(ctx context.Context, q domain.ToolQuery) ([]domain.Tool, error) {
	sf := g.scopeFilter(callerFrom(ctx))

	if q.Server != "" {
		if _, ok := g.servers.Server(q.Server); !ok && !g.isSkill(q.Server) {
			return nil, errors.ServerNotFound("Server '%s' not found", q.Server)
		}
	}

	out := make([]domain.Tool, 0)
	for _, info := range g.servers.Infos() {
		if q.Server != "" && info.Name != q.Server {
			continue
		}
		if q.Tag != "" && !slices.Contains(info.Tags, q.Tag) {
			continue
		}
		if sf != nil && !sf.CanAccessServer(info.Tags) {
			continue
		}

		tools, err := g.loader.FetchTools(ctx, info.Name)
		if err != nil {
			g.logger.Warn("Failed to fetch tools", "server", info.Name, "error", err)
			continue
		}
		for _, t := range tools {
			if sf == nil || sf.CanUseTool(t.Name) {
				out = append(out, fromLazyTool(t))
			}
		}
	}

	if q.Tag != "" {
		return out, nil
	}

	for _, t := range g.skillTools(ctx) {
		if q.Server != "" && t.Provider != q.Server {
			continue
		}
		if sf == nil || sf.CanUseTool(t.Name) {
			out = append(out, fromProviderTool(t))
		}
	}

	return out, nil
}

// Schema returns one tool. Skill tools are addressed as "<skill>.<tool>".
func (g *Gateway) Schema(ctx context.Context, name string, server string) (domain.Tool, error) {
	sf := g.scopeFilter(callerFrom(ctx))
	if sf != nil && !sf.CanUseTool(name) {
		return domain.Tool{}, errors.Authorization("Access denied: '%s' is not allowed by your scopes", name)
	}

	if g.isSkillTool(name) {
		t, _, err := g.providers.FindTool(ctx, name)
		if err != nil {
			return domain.Tool{}, err
		}
		return fromProviderTool(t), nil
	}

	t, err := g.loader.ToolSchema(ctx, server, name)
	if err != nil {
		if errors.KindOf(err) == errors.KindInvalidRequest {
			return domain.Tool{}, errors.Wrap(errors.KindServerNotFound, err, "tool '%s'", name)
		}
		return domain.Tool{}, err
	}

	if sf != nil {
		if ms, ok := g.servers.Server(t.Server); ok && !sf.CanAccessServer(ms.Tags()) {
			return domain.Tool{}, errors.Authorization("Access denied: '%s' is not allowed by your scopes", t.Server)
		}
	}

	return fromLazyTool(t), nil
}

// Invoke calls a tool through the same pipeline as tools/call on /mcp.
// Arguments are validated against the tool's input schema first.
func (g *Gateway) Invoke(ctx context.Context, name string, server string, args json.RawMessage) (json.RawMessage, error) {
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) {
		return nil, errors.InvalidRequest("arguments must be valid JSON")
	}

	target := ""
	if !g.isSkillTool(name) {
		t, err := g.Schema(ctx, name, server)
		if err != nil {
			return nil, err
		}
		if err := g.loader.ValidateArguments(lazy.Tool{
			Name:        t.Name,
			InputSchema: t.InputSchema,
			Server:      t.Server,
		}, args); err != nil {
			return nil, err
		}
		target = t.Server
	}

	req, err := jsonrpc.NewRequest(g.ids.Next(), string(mcp.MethodToolsCall), map[string]any{
		"name":      name,
		"arguments": args,
	})
	if err != nil {
		return nil, errors.Wrap(errors.KindSerialization, err, "encoding tools/call")
	}

	resp, err := g.Handle(ctx, target, req)
	if err != nil {
		return nil, err
	}

	return resultOf(resp)
}

// isSkill reports whether name is a registered skill provider.
func (g *Gateway) isSkill(name string) bool {
	p, ok := g.providers.Get(name)
	return ok && p.Type() == provider.TypeSkill
}

// resultOf converts a JSON-RPC response into a result or a Kind-carrying error.
func resultOf(resp *jsonrpc.Response) (json.RawMessage, error) {
	if resp == nil {
		return nil, errors.Internal("no response")
	}
	if resp.Error == nil {
		return resp.Result, nil
	}

	switch resp.Error.Code {
	case jsonrpc.CodeAccessDenied:
		return nil, errors.Authorization("%s", resp.Error.Message)
	case jsonrpc.CodeInvalidParams, jsonrpc.CodeInvalidRequest, jsonrpc.CodeMethodNotFound:
		return nil, errors.InvalidRequest("%s", resp.Error.Message)
	default:
		return nil, errors.Transport("server error %d: %s", resp.Error.Code, resp.Error.Message)
	}
}

func fromLazyTool(t lazy.Tool) domain.Tool {
	return domain.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema,
		Server:      t.Server,
	}
}

func fromProviderTool(t provider.Tool) domain.Tool {
	return domain.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: t.InputSchema(),
		Server:      t.Provider,
	}
}
