package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/mcpshield/internal/audit"
	"github.com/mozilla-ai/mcpshield/internal/breaker"
	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/lazy"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
	"github.com/mozilla-ai/mcpshield/internal/pool"
	"github.com/mozilla-ai/mcpshield/internal/provider"
	"github.com/mozilla-ai/mcpshield/internal/routing"
	"github.com/mozilla-ai/mcpshield/internal/scope"
	"github.com/mozilla-ai/mcpshield/internal/secrets"
	"github.com/mozilla-ai/mcpshield/internal/server"
)

// Gateway carries JSON-RPC requests from clients to MCP servers.
// Every request passes the scope filter and the secret scanner before it is routed, then goes through the
// server's circuit breaker and a pooled connection. Metrics and audit events are recorded for each forward.
//
// NewGateway should be used to create instances of Gateway.
type Gateway struct {
	logger    hclog.Logger
	servers   *server.Manager
	pool      *pool.Pool
	breakers  *breaker.Manager
	router    *routing.Router
	loader    *lazy.Loader
	providers *provider.Registry
	ids       *jsonrpc.Generator
	audit     audit.Sink
	metrics   metrics.Recorder
	scanner   *secrets.Scanner
	opts      GatewayOptions

	mu       sync.Mutex
	inflight map[string]uint64
}

// NewGateway creates a Gateway.
func NewGateway(deps GatewayDependencies, opts ...GatewayOption) (*Gateway, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway dependencies: %w", err)
	}

	o, err := NewGatewayOptions(opts...)
	if err != nil {
		return nil, fmt.Errorf("invalid gateway options: %w", err)
	}

	return &Gateway{
		logger:    deps.Logger.Named("gateway"),
		servers:   deps.Servers,
		pool:      deps.Pool,
		breakers:  deps.Breakers,
		router:    deps.Router,
		loader:    deps.Loader,
		providers: deps.Providers,
		ids:       deps.IDs,
		audit:     deps.Audit,
		metrics:   deps.Metrics,
		scanner:   deps.Scanner,
		opts:      o,
		inflight:  make(map[string]uint64),
	}, nil
}

// Handle processes a request sent to the named target server, or routes it when target is empty.
//
// Policy decisions (scope denials, blocked secrets, invalid envelopes) are answered with JSON-RPC error
// responses. Failures to reach a server are returned as errors carrying a Kind.
// Notifications are forwarded and yield a nil response.
func (g *Gateway) Handle(ctx context.Context, target string, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if err := req.Validate(); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidRequest, err.Error()), nil
	}

	c := callerFrom(ctx)
	sf := g.scopeFilter(c)

	if sf != nil {
		if denied, ok := sf.FilterRequest(req); !ok {
			return g.deny(c, target, req.ID, denied), nil
		}
	}

	if resp, blocked := g.scan(c, target, req); blocked {
		return resp, nil
	}

	if target != "" {
		name, err := g.router.RouteToServer(target)
		if err != nil {
			return nil, err
		}
		return g.forward(ctx, c, name, req, sf)
	}

	return g.dispatch(ctx, c, req, sf)
}

// dispatch serves a request sent to /mcp without a server name.
func (g *Gateway) dispatch(ctx context.Context, c caller, req *jsonrpc.Request, sf *scope.Filter) (*jsonrpc.Response, error) {
	if len(g.servers.ListServers()) == 0 && len(g.providers.ListByType(provider.TypeSkill)) == 0 {
		return nil, errors.ServerNotFound("No servers configured")
	}

	switch req.Method {
	case string(mcp.MethodToolsList):
		if g.aggregates() {
			return g.listTools(ctx, req, sf)
		}

	case string(mcp.MethodToolsCall):
		start := time.Now()
		resp, handled, err := g.loader.HandleCall(ctx, req, sf)
		if handled || err != nil {
			g.record(c, lazy.MetaServer, req.Method, time.Since(start), err)
			return resp, err
		}

		name := toolName(req)
		if g.isSkillTool(name) {
			return g.callSkill(ctx, c, req, name)
		}
		if server, ok := g.loader.Resolve(name); ok {
			return g.forward(ctx, c, server, req, sf)
		}
	}

	name, err := g.router.Route(req)
	if err != nil {
		return nil, err
	}

	return g.forward(ctx, c, name, req, sf)
}

// aggregates reports whether tools/list on /mcp is answered by the proxy instead of a routed server.
// That is the case when lazy loading shapes the list or when skills contribute tools.
func (g *Gateway) aggregates() bool {
	return g.loader.Enabled() || len(g.providers.ListByType(provider.TypeSkill)) > 0
}

// listTools answers tools/list with the loader's view of the servers plus the skill tools.
func (g *Gateway) listTools(ctx context.Context, req *jsonrpc.Request, sf *scope.Filter) (*jsonrpc.Response, error) {
	tools, err := g.loader.ListTools(ctx, lazy.Filter{Scope: sf})
	if err != nil {
		return nil, err
	}

	entries := make([]any, 0, len(tools))
	for _, t := range tools {
		entries = append(entries, t)
	}
	for _, t := range g.skillTools(ctx) {
		entries = append(entries, t.MCPTool())
	}

	resp, err := jsonrpc.NewResult(req.ID, map[string]any{"tools": entries})
	if err != nil {
		return nil, errors.Wrap(errors.KindSerialization, err, "encoding tools/list")
	}
	if sf != nil {
		if err := sf.FilterToolsList(resp); err != nil {
			return nil, errors.Wrap(errors.KindSerialization, err, "filtering tools/list")
		}
	}

	return resp, nil
}

// forward sends req to the named server over a pooled connection, guarded by the server's breaker.
// The request id is replaced with a fresh one on the way out and restored on the response.
func (g *Gateway) forward(
	ctx context.Context,
	c caller,
	name string,
	req *jsonrpc.Request,
	sf *scope.Filter,
) (*jsonrpc.Response, error) {
	ms, ok := g.servers.Server(name)
	if !ok {
		return nil, errors.ServerNotFound("Server '%s' not found", name)
	}
	if sf != nil && !sf.CanAccessServer(ms.Tags()) {
		return g.deny(c, name, req.ID, name), nil
	}

	g.begin(name)
	defer g.end(name)

	start := time.Now()
	b := g.breakers.Get(name)

	if req.IsNotification() {
		err := b.Call(ctx, func(ctx context.Context) error {
			conn, err := g.pool.Acquire(ctx, ms.Config())
			if err != nil {
				return err
			}
			defer g.pool.Release(conn)
			return conn.SendNotification(ctx, req)
		})
		g.record(c, name, req.Method, time.Since(start), err)
		return nil, err
	}

	out := req.Clone()
	id := g.ids.Next()
	out.ID = &id

	resp, err := breaker.Execute(ctx, b, func(ctx context.Context) (*jsonrpc.Response, error) {
		conn, err := g.pool.Acquire(ctx, ms.Config())
		if err != nil {
			return nil, err
		}
		defer g.pool.Release(conn)
		return conn.SendRequest(ctx, out)
	})
	g.record(c, name, req.Method, time.Since(start), err)
	if err != nil {
		g.logger.Warn("Forwarding failed", "server", name, "method", req.Method, "error", err)
		return nil, err
	}

	resp.ID = req.ID

	if sf != nil && req.Method == string(mcp.MethodToolsList) {
		if err := sf.FilterToolsList(resp); err != nil {
			return nil, errors.Wrap(errors.KindSerialization, err, "filtering tools/list from '%s'", name)
		}
	}

	return resp, nil
}

// callSkill runs a skill tool through the provider registry and wraps the outcome as a tools/call result.
func (g *Gateway) callSkill(ctx context.Context, c caller, req *jsonrpc.Request, name string) (*jsonrpc.Response, error) {
	var params struct {
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, err.Error()), nil
	}

	skill, _, _ := provider.SplitToolName(name)
	start := time.Now()
	result, err := g.providers.CallTool(ctx, name, params.Arguments)
	g.record(c, skill, req.Method, time.Since(start), err)
	if err != nil {
		if errors.KindOf(err) == errors.KindInvalidRequest || errors.KindOf(err) == errors.KindServerNotFound {
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, err.Error()), nil
		}
		return nil, err
	}

	resp, err := jsonrpc.NewResult(req.ID, result.CallToolResult())
	if err != nil {
		return nil, errors.Wrap(errors.KindSerialization, err, "encoding result of '%s'", name)
	}
	return resp, nil
}

// isSkillTool reports whether name is "<skill>.<tool>" for a registered skill provider.
func (g *Gateway) isSkillTool(name string) bool {
	skill, _, err := provider.SplitToolName(name)
	if err != nil {
		return false
	}
	p, ok := g.providers.Get(skill)
	return ok && p.Type() == provider.TypeSkill
}

// skillTools lists the tools of every skill provider.
func (g *Gateway) skillTools(ctx context.Context) []provider.Tool {
	var out []provider.Tool
	for _, name := range g.providers.ListByType(provider.TypeSkill) {
		p, ok := g.providers.Get(name)
		if !ok {
			continue
		}
		tools, err := p.ListTools(ctx)
		if err != nil {
			g.logger.Warn("Failed to list skill tools", "skill", name, "error", err)
			continue
		}
		out = append(out, tools...)
	}
	return out
}

// scopeFilter returns the filter for the caller's session, or nil when scopes are not enforced.
// Requests without a session are not restricted.
func (g *Gateway) scopeFilter(c caller) *scope.Filter {
	if !g.opts.ScopeValidation || c.session == nil {
		return nil
	}
	return scope.New(c.session.Scopes)
}

// deny records a scope denial and builds its response.
func (g *Gateway) deny(c caller, server string, id *jsonrpc.ID, resource string) *jsonrpc.Response {
	g.logger.Info("Access denied by scope", "user", c.userID, "server", server, "resource", resource)
	g.metrics.RecordScopeDenial()
	audit.AuthorizationDenied(g.audit, c.userID, c.clientIP, c.requestID, server, resource)
	return scope.DeniedResponse(id, resource)
}

// scan checks tool-call arguments for secrets. Findings are always audited; the call is blocked only when
// secret blocking is enabled. A scan that cannot decode the arguments lets the request through.
func (g *Gateway) scan(c caller, server string, req *jsonrpc.Request) (*jsonrpc.Response, bool) {
	if g.scanner == nil {
		return nil, false
	}

	findings, err := g.scanner.ScanRequest(req)
	if err != nil {
		g.logger.Debug("Skipping secret scan", "method", req.Method, "error", err)
		return nil, false
	}
	if len(findings) == 0 {
		return nil, false
	}

	tool := toolName(req)
	g.metrics.RecordSecretFindings(len(findings))
	audit.SuspiciousActivity(g.audit, c.userID, c.clientIP, c.requestID, server, map[string]any{
		"reason":   "secret in tool arguments",
		"tool":     tool,
		"rules":    secrets.RuleIDs(findings),
		"findings": findings,
		"blocked":  g.opts.BlockSecrets,
	})

	if !g.opts.BlockSecrets {
		return nil, false
	}

	return jsonrpc.NewErrorResponse(
		req.ID,
		jsonrpc.CodeAccessDenied,
		fmt.Sprintf("Blocked: arguments of '%s' contain a secret (%d finding(s))", tool, len(findings)),
	), true
}

// record updates metrics and the audit log for one upstream call.
func (g *Gateway) record(c caller, server, method string, d time.Duration, err error) {
	g.metrics.RecordRequest(server, method, d, err)

	var msg string
	if err != nil {
		msg = err.Error()
	}
	audit.Request(g.audit, c.userID, c.clientIP, c.requestID, server, method, d.Milliseconds(), msg)
}

func (g *Gateway) begin(name string) {
	g.mu.Lock()
	g.inflight[name]++
	load := g.inflight[name]
	g.mu.Unlock()

	g.router.SetLoad(name, load)
}

func (g *Gateway) end(name string) {
	g.mu.Lock()
	if g.inflight[name] > 0 {
		g.inflight[name]--
	}
	load := g.inflight[name]
	g.mu.Unlock()

	g.router.SetLoad(name, load)
}

// toolName returns params.name of a tools/call request, or "".
func toolName(req *jsonrpc.Request) string {
	if len(req.Params) == 0 {
		return ""
	}
	var params struct {
		Name string `json:"name"`
	}
	if json.Unmarshal(req.Params, &params) != nil {
		return ""
	}
	return params.Name
}
