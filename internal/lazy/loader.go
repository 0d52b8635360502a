// Package lazy decides which tool schemas are fetched from MCP servers and when.
package lazy

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"slices"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/mozilla-ai/mcpshield/internal/cache"
	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/scope"
	"github.com/mozilla-ai/mcpshield/internal/server"
)

// listKey is the cache name under which a server's whole tools/list result is stored.
// Tool names are never empty, so it cannot collide with a per-tool entry.
const listKey = ""

// Servers is the part of the server manager the loader uses.
type Servers interface {
	ListServers() []string
	Server(name string) (*server.ManagedServer, bool)
	SendRequest(ctx context.Context, name string, req *jsonrpc.Request) (*jsonrpc.Response, error)
}

// Tool is a tool schema together with the server that provides it.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema"`
	Server      string          `json:"server,omitempty"`
}

// Filter narrows the servers considered by ListTools.
// Empty fields match everything. A nil Scope allows every server and tool.
type Filter struct {
	Servers []string
	Tags    []string
	Scope   *scope.Filter
}

// Loader fetches tool schemas through the schema cache according to its Mode.
type Loader struct {
	logger  hclog.Logger
	servers Servers
	cache   *cache.Cache
	opts    Options
	sem     *semaphore.Weighted
	metrics metrics
}

// New creates a loader.
func New(logger hclog.Logger, servers Servers, c *cache.Cache, opts ...Option) (*Loader, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if servers == nil {
		return nil, fmt.Errorf("servers cannot be nil")
	}
	if c == nil {
		return nil, fmt.Errorf("cache cannot be nil")
	}

	o, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &Loader{
		logger:  logger.Named("lazy"),
		servers: servers,
		cache:   c,
		opts:    o,
		sem:     semaphore.NewWeighted(int64(o.MaxConcurrentFetches)),
	}, nil
}

// Mode returns the configured mode.
func (l *Loader) Mode() Mode {
	return l.opts.Mode
}

// Enabled reports whether the mode is anything other than Disabled.
func (l *Loader) Enabled() bool {
	return l.opts.Mode != Disabled
}

// Metrics returns a snapshot of the loader counters.
func (l *Loader) Metrics() LoaderMetrics {
	return l.metrics.snapshot()
}

// ListTools returns the tools a client should see, according to the mode.
// Servers that fail to answer are logged and skipped.
func (l *Loader) ListTools(ctx context.Context, f Filter) ([]Tool, error) {
	switch l.opts.Mode {
	case Metatool:
		return MetaTools(), nil
	case Full:
		return l.placeholders(f), nil
	case Hybrid:
		names := make([]string, 0)
		for _, name := range l.opts.PreloadServers {
			if l.visible(name, Filter{Scope: f.Scope}) {
				names = append(names, name)
			}
		}
		for _, name := range l.servers.ListServers() {
			if !slices.Contains(l.opts.PreloadServers, name) && l.visible(name, f) {
				names = append(names, name)
			}
		}
		return l.collect(ctx, names, f.Scope), nil
	default:
		var names []string
		for _, name := range l.servers.ListServers() {
			if l.visible(name, Filter{Scope: f.Scope}) {
				names = append(names, name)
			}
		}
		return l.collect(ctx, names, f.Scope), nil
	}
}

// FetchTools returns every tool of a server, from the cache when possible.
func (l *Loader) FetchTools(ctx context.Context, name string) ([]Tool, error) {
	if _, ok := l.servers.Server(name); !ok {
		return nil, errors.ServerNotFound("Server '%s' not found", name)
	}

	entry, ok := l.cache.Get(name, listKey, cache.KindTool)
	if ok {
		l.metrics.cacheHits.Add(1)
	} else {
		l.metrics.cacheMisses.Add(1)

		var err error
		entry, err = l.cache.Fetch(ctx, name, listKey, cache.KindTool, func(ctx context.Context) (json.RawMessage, error) {
			return l.fetchList(ctx, name)
		})
		if err != nil {
			l.metrics.fetchErrors.Add(1)
			return nil, err
		}
	}

	return decodeTools(name, entry.Schema)
}

// ToolSchema returns the schema of one tool.
// With an empty serverName every server is searched in name order.
func (l *Loader) ToolSchema(ctx context.Context, serverName, toolName string) (Tool, error) {
	if serverName == "" {
		for _, name := range l.servers.ListServers() {
			if t, err := l.ToolSchema(ctx, name, toolName); err == nil {
				return t, nil
			}
		}
		return Tool{}, errors.InvalidRequest("Tool '%s' not found", toolName)
	}

	if e, ok := l.cache.Get(serverName, toolName, cache.KindTool); ok {
		l.metrics.cacheHits.Add(1)
		return decodeTool(serverName, e.Schema)
	}

	tools, err := l.FetchTools(ctx, serverName)
	if err != nil {
		return Tool{}, err
	}
	for _, t := range tools {
		if t.Name == toolName {
			return t, nil
		}
	}

	return Tool{}, errors.InvalidRequest("Tool '%s' not found on server '%s'", toolName, serverName)
}

// Resolve returns the server whose cached tool list contains toolName.
func (l *Loader) Resolve(toolName string) (string, bool) {
	for _, name := range l.servers.ListServers() {
		if _, ok := l.cache.Peek(name, toolName, cache.KindTool); ok {
			return name, true
		}
	}
	return "", false
}

// ValidateArguments checks args against the tool's input schema.
// Tools without a schema, or with an empty one, accept anything.
func (l *Loader) ValidateArguments(t Tool, args json.RawMessage) error {
	if len(t.InputSchema) == 0 || string(t.InputSchema) == "{}" {
		return nil
	}
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(t.InputSchema), gojsonschema.NewBytesLoader(args))
	if err != nil {
		// An unusable schema is the server's problem, not the caller's.
		l.logger.Warn("Skipping argument validation", "server", t.Server, "tool", t.Name, "error", err)
		return nil
	}
	if result.Valid() {
		return nil
	}

	l.metrics.validationFailures.Add(1)

	problems := make([]error, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, stderrors.New(e.String()))
	}

	return errors.Wrap(errors.KindInvalidRequest, stderrors.Join(problems...), "invalid arguments for tool '%s'", t.Name)
}

// InvokeTool sends tools/call to a server. When the tool's schema is available the arguments are validated
// against it first.
func (l *Loader) InvokeTool(ctx context.Context, serverName, toolName string, args json.RawMessage) (*jsonrpc.Response, error) {
	if t, err := l.ToolSchema(ctx, serverName, toolName); err == nil {
		if err := l.ValidateArguments(t, args); err != nil {
			return nil, err
		}
	} else if errors.KindOf(err) == errors.KindServerNotFound {
		return nil, err
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	req, err := newRequest(string(mcp.MethodToolsCall), map[string]any{"name": toolName, "arguments": args})
	if err != nil {
		return nil, err
	}

	return l.servers.SendRequest(ctx, serverName, req)
}

// Preload fetches the tool lists of names concurrently.
// Every failure is logged. The joined failures are returned.
func (l *Loader) Preload(ctx context.Context, names ...string) error {
	if len(names) == 0 {
		names = l.opts.PreloadServers
	}

	errs := make([]error, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			if _, err := l.FetchTools(ctx, name); err != nil {
				l.logger.Warn("Failed to preload tools", "server", name, "error", err)
				errs[i] = fmt.Errorf("preloading '%s': %w", name, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return stderrors.Join(errs...)
}

// Invalidate drops every cached schema of a server.
func (l *Loader) Invalidate(name string) {
	l.cache.ClearServer(name)
	l.logger.Debug("Invalidated cache", "server", name)
}

// fetchList sends tools/list with retries, bounded by the fetch semaphore,
// and caches each tool under its own name.
func (l *Loader) fetchList(ctx context.Context, name string) (json.RawMessage, error) {
	var lastErr error

	for attempt := 1; attempt <= l.opts.RetryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(l.opts.RetryDelay):
			}
		}

		result, err := l.fetchOnce(ctx, name)
		if err == nil {
			l.metrics.schemaFetches.Add(1)
			return result, nil
		}

		lastErr = err
		var rpcErr *jsonrpc.Error
		if stderrors.As(err, &rpcErr) {
			// The server answered; asking again will not change its mind.
			break
		}

		l.logger.Debug("Schema fetch failed", "server", name, "attempt", attempt, "error", err)
	}

	return nil, lastErr
}

func (l *Loader) fetchOnce(ctx context.Context, name string) (json.RawMessage, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	req, err := newRequest(string(mcp.MethodToolsList), nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.servers.SendRequest(ctx, name, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("server '%s' rejected tools/list: %w", name, resp.Error)
	}

	var list struct {
		Tools []json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &list); err != nil {
		return nil, errors.Wrap(errors.KindSerialization, err, "decoding tools/list from '%s'", name)
	}

	for _, raw := range list.Tools {
		t, err := decodeTool(name, raw)
		if err != nil || t.Name == "" {
			continue
		}
		l.cache.Insert(name, t.Name, cache.KindTool, raw)
	}

	if list.Tools == nil {
		list.Tools = []json.RawMessage{}
	}
	out, err := json.Marshal(list)
	if err != nil {
		return nil, errors.Wrap(errors.KindSerialization, err, "encoding tools/list from '%s'", name)
	}
	return out, nil
}

// collect fetches tool lists of names concurrently and flattens them in names order.
func (l *Loader) collect(ctx context.Context, names []string, sf *scope.Filter) []Tool {
	results := make([][]Tool, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			tools, err := l.FetchTools(ctx, name)
			if err != nil {
				l.logger.Warn("Failed to fetch tools", "server", name, "error", err)
				return nil
			}
			results[i] = tools
			return nil
		})
	}
	_ = g.Wait()

	var out []Tool
	for _, tools := range results {
		for _, t := range tools {
			if sf == nil || sf.CanUseTool(t.Name) {
				out = append(out, t)
			}
		}
	}
	return out
}

// visible reports whether server name exists and passes f.
func (l *Loader) visible(name string, f Filter) bool {
	s, ok := l.servers.Server(name)
	if !ok {
		return false
	}
	if len(f.Servers) > 0 && !slices.Contains(f.Servers, name) {
		return false
	}
	tags := s.Tags()
	if len(f.Tags) > 0 && !slices.ContainsFunc(f.Tags, func(t string) bool { return slices.Contains(tags, t) }) {
		return false
	}
	if f.Scope != nil && !f.Scope.CanAccessServer(tags) {
		return false
	}
	return true
}

// newRequest builds a request without an id; the transport allocates one.
func newRequest(method string, params any) (*jsonrpc.Request, error) {
	return jsonrpc.NewNotification(method, params)
}

func decodeTools(server string, raw json.RawMessage) ([]Tool, error) {
	var list struct {
		Tools []json.RawMessage `json:"tools"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, errors.Wrap(errors.KindSerialization, err, "decoding cached tools of '%s'", server)
	}

	out := make([]Tool, 0, len(list.Tools))
	for _, r := range list.Tools {
		t, err := decodeTool(server, r)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	return out, nil
}

func decodeTool(server string, raw json.RawMessage) (Tool, error) {
	var t Tool
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tool{}, errors.Wrap(errors.KindSerialization, err, "decoding tool from '%s'", server)
	}
	if len(t.InputSchema) == 0 || string(t.InputSchema) == "null" {
		t.InputSchema = json.RawMessage(`{"type":"object"}`)
	}
	t.Server = server
	return t, nil
}
