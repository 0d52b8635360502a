package contracts

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mozilla-ai/mcpshield/internal/cache"
	"github.com/mozilla-ai/mcpshield/internal/domain"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/lazy"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
	"github.com/mozilla-ai/mcpshield/internal/provider"
	"github.com/mozilla-ai/mcpshield/internal/sandbox"
)

// MCPHealthMonitor provides a way to interact with the health status of MCP servers.
type MCPHealthMonitor interface {
	// Status returns the health status for a single tracked server.
	Status(name string) (domain.ServerHealth, error)

	// List returns a copy of all known server health records.
	List() []domain.ServerHealth

	// Update records a health check for a tracked server.
	Update(name string, status domain.HealthStatus, latency *time.Duration) error
}

// MCPServerInventory describes the managed MCP servers.
type MCPServerInventory interface {
	// List returns every managed server, sorted by name.
	List() []domain.Server

	// Status returns a server with its health, circuit breaker and pool state.
	Status(name string) (domain.ServerStatus, error)
}

// MCPToolCatalog lists, describes and invokes the tools exposed through the proxy.
// Every method applies the scopes of the session carried by ctx.
type MCPToolCatalog interface {
	// Tools lists the tools matching q.
	Tools(ctx context.Context, q domain.ToolQuery) ([]domain.Tool, error)

	// Schema returns one tool. An empty server searches every server.
	Schema(ctx context.Context, name string, server string) (domain.Tool, error)

	// Invoke calls a tool and returns the MCP tools/call result.
	// Arguments are validated against the tool's input schema when it is known.
	Invoke(ctx context.Context, name string, server string, args json.RawMessage) (json.RawMessage, error)
}

// SchemaCacheAdmin inspects and clears the schema cache.
type SchemaCacheAdmin interface {
	// CacheStats returns the entry counts and counters of the schema cache.
	CacheStats() cache.Stats

	// ClearCache drops the cached schemas of server, or of every server when server is empty.
	ClearCache(server string)
}

// RuntimeReporter exposes read-only runtime information.
type RuntimeReporter interface {
	Metrics() metrics.Snapshot
	LazyLoading() (lazy.Mode, lazy.LoaderMetrics)
	Sandbox() sandbox.Report
	Providers(ctx context.Context) []provider.Info
}

// MCPGateway answers JSON-RPC requests addressed to the proxy.
type MCPGateway interface {
	// Handle runs req through the security pipeline. An empty target lets the gateway pick a server.
	// Notifications return a nil response.
	Handle(ctx context.Context, target string, req *jsonrpc.Request) (*jsonrpc.Response, error)
}
