package daemon

import (
	"context"
	"slices"

	"github.com/mozilla-ai/mcpshield/internal/breaker"
	"github.com/mozilla-ai/mcpshield/internal/cache"
	"github.com/mozilla-ai/mcpshield/internal/contracts"
	"github.com/mozilla-ai/mcpshield/internal/domain"
	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/lazy"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
	"github.com/mozilla-ai/mcpshield/internal/pool"
	"github.com/mozilla-ai/mcpshield/internal/provider"
	"github.com/mozilla-ai/mcpshield/internal/routing"
	"github.com/mozilla-ai/mcpshield/internal/sandbox"
	"github.com/mozilla-ai/mcpshield/internal/server"
)

var (
	_ contracts.MCPServerInventory = (*Inventory)(nil)
	_ contracts.SchemaCacheAdmin   = (*Inventory)(nil)
	_ contracts.RuntimeReporter    = (*Inventory)(nil)
)

// Inventory answers the read-only REST queries about servers, the schema cache and the runtime.
type Inventory struct {
	servers   *server.Manager
	router    *routing.Router
	health    *HealthTracker
	breakers  *breaker.Manager
	pool      *pool.Pool
	cache     *cache.Cache
	loader    *lazy.Loader
	metrics   *metrics.Metrics
	providers *provider.Registry
	sandbox   func() sandbox.Report
}

// List returns every managed server, sorted by name.
func (i *Inventory) List() []domain.Server {
	infos := i.servers.Infos()
	out := make([]domain.Server, 0, len(infos))
	for _, info := range infos {
		out = append(out, toDomainServer(info))
	}
	return out
}

// Status returns a server with its health, circuit breaker and pool state.
func (i *Inventory) Status(name string) (domain.ServerStatus, error) {
	ms, ok := i.servers.Server(name)
	if !ok {
		return domain.ServerStatus{}, errors.ServerNotFound("Server '%s' not found", name)
	}

	status := domain.ServerStatus{
		Server:  toDomainServer(ms.Info()),
		Healthy: slices.Contains(i.router.Healthy(), name),
	}

	if h, err := i.health.Status(name); err == nil {
		status.Health = h
	} else {
		status.Health = domain.ServerHealth{Name: name, Status: domain.HealthStatusUnknown}
	}

	snap := i.breakers.Get(name).Snapshot()
	status.Breaker = domain.BreakerState{
		State:       snap.State.String(),
		Failures:    snap.Failures,
		Successes:   snap.Successes,
		LastFailure: snap.LastFailure,
	}

	if ps, ok := i.pool.Stats()[name]; ok {
		status.Pool = domain.PoolStats{Total: ps.Total, Healthy: ps.Healthy, Unhealthy: ps.Unhealthy}
	}

	return status, nil
}

// CacheStats returns the entry counts and counters of the schema cache.
func (i *Inventory) CacheStats() cache.Stats {
	return i.cache.Counts()
}

// ClearCache drops the cached schemas of server, or of every server when server is empty.
func (i *Inventory) ClearCache(server string) {
	if server == "" {
		i.cache.ClearAll()
		return
	}
	i.loader.Invalidate(server)
}

// Metrics returns the request counters.
func (i *Inventory) Metrics() metrics.Snapshot {
	return i.metrics.Snapshot()
}

// LazyLoading returns the loader mode and counters.
func (i *Inventory) LazyLoading() (lazy.Mode, lazy.LoaderMetrics) {
	return i.loader.Mode(), i.loader.Metrics()
}

// Sandbox returns the sandbox availability report of the host.
func (i *Inventory) Sandbox() sandbox.Report {
	return i.sandbox()
}

// Providers describes every tool provider.
func (i *Inventory) Providers(ctx context.Context) []provider.Info {
	return i.providers.Infos(ctx)
}

func toDomainServer(info server.Info) domain.Server {
	return domain.Server{
		Name:        info.Name,
		Tags:        slices.Clone(info.Tags),
		Command:     info.Command,
		Description: info.Description,
		Transport:   info.Transport,
		Connected:   info.Connected,
		StartedAt:   info.StartedAt,
	}
}
