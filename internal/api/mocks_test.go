package api

import (
	"context"
	"encoding/json"
	"slices"
	"time"

	"github.com/mozilla-ai/mcpshield/internal/cache"
	"github.com/mozilla-ai/mcpshield/internal/domain"
	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/lazy"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
	"github.com/mozilla-ai/mcpshield/internal/provider"
	"github.com/mozilla-ai/mcpshield/internal/sandbox"
)

type mockHealthMonitor struct {
	statuses []domain.ServerHealth
}

func (m *mockHealthMonitor) Status(name string) (domain.ServerHealth, error) {
	for _, s := range m.statuses {
		if s.Name == name {
			return s, nil
		}
	}
	return domain.ServerHealth{}, errors.ServerNotFound("health of server '%s' is not tracked", name)
}

func (m *mockHealthMonitor) List() []domain.ServerHealth {
	return slices.Clone(m.statuses)
}

func (m *mockHealthMonitor) Update(string, domain.HealthStatus, *time.Duration) error {
	return nil
}

type mockInventory struct {
	servers  []domain.Server
	statuses map[string]domain.ServerStatus
}

func (m *mockInventory) List() []domain.Server {
	return slices.Clone(m.servers)
}

func (m *mockInventory) Status(name string) (domain.ServerStatus, error) {
	s, ok := m.statuses[name]
	if !ok {
		return domain.ServerStatus{}, errors.ServerNotFound("Server '%s' not found", name)
	}
	return s, nil
}

type invocation struct {
	name   string
	server string
	args   json.RawMessage
}

type mockCatalog struct {
	tools   []domain.Tool
	result  json.RawMessage
	err     error
	queries []domain.ToolQuery
	invoked []invocation
}

func (m *mockCatalog) Tools(_ context.Context, q domain.ToolQuery) ([]domain.Tool, error) {
	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, m.err
	}
	var out []domain.Tool
	for _, t := range m.tools {
		if q.Server == "" || t.Server == q.Server {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockCatalog) Schema(_ context.Context, name string, server string) (domain.Tool, error) {
	for _, t := range m.tools {
		if t.Name == name && (server == "" || t.Server == server) {
			return t, nil
		}
	}
	return domain.Tool{}, errors.ServerNotFound("tool '%s' not found", name)
}

func (m *mockCatalog) Invoke(_ context.Context, name string, server string, args json.RawMessage) (json.RawMessage, error) {
	m.invoked = append(m.invoked, invocation{name: name, server: server, args: args})
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type mockCacheAdmin struct {
	stats   cache.Stats
	cleared []string
}

func (m *mockCacheAdmin) CacheStats() cache.Stats {
	return m.stats
}

func (m *mockCacheAdmin) ClearCache(server string) {
	m.cleared = append(m.cleared, server)
}

type mockReporter struct {
	snapshot  metrics.Snapshot
	mode      lazy.Mode
	lazy      lazy.LoaderMetrics
	report    sandbox.Report
	providers []provider.Info
}

func (m *mockReporter) Metrics() metrics.Snapshot {
	return m.snapshot
}

func (m *mockReporter) LazyLoading() (lazy.Mode, lazy.LoaderMetrics) {
	return m.mode, m.lazy
}

func (m *mockReporter) Sandbox() sandbox.Report {
	return m.report
}

func (m *mockReporter) Providers(context.Context) []provider.Info {
	return m.providers
}
