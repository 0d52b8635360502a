package daemon

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcpshield/internal/api"
	"github.com/mozilla-ai/mcpshield/internal/audit"
	"github.com/mozilla-ai/mcpshield/internal/auth"
	"github.com/mozilla-ai/mcpshield/internal/breaker"
	"github.com/mozilla-ai/mcpshield/internal/cache"
	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/lazy"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
	"github.com/mozilla-ai/mcpshield/internal/pool"
	"github.com/mozilla-ai/mcpshield/internal/provider"
	"github.com/mozilla-ai/mcpshield/internal/routing"
	"github.com/mozilla-ai/mcpshield/internal/sandbox"
	"github.com/mozilla-ai/mcpshield/internal/secrets"
	"github.com/mozilla-ai/mcpshield/internal/server"
	"github.com/mozilla-ai/mcpshield/internal/transport"
	"github.com/mozilla-ai/mcpshield/internal/transport/transporttest"
)

// recordingSink keeps every audit event in memory.
type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Log(e audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) types() []audit.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]audit.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

// testServer describes one fake MCP server of a harness.
type testServer struct {
	name    string
	tags    []string
	handler transporttest.Handler
}

// harness wires a Gateway and its REST handlers over fake transports.
type harness struct {
	t *testing.T

	gateway   *Gateway
	inventory *Inventory
	health    *HealthTracker
	servers   *server.Manager
	pool      *pool.Pool
	router    *routing.Router
	cache     *cache.Cache
	loader    *lazy.Loader
	providers *provider.Registry
	metrics   *metrics.Metrics
	audit     *recordingSink

	mu    sync.Mutex
	fakes map[string][]*transporttest.Fake
}

type harnessConfig struct {
	servers  []testServer
	mode     lazy.Mode
	scanner  bool
	gwOpts   []GatewayOption
	strategy routing.Strategy
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()

	logger := hclog.NewNullLogger()
	h := &harness{
		t:       t,
		metrics: metrics.New(),
		audit:   &recordingSink{},
		fakes:   map[string][]*transporttest.Fake{},
	}

	handlers := map[string]transporttest.Handler{}
	for _, s := range cfg.servers {
		handlers[s.name] = s.handler
	}

	connector := server.ConnectorFunc(func(_ context.Context, entry config.ServerEntry) (transport.Transport, error) {
		f := transporttest.New(handlers[entry.Name])
		h.mu.Lock()
		h.fakes[entry.Name] = append(h.fakes[entry.Name], f)
		h.mu.Unlock()
		return f, nil
	})

	var err error
	h.servers, err = server.NewManager(logger, connector)
	require.NoError(t, err)

	strategy := cfg.strategy
	if strategy == "" {
		strategy = routing.Capability
	}
	h.router, err = routing.New(logger, strategy)
	require.NoError(t, err)

	ids, err := jsonrpc.NewGenerator()
	require.NoError(t, err)

	h.providers, err = provider.NewRegistry(logger)
	require.NoError(t, err)

	names := make([]string, 0, len(cfg.servers))
	for _, s := range cfg.servers {
		entry := config.ServerEntry{Name: s.name, Command: "fake", Tags: s.tags}
		require.NoError(t, h.servers.AddServer(context.Background(), entry))
		h.router.Register(s.name, s.tags)

		ms, ok := h.servers.Server(s.name)
		require.True(t, ok)
		p, err := provider.NewMCPProvider(s.name, provider.TypeMCPStdio, ms, ids)
		require.NoError(t, err)
		h.providers.Register(p)

		names = append(names, s.name)
	}

	h.pool, err = pool.New(logger, connector)
	require.NoError(t, err)
	t.Cleanup(h.pool.Shutdown)

	breakers, err := breaker.NewManager(logger)
	require.NoError(t, err)

	h.cache, err = cache.NewCache(logger)
	require.NoError(t, err)

	mode := cfg.mode
	if mode == "" {
		mode = lazy.Disabled
	}
	h.loader, err = lazy.New(logger, h.servers, h.cache, lazy.WithMode(mode))
	require.NoError(t, err)

	var scanner *secrets.Scanner
	if cfg.scanner {
		scanner, err = secrets.New(logger)
		require.NoError(t, err)
	}

	h.gateway, err = NewGateway(GatewayDependencies{
		Logger:    logger,
		Servers:   h.servers,
		Pool:      h.pool,
		Breakers:  breakers,
		Router:    h.router,
		Loader:    h.loader,
		Providers: h.providers,
		IDs:       ids,
		Audit:     h.audit,
		Metrics:   h.metrics,
		Scanner:   scanner,
	}, cfg.gwOpts...)
	require.NoError(t, err)

	h.health = NewHealthTracker(names)
	h.inventory = &Inventory{
		servers:   h.servers,
		router:    h.router,
		health:    h.health,
		breakers:  breakers,
		pool:      h.pool,
		cache:     h.cache,
		loader:    h.loader,
		metrics:   h.metrics,
		providers: h.providers,
		sandbox:   func() sandbox.Report { return sandbox.Report{} },
	}

	return h
}

// handlers returns the REST handlers backed by the harness.
func (h *harness) handlers() api.Handlers {
	return api.Handlers{
		Health:    h.health,
		Inventory: h.inventory,
		Catalog:   h.gateway,
		Cache:     h.inventory,
		Runtime:   h.inventory,
	}
}

// requests returns every request received by any connection to name.
func (h *harness) requests(name string) []*jsonrpc.Request {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*jsonrpc.Request
	for _, f := range h.fakes[name] {
		out = append(out, f.Requests()...)
	}
	return out
}

// apiServer builds an APIServer over the harness authenticating with p.
func (h *harness) apiServer(p auth.Provider, required []string, opts ...APIOption) *APIServer {
	h.t.Helper()

	authenticator, err := auth.NewAuthenticator(p, nil, required)
	require.NoError(h.t, err)

	deps, err := NewAPIDependencies(
		hclog.NewNullLogger(),
		"127.0.0.1:0",
		h.gateway,
		h.handlers(),
		authenticator,
		h.audit,
		h.metrics,
	)
	require.NoError(h.t, err)

	srv, err := NewAPIServer(deps, opts...)
	require.NoError(h.t, err)
	return srv
}

// handler builds the HTTP handler of apiServer.
func (h *harness) handler(p auth.Provider, required []string, opts ...APIOption) http.Handler {
	h.t.Helper()

	handler, err := h.apiServer(p, required, opts...).Handler()
	require.NoError(h.t, err)
	return handler
}

func mustRequest(t *testing.T, id int64, method string, params any) *jsonrpc.Request {
	t.Helper()

	req, err := jsonrpc.NewRequest(jsonrpc.NewNumberID(id), method, params)
	require.NoError(t, err)
	return req
}
