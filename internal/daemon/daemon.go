package daemon

import (
	"context"
	stdErrors "errors"
	"fmt"
	"io/fs"
	"maps"
	"net/http"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/mozilla-ai/mcpshield/internal/api"
	"github.com/mozilla-ai/mcpshield/internal/audit"
	"github.com/mozilla-ai/mcpshield/internal/auth"
	"github.com/mozilla-ai/mcpshield/internal/breaker"
	"github.com/mozilla-ai/mcpshield/internal/cache"
	"github.com/mozilla-ai/mcpshield/internal/cmd"
	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/domain"
	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/files"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/lazy"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
	"github.com/mozilla-ai/mcpshield/internal/pool"
	"github.com/mozilla-ai/mcpshield/internal/provider"
	"github.com/mozilla-ai/mcpshield/internal/routing"
	"github.com/mozilla-ai/mcpshield/internal/sandbox"
	"github.com/mozilla-ai/mcpshield/internal/secrets"
	"github.com/mozilla-ai/mcpshield/internal/server"
	"github.com/mozilla-ai/mcpshield/internal/shutdown"
	"github.com/mozilla-ai/mcpshield/internal/transport"
)

// Daemon owns every component of a running proxy.
// NewDaemon should be used to create instances of Daemon.
type Daemon struct {
	// root is the unnamed logger components derive their own names from.
	root   hclog.Logger
	logger hclog.Logger
	cfg    *config.Config
	opts   Options
	addr   string

	coordinator *shutdown.Coordinator

	// audit receives every event; auditLog is the file-backed logger behind it, nil when audit logging is off.
	audit    audit.Sink
	auditLog *audit.Logger

	tokens    *auth.TokenCache
	metrics   *metrics.Metrics
	ids       *jsonrpc.Generator
	servers   *server.Manager
	pool      *pool.Pool
	breakers  *breaker.Manager
	router    *routing.Router
	cache     *cache.Cache
	loader    *lazy.Loader
	providers *provider.Registry
	health    *HealthTracker
	gateway   *Gateway
	apiServer *APIServer
}

// NewDaemon builds every component from the configuration. No server is started until StartAndManage.
func NewDaemon(deps Dependencies, opt ...Option) (*Daemon, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid daemon dependencies: %w", err)
	}

	opts, err := NewOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid daemon options: %w", err)
	}

	cfg := deps.Config
	logger := deps.Logger

	d := &Daemon{
		root:    logger,
		logger:  logger.Named("daemon"),
		cfg:     cfg,
		opts:    opts,
		addr:    deps.APIAddr,
		metrics: metrics.New(),
		health:  NewHealthTracker(nil),
	}

	if d.coordinator, err = shutdown.New(logger); err != nil {
		return nil, err
	}

	if d.ids, err = jsonrpc.NewGenerator(); err != nil {
		return nil, err
	}

	connector := deps.Connector
	if connector == nil {
		connector, err = server.NewDefaultConnector(
			logger,
			cfg.Features.Sandbox,
			transport.WithInitTimeout(opts.ServerInitTimeout),
			transport.WithCloseTimeout(opts.ServerShutdownTimeout),
			transport.WithRequestTimeout(cfg.CircuitBreaker.RequestTimeout.Std()),
			transport.WithIDGenerator(d.ids),
			transport.WithClientInfo("mcpshield", cmd.Version()),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create server connector: %w", err)
		}
	}

	if err := d.initAudit(); err != nil {
		return nil, err
	}

	authenticator, err := d.initAuth()
	if err != nil {
		return nil, err
	}

	if d.servers, err = server.NewManager(logger, connector); err != nil {
		return nil, err
	}

	d.pool, err = pool.New(
		logger,
		connector,
		pool.WithMaxConnections(cfg.Pool.MaxConnections),
		pool.WithMinConnections(cfg.Pool.MinConnections),
		pool.WithMaxConnectionAge(cfg.Pool.MaxConnectionAge.Std()),
		pool.WithMaxIdleTime(cfg.Pool.MaxIdleTime.Std()),
		pool.WithHealthCheckInterval(cfg.Pool.HealthCheckInterval.Std()),
		pool.WithPingTimeout(opts.ServerHealthCheckTimeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	d.breakers, err = breaker.NewManager(
		logger,
		breaker.WithFailureThreshold(cfg.CircuitBreaker.FailureThreshold),
		breaker.WithSuccessThreshold(cfg.CircuitBreaker.SuccessThreshold),
		breaker.WithResetTimeout(cfg.CircuitBreaker.ResetTimeout.Std()),
		breaker.WithRequestTimeout(cfg.CircuitBreaker.RequestTimeout.Std()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create circuit breakers: %w", err)
	}

	if d.router, err = routing.New(logger, opts.RoutingStrategy); err != nil {
		return nil, err
	}

	if err := d.initLazyLoading(); err != nil {
		return nil, err
	}

	if err := d.initProviders(); err != nil {
		return nil, err
	}

	var scanner *secrets.Scanner
	if cfg.Features.SecretScanning {
		scanner, err = secrets.New(logger, secrets.WithRulesFile(cfg.Features.SecretRules))
		if err != nil {
			return nil, fmt.Errorf("failed to create secret scanner: %w", err)
		}
	}

	d.gateway, err = NewGateway(
		GatewayDependencies{
			Logger:    logger,
			Servers:   d.servers,
			Pool:      d.pool,
			Breakers:  d.breakers,
			Router:    d.router,
			Loader:    d.loader,
			Providers: d.providers,
			IDs:       d.ids,
			Audit:     d.audit,
			Metrics:   d.metrics,
			Scanner:   scanner,
		},
		WithScopeValidation(cfg.Features.ScopeValidation),
		WithSecretBlocking(cfg.Features.BlockSecrets),
	)
	if err != nil {
		return nil, err
	}

	inventory := &Inventory{
		servers:   d.servers,
		router:    d.router,
		health:    d.health,
		breakers:  d.breakers,
		pool:      d.pool,
		cache:     d.cache,
		loader:    d.loader,
		metrics:   d.metrics,
		providers: d.providers,
		sandbox:   sandbox.Detect,
	}

	apiDeps, err := NewAPIDependencies(
		logger,
		deps.APIAddr,
		d.gateway,
		api.Handlers{
			Health:    d.health,
			Inventory: inventory,
			Catalog:   d.gateway,
			Cache:     inventory,
			Runtime:   inventory,
		},
		authenticator,
		d.audit,
		d.metrics,
	)
	if err != nil {
		return nil, err
	}

	// Options from the configuration file come first so that programmatic options override them.
	apiOpts := append(apiOptionsFromConfig(cfg), opts.APIOptions...)
	if d.apiServer, err = NewAPIServer(apiDeps, apiOpts...); err != nil {
		return nil, fmt.Errorf("failed to create daemon API server: %w", err)
	}

	return d, nil
}

func (d *Daemon) initAudit() error {
	if !d.cfg.Features.AuditLogging {
		d.audit = audit.Discard{}
		return nil
	}

	a := d.cfg.Audit
	opts := []audit.Option{
		audit.WithPath(a.Path),
		audit.WithFormat(audit.Format(a.Format)),
		audit.WithMaxSizeMB(a.MaxSizeMB),
		audit.WithMaxFiles(a.MaxFiles),
	}
	if a.LogToStdout {
		opts = append(opts, audit.WithStdout(os.Stdout))
	}

	l, err := audit.NewLogger(d.root, opts...)
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}

	d.audit = l
	d.auditLog = l

	return nil
}

func (d *Daemon) initAuth() (*auth.Authenticator, error) {
	var err error
	d.tokens, err = auth.NewTokenCache(
		d.root,
		auth.WithCacheTTL(d.cfg.TokenCache.TTL.Std()),
		auth.WithMaxSize(d.cfg.TokenCache.MaxSize),
		auth.WithCleanupInterval(d.cfg.TokenCache.CleanupInterval.Std()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create token cache: %w", err)
	}

	if !d.cfg.Features.Auth {
		return auth.NewAuthenticator(auth.NoneProvider{}, d.tokens, nil)
	}

	p, err := auth.NewProvider(d.cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("failed to create auth provider: %w", err)
	}

	return auth.NewAuthenticator(p, d.tokens, d.cfg.Auth.RequiredScopes)
}

func (d *Daemon) initLazyLoading() error {
	ll := d.cfg.LazyLoading

	mode, err := lazy.ParseMode(ll.Mode)
	if err != nil {
		return errors.Wrap(errors.KindConfig, err, "lazy_loading.mode")
	}

	d.cache, err = cache.NewCache(d.root, cache.WithTTL(ll.SchemaCacheTTL()), cache.WithCaching(ll.CacheEnabled))
	if err != nil {
		return fmt.Errorf("failed to create schema cache: %w", err)
	}

	d.loader, err = lazy.New(
		d.root,
		d.servers,
		d.cache,
		lazy.WithMode(mode),
		lazy.WithPreloadServers(d.cfg.PreloadServers()...),
		lazy.WithMaxConcurrentFetches(ll.MaxConcurrentFetches),
		lazy.WithRetry(ll.RetryAttempts, ll.RetryDelay()),
	)
	if err != nil {
		return fmt.Errorf("failed to create lazy loader: %w", err)
	}

	return nil
}

// initProviders registers the configured skills. MCP servers are registered as they connect.
func (d *Daemon) initProviders() error {
	var err error
	if d.providers, err = provider.NewRegistry(d.root); err != nil {
		return err
	}

	skills, err := skillEntries(d.cfg)
	if err != nil {
		return errors.Wrap(errors.KindConfig, err, "skills_dir")
	}

	for _, s := range skills {
		sb, err := sandbox.New(d.root, d.cfg.Features.Sandbox, sandbox.DefaultConstraints())
		if err != nil {
			return errors.Wrap(errors.KindSandbox, err, "skill '%s'", s.Name)
		}

		p, err := provider.NewSkillProvider(d.root, s.Name, s.Path, sb)
		if err != nil {
			return errors.Wrap(errors.KindConfig, err, "skill '%s'", s.Name)
		}

		d.providers.Register(p)
	}

	return nil
}

// skillEntries returns the configured skills followed by those discovered in skills_dir.
// Configured entries win over discovered directories with the same name.
// A missing "auto" directory yields no extra skills; any other missing directory is an error.
func skillEntries(cfg *config.Config) ([]config.SkillEntry, error) {
	entries := slices.Clone(cfg.Skills)

	dir := cfg.SkillsDir
	if dir == "" {
		return entries, nil
	}

	auto := dir == config.SkillsDirAuto
	if auto {
		var err error
		if dir, err = files.DefaultSkillsDir(); err != nil {
			return nil, err
		}
	}

	found, err := files.DiscoverSkills(dir, nil)
	if err != nil {
		if auto && stdErrors.Is(err, fs.ErrNotExist) {
			return entries, nil
		}
		return nil, err
	}

	names := slices.Sorted(maps.Keys(found))
	for _, name := range names {
		if slices.ContainsFunc(entries, func(e config.SkillEntry) bool { return e.Name == name }) {
			continue
		}
		entries = append(entries, config.SkillEntry{Name: name, Path: found[name]})
	}

	return entries, nil
}

// apiOptionsFromConfig translates the [server] and [rate_limit] sections into API options.
func apiOptionsFromConfig(cfg *config.Config) []APIOption {
	s := cfg.Server

	opts := []APIOption{
		WithShutdownTimeout(s.ShutdownTimeout.Std()),
		WithMaxBodyBytes(s.MaxBodyBytes),
		WithTLS(s.CertPath, s.KeyPath),
	}

	if s.CORS.Enable {
		opts = append(opts,
			WithCORSEnabled(true),
			WithCORSAllowOrigins(s.CORS.Origins),
			WithCORSAllowCredentials(s.CORS.Credentials),
			WithCORSExposeHeaders(s.CORS.ExposeHeaders),
			WithCORSMaxAge(s.CORS.MaxAge.Std()),
		)
		if len(s.CORS.Methods) > 0 {
			opts = append(opts, WithCORSAllowMethods(s.CORS.Methods))
		}
		if len(s.CORS.Headers) > 0 {
			opts = append(opts, WithCORSAllowHeaders(s.CORS.Headers))
		}
	}

	if cfg.Features.RateLimiting {
		opts = append(opts, WithRateLimit(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.BurstSize))
	}

	return opts
}

// Handler returns the HTTP handler serving /health, /mcp and the REST API.
func (d *Daemon) Handler() (http.Handler, error) {
	return d.apiServer.Handler()
}

// Shutdown asks a running daemon to stop.
func (d *Daemon) Shutdown(reason string) {
	d.coordinator.Shutdown(reason)
}

// StartAndManage connects the configured servers, serves the API and blocks until ctx is done or Shutdown
// is called. It then stops the HTTP server, the pool, the servers and the audit log, in that order.
func (d *Daemon) StartAndManage(ctx context.Context) error {
	ctx, cancel := d.coordinator.Context(ctx)
	defer cancel()
	defer d.coordinator.Shutdown("daemon stopped")

	connected := d.startServers(ctx)
	d.logger.Info("MCP servers started", "connected", connected, "configured", len(d.cfg.Servers))

	d.pool.Start(ctx)
	go d.tokens.Run(ctx)

	if d.loader.Enabled() {
		if err := d.loader.Preload(ctx); err != nil {
			d.logger.Warn("Some tool schemas could not be preloaded", "error", err)
		}
	}

	go d.healthCheckLoop(ctx, d.opts.ServerHealthCheckInterval, d.opts.ServerHealthCheckTimeout)

	audit.ServerStarted(d.audit, d.addr, connected)

	// Start blocks until ctx is done; it drains in-flight requests before returning.
	err := d.apiServer.Start(ctx)
	if err != nil && !stdErrors.Is(err, context.Canceled) {
		d.logger.Error("API server failed", "error", err)
	}

	d.coordinator.Shutdown("api server stopped")
	d.stop()

	return err
}

// startServers connects every configured server concurrently and returns how many connected.
// A server that fails to start is logged and tracked as unreachable; the others still start.
func (d *Daemon) startServers(ctx context.Context) int {
	entries := d.cfg.ListServers()

	var g errgroup.Group
	var mu sync.Mutex
	var connected int

	for _, entry := range entries {
		d.health.Track(entry.Name)

		g.Go(func() error {
			if err := d.addServer(ctx, entry); err != nil {
				d.logger.Error("Failed to start MCP server", "server", entry.Name, "error", err)
				_ = d.health.Update(entry.Name, domain.HealthStatusUnreachable, nil)
				return nil
			}

			mu.Lock()
			connected++
			mu.Unlock()

			return nil
		})
	}

	_ = g.Wait()

	return connected
}

// addServer starts one server and exposes it to routing and the provider registry.
func (d *Daemon) addServer(ctx context.Context, entry config.ServerEntry) error {
	if err := d.servers.AddServer(ctx, entry); err != nil {
		return err
	}

	ms, ok := d.servers.Server(entry.Name)
	if !ok {
		return errors.ServerNotFound("%s", entry.Name)
	}

	p, err := provider.NewMCPProvider(entry.Name, provider.TypeForTransport(entry.TransportType()), ms, d.ids)
	if err != nil {
		return err
	}

	d.providers.Register(p)
	d.router.Register(entry.Name, entry.Tags)

	return nil
}

// stop runs the shutdown steps that follow the HTTP server, each bounded by the shutdown timeout.
func (d *Daemon) stop() {
	timeout := d.opts.ServerShutdownTimeout
	run := func(step string, fn func(ctx context.Context) error) {
		if err := shutdown.RunWithTimeout(context.Background(), timeout, fn); err != nil {
			d.logger.Warn("Shutdown step failed", "step", step, "error", err)
		}
	}

	run("pool", func(context.Context) error {
		d.pool.Shutdown()
		return nil
	})

	run("servers", d.servers.StopAll)

	audit.ServerStopped(d.audit)

	if d.auditLog != nil {
		run("audit", func(ctx context.Context) error {
			return stdErrors.Join(d.auditLog.Flush(ctx), d.auditLog.Close())
		})
	}

	d.logger.Info("Daemon stopped", "reason", d.coordinator.Reason())
}

func (d *Daemon) healthCheckLoop(ctx context.Context, interval time.Duration, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.pingAllServers(ctx, timeout)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Stopping MCP server health checks")
			return
		case <-ticker.C:
			d.pingAllServers(ctx, timeout)
		}
	}
}

// pingAllServers pings every managed server concurrently and waits for the results.
// A server answering the ping, even with a JSON-RPC error, is reachable.
func (d *Daemon) pingAllServers(ctx context.Context, timeout time.Duration) {
	var wg sync.WaitGroup

	for _, name := range d.servers.ListServers() {
		wg.Add(1)
		go func() {
			defer wg.Done()

			status, latency := d.ping(ctx, name, timeout)
			if err := d.health.Update(name, status, latency); err != nil {
				d.logger.Warn("Failed to record health check", "server", name, "error", err)
			}
			d.router.SetHealthy(name, status.Routable())
		}()
	}

	wg.Wait()
}

func (d *Daemon) ping(ctx context.Context, name string, timeout time.Duration) (domain.HealthStatus, *time.Duration) {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := jsonrpc.NewRequest(d.ids.Next(), "ping", nil)
	if err != nil {
		d.logger.Error("Failed to build ping request", "error", err)
		return domain.HealthStatusUnreachable, nil
	}

	start := time.Now()
	_, err = d.servers.SendRequest(pingCtx, name, req)
	latency := time.Since(start)

	status := domain.PingStatus(err)
	switch status {
	case domain.HealthStatusOK:
		d.logger.Trace("Ping successful", "server", name, "latency", latency)
		return status, &latency
	case domain.HealthStatusTimeout:
		d.logger.Warn("Ping timed out", "server", name, "timeout", timeout)
	default:
		d.logger.Error("Error pinging MCP server", "server", name, "error", err)
	}
	return status, nil
}
