package daemon

import (
	"context"
	stdErrors "errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hashicorp/go-hclog"
	"github.com/klauspost/compress/gzhttp"

	"github.com/mozilla-ai/mcpshield/internal/api"
	"github.com/mozilla-ai/mcpshield/internal/audit"
	"github.com/mozilla-ai/mcpshield/internal/auth"
	"github.com/mozilla-ai/mcpshield/internal/cmd"
	"github.com/mozilla-ai/mcpshield/internal/contracts"
	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
)

// rateLimitSweepInterval is how often idle rate limit buckets are dropped.
const rateLimitSweepInterval = time.Minute

// APIServer manages the HTTP surface of the daemon: JSON-RPC on /mcp and the REST API on /api/v1.
// NewAPIServer should be used to create instances of APIServer.
type APIServer struct {
	// Logger for API server operations.
	logger hclog.Logger

	// Gateway answers JSON-RPC requests.
	gateway contracts.MCPGateway

	// Handlers back the REST API.
	handlers api.Handlers

	// Authenticator resolves bearer tokens.
	authenticator *auth.Authenticator

	audit   audit.Sink
	metrics metrics.Recorder

	// Addr specifies the network address to bind.
	addr string

	// CORS configuration for cross-origin requests.
	cors CORSConfig

	// ShutdownTimeout specifies how long to wait for graceful shutdown.
	shutdownTimeout time.Duration

	maxBodyBytes int64
	rateLimit    RateLimitConfig
	tls          TLSConfig

	// limiter is set by Handler when rate limiting is enabled.
	limiter *rateLimiter
}

// NewAPIServer creates a new API server with the provided dependencies and options.
// Applies default options first, then user-provided options to ensure all fields have valid values.
func NewAPIServer(deps APIDependencies, opt ...APIOption) (*APIServer, error) {
	if err := deps.Validate(); err != nil {
		return nil, fmt.Errorf("invalid dependencies for API server: %w", err)
	}

	// Ensure we always start with defaults and apply user options on top.
	apiOpts, err := NewAPIOptions(opt...)
	if err != nil {
		return nil, fmt.Errorf("invalid API options: %w", err)
	}

	return &APIServer{
		logger:          deps.Logger.Named("api"),
		gateway:         deps.Gateway,
		handlers:        deps.Handlers,
		authenticator:   deps.Authenticator,
		audit:           deps.Audit,
		metrics:         deps.Metrics,
		addr:            deps.Addr,
		cors:            apiOpts.CORS,
		shutdownTimeout: apiOpts.ShutdownTimeout,
		maxBodyBytes:    apiOpts.MaxBodyBytes,
		rateLimit:       apiOpts.RateLimit,
		tls:             apiOpts.TLS,
	}, nil
}

// Handler builds the router serving every endpoint.
func (a *APIServer) Handler() (http.Handler, error) {
	mux := chi.NewMux()
	mux.Use(middleware.RequestID)
	mux.Use(middleware.RealIP)
	mux.Use(withClientIP)
	mux.Use(middleware.Recoverer)
	mux.Use(middleware.StripSlashes)

	// Add CORS middleware if enabled.
	if a.cors.Enabled {
		a.applyCORS(mux)
	}

	mux.Use(securityHeaders(a.tls.Enabled()))
	mux.Use(limitBody(a.maxBodyBytes))

	mux.Get("/health", healthHandler(cmd.Version()))

	guard := &authenticate{
		logger:        a.logger.Named("auth"),
		authenticator: a.authenticator,
		audit:         a.audit,
		metrics:       a.metrics,
	}

	protected := []func(http.Handler) http.Handler{guard.middleware}
	if a.rateLimit.Enabled {
		a.limiter = newRateLimiter(a.rateLimit, a.audit, a.metrics)
		protected = append(protected, a.limiter.middleware)
	}

	mcp := &mcpHandler{logger: a.logger.Named("mcp"), gateway: a.gateway}
	mux.Group(func(r chi.Router) {
		r.Use(protected...)
		r.Post("/mcp", mcp.serve)
		r.Post("/mcp/{server}", mcp.serve)
	})

	// Configure the error handling wrapping.
	huma.NewErrorWithContext = errorHandler(a.logger)

	var apiPathPrefix string
	var routeErr error
	mux.Group(func(r chi.Router) {
		r.Use(protected...)
		r.Use(func(next http.Handler) http.Handler { return gzhttp.GzipHandler(next) })

		config := huma.DefaultConfig("mcpshield API", api.APIVersion)
		router := humachi.New(r, config)
		apiPathPrefix, routeErr = api.RegisterRoutes(router, a.handlers)
	})
	if routeErr != nil {
		return nil, routeErr
	}

	a.logger.Debug("Routes registered", "api", apiPathPrefix)

	return mux, nil
}

// Start starts the API server and blocks until the context is canceled or an error occurs.
func (a *APIServer) Start(ctx context.Context) error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)

	if a.limiter != nil {
		go a.sweepLimiter(ctx)
	}

	// Start the API.
	go func() {
		a.logger.Info("Starting API server", "address", a.addr, "tls", a.tls.Enabled())
		if a.cors.Enabled {
			a.logger.Info("CORS enabled", "origins", a.cors.AllowOrigins)
		}

		var err error
		if a.tls.Enabled() {
			err = srv.ListenAndServeTLS(a.tls.CertPath, a.tls.KeyPath)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !stdErrors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Handle graceful shutdown.
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		a.logger.Info("Shutting down API server...")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("In-flight requests did not drain in time", "error", err)
		}
		a.logger.Info("Shutdown complete")
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (a *APIServer) sweepLimiter(ctx context.Context) {
	ticker := time.NewTicker(rateLimitSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.limiter.sweep(); n > 0 {
				a.logger.Trace("Dropped idle rate limit buckets", "count", n)
			}
		}
	}
}

// applyCORS applies CORS middleware to the router based on the configured options.
func (a *APIServer) applyCORS(mux *chi.Mux) {
	a.logger.Info("Enabling CORS", "origins", a.cors.AllowOrigins)

	corsOptions := cors.Options{
		AllowedOrigins:   a.cors.AllowOrigins,
		AllowedMethods:   a.cors.AllowMethods,
		AllowedHeaders:   a.cors.AllowedHeaders,
		ExposedHeaders:   a.cors.ExposedHeaders,
		AllowCredentials: a.cors.AllowCredentials,
		MaxAge:           int(a.cors.MaxAge.Seconds()),
	}

	// Handle wildcard origins properly.
	for i, origin := range corsOptions.AllowedOrigins {
		if origin == "*" {
			corsOptions.AllowedOrigins = []string{"*"}
			corsOptions.AllowCredentials = false
			break
		}
		corsOptions.AllowedOrigins[i] = strings.TrimSpace(origin)
	}

	mux.Use(cors.Handler(corsOptions))
}

// mapError maps application domain errors to appropriate HTTP status codes.
//
// This function is the central place where domain errors from internal/errors are converted to HTTP responses.
// NOTE: Keep the statuses in line with errors.Kind.HTTPStatus, which the /mcp endpoint uses directly.
//
// Mapping guidelines:
//   - 400: Client errors (bad input, invalid requests)
//   - 401: Missing or invalid credentials
//   - 403: Authorization/permission errors
//   - 404: Resource not found errors
//   - 502: Upstream server failures
//   - 504: Upstream server timeouts
//   - 500: Unexpected internal errors (default case)
//
// Don't forget to add test cases to TestMapError (internal/daemon/api_server_test.go).
func mapError(logger hclog.Logger, err error) huma.StatusError {
	switch kind := errors.KindOf(err); kind {
	case errors.KindInvalidRequest:
		return huma.Error400BadRequest(err.Error())
	case errors.KindAuthentication:
		return huma.Error401Unauthorized(err.Error())
	case errors.KindAuthorization:
		return huma.Error403Forbidden(err.Error())
	case errors.KindServerNotFound:
		return huma.Error404NotFound(err.Error())
	case errors.KindTransport:
		logger.Error("MCP server request failed", "error", err)
		return huma.Error502BadGateway("MCP server error", err)
	case errors.KindTimeout:
		logger.Error("MCP server request timed out", "error", err)
		return huma.Error504GatewayTimeout("MCP server timeout", err)
	default:
		logger.Error("Unexpected error interacting with MCP server", "error", err, "kind", kind.Code())
		return huma.Error500InternalServerError("Internal server error", err)
	}
}

// errorHandler wraps error handling for the application when converting to API friendly errors.
// It allows the logger to be supplied to functions that resolve huma.StatusError,
// and it supports different behaviors based on the variadic errors parameter.
func errorHandler(logger hclog.Logger) func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
	return func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		// Huma reports its own request validation failures as client errors with detail entries.
		if status >= 400 && status < 500 {
			return huma.NewError(status, msg, errs...)
		}

		switch len(errs) {
		case 0:
			// No errors provided; return a generic error.
			return huma.NewError(status, msg)
		case 1:
			// Single error; map it directly.
			return mapError(logger, errs[0])
		default:
			// Multiple errors; join them and map.
			combinedErr := stdErrors.Join(errs...)
			return mapError(logger, combinedErr)
		}
	}
}
