package daemon

import (
	"fmt"
	"time"

	"github.com/mozilla-ai/mcpshield/internal/routing"
)

// Options contains optional configuration for the daemon.
// NewOptions should be used to create instances of Options.
type Options struct {
	// APIOptions contains functional options for the API server.
	// They are applied after the options derived from the configuration file.
	APIOptions []APIOption

	// ServerInitTimeout specifies how long to wait for MCP server initialization.
	ServerInitTimeout time.Duration

	// ServerHealthCheckInterval specifies how often to ping MCP servers for health checks.
	ServerHealthCheckInterval time.Duration

	// ServerHealthCheckTimeout specifies maximum time to wait for health check responses.
	ServerHealthCheckTimeout time.Duration

	// ServerShutdownTimeout bounds each step of the shutdown sequence after the HTTP server has stopped.
	ServerShutdownTimeout time.Duration

	// RoutingStrategy selects the server for requests sent to /mcp.
	RoutingStrategy routing.Strategy
}

// Option defines a functional option for configuring Options.
// Options are applied in order, with later options overriding earlier ones.
type Option func(*Options) error

// NewOptions creates Options with optional configurations applied.
// Starts with default values, then applies options in order with later options overriding earlier ones.
func NewOptions(opts ...Option) (Options, error) {
	options := defaultOptions()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&options); err != nil {
			return Options{}, err
		}
	}

	return options, nil
}

// WithAPIOptions configures API server options.
// Replaces all previous API configuration including CORS settings.
func WithAPIOptions(apiOpts ...APIOption) Option {
	return func(o *Options) error {
		o.APIOptions = apiOpts
		return nil
	}
}

// WithMCPServerInitTimeout configures how long to wait for MCP servers to initialize.
func WithMCPServerInitTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("init timeout must be positive, got %v", timeout)
		}
		o.ServerInitTimeout = timeout
		return nil
	}
}

// WithMCPServerHealthCheckInterval configures how often to ping MCP servers for health checks.
func WithMCPServerHealthCheckInterval(interval time.Duration) Option {
	return func(o *Options) error {
		if interval <= 0 {
			return fmt.Errorf("health check interval must be positive, got %v", interval)
		}
		o.ServerHealthCheckInterval = interval
		return nil
	}
}

// WithMCPServerHealthCheckTimeout configures maximum time to wait for MCP server health check responses.
func WithMCPServerHealthCheckTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("health check timeout must be positive, got %v", timeout)
		}
		o.ServerHealthCheckTimeout = timeout
		return nil
	}
}

// WithMCPServerShutdownTimeout configures how long to wait for MCP servers to shut down.
func WithMCPServerShutdownTimeout(timeout time.Duration) Option {
	return func(o *Options) error {
		if timeout <= 0 {
			return fmt.Errorf("server shutdown timeout must be positive, got %v", timeout)
		}
		o.ServerShutdownTimeout = timeout
		return nil
	}
}

// WithRoutingStrategy selects how requests to /mcp are routed.
func WithRoutingStrategy(s routing.Strategy) Option {
	return func(o *Options) error {
		parsed, err := routing.ParseStrategy(string(s))
		if err != nil {
			return err
		}
		o.RoutingStrategy = parsed
		return nil
	}
}

// DefaultServerInitTimeout is the default time to wait for MCP server initialization.
func DefaultServerInitTimeout() time.Duration {
	return 30 * time.Second
}

// DefaultHealthCheckInterval is the default interval for health checks.
func DefaultHealthCheckInterval() time.Duration {
	return 10 * time.Second
}

// DefaultHealthCheckTimeout is the default timeout for health check responses.
func DefaultHealthCheckTimeout() time.Duration {
	return 3 * time.Second
}

// DefaultServerShutdownTimeout is the default time allowed for each shutdown step.
func DefaultServerShutdownTimeout() time.Duration {
	return 5 * time.Second
}

// defaultOptions returns Options with default values.
func defaultOptions() Options {
	return Options{
		ServerInitTimeout:         DefaultServerInitTimeout(),
		ServerHealthCheckInterval: DefaultHealthCheckInterval(),
		ServerHealthCheckTimeout:  DefaultHealthCheckTimeout(),
		ServerShutdownTimeout:     DefaultServerShutdownTimeout(),
		RoutingStrategy:           routing.Capability,
	}
}
