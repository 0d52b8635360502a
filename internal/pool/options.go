package pool

import (
	"fmt"
	"time"
)

// Options configures a Pool.
// NewOptions should be used to create instances of Options.
type Options struct {
	// MaxConnections is the number of connections kept per server. Connections created beyond it are ephemeral.
	MaxConnections int

	// MinConnections is the number of idle connections maintenance keeps per server.
	MinConnections int

	// MaxConnectionAge is the lifetime after which a connection is evicted.
	MaxConnectionAge time.Duration

	// MaxIdleTime is how long a connection may sit unused before it is no longer handed out.
	MaxIdleTime time.Duration

	// HealthCheckInterval is the period of the maintenance pass.
	HealthCheckInterval time.Duration

	// PingTimeout bounds each health ping issued by maintenance.
	PingTimeout time.Duration
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions starts from defaults and applies opts in order.
func NewOptions(opts ...Option) (Options, error) {
	o := Options{
		MaxConnections:      DefaultMaxConnections(),
		MinConnections:      DefaultMinConnections(),
		MaxConnectionAge:    DefaultMaxConnectionAge(),
		MaxIdleTime:         DefaultMaxIdleTime(),
		HealthCheckInterval: DefaultHealthCheckInterval(),
		PingTimeout:         5 * time.Second,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return Options{}, err
		}
	}

	if o.MinConnections > o.MaxConnections {
		return Options{}, fmt.Errorf("min connections (%d) exceeds max connections (%d)", o.MinConnections, o.MaxConnections)
	}

	return o, nil
}

// WithMaxConnections sets the per-server connection limit.
func WithMaxConnections(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("max connections must be at least 1, got %d", n)
		}
		o.MaxConnections = n
		return nil
	}
}

// WithMinConnections sets the number of idle connections kept per server.
func WithMinConnections(n int) Option {
	return func(o *Options) error {
		if n < 0 {
			return fmt.Errorf("min connections cannot be negative, got %d", n)
		}
		o.MinConnections = n
		return nil
	}
}

// WithMaxConnectionAge sets the connection lifetime.
func WithMaxConnectionAge(d time.Duration) Option {
	return positive("max connection age", d, func(o *Options) { o.MaxConnectionAge = d })
}

// WithMaxIdleTime sets how long a connection may sit unused.
func WithMaxIdleTime(d time.Duration) Option {
	return positive("max idle time", d, func(o *Options) { o.MaxIdleTime = d })
}

// WithHealthCheckInterval sets the maintenance period.
func WithHealthCheckInterval(d time.Duration) Option {
	return positive("health check interval", d, func(o *Options) { o.HealthCheckInterval = d })
}

// WithPingTimeout bounds each maintenance ping.
func WithPingTimeout(d time.Duration) Option {
	return positive("ping timeout", d, func(o *Options) { o.PingTimeout = d })
}

func positive(name string, d time.Duration, set func(*Options)) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
		set(o)
		return nil
	}
}

// DefaultMaxConnections is the default per-server connection limit.
func DefaultMaxConnections() int {
	return 10
}

// DefaultMinConnections is the default number of idle connections kept per server.
func DefaultMinConnections() int {
	return 1
}

// DefaultMaxConnectionAge is the default connection lifetime.
func DefaultMaxConnectionAge() time.Duration {
	return time.Hour
}

// DefaultMaxIdleTime is the default idle limit.
func DefaultMaxIdleTime() time.Duration {
	return 5 * time.Minute
}

// DefaultHealthCheckInterval is the default maintenance period.
func DefaultHealthCheckInterval() time.Duration {
	return 30 * time.Second
}
