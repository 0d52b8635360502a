package lazy

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Mode selects how tool schemas are exposed to clients.
type Mode string

const (
	// Disabled lists every tool of every server.
	Disabled Mode = "disabled"

	// Metatool lists only tool_list, tool_schema and tool_invoke, which the proxy answers itself.
	Metatool Mode = "metatool"

	// Hybrid lists the tools of preloaded servers plus those of servers matching the caller's filter.
	Hybrid Mode = "hybrid"

	// Full lists one <server>_lazy_loader placeholder per server.
	Full Mode = "full"
)

// ParseMode converts s into a Mode. An empty string is Disabled.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case "":
		return Disabled, nil
	case Disabled, Metatool, Hybrid, Full:
		return m, nil
	default:
		return "", fmt.Errorf("unknown lazy loading mode: %q", s)
	}
}

// Options configures a Loader.
// NewOptions should be used to create instances of Options.
type Options struct {
	Mode                 Mode
	PreloadServers       []string
	MaxConcurrentFetches int
	RetryAttempts        int
	RetryDelay           time.Duration
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions starts from defaults and applies opts in order.
func NewOptions(opts ...Option) (Options, error) {
	o := Options{
		Mode:                 Disabled,
		MaxConcurrentFetches: 4,
		RetryAttempts:        3,
		RetryDelay:           time.Second,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return Options{}, err
		}
	}

	return o, nil
}

// WithMode sets the loading mode.
func WithMode(m Mode) Option {
	return func(o *Options) error {
		parsed, err := ParseMode(string(m))
		if err != nil {
			return err
		}
		o.Mode = parsed
		return nil
	}
}

// WithPreloadServers sets the servers whose tools are fetched at start-up and always listed in Hybrid mode.
func WithPreloadServers(names ...string) Option {
	return func(o *Options) error {
		o.PreloadServers = slices.Clone(names)
		return nil
	}
}

// WithMaxConcurrentFetches bounds how many schema fetches run at once.
func WithMaxConcurrentFetches(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("max concurrent fetches must be at least 1, got %d", n)
		}
		o.MaxConcurrentFetches = n
		return nil
	}
}

// WithRetry sets how many times a failed fetch is attempted and the fixed delay between attempts.
func WithRetry(attempts int, delay time.Duration) Option {
	return func(o *Options) error {
		if attempts < 1 {
			return fmt.Errorf("retry attempts must be at least 1, got %d", attempts)
		}
		if delay < 0 {
			return fmt.Errorf("retry delay cannot be negative, got %v", delay)
		}
		o.RetryAttempts = attempts
		o.RetryDelay = delay
		return nil
	}
}
