package cache

import (
	"fmt"
	"time"
)

// DefaultTTL is the lifetime of entries inserted without an explicit TTL.
const DefaultTTL = 5 * time.Minute

// Option defines a functional option for configuring Cache.
type Option func(*Options) error

// Options contains optional configuration for the cache.
type Options struct {
	// ttl is the default time-to-live for cached entries.
	ttl time.Duration

	// enabled determines if caching is enabled.
	// A disabled cache never stores entries, but GetOrFetch still coalesces concurrent fetches.
	enabled bool
}

// NewOptions returns the defaults with opts applied in order.
func NewOptions(opts ...Option) (Options, error) {
	o := Options{
		ttl:     DefaultTTL,
		enabled: true,
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

// WithTTL sets the default cache entry time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) error {
		if ttl <= 0 {
			return fmt.Errorf("TTL must be positive, got %v", ttl)
		}
		o.ttl = ttl
		return nil
	}
}

// WithCaching configures whether caching is enabled.
func WithCaching(enabled bool) Option {
	return func(o *Options) error {
		o.enabled = enabled
		return nil
	}
}
