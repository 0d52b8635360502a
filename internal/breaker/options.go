package breaker

import (
	"fmt"
	"time"
)

// Options configures a Breaker.
// NewOptions should be used to create instances of Options.
type Options struct {
	// FailureThreshold is the number of consecutive failures that opens a closed breaker.
	FailureThreshold int

	// SuccessThreshold is the number of successes in half-open that closes the breaker.
	SuccessThreshold int

	// ResetTimeout is how long an open breaker waits after the last failure before letting a trial request through.
	ResetTimeout time.Duration

	// RequestTimeout bounds each call made through the breaker.
	RequestTimeout time.Duration
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions starts from defaults and applies opts in order.
func NewOptions(opts ...Option) (Options, error) {
	o := Options{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		RequestTimeout:   30 * time.Second,
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

// WithFailureThreshold sets how many failures open the breaker.
func WithFailureThreshold(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("failure threshold must be at least 1, got %d", n)
		}
		o.FailureThreshold = n
		return nil
	}
}

// WithSuccessThreshold sets how many half-open successes close the breaker.
func WithSuccessThreshold(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("success threshold must be at least 1, got %d", n)
		}
		o.SuccessThreshold = n
		return nil
	}
}

// WithResetTimeout sets how long the breaker stays open.
func WithResetTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("reset timeout must be positive, got %v", d)
		}
		o.ResetTimeout = d
		return nil
	}
}

// WithRequestTimeout bounds each call.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("request timeout must be positive, got %v", d)
		}
		o.RequestTimeout = d
		return nil
	}
}
