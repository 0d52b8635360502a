// Package breaker implements per-server circuit breakers.
package breaker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/errors"
)

// ErrOpen is returned by Call when the breaker refuses a request.
var ErrOpen = stderrors.New("circuit breaker is open")

// State is the state of a circuit breaker.
type State int

const (
	// Closed lets every request through.
	Closed State = iota

	// Open refuses every request until the reset timeout has passed since the last failure.
	Open

	// HalfOpen lets requests through to test whether the server has recovered.
	HalfOpen
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Breaker is the circuit breaker of one server.
type Breaker struct {
	name   string
	opts   Options
	logger hclog.Logger
	now    func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
	LastFailure time.Time `json:"last_failure,omitzero"`
}

// New creates a closed breaker.
func New(logger hclog.Logger, name string, opts ...Option) (*Breaker, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	o, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	return &Breaker{
		name:   name,
		opts:   o,
		logger: logger.Named("breaker").With("server", name),
		now:    time.Now,
	}, nil
}

// AllowRequest reports whether a request may proceed.
// An open breaker whose reset timeout has elapsed moves to half-open and allows the request.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.lastFailure) < b.opts.ResetTimeout {
			return false
		}
		b.transition(HalfOpen)
		b.successes = 0
		return true
	default:
		return true
	}
}

// RecordSuccess records a successful request.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= b.opts.SuccessThreshold {
			b.transition(Closed)
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure records a failed request.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.opts.FailureThreshold {
			b.transition(Open)
		}
	case HalfOpen:
		b.transition(Open)
		b.successes = 0
	case Open:
		b.failures++
	}
}

// State returns the current state without side effects.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// Snapshot returns the current counters.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:       b.state,
		Failures:    b.failures,
		Successes:   b.successes,
		LastFailure: b.lastFailure,
	}
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.transition(Closed)
	b.failures = 0
	b.successes = 0
	b.lastFailure = time.Time{}
}

// Call runs fn under the request timeout when the breaker allows it, recording the outcome.
// It returns an error wrapping ErrOpen when refused and a timeout error when fn overruns.
func (b *Breaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := Execute(ctx, b, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Execute is Call for functions that produce a value.
func Execute[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	if !b.AllowRequest() {
		return zero, errors.Wrap(errors.KindTransport, ErrOpen, "server '%s'", b.name)
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.RequestTimeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		done <- outcome{v, err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			b.RecordFailure()
			return zero, o.err
		}
		b.RecordSuccess()
		return o.v, nil
	case <-ctx.Done():
		b.RecordFailure()
		return zero, errors.Timeout(b.opts.RequestTimeout.Milliseconds())
	}
}

// transition must be called with mu held.
func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	b.logger.Info("Circuit breaker state change", "from", b.state.String(), "to", to.String())
	b.state = to
}
