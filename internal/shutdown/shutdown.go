// Package shutdown broadcasts a single shutdown signal to every long-running task.
package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Coordinator owns the shutdown broadcast. Subscribers receive a channel that is closed exactly once.
type Coordinator struct {
	logger hclog.Logger

	once   sync.Once
	done   chan struct{}
	reason string
	mu     sync.Mutex
}

// New returns a coordinator that has not fired.
func New(logger hclog.Logger) (*Coordinator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	return &Coordinator{
		logger: logger.Named("shutdown"),
		done:   make(chan struct{}),
	}, nil
}

// Subscribe returns a channel closed when shutdown begins.
func (c *Coordinator) Subscribe() <-chan struct{} {
	return c.done
}

// Context returns a child of parent that is canceled when shutdown begins.
func (c *Coordinator) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// Shutdown fires the broadcast. Calls after the first are no-ops.
func (c *Coordinator) Shutdown(reason string) {
	c.once.Do(func() {
		c.mu.Lock()
		c.reason = reason
		c.mu.Unlock()

		c.logger.Info("Shutdown requested", "reason", reason)
		close(c.done)
	})
}

// IsShuttingDown reports whether Shutdown has been called.
func (c *Coordinator) IsShuttingDown() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Reason returns the reason given to Shutdown.
func (c *Coordinator) Reason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reason
}

// WaitForSignal blocks until SIGINT or SIGTERM arrives, ctx is done, or Shutdown is called elsewhere, then
// fires the broadcast.
func (c *Coordinator) WaitForSignal(ctx context.Context) {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-sigCtx.Done():
		if ctx.Err() != nil {
			c.Shutdown("context canceled")
		} else {
			c.Shutdown("signal received")
		}
	case <-c.done:
	}
}

// RunWithTimeout runs fn with a context bounded by timeout and reports whether it finished in time.
// fn keeps running in the background when the deadline passes; it should honor ctx.
func RunWithTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- fn(ctx)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("shutdown step did not finish within %v: %w", timeout, ctx.Err())
	}
}
