package pool

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/transport"
)

var _ transport.Transport = (*Conn)(nil)

// Conn is a pooled connection to one server.
// Any failed request marks it unhealthy, after which it is no longer handed out and is evicted by maintenance.
type Conn struct {
	id        string
	server    string
	transport transport.Transport
	createdAt time.Time
	ephemeral bool

	lastUsed atomic.Int64
	healthy  atomic.Bool
	closed   atomic.Bool
}

func newConn(server string, t transport.Transport, now time.Time) *Conn {
	c := &Conn{
		id:        uuid.NewString(),
		server:    server,
		transport: t,
		createdAt: now,
	}
	c.lastUsed.Store(now.UnixNano())
	c.healthy.Store(true)

	return c
}

// ID uniquely identifies the connection.
func (c *Conn) ID() string {
	return c.id
}

// Server returns the name of the server the connection belongs to.
func (c *Conn) Server() string {
	return c.server
}

// Ephemeral reports whether the connection was created beyond the pool limit and is closed on Release.
func (c *Conn) Ephemeral() bool {
	return c.ephemeral
}

// CreatedAt returns when the connection was opened.
func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

// LastUsed returns when the connection last served a request.
func (c *Conn) LastUsed() time.Time {
	return time.Unix(0, c.lastUsed.Load())
}

// Healthy reports whether the connection can serve requests.
func (c *Conn) Healthy() bool {
	return c.healthy.Load() && !c.closed.Load() && c.transport.IsConnected()
}

// MarkUnhealthy stops the connection from being handed out.
func (c *Conn) MarkUnhealthy() {
	c.healthy.Store(false)
}

func (c *Conn) touch(now time.Time) {
	c.lastUsed.Store(now.UnixNano())
}

func (c *Conn) age(now time.Time) time.Duration {
	return now.Sub(c.createdAt)
}

func (c *Conn) idle(now time.Time) time.Duration {
	return now.Sub(c.LastUsed())
}

// SendRequest forwards req, marking the connection unhealthy on failure.
func (c *Conn) SendRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	c.touch(time.Now())

	resp, err := c.transport.SendRequest(ctx, req)
	if err != nil {
		c.MarkUnhealthy()
		return nil, err
	}

	return resp, nil
}

// SendNotification forwards req, marking the connection unhealthy on failure.
func (c *Conn) SendNotification(ctx context.Context, req *jsonrpc.Request) error {
	c.touch(time.Now())

	if err := c.transport.SendNotification(ctx, req); err != nil {
		c.MarkUnhealthy()
		return err
	}

	return nil
}

// IsConnected reports whether the underlying transport is connected.
func (c *Conn) IsConnected() bool {
	return !c.closed.Load() && c.transport.IsConnected()
}

// Close closes the underlying transport once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.healthy.Store(false)

	return c.transport.Close()
}
