// Package pool keeps reusable connections to MCP servers.
package pool

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/server"
)

// Pool hands out connections per server, creating them lazily.
// Acquired connections stay in the pool and are shared: Release only closes ephemeral ones.
type Pool struct {
	logger    hclog.Logger
	connector server.Connector
	opts      Options
	ids       *jsonrpc.Generator
	now       func() time.Time

	mu     sync.RWMutex
	conns  map[string][]*Conn
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Stats describes the connections of one server.
type Stats struct {
	Total     int `json:"total"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

// New creates a pool. Call Start to run periodic maintenance.
func New(logger hclog.Logger, connector server.Connector, opts ...Option) (*Pool, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if connector == nil {
		return nil, fmt.Errorf("connector cannot be nil")
	}

	o, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	ids, err := jsonrpc.NewGenerator(jsonrpc.WithPrefix("pool-ping"))
	if err != nil {
		return nil, err
	}

	return &Pool{
		logger:    logger.Named("pool"),
		connector: connector,
		opts:      o,
		ids:       ids,
		now:       time.Now,
		conns:     make(map[string][]*Conn),
		stop:      make(chan struct{}),
	}, nil
}

// Acquire returns a healthy, recently used connection to entry's server, creating one when there is none.
func (p *Pool) Acquire(ctx context.Context, entry config.ServerEntry) (*Conn, error) {
	now := p.now()

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, errors.Internal("connection pool is shut down")
	}
	for _, c := range p.conns[entry.Name] {
		if c.Healthy() && c.idle(now) < p.opts.MaxIdleTime && c.age(now) < p.opts.MaxConnectionAge {
			c.touch(now)
			p.mu.RUnlock()
			return c, nil
		}
	}
	p.mu.RUnlock()

	t, err := p.connector.Connect(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("connecting to '%s': %w", entry.Name, err)
	}
	c := newConn(entry.Name, t, p.now())

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		_ = c.Close()
		return nil, errors.Internal("connection pool is shut down")
	}

	if len(p.conns[entry.Name]) < p.opts.MaxConnections {
		p.conns[entry.Name] = append(p.conns[entry.Name], c)
		p.logger.Debug("Opened pooled connection", "server", entry.Name, "id", c.id)
	} else {
		c.ephemeral = true
		p.logger.Debug("Pool full, opened ephemeral connection", "server", entry.Name, "id", c.id)
	}

	return c, nil
}

// Release returns c to the pool. Ephemeral connections are closed.
func (p *Pool) Release(c *Conn) {
	if c == nil || !c.ephemeral {
		return
	}
	if err := c.Close(); err != nil {
		p.logger.Debug("Closing ephemeral connection failed", "server", c.server, "error", err)
	}
}

// Remove closes and forgets every connection to the named server.
func (p *Pool) Remove(name string) {
	p.mu.Lock()
	conns := p.conns[name]
	delete(p.conns, name)
	p.mu.Unlock()

	closeAll(p.logger, conns)
}

// Start runs maintenance every health check interval until ctx is done or Shutdown is called.
func (p *Pool) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.opts.HealthCheckInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-ticker.C:
				p.Maintain(ctx)
			}
		}
	}()
}

// Maintain runs one maintenance pass.
// Idle healthy connections are pinged without holding the pool lock, then aged, unhealthy and
// surplus idle connections are evicted and closed.
func (p *Pool) Maintain(ctx context.Context) {
	p.ping(ctx, p.snapshot())

	now := p.now()
	var evicted []*Conn

	p.mu.Lock()
	for name, conns := range p.conns {
		kept := conns[:0]
		for _, c := range conns {
			switch {
			case c.age(now) >= p.opts.MaxConnectionAge, !c.Healthy():
				evicted = append(evicted, c)
			default:
				kept = append(kept, c)
			}
		}

		// Trim idle connections down to the minimum.
		for i := len(kept) - 1; i >= 0 && len(kept) > p.opts.MinConnections; i-- {
			if kept[i].idle(now) >= p.opts.MaxIdleTime {
				evicted = append(evicted, kept[i])
				kept = slices.Delete(kept, i, i+1)
			}
		}

		if len(kept) == 0 {
			delete(p.conns, name)
			continue
		}
		p.conns[name] = kept
	}
	p.mu.Unlock()

	if len(evicted) > 0 {
		p.logger.Debug("Evicting connections", "count", len(evicted))
	}
	closeAll(p.logger, evicted)
}

// snapshot copies the current connections so they can be inspected without the lock.
func (p *Pool) snapshot() []*Conn {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*Conn
	for _, conns := range p.conns {
		out = append(out, conns...)
	}
	return out
}

// ping sends an MCP ping to each healthy connection concurrently, marking failures unhealthy.
func (p *Pool) ping(ctx context.Context, conns []*Conn) {
	var wg sync.WaitGroup
	for _, c := range conns {
		if !c.Healthy() {
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()

			pingCtx, cancel := context.WithTimeout(ctx, p.opts.PingTimeout)
			defer cancel()

			req, err := jsonrpc.NewRequest(p.ids.Next(), string(mcp.MethodPing), nil)
			if err != nil {
				return
			}

			// Pinging through the transport keeps lastUsed unchanged so idle trimming still applies.
			// An error response still proves the server is alive.
			if _, err := c.transport.SendRequest(pingCtx, req); err != nil {
				p.logger.Warn("Health ping failed", "server", c.server, "id", c.id, "error", err)
				c.MarkUnhealthy()
			}
		}()
	}
	wg.Wait()
}

// Shutdown stops maintenance and closes every connection.
func (p *Pool) Shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()

	p.mu.Lock()
	p.closed = true
	var all []*Conn
	for _, conns := range p.conns {
		all = append(all, conns...)
	}
	p.conns = make(map[string][]*Conn)
	p.mu.Unlock()

	closeAll(p.logger, all)
	p.logger.Info("Connection pool shut down", "closed", len(all))
}

// Stats returns per-server connection counts.
func (p *Pool) Stats() map[string]Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make(map[string]Stats, len(p.conns))
	for name, conns := range p.conns {
		var s Stats
		for _, c := range conns {
			s.Total++
			if c.Healthy() {
				s.Healthy++
			} else {
				s.Unhealthy++
			}
		}
		out[name] = s
	}
	return out
}

func closeAll(logger hclog.Logger, conns []*Conn) {
	for _, c := range conns {
		if err := c.Close(); err != nil {
			logger.Warn("Closing connection failed", "server", c.server, "id", c.id, "error", err)
		}
	}
}
