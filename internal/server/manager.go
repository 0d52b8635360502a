package server

import (
	"context"
	stderrors "errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
)

// Manager holds the managed servers by name.
// It is safe for concurrent use by multiple goroutines.
type Manager struct {
	logger    hclog.Logger
	connector Connector

	mu      sync.RWMutex
	servers map[string]*ManagedServer

	// connecting guards names that are being added so that concurrent adds of one name fail fast.
	connecting map[string]struct{}
}

// NewManager creates an empty Manager that opens transports with connector.
func NewManager(logger hclog.Logger, connector Connector) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if connector == nil {
		return nil, fmt.Errorf("connector cannot be nil")
	}

	return &Manager{
		logger:     logger.Named("servers"),
		connector:  connector,
		servers:    make(map[string]*ManagedServer),
		connecting: make(map[string]struct{}),
	}, nil
}

// AddServer connects to the server described by entry and registers it.
// Adding a name that is already registered fails: the server must be removed first.
func (m *Manager) AddServer(ctx context.Context, entry config.ServerEntry) error {
	name := strings.TrimSpace(entry.Name)
	if name == "" {
		return errors.InvalidRequest("server name cannot be empty")
	}

	m.mu.Lock()
	_, exists := m.servers[name]
	_, pending := m.connecting[name]
	if exists || pending {
		m.mu.Unlock()
		return errors.InvalidRequest("server '%s' already exists", name)
	}
	m.connecting[name] = struct{}{}
	m.mu.Unlock()

	t, err := m.connector.Connect(ctx, entry)

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.connecting, name)

	if err != nil {
		return fmt.Errorf("starting server '%s': %w", name, err)
	}

	m.servers[name] = NewManagedServer(entry, t)
	m.logger.Info("Server added", "server", name, "transport", entry.TransportType())

	return nil
}

// RemoveServer stops the named server and unregisters it.
func (m *Manager) RemoveServer(name string) error {
	m.mu.Lock()
	s, ok := m.servers[name]
	if ok {
		delete(m.servers, name)
	}
	m.mu.Unlock()

	if !ok {
		return errors.ServerNotFound("%s", name)
	}

	if err := s.Stop(); err != nil {
		m.logger.Warn("Stopping server failed", "server", name, "error", err)
		return fmt.Errorf("stopping server '%s': %w", name, err)
	}

	m.logger.Info("Server removed", "server", name)

	return nil
}

// Server returns the named server.
func (m *Manager) Server(name string) (*ManagedServer, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.servers[name]
	return s, ok
}

// SendRequest forwards req to the named server.
func (m *Manager) SendRequest(ctx context.Context, name string, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	s, ok := m.Server(name)
	if !ok {
		return nil, errors.ServerNotFound("%s", name)
	}

	return s.SendRequest(ctx, req)
}

// ListServers returns the registered server names, sorted.
func (m *Manager) ListServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.servers))
	for name := range m.servers {
		names = append(names, name)
	}
	slices.Sort(names)

	return names
}

// Infos describes every registered server, sorted by name.
func (m *Manager) Infos() []Info {
	names := m.ListServers()
	out := make([]Info, 0, len(names))
	for _, name := range names {
		if s, ok := m.Server(name); ok {
			out = append(out, s.Info())
		}
	}
	return out
}

// ServersByTags returns the names of servers carrying at least one of tags, sorted.
func (m *Manager) ServersByTags(tags []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var names []string
	for name, s := range m.servers {
		if slices.ContainsFunc(s.entry.Tags, func(t string) bool { return slices.Contains(tags, t) }) {
			names = append(names, name)
		}
	}
	slices.Sort(names)

	return names
}

// StopAll stops every server in parallel and unregisters them.
// Individual failures are logged; the joined error is returned.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	servers := m.servers
	m.servers = make(map[string]*ManagedServer)
	m.mu.Unlock()

	var g errgroup.Group
	errs := make(chan error, len(servers))

	for name, s := range servers {
		g.Go(func() error {
			m.logger.Info("Stopping server", "server", name)
			if err := s.Stop(); err != nil {
				m.logger.Warn("Stopping server failed", "server", name, "error", err)
				errs <- fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("stopping servers: %w", ctx.Err())
	}

	close(errs)
	var joined []error
	for err := range errs {
		joined = append(joined, err)
	}

	return stderrors.Join(joined...)
}
