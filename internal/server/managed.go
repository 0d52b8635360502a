package server

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/transport"
)

// ManagedServer owns the primary transport to one MCP server.
type ManagedServer struct {
	entry     config.ServerEntry
	startedAt time.Time

	mu        sync.RWMutex
	transport transport.Transport
	stopped   bool
}

// NewManagedServer wraps an established transport.
func NewManagedServer(entry config.ServerEntry, t transport.Transport) *ManagedServer {
	return &ManagedServer{
		entry:     entry,
		transport: t,
		startedAt: time.Now(),
	}
}

// Name returns the server's configured name.
func (s *ManagedServer) Name() string {
	return s.entry.Name
}

// Tags returns a copy of the server's tags.
func (s *ManagedServer) Tags() []string {
	return slices.Clone(s.entry.Tags)
}

// Config returns the server's configuration entry.
func (s *ManagedServer) Config() config.ServerEntry {
	return s.entry
}

// StartedAt returns when the server was connected.
func (s *ManagedServer) StartedAt() time.Time {
	return s.startedAt
}

// SendRequest forwards req over the server's transport.
func (s *ManagedServer) SendRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return nil, errors.Transport("server '%s' is stopped", s.entry.Name)
	}

	return s.transport.SendRequest(ctx, req)
}

// SendNotification forwards req without waiting for a response.
func (s *ManagedServer) SendNotification(ctx context.Context, req *jsonrpc.Request) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.stopped {
		return errors.Transport("server '%s' is stopped", s.entry.Name)
	}

	return s.transport.SendNotification(ctx, req)
}

// IsConnected reports whether the transport is usable.
func (s *ManagedServer) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return !s.stopped && s.transport.IsConnected()
}

// Stop closes the transport, terminating the child process if there is one. It is safe to call more than once.
func (s *ManagedServer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return nil
	}
	s.stopped = true

	return s.transport.Close()
}

// Info is a point-in-time description of a managed server.
type Info struct {
	Name        string    `json:"name"`
	Tags        []string  `json:"tags"`
	Command     string    `json:"command,omitempty"`
	Description string    `json:"description,omitempty"`
	Transport   string    `json:"transport"`
	Connected   bool      `json:"connected"`
	StartedAt   time.Time `json:"started_at"`
}

// Info describes the server.
func (s *ManagedServer) Info() Info {
	return Info{
		Name:        s.entry.Name,
		Tags:        s.Tags(),
		Command:     s.entry.Command,
		Description: s.entry.Description,
		Transport:   s.entry.TransportType(),
		Connected:   s.IsConnected(),
		StartedAt:   s.startedAt,
	}
}
