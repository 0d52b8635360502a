package breaker

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Manager holds one breaker per server, created on first use.
// It is safe for concurrent use by multiple goroutines.
type Manager struct {
	logger hclog.Logger
	opts   []Option

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewManager creates a manager whose breakers share opts.
func NewManager(logger hclog.Logger, opts ...Option) (*Manager, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if _, err := NewOptions(opts...); err != nil {
		return nil, err
	}

	return &Manager{
		logger:   logger,
		opts:     opts,
		breakers: make(map[string]*Breaker),
	}, nil
}

// Get returns the breaker for server, creating it when missing.
func (m *Manager) Get(server string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[server]; ok {
		return b
	}

	// Options were validated in NewManager.
	b, _ := New(m.logger, server, m.opts...)
	m.breakers[server] = b

	return b
}

// Remove forgets the breaker of server.
func (m *Manager) Remove(server string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.breakers, server)
}

// States returns a snapshot of every breaker by server.
func (m *Manager) States() map[string]Snapshot {
	m.mu.Lock()
	breakers := make(map[string]*Breaker, len(m.breakers))
	for k, v := range m.breakers {
		breakers[k] = v
	}
	m.mu.Unlock()

	out := make(map[string]Snapshot, len(breakers))
	for name, b := range breakers {
		out[name] = b.Snapshot()
	}
	return out
}
