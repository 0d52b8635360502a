package daemon

import (
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mozilla-ai/mcpshield/internal/contracts"
	"github.com/mozilla-ai/mcpshield/internal/domain"
	"github.com/mozilla-ai/mcpshield/internal/errors"
)

var _ contracts.MCPHealthMonitor = (*HealthTracker)(nil)

// HealthTracker stores the outcome of the latest health check of each MCP server.
type HealthTracker struct {
	mu       sync.RWMutex
	statuses map[string]domain.ServerHealth
	now      func() time.Time
}

// NewHealthTracker tracks serverNames, all starting in the unknown state.
func NewHealthTracker(serverNames []string) *HealthTracker {
	statuses := make(map[string]domain.ServerHealth, len(serverNames))
	for _, name := range serverNames {
		statuses[name] = domain.ServerHealth{Name: name, Status: domain.HealthStatusUnknown}
	}
	return &HealthTracker{
		statuses: statuses,
		now:      time.Now,
	}
}

// Track starts tracking name in the unknown state. Tracking an already tracked server is a no-op.
func (h *HealthTracker) Track(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.statuses[name]; !ok {
		h.statuses[name] = domain.ServerHealth{Name: name, Status: domain.HealthStatusUnknown}
	}
}

// Untrack forgets name.
func (h *HealthTracker) Untrack(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.statuses, name)
}

// Status returns the health status for a single tracked server.
func (h *HealthTracker) Status(name string) (domain.ServerHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if health, ok := h.statuses[name]; ok {
		return health, nil
	}

	return domain.ServerHealth{}, errors.ServerNotFound("health of server '%s' is not tracked", name)
}

// List returns a copy of all known server health records, sorted by name.
func (h *HealthTracker) List() []domain.ServerHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := slices.Collect(maps.Values(h.statuses))
	slices.SortFunc(out, func(a, b domain.ServerHealth) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// Update records a health check for a tracked server.
// The current time is recorded as LastChecked. LastSuccessful is updated and ConsecutiveFailures reset only if
// status is HealthStatusOK.
// Latency can be nil if the ping failed or was not measured.
func (h *HealthTracker) Update(name string, status domain.HealthStatus, latency *time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.now().UTC()

	prev, exists := h.statuses[name]
	if !exists {
		return errors.ServerNotFound("health of server '%s' is not tracked", name)
	}

	lastSuccessful := prev.LastSuccessful
	failures := prev.ConsecutiveFailures + 1
	if status == domain.HealthStatusOK {
		lastSuccessful = &now
		failures = 0
	}

	var d *time.Duration
	if latency != nil {
		l := *latency
		d = &l
	}

	h.statuses[name] = domain.ServerHealth{
		Name:           name,
		Status:         status,
		Latency:        d,
		LastChecked:    &now,
		LastSuccessful: lastSuccessful,

		ConsecutiveFailures: failures,
	}

	return nil
}
