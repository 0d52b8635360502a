// Package metrics keeps in-process request counters for the proxy.
package metrics

import (
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder is the write side used by request handlers.
type Recorder interface {
	RecordRequest(server, method string, d time.Duration, err error)
	RecordAuthFailure()
	RecordRateLimitHit()
	RecordScopeDenial()
	RecordSecretFindings(n int)
}

// Metrics is a set of atomic counters. The zero value is not usable; call New.
type Metrics struct {
	started time.Time

	mu       sync.RWMutex
	servers  map[string]*serverCounters
	byMethod map[string]*atomic.Uint64

	authFailures   atomic.Uint64
	rateLimitHits  atomic.Uint64
	scopeDenials   atomic.Uint64
	secretFindings atomic.Uint64
}

type serverCounters struct {
	requests  atomic.Uint64
	errors    atomic.Uint64
	latencyNS atomic.Int64
	maxNS     atomic.Int64
}

// ServerSnapshot reports counters for one server.
type ServerSnapshot struct {
	Requests     uint64  `json:"requests" doc:"Requests forwarded to the server"`
	Errors       uint64  `json:"errors" doc:"Requests that failed"`
	AvgLatencyMS float64 `json:"avg_latency_ms" doc:"Mean request latency in milliseconds"`
	MaxLatencyMS float64 `json:"max_latency_ms" doc:"Slowest request in milliseconds"`
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	UptimeSeconds  float64                   `json:"uptime_seconds"`
	TotalRequests  uint64                    `json:"total_requests"`
	TotalErrors    uint64                    `json:"total_errors"`
	Servers        map[string]ServerSnapshot `json:"servers"`
	Methods        map[string]uint64         `json:"methods"`
	AuthFailures   uint64                    `json:"auth_failures"`
	RateLimitHits  uint64                    `json:"rate_limit_hits"`
	ScopeDenials   uint64                    `json:"scope_denials"`
	SecretFindings uint64                    `json:"secret_findings"`
}

// New returns empty counters.
func New() *Metrics {
	return &Metrics{
		started:  time.Now(),
		servers:  make(map[string]*serverCounters),
		byMethod: make(map[string]*atomic.Uint64),
	}
}

func (m *Metrics) server(name string) *serverCounters {
	m.mu.RLock()
	c, ok := m.servers[name]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.servers[name]; !ok {
		c = &serverCounters{}
		m.servers[name] = c
	}
	return c
}

func (m *Metrics) method(name string) *atomic.Uint64 {
	m.mu.RLock()
	c, ok := m.byMethod[name]
	m.mu.RUnlock()
	if ok {
		return c
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok = m.byMethod[name]; !ok {
		c = &atomic.Uint64{}
		m.byMethod[name] = c
	}
	return c
}

// RecordRequest counts one request to server. A non-nil err also counts as an error.
func (m *Metrics) RecordRequest(server, method string, d time.Duration, err error) {
	c := m.server(server)
	c.requests.Add(1)
	if err != nil {
		c.errors.Add(1)
	}

	ns := d.Nanoseconds()
	c.latencyNS.Add(ns)
	for {
		cur := c.maxNS.Load()
		if ns <= cur || c.maxNS.CompareAndSwap(cur, ns) {
			break
		}
	}

	if method != "" {
		m.method(method).Add(1)
	}
}

// RecordAuthFailure counts a rejected credential.
func (m *Metrics) RecordAuthFailure() { m.authFailures.Add(1) }

// RecordRateLimitHit counts a throttled request.
func (m *Metrics) RecordRateLimitHit() { m.rateLimitHits.Add(1) }

// RecordScopeDenial counts a request denied by scope filtering.
func (m *Metrics) RecordScopeDenial() { m.scopeDenials.Add(1) }

// RecordSecretFindings counts secrets detected in request payloads.
func (m *Metrics) RecordSecretFindings(n int) {
	if n > 0 {
		m.secretFindings.Add(uint64(n))
	}
}

// Servers returns the names of servers that have seen traffic, sorted.
func (m *Metrics) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return slices.Sorted(maps.Keys(m.servers))
}

// Snapshot copies the counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Snapshot{
		UptimeSeconds:  time.Since(m.started).Seconds(),
		Servers:        make(map[string]ServerSnapshot, len(m.servers)),
		Methods:        make(map[string]uint64, len(m.byMethod)),
		AuthFailures:   m.authFailures.Load(),
		RateLimitHits:  m.rateLimitHits.Load(),
		ScopeDenials:   m.scopeDenials.Load(),
		SecretFindings: m.secretFindings.Load(),
	}

	for name, c := range m.servers {
		reqs := c.requests.Load()
		ss := ServerSnapshot{
			Requests:     reqs,
			Errors:       c.errors.Load(),
			MaxLatencyMS: float64(c.maxNS.Load()) / float64(time.Millisecond),
		}
		if reqs > 0 {
			ss.AvgLatencyMS = float64(c.latencyNS.Load()) / float64(reqs) / float64(time.Millisecond)
		}
		s.Servers[name] = ss
		s.TotalRequests += ss.Requests
		s.TotalErrors += ss.Errors
	}

	for name, c := range m.byMethod {
		s.Methods[name] = c.Load()
	}

	return s
}
