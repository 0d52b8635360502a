// Package cache stores tool, resource and prompt schemas fetched from MCP servers.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
)

// Kind is the kind of schema stored in an entry.
type Kind string

const (
	KindTool     Kind = "tool"
	KindResource Kind = "resource"
	KindPrompt   Kind = "prompt"
)

// Kinds lists every Kind.
var Kinds = []Kind{KindTool, KindResource, KindPrompt}

// ParseKind converts s into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindTool, KindResource, KindPrompt:
		return k, nil
	default:
		return "", fmt.Errorf("unknown schema kind: %q", s)
	}
}

// Entry is a cached schema.
type Entry struct {
	Server   string          `json:"server"`
	Name     string          `json:"name"`
	Kind     Kind            `json:"kind"`
	Schema   json.RawMessage `json:"schema"`
	CachedAt time.Time       `json:"cached_at"`
	TTL      time.Duration   `json:"ttl"`
}

// Expired reports whether the entry has outlived its TTL at now.
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.CachedAt) > e.TTL
}

// Remaining returns the time left before the entry expires at now, or zero.
func (e Entry) Remaining(now time.Time) time.Duration {
	return max(e.TTL-now.Sub(e.CachedAt), 0)
}

// FetchFunc retrieves a schema from its server.
type FetchFunc func(ctx context.Context) (json.RawMessage, error)

// Stats reports the number of entries per kind with the counters.
type Stats struct {
	Tools     int     `json:"tools"`
	Resources int     `json:"resources"`
	Prompts   int     `json:"prompts"`
	Metrics   Metrics `json:"metrics"`
	HitRate   float64 `json:"hit_rate_percent"`
}

type key struct {
	server string
	name   string
}

// Cache is a TTL cache with one map per Kind holding *Entry values.
// Reads do not take locks. There is no atomicity across kinds.
// NewCache should be used to create instances of Cache.
type Cache struct {
	ttl     time.Duration
	enabled bool
	logger  hclog.Logger
	now     func() time.Time

	maps    map[Kind]*sync.Map
	metrics metrics
	group   singleflight.Group
}

// NewCache creates a new schema cache.
func NewCache(logger hclog.Logger, opts ...Option) (*Cache, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	options, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	maps := make(map[Kind]*sync.Map, len(Kinds))
	for _, k := range Kinds {
		maps[k] = &sync.Map{}
	}

	return &Cache{
		ttl:     options.ttl,
		enabled: options.enabled,
		logger:  logger.Named("cache"),
		now:     time.Now,
		maps:    maps,
	}, nil
}

// Enabled reports whether the cache stores entries.
func (c *Cache) Enabled() bool {
	return c.enabled
}

// TTL returns the default entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Get returns the live entry for (server, name).
// An expired entry is removed and counted as an eviction and a miss.
func (c *Cache) Get(server, name string, kind Kind) (Entry, bool) {
	m, ok := c.maps[kind]
	if !ok {
		return Entry{}, false
	}

	k := key{server: server, name: name}
	v, ok := m.Load(k)
	if !ok {
		c.metrics.misses.Add(1)
		return Entry{}, false
	}

	e := v.(*Entry)
	if e.Expired(c.now()) {
		if m.CompareAndDelete(k, v) {
			c.metrics.evictions.Add(1)
		}
		c.metrics.misses.Add(1)
		c.logger.Trace("Expired entry evicted", "server", server, "name", name, "kind", kind)
		return Entry{}, false
	}

	c.metrics.hits.Add(1)
	return *e, true
}

// Insert stores schema with the default TTL, replacing any existing entry.
func (c *Cache) Insert(server, name string, kind Kind, schema json.RawMessage) Entry {
	return c.InsertWithTTL(server, name, kind, schema, c.ttl)
}

// InsertWithTTL stores schema with ttl, replacing any existing entry.
// A disabled cache returns the entry without storing it.
func (c *Cache) InsertWithTTL(server, name string, kind Kind, schema json.RawMessage, ttl time.Duration) Entry {
	e := Entry{
		Server:   server,
		Name:     name,
		Kind:     kind,
		Schema:   schema,
		CachedAt: c.now(),
		TTL:      ttl,
	}

	m, ok := c.maps[kind]
	if !ok || !c.enabled {
		return e
	}

	m.Store(key{server: server, name: name}, &e)
	c.metrics.insertions.Add(1)

	return e
}

// GetOrFetch returns the cached entry or calls fetch and caches its result.
func (c *Cache) GetOrFetch(ctx context.Context, server, name string, kind Kind, fetch FetchFunc) (Entry, error) {
	if _, ok := c.maps[kind]; !ok {
		return Entry{}, fmt.Errorf("unknown schema kind: %q", kind)
	}
	if e, ok := c.Get(server, name, kind); ok {
		return e, nil
	}

	return c.Fetch(ctx, server, name, kind, fetch)
}

// Fetch calls fetch and caches its result without consulting the cache first.
// Concurrent callers on the same key share a single fetch, and a caller arriving after another flight filled
// the entry receives that entry instead.
// A caller whose ctx ends stops waiting without cancelling the shared fetch.
func (c *Cache) Fetch(ctx context.Context, server, name string, kind Kind, fetch FetchFunc) (Entry, error) {
	if _, ok := c.maps[kind]; !ok {
		return Entry{}, fmt.Errorf("unknown schema kind: %q", kind)
	}

	sfKey := string(kind) + "\x00" + server + "\x00" + name
	ch := c.group.DoChan(sfKey, func() (any, error) {
		if e, ok := c.Peek(server, name, kind); ok {
			return e, nil
		}

		c.metrics.fetches.Add(1)
		c.logger.Debug("Fetching schema", "server", server, "name", name, "kind", kind)

		// The fetch outlives any single waiter.
		schema, err := fetch(context.WithoutCancel(ctx))
		if err != nil {
			return Entry{}, err
		}
		return c.Insert(server, name, kind, schema), nil
	})

	select {
	case <-ctx.Done():
		return Entry{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	}
}

// Remove deletes the entry for (server, name) and reports whether it existed.
func (c *Cache) Remove(server, name string, kind Kind) bool {
	m, ok := c.maps[kind]
	if !ok {
		return false
	}
	_, loaded := m.LoadAndDelete(key{server: server, name: name})
	return loaded
}

// EntriesByServer returns the live entries of server across every kind.
func (c *Cache) EntriesByServer(server string) []Entry {
	now := c.now()

	var out []Entry
	for _, kind := range Kinds {
		c.maps[kind].Range(func(k, v any) bool {
			e := v.(*Entry)
			if k.(key).server == server && !e.Expired(now) {
				out = append(out, *e)
			}
			return true
		})
	}
	return out
}

// ClearServer removes every entry of server, counting each as an eviction.
func (c *Cache) ClearServer(server string) {
	var n uint64
	for _, kind := range Kinds {
		m := c.maps[kind]
		m.Range(func(k, _ any) bool {
			if k.(key).server == server {
				if _, loaded := m.LoadAndDelete(k); loaded {
					n++
				}
			}
			return true
		})
	}

	c.metrics.evictions.Add(n)
	c.logger.Debug("Cleared server entries", "server", server, "count", n)
}

// ClearAll removes every entry.
func (c *Cache) ClearAll() {
	for _, kind := range Kinds {
		c.maps[kind].Clear()
	}
	c.logger.Debug("Cleared all entries")
}

// Metrics returns a snapshot of the counters.
func (c *Cache) Metrics() Metrics {
	return c.metrics.snapshot()
}

// Counts returns the number of stored entries per kind, including expired entries not yet evicted.
func (c *Cache) Counts() Stats {
	m := c.metrics.snapshot()
	return Stats{
		Tools:     count(c.maps[KindTool]),
		Resources: count(c.maps[KindResource]),
		Prompts:   count(c.maps[KindPrompt]),
		Metrics:   m,
		HitRate:   m.HitRate(),
	}
}

// Len returns the total number of stored entries.
func (c *Cache) Len() int {
	s := c.Counts()
	return s.Tools + s.Resources + s.Prompts
}

// Peek is Get without metrics or eviction.
func (c *Cache) Peek(server, name string, kind Kind) (Entry, bool) {
	m, ok := c.maps[kind]
	if !ok {
		return Entry{}, false
	}
	v, ok := m.Load(key{server: server, name: name})
	if !ok {
		return Entry{}, false
	}
	e := v.(*Entry)
	if e.Expired(c.now()) {
		return Entry{}, false
	}
	return *e, true
}

func count(m *sync.Map) int {
	n := 0
	m.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
