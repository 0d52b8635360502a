package auth

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/zeebo/blake3"
)

// TokenCache maps token hashes to sessions so repeated requests skip provider validation.
// Raw tokens are never stored as keys.
type TokenCache struct {
	logger hclog.Logger
	opts   CacheOptions

	mu      sync.RWMutex
	entries map[[32]byte]*cachedSession

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

type cachedSession struct {
	session   *Session
	expiresAt time.Time

	// lastAccess holds UnixNano of the most recent hit.
	lastAccess atomic.Int64
	accesses   atomic.Uint64
}

// CacheStats is a point-in-time view of the cache.
type CacheStats struct {
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// CacheOptions configures a TokenCache.
type CacheOptions struct {
	TTL             time.Duration
	MaxSize         int
	CleanupInterval time.Duration
	Now             func() time.Time
}

// CacheOption defines a functional option for configuring CacheOptions.
type CacheOption func(*CacheOptions) error

// WithCacheTTL sets the default entry lifetime.
func WithCacheTTL(d time.Duration) CacheOption {
	return func(o *CacheOptions) error {
		if d <= 0 {
			return fmt.Errorf("token cache ttl must be positive, got %v", d)
		}
		o.TTL = d
		return nil
	}
}

// WithMaxSize bounds the number of cached sessions.
func WithMaxSize(n int) CacheOption {
	return func(o *CacheOptions) error {
		if n < 1 {
			return fmt.Errorf("token cache max size must be at least 1, got %d", n)
		}
		o.MaxSize = n
		return nil
	}
}

// WithCleanupInterval sets how often Run sweeps expired entries.
func WithCleanupInterval(d time.Duration) CacheOption {
	return func(o *CacheOptions) error {
		if d <= 0 {
			return fmt.Errorf("token cache cleanup interval must be positive, got %v", d)
		}
		o.CleanupInterval = d
		return nil
	}
}

// WithCacheClock overrides the time source.
func WithCacheClock(now func() time.Time) CacheOption {
	return func(o *CacheOptions) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		o.Now = now
		return nil
	}
}

// NewTokenCache returns an empty cache.
func NewTokenCache(logger hclog.Logger, opts ...CacheOption) (*TokenCache, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	o := CacheOptions{
		TTL:             5 * time.Minute,
		MaxSize:         10000,
		CleanupInterval: time.Minute,
		Now:             time.Now,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return nil, err
		}
	}

	return &TokenCache{
		logger:  logger.Named("token-cache"),
		opts:    o,
		entries: make(map[[32]byte]*cachedSession),
	}, nil
}

func hashToken(token string) [32]byte {
	return blake3.Sum256([]byte(token))
}

// Get returns the cached session for token. Expired entries are removed and reported as misses.
func (c *TokenCache) Get(token string) (*Session, bool) {
	key := hashToken(token)
	now := c.opts.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		c.misses.Add(1)
		return nil, false
	}

	if !now.Before(e.expiresAt) {
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == e {
			delete(c.entries, key)
			c.evictions.Add(1)
		}
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, false
	}

	e.lastAccess.Store(now.UnixNano())
	e.accesses.Add(1)
	c.hits.Add(1)

	return e.session, true
}

// Put caches s under token with the default TTL, shortened to the session's own expiry when that comes first.
func (c *TokenCache) Put(token string, s *Session) {
	c.PutWithTTL(token, s, c.opts.TTL)
}

// PutWithTTL caches s under token for ttl.
func (c *TokenCache) PutWithTTL(token string, s *Session, ttl time.Duration) {
	now := c.opts.Now()
	expires := now.Add(ttl)
	if !s.ExpiresAt.IsZero() && s.ExpiresAt.Before(expires) {
		expires = s.ExpiresAt
	}

	e := &cachedSession{session: s, expiresAt: expires}
	e.lastAccess.Store(now.UnixNano())

	key := hashToken(token)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.opts.MaxSize {
		c.evictOneLocked()
	}
	c.entries[key] = e
}

// evictOneLocked removes the least recently used entry. mu must be held for writing.
func (c *TokenCache) evictOneLocked() {
	var (
		victim [32]byte
		oldest int64
		found  bool
	)
	for k, e := range c.entries {
		if at := e.lastAccess.Load(); !found || at < oldest {
			victim, oldest, found = k, at, true
		}
	}
	if found {
		delete(c.entries, victim)
		c.evictions.Add(1)
	}
}

// Invalidate drops the session cached for token.
func (c *TokenCache) Invalidate(token string) bool {
	key := hashToken(token)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// InvalidateUser drops every session belonging to userID and returns how many were removed.
func (c *TokenCache) InvalidateUser(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if e.session.UserID == userID {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Clear empties the cache.
func (c *TokenCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.entries)
}

// Sweep removes expired entries and returns how many were dropped.
func (c *TokenCache) Sweep() int {
	now := c.opts.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	c.evictions.Add(uint64(n))
	return n
}

// Run sweeps on the cleanup interval until ctx is done.
func (c *TokenCache) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := c.Sweep(); n > 0 {
				c.logger.Debug("Swept expired sessions", "count", n)
			}
		}
	}
}

// Stats returns the current counters.
func (c *TokenCache) Stats() CacheStats {
	c.mu.RLock()
	size := len(c.entries)
	c.mu.RUnlock()

	return CacheStats{
		Size:      size,
		MaxSize:   c.opts.MaxSize,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
