package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestCache(t *testing.T, opts ...CacheOption) (*TokenCache, *fakeClock) {
	t.Helper()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	c, err := NewTokenCache(hclog.NewNullLogger(), append([]CacheOption{WithCacheClock(clock.Now)}, opts...)...)
	require.NoError(t, err)
	return c, clock
}

func TestTokenCache_GetPut(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)

	_, ok := c.Get("t1")
	require.False(t, ok)

	c.Put("t1", &Session{UserID: "alice"})
	s, ok := c.Get("t1")
	require.True(t, ok)
	require.Equal(t, "alice", s.UserID)

	stats := c.Stats()
	require.Equal(t, CacheStats{Size: 1, MaxSize: 10000, Hits: 1, Misses: 1}, stats)
}

func TestTokenCache_Expiry(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(t, WithCacheTTL(time.Minute))

	c.Put("t1", &Session{UserID: "alice"})
	clock.Advance(59 * time.Second)
	_, ok := c.Get("t1")
	require.True(t, ok)

	clock.Advance(time.Second)
	_, ok = c.Get("t1")
	require.False(t, ok)
	require.Equal(t, 0, c.Stats().Size)
	require.Equal(t, uint64(1), c.Stats().Evictions)
}

func TestTokenCache_SessionExpiryCapsTTL(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(t, WithCacheTTL(time.Hour))

	c.Put("t1", &Session{UserID: "alice", ExpiresAt: clock.Now().Add(time.Minute)})
	clock.Advance(2 * time.Minute)
	_, ok := c.Get("t1")
	require.False(t, ok)
}

func TestTokenCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(t, WithMaxSize(2))

	c.Put("a", &Session{UserID: "a"})
	clock.Advance(time.Second)
	c.Put("b", &Session{UserID: "b"})
	clock.Advance(time.Second)
	_, ok := c.Get("a")
	require.True(t, ok)
	clock.Advance(time.Second)

	c.Put("c", &Session{UserID: "c"})
	require.Equal(t, 2, c.Stats().Size)
	require.Equal(t, uint64(1), c.Stats().Evictions)

	_, ok = c.Get("b")
	require.False(t, ok)
	_, ok = c.Get("a")
	require.True(t, ok)
	_, ok = c.Get("c")
	require.True(t, ok)

	// Overwriting an existing key does not evict.
	c.Put("c", &Session{UserID: "c2"})
	require.Equal(t, 2, c.Stats().Size)
}

func TestTokenCache_Invalidate(t *testing.T) {
	t.Parallel()

	c, _ := newTestCache(t)
	c.Put("t1", &Session{UserID: "alice"})
	c.Put("t2", &Session{UserID: "alice"})
	c.Put("t3", &Session{UserID: "bob"})

	require.True(t, c.Invalidate("t3"))
	require.False(t, c.Invalidate("t3"))

	require.Equal(t, 2, c.InvalidateUser("alice"))
	require.Equal(t, 0, c.Stats().Size)

	c.Put("t4", &Session{UserID: "carol"})
	c.Clear()
	require.Equal(t, 0, c.Stats().Size)
}

func TestTokenCache_Sweep(t *testing.T) {
	t.Parallel()

	c, clock := newTestCache(t)
	c.PutWithTTL("short", &Session{UserID: "a"}, time.Second)
	c.PutWithTTL("long", &Session{UserID: "b"}, time.Hour)

	clock.Advance(time.Minute)
	require.Equal(t, 1, c.Sweep())
	require.Equal(t, 1, c.Stats().Size)
}

func TestTokenCache_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	c, err := NewTokenCache(hclog.NewNullLogger(), WithCleanupInterval(time.Millisecond))
	require.NoError(t, err)
	c.PutWithTTL("t", &Session{UserID: "a"}, time.Nanosecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.Stats().Size == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestNewTokenCache_InvalidOptions(t *testing.T) {
	t.Parallel()

	_, err := NewTokenCache(nil)
	require.Error(t, err)

	_, err = NewTokenCache(hclog.NewNullLogger(), WithMaxSize(0))
	require.Error(t, err)

	_, err = NewTokenCache(hclog.NewNullLogger(), WithCacheTTL(0))
	require.Error(t, err)

	_, err = NewTokenCache(hclog.NewNullLogger(), WithCleanupInterval(-time.Second))
	require.Error(t, err)
}
