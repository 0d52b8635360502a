package daemon

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcpshield/internal/audit"
	"github.com/mozilla-ai/mcpshield/internal/auth"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
)

func newTestLimiter(rpm int, burst int) (*rateLimiter, *time.Time) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	l := newRateLimiter(RateLimitConfig{Enabled: true, RequestsPerMinute: rpm, Burst: burst}, audit.Discard{}, metrics.New())
	l.now = func() time.Time { return now }
	return l, &now
}

func TestRateLimiter_Allow(t *testing.T) {
	t.Parallel()

	l, now := newTestLimiter(60, 2)

	ok, _ := l.allow("ip:10.0.0.1")
	require.True(t, ok)
	ok, _ = l.allow("ip:10.0.0.1")
	require.True(t, ok)

	ok, wait := l.allow("ip:10.0.0.1")
	require.False(t, ok)
	require.InDelta(t, time.Second.Seconds(), wait.Seconds(), 0.01)

	// A rejected request does not consume the next token.
	*now = now.Add(time.Second)
	ok, _ = l.allow("ip:10.0.0.1")
	require.True(t, ok)

	ok, _ = l.allow("ip:10.0.0.2")
	require.True(t, ok, "buckets are per key")
}

func TestRateLimiter_Sweep(t *testing.T) {
	t.Parallel()

	l, now := newTestLimiter(60, 1)

	l.allow("user:alice")
	*now = now.Add(idleLimiterTTL / 2)
	l.allow("user:bob")

	*now = now.Add(idleLimiterTTL/2 + time.Second)
	require.Equal(t, 1, l.sweep())

	l.mu.Lock()
	_, alice := l.buckets["user:alice"]
	_, bob := l.buckets["user:bob"]
	l.mu.Unlock()
	require.False(t, alice)
	require.True(t, bob)
}

func TestRateLimiter_KeysAuthenticatedUsers(t *testing.T) {
	t.Parallel()

	l, _ := newTestLimiter(1, 1)

	var passed int
	next := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { passed++ })
	handler := withClientIP(l.middleware(next))

	send := func(user string, remote string) int {
		req := newRequest(t, http.MethodPost, "/mcp", nil)
		req.RemoteAddr = remote
		if user != "" {
			req = req.WithContext(auth.WithSession(context.Background(), &auth.Session{UserID: user, Scopes: []string{"*"}}))
		}
		return serve(handler, req).Code
	}

	// Same user from two addresses shares one bucket.
	require.Equal(t, http.StatusOK, send("alice", "10.0.0.1:1"))
	require.Equal(t, http.StatusTooManyRequests, send("alice", "10.0.0.2:1"))

	// Anonymous callers are keyed by address.
	require.Equal(t, http.StatusOK, send(auth.AnonymousUser, "10.0.0.1:1"))
	require.Equal(t, http.StatusOK, send(auth.AnonymousUser, "10.0.0.2:1"))
	require.Equal(t, http.StatusTooManyRequests, send(auth.AnonymousUser, "10.0.0.2:1"))

	require.Equal(t, 3, passed)
}
