package daemon

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/mozilla-ai/mcpshield/internal/api"
	"github.com/mozilla-ai/mcpshield/internal/audit"
	"github.com/mozilla-ai/mcpshield/internal/auth"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
)

// idleLimiterTTL is how long a caller's bucket survives without requests.
const idleLimiterTTL = 10 * time.Minute

// rateLimiter keeps one token bucket per caller.
// Callers are keyed by user when authenticated, otherwise by client IP.
type rateLimiter struct {
	limit   rate.Limit
	burst   int
	audit   audit.Sink
	metrics metrics.Recorder
	now     func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newRateLimiter(cfg RateLimitConfig, sink audit.Sink, recorder metrics.Recorder) *rateLimiter {
	return &rateLimiter{
		limit:   rate.Limit(float64(cfg.RequestsPerMinute) / 60),
		burst:   cfg.Burst,
		audit:   sink,
		metrics: recorder,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// allow takes a token from key's bucket. When none is left it returns the wait until the next one.
func (l *rateLimiter) allow(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Minute
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// sweep drops buckets idle for longer than idleLimiterTTL.
func (l *rateLimiter) sweep() int {
	cutoff := l.now().Add(-idleLimiterTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for k, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, k)
			n++
		}
	}
	return n
}

func (l *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := callerFrom(r.Context())

		key := "ip:" + c.clientIP
		if c.userID != "" && c.userID != auth.AnonymousUser {
			key = "user:" + c.userID
		}

		ok, wait := l.allow(key)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		l.metrics.RecordRateLimitHit()
		audit.RateLimited(l.audit, c.clientIP, c.requestID)

		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		w.Header().Set(api.HeaderErrorType, string(api.RateLimited))
		writeError(w, http.StatusTooManyRequests, codeRateLimited, "Rate limit exceeded")
	})
}
