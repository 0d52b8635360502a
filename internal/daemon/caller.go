package daemon

import (
	"context"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/mozilla-ai/mcpshield/internal/auth"
)

// caller identifies who sent a request, for audit records and scope checks.
type caller struct {
	userID    string
	clientIP  string
	requestID string
	session   *auth.Session
}

type clientIPKey struct{}

// withClientIP stores the client address of r in its context.
// It runs after middleware.RealIP, so RemoteAddr already reflects forwarding headers.
func withClientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPKey{}, clientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func callerFrom(ctx context.Context) caller {
	c := caller{requestID: middleware.GetReqID(ctx)}
	if ip, ok := ctx.Value(clientIPKey{}).(string); ok {
		c.clientIP = ip
	}
	if s, ok := auth.SessionFrom(ctx); ok {
		c.session = s
		c.userID = s.UserID
	}
	return c
}
