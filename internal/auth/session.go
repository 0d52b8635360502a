// Package auth authenticates northbound requests and caches the resulting sessions.
package auth

import (
	"context"
	"slices"
	"strings"
	"time"
)

// Session is an authenticated caller.
type Session struct {
	UserID    string    `json:"user_id"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at,omitzero"`

	// Token is the bearer token the session was created from.
	Token string `json:"-"`
}

// Expired reports whether the session has an expiry that lies before now.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// HasScope reports whether the session holds scope, either directly or through "*".
func (s *Session) HasScope(scope string) bool {
	return slices.Contains(s.Scopes, "*") || slices.Contains(s.Scopes, scope)
}

// MissingScopes returns the entries of required the session does not hold.
func (s *Session) MissingScopes(required []string) []string {
	var missing []string
	for _, r := range required {
		if !s.HasScope(r) {
			missing = append(missing, r)
		}
	}
	return missing
}

// BearerToken extracts the token from an Authorization header value.
// The scheme is matched case-insensitively. It returns false when the header is empty or not a bearer token.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}

	token = strings.TrimSpace(token)
	return token, token != ""
}

type sessionKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

// SessionFrom returns the session stored in ctx, if any.
func SessionFrom(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey{}).(*Session)
	return s, ok && s != nil
}
