package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/mozilla-ai/mcpshield/internal/errors"
)

// Authenticator fronts a Provider with the token cache and the required-scope check.
type Authenticator struct {
	provider Provider
	cache    *TokenCache
	required []string
}

// NewAuthenticator combines provider and cache. A nil cache disables caching.
func NewAuthenticator(provider Provider, cache *TokenCache, requiredScopes []string) (*Authenticator, error) {
	if provider == nil {
		return nil, fmt.Errorf("auth provider cannot be nil")
	}
	return &Authenticator{provider: provider, cache: cache, required: requiredScopes}, nil
}

// Provider returns the wrapped provider.
func (a *Authenticator) Provider() Provider {
	return a.provider
}

// Cache returns the token cache, which may be nil.
func (a *Authenticator) Cache() *TokenCache {
	return a.cache
}

// Authenticate resolves token to a session.
//
// An empty token is a KindAuthentication error with ErrTokenRequired in its chain. A session lacking any of the
// required scopes is a KindAuthorization error with ErrInsufficientScope in its chain.
func (a *Authenticator) Authenticate(ctx context.Context, token string) (*Session, error) {
	if _, none := a.provider.(NoneProvider); none {
		return a.provider.Authenticate(ctx, token)
	}
	if token == "" {
		return nil, errors.Wrap(errors.KindAuthentication, ErrTokenRequired, "missing bearer token")
	}

	s, ok := a.lookup(token)
	if !ok {
		var err error
		s, err = a.provider.Authenticate(ctx, token)
		if err != nil {
			return nil, err
		}
		if a.cache != nil {
			a.cache.Put(token, s)
		}
	}

	if missing := s.MissingScopes(a.required); len(missing) > 0 {
		return nil, errors.Wrap(
			errors.KindAuthorization,
			ErrInsufficientScope,
			"missing scopes: %s", strings.Join(missing, ", "),
		)
	}

	return s, nil
}

func (a *Authenticator) lookup(token string) (*Session, bool) {
	if a.cache == nil {
		return nil, false
	}
	return a.cache.Get(token)
}
