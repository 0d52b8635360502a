package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/errors"
)

// Provider turns a bearer token into a Session.
type Provider interface {
	// Authenticate validates token. Failures are KindAuthentication errors.
	Authenticate(ctx context.Context, token string) (*Session, error)

	// Type names the provider, e.g. "jwt".
	Type() config.AuthType
}

// NewProvider builds the provider selected by cfg.
func NewProvider(cfg config.AuthSection) (Provider, error) {
	switch cfg.Type {
	case config.AuthNone, "":
		return NoneProvider{}, nil
	case config.AuthStatic:
		return NewStaticProvider(cfg.Token)
	case config.AuthJWT:
		return NewJWTProvider(cfg.JWTSecret, WithIssuer(cfg.Issuer), WithTTL(cfg.TokenTTL.Std()))
	default:
		return nil, errors.Config("unknown auth type %q", cfg.Type)
	}
}

// AnonymousUser is the user of sessions created without authentication.
const AnonymousUser = "anonymous"

// NoneProvider accepts every request as an anonymous caller with all scopes.
type NoneProvider struct{}

// Authenticate implements Provider.
func (NoneProvider) Authenticate(context.Context, string) (*Session, error) {
	return &Session{UserID: AnonymousUser, Scopes: []string{"*"}}, nil
}

// Type implements Provider.
func (NoneProvider) Type() config.AuthType {
	return config.AuthNone
}

// StaticProvider accepts a single shared token.
type StaticProvider struct {
	token []byte
}

// NewStaticProvider returns a provider that accepts token.
func NewStaticProvider(token string) (*StaticProvider, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.Config("static auth requires a token")
	}
	return &StaticProvider{token: []byte(token)}, nil
}

// Authenticate implements Provider. The matching token maps to the "admin" user with every scope.
func (p *StaticProvider) Authenticate(_ context.Context, token string) (*Session, error) {
	if subtle.ConstantTimeCompare([]byte(token), p.token) != 1 {
		return nil, errors.Authentication("invalid token")
	}
	return &Session{UserID: "admin", Scopes: []string{"*"}, Token: token}, nil
}

// Type implements Provider.
func (p *StaticProvider) Type() config.AuthType {
	return config.AuthStatic
}

// Claims are the JWT claims minted and accepted by JWTProvider.
type Claims struct {
	Scopes []string `json:"scopes"`
	jwt.RegisteredClaims
}

// JWTOption configures a JWTProvider.
type JWTOption func(*JWTProvider) error

// WithIssuer sets the issuer minted into, and required from, tokens.
func WithIssuer(iss string) JWTOption {
	return func(p *JWTProvider) error {
		if strings.TrimSpace(iss) == "" {
			return fmt.Errorf("issuer cannot be empty")
		}
		p.issuer = iss
		return nil
	}
}

// WithTTL sets the lifetime of minted tokens.
func WithTTL(ttl time.Duration) JWTOption {
	return func(p *JWTProvider) error {
		if ttl <= 0 {
			return fmt.Errorf("token ttl must be positive, got %v", ttl)
		}
		p.ttl = ttl
		return nil
	}
}

// WithClock overrides the time source used for minting and validation.
func WithClock(now func() time.Time) JWTOption {
	return func(p *JWTProvider) error {
		if now == nil {
			return fmt.Errorf("clock cannot be nil")
		}
		p.now = now
		return nil
	}
}

// JWTProvider validates and mints HS256 tokens.
type JWTProvider struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// NewJWTProvider returns a provider signing with secret.
func NewJWTProvider(secret string, opts ...JWTOption) (*JWTProvider, error) {
	if secret == "" {
		return nil, errors.Config("jwt auth requires a secret")
	}

	p := &JWTProvider{
		secret: []byte(secret),
		issuer: "mcpshield",
		ttl:    24 * time.Hour,
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(p); err != nil {
			return nil, errors.Wrap(errors.KindConfig, err, "jwt auth")
		}
	}

	return p, nil
}

// Type implements Provider.
func (p *JWTProvider) Type() config.AuthType {
	return config.AuthJWT
}

// Mint issues a token for userID carrying scopes.
func (p *JWTProvider) Mint(userID string, scopes []string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", errors.InvalidRequest("user id cannot be empty")
	}

	now := p.now()
	claims := Claims{
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
			ID:        uuid.NewString(),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	if err != nil {
		return "", errors.Wrap(errors.KindInternal, err, "signing token")
	}

	return signed, nil
}

// Authenticate implements Provider.
func (p *JWTProvider) Authenticate(_ context.Context, token string) (*Session, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(
		token,
		&claims,
		func(*jwt.Token) (any, error) { return p.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		return nil, errors.Wrap(errors.KindAuthentication, err, "invalid token")
	}
	if claims.Subject == "" {
		return nil, errors.Authentication("token has no subject")
	}

	return &Session{
		UserID:    claims.Subject,
		Scopes:    claims.Scopes,
		ExpiresAt: claims.ExpiresAt.Time,
		Token:     token,
	}, nil
}
