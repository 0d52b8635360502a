package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/mozilla-ai/mcpshield/internal/transport"
)

var validLazyModes = map[string]struct{}{
	"disabled": {},
	"metatool": {},
	"hybrid":   {},
	"full":     {},
}

// Validate checks the whole configuration and returns every problem found, joined.
func (c *Config) Validate() error {
	var errs []error

	errs = append(errs, c.validateServer()...)
	errs = append(errs, c.validateAuth()...)
	errs = append(errs, c.validateLimits()...)
	errs = append(errs, c.validateServers()...)
	errs = append(errs, c.validateSkills()...)
	errs = append(errs, c.validatePresets()...)

	return errors.Join(errs...)
}

func (c *Config) validateServer() []error {
	var errs []error

	if strings.TrimSpace(c.Server.Host) == "" {
		errs = append(errs, NewErrInvalidValue("server.host", c.Server.Host))
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, NewErrInvalidValue("server.port", c.Server.Port))
	}
	if (c.Server.CertPath == "") != (c.Server.KeyPath == "") {
		errs = append(errs, fmt.Errorf("%w: server.cert_path and server.key_path must be set together", ErrInvalidValue))
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, NewErrInvalidValue("server.max_body_bytes", c.Server.MaxBodyBytes))
	}

	return errs
}

func (c *Config) validateAuth() []error {
	var errs []error

	switch c.Auth.Type {
	case AuthNone, "":
	case AuthStatic:
		if strings.TrimSpace(c.Auth.Token) == "" {
			errs = append(errs, fmt.Errorf("%w: auth.token is required for static auth", ErrInvalidValue))
		}
	case AuthJWT:
		if strings.TrimSpace(c.Auth.JWTSecret) == "" {
			errs = append(errs, fmt.Errorf("%w: auth.jwt_secret is required for jwt auth", ErrInvalidValue))
		}
		if c.Auth.TokenTTL <= 0 {
			errs = append(errs, NewErrInvalidValue("auth.token_ttl", c.Auth.TokenTTL))
		}
	default:
		errs = append(errs, NewErrInvalidValue("auth.type", c.Auth.Type))
	}

	if c.Features.Auth && (c.Auth.Type == AuthNone || c.Auth.Type == "") {
		errs = append(errs, fmt.Errorf("%w: features.auth requires auth.type static or jwt", ErrInvalidValue))
	}

	return errs
}

func (c *Config) validateLimits() []error {
	var errs []error

	if c.RateLimit.RequestsPerMinute < 1 {
		errs = append(errs, NewErrInvalidValue("rate_limit.requests_per_minute", c.RateLimit.RequestsPerMinute))
	}
	if c.RateLimit.BurstSize < 1 {
		errs = append(errs, NewErrInvalidValue("rate_limit.burst_size", c.RateLimit.BurstSize))
	}

	if c.Features.AuditLogging && strings.TrimSpace(c.Audit.Path) == "" && !c.Audit.LogToStdout {
		errs = append(errs, fmt.Errorf("%w: audit.path is required when audit logging is enabled", ErrInvalidValue))
	}
	if c.Audit.Format != AuditJSON && c.Audit.Format != AuditPretty {
		errs = append(errs, NewErrInvalidValue("audit.format", c.Audit.Format))
	}
	if c.Audit.MaxSizeMB <= 0 {
		errs = append(errs, NewErrInvalidValue("audit.max_size_mb", c.Audit.MaxSizeMB))
	}
	if c.Audit.MaxFiles < 1 {
		errs = append(errs, NewErrInvalidValue("audit.max_files", c.Audit.MaxFiles))
	}

	l := c.LazyLoading
	if _, ok := validLazyModes[strings.ToLower(l.Mode)]; !ok {
		errs = append(errs, NewErrInvalidValue("lazy_loading.mode", l.Mode))
	}
	if l.SchemaCacheTTLSeconds < 1 {
		errs = append(errs, NewErrInvalidValue("lazy_loading.schema_cache_ttl_seconds", l.SchemaCacheTTLSeconds))
	}
	if l.MaxConcurrentFetches < 1 {
		errs = append(errs, NewErrInvalidValue("lazy_loading.max_concurrent_fetches", l.MaxConcurrentFetches))
	}
	if l.RetryAttempts < 0 {
		errs = append(errs, NewErrInvalidValue("lazy_loading.retry_attempts", l.RetryAttempts))
	}

	p := c.Pool
	if p.MaxConnections < 1 {
		errs = append(errs, NewErrInvalidValue("pool.max_connections", p.MaxConnections))
	}
	if p.MinConnections < 0 || p.MinConnections > p.MaxConnections {
		errs = append(errs, NewErrInvalidValue("pool.min_connections", p.MinConnections))
	}
	if p.MaxConnectionAge <= 0 || p.MaxIdleTime <= 0 || p.HealthCheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("%w: pool durations must be positive", ErrInvalidValue))
	}

	b := c.CircuitBreaker
	if b.FailureThreshold < 1 || b.SuccessThreshold < 1 {
		errs = append(errs, fmt.Errorf("%w: circuit_breaker thresholds must be at least 1", ErrInvalidValue))
	}
	if b.ResetTimeout <= 0 || b.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: circuit_breaker timeouts must be positive", ErrInvalidValue))
	}

	tc := c.TokenCache
	if tc.TTL <= 0 || tc.CleanupInterval <= 0 || tc.MaxSize < 1 {
		errs = append(errs, fmt.Errorf("%w: token_cache ttl, cleanup_interval and max_size must be positive", ErrInvalidValue))
	}

	return errs
}

func (c *Config) validateServers() []error {
	var errs []error
	seen := make(map[string]struct{}, len(c.Servers))

	for i, s := range c.Servers {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%w: servers[%d].name cannot be empty", ErrInvalidValue, i))
			continue
		}
		if strings.ContainsAny(name, "/. ") {
			errs = append(errs, NewErrInvalidValue(fmt.Sprintf("servers[%d].name", i), name))
		}
		if _, ok := seen[name]; ok {
			errs = append(errs, fmt.Errorf("%w: duplicate server name '%s'", ErrInvalidValue, name))
		}
		seen[name] = struct{}{}

		tt, err := transport.ParseType(s.TransportType())
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: server '%s': %w", ErrInvalidValue, name, err))
			continue
		}

		if tt.IsHTTP() {
			if s.Transport.URL == "" {
				errs = append(errs, fmt.Errorf("%w: server '%s': transport.url is required for %s", ErrInvalidValue, name, tt))
			} else if _, err := url.ParseRequestURI(s.Transport.URL); err != nil {
				errs = append(errs, fmt.Errorf("%w: server '%s': transport.url: %w", ErrInvalidValue, name, err))
			}
			continue
		}

		if strings.TrimSpace(s.Command) == "" {
			errs = append(errs, fmt.Errorf("%w: server '%s': command is required for stdio", ErrInvalidValue, name))
		}
		if err := s.Constraints().Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%w: server '%s': sandbox: %w", ErrInvalidValue, name, err))
		}
	}

	return errs
}

func (c *Config) validateSkills() []error {
	var errs []error
	seen := make(map[string]struct{}, len(c.Skills))

	for i, s := range c.Skills {
		if strings.TrimSpace(s.Name) == "" {
			errs = append(errs, fmt.Errorf("%w: skills[%d].name cannot be empty", ErrInvalidValue, i))
			continue
		}
		if _, ok := seen[s.Name]; ok {
			errs = append(errs, fmt.Errorf("%w: duplicate skill name '%s'", ErrInvalidValue, s.Name))
		}
		seen[s.Name] = struct{}{}

		if !filepath.IsAbs(s.Path) {
			errs = append(errs, fmt.Errorf("%w: skill '%s': path must be absolute", ErrInvalidValue, s.Name))
		}
	}

	if dir := c.SkillsDir; dir != "" && dir != SkillsDirAuto && !filepath.IsAbs(dir) {
		errs = append(errs, fmt.Errorf("%w: skills_dir must be absolute or '%s'", ErrInvalidValue, SkillsDirAuto))
	}

	return errs
}

func (c *Config) validatePresets() []error {
	var errs []error
	seen := make(map[string]struct{}, len(c.Presets))

	for i, p := range c.Presets {
		if strings.TrimSpace(p.Name) == "" {
			errs = append(errs, fmt.Errorf("%w: presets[%d].name cannot be empty", ErrInvalidValue, i))
			continue
		}
		if _, ok := seen[p.Name]; ok {
			errs = append(errs, fmt.Errorf("%w: duplicate preset name '%s'", ErrInvalidValue, p.Name))
		}
		seen[p.Name] = struct{}{}

		if len(p.Tags) == 0 {
			errs = append(errs, fmt.Errorf("%w: preset '%s' must have at least one tag", ErrInvalidValue, p.Name))
		}
	}

	for _, name := range c.LazyLoading.PreloadPresets {
		if _, ok := seen[name]; !ok {
			errs = append(errs, fmt.Errorf("%w: lazy_loading.preload_presets references unknown preset '%s'", ErrInvalidValue, name))
		}
	}

	servers := make(map[string]struct{}, len(c.Servers))
	for _, s := range c.Servers {
		servers[s.Name] = struct{}{}
	}
	for _, name := range c.LazyLoading.PreloadServers {
		if _, ok := servers[name]; !ok {
			errs = append(errs, fmt.Errorf("%w: lazy_loading.preload_servers references unknown server '%s'", ErrInvalidValue, name))
		}
	}

	return errs
}
