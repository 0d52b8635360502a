package config

import "fmt"

// ValidationPredicate evaluates a loaded Config and returns an error if invalid.
type ValidationPredicate func(*Config) error

// validatingLoader wraps a Loader to run additional validation predicates at load time.
type validatingLoader struct {
	Loader
	predicates []ValidationPredicate
}

// NewValidatingLoader creates a loader that runs validation predicates after Load().
func NewValidatingLoader(inner Loader, predicates ...ValidationPredicate) Loader {
	return &validatingLoader{
		Loader:     inner,
		predicates: predicates,
	}
}

// Load delegates to the inner loader, then runs validation predicates.
func (l *validatingLoader) Load(path string) (*Config, error) {
	cfg, err := l.Loader.Load(path)
	if err != nil {
		return nil, err
	}

	for _, predicate := range l.predicates {
		if predicate == nil {
			continue
		}
		if err := predicate(cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrConfigLoadFailed, err)
		}
	}

	return cfg, nil
}

// RequireServers fails when no MCP server or skill is configured.
func RequireServers(cfg *Config) error {
	if len(cfg.Servers) == 0 && len(cfg.Skills) == 0 {
		return fmt.Errorf("no servers or skills configured")
	}
	return nil
}

// RequireTLS fails when the listener is bound to a non-loopback host without TLS.
func RequireTLS(cfg *Config) error {
	switch cfg.Server.Host {
	case "127.0.0.1", "localhost", "::1":
		return nil
	}
	if cfg.Server.CertPath == "" {
		return fmt.Errorf("TLS is required when binding to %s", cfg.Server.Host)
	}
	return nil
}
