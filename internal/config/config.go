// Package config loads and validates the mcpshield configuration file.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"

	"github.com/mozilla-ai/mcpshield/internal/perms"
)

// skeleton is written by Init.
const skeleton = `# mcpshield configuration

[server]
host = "127.0.0.1"
port = 3000

[auth]
type = "none"

[features]
sandbox = true
audit_logging = true
scope_validation = true

[lazy_loading]
mode = "disabled"

# [[servers]]
# name = "filesystem"
# command = "npx"
# args = ["-y", "@modelcontextprotocol/server-filesystem", "/tmp"]
# tags = ["tools", "filesystem"]
#
# [servers.sandbox]
# network = false
# filesystem = ["/tmp"]
`

// Init creates the base skeleton configuration file.
func (d *DefaultLoader) Init(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%s already exists", path)
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := os.WriteFile(path, []byte(skeleton), perms.RegularFile); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// Load reads, defaults and validates the configuration at path.
// Files ending in .json or .jsonc are decoded as JSON (comments and trailing commas allowed), anything else as TOML.
func (d *DefaultLoader) Load(path string) (*Config, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: path cannot be empty", ErrConfigLoadFailed)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: config file cannot be found (%s)", ErrConfigLoadFailed, path)
		}
		return nil, fmt.Errorf("%w: failed to read config file (%s): %w", ErrConfigLoadFailed, path, err)
	}

	cfg, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode config from file (%s): %w", ErrConfigLoadFailed, path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: failed to validate config (%s): %w", ErrConfigLoadFailed, path, err)
	}

	cfg.configFilePath = path

	return cfg, nil
}

// Decode parses configuration data and applies defaults. It does not validate.
// The ext selects the format: ".json" and ".jsonc" are JSON, anything else is TOML.
func Decode(data []byte, ext string) (*Config, error) {
	cfg := Default()

	switch strings.ToLower(ext) {
	case ".json", ".jsonc":
		dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON(data)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return nil, err
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Default returns a configuration holding every default value and no servers.
func Default() *Config {
	return &Config{
		Server: ServerSection{
			Host:            "127.0.0.1",
			Port:            3000,
			ShutdownTimeout: Duration(30 * time.Second),
			MaxBodyBytes:    10 << 20,
			CORS: CORSSection{
				Methods: []string{"GET", "POST", "DELETE", "OPTIONS"},
				Headers: []string{"Authorization", "Content-Type", "Mcp-Session-Id"},
				MaxAge:  Duration(5 * time.Minute),
			},
		},
		Auth: AuthSection{
			Type:     AuthNone,
			Issuer:   "mcpshield",
			TokenTTL: Duration(24 * time.Hour),
		},
		Features: FeaturesSection{
			ScopeValidation: true,
			Sandbox:         true,
			AuditLogging:    true,
			RateLimiting:    true,
		},
		RateLimit: RateLimitSection{
			RequestsPerMinute: 100,
			BurstSize:         10,
		},
		Audit: AuditSection{
			Path:      "/var/log/mcpshield/audit.log",
			Format:    AuditJSON,
			MaxSizeMB: 100,
			MaxFiles:  10,
		},
		LazyLoading: LazyLoadingSection{
			Mode:                  "disabled",
			SchemaCacheTTLSeconds: 300,
			CacheEnabled:          true,
			MaxConcurrentFetches:  4,
			RetryAttempts:         3,
			RetryDelayMS:          1000,
		},
		Pool: PoolSection{
			MaxConnections:      10,
			MinConnections:      1,
			MaxConnectionAge:    Duration(time.Hour),
			MaxIdleTime:         Duration(5 * time.Minute),
			HealthCheckInterval: Duration(30 * time.Second),
		},
		CircuitBreaker: CircuitBreakerSection{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			ResetTimeout:     Duration(30 * time.Second),
			RequestTimeout:   Duration(30 * time.Second),
		},
		TokenCache: TokenCacheSection{
			TTL:             Duration(5 * time.Minute),
			MaxSize:         10000,
			CleanupInterval: Duration(60 * time.Second),
		},
	}
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.configFilePath
}

// Addr returns the listen address of the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// ListServers returns a copy of the configured server entries.
func (c *Config) ListServers() []ServerEntry {
	return slices.Clone(c.Servers)
}

// ServerByName returns the server with the given name.
func (c *Config) ServerByName(name string) (ServerEntry, bool) {
	for _, s := range c.Servers {
		if s.Name == name {
			return s, true
		}
	}
	return ServerEntry{}, false
}

// PresetByName returns the preset with the given name.
func (c *Config) PresetByName(name string) (Preset, bool) {
	for _, p := range c.Presets {
		if p.Name == name {
			return p, true
		}
	}
	return Preset{}, false
}

// PreloadServers resolves the lazy loading preload list: the named servers plus every server
// carrying a tag of a named preset. The result is deduplicated and keeps configuration order.
func (c *Config) PreloadServers() []string {
	want := make(map[string]struct{})
	for _, name := range c.LazyLoading.PreloadServers {
		want[name] = struct{}{}
	}

	tags := make(map[string]struct{})
	for _, name := range c.LazyLoading.PreloadPresets {
		p, ok := c.PresetByName(name)
		if !ok {
			continue
		}
		for _, t := range p.Tags {
			tags[t] = struct{}{}
		}
	}

	var out []string
	for _, s := range c.Servers {
		_, named := want[s.Name]
		tagged := slices.ContainsFunc(s.Tags, func(t string) bool {
			_, ok := tags[t]
			return ok
		})
		if named || tagged {
			out = append(out, s.Name)
		}
	}

	return out
}
