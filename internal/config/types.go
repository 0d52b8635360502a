package config

import (
	"time"

	"github.com/mozilla-ai/mcpshield/internal/sandbox"
)

var _ Provider = (*DefaultLoader)(nil)

// Loader reads a configuration file.
type Loader interface {
	Load(path string) (*Config, error)
}

// Initializer writes a skeleton configuration file.
type Initializer interface {
	Init(path string) error
}

// Provider can both create and load configuration files.
type Provider interface {
	Initializer
	Loader
}

// DefaultLoader loads TOML, JSON and JSONC configuration files from disk.
type DefaultLoader struct{}

// Config represents the .mcpshield.toml file structure.
type Config struct {
	Server         ServerSection         `json:"server" toml:"server"`
	Auth           AuthSection           `json:"auth" toml:"auth"`
	Features       FeaturesSection       `json:"features" toml:"features"`
	RateLimit      RateLimitSection      `json:"rate_limit" toml:"rate_limit"`
	Audit          AuditSection          `json:"audit" toml:"audit"`
	LazyLoading    LazyLoadingSection    `json:"lazy_loading" toml:"lazy_loading"`
	Pool           PoolSection           `json:"pool" toml:"pool"`
	CircuitBreaker CircuitBreakerSection `json:"circuit_breaker" toml:"circuit_breaker"`
	TokenCache     TokenCacheSection     `json:"token_cache" toml:"token_cache"`
	Servers        []ServerEntry         `json:"servers" toml:"servers"`
	Skills         []SkillEntry          `json:"skills,omitempty" toml:"skills,omitempty"`

	// SkillsDir is scanned for skill directories in addition to Skills.
	// SkillsDirAuto selects the per-user default, $XDG_CONFIG_HOME/mcpshield/skills.
	SkillsDir string `json:"skills_dir,omitempty" toml:"skills_dir,omitempty"`

	Presets        []Preset              `json:"presets,omitempty" toml:"presets,omitempty"`

	configFilePath string
}

// ServerSection configures the northbound HTTP listener.
type ServerSection struct {
	// Host is the interface to bind, e.g. "127.0.0.1".
	Host string `json:"host" toml:"host"`

	// Port is the TCP port to bind.
	Port int `json:"port" toml:"port"`

	// CertPath and KeyPath enable TLS when both are set.
	CertPath string `json:"cert_path,omitempty" toml:"cert_path,omitempty"`
	KeyPath  string `json:"key_path,omitempty" toml:"key_path,omitempty"`

	// ShutdownTimeout bounds the graceful drain of in-flight requests.
	ShutdownTimeout Duration `json:"shutdown_timeout" toml:"shutdown_timeout"`

	// MaxBodyBytes caps the size of request bodies.
	MaxBodyBytes int64 `json:"max_body_bytes" toml:"max_body_bytes"`

	// CORS configures cross-origin requests.
	CORS CORSSection `json:"cors" toml:"cors"`
}

// CORSSection contains Cross-Origin Resource Sharing (CORS) configuration.
type CORSSection struct {
	Enable        bool     `json:"enable" toml:"enable"`
	Origins       []string `json:"allow_origins,omitempty" toml:"allow_origins,omitempty"`
	Methods       []string `json:"allow_methods,omitempty" toml:"allow_methods,omitempty"`
	Headers       []string `json:"allow_headers,omitempty" toml:"allow_headers,omitempty"`
	ExposeHeaders []string `json:"expose_headers,omitempty" toml:"expose_headers,omitempty"`
	Credentials   bool     `json:"allow_credentials" toml:"allow_credentials"`
	MaxAge        Duration `json:"max_age" toml:"max_age"`
}

// AuthType selects an authentication provider.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthStatic AuthType = "static"
	AuthJWT    AuthType = "jwt"
)

// AuthSection configures authentication of northbound requests.
type AuthSection struct {
	Type AuthType `json:"type" toml:"type"`

	// Token is the shared bearer token for static auth.
	Token string `json:"token,omitempty" toml:"token,omitempty"`

	// JWTSecret signs and verifies HS256 tokens.
	JWTSecret string `json:"jwt_secret,omitempty" toml:"jwt_secret,omitempty"`

	// Issuer is the expected "iss" claim.
	Issuer string `json:"issuer" toml:"issuer"`

	// TokenTTL is the lifetime of minted tokens.
	TokenTTL Duration `json:"token_ttl" toml:"token_ttl"`

	// RequiredScopes must all be held by a session.
	RequiredScopes []string `json:"required_scopes,omitempty" toml:"required_scopes,omitempty"`
}

// FeaturesSection toggles the security layers.
type FeaturesSection struct {
	Auth            bool `json:"auth" toml:"auth"`
	ScopeValidation bool `json:"scope_validation" toml:"scope_validation"`
	Sandbox         bool `json:"sandbox" toml:"sandbox"`
	AuditLogging    bool `json:"audit_logging" toml:"audit_logging"`
	RateLimiting    bool `json:"rate_limiting" toml:"rate_limiting"`
	SecretScanning  bool `json:"secret_scanning" toml:"secret_scanning"`

	// BlockSecrets rejects tool calls whose arguments contain a detected secret.
	BlockSecrets bool `json:"block_secrets" toml:"block_secrets"`

	// SecretRules is an optional gitleaks rules file replacing the built-in rules.
	SecretRules string `json:"secret_rules,omitempty" toml:"secret_rules,omitempty"`
}

// RateLimitSection configures the per-client token bucket.
type RateLimitSection struct {
	RequestsPerMinute int `json:"requests_per_minute" toml:"requests_per_minute"`
	BurstSize         int `json:"burst_size" toml:"burst_size"`
}

// AuditFormat selects how audit events are written.
type AuditFormat string

const (
	AuditJSON   AuditFormat = "json"
	AuditPretty AuditFormat = "pretty"
)

// AuditSection configures the audit log.
type AuditSection struct {
	Path        string      `json:"path" toml:"path"`
	Format      AuditFormat `json:"format" toml:"format"`
	MaxSizeMB   float64     `json:"max_size_mb" toml:"max_size_mb"`
	MaxFiles    int         `json:"max_files" toml:"max_files"`
	LogToStdout bool        `json:"log_to_stdout" toml:"log_to_stdout"`
}

// LazyLoadingSection configures how tool schemas are exposed to clients.
type LazyLoadingSection struct {
	Mode                  string   `json:"mode" toml:"mode"`
	SchemaCacheTTLSeconds int      `json:"schema_cache_ttl_seconds" toml:"schema_cache_ttl_seconds"`
	PreloadServers        []string `json:"preload_servers,omitempty" toml:"preload_servers,omitempty"`
	PreloadPresets        []string `json:"preload_presets,omitempty" toml:"preload_presets,omitempty"`
	CacheEnabled          bool     `json:"cache_enabled" toml:"cache_enabled"`
	MaxConcurrentFetches  int      `json:"max_concurrent_fetches" toml:"max_concurrent_fetches"`
	RetryAttempts         int      `json:"retry_attempts" toml:"retry_attempts"`
	RetryDelayMS          int      `json:"retry_delay_ms" toml:"retry_delay_ms"`
}

// SchemaCacheTTL returns the schema cache TTL as a duration.
func (l LazyLoadingSection) SchemaCacheTTL() time.Duration {
	return time.Duration(l.SchemaCacheTTLSeconds) * time.Second
}

// RetryDelay returns the delay between fetch attempts.
func (l LazyLoadingSection) RetryDelay() time.Duration {
	return time.Duration(l.RetryDelayMS) * time.Millisecond
}

// PoolSection configures per-server connection pools.
type PoolSection struct {
	MaxConnections      int      `json:"max_connections" toml:"max_connections"`
	MinConnections      int      `json:"min_connections" toml:"min_connections"`
	MaxConnectionAge    Duration `json:"max_connection_age" toml:"max_connection_age"`
	MaxIdleTime         Duration `json:"max_idle_time" toml:"max_idle_time"`
	HealthCheckInterval Duration `json:"health_check_interval" toml:"health_check_interval"`
}

// CircuitBreakerSection configures per-server circuit breakers.
type CircuitBreakerSection struct {
	FailureThreshold int      `json:"failure_threshold" toml:"failure_threshold"`
	SuccessThreshold int      `json:"success_threshold" toml:"success_threshold"`
	ResetTimeout     Duration `json:"reset_timeout" toml:"reset_timeout"`
	RequestTimeout   Duration `json:"request_timeout" toml:"request_timeout"`
}

// TokenCacheSection configures the authenticated session cache.
type TokenCacheSection struct {
	TTL             Duration `json:"ttl" toml:"ttl"`
	MaxSize         int      `json:"max_size" toml:"max_size"`
	CleanupInterval Duration `json:"cleanup_interval" toml:"cleanup_interval"`
}

// ServerEntry represents the configuration of a single MCP server.
type ServerEntry struct {
	// Name is the unique identifier of the server, e.g. 'github'.
	Name string `json:"name" toml:"name"`

	// Command is the executable to launch (stdio transport).
	Command string `json:"command,omitempty" toml:"command,omitempty"`

	// Args are the arguments passed to Command.
	Args []string `json:"args,omitempty" toml:"args,omitempty"`

	// Env holds environment variables for the child.
	Env map[string]string `json:"env,omitempty" toml:"env,omitempty"`

	// Dir is the working directory of the child.
	Dir string `json:"dir,omitempty" toml:"dir,omitempty"`

	// Tags drive routing and scope filtering.
	Tags []string `json:"tags,omitempty" toml:"tags,omitempty"`

	// Description is shown in server listings.
	Description string `json:"description,omitempty" toml:"description,omitempty"`

	// Transport selects how the proxy talks to the server. Defaults to stdio.
	Transport *TransportEntry `json:"transport,omitempty" toml:"transport,omitempty"`

	// Sandbox constrains the child process.
	Sandbox *SandboxEntry `json:"sandbox,omitempty" toml:"sandbox,omitempty"`
}

// TransportEntry configures a server's transport.
type TransportEntry struct {
	Type    string            `json:"type" toml:"type"`
	URL     string            `json:"url,omitempty" toml:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty" toml:"headers,omitempty"`
}

// SandboxEntry configures the sandbox of a server.
type SandboxEntry struct {
	Enabled       *bool      `json:"enabled,omitempty" toml:"enabled,omitempty"`
	Network       bool       `json:"network" toml:"network"`
	Filesystem    Filesystem `json:"filesystem" toml:"filesystem"`
	EnvInherit    bool       `json:"env_inherit" toml:"env_inherit"`
	MaxMemoryMB   uint64     `json:"max_memory_mb" toml:"max_memory_mb"`
	MaxCPUPercent uint32     `json:"max_cpu_percent" toml:"max_cpu_percent"`
}

// SkillEntry registers a directory holding a SKILL.md file as a tool provider.
type SkillEntry struct {
	Name string `json:"name" toml:"name"`
	Path string `json:"path" toml:"path"`
}

// SkillsDirAuto makes SkillsDir resolve to the per-user skills directory.
const SkillsDirAuto = "auto"

// Preset names a group of servers selected by tag.
type Preset struct {
	Name        string   `json:"name" toml:"name"`
	Tags        []string `json:"tags" toml:"tags"`
	Description string   `json:"description,omitempty" toml:"description,omitempty"`
}

// TransportType returns the configured transport type, defaulting to stdio.
func (e *ServerEntry) TransportType() string {
	if e.Transport == nil || e.Transport.Type == "" {
		return "stdio"
	}
	return e.Transport.Type
}

// SandboxEnabled reports whether the server runs sandboxed. Sandboxing is on unless disabled explicitly.
func (e *ServerEntry) SandboxEnabled() bool {
	if e.Sandbox == nil || e.Sandbox.Enabled == nil {
		return true
	}
	return *e.Sandbox.Enabled
}

// Constraints converts the sandbox entry into sandbox constraints, filling in defaults.
func (e *ServerEntry) Constraints() sandbox.Constraints {
	c := sandbox.DefaultConstraints()
	if e.Sandbox == nil {
		return c
	}

	s := e.Sandbox
	c.Network = s.Network
	c.EnvInherit = s.EnvInherit
	if s.Filesystem.Mode != "" {
		c.Filesystem = sandbox.Filesystem{Mode: s.Filesystem.Mode, Paths: s.Filesystem.Paths}
	}
	if s.MaxMemoryMB != 0 {
		c.MaxMemoryMB = s.MaxMemoryMB
	}
	if s.MaxCPUPercent != 0 {
		c.MaxCPUPercent = s.MaxCPUPercent
	}

	return c
}
