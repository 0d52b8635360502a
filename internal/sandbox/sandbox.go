// Package sandbox launches MCP server processes under OS-level isolation.
//
// Each platform contributes a backend: namespaces, Landlock, seccomp-bpf and cgroup v2 on Linux,
// Seatbelt profiles on macOS, and Job Objects on Windows.
// New selects the most capable backend available and falls back to running the command directly.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
)

// FilesystemMode describes how much of the filesystem a sandboxed process can see.
type FilesystemMode string

const (
	// FilesystemFull imposes no filesystem restrictions.
	FilesystemFull FilesystemMode = "full"

	// FilesystemReadOnly allows reading the whole filesystem but no writes.
	FilesystemReadOnly FilesystemMode = "readonly"

	// FilesystemPaths allows reading and writing only beneath the listed absolute paths.
	FilesystemPaths FilesystemMode = "paths"
)

// Filesystem is the filesystem constraint of a sandbox.
type Filesystem struct {
	Mode  FilesystemMode `json:"mode"`
	Paths []string       `json:"paths,omitempty"`
}

// Constraints describes the isolation a sandboxed process runs under.
type Constraints struct {
	// Network allows network access when true.
	Network bool `json:"network"`

	// Filesystem restricts filesystem access.
	Filesystem Filesystem `json:"filesystem"`

	// EnvInherit passes the proxy's environment to the child when true.
	// Otherwise the child only sees the variables configured for it.
	EnvInherit bool `json:"env_inherit"`

	// MaxMemoryMB caps the memory of the child.
	MaxMemoryMB uint64 `json:"max_memory_mb"`

	// MaxCPUPercent caps the CPU share of the child (1-100).
	MaxCPUPercent uint32 `json:"max_cpu_percent"`
}

// Command describes a child process to launch.
type Command struct {
	// Name identifies the server the process belongs to (used for cgroup and log naming).
	Name string

	// Path is the executable, resolved against PATH when it contains no separator.
	Path string

	// Args are the arguments passed to the executable (excluding argv[0]).
	Args []string

	// Env holds per-server environment variables, applied after inheritance rules.
	Env map[string]string

	// Dir is the working directory (optional).
	Dir string
}

// Sandbox launches processes under a set of constraints.
type Sandbox interface {
	// Spawn starts the command and returns the running process with its stdio pipes attached.
	Spawn(ctx context.Context, cmd Command) (*Process, error)

	// Constraints returns the constraints applied to spawned processes.
	Constraints() Constraints

	// Kind names the backend (e.g. "linux", "seatbelt", "job-object", "none").
	Kind() string
}

// DefaultConstraints returns the constraints applied when a server configures none.
func DefaultConstraints() Constraints {
	return Constraints{
		Network:       false,
		Filesystem:    Filesystem{Mode: FilesystemReadOnly},
		EnvInherit:    false,
		MaxMemoryMB:   512,
		MaxCPUPercent: 50,
	}
}

// Validate checks the constraint invariants.
func (c Constraints) Validate() error {
	if c.MaxMemoryMB < 1 {
		return fmt.Errorf("max memory must be at least 1MB")
	}
	if c.MaxCPUPercent < 1 || c.MaxCPUPercent > 100 {
		return fmt.Errorf("max CPU percent must be between 1 and 100, got %d", c.MaxCPUPercent)
	}

	switch c.Filesystem.Mode {
	case FilesystemFull, FilesystemReadOnly:
	case FilesystemPaths:
		if len(c.Filesystem.Paths) == 0 {
			return fmt.Errorf("filesystem paths cannot be empty")
		}
		for _, p := range c.Filesystem.Paths {
			if !filepath.IsAbs(p) {
				return fmt.Errorf("filesystem path must be absolute: %s", p)
			}
		}
	default:
		return fmt.Errorf("unknown filesystem mode: %q", c.Filesystem.Mode)
	}

	return nil
}

// New returns the sandbox backend for the current platform.
// When enabled is false the command is run directly.
func New(logger hclog.Logger, enabled bool, c Constraints) (Sandbox, error) {
	if !enabled {
		n := NewNoop(c)
		n.inheritEnv = true
		return n, nil
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sandbox constraints: %w", err)
	}

	return newPlatformSandbox(logger.Named("sandbox"), c)
}

// BuildEnv computes the environment for a child.
// When inherit is false the environment starts empty; the per-server variables are always applied on top.
func BuildEnv(inherit bool, env map[string]string) []string {
	merged := make(map[string]string)
	if inherit {
		for _, kv := range os.Environ() {
			k, v, ok := strings.Cut(kv, "=")
			if !ok {
				continue
			}
			merged[k] = v
		}
	}

	for k, v := range env {
		merged[k] = v
	}

	out := make([]string, 0, len(merged))
	for k, v := range merged {
		out = append(out, k+"="+v)
	}
	slices.Sort(out)

	return out
}

// Report describes which isolation primitives are available on this host.
type Report struct {
	Platform     string           `json:"platform"`
	Backend      string           `json:"backend"`
	Seccomp      bool             `json:"seccomp"`
	Landlock     bool             `json:"landlock"`
	LandlockABI  int              `json:"landlockAbi,omitempty"`
	Namespaces   NamespaceSupport `json:"namespaces"`
	UserNS       bool             `json:"userNamespaces"`
	Cgroups      bool             `json:"cgroups"`
	Seatbelt     bool             `json:"seatbelt"`
	JobObjects   bool             `json:"jobObjects"`
	AppContainer bool             `json:"appContainer"`
	Notes        []string         `json:"notes,omitempty"`
}

// NamespaceLevel describes how many of the required namespaces exist.
type NamespaceLevel string

const (
	NamespacesFull    NamespaceLevel = "full"
	NamespacesPartial NamespaceLevel = "partial"
	NamespacesNone    NamespaceLevel = "none"
)

// NamespaceSupport lists the namespaces available to the sandbox.
type NamespaceSupport struct {
	Level     NamespaceLevel `json:"level"`
	Supported []string       `json:"supported,omitempty"`
}

// FullySupported reports whether every primitive the platform backend uses is available.
func (r Report) FullySupported() bool {
	switch r.Platform {
	case "linux":
		return r.Seccomp && r.Landlock && r.Namespaces.Level == NamespacesFull
	case "darwin":
		return r.Seatbelt
	case "windows":
		return r.JobObjects && r.AppContainer
	default:
		return false
	}
}

// PartiallySupported reports whether at least one isolation primitive is available.
func (r Report) PartiallySupported() bool {
	return r.Seccomp || r.Landlock || r.Namespaces.Level != NamespacesNone || r.Seatbelt || r.JobObjects
}

// Detect inspects the host and returns its availability report.
func Detect() Report {
	r := detect()
	r.Platform = runtime.GOOS
	if r.Namespaces.Level == "" {
		r.Namespaces.Level = NamespacesNone
	}
	return r
}

// initSpec is handed from the proxy to the re-executed init helper.
type initSpec struct {
	Constraints Constraints `json:"constraints"`
}

func encodeInitSpec(c Constraints) (string, error) {
	b, err := json.Marshal(initSpec{Constraints: c})
	if err != nil {
		return "", fmt.Errorf("encoding sandbox spec: %w", err)
	}
	return string(b), nil
}

func decodeInitSpec(s string) (initSpec, error) {
	var spec initSpec
	if strings.TrimSpace(s) == "" {
		return spec, fmt.Errorf("missing sandbox spec in %s", EnvVarInitSpec)
	}
	if err := json.Unmarshal([]byte(s), &spec); err != nil {
		return spec, fmt.Errorf("decoding sandbox spec: %w", err)
	}
	return spec, nil
}

const (
	// InitCommandName is the hidden subcommand the proxy re-executes itself with to apply in-process
	// restrictions before handing over to the real server binary.
	InitCommandName = "sandbox-init"

	// EnvVarInitSpec carries the JSON encoded constraints to the init helper. It is removed before exec.
	EnvVarInitSpec = "MCPSHIELD_SANDBOX_SPEC"
)
