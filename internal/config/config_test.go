package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/sandbox"
)

const sampleTOML = `
[server]
port = 8080

[auth]
type = "static"
token = "secret"

[features]
auth = true

[pool]
max_idle_time = "2m"

[lazy_loading]
mode = "hybrid"
preload_presets = ["dev"]

[[servers]]
name = "files"
command = "npx"
args = ["-y", "server-filesystem"]
tags = ["tools", "fs"]

[servers.sandbox]
network = true
filesystem = ["/tmp", "/srv/data"]
max_memory_mb = 256

[[servers]]
name = "remote"
tags = ["resources"]
transport = { type = "streamable", url = "https://mcp.example.com/mcp" }

[[presets]]
name = "dev"
tags = ["fs"]
`

func writeFile(t *testing.T, name string, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaultLoader_LoadTOML(t *testing.T) {
	t.Parallel()

	path := writeFile(t, ".mcpshield.toml", sampleTOML)

	cfg, err := (&DefaultLoader{}).Load(path)
	require.NoError(t, err)
	require.Equal(t, path, cfg.Path())

	require.Equal(t, "127.0.0.1:8080", cfg.Addr())
	require.Equal(t, 2*time.Minute, cfg.Pool.MaxIdleTime.Std())
	require.Equal(t, time.Hour, cfg.Pool.MaxConnectionAge.Std())
	require.Equal(t, 100, cfg.RateLimit.RequestsPerMinute)
	require.Len(t, cfg.Servers, 2)

	files, ok := cfg.ServerByName("files")
	require.True(t, ok)
	require.True(t, files.SandboxEnabled())

	c := files.Constraints()
	require.True(t, c.Network)
	require.Equal(t, sandbox.FilesystemPaths, c.Filesystem.Mode)
	require.Equal(t, []string{"/tmp", "/srv/data"}, c.Filesystem.Paths)
	require.Equal(t, uint64(256), c.MaxMemoryMB)
	require.Equal(t, uint32(50), c.MaxCPUPercent)

	remote, ok := cfg.ServerByName("remote")
	require.True(t, ok)
	require.Equal(t, "streamable", remote.TransportType())

	require.Equal(t, []string{"files"}, cfg.PreloadServers())
}

func TestDefaultLoader_LoadJSONC(t *testing.T) {
	t.Parallel()

	path := writeFile(t, "config.jsonc", `{
		// comments are allowed
		"server": {"port": 9000},
		"pool": {"health_check_interval": "10s"},
		"servers": [
			{"name": "time", "command": "uvx", "args": ["mcp-server-time"],
			 "sandbox": {"filesystem": "full", "max_cpu_percent": 20}},
		],
	}`)

	cfg, err := (&DefaultLoader{}).Load(path)
	require.NoError(t, err)
	require.Equal(t, 9000, cfg.Server.Port)
	require.Equal(t, 10*time.Second, cfg.Pool.HealthCheckInterval.Std())

	c := cfg.Servers[0].Constraints()
	require.Equal(t, sandbox.FilesystemFull, c.Filesystem.Mode)
	require.Equal(t, uint32(20), c.MaxCPUPercent)
}

func TestDefaultLoader_LoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{
			name:    "duplicate server names",
			content: "[[servers]]\nname = \"a\"\ncommand = \"x\"\n[[servers]]\nname = \"a\"\ncommand = \"y\"\n",
			errMsg:  "duplicate server name 'a'",
		},
		{
			name:    "stdio without command",
			content: "[[servers]]\nname = \"a\"\n",
			errMsg:  "command is required for stdio",
		},
		{
			name:    "http transport without url",
			content: "[[servers]]\nname = \"a\"\ntransport = { type = \"sse\" }\n",
			errMsg:  "transport.url is required",
		},
		{
			name:    "unknown transport",
			content: "[[servers]]\nname = \"a\"\ntransport = { type = \"grpc\", url = \"http://x\" }\n",
			errMsg:  "unknown transport type",
		},
		{
			name:    "relative sandbox path",
			content: "[[servers]]\nname = \"a\"\ncommand = \"x\"\n[servers.sandbox]\nfilesystem = [\"tmp\"]\n",
			errMsg:  "must be absolute",
		},
		{
			name:    "cpu out of range",
			content: "[[servers]]\nname = \"a\"\ncommand = \"x\"\n[servers.sandbox]\nmax_cpu_percent = 150\n",
			errMsg:  "between 1 and 100",
		},
		{
			name:    "static auth without token",
			content: "[auth]\ntype = \"static\"\n",
			errMsg:  "auth.token is required",
		},
		{
			name:    "jwt auth without secret",
			content: "[auth]\ntype = \"jwt\"\n",
			errMsg:  "auth.jwt_secret is required",
		},
		{
			name:    "preset without tags",
			content: "[[presets]]\nname = \"p\"\n",
			errMsg:  "must have at least one tag",
		},
		{
			name:    "unknown preload preset",
			content: "[lazy_loading]\npreload_presets = [\"nope\"]\n",
			errMsg:  "unknown preset 'nope'",
		},
		{
			name:    "invalid filesystem mode",
			content: "[[servers]]\nname = \"a\"\ncommand = \"x\"\n[servers.sandbox]\nfilesystem = \"writeonly\"\n",
			errMsg:  "unknown filesystem mode",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			path := writeFile(t, ".mcpshield.toml", tc.content)

			_, err := (&DefaultLoader{}).Load(path)
			require.ErrorIs(t, err, ErrConfigLoadFailed)
			require.ErrorContains(t, err, tc.errMsg)
		})
	}
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Server.Port = 0
	cfg.Pool.MaxConnections = 0
	cfg.Servers = []ServerEntry{{Name: ""}}

	err := cfg.Validate()
	require.ErrorContains(t, err, "server.port")
	require.ErrorContains(t, err, "pool.max_connections")
	require.ErrorContains(t, err, "name cannot be empty")
}

func TestValidate_SkillsDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		dir     string
		wantErr bool
	}{
		{dir: ""},
		{dir: SkillsDirAuto},
		{dir: "/opt/skills"},
		{dir: "skills", wantErr: true},
	}

	for _, tc := range tests {
		cfg := Default()
		cfg.SkillsDir = tc.dir

		err := cfg.Validate()
		if tc.wantErr {
			require.ErrorContains(t, err, "skills_dir must be absolute", tc.dir)
		} else {
			require.NoError(t, err, tc.dir)
		}
	}
}

func TestDefaultLoader_Missing(t *testing.T) {
	t.Parallel()

	_, err := (&DefaultLoader{}).Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.ErrorIs(t, err, ErrConfigLoadFailed)
	require.ErrorContains(t, err, "cannot be found")

	_, err = (&DefaultLoader{}).Load("  ")
	require.ErrorIs(t, err, ErrConfigLoadFailed)
	require.ErrorIs(t, err, errors.ErrConfig)
	require.Equal(t, errors.KindConfig, errors.KindOf(err))
}

func TestNewErrInvalidValue(t *testing.T) {
	t.Parallel()

	err := NewErrInvalidValue("pool.max_connections", 0)
	require.ErrorIs(t, err, ErrInvalidValue)
	require.Equal(t, errors.KindConfig, errors.KindOf(err))
	require.EqualError(t, err, "configuration error: invalid value: 'pool.max_connections' (value: '0')")
}

func TestDefaultLoader_InitThenLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".mcpshield.toml")
	l := &DefaultLoader{}

	require.NoError(t, l.Init(path))
	require.Error(t, l.Init(path))

	cfg, err := l.Load(path)
	require.NoError(t, err)
	require.Empty(t, cfg.Servers)
	require.True(t, cfg.Features.Sandbox)
}

func TestValidatingLoader(t *testing.T) {
	t.Parallel()

	path := writeFile(t, ".mcpshield.toml", "[server]\nhost = \"0.0.0.0\"\n")

	_, err := NewValidatingLoader(&DefaultLoader{}, RequireTLS).Load(path)
	require.ErrorContains(t, err, "TLS is required")

	_, err = NewValidatingLoader(&DefaultLoader{}, RequireServers).Load(path)
	require.ErrorContains(t, err, "no servers or skills configured")

	_, err = NewValidatingLoader(&DefaultLoader{}, nil).Load(path)
	require.NoError(t, err)
}

func TestDuration(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 0, want: "0s"},
		{in: 90 * time.Minute, want: "90m"},
		{in: time.Hour, want: "1h"},
		{in: 1500 * time.Millisecond, want: "1500ms"},
	}

	for _, tc := range tests {
		t.Run(tc.want, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Duration(tc.in).String())
		})
	}

	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`2.5`)))
	require.Equal(t, 2500*time.Millisecond, d.Std())
	require.NoError(t, d.UnmarshalJSON([]byte(`"1m"`)))
	require.Equal(t, time.Minute, d.Std())
}
