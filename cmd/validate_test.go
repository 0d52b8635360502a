package cmd

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	cmdopts "github.com/mozilla-ai/mcpshield/internal/cmd/options"
	"github.com/mozilla-ai/mcpshield/internal/config"
)

func TestValidateCmd(t *testing.T) {
	tests := []struct {
		name    string
		loader  *fakeLoader
		args    []string
		wantOut string
		wantErr string
	}{
		{
			name: "valid config",
			loader: &fakeLoader{cfg: func() *config.Config {
				cfg := config.Default()
				cfg.Servers = []config.ServerEntry{{Name: "fs", Command: "npx"}}
				return cfg
			}()},
			wantOut: "✅ Config is valid: /etc/mcpshield.toml (1 servers, 0 presets, 0 skills)\n",
		},
		{
			name:    "strict without servers",
			loader:  &fakeLoader{cfg: config.Default()},
			args:    []string{"--strict"},
			wantErr: "no servers or skills configured",
		},
		{
			name: "strict public listener without TLS",
			loader: &fakeLoader{cfg: func() *config.Config {
				cfg := config.Default()
				cfg.Server.Host = "0.0.0.0"
				cfg.Servers = []config.ServerEntry{{Name: "fs", Command: "npx"}}
				return cfg
			}()},
			args:    []string{"--strict"},
			wantErr: "TLS is required when binding to 0.0.0.0",
		},
		{
			name:    "invalid config",
			loader:  &fakeLoader{err: errors.New("servers[0]: name cannot be empty")},
			wantErr: "servers[0]: name cannot be empty",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			setConfigFile(t, "/etc/mcpshield.toml")

			c, err := NewValidateCmd(testBaseCmd(), cmdopts.WithConfigLoader(tc.loader))
			require.NoError(t, err)

			var out bytes.Buffer
			c.SetOut(&out)
			c.SetErr(&bytes.Buffer{})
			c.SetArgs(tc.args)

			err = c.Execute()
			require.Equal(t, "/etc/mcpshield.toml", tc.loader.path)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantOut, out.String())
		})
	}
}
