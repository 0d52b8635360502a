package flags

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestConfig_InitConfigFile_EnvVars(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected string
	}{
		{
			name:     "env var value with extra white space",
			value:    "  /custom/path/config.toml  ",
			expected: "/custom/path/config.toml",
		},
		{
			name:     "env var missing",
			value:    "",
			expected: DefaultConfigFile,
		},
		{
			name:     "env var only white space",
			value:    "   ",
			expected: DefaultConfigFile,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(EnvVarConfigFile, tc.value)
			t.Cleanup(func() { ConfigFile = "" })

			fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
			initConfigFile(fs)

			require.Equal(t, tc.expected, ConfigFile)
			flag := fs.Lookup(FlagNameConfigFile)
			require.NotNil(t, flag)
			require.Equal(t, tc.expected, flag.Value.String())
		})
	}
}

func TestConfig_InitLogger_EnvVars(t *testing.T) {
	t.Setenv(EnvVarLogLevel, "DEBUG")
	t.Setenv(EnvVarLogPath, "/tmp/mcpshield.log")
	t.Setenv(EnvVarLogFormat, "")
	t.Cleanup(func() {
		LogLevel = ""
		LogPath = ""
		LogFormat = ""
	})

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	initLogger(fs)

	require.Equal(t, "debug", LogLevel)
	require.Equal(t, "/tmp/mcpshield.log", LogPath)
	require.Equal(t, DefaultLogFormat, LogFormat)

	require.NoError(t, fs.Parse([]string{"--" + FlagNameLogLevel, "warn"}))
	require.Equal(t, "warn", LogLevel)
}
