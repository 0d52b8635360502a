package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcpshield/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcpshield/internal/cmd/options"
	"github.com/mozilla-ai/mcpshield/internal/flags"
	"github.com/mozilla-ai/mcpshield/internal/sandbox"
)

func TestRoot_NewRootCmd(t *testing.T) {
	rootCmd, err := NewRootCmd(testBaseCmd())
	require.NoError(t, err)

	require.Equal(t, cmd.AppName, rootCmd.Name())
	require.Equal(t, cmd.Version(), rootCmd.Version)

	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	require.Subset(t, names, []string{"init", "daemon", "validate", "sandbox-check", "token", sandbox.InitCommandName})

	initCmd, _, err := rootCmd.Find([]string{sandbox.InitCommandName})
	require.NoError(t, err)
	require.True(t, initCmd.Hidden)
	require.True(t, initCmd.DisableFlagParsing)

	for _, name := range []string{
		flags.FlagNameConfigFile,
		flags.FlagNameLogPath,
		flags.FlagNameLogLevel,
		flags.FlagNameLogFormat,
	} {
		require.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}

func TestRoot_NewRootCmd_BadOption(t *testing.T) {
	_, err := NewRootCmd(testBaseCmd(), cmdopts.WithConfigLoader(nil))
	require.EqualError(t, err, "config loader cannot be nil")
}

func TestRoot_Help(t *testing.T) {
	rootCmd, err := NewRootCmd(testBaseCmd())
	require.NoError(t, err)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"--help"})
	require.NoError(t, rootCmd.Execute())

	help := out.String()
	require.Contains(t, help, "sandbox-check")
	require.NotContains(t, help, sandbox.InitCommandName)
}
