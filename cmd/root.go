package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/mcpshield/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcpshield/internal/cmd/options"
	"github.com/mozilla-ai/mcpshield/internal/flags"
)

type RootCmd struct {
	*cmd.BaseCmd
}

// Execute runs the root command against os.Args.
func Execute() error {
	rootCmd, err := NewRootCmd(&cmd.BaseCmd{})
	if err != nil {
		return fmt.Errorf("error creating root command: %w", err)
	}

	return rootCmd.Execute()
}

// NewRootCmd builds the root command and every subcommand, sharing baseCmd and opt between them.
func NewRootCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	c := &RootCmd{
		BaseCmd: baseCmd,
	}

	rootCmd := &cobra.Command{
		Use:          cmd.AppName + " <command> [args]",
		Short:        "Security-hardened reverse proxy for MCP servers",
		Long:         c.longDescription(),
		SilenceUsage: true,
		Version:      cmd.Version(),
	}

	// Global flags
	flags.InitFlags(rootCmd.PersistentFlags())

	fns := []func(*cmd.BaseCmd, ...cmdopts.CmdOption) (*cobra.Command, error){
		NewInitCmd,
		NewDaemonCmd,
		NewValidateCmd,
		NewSandboxCheckCmd,
		NewTokenCmd,
		NewSandboxInitCmd,
	}

	for _, fn := range fns {
		sub, err := fn(baseCmd, opt...)
		if err != nil {
			return nil, err
		}
		rootCmd.AddCommand(sub)
	}

	return rootCmd, nil
}

func (c *RootCmd) longDescription() string {
	return fmt.Sprintf(`%s sits between MCP clients and MCP servers.

It starts the configured servers (sandboxed where the host allows it), routes JSON-RPC
traffic to them, and enforces authentication, scopes, rate limits and secret scanning
while writing an audit trail.

Configuration is read from %s, or the file named by --%s / %s.`,
		cmd.AppName,
		flags.DefaultConfigFile,
		flags.FlagNameConfigFile,
		flags.EnvVarConfigFile,
	)
}

