package cmd

import (
	"github.com/spf13/cobra"

	"github.com/mozilla-ai/mcpshield/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcpshield/internal/cmd/options"
	"github.com/mozilla-ai/mcpshield/internal/sandbox"
)

// NewSandboxInitCmd returns the hidden command the proxy re-executes itself with
// to confine an MCP server before exec'ing it. Arguments are passed through untouched.
func NewSandboxInitCmd(_ *cmd.BaseCmd, _ ...cmdopts.CmdOption) (*cobra.Command, error) {
	return &cobra.Command{
		Use:                sandbox.InitCommandName + " <target> [args...]",
		Hidden:             true,
		DisableFlagParsing: true,
		SilenceUsage:       true,
		RunE: func(_ *cobra.Command, args []string) error {
			return sandbox.RunInit(args)
		},
	}, nil
}
