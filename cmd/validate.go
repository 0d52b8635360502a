package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/mcpshield/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcpshield/internal/cmd/options"
	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/flags"
)

// ValidateCmd loads the configuration file and reports every problem found.
type ValidateCmd struct {
	*cmd.BaseCmd
	cfgLoader config.Loader
	strict    bool
}

func NewValidateCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &ValidateCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
	}

	cobraCommand := &cobra.Command{
		Use:   "validate [--strict]",
		Short: "Validates the configuration file",
		Long: fmt.Sprintf(
			"Loads the configuration file (default %s, or --%s) and reports every validation problem at once.\n\n"+
				"With --strict the file must also configure at least one server or skill, "+
				"and must enable TLS when the listener is not bound to loopback.",
			flags.DefaultConfigFile,
			flags.FlagNameConfigFile,
		),
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	cobraCommand.Flags().BoolVar(&c.strict, "strict", false, "Apply the production readiness checks")

	return cobraCommand, nil
}

func (c *ValidateCmd) run(cmd *cobra.Command, _ []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	loader := c.cfgLoader
	if c.strict {
		loader = config.NewValidatingLoader(loader, config.RequireServers, config.RequireTLS)
	}

	cfg, err := loader.Load(flags.ConfigFile)
	if err != nil {
		logger.Debug("Config validation failed", "path", flags.ConfigFile, "error", err)
		return err
	}

	_, err = fmt.Fprintf(
		cmd.OutOrStdout(),
		"✅ Config is valid: %s (%d servers, %d presets, %d skills)\n",
		flags.ConfigFile,
		len(cfg.Servers),
		len(cfg.Presets),
		len(cfg.Skills),
	)
	return err
}
