package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mozilla-ai/mcpshield/internal/cmd"
	cmdopts "github.com/mozilla-ai/mcpshield/internal/cmd/options"
	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/daemon"
	"github.com/mozilla-ai/mcpshield/internal/flags"
	"github.com/mozilla-ai/mcpshield/internal/routing"
	"github.com/mozilla-ai/mcpshield/internal/server"
)

const (
	flagAddr              = "addr"
	flagDev               = "dev"
	flagTimeoutMCPInit    = "timeout-mcp-init"
	flagTimeoutMCPHealth  = "timeout-mcp-health"
	flagIntervalMCPHealth = "interval-mcp-health"
	flagRoutingStrategy   = "routing-strategy"

	devAddr = "localhost:3000"
)

// DaemonCmd should be used to represent the 'daemon' command.
type DaemonCmd struct {
	*cmd.BaseCmd
	Dev       bool
	Addr      string
	cfgLoader config.Loader
	connector server.Connector

	initTimeout         time.Duration
	healthCheckTimeout  time.Duration
	healthCheckInterval time.Duration
	routingStrategy     string
}

// NewDaemonCmd creates a newly configured (Cobra) command.
func NewDaemonCmd(baseCmd *cmd.BaseCmd, opt ...cmdopts.CmdOption) (*cobra.Command, error) {
	opts, err := cmdopts.NewOptions(opt...)
	if err != nil {
		return nil, err
	}

	c := &DaemonCmd{
		BaseCmd:   baseCmd,
		cfgLoader: opts.ConfigLoader,
		connector: opts.Connector,
	}

	cobraCommand := &cobra.Command{
		Use:   "daemon [--dev] [--addr]",
		Short: "Runs the " + cmd.AppName + " proxy",
		Long: "Runs the " + cmd.AppName + " proxy, which starts the configured MCP servers and serves " +
			"the MCP endpoints and the management API over HTTP until interrupted",
		Args: cobra.NoArgs,
		RunE: c.run,
	}

	cobraCommand.Flags().BoolVar(
		&c.Dev,
		flagDev,
		false,
		"Run the daemon in development-focused mode on "+devAddr,
	)

	cobraCommand.Flags().StringVar(
		&c.Addr,
		flagAddr,
		"",
		"Address for the daemon to bind (defaults to the [server] host and port from the config file)",
	)

	cobraCommand.Flags().DurationVar(
		&c.initTimeout,
		flagTimeoutMCPInit,
		daemon.DefaultServerInitTimeout(),
		"Maximum time to wait for an MCP server to start and initialize",
	)

	cobraCommand.Flags().DurationVar(
		&c.healthCheckTimeout,
		flagTimeoutMCPHealth,
		daemon.DefaultHealthCheckTimeout(),
		"Maximum time to wait for an MCP server to answer a health check ping",
	)

	cobraCommand.Flags().DurationVar(
		&c.healthCheckInterval,
		flagIntervalMCPHealth,
		daemon.DefaultHealthCheckInterval(),
		"Interval between MCP server health checks",
	)

	cobraCommand.Flags().StringVar(
		&c.routingStrategy,
		flagRoutingStrategy,
		string(routing.Capability),
		fmt.Sprintf("Strategy used to route requests sent to /mcp (%s)", strings.Join(routingStrategies(), ", ")),
	)

	cobraCommand.MarkFlagsMutuallyExclusive(flagDev, flagAddr)

	return cobraCommand, nil
}

func routingStrategies() []string {
	return []string{
		string(routing.Capability),
		string(routing.FirstAvailable),
		string(routing.MethodPrefix),
		string(routing.RoundRobin),
		string(routing.Direct),
	}
}

// daemonOptions converts the command line flags into daemon options.
func (c *DaemonCmd) daemonOptions() []daemon.Option {
	return []daemon.Option{
		daemon.WithMCPServerInitTimeout(c.initTimeout),
		daemon.WithMCPServerHealthCheckTimeout(c.healthCheckTimeout),
		daemon.WithMCPServerHealthCheckInterval(c.healthCheckInterval),
		daemon.WithRoutingStrategy(routing.Strategy(c.routingStrategy)),
	}
}

// resolveAddr picks the bind address: --dev, then --addr, then the config file.
func (c *DaemonCmd) resolveAddr(cfg *config.Config) string {
	switch {
	case c.Dev:
		return devAddr
	case strings.TrimSpace(c.Addr) != "":
		return strings.TrimSpace(c.Addr)
	default:
		return cfg.Addr()
	}
}

// run is configured (via NewDaemonCmd) to be called by the Cobra framework when the command is executed.
// It may return an error (or nil, when there is no error).
func (c *DaemonCmd) run(cmd *cobra.Command, _ []string) error {
	logger, err := c.Logger()
	if err != nil {
		return err
	}

	cfg, err := c.cfgLoader.Load(flags.ConfigFile)
	if err != nil {
		return err
	}

	addr := c.resolveAddr(cfg)
	if c.Dev {
		logger.Info("Development-focused mode", "addr", addr)
	}

	deps, err := daemon.NewDependencies(logger, addr, cfg, c.connector)
	if err != nil {
		return fmt.Errorf("error configuring daemon dependencies: %w", err)
	}

	d, err := daemon.NewDaemon(deps, c.daemonOptions()...)
	if err != nil {
		return fmt.Errorf("failed to create daemon instance: %w", err)
	}

	// Create the signal handling context for the application.
	daemonCtx, daemonCtxCancel := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM, syscall.SIGINT,
	)
	defer daemonCtxCancel()

	runErr := make(chan error, 1)
	go func() {
		if err := d.StartAndManage(daemonCtx); err != nil && !errors.Is(err, context.Canceled) {
			runErr <- err
		}
		close(runErr)
	}()

	if c.Dev {
		banner := fmt.Sprintf("%s daemon running in 'dev' mode.\n\n"+
			"  MCP endpoint:\thttp://%s/mcp\n"+
			"  Local API:\thttp://%s/api/v1\n"+
			"  OpenAPI UI:\thttp://%s/docs\n"+
			"  Config file:\t%s\n",
			cmd.Root().Name(), addr, addr, addr, flags.ConfigFile)

		if flags.LogPath != "" {
			banner += fmt.Sprintf("  Log file:\t%s => (%s)\n", flags.LogPath, flags.LogLevel)
		}

		banner += "\nPress Ctrl+C to stop.\n\n"
		_, _ = fmt.Fprint(cmd.OutOrStdout(), banner)
	}

	select {
	case <-daemonCtx.Done():
		logger.Info("Shutting down daemon")
		err := <-runErr // Wait for cleanup and deferred logging.
		return err      // Graceful Ctrl+C / SIGTERM.
	case err := <-runErr:
		if err != nil {
			logger.Error("daemon exited with error", "error", err)
		}
		return err // Propagate daemon failure.
	}
}
