package cmd

import (
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/mozilla-ai/mcpshield/internal/flags"
	"github.com/mozilla-ai/mcpshield/internal/perms"
)

// version is set at build time using -ldflags "-X github.com/mozilla-ai/mcpshield/internal/cmd.version=...".
var version = "dev"

// Version returns the build version of mcpshield.
func Version() string {
	return version
}

// AppName is the name used for the root logger and the MCP client info.
const AppName = "mcpshield"

type BaseCmd struct {
	logger hclog.Logger
}

// SetLogger updates the command's logger.
func (c *BaseCmd) SetLogger(logger hclog.Logger) {
	c.logger = logger
}

// Logger returns the logger for the command, building it from the global flags on first use.
// Logs go to the --log-path file when set, otherwise to stderr.
func (c *BaseCmd) Logger() (hclog.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}

	var output io.Writer = os.Stderr
	if logPath := strings.TrimSpace(flags.LogPath); logPath != "" {
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, perms.RegularFile)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file (%s): %w", logPath, err)
		}
		output = f
	}

	c.logger = hclog.New(&hclog.LoggerOptions{
		Name:       AppName,
		Level:      LogLevel(flags.LogLevel),
		Output:     output,
		JSONFormat: strings.EqualFold(flags.LogFormat, "json"),
	})

	return c.logger, nil
}

// LogLevel parses level, falling back to info for unknown values.
func LogLevel(level string) hclog.Level {
	switch l := strings.ToLower(strings.TrimSpace(level)); l {
	case "trace", "debug", "info", "warn", "error", "off":
		return hclog.LevelFromString(l)
	default:
		return hclog.Info
	}
}

// RequireTogether returns an error when some, but not all, of the named flags were set.
func (c *BaseCmd) RequireTogether(cmd *cobra.Command, flagNames ...string) error {
	var set int
	for _, name := range flagNames {
		if cmd.Flags().Changed(name) {
			set++
		}
	}

	if set == 0 || set == len(flagNames) {
		return nil
	}

	names := slices.Clone(flagNames)
	slices.Sort(names)

	return fmt.Errorf("flags must be provided together or not at all (%s)", strings.Join(names, ", "))
}
