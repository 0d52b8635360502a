//go:build docsgen_cli

package main

import (
	"os"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra/doc"

	"github.com/mozilla-ai/mcpshield/cmd"
	internalcmd "github.com/mozilla-ai/mcpshield/internal/cmd"
	"github.com/mozilla-ai/mcpshield/internal/perms"
)

// main assumes it is run from the repository root.
func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   internalcmd.AppName + ".docsgen",
		Level:  hclog.Info,
		Output: os.Stderr,
	})

	// docsPath is the path to the commands documentation, relative to the repository root.
	docsPath := "./docs/commands/"

	base := &internalcmd.BaseCmd{}
	base.SetLogger(logger)

	rootCmd, err := cmd.NewRootCmd(base)
	if err != nil {
		logger.Error("failed to create root command for docs generation", "error", err)
		os.Exit(1)
	}
	rootCmd.DisableAutoGenTag = true

	if err = os.RemoveAll(docsPath); err != nil {
		logger.Error("failed to clear docs directory", "path", docsPath, "error", err)
		os.Exit(1)
	}

	if err = os.MkdirAll(docsPath, perms.RegularDir); err != nil {
		logger.Error("failed to create docs directory", "path", docsPath, "error", err)
		os.Exit(1)
	}

	if err = doc.GenMarkdownTree(rootCmd, docsPath); err != nil {
		logger.Error("failed to generate CLI docs", "error", err)
		os.Exit(1)
	}

	logger.Info("CLI docs generated", "path", docsPath)
}
