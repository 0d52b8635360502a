//go:build docsgen_api

package main

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"

	internalcmd "github.com/mozilla-ai/mcpshield/internal/cmd"
	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/daemon"
	"github.com/mozilla-ai/mcpshield/internal/perms"
)

// main writes the OpenAPI specification served by a daemon with the default configuration.
// No MCP server is started. It assumes it is run from the repository root.
func main() {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   internalcmd.AppName + ".docsgen.api",
		Level:  hclog.Info,
		Output: os.Stderr,
	})

	// Output path for the OpenAPI spec, relative to the repository root.
	outputPath := "./docs/api/openapi.yaml"

	cfg := config.Default()
	cfg.Features.AuditLogging = false

	deps, err := daemon.NewDependencies(logger, cfg.Addr(), cfg, nil)
	if err != nil {
		logger.Error("failed to configure daemon", "error", err)
		os.Exit(1)
	}

	d, err := daemon.NewDaemon(deps)
	if err != nil {
		logger.Error("failed to create daemon", "error", err)
		os.Exit(1)
	}

	handler, err := d.Handler()
	if err != nil {
		logger.Error("failed to build API handler", "error", err)
		os.Exit(1)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	if rec.Code != http.StatusOK {
		logger.Error("failed to fetch OpenAPI spec", "status", rec.Code)
		os.Exit(1)
	}
	yamlBytes := rec.Body.Bytes()

	docsDir := filepath.Dir(outputPath)
	if err := os.MkdirAll(docsDir, perms.RegularDir); err != nil {
		logger.Error("failed to create docs directory", "path", docsDir, "error", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outputPath, yamlBytes, perms.RegularFile); err != nil {
		logger.Error("failed to write OpenAPI spec", "path", outputPath, "error", err)
		os.Exit(1)
	}

	logger.Info("OpenAPI spec generated", "path", outputPath, "size", fmt.Sprintf("%d bytes", len(yamlBytes)))
}
