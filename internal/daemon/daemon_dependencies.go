package daemon

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/server"
)

// Dependencies contains required dependencies for the Daemon.
// NewDependencies should be used to create instances of Dependencies.
type Dependencies struct {
	// APIAddr specifies the network address for the APIServer to bind (e.g., "127.0.0.1:3000").
	APIAddr string

	// Logger for daemon and subcomponent operations.
	Logger hclog.Logger

	// Config is the loaded and validated configuration.
	Config *config.Config

	// Connector opens transports to MCP servers.
	// When nil the daemon launches stdio servers in their sandbox and dials HTTP servers.
	Connector server.Connector
}

// NewDependencies creates and validates Dependencies.
func NewDependencies(
	logger hclog.Logger,
	apiAddr string,
	cfg *config.Config,
	connector server.Connector,
) (Dependencies, error) {
	deps := Dependencies{
		APIAddr:   apiAddr,
		Logger:    logger,
		Config:    cfg,
		Connector: connector,
	}

	if err := deps.Validate(); err != nil {
		return Dependencies{}, err
	}

	return deps, nil
}

// Validate ensures all required dependencies are provided and valid.
// A configuration without servers is valid: /mcp then answers that no servers are configured.
func (d Dependencies) Validate() error {
	if isNil(d.Logger) {
		return fmt.Errorf("logger cannot be nil")
	}

	if err := validateAddr(d.APIAddr); err != nil {
		return fmt.Errorf("invalid API address '%s': %w", d.APIAddr, err)
	}

	if d.Config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := d.Config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if d.Connector != nil && isNil(d.Connector) {
		return fmt.Errorf("connector cannot be a typed nil")
	}

	return nil
}
