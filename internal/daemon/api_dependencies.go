package daemon

import (
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/api"
	"github.com/mozilla-ai/mcpshield/internal/audit"
	"github.com/mozilla-ai/mcpshield/internal/auth"
	"github.com/mozilla-ai/mcpshield/internal/contracts"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
)

// APIDependencies contains the required external dependencies for the API server.
// NewAPIDependencies should be used to create instances of APIDependencies.
type APIDependencies struct {
	// Addr specifies the network address to bind (e.g., "127.0.0.1:3000").
	Addr string

	// Gateway serves JSON-RPC on /mcp.
	Gateway contracts.MCPGateway

	// Handlers back the REST API.
	Handlers api.Handlers

	// Authenticator resolves bearer tokens to sessions.
	Authenticator *auth.Authenticator

	// Audit receives authentication and rate limit events.
	Audit audit.Sink

	// Metrics counts authentication failures and rate limit hits.
	Metrics metrics.Recorder

	// Logger for API server operations.
	Logger hclog.Logger
}

// NewAPIDependencies creates and validates APIDependencies.
func NewAPIDependencies(
	logger hclog.Logger,
	addr string,
	gateway contracts.MCPGateway,
	handlers api.Handlers,
	authenticator *auth.Authenticator,
	sink audit.Sink,
	recorder metrics.Recorder,
) (APIDependencies, error) {
	deps := APIDependencies{
		Addr:          addr,
		Gateway:       gateway,
		Handlers:      handlers,
		Authenticator: authenticator,
		Audit:         sink,
		Metrics:       recorder,
		Logger:        logger,
	}

	if err := deps.Validate(); err != nil {
		return APIDependencies{}, err
	}

	return deps, nil
}

// Validate ensures all required dependencies are provided and valid.
func (d APIDependencies) Validate() error {
	if err := validateAddr(d.Addr); err != nil {
		return fmt.Errorf("invalid API address '%s': %w", d.Addr, err)
	}
	if isNil(d.Gateway) {
		return fmt.Errorf("gateway cannot be nil")
	}
	if err := d.Handlers.Validate(); err != nil {
		return err
	}
	if d.Authenticator == nil {
		return fmt.Errorf("authenticator cannot be nil")
	}
	if isNil(d.Audit) {
		return fmt.Errorf("audit sink cannot be nil")
	}
	if isNil(d.Metrics) {
		return fmt.Errorf("metrics recorder cannot be nil")
	}
	if isNil(d.Logger) {
		return fmt.Errorf("logger cannot be nil")
	}
	return nil
}
