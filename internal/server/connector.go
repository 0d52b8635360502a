// Package server supervises the MCP servers behind the proxy.
package server

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/sandbox"
	"github.com/mozilla-ai/mcpshield/internal/transport"
)

// Connector opens a new transport to a configured server.
type Connector interface {
	Connect(ctx context.Context, entry config.ServerEntry) (transport.Transport, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, entry config.ServerEntry) (transport.Transport, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context, entry config.ServerEntry) (transport.Transport, error) {
	return f(ctx, entry)
}

// DefaultConnector launches stdio servers in their sandbox and dials HTTP servers.
type DefaultConnector struct {
	logger         hclog.Logger
	sandboxEnabled bool
	opts           []transport.Option
}

// NewDefaultConnector returns a connector. When sandboxEnabled is false every stdio server runs unsandboxed,
// regardless of its own sandbox settings.
func NewDefaultConnector(logger hclog.Logger, sandboxEnabled bool, opts ...transport.Option) (*DefaultConnector, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	// Fail fast on invalid options.
	if _, err := transport.NewOptions(opts...); err != nil {
		return nil, err
	}

	return &DefaultConnector{
		logger:         logger,
		sandboxEnabled: sandboxEnabled,
		opts:           opts,
	}, nil
}

// Connect opens a transport to entry.
func (c *DefaultConnector) Connect(ctx context.Context, entry config.ServerEntry) (transport.Transport, error) {
	tt, err := transport.ParseType(entry.TransportType())
	if err != nil {
		return nil, errors.Wrap(errors.KindConfig, err, "server '%s'", entry.Name)
	}

	logger := c.logger.Named(entry.Name)

	opts := c.opts
	if entry.Transport != nil {
		for k, v := range entry.Transport.Headers {
			opts = append(opts[:len(opts):len(opts)], transport.WithHeader(k, v))
		}
	}

	o, err := transport.NewOptions(opts...)
	if err != nil {
		return nil, errors.Wrap(errors.KindConfig, err, "server '%s'", entry.Name)
	}

	switch tt {
	case transport.TypeStreamable:
		t, err := transport.NewStreamable(ctx, logger, entry.Transport.URL, o)
		return orNil(t, err)
	case transport.TypeSSE:
		t, err := transport.NewSSE(ctx, logger, entry.Transport.URL, o)
		return orNil(t, err)
	case transport.TypeWebSocket:
		t, err := transport.NewWebSocket(ctx, logger, entry.Transport.URL, o)
		return orNil(t, err)
	}

	sb, err := sandbox.New(logger, c.sandboxEnabled && entry.SandboxEnabled(), entry.Constraints())
	if err != nil {
		return nil, errors.Wrap(errors.KindSandbox, err, "server '%s'", entry.Name)
	}

	cmd := sandbox.Command{
		Name: entry.Name,
		Path: entry.Command,
		Args: entry.Args,
		Env:  entry.Env,
		Dir:  entry.Dir,
	}

	t, err := transport.NewStdio(ctx, logger, sb, cmd, o)
	return orNil(t, err)
}

// orNil keeps a failed constructor's typed nil pointer out of the interface.
func orNil[T transport.Transport](t T, err error) (transport.Transport, error) {
	if err != nil {
		return nil, err
	}
	return t, nil
}
