package options

import (
	"fmt"

	"github.com/mozilla-ai/mcpshield/internal/config"
	"github.com/mozilla-ai/mcpshield/internal/server"
)

type CmdOption func(*CmdOptions) error

// CmdOptions holds the collaborators shared by commands.
// Tests replace them to avoid touching disk or spawning MCP servers.
type CmdOptions struct {
	ConfigLoader      config.Loader
	ConfigInitializer config.Initializer

	// Connector starts MCP servers for the daemon. When nil the daemon builds its own.
	Connector server.Connector
}

func defaultOptions() CmdOptions {
	configLoader := &config.DefaultLoader{}
	return CmdOptions{
		ConfigLoader:      configLoader,
		ConfigInitializer: configLoader,
	}
}

func NewOptions(opt ...CmdOption) (CmdOptions, error) {
	opts := defaultOptions()

	for _, o := range opt {
		if o == nil {
			continue
		}
		if err := o(&opts); err != nil {
			return CmdOptions{}, err
		}
	}
	return opts, nil
}

func WithConfigLoader(l config.Loader) CmdOption {
	return func(o *CmdOptions) error {
		if l == nil {
			return fmt.Errorf("config loader cannot be nil")
		}
		o.ConfigLoader = l
		return nil
	}
}

func WithConfigInitializer(i config.Initializer) CmdOption {
	return func(o *CmdOptions) error {
		if i == nil {
			return fmt.Errorf("config initializer cannot be nil")
		}
		o.ConfigInitializer = i
		return nil
	}
}

func WithConnector(c server.Connector) CmdOption {
	return func(o *CmdOptions) error {
		o.Connector = c
		return nil
	}
}
