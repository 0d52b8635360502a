//go:build !linux && !darwin && !windows

package sandbox

import (
	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/errors"
)

func newPlatformSandbox(logger hclog.Logger, c Constraints) (Sandbox, error) {
	logger.Warn("Sandboxing is not implemented for this platform, running servers without isolation")
	return NewNoop(c), nil
}

// RunInit is only used on Linux.
func RunInit(_ []string) error {
	return errors.Sandbox("%s is only supported on linux", InitCommandName)
}

func detect() Report {
	return Report{Backend: "none", Notes: []string{"no sandbox backend for this platform"}}
}
