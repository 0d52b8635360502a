//go:build darwin

package sandbox

import (
	"context"
	"os/exec"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/errors"
)

const sandboxExec = "/usr/bin/sandbox-exec"

// Seatbelt runs children under sandbox-exec with a generated profile.
type Seatbelt struct {
	logger      hclog.Logger
	constraints Constraints
	profile     string
}

func newPlatformSandbox(logger hclog.Logger, c Constraints) (Sandbox, error) {
	if _, err := exec.LookPath(sandboxExec); err != nil {
		logger.Warn("sandbox-exec not available, running servers without isolation")
		return NewNoop(c), nil
	}

	return &Seatbelt{
		logger:      logger.Named("seatbelt"),
		constraints: c,
		profile:     SeatbeltProfile(c),
	}, nil
}

// Constraints implements Sandbox.
func (s *Seatbelt) Constraints() Constraints {
	return s.constraints
}

// Kind implements Sandbox.
func (s *Seatbelt) Kind() string {
	return "seatbelt"
}

// Spawn implements Sandbox.
func (s *Seatbelt) Spawn(ctx context.Context, c Command) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, errors.Wrap(errors.KindSandbox, err, "resolving command for %s", c.Name)
	}

	args := append([]string{"-p", s.profile, target}, c.Args...)
	cmd := exec.Command(sandboxExec, args...)
	cmd.Env = BuildEnv(s.constraints.EnvInherit, c.Env)
	cmd.Dir = c.Dir

	p, err := start(cmd)
	if err != nil {
		return nil, errors.Wrap(errors.KindSandbox, err, "spawning sandboxed process for %s", c.Name)
	}

	s.logger.Debug("Spawned sandboxed process", "server", c.Name, "pid", p.Pid())

	return p, nil
}

// RunInit is only used on Linux.
func RunInit(_ []string) error {
	return errors.Sandbox("%s is only supported on linux", InitCommandName)
}

func detect() Report {
	_, err := exec.LookPath(sandboxExec)
	r := Report{Backend: "seatbelt", Seatbelt: err == nil}
	if err != nil {
		r.Backend = "none"
		r.Notes = append(r.Notes, "sandbox-exec not found")
	}
	r.Notes = append(r.Notes, "memory and CPU limits are not enforced on macOS")
	return r
}
