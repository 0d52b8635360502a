package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/mozilla-ai/mcpshield/internal/errors"
)

var errProcessDone = os.ErrProcessDone

// Noop runs commands without isolation.
// It is used when sandboxing is disabled, on unsupported platforms, and in tests.
type Noop struct {
	constraints Constraints
	inheritEnv  bool
}

// NewNoop returns a sandbox that runs commands directly, honoring the environment inheritance constraint.
func NewNoop(c Constraints) *Noop {
	return &Noop{constraints: c, inheritEnv: c.EnvInherit}
}

// Spawn implements Sandbox.
func (n *Noop) Spawn(ctx context.Context, c Command) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Env = BuildEnv(n.inheritEnv, c.Env)
	cmd.Dir = c.Dir

	p, err := start(cmd)
	if err != nil {
		return nil, errors.Wrap(errors.KindSandbox, err, "starting %s", c.Name)
	}

	return p, nil
}

// Constraints implements Sandbox.
func (n *Noop) Constraints() Constraints {
	return n.constraints
}

// Kind implements Sandbox.
func (n *Noop) Kind() string {
	return "none"
}

// String is used in logs.
func (n *Noop) String() string {
	return fmt.Sprintf("sandbox(%s)", n.Kind())
}
