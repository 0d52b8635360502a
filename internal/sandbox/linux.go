//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sys/unix"

	"github.com/mozilla-ai/mcpshield/internal/errors"
)

// Linux isolates children with namespaces, Landlock, seccomp-bpf and cgroup v2.
//
// Namespaces are created by the kernel when the child is cloned. Landlock and seccomp must be applied from inside
// the child before it execs the server binary, so the proxy re-executes itself as an init helper (see RunInit)
// which applies them and then execs the target.
type Linux struct {
	logger      hclog.Logger
	constraints Constraints
	cgroupRoot  string
}

func newPlatformSandbox(logger hclog.Logger, c Constraints) (Sandbox, error) {
	return &Linux{
		logger:      logger.Named("linux"),
		constraints: c,
		cgroupRoot:  DefaultCgroupRoot,
	}, nil
}

// Constraints implements Sandbox.
func (l *Linux) Constraints() Constraints {
	return l.constraints
}

// Kind implements Sandbox.
func (l *Linux) Kind() string {
	return "linux"
}

// Spawn implements Sandbox.
func (l *Linux) Spawn(ctx context.Context, c Command) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	target, err := exec.LookPath(c.Path)
	if err != nil {
		return nil, errors.Wrap(errors.KindSandbox, err, "resolving command for %s", c.Name)
	}

	self, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(errors.KindSandbox, err, "locating proxy executable")
	}

	spec, err := encodeInitSpec(l.constraints)
	if err != nil {
		return nil, errors.Wrap(errors.KindSandbox, err, "preparing sandbox for %s", c.Name)
	}

	args := append([]string{InitCommandName, target}, c.Args...)
	cmd := exec.Command(self, args...)
	cmd.Env = append(BuildEnv(l.constraints.EnvInherit, c.Env), EnvVarInitSpec+"="+spec)
	cmd.Dir = c.Dir
	cmd.SysProcAttr = l.sysProcAttr()

	p, err := start(cmd)
	if err != nil {
		// Namespace creation happens at clone time so a failure here is fatal for the child.
		return nil, errors.Wrap(errors.KindSandbox, err, "creating namespaces for %s", c.Name)
	}

	l.logger.Debug("Spawned sandboxed process",
		"server", c.Name,
		"pid", p.Pid(),
		"network", l.constraints.Network,
		"filesystem", l.constraints.Filesystem.Mode,
	)

	cg, err := newCgroup(l.cgroupRoot, c.Name, l.constraints)
	if err != nil {
		l.logger.Warn("Resource limits not applied", "server", c.Name, "error", err)
		return p, nil
	}
	if err := cg.addProcess(p.Pid()); err != nil {
		l.logger.Warn("Resource limits not applied", "server", c.Name, "error", err)
		_ = cg.remove()
		return p, nil
	}
	p.addCleanup(cg.remove)

	return p, nil
}

// namespaceFlags returns the clone flags for the constraints.
func namespaceFlags(c Constraints) uintptr {
	flags := uintptr(unix.CLONE_NEWNS | unix.CLONE_NEWPID | unix.CLONE_NEWIPC | unix.CLONE_NEWUTS)
	if !c.Network {
		flags |= unix.CLONE_NEWNET
	}
	return flags
}

func (l *Linux) sysProcAttr() *syscall.SysProcAttr {
	attr := &syscall.SysProcAttr{
		Cloneflags: namespaceFlags(l.constraints),
		Pdeathsig:  syscall.SIGKILL,
	}

	// Unprivileged callers need a user namespace to be allowed to create the others.
	if uid := os.Geteuid(); uid != 0 {
		gid := os.Getegid()
		attr.Cloneflags |= unix.CLONE_NEWUSER
		attr.UidMappings = []syscall.SysProcIDMap{{ContainerID: uid, HostID: uid, Size: 1}}
		attr.GidMappings = []syscall.SysProcIDMap{{ContainerID: gid, HostID: gid, Size: 1}}
		attr.GidMappingsEnableSetgroups = false
	}

	return attr
}

// RunInit is the entry point of the init helper.
// args[0] is the absolute path of the server binary and args[1:] its arguments.
// On success RunInit does not return: the process image is replaced by the server.
func RunInit(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%s: missing target command", InitCommandName)
	}

	// Landlock and the seccomp fallback apply per-thread.
	runtime.LockOSThread()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:   InitCommandName,
		Output: os.Stderr,
		Level:  hclog.Info,
	})

	spec, err := decodeInitSpec(os.Getenv(EnvVarInitSpec))
	if err != nil {
		return err
	}
	if err := os.Unsetenv(EnvVarInitSpec); err != nil {
		return fmt.Errorf("clearing sandbox spec: %w", err)
	}

	if err := unix.Prctl(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		logger.Warn("Failed to set no_new_privs", "error", err)
	}

	target := args[0]

	if err := applyLandlock(spec.Constraints, target); err != nil {
		logger.Warn("Landlock not applied", "error", err)
	}

	if err := installSeccomp(spec.Constraints.Network); err != nil {
		logger.Warn("Seccomp filter not installed", "error", err)
	}

	return unix.Exec(target, args, os.Environ())
}
