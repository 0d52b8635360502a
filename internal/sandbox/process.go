package sandbox

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"time"
)

// Process is a running child with its stdio pipes.
type Process struct {
	cmd *exec.Cmd

	// Stdin writes to the child's standard input.
	Stdin io.WriteCloser

	// Stdout reads the child's standard output.
	Stdout io.ReadCloser

	// Stderr reads the child's standard error.
	Stderr io.ReadCloser

	mu       sync.Mutex
	cleanups []func() error

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}
}

// start attaches pipes to cmd and starts it.
func start(cmd *exec.Cmd) (*Process, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &Process{
		cmd:    cmd,
		Stdin:  stdin,
		Stdout: stdout,
		Stderr: stderr,
		done:   make(chan struct{}),
	}, nil
}

// Pid returns the OS process id.
func (p *Process) Pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// addCleanup registers a function run once the process has exited.
func (p *Process) addCleanup(fn func() error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cleanups = append(p.cleanups, fn)
}

// Wait waits for the process to exit and releases sandbox resources attached to it.
// It is safe to call Wait more than once; every call returns the same result.
// Wait must not be called before reads from Stdout and Stderr have finished.
func (p *Process) Wait() error {
	p.waitOnce.Do(func() {
		err := p.cmd.Wait()

		p.mu.Lock()
		cleanups := p.cleanups
		p.cleanups = nil
		p.mu.Unlock()

		errs := []error{err}
		for _, fn := range cleanups {
			errs = append(errs, fn())
		}
		p.waitErr = errors.Join(errs...)
		close(p.done)
	})

	return p.waitErr
}

// Done is closed when Wait has completed.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Kill forcibly terminates the process.
func (p *Process) Kill() error {
	if p.cmd.Process == nil {
		return nil
	}
	err := p.cmd.Process.Kill()
	if err != nil && !errors.Is(err, errProcessDone) {
		return err
	}
	return nil
}

// Stop closes stdin, kills the process and waits up to timeout for it to be reaped.
func (p *Process) Stop(timeout time.Duration) error {
	_ = p.Stdin.Close()

	if err := p.Kill(); err != nil {
		return fmt.Errorf("killing process %d: %w", p.Pid(), err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("process %d did not exit within %s", p.Pid(), timeout)
	}
}
