package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/sandbox"
)

// Stdio speaks newline-delimited JSON-RPC over a sandboxed child's standard streams.
type Stdio struct {
	logger hclog.Logger
	opts   Options
	proc   *sandbox.Process

	writeMu sync.Mutex
	stdin   io.WriteCloser

	pending   *pending
	connected atomic.Bool
	closeOnce sync.Once
	readDone  chan struct{}
	info      *mcp.InitializeResult
}

// NewStdio launches cmd inside sb, then performs the initialize handshake.
func NewStdio(
	ctx context.Context,
	logger hclog.Logger,
	sb sandbox.Sandbox,
	cmd sandbox.Command,
	opts Options,
) (*Stdio, error) {
	proc, err := sb.Spawn(ctx, cmd)
	if err != nil {
		return nil, err
	}

	logger = logger.Named("stdio").With("server", cmd.Name, "pid", proc.Pid())
	logger.Info("Started MCP server process", "command", cmd.Path)

	t := newStdio(logger, proc, proc.Stdin, proc.Stdout, proc.Stderr, opts)

	info, err := handshake(ctx, t, opts)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	t.info = info

	logger.Info("Initialized MCP server", "name", info.ServerInfo.Name, "version", info.ServerInfo.Version)

	return t, nil
}

// newStdio wires the pipes and starts the reader goroutines. proc may be nil when the pipes are not backed by a process.
func newStdio(
	logger hclog.Logger,
	proc *sandbox.Process,
	stdin io.WriteCloser,
	stdout io.Reader,
	stderr io.Reader,
	opts Options,
) *Stdio {
	t := &Stdio{
		logger:   logger,
		opts:     opts,
		proc:     proc,
		stdin:    stdin,
		pending:  newPending(),
		readDone: make(chan struct{}),
	}
	t.connected.Store(true)

	go t.readLoop(stdout)
	if stderr != nil {
		go t.stderrLoop(stderr)
	}

	return t
}

// ServerInfo returns the result of the initialize handshake.
func (t *Stdio) ServerInfo() *mcp.InitializeResult {
	return t.info
}

// Pid returns the child's process id, or 0 when there is no process.
func (t *Stdio) Pid() int {
	if t.proc == nil {
		return 0
	}
	return t.proc.Pid()
}

// SendRequest writes req and waits for the matching response.
func (t *Stdio) SendRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if !t.IsConnected() {
		return nil, errors.Transport("process not connected")
	}

	req = normalize(withID(req, t.opts.IDs))

	ch, err := t.pending.register(*req.ID)
	if err != nil {
		return nil, err
	}

	if err := t.write(req); err != nil {
		t.pending.cancel(*req.ID)
		return nil, err
	}

	return t.pending.await(ctx, *req.ID, ch, t.opts.RequestTimeout)
}

// SendNotification writes req without waiting.
func (t *Stdio) SendNotification(_ context.Context, req *jsonrpc.Request) error {
	if !t.IsConnected() {
		return errors.Transport("process not connected")
	}

	n := normalize(req)
	if n.ID != nil {
		n = n.Clone()
		n.ID = nil
	}

	return t.write(n)
}

// IsConnected reports whether the child's stdout is still open.
func (t *Stdio) IsConnected() bool {
	return t.connected.Load()
}

// Close closes stdin and stops the child, waiting up to the close timeout.
func (t *Stdio) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		t.pending.failAll(errors.Transport("transport closed"))

		if t.proc != nil {
			err = t.proc.Stop(t.opts.CloseTimeout)
			return
		}
		err = t.stdin.Close()
	})

	return err
}

func (t *Stdio) write(req *jsonrpc.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(errors.KindSerialization, err, "encoding request")
	}
	data = append(data, '\n')

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if _, err := t.stdin.Write(data); err != nil {
		return errors.Wrap(errors.KindTransport, err, "writing to stdin")
	}

	return nil
}

func (t *Stdio) readLoop(stdout io.Reader) {
	defer close(t.readDone)

	r := bufio.NewReader(stdout)
	for {
		line, err := r.ReadBytes('\n')
		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			if handled, perr := t.pending.dispatchLine([]byte(trimmed)); perr != nil {
				t.logger.Warn("Ignoring unparseable output", "line", trimmed, "error", perr)
			} else if !handled {
				t.logger.Trace("Ignoring unsolicited message", "line", trimmed)
			}
		}
		if err != nil {
			if err != io.EOF {
				t.logger.Warn("Reading stdout failed", "error", err)
			}
			break
		}
	}

	t.connected.Store(false)
	t.pending.failAll(errors.Transport("process exited"))

	if t.proc != nil {
		if err := t.proc.Wait(); err != nil {
			t.logger.Debug("Process exited", "error", err)
		}
	}
}

func (t *Stdio) stderrLoop(stderr io.Reader) {
	r := bufio.NewReader(stderr)
	for {
		line, err := r.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			t.logger.Log(stderrLevel(line), "stderr", "line", line)
		}
		if err != nil {
			return
		}
	}
}

// stderrLevel infers a log level from the conventional markers servers print.
func stderrLevel(line string) hclog.Level {
	upper := strings.ToUpper(line)
	switch {
	case strings.Contains(upper, "ERROR"), strings.Contains(upper, "FATAL"), strings.Contains(upper, "PANIC"):
		return hclog.Error
	case strings.Contains(upper, "WARN"):
		return hclog.Warn
	case strings.Contains(upper, "DEBUG"):
		return hclog.Debug
	case strings.Contains(upper, "TRACE"):
		return hclog.Trace
	default:
		return hclog.Info
	}
}
