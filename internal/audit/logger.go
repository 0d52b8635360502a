package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/files"
	"github.com/mozilla-ai/mcpshield/internal/perms"
)

// Sink receives audit events.
type Sink interface {
	Log(e Event)
}

// Logger appends events to a size-rotated file.
//
// Events passed to Log are queued and written by a single writer goroutine, so callers never block on disk I/O
// unless the queue is full. Flush waits until every event queued before it has been written.
type Logger struct {
	logger hclog.Logger
	opts   Options

	queue chan request
	done  chan struct{}

	// sendMu guards closed against concurrent sends on queue.
	sendMu sync.RWMutex
	closed bool

	// mu guards file and size; only the writer goroutine and Close touch them.
	mu   sync.Mutex
	file *os.File
	size int64
}

type request struct {
	event Event
	flush chan struct{}
}

// NewLogger opens (or creates) the audit file, creating parent directories, and starts the writer.
func NewLogger(logger hclog.Logger, opts ...Option) (*Logger, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	o, err := NewOptions(opts...)
	if err != nil {
		return nil, err
	}

	// A group or world writable directory would let others replace the log.
	if err := files.EnsureAtLeastRegularDir(filepath.Dir(o.Path)); err != nil {
		return nil, fmt.Errorf("preparing audit log directory: %w", err)
	}

	f, size, err := openAppend(o.Path)
	if err != nil {
		return nil, err
	}

	l := &Logger{
		logger: logger.Named("audit"),
		opts:   o,
		queue:  make(chan request, o.QueueSize),
		done:   make(chan struct{}),
		file:   f,
		size:   size,
	}

	go l.run()
	l.logger.Info("Audit logger initialized", "path", o.Path)

	return l, nil
}

func openAppend(path string) (*os.File, int64, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, perms.AuditFile)
	if err != nil {
		return nil, 0, fmt.Errorf("opening audit log: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("stat audit log: %w", err)
	}

	return f, info.Size(), nil
}

// Path returns the current audit file.
func (l *Logger) Path() string {
	return l.opts.Path
}

// Log queues e for writing. Events logged after Close are dropped.
func (l *Logger) Log(e Event) {
	l.sendMu.RLock()
	defer l.sendMu.RUnlock()

	if l.closed {
		return
	}
	l.queue <- request{event: e}
}

// Flush blocks until every event queued before the call has been written, or ctx is done.
func (l *Logger) Flush(ctx context.Context) error {
	ack := make(chan struct{})

	l.sendMu.RLock()
	if l.closed {
		l.sendMu.RUnlock()
		return nil
	}
	select {
	case l.queue <- request{flush: ack}:
		l.sendMu.RUnlock()
	case <-ctx.Done():
		l.sendMu.RUnlock()
		return ctx.Err()
	}

	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue, writes the remaining events and closes the file.
func (l *Logger) Close() error {
	l.sendMu.Lock()
	if l.closed {
		l.sendMu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.sendMu.Unlock()

	<-l.done

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *Logger) run() {
	defer close(l.done)

	for req := range l.queue {
		if req.flush != nil {
			close(req.flush)
			continue
		}
		if err := l.write(req.event); err != nil {
			l.logger.Error("Failed to write audit event", "event_type", req.event.Type, "error", err)
		}
	}
}

// write renders and appends one event, rotating first when the line would overflow the size limit.
func (l *Logger) write(e Event) error {
	line, err := l.render(e)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.size > 0 && l.size+int64(len(line)) > l.opts.MaxSizeBytes() {
		if err := l.rotate(); err != nil {
			l.logger.Error("Failed to rotate audit log", "error", err)
		}
	}

	n, err := l.file.Write(line)
	l.size += int64(n)
	if err != nil {
		return err
	}

	if l.opts.Stdout != nil {
		_, _ = fmt.Fprintf(l.opts.Stdout, "[AUDIT] %s", line)
	}

	return nil
}

func (l *Logger) render(e Event) ([]byte, error) {
	if l.opts.Format == FormatPretty {
		return []byte(e.pretty()), nil
	}

	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encoding audit event: %w", err)
	}
	return append(b, '\n'), nil
}

// rotate shifts path.<N-1>.log to path.<N>.log, moves the current file to path.0.log and reopens path.
// mu must be held.
func (l *Logger) rotate() error {
	path := l.opts.Path
	maxFiles := l.opts.MaxFiles

	_ = os.Remove(RotatedPath(path, maxFiles-1))
	for i := maxFiles - 1; i >= 1; i-- {
		_ = os.Rename(RotatedPath(path, i-1), RotatedPath(path, i))
	}

	if err := l.file.Close(); err != nil {
		l.logger.Warn("Closing audit log before rotation failed", "error", err)
	}
	if err := os.Rename(path, RotatedPath(path, 0)); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("Renaming audit log failed", "error", err)
	}

	f, _, err := openAppend(path)
	if err != nil {
		// Keep writing somewhere rather than losing events.
		fallback, size, err2 := openAppend(RotatedPath(path, 0))
		if err2 != nil {
			return fmt.Errorf("%w (fallback: %w)", err, err2)
		}
		l.file = fallback
		l.size = size
		return err
	}

	l.file = f
	l.size = 0
	l.logger.Info("Audit log rotated", "path", path)

	return nil
}

// RotatedPath returns the name of the n-th rotated file: "<path>.<n>.log".
func RotatedPath(path string, n int) string {
	return fmt.Sprintf("%s.%d.log", path, n)
}

// Discard is a Sink that drops every event.
type Discard struct{}

// Log implements Sink.
func (Discard) Log(Event) {}

// WriterSink writes events as JSON lines to an io.Writer without rotation.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink returns a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Log implements Sink.
func (s *WriterSink) Log(e Event) {
	b, err := json.Marshal(e)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.w.Write(append(b, '\n'))
}
