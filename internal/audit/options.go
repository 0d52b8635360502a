package audit

import (
	"fmt"
	"io"
	"strings"
)

// Format selects the on-disk rendering of events.
type Format string

const (
	FormatJSON   Format = "json"
	FormatPretty Format = "pretty"
)

// Options configures a Logger.
// NewOptions should be used to create instances of Options.
type Options struct {
	// Path is the active audit file. Rotated files are written alongside it.
	Path string

	Format Format

	// MaxSizeMB is the size, in MiB, above which the file is rotated. Fractions are allowed.
	MaxSizeMB float64

	// MaxFiles is the number of rotated files kept.
	MaxFiles int

	// Stdout, when set, receives a copy of every line prefixed with "[AUDIT] ".
	Stdout io.Writer

	// QueueSize bounds the number of events waiting for the writer.
	QueueSize int
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions starts from defaults and applies opts in order.
func NewOptions(opts ...Option) (Options, error) {
	o := Options{
		Path:      "audit.log",
		Format:    FormatJSON,
		MaxSizeMB: 100,
		MaxFiles:  10,
		QueueSize: 1024,
	}

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&o); err != nil {
			return Options{}, err
		}
	}

	return o, nil
}

// MaxSizeBytes converts MaxSizeMB to bytes, never returning less than one.
func (o Options) MaxSizeBytes() int64 {
	n := int64(o.MaxSizeMB * 1024 * 1024)
	if n < 1 {
		return 1
	}
	return n
}

// WithPath sets the audit file path.
func WithPath(path string) Option {
	return func(o *Options) error {
		path = strings.TrimSpace(path)
		if path == "" {
			return fmt.Errorf("audit log path cannot be empty")
		}
		o.Path = path
		return nil
	}
}

// WithFormat selects json or pretty output.
func WithFormat(f Format) Option {
	return func(o *Options) error {
		switch f {
		case FormatJSON, FormatPretty:
			o.Format = f
		case "":
			o.Format = FormatJSON
		default:
			return fmt.Errorf("unknown audit format %q", f)
		}
		return nil
	}
}

// WithMaxSizeMB sets the rotation threshold.
func WithMaxSizeMB(mb float64) Option {
	return func(o *Options) error {
		if mb <= 0 {
			return fmt.Errorf("audit max size must be positive, got %v", mb)
		}
		o.MaxSizeMB = mb
		return nil
	}
}

// WithMaxFiles sets how many rotated files are kept.
func WithMaxFiles(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("audit max files must be at least 1, got %d", n)
		}
		o.MaxFiles = n
		return nil
	}
}

// WithStdout mirrors every written line to w.
func WithStdout(w io.Writer) Option {
	return func(o *Options) error {
		o.Stdout = w
		return nil
	}
}

// WithQueueSize bounds the pending event queue.
func WithQueueSize(n int) Option {
	return func(o *Options) error {
		if n < 1 {
			return fmt.Errorf("audit queue size must be at least 1, got %d", n)
		}
		o.QueueSize = n
		return nil
	}
}
