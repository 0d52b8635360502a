// Package transport implements persistent JSON-RPC channels to MCP servers.
//
// Every transport correlates responses to requests by id, so concurrent requests on one transport are pipelined.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
)

// Transport is a duplex JSON-RPC channel to a single MCP server.
// All methods are safe for concurrent use.
type Transport interface {
	// SendRequest sends req and waits for the response with the same id.
	// A request without an id is assigned one.
	SendRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)

	// SendNotification sends req without waiting for a response.
	SendNotification(ctx context.Context, req *jsonrpc.Request) error

	// IsConnected reports whether the channel is usable.
	IsConnected() bool

	// Close tears the channel down.
	Close() error
}

// Type identifies a transport implementation.
type Type string

const (
	TypeStdio      Type = "stdio"
	TypeSSE        Type = "sse"
	TypeStreamable Type = "streamable-http"
	TypeWebSocket  Type = "websocket"
)

// ParseType parses a transport type, accepting the common aliases.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "stdio":
		return TypeStdio, nil
	case "sse":
		return TypeSSE, nil
	case "streamable-http", "streamable", "streamable_http":
		return TypeStreamable, nil
	case "websocket", "ws":
		return TypeWebSocket, nil
	default:
		return "", fmt.Errorf("unknown transport type: %q", s)
	}
}

// IsHTTP reports whether the transport connects to a URL rather than spawning a process.
func (t Type) IsHTTP() bool {
	return t == TypeSSE || t == TypeStreamable || t == TypeWebSocket
}

// Options configures a transport.
// NewOptions should be used to create instances of Options.
type Options struct {
	// RequestTimeout bounds the wait for a response.
	RequestTimeout time.Duration

	// InitTimeout bounds the initialize handshake.
	InitTimeout time.Duration

	// CloseTimeout bounds the wait for a child process to exit on Close.
	CloseTimeout time.Duration

	// IDs assigns ids to requests sent without one.
	IDs *jsonrpc.Generator

	// HTTPClient is used by the HTTP transports.
	HTTPClient *http.Client

	// Headers are added to every outbound HTTP request.
	Headers map[string]string

	// ClientName and ClientVersion identify the proxy in the initialize handshake.
	ClientName    string
	ClientVersion string
}

// Option defines a functional option for configuring Options.
type Option func(*Options) error

// NewOptions starts from defaults and applies opts in order.
func NewOptions(opts ...Option) (Options, error) {
	ids, err := jsonrpc.NewGenerator()
	if err != nil {
		return Options{}, err
	}

	o := Options{
		RequestTimeout: DefaultRequestTimeout(),
		InitTimeout:    DefaultInitTimeout(),
		CloseTimeout:   DefaultCloseTimeout(),
		IDs:            ids,
		HTTPClient:     &http.Client{},
		ClientName:     "mcpshield",
		ClientVersion:  "dev",
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

// WithRequestTimeout sets how long to wait for a response.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("request timeout must be positive, got %v", d)
		}
		o.RequestTimeout = d
		return nil
	}
}

// WithInitTimeout sets how long to wait for the initialize handshake.
func WithInitTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("init timeout must be positive, got %v", d)
		}
		o.InitTimeout = d
		return nil
	}
}

// WithCloseTimeout sets how long Close waits for a child process to exit.
func WithCloseTimeout(d time.Duration) Option {
	return func(o *Options) error {
		if d <= 0 {
			return fmt.Errorf("close timeout must be positive, got %v", d)
		}
		o.CloseTimeout = d
		return nil
	}
}

// WithIDGenerator shares an id generator across transports.
func WithIDGenerator(g *jsonrpc.Generator) Option {
	return func(o *Options) error {
		if g == nil {
			return fmt.Errorf("id generator cannot be nil")
		}
		o.IDs = g
		return nil
	}
}

// WithHTTPClient sets the client used by HTTP transports.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Options) error {
		if c == nil {
			return fmt.Errorf("http client cannot be nil")
		}
		o.HTTPClient = c
		return nil
	}
}

// WithHeader adds a header to every outbound HTTP request.
func WithHeader(key string, value string) Option {
	return func(o *Options) error {
		key = strings.TrimSpace(key)
		if key == "" {
			return fmt.Errorf("header name cannot be empty")
		}
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		o.Headers[key] = value
		return nil
	}
}

// WithClientInfo sets the name and version sent in the initialize handshake.
func WithClientInfo(name string, version string) Option {
	return func(o *Options) error {
		name = strings.TrimSpace(name)
		if name == "" {
			return fmt.Errorf("client name cannot be empty")
		}
		o.ClientName = name
		o.ClientVersion = version
		return nil
	}
}

// DefaultRequestTimeout is the default time to wait for a response.
func DefaultRequestTimeout() time.Duration {
	return 30 * time.Second
}

// DefaultInitTimeout is the default time to wait for the initialize handshake.
func DefaultInitTimeout() time.Duration {
	return 30 * time.Second
}

// DefaultCloseTimeout is the default time Close waits for a child to exit.
func DefaultCloseTimeout() time.Duration {
	return 5 * time.Second
}

// withID returns req with an id assigned when it has none.
func withID(req *jsonrpc.Request, ids *jsonrpc.Generator) *jsonrpc.Request {
	if req.ID != nil {
		return req
	}
	c := req.Clone()
	id := ids.Next()
	c.ID = &id
	return c
}

// normalize fills in the protocol version.
func normalize(req *jsonrpc.Request) *jsonrpc.Request {
	if req.JSONRPC == jsonrpc.Version {
		return req
	}
	c := req.Clone()
	c.JSONRPC = jsonrpc.Version
	return c
}
