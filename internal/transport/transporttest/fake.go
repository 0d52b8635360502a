// Package transporttest provides an in-memory transport for tests.
package transporttest

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/transport"
)

var _ transport.Transport = (*Fake)(nil)

// Handler produces the response to a request.
type Handler func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error)

// Fake is a Transport whose responses come from a Handler.
type Fake struct {
	handler Handler

	mu            sync.Mutex
	requests      []*jsonrpc.Request
	notifications []*jsonrpc.Request

	closed       atomic.Bool
	disconnected atomic.Bool
	closeCount   atomic.Int32
}

// New returns a Fake answering with h. A nil h echoes every request.
func New(h Handler) *Fake {
	if h == nil {
		h = Echo
	}
	return &Fake{handler: h}
}

// Echo answers with {"method": ..., "params": ...}.
func Echo(_ context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	params := json.RawMessage(`null`)
	if len(req.Params) > 0 {
		params = req.Params
	}
	return jsonrpc.NewResult(req.ID, map[string]any{"method": req.Method, "params": params})
}

// Result answers every request with v.
func Result(v any) Handler {
	return func(_ context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		return jsonrpc.NewResult(req.ID, v)
	}
}

// Fail answers every request with err.
func Fail(err error) Handler {
	return func(context.Context, *jsonrpc.Request) (*jsonrpc.Response, error) {
		return nil, err
	}
}

// ByMethod dispatches on the request method, echoing methods without a handler.
func ByMethod(handlers map[string]Handler) Handler {
	return func(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
		if h, ok := handlers[req.Method]; ok {
			return h(ctx, req)
		}
		return Echo(ctx, req)
	}
}

// SendRequest records req and returns the handler's response.
func (f *Fake) SendRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if !f.IsConnected() {
		return nil, errors.Transport("fake transport closed")
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	return f.handler(ctx, req)
}

// SendNotification records req.
func (f *Fake) SendNotification(_ context.Context, req *jsonrpc.Request) error {
	if !f.IsConnected() {
		return errors.Transport("fake transport closed")
	}

	f.mu.Lock()
	f.notifications = append(f.notifications, req)
	f.mu.Unlock()

	return nil
}

// IsConnected reports whether neither Close nor Disconnect has been called.
func (f *Fake) IsConnected() bool {
	return !f.closed.Load() && !f.disconnected.Load()
}

// Close marks the transport closed.
func (f *Fake) Close() error {
	f.closed.Store(true)
	f.closeCount.Add(1)
	return nil
}

// Disconnect simulates the remote end going away.
func (f *Fake) Disconnect() {
	f.disconnected.Store(true)
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	return f.closed.Load()
}

// CloseCount returns how many times Close was called.
func (f *Fake) CloseCount() int {
	return int(f.closeCount.Load())
}

// Methods returns the methods of every recorded request, in order.
func (f *Fake) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.requests))
	for _, r := range f.requests {
		out = append(out, r.Method)
	}
	return out
}

// Requests returns a copy of the recorded requests.
func (f *Fake) Requests() []*jsonrpc.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.requests)
}

// Notifications returns a copy of the recorded notifications.
func (f *Fake) Notifications() []*jsonrpc.Request {
	f.mu.Lock()
	defer f.mu.Unlock()

	return slices.Clone(f.notifications)
}
