package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
)

// SSE reads responses from a long-lived event stream and writes requests as POSTs.
// The POST target is announced by the server in an "endpoint" event, or derived from the session id header.
type SSE struct {
	logger hclog.Logger
	opts   Options
	base   *url.URL

	mu        sync.RWMutex
	postURL   string
	sessionID string

	endpointOnce  sync.Once
	endpointReady chan struct{}

	pending   *pending
	connected atomic.Bool
	cancel    context.CancelFunc
	streamEnd chan struct{}
	closeOnce sync.Once
	info      *mcp.InitializeResult
}

// NewSSE opens the event stream at endpoint and performs the initialize handshake.
func NewSSE(ctx context.Context, logger hclog.Logger, endpoint string, opts Options) (*SSE, error) {
	u, err := parseEndpoint(endpoint, "http", "https")
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	t := &SSE{
		logger:        logger.Named("sse").With("endpoint", u.Redacted()),
		opts:          opts,
		base:          u,
		endpointReady: make(chan struct{}),
		pending:       newPending(),
		cancel:        cancel,
		streamEnd:     make(chan struct{}),
	}

	if err := t.open(ctx, streamCtx); err != nil {
		cancel()
		return nil, err
	}

	if err := t.awaitEndpoint(ctx); err != nil {
		_ = t.Close()
		return nil, err
	}

	info, err := handshake(ctx, t, opts)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	t.info = info

	t.logger.Info("Initialized MCP server", "name", info.ServerInfo.Name, "session", t.SessionID())

	return t, nil
}

// ServerInfo returns the result of the initialize handshake.
func (t *SSE) ServerInfo() *mcp.InitializeResult {
	return t.info
}

// SessionID returns the session id assigned by the server, if any.
func (t *SSE) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.sessionID
}

func (t *SSE) open(ctx context.Context, streamCtx context.Context) error {
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, t.base.String(), nil)
	if err != nil {
		return errors.Wrap(errors.KindTransport, err, "building request")
	}
	req.Header.Set("Accept", contentTypeSSE)
	req.Header.Set("Cache-Control", "no-cache")
	applyHeaders(req, t.opts.Headers)

	type opened struct {
		resp *http.Response
		err  error
	}
	done := make(chan opened, 1)
	go func() {
		resp, err := t.opts.HTTPClient.Do(req)
		done <- opened{resp, err}
	}()

	var o opened
	select {
	case o = <-done:
	case <-ctx.Done():
		return errors.Wrap(errors.KindTimeout, ctx.Err(), "opening event stream")
	}
	if o.err != nil {
		return errors.Wrap(errors.KindTransport, o.err, "GET %s", t.base.Redacted())
	}

	resp := o.resp
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return errors.Transport("unexpected status %d opening event stream", resp.StatusCode)
	}

	if sid := resp.Header.Get(headerSessionID); sid != "" {
		t.mu.Lock()
		t.sessionID = sid
		t.postURL = withQuery(t.base, querySessionID, sid)
		t.mu.Unlock()
		t.markEndpointReady()
	}

	t.connected.Store(true)
	go t.readStream(resp.Body)

	return nil
}

func (t *SSE) awaitEndpoint(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, t.opts.InitTimeout)
	defer cancel()

	select {
	case <-t.endpointReady:
		return nil
	case <-t.streamEnd:
		return errors.Transport("event stream closed before endpoint was announced")
	case <-ctx.Done():
		return errors.Timeout(t.opts.InitTimeout.Milliseconds())
	}
}

func (t *SSE) markEndpointReady() {
	t.endpointOnce.Do(func() { close(t.endpointReady) })
}

func (t *SSE) readStream(body io.ReadCloser) {
	defer close(t.streamEnd)
	defer func() { _ = body.Close() }()

	err := readSSE(body, func(ev sseEvent) bool {
		switch ev.Event {
		case "endpoint":
			t.setEndpoint(ev.Data)
		case "message":
			if ev.Data == "" {
				return true
			}
			if _, err := t.pending.dispatchLine([]byte(ev.Data)); err != nil {
				t.logger.Warn("Ignoring unparseable event", "error", err)
			}
		}
		return true
	})
	if err != nil && t.IsConnected() {
		t.logger.Warn("Event stream failed", "error", err)
	}

	t.connected.Store(false)
	t.pending.failAll(errors.Transport("event stream closed"))
}

func (t *SSE) setEndpoint(data string) {
	ref, err := url.Parse(strings.TrimSpace(data))
	if err != nil {
		t.logger.Warn("Ignoring invalid endpoint event", "data", data, "error", err)
		return
	}

	resolved := t.base.ResolveReference(ref)

	t.mu.Lock()
	t.postURL = resolved.String()
	if sid := resolved.Query().Get(querySessionID); sid != "" {
		t.sessionID = sid
	} else if sid := resolved.Query().Get("sessionId"); sid != "" {
		t.sessionID = sid
	}
	t.mu.Unlock()

	t.logger.Debug("Received endpoint", "url", resolved.Redacted())
	t.markEndpointReady()
}

// SendRequest posts req and waits for the matching response on the event stream.
func (t *SSE) SendRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if !t.IsConnected() {
		return nil, errors.Transport("event stream not connected")
	}

	req = normalize(withID(req, t.opts.IDs))
	id := *req.ID

	ch, err := t.pending.register(id)
	if err != nil {
		return nil, err
	}

	if err := t.post(ctx, req); err != nil {
		t.pending.cancel(id)
		return nil, err
	}

	return t.pending.await(ctx, id, ch, t.opts.RequestTimeout)
}

// SendNotification posts req without waiting.
func (t *SSE) SendNotification(ctx context.Context, req *jsonrpc.Request) error {
	if !t.IsConnected() {
		return errors.Transport("event stream not connected")
	}

	n := normalize(req)
	if n.ID != nil {
		n = n.Clone()
		n.ID = nil
	}

	return t.post(ctx, n)
}

// IsConnected reports whether the event stream is open.
func (t *SSE) IsConnected() bool {
	return t.connected.Load()
}

// Close cancels the event stream.
func (t *SSE) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		t.cancel()
		t.pending.failAll(errors.Transport("transport closed"))
	})

	return nil
}

func (t *SSE) post(ctx context.Context, req *jsonrpc.Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(errors.KindSerialization, err, "encoding request")
	}

	t.mu.RLock()
	target, sid := t.postURL, t.sessionID
	t.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, t.opts.RequestTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(errors.KindTransport, err, "building request")
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	if sid != "" {
		httpReq.Header.Set(headerSessionID, sid)
	}
	applyHeaders(httpReq, t.opts.Headers)

	resp, err := t.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return errors.Wrap(errors.KindTransport, err, "POST %s", target)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Transport("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	// Some servers answer inline instead of on the stream.
	if isMediaType(resp.Header.Get("Content-Type"), contentTypeJSON) {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
		if len(bytes.TrimSpace(data)) > 0 {
			_, _ = t.pending.dispatchLine(data)
		}
		return nil
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func withQuery(u *url.URL, key string, value string) string {
	c := *u
	q := c.Query()
	q.Set(key, value)
	c.RawQuery = q.Encode()

	return c.String()
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}
