package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
)

// Streamable speaks JSON-RPC over independent HTTP POSTs that share a session id.
// Responses arrive in the POST body as NDJSON, a single JSON document, or an event stream.
type Streamable struct {
	logger   hclog.Logger
	opts     Options
	endpoint *url.URL

	mu        sync.RWMutex
	sessionID string

	pending   *pending
	connected atomic.Bool
	closeOnce sync.Once
	info      *mcp.InitializeResult
}

// NewStreamable connects to endpoint and performs the initialize handshake, capturing the session id.
func NewStreamable(ctx context.Context, logger hclog.Logger, endpoint string, opts Options) (*Streamable, error) {
	u, err := parseEndpoint(endpoint, "http", "https")
	if err != nil {
		return nil, err
	}

	t := &Streamable{
		logger:   logger.Named("streamable").With("endpoint", u.Redacted()),
		opts:     opts,
		endpoint: u,
		pending:  newPending(),
	}
	t.connected.Store(true)

	info, err := handshake(ctx, t, opts)
	if err != nil {
		t.connected.Store(false)
		return nil, err
	}
	t.info = info

	t.logger.Info("Initialized MCP server", "name", info.ServerInfo.Name, "session", t.SessionID())

	return t, nil
}

// ServerInfo returns the result of the initialize handshake.
func (t *Streamable) ServerInfo() *mcp.InitializeResult {
	return t.info
}

// SessionID returns the id assigned by the server, if any.
func (t *Streamable) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.sessionID
}

// SendRequest posts req and waits for the matching response in the body.
func (t *Streamable) SendRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if !t.IsConnected() {
		return nil, errors.Transport("not connected")
	}

	req = normalize(withID(req, t.opts.IDs))
	id := *req.ID

	ch, err := t.pending.register(id)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.opts.RequestTimeout)
	defer cancel()

	httpResp, err := t.post(reqCtx, req)
	if err != nil {
		t.pending.cancel(id)
		return nil, err
	}

	go func() {
		defer func() { _ = httpResp.Body.Close() }()

		t.consume(httpResp)
		t.pending.fail(id, errors.Transport("response stream ended without a response to %s", id.String()))
	}()

	return t.pending.await(ctx, id, ch, t.opts.RequestTimeout)
}

// SendNotification posts req and discards any body.
func (t *Streamable) SendNotification(ctx context.Context, req *jsonrpc.Request) error {
	if !t.IsConnected() {
		return errors.Transport("not connected")
	}

	n := normalize(req)
	if n.ID != nil {
		n = n.Clone()
		n.ID = nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.opts.RequestTimeout)
	defer cancel()

	resp, err := t.post(reqCtx, n)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	return nil
}

// IsConnected reports whether Close has not been called.
func (t *Streamable) IsConnected() bool {
	return t.connected.Load()
}

// Close terminates the session. The server is told with a best-effort DELETE.
func (t *Streamable) Close() error {
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		t.pending.failAll(errors.Transport("transport closed"))

		sid := t.SessionID()
		if sid == "" {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), t.opts.CloseTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.urlWithSession(sid), nil)
		if err != nil {
			return
		}
		req.Header.Set(headerSessionID, sid)
		applyHeaders(req, t.opts.Headers)

		resp, err := t.opts.HTTPClient.Do(req)
		if err != nil {
			t.logger.Debug("Session termination failed", "error", err)
			return
		}
		_ = resp.Body.Close()
	})

	return nil
}

func (t *Streamable) post(ctx context.Context, req *jsonrpc.Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(errors.KindSerialization, err, "encoding request")
	}

	sid := t.SessionID()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.urlWithSession(sid), bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(errors.KindTransport, err, "building request")
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", contentTypeNDJSON+", "+contentTypeJSON+", "+contentTypeSSE)
	if sid != "" {
		httpReq.Header.Set(headerSessionID, sid)
	}
	applyHeaders(httpReq, t.opts.Headers)

	resp, err := t.opts.HTTPClient.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Timeout(t.opts.RequestTimeout.Milliseconds())
		}
		return nil, errors.Wrap(errors.KindTransport, err, "POST %s", t.endpoint.Redacted())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		_ = resp.Body.Close()
		return nil, errors.Transport("unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if got := resp.Header.Get(headerSessionID); got != "" && sid == "" {
		t.mu.Lock()
		if t.sessionID == "" {
			t.sessionID = got
		}
		t.mu.Unlock()
	}

	return resp, nil
}

// consume routes every frame in the body until it ends.
func (t *Streamable) consume(resp *http.Response) {
	ct := resp.Header.Get("Content-Type")

	var err error
	switch {
	case isEventStream(ct):
		err = readSSE(resp.Body, func(ev sseEvent) bool {
			if ev.Event == "message" && ev.Data != "" {
				t.dispatch([]byte(ev.Data))
			}
			return true
		})
	case isMediaType(ct, contentTypeJSON):
		var data []byte
		data, err = io.ReadAll(io.LimitReader(resp.Body, maxFrameSize))
		if len(bytes.TrimSpace(data)) > 0 {
			t.dispatch(data)
		}
	default:
		err = readLines(resp.Body, t.dispatch)
	}

	if err != nil {
		t.logger.Debug("Reading response body failed", "error", err)
	}
}

func (t *Streamable) dispatch(frame []byte) {
	if _, err := t.pending.dispatchLine(frame); err != nil {
		t.logger.Warn("Ignoring unparseable frame", "error", err)
	}
}

func (t *Streamable) urlWithSession(sid string) string {
	if sid == "" {
		return t.endpoint.String()
	}

	return withQuery(t.endpoint, querySessionID, sid)
}

func isMediaType(contentType string, want string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == want
}

// parseEndpoint validates an absolute URL with one of the given schemes.
func parseEndpoint(endpoint string, schemes ...string) (*url.URL, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, errors.Wrap(errors.KindConfig, err, "invalid url %q", endpoint)
	}
	if u.Host == "" {
		return nil, errors.Config("url %q has no host", endpoint)
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return u, nil
		}
	}

	return nil, errors.Config("url %q must use one of %v", endpoint, schemes)
}

