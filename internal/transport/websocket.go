package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
)

// WebSocket carries one JSON-RPC message per text frame over a single connection.
type WebSocket struct {
	logger hclog.Logger
	opts   Options
	conn   *websocket.Conn

	writeMu sync.Mutex

	pending   *pending
	connected atomic.Bool
	closeOnce sync.Once
	readDone  chan struct{}
	info      *mcp.InitializeResult
}

// NewWebSocket dials endpoint and performs the initialize handshake.
// The http and https schemes are rewritten to ws and wss.
func NewWebSocket(ctx context.Context, logger hclog.Logger, endpoint string, opts Options) (*WebSocket, error) {
	u, err := parseEndpoint(endpoint, "ws", "wss", "http", "https")
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}

	header := http.Header{}
	for k, v := range opts.Headers {
		header.Set(k, v)
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.InitTimeout,
		Subprotocols:     []string{"mcp"},
	}

	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrap(errors.KindTransport, err, "dialing %s: status %d", u.Redacted(), resp.StatusCode)
		}
		return nil, errors.Wrap(errors.KindTransport, err, "dialing %s", u.Redacted())
	}

	t := newWebSocket(logger.Named("websocket").With("endpoint", u.Redacted()), conn, opts)

	info, err := handshake(ctx, t, opts)
	if err != nil {
		_ = t.Close()
		return nil, err
	}
	t.info = info

	t.logger.Info("Initialized MCP server", "name", info.ServerInfo.Name)

	return t, nil
}

func newWebSocket(logger hclog.Logger, conn *websocket.Conn, opts Options) *WebSocket {
	conn.SetReadLimit(maxFrameSize)

	t := &WebSocket{
		logger:   logger,
		opts:     opts,
		conn:     conn,
		pending:  newPending(),
		readDone: make(chan struct{}),
	}
	t.connected.Store(true)

	go t.readLoop()

	return t
}

// ServerInfo returns the result of the initialize handshake.
func (t *WebSocket) ServerInfo() *mcp.InitializeResult {
	return t.info
}

// SendRequest writes req as a text frame and waits for the matching response.
func (t *WebSocket) SendRequest(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if !t.IsConnected() {
		return nil, errors.Transport("websocket not connected")
	}

	req = normalize(withID(req, t.opts.IDs))
	id := *req.ID

	ch, err := t.pending.register(id)
	if err != nil {
		return nil, err
	}

	if err := t.write(req); err != nil {
		t.pending.cancel(id)
		return nil, err
	}

	return t.pending.await(ctx, id, ch, t.opts.RequestTimeout)
}

// SendNotification writes req without waiting.
func (t *WebSocket) SendNotification(_ context.Context, req *jsonrpc.Request) error {
	if !t.IsConnected() {
		return errors.Transport("websocket not connected")
	}

	n := normalize(req)
	if n.ID != nil {
		n = n.Clone()
		n.ID = nil
	}

	return t.write(n)
}

// IsConnected reports whether the connection is open.
func (t *WebSocket) IsConnected() bool {
	return t.connected.Load()
}

// Close sends a close frame and closes the connection.
func (t *WebSocket) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.connected.Store(false)
		t.pending.failAll(errors.Transport("transport closed"))

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		t.writeMu.Lock()
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.opts.CloseTimeout))
		t.writeMu.Unlock()

		err = t.conn.Close()
	})

	return err
}

func (t *WebSocket) write(req *jsonrpc.Request) error {
	data, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(errors.KindSerialization, err, "encoding request")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return errors.Wrap(errors.KindTransport, err, "writing frame")
	}

	return nil
}

func (t *WebSocket) readLoop() {
	defer close(t.readDone)

	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.IsConnected() && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				t.logger.Warn("Reading frame failed", "error", err)
			}
			break
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if _, err := t.pending.dispatchLine(data); err != nil {
			t.logger.Warn("Ignoring unparseable frame", "error", err)
		}
	}

	t.connected.Store(false)
	t.pending.failAll(errors.Transport("websocket closed"))
}
