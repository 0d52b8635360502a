package daemon

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcpshield/internal/api"
	"github.com/mozilla-ai/mcpshield/internal/audit"
	"github.com/mozilla-ai/mcpshield/internal/auth"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
	"github.com/mozilla-ai/mcpshield/internal/transport/transporttest"
)

// Tests in this file build the full handler, which installs huma's error hook, so they do not run in parallel.

func newRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()

	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	case []byte:
		r = bytes.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func rpcBody(t *testing.T, id int64, method string, params any) *jsonrpc.Request {
	t.Helper()
	return mustRequest(t, id, method, params)
}

func TestMCPHandler_RoutedRequest(t *testing.T) {
	h := newHarness(t, harnessConfig{servers: []testServer{{name: "alpha", tags: []string{"tools"}}}})
	handler := h.handler(auth.NoneProvider{}, nil)

	rec := serve(handler, newRequest(t, http.MethodPost, "/mcp", rpcBody(t, 11, "tools/list", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	resp := decodeBody[jsonrpc.Response](t, rec)
	require.Nil(t, resp.Error)
	require.Equal(t, "11", resp.ID.String())
	require.Len(t, h.requests("alpha"), 1)
}

func TestMCPHandler_ServerPath(t *testing.T) {
	h := newHarness(t, harnessConfig{servers: []testServer{{name: "alpha"}, {name: "beta"}}})
	handler := h.handler(auth.NoneProvider{}, nil)

	rec := serve(handler, newRequest(t, http.MethodPost, "/mcp/beta", rpcBody(t, 1, "ping", nil)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, h.requests("beta"), 1)
	require.Empty(t, h.requests("alpha"))

	rec = serve(handler, newRequest(t, http.MethodPost, "/mcp/ghost", rpcBody(t, 2, "ping", nil)))
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody[errorBody](t, rec)
	require.Equal(t, "SERVER_NOT_FOUND", body.Error)
}

func TestMCPHandler_NoServers(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	handler := h.handler(auth.NoneProvider{}, nil)

	rec := serve(handler, newRequest(t, http.MethodPost, "/mcp", rpcBody(t, 1, "tools/list", nil)))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Contains(t, decodeBody[errorBody](t, rec).Message, "No servers configured")
}

func TestMCPHandler_UpstreamFailure(t *testing.T) {
	h := newHarness(t, harnessConfig{servers: []testServer{
		{name: "alpha", handler: transporttest.Fail(io.ErrUnexpectedEOF)},
	}})
	handler := h.handler(auth.NoneProvider{}, nil)

	rec := serve(handler, newRequest(t, http.MethodPost, "/mcp/alpha", rpcBody(t, 1, "ping", nil)))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMCPHandler_Notification(t *testing.T) {
	h := newHarness(t, harnessConfig{servers: []testServer{{name: "alpha"}}})
	handler := h.handler(auth.NoneProvider{}, nil)

	rec := serve(handler, newRequest(t, http.MethodPost, "/mcp/alpha",
		`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Empty(t, rec.Body.String())
}

func TestMCPHandler_ParseError(t *testing.T) {
	h := newHarness(t, harnessConfig{servers: []testServer{{name: "alpha"}}})
	handler := h.handler(auth.NoneProvider{}, nil)

	rec := serve(handler, newRequest(t, http.MethodPost, "/mcp", `{"jsonrpc":`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	resp := decodeBody[jsonrpc.Response](t, rec)
	require.NotNil(t, resp.Error)
	require.Equal(t, jsonrpc.CodeParseError, resp.Error.Code)
	require.Nil(t, resp.ID)
}

func TestMCPHandler_InvalidEnvelope(t *testing.T) {
	h := newHarness(t, harnessConfig{servers: []testServer{{name: "alpha"}}})
	handler := h.handler(auth.NoneProvider{}, nil)

	rec := serve(handler, newRequest(t, http.MethodPost, "/mcp/alpha", `{"jsonrpc":"2.0","id":4}`))
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[jsonrpc.Response](t, rec)
	require.NotNil(t, resp.Error)
	require.Equal(t, jsonrpc.CodeInvalidRequest, resp.Error.Code)
}

func TestMCPHandler_ScopeDenial(t *testing.T) {
	h := newHarness(t, harnessConfig{servers: []testServer{{name: "alpha"}}})

	jwt, err := auth.NewJWTProvider("test-secret")
	require.NoError(t, err)
	token, err := jwt.Mint("bob", []string{"*", "-tool:delete"})
	require.NoError(t, err)

	handler := h.handler(jwt, nil)

	req := newRequest(t, http.MethodPost, "/mcp/alpha", rpcBody(t, 3, "tools/call", map[string]any{"name": "delete"}))
	req.Header.Set("Authorization", "Bearer "+token)

	rec := serve(handler, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeBody[jsonrpc.Response](t, rec)
	require.NotNil(t, resp.Error)
	require.Equal(t, jsonrpc.CodeAccessDenied, resp.Error.Code)
	require.Empty(t, h.requests("alpha"))
}

func TestHealthEndpoint(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	static, err := auth.NewStaticProvider("s3cret")
	require.NoError(t, err)
	handler := h.handler(static, nil)

	// Unauthenticated on purpose.
	rec := serve(handler, newRequest(t, http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody[healthResponse](t, rec)
	require.Equal(t, "healthy", body.Status)
	require.NotEmpty(t, body.Version)
}

func TestSecurityHeaders(t *testing.T) {
	h := newHarness(t, harnessConfig{})

	t.Run("plain http", func(t *testing.T) {
		rec := serve(h.handler(auth.NoneProvider{}, nil), newRequest(t, http.MethodGet, "/health", nil))

		require.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
		require.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
		require.Equal(t, "no-referrer", rec.Header().Get("Referrer-Policy"))
		require.Contains(t, rec.Header().Get("Content-Security-Policy"), "default-src 'none'")
		require.NotEmpty(t, rec.Header().Get("Permissions-Policy"))
		require.Empty(t, rec.Header().Get("Strict-Transport-Security"))
	})

	t.Run("tls adds hsts", func(t *testing.T) {
		handler := h.handler(auth.NoneProvider{}, nil, WithTLS("cert.pem", "key.pem"))
		rec := serve(handler, newRequest(t, http.MethodGet, "/health", nil))
		require.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=")
	})
}

func TestAuthentication(t *testing.T) {
	h := newHarness(t, harnessConfig{servers: []testServer{{name: "alpha"}}})

	static, err := auth.NewStaticProvider("s3cret")
	require.NoError(t, err)
	handler := h.handler(static, nil)

	t.Run("missing token", func(t *testing.T) {
		rec := serve(handler, newRequest(t, http.MethodPost, "/mcp/alpha", rpcBody(t, 1, "ping", nil)))
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")
		require.Equal(t, string(api.AuthenticationFailure), rec.Header().Get(api.HeaderErrorType))
		require.Equal(t, codeAuthenticationRequired, decodeBody[errorBody](t, rec).Error)
	})

	t.Run("wrong token", func(t *testing.T) {
		req := newRequest(t, http.MethodPost, "/mcp/alpha", rpcBody(t, 1, "ping", nil))
		req.Header.Set("Authorization", "Bearer nope")

		rec := serve(handler, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		require.Contains(t, rec.Header().Get("WWW-Authenticate"), "invalid_token")
		require.Equal(t, "AUTHENTICATION_ERROR", decodeBody[errorBody](t, rec).Error)
	})

	t.Run("valid token", func(t *testing.T) {
		req := newRequest(t, http.MethodPost, "/mcp/alpha", rpcBody(t, 1, "ping", nil))
		req.Header.Set("Authorization", "Bearer s3cret")

		rec := serve(handler, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("rest api is protected", func(t *testing.T) {
		rec := serve(handler, newRequest(t, http.MethodGet, "/api/v1/servers", nil))
		require.Equal(t, http.StatusUnauthorized, rec.Code)

		req := newRequest(t, http.MethodGet, "/api/v1/servers", nil)
		req.Header.Set("Authorization", "Bearer s3cret")
		rec = serve(handler, req)
		require.Equal(t, http.StatusOK, rec.Code)
	})

	require.Equal(t, uint64(3), h.metrics.Snapshot().AuthFailures)
}

func TestAuthentication_InsufficientScope(t *testing.T) {
	h := newHarness(t, harnessConfig{servers: []testServer{{name: "alpha"}}})

	jwt, err := auth.NewJWTProvider("test-secret")
	require.NoError(t, err)
	token, err := jwt.Mint("carol", []string{"mcp:read"})
	require.NoError(t, err)

	handler := h.handler(jwt, []string{"mcp:write"})

	req := newRequest(t, http.MethodPost, "/mcp/alpha", rpcBody(t, 1, "ping", nil))
	req.Header.Set("Authorization", "Bearer "+token)

	rec := serve(handler, req)
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Equal(t, string(api.ScopeFailure), rec.Header().Get(api.HeaderErrorType))
	require.Equal(t, codeInsufficientScope, decodeBody[errorBody](t, rec).Error)
	require.Empty(t, h.requests("alpha"))
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, harnessConfig{servers: []testServer{{name: "alpha"}}})
	handler := h.handler(auth.NoneProvider{}, nil, WithRateLimit(1, 2))

	send := func(remote string) *httptest.ResponseRecorder {
		req := newRequest(t, http.MethodPost, "/mcp/alpha", rpcBody(t, 1, "ping", nil))
		req.RemoteAddr = remote
		return serve(handler, req)
	}

	require.Equal(t, http.StatusOK, send("10.0.0.1:1234").Code)
	require.Equal(t, http.StatusOK, send("10.0.0.1:1235").Code)

	rec := send("10.0.0.1:1236")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, string(api.RateLimited), rec.Header().Get(api.HeaderErrorType))
	require.Equal(t, codeRateLimited, decodeBody[errorBody](t, rec).Error)

	// Another client has its own bucket.
	require.Equal(t, http.StatusOK, send("10.0.0.2:1234").Code)

	require.Equal(t, uint64(1), h.metrics.Snapshot().RateLimitHits)
	require.Contains(t, h.audit.types(), audit.EventRateLimitHit)
}

func TestBodyLimit(t *testing.T) {
	h := newHarness(t, harnessConfig{servers: []testServer{{name: "alpha"}}})
	handler := h.handler(auth.NoneProvider{}, nil, WithMaxBodyBytes(64))

	big := `{"jsonrpc":"2.0","id":1,"method":"ping","params":{"pad":"` + strings.Repeat("x", 128) + `"}}`

	rec := serve(handler, newRequest(t, http.MethodPost, "/mcp/alpha", big))
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Equal(t, codePayloadTooLarge, decodeBody[errorBody](t, rec).Error)

	// Without a declared length the reader cap still applies.
	req := newRequest(t, http.MethodPost, "/mcp/alpha", big)
	req.ContentLength = -1
	rec = serve(handler, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	require.Empty(t, h.requests("alpha"))
}

func TestRESTAPI(t *testing.T) {
	h := newHarness(t, harnessConfig{servers: []testServer{
		{name: "alpha", tags: []string{"fs"}, handler: toolServer("read")},
	}})
	handler := h.handler(auth.NoneProvider{}, nil)

	rec := serve(handler, newRequest(t, http.MethodGet, "/api/v1/servers", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"alpha"`)

	rec = serve(handler, newRequest(t, http.MethodGet, "/api/v1/servers/alpha", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"circuitBreaker"`)

	rec = serve(handler, newRequest(t, http.MethodGet, "/api/v1/servers/ghost", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(handler, newRequest(t, http.MethodGet, "/api/v1/tools", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"read"`)

	rec = serve(handler, newRequest(t, http.MethodPost, "/api/v1/tools/read/invoke",
		map[string]any{"server": "alpha", "arguments": map[string]any{"path": "/tmp"}}))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(handler, newRequest(t, http.MethodPost, "/api/v1/tools/read/invoke",
		map[string]any{"server": "alpha", "arguments": map[string]any{}}))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(handler, newRequest(t, http.MethodGet, "/api/v1/health/servers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(handler, newRequest(t, http.MethodGet, "/api/v1/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"proxy"`)

	rec = serve(handler, newRequest(t, http.MethodDelete, "/api/v1/cache?server=alpha", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
