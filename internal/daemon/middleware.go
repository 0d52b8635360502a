package daemon

import (
	"encoding/json"
	stdErrors "errors"
	"net/http"

	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/api"
	"github.com/mozilla-ai/mcpshield/internal/audit"
	"github.com/mozilla-ai/mcpshield/internal/auth"
	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/metrics"
)

// Wire codes returned by the authentication middleware.
const (
	codeAuthenticationRequired = "AUTHENTICATION_REQUIRED"
	codeInsufficientScope      = "INSUFFICIENT_SCOPE"
	codeRateLimited            = "RATE_LIMIT_EXCEEDED"
	codePayloadTooLarge        = "PAYLOAD_TOO_LARGE"
)

// errorBody is the JSON body of every non-JSON-RPC error response.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}

// writeKindError renders err using its Kind for both the status and the code.
func writeKindError(w http.ResponseWriter, err error) {
	kind := errors.KindOf(err)
	writeError(w, kind.HTTPStatus(), kind.Code(), err.Error())
}

// securityHeaders sets the browser hardening headers on every response.
func securityHeaders(tls bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-XSS-Protection", "1; mode=block")
			h.Set("Referrer-Policy", "no-referrer")
			h.Set("Permissions-Policy", "geolocation=(), microphone=(), camera=()")
			if tls {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// limitBody rejects requests whose declared length exceeds limit and caps the bytes read from the rest.
func limitBody(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > limit {
				w.Header().Set(api.HeaderErrorType, string(api.RequestRejected))
				writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "request body too large")
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, limit)
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate resolves the bearer token of each request to a session and stores it in the request context.
type authenticate struct {
	logger        hclog.Logger
	authenticator *auth.Authenticator
	audit         audit.Sink
	metrics       metrics.Recorder
}

func (a *authenticate) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := callerFrom(r.Context())

		token, _ := auth.BearerToken(r.Header.Get("Authorization"))
		session, err := a.authenticator.Authenticate(r.Context(), token)
		if err != nil {
			a.reject(w, c, err)
			return
		}

		audit.AuthAttempt(a.audit, session.UserID, c.clientIP, c.requestID, true, "")
		next.ServeHTTP(w, r.WithContext(auth.WithSession(r.Context(), session)))
	})
}

func (a *authenticate) reject(w http.ResponseWriter, c caller, err error) {
	a.metrics.RecordAuthFailure()
	audit.AuthAttempt(a.audit, "", c.clientIP, c.requestID, false, err.Error())
	a.logger.Debug("Authentication failed", "client", c.clientIP, "error", err)

	switch {
	case stdErrors.Is(err, auth.ErrTokenRequired):
		w.Header().Set("WWW-Authenticate", `Bearer realm="mcpshield"`)
		w.Header().Set(api.HeaderErrorType, string(api.AuthenticationFailure))
		writeError(w, http.StatusUnauthorized, codeAuthenticationRequired, "Authentication required")
	case stdErrors.Is(err, auth.ErrInsufficientScope):
		w.Header().Set(api.HeaderErrorType, string(api.ScopeFailure))
		writeError(w, http.StatusForbidden, codeInsufficientScope, err.Error())
	default:
		w.Header().Set("WWW-Authenticate", `Bearer realm="mcpshield", error="invalid_token"`)
		w.Header().Set(api.HeaderErrorType, string(api.AuthenticationFailure))
		writeError(w, http.StatusUnauthorized, errors.KindAuthentication.Code(), "Invalid or expired token")
	}
}
