package daemon

import (
	"encoding/json"
	stdErrors "errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hashicorp/go-hclog"

	"github.com/mozilla-ai/mcpshield/internal/contracts"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
)

// mcpHandler serves JSON-RPC over HTTP on /mcp and /mcp/{server}.
type mcpHandler struct {
	logger  hclog.Logger
	gateway contracts.MCPGateway
}

// serve decodes one JSON-RPC message and answers it through the gateway.
// Notifications are acknowledged with 202 and no body.
func (h *mcpHandler) serve(w http.ResponseWriter, r *http.Request) {
	target := chi.URLParam(r, "server")

	var req jsonrpc.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if stdErrors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, codePayloadTooLarge, "request body too large")
			return
		}
		writeJSON(w, http.StatusBadRequest, jsonrpc.NewErrorResponse(nil, jsonrpc.CodeParseError, "Parse error: "+err.Error()))
		return
	}

	resp, err := h.gateway.Handle(r.Context(), target, &req)
	if err != nil {
		h.logger.Debug("Request failed", "server", target, "method", req.Method, "error", err)
		writeKindError(w, err)
		return
	}

	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func healthHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Version: version})
	}
}
