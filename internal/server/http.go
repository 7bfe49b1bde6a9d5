package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/orderdeck/orderdeck/internal/model"
)

// NewHTTPHandler returns an http.Handler with all routes registered. When
// authToken is non-empty, requests (except GET /v1/health) must include a
// valid Authorization: Bearer <token> header.
func (s *EventServer) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("POST /v1/events", s.handlePublish)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	return AuthMiddleware(authToken, IdentityMiddleware(mux))
}

// publishRequest is the write-path body used by business services to emit an
// event.
type publishRequest struct {
	Type     string          `json:"type"`
	TenantID string          `json:"tenant_id"`
	Data     json.RawMessage `json:"data"`
}

// handlePublish handles POST /v1/events. The only error surfaced to the
// caller is a failed durable write; a bus notify failure is internal.
func (s *EventServer) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		// Fall back to the caller's own tenant scope.
		req.TenantID = identityFrom(r.Context()).TenantID
	}

	var payload any = req.Data
	if len(req.Data) == 0 {
		payload = map[string]any{}
	}

	eventID, err := s.Publish(r.Context(), req.Type, req.TenantID, payload)
	if err != nil {
		if isInputError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Error("publish failed", "type", req.Type, "tenant_id", req.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to publish event")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"event_id": eventID})
}

// handleStats handles GET /v1/stats.
func (s *EventServer) handleStats(w http.ResponseWriter, r *http.Request) {
	ident := identityFrom(r.Context())
	if !requireRole(ident, model.RoleOwner, model.RoleManager) {
		writeError(w, http.StatusForbidden, "insufficient role")
		return
	}

	stats := map[string]any{
		"open_connections": s.OpenConnections(),
	}
	if n, err := s.log.CountUndelivered(r.Context()); err == nil {
		stats["undelivered_events"] = n
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleHealth handles GET /v1/health.
func (s *EventServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
