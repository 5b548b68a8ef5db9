package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridianbh/cadence/internal/connections/domain"
)

// ConnectionHandler serves external calendar connection operations.
type ConnectionHandler struct {
	conns domain.ConnectionRepository
}

// NewConnectionHandler creates a connection handler.
func NewConnectionHandler(conns domain.ConnectionRepository) *ConnectionHandler {
	return &ConnectionHandler{conns: conns}
}

// List handles GET /connections?owner_id=.
func (h *ConnectionHandler) List(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(r.URL.Query().Get("owner_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_owner_id", "owner_id must be a valid UUID")
		return
	}

	conns, err := h.conns.FindByOwner(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]connectionResponse, 0, len(conns))
	for _, conn := range conns {
		resp = append(resp, toConnectionResponse(conn))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Deactivate handles POST /connections/{id}/deactivate. The connection is
// skipped by fetches until the owner re-links the account.
func (h *ConnectionHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_connection_id", "id must be a valid UUID")
		return
	}

	var req struct {
		Reason string `json:"reason,omitempty"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "deactivated by user"
	}

	conn, err := h.conns.FindByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	conn.Deactivate(req.Reason)
	if err := h.conns.Save(r.Context(), conn); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConnectionResponse(conn))
}
