package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	calendarApp "github.com/meridianbh/cadence/internal/calendar/application"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
)

// SyncHandler serves on-demand sync and conflict resolution.
type SyncHandler struct {
	sync         *calendarApp.SyncService
	lookAheadDays int
}

// NewSyncHandler creates a sync handler.
func NewSyncHandler(sync *calendarApp.SyncService, lookAheadDays int) *SyncHandler {
	if lookAheadDays <= 0 {
		lookAheadDays = 14
	}
	return &SyncHandler{sync: sync, lookAheadDays: lookAheadDays}
}

type triggerSyncRequest struct {
	ClinicianID string `json:"clinician_id"`
}

type syncReportResponse struct {
	ExternalEvents int                `json:"external_events"`
	NewConflicts   []conflictResponse `json:"new_conflicts"`
	FetchErrors    []string           `json:"fetch_errors,omitempty"`
}

// Trigger handles POST /sync. Runs one sync pass for the clinician over the
// configured look-ahead window.
func (h *SyncHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	clinicianID, err := uuid.Parse(req.ClinicianID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
		return
	}

	now := time.Now().UTC().Truncate(time.Hour)
	window, err := schedulingDomain.NewTimeRange(now, now.AddDate(0, 0, h.lookAheadDays))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	report, err := h.sync.SyncWindow(r.Context(), clinicianID, window)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := syncReportResponse{
		ExternalEvents: report.ExternalEvents,
		NewConflicts:   make([]conflictResponse, 0, len(report.NewConflicts)),
	}
	for _, c := range report.NewConflicts {
		resp.NewConflicts = append(resp.NewConflicts, toConflictResponse(c))
	}
	for _, fe := range report.FetchErrors {
		resp.FetchErrors = append(resp.FetchErrors, fe.Error())
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListConflicts handles GET /conflicts?clinician_id=.
func (h *SyncHandler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	clinicianID, err := uuid.Parse(r.URL.Query().Get("clinician_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
		return
	}

	conflicts, err := h.sync.OpenConflicts(r.Context(), clinicianID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]conflictResponse, 0, len(conflicts))
	for _, c := range conflicts {
		resp = append(resp, toConflictResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

type resolveConflictRequest struct {
	Strategy string `json:"strategy"`
}

// ResolveConflict handles POST /conflicts/{id}/resolve.
func (h *SyncHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_conflict_id", "id must be a valid UUID")
		return
	}

	var req resolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	conflict, err := h.sync.Resolve(r.Context(), id, schedulingDomain.ResolutionStrategy(req.Strategy))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toConflictResponse(conflict))
}
