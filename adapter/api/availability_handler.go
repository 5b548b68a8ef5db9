package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridianbh/cadence/internal/availability/application"
	"github.com/meridianbh/cadence/internal/availability/domain"
)

// AvailabilityHandler serves recurring availability slot operations.
type AvailabilityHandler struct {
	slots      domain.SlotRepository
	reconciler *application.Reconciler
}

// NewAvailabilityHandler creates an availability handler.
func NewAvailabilityHandler(slots domain.SlotRepository, reconciler *application.Reconciler) *AvailabilityHandler {
	return &AvailabilityHandler{slots: slots, reconciler: reconciler}
}

// Create handles POST /availability/slots.
func (h *AvailabilityHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSlotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	clinicianID, err := uuid.Parse(req.ClinicianID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
		return
	}

	slot, err := domain.NewSlot(clinicianID, time.Weekday(req.Weekday), req.SlotNumber, req.StartMinute, req.EndMinute, req.Timezone)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot", err.Error())
		return
	}

	if err := h.slots.Save(r.Context(), slot); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSlotResponse(slot))
}

// List handles GET /availability/slots?clinician_id=.
func (h *AvailabilityHandler) List(w http.ResponseWriter, r *http.Request) {
	clinicianID, err := uuid.Parse(r.URL.Query().Get("clinician_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
		return
	}

	slots, err := h.slots.FindByClinician(r.Context(), clinicianID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]slotResponse, 0, len(slots))
	for _, slot := range slots {
		resp = append(resp, toSlotResponse(slot))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Retry handles POST /availability/slots/{id}/retry. Moves a failed slot back
// to pending so the next reconciliation pass pushes it again.
func (h *AvailabilityHandler) Retry(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.reconciler.Retry)
}

// ResolveConflict handles POST /availability/slots/{id}/resolve.
func (h *AvailabilityHandler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, h.reconciler.ResolveConflict)
}

// Delete handles DELETE /availability/slots/{id}.
func (h *AvailabilityHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
		return
	}

	if err := h.slots.Delete(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AvailabilityHandler) mutate(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, slotID uuid.UUID) error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_slot_id", "id must be a valid UUID")
		return
	}

	if err := op(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}

	slot, err := h.slots.FindByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSlotResponse(slot))
}
