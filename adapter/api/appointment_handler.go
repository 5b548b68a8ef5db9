package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/meridianbh/cadence/internal/scheduling/application"
	"github.com/meridianbh/cadence/internal/scheduling/domain"
)

// AppointmentHandler serves appointment CRUD and lifecycle operations.
type AppointmentHandler struct {
	booking *application.BookingService
	appts   domain.AppointmentRepository
}

// NewAppointmentHandler creates an appointment handler.
func NewAppointmentHandler(booking *application.BookingService, appts domain.AppointmentRepository) *AppointmentHandler {
	return &AppointmentHandler{booking: booking, appts: appts}
}

// Book handles POST /appointments.
func (h *AppointmentHandler) Book(w http.ResponseWriter, r *http.Request) {
	var req bookAppointmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	clinicianID, err := uuid.Parse(req.ClinicianID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
		return
	}

	var clientID *uuid.UUID
	if req.ClientID != "" {
		id, err := uuid.Parse(req.ClientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_client_id", "client_id must be a valid UUID")
			return
		}
		clientID = &id
	}

	timeRange, err := domain.NewTimeRange(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
		return
	}

	apptType := domain.AppointmentType(req.Type)
	if req.Type == "" {
		apptType = domain.TypeSession
	}

	appt, err := h.booking.Book(r.Context(), application.BookingRequest{
		ClinicianID: clinicianID,
		ClientID:    clientID,
		Range:       timeRange,
		Timezone:    req.Timezone,
		Type:        apptType,
		Notes:       req.Notes,
		Override:    req.Override,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

// BlockTime handles POST /blocked-time.
func (h *AppointmentHandler) BlockTime(w http.ResponseWriter, r *http.Request) {
	var req blockTimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	clinicianID, err := uuid.Parse(req.ClinicianID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
		return
	}

	timeRange, err := domain.NewTimeRange(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
		return
	}

	appt, err := h.booking.BlockTime(r.Context(), clinicianID, timeRange, req.Timezone, req.Reason)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
}

// List handles GET /appointments?clinician_id=&from=&to=.
func (h *AppointmentHandler) List(w http.ResponseWriter, r *http.Request) {
	clinicianID, err := uuid.Parse(r.URL.Query().Get("clinician_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
		return
	}

	window, err := windowFromQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}

	var typeFilter domain.AppointmentType
	if raw := r.URL.Query().Get("type"); raw != "" {
		typeFilter = domain.AppointmentType(raw)
		if !typeFilter.IsValid() {
			writeError(w, http.StatusBadRequest, "invalid_type", "unknown appointment type")
			return
		}
	}

	appts, err := h.appts.FindByClinicianRange(r.Context(), clinicianID, window)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := make([]appointmentResponse, 0, len(appts))
	for _, appt := range appts {
		if typeFilter != "" && appt.Type() != typeFilter {
			continue
		}
		resp = append(resp, toAppointmentResponse(appt))
	}
	writeJSON(w, http.StatusOK, resp)
}

// Get handles GET /appointments/{id}.
func (h *AppointmentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	appt, err := h.appts.FindByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// Reschedule handles POST /appointments/{id}/reschedule.
func (h *AppointmentHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	newRange, err := domain.NewTimeRange(req.Start, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
		return
	}

	appt, err := h.booking.Reschedule(r.Context(), id, newRange)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// Cancel handles POST /appointments/{id}/cancel.
func (h *AppointmentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return
	}

	appt, err := h.booking.Cancel(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
}

// windowFromQuery reads the from/to query parameters. Missing values default
// to a two-week window starting now.
func windowFromQuery(r *http.Request) (domain.TimeRange, error) {
	now := time.Now().UTC()
	from := now
	to := now.AddDate(0, 0, 14)

	if raw := r.URL.Query().Get("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.TimeRange{}, err
		}
		from = parsed
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return domain.TimeRange{}, err
		}
		to = parsed
	}
	return domain.NewTimeRange(from, to)
}
