package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	availabilityDomain "github.com/meridianbh/cadence/internal/availability/domain"
	connDomain "github.com/meridianbh/cadence/internal/connections/domain"
	"github.com/meridianbh/cadence/internal/interchange"
	schedulingApp "github.com/meridianbh/cadence/internal/scheduling/application"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
)

type bookAppointmentRequest struct {
	ClinicianID string    `json:"clinician_id"`
	ClientID    string    `json:"client_id,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Timezone    string    `json:"timezone"`
	Type        string    `json:"type"`
	Notes       string    `json:"notes,omitempty"`
	Override    bool      `json:"override,omitempty"`
}

type blockTimeRequest struct {
	ClinicianID string    `json:"clinician_id"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Timezone    string    `json:"timezone"`
	Reason      string    `json:"reason,omitempty"`
}

type rescheduleRequest struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type appointmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	ClinicianID uuid.UUID  `json:"clinician_id"`
	ClientID    *uuid.UUID `json:"client_id,omitempty"`
	Start       time.Time  `json:"start"`
	End         time.Time  `json:"end"`
	Timezone    string     `json:"timezone"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Notes       string     `json:"notes,omitempty"`
	ExternalID  string     `json:"external_event_id,omitempty"`
	Version     int        `json:"version"`
}

func toAppointmentResponse(appt *schedulingDomain.Appointment) appointmentResponse {
	resp := appointmentResponse{
		ID:          appt.ID(),
		ClinicianID: appt.ClinicianID(),
		ClientID:    appt.ClientID(),
		Start:       appt.TimeRange().Start,
		End:         appt.TimeRange().End,
		Timezone:    appt.Timezone(),
		Type:        string(appt.Type()),
		Status:      string(appt.Status()),
		Notes:       appt.Notes(),
		Version:     appt.Version(),
	}
	if ref := appt.ExternalRef(); ref != nil {
		resp.ExternalID = ref.EventID
	}
	return resp
}

type createSlotRequest struct {
	ClinicianID string `json:"clinician_id"`
	Weekday     int    `json:"weekday"`
	SlotNumber  int    `json:"slot_number"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	Timezone    string `json:"timezone"`
}

type slotResponse struct {
	ID          uuid.UUID `json:"id"`
	ClinicianID uuid.UUID `json:"clinician_id"`
	Weekday     int       `json:"weekday"`
	SlotNumber  int       `json:"slot_number"`
	StartMinute int       `json:"start_minute"`
	EndMinute   int       `json:"end_minute"`
	Timezone    string    `json:"timezone"`
	SyncStatus  string    `json:"sync_status"`
	LastError   string    `json:"last_error,omitempty"`
}

func toSlotResponse(slot *availabilityDomain.Slot) slotResponse {
	return slotResponse{
		ID:          slot.ID(),
		ClinicianID: slot.ClinicianID(),
		Weekday:     int(slot.Weekday()),
		SlotNumber:  slot.SlotNumber(),
		StartMinute: slot.StartMinute(),
		EndMinute:   slot.EndMinute(),
		Timezone:    slot.Timezone(),
		SyncStatus:  string(slot.SyncStatus()),
		LastError:   slot.LastError(),
	}
}

type connectionResponse struct {
	ID          uuid.UUID  `json:"id"`
	OwnerID     uuid.UUID  `json:"owner_id"`
	Provider    string     `json:"provider"`
	DisplayName string     `json:"display_name"`
	Active      bool       `json:"active"`
	LastSyncAt  *time.Time `json:"last_sync_at,omitempty"`
}

func toConnectionResponse(conn *connDomain.Connection) connectionResponse {
	resp := connectionResponse{
		ID:          conn.ID(),
		OwnerID:     conn.OwnerID(),
		Provider:    string(conn.Provider()),
		DisplayName: conn.DisplayName(),
		Active:      conn.Active(),
	}
	if t := conn.LastSyncAt(); !t.IsZero() {
		resp.LastSyncAt = &t
	}
	return resp
}

type conflictSideResponse struct {
	AppointmentID *uuid.UUID `json:"appointment_id,omitempty"`
	ConnectionID  *uuid.UUID `json:"connection_id,omitempty"`
	EventID       string     `json:"event_id,omitempty"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	Summary       string     `json:"summary,omitempty"`
}

type conflictResponse struct {
	ID          uuid.UUID            `json:"id"`
	ClinicianID uuid.UUID            `json:"clinician_id"`
	Kind        string               `json:"kind"`
	Local       conflictSideResponse `json:"local"`
	External    conflictSideResponse `json:"external"`
	Strategy    string               `json:"strategy"`
	Resolved    bool                 `json:"resolved"`
	ResolvedAt  *time.Time           `json:"resolved_at,omitempty"`
}

func toConflictResponse(c *schedulingDomain.SyncConflict) conflictResponse {
	return conflictResponse{
		ID:          c.ID(),
		ClinicianID: c.ClinicianID(),
		Kind:        string(c.Kind()),
		Local:       toConflictSideResponse(c.Local()),
		External:    toConflictSideResponse(c.External()),
		Strategy:    string(c.Strategy()),
		Resolved:    c.Resolved(),
		ResolvedAt:  c.ResolvedAt(),
	}
}

func toConflictSideResponse(side schedulingDomain.ConflictSide) conflictSideResponse {
	return conflictSideResponse{
		AppointmentID: side.AppointmentID,
		ConnectionID:  side.ConnectionID,
		EventID:       side.EventID,
		Start:         side.Range.Start,
		End:           side.Range.End,
		Summary:       side.Summary,
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", "error", err)
		}
	}
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, errorResponse{Error: code, Details: details})
}

// writeServiceError maps application and domain errors onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	var validation *schedulingApp.ValidationError
	var conflict *schedulingApp.ConflictError
	var transition *availabilityDomain.TransitionError

	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "validation_failed", validation.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, "schedule_conflict", conflict.Error())
	case errors.As(err, &transition):
		writeError(w, http.StatusConflict, "invalid_transition", transition.Error())
	case errors.Is(err, schedulingDomain.ErrConflictResolved):
		writeError(w, http.StatusConflict, "conflict_resolved", err.Error())
	case errors.Is(err, schedulingDomain.ErrInvalidStrategy):
		writeError(w, http.StatusBadRequest, "invalid_strategy", err.Error())
	case errors.Is(err, interchange.ErrUnknownFormat):
		writeError(w, http.StatusBadRequest, "unknown_format", err.Error())
	case errors.Is(err, sharedDomain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, sharedDomain.ErrConcurrentModification):
		writeError(w, http.StatusConflict, "concurrent_modification", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
