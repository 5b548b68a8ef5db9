package domain

import (
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"

	"github.com/google/uuid"
)

// Routing keys for scheduling events.
const (
	RoutingKeyAppointmentBooked      = "cadence.scheduling.appointment.booked"
	RoutingKeyAppointmentCancelled   = "cadence.scheduling.appointment.cancelled"
	RoutingKeyAppointmentRescheduled = "cadence.scheduling.appointment.rescheduled"
	RoutingKeyConflictDetected       = "cadence.scheduling.conflict.detected"
)

const aggregateTypeAppointment = "appointment"

// AppointmentBookedEvent is published when a new appointment is created.
type AppointmentBookedEvent struct {
	sharedDomain.BaseEvent
	ClinicianID uuid.UUID
	Range       TimeRange
	Type        AppointmentType
}

// NewAppointmentBookedEvent creates an AppointmentBookedEvent.
func NewAppointmentBookedEvent(apptID, clinicianID uuid.UUID, r TimeRange, t AppointmentType) *AppointmentBookedEvent {
	return &AppointmentBookedEvent{
		BaseEvent:   sharedDomain.NewBaseEvent(apptID, aggregateTypeAppointment, RoutingKeyAppointmentBooked),
		ClinicianID: clinicianID,
		Range:       r,
		Type:        t,
	}
}

// AppointmentCancelledEvent is published when an appointment is cancelled.
type AppointmentCancelledEvent struct {
	sharedDomain.BaseEvent
	ClinicianID uuid.UUID
	Range       TimeRange
}

// NewAppointmentCancelledEvent creates an AppointmentCancelledEvent.
func NewAppointmentCancelledEvent(apptID, clinicianID uuid.UUID, r TimeRange) *AppointmentCancelledEvent {
	return &AppointmentCancelledEvent{
		BaseEvent:   sharedDomain.NewBaseEvent(apptID, aggregateTypeAppointment, RoutingKeyAppointmentCancelled),
		ClinicianID: clinicianID,
		Range:       r,
	}
}

// AppointmentRescheduledEvent is published when an appointment moves.
type AppointmentRescheduledEvent struct {
	sharedDomain.BaseEvent
	ClinicianID uuid.UUID
	OldRange    TimeRange
	NewRange    TimeRange
}

// NewAppointmentRescheduledEvent creates an AppointmentRescheduledEvent.
func NewAppointmentRescheduledEvent(apptID, clinicianID uuid.UUID, oldRange, newRange TimeRange) *AppointmentRescheduledEvent {
	return &AppointmentRescheduledEvent{
		BaseEvent:   sharedDomain.NewBaseEvent(apptID, aggregateTypeAppointment, RoutingKeyAppointmentRescheduled),
		ClinicianID: clinicianID,
		OldRange:    oldRange,
		NewRange:    newRange,
	}
}

// ConflictDetectedEvent is published when a sync conflict is recorded.
type ConflictDetectedEvent struct {
	sharedDomain.BaseEvent
	ClinicianID  uuid.UUID
	Kind         ConflictKind
	LocalRange   TimeRange
	ExternalRange TimeRange
}

// NewConflictDetectedEvent creates a ConflictDetectedEvent.
func NewConflictDetectedEvent(conflictID, clinicianID uuid.UUID, kind ConflictKind, local, external TimeRange) *ConflictDetectedEvent {
	return &ConflictDetectedEvent{
		BaseEvent:     sharedDomain.NewBaseEvent(conflictID, "sync_conflict", RoutingKeyConflictDetected),
		ClinicianID:   clinicianID,
		Kind:          kind,
		LocalRange:    local,
		ExternalRange: external,
	}
}
