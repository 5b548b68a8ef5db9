package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"

	"github.com/google/uuid"
)

// Domain errors for Appointment validation.
var (
	ErrEmptyClinicianID = errors.New("clinician ID cannot be empty")
	ErrInvalidTimeRange = errors.New("appointment end must be after start")
	ErrInvalidTimezone  = errors.New("invalid IANA timezone")
	ErrInvalidType      = errors.New("invalid appointment type")
	ErrInvalidStatus    = errors.New("invalid appointment status")
	ErrBlockedNeedsNoClient = errors.New("blocked time cannot reference a client")
)

// AppointmentType classifies what an appointment row represents.
type AppointmentType string

const (
	TypeSession AppointmentType = "session"
	TypeIntake  AppointmentType = "intake"
	TypeGroup   AppointmentType = "group"
	// TypeBlocked marks clinician-unavailable time. Blocked rows have no
	// client and participate in overlap checks like any other appointment.
	TypeBlocked AppointmentType = "blocked"
)

// IsValid returns true for a known appointment type.
func (t AppointmentType) IsValid() bool {
	switch t {
	case TypeSession, TypeIntake, TypeGroup, TypeBlocked:
		return true
	}
	return false
}

// AppointmentStatus is the lifecycle status of an appointment.
type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
	StatusNoShow    AppointmentStatus = "no_show"
	StatusHidden    AppointmentStatus = "hidden"
)

// IsValid returns true for a known appointment status.
func (s AppointmentStatus) IsValid() bool {
	switch s {
	case StatusScheduled, StatusCancelled, StatusCompleted, StatusNoShow, StatusHidden:
		return true
	}
	return false
}

// ExternalRef links an appointment to the external calendar event it was
// pushed to (or imported from).
type ExternalRef struct {
	ConnectionID uuid.UUID
	EventID      string
}

// Appointment is a scheduled interval between a clinician and a client.
// Blocked time is an Appointment of TypeBlocked with a nil client.
// This is an Aggregate Root that publishes domain events.
type Appointment struct {
	sharedDomain.BaseAggregateRoot
	clinicianID      uuid.UUID
	clientID         *uuid.UUID
	timeRange        TimeRange
	timezone         string // declared zone for display; instants are authoritative
	apptType         AppointmentType
	status           AppointmentStatus
	externalRef      *ExternalRef
	recurringGroupID *uuid.UUID
	notes            string
}

// NewAppointment creates a new scheduled appointment and records an
// AppointmentBookedEvent. Conflict checking against other appointments is the
// caller's responsibility (see application.ConflictChecker); this constructor
// only enforces row-local invariants.
func NewAppointment(
	clinicianID uuid.UUID,
	clientID *uuid.UUID,
	timeRange TimeRange,
	timezone string,
	apptType AppointmentType,
) (*Appointment, error) {
	if clinicianID == uuid.Nil {
		return nil, ErrEmptyClinicianID
	}
	if err := timeRange.Validate(); err != nil {
		return nil, err
	}
	if _, err := time.LoadLocation(timezone); err != nil || strings.TrimSpace(timezone) == "" {
		return nil, ErrInvalidTimezone
	}
	if !apptType.IsValid() {
		return nil, ErrInvalidType
	}
	if apptType == TypeBlocked && clientID != nil {
		return nil, ErrBlockedNeedsNoClient
	}

	a := &Appointment{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		clinicianID:       clinicianID,
		clientID:          clientID,
		timeRange:         timeRange,
		timezone:          timezone,
		apptType:          apptType,
		status:            StatusScheduled,
	}

	a.AddDomainEvent(NewAppointmentBookedEvent(a.ID(), clinicianID, timeRange, apptType))
	return a, nil
}

// NewBlockedTime creates a blocked-out interval for a clinician.
func NewBlockedTime(clinicianID uuid.UUID, timeRange TimeRange, timezone, reason string) (*Appointment, error) {
	a, err := NewAppointment(clinicianID, nil, timeRange, timezone, TypeBlocked)
	if err != nil {
		return nil, err
	}
	a.notes = reason
	return a, nil
}

// Getters
func (a *Appointment) ClinicianID() uuid.UUID       { return a.clinicianID }
func (a *Appointment) TimeRange() TimeRange         { return a.timeRange }
func (a *Appointment) Timezone() string             { return a.timezone }
func (a *Appointment) Type() AppointmentType        { return a.apptType }
func (a *Appointment) Status() AppointmentStatus    { return a.status }
func (a *Appointment) Notes() string                { return a.notes }

// ClientID returns the client reference, or nil for blocked time and
// placeholder rows.
func (a *Appointment) ClientID() *uuid.UUID {
	if a.clientID == nil {
		return nil
	}
	id := *a.clientID
	return &id
}

// ExternalRef returns the external event linkage, or nil when unlinked.
func (a *Appointment) ExternalRef() *ExternalRef {
	if a.externalRef == nil {
		return nil
	}
	ref := *a.externalRef
	return &ref
}

// RecurringGroupID returns the recurring-group linkage, or nil.
func (a *Appointment) RecurringGroupID() *uuid.UUID {
	if a.recurringGroupID == nil {
		return nil
	}
	id := *a.recurringGroupID
	return &id
}

// IsBlocking reports whether this row participates in overlap checks.
// Cancelled and hidden rows never block. Scheduled sessions, blocked time and
// completed appointments do.
func (a *Appointment) IsBlocking() bool {
	switch a.status {
	case StatusCancelled, StatusHidden, StatusNoShow:
		return false
	}
	return true
}

// Reschedule moves the appointment to a new time range.
func (a *Appointment) Reschedule(timeRange TimeRange) error {
	if err := timeRange.Validate(); err != nil {
		return err
	}
	old := a.timeRange
	a.timeRange = timeRange
	a.Touch()
	a.AddDomainEvent(NewAppointmentRescheduledEvent(a.ID(), a.clinicianID, old, timeRange))
	return nil
}

// Cancel marks the appointment cancelled. Cancelled rows stop blocking.
func (a *Appointment) Cancel() {
	if a.status != StatusCancelled {
		a.status = StatusCancelled
		a.Touch()
		a.AddDomainEvent(NewAppointmentCancelledEvent(a.ID(), a.clinicianID, a.timeRange))
	}
}

// Complete marks the appointment completed.
func (a *Appointment) Complete() {
	if a.status == StatusScheduled {
		a.status = StatusCompleted
		a.Touch()
	}
}

// MarkNoShow marks the client as a no-show.
func (a *Appointment) MarkNoShow() {
	if a.status == StatusScheduled {
		a.status = StatusNoShow
		a.Touch()
	}
}

// Hide removes the appointment from calendar views without deleting it.
func (a *Appointment) Hide() {
	if a.status != StatusHidden {
		a.status = StatusHidden
		a.Touch()
	}
}

// SetNotes replaces the free-text notes.
func (a *Appointment) SetNotes(notes string) {
	if a.notes != notes {
		a.notes = notes
		a.Touch()
	}
}

// LinkExternal records the external calendar event this appointment was
// synced with.
func (a *Appointment) LinkExternal(connectionID uuid.UUID, eventID string) {
	a.externalRef = &ExternalRef{ConnectionID: connectionID, EventID: eventID}
	a.Touch()
}

// UnlinkExternal removes the external event linkage, e.g. after a connection
// is disconnected.
func (a *Appointment) UnlinkExternal() {
	if a.externalRef != nil {
		a.externalRef = nil
		a.Touch()
	}
}

// SetRecurringGroup attaches the appointment to a recurring series.
func (a *Appointment) SetRecurringGroup(groupID uuid.UUID) {
	a.recurringGroupID = &groupID
	a.Touch()
}

// RehydrateAppointment recreates an appointment from persisted state.
func RehydrateAppointment(
	id uuid.UUID,
	clinicianID uuid.UUID,
	clientID *uuid.UUID,
	timeRange TimeRange,
	timezone string,
	apptType AppointmentType,
	status AppointmentStatus,
	externalRef *ExternalRef,
	recurringGroupID *uuid.UUID,
	notes string,
	createdAt, updatedAt time.Time,
	version int,
) *Appointment {
	return &Appointment{
		BaseAggregateRoot: sharedDomain.RehydrateBaseAggregateRoot(
			sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt), version),
		clinicianID:      clinicianID,
		clientID:         clientID,
		timeRange:        timeRange,
		timezone:         timezone,
		apptType:         apptType,
		status:           status,
		externalRef:      externalRef,
		recurringGroupID: recurringGroupID,
		notes:            notes,
	}
}

// AppointmentRepository defines persistence for appointments.
type AppointmentRepository interface {
	// Save persists an appointment (create or update).
	Save(ctx context.Context, appt *Appointment) error

	// FindByID retrieves an appointment by ID.
	FindByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// FindByClinicianRange retrieves all appointments for a clinician whose
	// range overlaps the window, regardless of status.
	FindByClinicianRange(ctx context.Context, clinicianID uuid.UUID, window TimeRange) ([]*Appointment, error)

	// FindBlockingInRange retrieves only rows that participate in overlap
	// checks (scheduled sessions, blocked time, completed appointments).
	FindBlockingInRange(ctx context.Context, clinicianID uuid.UUID, window TimeRange) ([]*Appointment, error)

	// FindByExternalRef looks up the appointment linked to an external event.
	FindByExternalRef(ctx context.Context, connectionID uuid.UUID, eventID string) (*Appointment, error)

	// Delete removes an appointment.
	Delete(ctx context.Context, id uuid.UUID) error
}
