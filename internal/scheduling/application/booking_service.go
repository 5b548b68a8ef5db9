package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridianbh/cadence/internal/scheduling/domain"

	"github.com/google/uuid"
)

// EventPublisher publishes serialized domain events. Kept minimal so the
// service does not depend on the broker implementation.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
}

// BookingRequest describes a requested appointment.
type BookingRequest struct {
	ClinicianID uuid.UUID
	ClientID    *uuid.UUID
	Range       domain.TimeRange
	Timezone    string
	Type        domain.AppointmentType
	Notes       string

	// Override skips conflict avoidance. Used when a clinician explicitly
	// double-books (e.g. group sessions sharing a room).
	Override bool
}

// BookingService creates and mutates appointments with conflict avoidance.
type BookingService struct {
	appts     domain.AppointmentRepository
	checker   *ConflictChecker
	publisher EventPublisher
	logger    *slog.Logger
}

// NewBookingService creates a booking service.
func NewBookingService(appts domain.AppointmentRepository, checker *ConflictChecker, logger *slog.Logger) *BookingService {
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		checker = NewConflictChecker(DefaultBlockingPolicy())
	}
	return &BookingService{appts: appts, checker: checker, logger: logger}
}

// WithPublisher attaches an event publisher. Without one, domain events are
// dropped after save.
func (s *BookingService) WithPublisher(publisher EventPublisher) *BookingService {
	s.publisher = publisher
	return s
}

// Book validates the request, checks the clinician's calendar for overlaps
// and persists the appointment. Returns *ValidationError for malformed input
// and *ConflictError when a blocking row occupies the interval.
func (s *BookingService) Book(ctx context.Context, req BookingRequest) (*domain.Appointment, error) {
	appt, err := domain.NewAppointment(req.ClinicianID, req.ClientID, req.Range, req.Timezone, req.Type)
	if err != nil {
		return nil, validationError(err)
	}
	if req.Notes != "" {
		appt.SetNotes(req.Notes)
	}

	if !req.Override {
		if err := s.ensureFree(ctx, req.ClinicianID, req.Range, uuid.Nil); err != nil {
			return nil, err
		}
	}

	if err := s.appts.Save(ctx, appt); err != nil {
		return nil, fmt.Errorf("save appointment: %w", err)
	}
	s.publishEvents(ctx, appt)

	s.logger.Info("appointment booked",
		"appointment_id", appt.ID(),
		"clinician_id", req.ClinicianID,
		"type", req.Type,
		"range", req.Range.String(),
	)
	return appt, nil
}

// BlockTime creates a blocked interval for a clinician. Blocked rows are the
// conflict source for later bookings, so they get the same overlap check.
func (s *BookingService) BlockTime(ctx context.Context, clinicianID uuid.UUID, r domain.TimeRange, timezone, reason string) (*domain.Appointment, error) {
	appt, err := domain.NewBlockedTime(clinicianID, r, timezone, reason)
	if err != nil {
		return nil, validationError(err)
	}
	if err := s.ensureFree(ctx, clinicianID, r, uuid.Nil); err != nil {
		return nil, err
	}
	if err := s.appts.Save(ctx, appt); err != nil {
		return nil, fmt.Errorf("save blocked time: %w", err)
	}
	s.publishEvents(ctx, appt)
	return appt, nil
}

// Reschedule moves an appointment, re-checking conflicts at the new interval.
// The appointment itself is excluded from the check.
func (s *BookingService) Reschedule(ctx context.Context, apptID uuid.UUID, newRange domain.TimeRange) (*domain.Appointment, error) {
	appt, err := s.appts.FindByID(ctx, apptID)
	if err != nil {
		return nil, err
	}
	if err := newRange.Validate(); err != nil {
		return nil, validationError(err)
	}
	if err := s.ensureFree(ctx, appt.ClinicianID(), newRange, apptID); err != nil {
		return nil, err
	}
	if err := appt.Reschedule(newRange); err != nil {
		return nil, validationError(err)
	}
	if err := s.appts.Save(ctx, appt); err != nil {
		return nil, fmt.Errorf("save rescheduled appointment: %w", err)
	}
	s.publishEvents(ctx, appt)
	return appt, nil
}

// Cancel marks an appointment cancelled.
func (s *BookingService) Cancel(ctx context.Context, apptID uuid.UUID) (*domain.Appointment, error) {
	appt, err := s.appts.FindByID(ctx, apptID)
	if err != nil {
		return nil, err
	}
	appt.Cancel()
	if err := s.appts.Save(ctx, appt); err != nil {
		return nil, fmt.Errorf("save cancelled appointment: %w", err)
	}
	s.publishEvents(ctx, appt)
	return appt, nil
}

// publishEvents drains the aggregate's events onto the bus. Publish failures
// are logged, not returned; the appointment is already persisted.
func (s *BookingService) publishEvents(ctx context.Context, appt *domain.Appointment) {
	events := appt.DomainEvents()
	appt.ClearDomainEvents()
	if s.publisher == nil {
		return
	}
	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			s.logger.Warn("failed to marshal domain event", "routing_key", event.RoutingKey(), "error", err)
			continue
		}
		if err := s.publisher.Publish(ctx, event.RoutingKey(), payload); err != nil {
			s.logger.Warn("failed to publish domain event", "routing_key", event.RoutingKey(), "error", err)
		}
	}
}

// ensureFree checks the proposed range against the clinician's blocking rows.
func (s *BookingService) ensureFree(ctx context.Context, clinicianID uuid.UUID, r domain.TimeRange, exclude uuid.UUID) error {
	existing, err := s.appts.FindBlockingInRange(ctx, clinicianID, r)
	if err != nil {
		return fmt.Errorf("load blocking appointments: %w", err)
	}
	result := s.checker.Check(r, CandidatesFromAppointments(existing, exclude))
	if result.Conflict {
		return &ConflictError{Proposed: r, With: *result.With}
	}
	return nil
}

func validationError(err error) error {
	field := "request"
	switch {
	case errors.Is(err, domain.ErrEmptyClinicianID):
		field = "clinician_id"
	case errors.Is(err, domain.ErrInvalidTimeRange):
		field = "time_range"
	case errors.Is(err, domain.ErrInvalidTimezone):
		field = "timezone"
	case errors.Is(err, domain.ErrInvalidType):
		field = "type"
	case errors.Is(err, domain.ErrBlockedNeedsNoClient):
		field = "client_id"
	}
	return &ValidationError{Field: field, Reason: err.Error()}
}
