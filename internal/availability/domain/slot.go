package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"

	"github.com/google/uuid"
)

// Domain errors for Slot validation.
var (
	ErrEmptyClinicianID  = errors.New("clinician ID cannot be empty")
	ErrInvalidSlotNumber = errors.New("slot number must be between 1 and 3")
	ErrInvalidSlotTimes  = errors.New("slot end time must be after start time")
	ErrInvalidTimezone   = errors.New("invalid IANA timezone")
)

// TransitionError reports an illegal sync-status transition.
type TransitionError struct {
	From SyncStatus
	To   SyncStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal slot transition %s -> %s", e.From, e.To)
}

// SyncStatus tracks a slot's state against the external calendar.
//
// pending -> {synced, failed}
// synced  -> {conflict, pending (on local edit)}
// failed  -> pending (manual retry)
// conflict -> pending (manual resolve); terminal until then
type SyncStatus string

const (
	SyncPending  SyncStatus = "pending"
	SyncSynced   SyncStatus = "synced"
	SyncFailed   SyncStatus = "failed"
	SyncConflict SyncStatus = "conflict"
)

// Slot is a weekly-recurring availability interval for a clinician.
// Times are wall-clock minutes from midnight in the slot's zone; concrete
// occurrences are materialized per date so DST days come out right.
type Slot struct {
	sharedDomain.BaseAggregateRoot
	clinicianID uuid.UUID
	weekday     time.Weekday
	slotNumber  int // 1-3, a clinician's standing slots per day
	startMinute int
	endMinute   int
	timezone    string
	syncStatus  SyncStatus
	lastError   string
}

// NewSlot creates a recurring availability slot in the pending sync state.
func NewSlot(clinicianID uuid.UUID, weekday time.Weekday, slotNumber, startMinute, endMinute int, timezone string) (*Slot, error) {
	if clinicianID == uuid.Nil {
		return nil, ErrEmptyClinicianID
	}
	if slotNumber < 1 || slotNumber > 3 {
		return nil, ErrInvalidSlotNumber
	}
	if startMinute < 0 || endMinute > 24*60 || endMinute <= startMinute {
		return nil, ErrInvalidSlotTimes
	}
	if _, err := time.LoadLocation(timezone); err != nil || timezone == "" {
		return nil, ErrInvalidTimezone
	}

	s := &Slot{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		clinicianID:       clinicianID,
		weekday:           weekday,
		slotNumber:        slotNumber,
		startMinute:       startMinute,
		endMinute:         endMinute,
		timezone:          timezone,
		syncStatus:        SyncPending,
	}
	s.AddDomainEvent(NewSlotStatusChangedEvent(s.ID(), clinicianID, "", SyncPending))
	return s, nil
}

// Getters
func (s *Slot) ClinicianID() uuid.UUID { return s.clinicianID }
func (s *Slot) Weekday() time.Weekday  { return s.weekday }
func (s *Slot) SlotNumber() int        { return s.slotNumber }
func (s *Slot) StartMinute() int       { return s.startMinute }
func (s *Slot) EndMinute() int         { return s.endMinute }
func (s *Slot) Timezone() string       { return s.timezone }
func (s *Slot) SyncStatus() SyncStatus { return s.syncStatus }
func (s *Slot) LastError() string      { return s.lastError }

// MarkSynced records a successful external push.
func (s *Slot) MarkSynced() error {
	if s.syncStatus != SyncPending {
		return &TransitionError{From: s.syncStatus, To: SyncSynced}
	}
	s.transition(SyncSynced)
	s.lastError = ""
	return nil
}

// MarkFailed records a failed push. Retry is left to the caller; nothing
// retries automatically.
func (s *Slot) MarkFailed(reason string) error {
	if s.syncStatus != SyncPending {
		return &TransitionError{From: s.syncStatus, To: SyncFailed}
	}
	s.transition(SyncFailed)
	s.lastError = reason
	return nil
}

// MarkConflict records that a later external read disagrees with the locally
// recorded state. Conflict is terminal until manually resolved.
func (s *Slot) MarkConflict() error {
	if s.syncStatus != SyncSynced {
		return &TransitionError{From: s.syncStatus, To: SyncConflict}
	}
	s.transition(SyncConflict)
	return nil
}

// Retry moves a failed slot back to pending. Manual operation.
func (s *Slot) Retry() error {
	if s.syncStatus != SyncFailed {
		return &TransitionError{From: s.syncStatus, To: SyncPending}
	}
	s.transition(SyncPending)
	return nil
}

// ResolveConflict returns a conflicted slot to pending after manual review.
func (s *Slot) ResolveConflict() error {
	if s.syncStatus != SyncConflict {
		return &TransitionError{From: s.syncStatus, To: SyncPending}
	}
	s.transition(SyncPending)
	return nil
}

// UpdateTimes edits the slot's interval. Editing a synced slot moves it back
// to pending so the change gets pushed again.
func (s *Slot) UpdateTimes(startMinute, endMinute int) error {
	if startMinute < 0 || endMinute > 24*60 || endMinute <= startMinute {
		return ErrInvalidSlotTimes
	}
	s.startMinute = startMinute
	s.endMinute = endMinute
	if s.syncStatus == SyncSynced {
		s.transition(SyncPending)
	} else {
		s.Touch()
	}
	return nil
}

func (s *Slot) transition(to SyncStatus) {
	from := s.syncStatus
	s.syncStatus = to
	s.Touch()
	s.AddDomainEvent(NewSlotStatusChangedEvent(s.ID(), s.clinicianID, from, to))
}

// Expand materializes the weekly pattern into concrete date-bound intervals
// within [from, to). Each occurrence is built from wall-clock time in the
// slot's zone, so a 09:00 slot stays 09:00 local across DST transitions.
func (s *Slot) Expand(from, to time.Time) ([]schedulingDomain.TimeRange, error) {
	if !to.After(from) {
		return nil, schedulingDomain.ErrInvalidTimeRange
	}
	loc, err := time.LoadLocation(s.timezone)
	if err != nil {
		return nil, ErrInvalidTimezone
	}

	var out []schedulingDomain.TimeRange
	day := from.In(loc)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	for !day.After(to.In(loc)) {
		if day.Weekday() == s.weekday {
			start := time.Date(day.Year(), day.Month(), day.Day(),
				s.startMinute/60, s.startMinute%60, 0, 0, loc)
			end := time.Date(day.Year(), day.Month(), day.Day(),
				s.endMinute/60, s.endMinute%60, 0, 0, loc)
			r := schedulingDomain.TimeRange{Start: start, End: end}
			window := schedulingDomain.TimeRange{Start: from, End: to}
			if r.Overlaps(window) {
				out = append(out, r)
			}
		}
		day = day.AddDate(0, 0, 1)
	}
	return out, nil
}

// RehydrateSlot recreates a slot from persisted state.
func RehydrateSlot(
	id uuid.UUID,
	clinicianID uuid.UUID,
	weekday time.Weekday,
	slotNumber, startMinute, endMinute int,
	timezone string,
	syncStatus SyncStatus,
	lastError string,
	createdAt, updatedAt time.Time,
	version int,
) *Slot {
	return &Slot{
		BaseAggregateRoot: sharedDomain.RehydrateBaseAggregateRoot(
			sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt), version),
		clinicianID: clinicianID,
		weekday:     weekday,
		slotNumber:  slotNumber,
		startMinute: startMinute,
		endMinute:   endMinute,
		timezone:    timezone,
		syncStatus:  syncStatus,
		lastError:   lastError,
	}
}

// SlotRepository defines persistence for recurring availability slots.
type SlotRepository interface {
	// Save persists a slot (create or update).
	Save(ctx context.Context, slot *Slot) error

	// FindByID retrieves a slot by ID.
	FindByID(ctx context.Context, id uuid.UUID) (*Slot, error)

	// FindByClinician retrieves all slots for a clinician.
	FindByClinician(ctx context.Context, clinicianID uuid.UUID) ([]*Slot, error)

	// FindByStatus retrieves a clinician's slots in a given sync status.
	FindByStatus(ctx context.Context, clinicianID uuid.UUID, status SyncStatus) ([]*Slot, error)

	// Delete removes a slot.
	Delete(ctx context.Context, id uuid.UUID) error
}
