package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridianbh/cadence/internal/calendar/domain"
	schedulingApp "github.com/meridianbh/cadence/internal/scheduling/application"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
)

// EventPublisher publishes serialized domain events.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
}

// SyncReport summarizes one two-way sync pass over a window.
type SyncReport struct {
	ExternalEvents int
	NewConflicts   []*schedulingDomain.SyncConflict
	FetchErrors    []*ProviderFetchError
}

// SyncService runs the two-way comparison: it pulls external events for a
// window, lines them up against local appointments, and persists a
// SyncConflict for every mismatch. All mismatches in the window are
// enumerated, not just the first.
type SyncService struct {
	fetcher   *EventFetcher
	appts     schedulingDomain.AppointmentRepository
	conflicts schedulingDomain.ConflictRepository
	checker   *schedulingApp.ConflictChecker
	policy    schedulingApp.BlockingPolicy
	publisher EventPublisher
	logger    *slog.Logger
}

// NewSyncService creates a sync service.
func NewSyncService(
	fetcher *EventFetcher,
	appts schedulingDomain.AppointmentRepository,
	conflicts schedulingDomain.ConflictRepository,
	policy schedulingApp.BlockingPolicy,
	publisher EventPublisher,
	logger *slog.Logger,
) *SyncService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyncService{
		fetcher:   fetcher,
		appts:     appts,
		conflicts: conflicts,
		checker:   schedulingApp.NewConflictChecker(policy),
		policy:    policy,
		publisher: publisher,
		logger:    logger,
	}
}

// SyncWindow fetches external events for the window and enumerates conflicts
// against local state. Detected kinds:
//
//   - modified: a linked external event's interval no longer matches the
//     local appointment
//   - deleted: a linked external event is gone from a connection that
//     fetched successfully
//   - overlap: an unlinked external event overlaps a blocking local row
//   - double_booked: two blocking local rows overlap each other
//
// Conflicts already open for the same pair are not duplicated. Fetch errors
// are carried in the report; they never abort the pass.
func (s *SyncService) SyncWindow(ctx context.Context, clinicianID uuid.UUID, window schedulingDomain.TimeRange) (*SyncReport, error) {
	fetched, err := s.fetcher.FetchWindow(ctx, clinicianID, window)
	if err != nil {
		return nil, fmt.Errorf("fetch window: %w", err)
	}

	local, err := s.appts.FindByClinicianRange(ctx, clinicianID, window)
	if err != nil {
		return nil, fmt.Errorf("load local appointments: %w", err)
	}

	open, err := s.conflicts.FindUnresolved(ctx, clinicianID)
	if err != nil {
		return nil, fmt.Errorf("load open conflicts: %w", err)
	}
	seen := make(map[string]bool, len(open))
	for _, c := range open {
		seen[conflictKey(c.Kind(), c.Local(), c.External())] = true
	}

	report := &SyncReport{
		ExternalEvents: len(fetched.Events),
		FetchErrors:    fetched.Errors,
	}

	linked := make(map[string]*schedulingDomain.Appointment)
	for _, appt := range local {
		if ref := appt.ExternalRef(); ref != nil {
			linked[externalKey(ref.ConnectionID, ref.EventID)] = appt
		}
	}

	fetchedIDs := make(map[string]bool, len(fetched.Events))
	failedConns := make(map[uuid.UUID]bool, len(fetched.Errors))
	for _, fe := range fetched.Errors {
		failedConns[fe.ConnectionID] = true
	}

	blocking := schedulingApp.CandidatesFromAppointments(local, uuid.Nil)

	for _, event := range fetched.Events {
		fetchedIDs[externalKey(event.ConnectionID, event.ExternalID)] = true

		if appt, ok := linked[externalKey(event.ConnectionID, event.ExternalID)]; ok {
			if !appt.TimeRange().Equal(event.Range()) {
				s.record(report, seen, newModifiedConflict(clinicianID, appt, event))
			}
			continue
		}

		candidate := candidateFromEvent(event)
		if !s.eventBlocks(candidate) {
			continue
		}
		for _, hit := range s.checker.Enumerate(event.Range(), blocking) {
			s.record(report, seen, newOverlapConflict(clinicianID, hit, event))
		}
	}

	for _, appt := range local {
		ref := appt.ExternalRef()
		if ref == nil || !appt.IsBlocking() {
			continue
		}
		if failedConns[ref.ConnectionID] {
			// The connection did not answer; absence proves nothing.
			continue
		}
		if !fetchedIDs[externalKey(ref.ConnectionID, ref.EventID)] {
			s.record(report, seen, newDeletedConflict(clinicianID, appt))
		}
	}

	for i := 0; i < len(blocking); i++ {
		for j := i + 1; j < len(blocking); j++ {
			if blocking[i].Range.Overlaps(blocking[j].Range) {
				s.record(report, seen, newDoubleBookedConflict(clinicianID, blocking[i], blocking[j]))
			}
		}
	}

	for _, conflict := range report.NewConflicts {
		if err := s.conflicts.Save(ctx, conflict); err != nil {
			return nil, fmt.Errorf("save conflict: %w", err)
		}
		event := schedulingDomain.NewConflictDetectedEvent(
			conflict.ID(), clinicianID, conflict.Kind(), conflict.Local().Range, conflict.External().Range)
		s.publish(ctx, event)
	}

	s.logger.Info("sync pass complete",
		"clinician_id", clinicianID,
		"events", report.ExternalEvents,
		"new_conflicts", len(report.NewConflicts),
		"fetch_errors", len(report.FetchErrors),
	)
	return report, nil
}

// Resolve applies a strategy to an open conflict and marks it resolved. The
// caller applies the winning side's data; this only settles the record.
func (s *SyncService) Resolve(ctx context.Context, conflictID uuid.UUID, strategy schedulingDomain.ResolutionStrategy) (*schedulingDomain.SyncConflict, error) {
	conflict, err := s.conflicts.FindByID(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	if conflict.Resolved() {
		return nil, schedulingDomain.ErrConflictResolved
	}
	if err := conflict.SetStrategy(strategy); err != nil {
		return nil, err
	}
	conflict.Resolve()
	if err := s.conflicts.Save(ctx, conflict); err != nil {
		return nil, fmt.Errorf("save conflict: %w", err)
	}
	return conflict, nil
}

// OpenConflicts lists unresolved conflicts for a clinician.
func (s *SyncService) OpenConflicts(ctx context.Context, clinicianID uuid.UUID) ([]*schedulingDomain.SyncConflict, error) {
	return s.conflicts.FindUnresolved(ctx, clinicianID)
}

func (s *SyncService) publish(ctx context.Context, event sharedDomain.DomainEvent) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(event)
	if err != nil {
		s.logger.Warn("failed to marshal domain event", "routing_key", event.RoutingKey(), "error", err)
		return
	}
	if err := s.publisher.Publish(ctx, event.RoutingKey(), payload); err != nil {
		s.logger.Warn("failed to publish domain event", "routing_key", event.RoutingKey(), "error", err)
	}
}

func (s *SyncService) record(report *SyncReport, seen map[string]bool, conflict *schedulingDomain.SyncConflict) {
	key := conflictKey(conflict.Kind(), conflict.Local(), conflict.External())
	if seen[key] {
		return
	}
	seen[key] = true
	report.NewConflicts = append(report.NewConflicts, conflict)
}

func (s *SyncService) eventBlocks(candidate schedulingApp.Candidate) bool {
	// A throwaway check against the event itself applies the status policy
	// without re-implementing it here.
	result := s.checker.Check(candidate.Range, []schedulingApp.Candidate{candidate})
	return result.Conflict
}

// conflictKey identifies a conflict by kind and both sides. Double-booked
// conflicts carry a second appointment (not an external event) in the
// external side, so the key falls back to that appointment ID when the
// event ID is empty; every overlapping pair keys separately.
func conflictKey(kind schedulingDomain.ConflictKind, local, external schedulingDomain.ConflictSide) string {
	return string(kind) + "|" + sideKey(local) + "|" + sideKey(external)
}

func sideKey(side schedulingDomain.ConflictSide) string {
	if side.EventID != "" {
		return side.EventID
	}
	if side.AppointmentID != nil {
		return side.AppointmentID.String()
	}
	return ""
}

func externalKey(connectionID uuid.UUID, eventID string) string {
	return connectionID.String() + "|" + eventID
}

func candidateFromEvent(event domain.SyncedEvent) schedulingApp.Candidate {
	connID := event.ConnectionID
	return schedulingApp.Candidate{
		Kind:         schedulingApp.CandidateExternal,
		Range:        event.Range(),
		Summary:      event.Title,
		ConnectionID: &connID,
		EventID:      event.ExternalID,
		Status:       schedulingApp.ExternalEventStatus(event.Status),
	}
}

func newModifiedConflict(clinicianID uuid.UUID, appt *schedulingDomain.Appointment, event domain.SyncedEvent) *schedulingDomain.SyncConflict {
	apptID := appt.ID()
	connID := event.ConnectionID
	local := schedulingDomain.ConflictSide{
		AppointmentID: &apptID,
		Range:         appt.TimeRange(),
		Summary:       string(appt.Type()),
		ModifiedAt:    appt.UpdatedAt(),
	}
	external := schedulingDomain.ConflictSide{
		ConnectionID: &connID,
		EventID:      event.ExternalID,
		Range:        event.Range(),
		Summary:      event.Title,
	}
	return schedulingDomain.NewSyncConflict(clinicianID, schedulingDomain.KindModified, local, external)
}

func newDeletedConflict(clinicianID uuid.UUID, appt *schedulingDomain.Appointment) *schedulingDomain.SyncConflict {
	apptID := appt.ID()
	ref := appt.ExternalRef()
	connID := ref.ConnectionID
	local := schedulingDomain.ConflictSide{
		AppointmentID: &apptID,
		Range:         appt.TimeRange(),
		Summary:       string(appt.Type()),
		ModifiedAt:    appt.UpdatedAt(),
	}
	external := schedulingDomain.ConflictSide{
		ConnectionID: &connID,
		EventID:      ref.EventID,
	}
	return schedulingDomain.NewSyncConflict(clinicianID, schedulingDomain.KindDeleted, local, external)
}

func newOverlapConflict(clinicianID uuid.UUID, hit schedulingApp.Candidate, event domain.SyncedEvent) *schedulingDomain.SyncConflict {
	connID := event.ConnectionID
	local := schedulingDomain.ConflictSide{
		AppointmentID: hit.AppointmentID,
		Range:         hit.Range,
		Summary:       hit.Summary,
		ModifiedAt:    hit.ModifiedAt,
	}
	external := schedulingDomain.ConflictSide{
		ConnectionID: &connID,
		EventID:      event.ExternalID,
		Range:        event.Range(),
		Summary:      event.Title,
	}
	return schedulingDomain.NewSyncConflict(clinicianID, schedulingDomain.KindOverlap, local, external)
}

func newDoubleBookedConflict(clinicianID uuid.UUID, a, b schedulingApp.Candidate) *schedulingDomain.SyncConflict {
	local := schedulingDomain.ConflictSide{
		AppointmentID: a.AppointmentID,
		Range:         a.Range,
		Summary:       a.Summary,
		ModifiedAt:    a.ModifiedAt,
	}
	other := schedulingDomain.ConflictSide{
		AppointmentID: b.AppointmentID,
		Range:         b.Range,
		Summary:       b.Summary,
		ModifiedAt:    b.ModifiedAt,
	}
	return schedulingDomain.NewSyncConflict(clinicianID, schedulingDomain.KindDoubleBooked, local, other)
}
