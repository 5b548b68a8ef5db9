package application

import (
	"time"

	"github.com/meridianbh/cadence/internal/scheduling/domain"

	"github.com/google/uuid"
)

// CandidateKind identifies where a blocking candidate came from.
type CandidateKind string

const (
	// CandidateInternal is a local appointment or blocked-time row.
	CandidateInternal CandidateKind = "internal"
	// CandidateExternal is an event pulled from a connected calendar.
	CandidateExternal CandidateKind = "external"
)

// ExternalEventStatus mirrors the provider-side event status for policy checks.
type ExternalEventStatus string

const (
	ExternalConfirmed ExternalEventStatus = "confirmed"
	ExternalTentative ExternalEventStatus = "tentative"
	ExternalCancelled ExternalEventStatus = "cancelled"
)

// Candidate is one interval a proposed appointment is checked against.
type Candidate struct {
	Kind          CandidateKind
	Range         domain.TimeRange
	Summary       string
	AppointmentID *uuid.UUID          // set for internal candidates
	ConnectionID  *uuid.UUID          // set for external candidates
	EventID       string              // set for external candidates
	Status        ExternalEventStatus // external candidates only
	ModifiedAt    time.Time
}

// BlockingPolicy controls which external event statuses block scheduling.
// Tentative and cancelled events are excluded by default; this is policy, not
// a hardcoded exclusion, so practices that treat tentative holds as firm can
// opt in.
type BlockingPolicy struct {
	BlockTentative bool
	BlockCancelled bool
}

// DefaultBlockingPolicy blocks on confirmed external events only.
func DefaultBlockingPolicy() BlockingPolicy {
	return BlockingPolicy{BlockTentative: false, BlockCancelled: false}
}

// blocks reports whether a candidate participates in conflict checks under
// this policy. Internal candidates always block; callers filter non-blocking
// appointment statuses before building candidates.
func (p BlockingPolicy) blocks(c Candidate) bool {
	if c.Kind == CandidateInternal {
		return true
	}
	switch c.Status {
	case ExternalTentative:
		return p.BlockTentative
	case ExternalCancelled:
		return p.BlockCancelled
	}
	return true
}

// ConflictChecker performs timezone-normalized interval overlap checks.
type ConflictChecker struct {
	policy BlockingPolicy
}

// NewConflictChecker creates a checker with the given blocking policy.
func NewConflictChecker(policy BlockingPolicy) *ConflictChecker {
	return &ConflictChecker{policy: policy}
}

// CheckResult is the outcome of a first-match conflict check.
type CheckResult struct {
	Conflict bool
	With     *Candidate
}

// Check returns the first blocking candidate overlapping the proposed range.
// Used for append-only conflict avoidance; enumeration is not needed there.
func (c *ConflictChecker) Check(proposed domain.TimeRange, candidates []Candidate) CheckResult {
	for i := range candidates {
		if !c.policy.blocks(candidates[i]) {
			continue
		}
		if proposed.Overlaps(candidates[i].Range) {
			with := candidates[i]
			return CheckResult{Conflict: true, With: &with}
		}
	}
	return CheckResult{Conflict: false}
}

// Enumerate returns every blocking candidate overlapping the proposed range.
// Two-way sync reports all mismatches, not just the first.
func (c *ConflictChecker) Enumerate(proposed domain.TimeRange, candidates []Candidate) []Candidate {
	var hits []Candidate
	for i := range candidates {
		if !c.policy.blocks(candidates[i]) {
			continue
		}
		if proposed.Overlaps(candidates[i].Range) {
			hits = append(hits, candidates[i])
		}
	}
	return hits
}

// CandidatesFromAppointments converts blocking appointment rows into check
// candidates. Non-blocking rows (cancelled, hidden, no-show) are skipped, as
// is the appointment identified by exclude, so reschedules do not conflict
// with themselves.
func CandidatesFromAppointments(appts []*domain.Appointment, exclude uuid.UUID) []Candidate {
	candidates := make([]Candidate, 0, len(appts))
	for _, appt := range appts {
		if !appt.IsBlocking() || appt.ID() == exclude {
			continue
		}
		id := appt.ID()
		candidates = append(candidates, Candidate{
			Kind:          CandidateInternal,
			Range:         appt.TimeRange(),
			Summary:       string(appt.Type()),
			AppointmentID: &id,
			ModifiedAt:    appt.UpdatedAt(),
		})
	}
	return candidates
}
