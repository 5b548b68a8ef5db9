package domain

import (
	"context"
	"errors"
	"time"

	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"

	"github.com/google/uuid"
)

// Domain errors for SyncConflict.
var (
	ErrInvalidStrategy  = errors.New("invalid resolution strategy")
	ErrConflictResolved = errors.New("conflict is already resolved")
)

// ConflictKind classifies a detected local/external mismatch.
type ConflictKind string

const (
	// KindOverlap indicates an external event overlaps a local appointment.
	KindOverlap ConflictKind = "overlap"
	// KindModified indicates a synced appointment was changed externally.
	KindModified ConflictKind = "modified"
	// KindDeleted indicates a synced appointment was removed externally.
	KindDeleted ConflictKind = "deleted"
	// KindDoubleBooked indicates two local blocking rows overlap each other.
	KindDoubleBooked ConflictKind = "double_booked"
)

// ResolutionStrategy defines how a sync conflict should be resolved.
type ResolutionStrategy string

const (
	// StrategyLocalWins keeps the local appointment; the external side is
	// overwritten on the next push.
	StrategyLocalWins ResolutionStrategy = "local_wins"
	// StrategyExternalWins applies the external event over the local row.
	StrategyExternalWins ResolutionStrategy = "external_wins"
	// StrategyManual leaves the conflict for clinician review.
	StrategyManual ResolutionStrategy = "manual"
	// StrategyNewestWins applies whichever side was modified most recently.
	StrategyNewestWins ResolutionStrategy = "newest_wins"
)

// IsValid returns true for a known strategy.
func (s ResolutionStrategy) IsValid() bool {
	switch s {
	case StrategyLocalWins, StrategyExternalWins, StrategyManual, StrategyNewestWins:
		return true
	}
	return false
}

// ConflictSide is a snapshot of one side of a conflict at detection time.
type ConflictSide struct {
	// AppointmentID is set for the local side, EventID for the external side.
	AppointmentID *uuid.UUID
	ConnectionID  *uuid.UUID
	EventID       string
	Range         TimeRange
	Summary       string
	ModifiedAt    time.Time
}

// SyncConflict records a mismatch between local and external state for an
// interval. Unlike append-time conflict avoidance, two-way sync enumerates
// every mismatch, so conflicts are persisted until resolved.
type SyncConflict struct {
	sharedDomain.BaseEntity
	clinicianID uuid.UUID
	kind        ConflictKind
	local       ConflictSide
	external    ConflictSide
	strategy    ResolutionStrategy
	resolved    bool
	resolvedAt  *time.Time
}

// NewSyncConflict creates an unresolved conflict with the manual strategy.
func NewSyncConflict(clinicianID uuid.UUID, kind ConflictKind, local, external ConflictSide) *SyncConflict {
	return &SyncConflict{
		BaseEntity:  sharedDomain.NewBaseEntity(),
		clinicianID: clinicianID,
		kind:        kind,
		local:       local,
		external:    external,
		strategy:    StrategyManual,
	}
}

// Getters
func (c *SyncConflict) ClinicianID() uuid.UUID       { return c.clinicianID }
func (c *SyncConflict) Kind() ConflictKind           { return c.kind }
func (c *SyncConflict) Local() ConflictSide          { return c.local }
func (c *SyncConflict) External() ConflictSide       { return c.external }
func (c *SyncConflict) Strategy() ResolutionStrategy { return c.strategy }
func (c *SyncConflict) Resolved() bool               { return c.resolved }

// ResolvedAt returns when the conflict was resolved, or nil.
func (c *SyncConflict) ResolvedAt() *time.Time {
	if c.resolvedAt == nil {
		return nil
	}
	t := *c.resolvedAt
	return &t
}

// SetStrategy changes the resolution strategy of an unresolved conflict.
func (c *SyncConflict) SetStrategy(strategy ResolutionStrategy) error {
	if !strategy.IsValid() {
		return ErrInvalidStrategy
	}
	if c.resolved {
		return ErrConflictResolved
	}
	c.strategy = strategy
	c.Touch()
	return nil
}

// Winner returns which side the current strategy favors, or nil for manual.
func (c *SyncConflict) Winner() *ConflictSide {
	switch c.strategy {
	case StrategyLocalWins:
		side := c.local
		return &side
	case StrategyExternalWins:
		side := c.external
		return &side
	case StrategyNewestWins:
		if c.external.ModifiedAt.After(c.local.ModifiedAt) {
			side := c.external
			return &side
		}
		side := c.local
		return &side
	}
	return nil
}

// Resolve marks the conflict resolved.
func (c *SyncConflict) Resolve() {
	if !c.resolved {
		c.resolved = true
		now := time.Now().UTC()
		c.resolvedAt = &now
		c.Touch()
	}
}

// RehydrateSyncConflict recreates a conflict from persisted state.
func RehydrateSyncConflict(
	id uuid.UUID,
	clinicianID uuid.UUID,
	kind ConflictKind,
	local, external ConflictSide,
	strategy ResolutionStrategy,
	resolved bool,
	resolvedAt *time.Time,
	createdAt, updatedAt time.Time,
) *SyncConflict {
	return &SyncConflict{
		BaseEntity:  sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt),
		clinicianID: clinicianID,
		kind:        kind,
		local:       local,
		external:    external,
		strategy:    strategy,
		resolved:    resolved,
		resolvedAt:  resolvedAt,
	}
}

// ConflictRepository defines persistence for sync conflicts.
type ConflictRepository interface {
	// Save persists a conflict (create or update).
	Save(ctx context.Context, conflict *SyncConflict) error

	// FindByID retrieves a conflict by ID.
	FindByID(ctx context.Context, id uuid.UUID) (*SyncConflict, error)

	// FindUnresolved retrieves pending conflicts for a clinician.
	FindUnresolved(ctx context.Context, clinicianID uuid.UUID) ([]*SyncConflict, error)

	// Delete removes a conflict.
	Delete(ctx context.Context, id uuid.UUID) error
}
