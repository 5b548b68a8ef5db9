package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianbh/cadence/internal/availability/domain"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"

	"github.com/google/uuid"
)

// SlotGateway pushes slot occurrences to the external calendar and reads the
// external side back for verification.
type SlotGateway interface {
	// Push writes the slot's occurrences within the window to the external
	// calendar.
	Push(ctx context.Context, slot *domain.Slot, occurrences []schedulingDomain.TimeRange) error

	// Verify reports whether the external side still matches the slot's
	// occurrences within the window.
	Verify(ctx context.Context, slot *domain.Slot, occurrences []schedulingDomain.TimeRange) (bool, error)
}

// ReconcileResult summarizes one reconcile pass.
type ReconcileResult struct {
	Pushed    int
	Failed    int
	Conflicts int
}

// Reconciler maintains per-slot sync status against the external calendar.
// Push failures stay failed until a manual retry; conflicts stay conflicted
// until a manual resolve.
type Reconciler struct {
	slots   domain.SlotRepository
	gateway SlotGateway
	logger  *slog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(slots domain.SlotRepository, gateway SlotGateway, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{slots: slots, gateway: gateway, logger: logger}
}

// PushPending pushes every pending slot for the clinician, expanding each
// into concrete occurrences over the window.
func (r *Reconciler) PushPending(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) (*ReconcileResult, error) {
	pending, err := r.slots.FindByStatus(ctx, clinicianID, domain.SyncPending)
	if err != nil {
		return nil, fmt.Errorf("load pending slots: %w", err)
	}

	result := &ReconcileResult{}
	for _, slot := range pending {
		occurrences, err := slot.Expand(from, to)
		if err != nil {
			return nil, fmt.Errorf("expand slot %s: %w", slot.ID(), err)
		}

		if pushErr := r.gateway.Push(ctx, slot, occurrences); pushErr != nil {
			if err := slot.MarkFailed(pushErr.Error()); err != nil {
				return nil, err
			}
			result.Failed++
			r.logger.Warn("slot push failed",
				"slot_id", slot.ID(), "clinician_id", clinicianID, "error", pushErr)
		} else {
			if err := slot.MarkSynced(); err != nil {
				return nil, err
			}
			result.Pushed++
		}

		if err := r.slots.Save(ctx, slot); err != nil {
			return nil, fmt.Errorf("save slot %s: %w", slot.ID(), err)
		}
	}
	return result, nil
}

// VerifySynced re-reads the external side for every synced slot and marks
// mismatches as conflicts.
func (r *Reconciler) VerifySynced(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) (*ReconcileResult, error) {
	synced, err := r.slots.FindByStatus(ctx, clinicianID, domain.SyncSynced)
	if err != nil {
		return nil, fmt.Errorf("load synced slots: %w", err)
	}

	result := &ReconcileResult{}
	for _, slot := range synced {
		occurrences, err := slot.Expand(from, to)
		if err != nil {
			return nil, fmt.Errorf("expand slot %s: %w", slot.ID(), err)
		}

		matches, verifyErr := r.gateway.Verify(ctx, slot, occurrences)
		if verifyErr != nil {
			// Verification failures are transient; the slot stays synced and
			// the next pass tries again.
			r.logger.Warn("slot verification failed",
				"slot_id", slot.ID(), "error", verifyErr)
			continue
		}
		if matches {
			continue
		}

		if err := slot.MarkConflict(); err != nil {
			return nil, err
		}
		if err := r.slots.Save(ctx, slot); err != nil {
			return nil, fmt.Errorf("save slot %s: %w", slot.ID(), err)
		}
		result.Conflicts++
		r.logger.Warn("slot diverged from external calendar",
			"slot_id", slot.ID(), "clinician_id", clinicianID)
	}
	return result, nil
}

// Retry moves a failed slot back to pending.
func (r *Reconciler) Retry(ctx context.Context, slotID uuid.UUID) error {
	return r.mutate(ctx, slotID, (*domain.Slot).Retry)
}

// ResolveConflict returns a conflicted slot to pending after manual review.
func (r *Reconciler) ResolveConflict(ctx context.Context, slotID uuid.UUID) error {
	return r.mutate(ctx, slotID, (*domain.Slot).ResolveConflict)
}

func (r *Reconciler) mutate(ctx context.Context, slotID uuid.UUID, op func(*domain.Slot) error) error {
	slot, err := r.slots.FindByID(ctx, slotID)
	if err != nil {
		return err
	}
	if err := op(slot); err != nil {
		return err
	}
	return r.slots.Save(ctx, slot)
}
