// Package workers contains background loops driving periodic calendar sync.
package workers

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	availabilityApp "github.com/meridianbh/cadence/internal/availability/application"
	"github.com/meridianbh/cadence/internal/calendar/application"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
)

// DefaultSyncInterval is the default pause between sync cycles.
const DefaultSyncInterval = 5 * time.Minute

// DefaultLookAheadDays is how far ahead each cycle compares calendars.
const DefaultLookAheadDays = 14

// OwnerSource lists clinicians that have at least one active connection.
type OwnerSource interface {
	ActiveOwners(ctx context.Context) ([]uuid.UUID, error)
}

// Syncer runs one two-way sync pass for a clinician.
type Syncer interface {
	SyncWindow(ctx context.Context, clinicianID uuid.UUID, window schedulingDomain.TimeRange) (*application.SyncReport, error)
}

// SlotReconciler maintains availability slot sync status.
type SlotReconciler interface {
	PushPending(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) (*availabilityApp.ReconcileResult, error)
	VerifySynced(ctx context.Context, clinicianID uuid.UUID, from, to time.Time) (*availabilityApp.ReconcileResult, error)
}

// SyncWorkerConfig configures the sync worker.
type SyncWorkerConfig struct {
	Interval      time.Duration
	LookAheadDays int
}

// DefaultSyncWorkerConfig returns the default configuration.
func DefaultSyncWorkerConfig() SyncWorkerConfig {
	return SyncWorkerConfig{
		Interval:      DefaultSyncInterval,
		LookAheadDays: DefaultLookAheadDays,
	}
}

// SyncWorker periodically runs a two-way sync pass and availability
// reconciliation for every clinician with active connections.
type SyncWorker struct {
	owners     OwnerSource
	sync       Syncer
	reconciler SlotReconciler
	config     SyncWorkerConfig
	logger     *slog.Logger
	running    atomic.Bool
	stopCh     chan struct{}
}

// NewSyncWorker creates a sync worker.
func NewSyncWorker(
	owners OwnerSource,
	sync Syncer,
	reconciler SlotReconciler,
	config SyncWorkerConfig,
	logger *slog.Logger,
) *SyncWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Interval <= 0 {
		config.Interval = DefaultSyncInterval
	}
	if config.LookAheadDays <= 0 {
		config.LookAheadDays = DefaultLookAheadDays
	}
	return &SyncWorker{
		owners:     owners,
		sync:       sync,
		reconciler: reconciler,
		config:     config,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Run starts the worker and blocks until the context is cancelled or Stop is
// called. The first cycle runs immediately.
func (w *SyncWorker) Run(ctx context.Context) error {
	w.running.Store(true)
	w.logger.Info("sync worker started",
		"interval", w.config.Interval,
		"look_ahead_days", w.config.LookAheadDays,
	)

	w.runCycle(ctx)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.running.Store(false)
			w.logger.Info("sync worker stopped (context cancelled)")
			return ctx.Err()
		case <-w.stopCh:
			w.running.Store(false)
			w.logger.Info("sync worker stopped (stop signal)")
			return nil
		case <-ticker.C:
			w.runCycle(ctx)
		}
	}
}

// Stop signals the worker to stop gracefully.
func (w *SyncWorker) Stop() {
	if w.running.Load() {
		close(w.stopCh)
	}
}

// IsRunning returns true while Run is active.
func (w *SyncWorker) IsRunning() bool {
	return w.running.Load()
}

// ForceSync runs one pass for a single clinician outside the schedule.
func (w *SyncWorker) ForceSync(ctx context.Context, clinicianID uuid.UUID) (*application.SyncReport, error) {
	window, err := w.window()
	if err != nil {
		return nil, err
	}
	report, err := w.sync.SyncWindow(ctx, clinicianID, window)
	if err != nil {
		return nil, err
	}
	w.reconcile(ctx, clinicianID, window)
	return report, nil
}

func (w *SyncWorker) runCycle(ctx context.Context) {
	w.logger.Debug("starting sync cycle")

	owners, err := w.owners.ActiveOwners(ctx)
	if err != nil {
		w.logger.Error("failed to list owners with active connections", "error", err)
		return
	}
	if len(owners) == 0 {
		w.logger.Debug("no connected clinicians to sync")
		return
	}

	window, err := w.window()
	if err != nil {
		w.logger.Error("failed to build sync window", "error", err)
		return
	}

	for _, clinicianID := range owners {
		if ctx.Err() != nil {
			return
		}
		report, err := w.sync.SyncWindow(ctx, clinicianID, window)
		if err != nil {
			w.logger.Error("sync pass failed", "clinician_id", clinicianID, "error", err)
			continue
		}
		w.reconcile(ctx, clinicianID, window)
		w.logger.Debug("sync pass finished",
			"clinician_id", clinicianID,
			"events", report.ExternalEvents,
			"new_conflicts", len(report.NewConflicts),
			"fetch_errors", len(report.FetchErrors),
		)
	}

	w.logger.Debug("sync cycle completed")
}

func (w *SyncWorker) reconcile(ctx context.Context, clinicianID uuid.UUID, window schedulingDomain.TimeRange) {
	if w.reconciler == nil {
		return
	}
	if _, err := w.reconciler.PushPending(ctx, clinicianID, window.Start, window.End); err != nil {
		w.logger.Error("availability push failed", "clinician_id", clinicianID, "error", err)
	}
	if _, err := w.reconciler.VerifySynced(ctx, clinicianID, window.Start, window.End); err != nil {
		w.logger.Error("availability verification failed", "clinician_id", clinicianID, "error", err)
	}
}

func (w *SyncWorker) window() (schedulingDomain.TimeRange, error) {
	start := time.Now().UTC().Truncate(time.Hour)
	return schedulingDomain.NewTimeRange(start, start.AddDate(0, 0, w.config.LookAheadDays))
}
