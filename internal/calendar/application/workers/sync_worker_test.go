package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	availabilityApp "github.com/meridianbh/cadence/internal/availability/application"
	"github.com/meridianbh/cadence/internal/calendar/application"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
)

type mockOwnerSource struct {
	owners []uuid.UUID
	err    error
}

func (m *mockOwnerSource) ActiveOwners(_ context.Context) ([]uuid.UUID, error) {
	return m.owners, m.err
}

type mockSyncer struct {
	mu      sync.Mutex
	passes  []uuid.UUID
	windows []schedulingDomain.TimeRange
	err     error
}

func (m *mockSyncer) SyncWindow(_ context.Context, clinicianID uuid.UUID, window schedulingDomain.TimeRange) (*application.SyncReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.passes = append(m.passes, clinicianID)
	m.windows = append(m.windows, window)
	if m.err != nil {
		return nil, m.err
	}
	return &application.SyncReport{}, nil
}

func (m *mockSyncer) passCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.passes)
}

type mockReconciler struct {
	mu       sync.Mutex
	pushes   []uuid.UUID
	verifies []uuid.UUID
}

func (m *mockReconciler) PushPending(_ context.Context, clinicianID uuid.UUID, _, _ time.Time) (*availabilityApp.ReconcileResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushes = append(m.pushes, clinicianID)
	return &availabilityApp.ReconcileResult{}, nil
}

func (m *mockReconciler) VerifySynced(_ context.Context, clinicianID uuid.UUID, _, _ time.Time) (*availabilityApp.ReconcileResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifies = append(m.verifies, clinicianID)
	return &availabilityApp.ReconcileResult{}, nil
}

func TestSyncWorker_RunsImmediateCycleAndStops(t *testing.T) {
	clinicianID := uuid.New()
	owners := &mockOwnerSource{owners: []uuid.UUID{clinicianID}}
	syncer := &mockSyncer{}
	reconciler := &mockReconciler{}

	worker := NewSyncWorker(owners, syncer, reconciler, SyncWorkerConfig{
		Interval:      time.Hour, // only the immediate cycle fires
		LookAheadDays: 7,
	}, nil)

	done := make(chan error, 1)
	go func() { done <- worker.Run(context.Background()) }()

	require.Eventually(t, func() bool { return syncer.passCount() == 1 },
		time.Second, 10*time.Millisecond)
	assert.True(t, worker.IsRunning())

	worker.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.False(t, worker.IsRunning())

	assert.Equal(t, []uuid.UUID{clinicianID}, syncer.passes)
	assert.Equal(t, []uuid.UUID{clinicianID}, reconciler.pushes)
	assert.Equal(t, []uuid.UUID{clinicianID}, reconciler.verifies)
}

func TestSyncWorker_ContextCancellation(t *testing.T) {
	owners := &mockOwnerSource{}
	worker := NewSyncWorker(owners, &mockSyncer{}, nil, DefaultSyncWorkerConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	require.Eventually(t, worker.IsRunning, time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancellation")
	}
}

func TestSyncWorker_SyncErrorDoesNotSkipOtherOwners(t *testing.T) {
	first, second := uuid.New(), uuid.New()
	owners := &mockOwnerSource{owners: []uuid.UUID{first, second}}
	syncer := &mockSyncer{err: errors.New("provider unavailable")}
	reconciler := &mockReconciler{}

	worker := NewSyncWorker(owners, syncer, reconciler, SyncWorkerConfig{Interval: time.Hour}, nil)
	worker.runCycle(context.Background())

	assert.Equal(t, []uuid.UUID{first, second}, syncer.passes)
	assert.Empty(t, reconciler.pushes, "reconciliation is skipped when the sync pass fails")
}

func TestSyncWorker_ForceSync(t *testing.T) {
	clinicianID := uuid.New()
	syncer := &mockSyncer{}
	reconciler := &mockReconciler{}
	worker := NewSyncWorker(&mockOwnerSource{}, syncer, reconciler, SyncWorkerConfig{LookAheadDays: 7}, nil)

	report, err := worker.ForceSync(context.Background(), clinicianID)
	require.NoError(t, err)
	require.NotNil(t, report)

	require.Len(t, syncer.windows, 1)
	window := syncer.windows[0]
	assert.InDelta(t, 7*24*time.Hour, window.Duration(), float64(time.Hour))
	assert.Equal(t, []uuid.UUID{clinicianID}, reconciler.pushes)
}

func TestSyncWorker_NoOwnersIsQuiet(t *testing.T) {
	syncer := &mockSyncer{}
	worker := NewSyncWorker(&mockOwnerSource{}, syncer, nil, DefaultSyncWorkerConfig(), nil)
	worker.runCycle(context.Background())
	assert.Zero(t, syncer.passCount())
}
