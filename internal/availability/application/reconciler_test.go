package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbh/cadence/internal/availability/application"
	"github.com/meridianbh/cadence/internal/availability/domain"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
)

type fakeSlotRepo struct {
	slots map[uuid.UUID]*domain.Slot
}

func newFakeSlotRepo() *fakeSlotRepo {
	return &fakeSlotRepo{slots: make(map[uuid.UUID]*domain.Slot)}
}

func (r *fakeSlotRepo) Save(_ context.Context, slot *domain.Slot) error {
	r.slots[slot.ID()] = slot
	return nil
}

func (r *fakeSlotRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Slot, error) {
	slot, ok := r.slots[id]
	if !ok {
		return nil, errors.New("slot not found")
	}
	return slot, nil
}

func (r *fakeSlotRepo) FindByClinician(_ context.Context, clinicianID uuid.UUID) ([]*domain.Slot, error) {
	var out []*domain.Slot
	for _, s := range r.slots {
		if s.ClinicianID() == clinicianID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSlotRepo) FindByStatus(_ context.Context, clinicianID uuid.UUID, status domain.SyncStatus) ([]*domain.Slot, error) {
	var out []*domain.Slot
	for _, s := range r.slots {
		if s.ClinicianID() == clinicianID && s.SyncStatus() == status {
			out = append(out, s)
		}
	}
	return out, nil
}

func (r *fakeSlotRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.slots, id)
	return nil
}

type stubGateway struct {
	pushErr     error
	pushedSlots []uuid.UUID
	verify      map[uuid.UUID]bool
	verifyErr   error
}

func (g *stubGateway) Push(_ context.Context, slot *domain.Slot, _ []schedulingDomain.TimeRange) error {
	if g.pushErr != nil {
		return g.pushErr
	}
	g.pushedSlots = append(g.pushedSlots, slot.ID())
	return nil
}

func (g *stubGateway) Verify(_ context.Context, slot *domain.Slot, _ []schedulingDomain.TimeRange) (bool, error) {
	if g.verifyErr != nil {
		return false, g.verifyErr
	}
	matches, ok := g.verify[slot.ID()]
	if !ok {
		return true, nil
	}
	return matches, nil
}

func mustSlot(t *testing.T, clinicianID uuid.UUID, slotNumber int) *domain.Slot {
	t.Helper()
	slot, err := domain.NewSlot(clinicianID, time.Monday, slotNumber, 9*60, 10*60, "America/New_York")
	require.NoError(t, err)
	return slot
}

func reconcileWindow() (time.Time, time.Time) {
	return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)
}

func TestReconciler_PushPending_SuccessMovesToSynced(t *testing.T) {
	clinicianID := uuid.New()
	repo := newFakeSlotRepo()
	gateway := &stubGateway{}
	rec := application.NewReconciler(repo, gateway, nil)

	slot := mustSlot(t, clinicianID, 1)
	require.NoError(t, repo.Save(context.Background(), slot))

	from, to := reconcileWindow()
	result, err := rec.PushPending(context.Background(), clinicianID, from, to)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Pushed)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, domain.SyncSynced, slot.SyncStatus())
	assert.Contains(t, gateway.pushedSlots, slot.ID())
}

func TestReconciler_PushPending_FailureMovesToFailed(t *testing.T) {
	clinicianID := uuid.New()
	repo := newFakeSlotRepo()
	gateway := &stubGateway{pushErr: errors.New("provider timeout")}
	rec := application.NewReconciler(repo, gateway, nil)

	slot := mustSlot(t, clinicianID, 1)
	require.NoError(t, repo.Save(context.Background(), slot))

	from, to := reconcileWindow()
	result, err := rec.PushPending(context.Background(), clinicianID, from, to)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Pushed)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, domain.SyncFailed, slot.SyncStatus())
	assert.Equal(t, "provider timeout", slot.LastError())
}

func TestReconciler_PushPending_SkipsNonPending(t *testing.T) {
	clinicianID := uuid.New()
	repo := newFakeSlotRepo()
	gateway := &stubGateway{}
	rec := application.NewReconciler(repo, gateway, nil)

	synced := mustSlot(t, clinicianID, 1)
	require.NoError(t, synced.MarkSynced())
	require.NoError(t, repo.Save(context.Background(), synced))

	from, to := reconcileWindow()
	result, err := rec.PushPending(context.Background(), clinicianID, from, to)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Pushed)
	assert.Empty(t, gateway.pushedSlots)
}

func TestReconciler_VerifySynced_MismatchMovesToConflict(t *testing.T) {
	clinicianID := uuid.New()
	repo := newFakeSlotRepo()

	matching := mustSlot(t, clinicianID, 1)
	require.NoError(t, matching.MarkSynced())
	diverged := mustSlot(t, clinicianID, 2)
	require.NoError(t, diverged.MarkSynced())
	require.NoError(t, repo.Save(context.Background(), matching))
	require.NoError(t, repo.Save(context.Background(), diverged))

	gateway := &stubGateway{verify: map[uuid.UUID]bool{
		matching.ID(): true,
		diverged.ID(): false,
	}}
	rec := application.NewReconciler(repo, gateway, nil)

	from, to := reconcileWindow()
	result, err := rec.VerifySynced(context.Background(), clinicianID, from, to)
	require.NoError(t, err)

	assert.Equal(t, 1, result.Conflicts)
	assert.Equal(t, domain.SyncSynced, matching.SyncStatus())
	assert.Equal(t, domain.SyncConflict, diverged.SyncStatus())
}

func TestReconciler_VerifySynced_TransientErrorLeavesSlotSynced(t *testing.T) {
	clinicianID := uuid.New()
	repo := newFakeSlotRepo()

	slot := mustSlot(t, clinicianID, 1)
	require.NoError(t, slot.MarkSynced())
	require.NoError(t, repo.Save(context.Background(), slot))

	gateway := &stubGateway{verifyErr: errors.New("connection reset")}
	rec := application.NewReconciler(repo, gateway, nil)

	from, to := reconcileWindow()
	result, err := rec.VerifySynced(context.Background(), clinicianID, from, to)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Conflicts)
	assert.Equal(t, domain.SyncSynced, slot.SyncStatus())
}

func TestReconciler_RetryAndResolve(t *testing.T) {
	clinicianID := uuid.New()
	repo := newFakeSlotRepo()
	gateway := &stubGateway{}
	rec := application.NewReconciler(repo, gateway, nil)

	failed := mustSlot(t, clinicianID, 1)
	require.NoError(t, failed.MarkFailed("provider timeout"))
	require.NoError(t, repo.Save(context.Background(), failed))

	require.NoError(t, rec.Retry(context.Background(), failed.ID()))
	assert.Equal(t, domain.SyncPending, failed.SyncStatus())

	conflicted := mustSlot(t, clinicianID, 2)
	require.NoError(t, conflicted.MarkSynced())
	require.NoError(t, conflicted.MarkConflict())
	require.NoError(t, repo.Save(context.Background(), conflicted))

	require.NoError(t, rec.ResolveConflict(context.Background(), conflicted.ID()))
	assert.Equal(t, domain.SyncPending, conflicted.SyncStatus())

	// Retrying a slot that never failed is rejected.
	var transition *domain.TransitionError
	err := rec.Retry(context.Background(), failed.ID())
	require.Error(t, err)
	assert.ErrorAs(t, err, &transition)
}

func TestReconciler_FullLifecycle(t *testing.T) {
	clinicianID := uuid.New()
	repo := newFakeSlotRepo()
	gateway := &stubGateway{}
	rec := application.NewReconciler(repo, gateway, nil)
	ctx := context.Background()

	slot := mustSlot(t, clinicianID, 1)
	require.NoError(t, repo.Save(ctx, slot))
	assert.Equal(t, domain.SyncPending, slot.SyncStatus())

	from, to := reconcileWindow()
	_, err := rec.PushPending(ctx, clinicianID, from, to)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSynced, slot.SyncStatus())

	// Editing the slot queues it for another push.
	require.NoError(t, slot.UpdateTimes(10*60, 11*60))
	assert.Equal(t, domain.SyncPending, slot.SyncStatus())

	gateway.pushErr = errors.New("provider timeout")
	_, err = rec.PushPending(ctx, clinicianID, from, to)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncFailed, slot.SyncStatus())

	require.NoError(t, rec.Retry(ctx, slot.ID()))
	gateway.pushErr = nil
	_, err = rec.PushPending(ctx, clinicianID, from, to)
	require.NoError(t, err)
	assert.Equal(t, domain.SyncSynced, slot.SyncStatus())
}
