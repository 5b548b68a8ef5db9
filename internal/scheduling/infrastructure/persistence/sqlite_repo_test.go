package persistence_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbh/cadence/internal/scheduling/domain"
	"github.com/meridianbh/cadence/internal/scheduling/infrastructure/persistence"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
	"github.com/meridianbh/cadence/internal/shared/infrastructure/database"
)

func setupSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestAppointment(t *testing.T, clinicianID uuid.UUID, day, hour int) *domain.Appointment {
	t.Helper()
	clientID := uuid.New()
	r, err := domain.NewTimeRange(
		time.Date(2026, 5, day, hour, 0, 0, 0, time.UTC),
		time.Date(2026, 5, day, hour+1, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	appt, err := domain.NewAppointment(clinicianID, &clientID, r, "America/New_York", domain.TypeSession)
	require.NoError(t, err)
	return appt
}

func TestSQLiteAppointmentRepository_SaveAndFindByID(t *testing.T) {
	db := setupSQLite(t)
	repo := persistence.NewSQLiteAppointmentRepository(db)
	ctx := context.Background()

	appt := newTestAppointment(t, uuid.New(), 4, 14)
	appt.SetNotes("bring intake forms")
	require.NoError(t, repo.Save(ctx, appt))
	assert.Equal(t, 1, appt.Version())

	found, err := repo.FindByID(ctx, appt.ID())
	require.NoError(t, err)
	assert.Equal(t, appt.ID(), found.ID())
	assert.Equal(t, appt.ClinicianID(), found.ClinicianID())
	assert.True(t, appt.TimeRange().Equal(found.TimeRange()))
	assert.Equal(t, "America/New_York", found.Timezone())
	assert.Equal(t, domain.TypeSession, found.Type())
	assert.Equal(t, "bring intake forms", found.Notes())
	require.NotNil(t, found.ClientID())
	assert.Equal(t, *appt.ClientID(), *found.ClientID())
}

func TestSQLiteAppointmentRepository_FindByIDNotFound(t *testing.T) {
	db := setupSQLite(t)
	repo := persistence.NewSQLiteAppointmentRepository(db)

	_, err := repo.FindByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, sharedDomain.ErrNotFound)
}

func TestSQLiteAppointmentRepository_VersionConflict(t *testing.T) {
	db := setupSQLite(t)
	repo := persistence.NewSQLiteAppointmentRepository(db)
	ctx := context.Background()

	appt := newTestAppointment(t, uuid.New(), 4, 14)
	require.NoError(t, repo.Save(ctx, appt))

	// Two loads of the same row; the second save runs against a stale version.
	first, err := repo.FindByID(ctx, appt.ID())
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, appt.ID())
	require.NoError(t, err)

	first.SetNotes("updated by first writer")
	require.NoError(t, repo.Save(ctx, first))

	second.SetNotes("updated by second writer")
	err = repo.Save(ctx, second)
	assert.ErrorIs(t, err, sharedDomain.ErrConcurrentModification)
}

func TestSQLiteAppointmentRepository_RangeQueries(t *testing.T) {
	db := setupSQLite(t)
	repo := persistence.NewSQLiteAppointmentRepository(db)
	ctx := context.Background()
	clinicianID := uuid.New()

	inRange := newTestAppointment(t, clinicianID, 4, 14)
	outOfRange := newTestAppointment(t, clinicianID, 20, 14)
	cancelled := newTestAppointment(t, clinicianID, 4, 16)
	cancelled.Cancel()
	otherClinician := newTestAppointment(t, uuid.New(), 4, 14)
	for _, a := range []*domain.Appointment{inRange, outOfRange, cancelled, otherClinician} {
		require.NoError(t, repo.Save(ctx, a))
	}

	window, err := domain.NewTimeRange(
		time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)

	all, err := repo.FindByClinicianRange(ctx, clinicianID, window)
	require.NoError(t, err)
	assert.Len(t, all, 2, "cancelled rows still show in the full range query")

	blocking, err := repo.FindBlockingInRange(ctx, clinicianID, window)
	require.NoError(t, err)
	require.Len(t, blocking, 1)
	assert.Equal(t, inRange.ID(), blocking[0].ID())
}

func TestSQLiteAppointmentRepository_ExternalRef(t *testing.T) {
	db := setupSQLite(t)
	repo := persistence.NewSQLiteAppointmentRepository(db)
	ctx := context.Background()

	appt := newTestAppointment(t, uuid.New(), 4, 14)
	connID := uuid.New()
	appt.LinkExternal(connID, "evt-123")
	require.NoError(t, repo.Save(ctx, appt))

	found, err := repo.FindByExternalRef(ctx, connID, "evt-123")
	require.NoError(t, err)
	assert.Equal(t, appt.ID(), found.ID())
	require.NotNil(t, found.ExternalRef())
	assert.Equal(t, "evt-123", found.ExternalRef().EventID)

	_, err = repo.FindByExternalRef(ctx, connID, "evt-missing")
	assert.ErrorIs(t, err, sharedDomain.ErrNotFound)
}

func TestSQLiteAppointmentRepository_Delete(t *testing.T) {
	db := setupSQLite(t)
	repo := persistence.NewSQLiteAppointmentRepository(db)
	ctx := context.Background()

	appt := newTestAppointment(t, uuid.New(), 4, 14)
	require.NoError(t, repo.Save(ctx, appt))
	require.NoError(t, repo.Delete(ctx, appt.ID()))

	assert.ErrorIs(t, repo.Delete(ctx, appt.ID()), sharedDomain.ErrNotFound)
}

func TestSQLiteConflictRepository_RoundTrip(t *testing.T) {
	db := setupSQLite(t)
	repo := persistence.NewSQLiteConflictRepository(db)
	ctx := context.Background()
	clinicianID := uuid.New()

	apptID := uuid.New()
	connID := uuid.New()
	local := domain.ConflictSide{
		AppointmentID: &apptID,
		Range: domain.TimeRange{
			Start: time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC),
			End:   time.Date(2026, 5, 4, 15, 0, 0, 0, time.UTC),
		},
		Summary:    "session",
		ModifiedAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	external := domain.ConflictSide{
		ConnectionID: &connID,
		EventID:      "evt-9",
		Range: domain.TimeRange{
			Start: time.Date(2026, 5, 4, 14, 30, 0, 0, time.UTC),
			End:   time.Date(2026, 5, 4, 15, 30, 0, 0, time.UTC),
		},
		Summary: "Dentist",
	}
	conflict := domain.NewSyncConflict(clinicianID, domain.KindOverlap, local, external)
	require.NoError(t, repo.Save(ctx, conflict))

	found, err := repo.FindByID(ctx, conflict.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.KindOverlap, found.Kind())
	assert.Equal(t, domain.StrategyManual, found.Strategy())
	require.NotNil(t, found.Local().AppointmentID)
	assert.Equal(t, apptID, *found.Local().AppointmentID)
	assert.Equal(t, "evt-9", found.External().EventID)
	assert.True(t, found.Local().Range.Equal(local.Range))
	assert.False(t, found.Resolved())

	unresolved, err := repo.FindUnresolved(ctx, clinicianID)
	require.NoError(t, err)
	assert.Len(t, unresolved, 1)

	require.NoError(t, found.SetStrategy(domain.StrategyLocalWins))
	found.Resolve()
	require.NoError(t, repo.Save(ctx, found))

	unresolved, err = repo.FindUnresolved(ctx, clinicianID)
	require.NoError(t, err)
	assert.Empty(t, unresolved)

	reloaded, err := repo.FindByID(ctx, conflict.ID())
	require.NoError(t, err)
	assert.True(t, reloaded.Resolved())
	assert.Equal(t, domain.StrategyLocalWins, reloaded.Strategy())
	require.NotNil(t, reloaded.ResolvedAt())
}
