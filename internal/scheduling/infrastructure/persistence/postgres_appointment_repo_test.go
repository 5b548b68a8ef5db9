package persistence_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbh/cadence/internal/scheduling/domain"
	"github.com/meridianbh/cadence/internal/scheduling/infrastructure/persistence"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
)

func anyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestPostgresAppointmentRepository_SaveSetsVersion(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := persistence.NewPostgresAppointmentRepository(mock)
	appt := newTestAppointment(t, uuid.New(), 4, 14)

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(anyArgs(15)...).
		WillReturnRows(pgxmock.NewRows([]string{"version"}).AddRow(1))

	require.NoError(t, repo.Save(context.Background(), appt))
	assert.Equal(t, 1, appt.Version())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppointmentRepository_SaveStaleVersion(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := persistence.NewPostgresAppointmentRepository(mock)
	appt := newTestAppointment(t, uuid.New(), 4, 14)

	// The version guard filters out the upsert; no row comes back.
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(anyArgs(15)...).
		WillReturnError(pgx.ErrNoRows)

	err = repo.Save(context.Background(), appt)
	assert.ErrorIs(t, err, sharedDomain.ErrConcurrentModification)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppointmentRepository_FindByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := persistence.NewPostgresAppointmentRepository(mock)

	id := uuid.New()
	clinicianID := uuid.New()
	start := time.Date(2026, 5, 4, 14, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	now := time.Now().UTC()

	columns := []string{
		"id", "clinician_id", "client_id", "start_time", "end_time", "timezone",
		"type", "status", "notes", "external_connection_id", "external_event_id",
		"recurring_group_id", "version", "created_at", "updated_at",
	}
	mock.ExpectQuery("SELECT (.+) FROM appointments WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows(columns).AddRow(
			id, clinicianID, (*uuid.UUID)(nil), start, end, "UTC",
			"blocked", "scheduled", "admin time", (*uuid.UUID)(nil), (*string)(nil),
			(*uuid.UUID)(nil), 3, now, now,
		))

	appt, err := repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, appt.ID())
	assert.Equal(t, clinicianID, appt.ClinicianID())
	assert.Nil(t, appt.ClientID())
	assert.Equal(t, domain.TypeBlocked, appt.Type())
	assert.Equal(t, "admin time", appt.Notes())
	assert.Equal(t, 3, appt.Version())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppointmentRepository_FindByIDNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := persistence.NewPostgresAppointmentRepository(mock)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM appointments WHERE id").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err = repo.FindByID(context.Background(), id)
	assert.ErrorIs(t, err, sharedDomain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresAppointmentRepository_DeleteNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := persistence.NewPostgresAppointmentRepository(mock)
	id := uuid.New()

	mock.ExpectExec("DELETE FROM appointments").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	assert.ErrorIs(t, repo.Delete(context.Background(), id), sharedDomain.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
