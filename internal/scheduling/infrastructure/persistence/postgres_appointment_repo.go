// Package persistence implements the scheduling repositories on PostgreSQL
// (server mode, pgx) and SQLite (local mode, database/sql).
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meridianbh/cadence/internal/scheduling/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
)

// PgxDB is the subset of pgxpool.Pool the repositories use. Satisfied by
// *pgxpool.Pool, pgx.Tx and pgxmock pools.
type PgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresAppointmentRepository implements domain.AppointmentRepository on
// PostgreSQL.
type PostgresAppointmentRepository struct {
	db PgxDB
}

// NewPostgresAppointmentRepository creates a PostgreSQL appointment repository.
func NewPostgresAppointmentRepository(db PgxDB) *PostgresAppointmentRepository {
	return &PostgresAppointmentRepository{db: db}
}

const appointmentColumns = `id, clinician_id, client_id, start_time, end_time, timezone,
       type, status, notes, external_connection_id, external_event_id,
       recurring_group_id, version, created_at, updated_at`

// appointmentRow represents a database row for appointments.
type appointmentRow struct {
	ID                   uuid.UUID
	ClinicianID          uuid.UUID
	ClientID             *uuid.UUID
	StartTime            time.Time
	EndTime              time.Time
	Timezone             string
	Type                 string
	Status               string
	Notes                string
	ExternalConnectionID *uuid.UUID
	ExternalEventID      *string
	RecurringGroupID     *uuid.UUID
	Version              int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Save upserts the appointment. The version guard makes concurrent writers
// lose with ErrConcurrentModification instead of silently overwriting.
func (r *PostgresAppointmentRepository) Save(ctx context.Context, appt *domain.Appointment) error {
	var extConnID *uuid.UUID
	var extEventID *string
	if ref := appt.ExternalRef(); ref != nil {
		extConnID = &ref.ConnectionID
		extEventID = &ref.EventID
	}

	query := `
		INSERT INTO appointments (
			id, clinician_id, client_id, start_time, end_time, timezone,
			type, status, notes, external_connection_id, external_event_id,
			recurring_group_id, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13 + 1, $14, $15)
		ON CONFLICT (id) DO UPDATE SET
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			timezone = EXCLUDED.timezone,
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			notes = EXCLUDED.notes,
			external_connection_id = EXCLUDED.external_connection_id,
			external_event_id = EXCLUDED.external_event_id,
			recurring_group_id = EXCLUDED.recurring_group_id,
			version = appointments.version + 1,
			updated_at = NOW()
		WHERE appointments.version = $13
		RETURNING version
	`

	var newVersion int
	err := r.db.QueryRow(ctx, query,
		appt.ID(),
		appt.ClinicianID(),
		appt.ClientID(),
		appt.TimeRange().Start,
		appt.TimeRange().End,
		appt.Timezone(),
		string(appt.Type()),
		string(appt.Status()),
		appt.Notes(),
		extConnID,
		extEventID,
		appt.RecurringGroupID(),
		appt.Version(),
		appt.CreatedAt(),
		appt.UpdatedAt(),
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sharedDomain.ErrConcurrentModification
		}
		return err
	}

	appt.SetVersion(newVersion)
	return nil
}

// FindByID retrieves an appointment by ID.
func (r *PostgresAppointmentRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = $1`

	row, err := scanAppointmentRow(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sharedDomain.ErrNotFound
		}
		return nil, err
	}
	return rowToAppointment(row), nil
}

// FindByClinicianRange retrieves all appointments overlapping the window.
func (r *PostgresAppointmentRepository) FindByClinicianRange(ctx context.Context, clinicianID uuid.UUID, window domain.TimeRange) ([]*domain.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE clinician_id = $1 AND start_time < $3 AND end_time > $2
		ORDER BY start_time
	`
	return r.queryAppointments(ctx, query, clinicianID, window.Start, window.End)
}

// FindBlockingInRange retrieves only rows that participate in overlap checks.
func (r *PostgresAppointmentRepository) FindBlockingInRange(ctx context.Context, clinicianID uuid.UUID, window domain.TimeRange) ([]*domain.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE clinician_id = $1 AND start_time < $3 AND end_time > $2
		  AND status NOT IN ('cancelled', 'hidden', 'no_show')
		ORDER BY start_time
	`
	return r.queryAppointments(ctx, query, clinicianID, window.Start, window.End)
}

// FindByExternalRef looks up the appointment linked to an external event.
func (r *PostgresAppointmentRepository) FindByExternalRef(ctx context.Context, connectionID uuid.UUID, eventID string) (*domain.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE external_connection_id = $1 AND external_event_id = $2
	`
	row, err := scanAppointmentRow(r.db.QueryRow(ctx, query, connectionID, eventID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sharedDomain.ErrNotFound
		}
		return nil, err
	}
	return rowToAppointment(row), nil
}

// Delete removes an appointment.
func (r *PostgresAppointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return sharedDomain.ErrNotFound
	}
	return nil
}

func (r *PostgresAppointmentRepository) queryAppointments(ctx context.Context, query string, args ...any) ([]*domain.Appointment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appts := make([]*domain.Appointment, 0)
	for rows.Next() {
		row, err := scanAppointmentRow(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, rowToAppointment(row))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return appts, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAppointmentRow(s scanner) (appointmentRow, error) {
	var row appointmentRow
	err := s.Scan(
		&row.ID,
		&row.ClinicianID,
		&row.ClientID,
		&row.StartTime,
		&row.EndTime,
		&row.Timezone,
		&row.Type,
		&row.Status,
		&row.Notes,
		&row.ExternalConnectionID,
		&row.ExternalEventID,
		&row.RecurringGroupID,
		&row.Version,
		&row.CreatedAt,
		&row.UpdatedAt,
	)
	return row, err
}

func rowToAppointment(row appointmentRow) *domain.Appointment {
	var ref *domain.ExternalRef
	if row.ExternalConnectionID != nil && row.ExternalEventID != nil {
		ref = &domain.ExternalRef{ConnectionID: *row.ExternalConnectionID, EventID: *row.ExternalEventID}
	}
	return domain.RehydrateAppointment(
		row.ID,
		row.ClinicianID,
		row.ClientID,
		domain.TimeRange{Start: row.StartTime, End: row.EndTime},
		row.Timezone,
		domain.AppointmentType(row.Type),
		domain.AppointmentStatus(row.Status),
		ref,
		row.RecurringGroupID,
		row.Notes,
		row.CreatedAt,
		row.UpdatedAt,
		row.Version,
	)
}
