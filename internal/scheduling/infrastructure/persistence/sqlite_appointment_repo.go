package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianbh/cadence/internal/scheduling/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
)

// SQLiteAppointmentRepository implements domain.AppointmentRepository on
// SQLite for local single-user mode. Timestamps are stored as RFC 3339 text.
type SQLiteAppointmentRepository struct {
	db *sql.DB
}

// NewSQLiteAppointmentRepository creates a SQLite appointment repository.
func NewSQLiteAppointmentRepository(db *sql.DB) *SQLiteAppointmentRepository {
	return &SQLiteAppointmentRepository{db: db}
}

// Save upserts the appointment with the same version guard as the PostgreSQL
// repository.
func (r *SQLiteAppointmentRepository) Save(ctx context.Context, appt *domain.Appointment) error {
	var clientID, extConnID, extEventID, groupID *string
	if id := appt.ClientID(); id != nil {
		s := id.String()
		clientID = &s
	}
	if ref := appt.ExternalRef(); ref != nil {
		c, e := ref.ConnectionID.String(), ref.EventID
		extConnID, extEventID = &c, &e
	}
	if id := appt.RecurringGroupID(); id != nil {
		s := id.String()
		groupID = &s
	}

	query := `
		INSERT INTO appointments (
			id, clinician_id, client_id, start_time, end_time, timezone,
			type, status, notes, external_connection_id, external_event_id,
			recurring_group_id, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ? + 1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			start_time = excluded.start_time,
			end_time = excluded.end_time,
			timezone = excluded.timezone,
			type = excluded.type,
			status = excluded.status,
			notes = excluded.notes,
			external_connection_id = excluded.external_connection_id,
			external_event_id = excluded.external_event_id,
			recurring_group_id = excluded.recurring_group_id,
			version = appointments.version + 1,
			updated_at = excluded.updated_at
		WHERE appointments.version = ?
		RETURNING version
	`

	var newVersion int
	err := r.db.QueryRowContext(ctx, query,
		appt.ID().String(),
		appt.ClinicianID().String(),
		clientID,
		formatTime(appt.TimeRange().Start),
		formatTime(appt.TimeRange().End),
		appt.Timezone(),
		string(appt.Type()),
		string(appt.Status()),
		appt.Notes(),
		extConnID,
		extEventID,
		groupID,
		appt.Version(),
		formatTime(appt.CreatedAt()),
		formatTime(appt.UpdatedAt()),
		appt.Version(),
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sharedDomain.ErrConcurrentModification
		}
		return err
	}

	appt.SetVersion(newVersion)
	return nil
}

// FindByID retrieves an appointment by ID.
func (r *SQLiteAppointmentRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE id = ?`
	appt, err := scanSQLiteAppointment(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sharedDomain.ErrNotFound
		}
		return nil, err
	}
	return appt, nil
}

// FindByClinicianRange retrieves all appointments overlapping the window.
func (r *SQLiteAppointmentRepository) FindByClinicianRange(ctx context.Context, clinicianID uuid.UUID, window domain.TimeRange) ([]*domain.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE clinician_id = ? AND start_time < ? AND end_time > ?
		ORDER BY start_time
	`
	return r.queryAppointments(ctx, query,
		clinicianID.String(), formatTime(window.End), formatTime(window.Start))
}

// FindBlockingInRange retrieves only rows that participate in overlap checks.
func (r *SQLiteAppointmentRepository) FindBlockingInRange(ctx context.Context, clinicianID uuid.UUID, window domain.TimeRange) ([]*domain.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE clinician_id = ? AND start_time < ? AND end_time > ?
		  AND status NOT IN ('cancelled', 'hidden', 'no_show')
		ORDER BY start_time
	`
	return r.queryAppointments(ctx, query,
		clinicianID.String(), formatTime(window.End), formatTime(window.Start))
}

// FindByExternalRef looks up the appointment linked to an external event.
func (r *SQLiteAppointmentRepository) FindByExternalRef(ctx context.Context, connectionID uuid.UUID, eventID string) (*domain.Appointment, error) {
	query := `
		SELECT ` + appointmentColumns + `
		FROM appointments
		WHERE external_connection_id = ? AND external_event_id = ?
	`
	appt, err := scanSQLiteAppointment(r.db.QueryRowContext(ctx, query, connectionID.String(), eventID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sharedDomain.ErrNotFound
		}
		return nil, err
	}
	return appt, nil
}

// Delete removes an appointment.
func (r *SQLiteAppointmentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM appointments WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sharedDomain.ErrNotFound
	}
	return nil
}

func (r *SQLiteAppointmentRepository) queryAppointments(ctx context.Context, query string, args ...any) ([]*domain.Appointment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	appts := make([]*domain.Appointment, 0)
	for rows.Next() {
		appt, err := scanSQLiteAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, appt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return appts, nil
}

func scanSQLiteAppointment(s scanner) (*domain.Appointment, error) {
	var (
		id, clinicianID, timezone, apptType, status, notes string
		clientID, extConnID, extEventID, groupID           *string
		startStr, endStr, createdStr, updatedStr           string
		version                                            int
	)
	err := s.Scan(&id, &clinicianID, &clientID, &startStr, &endStr, &timezone,
		&apptType, &status, &notes, &extConnID, &extEventID, &groupID,
		&version, &createdStr, &updatedStr)
	if err != nil {
		return nil, err
	}

	start, err := parseTime(startStr)
	if err != nil {
		return nil, err
	}
	end, err := parseTime(endStr)
	if err != nil {
		return nil, err
	}
	createdAt, err := parseTime(createdStr)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(updatedStr)
	if err != nil {
		return nil, err
	}

	clientUUID, err := parseOptionalUUID(clientID)
	if err != nil {
		return nil, err
	}
	groupUUID, err := parseOptionalUUID(groupID)
	if err != nil {
		return nil, err
	}

	var ref *domain.ExternalRef
	if extConnID != nil && extEventID != nil {
		connUUID, err := uuid.Parse(*extConnID)
		if err != nil {
			return nil, fmt.Errorf("parse external connection id: %w", err)
		}
		ref = &domain.ExternalRef{ConnectionID: connUUID, EventID: *extEventID}
	}

	return domain.RehydrateAppointment(
		uuid.MustParse(id),
		uuid.MustParse(clinicianID),
		clientUUID,
		domain.TimeRange{Start: start, End: end},
		timezone,
		domain.AppointmentType(apptType),
		domain.AppointmentStatus(status),
		ref,
		groupUUID,
		notes,
		createdAt,
		updatedAt,
		version,
	), nil
}

func parseOptionalUUID(s *string) (*uuid.UUID, error) {
	if s == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}
