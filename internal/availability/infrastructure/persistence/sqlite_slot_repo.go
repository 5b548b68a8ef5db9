package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/meridianbh/cadence/internal/availability/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
)

// SQLiteSlotRepository implements domain.SlotRepository on SQLite for
// single-node deployments.
type SQLiteSlotRepository struct {
	db *sql.DB
}

// NewSQLiteSlotRepository creates a SQLite slot repository.
func NewSQLiteSlotRepository(db *sql.DB) *SQLiteSlotRepository {
	return &SQLiteSlotRepository{db: db}
}

// Save upserts the slot with a version guard.
func (r *SQLiteSlotRepository) Save(ctx context.Context, slot *domain.Slot) error {
	query := `
		INSERT INTO availability_slots (
			id, clinician_id, weekday, slot_number, start_minute, end_minute,
			timezone, sync_status, last_error, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ? + 1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			start_minute = excluded.start_minute,
			end_minute = excluded.end_minute,
			timezone = excluded.timezone,
			sync_status = excluded.sync_status,
			last_error = excluded.last_error,
			version = availability_slots.version + 1,
			updated_at = excluded.updated_at
		WHERE availability_slots.version = ?
		RETURNING version
	`

	var newVersion int
	err := r.db.QueryRowContext(ctx, query,
		slot.ID().String(),
		slot.ClinicianID().String(),
		int(slot.Weekday()),
		slot.SlotNumber(),
		slot.StartMinute(),
		slot.EndMinute(),
		slot.Timezone(),
		string(slot.SyncStatus()),
		slot.LastError(),
		slot.Version(),
		formatTime(slot.CreatedAt()),
		formatTime(slot.UpdatedAt()),
		slot.Version(),
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sharedDomain.ErrConcurrentModification
		}
		return err
	}

	slot.SetVersion(newVersion)
	return nil
}

// FindByID retrieves a slot by ID.
func (r *SQLiteSlotRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = ?`
	slot, err := scanSQLiteSlot(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sharedDomain.ErrNotFound
		}
		return nil, err
	}
	return slot, nil
}

// FindByClinician retrieves all slots for a clinician, ordered by weekday and
// slot number.
func (r *SQLiteSlotRepository) FindByClinician(ctx context.Context, clinicianID uuid.UUID) ([]*domain.Slot, error) {
	query := `SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE clinician_id = ?
		ORDER BY weekday, slot_number`
	return r.querySlots(ctx, query, clinicianID.String())
}

// FindByStatus retrieves a clinician's slots in a given sync status.
func (r *SQLiteSlotRepository) FindByStatus(ctx context.Context, clinicianID uuid.UUID, status domain.SyncStatus) ([]*domain.Slot, error) {
	query := `SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE clinician_id = ? AND sync_status = ?
		ORDER BY weekday, slot_number`
	return r.querySlots(ctx, query, clinicianID.String(), string(status))
}

// Delete removes a slot.
func (r *SQLiteSlotRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM availability_slots WHERE id = ?`, id.String())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sharedDomain.ErrNotFound
	}
	return nil
}

func (r *SQLiteSlotRepository) querySlots(ctx context.Context, query string, args ...any) ([]*domain.Slot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	slots := make([]*domain.Slot, 0)
	for rows.Next() {
		slot, err := scanSQLiteSlot(rows)
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

func scanSQLiteSlot(s scanner) (*domain.Slot, error) {
	var (
		id, clinicianID                             string
		weekday, slotNumber, startMinute, endMinute int
		timezone, syncStatus, lastError             string
		version                                     int
		createdAt, updatedAt                        string
	)
	err := s.Scan(&id, &clinicianID, &weekday, &slotNumber, &startMinute, &endMinute,
		&timezone, &syncStatus, &lastError, &version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	created, err := parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	updated, err := parseTime(updatedAt)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateSlot(
		uuid.MustParse(id), uuid.MustParse(clinicianID), time.Weekday(weekday),
		slotNumber, startMinute, endMinute,
		timezone, domain.SyncStatus(syncStatus), lastError,
		created, updated, version,
	), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
