// Package persistence implements the availability slot repository on
// PostgreSQL and SQLite.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meridianbh/cadence/internal/availability/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
)

// PgxDB is the subset of pgxpool.Pool the repository uses.
type PgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresSlotRepository implements domain.SlotRepository on PostgreSQL.
type PostgresSlotRepository struct {
	db PgxDB
}

// NewPostgresSlotRepository creates a PostgreSQL slot repository.
func NewPostgresSlotRepository(db PgxDB) *PostgresSlotRepository {
	return &PostgresSlotRepository{db: db}
}

const slotColumns = `id, clinician_id, weekday, slot_number, start_minute, end_minute,
       timezone, sync_status, last_error, version, created_at, updated_at`

// Save upserts the slot with a version guard.
func (r *PostgresSlotRepository) Save(ctx context.Context, slot *domain.Slot) error {
	query := `
		INSERT INTO availability_slots (
			id, clinician_id, weekday, slot_number, start_minute, end_minute,
			timezone, sync_status, last_error, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10 + 1, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			timezone = EXCLUDED.timezone,
			sync_status = EXCLUDED.sync_status,
			last_error = EXCLUDED.last_error,
			version = availability_slots.version + 1,
			updated_at = NOW()
		WHERE availability_slots.version = $10
		RETURNING version
	`

	var newVersion int
	err := r.db.QueryRow(ctx, query,
		slot.ID(),
		slot.ClinicianID(),
		int(slot.Weekday()),
		slot.SlotNumber(),
		slot.StartMinute(),
		slot.EndMinute(),
		slot.Timezone(),
		string(slot.SyncStatus()),
		slot.LastError(),
		slot.Version(),
		slot.CreatedAt(),
		slot.UpdatedAt(),
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sharedDomain.ErrConcurrentModification
		}
		return err
	}

	slot.SetVersion(newVersion)
	return nil
}

// FindByID retrieves a slot by ID.
func (r *PostgresSlotRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Slot, error) {
	query := `SELECT ` + slotColumns + ` FROM availability_slots WHERE id = $1`
	slot, err := scanPgxSlot(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sharedDomain.ErrNotFound
		}
		return nil, err
	}
	return slot, nil
}

// FindByClinician retrieves all slots for a clinician, ordered by weekday and
// slot number.
func (r *PostgresSlotRepository) FindByClinician(ctx context.Context, clinicianID uuid.UUID) ([]*domain.Slot, error) {
	query := `SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE clinician_id = $1
		ORDER BY weekday, slot_number`
	return r.querySlots(ctx, query, clinicianID)
}

// FindByStatus retrieves a clinician's slots in a given sync status.
func (r *PostgresSlotRepository) FindByStatus(ctx context.Context, clinicianID uuid.UUID, status domain.SyncStatus) ([]*domain.Slot, error) {
	query := `SELECT ` + slotColumns + `
		FROM availability_slots
		WHERE clinician_id = $1 AND sync_status = $2
		ORDER BY weekday, slot_number`
	return r.querySlots(ctx, query, clinicianID, string(status))
}

// Delete removes a slot.
func (r *PostgresSlotRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM availability_slots WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return sharedDomain.ErrNotFound
	}
	return nil
}

func (r *PostgresSlotRepository) querySlots(ctx context.Context, query string, args ...any) ([]*domain.Slot, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	slots := make([]*domain.Slot, 0)
	for rows.Next() {
		slot, err := scanPgxSlot(rows)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanPgxSlot(s scanner) (*domain.Slot, error) {
	var (
		id, clinicianID                              uuid.UUID
		weekday, slotNumber, startMinute, endMinute  int
		timezone, syncStatus, lastError              string
		version                                      int
		createdAt, updatedAt                         time.Time
	)
	err := s.Scan(&id, &clinicianID, &weekday, &slotNumber, &startMinute, &endMinute,
		&timezone, &syncStatus, &lastError, &version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateSlot(
		id, clinicianID, time.Weekday(weekday),
		slotNumber, startMinute, endMinute,
		timezone, domain.SyncStatus(syncStatus), lastError,
		createdAt, updatedAt, version,
	), nil
}
