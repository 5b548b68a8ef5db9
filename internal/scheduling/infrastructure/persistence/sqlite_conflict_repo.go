package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianbh/cadence/internal/scheduling/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
)

// SQLiteConflictRepository implements domain.ConflictRepository on SQLite.
type SQLiteConflictRepository struct {
	db *sql.DB
}

// NewSQLiteConflictRepository creates a SQLite conflict repository.
func NewSQLiteConflictRepository(db *sql.DB) *SQLiteConflictRepository {
	return &SQLiteConflictRepository{db: db}
}

// Save upserts the conflict.
func (r *SQLiteConflictRepository) Save(ctx context.Context, conflict *domain.SyncConflict) error {
	localDoc, err := json.Marshal(sideToDoc(conflict.Local()))
	if err != nil {
		return fmt.Errorf("marshal local side: %w", err)
	}
	externalDoc, err := json.Marshal(sideToDoc(conflict.External()))
	if err != nil {
		return fmt.Errorf("marshal external side: %w", err)
	}

	var resolvedAt *string
	if t := conflict.ResolvedAt(); t != nil {
		s := formatTime(*t)
		resolvedAt = &s
	}

	query := `
		INSERT INTO sync_conflicts (
			id, clinician_id, kind, local_side, external_side,
			strategy, resolved, resolved_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			strategy = excluded.strategy,
			resolved = excluded.resolved,
			resolved_at = excluded.resolved_at,
			updated_at = excluded.updated_at
	`
	_, err = r.db.ExecContext(ctx, query,
		conflict.ID().String(),
		conflict.ClinicianID().String(),
		string(conflict.Kind()),
		string(localDoc),
		string(externalDoc),
		string(conflict.Strategy()),
		conflict.Resolved(),
		resolvedAt,
		formatTime(conflict.CreatedAt()),
		formatTime(conflict.UpdatedAt()),
	)
	return err
}

// FindByID retrieves a conflict by ID.
func (r *SQLiteConflictRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.SyncConflict, error) {
	query := `
		SELECT id, clinician_id, kind, local_side, external_side,
		       strategy, resolved, resolved_at, created_at, updated_at
		FROM sync_conflicts
		WHERE id = ?
	`
	conflict, err := scanSQLiteConflict(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sharedDomain.ErrNotFound
		}
		return nil, err
	}
	return conflict, nil
}

// FindUnresolved retrieves pending conflicts for a clinician.
func (r *SQLiteConflictRepository) FindUnresolved(ctx context.Context, clinicianID uuid.UUID) ([]*domain.SyncConflict, error) {
	query := `
		SELECT id, clinician_id, kind, local_side, external_side,
		       strategy, resolved, resolved_at, created_at, updated_at
		FROM sync_conflicts
		WHERE clinician_id = ? AND resolved = 0
		ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, clinicianID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conflicts := make([]*domain.SyncConflict, 0)
	for rows.Next() {
		conflict, err := scanSQLiteConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, conflict)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return conflicts, nil
}

// Delete removes a conflict.
func (r *SQLiteConflictRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sync_conflicts WHERE id = ?`, id.String())
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

func scanSQLiteConflict(s scanner) (*domain.SyncConflict, error) {
	var (
		id, clinicianID, kind, localRaw, externalRaw, strategy string
		resolved                                               bool
		resolvedAtStr                                          *string
		createdStr, updatedStr                                 string
	)
	if err := s.Scan(&id, &clinicianID, &kind, &localRaw, &externalRaw,
		&strategy, &resolved, &resolvedAtStr, &createdStr, &updatedStr); err != nil {
		return nil, err
	}

	var localDoc, externalDoc conflictSideDoc
	if err := json.Unmarshal([]byte(localRaw), &localDoc); err != nil {
		return nil, fmt.Errorf("unmarshal local side: %w", err)
	}
	if err := json.Unmarshal([]byte(externalRaw), &externalDoc); err != nil {
		return nil, fmt.Errorf("unmarshal external side: %w", err)
	}

	var resolvedAt *time.Time
	if resolvedAtStr != nil {
		t, err := parseTime(*resolvedAtStr)
		if err != nil {
			return nil, err
		}
		resolvedAt = &t
	}
	createdAt, err := parseTime(createdStr)
	if err != nil {
		return nil, err
	}
	updatedAt, err := parseTime(updatedStr)
	if err != nil {
		return nil, err
	}

	return domain.RehydrateSyncConflict(
		uuid.MustParse(id),
		uuid.MustParse(clinicianID),
		domain.ConflictKind(kind),
		docToSide(localDoc),
		docToSide(externalDoc),
		domain.ResolutionStrategy(strategy),
		resolved,
		resolvedAt,
		createdAt,
		updatedAt,
	), nil
}
