package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/meridianbh/cadence/internal/scheduling/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
)

// conflictSideDoc is the JSON shape a ConflictSide is stored as.
type conflictSideDoc struct {
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
	ConnectionID  *uuid.UUID `json:"connectionId,omitempty"`
	EventID       string     `json:"eventId,omitempty"`
	Start         time.Time  `json:"start"`
	End           time.Time  `json:"end"`
	Summary       string     `json:"summary,omitempty"`
	ModifiedAt    time.Time  `json:"modifiedAt,omitempty"`
}

func sideToDoc(side domain.ConflictSide) conflictSideDoc {
	return conflictSideDoc{
		AppointmentID: side.AppointmentID,
		ConnectionID:  side.ConnectionID,
		EventID:       side.EventID,
		Start:         side.Range.Start,
		End:           side.Range.End,
		Summary:       side.Summary,
		ModifiedAt:    side.ModifiedAt,
	}
}

func docToSide(doc conflictSideDoc) domain.ConflictSide {
	return domain.ConflictSide{
		AppointmentID: doc.AppointmentID,
		ConnectionID:  doc.ConnectionID,
		EventID:       doc.EventID,
		Range:         domain.TimeRange{Start: doc.Start, End: doc.End},
		Summary:       doc.Summary,
		ModifiedAt:    doc.ModifiedAt,
	}
}

// PostgresConflictRepository implements domain.ConflictRepository on
// PostgreSQL. Conflict sides are stored as JSONB snapshots; they are
// detection-time captures, not references into live rows.
type PostgresConflictRepository struct {
	db PgxDB
}

// NewPostgresConflictRepository creates a PostgreSQL conflict repository.
func NewPostgresConflictRepository(db PgxDB) *PostgresConflictRepository {
	return &PostgresConflictRepository{db: db}
}

// Save upserts the conflict.
func (r *PostgresConflictRepository) Save(ctx context.Context, conflict *domain.SyncConflict) error {
	localDoc, err := json.Marshal(sideToDoc(conflict.Local()))
	if err != nil {
		return fmt.Errorf("marshal local side: %w", err)
	}
	externalDoc, err := json.Marshal(sideToDoc(conflict.External()))
	if err != nil {
		return fmt.Errorf("marshal external side: %w", err)
	}

	query := `
		INSERT INTO sync_conflicts (
			id, clinician_id, kind, local_side, external_side,
			strategy, resolved, resolved_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			strategy = EXCLUDED.strategy,
			resolved = EXCLUDED.resolved,
			resolved_at = EXCLUDED.resolved_at,
			updated_at = NOW()
	`
	_, err = r.db.Exec(ctx, query,
		conflict.ID(),
		conflict.ClinicianID(),
		string(conflict.Kind()),
		localDoc,
		externalDoc,
		string(conflict.Strategy()),
		conflict.Resolved(),
		conflict.ResolvedAt(),
		conflict.CreatedAt(),
		conflict.UpdatedAt(),
	)
	return err
}

// FindByID retrieves a conflict by ID.
func (r *PostgresConflictRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.SyncConflict, error) {
	query := `
		SELECT id, clinician_id, kind, local_side, external_side,
		       strategy, resolved, resolved_at, created_at, updated_at
		FROM sync_conflicts
		WHERE id = $1
	`
	conflict, err := scanConflict(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sharedDomain.ErrNotFound
		}
		return nil, err
	}
	return conflict, nil
}

// FindUnresolved retrieves pending conflicts for a clinician.
func (r *PostgresConflictRepository) FindUnresolved(ctx context.Context, clinicianID uuid.UUID) ([]*domain.SyncConflict, error) {
	query := `
		SELECT id, clinician_id, kind, local_side, external_side,
		       strategy, resolved, resolved_at, created_at, updated_at
		FROM sync_conflicts
		WHERE clinician_id = $1 AND resolved = FALSE
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, clinicianID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conflicts := make([]*domain.SyncConflict, 0)
	for rows.Next() {
		conflict, err := scanConflict(rows)
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
func (r *PostgresConflictRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM sync_conflicts WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return sharedDomain.ErrNotFound
	}
	return nil
}

func scanConflict(s scanner) (*domain.SyncConflict, error) {
	var (
		id          uuid.UUID
		clinicianID uuid.UUID
		kind        string
		localRaw    []byte
		externalRaw []byte
		strategy    string
		resolved    bool
		resolvedAt  *time.Time
		createdAt   time.Time
		updatedAt   time.Time
	)
	if err := s.Scan(&id, &clinicianID, &kind, &localRaw, &externalRaw,
		&strategy, &resolved, &resolvedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	var localDoc, externalDoc conflictSideDoc
	if err := json.Unmarshal(localRaw, &localDoc); err != nil {
		return nil, fmt.Errorf("unmarshal local side: %w", err)
	}
	if err := json.Unmarshal(externalRaw, &externalDoc); err != nil {
		return nil, fmt.Errorf("unmarshal external side: %w", err)
	}

	return domain.RehydrateSyncConflict(
		id,
		clinicianID,
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
