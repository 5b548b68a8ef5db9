// Package persistence implements the connection repository on PostgreSQL and
// SQLite. Token columns hold ciphertext; encryption happens in the
// application layer before rows reach this package.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/meridianbh/cadence/internal/connections/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
)

// PgxDB is the subset of pgxpool.Pool the repository uses.
type PgxDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresConnectionRepository implements domain.ConnectionRepository on
// PostgreSQL.
type PostgresConnectionRepository struct {
	db PgxDB
}

// NewPostgresConnectionRepository creates a PostgreSQL connection repository.
func NewPostgresConnectionRepository(db PgxDB) *PostgresConnectionRepository {
	return &PostgresConnectionRepository{db: db}
}

const connectionColumns = `id, owner_id, provider, display_name, access_token, refresh_token,
       token_type, token_expiry, active, last_sync_at, version, created_at, updated_at`

// Save upserts the connection with a version guard.
func (r *PostgresConnectionRepository) Save(ctx context.Context, conn *domain.Connection) error {
	var lastSync *time.Time
	if t := conn.LastSyncAt(); !t.IsZero() {
		lastSync = &t
	}

	query := `
		INSERT INTO connections (
			id, owner_id, provider, display_name, access_token, refresh_token,
			token_type, token_expiry, active, last_sync_at, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11 + 1, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			token_expiry = EXCLUDED.token_expiry,
			active = EXCLUDED.active,
			last_sync_at = EXCLUDED.last_sync_at,
			version = connections.version + 1,
			updated_at = NOW()
		WHERE connections.version = $11
		RETURNING version
	`

	var newVersion int
	err := r.db.QueryRow(ctx, query,
		conn.ID(),
		conn.OwnerID(),
		string(conn.Provider()),
		conn.DisplayName(),
		conn.AccessToken(),
		conn.RefreshToken(),
		conn.TokenType(),
		conn.TokenExpiry(),
		conn.Active(),
		lastSync,
		conn.Version(),
		conn.CreatedAt(),
		conn.UpdatedAt(),
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return sharedDomain.ErrConcurrentModification
		}
		return err
	}

	conn.SetVersion(newVersion)
	return nil
}

// FindByID retrieves a connection by ID.
func (r *PostgresConnectionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = $1`
	conn, err := scanPgxConnection(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, sharedDomain.ErrNotFound
		}
		return nil, err
	}
	return conn, nil
}

// FindByOwner retrieves all connections for a user.
func (r *PostgresConnectionRepository) FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE owner_id = $1 ORDER BY created_at`
	return r.queryConnections(ctx, query, ownerID)
}

// FindActiveByOwner retrieves only active connections for a user.
func (r *PostgresConnectionRepository) FindActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE owner_id = $1 AND active ORDER BY created_at`
	return r.queryConnections(ctx, query, ownerID)
}

// ActiveOwners lists clinicians that currently have at least one active
// connection. Feeds the background sync worker's cycle.
func (r *PostgresConnectionRepository) ActiveOwners(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT owner_id FROM connections WHERE active ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		owners = append(owners, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return owners, nil
}

// Delete removes a connection.
func (r *PostgresConnectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM connections WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return sharedDomain.ErrNotFound
	}
	return nil
}

func (r *PostgresConnectionRepository) queryConnections(ctx context.Context, query string, args ...any) ([]*domain.Connection, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := make([]*domain.Connection, 0)
	for rows.Next() {
		conn, err := scanPgxConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return conns, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPgxConnection(s scanner) (*domain.Connection, error) {
	var (
		id, ownerID                          uuid.UUID
		provider, displayName, tokenType     string
		accessToken, refreshToken            []byte
		tokenExpiry, createdAt, updatedAt    time.Time
		active                               bool
		lastSyncAt                           *time.Time
		version                              int
	)
	err := s.Scan(&id, &ownerID, &provider, &displayName, &accessToken, &refreshToken,
		&tokenType, &tokenExpiry, &active, &lastSyncAt, &version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	lastSync := time.Time{}
	if lastSyncAt != nil {
		lastSync = *lastSyncAt
	}
	return domain.RehydrateConnection(
		id, ownerID, domain.Provider(provider), displayName,
		accessToken, refreshToken, tokenType, tokenExpiry,
		active, lastSync, createdAt, updatedAt, version,
	), nil
}
