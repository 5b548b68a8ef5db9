package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/meridianbh/cadence/internal/connections/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
)

// SQLiteConnectionRepository implements domain.ConnectionRepository on SQLite
// for single-node deployments.
type SQLiteConnectionRepository struct {
	db *sql.DB
}

// NewSQLiteConnectionRepository creates a SQLite connection repository.
func NewSQLiteConnectionRepository(db *sql.DB) *SQLiteConnectionRepository {
	return &SQLiteConnectionRepository{db: db}
}

// Save upserts the connection with a version guard.
func (r *SQLiteConnectionRepository) Save(ctx context.Context, conn *domain.Connection) error {
	var lastSync *string
	if t := conn.LastSyncAt(); !t.IsZero() {
		s := formatTime(t)
		lastSync = &s
	}

	query := `
		INSERT INTO connections (
			id, owner_id, provider, display_name, access_token, refresh_token,
			token_type, token_expiry, active, last_sync_at, version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ? + 1, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			display_name = excluded.display_name,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			token_expiry = excluded.token_expiry,
			active = excluded.active,
			last_sync_at = excluded.last_sync_at,
			version = connections.version + 1,
			updated_at = excluded.updated_at
		WHERE connections.version = ?
		RETURNING version
	`

	var newVersion int
	err := r.db.QueryRowContext(ctx, query,
		conn.ID().String(),
		conn.OwnerID().String(),
		string(conn.Provider()),
		conn.DisplayName(),
		conn.AccessToken(),
		conn.RefreshToken(),
		conn.TokenType(),
		formatTime(conn.TokenExpiry()),
		conn.Active(),
		lastSync,
		conn.Version(),
		formatTime(conn.CreatedAt()),
		formatTime(conn.UpdatedAt()),
		conn.Version(),
	).Scan(&newVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return sharedDomain.ErrConcurrentModification
		}
		return err
	}

	conn.SetVersion(newVersion)
	return nil
}

// FindByID retrieves a connection by ID.
func (r *SQLiteConnectionRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE id = ?`
	conn, err := scanSQLiteConnection(r.db.QueryRowContext(ctx, query, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sharedDomain.ErrNotFound
		}
		return nil, err
	}
	return conn, nil
}

// FindByOwner retrieves all connections for a user.
func (r *SQLiteConnectionRepository) FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE owner_id = ? ORDER BY created_at`
	return r.queryConnections(ctx, query, ownerID.String())
}

// FindActiveByOwner retrieves only active connections for a user.
func (r *SQLiteConnectionRepository) FindActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Connection, error) {
	query := `SELECT ` + connectionColumns + ` FROM connections WHERE owner_id = ? AND active ORDER BY created_at`
	return r.queryConnections(ctx, query, ownerID.String())
}

// ActiveOwners lists clinicians that currently have at least one active
// connection.
func (r *SQLiteConnectionRepository) ActiveOwners(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT owner_id FROM connections WHERE active ORDER BY owner_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners := make([]uuid.UUID, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(raw)
		if err != nil {
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
func (r *SQLiteConnectionRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id.String())
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

func (r *SQLiteConnectionRepository) queryConnections(ctx context.Context, query string, args ...any) ([]*domain.Connection, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conns := make([]*domain.Connection, 0)
	for rows.Next() {
		conn, err := scanSQLiteConnection(rows)
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

func scanSQLiteConnection(s scanner) (*domain.Connection, error) {
	var (
		id, ownerID                       string
		provider, displayName, tokenType  string
		accessToken, refreshToken         []byte
		tokenExpiry, createdAt, updatedAt string
		active                            bool
		lastSyncAt                        *string
		version                           int
	)
	err := s.Scan(&id, &ownerID, &provider, &displayName, &accessToken, &refreshToken,
		&tokenType, &tokenExpiry, &active, &lastSyncAt, &version, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	expiry, err := parseTime(tokenExpiry)
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
	lastSync := time.Time{}
	if lastSyncAt != nil {
		lastSync, err = parseTime(*lastSyncAt)
		if err != nil {
			return nil, err
		}
	}

	return domain.RehydrateConnection(
		uuid.MustParse(id), uuid.MustParse(ownerID), domain.Provider(provider), displayName,
		accessToken, refreshToken, tokenType, expiry,
		active, lastSync, created, updated, version,
	), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
