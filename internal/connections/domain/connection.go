package domain

import (
	"context"
	"errors"
	"strings"
	"time"

	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"

	"github.com/google/uuid"
)

// Domain errors for Connection validation and use.
var (
	ErrEmptyOwnerID        = errors.New("owner ID cannot be empty")
	ErrInvalidProvider     = errors.New("invalid provider type")
	ErrEmptyDisplayName    = errors.New("connection display name cannot be empty")
	ErrConnectionInactive  = errors.New("connection is inactive")
	ErrMissingRefreshToken = errors.New("connection has no refresh token")
)

// Provider identifies the external calendar service behind a connection.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderCalDAV Provider = "caldav"
)

// IsValid returns true for a known provider.
func (p Provider) IsValid() bool {
	switch p {
	case ProviderGoogle, ProviderCalDAV:
		return true
	}
	return false
}

func (p Provider) String() string { return string(p) }

// Connection represents one linked external calendar account. Tokens are
// stored encrypted; the aggregate never sees plaintext. An active connection
// must be refreshed before use once its expiry has passed.
type Connection struct {
	sharedDomain.BaseAggregateRoot
	ownerID      uuid.UUID
	provider     Provider
	displayName  string
	accessToken  []byte // encrypted
	refreshToken []byte // encrypted
	tokenType    string
	tokenExpiry  time.Time
	active       bool
	lastSyncAt   time.Time
}

// NewConnection creates a new active connection and records a
// ConnectionLinkedEvent.
func NewConnection(
	ownerID uuid.UUID,
	provider Provider,
	displayName string,
	accessToken, refreshToken []byte,
	tokenType string,
	tokenExpiry time.Time,
) (*Connection, error) {
	if ownerID == uuid.Nil {
		return nil, ErrEmptyOwnerID
	}
	if !provider.IsValid() {
		return nil, ErrInvalidProvider
	}
	if strings.TrimSpace(displayName) == "" {
		return nil, ErrEmptyDisplayName
	}

	c := &Connection{
		BaseAggregateRoot: sharedDomain.NewBaseAggregateRoot(),
		ownerID:           ownerID,
		provider:          provider,
		displayName:       displayName,
		accessToken:       accessToken,
		refreshToken:      refreshToken,
		tokenType:         tokenType,
		tokenExpiry:       tokenExpiry,
		active:            true,
	}
	c.AddDomainEvent(NewConnectionLinkedEvent(c.ID(), ownerID, provider))
	return c, nil
}

// Getters
func (c *Connection) OwnerID() uuid.UUID     { return c.ownerID }
func (c *Connection) Provider() Provider     { return c.provider }
func (c *Connection) DisplayName() string    { return c.displayName }
func (c *Connection) AccessToken() []byte    { return c.accessToken }
func (c *Connection) RefreshToken() []byte   { return c.refreshToken }
func (c *Connection) TokenType() string      { return c.tokenType }
func (c *Connection) TokenExpiry() time.Time { return c.tokenExpiry }
func (c *Connection) Active() bool           { return c.active }
func (c *Connection) LastSyncAt() time.Time  { return c.lastSyncAt }

// IsExpired reports whether the access token must be refreshed before use.
// A zero expiry means the provider never reported one; treat as expired so
// the refresher decides.
func (c *Connection) IsExpired(now time.Time) bool {
	if c.tokenExpiry.IsZero() {
		return true
	}
	return !now.Before(c.tokenExpiry)
}

// HasRefreshToken reports whether a refresh grant is possible.
func (c *Connection) HasRefreshToken() bool {
	return len(c.refreshToken) > 0
}

// UpdateTokens replaces the stored tokens after a successful refresh or
// re-link. An empty refresh token keeps the previous one; providers commonly
// omit it on refresh responses.
func (c *Connection) UpdateTokens(accessToken, refreshToken []byte, tokenType string, expiry time.Time) {
	c.accessToken = accessToken
	if len(refreshToken) > 0 {
		c.refreshToken = refreshToken
	}
	if tokenType != "" {
		c.tokenType = tokenType
	}
	c.tokenExpiry = expiry
	c.Touch()
}

// Deactivate marks the connection unusable and records a
// ConnectionDeactivatedEvent. Deactivated connections are skipped by fetches
// and never refreshed; the owner must re-link the account.
func (c *Connection) Deactivate(reason string) {
	if c.active {
		c.active = false
		c.Touch()
		c.AddDomainEvent(NewConnectionDeactivatedEvent(c.ID(), c.ownerID, c.provider, reason))
	}
}

// Reactivate restores a deactivated connection after a successful re-link.
func (c *Connection) Reactivate() {
	if !c.active {
		c.active = true
		c.Touch()
	}
}

// MarkSynced records a successful event fetch through this connection.
func (c *Connection) MarkSynced() {
	c.lastSyncAt = time.Now().UTC()
	c.Touch()
}

// RehydrateConnection recreates a connection from persisted state.
func RehydrateConnection(
	id uuid.UUID,
	ownerID uuid.UUID,
	provider Provider,
	displayName string,
	accessToken, refreshToken []byte,
	tokenType string,
	tokenExpiry time.Time,
	active bool,
	lastSyncAt time.Time,
	createdAt, updatedAt time.Time,
	version int,
) *Connection {
	return &Connection{
		BaseAggregateRoot: sharedDomain.RehydrateBaseAggregateRoot(
			sharedDomain.RehydrateBaseEntity(id, createdAt, updatedAt), version),
		ownerID:      ownerID,
		provider:     provider,
		displayName:  displayName,
		accessToken:  accessToken,
		refreshToken: refreshToken,
		tokenType:    tokenType,
		tokenExpiry:  tokenExpiry,
		active:       active,
		lastSyncAt:   lastSyncAt,
	}
}

// ConnectionRepository defines persistence for connections.
type ConnectionRepository interface {
	// Save persists a connection (create or update).
	Save(ctx context.Context, conn *Connection) error

	// FindByID retrieves a connection by ID.
	FindByID(ctx context.Context, id uuid.UUID) (*Connection, error)

	// FindByOwner retrieves all connections for a user.
	FindByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Connection, error)

	// FindActiveByOwner retrieves only active connections for a user.
	FindActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]*Connection, error)

	// Delete removes a connection.
	Delete(ctx context.Context, id uuid.UUID) error
}
