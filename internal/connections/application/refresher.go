package application

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meridianbh/cadence/internal/connections/domain"
	sharedCrypto "github.com/meridianbh/cadence/internal/shared/infrastructure/crypto"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// AuthRefreshError indicates the provider rejected the refresh token. The
// connection is deactivated and the owner must re-link the account.
type AuthRefreshError struct {
	ConnectionID uuid.UUID
	Err          error
}

func (e *AuthRefreshError) Error() string {
	return fmt.Sprintf("token refresh rejected for connection %s: %v", e.ConnectionID, e.Err)
}

func (e *AuthRefreshError) Unwrap() error { return e.Err }

// RefreshLocker serializes refreshes per connection so concurrent callers do
// not issue duplicate refresh grants.
type RefreshLocker interface {
	WithLock(ctx context.Context, connectionID uuid.UUID, fn func(ctx context.Context) error) error
}

// MutexLocker is an in-process RefreshLocker keyed by connection ID. Used
// when no Redis is configured (single-process deployments).
type MutexLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// NewMutexLocker creates an in-process refresh locker.
func NewMutexLocker() *MutexLocker {
	return &MutexLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// WithLock runs fn while holding the per-connection mutex.
func (l *MutexLocker) WithLock(ctx context.Context, connectionID uuid.UUID, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	lock, ok := l.locks[connectionID]
	if !ok {
		lock = &sync.Mutex{}
		l.locks[connectionID] = lock
	}
	l.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	return fn(ctx)
}

// TokenRefresher renews expired access tokens through the provider's token
// endpoint before any external call.
type TokenRefresher struct {
	conns     domain.ConnectionRepository
	encrypter sharedCrypto.Encrypter
	oauth     *oauth2.Config
	locker    RefreshLocker
	logger    *slog.Logger
	now       func() time.Time
}

// NewTokenRefresher creates a token refresher.
func NewTokenRefresher(
	conns domain.ConnectionRepository,
	encrypter sharedCrypto.Encrypter,
	oauthConfig *oauth2.Config,
	locker RefreshLocker,
	logger *slog.Logger,
) *TokenRefresher {
	if logger == nil {
		logger = slog.Default()
	}
	if locker == nil {
		locker = NewMutexLocker()
	}
	return &TokenRefresher{
		conns:     conns,
		encrypter: encrypter,
		oauth:     oauthConfig,
		locker:    locker,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock overrides the clock. Tests only.
func (r *TokenRefresher) WithClock(now func() time.Time) *TokenRefresher {
	r.now = now
	return r
}

// EnsureFresh returns a plaintext access token valid at call time. If the
// stored token has expired it is refreshed under a per-connection lock and
// the new token and expiry are persisted. Inactive connections are never
// refreshed.
func (r *TokenRefresher) EnsureFresh(ctx context.Context, connectionID uuid.UUID) (string, error) {
	conn, err := r.conns.FindByID(ctx, connectionID)
	if err != nil {
		return "", err
	}
	if !conn.Active() {
		return "", domain.ErrConnectionInactive
	}
	if !conn.IsExpired(r.now()) {
		return r.decryptAccess(conn)
	}

	var token string
	err = r.locker.WithLock(ctx, connectionID, func(ctx context.Context) error {
		// Re-read under the lock: a concurrent caller may have already
		// refreshed while we waited.
		conn, err := r.conns.FindByID(ctx, connectionID)
		if err != nil {
			return err
		}
		if !conn.Active() {
			return domain.ErrConnectionInactive
		}
		if !conn.IsExpired(r.now()) {
			token, err = r.decryptAccess(conn)
			return err
		}
		token, err = r.refresh(ctx, conn)
		return err
	})
	if err != nil {
		return "", err
	}
	return token, nil
}

func (r *TokenRefresher) refresh(ctx context.Context, conn *domain.Connection) (string, error) {
	if !conn.HasRefreshToken() {
		r.deactivate(ctx, conn, "no refresh token on record")
		return "", &AuthRefreshError{ConnectionID: conn.ID(), Err: domain.ErrMissingRefreshToken}
	}

	refreshPlain, err := r.encrypter.Decrypt(conn.RefreshToken())
	if err != nil {
		return "", fmt.Errorf("decrypt refresh token: %w", err)
	}

	// An expired token with only the refresh grant forces TokenSource to hit
	// the provider's token endpoint.
	stale := &oauth2.Token{
		RefreshToken: string(refreshPlain),
		Expiry:       r.now().Add(-time.Minute),
	}
	fresh, err := r.oauth.TokenSource(ctx, stale).Token()
	if err != nil {
		r.deactivate(ctx, conn, "provider rejected refresh token")
		return "", &AuthRefreshError{ConnectionID: conn.ID(), Err: err}
	}

	accessEnc, err := r.encrypter.Encrypt([]byte(fresh.AccessToken))
	if err != nil {
		return "", fmt.Errorf("encrypt access token: %w", err)
	}
	var refreshEnc []byte
	if fresh.RefreshToken != "" && fresh.RefreshToken != string(refreshPlain) {
		refreshEnc, err = r.encrypter.Encrypt([]byte(fresh.RefreshToken))
		if err != nil {
			return "", fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	conn.UpdateTokens(accessEnc, refreshEnc, fresh.TokenType, fresh.Expiry)
	if err := r.conns.Save(ctx, conn); err != nil {
		return "", fmt.Errorf("persist refreshed tokens: %w", err)
	}

	r.logger.Info("access token refreshed",
		"connection_id", conn.ID(),
		"provider", conn.Provider(),
		"expires_at", fresh.Expiry,
	)
	return fresh.AccessToken, nil
}

func (r *TokenRefresher) deactivate(ctx context.Context, conn *domain.Connection, reason string) {
	conn.Deactivate(reason)
	if err := r.conns.Save(ctx, conn); err != nil {
		r.logger.Error("failed to persist deactivated connection",
			"connection_id", conn.ID(), "error", err)
	}
	r.logger.Warn("connection deactivated, reconnect required",
		"connection_id", conn.ID(),
		"provider", conn.Provider(),
		"reason", reason,
	)
}

func (r *TokenRefresher) decryptAccess(conn *domain.Connection) (string, error) {
	plain, err := r.encrypter.Decrypt(conn.AccessToken())
	if err != nil {
		return "", fmt.Errorf("decrypt access token: %w", err)
	}
	return string(plain), nil
}
