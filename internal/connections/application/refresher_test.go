package application_test

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/meridianbh/cadence/internal/connections/application"
	"github.com/meridianbh/cadence/internal/connections/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
	sharedCrypto "github.com/meridianbh/cadence/internal/shared/infrastructure/crypto"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeConnectionRepo struct {
	conns map[uuid.UUID]*domain.Connection
}

func newFakeConnectionRepo() *fakeConnectionRepo {
	return &fakeConnectionRepo{conns: make(map[uuid.UUID]*domain.Connection)}
}

func (r *fakeConnectionRepo) Save(_ context.Context, conn *domain.Connection) error {
	r.conns[conn.ID()] = conn
	return nil
}

func (r *fakeConnectionRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Connection, error) {
	conn, ok := r.conns[id]
	if !ok {
		return nil, sharedDomain.ErrNotFound
	}
	return conn, nil
}

func (r *fakeConnectionRepo) FindByOwner(_ context.Context, ownerID uuid.UUID) ([]*domain.Connection, error) {
	var out []*domain.Connection
	for _, c := range r.conns {
		if c.OwnerID() == ownerID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConnectionRepo) FindActiveByOwner(ctx context.Context, ownerID uuid.UUID) ([]*domain.Connection, error) {
	all, _ := r.FindByOwner(ctx, ownerID)
	var out []*domain.Connection
	for _, c := range all {
		if c.Active() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConnectionRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.conns, id)
	return nil
}

func testEncrypter(t *testing.T) sharedCrypto.Encrypter {
	t.Helper()
	key := base64.StdEncoding.EncodeToString([]byte("0123456789abcdef0123456789abcdef"))
	enc, err := sharedCrypto.NewAESGCMFromBase64Key(key)
	require.NoError(t, err)
	return enc
}

func encrypt(t *testing.T, enc sharedCrypto.Encrypter, plaintext string) []byte {
	t.Helper()
	out, err := enc.Encrypt([]byte(plaintext))
	require.NoError(t, err)
	return out
}

func newConnection(t *testing.T, enc sharedCrypto.Encrypter, expiry time.Time) *domain.Connection {
	t.Helper()
	conn, err := domain.NewConnection(
		uuid.New(),
		domain.ProviderGoogle,
		"Work calendar",
		encrypt(t, enc, "old-access"),
		encrypt(t, enc, "refresh-1"),
		"Bearer",
		expiry,
	)
	require.NoError(t, err)
	return conn
}

func tokenServer(t *testing.T, hits *atomic.Int32, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func oauthConfig(srv *httptest.Server) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Endpoint:     oauth2.Endpoint{TokenURL: srv.URL + "/token"},
	}
}

func TestTokenRefresher_RefreshesExpiredToken(t *testing.T) {
	enc := testEncrypter(t)
	repo := newFakeConnectionRepo()

	oldExpiry := time.Now().Add(-time.Hour)
	conn := newConnection(t, enc, oldExpiry)
	require.NoError(t, repo.Save(context.Background(), conn))

	var hits atomic.Int32
	srv := tokenServer(t, &hits, http.StatusOK,
		`{"access_token":"new-access","token_type":"Bearer","expires_in":3600,"refresh_token":"refresh-2"}`)

	refresher := application.NewTokenRefresher(repo, enc, oauthConfig(srv), nil, nil)

	token, err := refresher.EnsureFresh(context.Background(), conn.ID())

	require.NoError(t, err)
	assert.Equal(t, "new-access", token)
	assert.Equal(t, int32(1), hits.Load())

	stored, err := repo.FindByID(context.Background(), conn.ID())
	require.NoError(t, err)
	assert.True(t, stored.TokenExpiry().After(oldExpiry), "stored expiry must be strictly later")

	access, err := enc.Decrypt(stored.AccessToken())
	require.NoError(t, err)
	assert.Equal(t, "new-access", string(access), "previous access token replaced")

	refresh, err := enc.Decrypt(stored.RefreshToken())
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", string(refresh))
}

func TestTokenRefresher_FreshTokenSkipsProvider(t *testing.T) {
	enc := testEncrypter(t)
	repo := newFakeConnectionRepo()

	conn := newConnection(t, enc, time.Now().Add(time.Hour))
	require.NoError(t, repo.Save(context.Background(), conn))

	var hits atomic.Int32
	srv := tokenServer(t, &hits, http.StatusOK, `{}`)
	refresher := application.NewTokenRefresher(repo, enc, oauthConfig(srv), nil, nil)

	token, err := refresher.EnsureFresh(context.Background(), conn.ID())

	require.NoError(t, err)
	assert.Equal(t, "old-access", token)
	assert.Equal(t, int32(0), hits.Load(), "no refresh for a non-expired token")
}

func TestTokenRefresher_RejectionDeactivatesConnection(t *testing.T) {
	enc := testEncrypter(t)
	repo := newFakeConnectionRepo()

	conn := newConnection(t, enc, time.Now().Add(-time.Hour))
	require.NoError(t, repo.Save(context.Background(), conn))

	var hits atomic.Int32
	srv := tokenServer(t, &hits, http.StatusBadRequest, `{"error":"invalid_grant"}`)
	refresher := application.NewTokenRefresher(repo, enc, oauthConfig(srv), nil, nil)

	_, err := refresher.EnsureFresh(context.Background(), conn.ID())

	var authErr *application.AuthRefreshError
	require.ErrorAs(t, err, &authErr)
	assert.Equal(t, conn.ID(), authErr.ConnectionID)

	stored, err := repo.FindByID(context.Background(), conn.ID())
	require.NoError(t, err)
	assert.False(t, stored.Active(), "rejected connection must be deactivated")
}

func TestTokenRefresher_InactiveConnectionNotRefreshed(t *testing.T) {
	enc := testEncrypter(t)
	repo := newFakeConnectionRepo()

	conn := newConnection(t, enc, time.Now().Add(-time.Hour))
	conn.Deactivate("user disconnected")
	require.NoError(t, repo.Save(context.Background(), conn))

	var hits atomic.Int32
	srv := tokenServer(t, &hits, http.StatusOK, `{}`)
	refresher := application.NewTokenRefresher(repo, enc, oauthConfig(srv), nil, nil)

	_, err := refresher.EnsureFresh(context.Background(), conn.ID())

	assert.ErrorIs(t, err, domain.ErrConnectionInactive)
	assert.Equal(t, int32(0), hits.Load())
}

func TestMutexLocker_SerializesPerConnection(t *testing.T) {
	locker := application.NewMutexLocker()
	connID := uuid.New()

	var inside atomic.Int32
	var maxSeen atomic.Int32
	done := make(chan struct{})

	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_ = locker.WithLock(context.Background(), connID, func(ctx context.Context) error {
				n := inside.Add(1)
				if n > maxSeen.Load() {
					maxSeen.Store(n)
				}
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	assert.Equal(t, int32(1), maxSeen.Load(), "only one refresh may run per connection")
}
