package app

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	schedulingApp "github.com/meridianbh/cadence/internal/scheduling/application"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
	"github.com/meridianbh/cadence/pkg/config"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testEncryptionKey is base64 of a fixed 32-byte key.
const testEncryptionKey = "YWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWFhYWE="

func newLocalTestContainer(t *testing.T) *Container {
	t.Helper()

	cfg := &config.Config{
		AppEnv:        "test",
		LocalMode:     true,
		EncryptionKey: testEncryptionKey,
		SQLitePath:    filepath.Join(t.TempDir(), "test.db"),
		SyncInterval:  time.Minute,
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	container, err := NewContainer(context.Background(), cfg, logger)
	require.NoError(t, err)
	t.Cleanup(container.Close)
	return container
}

func TestLocalModeContainer(t *testing.T) {
	container := newLocalTestContainer(t)

	assert.NotNil(t, container.SQLiteDB)
	assert.Nil(t, container.DB)
	assert.Nil(t, container.RedisClient)

	assert.NotNil(t, container.AppointmentRepo)
	assert.NotNil(t, container.ConflictRepo)
	assert.NotNil(t, container.ConnectionRepo)
	assert.NotNil(t, container.SlotRepo)
	assert.NotNil(t, container.OwnerSource)

	assert.NotNil(t, container.EventPublisher)
	assert.NotNil(t, container.TokenRefresher)
	assert.NotNil(t, container.EventFetcher)
	assert.NotNil(t, container.SyncService)
	assert.NotNil(t, container.BookingService)
	assert.NotNil(t, container.Reconciler)
	assert.NotNil(t, container.TransferAdapter)
	assert.NotNil(t, container.SyncWorker)
}

func TestNewContainerNilLoggerDefaults(t *testing.T) {
	cfg := &config.Config{
		AppEnv:       "development",
		LocalMode:    true,
		SQLitePath:   filepath.Join(t.TempDir(), "test.db"),
		SyncInterval: time.Minute,
	}

	// Development without a key generates an ephemeral one and logs a
	// warning; a nil logger must not panic doing so.
	container, err := NewContainer(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(container.Close)
	assert.NotNil(t, container.Logger)
}

func TestLocalModeBookingWorkflow(t *testing.T) {
	container := newLocalTestContainer(t)
	ctx := context.Background()
	clinicianID := uuid.New()

	start := time.Date(2026, time.September, 3, 10, 0, 0, 0, time.UTC)
	r, err := schedulingDomain.NewTimeRange(start, start.Add(50*time.Minute))
	require.NoError(t, err)

	appt, err := container.BookingService.Book(ctx, schedulingApp.BookingRequest{
		ClinicianID: clinicianID,
		Range:       r,
		Timezone:    "UTC",
		Type:        schedulingDomain.TypeSession,
	})
	require.NoError(t, err)

	found, err := container.AppointmentRepo.FindByID(ctx, appt.ID())
	require.NoError(t, err)
	assert.Equal(t, clinicianID, found.ClinicianID())

	// Same interval again must collide.
	_, err = container.BookingService.Book(ctx, schedulingApp.BookingRequest{
		ClinicianID: clinicianID,
		Range:       r,
		Timezone:    "UTC",
		Type:        schedulingDomain.TypeSession,
	})
	var conflictErr *schedulingApp.ConflictError
	require.ErrorAs(t, err, &conflictErr)
}

func TestLocalModeSyncWithoutConnections(t *testing.T) {
	container := newLocalTestContainer(t)

	now := time.Now().UTC().Truncate(time.Hour)
	window := schedulingDomain.TimeRange{Start: now, End: now.AddDate(0, 0, 14)}
	report, err := container.SyncService.SyncWindow(context.Background(), uuid.New(), window)
	require.NoError(t, err)
	assert.Zero(t, report.ExternalEvents)
	assert.Empty(t, report.NewConflicts)
	assert.Empty(t, report.FetchErrors)
}

func TestBuildEncrypterRequiresKeyOutsideDevelopment(t *testing.T) {
	c := &Container{}
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	_, err := c.buildEncrypter(&config.Config{AppEnv: "production"}, logger)
	require.Error(t, err)

	enc, err := c.buildEncrypter(&config.Config{AppEnv: "development"}, logger)
	require.NoError(t, err)
	assert.NotNil(t, enc)
}
