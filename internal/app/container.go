// Package app wires the application together. Two deployment shapes are
// supported: server mode backed by PostgreSQL, Redis and RabbitMQ, and local
// single-user mode backed by SQLite with in-process fallbacks for the lock
// and the event bus.
package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	availabilityApp "github.com/meridianbh/cadence/internal/availability/application"
	availabilityDomain "github.com/meridianbh/cadence/internal/availability/domain"
	availabilityCalDAV "github.com/meridianbh/cadence/internal/availability/infrastructure/caldav"
	availabilityPersistence "github.com/meridianbh/cadence/internal/availability/infrastructure/persistence"
	calendarApp "github.com/meridianbh/cadence/internal/calendar/application"
	calendarWorkers "github.com/meridianbh/cadence/internal/calendar/application/workers"
	calendarCalDAV "github.com/meridianbh/cadence/internal/calendar/infrastructure/caldav"
	googleCalendar "github.com/meridianbh/cadence/internal/calendar/infrastructure/google"
	connApp "github.com/meridianbh/cadence/internal/connections/application"
	connDomain "github.com/meridianbh/cadence/internal/connections/domain"
	connPersistence "github.com/meridianbh/cadence/internal/connections/infrastructure/persistence"
	"github.com/meridianbh/cadence/internal/connections/infrastructure/redislock"
	"github.com/meridianbh/cadence/internal/interchange"
	schedulingApp "github.com/meridianbh/cadence/internal/scheduling/application"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
	schedulingPersistence "github.com/meridianbh/cadence/internal/scheduling/infrastructure/persistence"
	sharedCrypto "github.com/meridianbh/cadence/internal/shared/infrastructure/crypto"
	"github.com/meridianbh/cadence/internal/shared/infrastructure/database"
	"github.com/meridianbh/cadence/internal/shared/infrastructure/eventbus"
	"github.com/meridianbh/cadence/pkg/config"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"
)

// refreshLockTTL bounds how long a crashed process can hold a refresh lock.
const refreshLockTTL = 30 * time.Second

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Storage. Exactly one of DB and SQLiteDB is set.
	DB       *pgxpool.Pool
	SQLiteDB *sql.DB

	RedisClient *redis.Client

	// Repositories
	AppointmentRepo schedulingDomain.AppointmentRepository
	ConflictRepo    schedulingDomain.ConflictRepository
	ConnectionRepo  connDomain.ConnectionRepository
	SlotRepo        availabilityDomain.SlotRepository

	// OwnerSource enumerates clinicians with active connections for the
	// background worker.
	OwnerSource calendarWorkers.OwnerSource

	// Eventing
	EventPublisher eventbus.Publisher

	// Encrypter protects provider tokens at rest.
	Encrypter sharedCrypto.Encrypter

	// Services
	TokenRefresher  *connApp.TokenRefresher
	SourceRegistry  *calendarApp.SourceRegistry
	EventFetcher    *calendarApp.EventFetcher
	SyncService     *calendarApp.SyncService
	BookingService  *schedulingApp.BookingService
	Reconciler      *availabilityApp.Reconciler
	TransferAdapter *interchange.Adapter

	SyncWorker *calendarWorkers.SyncWorker
}

// NewContainer creates and wires all dependencies for the configured mode.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LocalMode {
		return newLocalContainer(ctx, cfg, logger)
	}
	return newServerContainer(ctx, cfg, logger)
}

func newServerContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	pool, err := database.NewPostgresPool(ctx, database.PostgresConfig{URL: cfg.DatabaseURL})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	c.DB = pool
	logger.Info("connected to database")

	connRepo := connPersistence.NewPostgresConnectionRepository(pool)
	c.AppointmentRepo = schedulingPersistence.NewPostgresAppointmentRepository(pool)
	c.ConflictRepo = schedulingPersistence.NewPostgresConflictRepository(pool)
	c.ConnectionRepo = connRepo
	c.SlotRepo = availabilityPersistence.NewPostgresSlotRepository(pool)
	c.OwnerSource = connRepo

	// Redis backs the per-connection refresh lock. Without it, concurrent
	// processes fall back to in-process locking, which only protects a
	// single instance.
	var locker connApp.RefreshLocker
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			if !cfg.IsDevelopment() {
				pool.Close()
				return nil, fmt.Errorf("parse Redis URL: %w", err)
			}
			logger.Warn("invalid Redis URL, falling back to in-process refresh locks", "error", err)
		} else {
			client := redis.NewClient(opt)
			if err := client.Ping(ctx).Err(); err != nil {
				if !cfg.IsDevelopment() {
					pool.Close()
					return nil, fmt.Errorf("connect to Redis: %w", err)
				}
				logger.Warn("Redis not available, falling back to in-process refresh locks", "error", err)
			} else {
				c.RedisClient = client
				locker = redislock.NewLocker(client, refreshLockTTL)
				logger.Info("connected to Redis")
			}
		}
	}
	if locker == nil {
		locker = connApp.NewMutexLocker()
	}

	publisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		if cfg.IsDevelopment() {
			logger.Warn("RabbitMQ not available, using noop publisher", "error", err)
			c.EventPublisher = eventbus.NewNoopPublisher()
		} else {
			c.Close()
			return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
		}
	} else {
		c.EventPublisher = publisher
	}

	if err := c.wireServices(cfg, logger, locker); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// newLocalContainer wires local single-user mode: SQLite storage, in-process
// refresh locks and the in-process event bus. No external services needed.
func newLocalContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	c := &Container{Config: cfg, Logger: logger}

	db, err := database.NewSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open SQLite database: %w", err)
	}
	c.SQLiteDB = db

	connRepo := connPersistence.NewSQLiteConnectionRepository(db)
	c.AppointmentRepo = schedulingPersistence.NewSQLiteAppointmentRepository(db)
	c.ConflictRepo = schedulingPersistence.NewSQLiteConflictRepository(db)
	c.ConnectionRepo = connRepo
	c.SlotRepo = availabilityPersistence.NewSQLiteSlotRepository(db)
	c.OwnerSource = connRepo

	c.EventPublisher = eventbus.NewInProcessEventBus(logger)

	if err := c.wireServices(cfg, logger, connApp.NewMutexLocker()); err != nil {
		c.Close()
		return nil, err
	}

	logger.Info("local mode container initialized", "database", cfg.SQLitePath)
	return c, nil
}

// wireServices builds the mode-independent application services on top of
// the repositories and publisher chosen by the caller.
func (c *Container) wireServices(cfg *config.Config, logger *slog.Logger, locker connApp.RefreshLocker) error {
	encrypter, err := c.buildEncrypter(cfg, logger)
	if err != nil {
		return err
	}
	c.Encrypter = encrypter

	c.TokenRefresher = connApp.NewTokenRefresher(
		c.ConnectionRepo,
		encrypter,
		googleOAuthConfig(cfg),
		locker,
		logger,
	)

	c.SourceRegistry = calendarApp.NewSourceRegistry()
	c.SourceRegistry.Register(connDomain.ProviderGoogle, googleCalendar.NewClient(logger))
	if cfg.CalDAVEndpoint != "" {
		fetcher := calendarCalDAV.NewFetcher(cfg.CalDAVEndpoint, cfg.CalDAVUsername, logger)
		if cfg.CalDAVCalendarPath != "" {
			fetcher.WithCalendarPath(cfg.CalDAVCalendarPath)
		}
		c.SourceRegistry.Register(connDomain.ProviderCalDAV, fetcher)
	}

	c.EventFetcher = calendarApp.NewEventFetcher(c.ConnectionRepo, c.TokenRefresher, c.SourceRegistry, logger)

	policy := schedulingApp.BlockingPolicy{
		BlockTentative: cfg.BlockTentative,
		BlockCancelled: cfg.BlockCancelled,
	}
	c.SyncService = calendarApp.NewSyncService(
		c.EventFetcher,
		c.AppointmentRepo,
		c.ConflictRepo,
		policy,
		c.EventPublisher,
		logger,
	)

	c.BookingService = schedulingApp.NewBookingService(
		c.AppointmentRepo,
		schedulingApp.NewConflictChecker(policy),
		logger,
	).WithPublisher(c.EventPublisher)

	// The slot gateway pushes availability to a CalDAV calendar. Without an
	// endpoint configured, slots can still be created and managed but stay
	// pending; the reconciler's manual operations keep working.
	var gateway availabilityApp.SlotGateway
	if cfg.CalDAVEndpoint != "" && cfg.CalDAVPassword != "" {
		g := availabilityCalDAV.NewGateway(cfg.CalDAVEndpoint, cfg.CalDAVUsername, cfg.CalDAVPassword, logger)
		if cfg.CalDAVCalendarPath != "" {
			g.WithCalendarPath(cfg.CalDAVCalendarPath)
		}
		gateway = g
	}
	c.Reconciler = availabilityApp.NewReconciler(c.SlotRepo, gateway, logger)

	c.TransferAdapter = interchange.NewAdapter(logger)

	workerConfig := calendarWorkers.SyncWorkerConfig{
		Interval:      cfg.SyncInterval,
		LookAheadDays: cfg.SyncLookAheadDays,
	}
	var reconciler calendarWorkers.SlotReconciler
	if gateway != nil {
		reconciler = c.Reconciler
	}
	c.SyncWorker = calendarWorkers.NewSyncWorker(c.OwnerSource, c.SyncService, reconciler, workerConfig, logger)

	return nil
}

// buildEncrypter loads the token encryption key. Production requires a
// configured key; development generates an ephemeral one, so stored tokens
// do not survive a restart there.
func (c *Container) buildEncrypter(cfg *config.Config, logger *slog.Logger) (sharedCrypto.Encrypter, error) {
	if cfg.EncryptionKey != "" {
		encrypter, err := sharedCrypto.NewAESGCMFromBase64Key(cfg.EncryptionKey)
		if err != nil {
			return nil, fmt.Errorf("load encryption key: %w", err)
		}
		return encrypter, nil
	}
	if !cfg.IsDevelopment() {
		return nil, fmt.Errorf("CADENCE_ENCRYPTION_KEY is required outside development")
	}

	key := make([]byte, sharedCrypto.KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	logger.Warn("no encryption key configured, using an ephemeral key; stored tokens will not be readable after restart")
	return sharedCrypto.NewAESGCMFromBase64Key(base64.StdEncoding.EncodeToString(key))
}

func googleOAuthConfig(cfg *config.Config) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Endpoint: oauth2.Endpoint{
			AuthURL:  "https://accounts.google.com/o/oauth2/auth",
			TokenURL: "https://oauth2.googleapis.com/token",
		},
		Scopes: []string{"https://www.googleapis.com/auth/calendar.readonly"},
	}
}

// Close cleans up all resources.
func (c *Container) Close() {
	if c.SyncWorker != nil && c.SyncWorker.IsRunning() {
		c.SyncWorker.Stop()
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		}
	}

	if c.DB != nil {
		c.DB.Close()
		c.Logger.Info("PostgreSQL connection closed")
	}

	if c.SQLiteDB != nil {
		if err := c.SQLiteDB.Close(); err != nil {
			c.Logger.Warn("error closing SQLite database", "error", err)
		}
	}
}
