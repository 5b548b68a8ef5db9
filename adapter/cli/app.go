package cli

import (
	wire "github.com/meridianbh/cadence/internal/app"
	availabilityApp "github.com/meridianbh/cadence/internal/availability/application"
	availabilityDomain "github.com/meridianbh/cadence/internal/availability/domain"
	calendarApp "github.com/meridianbh/cadence/internal/calendar/application"
	calendarWorkers "github.com/meridianbh/cadence/internal/calendar/application/workers"
	connDomain "github.com/meridianbh/cadence/internal/connections/domain"
	"github.com/meridianbh/cadence/internal/interchange"
	schedulingApp "github.com/meridianbh/cadence/internal/scheduling/application"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
	sharedCrypto "github.com/meridianbh/cadence/internal/shared/infrastructure/crypto"
	"github.com/meridianbh/cadence/pkg/config"
)

// App holds the CLI application dependencies.
type App struct {
	Config *config.Config

	Booking      *schedulingApp.BookingService
	Appointments schedulingDomain.AppointmentRepository
	Conflicts    schedulingDomain.ConflictRepository

	Slots      availabilityDomain.SlotRepository
	Reconciler *availabilityApp.Reconciler

	Connections connDomain.ConnectionRepository
	Encrypter   sharedCrypto.Encrypter

	Sync   *calendarApp.SyncService
	Worker *calendarWorkers.SyncWorker

	Transfer *interchange.Adapter
}

// NewApp creates the CLI application from a wired container.
func NewApp(c *wire.Container) *App {
	return &App{
		Config:       c.Config,
		Booking:      c.BookingService,
		Appointments: c.AppointmentRepo,
		Conflicts:    c.ConflictRepo,
		Slots:        c.SlotRepo,
		Reconciler:   c.Reconciler,
		Connections:  c.ConnectionRepo,
		Encrypter:    c.Encrypter,
		Sync:         c.SyncService,
		Worker:       c.SyncWorker,
		Transfer:     c.TransferAdapter,
	}
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}
