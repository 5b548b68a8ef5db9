package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianbh/cadence/internal/calendar/application"
	"github.com/meridianbh/cadence/internal/calendar/domain"
	connDomain "github.com/meridianbh/cadence/internal/connections/domain"
	schedulingApp "github.com/meridianbh/cadence/internal/scheduling/application"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"
)

type fakeAppointmentRepo struct {
	appts map[uuid.UUID]*schedulingDomain.Appointment
}

func newFakeAppointmentRepo() *fakeAppointmentRepo {
	return &fakeAppointmentRepo{appts: make(map[uuid.UUID]*schedulingDomain.Appointment)}
}

func (r *fakeAppointmentRepo) Save(_ context.Context, appt *schedulingDomain.Appointment) error {
	r.appts[appt.ID()] = appt
	return nil
}

func (r *fakeAppointmentRepo) FindByID(_ context.Context, id uuid.UUID) (*schedulingDomain.Appointment, error) {
	appt, ok := r.appts[id]
	if !ok {
		return nil, sharedDomain.ErrNotFound
	}
	return appt, nil
}

func (r *fakeAppointmentRepo) FindByClinicianRange(_ context.Context, clinicianID uuid.UUID, window schedulingDomain.TimeRange) ([]*schedulingDomain.Appointment, error) {
	var out []*schedulingDomain.Appointment
	for _, a := range r.appts {
		if a.ClinicianID() == clinicianID && a.TimeRange().Overlaps(window) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAppointmentRepo) FindBlockingInRange(ctx context.Context, clinicianID uuid.UUID, window schedulingDomain.TimeRange) ([]*schedulingDomain.Appointment, error) {
	all, _ := r.FindByClinicianRange(ctx, clinicianID, window)
	var out []*schedulingDomain.Appointment
	for _, a := range all {
		if a.IsBlocking() {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAppointmentRepo) FindByExternalRef(_ context.Context, connectionID uuid.UUID, eventID string) (*schedulingDomain.Appointment, error) {
	for _, a := range r.appts {
		if ref := a.ExternalRef(); ref != nil && ref.ConnectionID == connectionID && ref.EventID == eventID {
			return a, nil
		}
	}
	return nil, sharedDomain.ErrNotFound
}

func (r *fakeAppointmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.appts, id)
	return nil
}

type fakeConflictRepo struct {
	conflicts map[uuid.UUID]*schedulingDomain.SyncConflict
}

func newFakeConflictRepo() *fakeConflictRepo {
	return &fakeConflictRepo{conflicts: make(map[uuid.UUID]*schedulingDomain.SyncConflict)}
}

func (r *fakeConflictRepo) Save(_ context.Context, c *schedulingDomain.SyncConflict) error {
	r.conflicts[c.ID()] = c
	return nil
}

func (r *fakeConflictRepo) FindByID(_ context.Context, id uuid.UUID) (*schedulingDomain.SyncConflict, error) {
	c, ok := r.conflicts[id]
	if !ok {
		return nil, sharedDomain.ErrNotFound
	}
	return c, nil
}

func (r *fakeConflictRepo) FindUnresolved(_ context.Context, clinicianID uuid.UUID) ([]*schedulingDomain.SyncConflict, error) {
	var out []*schedulingDomain.SyncConflict
	for _, c := range r.conflicts {
		if c.ClinicianID() == clinicianID && !c.Resolved() {
			out = append(out, c)
		}
	}
	return out, nil
}

func (r *fakeConflictRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.conflicts, id)
	return nil
}

type recordingPublisher struct {
	routingKeys []string
}

func (p *recordingPublisher) Publish(_ context.Context, routingKey string, _ []byte) error {
	p.routingKeys = append(p.routingKeys, routingKey)
	return nil
}

type syncFixture struct {
	clinicianID uuid.UUID
	conn        *connDomain.Connection
	source      *stubSource
	appts       *fakeAppointmentRepo
	conflicts   *fakeConflictRepo
	publisher   *recordingPublisher
	service     *application.SyncService
}

func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	clinicianID := uuid.New()
	connRepo := newFakeConnectionRepo()
	conn := addConnection(t, connRepo, clinicianID)

	source := &stubSource{
		events:  make(map[uuid.UUID][]domain.SyncedEvent),
		failing: make(map[uuid.UUID]error),
	}
	registry := application.NewSourceRegistry()
	registry.Register(connDomain.ProviderGoogle, source)
	fetcher := application.NewEventFetcher(connRepo, staticTokens{}, registry, nil)

	appts := newFakeAppointmentRepo()
	conflicts := newFakeConflictRepo()
	publisher := &recordingPublisher{}

	service := application.NewSyncService(
		fetcher, appts, conflicts, schedulingApp.DefaultBlockingPolicy(), publisher, nil)

	return &syncFixture{
		clinicianID: clinicianID,
		conn:        conn,
		source:      source,
		appts:       appts,
		conflicts:   conflicts,
		publisher:   publisher,
		service:     service,
	}
}

func (f *syncFixture) addAppointment(t *testing.T, day, hour int) *schedulingDomain.Appointment {
	t.Helper()
	clientID := uuid.New()
	r, err := schedulingDomain.NewTimeRange(
		time.Date(2026, 3, day, hour, 0, 0, 0, time.UTC),
		time.Date(2026, 3, day, hour+1, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	appt, err := schedulingDomain.NewAppointment(f.clinicianID, &clientID, r, "UTC", schedulingDomain.TypeSession)
	require.NoError(t, err)
	require.NoError(t, f.appts.Save(context.Background(), appt))
	return appt
}

func TestSyncService_OverlapConflict(t *testing.T) {
	f := newSyncFixture(t)
	appt := f.addAppointment(t, 3, 9)
	// Unlinked external event at the same hour.
	f.source.events[f.conn.ID()] = []domain.SyncedEvent{eventAt(f.conn.ID(), "evt-1", 3, 9)}

	report, err := f.service.SyncWindow(context.Background(), f.clinicianID, testWindow(t))
	require.NoError(t, err)

	require.Len(t, report.NewConflicts, 1)
	conflict := report.NewConflicts[0]
	assert.Equal(t, schedulingDomain.KindOverlap, conflict.Kind())
	require.NotNil(t, conflict.Local().AppointmentID)
	assert.Equal(t, appt.ID(), *conflict.Local().AppointmentID)
	assert.Equal(t, "evt-1", conflict.External().EventID)
	assert.Contains(t, f.publisher.routingKeys, schedulingDomain.RoutingKeyConflictDetected)
}

func TestSyncService_TentativeEventDoesNotConflictByDefault(t *testing.T) {
	f := newSyncFixture(t)
	f.addAppointment(t, 3, 9)

	tentative := eventAt(f.conn.ID(), "evt-1", 3, 9)
	tentative.Status = domain.StatusTentative
	f.source.events[f.conn.ID()] = []domain.SyncedEvent{tentative}

	report, err := f.service.SyncWindow(context.Background(), f.clinicianID, testWindow(t))
	require.NoError(t, err)
	assert.Empty(t, report.NewConflicts)
}

func TestSyncService_ModifiedConflict(t *testing.T) {
	f := newSyncFixture(t)
	appt := f.addAppointment(t, 3, 9)
	appt.LinkExternal(f.conn.ID(), "evt-1")

	// External side moved one hour later.
	f.source.events[f.conn.ID()] = []domain.SyncedEvent{eventAt(f.conn.ID(), "evt-1", 3, 10)}

	report, err := f.service.SyncWindow(context.Background(), f.clinicianID, testWindow(t))
	require.NoError(t, err)

	require.Len(t, report.NewConflicts, 1)
	assert.Equal(t, schedulingDomain.KindModified, report.NewConflicts[0].Kind())
}

func TestSyncService_LinkedEventUnchangedNoConflict(t *testing.T) {
	f := newSyncFixture(t)
	appt := f.addAppointment(t, 3, 9)
	appt.LinkExternal(f.conn.ID(), "evt-1")
	f.source.events[f.conn.ID()] = []domain.SyncedEvent{eventAt(f.conn.ID(), "evt-1", 3, 9)}

	report, err := f.service.SyncWindow(context.Background(), f.clinicianID, testWindow(t))
	require.NoError(t, err)
	assert.Empty(t, report.NewConflicts)
}

func TestSyncService_DeletedConflict(t *testing.T) {
	f := newSyncFixture(t)
	appt := f.addAppointment(t, 3, 9)
	appt.LinkExternal(f.conn.ID(), "evt-gone")
	// Connection answers successfully with no matching event.
	f.source.events[f.conn.ID()] = nil

	report, err := f.service.SyncWindow(context.Background(), f.clinicianID, testWindow(t))
	require.NoError(t, err)

	require.Len(t, report.NewConflicts, 1)
	assert.Equal(t, schedulingDomain.KindDeleted, report.NewConflicts[0].Kind())
}

func TestSyncService_FailedConnectionSuppressesDeletedConflict(t *testing.T) {
	f := newSyncFixture(t)
	appt := f.addAppointment(t, 3, 9)
	appt.LinkExternal(f.conn.ID(), "evt-gone")
	f.source.failing[f.conn.ID()] = errors.New("503 upstream unavailable")

	report, err := f.service.SyncWindow(context.Background(), f.clinicianID, testWindow(t))
	require.NoError(t, err)

	assert.Empty(t, report.NewConflicts, "absence of events from a failed connection proves nothing")
	assert.Len(t, report.FetchErrors, 1)
}

func TestSyncService_DoubleBookedConflict(t *testing.T) {
	f := newSyncFixture(t)
	f.addAppointment(t, 3, 9)
	f.addAppointment(t, 3, 9)

	report, err := f.service.SyncWindow(context.Background(), f.clinicianID, testWindow(t))
	require.NoError(t, err)

	require.Len(t, report.NewConflicts, 1)
	assert.Equal(t, schedulingDomain.KindDoubleBooked, report.NewConflicts[0].Kind())
}

func TestSyncService_DoubleBookedEveryPairReported(t *testing.T) {
	f := newSyncFixture(t)

	// Three mutually overlapping rows: 09-12, 10-13, 11-14. Each pair is its
	// own conflict; sharing one appointment must not collapse them.
	add := func(startHour, endHour int) {
		clientID := uuid.New()
		r, err := schedulingDomain.NewTimeRange(
			time.Date(2026, 3, 3, startHour, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 3, endHour, 0, 0, 0, time.UTC),
		)
		require.NoError(t, err)
		appt, err := schedulingDomain.NewAppointment(f.clinicianID, &clientID, r, "UTC", schedulingDomain.TypeSession)
		require.NoError(t, err)
		require.NoError(t, f.appts.Save(context.Background(), appt))
	}
	add(9, 12)
	add(10, 13)
	add(11, 14)

	report, err := f.service.SyncWindow(context.Background(), f.clinicianID, testWindow(t))
	require.NoError(t, err)

	require.Len(t, report.NewConflicts, 3)
	pairs := make(map[string]bool)
	for _, c := range report.NewConflicts {
		assert.Equal(t, schedulingDomain.KindDoubleBooked, c.Kind())
		require.NotNil(t, c.Local().AppointmentID)
		require.NotNil(t, c.External().AppointmentID)
		pairs[c.Local().AppointmentID.String()+"|"+c.External().AppointmentID.String()] = true
	}
	assert.Len(t, pairs, 3, "each overlapping pair keys separately")
}

func TestSyncService_NoDuplicateConflictsAcrossPasses(t *testing.T) {
	f := newSyncFixture(t)
	f.addAppointment(t, 3, 9)
	f.source.events[f.conn.ID()] = []domain.SyncedEvent{eventAt(f.conn.ID(), "evt-1", 3, 9)}

	first, err := f.service.SyncWindow(context.Background(), f.clinicianID, testWindow(t))
	require.NoError(t, err)
	require.Len(t, first.NewConflicts, 1)

	second, err := f.service.SyncWindow(context.Background(), f.clinicianID, testWindow(t))
	require.NoError(t, err)
	assert.Empty(t, second.NewConflicts, "open conflicts must not be re-reported")
}

func TestSyncService_Resolve(t *testing.T) {
	f := newSyncFixture(t)
	f.addAppointment(t, 3, 9)
	f.source.events[f.conn.ID()] = []domain.SyncedEvent{eventAt(f.conn.ID(), "evt-1", 3, 9)}

	report, err := f.service.SyncWindow(context.Background(), f.clinicianID, testWindow(t))
	require.NoError(t, err)
	require.Len(t, report.NewConflicts, 1)
	conflictID := report.NewConflicts[0].ID()

	resolved, err := f.service.Resolve(context.Background(), conflictID, schedulingDomain.StrategyLocalWins)
	require.NoError(t, err)
	assert.True(t, resolved.Resolved())
	assert.Equal(t, schedulingDomain.StrategyLocalWins, resolved.Strategy())
	require.NotNil(t, resolved.Winner())
	assert.Equal(t, resolved.Local().AppointmentID, resolved.Winner().AppointmentID)

	_, err = f.service.Resolve(context.Background(), conflictID, schedulingDomain.StrategyExternalWins)
	assert.ErrorIs(t, err, schedulingDomain.ErrConflictResolved)

	open, err := f.service.OpenConflicts(context.Background(), f.clinicianID)
	require.NoError(t, err)
	assert.Empty(t, open)
}
