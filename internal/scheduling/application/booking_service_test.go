package application_test

import (
	"context"
	"testing"

	"github.com/meridianbh/cadence/internal/scheduling/application"
	"github.com/meridianbh/cadence/internal/scheduling/domain"
	sharedDomain "github.com/meridianbh/cadence/internal/shared/domain"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAppointmentRepo is an in-memory AppointmentRepository for service tests.
type fakeAppointmentRepo struct {
	appts map[uuid.UUID]*domain.Appointment
}

func newFakeAppointmentRepo() *fakeAppointmentRepo {
	return &fakeAppointmentRepo{appts: make(map[uuid.UUID]*domain.Appointment)}
}

func (r *fakeAppointmentRepo) Save(_ context.Context, appt *domain.Appointment) error {
	r.appts[appt.ID()] = appt
	return nil
}

func (r *fakeAppointmentRepo) FindByID(_ context.Context, id uuid.UUID) (*domain.Appointment, error) {
	appt, ok := r.appts[id]
	if !ok {
		return nil, sharedDomain.ErrNotFound
	}
	return appt, nil
}

func (r *fakeAppointmentRepo) FindByClinicianRange(_ context.Context, clinicianID uuid.UUID, window domain.TimeRange) ([]*domain.Appointment, error) {
	var out []*domain.Appointment
	for _, appt := range r.appts {
		if appt.ClinicianID() == clinicianID && appt.TimeRange().Overlaps(window) {
			out = append(out, appt)
		}
	}
	return out, nil
}

func (r *fakeAppointmentRepo) FindBlockingInRange(ctx context.Context, clinicianID uuid.UUID, window domain.TimeRange) ([]*domain.Appointment, error) {
	all, _ := r.FindByClinicianRange(ctx, clinicianID, window)
	var out []*domain.Appointment
	for _, appt := range all {
		if appt.IsBlocking() {
			out = append(out, appt)
		}
	}
	return out, nil
}

func (r *fakeAppointmentRepo) FindByExternalRef(_ context.Context, connectionID uuid.UUID, eventID string) (*domain.Appointment, error) {
	for _, appt := range r.appts {
		if ref := appt.ExternalRef(); ref != nil && ref.ConnectionID == connectionID && ref.EventID == eventID {
			return appt, nil
		}
	}
	return nil, sharedDomain.ErrNotFound
}

func (r *fakeAppointmentRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.appts, id)
	return nil
}

func newBookingService(repo *fakeAppointmentRepo) *application.BookingService {
	return application.NewBookingService(repo, nil, nil)
}

func TestBookingService_Book(t *testing.T) {
	repo := newFakeAppointmentRepo()
	svc := newBookingService(repo)
	clientID := uuid.New()

	appt, err := svc.Book(context.Background(), application.BookingRequest{
		ClinicianID: uuid.New(),
		ClientID:    &clientID,
		Range:       utcRange(t, 14, 0, 15, 0),
		Timezone:    "America/Chicago",
		Type:        domain.TypeSession,
		Notes:       "initial intake follow-up",
	})

	require.NoError(t, err)
	assert.Len(t, repo.appts, 1)
	assert.Equal(t, "initial intake follow-up", appt.Notes())
}

func TestBookingService_Book_ValidationError(t *testing.T) {
	svc := newBookingService(newFakeAppointmentRepo())

	_, err := svc.Book(context.Background(), application.BookingRequest{
		ClinicianID: uuid.Nil,
		Range:       utcRange(t, 14, 0, 15, 0),
		Timezone:    "UTC",
		Type:        domain.TypeSession,
	})

	var verr *application.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "clinician_id", verr.Field)
}

func TestBookingService_Book_RejectsOverlap(t *testing.T) {
	repo := newFakeAppointmentRepo()
	svc := newBookingService(repo)
	clinicianID := uuid.New()

	_, err := svc.BlockTime(context.Background(), clinicianID, utcRange(t, 14, 0, 15, 0), "UTC", "admin")
	require.NoError(t, err)

	_, err = svc.Book(context.Background(), application.BookingRequest{
		ClinicianID: clinicianID,
		Range:       utcRange(t, 14, 30, 15, 30),
		Timezone:    "UTC",
		Type:        domain.TypeSession,
	})

	var cerr *application.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, application.CandidateInternal, cerr.With.Kind)
	assert.Len(t, repo.appts, 1, "conflicting booking must not be saved")
}

func TestBookingService_Book_TouchingBoundaryAllowed(t *testing.T) {
	repo := newFakeAppointmentRepo()
	svc := newBookingService(repo)
	clinicianID := uuid.New()

	_, err := svc.BlockTime(context.Background(), clinicianID, utcRange(t, 14, 0, 15, 0), "UTC", "")
	require.NoError(t, err)

	_, err = svc.Book(context.Background(), application.BookingRequest{
		ClinicianID: clinicianID,
		Range:       utcRange(t, 15, 0, 16, 0),
		Timezone:    "UTC",
		Type:        domain.TypeSession,
	})

	require.NoError(t, err)
	assert.Len(t, repo.appts, 2)
}

func TestBookingService_Book_OverrideSkipsConflictCheck(t *testing.T) {
	repo := newFakeAppointmentRepo()
	svc := newBookingService(repo)
	clinicianID := uuid.New()

	_, err := svc.BlockTime(context.Background(), clinicianID, utcRange(t, 14, 0, 15, 0), "UTC", "")
	require.NoError(t, err)

	_, err = svc.Book(context.Background(), application.BookingRequest{
		ClinicianID: clinicianID,
		Range:       utcRange(t, 14, 0, 15, 0),
		Timezone:    "UTC",
		Type:        domain.TypeGroup,
		Override:    true,
	})

	require.NoError(t, err)
	assert.Len(t, repo.appts, 2)
}

func TestBookingService_Reschedule(t *testing.T) {
	repo := newFakeAppointmentRepo()
	svc := newBookingService(repo)
	clinicianID := uuid.New()

	appt, err := svc.BlockTime(context.Background(), clinicianID, utcRange(t, 9, 0, 10, 0), "UTC", "")
	require.NoError(t, err)
	other, err := svc.BlockTime(context.Background(), clinicianID, utcRange(t, 11, 0, 12, 0), "UTC", "")
	require.NoError(t, err)

	// Moving onto another row conflicts.
	_, err = svc.Reschedule(context.Background(), appt.ID(), utcRange(t, 11, 30, 12, 30))
	var cerr *application.ConflictError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, other.ID(), *cerr.With.AppointmentID)

	// Moving within its own old slot does not conflict with itself.
	moved, err := svc.Reschedule(context.Background(), appt.ID(), utcRange(t, 9, 30, 10, 30))
	require.NoError(t, err)
	assert.True(t, moved.TimeRange().Equal(utcRange(t, 9, 30, 10, 30)))
}

func TestBookingService_Cancel(t *testing.T) {
	repo := newFakeAppointmentRepo()
	svc := newBookingService(repo)
	clinicianID := uuid.New()

	appt, err := svc.BlockTime(context.Background(), clinicianID, utcRange(t, 9, 0, 10, 0), "UTC", "")
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), appt.ID())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status())

	// Cancelled rows free up the interval.
	_, err = svc.Book(context.Background(), application.BookingRequest{
		ClinicianID: clinicianID,
		Range:       utcRange(t, 9, 0, 10, 0),
		Timezone:    "UTC",
		Type:        domain.TypeSession,
	})
	require.NoError(t, err)
}
