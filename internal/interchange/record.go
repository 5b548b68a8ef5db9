package interchange

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
)

// record is the format-neutral shape every codec reads and writes.
type record struct {
	index    int // 1-based position in the source file, set on import
	ID       string
	Title    string
	Start    time.Time
	End      time.Time
	Timezone string
	Type     string
	Status   string
	ClientID string
	Notes    string
}

func recordFromAppointment(appt *schedulingDomain.Appointment, opts ExportOptions) record {
	rec := record{
		ID:       appt.ID().String(),
		Title:    titleFor(appt),
		Start:    appt.TimeRange().Start,
		End:      appt.TimeRange().End,
		Timezone: appt.Timezone(),
		Type:     string(appt.Type()),
		Status:   string(appt.Status()),
	}
	if opts.IncludeClientInfo {
		if clientID := appt.ClientID(); clientID != nil {
			rec.ClientID = clientID.String()
		}
	}
	if opts.IncludeNotes {
		rec.Notes = appt.Notes()
	}
	return rec
}

func titleFor(appt *schedulingDomain.Appointment) string {
	switch appt.Type() {
	case schedulingDomain.TypeBlocked:
		return "Blocked"
	case schedulingDomain.TypeIntake:
		return "Intake"
	case schedulingDomain.TypeGroup:
		return "Group Session"
	default:
		return "Session"
	}
}

// toAppointment validates the record and builds a domain appointment. The
// record's status is replayed onto the fresh aggregate so cancelled and
// completed rows survive a round trip.
func (r record) toAppointment(clinicianID uuid.UUID) (*schedulingDomain.Appointment, error) {
	timeRange, err := schedulingDomain.NewTimeRange(r.Start, r.End)
	if err != nil {
		return nil, err
	}

	timezone := r.Timezone
	if timezone == "" {
		timezone = "UTC"
	}

	apptType := schedulingDomain.AppointmentType(strings.ToLower(strings.TrimSpace(r.Type)))
	if apptType == "" {
		apptType = schedulingDomain.TypeSession
	}
	if !apptType.IsValid() {
		return nil, fmt.Errorf("unknown appointment type %q", r.Type)
	}

	var clientID *uuid.UUID
	if r.ClientID != "" {
		parsed, parseErr := uuid.Parse(r.ClientID)
		if parseErr != nil {
			return nil, fmt.Errorf("invalid client id %q", r.ClientID)
		}
		clientID = &parsed
	}

	appt, err := schedulingDomain.NewAppointment(clinicianID, clientID, timeRange, timezone, apptType)
	if err != nil {
		return nil, err
	}
	if r.Notes != "" {
		appt.SetNotes(r.Notes)
	}

	switch schedulingDomain.AppointmentStatus(strings.ToLower(strings.TrimSpace(r.Status))) {
	case schedulingDomain.StatusCancelled:
		appt.Cancel()
	case schedulingDomain.StatusCompleted:
		appt.Complete()
	case schedulingDomain.StatusNoShow:
		appt.MarkNoShow()
	}
	return appt, nil
}
