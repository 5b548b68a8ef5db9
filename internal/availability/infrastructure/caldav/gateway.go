// Package caldav pushes recurring availability slots to a CalDAV calendar
// as concrete blocking events, one VEVENT per occurrence.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	availabilityDomain "github.com/meridianbh/cadence/internal/availability/domain"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

// PropSlotID marks events managed by the availability reconciler so that
// verification never confuses them with the clinician's own events.
const PropSlotID = "X-CADENCE-SLOT"

const productID = "-//Meridian Behavioral Health//Cadence//EN"

// Gateway writes slot occurrences to a CalDAV calendar and reads them back
// for verification.
type Gateway struct {
	baseURL      string
	username     string
	password     string // app-specific password
	calendarPath string // explicit calendar path, or empty for the first discovered
	logger       *slog.Logger
}

// NewGateway creates a CalDAV slot gateway.
func NewGateway(baseURL, username, password string, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{baseURL: baseURL, username: username, password: password, logger: logger}
}

// WithCalendarPath pins a specific calendar instead of the first discovered.
func (g *Gateway) WithCalendarPath(path string) *Gateway {
	g.calendarPath = path
	return g
}

// Push upserts one VEVENT per occurrence. Event paths are derived from the
// slot ID and occurrence index so repeated pushes overwrite in place.
func (g *Gateway) Push(ctx context.Context, slot *availabilityDomain.Slot, occurrences []schedulingDomain.TimeRange) error {
	client, err := g.getClient()
	if err != nil {
		return err
	}
	calPath, err := g.findCalendarPath(ctx, client)
	if err != nil {
		return fmt.Errorf("find calendar: %w", err)
	}

	for i, occ := range occurrences {
		uid := occurrenceUID(slot, i)
		eventPath := fmt.Sprintf("%s%s.ics", calPath, uid)
		cal := toICalendar(slot, uid, occ)
		if _, err := client.PutCalendarObject(ctx, eventPath, cal); err != nil {
			return fmt.Errorf("put event %s: %w", eventPath, err)
		}
	}
	g.logger.Debug("slot pushed",
		"slot_id", slot.ID(), "occurrences", len(occurrences))
	return nil
}

// Verify reports whether every occurrence still exists externally with the
// expected start and end. Events the clinician created themselves are
// ignored; only events this gateway wrote count.
func (g *Gateway) Verify(ctx context.Context, slot *availabilityDomain.Slot, occurrences []schedulingDomain.TimeRange) (bool, error) {
	if len(occurrences) == 0 {
		return true, nil
	}

	client, err := g.getClient()
	if err != nil {
		return false, err
	}
	calPath, err := g.findCalendarPath(ctx, client)
	if err != nil {
		return false, fmt.Errorf("find calendar: %w", err)
	}

	window := windowOf(occurrences)
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  "VCALENDAR",
			Props: []string{"VERSION"},
			Comps: []caldav.CalendarCompRequest{
				{
					Name:  "VEVENT",
					Props: []string{"UID", "DTSTART", "DTEND", PropSlotID},
				},
			},
		},
		CompFilter: caldav.CompFilter{
			Name: "VCALENDAR",
			Comps: []caldav.CompFilter{
				{
					Name:  "VEVENT",
					Start: window.Start,
					End:   window.End,
				},
			},
		},
	}

	objects, err := client.QueryCalendar(ctx, calPath, query)
	if err != nil {
		return false, fmt.Errorf("query calendar: %w", err)
	}

	external := indexBySlotUID(objects, slot)
	for i, occ := range occurrences {
		got, ok := external[occurrenceUID(slot, i)]
		if !ok {
			return false, nil
		}
		if !got.Start.Equal(occ.Start) || !got.End.Equal(occ.End) {
			return false, nil
		}
	}
	return true, nil
}

func (g *Gateway) getClient() (*caldav.Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	client, err := caldav.NewClient(webdav.HTTPClientWithBasicAuth(httpClient, g.username, g.password), g.baseURL)
	if err != nil {
		return nil, fmt.Errorf("create caldav client: %w", err)
	}
	return client, nil
}

func (g *Gateway) findCalendarPath(ctx context.Context, client *caldav.Client) (string, error) {
	if g.calendarPath != "" {
		return g.calendarPath, nil
	}

	principal, err := client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("find principal: %w", err)
	}
	homeSet, err := client.FindCalendarHomeSet(ctx, principal)
	if err != nil {
		return "", fmt.Errorf("find calendar home set: %w", err)
	}
	cals, err := client.FindCalendars(ctx, homeSet)
	if err != nil {
		return "", fmt.Errorf("find calendars: %w", err)
	}
	if len(cals) == 0 {
		return "", fmt.Errorf("no calendars found")
	}
	return cals[0].Path, nil
}

func occurrenceUID(slot *availabilityDomain.Slot, index int) string {
	return fmt.Sprintf("%s-%d", slot.ID(), index)
}

func toICalendar(slot *availabilityDomain.Slot, uid string, occ schedulingDomain.TimeRange) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, uid)
	event.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())
	event.Props.SetDateTime(ical.PropDateTimeStart, occ.Start.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, occ.End.UTC())
	event.Props.SetText(ical.PropSummary, "Available")
	event.Props.SetText(ical.PropStatus, "CONFIRMED")
	event.Props.SetText(PropSlotID, slot.ID().String())
	cal.Children = append(cal.Children, event.Component)
	return cal
}

func windowOf(occurrences []schedulingDomain.TimeRange) schedulingDomain.TimeRange {
	window := occurrences[0]
	for _, occ := range occurrences[1:] {
		if occ.Start.Before(window.Start) {
			window.Start = occ.Start
		}
		if occ.End.After(window.End) {
			window.End = occ.End
		}
	}
	return window
}

func indexBySlotUID(objects []caldav.CalendarObject, slot *availabilityDomain.Slot) map[string]schedulingDomain.TimeRange {
	out := make(map[string]schedulingDomain.TimeRange)
	for i := range objects {
		obj := &objects[i]
		if obj.Data == nil {
			continue
		}
		for _, child := range obj.Data.Children {
			if child.Name != ical.CompEvent {
				continue
			}
			props := child.Props[PropSlotID]
			if len(props) == 0 || props[0].Value != slot.ID().String() {
				continue
			}
			uidProps := child.Props[ical.PropUID]
			if len(uidProps) == 0 {
				continue
			}

			icalEvent := &ical.Event{Component: child}
			start, err := icalEvent.DateTimeStart(time.UTC)
			if err != nil {
				continue
			}
			end, err := icalEvent.DateTimeEnd(time.UTC)
			if err != nil {
				continue
			}
			out[uidProps[0].Value] = schedulingDomain.TimeRange{Start: start, End: end}
		}
	}
	return out
}
