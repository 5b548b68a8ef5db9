// Package caldav fetches events from standards-based CalDAV servers
// (Apple Calendar, Fastmail, Nextcloud, and most self-hosted setups).
// CalDAV connections authenticate with an app-specific password stored as
// the connection's access token; there is no refresh flow.
package caldav

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	calendarDomain "github.com/meridianbh/cadence/internal/calendar/domain"
	connDomain "github.com/meridianbh/cadence/internal/connections/domain"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav"
	"github.com/emersion/go-webdav/caldav"
)

// Well-known CalDAV server URLs.
const (
	AppleCalDAVURL    = "https://caldav.icloud.com"
	FastmailCalDAVURL = "https://caldav.fastmail.com"
)

// Fetcher reads events from a CalDAV calendar.
type Fetcher struct {
	baseURL      string
	username     string
	calendarPath string // explicit calendar path, or empty for the default
	logger       *slog.Logger
}

// NewFetcher creates a CalDAV event fetcher.
func NewFetcher(baseURL, username string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{baseURL: baseURL, username: username, logger: logger}
}

// WithCalendarPath pins a specific calendar instead of the first discovered.
func (f *Fetcher) WithCalendarPath(path string) *Fetcher {
	f.calendarPath = path
	return f
}

// FetchEvents queries VEVENTs in the window and normalizes them.
func (f *Fetcher) FetchEvents(ctx context.Context, conn *connDomain.Connection, accessToken string, window schedulingDomain.TimeRange) ([]calendarDomain.SyncedEvent, error) {
	client, err := f.getClient(accessToken)
	if err != nil {
		return nil, err
	}

	calPath, err := f.findCalendarPath(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("find calendar: %w", err)
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:  "VCALENDAR",
			Props: []string{"VERSION"},
			Comps: []caldav.CalendarCompRequest{
				{
					Name:  "VEVENT",
					Props: []string{"SUMMARY", "DTSTART", "DTEND", "UID", "DESCRIPTION", "LOCATION", "STATUS"},
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
		return nil, fmt.Errorf("query calendar: %w", err)
	}

	events := make([]calendarDomain.SyncedEvent, 0, len(objects))
	for i := range objects {
		if ev, ok := parseCalendarObject(&objects[i], conn); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (f *Fetcher) getClient(password string) (*caldav.Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	client, err := caldav.NewClient(webdav.HTTPClientWithBasicAuth(httpClient, f.username, password), f.baseURL)
	if err != nil {
		return nil, fmt.Errorf("create caldav client: %w", err)
	}
	return client, nil
}

func (f *Fetcher) findCalendarPath(ctx context.Context, client *caldav.Client) (string, error) {
	if f.calendarPath != "" {
		return f.calendarPath, nil
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

func parseCalendarObject(obj *caldav.CalendarObject, conn *connDomain.Connection) (calendarDomain.SyncedEvent, bool) {
	if obj == nil || obj.Data == nil {
		return calendarDomain.SyncedEvent{}, false
	}

	ev := calendarDomain.SyncedEvent{
		ConnectionID: conn.ID(),
		ExternalID:   obj.Path,
		Timezone:     "UTC",
		Status:       calendarDomain.StatusConfirmed,
	}

	for _, child := range obj.Data.Children {
		if child.Name != ical.CompEvent {
			continue
		}

		if props := child.Props[ical.PropUID]; len(props) > 0 {
			ev.ExternalID = props[0].Value
		}
		if props := child.Props[ical.PropSummary]; len(props) > 0 {
			ev.Title = props[0].Value
		}
		if props := child.Props[ical.PropDescription]; len(props) > 0 {
			ev.Description = props[0].Value
		}
		if props := child.Props[ical.PropLocation]; len(props) > 0 {
			ev.Location = props[0].Value
		}
		if props := child.Props[ical.PropStatus]; len(props) > 0 {
			ev.Status = calendarDomain.NormalizeStatus(props[0].Value)
		}

		icalEvent := &ical.Event{Component: child}
		if start, err := icalEvent.DateTimeStart(time.UTC); err == nil {
			ev.Start = start
		}
		if end, err := icalEvent.DateTimeEnd(time.UTC); err == nil {
			ev.End = end
		}

		// Only the first VEVENT per object; recurrence expansion is the
		// server's job via the time-range filter.
		break
	}

	if !ev.End.After(ev.Start) {
		return calendarDomain.SyncedEvent{}, false
	}
	return ev, true
}
