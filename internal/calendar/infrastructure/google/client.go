package google

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	calendarDomain "github.com/meridianbh/cadence/internal/calendar/domain"
	connDomain "github.com/meridianbh/cadence/internal/connections/domain"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"

	"github.com/sony/gobreaker/v2"
)

const defaultBaseURL = "https://www.googleapis.com/calendar/v3"

// Client fetches events from a Google-style calendar REST API. Calls are
// wrapped in a circuit breaker so a struggling provider degrades into fast
// per-connection fetch errors instead of piling up timeouts.
type Client struct {
	httpClient *http.Client
	baseURL    string
	calendarID string
	breaker    *gobreaker.CircuitBreaker[[]calendarDomain.SyncedEvent]
	logger     *slog.Logger
}

// NewClient creates a Google calendar client.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	settings := gobreaker.Settings{
		Name:    "google-calendar",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Client{
		httpClient: &http.Client{Timeout: 15 * time.Second},
		baseURL:    defaultBaseURL,
		calendarID: "primary",
		breaker:    gobreaker.NewCircuitBreaker[[]calendarDomain.SyncedEvent](settings),
		logger:     logger,
	}
}

// WithBaseURL overrides the API base URL. Tests and self-hosted gateways.
func (c *Client) WithBaseURL(baseURL string) *Client {
	if baseURL != "" {
		c.baseURL = baseURL
	}
	return c
}

// WithCalendarID sets which calendar to read.
func (c *Client) WithCalendarID(calendarID string) *Client {
	if calendarID != "" {
		c.calendarID = calendarID
	}
	return c
}

// FetchEvents lists events overlapping the window and normalizes them.
// The window is passed as Unix-epoch seconds.
func (c *Client) FetchEvents(ctx context.Context, conn *connDomain.Connection, accessToken string, window schedulingDomain.TimeRange) ([]calendarDomain.SyncedEvent, error) {
	return c.breaker.Execute(func() ([]calendarDomain.SyncedEvent, error) {
		return c.listEvents(ctx, conn, accessToken, window)
	})
}

func (c *Client) listEvents(ctx context.Context, conn *connDomain.Connection, accessToken string, window schedulingDomain.TimeRange) ([]calendarDomain.SyncedEvent, error) {
	q := url.Values{}
	q.Set("timeMin", strconv.FormatInt(window.Start.Unix(), 10))
	q.Set("timeMax", strconv.FormatInt(window.End.Unix(), 10))
	q.Set("singleEvents", "true")

	endpoint := fmt.Sprintf("%s/calendars/%s/events?%s", c.baseURL, url.PathEscape(c.calendarID), q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("events list returned %d: %s", resp.StatusCode, string(body))
	}

	var payload eventList
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode events list: %w", err)
	}

	events := make([]calendarDomain.SyncedEvent, 0, len(payload.Items))
	for _, item := range payload.Items {
		ev, err := item.normalize(conn)
		if err != nil {
			c.logger.Debug("skipping unparseable event",
				"connection_id", conn.ID(), "event_id", item.ID, "error", err)
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

type eventList struct {
	Items []eventItem `json:"items"`
}

type eventItem struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Status      string    `json:"status"`
	Start       eventTime `json:"start"`
	End         eventTime `json:"end"`
}

type eventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
	TimeZone string `json:"timeZone"`
}

func (i eventItem) normalize(conn *connDomain.Connection) (calendarDomain.SyncedEvent, error) {
	start, tz, err := i.Start.instant()
	if err != nil {
		return calendarDomain.SyncedEvent{}, fmt.Errorf("start: %w", err)
	}
	end, _, err := i.End.instant()
	if err != nil {
		return calendarDomain.SyncedEvent{}, fmt.Errorf("end: %w", err)
	}
	return calendarDomain.SyncedEvent{
		ConnectionID: conn.ID(),
		ExternalID:   i.ID,
		Title:        i.Summary,
		Description:  i.Description,
		Location:     i.Location,
		Start:        start,
		End:          end,
		Timezone:     tz,
		Status:       calendarDomain.NormalizeStatus(i.Status),
	}, nil
}

// instant resolves a provider timestamp. All-day events carry a bare date in
// the event's zone; timed events carry RFC3339 with offset.
func (t eventTime) instant() (time.Time, string, error) {
	if t.DateTime != "" {
		parsed, err := time.Parse(time.RFC3339, t.DateTime)
		if err != nil {
			return time.Time{}, "", err
		}
		return parsed, t.TimeZone, nil
	}
	if t.Date != "" {
		loc := time.UTC
		if t.TimeZone != "" {
			if l, err := time.LoadLocation(t.TimeZone); err == nil {
				loc = l
			}
		}
		parsed, err := time.ParseInLocation("2006-01-02", t.Date, loc)
		if err != nil {
			return time.Time{}, "", err
		}
		return parsed, t.TimeZone, nil
	}
	return time.Time{}, "", fmt.Errorf("event time has neither dateTime nor date")
}
