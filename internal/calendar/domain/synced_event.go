package domain

import (
	"strings"
	"time"

	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"

	"github.com/google/uuid"
)

// EventStatus is the normalized status of an external calendar event.
type EventStatus string

const (
	StatusConfirmed EventStatus = "confirmed"
	StatusTentative EventStatus = "tentative"
	StatusCancelled EventStatus = "cancelled"
)

// NormalizeStatus maps provider-native status strings onto the common set.
// Unknown statuses are treated as confirmed so they stay visible.
func NormalizeStatus(raw string) EventStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "tentative", "needsaction", "needs-action":
		return StatusTentative
	case "cancelled", "canceled", "declined":
		return StatusCancelled
	default:
		return StatusConfirmed
	}
}

// SyncedEvent is the normalized shape of an external calendar event pulled
// through a connection. It is never authoritative for internal scheduling;
// it exists for conflict display and avoidance and is refetched per window
// rather than persisted.
type SyncedEvent struct {
	ConnectionID uuid.UUID
	ExternalID   string
	Title        string
	Description  string
	Location     string
	Start        time.Time
	End          time.Time
	Timezone     string // source zone as reported by the provider
	Status       EventStatus
}

// Range returns the event's interval on absolute instants.
func (e SyncedEvent) Range() schedulingDomain.TimeRange {
	return schedulingDomain.TimeRange{Start: e.Start, End: e.End}
}

// InWindow reports whether the event overlaps the requested window.
func (e SyncedEvent) InWindow(window schedulingDomain.TimeRange) bool {
	return e.Range().Overlaps(window)
}
