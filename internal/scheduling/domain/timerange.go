package domain

import (
	"fmt"
	"time"
)

// TimeRange represents a half-open interval [Start, End) on absolute instants.
// All scheduling comparisons happen on TimeRange values after wall-clock times
// have been resolved against their IANA zone; naive local-time strings are
// never compared directly.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// NewTimeRange creates a validated time range.
func NewTimeRange(start, end time.Time) (TimeRange, error) {
	tr := TimeRange{Start: start, End: end}
	if err := tr.Validate(); err != nil {
		return TimeRange{}, err
	}
	return tr, nil
}

// RangeFromWallClock resolves a wall-clock date and times in the given IANA
// zone into an absolute time range. DST transitions are handled by the zone
// database, not by offset arithmetic.
func RangeFromWallClock(year int, month time.Month, day, startHour, startMin, endHour, endMin int, tz string) (TimeRange, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return TimeRange{}, fmt.Errorf("%w: %q", ErrInvalidTimezone, tz)
	}
	start := time.Date(year, month, day, startHour, startMin, 0, 0, loc)
	end := time.Date(year, month, day, endHour, endMin, 0, 0, loc)
	return NewTimeRange(start, end)
}

// Validate returns an error unless End is strictly after Start.
func (t TimeRange) Validate() error {
	if !t.End.After(t.Start) {
		return ErrInvalidTimeRange
	}
	return nil
}

// Overlaps reports whether two half-open ranges intersect.
// Touching endpoints (t.End == other.Start) do not overlap.
func (t TimeRange) Overlaps(other TimeRange) bool {
	return t.Start.Before(other.End) && other.Start.Before(t.End)
}

// Contains reports whether the instant falls inside the range.
func (t TimeRange) Contains(instant time.Time) bool {
	return !instant.Before(t.Start) && instant.Before(t.End)
}

// Duration returns the length of the range.
func (t TimeRange) Duration() time.Duration {
	return t.End.Sub(t.Start)
}

// Equal reports whether both ranges describe the same instants.
func (t TimeRange) Equal(other TimeRange) bool {
	return t.Start.Equal(other.Start) && t.End.Equal(other.End)
}

func (t TimeRange) String() string {
	return fmt.Sprintf("%s - %s", t.Start.Format(time.RFC3339), t.End.Format(time.RFC3339))
}
