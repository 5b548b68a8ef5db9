package application

import (
	"fmt"

	"github.com/meridianbh/cadence/internal/scheduling/domain"
)

// ValidationError indicates malformed input to a create/update operation.
// It is surfaced to the caller immediately; no retry is useful.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Reason)
}

// ConflictError indicates a proposed interval overlaps a blocking candidate.
// It blocks the write until resolved or explicitly overridden; callers branch
// on the type rather than matching message strings.
type ConflictError struct {
	Proposed domain.TimeRange
	With     Candidate
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("proposed interval %s conflicts with %s %s", e.Proposed, e.With.Kind, e.With.Range)
}
