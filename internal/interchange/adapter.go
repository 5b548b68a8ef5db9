// Package interchange converts between appointments and external file
// formats (iCalendar, CSV, JSON) for import and export.
package interchange

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
)

var ErrUnknownFormat = errors.New("unknown interchange format")

// Format identifies a supported file format.
type Format string

const (
	FormatICS  Format = "ics"
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ics", ".ical", ".icalendar":
		return FormatICS, nil
	case ".csv":
		return FormatCSV, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, path)
	}
}

// RecordError describes a single malformed record encountered during import.
// Index is the 1-based position of the record in the source file.
type RecordError struct {
	Index  int
	Reason string
}

func (e RecordError) Error() string {
	return fmt.Sprintf("record %d: %s", e.Index, e.Reason)
}

// ExportOptions controls which appointments and fields are written.
type ExportOptions struct {
	// Format overrides extension-based inference when set.
	Format Format

	// DateRange limits export to appointments overlapping the range.
	DateRange *schedulingDomain.TimeRange

	IncludeClientInfo bool
	IncludeNotes      bool
	IncludeCancelled  bool
}

// ImportOptions controls how parsed records become appointments.
type ImportOptions struct {
	// Format overrides extension-based inference when set.
	Format Format

	// ClinicianID is assigned to every imported appointment.
	ClinicianID uuid.UUID

	// DateRange, when set, skips records outside the range.
	DateRange *schedulingDomain.TimeRange
}

// ExportResult summarizes a completed export.
type ExportResult struct {
	FileName   string
	FileSize   int64
	EventCount int
	Format     Format
}

// ImportResult summarizes a completed import. TotalEvents always equals
// ImportedEvents + SkippedEvents + len(Errors).
type ImportResult struct {
	TotalEvents    int
	ImportedEvents int
	SkippedEvents  int
	Appointments   []*schedulingDomain.Appointment
	Errors         []RecordError
}

// Adapter reads and writes appointment data in the supported formats.
type Adapter struct {
	logger *slog.Logger
}

// NewAdapter creates an import/export adapter.
func NewAdapter(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{logger: logger}
}

// Export writes the appointments to w in the requested format and reports
// what was written. The format comes from opts.Format or, failing that, the
// file name's extension.
func (a *Adapter) Export(w io.Writer, fileName string, appointments []*schedulingDomain.Appointment, opts ExportOptions) (*ExportResult, error) {
	format, err := resolveFormat(opts.Format, fileName)
	if err != nil {
		return nil, err
	}

	records := make([]record, 0, len(appointments))
	for _, appt := range appointments {
		if !opts.IncludeCancelled && appt.Status() == schedulingDomain.StatusCancelled {
			continue
		}
		if opts.DateRange != nil && !opts.DateRange.Overlaps(appt.TimeRange()) {
			continue
		}
		records = append(records, recordFromAppointment(appt, opts))
	}

	counter := &countingWriter{w: w}
	switch format {
	case FormatICS:
		err = writeICS(counter, records)
	case FormatCSV:
		err = writeCSV(counter, records)
	case FormatJSON:
		err = writeJSON(counter, records)
	}
	if err != nil {
		return nil, fmt.Errorf("export %s: %w", format, err)
	}

	a.logger.Info("exported calendar data",
		"file", fileName, "format", format, "events", len(records), "bytes", counter.n)

	return &ExportResult{
		FileName:   fileName,
		FileSize:   counter.n,
		EventCount: len(records),
		Format:     format,
	}, nil
}

// Import parses appointment data from r. Malformed records are collected in
// the result's Errors with their position; they never abort the rest of the
// file.
func (a *Adapter) Import(r io.Reader, fileName string, opts ImportOptions) (*ImportResult, error) {
	format, err := resolveFormat(opts.Format, fileName)
	if err != nil {
		return nil, err
	}
	if opts.ClinicianID == uuid.Nil {
		return nil, errors.New("import requires a clinician id")
	}

	var records []record
	var parseErrors []RecordError
	switch format {
	case FormatICS:
		records, parseErrors, err = readICS(r)
	case FormatCSV:
		records, parseErrors, err = readCSV(r)
	case FormatJSON:
		records, parseErrors, err = readJSON(r)
	}
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", format, err)
	}

	result := &ImportResult{
		TotalEvents: len(records) + len(parseErrors),
		Errors:      parseErrors,
	}

	for _, rec := range records {
		if opts.DateRange != nil {
			recRange, rangeErr := schedulingDomain.NewTimeRange(rec.Start, rec.End)
			if rangeErr == nil && !opts.DateRange.Overlaps(recRange) {
				result.SkippedEvents++
				continue
			}
		}

		appt, buildErr := rec.toAppointment(opts.ClinicianID)
		if buildErr != nil {
			result.Errors = append(result.Errors, RecordError{Index: rec.index, Reason: buildErr.Error()})
			continue
		}
		result.Appointments = append(result.Appointments, appt)
		result.ImportedEvents++
	}

	a.logger.Info("imported calendar data",
		"file", fileName, "format", format,
		"total", result.TotalEvents, "imported", result.ImportedEvents,
		"skipped", result.SkippedEvents, "errors", len(result.Errors))

	return result, nil
}

func resolveFormat(explicit Format, fileName string) (Format, error) {
	if explicit != "" {
		switch explicit {
		case FormatICS, FormatCSV, FormatJSON:
			return explicit, nil
		default:
			return "", fmt.Errorf("%w: %q", ErrUnknownFormat, explicit)
		}
	}
	return FormatFromPath(fileName)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
