package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meridianbh/cadence/internal/interchange"
	schedulingDomain "github.com/meridianbh/cadence/internal/scheduling/domain"
)

// TransferHandler serves calendar export and import.
type TransferHandler struct {
	adapter *interchange.Adapter
	appts   schedulingDomain.AppointmentRepository
}

// NewTransferHandler creates a transfer handler.
func NewTransferHandler(adapter *interchange.Adapter, appts schedulingDomain.AppointmentRepository) *TransferHandler {
	return &TransferHandler{adapter: adapter, appts: appts}
}

type exportRequest struct {
	ClinicianID       string     `json:"clinician_id"`
	From              *time.Time `json:"from,omitempty"`
	To                *time.Time `json:"to,omitempty"`
	Format            string     `json:"format"`
	IncludeClientInfo bool       `json:"include_client_info,omitempty"`
	IncludeNotes      bool       `json:"include_notes,omitempty"`
	IncludeCancelled  bool       `json:"include_cancelled,omitempty"`
}

// Export handles POST /export. The exported file is streamed in the response
// body with a Content-Disposition header.
func (h *TransferHandler) Export(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	clinicianID, err := uuid.Parse(req.ClinicianID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
		return
	}

	format := interchange.Format(req.Format)
	now := time.Now().UTC()
	from := now.AddDate(0, -3, 0)
	to := now.AddDate(0, 3, 0)
	if req.From != nil {
		from = *req.From
	}
	if req.To != nil {
		to = *req.To
	}

	window, err := schedulingDomain.NewTimeRange(from, to)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
		return
	}

	appts, err := h.appts.FindByClinicianRange(r.Context(), clinicianID, window)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	fileName := fmt.Sprintf("schedule-%s.%s", now.Format("2006-01-02"), format)
	w.Header().Set("Content-Type", contentTypeFor(format))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))

	if _, err := h.adapter.Export(w, fileName, appts, interchange.ExportOptions{
		Format:            format,
		DateRange:         &window,
		IncludeClientInfo: req.IncludeClientInfo,
		IncludeNotes:      req.IncludeNotes,
		IncludeCancelled:  req.IncludeCancelled,
	}); err != nil {
		writeServiceError(w, err)
		return
	}
}

type importSummaryResponse struct {
	TotalEvents    int                   `json:"total_events"`
	ImportedEvents int                   `json:"imported_events"`
	SkippedEvents  int                   `json:"skipped_events"`
	Errors         []importErrorResponse `json:"errors,omitempty"`
	AppointmentIDs []uuid.UUID           `json:"appointment_ids"`
}

type importErrorResponse struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Import handles POST /import?format=&clinician_id=. The request body is the
// file contents. Rows that fail to parse are reported per-index; the rest are
// saved.
func (h *TransferHandler) Import(w http.ResponseWriter, r *http.Request) {
	clinicianID, err := uuid.Parse(r.URL.Query().Get("clinician_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_clinician_id", "clinician_id must be a valid UUID")
		return
	}

	fileName := r.URL.Query().Get("file_name")
	format := interchange.Format(r.URL.Query().Get("format"))

	result, err := h.adapter.Import(r.Body, fileName, interchange.ImportOptions{
		Format:      format,
		ClinicianID: clinicianID,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := importSummaryResponse{
		TotalEvents:    result.TotalEvents,
		ImportedEvents: result.ImportedEvents,
		SkippedEvents:  result.SkippedEvents,
		AppointmentIDs: make([]uuid.UUID, 0, len(result.Appointments)),
	}
	for _, recErr := range result.Errors {
		resp.Errors = append(resp.Errors, importErrorResponse{Index: recErr.Index, Reason: recErr.Reason})
	}

	for _, appt := range result.Appointments {
		if err := h.appts.Save(r.Context(), appt); err != nil {
			writeServiceError(w, err)
			return
		}
		resp.AppointmentIDs = append(resp.AppointmentIDs, appt.ID())
	}

	writeJSON(w, http.StatusOK, resp)
}

func contentTypeFor(format interchange.Format) string {
	switch format {
	case interchange.FormatICS:
		return "text/calendar"
	case interchange.FormatCSV:
		return "text/csv"
	case interchange.FormatJSON:
		return "application/json"
	}
	return "application/octet-stream"
}
