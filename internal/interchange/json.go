package interchange

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// jsonEvent is the wire shape of one record in a JSON export.
type jsonEvent struct {
	ID       string    `json:"id,omitempty"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone,omitempty"`
	Type     string    `json:"type"`
	Status   string    `json:"status"`
	ClientID string    `json:"clientId,omitempty"`
	Notes    string    `json:"notes,omitempty"`
}

type jsonDocument struct {
	ExportedAt time.Time         `json:"exportedAt"`
	Events     []json.RawMessage `json:"events"`
}

func writeJSON(w io.Writer, records []record) error {
	events := make([]jsonEvent, 0, len(records))
	for _, rec := range records {
		events = append(events, jsonEvent{
			ID:       rec.ID,
			Title:    rec.Title,
			Start:    rec.Start,
			End:      rec.End,
			Timezone: rec.Timezone,
			Type:     rec.Type,
			Status:   rec.Status,
			ClientID: rec.ClientID,
			Notes:    rec.Notes,
		})
	}

	doc := struct {
		ExportedAt time.Time   `json:"exportedAt"`
		Events     []jsonEvent `json:"events"`
	}{ExportedAt: time.Now().UTC(), Events: events}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(doc)
}

// readJSON decodes each event independently so one malformed entry does not
// take down the rest of the file.
func readJSON(r io.Reader) ([]record, []RecordError, error) {
	var doc jsonDocument
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return nil, nil, fmt.Errorf("decode document: %w", err)
	}

	var records []record
	var recordErrors []RecordError
	for i, raw := range doc.Events {
		index := i + 1
		var event jsonEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			recordErrors = append(recordErrors, RecordError{Index: index, Reason: err.Error()})
			continue
		}
		if event.Start.IsZero() || event.End.IsZero() {
			recordErrors = append(recordErrors, RecordError{Index: index, Reason: "missing start or end time"})
			continue
		}
		records = append(records, record{
			index:    index,
			ID:       event.ID,
			Title:    event.Title,
			Start:    event.Start,
			End:      event.End,
			Timezone: event.Timezone,
			Type:     event.Type,
			Status:   event.Status,
			ClientID: event.ClientID,
			Notes:    event.Notes,
		})
	}
	return records, recordErrors, nil
}
