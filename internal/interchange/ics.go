package interchange

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-ical"
)

const (
	icsProductID = "-//Meridian Behavioral Health//Cadence//EN"

	// Custom properties carry fields iCalendar has no slot for.
	propApptType   = "X-CADENCE-TYPE"
	propApptStatus = "X-CADENCE-STATUS"
	propApptTZID   = "X-CADENCE-TZID"
	propClientID   = "X-CADENCE-CLIENT"
)

func writeICS(w io.Writer, records []record) error {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, icsProductID)

	now := time.Now().UTC()
	for _, rec := range records {
		event := ical.NewEvent()
		event.Props.SetText(ical.PropUID, rec.ID)
		event.Props.SetDateTime(ical.PropDateTimeStamp, now)
		event.Props.SetDateTime(ical.PropDateTimeStart, rec.Start.UTC())
		event.Props.SetDateTime(ical.PropDateTimeEnd, rec.End.UTC())
		event.Props.SetText(ical.PropSummary, rec.Title)
		event.Props.SetText(ical.PropStatus, icsStatus(rec.Status))
		event.Props.SetText(propApptType, rec.Type)
		event.Props.SetText(propApptStatus, rec.Status)
		if rec.Timezone != "" {
			event.Props.SetText(propApptTZID, rec.Timezone)
		}
		if rec.ClientID != "" {
			event.Props.SetText(propClientID, rec.ClientID)
		}
		if rec.Notes != "" {
			event.Props.SetText(ical.PropDescription, rec.Notes)
		}
		cal.Children = append(cal.Children, event.Component)
	}

	return ical.NewEncoder(w).Encode(cal)
}

func readICS(r io.Reader) ([]record, []RecordError, error) {
	cal, err := ical.NewDecoder(r).Decode()
	if err != nil {
		return nil, nil, fmt.Errorf("decode calendar: %w", err)
	}

	var records []record
	var recordErrors []RecordError
	index := 0
	for _, event := range cal.Events() {
		index++
		rec, parseErr := icsRecord(event, index)
		if parseErr != nil {
			recordErrors = append(recordErrors, RecordError{Index: index, Reason: parseErr.Error()})
			continue
		}
		records = append(records, rec)
	}
	return records, recordErrors, nil
}

func icsRecord(event ical.Event, index int) (record, error) {
	start, err := event.DateTimeStart(time.UTC)
	if err != nil {
		return record{}, fmt.Errorf("start time: %w", err)
	}
	end, err := event.DateTimeEnd(time.UTC)
	if err != nil {
		return record{}, fmt.Errorf("end time: %w", err)
	}

	rec := record{
		index: index,
		ID:    textProp(event, ical.PropUID),
		Title: textProp(event, ical.PropSummary),
		Start: start,
		End:   end,
		Notes: textProp(event, ical.PropDescription),
	}
	rec.Timezone = textProp(event, propApptTZID)
	rec.Type = textProp(event, propApptType)
	rec.ClientID = textProp(event, propClientID)
	rec.Status = textProp(event, propApptStatus)
	if rec.Status == "" {
		rec.Status = statusFromICS(textProp(event, ical.PropStatus))
	}
	return rec, nil
}

func textProp(event ical.Event, name string) string {
	prop := event.Props.Get(name)
	if prop == nil {
		return ""
	}
	return prop.Value
}

func icsStatus(status string) string {
	switch status {
	case "cancelled":
		return "CANCELLED"
	default:
		return "CONFIRMED"
	}
}

func statusFromICS(status string) string {
	switch status {
	case "CANCELLED":
		return "cancelled"
	case "TENTATIVE":
		return "scheduled"
	default:
		return "scheduled"
	}
}
