package interchange

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

var csvHeader = []string{"id", "title", "start", "end", "timezone", "type", "status", "client_id", "notes"}

func writeCSV(w io.Writer, records []record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.Title,
			rec.Start.Format(time.RFC3339),
			rec.End.Format(time.RFC3339),
			rec.Timezone,
			rec.Type,
			rec.Status,
			rec.ClientID,
			rec.Notes,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func readCSV(r io.Reader) ([]record, []RecordError, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}
	columns := columnIndex(header)

	var records []record
	var recordErrors []RecordError
	index := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		index++
		if err != nil {
			recordErrors = append(recordErrors, RecordError{Index: index, Reason: err.Error()})
			continue
		}

		rec, parseErr := csvRecord(row, columns, index)
		if parseErr != nil {
			recordErrors = append(recordErrors, RecordError{Index: index, Reason: parseErr.Error()})
			continue
		}
		records = append(records, rec)
	}
	return records, recordErrors, nil
}

func columnIndex(header []string) map[string]int {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[name] = i
	}
	return columns
}

func csvRecord(row []string, columns map[string]int, index int) (record, error) {
	field := func(name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	start, err := time.Parse(time.RFC3339, field("start"))
	if err != nil {
		return record{}, fmt.Errorf("start time: %w", err)
	}
	end, err := time.Parse(time.RFC3339, field("end"))
	if err != nil {
		return record{}, fmt.Errorf("end time: %w", err)
	}

	return record{
		index:    index,
		ID:       field("id"),
		Title:    field("title"),
		Start:    start,
		End:      end,
		Timezone: field("timezone"),
		Type:     field("type"),
		Status:   field("status"),
		ClientID: field("client_id"),
		Notes:    field("notes"),
	}, nil
}
