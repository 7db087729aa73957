package discovery

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Call logs are an optional auxiliary file in the source folder mapping
// recording file names to operator-facing labels (agent, campaign, phone
// number). Their absence is advisory, never an error.

var callLogStems = []string{"call_log", "call-log", "calllog"}

// IsCallLogEntry reports whether a listing entry name looks like the
// optional call-log spreadsheet rather than a recording.
func IsCallLogEntry(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	if !strings.HasSuffix(lower, ".csv") && !strings.HasSuffix(lower, ".xlsx") {
		return false
	}
	for _, stem := range callLogStems {
		if strings.HasPrefix(lower, stem) {
			return true
		}
	}
	return false
}

// ParseCallLog reads a call-log file (CSV or XLSX) into a map of recording
// file name to label. The first column is the file name; remaining columns
// are joined into the label. A header row whose first cell reads like a
// column title is skipped.
func ParseCallLog(name string, data []byte) (map[string]string, error) {
	if strings.HasSuffix(strings.ToLower(name), ".xlsx") {
		return parseXLSXCallLog(data)
	}
	return parseCSVCallLog(data)
}

func parseCSVCallLog(data []byte) (map[string]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	out := map[string]string{}
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse call log csv: %w", err)
		}
		addCallLogRow(out, rec)
	}
	return out, nil
}

func parseXLSXCallLog(data []byte) (map[string]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse call log xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return map[string]string{}, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read call log sheet: %w", err)
	}

	out := map[string]string{}
	for _, row := range rows {
		addCallLogRow(out, row)
	}
	return out, nil
}

func addCallLogRow(out map[string]string, row []string) {
	if len(row) == 0 {
		return
	}
	key := strings.TrimSpace(row[0])
	if key == "" {
		return
	}
	// Skip a header row.
	if lower := strings.ToLower(key); lower == "file" || lower == "file_name" || lower == "filename" {
		return
	}

	var parts []string
	for _, cell := range row[1:] {
		if v := strings.TrimSpace(cell); v != "" {
			parts = append(parts, v)
		}
	}
	out[key] = strings.Join(parts, " / ")
}
