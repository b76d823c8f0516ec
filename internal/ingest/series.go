package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// SeriesParser parses processed series CSV files.
//
// Expected format (extra columns are ignored):
//
//	date,pm25[,city,hour,...]
//	2024-01-01 00:00:00,12.3
type SeriesParser struct {
	// Column holding the concentration; defaults to "pm25".
	Column string
	// Location for timestamps without an offset; defaults to UTC.
	Location *time.Location
}

// timeLayouts are tried in order for the date column.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func (p *SeriesParser) Parse(r io.Reader) ([]RawPoint, error) {
	column := p.Column
	if column == "" {
		column = model.PollutantPM25.Column()
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}

	cr := csv.NewReader(r)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, model.DataErrorf("parse series", "empty input")
		}
		return nil, model.DataErrorf("parse series", "reading CSV header: %w", err)
	}
	dateIdx, valueIdx, err := seriesColumns(header, column)
	if err != nil {
		return nil, err
	}

	var points []RawPoint
	lineNum := 1

	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, model.DataErrorf("parse series", "reading CSV line %d: %w", lineNum, err)
		}

		ts, err := ParseTimestamp(strings.TrimSpace(record[dateIdx]), loc)
		if err != nil {
			return nil, model.DataErrorf("parse series", "line %d: %w", lineNum, err)
		}

		point := RawPoint{Timestamp: ts}
		raw := strings.TrimSpace(record[valueIdx])
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			point.Value = &v
		}
		points = append(points, point)
	}

	return points, nil
}

func seriesColumns(header []string, column string) (int, int, error) {
	dateIdx, valueIdx := -1, -1
	for i, h := range header {
		switch strings.TrimSpace(h) {
		case "date":
			dateIdx = i
		case column:
			valueIdx = i
		}
	}
	if dateIdx < 0 {
		return 0, 0, model.DataErrorf("parse series", "missing %q column in header %v", "date", header)
	}
	if valueIdx < 0 {
		return 0, 0, model.DataErrorf("parse series", "missing %q column in header %v", column, header)
	}
	return dateIdx, valueIdx, nil
}

// ParseTimestamp parses s using the known layouts; layouts without an offset
// are interpreted in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.ParseInLocation(layout, s, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parsing timestamp %q", s)
}
