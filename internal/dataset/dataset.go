// Package dataset reads and writes the tabular files of the pipeline:
// processed series, feature matrices and batch prediction tables.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// DateLayout is the timestamp format of every file written here.
const DateLayout = "2006-01-02 15:04:05"

// Target column names in feature files.
const (
	TargetValueColumn     = "target_pm25"
	TargetViolationColumn = "target_violation"
)

// Prediction columns appended to a batch table.
const (
	PredictedValueColumn       = "predicted_value"
	PredictedViolationColumn   = "predicted_violation"
	ViolationProbabilityColumn = "violation_probability"
	AlertColumn                = "alert"
)

// ProcessedHeader is the column layout of a processed series file.
func ProcessedHeader(valueColumn string) []string {
	return []string{
		"date", valueColumn, "city", "hour", "day_of_week", "rolling_6h", "rolling_24h", "is_high_pollution",
	}
}

// BackupFileName is the pipe-delimited raw backup written next to a fetch.
func BackupFileName(city string) string {
	return fmt.Sprintf("StationData-%s.txt", city)
}

func formatFloat(v float64) string {
	if model.IsMissing(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// WriteProcessed writes rows in the processed series layout using comma as
// the field separator.
func WriteProcessed(w io.Writer, rows []features.LegacyRow, city, valueColumn string, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(ProcessedHeader(valueColumn)); err != nil {
		return err
	}
	for _, r := range rows {
		if err := cw.Write([]string{
			r.Timestamp.Format(DateLayout),
			formatFloat(r.Value),
			city,
			strconv.Itoa(r.Hour),
			strconv.Itoa(r.DayOfWeek),
			formatFloat(r.Rolling6h),
			formatFloat(r.Rolling24h),
			formatBool(r.IsHighPollution),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFeatures writes a feature matrix: date, the raw value column, every
// feature column, then both targets. Missing values are empty cells.
func WriteFeatures(w io.Writer, m model.FeatureMatrix, valueColumn string) error {
	cw := csv.NewWriter(w)
	header := append([]string{"date", valueColumn}, m.Columns...)
	header = append(header, TargetValueColumn, TargetViolationColumn)
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for _, row := range m.Rows {
		record[0] = row.Timestamp.Format(DateLayout)
		record[1] = formatFloat(row.Value)
		for j, c := range m.Columns {
			record[2+j] = formatFloat(row.Feature(c))
		}
		record[len(record)-2] = formatFloat(row.TargetValue)
		record[len(record)-1] = formatBool(row.TargetViolation)
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Table is a generic CSV table used for batch prediction. Cells keeps the
// original text; Values holds every cell that is numeric or empty, with empty
// cells as missing values. Other cells are listed per row in Invalid, keyed
// by column, since text columns such as dates are legitimate.
type Table struct {
	Columns []string
	Cells   [][]string
	Values  []map[string]float64
	Invalid []map[string]string
}

func (t Table) Len() int {
	return len(t.Cells)
}

// CheckNumeric fails with a DataError on the first row whose cell in one of
// columns is not a number. Line numbers count the header as line 1.
func (t Table) CheckNumeric(columns []string) error {
	for i, bad := range t.Invalid {
		if len(bad) == 0 {
			continue
		}
		for _, c := range columns {
			if cell, ok := bad[c]; ok {
				return model.DataErrorf("read table", "line %d: column %q: %q is not a number", i+2, c, cell)
			}
		}
	}
	return nil
}

// ReadTable parses a CSV table with a header row.
func ReadTable(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Table{}, model.DataErrorf("read table", "empty input")
		}
		return Table{}, model.DataErrorf("read table", "reading header: %w", err)
	}
	t := Table{Columns: make([]string, len(header))}
	for i, h := range header {
		t.Columns[i] = strings.TrimSpace(h)
	}

	lineNum := 1
	for {
		lineNum++
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Table{}, model.DataErrorf("read table", "line %d: %w", lineNum, err)
		}

		values := make(map[string]float64, len(record))
		var invalid map[string]string
		for i, cell := range record {
			cell = strings.TrimSpace(cell)
			switch {
			case cell == "" || strings.EqualFold(cell, "nan"):
				values[t.Columns[i]] = model.Missing
			default:
				v, err := strconv.ParseFloat(cell, 64)
				if err != nil {
					if invalid == nil {
						invalid = make(map[string]string)
					}
					invalid[t.Columns[i]] = cell
					continue
				}
				values[t.Columns[i]] = v
			}
		}
		t.Cells = append(t.Cells, record)
		t.Values = append(t.Values, values)
		t.Invalid = append(t.Invalid, invalid)
	}
	return t, nil
}

// WriteTable writes t unchanged.
func WriteTable(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return err
	}
	if err := cw.WriteAll(t.Cells); err != nil {
		return err
	}
	return cw.Error()
}

// WritePredictions writes every input column of t followed by the four
// prediction columns. records must be aligned with t's rows.
func WritePredictions(w io.Writer, t Table, records []model.PredictionRecord) error {
	if len(records) != t.Len() {
		return fmt.Errorf("%d prediction records for %d rows", len(records), t.Len())
	}
	cw := csv.NewWriter(w)
	header := append(append([]string(nil), t.Columns...),
		PredictedValueColumn, PredictedViolationColumn, ViolationProbabilityColumn, AlertColumn)
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, rec := range records {
		row := append(append([]string(nil), t.Cells[i]...),
			formatFloat(rec.PredictedValue),
			formatBool(rec.PredictedViolation),
			formatFloat(rec.ViolationProbability),
			rec.Alert,
		)
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile creates path (and its directory) and fills it with write.
func WriteFile(path string, write func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

// ReadTableFile reads a CSV table from path.
func ReadTableFile(path string) (Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return Table{}, model.DataErrorf("read table", "opening %s: %w", path, err)
	}
	defer f.Close()
	return ReadTable(f)
}

func clip0(v float64) float64 {
	return math.Max(v, 0)
}
