package model

import (
	"encoding/json"
	"math"
	"time"
)

// Observation is one hourly concentration reading.
type Observation struct {
	Timestamp time.Time
	Value     float64
}

type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Missing is the value used for undefined features. Use IsMissing to test for it.
var Missing = math.NaN()

// IsMissing reports whether v is an undefined feature value.
func IsMissing(v float64) bool {
	return math.IsNaN(v)
}

// FeatureRow is one row of the feature matrix: the engineered features of an
// observation plus its next-hour targets.
type FeatureRow struct {
	Timestamp       time.Time
	Value           float64
	Features        map[string]float64
	TargetValue     float64
	TargetViolation bool
}

// Feature returns the named feature, or Missing if the row has no such key.
func (r FeatureRow) Feature(name string) float64 {
	v, ok := r.Features[name]
	if !ok {
		return Missing
	}
	return v
}

// FeatureMatrix is a chronologically ordered sequence of FeatureRows.
// Columns lists the feature keys in the order they were produced.
type FeatureMatrix struct {
	Columns []string
	Rows    []FeatureRow
}

func (m FeatureMatrix) Len() int {
	return len(m.Rows)
}

// HasColumn reports whether name is one of the matrix columns.
func (m FeatureMatrix) HasColumn(name string) bool {
	for _, c := range m.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// Slice returns the rows in [from, to) sharing the same column list.
func (m FeatureMatrix) Slice(from, to int) FeatureMatrix {
	return FeatureMatrix{Columns: m.Columns, Rows: m.Rows[from:to]}
}

// Select builds a dense design matrix restricted to names, in that order.
func (m FeatureMatrix) Select(names []string) ([][]float64, error) {
	for _, n := range names {
		if !m.HasColumn(n) {
			return nil, ConfigErrorf("select", "unknown feature %q", n)
		}
	}
	X := make([][]float64, len(m.Rows))
	for i, row := range m.Rows {
		x := make([]float64, len(names))
		for j, n := range names {
			x[j] = row.Feature(n)
		}
		X[i] = x
	}
	return X, nil
}

// Targets returns the regression and classification target columns.
func (m FeatureMatrix) Targets() ([]float64, []bool) {
	values := make([]float64, len(m.Rows))
	labels := make([]bool, len(m.Rows))
	for i, row := range m.Rows {
		values[i] = row.TargetValue
		labels[i] = row.TargetViolation
	}
	return values, labels
}

// Alert labels derived from the classifier's binary output.
const (
	AlertSafe      = "safe"
	AlertViolation = "violation"
)

// AlertFor maps a violation label to its alert string.
func AlertFor(violation bool) string {
	if violation {
		return AlertViolation
	}
	return AlertSafe
}

// ConfidenceTier buckets a violation probability for display.
func ConfidenceTier(p float64) string {
	switch {
	case p > 0.7:
		return "HIGH"
	case p > 0.3:
		return "MEDIUM"
	default:
		return "LOW"
	}
}

// PredictionRecord is the output of the dual predictor for one input row.
type PredictionRecord struct {
	Features             map[string]float64 `json:"input_features"`
	PredictedValue       float64            `json:"predicted_value"`
	PredictedViolation   bool               `json:"predicted_violation"`
	ViolationProbability float64            `json:"violation_probability"`
	Alert                string             `json:"alert"`
}

// MarshalJSON encodes missing input features as null.
func (r PredictionRecord) MarshalJSON() ([]byte, error) {
	type alias PredictionRecord
	features := make(map[string]*float64, len(r.Features))
	for k, v := range r.Features {
		if IsMissing(v) {
			features[k] = nil
			continue
		}
		v := v
		features[k] = &v
	}
	return json.Marshal(struct {
		alias
		Features map[string]*float64 `json:"input_features"`
	}{alias: alias(r), Features: features})
}
