package features

import (
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// Stats summarizes a feature matrix for logging and metrics.
type Stats struct {
	Samples            int
	EngineeredFeatures int
	ViolationRate      float64
	MinValue           float64
	MaxValue           float64
	MeanValue          float64
	MissingValues      int
}

// Describe computes summary statistics over m. Engineered features are the
// lag_, rolling_ and ema_ columns.
func Describe(m model.FeatureMatrix) Stats {
	s := Stats{Samples: m.Len()}
	for _, c := range m.Columns {
		if strings.HasPrefix(c, "lag_") || strings.HasPrefix(c, "rolling_") || strings.HasPrefix(c, "ema_") {
			s.EngineeredFeatures++
		}
	}
	if s.Samples == 0 {
		return s
	}

	values := make([]float64, s.Samples)
	violations := 0
	for i, row := range m.Rows {
		values[i] = row.Value
		if row.TargetViolation {
			violations++
		}
		for _, c := range m.Columns {
			if model.IsMissing(row.Feature(c)) {
				s.MissingValues++
			}
		}
	}

	s.ViolationRate = float64(violations) / float64(s.Samples)
	s.MinValue = floats.Min(values)
	s.MaxValue = floats.Max(values)
	s.MeanValue = stat.Mean(values, nil)
	return s
}

// Fields renders s as structured log fields.
func (s Stats) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("samples", s.Samples),
		zap.Int("engineered_features", s.EngineeredFeatures),
		zap.Float64("violation_rate", s.ViolationRate),
		zap.Float64("min", s.MinValue),
		zap.Float64("max", s.MaxValue),
		zap.Float64("mean", s.MeanValue),
		zap.Int("missing_values", s.MissingValues),
	}
}
