package features

import (
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// LegacyRow is one row of the processed series file: the raw reading plus the
// simplified feature set written at fetch time.
type LegacyRow struct {
	Timestamp       time.Time
	Value           float64
	Hour            int
	DayOfWeek       int
	Rolling6h       float64
	Rolling24h      float64
	IsHighPollution bool
}

// Legacy computes the simplified feature set for every observation. Unlike
// Synthesize it keeps the last row, since it carries no target. Rolling means
// expand from a single point like the full feature set.
func Legacy(obs []model.Observation, threshold float64) []LegacyRow {
	values := make([]float64, len(obs))
	for i, o := range obs {
		values[i] = o.Value
	}

	rows := make([]LegacyRow, len(obs))
	for i, o := range obs {
		rows[i] = LegacyRow{
			Timestamp:       o.Timestamp,
			Value:           o.Value,
			Hour:            o.Timestamp.Hour(),
			DayOfWeek:       mondayWeekday(o.Timestamp.Weekday()),
			Rolling6h:       stat.Mean(values[max(0, i-5):i+1], nil),
			Rolling24h:      stat.Mean(values[max(0, i-23):i+1], nil),
			IsHighPollution: o.Value > threshold,
		}
	}
	return rows
}

// mondayWeekday maps time.Weekday (Sunday=0) to Monday=0 ... Sunday=6.
func mondayWeekday(d time.Weekday) int {
	return (int(d) + 6) % 7
}
