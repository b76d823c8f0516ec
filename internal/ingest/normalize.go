package ingest

import (
	"math"
	"sort"
	"time"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// Normalize drops null readings, sorts ascending by timestamp and keeps the
// last reading for any repeated timestamp. The input slice is not modified.
func Normalize(points []RawPoint) ([]model.Observation, error) {
	obs := make([]model.Observation, 0, len(points))
	for _, p := range points {
		if p.Value == nil || math.IsNaN(*p.Value) || math.IsInf(*p.Value, 0) {
			continue
		}
		obs = append(obs, model.Observation{Timestamp: p.Timestamp, Value: *p.Value})
	}
	if len(obs) == 0 {
		return nil, model.DataErrorf("normalize", "series is empty after dropping %d null readings", len(points))
	}

	sort.SliceStable(obs, func(i, j int) bool {
		return obs[i].Timestamp.Before(obs[j].Timestamp)
	})

	out := obs[:0]
	for _, o := range obs {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(o.Timestamp) {
			out[n-1] = o
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

// WallClock re-expresses each timestamp as its local wall-clock time in UTC.
// Processed files store local times without an offset, so fetched series are
// converted before they are merged with a series read back from disk.
func WallClock(obs []model.Observation) []model.Observation {
	out := make([]model.Observation, len(obs))
	for i, o := range obs {
		t := o.Timestamp
		out[i] = model.Observation{
			Timestamp: time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC),
			Value:     o.Value,
		}
	}
	return out
}
