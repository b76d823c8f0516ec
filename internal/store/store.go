package store

import (
	"sort"
	"sync"
	"time"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// Store holds observations in memory, indexed by pollutant.
type Store struct {
	mu     sync.RWMutex
	series map[model.Pollutant][]model.Observation // sorted by timestamp, unique timestamps
}

func New() *Store {
	return &Store{
		series: make(map[model.Pollutant][]model.Observation),
	}
}

// Add merges observations into a pollutant's series. A new observation
// replaces a stored one with the same timestamp. Returns how many timestamps
// were not seen before.
func (s *Store) Add(p model.Pollutant, obs []model.Observation) int {
	if len(obs) == 0 {
		return 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.series[p]
	byTime := make(map[int64]int, len(existing)+len(obs))
	merged := make([]model.Observation, 0, len(existing)+len(obs))
	for _, o := range existing {
		byTime[o.Timestamp.UnixNano()] = len(merged)
		merged = append(merged, o)
	}

	added := 0
	for _, o := range obs {
		key := o.Timestamp.UnixNano()
		if idx, ok := byTime[key]; ok {
			merged[idx] = o
			continue
		}
		byTime[key] = len(merged)
		merged = append(merged, o)
		added++
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Timestamp.Before(merged[j].Timestamp)
	})
	s.series[p] = merged
	return added
}

// Pollutants returns the pollutants with at least one observation, sorted by name.
func (s *Store) Pollutants() []model.Pollutant {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.Pollutant, 0, len(s.series))
	for p, obs := range s.series {
		if len(obs) > 0 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Count returns the number of observations for a pollutant.
func (s *Store) Count(p model.Pollutant) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[p])
}

// Series returns a copy of the full series for a pollutant.
func (s *Store) Series(p model.Pollutant) []model.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.series[p]
	if len(all) == 0 {
		return nil
	}
	out := make([]model.Observation, len(all))
	copy(out, all)
	return out
}

// TimeRange returns the time range covered by a pollutant's series.
func (s *Store) TimeRange(p model.Pollutant) (model.TimeRange, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	obs := s.series[p]
	if len(obs) == 0 {
		return model.TimeRange{}, false
	}

	return model.TimeRange{
		Start: obs[0].Timestamp,
		End:   obs[len(obs)-1].Timestamp,
	}, true
}

// Range returns observations between start (inclusive) and end (exclusive).
// A zero start or end leaves that side unbounded.
func (s *Store) Range(p model.Pollutant, start, end time.Time) []model.Observation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.series[p]
	if len(all) == 0 {
		return nil
	}

	startIdx := 0
	if !start.IsZero() {
		startIdx = sort.Search(len(all), func(i int) bool {
			return !all[i].Timestamp.Before(start)
		})
	}
	endIdx := len(all)
	if !end.IsZero() {
		endIdx = sort.Search(len(all), func(i int) bool {
			return !all[i].Timestamp.Before(end)
		})
	}

	if startIdx >= endIdx {
		return nil
	}

	result := make([]model.Observation, endIdx-startIdx)
	copy(result, all[startIdx:endIdx])
	return result
}

// At returns the most recent observation at or before t.
func (s *Store) At(p model.Pollutant, t time.Time) (model.Observation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.series[p]
	if len(all) == 0 {
		return model.Observation{}, false
	}

	// First observation after t
	idx := sort.Search(len(all), func(i int) bool {
		return all[i].Timestamp.After(t)
	})

	if idx == 0 {
		return model.Observation{}, false
	}

	return all[idx-1], true
}

// Latest returns the last observation of a pollutant's series.
func (s *Store) Latest(p model.Pollutant) (model.Observation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.series[p]
	if len(all) == 0 {
		return model.Observation{}, false
	}
	return all[len(all)-1], true
}
