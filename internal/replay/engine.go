// Package replay plays a historical series back through a dual model at a
// configurable speed, emitting each hourly prediction next to the value that
// actually followed.
package replay

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/predictor"
)

// State represents the current replay state.
type State struct {
	Time    time.Time `json:"time"`
	Speed   float64   `json:"speed"`
	Running bool      `json:"running"`
}

// Step is one replayed hour: the prediction made at Timestamp and the
// observed value of the following hour.
type Step struct {
	Timestamp       time.Time              `json:"timestamp"`
	Record          model.PredictionRecord `json:"record"`
	Actual          float64                `json:"actual"`
	ActualViolation bool                   `json:"actual_violation"`
}

// Summary holds running totals since the last seek.
type Summary struct {
	Steps            int     `json:"steps"`
	Alerts           int     `json:"alerts"`
	ActualViolations int     `json:"actual_violations"`
	TruePositives    int     `json:"true_positives"`
	FalsePositives   int     `json:"false_positives"`
	FalseNegatives   int     `json:"false_negatives"`
	MAE              float64 `json:"mae"`

	absErrSum float64
}

// Callback receives replay events.
type Callback interface {
	OnState(state State)
	OnStep(step Step)
	OnSummary(summary Summary)
}

// Speed bounds, in simulated seconds per wall-clock second.
const (
	MinSpeed     = 0.1
	MaxSpeed     = 604800
	DefaultSpeed = 3600
)

// Engine replays a feature matrix hour by hour.
type Engine struct {
	mu       sync.Mutex
	model    *predictor.DualModel
	callback Callback
	rows     []model.FeatureRow

	running   bool
	speed     float64
	simTime   time.Time
	timeRange model.TimeRange
	summary   Summary

	stopCh chan struct{}
}

// New synthesizes features for obs and prepares a replay over them. The
// replay starts one nanosecond before the first row so that Step emits it.
func New(obs []model.Observation, dm *predictor.DualModel, cfg features.Config, cb Callback) (*Engine, error) {
	m, err := features.Synthesize(obs, cfg)
	if err != nil {
		return nil, err
	}
	if m.Len() == 0 {
		return nil, model.DataErrorf("replay", "no rows to replay")
	}
	for _, name := range dm.FeatureNames {
		if !m.HasColumn(name) {
			return nil, model.SchemaErrorf("replay", "series does not produce model feature %q", name)
		}
	}

	first := m.Rows[0].Timestamp
	last := m.Rows[m.Len()-1].Timestamp
	return &Engine{
		model:     dm,
		callback:  cb,
		rows:      m.Rows,
		speed:     DefaultSpeed,
		simTime:   first.Add(-time.Nanosecond),
		timeRange: model.TimeRange{Start: first.Add(-time.Nanosecond), End: last},
	}, nil
}

// State returns the current replay state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return State{
		Time:    e.simTime,
		Speed:   e.speed,
		Running: e.running,
	}
}

// Summary returns the running totals.
func (e *Engine) Summary() Summary {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.summary
}

// TimeRange returns the replayable range.
func (e *Engine) TimeRange() model.TimeRange {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeRange
}

// Start begins the replay loop.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.stopCh = make(chan struct{})
	e.mu.Unlock()

	e.broadcastState()
	go e.loop()
}

// Pause stops the replay loop.
func (e *Engine) Pause() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	close(e.stopCh)
	e.mu.Unlock()

	e.broadcastState()
}

// SetSpeed sets the speed multiplier, clamped to [MinSpeed, MaxSpeed].
func (e *Engine) SetSpeed(speed float64) {
	speed = math.Max(MinSpeed, math.Min(MaxSpeed, speed))

	e.mu.Lock()
	e.speed = speed
	e.mu.Unlock()

	e.broadcastState()
}

// Seek jumps to t, clamped to the replay range, and resets the summary.
func (e *Engine) Seek(t time.Time) {
	e.mu.Lock()
	if t.Before(e.timeRange.Start) {
		t = e.timeRange.Start
	}
	if t.After(e.timeRange.End) {
		t = e.timeRange.End
	}
	e.simTime = t
	e.summary = Summary{}
	e.mu.Unlock()

	e.broadcastState()
	e.broadcastSummary()
}

// Step advances the replay by delta and emits every row passed. Useful for
// deterministic testing. Does not require Start().
func (e *Engine) Step(delta time.Duration) {
	if e.advance(delta) {
		e.mu.Lock()
		if e.running {
			e.running = false
			close(e.stopCh)
		}
		e.mu.Unlock()
		e.broadcastState()
	}
}

const tickInterval = 100 * time.Millisecond

func (e *Engine) loop() {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	e.mu.Lock()
	stopCh := e.stopCh
	e.mu.Unlock()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if e.tick() {
				return
			}
		}
	}
}

func (e *Engine) tick() bool {
	e.mu.Lock()
	delta := time.Duration(float64(tickInterval) * e.speed)
	e.mu.Unlock()

	if !e.advance(delta) {
		return false
	}

	e.mu.Lock()
	if e.running {
		e.running = false
		close(e.stopCh)
	}
	e.mu.Unlock()
	e.broadcastState()
	return true
}

// advance moves simTime forward, emits rows in (prev, current] and reports
// whether the end of the range was reached.
func (e *Engine) advance(delta time.Duration) bool {
	e.mu.Lock()
	prev := e.simTime
	e.simTime = e.simTime.Add(delta)
	ended := false
	if !e.simTime.Before(e.timeRange.End) {
		e.simTime = e.timeRange.End
		ended = true
	}
	current := e.simTime
	e.mu.Unlock()

	e.emitSteps(prev, current)
	e.broadcastState()
	e.broadcastSummary()
	return ended
}

func (e *Engine) emitSteps(prev, current time.Time) {
	from := sort.Search(len(e.rows), func(i int) bool { return e.rows[i].Timestamp.After(prev) })
	to := sort.Search(len(e.rows), func(i int) bool { return e.rows[i].Timestamp.After(current) })

	for _, row := range e.rows[from:to] {
		rec, err := e.model.PredictOne(row.Features)
		if err != nil {
			// Columns were checked in New, so this only fires on a broken model.
			continue
		}
		step := Step{
			Timestamp:       row.Timestamp,
			Record:          rec,
			Actual:          row.TargetValue,
			ActualViolation: row.TargetViolation,
		}
		e.mu.Lock()
		e.summary.add(step)
		e.mu.Unlock()

		if e.callback != nil {
			e.callback.OnStep(step)
		}
	}
}

func (s *Summary) add(step Step) {
	s.Steps++
	predicted := step.Record.PredictedViolation
	if predicted {
		s.Alerts++
	}
	if step.ActualViolation {
		s.ActualViolations++
	}
	switch {
	case predicted && step.ActualViolation:
		s.TruePositives++
	case predicted:
		s.FalsePositives++
	case step.ActualViolation:
		s.FalseNegatives++
	}
	s.absErrSum += math.Abs(step.Record.PredictedValue - step.Actual)
	s.MAE = s.absErrSum / float64(s.Steps)
}

func (e *Engine) broadcastState() {
	if e.callback != nil {
		e.callback.OnState(e.State())
	}
}

func (e *Engine) broadcastSummary() {
	if e.callback != nil {
		e.callback.OnSummary(e.Summary())
	}
}
