package replay

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/predictor"
)

type mockCallback struct {
	mu        sync.Mutex
	states    []State
	steps     []Step
	summaries []Summary
}

func (m *mockCallback) OnState(s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, s)
}

func (m *mockCallback) OnStep(s Step) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, s)
}

func (m *mockCallback) OnSummary(s Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries = append(m.summaries, s)
}

func (m *mockCallback) stepCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}

func (m *mockCallback) allSteps() []Step {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Step(nil), m.steps...)
}

func (m *mockCallback) lastState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.states) == 0 {
		return State{}
	}
	return m.states[len(m.states)-1]
}

var startTime = time.Date(2024, 11, 21, 0, 0, 0, 0, time.UTC)

// hourModel predicts 22 from noon on and 8 before, with matching
// violation probabilities.
func hourModel() *predictor.DualModel {
	split := func(lo, hi float64) []predictor.Tree {
		return []predictor.Tree{{Nodes: []predictor.Node{
			{Feature: 0, Threshold: 12, Left: 1, Right: 2},
			{Leaf: true, Value: lo},
			{Leaf: true, Value: hi},
		}}}
	}
	return &predictor.DualModel{
		Regressor:    &predictor.Booster{Objective: predictor.SquaredError, BaseScore: 15, NumFeatures: 2, Trees: split(-7, 7)},
		Classifier:   &predictor.Booster{Objective: predictor.Logistic, NumFeatures: 2, Trees: split(-2, 2)},
		FeatureNames: []string{features.Hour, features.AliasLag1},
		Threshold:    model.DefaultThreshold,
	}
}

// afternoonSeries is 20 from noon on and 10 before.
func afternoonSeries(hours int) []model.Observation {
	obs := make([]model.Observation, hours)
	for i := range obs {
		ts := startTime.Add(time.Duration(i) * time.Hour)
		v := 10.0
		if ts.Hour() >= 12 {
			v = 20
		}
		obs[i] = model.Observation{Timestamp: ts, Value: v}
	}
	return obs
}

func newEngine(t *testing.T, hours int) (*Engine, *mockCallback) {
	t.Helper()
	cb := &mockCallback{}
	e, err := New(afternoonSeries(hours), hourModel(), features.DefaultConfig(), cb)
	require.NoError(t, err)
	return e, cb
}

func TestEngine_StepEmitsRowsInOrder(t *testing.T) {
	e, cb := newEngine(t, 48)

	e.Step(2 * time.Hour)
	steps := cb.allSteps()
	require.Len(t, steps, 2)
	assert.Equal(t, startTime, steps[0].Timestamp)
	assert.Equal(t, startTime.Add(time.Hour), steps[1].Timestamp)
	assert.Equal(t, 10.0, steps[0].Actual)

	e.Step(time.Hour)
	assert.Equal(t, 3, cb.stepCount())
	assert.Equal(t, 3, e.Summary().Steps)
}

func TestEngine_StepToEnd(t *testing.T) {
	e, cb := newEngine(t, 48)

	e.Step(1000 * time.Hour)

	// The last observation has no next hour, so it is not a row.
	assert.Equal(t, 47, cb.stepCount())
	st := e.State()
	assert.False(t, st.Running)
	assert.Equal(t, e.TimeRange().End, st.Time)
	assert.Equal(t, startTime.Add(46*time.Hour), e.TimeRange().End)
}

func TestEngine_SummaryMatchesSteps(t *testing.T) {
	e, cb := newEngine(t, 72)
	e.Step(1000 * time.Hour)

	steps := cb.allSteps()
	alerts, actual := 0, 0
	for _, s := range steps {
		if s.Record.PredictedViolation {
			alerts++
		}
		if s.ActualViolation {
			actual++
		}
		assert.Equal(t, model.AlertFor(s.Record.PredictedViolation), s.Record.Alert)
	}

	sum := e.Summary()
	assert.Equal(t, len(steps), sum.Steps)
	assert.Equal(t, alerts, sum.Alerts)
	assert.Equal(t, actual, sum.ActualViolations)
	assert.Positive(t, sum.Alerts)
	assert.Positive(t, sum.ActualViolations)
	assert.Equal(t, sum.Alerts, sum.TruePositives+sum.FalsePositives)
	assert.Equal(t, sum.ActualViolations, sum.TruePositives+sum.FalseNegatives)
	assert.Greater(t, sum.MAE, 0.0)
}

func TestEngine_SeekResetsAndClamps(t *testing.T) {
	e, cb := newEngine(t, 48)
	e.Step(10 * time.Hour)
	require.Equal(t, 10, e.Summary().Steps)

	target := startTime.Add(20 * time.Hour)
	e.Seek(target)
	assert.Equal(t, 0, e.Summary().Steps)
	assert.Equal(t, target, e.State().Time)

	e.Step(time.Hour)
	steps := cb.allSteps()
	assert.Equal(t, startTime.Add(21*time.Hour), steps[len(steps)-1].Timestamp)

	e.Seek(startTime.Add(-24 * time.Hour))
	assert.Equal(t, e.TimeRange().Start, e.State().Time)
	e.Seek(startTime.Add(1000 * time.Hour))
	assert.Equal(t, e.TimeRange().End, e.State().Time)
}

func TestEngine_SetSpeedClamps(t *testing.T) {
	e, cb := newEngine(t, 48)
	assert.Equal(t, float64(DefaultSpeed), e.State().Speed)

	e.SetSpeed(0)
	assert.Equal(t, MinSpeed, e.State().Speed)
	e.SetSpeed(1e9)
	assert.Equal(t, float64(MaxSpeed), e.State().Speed)
	assert.Equal(t, float64(MaxSpeed), cb.lastState().Speed)
}

func TestEngine_StartRunsToEnd(t *testing.T) {
	e, cb := newEngine(t, 72)
	e.SetSpeed(MaxSpeed)
	e.Start()

	assert.Eventually(t, func() bool { return !e.State().Running && cb.stepCount() == 71 },
		5*time.Second, 20*time.Millisecond)
	assert.Eventually(t, func() bool { return !cb.lastState().Running }, time.Second, 10*time.Millisecond)
}

func TestEngine_PauseStopsLoop(t *testing.T) {
	e, cb := newEngine(t, 72)
	e.SetSpeed(MinSpeed)
	e.Start()
	assert.True(t, e.State().Running)
	e.Start() // no-op while running

	e.Pause()
	assert.False(t, e.State().Running)
	assert.False(t, cb.lastState().Running)
	e.Pause() // no-op while paused
}

func TestEngine_StepToEndStopsRunningLoop(t *testing.T) {
	e, cb := newEngine(t, 72)
	e.SetSpeed(MinSpeed)
	e.Start()
	e.mu.Lock()
	stopCh := e.stopCh
	e.mu.Unlock()

	e.Step(1000 * time.Hour)
	assert.False(t, e.State().Running)
	select {
	case <-stopCh:
	default:
		t.Fatal("loop channel still open after reaching the end")
	}

	e.Seek(e.TimeRange().Start)
	e.SetSpeed(MaxSpeed)
	e.Start()
	assert.Eventually(t, func() bool { return !e.State().Running && cb.stepCount() == 2*71 },
		5*time.Second, 20*time.Millisecond)
}

func TestNew_Errors(t *testing.T) {
	_, err := New(afternoonSeries(1), hourModel(), features.DefaultConfig(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrData))

	dm := hourModel()
	dm.FeatureNames = []string{features.Hour, "humidity"}
	_, err = New(afternoonSeries(48), dm, features.DefaultConfig(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSchema))
	assert.Contains(t, err.Error(), `"humidity"`)
}
