package predictor

import (
	"encoding/json"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/split"
)

// generateEveningSeries builds an hourly series that sits around 8 during
// the day and around 24 between 17:00 and 22:00.
func generateEveningSeries(hours int, seed uint64) []model.Observation {
	rng := rand.New(rand.NewPCG(seed, 0))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	obs := make([]model.Observation, hours)
	for i := range obs {
		ts := start.Add(time.Duration(i) * time.Hour)
		v := 8.0
		if h := ts.Hour(); h >= 17 && h <= 22 {
			v = 24
		}
		obs[i] = model.Observation{Timestamp: ts, Value: v + rng.NormFloat64()}
	}
	return obs
}

func splitSeries(t *testing.T, obs []model.Observation) (model.FeatureMatrix, model.FeatureMatrix) {
	t.Helper()
	m, err := features.Synthesize(obs, features.DefaultConfig())
	require.NoError(t, err)
	train, test, err := split.Chronological(m, split.DefaultTrainFraction)
	require.NoError(t, err)
	return train, test
}

func trainEvening(t *testing.T) *DualModel {
	t.Helper()
	train, test := splitSeries(t, generateEveningSeries(60*24, 42))
	dm, err := NewTrainer(DefaultTrainConfig(), zaptest.NewLogger(t)).Train(train, test, features.DefaultFeatureNames)
	require.NoError(t, err)
	return dm
}

func quickRow() map[string]float64 {
	return map[string]float64{
		"hour":            18,
		"day_of_week":     5,
		"rolling_24h":     20.5,
		"lag_1":           22.1,
		"lag_24":          18.9,
		"rolling_mean_24": 19.8,
	}
}

func TestTrain_QuickScenario(t *testing.T) {
	dm := trainEvening(t)

	assert.Equal(t, features.DefaultFeatureNames, dm.FeatureNames)
	assert.Less(t, dm.Metrics.MAE, 3.0)
	assert.True(t, dm.Metrics.F1Defined)
	assert.Greater(t, dm.Metrics.F1, 0.9)
	require.NotNil(t, dm.Metrics.BaselineMAE)
	assert.Positive(t, *dm.Metrics.BaselineMAE)

	rec, err := dm.PredictOne(quickRow())
	require.NoError(t, err)
	assert.True(t, rec.PredictedViolation)
	assert.Greater(t, rec.ViolationProbability, 0.5)
	assert.Equal(t, model.AlertViolation, rec.Alert)
	assert.Greater(t, rec.PredictedValue, 15.0)

	morning, err := dm.PredictOne(map[string]float64{
		"hour": 9, "day_of_week": 1, "rolling_24h": 8.2,
		"lag_1": 7.9, "lag_24": 9.1, "rolling_mean_24": 8.5,
	})
	require.NoError(t, err)
	assert.False(t, morning.PredictedViolation)
	assert.Less(t, morning.ViolationProbability, 0.5)
	assert.Equal(t, model.AlertSafe, morning.Alert)
	assert.Less(t, morning.PredictedValue, 15.0)
}

func TestTrain_Deterministic(t *testing.T) {
	train, test := splitSeries(t, generateEveningSeries(20*24, 3))
	cfg := DefaultTrainConfig()
	cfg.Regressor.NEstimators = 30
	cfg.Classifier.NEstimators = 30

	a, err := NewTrainer(cfg, nil).Train(train, test, features.DefaultFeatureNames)
	require.NoError(t, err)
	b, err := NewTrainer(cfg, nil).Train(train, test, features.DefaultFeatureNames)
	require.NoError(t, err)

	assert.Equal(t, a.Metrics.MAE, b.Metrics.MAE)
	assert.Equal(t, a.Metrics.F1, b.Metrics.F1)
	assert.Equal(t, a.Regressor.Trees, b.Regressor.Trees)
	assert.Equal(t, a.Classifier.Trees, b.Classifier.Trees)
}

func TestTrain_ConstantSeries(t *testing.T) {
	obs := make([]model.Observation, 200)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range obs {
		obs[i] = model.Observation{Timestamp: start.Add(time.Duration(i) * time.Hour), Value: 20}
	}
	train, test := splitSeries(t, obs)

	_, err := NewTrainer(DefaultTrainConfig(), zaptest.NewLogger(t)).Train(train, test, features.DefaultFeatureNames)
	require.ErrorIs(t, err, model.ErrTraining)
	assert.Contains(t, err.Error(), "training set has single class for violation target")
}

func TestTrain_ConstantRegressionTarget(t *testing.T) {
	// Two classes are impossible with a constant value, so build rows directly.
	rows := make([]model.FeatureRow, 10)
	for i := range rows {
		rows[i] = model.FeatureRow{
			Features:        map[string]float64{"hour": float64(i)},
			TargetValue:     20,
			TargetViolation: i%2 == 0,
		}
	}
	m := model.FeatureMatrix{Columns: []string{"hour"}, Rows: rows}

	_, err := NewTrainer(DefaultTrainConfig(), nil).Train(m.Slice(0, 8), m.Slice(8, 10), []string{"hour"})
	require.ErrorIs(t, err, model.ErrTraining)
	assert.Contains(t, err.Error(), "constant regression target")
}

func TestTrain_InvalidInput(t *testing.T) {
	train, test := splitSeries(t, generateEveningSeries(5*24, 1))
	tr := NewTrainer(DefaultTrainConfig(), nil)

	_, err := tr.Train(train, test, nil)
	assert.ErrorIs(t, err, model.ErrConfig)

	_, err = tr.Train(train, test, []string{"hour", "hour"})
	assert.ErrorIs(t, err, model.ErrConfig)

	_, err = tr.Train(train, test, []string{"hour", "wind_speed"})
	assert.ErrorIs(t, err, model.ErrConfig)

	_, err = tr.Train(train, model.FeatureMatrix{}, []string{"hour"})
	assert.ErrorIs(t, err, model.ErrTraining)
}

func TestPredict_SchemaError(t *testing.T) {
	dm := trainEvening(t)

	row := quickRow()
	delete(row, "lag_24")
	_, err := dm.Predict([]map[string]float64{quickRow(), row})
	require.ErrorIs(t, err, model.ErrSchema)
	assert.Contains(t, err.Error(), `row 1: missing required feature "lag_24"`)
}

func TestPredict_MissingValueAllowed(t *testing.T) {
	dm := trainEvening(t)

	row := quickRow()
	row["lag_24"] = math.NaN()
	row["extra"] = 1

	records, err := dm.Predict([]map[string]float64{row})
	require.NoError(t, err)
	require.Len(t, records, 1)
	p := records[0].ViolationProbability
	assert.True(t, p >= 0 && p <= 1)
	assert.False(t, math.IsNaN(records[0].PredictedValue))
	assert.Contains(t, records[0].Features, "extra")
	assert.Equal(t, model.AlertFor(records[0].PredictedViolation), records[0].Alert)
}

func TestArtifacts_SaveLoad(t *testing.T) {
	dm := trainEvening(t)
	dm.RunID = "run-1"
	dir := filepath.Join(t.TempDir(), "models")
	require.NoError(t, dm.Save(dir))

	assert.FileExists(t, filepath.Join(dir, RegressorFile))
	assert.FileExists(t, filepath.Join(dir, ClassifierFile))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, dm.FeatureNames, loaded.FeatureNames)
	assert.Equal(t, "run-1", loaded.RunID)
	assert.Equal(t, dm.Metrics.MAE, loaded.Metrics.MAE)
	assert.Equal(t, dm.Threshold, loaded.Threshold)

	want, err := dm.PredictOne(quickRow())
	require.NoError(t, err)
	got, err := loaded.PredictOne(quickRow())
	require.NoError(t, err)
	assert.Equal(t, want.PredictedValue, got.PredictedValue)
	assert.Equal(t, want.ViolationProbability, got.ViolationProbability)

	_, err = LoadExpecting(dir, features.DefaultFeatureNames)
	require.NoError(t, err)

	reordered := []string{"day_of_week", "hour", "rolling_24h", "lag_1", "lag_24", "rolling_mean_24"}
	_, err = LoadExpecting(dir, reordered)
	require.ErrorIs(t, err, model.ErrPersistence)
	assert.Contains(t, err.Error(), "feature-name mismatch")
}

func rewriteArtifact(t *testing.T, path string, edit func(*Artifact)) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var a Artifact
	require.NoError(t, json.Unmarshal(data, &a))
	edit(&a)
	data, err = json.Marshal(a)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestArtifacts_LoadRejects(t *testing.T) {
	train, test := splitSeries(t, generateEveningSeries(10*24, 5))
	cfg := DefaultTrainConfig()
	cfg.Regressor.NEstimators = 5
	cfg.Classifier.NEstimators = 5
	dm, err := NewTrainer(cfg, nil).Train(train, test, features.DefaultFeatureNames)
	require.NoError(t, err)

	tests := []struct {
		name string
		file string
		edit func(*Artifact)
		want string
	}{
		{"reordered names", ClassifierFile, func(a *Artifact) {
			a.FeatureNames[0], a.FeatureNames[1] = a.FeatureNames[1], a.FeatureNames[0]
		}, "feature-name mismatch"},
		{"wrong kind", RegressorFile, func(a *Artifact) { a.Kind = KindClassifier }, "kind"},
		{"no names", RegressorFile, func(a *Artifact) { a.FeatureNames = nil }, "no feature names"},
		{"bad tree", ClassifierFile, func(a *Artifact) {
			a.Trees[0].Nodes[0] = Node{Feature: 99, Left: 1, Right: 2}
		}, "malformed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, dm.Save(dir))
			rewriteArtifact(t, filepath.Join(dir, tt.file), tt.edit)

			_, err := Load(dir)
			require.ErrorIs(t, err, model.ErrPersistence)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("missing dir", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope"))
		assert.ErrorIs(t, err, model.ErrPersistence)
	})

	t.Run("corrupt json", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, dm.Save(dir))
		require.NoError(t, os.WriteFile(filepath.Join(dir, RegressorFile), []byte("{"), 0o644))
		_, err := Load(dir)
		assert.ErrorIs(t, err, model.ErrPersistence)
	})
}
