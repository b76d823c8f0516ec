package pipeline

import (
	"context"
	"errors"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/dataset"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/ingest"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/metrics"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/predictor"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/registry"
)

type staticSource []model.Observation

func (s staticSource) Observations(context.Context) ([]model.Observation, error) {
	return append([]model.Observation(nil), s...), nil
}

type failingSource struct{ err error }

func (s failingSource) Observations(context.Context) ([]model.Observation, error) {
	return nil, s.err
}

var start = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// eveningSeries is 8 during the day and 24 between 17:00 and 22:00, plus noise.
func eveningSeries(hours int, seed uint64) staticSource {
	rng := rand.New(rand.NewPCG(seed, 0))
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

func constantSeries(n int, v float64) staticSource {
	obs := make([]model.Observation, n)
	for i := range obs {
		obs[i] = model.Observation{Timestamp: start.Add(time.Duration(i) * time.Hour), Value: v}
	}
	return obs
}

func quickOptions(t *testing.T) Options {
	tc := predictor.DefaultTrainConfig()
	tc.Regressor.NEstimators = 20
	tc.Classifier.NEstimators = 20
	dir := t.TempDir()
	return Options{
		Pollutant:       model.PollutantPM25,
		Features:        features.DefaultConfig(),
		FeatureNames:    features.DefaultFeatureNames,
		TrainFraction:   0.8,
		Train:           tc,
		ModelsDir:       filepath.Join(dir, "models"),
		FeaturesPath:    filepath.Join(dir, "processed", "features.csv"),
		MetricsTextfile: filepath.Join(dir, "metrics", "airq.prom"),
	}
}

func TestRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	reg, err := registry.Open(ctx, filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	defer reg.Close()

	opts := quickOptions(t)
	p := &Pipeline{
		Source:   eveningSeries(30*24, 1),
		Registry: reg,
		Metrics:  metrics.New(),
		Logger:   zaptest.NewLogger(t),
	}
	res, err := p.Run(ctx, opts)
	require.NoError(t, err)

	dm := res.Model
	assert.NotEmpty(t, dm.RunID)
	assert.Equal(t, 30*24-1, res.Stats.Samples)
	assert.Equal(t, res.Stats.Samples, dm.Metrics.TrainRows+dm.Metrics.TestRows)
	assert.Less(t, dm.Metrics.MAE, 3.0)

	loaded, err := predictor.LoadExpecting(opts.ModelsDir, features.DefaultFeatureNames)
	require.NoError(t, err)
	assert.Equal(t, dm.RunID, loaded.RunID)

	run, err := reg.LatestRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, dm.RunID, run.ID)
	assert.Equal(t, dm.Metrics.MAE, run.MAE)
	assert.Equal(t, opts.ModelsDir, run.ArtifactDir)

	table, err := dataset.ReadTableFile(opts.FeaturesPath)
	require.NoError(t, err)
	assert.Equal(t, res.Stats.Samples, table.Len())

	prom, err := os.ReadFile(opts.MetricsTextfile)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "airq_training_mae")
	assert.Contains(t, string(prom), `airq_training_rows{partition="test"}`)
}

func TestRun_Window(t *testing.T) {
	opts := quickOptions(t)
	opts.FeaturesPath = ""
	opts.MetricsTextfile = ""
	opts.Window = model.TimeRange{Start: start.Add(24 * time.Hour), End: start.Add(21 * 24 * time.Hour)}

	p := &Pipeline{Source: eveningSeries(30*24, 2)}
	res, err := p.Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 20*24-1, res.Stats.Samples)
}

func TestRun_ConstantSeriesFailsInTrain(t *testing.T) {
	p := &Pipeline{Source: constantSeries(200, 20), Logger: zaptest.NewLogger(t)}
	_, err := p.Run(context.Background(), quickOptions(t))
	require.Error(t, err)

	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageTrain, se.Stage)
	assert.ErrorIs(t, err, model.ErrTraining)
	assert.Equal(t,
		"stage train: training error: train: training set has single class for violation target",
		err.Error())
}

func TestRun_StageAnnotations(t *testing.T) {
	boom := model.DataErrorf("read series", "empty response")

	tests := []struct {
		name  string
		src   ingest.Source
		opts  func(*Options)
		stage Stage
		kind  error
	}{
		{"ingest", failingSource{boom}, nil, StageIngest, model.ErrData},
		{"features", constantSeries(1, 5), nil, StageFeatures, model.ErrData},
		{"split", eveningSeries(48, 3), func(o *Options) { o.TrainFraction = 1 }, StageSplit, model.ErrConfig},
		{"train schema", eveningSeries(48, 3), func(o *Options) { o.FeatureNames = []string{"nope"} }, StageTrain, model.ErrConfig},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := quickOptions(t)
			if tt.opts != nil {
				tt.opts(&opts)
			}
			_, err := (&Pipeline{Source: tt.src}).Run(context.Background(), opts)

			var se *StageError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tt.stage, se.Stage)
			assert.ErrorIs(t, err, tt.kind)
			assert.True(t, strings.HasPrefix(err.Error(), "stage "+string(tt.stage)+": "))
		})
	}
}

func TestFetch_MergesWithExisting(t *testing.T) {
	dir := t.TempDir()
	opts := FetchOptions{
		City:          "Frankfurt",
		Pollutant:     model.PollutantPM25,
		ProcessedPath: filepath.Join(dir, "processed", "frankfurt_pm25.csv"),
		RawDir:        filepath.Join(dir, "raw"),
		Threshold:     model.DefaultThreshold,
	}
	ctx := context.Background()

	first := staticSource{
		{Timestamp: start, Value: 10},
		{Timestamp: start.Add(time.Hour), Value: 20},
	}
	res, err := Fetch(ctx, first, opts, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, 15.0, res.Mean)
	assert.Equal(t, 0.5, res.ViolationRate)

	// The second fetch overlaps one hour (new value wins) and adds one.
	cet := time.FixedZone("GMT+1", 3600)
	second := staticSource{
		{Timestamp: time.Date(2024, 1, 1, 1, 0, 0, 0, cet), Value: 30},
		{Timestamp: time.Date(2024, 1, 1, 2, 0, 0, 0, cet), Value: 5},
	}
	res, err = Fetch(ctx, second, opts, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Fetched)
	assert.Equal(t, 1, res.Added)
	assert.Equal(t, 3, res.Total)
	assert.Equal(t, start, res.Range.Start)
	assert.Equal(t, start.Add(2*time.Hour), res.Range.End)

	obs, err := ingest.FileSource{Path: opts.ProcessedPath}.Observations(ctx)
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.Equal(t, []float64{10, 30, 5}, []float64{obs[0].Value, obs[1].Value, obs[2].Value})

	backup, err := os.ReadFile(filepath.Join(opts.RawDir, "StationData-Frankfurt.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(backup), "date|pm25|city|"))
}

func TestFetch_SourceError(t *testing.T) {
	_, err := Fetch(context.Background(), failingSource{errors.New("network down")}, FetchOptions{}, nil)
	var se *StageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, StageFetch, se.Stage)
}
