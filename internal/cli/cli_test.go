package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/dataset"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/predictor"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/registry"
)

var seriesStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// workspace is a temp directory with a config file pointing every path into it.
type workspace struct {
	dir    string
	config string
}

func (ws workspace) path(parts ...string) string {
	return filepath.Join(append([]string{ws.dir}, parts...)...)
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	ws := workspace{dir: t.TempDir()}
	ws.config = ws.path("airq.yaml")
	yaml := fmt.Sprintf(`paths:
  raw_dir: %[1]s/raw
  processed: %[1]s/processed/series.csv
  features: %[1]s/processed/features.csv
  models_dir: %[1]s/models
  predictions: %[1]s/predictions.csv
  reports_dir: %[1]s/reports
training:
  regressor:
    n_estimators: 20
  classifier:
    n_estimators: 20
registry:
  path: %[1]s/registry.db
metrics:
  textfile: %[1]s/metrics/airq.prom
logging:
  level: error
`, ws.dir)
	require.NoError(t, os.WriteFile(ws.config, []byte(yaml), 0o644))
	return ws
}

// writeSeries writes a processed series file of the given observations.
func (ws workspace) writeSeries(t *testing.T, obs []model.Observation) {
	t.Helper()
	rows := features.Legacy(obs, model.DefaultThreshold)
	require.NoError(t, dataset.WriteFile(ws.path("processed", "series.csv"), func(w io.Writer) error {
		return dataset.WriteProcessed(w, rows, "Frankfurt", model.PollutantPM25.Column(), ',')
	}))
}

// eveningSeries is 8 during the day and 24 between 17:00 and 22:00, plus noise.
func eveningSeries(days int) []model.Observation {
	rng := rand.New(rand.NewPCG(7, 0))
	obs := make([]model.Observation, days*24)
	for i := range obs {
		ts := seriesStart.Add(time.Duration(i) * time.Hour)
		v := 8.0
		if h := ts.Hour(); h >= 17 && h <= 22 {
			v = 24
		}
		obs[i] = model.Observation{Timestamp: ts, Value: v + rng.NormFloat64()}
	}
	return obs
}

func (ws workspace) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", ws.config, "--env-file", ws.path("missing.env")}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

// trained returns a workspace whose models were trained on a 60-day series.
func trained(t *testing.T) workspace {
	t.Helper()
	ws := newWorkspace(t)
	ws.writeSeries(t, eveningSeries(60))
	out, err := ws.run(t, "train")
	require.NoError(t, err)
	require.Contains(t, out, "Regressor MAE:")
	require.Contains(t, out, "models saved to "+ws.path("models"))
	return ws
}

func TestTrainAndCheck(t *testing.T) {
	ws := trained(t)

	assert.FileExists(t, ws.path("metrics", "airq.prom"))
	assert.FileExists(t, ws.path("registry.db"))

	out, err := ws.run(t, "check")
	require.NoError(t, err)
	assert.Contains(t, out, "Dual models OK")
	assert.Contains(t, out, "Features: hour, day_of_week, rolling_24h, lag_1, lag_24, rolling_mean_24")
	assert.Contains(t, out, "Threshold: 15 µg/m³")
	assert.Contains(t, out, "Run: ")
}

func TestQuick(t *testing.T) {
	ws := trained(t)

	out, err := ws.run(t, "quick")
	require.NoError(t, err)
	assert.Contains(t, out, "Alert: VIOLATION")

	out, err = ws.run(t, "quick",
		"--hour", "9", "--day-of-week", "1",
		"--rolling-24h", "8.2", "--lag-1", "7.9", "--lag-24", "9.1", "--rolling-mean-24", "8.5")
	require.NoError(t, err)
	assert.Contains(t, out, "Alert: Safe")

	_, err = ws.run(t, "quick", "--set", "lag_1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrConfig))
}

func TestFeaturesThenPredict(t *testing.T) {
	ws := trained(t)

	out, err := ws.run(t, "features")
	require.NoError(t, err)
	assert.Contains(t, out, "-> "+ws.path("processed", "features.csv"))

	out, err = ws.run(t, "predict")
	require.NoError(t, err)
	assert.Contains(t, out, "predictions saved to "+ws.path("predictions.csv"))

	table, err := dataset.ReadTableFile(ws.path("predictions.csv"))
	require.NoError(t, err)
	require.Equal(t, 60*24-1, table.Len())
	assert.Contains(t, table.Columns, dataset.AlertColumn)

	reg, err := registry.Open(context.Background(), ws.path("registry.db"))
	require.NoError(t, err)
	defer reg.Close()
	run, err := reg.LatestRun(context.Background())
	require.NoError(t, err)
	counts, err := reg.AlertCounts(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, table.Len(), counts[model.AlertViolation]+counts[model.AlertSafe])
	assert.Positive(t, counts[model.AlertViolation])
	assert.Positive(t, counts[model.AlertSafe])

	out, err = ws.run(t, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "RUN")
	assert.Contains(t, out, run.ID)
}

func TestPredict_GeneratesMissingInput(t *testing.T) {
	ws := trained(t)
	input := ws.path("samples", "rows.csv")

	out, err := ws.run(t, "predict", "--input", input, "--samples", "25")
	require.NoError(t, err)
	assert.Contains(t, out, "violations: ")

	generated, err := dataset.ReadTableFile(input)
	require.NoError(t, err)
	assert.Equal(t, 25, generated.Len())
	assert.Equal(t, features.DefaultFeatureNames, generated.Columns)

	predicted, err := dataset.ReadTableFile(ws.path("predictions.csv"))
	require.NoError(t, err)
	assert.Equal(t, 25, predicted.Len())
}

func TestPredict_NonNumericFeatureCell(t *testing.T) {
	ws := trained(t)
	input := ws.path("bad.csv")
	body := "hour,day_of_week,rolling_24h,lag_1,lag_24,rolling_mean_24\n" +
		"18,5,20.5,18.2,18.9,19.8\n" +
		"18,5,20.5,abc,18.9,19.8\n"
	require.NoError(t, os.WriteFile(input, []byte(body), 0o644))

	_, err := ws.run(t, "predict", "--input", input)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrData))
	assert.False(t, errors.Is(err, model.ErrSchema))
	assert.Contains(t, err.Error(), `line 3: column "lag_1": "abc"`)
	assert.NoFileExists(t, ws.path("predictions.csv"))
}

func TestReport(t *testing.T) {
	ws := trained(t)

	out, err := ws.run(t, "report", "quick-demo")
	require.NoError(t, err)
	assert.Contains(t, out, "report saved to")
	assert.FileExists(t, ws.path("reports", "demo_report.md"))

	_, err = ws.run(t, "report", "weekly")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown report "weekly"`)
}

func TestTrain_ConstantSeriesFailsAtTrainStage(t *testing.T) {
	ws := newWorkspace(t)
	obs := make([]model.Observation, 30*24)
	for i := range obs {
		obs[i] = model.Observation{Timestamp: seriesStart.Add(time.Duration(i) * time.Hour), Value: 10}
	}
	ws.writeSeries(t, obs)

	_, err := ws.run(t, "train")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stage train")
	assert.True(t, errors.Is(err, model.ErrTraining))
	assert.NoFileExists(t, ws.path("models", predictor.RegressorFile))
}

func TestCheck_WithoutModels(t *testing.T) {
	ws := newWorkspace(t)
	_, err := ws.run(t, "check")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrPersistence))
}

func TestParseWindow(t *testing.T) {
	w, err := parseWindow("2024-01-01", "2024-01-31")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), w.Start)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), w.End)

	w, err = parseWindow("", "")
	require.NoError(t, err)
	assert.True(t, w.Start.IsZero())
	assert.True(t, w.End.IsZero())

	tests := []struct {
		name     string
		from, to string
	}{
		{"bad from", "01/02/2024", ""},
		{"bad to", "", "2024-13-01"},
		{"reversed", "2024-02-01", "2024-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseWindow(tt.from, tt.to)
			require.Error(t, err)
			assert.True(t, errors.Is(err, model.ErrConfig))
		})
	}
}

func TestParseAssignment(t *testing.T) {
	name, v, err := parseAssignment(" ema_1d = 12.5 ")
	require.NoError(t, err)
	assert.Equal(t, "ema_1d", name)
	assert.Equal(t, 12.5, v)

	_, v, err = parseAssignment("lag_24=nan")
	require.NoError(t, err)
	assert.True(t, model.IsMissing(v))

	for _, bad := range []string{"lag_1", "=3", "lag_1=high"} {
		_, _, err := parseAssignment(bad)
		assert.Error(t, err, bad)
	}
}
