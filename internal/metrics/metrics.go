// Package metrics holds the Prometheus collectors of the pipeline.
package metrics

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/predictor"
)

// Metrics is a set of collectors registered on its own registry, so several
// pipelines in one process (or one test binary) never collide.
type Metrics struct {
	registry *prometheus.Registry

	trainingMAE        prometheus.Gauge
	trainingF1         prometheus.Gauge
	baselineMAE        prometheus.Gauge
	trainingRows       *prometheus.GaugeVec
	violationRate      prometheus.Gauge
	missingValues      prometheus.Gauge
	predictionsTotal   *prometheus.CounterVec
	predictionDuration prometheus.Histogram
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		trainingMAE: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airq_training_mae",
			Help: "Mean absolute error of the regressor on the test partition.",
		}),
		trainingF1: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airq_training_f1",
			Help: "F1 score of the violation classifier on the test partition.",
		}),
		baselineMAE: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airq_baseline_mae",
			Help: "Mean absolute error of the linear baseline on the test partition.",
		}),
		trainingRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "airq_training_rows",
			Help: "Rows per partition of the last training run.",
		}, []string{"partition"}),
		violationRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airq_target_violation_rate",
			Help: "Share of feature rows whose next-hour value exceeds the threshold.",
		}),
		missingValues: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "airq_feature_missing_values",
			Help: "Undefined feature values in the last synthesized matrix.",
		}),
		predictionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "airq_predictions_total",
			Help: "Prediction records produced, by alert.",
		}, []string{"alert"}),
		predictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "airq_prediction_duration_seconds",
			Help:    "Time spent predicting one batch.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(
		m.trainingMAE, m.trainingF1, m.baselineMAE, m.trainingRows,
		m.violationRate, m.missingValues, m.predictionsTotal, m.predictionDuration,
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFeatures records the statistics of a synthesized matrix.
func (m *Metrics) ObserveFeatures(s features.Stats) {
	m.violationRate.Set(s.ViolationRate)
	m.missingValues.Set(float64(s.MissingValues))
}

// ObserveTraining records the held-out metrics of a training run.
func (m *Metrics) ObserveTraining(mt predictor.Metrics) {
	m.trainingMAE.Set(mt.MAE)
	m.trainingF1.Set(mt.F1)
	if mt.BaselineMAE != nil {
		m.baselineMAE.Set(*mt.BaselineMAE)
	}
	m.trainingRows.WithLabelValues("train").Set(float64(mt.TrainRows))
	m.trainingRows.WithLabelValues("test").Set(float64(mt.TestRows))
}

// ObservePredictions counts records by alert and the batch duration.
func (m *Metrics) ObservePredictions(records []model.PredictionRecord, elapsed time.Duration) {
	for _, r := range records {
		m.predictionsTotal.WithLabelValues(r.Alert).Inc()
	}
	m.predictionDuration.Observe(elapsed.Seconds())
}

// Connections is what WatchConnections samples at scrape time.
type Connections interface {
	ClientCount() int
	Dropped() int64
}

// WatchConnections exports the client count and dropped-message total of a
// WebSocket hub. Call it once per Metrics.
func (m *Metrics) WatchConnections(c Connections) {
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "airq_ws_clients",
			Help: "Connected WebSocket clients.",
		}, func() float64 { return float64(c.ClientCount()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "airq_ws_dropped_messages_total",
			Help: "Messages dropped because a client's buffer was full.",
		}, func() float64 { return float64(c.Dropped()) }),
	)
}

// WriteTextfile exports the current values in the node-exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler serves the registry on /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
