package pipeline

import (
	"context"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/dataset"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/ingest"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/metrics"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/predictor"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/registry"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/split"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/store"
)

// Options are the per-run settings.
type Options struct {
	Pollutant model.Pollutant
	// Window restricts the series to [Start, End); zero bounds are open.
	Window        model.TimeRange
	Features      features.Config
	FeatureNames  []string
	TrainFraction float64
	Train         predictor.TrainConfig
	ModelsDir     string
	// FeaturesPath, when set, receives the synthesized feature matrix.
	FeaturesPath string
	// MetricsTextfile, when set, receives a Prometheus textfile export.
	MetricsTextfile string
}

// Pipeline wires a series source to the optional registry and metrics.
type Pipeline struct {
	Source   ingest.Source
	Registry *registry.Registry
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

// Result is the outcome of a successful run.
type Result struct {
	Model *predictor.DualModel
	Stats features.Stats
}

// Run executes ingest, features, split, train, persist and register in
// order and stops at the first failing stage.
func (p *Pipeline) Run(ctx context.Context, opts Options) (*Result, error) {
	log := p.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("pipeline")

	fail := func(stage Stage, err error) error {
		log.Error("stage failed", zap.String("stage", string(stage)), zap.Error(err))
		return &StageError{Stage: stage, Err: err}
	}

	// ingest
	obs, err := p.Source.Observations(ctx)
	if err != nil {
		return nil, fail(StageIngest, err)
	}
	st := store.New()
	st.Add(opts.Pollutant, obs)
	series := st.Range(opts.Pollutant, opts.Window.Start, opts.Window.End)
	log.Info("series loaded",
		zap.Int("records", len(obs)),
		zap.Int("in_window", len(series)),
	)

	// features
	matrix, err := features.Synthesize(series, opts.Features)
	if err != nil {
		return nil, fail(StageFeatures, err)
	}
	stats := features.Describe(matrix)
	log.Info("features synthesized", stats.Fields()...)
	if p.Metrics != nil {
		p.Metrics.ObserveFeatures(stats)
	}
	if opts.FeaturesPath != "" {
		err := dataset.WriteFile(opts.FeaturesPath, func(w io.Writer) error {
			return dataset.WriteFeatures(w, matrix, opts.Pollutant.Column())
		})
		if err != nil {
			return nil, fail(StageFeatures, err)
		}
	}

	// split
	train, test, err := split.Chronological(matrix, opts.TrainFraction)
	if err != nil {
		return nil, fail(StageSplit, err)
	}
	log.Info("split", zap.Int("train", train.Len()), zap.Int("test", test.Len()))

	// train
	dm, err := predictor.NewTrainer(opts.Train, log).Train(train, test, opts.FeatureNames)
	if err != nil {
		return nil, fail(StageTrain, err)
	}
	dm.RunID = uuid.NewString()
	if p.Metrics != nil {
		p.Metrics.ObserveTraining(dm.Metrics)
	}

	// persist
	if err := dm.Save(opts.ModelsDir); err != nil {
		return nil, fail(StagePersist, err)
	}
	log.Info("models saved", zap.String("dir", opts.ModelsDir), zap.String("run_id", dm.RunID))

	// register
	if p.Registry != nil {
		err := p.Registry.RecordRun(ctx, registry.Run{
			ID:           dm.RunID,
			CreatedAt:    dm.CreatedAt,
			Pollutant:    opts.Pollutant,
			TrainRows:    dm.Metrics.TrainRows,
			TestRows:     dm.Metrics.TestRows,
			MAE:          dm.Metrics.MAE,
			F1:           dm.Metrics.F1,
			F1Defined:    dm.Metrics.F1Defined,
			BaselineMAE:  dm.Metrics.BaselineMAE,
			Threshold:    dm.Threshold,
			FeatureNames: dm.FeatureNames,
			ArtifactDir:  opts.ModelsDir,
		})
		if err != nil {
			return nil, fail(StageRegister, err)
		}
	}
	if p.Metrics != nil && opts.MetricsTextfile != "" {
		if err := p.Metrics.WriteTextfile(opts.MetricsTextfile); err != nil {
			return nil, fail(StageRegister, err)
		}
	}

	return &Result{Model: dm, Stats: stats}, nil
}
