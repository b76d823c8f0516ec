package pipeline

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/dataset"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/ingest"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/store"
)

// FetchOptions locate the processed series and raw backup files.
type FetchOptions struct {
	City          string
	Pollutant     model.Pollutant
	ProcessedPath string
	RawDir        string
	Threshold     float64
}

// FetchResult summarizes the merged series written by Fetch.
type FetchResult struct {
	Fetched       int
	Added         int
	Total         int
	Mean          float64
	ViolationRate float64
	Range         model.TimeRange
}

// Fetch pulls a series from src, merges it into the processed file at
// opts.ProcessedPath (fetched values win on conflicting timestamps) and
// rewrites that file plus a pipe-delimited backup under opts.RawDir.
func Fetch(ctx context.Context, src ingest.Source, opts FetchOptions, logger *zap.Logger) (FetchResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	log := logger.Named("fetch")
	fail := func(err error) (FetchResult, error) {
		log.Error("fetch failed", zap.Error(err))
		return FetchResult{}, &StageError{Stage: StageFetch, Err: err}
	}

	fetched, err := src.Observations(ctx)
	if err != nil {
		return fail(err)
	}
	// Processed files store local wall time without an offset.
	fetched = ingest.WallClock(fetched)

	column := opts.Pollutant.Column()
	st := store.New()
	if _, err := os.Stat(opts.ProcessedPath); err == nil {
		existing, err := ingest.FileSource{
			Path:   opts.ProcessedPath,
			Parser: ingest.SeriesParser{Column: column},
		}.Observations(ctx)
		if err != nil {
			return fail(err)
		}
		st.Add(opts.Pollutant, existing)
		log.Info("loaded existing series", zap.Int("records", len(existing)))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fail(err)
	}

	added := st.Add(opts.Pollutant, fetched)
	merged := st.Series(opts.Pollutant)
	rows := features.Legacy(merged, opts.Threshold)

	err = dataset.WriteFile(opts.ProcessedPath, func(w io.Writer) error {
		return dataset.WriteProcessed(w, rows, opts.City, column, ',')
	})
	if err != nil {
		return fail(err)
	}
	backup := filepath.Join(opts.RawDir, dataset.BackupFileName(opts.City))
	err = dataset.WriteFile(backup, func(w io.Writer) error {
		return dataset.WriteProcessed(w, rows, opts.City, column, '|')
	})
	if err != nil {
		return fail(err)
	}

	values := make([]float64, len(merged))
	high := 0
	for i, r := range rows {
		values[i] = r.Value
		if r.IsHighPollution {
			high++
		}
	}
	res := FetchResult{
		Fetched: len(fetched),
		Added:   added,
		Total:   len(merged),
	}
	if len(merged) > 0 {
		res.Mean = stat.Mean(values, nil)
		res.ViolationRate = float64(high) / float64(len(merged))
		res.Range, _ = st.TimeRange(opts.Pollutant)
	}

	log.Info("series written",
		zap.String("processed", opts.ProcessedPath),
		zap.String("backup", backup),
		zap.Int("fetched", res.Fetched),
		zap.Int("new", res.Added),
		zap.Int("records", res.Total),
		zap.Float64("mean", res.Mean),
		zap.Float64("violation_rate", res.ViolationRate),
	)
	return res, nil
}
