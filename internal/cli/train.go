package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/ingest"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/metrics"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/pipeline"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/predictor"
)

const dateFlagLayout = "2006-01-02"

// parseWindow turns --from/--to dates into a half-open window; --to is
// inclusive of its whole day.
func parseWindow(from, to string) (model.TimeRange, error) {
	var w model.TimeRange
	if from != "" {
		t, err := time.Parse(dateFlagLayout, from)
		if err != nil {
			return w, model.ConfigErrorf("window", "invalid --from %q: %w", from, err)
		}
		w.Start = t
	}
	if to != "" {
		t, err := time.Parse(dateFlagLayout, to)
		if err != nil {
			return w, model.ConfigErrorf("window", "invalid --to %q: %w", to, err)
		}
		w.End = t.AddDate(0, 0, 1)
	}
	if !w.Start.IsZero() && !w.End.IsZero() && !w.End.After(w.Start) {
		return w, model.ConfigErrorf("window", "--to %s is before --from %s", to, from)
	}
	return w, nil
}

func (a *app) runPipeline(cmd *cobra.Command, src ingest.Source, window model.TimeRange, featuresPath string) error {
	reg, err := a.openRegistry(cmd.Context())
	if err != nil {
		return err
	}
	if reg != nil {
		defer reg.Close()
	}

	p := &pipeline.Pipeline{
		Source:   src,
		Registry: reg,
		Metrics:  metrics.New(),
		Logger:   a.logger,
	}

	res, err := p.Run(cmd.Context(), pipeline.Options{
		Pollutant:       a.cfg.Pollutant(),
		Window:          window,
		Features:        a.cfg.FeatureConfig(),
		FeatureNames:    a.cfg.FeatureNames(),
		TrainFraction:   a.cfg.Split.TrainFraction,
		Train:           a.cfg.TrainConfig(),
		ModelsDir:       a.cfg.Paths.ModelsDir,
		FeaturesPath:    featuresPath,
		MetricsTextfile: a.cfg.Metrics.Textfile,
	})
	if err != nil {
		return err
	}
	return writeTrainingSummary(cmd.OutOrStdout(), res.Model, a.unit(), a.cfg.Paths.ModelsDir)
}

func writeTrainingSummary(w io.Writer, dm *predictor.DualModel, unit, dir string) error {
	m := dm.Metrics
	fmt.Fprintf(w, "run %s: train %d, test %d rows\n", dm.RunID, m.TrainRows, m.TestRows)
	if err := writeTrainingMetrics(w, m, unit); err != nil {
		return err
	}
	if m.BaselineMAE != nil {
		fmt.Fprintf(w, "Linear baseline MAE: %.2f %s\n", *m.BaselineMAE, unit)
	}
	_, err := fmt.Fprintf(w, "models saved to %s\n", dir)
	return err
}

func (a *app) trainCommand() *cobra.Command {
	var input, from, to string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train the dual model on the processed series",
		Example: `  airq train
  airq train --from 2024-01-01 --to 2024-12-31`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			window, err := parseWindow(from, to)
			if err != nil {
				return err
			}
			return a.runPipeline(cmd, a.fileSource(orDefault(input, a.cfg.Paths.Processed)), window, "")
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "processed series CSV (default paths.processed)")
	cmd.Flags().StringVar(&from, "from", "", "first day to train on (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last day to train on (YYYY-MM-DD)")
	return cmd
}

func (a *app) runCommand() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the whole pipeline: fetch (unless --input), features, split, train, persist, register",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" {
				if err := a.fetch(cmd); err != nil {
					return err
				}
				input = a.cfg.Paths.Processed
			}
			return a.runPipeline(cmd, a.fileSource(input), model.TimeRange{}, a.cfg.Paths.Features)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "processed series CSV to train on instead of fetching")
	return cmd
}
