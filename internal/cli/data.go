package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/dataset"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/ingest"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/pipeline"
)

func (a *app) openMeteoSource() ingest.OpenMeteoSource {
	client := ingest.NewOpenMeteoClient(a.cfg.Source.BaseURL, a.cfg.Source.Timeout, a.logger.Named("openmeteo"))
	client.MaxAttempts = a.cfg.Source.MaxAttempts
	return ingest.OpenMeteoSource{Client: client, Query: a.cfg.Query()}
}

func (a *app) fileSource(path string) ingest.FileSource {
	return ingest.FileSource{
		Path:   path,
		Parser: ingest.SeriesParser{Column: a.cfg.Pollutant().Column()},
	}
}

// fetch refreshes the processed series file from Open-Meteo.
func (a *app) fetch(cmd *cobra.Command) error {
	res, err := pipeline.Fetch(cmd.Context(), a.openMeteoSource(), pipeline.FetchOptions{
		City:          a.cfg.Source.City,
		Pollutant:     a.cfg.Pollutant(),
		ProcessedPath: a.cfg.Paths.Processed,
		RawDir:        a.cfg.Paths.RawDir,
		Threshold:     a.cfg.Features.Threshold,
	}, a.logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d records (%d new) %s to %s, mean %.2f %s, violation rate %.1f%%\n",
		res.Total, res.Added,
		res.Range.Start.Format(dataset.DateLayout), res.Range.End.Format(dataset.DateLayout),
		res.Mean, a.unit(), res.ViolationRate*100)
	return nil
}

func (a *app) fetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the hourly series from Open-Meteo into the processed CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.fetch(cmd)
		},
	}
}

func (a *app) featuresCommand() *cobra.Command {
	var input, output string
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Synthesize the feature matrix from the processed series",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			obs, err := a.fileSource(input).Observations(cmd.Context())
			if err != nil {
				return err
			}
			m, err := features.Synthesize(obs, a.cfg.FeatureConfig())
			if err != nil {
				return err
			}
			stats := features.Describe(m)
			a.logger.Info("features synthesized", stats.Fields()...)

			err = dataset.WriteFile(output, func(w io.Writer) error {
				return dataset.WriteFeatures(w, m, a.cfg.Pollutant().Column())
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d samples, %d engineered features, violation rate %.1f%%, %d missing values -> %s\n",
				stats.Samples, stats.EngineeredFeatures, stats.ViolationRate*100, stats.MissingValues, output)
			return nil
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "processed series CSV (default paths.processed)")
	cmd.Flags().StringVar(&output, "output", "", "features CSV (default paths.features)")
	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		input = orDefault(input, a.cfg.Paths.Processed)
		output = orDefault(output, a.cfg.Paths.Features)
	}
	return cmd
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
