package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/dataset"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/predictor"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/registry"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/report"
)

// loadModels loads both artifacts and checks them against the configured
// feature ordering.
func (a *app) loadModels() (*predictor.DualModel, error) {
	dm, err := predictor.LoadExpecting(a.cfg.Paths.ModelsDir, a.cfg.FeatureNames())
	if err != nil {
		return nil, err
	}
	a.logger.Info("models loaded",
		zap.String("dir", a.cfg.Paths.ModelsDir),
		zap.String("run_id", dm.RunID),
		zap.Strings("features", dm.FeatureNames),
	)
	return dm, nil
}

func (a *app) predictCommand() *cobra.Command {
	var input, output string
	var samples int
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Batch prediction over a features CSV",
		Long: `predict scores every row of the input table with both models and writes
the table back with predicted_value, predicted_violation,
violation_probability and alert columns. When the input file does not
exist, sample rows over the model's feature names are generated with a
fixed seed and written there first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			input = orDefault(input, a.cfg.Paths.Features)
			output = orDefault(output, a.cfg.Paths.Predictions)

			dm, err := a.loadModels()
			if err != nil {
				return err
			}

			table, err := dataset.ReadTableFile(input)
			if errors.Is(err, fs.ErrNotExist) {
				a.logger.Info("generating sample rows", zap.String("path", input), zap.Int("rows", samples))
				table = dataset.SampleRows(samples, a.cfg.Training.Seed, dm.FeatureNames)
				err = dataset.WriteFile(input, func(w io.Writer) error { return dataset.WriteTable(w, table) })
			}
			if err != nil {
				return err
			}

			if err := table.CheckNumeric(dm.FeatureNames); err != nil {
				return err
			}
			records, err := dm.Predict(table.Values)
			if err != nil {
				return err
			}

			if err := dataset.WriteFile(output, func(w io.Writer) error {
				return dataset.WritePredictions(w, table, records)
			}); err != nil {
				return err
			}

			if err := a.recordPredictions(cmd, dm, records); err != nil {
				return err
			}
			return writeBatchSummary(cmd.OutOrStdout(), records, a.unit(), output)
		},
	}
	cmd.Flags().StringVar(&input, "input", "", "features CSV (default paths.features)")
	cmd.Flags().StringVar(&output, "output", "", "predictions CSV (default paths.predictions)")
	cmd.Flags().IntVar(&samples, "samples", dataset.DefaultSampleRows, "rows to generate when the input is missing")
	return cmd
}

// recordPredictions stores records in the registry when the model's run is
// registered there.
func (a *app) recordPredictions(cmd *cobra.Command, dm *predictor.DualModel, records []model.PredictionRecord) error {
	if dm.RunID == "" {
		return nil
	}
	reg, err := a.openRegistry(cmd.Context())
	if err != nil || reg == nil {
		return err
	}
	defer reg.Close()

	if _, err := reg.Run(cmd.Context(), dm.RunID); errors.Is(err, registry.ErrNotFound) {
		a.logger.Warn("run not registered, predictions not recorded", zap.String("run_id", dm.RunID))
		return nil
	} else if err != nil {
		return model.PersistenceErrorf("registry", "%w", err)
	}
	if err := reg.RecordPredictions(cmd.Context(), dm.RunID, records); err != nil {
		return model.PersistenceErrorf("registry", "%w", err)
	}
	return nil
}

func writeBatchSummary(w io.Writer, records []model.PredictionRecord, unit, path string) error {
	if len(records) == 0 {
		_, err := fmt.Fprintf(w, "no rows to predict\n")
		return err
	}
	values := make([]float64, len(records))
	violations := 0
	for i, r := range records {
		values[i] = r.PredictedValue
		if r.PredictedViolation {
			violations++
		}
	}
	_, err := fmt.Fprintf(w, "predictions saved to %s\nrange: %.1f-%.1f %s\nviolations: %d/%d (%.1f%%)\n",
		path, floats.Min(values), floats.Max(values), unit,
		violations, len(records), float64(violations)/float64(len(records))*100)
	return err
}

func (a *app) quickCommand() *cobra.Command {
	hs := report.HighPollution.Features
	var (
		hour, dayOfWeek                        int
		rolling24h, lag1, lag24, rollingMean24 float64
		set                                    []string
	)
	cmd := &cobra.Command{
		Use:   "quick",
		Short: "Predict a single row given on the command line",
		Example: `  airq quick
  airq quick --hour 9 --day-of-week 1 --rolling-24h 8.2 --lag-1 7.9 --lag-24 9.1 --rolling-mean-24 8.5
  airq quick --set ema_1d=12.4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			row := map[string]float64{
				features.Hour:               float64(hour),
				features.DayOfWeek:          float64(dayOfWeek),
				features.AliasRolling24h:    rolling24h,
				features.AliasLag1:          lag1,
				features.AliasLag24:         lag24,
				features.AliasRollingMean24: rollingMean24,
			}
			for _, kv := range set {
				name, value, err := parseAssignment(kv)
				if err != nil {
					return err
				}
				row[name] = value
			}

			dm, err := a.loadModels()
			if err != nil {
				return err
			}
			rec, err := dm.PredictOne(row)
			if err != nil {
				return err
			}
			return report.WriteQuick(cmd.OutOrStdout(), rec, a.unit())
		},
	}
	f := cmd.Flags()
	f.IntVar(&hour, "hour", int(hs[features.Hour]), "hour of day (0-23)")
	f.IntVar(&dayOfWeek, "day-of-week", int(hs[features.DayOfWeek]), "day of week (0 = Monday)")
	f.Float64Var(&rolling24h, "rolling-24h", hs[features.AliasRolling24h], "24h rolling mean")
	f.Float64Var(&lag1, "lag-1", hs[features.AliasLag1], "value one hour ago")
	f.Float64Var(&lag24, "lag-24", hs[features.AliasLag24], "value 24 hours ago")
	f.Float64Var(&rollingMean24, "rolling-mean-24", hs[features.AliasRollingMean24], "24h rolling mean")
	f.StringArrayVar(&set, "set", nil, "extra feature as name=value (repeatable; value may be nan)")
	return cmd
}

func parseAssignment(kv string) (string, float64, error) {
	name, raw, ok := strings.Cut(kv, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", 0, model.ConfigErrorf("quick", "invalid --set %q: want name=value", kv)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return "", 0, model.ConfigErrorf("quick", "invalid --set %q: %w", kv, err)
	}
	return name, v, nil
}

func (a *app) checkCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Load both models and print their feature-name contract",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dm, err := a.loadModels()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Dual models OK (%s)\n", a.cfg.Paths.ModelsDir)
			fmt.Fprintf(out, "Features: %s\n", strings.Join(dm.FeatureNames, ", "))
			fmt.Fprintf(out, "Threshold: %g %s\n", dm.Threshold, a.unit())
			if dm.RunID != "" {
				fmt.Fprintf(out, "Run: %s (%s)\n", dm.RunID, dm.CreatedAt.Format(time.RFC3339))
			}
			return writeTrainingMetrics(out, dm.Metrics, a.unit())
		},
	}
}

func writeTrainingMetrics(w io.Writer, m predictor.Metrics, unit string) error {
	f1 := fmt.Sprintf("%.3f", m.F1)
	if !m.F1Defined {
		f1 = "undefined"
	}
	_, err := fmt.Fprintf(w, "Regressor MAE: %.2f %s | Classifier F1: %s\n", m.MAE, unit, f1)
	return err
}
