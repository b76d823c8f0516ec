// Package report renders Markdown summaries of a trained dual model and
// its predictions for fixed demonstration scenarios.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/features"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/predictor"
)

// Kind selects a report layout.
type Kind string

const (
	FullPipeline Kind = "full-pipeline"
	QuickDemo    Kind = "quick-demo"
)

// ParseKind validates a report name given on the command line.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case FullPipeline, QuickDemo:
		return k, nil
	}
	return "", model.ConfigErrorf("report", "unknown report %q: want %q or %q", s, FullPipeline, QuickDemo)
}

// FileName is the file a report of kind k is written to.
func (k Kind) FileName() string {
	if k == QuickDemo {
		return "demo_report.md"
	}
	return "full_pipeline_report.md"
}

// Scenario is a named single-row prediction input.
type Scenario struct {
	Name     string
	Features map[string]float64
}

// HighPollution is an evening row with recent concentrations around 20.
var HighPollution = Scenario{
	Name: "High Pollution",
	Features: map[string]float64{
		features.Hour:               18,
		features.DayOfWeek:          5,
		features.AliasRolling24h:    20.5,
		features.AliasLag1:          22.1,
		features.AliasLag24:         18.9,
		features.AliasRollingMean24: 19.8,
	},
}

// SafeMorning is a morning row with recent concentrations around 8.
var SafeMorning = Scenario{
	Name: "Safe Morning",
	Features: map[string]float64{
		features.Hour:               9,
		features.DayOfWeek:          1,
		features.AliasRolling24h:    8.2,
		features.AliasLag1:          7.9,
		features.AliasLag24:         9.1,
		features.AliasRollingMean24: 8.5,
	},
}

// Scenarios are rendered in this order.
var Scenarios = []Scenario{HighPollution, SafeMorning}

// WriteQuick prints a single prediction the way the quick command does.
func WriteQuick(w io.Writer, rec model.PredictionRecord, unit string) error {
	alert := "Safe"
	if rec.PredictedViolation {
		alert = "VIOLATION"
	}
	_, err := fmt.Fprintf(w, "Estimate: %.1f %s | Alert: %s\nConfidence: %.1f%% (%s)\n",
		rec.PredictedValue, unit, alert,
		rec.ViolationProbability*100, model.ConfidenceTier(rec.ViolationProbability))
	return err
}

// Write renders a report of kind k for dm.
func Write(w io.Writer, k Kind, dm *predictor.DualModel, unit string, now time.Time) error {
	var b strings.Builder
	switch k {
	case QuickDemo:
		fmt.Fprintf(&b, "# Frankfurt PM2.5 Dual-Model Demo\n\n")
		fmt.Fprintf(&b, "Generated: %s\n\n", now.Format(time.RFC3339))
		writeMetrics(&b, dm, unit)
	case FullPipeline:
		fmt.Fprintf(&b, "# ML Pipeline Demo Report\n\n")
		fmt.Fprintf(&b, "Date: %s\n\n", now.Format(time.RFC3339))
		fmt.Fprintf(&b, "## Model Check\n\n")
		fmt.Fprintf(&b, "Dual models OK\n\n")
		fmt.Fprintf(&b, "- Features: %s\n", strings.Join(dm.FeatureNames, ", "))
		fmt.Fprintf(&b, "- Threshold: %g %s\n", dm.Threshold, unit)
		if dm.RunID != "" {
			fmt.Fprintf(&b, "- Run: %s\n", dm.RunID)
		}
		fmt.Fprintf(&b, "\n")
		writeMetrics(&b, dm, unit)
	default:
		return model.ConfigErrorf("report", "unknown report %q", k)
	}

	for _, s := range Scenarios {
		rec, err := dm.PredictOne(s.Features)
		if err != nil {
			return fmt.Errorf("scenario %q: %w", s.Name, err)
		}
		fmt.Fprintf(&b, "## %s\n\n", s.Name)
		fmt.Fprintf(&b, "| feature | value |\n|---|---|\n")
		for _, name := range dm.FeatureNames {
			fmt.Fprintf(&b, "| %s | %g |\n", name, s.Features[name])
		}
		fmt.Fprintf(&b, "\n```\n")
		if err := WriteQuick(&b, rec, unit); err != nil {
			return err
		}
		fmt.Fprintf(&b, "```\n\n")
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func writeMetrics(b *strings.Builder, dm *predictor.DualModel, unit string) {
	f1 := fmt.Sprintf("%.3f", dm.Metrics.F1)
	if !dm.Metrics.F1Defined {
		f1 = "undefined"
	}
	fmt.Fprintf(b, "Regressor MAE: %.2f %s | Classifier F1: %s\n", dm.Metrics.MAE, unit, f1)
	if dm.Metrics.BaselineMAE != nil {
		fmt.Fprintf(b, "Linear baseline MAE: %.2f %s\n", *dm.Metrics.BaselineMAE, unit)
	}
	fmt.Fprintf(b, "\n")
}

// Generate writes the report of kind k into dir and returns its path.
func Generate(dir string, k Kind, dm *predictor.DualModel, unit string, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", model.PersistenceErrorf("report", "creating %s: %w", dir, err)
	}
	path := filepath.Join(dir, k.FileName())
	f, err := os.Create(path)
	if err != nil {
		return "", model.PersistenceErrorf("report", "creating %s: %w", path, err)
	}
	if err := Write(f, k, dm, unit, now); err != nil {
		f.Close()
		return "", err
	}
	return path, f.Close()
}
