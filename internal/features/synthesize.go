package features

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// Synthesize turns a sorted observation series into a feature matrix with
// calendar, lag, rolling and EMA columns plus the next-hour targets.
//
// Every value at row i depends only on rows <= i; the targets come from row
// i+1, so the last row is dropped. Early rows keep their missing lag and
// rolling values. The input slice is not modified.
func Synthesize(obs []model.Observation, cfg Config) (model.FeatureMatrix, error) {
	if err := cfg.Validate(); err != nil {
		return model.FeatureMatrix{}, err
	}
	if len(obs) < 2 {
		return model.FeatureMatrix{}, model.DataErrorf("synthesize",
			"need at least 2 observations to form a target, got %d", len(obs))
	}

	sorted := make([]model.Observation, len(obs))
	copy(sorted, obs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	values := make([]float64, len(sorted))
	for i, o := range sorted {
		values[i] = o.Value
	}

	n := len(sorted)
	cols := make(map[string][]float64)

	for _, lag := range cfg.Lags {
		cols[LagName(lag)] = laggedColumn(values, lag)
	}
	for _, w := range cfg.Windows {
		mean, std := rollingColumns(values, w)
		cols[RollingMeanName(w)] = mean
		cols[RollingStdName(w)] = std
	}
	for _, span := range cfg.EMASpans {
		cols[EMAName(span)] = emaColumn(values, span)
	}

	columns := FullFeatureNames(cfg)
	for _, a := range aliasSources {
		if src, ok := cols[a.source]; ok {
			cols[a.alias] = src
			columns = append(columns, a.alias)
		}
	}

	rows := make([]model.FeatureRow, 0, n-1)
	for i := 0; i < n-1; i++ {
		ts := sorted[i].Timestamp
		f := make(map[string]float64, len(columns))
		f[Hour] = float64(ts.Hour())
		f[DayOfWeek] = float64(mondayWeekday(ts.Weekday()))
		f[DayOfMonth] = float64(ts.Day())
		f[Month] = float64(ts.Month())
		for name, col := range cols {
			f[name] = col[i]
		}

		target := values[i+1]
		rows = append(rows, model.FeatureRow{
			Timestamp:       ts,
			Value:           values[i],
			Features:        f,
			TargetValue:     target,
			TargetViolation: target > cfg.Threshold,
		})
	}

	return model.FeatureMatrix{Columns: columns, Rows: rows}, nil
}

// laggedColumn shifts values forward by lag rows; the first lag rows are missing.
func laggedColumn(values []float64, lag int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i-lag < 0 {
			out[i] = model.Missing
			continue
		}
		out[i] = values[i-lag]
	}
	return out
}

// rollingColumns computes the trailing mean and sample standard deviation
// over up to w rows ending at each row. The window expands from one point;
// the deviation of a single point is missing.
func rollingColumns(values []float64, w int) (mean, std []float64) {
	mean = make([]float64, len(values))
	std = make([]float64, len(values))
	for i := range values {
		window := values[max(0, i-w+1) : i+1]
		mean[i] = stat.Mean(window, nil)
		if len(window) < 2 {
			std[i] = model.Missing
			continue
		}
		std[i] = stat.StdDev(window, nil)
	}
	return mean, std
}

// emaColumn is the bias-adjusted exponential moving average with
// alpha = 2/(span+1): each row is the weighted mean of all rows so far with
// weights (1-alpha)^age.
func emaColumn(values []float64, span int) []float64 {
	alpha := 2.0 / (float64(span) + 1)
	decay := 1 - alpha
	out := make([]float64, len(values))
	var num, den float64
	for i, v := range values {
		num = v + decay*num
		den = 1 + decay*den
		out[i] = num / den
	}
	return out
}
