package features

import (
	"fmt"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// Config controls which engineered columns the synthesizer produces.
// Distances and spans are in rows, which is hours for an hourly series.
type Config struct {
	Lags      []int
	Windows   []int
	EMASpans  []int
	Threshold float64
}

// DefaultConfig returns hourly lags of 1h/1d/1w, matching rolling windows of
// 6h/1d/1w, EMA spans of 1d/1w, and the 15.0 guideline threshold.
func DefaultConfig() Config {
	return Config{
		Lags:      []int{1, 24, 168},
		Windows:   []int{6, 24, 168},
		EMASpans:  []int{24, 168},
		Threshold: model.DefaultThreshold,
	}
}

func (c Config) Validate() error {
	for _, l := range c.Lags {
		if l <= 0 {
			return model.ConfigErrorf("features", "lag must be positive, got %d", l)
		}
	}
	for _, w := range c.Windows {
		if w <= 0 {
			return model.ConfigErrorf("features", "rolling window must be positive, got %d", w)
		}
	}
	for _, s := range c.EMASpans {
		if s <= 0 {
			return model.ConfigErrorf("features", "EMA span must be positive, got %d", s)
		}
	}
	return nil
}

// Calendar feature names.
const (
	Hour       = "hour"
	DayOfWeek  = "day_of_week"
	DayOfMonth = "day_of_month"
	Month      = "month"
)

// Legacy column aliases kept for models trained on the simplified feature set.
const (
	AliasLag1          = "lag_1"
	AliasLag24         = "lag_24"
	AliasRolling24h    = "rolling_24h"
	AliasRollingMean24 = "rolling_mean_24"
)

// DefaultFeatureNames is the six-column contract the models are trained on
// unless configured otherwise. The quick-prediction entry point supplies
// exactly these names.
var DefaultFeatureNames = []string{
	Hour, DayOfWeek, AliasRolling24h, AliasLag1, AliasLag24, AliasRollingMean24,
}

func LagName(lag int) string { return fmt.Sprintf("lag_%dh", lag) }
func RollingMeanName(w int) string { return fmt.Sprintf("rolling_mean_%dh", w) }
func RollingStdName(w int) string { return fmt.Sprintf("rolling_std_%dh", w) }

// EMAName names multi-day spans in days (ema_7d) and everything else in
// hours (ema_24h).
func EMAName(span int) string {
	if span > 24 && span%24 == 0 {
		return fmt.Sprintf("ema_%dd", span/24)
	}
	return fmt.Sprintf("ema_%dh", span)
}

// FullFeatureNames lists every engineered column for cfg in production
// order, without the legacy aliases.
func FullFeatureNames(cfg Config) []string {
	names := []string{Hour, DayOfWeek, DayOfMonth, Month}
	for _, l := range cfg.Lags {
		names = append(names, LagName(l))
	}
	for _, w := range cfg.Windows {
		names = append(names, RollingMeanName(w), RollingStdName(w))
	}
	for _, s := range cfg.EMASpans {
		names = append(names, EMAName(s))
	}
	return names
}

// aliasSources maps each legacy alias to the engineered column it copies.
var aliasSources = []struct {
	alias  string
	source string
}{
	{AliasLag1, LagName(1)},
	{AliasLag24, LagName(24)},
	{AliasRolling24h, RollingMeanName(24)},
	{AliasRollingMean24, RollingMeanName(24)},
}
