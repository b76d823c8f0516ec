// Package split partitions a feature matrix chronologically.
package split

import (
	"math"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

const DefaultTrainFraction = 0.8

// Chronological puts the first floor(fraction*N) rows into train and the rest
// into test. Rows are never shuffled, so the test set is strictly later in
// time than the training set.
func Chronological(m model.FeatureMatrix, fraction float64) (train, test model.FeatureMatrix, err error) {
	if math.IsNaN(fraction) || fraction <= 0 || fraction >= 1 {
		return train, test, model.ConfigErrorf("split", "train fraction must be in (0, 1), got %v", fraction)
	}

	n := m.Len()
	cut := int(math.Floor(fraction * float64(n)))
	if cut == 0 || cut == n {
		return train, test, model.ConfigErrorf("split",
			"train fraction %v leaves an empty partition for %d rows (train=%d, test=%d)", fraction, n, cut, n-cut)
	}

	return m.Slice(0, cut), m.Slice(cut, n), nil
}
