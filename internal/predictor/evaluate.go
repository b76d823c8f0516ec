package predictor

import (
	"gonum.org/v1/gonum/floats"
)

// Metrics are the held-out scores attached to a trained dual model.
type Metrics struct {
	MAE float64 `json:"mae"`
	F1  float64 `json:"f1"`
	// F1Defined is false when the test partition has no positive labels and
	// no positive predictions; F1 is then reported as 0.
	F1Defined   bool     `json:"f1_defined"`
	BaselineMAE *float64 `json:"baseline_mae,omitempty"`
	TrainRows   int      `json:"train_rows"`
	TestRows    int      `json:"test_rows"`
}

// MeanAbsoluteError returns mean(|predicted - actual|).
func MeanAbsoluteError(predicted, actual []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	return floats.Distance(predicted, actual, 1) / float64(len(actual))
}

// F1Score returns the harmonic mean of precision and recall for the positive
// class. ok is false when there are no true or predicted positives at all.
func F1Score(predicted, actual []bool) (score float64, ok bool) {
	var tp, fp, fn float64
	for i := range actual {
		switch {
		case predicted[i] && actual[i]:
			tp++
		case predicted[i]:
			fp++
		case actual[i]:
			fn++
		}
	}
	if tp+fp+fn == 0 {
		return 0, false
	}
	return 2 * tp / (2*tp + fp + fn), true
}
