package predictor

import (
	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// Params holds the hyperparameters of one boosted ensemble.
type Params struct {
	NEstimators     int     `json:"n_estimators"`
	MaxDepth        int     `json:"max_depth"`
	LearningRate    float64 `json:"learning_rate"`
	Lambda          float64 `json:"lambda"`
	Gamma           float64 `json:"gamma"`
	MinChildWeight  float64 `json:"min_child_weight"`
	ColsampleByTree float64 `json:"colsample_bytree"`
	Seed            uint64  `json:"seed"`
}

// TrainConfig holds the hyperparameters for both models of a dual model.
type TrainConfig struct {
	Regressor  Params
	Classifier Params
	// Threshold is the violation boundary the classifier labels were built with.
	Threshold float64
	// Baseline enables the linear baseline fitted alongside the regressor.
	Baseline bool
}

// DefaultParams returns the shared boosting defaults: learning rate 0.3,
// L2 penalty 1, no split penalty, all columns per tree, seed 42.
func DefaultParams() Params {
	return Params{
		NEstimators:     100,
		MaxDepth:        6,
		LearningRate:    0.3,
		Lambda:          1,
		Gamma:           0,
		MinChildWeight:  1,
		ColsampleByTree: 1,
		Seed:            42,
	}
}

// DefaultTrainConfig returns 100 trees of depth 6 for the regressor and
// 100 trees of depth 4 for the classifier.
func DefaultTrainConfig() TrainConfig {
	reg := DefaultParams()
	cls := DefaultParams()
	cls.MaxDepth = 4
	return TrainConfig{
		Regressor:  reg,
		Classifier: cls,
		Threshold:  model.DefaultThreshold,
		Baseline:   true,
	}
}

func (p Params) Validate() error {
	switch {
	case p.NEstimators <= 0:
		return model.ConfigErrorf("params", "n_estimators must be positive, got %d", p.NEstimators)
	case p.MaxDepth <= 0:
		return model.ConfigErrorf("params", "max_depth must be positive, got %d", p.MaxDepth)
	case p.LearningRate <= 0 || p.LearningRate > 1:
		return model.ConfigErrorf("params", "learning_rate must be in (0, 1], got %v", p.LearningRate)
	case p.Lambda < 0:
		return model.ConfigErrorf("params", "lambda must not be negative, got %v", p.Lambda)
	case p.Gamma < 0:
		return model.ConfigErrorf("params", "gamma must not be negative, got %v", p.Gamma)
	case p.MinChildWeight < 0:
		return model.ConfigErrorf("params", "min_child_weight must not be negative, got %v", p.MinChildWeight)
	case p.ColsampleByTree <= 0 || p.ColsampleByTree > 1:
		return model.ConfigErrorf("params", "colsample_bytree must be in (0, 1], got %v", p.ColsampleByTree)
	}
	return nil
}
