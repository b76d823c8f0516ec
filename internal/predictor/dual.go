package predictor

import (
	"time"

	"go.uber.org/zap"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// DualModel pairs the next-hour regressor and violation classifier. Both
// were trained on the same FeatureNames ordering.
type DualModel struct {
	Regressor    *Booster
	Classifier   *Booster
	FeatureNames []string
	Metrics      Metrics
	Threshold    float64
	RunID        string
	CreatedAt    time.Time
}

// Trainer fits dual models with a fixed configuration.
type Trainer struct {
	Config TrainConfig
	Logger *zap.Logger
}

func NewTrainer(cfg TrainConfig, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{Config: cfg, Logger: logger}
}

// Train fits both models on the named columns of train and scores them on
// test. A constant target in train is a TrainingError.
func (t *Trainer) Train(train, test model.FeatureMatrix, names []string) (*DualModel, error) {
	if len(names) == 0 {
		return nil, model.ConfigErrorf("train", "no feature names")
	}
	if dup := firstDuplicate(names); dup != "" {
		return nil, model.ConfigErrorf("train", "duplicate feature name %q", dup)
	}
	if train.Len() == 0 {
		return nil, model.TrainingErrorf("train", "training partition is empty")
	}
	if test.Len() == 0 {
		return nil, model.TrainingErrorf("train", "test partition is empty")
	}

	trainX, err := train.Select(names)
	if err != nil {
		return nil, err
	}
	testX, err := test.Select(names)
	if err != nil {
		return nil, err
	}
	trainY, trainLabels := train.Targets()
	testY, testLabels := test.Targets()

	if singleClass(trainLabels) {
		return nil, model.TrainingErrorf("train", "training set has single class for violation target")
	}
	if constant(trainY) {
		return nil, model.TrainingErrorf("train", "training set has constant regression target %v", trainY[0])
	}

	log := t.Logger.With(zap.Int("train_rows", train.Len()), zap.Int("test_rows", test.Len()), zap.Strings("features", names))
	log.Info("training regressor", zap.Int("trees", t.Config.Regressor.NEstimators), zap.Int("max_depth", t.Config.Regressor.MaxDepth))
	reg, err := Fit(trainX, trainY, SquaredError, t.Config.Regressor)
	if err != nil {
		return nil, err
	}

	log.Info("training classifier", zap.Int("trees", t.Config.Classifier.NEstimators), zap.Int("max_depth", t.Config.Classifier.MaxDepth))
	cls, err := Fit(trainX, boolsToFloats(trainLabels), Logistic, t.Config.Classifier)
	if err != nil {
		return nil, err
	}

	dm := &DualModel{
		Regressor:    reg,
		Classifier:   cls,
		FeatureNames: append([]string(nil), names...),
		Threshold:    t.Config.Threshold,
		CreatedAt:    time.Now().UTC(),
	}

	predicted := make([]float64, len(testX))
	labels := make([]bool, len(testX))
	for i, x := range testX {
		predicted[i] = reg.Predict(x)
		labels[i] = cls.Predict(x) > 0.5
	}
	f1, ok := F1Score(labels, testLabels)
	if !ok {
		log.Warn("F1 undefined: test partition has no positive labels or predictions")
	}
	dm.Metrics = Metrics{
		MAE:       MeanAbsoluteError(predicted, testY),
		F1:        f1,
		F1Defined: ok,
		TrainRows: train.Len(),
		TestRows:  test.Len(),
	}

	if t.Config.Baseline {
		if mae, err := baselineMAE(trainX, trainY, testX, testY, names); err != nil {
			log.Warn("linear baseline skipped", zap.Error(err))
		} else {
			dm.Metrics.BaselineMAE = &mae
		}
	}

	log.Info("training complete", zap.Float64("mae", dm.Metrics.MAE), zap.Float64("f1", dm.Metrics.F1))
	return dm, nil
}

// Predict scores every row with both models. Every row must carry all of
// FeatureNames as keys; a missing value inside a present key is allowed.
func (m *DualModel) Predict(rows []map[string]float64) ([]model.PredictionRecord, error) {
	for i, row := range rows {
		for _, name := range m.FeatureNames {
			if _, ok := row[name]; !ok {
				return nil, model.SchemaErrorf("predict", "row %d: missing required feature %q", i, name)
			}
		}
	}

	records := make([]model.PredictionRecord, len(rows))
	x := make([]float64, len(m.FeatureNames))
	for i, row := range rows {
		for j, name := range m.FeatureNames {
			x[j] = row[name]
		}
		prob := m.Classifier.Predict(x)
		violation := prob > 0.5

		input := make(map[string]float64, len(row))
		for k, v := range row {
			input[k] = v
		}
		records[i] = model.PredictionRecord{
			Features:             input,
			PredictedValue:       m.Regressor.Predict(x),
			PredictedViolation:   violation,
			ViolationProbability: prob,
			Alert:                model.AlertFor(violation),
		}
	}
	return records, nil
}

// PredictOne scores a single row.
func (m *DualModel) PredictOne(row map[string]float64) (model.PredictionRecord, error) {
	records, err := m.Predict([]map[string]float64{row})
	if err != nil {
		return model.PredictionRecord{}, err
	}
	return records[0], nil
}

func singleClass(labels []bool) bool {
	for _, l := range labels[1:] {
		if l != labels[0] {
			return false
		}
	}
	return true
}

func constant(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}

func boolsToFloats(labels []bool) []float64 {
	out := make([]float64, len(labels))
	for i, l := range labels {
		if l {
			out[i] = 1
		}
	}
	return out
}

func firstDuplicate(names []string) string {
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			return n
		}
		seen[n] = true
	}
	return ""
}
