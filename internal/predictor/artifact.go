package predictor

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// Artifact file names inside a models directory.
const (
	RegressorFile  = "pm25_regressor.json"
	ClassifierFile = "violation_classifier.json"
)

// Artifact kinds.
const (
	KindRegressor  = "regressor"
	KindClassifier = "classifier"
)

// Artifact is the JSON form of one half of a dual model. Each half carries
// its own copy of the feature-name ordering.
type Artifact struct {
	Kind         string    `json:"kind"`
	Objective    Objective `json:"objective"`
	FeatureNames []string  `json:"feature_names"`
	Params       Params    `json:"params"`
	BaseScore    float64   `json:"base_score"`
	Trees        []Tree    `json:"trees"`
	Threshold    float64   `json:"threshold"`
	Metrics      Metrics   `json:"metrics"`
	RunID        string    `json:"run_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

func (m *DualModel) artifact(kind string, b *Booster) Artifact {
	return Artifact{
		Kind:         kind,
		Objective:    b.Objective,
		FeatureNames: m.FeatureNames,
		Params:       b.Params,
		BaseScore:    b.BaseScore,
		Trees:        b.Trees,
		Threshold:    m.Threshold,
		Metrics:      m.Metrics,
		RunID:        m.RunID,
		CreatedAt:    m.CreatedAt,
	}
}

// Save writes both artifacts into dir. Each file is written to a temporary
// name and renamed into place.
func (m *DualModel) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return model.PersistenceErrorf("save", "creating %s: %w", dir, err)
	}
	if err := writeArtifact(filepath.Join(dir, RegressorFile), m.artifact(KindRegressor, m.Regressor)); err != nil {
		return err
	}
	return writeArtifact(filepath.Join(dir, ClassifierFile), m.artifact(KindClassifier, m.Classifier))
}

func writeArtifact(path string, a Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return model.PersistenceErrorf("save", "encoding %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return model.PersistenceErrorf("save", "creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return model.PersistenceErrorf("save", "writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return model.PersistenceErrorf("save", "closing %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return model.PersistenceErrorf("save", "renaming to %s: %w", path, err)
	}
	return nil
}

// Load reads both artifacts from dir. It fails with a PersistenceError when a
// file is unreadable, has the wrong kind, or the two feature-name orderings
// differ.
func Load(dir string) (*DualModel, error) {
	reg, err := readArtifact(filepath.Join(dir, RegressorFile), KindRegressor)
	if err != nil {
		return nil, err
	}
	cls, err := readArtifact(filepath.Join(dir, ClassifierFile), KindClassifier)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(reg.FeatureNames, cls.FeatureNames) {
		return nil, model.PersistenceErrorf("load",
			"feature-name mismatch between regressor %v and classifier %v", reg.FeatureNames, cls.FeatureNames)
	}

	return &DualModel{
		Regressor:    reg.booster(),
		Classifier:   cls.booster(),
		FeatureNames: reg.FeatureNames,
		Metrics:      reg.Metrics,
		Threshold:    reg.Threshold,
		RunID:        reg.RunID,
		CreatedAt:    reg.CreatedAt,
	}, nil
}

// LoadExpecting loads the models in dir and also requires their feature
// names to equal expected, in order.
func LoadExpecting(dir string, expected []string) (*DualModel, error) {
	m, err := Load(dir)
	if err != nil {
		return nil, err
	}
	if !slices.Equal(m.FeatureNames, expected) {
		return nil, model.PersistenceErrorf("load",
			"feature-name mismatch: models were trained on %v, expected %v", m.FeatureNames, expected)
	}
	return m, nil
}

func readArtifact(path, kind string) (Artifact, error) {
	var a Artifact
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return a, model.PersistenceErrorf("load", "%s not found", path)
		}
		return a, model.PersistenceErrorf("load", "reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &a); err != nil {
		return a, model.PersistenceErrorf("load", "decoding %s: %w", path, err)
	}
	if a.Kind != kind {
		return a, model.PersistenceErrorf("load", "%s: kind %q, want %q", path, a.Kind, kind)
	}
	if len(a.FeatureNames) == 0 {
		return a, model.PersistenceErrorf("load", "%s: no feature names recorded", path)
	}
	wantObjective := SquaredError
	if kind == KindClassifier {
		wantObjective = Logistic
	}
	if a.Objective != wantObjective {
		return a, model.PersistenceErrorf("load", "%s: objective %q, want %q", path, a.Objective, wantObjective)
	}
	for i := range a.Trees {
		if !a.Trees[i].valid(len(a.FeatureNames)) {
			return a, model.PersistenceErrorf("load", "%s: tree %d is malformed", path, i)
		}
	}
	return a, nil
}

func (a Artifact) booster() *Booster {
	return &Booster{
		Objective:   a.Objective,
		BaseScore:   a.BaseScore,
		NumFeatures: len(a.FeatureNames),
		Params:      a.Params,
		Trees:       a.Trees,
	}
}
