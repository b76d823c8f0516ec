package predictor

import (
	"math"
	"math/rand/v2"
	"sort"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// Objective selects the loss a Booster minimizes.
type Objective string

const (
	SquaredError Objective = "reg:squarederror"
	Logistic     Objective = "binary:logistic"
)

// Booster is an additive ensemble of regression trees.
type Booster struct {
	Objective   Objective
	BaseScore   float64
	NumFeatures int
	Params      Params
	Trees       []Tree
}

// Fit grows params.NEstimators trees on X against y. For the logistic
// objective y must contain 0/1 labels of both classes.
func Fit(X [][]float64, y []float64, obj Objective, params Params) (*Booster, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if len(X) == 0 {
		return nil, model.TrainingErrorf("fit", "no training rows")
	}
	if len(X) != len(y) {
		return nil, model.TrainingErrorf("fit", "feature/label length mismatch: %d rows, %d labels", len(X), len(y))
	}
	nf := len(X[0])
	for i, x := range X {
		if len(x) != nf {
			return nil, model.TrainingErrorf("fit", "row %d has %d features, want %d", i, len(x), nf)
		}
	}

	b := &Booster{Objective: obj, NumFeatures: nf, Params: params}
	base, err := baseScore(y, obj)
	if err != nil {
		return nil, err
	}
	b.BaseScore = base

	rng := rand.New(rand.NewPCG(params.Seed, 0))
	n := len(X)
	raw := make([]float64, n)
	for i := range raw {
		raw[i] = base
	}
	grad := make([]float64, n)
	hess := make([]float64, n)
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}

	tb := &treeBuilder{X: X, grad: grad, hess: hess, params: params}
	b.Trees = make([]Tree, 0, params.NEstimators)
	for range params.NEstimators {
		gradients(obj, raw, y, grad, hess)
		tb.features = sampleColumns(nf, params.ColsampleByTree, rng)
		tree := tb.build(rows)
		for i, x := range X {
			raw[i] += tree.Predict(x)
		}
		b.Trees = append(b.Trees, tree)
	}
	return b, nil
}

func baseScore(y []float64, obj Objective) (float64, error) {
	var sum float64
	for _, v := range y {
		sum += v
	}
	mean := sum / float64(len(y))
	switch obj {
	case SquaredError:
		return mean, nil
	case Logistic:
		if mean <= 0 || mean >= 1 {
			return 0, model.TrainingErrorf("fit", "logistic objective needs both classes, positive rate %v", mean)
		}
		return math.Log(mean / (1 - mean)), nil
	default:
		return 0, model.ConfigErrorf("fit", "unknown objective %q", obj)
	}
}

func gradients(obj Objective, raw, y, grad, hess []float64) {
	switch obj {
	case Logistic:
		for i := range raw {
			p := sigmoid(raw[i])
			grad[i] = p - y[i]
			hess[i] = math.Max(p*(1-p), 1e-16)
		}
	default:
		for i := range raw {
			grad[i] = raw[i] - y[i]
			hess[i] = 1
		}
	}
}

// sampleColumns returns the feature indices used by one tree, in declared order.
func sampleColumns(nf int, fraction float64, rng *rand.Rand) []int {
	if fraction >= 1 {
		cols := make([]int, nf)
		for i := range cols {
			cols[i] = i
		}
		return cols
	}
	k := max(1, int(math.Round(fraction*float64(nf))))
	cols := rng.Perm(nf)[:k]
	sort.Ints(cols)
	return cols
}

func sigmoid(z float64) float64 {
	return 1 / (1 + math.Exp(-z))
}

// Margin returns the untransformed ensemble output for x.
func (b *Booster) Margin(x []float64) float64 {
	sum := b.BaseScore
	for i := range b.Trees {
		sum += b.Trees[i].Predict(x)
	}
	return sum
}

// Predict returns the regression estimate, or the positive-class probability
// for the logistic objective.
func (b *Booster) Predict(x []float64) float64 {
	m := b.Margin(x)
	if b.Objective == Logistic {
		return sigmoid(m)
	}
	return m
}
