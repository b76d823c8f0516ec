package predictor

import (
	"fmt"
	"math"

	"github.com/sajari/regression"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// baselineMAE fits ordinary least squares on the complete training rows and
// scores it on the complete test rows. It reports how much the boosted
// regressor gains over a linear fit of the same features.
func baselineMAE(trainX [][]float64, trainY []float64, testX [][]float64, testY []float64, names []string) (float64, error) {
	cols := independentColumns(trainX)
	if len(cols) == 0 {
		return 0, fmt.Errorf("no varying feature columns")
	}
	trainX = project(trainX, cols)
	testX = project(testX, cols)

	var r regression.Regression
	r.SetObserved("target_value")
	for i, c := range cols {
		r.SetVar(i, names[c])
	}

	fitted := 0
	for i, x := range trainX {
		if !complete(x) {
			continue
		}
		r.Train(regression.DataPoint(trainY[i], x))
		fitted++
	}
	if fitted <= len(cols)+1 {
		return 0, fmt.Errorf("%d complete training rows for %d features", fitted, len(cols))
	}
	if err := r.Run(); err != nil {
		return 0, err
	}

	var predicted, actual []float64
	for i, x := range testX {
		if !complete(x) {
			continue
		}
		p, err := r.Predict(x)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return 0, fmt.Errorf("non-finite baseline prediction")
		}
		predicted = append(predicted, p)
		actual = append(actual, testY[i])
	}
	if len(actual) == 0 {
		return 0, fmt.Errorf("no complete test rows")
	}
	return MeanAbsoluteError(predicted, actual), nil
}

func complete(x []float64) bool {
	for _, v := range x {
		if model.IsMissing(v) {
			return false
		}
	}
	return true
}

// independentColumns drops columns that are constant or exact copies of an
// earlier column over the complete rows, which would make the least-squares
// system singular.
func independentColumns(X [][]float64) []int {
	var rows [][]float64
	for _, x := range X {
		if complete(x) {
			rows = append(rows, x)
		}
	}
	if len(rows) == 0 {
		return nil
	}

	same := func(a, b int) bool {
		for _, x := range rows {
			if x[a] != x[b] {
				return false
			}
		}
		return true
	}

	var keep []int
	for c := range rows[0] {
		varies := false
		for _, x := range rows[1:] {
			if x[c] != rows[0][c] {
				varies = true
				break
			}
		}
		if !varies {
			continue
		}
		duplicate := false
		for _, k := range keep {
			if same(k, c) {
				duplicate = true
				break
			}
		}
		if !duplicate {
			keep = append(keep, c)
		}
	}
	return keep
}

func project(X [][]float64, cols []int) [][]float64 {
	out := make([][]float64, len(X))
	for i, x := range X {
		p := make([]float64, len(cols))
		for j, c := range cols {
			p[j] = x[c]
		}
		out[i] = p
	}
	return out
}
