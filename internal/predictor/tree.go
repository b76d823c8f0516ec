package predictor

import (
	"math"
	"sort"

	"github.com/DMequanint/frankfurt-air-quality-predictor/internal/model"
)

// Node is one node of a regression tree stored in a flat slice. Rows with
// x[Feature] < Threshold go Left; missing values follow DefaultLeft.
type Node struct {
	Leaf        bool    `json:"leaf,omitempty"`
	Value       float64 `json:"value,omitempty"`
	Feature     int     `json:"feature,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
	Left        int     `json:"left,omitempty"`
	Right       int     `json:"right,omitempty"`
	DefaultLeft bool    `json:"default_left,omitempty"`
}

// Tree is a regression tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// missingOnlyThreshold sends every present value left and every missing
// value right.
const missingOnlyThreshold = math.MaxFloat64

func (t *Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := &t.Nodes[i]
		if n.Leaf {
			return n.Value
		}
		v := x[n.Feature]
		switch {
		case model.IsMissing(v):
			if n.DefaultLeft {
				i = n.Left
			} else {
				i = n.Right
			}
		case v < n.Threshold:
			i = n.Left
		default:
			i = n.Right
		}
	}
}

// valid reports whether every child index points forward inside the slice
// and every split feature is below numFeatures.
func (t *Tree) valid(numFeatures int) bool {
	if len(t.Nodes) == 0 {
		return false
	}
	for i, n := range t.Nodes {
		if n.Leaf {
			continue
		}
		if n.Feature < 0 || n.Feature >= numFeatures {
			return false
		}
		if n.Left <= i || n.Right <= i || n.Left >= len(t.Nodes) || n.Right >= len(t.Nodes) {
			return false
		}
	}
	return true
}

// treeBuilder grows one tree from first and second order gradients using
// exact greedy split search.
type treeBuilder struct {
	X        [][]float64
	grad     []float64
	hess     []float64
	features []int
	params   Params
	nodes    []Node
}

type candidate struct {
	gain        float64
	feature     int
	threshold   float64
	defaultLeft bool
}

func (b *treeBuilder) build(rows []int) Tree {
	b.nodes = nil
	b.grow(rows, 0)
	return Tree{Nodes: b.nodes}
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, Node{})

	var G, H float64
	for _, r := range rows {
		G += b.grad[r]
		H += b.hess[r]
	}

	best, ok := candidate{}, false
	if depth < b.params.MaxDepth && len(rows) >= 2 {
		best, ok = b.bestSplit(rows, G, H)
	}
	if !ok {
		b.nodes[idx] = Node{Leaf: true, Value: -G / (H + b.params.Lambda) * b.params.LearningRate}
		return idx
	}

	var left, right []int
	for _, r := range rows {
		v := b.X[r][best.feature]
		goLeft := v < best.threshold
		if model.IsMissing(v) {
			goLeft = best.defaultLeft
		}
		if goLeft {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}

	l := b.grow(left, depth+1)
	r := b.grow(right, depth+1)
	b.nodes[idx] = Node{
		Feature:     best.feature,
		Threshold:   best.threshold,
		Left:        l,
		Right:       r,
		DefaultLeft: best.defaultLeft,
	}
	return idx
}

// bestSplit scans features in declared order and thresholds in ascending
// order; only a strictly better gain replaces the current best, so ties
// resolve to the earliest candidate.
func (b *treeBuilder) bestSplit(rows []int, G, H float64) (candidate, bool) {
	lambda := b.params.Lambda
	mcw := b.params.MinChildWeight
	parent := G * G / (H + lambda)
	score := func(gl, hl, gr, hr float64) (float64, bool) {
		if hl < mcw || hr < mcw {
			return 0, false
		}
		return 0.5*(gl*gl/(hl+lambda)+gr*gr/(hr+lambda)-parent) - b.params.Gamma, true
	}

	best := candidate{}
	found := false
	consider := func(gain float64, f int, threshold float64, defaultLeft bool) {
		if gain > best.gain {
			best = candidate{gain: gain, feature: f, threshold: threshold, defaultLeft: defaultLeft}
			found = true
		}
	}

	present := make([]int, 0, len(rows))
	for _, f := range b.features {
		present = present[:0]
		var gp, hp float64
		for _, r := range rows {
			if model.IsMissing(b.X[r][f]) {
				continue
			}
			present = append(present, r)
			gp += b.grad[r]
			hp += b.hess[r]
		}
		if len(present) == 0 {
			continue
		}
		var gm, hm float64
		hasMissing := len(present) < len(rows)
		if hasMissing {
			gm, hm = G-gp, H-hp
		}

		sort.SliceStable(present, func(i, j int) bool {
			return b.X[present[i]][f] < b.X[present[j]][f]
		})

		var gl, hl float64
		for k := 0; k < len(present)-1; k++ {
			r := present[k]
			gl += b.grad[r]
			hl += b.hess[r]
			lo, hi := b.X[r][f], b.X[present[k+1]][f]
			if !(lo < hi) {
				continue
			}
			threshold := lo + (hi-lo)/2
			if !(threshold > lo) {
				threshold = hi
			}

			gr, hr := gp-gl, hp-hl
			if gain, ok := score(gl, hl, gr+gm, hr+hm); ok {
				consider(gain, f, threshold, false)
			}
			if hasMissing {
				if gain, ok := score(gl+gm, hl+hm, gr, hr); ok {
					consider(gain, f, threshold, true)
				}
			}
		}

		if hasMissing {
			if gain, ok := score(gp, hp, gm, hm); ok {
				consider(gain, f, missingOnlyThreshold, false)
			}
		}
	}
	return best, found
}
