package align

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// ErrFeatureIndex is returned when a candidate refers to a missing feature.
var ErrFeatureIndex = errors.New("candidate refers to a missing feature")

// CompatibilityGraph is the weighted pairwise-consistency graph over a
// candidate set. W is symmetric with a zero diagonal.
type CompatibilityGraph struct {
	Candidates []Association
	W          *mat.SymDense
}

// Edge is a weighted graph edge between candidates I < J.
type Edge struct {
	I, J   int
	Weight float64
}

// Len returns the number of candidates.
func (g *CompatibilityGraph) Len() int { return len(g.Candidates) }

// Weight returns the edge weight between candidates i and j.
func (g *CompatibilityGraph) Weight(i, j int) float64 {
	if i == j {
		return 0
	}
	return g.W.At(i, j)
}

// Consistent reports whether candidates i and j may be selected together.
// A candidate is always consistent with itself.
func (g *CompatibilityGraph) Consistent(i, j int) bool {
	return i == j || g.W.At(i, j) > 0
}

// Edges lists all positive-weight edges, I < J.
func (g *CompatibilityGraph) Edges() []Edge {
	var out []Edge
	n := g.Len()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if w := g.W.At(i, j); w > 0 {
				out = append(out, Edge{I: i, J: j, Weight: w})
			}
		}
	}
	return out
}

// ScorePairwiseConsistency builds the compatibility graph for cands.
// Candidates sharing an object on either side are never compatible.
func ScorePairwiseConsistency(featsA, featsB [][]float64, cands []Association, inv EuclideanDistance) (*CompatibilityGraph, error) {
	dim := -1
	for _, f := range append(append([][]float64(nil), featsA...), featsB...) {
		if dim == -1 {
			dim = len(f)
		} else if len(f) != dim {
			return nil, fmt.Errorf("features have mixed dimensions %d and %d", dim, len(f))
		}
	}
	for k, c := range cands {
		if c.A < 0 || c.A >= len(featsA) || c.B < 0 || c.B >= len(featsB) {
			return nil, fmt.Errorf("%w: candidate %d is (%d, %d) with %d x %d features",
				ErrFeatureIndex, k, c.A, c.B, len(featsA), len(featsB))
		}
	}

	n := len(cands)
	g := &CompatibilityGraph{Candidates: append([]Association(nil), cands...)}
	if n == 0 {
		g.W = &mat.SymDense{}
		return g, nil
	}
	g.W = mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		ci := cands[i]
		for j := i + 1; j < n; j++ {
			cj := cands[j]
			if ci.A == cj.A || ci.B == cj.B {
				continue
			}
			w := inv.Weight(featsA[ci.A], featsA[cj.A], featsB[ci.B], featsB[cj.B])
			if w > 0 {
				g.W.SetSym(i, j, w)
			}
		}
	}
	return g, nil
}
