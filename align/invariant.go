package align

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// EuclideanDistance scores a pair of candidates by how well the distance
// between their A objects matches the distance between their B objects.
type EuclideanDistance struct {
	// Sigma is the noise bound of the Gaussian weighting.
	Sigma float64 `yaml:"sigma" json:"sigma"`
	// Epsilon is the largest distance disagreement still counted as consistent.
	Epsilon float64 `yaml:"epsilon" json:"epsilon"`
	// MinDist rejects pairs whose objects are nearly coincident on either side.
	MinDist float64 `yaml:"mindist" json:"mindist"`
}

// Weight returns the consistency of (a1, b1) with (a2, b2) in [0, 1].
func (e EuclideanDistance) Weight(a1, a2, b1, b2 []float64) float64 {
	d1 := floats.Distance(a1, a2, 2)
	d2 := floats.Distance(b1, b2, 2)
	if d1 < e.MinDist || d2 < e.MinDist {
		return 0
	}
	c := math.Abs(d1 - d2)
	if c >= e.Epsilon {
		return 0
	}
	return math.Exp(-0.5 * c * c / (e.Sigma * e.Sigma))
}
