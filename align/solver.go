package align

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Solver selects a maximal mutually consistent subset of candidates.
// Implementations must be deterministic for a fixed graph and configuration,
// and must return an empty selection, not an error, for an empty graph.
type Solver interface {
	Score(featsA, featsB [][]float64, cands []Association, inv EuclideanDistance) (*CompatibilityGraph, error)
	Solve(g *CompatibilityGraph) ([]Association, error)
}

// RelaxationConfig tunes RelaxationSolver.
type RelaxationConfig struct {
	MaxIterations int     `yaml:"max_iterations" json:"max_iterations"`
	Tolerance     float64 `yaml:"tolerance" json:"tolerance"`
	StepSize      float64 `yaml:"step_size" json:"step_size"`
	PenaltyGrowth float64 `yaml:"penalty_growth" json:"penalty_growth"`
	MaxPenalty    float64 `yaml:"max_penalty" json:"max_penalty"`
}

// DefaultRelaxationConfig returns the default solver tuning.
func DefaultRelaxationConfig() RelaxationConfig {
	return RelaxationConfig{
		MaxIterations: 200,
		Tolerance:     1e-6,
		StepSize:      0.5,
		PenaltyGrowth: 2,
		MaxPenalty:    1e4,
	}
}

// Validate checks the configuration.
func (c RelaxationConfig) Validate() error {
	switch {
	case c.MaxIterations <= 0:
		return fmt.Errorf("max_iterations must be positive, got %d", c.MaxIterations)
	case c.Tolerance <= 0:
		return fmt.Errorf("tolerance must be positive, got %v", c.Tolerance)
	case c.StepSize <= 0:
		return fmt.Errorf("step_size must be positive, got %v", c.StepSize)
	case c.PenaltyGrowth <= 1:
		return fmt.Errorf("penalty_growth must be greater than 1, got %v", c.PenaltyGrowth)
	case c.MaxPenalty <= 0:
		return fmt.Errorf("max_penalty must be positive, got %v", c.MaxPenalty)
	}
	return nil
}

// RelaxationSolver relaxes the densest consistent subgraph problem to a
// unit-norm, non-negative vector u maximizing u'(W+I)u, then penalizes
// inconsistent pairs with a growing weight d until the support of u is
// consistent. The selection is extracted greedily in decreasing u.
type RelaxationSolver struct {
	cfg RelaxationConfig
}

// NewRelaxationSolver creates a solver.
func NewRelaxationSolver(cfg RelaxationConfig) (*RelaxationSolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("relaxation solver: %w", err)
	}
	return &RelaxationSolver{cfg: cfg}, nil
}

// Score implements Solver.
func (s *RelaxationSolver) Score(featsA, featsB [][]float64, cands []Association, inv EuclideanDistance) (*CompatibilityGraph, error) {
	return ScorePairwiseConsistency(featsA, featsB, cands, inv)
}

// Solve implements Solver.
func (s *RelaxationSolver) Solve(g *CompatibilityGraph) ([]Association, error) {
	n := g.Len()
	switch n {
	case 0:
		return []Association{}, nil
	case 1:
		return []Association{g.Candidates[0]}, nil
	}

	// consistency mask, ones on the diagonal
	c := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if g.Consistent(i, j) {
				c.SetSym(i, j, 1)
			}
		}
	}

	u := s.leadingEigenvector(g.W)
	iters := 0
	d := 0.0
	for {
		iters += s.ascend(g.W, c, u, d)
		if s.supportConsistent(g, u) || d >= s.cfg.MaxPenalty {
			break
		}
		if d == 0 {
			d = 1
		} else {
			d *= s.cfg.PenaltyGrowth
		}
	}

	sel := s.extract(g, u)
	logger.Debugf("[SOLVER] %d candidates, %d edges: selected %d (penalty %.3g, %d iterations)",
		n, len(g.Edges()), len(sel), d, iters)
	return sel, nil
}

// leadingEigenvector runs power iteration on W+I from the uniform vector.
// W+I is non-negative so the result is non-negative as well.
func (s *RelaxationSolver) leadingEigenvector(w *mat.SymDense) []float64 {
	n, _ := w.Dims()
	u := make([]float64, n)
	for i := range u {
		u[i] = 1
	}
	floats.Scale(1/floats.Norm(u, 2), u)

	next := make([]float64, n)
	nv := mat.NewVecDense(n, next)
	for it := 0; it < s.cfg.MaxIterations; it++ {
		nv.MulVec(w, mat.NewVecDense(n, u))
		floats.Add(next, u)
		floats.Scale(1/floats.Norm(next, 2), next)
		diff := floats.Distance(next, u, 2)
		copy(u, next)
		if diff < s.cfg.Tolerance {
			break
		}
	}
	return u
}

// ascend performs projected gradient ascent on u'M_d u with
// M_d = W + I - d(1 - C), keeping u non-negative and of unit norm.
// It returns the number of iterations taken.
func (s *RelaxationSolver) ascend(w, c *mat.SymDense, u []float64, d float64) int {
	n := len(u)
	wu := mat.NewVecDense(n, nil)
	cu := mat.NewVecDense(n, nil)
	grad := make([]float64, n)
	next := make([]float64, n)

	for it := 1; it <= s.cfg.MaxIterations; it++ {
		uv := mat.NewVecDense(n, u)
		wu.MulVec(w, uv)
		cu.MulVec(c, uv)
		sum := floats.Sum(u)
		for i := range grad {
			grad[i] = wu.AtVec(i) + u[i] - d*(sum-cu.AtVec(i))
		}

		for i := range next {
			v := u[i] + s.cfg.StepSize*grad[i]
			if v < 0 {
				v = 0
			}
			next[i] = v
		}
		norm := floats.Norm(next, 2)
		if norm == 0 {
			return it
		}
		floats.Scale(1/norm, next)
		diff := floats.Distance(next, u, 2)
		copy(u, next)
		if diff < s.cfg.Tolerance {
			return it
		}
	}
	return s.cfg.MaxIterations
}

func (s *RelaxationSolver) support(u []float64) []int {
	var out []int
	for i, v := range u {
		if v > s.cfg.Tolerance {
			out = append(out, i)
		}
	}
	return out
}

func (s *RelaxationSolver) supportConsistent(g *CompatibilityGraph, u []float64) bool {
	sup := s.support(u)
	for a := 0; a < len(sup); a++ {
		for b := a + 1; b < len(sup); b++ {
			if !g.Consistent(sup[a], sup[b]) {
				return false
			}
		}
	}
	return true
}

// extract greedily keeps supported candidates in decreasing u order,
// ties broken by index, skipping any inconsistent with those kept.
func (s *RelaxationSolver) extract(g *CompatibilityGraph, u []float64) []Association {
	order := s.support(u)
	if len(order) == 0 {
		order = []int{floats.MaxIdx(u)}
	}
	sort.SliceStable(order, func(a, b int) bool { return u[order[a]] > u[order[b]] })

	var kept []int
	for _, i := range order {
		ok := true
		for _, k := range kept {
			if !g.Consistent(i, k) {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, i)
		}
	}
	sort.Ints(kept)
	out := make([]Association, len(kept))
	for k, i := range kept {
		out[k] = g.Candidates[i]
	}
	return out
}
