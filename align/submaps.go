package align

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/kwv/submesh/objmap"
)

// PairOptions controls AlignSubmaps.
type PairOptions struct {
	// Workers bounds the number of pairs registered concurrently.
	// Zero uses GOMAXPROCS.
	Workers int `yaml:"workers" json:"workers"`
	// SkipEmpty skips pairs where either submap has no segments.
	SkipEmpty bool `yaml:"skip_empty" json:"skip_empty"`
}

// PairResult is the outcome of registering submap A against submap B.
type PairResult struct {
	A, B         int
	Associations []Association
	// Transform takes B's frame into A's. Nil with fewer than three associations.
	Transform       *objmap.Transform
	GravityRejected bool
	Err             error
}

// AlignmentResults holds the registration of every submap pair.
type AlignmentResults struct {
	NumA, NumB int
	Pairs      []PairResult
}

// Pair returns the result for submaps (i, j).
func (r *AlignmentResults) Pair(i, j int) *PairResult {
	return &r.Pairs[i*r.NumB+j]
}

// Counts returns the number of associations of every pair.
func (r *AlignmentResults) Counts() [][]int {
	out := make([][]int, r.NumA)
	for i := range out {
		out[i] = make([]int, r.NumB)
		for j := range out[i] {
			out[i][j] = len(r.Pair(i, j).Associations)
		}
	}
	return out
}

// Best returns the pair with the most associations, first in row-major
// order on ties, or false when no pair has any.
func (r *AlignmentResults) Best() (*PairResult, bool) {
	var best *PairResult
	for k := range r.Pairs {
		p := &r.Pairs[k]
		if len(p.Associations) == 0 {
			continue
		}
		if best == nil || len(p.Associations) > len(best.Associations) {
			best = p
		}
	}
	return best, best != nil
}

// Rejected returns the number of pairs rejected by the gravity check.
func (r *AlignmentResults) Rejected() int {
	n := 0
	for _, p := range r.Pairs {
		if p.GravityRejected {
			n++
		}
	}
	return n
}

// AlignSubmaps registers every submap of a against every submap of b.
// Pairs are independent and run concurrently. Gravity rejections are
// recorded in the pair result; any other error aborts the run.
func AlignSubmaps(ctx context.Context, a, b []*objmap.Submap, reg *Registration, opts PairOptions) (*AlignmentResults, error) {
	res := &AlignmentResults{NumA: len(a), NumB: len(b), Pairs: make([]PairResult, len(a)*len(b))}

	// fill shape caches up front; pairs share submaps across goroutines
	for _, sms := range [][]*objmap.Submap{a, b} {
		for _, sm := range sms {
			for _, seg := range sm.Segments {
				seg.Shape()
			}
		}
	}

	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range a {
		for j := range b {
			slot := res.Pair(i, j)
			slot.A, slot.B = i, j
			if opts.SkipEmpty && (a[i].Len() == 0 || b[j].Len() == 0) {
				continue
			}
			sa, sb := a[i], b[j]
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				return registerPair(reg, sa, sb, slot)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	logger.Infof("[ALIGN] %dx%d submap pairs registered, %d gravity rejections", len(a), len(b), res.Rejected())
	return res, nil
}

func registerPair(reg *Registration, a, b *objmap.Submap, out *PairResult) error {
	sel, err := reg.Register(a.Segments, b.Segments)
	var gerr *GravityConstraintError
	if errors.As(err, &gerr) {
		out.GravityRejected = true
		out.Err = err
		logger.Debugf("[ALIGN] pair (%d, %d) rejected: %v", a.ID, b.ID, err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("submaps (%d, %d): %w", a.ID, b.ID, err)
	}
	out.Associations = sel
	if len(sel) >= 3 {
		T, err := AlignTransform(a.Segments, b.Segments, sel, reg.Params().Dim)
		if err != nil {
			return fmt.Errorf("submaps (%d, %d): %w", a.ID, b.ID, err)
		}
		out.Transform = &T
	}
	return nil
}
