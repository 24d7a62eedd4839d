package align

import (
	"errors"
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/kwv/submesh/objmap"
)

// ErrDegenerate is returned when a rigid transform cannot be estimated.
var ErrDegenerate = errors.New("cannot estimate rigid transform")

// EstimateRigid returns the least-squares rigid transform T with dst ≈ T·src
// (Kabsch). Points are 2D or 3D; a 2D result acts on the xy plane.
// A single correspondence yields a pure translation.
func EstimateRigid(src, dst [][]float64) (objmap.Transform, error) {
	if len(src) != len(dst) {
		return objmap.Transform{}, fmt.Errorf("%w: %d source and %d target points", ErrDegenerate, len(src), len(dst))
	}
	if len(src) == 0 {
		return objmap.Transform{}, fmt.Errorf("%w: no points", ErrDegenerate)
	}
	dim := len(src[0])
	if dim != 2 && dim != 3 {
		return objmap.Transform{}, fmt.Errorf("%w: dimension %d", ErrDegenerate, dim)
	}
	for i := range src {
		if len(src[i]) != dim || len(dst[i]) != dim {
			return objmap.Transform{}, fmt.Errorf("%w: point %d has mixed dimensions", ErrDegenerate, i)
		}
	}

	n := float64(len(src))
	cs := make([]float64, dim)
	cd := make([]float64, dim)
	for i := range src {
		for k := 0; k < dim; k++ {
			cs[k] += src[i][k] / n
			cd[k] += dst[i][k] / n
		}
	}

	rot := mat.NewDense(dim, dim, nil)
	for k := 0; k < dim; k++ {
		rot.Set(k, k, 1)
	}
	if len(src) > 1 {
		// H = sum (s - cs)(d - cd)^T
		h := mat.NewDense(dim, dim, nil)
		for i := range src {
			for r := 0; r < dim; r++ {
				for c := 0; c < dim; c++ {
					h.Set(r, c, h.At(r, c)+(src[i][r]-cs[r])*(dst[i][c]-cd[c]))
				}
			}
		}
		var svd mat.SVD
		if !svd.Factorize(h, mat.SVDFull) {
			return objmap.Transform{}, fmt.Errorf("%w: SVD did not converge", ErrDegenerate)
		}
		var u, v mat.Dense
		svd.UTo(&u)
		svd.VTo(&v)

		var vut mat.Dense
		vut.Mul(&v, u.T())
		sign := 1.0
		if mat.Det(&vut) < 0 {
			sign = -1
		}
		diag := mat.NewDiagDense(dim, nil)
		for k := 0; k < dim-1; k++ {
			diag.SetDiag(k, 1)
		}
		diag.SetDiag(dim-1, sign)

		var vd mat.Dense
		vd.Mul(&v, diag)
		rot.Mul(&vd, u.T())
	}

	var r [3][3]float64
	r[2][2] = 1
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			r[i][j] = rot.At(i, j)
		}
	}
	var t [3]float64
	for i := 0; i < dim; i++ {
		t[i] = cd[i]
		for j := 0; j < dim; j++ {
			t[i] -= r[i][j] * cs[j]
		}
	}
	return objmap.NewTransform(r, r3.Vector{X: t[0], Y: t[1], Z: t[2]}), nil
}

// AlignTransform estimates the transform taking b's frame into a's from the
// centers of the associated objects.
func AlignTransform(a, b []*objmap.Segment, assoc []Association, dim int) (objmap.Transform, error) {
	fa := Features(a, dim)
	fb := Features(b, dim)
	src := make([][]float64, len(assoc))
	dst := make([][]float64, len(assoc))
	for k, as := range assoc {
		src[k] = fb[as.B]
		dst[k] = fa[as.A]
	}
	return EstimateRigid(src, dst)
}
