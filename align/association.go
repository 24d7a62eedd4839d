package align

import (
	"math"

	"github.com/kwv/submesh/objmap"
)

// Association pairs object A of one map with object B of another.
type Association struct {
	A int `json:"a"`
	B int `json:"b"`
}

// AllToAll returns every (i, j) pair with i < nA and j < nB, in row-major order.
func AllToAll(nA, nB int) []Association {
	out := make([]Association, 0, nA*nB)
	for i := 0; i < nA; i++ {
		for j := 0; j < nB; j++ {
			out = append(out, Association{A: i, B: j})
		}
	}
	return out
}

// VolumeRatio returns min(va, vb) / max(va, vb). Two zero volumes are
// treated as identical.
func VolumeRatio(va, vb float64) float64 {
	hi := math.Max(va, vb)
	if hi <= 0 {
		return 1
	}
	return math.Min(va, vb) / hi
}

// PruneByVolume drops candidates whose volume ratio is below volumeEpsilon
// and candidates referring to objects without geometry. Order is preserved.
func PruneByVolume(a, b []*objmap.Segment, cands []Association, volumeEpsilon float64) []Association {
	out := make([]Association, 0, len(cands))
	for _, c := range cands {
		sa, sb := a[c.A], b[c.B]
		if !sa.HasGeometry() || !sb.HasGeometry() {
			continue
		}
		if VolumeRatio(sa.Volume(), sb.Volume()) < volumeEpsilon {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Features returns each object's center truncated to dim coordinates.
func Features(objs []*objmap.Segment, dim int) [][]float64 {
	out := make([][]float64, len(objs))
	for i, o := range objs {
		c := o.Center()
		out[i] = []float64{c.X, c.Y, c.Z}[:dim]
	}
	return out
}
