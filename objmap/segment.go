package objmap

import (
	"fmt"
	"math"
	"sort"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// CenterRef selects how a segment's reference center is derived from its points.
type CenterRef string

const (
	// CenterMean uses the mean of the points.
	CenterMean CenterRef = "mean"
	// CenterMedian uses the per-axis median of the points.
	CenterMedian CenterRef = "median"
	// CenterBottomMedian uses the x/y median and the lowest z.
	CenterBottomMedian CenterRef = "bottom_median"
)

// Valid reports whether the center reference is known.
func (c CenterRef) Valid() bool {
	switch c {
	case CenterMean, CenterMedian, CenterBottomMedian:
		return true
	}
	return false
}

// Shape holds the summary geometry of a segment.
// Extent is the size of the principal-axis bounding box, largest first.
type Shape struct {
	Center     r3.Vector `json:"center"`
	Volume     float64   `json:"volume"`
	Linearity  float64   `json:"linearity"`
	Planarity  float64   `json:"planarity"`
	Scattering float64   `json:"scattering"`
	Extent     r3.Vector `json:"extent"`
}

// Segment is a persistent object observed over [FirstSeen, LastSeen].
//
// Point-backed segments derive their Shape on demand and cache it; the cache
// is dropped whenever the points move or the center reference changes.
// Minimal segments carry no points and their Shape is authoritative.
type Segment struct {
	ID        int
	FirstSeen float64
	LastSeen  float64

	points    []r3.Vector
	centerRef CenterRef
	shape     *Shape
	minimal   bool
}

// NewSegment creates a point-backed segment. The segment takes ownership of points.
func NewSegment(id int, points []r3.Vector, firstSeen, lastSeen float64) *Segment {
	return &Segment{
		ID:        id,
		FirstSeen: firstSeen,
		LastSeen:  lastSeen,
		points:    points,
		centerRef: CenterMean,
	}
}

// NewMinimalSegment creates a segment described only by its summary geometry.
func NewMinimalSegment(id int, shape Shape, firstSeen, lastSeen float64) *Segment {
	s := shape
	return &Segment{
		ID:        id,
		FirstSeen: firstSeen,
		LastSeen:  lastSeen,
		centerRef: CenterMean,
		shape:     &s,
		minimal:   true,
	}
}

// Points returns the segment's points. The slice is owned by the segment
// and must not be modified.
func (s *Segment) Points() []r3.Vector { return s.points }

// IsMinimal reports whether the segment has been stripped of its points.
func (s *Segment) IsMinimal() bool { return s.minimal }

// CenterRef returns the active center reference policy.
func (s *Segment) CenterRef() CenterRef { return s.centerRef }

// HasGeometry reports whether the segment has a defined center and volume.
func (s *Segment) HasGeometry() bool {
	if s.minimal {
		return s.shape != nil
	}
	return len(s.points) > 0
}

// Shape returns the summary geometry, computing and caching it if needed.
func (s *Segment) Shape() (Shape, bool) {
	if s.shape != nil {
		return *s.shape, true
	}
	if s.minimal || len(s.points) == 0 {
		return Shape{}, false
	}
	sh := computeShape(s.points, s.centerRef)
	s.shape = &sh
	return sh, true
}

// Center returns the reference center, or the zero vector when the segment
// has no geometry.
func (s *Segment) Center() r3.Vector {
	sh, _ := s.Shape()
	return sh.Center
}

// Volume returns the principal-axis bounding box volume.
func (s *Segment) Volume() float64 {
	sh, _ := s.Shape()
	return sh.Volume
}

// Linearity returns (l1-l2)/l1 of the point covariance eigenvalues.
func (s *Segment) Linearity() float64 {
	sh, _ := s.Shape()
	return sh.Linearity
}

// Planarity returns (l2-l3)/l1 of the point covariance eigenvalues.
func (s *Segment) Planarity() float64 {
	sh, _ := s.Shape()
	return sh.Planarity
}

// Scattering returns l3/l1 of the point covariance eigenvalues.
func (s *Segment) Scattering() float64 {
	sh, _ := s.Shape()
	return sh.Scattering
}

// SetCenterRef changes the center policy. For minimal segments the stored
// center cannot be recomputed and is kept as is.
func (s *Segment) SetCenterRef(ref CenterRef) error {
	if !ref.Valid() {
		return fmt.Errorf("unknown center reference %q", ref)
	}
	if s.centerRef == ref {
		return nil
	}
	s.centerRef = ref
	if !s.minimal {
		s.shape = nil
	}
	return nil
}

// Transform moves the segment rigidly by t.
func (s *Segment) Transform(t Transform) {
	if s.minimal {
		if s.shape != nil {
			s.shape.Center = t.Apply(s.shape.Center)
		}
		return
	}
	for i, p := range s.points {
		s.points[i] = t.Apply(p)
	}
	s.shape = nil
}

// Clone returns a deep copy of the segment.
func (s *Segment) Clone() *Segment {
	c := *s
	if s.points != nil {
		c.points = make([]r3.Vector, len(s.points))
		copy(c.points, s.points)
	}
	if s.shape != nil {
		sh := *s.shape
		c.shape = &sh
	}
	return &c
}

// Minimal returns a point-free copy carrying only the summary geometry.
// Minimal on an already minimal segment returns a plain copy.
func (s *Segment) Minimal() *Segment {
	if s.minimal {
		return s.Clone()
	}
	c := &Segment{
		ID:        s.ID,
		FirstSeen: s.FirstSeen,
		LastSeen:  s.LastSeen,
		centerRef: s.centerRef,
		minimal:   true,
	}
	if sh, ok := s.Shape(); ok {
		c.shape = &sh
	}
	return c
}

// Alive reports whether t lies in [FirstSeen, LastSeen].
func (s *Segment) Alive(t float64) bool {
	return t >= s.FirstSeen && t <= s.LastSeen
}

func computeShape(points []r3.Vector, ref CenterRef) Shape {
	mean := meanOf(points)
	sh := Shape{Center: mean}
	switch ref {
	case CenterMedian:
		sh.Center = r3.Vector{X: medianOf(points, axisX), Y: medianOf(points, axisY), Z: medianOf(points, axisZ)}
	case CenterBottomMedian:
		minZ := math.Inf(1)
		for _, p := range points {
			minZ = math.Min(minZ, p.Z)
		}
		sh.Center = r3.Vector{X: medianOf(points, axisX), Y: medianOf(points, axisY), Z: minZ}
	}

	n := float64(len(points))
	cov := mat.NewSymDense(3, nil)
	for _, p := range points {
		d := [3]float64{p.X - mean.X, p.Y - mean.Y, p.Z - mean.Z}
		for i := 0; i < 3; i++ {
			for j := i; j < 3; j++ {
				cov.SetSym(i, j, cov.At(i, j)+d[i]*d[j]/n)
			}
		}
	}

	var eig mat.EigenSym
	if !eig.Factorize(cov, true) {
		return sh
	}
	vals := eig.Values(nil) // ascending
	var vecs mat.Dense
	eig.VectorsTo(&vecs)

	l1, l2, l3 := math.Max(vals[2], 0), math.Max(vals[1], 0), math.Max(vals[0], 0)
	if l1 > 0 {
		sh.Linearity = clamp01((l1 - l2) / l1)
		sh.Planarity = clamp01((l2 - l3) / l1)
		sh.Scattering = clamp01(l3 / l1)
	}

	var ext [3]float64
	for k := 0; k < 3; k++ {
		axis := r3.Vector{X: vecs.At(0, 2-k), Y: vecs.At(1, 2-k), Z: vecs.At(2, 2-k)}
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, p := range points {
			v := p.Sub(mean).Dot(axis)
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		ext[k] = hi - lo
	}
	sh.Extent = r3.Vector{X: ext[0], Y: ext[1], Z: ext[2]}
	sh.Volume = ext[0] * ext[1] * ext[2]
	return sh
}

type axis int

const (
	axisX axis = iota
	axisY
	axisZ
)

func meanOf(points []r3.Vector) r3.Vector {
	var sum r3.Vector
	for _, p := range points {
		sum = sum.Add(p)
	}
	return sum.Mul(1 / float64(len(points)))
}

func medianOf(points []r3.Vector, a axis) float64 {
	vals := make([]float64, len(points))
	for i, p := range points {
		switch a {
		case axisX:
			vals[i] = p.X
		case axisY:
			vals[i] = p.Y
		default:
			vals[i] = p.Z
		}
	}
	sort.Float64s(vals)
	mid := len(vals) / 2
	if len(vals)%2 == 0 {
		return (vals[mid-1] + vals[mid]) / 2
	}
	return vals[mid]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
