package report

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/golang/geo/r3"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
	"github.com/paulmach/orb/simplify"

	"github.com/kwv/submesh/align"
	"github.com/kwv/submesh/objmap"
)

// Feature kinds, stored in the "kind" property.
const (
	KindAnchor      = "anchor"
	KindFootprint   = "footprint"
	KindSegment     = "segment"
	KindTrajectory  = "trajectory"
	KindAssociation = "association"
)

// WorldPoint returns a submap segment's center in the map frame, projected on xy.
func WorldPoint(sm *objmap.Submap, seg *objmap.Segment) orb.Point {
	c := seg.Center()
	if sm.Frame == objmap.FrameGravityAligned {
		c = sm.PoseGravityAligned().Apply(c)
	}
	return orb.Point{c.X, c.Y}
}

// SubmapFeatures describes submaps as an anchor point, a convex footprint
// over the segment centers, and one point per segment, in the map frame.
func SubmapFeatures(submaps []*objmap.Submap) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, sm := range submaps {
		pos := sm.Position()
		anchor := geojson.NewFeature(orb.Point{pos.X, pos.Y})
		anchor.Properties["kind"] = KindAnchor
		anchor.Properties["submap"] = sm.ID
		anchor.Properties["time"] = sm.Time
		anchor.Properties["segments"] = sm.Len()
		fc.Append(anchor)

		pts := make([]orb.Point, 0, sm.Len())
		for _, seg := range sm.Segments {
			if !seg.HasGeometry() {
				continue
			}
			p := WorldPoint(sm, seg)
			pts = append(pts, p)

			f := geojson.NewFeature(p)
			f.Properties["kind"] = KindSegment
			f.Properties["submap"] = sm.ID
			f.Properties["segment"] = seg.ID
			f.Properties["volume"] = seg.Volume()
			fc.Append(f)
		}

		if poly := footprint(pts); poly != nil {
			f := geojson.NewFeature(poly)
			f.Properties["kind"] = KindFootprint
			f.Properties["submap"] = sm.ID
			f.Properties["area"] = math.Abs(planar.Area(poly))
			fc.Append(f)
		}
	}
	return fc
}

// TrajectoryFeature returns the map trajectory as a LineString simplified
// with Douglas-Peucker at tolerance (map units). Zero disables simplification.
func TrajectoryFeature(m *objmap.ObjectMap, tolerance float64) *geojson.Feature {
	ls := make(orb.LineString, len(m.Trajectory))
	for i, p := range m.Trajectory {
		t := p.Translation()
		ls[i] = orb.Point{t.X, t.Y}
	}
	if tolerance > 0 && len(ls) > 2 {
		if s, ok := simplify.DouglasPeucker(tolerance).Simplify(ls.Clone()).(orb.LineString); ok {
			ls = s
		}
	}
	f := geojson.NewFeature(ls)
	f.Properties["kind"] = KindTrajectory
	f.Properties["poses"] = len(m.Trajectory)
	return f
}

// AssociationFeatures draws one line per association of a pair, from the
// object in a to the object in b, both in their own map frames.
func AssociationFeatures(a, b *objmap.Submap, assoc []align.Association) []*geojson.Feature {
	out := make([]*geojson.Feature, 0, len(assoc))
	for _, as := range assoc {
		pa := WorldPoint(a, a.Segments[as.A])
		pb := WorldPoint(b, b.Segments[as.B])
		f := geojson.NewFeature(orb.LineString{pa, pb})
		f.Properties["kind"] = KindAssociation
		f.Properties["submap_a"] = a.ID
		f.Properties["submap_b"] = b.ID
		f.Properties["segment_a"] = a.Segments[as.A].ID
		f.Properties["segment_b"] = b.Segments[as.B].ID
		f.Properties["length"] = planar.Distance(pa, pb)
		out = append(out, f)
	}
	return out
}

// AlignmentFeatures collects association lines for every pair in res with
// at least minAssociations associations.
func AlignmentFeatures(a, b []*objmap.Submap, res *align.AlignmentResults, minAssociations int) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, p := range res.Pairs {
		if len(p.Associations) == 0 || len(p.Associations) < minAssociations {
			continue
		}
		for _, f := range AssociationFeatures(a[p.A], b[p.B], p.Associations) {
			fc.Append(f)
		}
	}
	return fc
}

// WriteGeoJSON writes fc to path, creating parent directories.
func WriteGeoJSON(path string, fc *geojson.FeatureCollection) error {
	data, err := fc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshaling geojson: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing geojson: %w", err)
	}
	return nil
}

// Centroid returns the mean of the submap's segment centers in the map frame.
func Centroid(sm *objmap.Submap) (r3.Vector, bool) {
	var sum r3.Vector
	n := 0
	for _, seg := range sm.Segments {
		if !seg.HasGeometry() {
			continue
		}
		c := seg.Center()
		if sm.Frame == objmap.FrameGravityAligned {
			c = sm.PoseGravityAligned().Apply(c)
		}
		sum = sum.Add(c)
		n++
	}
	if n == 0 {
		return r3.Vector{}, false
	}
	return sum.Mul(1 / float64(n)), true
}

// footprint returns the closed convex hull of pts, or nil for fewer than
// three non-collinear points.
func footprint(pts []orb.Point) orb.Polygon {
	hull := convexHull(pts)
	if len(hull) < 3 {
		return nil
	}
	hull = append(hull, hull[0])
	return orb.Polygon{orb.Ring(hull)}
}

// convexHull computes the hull with Andrew's monotone chain, counter-clockwise,
// without repeating the first point.
func convexHull(points []orb.Point) []orb.Point {
	if len(points) < 3 {
		return append([]orb.Point(nil), points...)
	}
	sorted := append([]orb.Point(nil), points...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	n := len(sorted)
	hull := make([]orb.Point, 0, 2*n)
	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := n - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	return hull[:len(hull)-1]
}
