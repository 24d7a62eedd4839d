package objmap

import (
	"fmt"
	"math"
	"sort"
)

// SegmentArena holds the per-run working copies of a map's segments.
// Partitioning prepares segments here once (center policy, minimization)
// so the source map is never touched.
type SegmentArena struct {
	segments []*Segment
}

// NewSegmentArena copies segments into a new arena, applying ref and,
// when minimal is set, stripping points.
func NewSegmentArena(segments []*Segment, ref CenterRef, minimal bool) (*SegmentArena, error) {
	a := &SegmentArena{segments: make([]*Segment, len(segments))}
	for i, s := range segments {
		c := s.Clone()
		if err := c.SetCenterRef(ref); err != nil {
			return nil, err
		}
		if minimal {
			c = c.Minimal()
		}
		a.segments[i] = c
	}
	return a, nil
}

// Len returns the number of segments in the arena.
func (a *SegmentArena) Len() int { return len(a.segments) }

// At returns the arena segment at index i. It must not be modified.
func (a *SegmentArena) At(i int) *Segment { return a.segments[i] }

// Partition slices m into submaps. Each submap holds deep copies of the
// segments within p.Radius of its anchor, moved into the anchor's
// gravity-aligned frame. gt may be nil.
//
// Temporal admission uses the neighbouring anchors' times, so a segment
// can appear in adjacent submaps.
func Partition(m *ObjectMap, p SubmapParams, gt PoseProvider) ([]*Submap, error) {
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}

	arena, err := NewSegmentArena(m.Segments, p.CenterRef, p.MinimalData)
	if err != nil {
		return nil, fmt.Errorf("partition: %w", err)
	}

	submaps := anchors(m, p, gt)

	for i, sm := range submaps {
		tPrev, tNext := math.Inf(-1), math.Inf(1)
		if i > 0 {
			tPrev = submaps[i-1].Time
		}
		if i < len(submaps)-1 {
			tNext = submaps[i+1].Time
		}

		anchor := sm.Position()
		toLocal := sm.PoseGravityAligned().Inverse()
		for k := 0; k < arena.Len(); k++ {
			seg := arena.At(k)
			if !seg.HasGeometry() {
				continue
			}
			if seg.FirstSeen > tNext+p.TimeThreshold || seg.LastSeen < tPrev-p.TimeThreshold {
				continue
			}
			if seg.Center().Sub(anchor).Norm() >= p.Radius {
				continue
			}
			c := seg.Clone()
			c.Transform(toLocal)
			sm.Segments = append(sm.Segments, c)
			sm.ArenaIndex = append(sm.ArenaIndex, k)
		}

		if p.MaxSize > 0 && len(sm.Segments) > p.MaxSize {
			keepNearest(sm, p.MaxSize)
		}
		logger.Debugf("[SUBMAP] %d at t=%.3f: %d segments", sm.ID, sm.Time, sm.Len())
	}

	logger.Infof("[SUBMAP] partitioned %d segments over %d poses into %d submaps",
		len(m.Segments), len(m.Times), len(submaps))
	return submaps, nil
}

func anchors(m *ObjectMap, p SubmapParams, gt PoseProvider) []*Submap {
	var submaps []*Submap
	for i, pose := range m.Trajectory {
		t := m.Times[i]
		if i > 0 {
			last := submaps[len(submaps)-1]
			moved := pose.Translation().Sub(last.Position()).Norm() > p.Distance
			waited := t-last.Time > p.TimeThreshold
			if !moved && !waited {
				continue
			}
		}
		sm := &Submap{
			ID:    len(submaps),
			Time:  t,
			Pose:  pose,
			Frame: FrameGravityAligned,
		}
		if gt != nil {
			if g, ok := gt.Pose(t); ok {
				sm.PoseGT = &g
			}
		}
		submaps = append(submaps, sm)
	}
	return submaps
}

func keepNearest(sm *Submap, n int) {
	idx := make([]int, len(sm.Segments))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return sm.Segments[idx[a]].Center().Norm() < sm.Segments[idx[b]].Center().Norm()
	})
	segs := make([]*Segment, n)
	arena := make([]int, n)
	for k := 0; k < n; k++ {
		segs[k] = sm.Segments[idx[k]]
		arena[k] = sm.ArenaIndex[idx[k]]
	}
	sm.Segments, sm.ArenaIndex = segs, arena
}
