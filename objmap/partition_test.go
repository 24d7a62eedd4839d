package objmap

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func linePoses(xs ...float64) ([]Transform, []float64) {
	poses := make([]Transform, len(xs))
	times := make([]float64, len(xs))
	for i, x := range xs {
		poses[i] = Translation(r3.Vector{X: x})
		times[i] = float64(i)
	}
	return poses, times
}

func TestPartitionAnchors(t *testing.T) {
	poses, times := linePoses(0, 20, 40)
	m := &ObjectMap{Trajectory: poses, Times: times}

	tests := []struct {
		name     string
		distance float64
		want     int
	}{
		{"one submap per pose", 10, 3},
		{"single submap", 50, 1},
		{"displacement equal to distance does not split", 20, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultSubmapParams()
			p.Distance = tt.distance
			submaps, err := Partition(m, p, nil)
			require.NoError(t, err)
			assert.Len(t, submaps, tt.want)
			for i, sm := range submaps {
				assert.Equal(t, i, sm.ID)
				assert.Equal(t, FrameGravityAligned, sm.Frame)
				assert.Zero(t, sm.Len())
			}
		})
	}
}

func TestPartitionTimeGap(t *testing.T) {
	m := &ObjectMap{
		Trajectory: []Transform{Identity(), Identity(), Identity()},
		Times:      []float64{0, 1, 10},
	}
	p := DefaultSubmapParams()
	p.TimeThreshold = 5
	submaps, err := Partition(m, p, nil)
	require.NoError(t, err)
	require.Len(t, submaps, 2)
	assert.Equal(t, 10.0, submaps[1].Time)
}

func TestPartitionRejectsMalformedMaps(t *testing.T) {
	poses, _ := linePoses(0, 20)
	m := &ObjectMap{
		Segments:   []*Segment{NewSegment(0, boxCorners(r3.Vector{}, 1, 1, 1), 0, 1)},
		Trajectory: poses,
		Times:      []float64{0},
	}
	submaps, err := Partition(m, DefaultSubmapParams(), nil)
	assert.True(t, errors.Is(err, ErrTrajectoryLength), "got %v", err)
	assert.Nil(t, submaps)

	bad := Identity()
	bad[0][0] = 2
	m = &ObjectMap{Trajectory: []Transform{bad}, Times: []float64{0}}
	_, err = Partition(m, DefaultSubmapParams(), nil)
	assert.True(t, errors.Is(err, ErrInvalidPose), "got %v", err)

	p := DefaultSubmapParams()
	p.Radius = -1
	_, err = Partition(&ObjectMap{}, p, nil)
	assert.True(t, errors.Is(err, ErrInvalidParams), "got %v", err)
}

func randomMap(rng *rand.Rand, nSegments int, poses []Transform, times []float64) *ObjectMap {
	m := &ObjectMap{Trajectory: poses, Times: times}
	for i := 0; i < nSegments; i++ {
		c := r3.Vector{X: rng.Float64()*80 - 20, Y: rng.Float64()*40 - 20, Z: rng.Float64() * 3}
		pts := make([]r3.Vector, 20)
		for k := range pts {
			pts[k] = c.Add(r3.Vector{X: rng.NormFloat64() * 0.5, Y: rng.NormFloat64() * 0.3, Z: rng.NormFloat64() * 0.2})
		}
		first := rng.Float64() * times[len(times)-1]
		m.Segments = append(m.Segments, NewSegment(i, pts, first, first+rng.Float64()*2))
	}
	return m
}

func TestPartitionRadiusAndMaxSize(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	poses, times := linePoses(0, 5, 12, 19, 25, 33, 40)
	m := randomMap(rng, 200, poses, times)

	for _, minimal := range []bool{true, false} {
		p := DefaultSubmapParams()
		p.MaxSize = 10
		p.MinimalData = minimal
		submaps, err := Partition(m, p, nil)
		require.NoError(t, err)
		require.NotEmpty(t, submaps)

		for _, sm := range submaps {
			assert.LessOrEqual(t, sm.Len(), p.MaxSize)
			require.Len(t, sm.ArenaIndex, sm.Len())
			toWorld := sm.PoseGravityAligned()
			for k, seg := range sm.Segments {
				src := m.Segments[sm.ArenaIndex[k]]
				assert.Equal(t, src.ID, seg.ID)
				assert.Less(t, src.Center().Sub(sm.Position()).Norm(), p.Radius)
				assert.True(t, vecEqual(toWorld.Apply(seg.Center()), src.Center()),
					"segment %d not in the submap's gravity-aligned frame", seg.ID)
				assert.Equal(t, minimal, seg.IsMinimal())
			}
		}
	}
}

func TestPartitionKeepsNearest(t *testing.T) {
	m := &ObjectMap{Trajectory: []Transform{Identity()}, Times: []float64{0}}
	for i := 10; i >= 1; i-- {
		m.Segments = append(m.Segments, NewSegment(i, boxCorners(r3.Vector{X: float64(i)}, 1, 1, 1), 0, 1))
	}
	p := DefaultSubmapParams()
	p.MaxSize = 3
	submaps, err := Partition(m, p, nil)
	require.NoError(t, err)
	require.Len(t, submaps, 1)

	var ids []int
	for _, s := range submaps[0].Segments {
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []int{1, 2, 3}, ids)

	p.MaxSize = 0
	submaps, err = Partition(m, p, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, submaps[0].Len())
}

func TestPartitionTemporalAdmission(t *testing.T) {
	poses, times := linePoses(0, 20, 40)
	m := &ObjectMap{Trajectory: poses, Times: times}
	m.Segments = []*Segment{
		NewSegment(0, boxCorners(r3.Vector{X: 1}, 1, 1, 1), 5, 6),
		NewSegment(1, boxCorners(r3.Vector{X: 21}, 1, 1, 1), 0, 0.5),
		NewSegment(2, boxCorners(r3.Vector{X: 10}, 1, 1, 1), 0, 2),
	}
	p := DefaultSubmapParams()
	p.TimeThreshold = 0
	submaps, err := Partition(m, p, nil)
	require.NoError(t, err)
	require.Len(t, submaps, 3)

	ids := func(sm *Submap) []int {
		out := []int{}
		for _, s := range sm.Segments {
			out = append(out, s.ID)
		}
		return out
	}
	assert.Equal(t, []int{2}, ids(submaps[0]), "segment 0 first seen after the next anchor")
	// segment 2 is within radius of two anchors and appears in both
	assert.Equal(t, []int{1, 2}, ids(submaps[1]))
	assert.Equal(t, []int{}, ids(submaps[2]))

	p.TimeThreshold = math.Inf(1)
	submaps, err = Partition(m, p, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, ids(submaps[0]))
}

func TestPartitionGravityAlignedFrame(t *testing.T) {
	tilted := NewTransform(RotationZYX(deg(90), deg(10), deg(20)), r3.Vector{X: 1, Y: 1})
	m := &ObjectMap{
		Segments:   []*Segment{NewSegment(0, boxCorners(r3.Vector{X: 6, Y: 1, Z: 2}, 1, 1, 1), 0, 1)},
		Trajectory: []Transform{tilted},
		Times:      []float64{0},
	}
	gt := PoseFunc(func(float64) (Transform, bool) { return Translation(r3.Vector{Z: 1}), true })

	submaps, err := Partition(m, DefaultSubmapParams(), gt)
	require.NoError(t, err)
	require.Len(t, submaps, 1)
	sm := submaps[0]

	require.True(t, sm.HasGT())
	pos, ok := sm.PositionGT()
	require.True(t, ok)
	assert.Equal(t, 1.0, pos.Z)

	require.Equal(t, 1, sm.Len())
	c := sm.Segments[0].Center()
	assert.InDelta(t, 0, c.X, 1e-9)
	assert.InDelta(t, -5, c.Y, 1e-9)
	assert.InDelta(t, 2, c.Z, 1e-9)
}

func TestPartitionDoesNotMutateSource(t *testing.T) {
	src := NewSegment(0, boxCorners(r3.Vector{X: 3, Y: 4}, 1, 1, 1), 0, 1)
	m := &ObjectMap{
		Segments:   []*Segment{src},
		Trajectory: []Transform{NewTransform(RotationZYX(deg(45), 0, 0), r3.Vector{X: 1})},
		Times:      []float64{0},
	}
	p := DefaultSubmapParams()
	p.CenterRef = CenterBottomMedian
	_, err := Partition(m, p, nil)
	require.NoError(t, err)

	assert.False(t, src.IsMinimal())
	assert.Equal(t, CenterMean, src.CenterRef())
	assert.True(t, vecEqual(src.Center(), r3.Vector{X: 3, Y: 4}))
}

func TestPartitionMinimalIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	poses, times := linePoses(0, 15, 30)
	m := randomMap(rng, 50, poses, times)

	submaps, err := Partition(m, DefaultSubmapParams(), nil)
	require.NoError(t, err)
	for _, sm := range submaps {
		for _, s := range sm.Segments {
			assert.Equal(t, s, s.Minimal())
		}
	}

	again, err := Partition(m.Minimal(), DefaultSubmapParams(), nil)
	require.NoError(t, err)
	require.Len(t, again, len(submaps))
	for i := range submaps {
		assert.Equal(t, submaps[i].ArenaIndex, again[i].ArenaIndex)
	}
}
