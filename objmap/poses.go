package objmap

import (
	"math"
	"sort"
)

// PoseProvider returns the pose at time t, or false when none is known.
type PoseProvider interface {
	Pose(t float64) (Transform, bool)
}

// PoseFunc adapts a function to a PoseProvider.
type PoseFunc func(t float64) (Transform, bool)

// Pose implements PoseProvider.
func (f PoseFunc) Pose(t float64) (Transform, bool) { return f(t) }

// TrajectoryPoses interpolates a timestamped trajectory. Translation is
// interpolated linearly and rotation by quaternion slerp. Queries outside
// the trajectory, or between samples further apart than MaxGap, return false.
type TrajectoryPoses struct {
	Times []float64
	Poses []Transform
	// MaxGap bounds the interval between two samples used for
	// interpolation. Zero means unbounded.
	MaxGap float64
}

// NewTrajectoryPoses builds a provider from a map's trajectory.
func NewTrajectoryPoses(m *ObjectMap, maxGap float64) (*TrajectoryPoses, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &TrajectoryPoses{Times: m.Times, Poses: m.Trajectory, MaxGap: maxGap}, nil
}

// Pose implements PoseProvider.
func (p *TrajectoryPoses) Pose(t float64) (Transform, bool) {
	n := len(p.Times)
	if n == 0 || math.IsNaN(t) || t < p.Times[0] || t > p.Times[n-1] {
		return Transform{}, false
	}
	i := sort.SearchFloat64s(p.Times, t)
	if i < n && p.Times[i] == t {
		return p.Poses[i], true
	}
	t0, t1 := p.Times[i-1], p.Times[i]
	if p.MaxGap > 0 && t1-t0 > p.MaxGap {
		return Transform{}, false
	}
	u := (t - t0) / (t1 - t0)
	a, b := p.Poses[i-1], p.Poses[i]
	tr := a.Translation().Mul(1 - u).Add(b.Translation().Mul(u))
	return FromQuaternion(Slerp(a.Quaternion(), b.Quaternion(), u), tr), true
}
