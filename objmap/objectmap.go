package objmap

import (
	"errors"
	"fmt"
)

var (
	// ErrTrajectoryLength is returned when the trajectory and times differ in length.
	ErrTrajectoryLength = errors.New("trajectory and times must have the same length")
	// ErrFrameConvention is returned when concatenating maps with different pose conventions.
	ErrFrameConvention = errors.New("maps use different pose frame conventions")
	// ErrTimesOrder is returned when timestamps decrease.
	ErrTimesOrder = errors.New("times must be non-decreasing")
)

// ObjectMap is a collection of segments plus the sensor trajectory they
// were observed from.
type ObjectMap struct {
	Segments   []*Segment
	Trajectory []Transform
	Times      []float64
	// PosesAreFLU marks poses expressed in the forward-left-up convention.
	PosesAreFLU bool
}

// Validate checks the trajectory invariants.
func (m *ObjectMap) Validate() error {
	if len(m.Trajectory) != len(m.Times) {
		return fmt.Errorf("%w: %d poses, %d times", ErrTrajectoryLength, len(m.Trajectory), len(m.Times))
	}
	for i := 1; i < len(m.Times); i++ {
		if m.Times[i] < m.Times[i-1] {
			return fmt.Errorf("%w: times[%d]=%v < times[%d]=%v", ErrTimesOrder, i, m.Times[i], i-1, m.Times[i-1])
		}
	}
	for i, p := range m.Trajectory {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("trajectory[%d]: %w", i, err)
		}
	}
	return nil
}

// Minimal returns a copy of the map whose segments carry no points.
func (m *ObjectMap) Minimal() *ObjectMap {
	out := m.shallowCopy()
	out.Segments = make([]*Segment, len(m.Segments))
	for i, s := range m.Segments {
		out.Segments[i] = s.Minimal()
	}
	return out
}

// Clone returns a deep copy of the map.
func (m *ObjectMap) Clone() *ObjectMap {
	out := m.shallowCopy()
	out.Segments = make([]*Segment, len(m.Segments))
	for i, s := range m.Segments {
		out.Segments[i] = s.Clone()
	}
	return out
}

func (m *ObjectMap) shallowCopy() *ObjectMap {
	return &ObjectMap{
		Trajectory:  append([]Transform(nil), m.Trajectory...),
		Times:       append([]float64(nil), m.Times...),
		PosesAreFLU: m.PosesAreFLU,
	}
}

// SegmentByID returns the segment with the given id.
func (m *ObjectMap) SegmentByID(id int) (*Segment, bool) {
	for _, s := range m.Segments {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// MaxSegmentID returns the largest segment id, or -1 for an empty map.
func (m *ObjectMap) MaxSegmentID() int {
	maxID := -1
	for _, s := range m.Segments {
		if s.ID > maxID {
			maxID = s.ID
		}
	}
	return maxID
}

// TimeRange returns the first and last trajectory time.
func (m *ObjectMap) TimeRange() (start, end float64, ok bool) {
	if len(m.Times) == 0 {
		return 0, 0, false
	}
	return m.Times[0], m.Times[len(m.Times)-1], true
}

// Concatenate joins maps in order into a new map. Segment ids of each
// appended map are offset by the running maximum id + 1 so they never
// collide. Inputs are not modified. The joined trajectory must keep
// non-decreasing times; sessions whose time ranges overlap are rejected
// with ErrTimesOrder.
func Concatenate(maps ...*ObjectMap) (*ObjectMap, error) {
	if len(maps) == 0 {
		return &ObjectMap{}, nil
	}
	out := maps[0].Clone()
	for k, m := range maps[1:] {
		if m.PosesAreFLU != out.PosesAreFLU {
			return nil, fmt.Errorf("map %d: %w", k+1, ErrFrameConvention)
		}
		offset := out.MaxSegmentID() + 1
		for _, s := range m.Segments {
			c := s.Clone()
			c.ID += offset
			out.Segments = append(out.Segments, c)
		}
		out.Trajectory = append(out.Trajectory, m.Trajectory...)
		out.Times = append(out.Times, m.Times...)
	}
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("concatenate: %w", err)
	}
	logger.Debugf("concatenated %d maps: %d segments, %d poses", len(maps), len(out.Segments), len(out.Times))
	return out, nil
}
