package objmap

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
)

// Frame tags describe which frame a submap's segments are expressed in.
const (
	FrameGravityAligned = "submap_gravity_aligned"
	FrameOdom           = "odom"
)

// ErrInvalidParams is returned for malformed submap parameters.
var ErrInvalidParams = errors.New("invalid submap parameters")

// Submap is a local window of an ObjectMap anchored at one trajectory pose.
type Submap struct {
	ID   int
	Time float64
	// Segments are owned copies expressed in Frame.
	Segments []*Segment
	// ArenaIndex[k] is the arena slot Segments[k] was copied from, or -1
	// when the submap was not produced by Partition.
	ArenaIndex []int
	Pose       Transform
	PoseGT     *Transform
	Frame      string
}

// PoseGravityAligned returns the anchor pose with roll and pitch removed.
func (s *Submap) PoseGravityAligned() Transform {
	return s.Pose.WithoutRollPitch()
}

// PoseGravityAlignedGT returns the ground-truth anchor pose with roll and
// pitch removed, if a ground-truth pose is present.
func (s *Submap) PoseGravityAlignedGT() (Transform, bool) {
	if s.PoseGT == nil {
		return Transform{}, false
	}
	return s.PoseGT.WithoutRollPitch(), true
}

// Position returns the anchor position.
func (s *Submap) Position() r3.Vector { return s.Pose.Translation() }

// PositionGT returns the ground-truth anchor position, if known.
func (s *Submap) PositionGT() (r3.Vector, bool) {
	if s.PoseGT == nil {
		return r3.Vector{}, false
	}
	return s.PoseGT.Translation(), true
}

// HasGT reports whether a ground-truth pose is attached.
func (s *Submap) HasGT() bool { return s.PoseGT != nil }

// Len returns the number of segments.
func (s *Submap) Len() int { return len(s.Segments) }

// SubmapParams controls partitioning.
type SubmapParams struct {
	// Radius is the maximum distance from the anchor at which a segment is included.
	Radius float64 `yaml:"radius" json:"radius"`
	// Distance is the trajectory displacement that starts a new anchor.
	Distance float64 `yaml:"distance" json:"distance"`
	// MaxSize caps segments per submap, nearest first. Zero disables the cap.
	MaxSize int `yaml:"max_size" json:"max_size"`
	// TimeThreshold is the allowed temporal gap. +Inf disables temporal gating.
	TimeThreshold float64   `yaml:"time_threshold" json:"time_threshold"`
	CenterRef     CenterRef `yaml:"center_ref" json:"center_ref"`
	MinimalData   bool      `yaml:"minimal_data" json:"minimal_data"`
}

// DefaultSubmapParams returns the standard partitioning parameters.
func DefaultSubmapParams() SubmapParams {
	return SubmapParams{
		Radius:        15,
		Distance:      10,
		MaxSize:       40,
		TimeThreshold: math.Inf(1),
		CenterRef:     CenterMean,
		MinimalData:   true,
	}
}

// Validate checks the parameters.
func (p SubmapParams) Validate() error {
	switch {
	case math.IsNaN(p.Radius) || p.Radius < 0:
		return fmt.Errorf("%w: radius must be non-negative, got %v", ErrInvalidParams, p.Radius)
	case math.IsNaN(p.Distance) || p.Distance < 0:
		return fmt.Errorf("%w: distance must be non-negative, got %v", ErrInvalidParams, p.Distance)
	case p.MaxSize < 0:
		return fmt.Errorf("%w: max_size must be non-negative, got %d", ErrInvalidParams, p.MaxSize)
	case math.IsNaN(p.TimeThreshold) || p.TimeThreshold < 0:
		return fmt.Errorf("%w: time_threshold must be non-negative, got %v", ErrInvalidParams, p.TimeThreshold)
	case !p.CenterRef.Valid():
		return fmt.Errorf("%w: unknown center_ref %q", ErrInvalidParams, p.CenterRef)
	}
	return nil
}
