package align

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"github.com/kwv/submesh/objmap"
)

// ErrGravityDim is returned when gravity-constrained registration is
// configured for anything other than 3D features.
var ErrGravityDim = errors.New("gravity constraint requires dim 3")

// GravityConstraintError reports a recovered alignment whose roll or pitch
// is at least Threshold. Angles are in radians. Two-point selections do not
// determine roll and pitch; for them Tilt holds the smallest tilt any
// aligning rotation must have, and Roll and Pitch are zero.
type GravityConstraintError struct {
	Threshold float64
	Roll      float64
	Pitch     float64
	Tilt      float64
}

func (e *GravityConstraintError) Error() string {
	if e.Tilt > 0 {
		return fmt.Sprintf("roll and pitch must be less than %.4f rad (two-point tilt at least %.4f)", e.Threshold, e.Tilt)
	}
	return fmt.Sprintf("roll and pitch must be less than %.4f rad (roll %.4f, pitch %.4f)", e.Threshold, e.Roll, e.Pitch)
}

// RegistrationParams configures Registration.
type RegistrationParams struct {
	EuclideanDistance `yaml:",inline"`
	// VolumeEpsilon is the minimum volume ratio of a candidate pair.
	VolumeEpsilon float64 `yaml:"volume_epsilon" json:"volume_epsilon"`
	// Dim is the feature dimensionality, 2 or 3.
	Dim        int  `yaml:"dim" json:"dim"`
	UseGravity bool `yaml:"use_gravity" json:"use_gravity"`
	// RollPitchThreshold is in radians.
	RollPitchThreshold float64 `yaml:"roll_pitch_threshold" json:"roll_pitch_threshold"`
}

// DefaultRegistrationParams returns the standard registration parameters.
func DefaultRegistrationParams() RegistrationParams {
	return RegistrationParams{
		EuclideanDistance:  EuclideanDistance{Sigma: 0.3, Epsilon: 0.5, MinDist: 0.1},
		VolumeEpsilon:      0,
		Dim:                3,
		RollPitchThreshold: 5 * math.Pi / 180,
	}
}

// Validate checks the parameters.
func (p RegistrationParams) Validate() error {
	switch {
	case p.Dim != 2 && p.Dim != 3:
		return fmt.Errorf("dim must be 2 or 3, got %d", p.Dim)
	case p.UseGravity && p.Dim != 3:
		return ErrGravityDim
	case p.Sigma <= 0:
		return fmt.Errorf("sigma must be positive, got %v", p.Sigma)
	case p.Epsilon <= 0:
		return fmt.Errorf("epsilon must be positive, got %v", p.Epsilon)
	case p.MinDist < 0:
		return fmt.Errorf("mindist must be non-negative, got %v", p.MinDist)
	case p.VolumeEpsilon < 0 || p.VolumeEpsilon > 1:
		return fmt.Errorf("volume_epsilon must be in [0, 1], got %v", p.VolumeEpsilon)
	case p.UseGravity && p.RollPitchThreshold <= 0:
		return fmt.Errorf("roll_pitch_threshold must be positive, got %v", p.RollPitchThreshold)
	}
	return nil
}

// Registration aligns two object sets by volume-pruned distance consistency,
// optionally rejecting alignments that tilt gravity.
type Registration struct {
	params RegistrationParams
	solver Solver
}

// NewRegistration validates params and binds a solver.
func NewRegistration(params RegistrationParams, solver Solver) (*Registration, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("registration: %w", err)
	}
	if solver == nil {
		return nil, errors.New("registration: solver is required")
	}
	return &Registration{params: params, solver: solver}, nil
}

// Params returns the registration parameters.
func (r *Registration) Params() RegistrationParams { return r.params }

// BuildCandidates prunes the all-to-all candidate set by volume and scores
// the survivors. Every returned candidate belongs to the pruned set.
func (r *Registration) BuildCandidates(a, b []*objmap.Segment) (*CompatibilityGraph, []Association, error) {
	cands := PruneByVolume(a, b, AllToAll(len(a), len(b)), r.params.VolumeEpsilon)
	g, err := r.solver.Score(Features(a, r.params.Dim), Features(b, r.params.Dim), cands, r.params.EuclideanDistance)
	if err != nil {
		return nil, nil, fmt.Errorf("scoring candidates: %w", err)
	}
	logger.Debugf("[REGISTER] %dx%d objects: %d candidates after volume pruning", len(a), len(b), len(cands))
	return g, cands, nil
}

// Register returns the selected associations between a and b. In gravity
// mode, a *GravityConstraintError is returned when the implied rotation
// has |roll| or |pitch| at or above the threshold. Two associations fix
// the rotation only up to a spin about their baseline, so they are
// rejected only when every aligning rotation breaks the threshold. A
// single association is not checked.
func (r *Registration) Register(a, b []*objmap.Segment) ([]Association, error) {
	g, _, err := r.BuildCandidates(a, b)
	if err != nil {
		return nil, err
	}
	sel, err := r.solver.Solve(g)
	if err != nil {
		return nil, fmt.Errorf("solving: %w", err)
	}
	if !r.params.UseGravity || len(sel) < 2 {
		return sel, nil
	}
	thr := r.params.RollPitchThreshold
	if len(sel) == 2 {
		// cos(tilt) = cos(roll)cos(pitch), so a tilt of at least
		// acos(cos²(thr)) forces roll or pitch past thr.
		tilt := baselineTilt(a, b, sel)
		if tilt >= math.Acos(math.Cos(thr)*math.Cos(thr)) {
			return nil, &GravityConstraintError{Threshold: thr, Tilt: tilt}
		}
		return sel, nil
	}

	T, err := AlignTransform(a, b, sel, r.params.Dim)
	if err != nil {
		return nil, err
	}
	_, pitch, roll := T.EulerZYX()
	if math.Abs(roll) >= thr || math.Abs(pitch) >= thr {
		return nil, &GravityConstraintError{Threshold: thr, Roll: roll, Pitch: pitch}
	}
	return sel, nil
}

// baselineTilt returns the elevation change between the baseline of a
// two-association selection in b and in a. Any rotation taking one
// baseline onto the other tilts the vertical by at least this angle.
func baselineTilt(a, b []*objmap.Segment, sel []Association) float64 {
	da := a[sel[1].A].Center().Sub(a[sel[0].A].Center())
	db := b[sel[1].B].Center().Sub(b[sel[0].B].Center())
	return math.Abs(elevation(da) - elevation(db))
}

func elevation(v r3.Vector) float64 {
	return math.Atan2(v.Z, math.Hypot(v.X, v.Y))
}
