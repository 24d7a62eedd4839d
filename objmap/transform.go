package objmap

import (
	"errors"
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
)

// RigidTolerance is the tolerance used when checking that a pose rotation
// block is orthonormal.
const RigidTolerance = 1e-6

var (
	// ErrPoseShape is returned when a pose is not a 4x4 matrix.
	ErrPoseShape = errors.New("pose must be a 4x4 matrix")
	// ErrInvalidPose is returned when a pose is not a rigid transform.
	ErrInvalidPose = errors.New("pose is not a rigid transform")
)

// Transform is a 4x4 homogeneous rigid transform, row-major.
// The upper-left 3x3 block is the rotation, the last column the translation.
type Transform [4][4]float64

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
		{0, 0, 0, 1},
	}
}

// NewTransform builds a transform from a rotation block and a translation.
func NewTransform(r [3][3]float64, t r3.Vector) Transform {
	return Transform{
		{r[0][0], r[0][1], r[0][2], t.X},
		{r[1][0], r[1][1], r[1][2], t.Y},
		{r[2][0], r[2][1], r[2][2], t.Z},
		{0, 0, 0, 1},
	}
}

// Translation creates a translation-only transform.
func Translation(t r3.Vector) Transform {
	m := Identity()
	m[0][3], m[1][3], m[2][3] = t.X, t.Y, t.Z
	return m
}

// TransformFromRows converts a nested row slice into a Transform.
// It fails with ErrPoseShape when the input is not 4x4 and with
// ErrInvalidPose when the result is not rigid.
func TransformFromRows(rows [][]float64) (Transform, error) {
	var t Transform
	if len(rows) != 4 {
		return t, fmt.Errorf("%w: got %d rows", ErrPoseShape, len(rows))
	}
	for i, row := range rows {
		if len(row) != 4 {
			return t, fmt.Errorf("%w: row %d has %d columns", ErrPoseShape, i, len(row))
		}
		copy(t[i][:], row)
	}
	if err := t.Validate(); err != nil {
		return t, err
	}
	return t, nil
}

// TransformFromFlat converts a row-major slice of 16 values into a Transform.
func TransformFromFlat(v []float64) (Transform, error) {
	if len(v) != 16 {
		return Transform{}, fmt.Errorf("%w: got %d values, want 16", ErrPoseShape, len(v))
	}
	rows := make([][]float64, 4)
	for i := range rows {
		rows[i] = v[i*4 : i*4+4]
	}
	return TransformFromRows(rows)
}

// TransformFromDense converts a gonum matrix into a Transform.
func TransformFromDense(m mat.Matrix) (Transform, error) {
	r, c := m.Dims()
	if r != 4 || c != 4 {
		return Transform{}, fmt.Errorf("%w: got %dx%d", ErrPoseShape, r, c)
	}
	var t Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			t[i][j] = m.At(i, j)
		}
	}
	return t, t.Validate()
}

// Rows returns the transform as a nested slice, suitable for serialization.
func (t Transform) Rows() [][]float64 {
	rows := make([][]float64, 4)
	for i := range rows {
		rows[i] = []float64{t[i][0], t[i][1], t[i][2], t[i][3]}
	}
	return rows
}

// Dense returns the transform as a gonum matrix.
func (t Transform) Dense() *mat.Dense {
	data := make([]float64, 0, 16)
	for i := 0; i < 4; i++ {
		data = append(data, t[i][:]...)
	}
	return mat.NewDense(4, 4, data)
}

// Rotation returns the 3x3 rotation block.
func (t Transform) Rotation() [3][3]float64 {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = t[i][j]
		}
	}
	return r
}

// Translation returns the translation column.
func (t Transform) Translation() r3.Vector {
	return r3.Vector{X: t[0][3], Y: t[1][3], Z: t[2][3]}
}

// Apply transforms a point.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return r3.Vector{
		X: t[0][0]*p.X + t[0][1]*p.Y + t[0][2]*p.Z + t[0][3],
		Y: t[1][0]*p.X + t[1][1]*p.Y + t[1][2]*p.Z + t[1][3],
		Z: t[2][0]*p.X + t[2][1]*p.Y + t[2][2]*p.Z + t[2][3],
	}
}

// Mul composes two transforms: result = t * o.
// Applying result is equivalent to applying o first, then t.
func (t Transform) Mul(o Transform) Transform {
	var r Transform
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var s float64
			for k := 0; k < 4; k++ {
				s += t[i][k] * o[k][j]
			}
			r[i][j] = s
		}
	}
	return r
}

// Inverse returns the inverse of a rigid transform (R^T, -R^T t).
func (t Transform) Inverse() Transform {
	var r [3][3]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = t[j][i]
		}
	}
	tr := t.Translation()
	inv := r3.Vector{
		X: -(r[0][0]*tr.X + r[0][1]*tr.Y + r[0][2]*tr.Z),
		Y: -(r[1][0]*tr.X + r[1][1]*tr.Y + r[1][2]*tr.Z),
		Z: -(r[2][0]*tr.X + r[2][1]*tr.Y + r[2][2]*tr.Z),
	}
	return NewTransform(r, inv)
}

// IsRigid reports whether the rotation block is orthonormal with determinant
// +1 and the last row is [0 0 0 1], within tol.
func (t Transform) IsRigid(tol float64) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if math.IsNaN(t[i][j]) || math.IsInf(t[i][j], 0) {
				return false
			}
		}
	}
	if math.Abs(t[3][0]) > tol || math.Abs(t[3][1]) > tol || math.Abs(t[3][2]) > tol || math.Abs(t[3][3]-1) > tol {
		return false
	}
	// R R^T == I
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			var s float64
			for k := 0; k < 3; k++ {
				s += t[i][k] * t[j][k]
			}
			want := 0.0
			if i == j {
				want = 1
			}
			if math.Abs(s-want) > tol {
				return false
			}
		}
	}
	return math.Abs(det3(t.Rotation())-1) <= tol
}

// Validate returns ErrInvalidPose when the transform is not rigid.
func (t Transform) Validate() error {
	if !t.IsRigid(RigidTolerance) {
		return ErrInvalidPose
	}
	return nil
}

// EulerZYX decomposes the rotation as R = Rz(yaw) * Ry(pitch) * Rx(roll)
// and returns the angles in radians.
func (t Transform) EulerZYX() (yaw, pitch, roll float64) {
	return EulerZYX(t.Rotation())
}

// EulerZYX decomposes a rotation matrix as R = Rz(yaw) * Ry(pitch) * Rx(roll).
func EulerZYX(r [3][3]float64) (yaw, pitch, roll float64) {
	sp := -r[2][0]
	if sp > 1 {
		sp = 1
	} else if sp < -1 {
		sp = -1
	}
	pitch = math.Asin(sp)
	if math.Abs(sp) > 1-1e-12 {
		// gimbal lock: roll is folded into yaw
		yaw = math.Atan2(-r[0][1], r[1][1])
		return yaw, pitch, 0
	}
	yaw = math.Atan2(r[1][0], r[0][0])
	roll = math.Atan2(r[2][1], r[2][2])
	return yaw, pitch, roll
}

// RotationZYX builds R = Rz(yaw) * Ry(pitch) * Rx(roll).
func RotationZYX(yaw, pitch, roll float64) [3][3]float64 {
	cy, sy := math.Cos(yaw), math.Sin(yaw)
	cp, sp := math.Cos(pitch), math.Sin(pitch)
	cr, sr := math.Cos(roll), math.Sin(roll)
	return [3][3]float64{
		{cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr},
		{sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr},
		{-sp, cp * sr, cp * cr},
	}
}

// WithoutRollPitch returns the transform with its roll and pitch zeroed,
// keeping yaw and translation. Gravity is assumed to point along -Z.
func (t Transform) WithoutRollPitch() Transform {
	yaw, _, _ := t.EulerZYX()
	return NewTransform(RotationZYX(yaw, 0, 0), t.Translation())
}

// FromQuaternion builds a transform from a rotation quaternion and a translation.
// The quaternion is normalized first.
func FromQuaternion(q quat.Number, t r3.Vector) Transform {
	n := quat.Abs(q)
	if n == 0 {
		return Translation(t)
	}
	q = quat.Scale(1/n, q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	r := [3][3]float64{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
	return NewTransform(r, t)
}

// Quaternion returns the unit quaternion of the rotation block.
func (t Transform) Quaternion() quat.Number {
	r := t.Rotation()
	tr := r[0][0] + r[1][1] + r[2][2]
	var q quat.Number
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = quat.Number{Real: 0.25 * s, Imag: (r[2][1] - r[1][2]) / s, Jmag: (r[0][2] - r[2][0]) / s, Kmag: (r[1][0] - r[0][1]) / s}
	case r[0][0] > r[1][1] && r[0][0] > r[2][2]:
		s := math.Sqrt(1+r[0][0]-r[1][1]-r[2][2]) * 2
		q = quat.Number{Real: (r[2][1] - r[1][2]) / s, Imag: 0.25 * s, Jmag: (r[0][1] + r[1][0]) / s, Kmag: (r[0][2] + r[2][0]) / s}
	case r[1][1] > r[2][2]:
		s := math.Sqrt(1+r[1][1]-r[0][0]-r[2][2]) * 2
		q = quat.Number{Real: (r[0][2] - r[2][0]) / s, Imag: (r[0][1] + r[1][0]) / s, Jmag: 0.25 * s, Kmag: (r[1][2] + r[2][1]) / s}
	default:
		s := math.Sqrt(1+r[2][2]-r[0][0]-r[1][1]) * 2
		q = quat.Number{Real: (r[1][0] - r[0][1]) / s, Imag: (r[0][2] + r[2][0]) / s, Jmag: (r[1][2] + r[2][1]) / s, Kmag: 0.25 * s}
	}
	return quat.Scale(1/quat.Abs(q), q)
}

// Slerp interpolates between two unit quaternions, u in [0,1].
func Slerp(a, b quat.Number, u float64) quat.Number {
	dot := a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
	if dot < 0 {
		b = quat.Scale(-1, b)
		dot = -dot
	}
	if dot > 0.9995 {
		// nearly parallel, fall back to normalized lerp
		q := quat.Add(quat.Scale(1-u, a), quat.Scale(u, b))
		return quat.Scale(1/quat.Abs(q), q)
	}
	theta := math.Acos(dot)
	s := math.Sin(theta)
	wa := math.Sin((1-u)*theta) / s
	wb := math.Sin(u*theta) / s
	return quat.Add(quat.Scale(wa, a), quat.Scale(wb, b))
}

func det3(r [3][3]float64) float64 {
	return r[0][0]*(r[1][1]*r[2][2]-r[1][2]*r[2][1]) -
		r[0][1]*(r[1][0]*r[2][2]-r[1][2]*r[2][0]) +
		r[0][2]*(r[1][0]*r[2][1]-r[1][1]*r[2][0])
}
