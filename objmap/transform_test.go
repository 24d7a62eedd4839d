package objmap

import (
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
)

const epsilon = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < epsilon
}

func vecEqual(a, b r3.Vector) bool {
	return almostEqual(a.X, b.X) && almostEqual(a.Y, b.Y) && almostEqual(a.Z, b.Z)
}

func transformsEqual(a, b Transform) bool {
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			if !almostEqual(a[i][j], b[i][j]) {
				return false
			}
		}
	}
	return true
}

func deg(d float64) float64 { return d * math.Pi / 180 }

func TestTransformApply(t *testing.T) {
	tests := []struct {
		name  string
		tf    Transform
		point r3.Vector
		want  r3.Vector
	}{
		{
			name:  "identity",
			tf:    Identity(),
			point: r3.Vector{X: 1, Y: 2, Z: 3},
			want:  r3.Vector{X: 1, Y: 2, Z: 3},
		},
		{
			name:  "translation only",
			tf:    Translation(r3.Vector{X: 10, Y: -5, Z: 1}),
			point: r3.Vector{X: 1, Y: 1, Z: 1},
			want:  r3.Vector{X: 11, Y: -4, Z: 2},
		},
		{
			name:  "yaw 90",
			tf:    NewTransform(RotationZYX(deg(90), 0, 0), r3.Vector{}),
			point: r3.Vector{X: 1},
			want:  r3.Vector{Y: 1},
		},
		{
			name:  "roll 90 then translate",
			tf:    NewTransform(RotationZYX(0, 0, deg(90)), r3.Vector{Z: 1}),
			point: r3.Vector{Y: 1},
			want:  r3.Vector{Z: 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.tf.Apply(tt.point)
			if !vecEqual(got, tt.want) {
				t.Errorf("Apply() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTransformInverse(t *testing.T) {
	tf := NewTransform(RotationZYX(deg(30), deg(-10), deg(5)), r3.Vector{X: 3, Y: -2, Z: 7})
	if got := tf.Mul(tf.Inverse()); !transformsEqual(got, Identity()) {
		t.Errorf("T * T^-1 = %v, want identity", got)
	}
	if got := tf.Inverse().Mul(tf); !transformsEqual(got, Identity()) {
		t.Errorf("T^-1 * T = %v, want identity", got)
	}
}

func TestEulerZYXRoundTrip(t *testing.T) {
	tests := []struct {
		yaw, pitch, roll float64
	}{
		{0, 0, 0},
		{deg(45), 0, 0},
		{deg(10), deg(20), deg(30)},
		{deg(-170), deg(-45), deg(60)},
		{deg(90), deg(5), deg(-5)},
	}
	for _, tt := range tests {
		yaw, pitch, roll := EulerZYX(RotationZYX(tt.yaw, tt.pitch, tt.roll))
		if !almostEqual(yaw, tt.yaw) || !almostEqual(pitch, tt.pitch) || !almostEqual(roll, tt.roll) {
			t.Errorf("EulerZYX(RotationZYX(%v, %v, %v)) = (%v, %v, %v)", tt.yaw, tt.pitch, tt.roll, yaw, pitch, roll)
		}
	}
}

func TestWithoutRollPitch(t *testing.T) {
	tf := NewTransform(RotationZYX(deg(40), deg(12), deg(-8)), r3.Vector{X: 1, Y: 2, Z: 3})
	g := tf.WithoutRollPitch()

	yaw, pitch, roll := g.EulerZYX()
	if !almostEqual(pitch, 0) || !almostEqual(roll, 0) {
		t.Errorf("gravity-aligned pose has pitch=%v roll=%v, want 0", pitch, roll)
	}
	if !almostEqual(yaw, deg(40)) {
		t.Errorf("yaw = %v, want %v", yaw, deg(40))
	}
	if !vecEqual(g.Translation(), tf.Translation()) {
		t.Errorf("translation changed: %v", g.Translation())
	}
}

func TestTransformFromRows(t *testing.T) {
	_, err := TransformFromRows([][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}})
	if !errors.Is(err, ErrPoseShape) {
		t.Errorf("3x3 input: err = %v, want ErrPoseShape", err)
	}

	_, err = TransformFromRows([][]float64{{2, 0, 0, 0}, {0, 1, 0, 0}, {0, 0, 1, 0}, {0, 0, 0, 1}})
	if !errors.Is(err, ErrInvalidPose) {
		t.Errorf("scaled input: err = %v, want ErrInvalidPose", err)
	}

	want := NewTransform(RotationZYX(deg(15), 0, 0), r3.Vector{X: 4})
	got, err := TransformFromRows(want.Rows())
	if err != nil {
		t.Fatalf("TransformFromRows() error: %v", err)
	}
	if got != want {
		t.Errorf("TransformFromRows() = %v, want %v", got, want)
	}

	got, err = TransformFromDense(want.Dense())
	if err != nil {
		t.Fatalf("TransformFromDense() error: %v", err)
	}
	if got != want {
		t.Errorf("TransformFromDense() = %v, want %v", got, want)
	}
}

func TestQuaternionRoundTrip(t *testing.T) {
	for _, r := range [][3]float64{{0, 0, 0}, {deg(170), deg(10), deg(-20)}, {deg(-90), deg(45), deg(179)}} {
		tf := NewTransform(RotationZYX(r[0], r[1], r[2]), r3.Vector{X: 1, Y: 2, Z: 3})
		got := FromQuaternion(tf.Quaternion(), tf.Translation())
		if !transformsEqual(got, tf) {
			t.Errorf("quaternion round trip for %v: got %v, want %v", r, got, tf)
		}
	}
}

func TestSlerpEndpoints(t *testing.T) {
	a := NewTransform(RotationZYX(0, 0, 0), r3.Vector{}).Quaternion()
	b := NewTransform(RotationZYX(deg(90), 0, 0), r3.Vector{}).Quaternion()

	mid := FromQuaternion(Slerp(a, b, 0.5), r3.Vector{})
	yaw, _, _ := mid.EulerZYX()
	if !almostEqual(yaw, deg(45)) {
		t.Errorf("slerp midpoint yaw = %v, want %v", yaw, deg(45))
	}
	end := FromQuaternion(Slerp(a, b, 1), r3.Vector{})
	if yaw, _, _ := end.EulerZYX(); !almostEqual(yaw, deg(90)) {
		t.Errorf("slerp end yaw = %v, want %v", yaw, deg(90))
	}
}
