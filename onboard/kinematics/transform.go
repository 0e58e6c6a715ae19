package kinematics

import (
	"fmt"
	"io"
	. "math"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	axisAngleEpsilon = 1e-6
	pivotEpsilon     = 1e-9
	sinEpsilon       = 1e-8
)

// Position is a point or translation in metres.
type Position = mgl64.Vec3

type AxisAngle struct {
	Axis  mgl64.Vec3
	Angle float64 // rad
}

// Twist is a translation followed by a rotation vector (axis * angle).
type Twist [6]float64

// TransformMatrix is a rigid homogeneous transform. The bottom row is always
// 0 0 0 1.
type TransformMatrix struct {
	m mgl64.Mat4
}

func Identity() TransformMatrix {
	return TransformMatrix{mgl64.Ident4()}
}

// NewTransform builds a transform from a rotation and a translation.
func NewTransform(rot mgl64.Mat3, pos Position) TransformMatrix {
	t := TransformMatrix{rot.Mat4()}
	t.SetPosition(pos)
	return t
}

// At reads row, col (row major, zero based).
func (t TransformMatrix) At(row, col int) float64 {
	return t.m.At(row, col)
}

func (t *TransformMatrix) Set(row, col int, v float64) {
	t.m.Set(row, col, v)
}

func (t TransformMatrix) Mat4() mgl64.Mat4 {
	return t.m
}

func (t TransformMatrix) Mul(o TransformMatrix) TransformMatrix {
	return TransformMatrix{t.m.Mul4(o.m)}
}

// Inverse uses the rigid body form: R' = Rᵀ, t' = -Rᵀt.
func (t TransformMatrix) Inverse() TransformMatrix {
	rt := t.Rotation().Transpose()
	return NewTransform(rt, rt.Mul3x1(t.Position()).Mul(-1))
}

func (t TransformMatrix) Position() Position {
	return Position{t.m.At(0, 3), t.m.At(1, 3), t.m.At(2, 3)}
}

func (t *TransformMatrix) SetPosition(p Position) {
	t.m.Set(0, 3, p.X())
	t.m.Set(1, 3, p.Y())
	t.m.Set(2, 3, p.Z())
}

func (t TransformMatrix) Rotation() mgl64.Mat3 {
	return t.m.Mat3()
}

// ToAxisAngle extracts the rotation as an axis and angle in [0, π]. Near 0
// and π the axis comes from the diagonal instead of the skew part.
func (t TransformMatrix) ToAxisAngle() AxisAngle {
	r := t.m
	trace := r.At(0, 0) + r.At(1, 1) + r.At(2, 2)
	theta := Acos(Max(-1, Min(1, 0.5*(trace-1))))

	if Abs(theta) < axisAngleEpsilon || Abs(theta-Pi) < axisAngleEpsilon {
		x := Sqrt(Max(0, (1+r.At(0, 0)-r.At(1, 1)-r.At(2, 2))/4))
		y := Sqrt(Max(0, (1-r.At(0, 0)+r.At(1, 1)-r.At(2, 2))/4))
		z := Sqrt(Max(0, (1-r.At(0, 0)-r.At(1, 1)+r.At(2, 2))/4))

		if Max(x, Max(y, z)) < pivotEpsilon {
			return AxisAngle{mgl64.Vec3{1, 0, 0}, theta}
		}

		switch {
		case x > y && x > z:
			y = (r.At(0, 1) + r.At(1, 0)) / (4 * x)
			z = (r.At(0, 2) + r.At(2, 0)) / (4 * x)
		case y > z:
			x = (r.At(0, 1) + r.At(1, 0)) / (4 * y)
			z = (r.At(1, 2) + r.At(2, 1)) / (4 * y)
		default:
			x = (r.At(0, 2) + r.At(2, 0)) / (4 * z)
			y = (r.At(1, 2) + r.At(2, 1)) / (4 * z)
		}
		return AxisAngle{mgl64.Vec3{x, y, z}, theta}
	}

	s := 2 * Sin(theta)
	if Abs(s) < sinEpsilon {
		return AxisAngle{mgl64.Vec3{1, 0, 0}, theta}
	}
	return AxisAngle{
		Axis: mgl64.Vec3{
			(r.At(2, 1) - r.At(1, 2)) / s,
			(r.At(0, 2) - r.At(2, 0)) / s,
			(r.At(1, 0) - r.At(0, 1)) / s,
		},
		Angle: theta,
	}
}

func (t TransformMatrix) ToTwist() Twist {
	p := t.Position()
	aa := t.ToAxisAngle()
	w := aa.Axis.Mul(aa.Angle)
	return Twist{p[0], p[1], p[2], w[0], w[1], w[2]}
}

// RotationError is the rotation vector taking t onto target, from
// target · t⁻¹. Non finite components are zeroed.
func (t TransformMatrix) RotationError(target TransformMatrix) mgl64.Vec3 {
	tw := target.Mul(t.Inverse()).ToTwist()

	var w mgl64.Vec3
	for i := range w {
		v := tw[3+i]
		if IsNaN(v) || IsInf(v, 0) {
			v = 0
		}
		w[i] = v
	}
	return w
}

// ApproxEqual reports whether every element of t is within eps of o.
func (t TransformMatrix) ApproxEqual(o TransformMatrix, eps float64) bool {
	for i := range t.m {
		if Abs(t.m[i]-o.m[i]) > eps {
			return false
		}
	}
	return true
}

func (t TransformMatrix) String() string {
	s := ""
	for row := 0; row < 4; row++ {
		s += fmt.Sprintf("[% .5f % .5f % .5f % .5f]\n", t.At(row, 0), t.At(row, 1), t.At(row, 2), t.At(row, 3))
	}
	return s
}

func (t TransformMatrix) Print(w io.Writer) {
	io.WriteString(w, t.String())
}
