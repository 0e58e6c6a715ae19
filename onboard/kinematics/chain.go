package kinematics

import (
	"fmt"
	. "math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/sirupsen/logrus"
)

const Joints = 6

var log = logrus.WithField("pkg", "kinematics")

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(entry *logrus.Entry) {
	if entry == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		entry = logrus.NewEntry(l)
	}
	log = entry
}

// Joint holds one angle per axis in rad.
type Joint [Joints]float64

func (j Joint) String() string {
	return fmt.Sprintf("[% .4f % .4f % .4f % .4f % .4f % .4f]", j[0], j[1], j[2], j[3], j[4], j[5])
}

// Degrees converts j to degrees, mostly for display.
func (j Joint) Degrees() (d [Joints]float64) {
	for i, a := range j {
		d[i] = mgl64.RadToDeg(a)
	}
	return
}

func JointFromDegrees(d [Joints]float64) (j Joint) {
	for i, a := range d {
		j[i] = mgl64.DegToRad(a)
	}
	return
}

// DHParam is one row of a Denavit-Hartenberg table. Extra is a fixed offset
// added to the joint angle on top of ThetaOffset.
type DHParam struct {
	ThetaOffset float64
	D           float64
	A           float64
	Alpha       float64
	Extra       float64
}

// PantheraDH is the follower arm's geometry.
var PantheraDH = [Joints]DHParam{
	{0, 0.1005, 0, -Pi / 2, 0},
	{0, 0, 0.18, 0, Pi},
	{0, 0, 0.188809, 0, 162.429 * Pi / 180},
	{0, 0, 0.08, -Pi / 2, 17.5715 * Pi / 180},
	{0, 0, 0, Pi / 2, Pi / 2},
	{0, 0.184, 0, Pi / 2, -Pi / 2},
}

// Kinematic solves forward and inverse kinematics for a six axis serial
// chain.
type Kinematic struct {
	DH            [Joints]DHParam
	Tolerance     float64
	MaxIterations int
	// Damping is added to the diagonal of JᵀJ when it is singular. Zero
	// disables damping.
	Damping       float64
}

func NewKinematic() *Kinematic {
	return &Kinematic{
		DH:            PantheraDH,
		Tolerance:     DefaultTolerance,
		MaxIterations: DefaultMaxIterations,
		Damping:       DefaultDamping,
	}
}

// CalculateDHTransform returns the link transform for joint i at angle theta.
func (k *Kinematic) CalculateDHTransform(i int, theta float64) (TransformMatrix, error) {
	if i < 0 || i >= Joints {
		return Identity(), fmt.Errorf("joint %d out of range", i)
	}
	return k.link(i, theta), nil
}

func (k *Kinematic) link(i int, theta float64) TransformMatrix {
	p := k.DH[i]
	th := p.ThetaOffset + theta + p.Extra
	ct, st := Cos(th), Sin(th)
	ca, sa := Cos(p.Alpha), Sin(p.Alpha)

	// mgl64 takes column major order
	return TransformMatrix{mgl64.Mat4{
		ct, st, 0, 0,
		-st * ca, ct * ca, sa, 0,
		st * sa, -ct * sa, ca, 0,
		p.A * ct, p.A * st, p.D, 1,
	}}
}

// frames returns the base frame followed by the frame after each joint.
func (k *Kinematic) frames(j Joint) (f [Joints + 1]TransformMatrix) {
	f[0] = Identity()
	for i := 0; i < Joints; i++ {
		f[i+1] = f[i].Mul(k.link(i, j[i]))
	}
	return
}

func (k *Kinematic) SolveForwardKinematics(j Joint) TransformMatrix {
	f := k.frames(j)
	return f[Joints]
}

// Jacobian is the geometric Jacobian at j: column i is z_i × (p_end - p_i)
// stacked over z_i.
func (k *Kinematic) Jacobian(j Joint) (jac Matrix6) {
	f := k.frames(j)
	end := f[Joints].Position()

	for i := 0; i < Joints; i++ {
		z := f[i].Mat4().Col(2).Vec3()
		v := z.Cross(end.Sub(f[i].Position()))
		for r := 0; r < 3; r++ {
			jac[r][i] = v[r]
			jac[r+3][i] = z[r]
		}
	}
	return
}
