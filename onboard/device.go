package onboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/CodedInternet/panthera/onboard/hardware"
	"github.com/CodedInternet/panthera/onboard/kinematics"
)

const (
	zeroSpeed     = 1.0  // rad/s
	reachAccuracy = 0.01 // m, per axis
)

var (
	ErrUnreachable = errors.New("position not reachable")
	ErrNoGripper   = errors.New("no gripper configured")
	ErrNoPoseStore = errors.New("no pose store attached")
)

var log = logrus.WithField("pkg", "onboard")

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(entry *logrus.Entry) {
	if entry == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		entry = logrus.NewEntry(l)
	}
	log = entry
}

// ReferencePose is the seed used for position moves: (0, 30°, -36°, 65°, 0, 0).
var ReferencePose = kinematics.JointFromDegrees([kinematics.Joints]float64{0, 30, -36, 65, 0, 0})

type armMotor struct {
	*hardware.Motor
	config MotorConfig
}

// command converts an arm angle into the angle sent to this motor.
func (m armMotor) command(angle float64) float64 {
	if m.config.Inverted {
		return -angle
	}
	return angle
}

// Follower is the arm: the joint motors, the gripper and the solver.
type Follower struct {
	control *hardware.MotorControl
	kin     *kinematics.Kinematic
	config  *ArmConfig
	poses   *PoseStore

	joints  []armMotor
	gripper *armMotor
}

// NewFollower registers every configured motor with control.
func NewFollower(control *hardware.MotorControl, kin *kinematics.Kinematic, config *ArmConfig) (f *Follower, err error) {
	f = &Follower{
		control: control,
		kin:     kin,
		config:  config,
	}

	for _, mc := range config.Joints() {
		m := hardware.NewMotor(mc.Type, mc.Slave, mc.Master)
		if err = control.AddMotor(m); err != nil {
			return nil, fmt.Errorf("motor %q: %w", mc.Name, err)
		}
		if len(f.joints) < kinematics.Joints {
			f.joints = append(f.joints, armMotor{m, mc})
		} else {
			log.Warnf("motor %q registered but not driven as a joint", mc.Name)
		}
	}

	if mc, ok := config.GripperMotor(); ok {
		m := hardware.NewMotor(mc.Type, mc.Slave, mc.Master)
		if err = control.AddMotor(m); err != nil {
			return nil, fmt.Errorf("gripper %q: %w", mc.Name, err)
		}
		f.gripper = &armMotor{m, mc}
	}

	return f, nil
}

func (f *Follower) SetPoseStore(ps *PoseStore) {
	f.poses = ps
}

// Init starts the controller and puts each motor into its configured mode.
func (f *Follower) Init(ctx context.Context) (err error) {
	if err = f.control.Init(); err != nil {
		return err
	}

	for _, m := range f.motors() {
		if m.config.Mode == m.ControlMode() {
			continue
		}
		if e := f.control.SwitchControlMode(ctx, m.Motor, m.config.Mode); e != nil {
			err = multierr.Append(err, fmt.Errorf("motor %q: %w", m.config.Name, e))
		}
	}
	return
}

func (f *Follower) motors() []armMotor {
	out := append([]armMotor(nil), f.joints...)
	if f.gripper != nil {
		out = append(out, *f.gripper)
	}
	return out
}

func (f *Follower) Enable(ctx context.Context) error {
	log.Info("follower enabled")
	return f.control.EnableAllMotors(ctx)
}

func (f *Follower) Disable(ctx context.Context) error {
	log.Info("follower disabled")
	return f.control.DisableAllMotors(ctx)
}

// GotoZero drives every motor to 0 at 1 rad/s.
func (f *Follower) GotoZero(ctx context.Context) (err error) {
	for _, m := range f.control.Motors() {
		if e := f.control.PosVelControl(ctx, m, 0, zeroSpeed); e != nil {
			err = multierr.Append(err, e)
		}
	}
	return
}

// SetZero stores the current position of every motor as its zero.
func (f *Follower) SetZero(ctx context.Context) (err error) {
	for _, m := range f.control.Motors() {
		if e := f.control.SaveZeroPosition(ctx, m); e != nil {
			err = multierr.Append(err, e)
		}
	}
	return
}

// GotoJoints commands each joint to its angle at the joint's configured
// speed.
func (f *Follower) GotoJoints(ctx context.Context, j kinematics.Joint) (err error) {
	for i, m := range f.joints {
		if e := f.control.PosVelControl(ctx, m.Motor, m.command(j[i]), m.config.Speed); e != nil {
			err = multierr.Append(err, fmt.Errorf("joint %d: %w", i, e))
		}
	}
	return
}

// SolvePosition finds joint angles placing the tool at (x, y, z) with the
// orientation of the reference pose.
func (f *Follower) SolvePosition(x, y, z float64) (kinematics.Joint, error) {
	target := f.kin.SolveForwardKinematics(ReferencePose)
	target.SetPosition(kinematics.Position{x, y, z})

	q, ikErr := f.kin.SolveInverseKinematics(target, ReferencePose)
	got := f.kin.SolveForwardKinematics(q).Position()

	for i, want := range target.Position() {
		if math.Abs(got[i]-want) > reachAccuracy {
			if ikErr != nil {
				return q, fmt.Errorf("%w: (%.3f, %.3f, %.3f): %v", ErrUnreachable, x, y, z, ikErr)
			}
			return q, fmt.Errorf("%w: (%.3f, %.3f, %.3f)", ErrUnreachable, x, y, z)
		}
	}
	if ikErr != nil {
		log.WithError(ikErr).Warn("solver stopped early but the position is within reach")
	}
	return q, nil
}

func (f *Follower) GotoPosition(ctx context.Context, x, y, z float64) (kinematics.Joint, error) {
	q, err := f.SolvePosition(x, y, z)
	if err != nil {
		return q, err
	}

	log.WithField("joints", q).Infof("moving to (%.3f, %.3f, %.3f)", x, y, z)
	return q, f.GotoJoints(ctx, q)
}

// ReadJoints polls every joint and returns the arm angles.
func (f *Follower) ReadJoints(ctx context.Context) (j kinematics.Joint, err error) {
	for i, m := range f.joints {
		if e := f.control.RefreshMotorStatus(ctx, m.Motor); e != nil {
			err = multierr.Append(err, fmt.Errorf("joint %d: %w", i, e))
			continue
		}
		j[i] = m.command(m.Feedback().Position)
	}
	return
}

// ReadPositions polls every motor, gripper included, and returns the motors
// in master id order.
func (f *Follower) ReadPositions(ctx context.Context) (motors []*hardware.Motor, err error) {
	motors = f.control.Motors()
	for _, m := range motors {
		if e := f.control.RefreshMotorStatus(ctx, m); e != nil {
			err = multierr.Append(err, e)
		}
	}
	return
}

// Status writes the feedback table for every motor.
func (f *Follower) Status(w io.Writer) error {
	return hardware.WriteStatusTable(w, f.control.Motors())
}

func (f *Follower) Gripper(ctx context.Context, pos float64) error {
	if f.gripper == nil {
		return ErrNoGripper
	}
	return f.control.PosVelControl(ctx, f.gripper.Motor, f.gripper.command(pos), f.gripper.config.Speed)
}

func (f *Follower) OpenGripper(ctx context.Context) error {
	return f.Gripper(ctx, f.config.Gripper.Open)
}

func (f *Follower) CloseGripper(ctx context.Context) error {
	return f.Gripper(ctx, f.config.Gripper.Close)
}

// SavePose stores the current joint angles (and gripper position) as name.
func (f *Follower) SavePose(ctx context.Context, name string) (Pose, error) {
	if f.poses == nil {
		return Pose{}, ErrNoPoseStore
	}

	j, err := f.ReadJoints(ctx)
	if err != nil {
		return Pose{}, err
	}
	p := Pose{Name: name, Joints: j}
	if f.gripper != nil {
		if err = f.control.RefreshMotorStatus(ctx, f.gripper.Motor); err != nil {
			return Pose{}, err
		}
		p.Gripper = f.gripper.command(f.gripper.Feedback().Position)
	}

	return p, f.poses.Save(p)
}

// GotoPose moves the joints, and the gripper if there is one, to a stored
// pose.
func (f *Follower) GotoPose(ctx context.Context, name string) error {
	if f.poses == nil {
		return ErrNoPoseStore
	}

	p, err := f.poses.Get(name)
	if err != nil {
		return err
	}

	err = f.GotoJoints(ctx, p.Joints)
	if f.gripper != nil {
		err = multierr.Append(err, f.Gripper(ctx, p.Gripper))
	}
	return err
}

func (f *Follower) Poses() ([]Pose, error) {
	if f.poses == nil {
		return nil, ErrNoPoseStore
	}
	return f.poses.List()
}

func (f *Follower) DeletePose(name string) error {
	if f.poses == nil {
		return ErrNoPoseStore
	}
	return f.poses.Delete(name)
}

func (f *Follower) Close() error {
	return f.control.Close()
}
