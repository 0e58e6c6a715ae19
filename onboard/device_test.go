package onboard

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/CodedInternet/panthera/onboard/canbus"
	"github.com/CodedInternet/panthera/onboard/hardware"
	"github.com/CodedInternet/panthera/onboard/kinematics"
)

func init() {
	SetLogger(nil)
	canbus.SetLogger(nil)
	hardware.SetLogger(nil)
	kinematics.SetLogger(nil)
}

func createTestFollower() (sim *SimulatedDrives, f *Follower) {
	config := DefaultArmConfig()

	bus := canbus.NewVirtualBus()
	sim = NewSimulatedDrives(bus)
	sim.AddArm(config)

	control := hardware.NewMotorControl(bus,
		hardware.WithPacing(hardware.Pacing{}),
		hardware.WithRefreshTimeout(100*time.Millisecond),
	)
	f, err := NewFollower(control, kinematics.NewKinematic(), config)
	So(err, ShouldBeNil)
	So(f.Init(context.Background()), ShouldBeNil)
	return
}

func TestFollower(t *testing.T) {
	ctx := context.Background()

	Convey("Given a follower on simulated drives", t, func() {
		sim, f := createTestFollower()
		defer f.Close()

		So(f.joints, ShouldHaveLength, kinematics.Joints)
		So(f.gripper, ShouldNotBeNil)
		So(f.control.Motors(), ShouldHaveLength, 7)

		Convey("motors are registered once", func() {
			_, err := NewFollower(f.control, f.kin, f.config)
			So(err, ShouldNotBeNil)
		})

		Convey("commands are ignored until enabled", func() {
			So(f.GotoJoints(ctx, ReferencePose), ShouldBeNil)
			d, _ := sim.Drive(0x02)
			So(d.Enabled, ShouldBeFalse)
			So(d.Position, ShouldEqual, 0)
		})

		Convey("once enabled", func() {
			So(f.Enable(ctx), ShouldBeNil)
			for _, mc := range f.config.Motors {
				d, ok := sim.Drive(mc.Slave)
				So(ok, ShouldBeTrue)
				So(d.Enabled, ShouldBeTrue)
			}

			Convey("joint moves honour the inverted elbow", func() {
				So(f.GotoJoints(ctx, ReferencePose), ShouldBeNil)

				for i, mc := range f.config.Joints() {
					d, _ := sim.Drive(mc.Slave)
					want := ReferencePose[i]
					if mc.Inverted {
						want = -want
					}
					So(d.Position, ShouldAlmostEqual, want, 1e-6)
				}

				Convey("and read back as arm angles", func() {
					j, err := f.ReadJoints(ctx)
					So(err, ShouldBeNil)
					for i := range j {
						So(j[i], ShouldAlmostEqual, ReferencePose[i], 1e-3)
					}
				})
			})

			Convey("position moves solve and drive the joints", func() {
				t1 := f.kin.SolveForwardKinematics(ReferencePose).Position()
				want := t1.Add(kinematics.Position{0.02, 0.02, -0.02})

				q, err := f.GotoPosition(ctx, want[0], want[1], want[2])
				So(err, ShouldBeNil)

				got := f.kin.SolveForwardKinematics(q).Position()
				for i := 0; i < 3; i++ {
					So(got[i], ShouldAlmostEqual, want[i], reachAccuracy)
				}

				d, _ := sim.Drive(0x01)
				So(d.Position, ShouldAlmostEqual, q[0], 1e-6)
				d, _ = sim.Drive(0x03)
				So(d.Position, ShouldAlmostEqual, -q[2], 1e-6)
			})

			Convey("unreachable positions leave the arm where it is", func() {
				So(f.GotoJoints(ctx, ReferencePose), ShouldBeNil)

				_, err := f.GotoPosition(ctx, 0.32, 0, 0.397)
				So(errors.Is(err, ErrUnreachable), ShouldBeTrue)

				d, _ := sim.Drive(0x04)
				So(d.Position, ShouldAlmostEqual, ReferencePose[3], 1e-6)
			})

			Convey("goto zero sends every motor home", func() {
				So(f.GotoJoints(ctx, ReferencePose), ShouldBeNil)
				So(f.OpenGripper(ctx), ShouldBeNil)
				So(f.GotoZero(ctx), ShouldBeNil)

				for _, mc := range f.config.Motors {
					d, _ := sim.Drive(mc.Slave)
					So(d.Position, ShouldEqual, 0)
				}
			})

			Convey("set zero resets the drive encoders", func() {
				So(f.GotoJoints(ctx, ReferencePose), ShouldBeNil)
				So(f.SetZero(ctx), ShouldBeNil)

				d, _ := sim.Drive(0x02)
				So(d.Position, ShouldEqual, 0)
			})

			Convey("the gripper opens and closes", func() {
				So(f.OpenGripper(ctx), ShouldBeNil)
				d, _ := sim.Drive(0x07)
				So(d.Position, ShouldAlmostEqual, f.config.Gripper.Open, 1e-6)

				So(f.CloseGripper(ctx), ShouldBeNil)
				d, _ = sim.Drive(0x07)
				So(d.Position, ShouldAlmostEqual, f.config.Gripper.Close, 1e-6)
			})

			Convey("positions and status are read for every motor", func() {
				So(f.GotoJoints(ctx, ReferencePose), ShouldBeNil)

				motors, err := f.ReadPositions(ctx)
				So(err, ShouldBeNil)
				So(motors, ShouldHaveLength, 7)
				So(motors[1].Feedback().Position, ShouldAlmostEqual, ReferencePose[1], 1e-3)
				So(motors[1].Feedback().State, ShouldEqual, hardware.StateEnabled)
				So(motors[1].Feedback().TemperMOS, ShouldEqual, SIM_TEMPERATURE)

				var buf bytes.Buffer
				So(f.Status(&buf), ShouldBeNil)
				lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
				So(lines, ShouldHaveLength, 8)
				So(lines[2], ShouldContainSubstring, "0x12")
				So(lines[2], ShouldContainSubstring, "POS_VEL")
			})

			Convey("faults are reported in feedback", func() {
				sim.SetFault(0x05, hardware.StateMOSOverTemp)
				motors, _ := f.ReadPositions(ctx)
				So(motors[4].Feedback().State, ShouldEqual, hardware.StateMOSOverTemp)
				So(motors[4].Feedback().State.Fault(), ShouldBeTrue)
			})

			Convey("disabling stops every drive", func() {
				So(f.Disable(ctx), ShouldBeNil)
				for _, mc := range f.config.Motors {
					d, _ := sim.Drive(mc.Slave)
					So(d.Enabled, ShouldBeFalse)
				}
			})

			Convey("poses need a store", func() {
				_, err := f.SavePose(ctx, "home")
				So(err, ShouldEqual, ErrNoPoseStore)
				So(f.GotoPose(ctx, "home"), ShouldEqual, ErrNoPoseStore)
				_, err = f.Poses()
				So(err, ShouldEqual, ErrNoPoseStore)
			})

			Convey("with a pose store", func() {
				ps, err := OpenPoseStore(filepath.Join(t.TempDir(), "poses.db"))
				So(err, ShouldBeNil)
				defer ps.Close()
				f.SetPoseStore(ps)

				So(f.GotoJoints(ctx, ReferencePose), ShouldBeNil)
				So(f.CloseGripper(ctx), ShouldBeNil)

				p, err := f.SavePose(ctx, "ready")
				So(err, ShouldBeNil)
				So(p.Joints[1], ShouldAlmostEqual, ReferencePose[1], 1e-3)
				So(p.Gripper, ShouldAlmostEqual, f.config.Gripper.Close, 1e-3)

				Convey("the arm returns to a saved pose", func() {
					So(f.GotoZero(ctx), ShouldBeNil)
					So(f.GotoPose(ctx, "ready"), ShouldBeNil)

					d, _ := sim.Drive(0x03)
					So(d.Position, ShouldAlmostEqual, -ReferencePose[2], 1e-3)
					d, _ = sim.Drive(0x07)
					So(d.Position, ShouldAlmostEqual, f.config.Gripper.Close, 1e-3)
				})

				Convey("poses are listed and removed", func() {
					poses, err := f.Poses()
					So(err, ShouldBeNil)
					So(poses, ShouldHaveLength, 1)
					So(poses[0].Name, ShouldEqual, "ready")

					So(f.DeletePose("ready"), ShouldBeNil)
					poses, _ = f.Poses()
					So(poses, ShouldBeEmpty)
				})

				Convey("unknown poses are reported", func() {
					So(errors.Is(f.GotoPose(ctx, "nowhere"), ErrPoseNotFound), ShouldBeTrue)
				})
			})
		})
	})
}

func TestFollowerModes(t *testing.T) {
	ctx := context.Background()

	Convey("Given a gripper configured for velocity control", t, func() {
		config := DefaultArmConfig()
		config.Motors[6].Mode = hardware.ModeVel

		bus := canbus.NewVirtualBus()
		sim := NewSimulatedDrives(bus)
		sim.AddArm(config)

		control := hardware.NewMotorControl(bus, hardware.WithPacing(hardware.Pacing{}))
		f, err := NewFollower(control, kinematics.NewKinematic(), config)
		So(err, ShouldBeNil)
		defer f.Close()

		Convey("init switches the drive into that mode", func() {
			So(f.Init(ctx), ShouldBeNil)

			d, _ := sim.Drive(0x07)
			So(d.Mode, ShouldEqual, hardware.ModeVel)
			d, _ = sim.Drive(0x01)
			So(d.Mode, ShouldEqual, hardware.ModePosVel)

			Convey("and position commands to it are refused", func() {
				So(f.Enable(ctx), ShouldBeNil)
				So(f.OpenGripper(ctx), ShouldNotBeNil)
			})
		})
	})
}
