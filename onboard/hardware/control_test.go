package hardware

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"go.uber.org/multierr"

	"github.com/CodedInternet/panthera/onboard/canbus"
	errs "github.com/CodedInternet/panthera/onboard/errors"
)

func init() {
	SetLogger(nil)
}

func createTestControl() (bus *canbus.VirtualBus, c *MotorControl) {
	bus = canbus.NewVirtualBus()
	c = NewMotorControl(bus,
		WithPacing(Pacing{}),
		WithRefreshTimeout(20*time.Millisecond),
	)
	return
}

// replyToPolls answers every status poll with a feedback frame, the way a
// drive does.
func replyToPolls(bus *canbus.VirtualBus, c *MotorControl, pos float64) {
	bus.OnSend(func(msg canbus.CANMsg) {
		if msg.ID != canbus.BroadcastID || msg.Data[2] != paramPoll {
			return
		}
		slave := uint32(msg.Data[0]) | uint32(msg.Data[1])<<8
		for _, m := range c.Motors() {
			if m.SlaveID == slave {
				reply := EncodeFeedback(slave, Feedback{State: StateEnabled, Position: pos})
				reply.ID = m.MasterID
				bus.Inject(reply)
			}
		}
	})
}

func TestMotorControlRegistry(t *testing.T) {
	Convey("Given a controller", t, func() {
		_, c := createTestControl()
		m1 := NewMotor(DM4340, 0x03, 0x13)
		m2 := NewMotor(DM4310, 0x01, 0x11)

		So(c.AddMotor(m1), ShouldBeNil)
		So(c.AddMotor(m2), ShouldBeNil)

		Convey("lookups return exactly the registered motor", func() {
			m, err := c.GetMotorByMasterID(0x13)
			So(err, ShouldBeNil)
			So(m, ShouldPointTo, m1)
		})

		Convey("unknown ids are not found", func() {
			_, err := c.GetMotorByMasterID(0x42)
			So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
		})

		Convey("master id 0 is never registered", func() {
			So(c.AddMotor(NewMotor(DM4310, 0x05, 0x00)), ShouldEqual, errs.ErrInvalidMotorID)
			_, err := c.GetMotorByMasterID(0)
			So(err, ShouldNotBeNil)
		})

		Convey("duplicates are rejected", func() {
			err := c.AddMotor(NewMotor(DM4310, 0x09, 0x11))
			So(errors.Is(err, errs.ErrDuplicateMotor), ShouldBeTrue)
			m, _ := c.GetMotorByMasterID(0x11)
			So(m, ShouldPointTo, m2)
		})

		Convey("motors are listed by master id", func() {
			So(c.Motors(), ShouldResemble, []*Motor{m2, m1})
		})

		Convey("the map is a copy", func() {
			mm := c.GetMotorMap()
			delete(mm, 0x11)
			So(len(c.GetMotorMap()), ShouldEqual, 2)
		})

		Convey("new motors start in POS_VEL", func() {
			So(m1.ControlMode(), ShouldEqual, ModePosVel)
			So(m1.ModeID(), ShouldEqual, 0x100)
		})
	})
}

func TestMotorControlWithoutBus(t *testing.T) {
	Convey("A controller built without a bus", t, func() {
		c := NewMotorControl(nil)

		Convey("refuses to initialise", func() {
			err := c.Init()
			So(errors.Is(err, errs.ErrNotInitialized), ShouldBeTrue)
			So(errors.Is(err, errs.ErrNoMemory), ShouldBeFalse)
		})

		Convey("closes cleanly", func() {
			So(c.Close(), ShouldBeNil)
			So(c.Close(), ShouldBeNil)
		})
	})

	Convey("A zero depth rx queue is a memory error", t, func() {
		c := NewMotorControl(canbus.NewVirtualBus(), WithRxQueueDepth(0))
		So(errors.Is(c.Init(), errs.ErrNoMemory), ShouldBeTrue)
	})
}

func TestMotorControlCommands(t *testing.T) {
	ctx := context.Background()

	Convey("Commands fail before Init", t, func() {
		bus, c := createTestControl()
		m := NewMotor(DM4310, 0x01, 0x11)
		c.AddMotor(m)

		So(c.EnableMotor(ctx, m), ShouldEqual, errs.ErrNotInitialized)
		So(c.PosVelControl(ctx, m, 0, 1), ShouldEqual, errs.ErrNotInitialized)
		So(bus.Sent(), ShouldBeEmpty)
	})

	Convey("Given an initialized controller", t, func() {
		bus, c := createTestControl()
		So(c.Init(), ShouldBeNil)
		So(c.Init(), ShouldBeNil)
		Reset(func() { c.Close() })

		m := NewMotor(DM4310, 0x01, 0x11)
		So(c.AddMotor(m), ShouldBeNil)

		Convey("enable sends the enable command on the mode id", func() {
			So(c.EnableMotor(ctx, m), ShouldBeNil)
			sent := bus.Sent()
			So(len(sent), ShouldEqual, 1)
			So(sent[0].ID, ShouldEqual, 0x101)
			So(sent[0].Data, ShouldResemble, [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFC})
		})

		Convey("enable waiting on a mode switch goes to the new mode id", func() {
			c.lock.Lock()
			done := make(chan error, 1)
			go func() { done <- c.EnableMotor(ctx, m) }()
			time.Sleep(20 * time.Millisecond)
			m.setMode(ModeVel)
			c.lock.Unlock()

			So(<-done, ShouldBeNil)
			sent := bus.Sent()
			So(len(sent), ShouldEqual, 1)
			So(sent[0].ID, ShouldEqual, 0x201)
		})

		Convey("a command for another mode is refused and nothing is sent", func() {
			err := c.MITControl(ctx, m, 0, 0, 0, 0, 0)
			So(errors.Is(err, errs.ErrInvalidState), ShouldBeTrue)

			var mode errs.InvalidModeError
			So(errors.As(err, &mode), ShouldBeTrue)
			So(mode.Want, ShouldEqual, "MIT")
			So(mode.Have, ShouldEqual, "POS_VEL")

			So(c.VelControl(ctx, m, 1), ShouldNotBeNil)
			So(bus.Sent(), ShouldBeEmpty)
		})

		Convey("switching to MIT writes register 10 and allows MIT commands", func() {
			So(c.SwitchControlMode(ctx, m, ModeMIT), ShouldBeNil)
			So(m.ControlMode(), ShouldEqual, ModeMIT)
			So(m.ModeID(), ShouldEqual, 0)

			So(c.MITControl(ctx, m, 0, 0, 0, 0, 0), ShouldBeNil)

			sent := bus.Sent()
			So(len(sent), ShouldEqual, 2)
			So(sent[0].Payload(), ShouldResemble, []byte{0x01, 0x00, 0x55, 0x0A, 0x01, 0x00, 0x00, 0x00})
			So(sent[1].ID, ShouldEqual, 0x01)
			So(sent[1].Data, ShouldResemble, [8]byte{0x80, 0x00, 0x80, 0x00, 0x00, 0x00, 0x08, 0x00})
		})

		Convey("a failed mode switch keeps the old mode", func() {
			bus.SetTxErr(errors.New("bus off"))
			err := c.SwitchControlMode(ctx, m, ModeVel)
			So(errors.Is(err, errs.ErrTransmit), ShouldBeTrue)
			So(m.ControlMode(), ShouldEqual, ModePosVel)
		})

		Convey("a slow bus times out the transmit", func() {
			c.txTimeout = 5 * time.Millisecond
			bus.SetTxDelay(50 * time.Millisecond)
			err := c.PosVelControl(ctx, m, 0, 1)
			So(errors.Is(err, errs.ErrTransmit), ShouldBeTrue)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)
		})

		Convey("by id forms resolve the motor", func() {
			So(c.PosVelControlByID(ctx, 0x11, 1.0, 2.0), ShouldBeNil)
			So(bus.Sent()[0].ID, ShouldEqual, 0x101)

			err := c.EnableMotorByID(ctx, 0x99)
			So(errors.Is(err, errs.ErrNotFound), ShouldBeTrue)
		})

		Convey("save zero sends FE", func() {
			So(c.SaveZeroPositionByID(ctx, 0x11), ShouldBeNil)
			So(bus.Sent()[0].Data[7], ShouldEqual, 0xFE)
		})

		Convey("close forgets motors and stops commands", func() {
			So(c.Close(), ShouldBeNil)
			So(c.Motors(), ShouldBeEmpty)
			So(c.EnableMotor(ctx, m), ShouldEqual, errs.ErrNotInitialized)
			So(c.Init(), ShouldNotBeNil)
		})
	})
}

func TestMotorControlFeedback(t *testing.T) {
	ctx := context.Background()

	Convey("Given an initialized controller with a motor", t, func() {
		bus, c := createTestControl()
		So(c.Init(), ShouldBeNil)
		Reset(func() { c.Close() })

		m := NewMotor(DM4310, 0x01, 0x11)
		So(c.AddMotor(m), ShouldBeNil)

		Convey("feedback on the master id updates the motor", func() {
			msg := EncodeFeedback(0x01, Feedback{State: StateEnabled, Position: 0.5, TemperMOS: 30})
			msg.ID = 0x11
			So(bus.Inject(msg), ShouldBeTrue)

			wctx, cancel := context.WithTimeout(ctx, time.Second)
			defer cancel()
			fb, err := m.WaitFeedback(wctx, 0)
			So(err, ShouldBeNil)
			So(fb.Seq, ShouldEqual, 1)
			So(fb.Position, ShouldAlmostEqual, 0.5, 1e-3)
			So(fb.TemperMOS, ShouldEqual, 30)
		})

		Convey("unknown ids and short frames are ignored", func() {
			bus.Inject(canbus.CANMsg{ID: 0x99, Len: 8})
			bus.Inject(canbus.CANMsg{ID: 0x11, Len: 4})

			wctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err := m.WaitFeedback(wctx, 0)
			So(err, ShouldEqual, context.DeadlineExceeded)
		})

		Convey("refresh waits for the drive's answer", func() {
			replyToPolls(bus, c, -1.0)

			So(c.RefreshMotorStatus(ctx, m), ShouldBeNil)
			So(m.Feedback().Position, ShouldAlmostEqual, -1.0, 1e-3)
			So(m.Seq(), ShouldEqual, 1)

			So(c.RefreshMotorStatusByID(ctx, 0x11), ShouldBeNil)
			So(m.Seq(), ShouldEqual, 2)
		})

		Convey("refresh without an answer reports stale feedback", func() {
			err := c.RefreshMotorStatus(ctx, m)
			So(errors.Is(err, errs.ErrStaleFeedback), ShouldBeTrue)
		})
	})

	Convey("The receive callback never blocks", t, func() {
		_, c := createTestControl()
		c.rx = make(chan canbus.CANMsg, 1)

		So(c.onReceive(canbus.CANMsg{ID: 0x11, Len: 8}), ShouldBeTrue)
		So(c.onReceive(canbus.CANMsg{ID: 0x11, Len: 8}), ShouldBeFalse)
		So(c.Dropped(), ShouldEqual, 1)
	})
}

func TestMotorControlAll(t *testing.T) {
	ctx := context.Background()

	Convey("Given three motors", t, func() {
		bus, c := createTestControl()
		So(c.Init(), ShouldBeNil)
		Reset(func() { c.Close() })

		for i := uint32(1); i <= 3; i++ {
			So(c.AddMotor(NewMotor(DM4310, i, 0x10+i)), ShouldBeNil)
		}

		Convey("enable all walks them in master id order", func() {
			So(c.EnableAllMotors(ctx), ShouldBeNil)
			sent := bus.Sent()
			So(len(sent), ShouldEqual, 3)
			So(sent[0].ID, ShouldEqual, 0x101)
			So(sent[2].ID, ShouldEqual, 0x103)
		})

		Convey("one failure per motor is collected, not fatal", func() {
			bus.SetTxErr(errors.New("bus off"))
			err := c.DisableAllMotors(ctx)
			So(err, ShouldNotBeNil)
			So(len(multierr.Errors(err)), ShouldEqual, 3)
			So(errors.Is(err, errs.ErrTransmit), ShouldBeTrue)
		})
	})
}

func TestMotorControlConcurrency(t *testing.T) {
	Convey("Concurrent commands on two motors never overlap on the bus", t, func() {
		bus, c := createTestControl()
		So(c.Init(), ShouldBeNil)
		defer c.Close()

		a := NewMotor(DM4310, 0x01, 0x11)
		b := NewMotor(DM4310, 0x02, 0x12)
		c.AddMotor(a)
		c.AddMotor(b)
		bus.SetTxDelay(time.Millisecond)

		var wg sync.WaitGroup
		for _, m := range []*Motor{a, b} {
			wg.Add(1)
			go func(m *Motor) {
				defer wg.Done()
				for i := 0; i < 10; i++ {
					c.PosVelControl(context.Background(), m, float64(i), 1)
				}
			}(m)
		}
		wg.Wait()

		So(bus.MaxInFlight(), ShouldEqual, 1)
		So(len(bus.Sent()), ShouldEqual, 20)
	})

	Convey("Motors can be added while feedback is flowing", t, func() {
		bus, c := createTestControl()
		So(c.Init(), ShouldBeNil)
		defer c.Close()

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 200; i++ {
				bus.Inject(canbus.CANMsg{ID: 0x11 + uint32(i%4), Len: 8})
			}
		}()
		for i := uint32(0); i < 4; i++ {
			So(c.AddMotor(NewMotor(DM4310, 1+i, 0x11+i)), ShouldBeNil)
		}
		<-done

		So(len(c.Motors()), ShouldEqual, 4)
	})
}

func BenchmarkPosVelControl(b *testing.B) {
	_, c := createTestControl()
	c.Init()
	defer c.Close()
	m := NewMotor(DM4310, 0x01, 0x11)
	c.AddMotor(m)

	for n := 0; n < b.N; n++ {
		c.PosVelControl(context.Background(), m, 0.1, 1)
	}
}
