package hardware

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestMotorTypes(t *testing.T) {
	Convey("The limit table covers every drive", t, func() {
		So(DM4310.Limits(), ShouldResemble, Limits{12.5, 30, 10})
		So(DM4340.Limits(), ShouldResemble, Limits{12.5, 8, 28})
		So(DM10010L.Limits(), ShouldResemble, Limits{12.5, 25, 200})
		So(DMH3510.Limits(), ShouldResemble, Limits{12.5, 280, 1})
		So(DMG6220.Limits(), ShouldResemble, Limits{12.5, 45, 10})
		So(MotorType(42).Limits(), ShouldResemble, Limits{})
	})

	Convey("Types parse by name", t, func() {
		mt, err := ParseMotorType("dm4310_48v")
		So(err, ShouldBeNil)
		So(mt, ShouldEqual, DM4310_48V)
		So(mt.String(), ShouldEqual, "DM4310_48V")

		_, err = ParseMotorType("DM9999")
		So(err, ShouldNotBeNil)
	})

	Convey("Modes carry their id offset and register value", t, func() {
		So(ModeMIT.ModeID(), ShouldEqual, 0x000)
		So(ModePosVel.ModeID(), ShouldEqual, 0x100)
		So(ModeVel.ModeID(), ShouldEqual, 0x200)
		So(ModePosForce.ModeID(), ShouldEqual, 0x300)
		So(ModeMIT.RegisterValue(), ShouldEqual, 1)
		So(ModePosForce.RegisterValue(), ShouldEqual, 4)

		mode, err := ParseControlMode("pos-vel")
		So(err, ShouldBeNil)
		So(mode, ShouldEqual, ModePosVel)
		_, err = ParseControlMode("torque")
		So(err, ShouldNotBeNil)
	})
}

func TestMotorFeedback(t *testing.T) {
	Convey("Given a motor", t, func() {
		m := NewMotor(DM4310, 0x01, 0x11)

		Convey("each update bumps the sequence", func() {
			m.update(Feedback{Position: 1})
			fb := m.update(Feedback{Position: 2})
			So(fb.Seq, ShouldEqual, 2)
			So(m.Feedback().Position, ShouldEqual, 2)
		})

		Convey("waiters wake on the next update", func() {
			go func() {
				time.Sleep(5 * time.Millisecond)
				m.update(Feedback{Position: 3})
			}()

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			fb, err := m.WaitFeedback(ctx, 0)
			So(err, ShouldBeNil)
			So(fb.Position, ShouldEqual, 3)
		})

		Convey("older feedback is returned at once", func() {
			m.update(Feedback{Position: 4})
			fb, err := m.WaitFeedback(context.Background(), 0)
			So(err, ShouldBeNil)
			So(fb.Seq, ShouldEqual, 1)
		})

		Convey("waiting gives up with the context", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			_, err := m.WaitFeedback(ctx, 0)
			So(err, ShouldEqual, context.Canceled)
		})
	})
}

func TestWriteStatusTable(t *testing.T) {
	Convey("The status table has a row per motor", t, func() {
		m := NewMotor(DM4340, 0x03, 0x13)
		m.update(Feedback{State: StateEnabled, Position: 3.14159265})

		var buf bytes.Buffer
		So(WriteStatusTable(&buf, []*Motor{m}), ShouldBeNil)

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		So(len(lines), ShouldEqual, 2)
		So(lines[1], ShouldContainSubstring, "0x13")
		So(lines[1], ShouldContainSubstring, "DM4340")
		So(lines[1], ShouldContainSubstring, "180.00")
	})
}
