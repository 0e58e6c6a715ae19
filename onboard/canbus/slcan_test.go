package canbus

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type fakePort struct {
	mu      sync.Mutex
	written bytes.Buffer
	r       *io.PipeReader
	w       *io.PipeWriter
}

func newFakePort() *fakePort {
	r, w := io.Pipe()
	return &fakePort{r: r, w: w}
}

func (p *fakePort) Read(b []byte) (int, error) { return p.r.Read(b) }

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func (p *fakePort) Close() error {
	p.w.Close()
	return p.r.Close()
}

func (p *fakePort) Written() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.String()
}

func TestSLCANCodec(t *testing.T) {
	Convey("Standard frames encode as t lines", t, func() {
		msg, _ := NewCANMsg(0x7ff, []byte{0x01, 0x00, 0xcc, 0x00})
		line, err := encodeSLCAN(msg)
		So(err, ShouldBeNil)
		So(string(line), ShouldEqual, "t7FF40100CC00\r")
	})

	Convey("Extended frames encode as T lines", t, func() {
		msg, _ := NewCANMsg(0x1abcd, []byte{0xff})
		line, err := encodeSLCAN(msg)
		So(err, ShouldBeNil)
		So(string(line), ShouldEqual, "T0001ABCD1FF\r")
	})

	Convey("Lines decode back to frames", t, func() {
		msg, err := decodeSLCAN([]byte("t0118117F7F7FF7FF2526"))
		So(err, ShouldBeNil)
		So(msg.ID, ShouldEqual, 0x011)
		So(msg.Len, ShouldEqual, 8)
		So(msg.Payload(), ShouldResemble, []byte{0x11, 0x7f, 0x7f, 0x7f, 0xf7, 0xff, 0x25, 0x26})

		msg, err = decodeSLCAN([]byte("T1FFFFFFF0"))
		So(err, ShouldBeNil)
		So(msg.Extended, ShouldBeTrue)
		So(msg.ID, ShouldEqual, 0x1fffffff)
		So(msg.Len, ShouldEqual, 0)
	})

	Convey("Malformed lines are rejected", t, func() {
		for _, line := range []string{"", "x123", "t12", "t1239", "t1232AB", "t1231ZZ"} {
			_, err := decodeSLCAN([]byte(line))
			So(err, ShouldNotBeNil)
		}
	})
}

func TestSLCAN(t *testing.T) {
	Convey("Given an slcan adapter", t, func() {
		port := newFakePort()
		bus := newSLCAN(port, DefaultConfig())

		rx := make(chan CANMsg, 4)
		So(bus.Enable(func(m CANMsg) bool {
			rx <- m
			return true
		}), ShouldBeNil)
		Reset(func() { bus.Close() })

		Convey("Enable selects 1 Mbit/s and opens the channel", func() {
			So(port.Written(), ShouldStartWith, "C\rS8\rO\r")
		})

		Convey("Sent frames are written as ascii", func() {
			msg, _ := NewCANMsg(0x101, []byte{0xff, 0xfc})
			So(bus.SendMsg(context.Background(), msg), ShouldBeNil)
			So(strings.HasSuffix(port.Written(), "t1012FFFC\r"), ShouldBeTrue)
		})

		Convey("Received lines reach the callback", func() {
			go io.WriteString(port.w, "z\rt011200FF\r")

			select {
			case msg := <-rx:
				So(msg.ID, ShouldEqual, 0x011)
				So(msg.Payload(), ShouldResemble, []byte{0x00, 0xff})
			case <-time.After(time.Second):
				So("timeout", ShouldBeEmpty)
			}
		})
	})

	Convey("Unsupported bitrates are refused", t, func() {
		cfg := DefaultConfig()
		cfg.Bitrate = 33333
		bus := newSLCAN(newFakePort(), cfg)
		So(bus.Enable(func(CANMsg) bool { return true }), ShouldNotBeNil)
	})
}
