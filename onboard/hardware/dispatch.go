package hardware

import (
	"github.com/sirupsen/logrus"

	"github.com/CodedInternet/panthera/onboard/canbus"
)

// onReceive is handed to the bus. It runs on the bus reader goroutine so it
// only copies the frame into the queue and never blocks.
func (c *MotorControl) onReceive(msg canbus.CANMsg) bool {
	select {
	case c.rx <- msg:
		return true
	default:
		if n := c.dropped.Add(1); n&(n-1) == 0 {
			log.Warnf("rx queue full, %d frames dropped", n)
		}
		return false
	}
}

func (c *MotorControl) dispatch(rx <-chan canbus.CANMsg, stop <-chan struct{}) {
	defer c.done.Done()

	for {
		select {
		case msg := <-rx:
			c.handleFeedback(msg)
		case <-stop:
			return
		}
	}
}

func (c *MotorControl) handleFeedback(msg canbus.CANMsg) {
	if msg.Len < feedbackLen {
		return
	}

	m, ok := (*c.registry.Load())[msg.ID]
	if !ok {
		log.Warnf("feedback from unknown master id 0x%02x", msg.ID)
		return
	}

	fb, err := DecodeFeedback(msg)
	if err != nil {
		return
	}
	fb = m.update(fb)

	if fb.State.Fault() {
		log.WithFields(logrus.Fields{
			"motor": m,
			"state": fb.State,
		}).Errorf("drive fault: %s", fb.State)
	}
	log.Debugf("rx %s", msg)
}
