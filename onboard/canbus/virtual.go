package canbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// VirtualBus is an in-process bus. Sent frames are recorded and handed to the
// OnSend hook; Inject delivers frames to the receiver as if they came off the
// wire. It backs the simulator and the controller tests.
type VirtualBus struct {
	mu      sync.Mutex
	rx      RxCallback
	enabled bool
	closed  bool
	sent    []CANMsg
	txErr   error
	txDelay time.Duration
	onSend  func(msg CANMsg)

	inFlight    int32
	maxInFlight int32
}

func NewVirtualBus() *VirtualBus {
	return &VirtualBus{}
}

func (v *VirtualBus) Enable(rx RxCallback) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.closed {
		return ErrBusClosed
	}
	if v.enabled {
		return ErrAlreadyEnabled
	}
	v.rx = rx
	v.enabled = true
	return nil
}

func (v *VirtualBus) SendMsg(ctx context.Context, msg CANMsg) error {
	n := atomic.AddInt32(&v.inFlight, 1)
	defer atomic.AddInt32(&v.inFlight, -1)
	for {
		hi := atomic.LoadInt32(&v.maxInFlight)
		if n <= hi || atomic.CompareAndSwapInt32(&v.maxInFlight, hi, n) {
			break
		}
	}

	v.mu.Lock()
	enabled, closed := v.enabled, v.closed
	txErr, delay, hook := v.txErr, v.txDelay, v.onSend
	v.mu.Unlock()

	if closed {
		return ErrBusClosed
	}
	if !enabled {
		return ErrNotEnabled
	}

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	if txErr != nil {
		return txErr
	}

	v.mu.Lock()
	v.sent = append(v.sent, msg)
	v.mu.Unlock()

	if hook != nil {
		hook(msg)
	}
	return nil
}

func (v *VirtualBus) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	return nil
}

// Inject delivers msg to the receiver. It reports whether the receiver
// accepted it; false is also returned while the bus is not enabled.
func (v *VirtualBus) Inject(msg CANMsg) bool {
	v.mu.Lock()
	rx, enabled := v.rx, v.enabled && !v.closed
	v.mu.Unlock()

	if !enabled || rx == nil {
		return false
	}
	return rx(msg)
}

// Sent returns a copy of every frame written so far.
func (v *VirtualBus) Sent() []CANMsg {
	v.mu.Lock()
	defer v.mu.Unlock()

	out := make([]CANMsg, len(v.sent))
	copy(out, v.sent)
	return out
}

// SetTxErr makes every following send fail with err. nil restores sends.
func (v *VirtualBus) SetTxErr(err error) {
	v.mu.Lock()
	v.txErr = err
	v.mu.Unlock()
}

func (v *VirtualBus) SetTxDelay(d time.Duration) {
	v.mu.Lock()
	v.txDelay = d
	v.mu.Unlock()
}

// OnSend registers fn to be called synchronously for every successful send.
func (v *VirtualBus) OnSend(fn func(msg CANMsg)) {
	v.mu.Lock()
	v.onSend = fn
	v.mu.Unlock()
}

// MaxInFlight is the highest number of SendMsg calls seen running at once.
func (v *VirtualBus) MaxInFlight() int {
	return int(atomic.LoadInt32(&v.maxInFlight))
}

// Reset forgets recorded frames and the in-flight high water mark.
func (v *VirtualBus) Reset() {
	v.mu.Lock()
	v.sent = nil
	v.mu.Unlock()
	atomic.StoreInt32(&v.maxInFlight, 0)
}
