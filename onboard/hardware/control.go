package hardware

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"go.uber.org/multierr"

	"github.com/CodedInternet/panthera/onboard/canbus"
	errs "github.com/CodedInternet/panthera/onboard/errors"
)

const (
	DefaultTxTimeout      = 100 * time.Millisecond
	DefaultRefreshTimeout = 50 * time.Millisecond
	DefaultRxQueueDepth   = 20
)

var log = logrus.WithField("pkg", "hardware")

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(entry *logrus.Entry) {
	if entry == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		entry = logrus.NewEntry(l)
	}
	log = entry
}

// Pacing is the pause held on the bus after each kind of command. Velocity
// and MIT commands are streamed and never paced.
type Pacing struct {
	Enable, Disable time.Duration
	PosVel          time.Duration
	SaveZero        time.Duration
	WriteParam      time.Duration
	Refresh         time.Duration
}

func DefaultPacing() Pacing {
	return Pacing{
		Enable:     100 * time.Millisecond,
		Disable:    100 * time.Millisecond,
		PosVel:     10 * time.Millisecond,
		SaveZero:   10 * time.Millisecond,
		WriteParam: 10 * time.Millisecond,
		Refresh:    10 * time.Millisecond,
	}
}

type Option func(c *MotorControl)

func WithPacing(p Pacing) Option {
	return func(c *MotorControl) { c.pacing = p }
}

func WithTxTimeout(d time.Duration) Option {
	return func(c *MotorControl) { c.txTimeout = d }
}

func WithRefreshTimeout(d time.Duration) Option {
	return func(c *MotorControl) { c.refreshTimeout = d }
}

func WithRxQueueDepth(n int) Option {
	return func(c *MotorControl) { c.rxDepth = n }
}

type motorMap map[uint32]*Motor

// MotorControl owns the bus and the motor registry and serializes every
// outbound command.
type MotorControl struct {
	bus            canbus.CANBusInterface
	pacing         Pacing
	txTimeout      time.Duration
	refreshTimeout time.Duration
	rxDepth        int

	// lock guards the bus and motor modes while a command is in flight.
	lock        sync.Mutex
	initialized atomic.Bool
	closed      bool

	regLock  sync.Mutex
	registry atomic.Pointer[motorMap]

	rx      chan canbus.CANMsg
	stop    chan struct{}
	done    sync.WaitGroup
	dropped atomic.Uint64
}

func NewMotorControl(bus canbus.CANBusInterface, opts ...Option) *MotorControl {
	c := &MotorControl{
		bus:            bus,
		pacing:         DefaultPacing(),
		txTimeout:      DefaultTxTimeout,
		refreshTimeout: DefaultRefreshTimeout,
		rxDepth:        DefaultRxQueueDepth,
	}
	for _, opt := range opts {
		opt(c)
	}

	empty := motorMap{}
	c.registry.Store(&empty)
	return c
}

// Init enables the bus and starts the dispatcher. Calling it again once
// initialized does nothing.
func (c *MotorControl) Init() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.initialized.Load() {
		return nil
	}
	if c.closed {
		return fmt.Errorf("init: %w", canbus.ErrBusClosed)
	}
	if c.bus == nil {
		return fmt.Errorf("init: no bus: %w", errs.ErrNotInitialized)
	}
	if c.rxDepth <= 0 {
		return fmt.Errorf("init: rx queue depth %d: %w", c.rxDepth, errs.ErrNoMemory)
	}

	c.rx = make(chan canbus.CANMsg, c.rxDepth)
	c.stop = make(chan struct{})

	if err := c.bus.Enable(c.onReceive); err != nil {
		c.rx, c.stop = nil, nil
		log.WithError(err).Error("unable to enable bus")
		return fmt.Errorf("init: enable bus: %w", err)
	}

	c.done.Add(1)
	go c.dispatch(c.rx, c.stop)

	c.initialized.Store(true)
	log.Info("motor control initialized")
	return nil
}

// Close stops the dispatcher, closes the bus and forgets every motor.
func (c *MotorControl) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.initialized.Load() {
		close(c.stop)
		c.done.Wait()
		c.initialized.Store(false)
	}

	c.regLock.Lock()
	empty := motorMap{}
	c.registry.Store(&empty)
	c.regLock.Unlock()

	if c.bus == nil {
		return nil
	}
	return c.bus.Close()
}

// Dropped is the number of received frames discarded because the queue was
// full.
func (c *MotorControl) Dropped() uint64 {
	return c.dropped.Load()
}

// AddMotor registers m under its master id.
func (c *MotorControl) AddMotor(m *Motor) error {
	if m == nil || m.MasterID == 0 {
		return errs.ErrInvalidMotorID
	}

	c.regLock.Lock()
	defer c.regLock.Unlock()

	cur := *c.registry.Load()
	if _, ok := cur[m.MasterID]; ok {
		return fmt.Errorf("%w: master id 0x%02x", errs.ErrDuplicateMotor, m.MasterID)
	}

	next := make(motorMap, len(cur)+1)
	for id, motor := range cur {
		next[id] = motor
	}
	next[m.MasterID] = m
	c.registry.Store(&next)

	log.WithField("motor", m).Debug("motor registered")
	return nil
}

func (c *MotorControl) GetMotorByMasterID(masterID uint32) (*Motor, error) {
	m, ok := (*c.registry.Load())[masterID]
	if !ok {
		return nil, errs.MotorNotFoundError{MasterID: masterID}
	}
	return m, nil
}

// GetMotorMap returns a copy of the registry.
func (c *MotorControl) GetMotorMap() map[uint32]*Motor {
	cur := *c.registry.Load()
	out := make(map[uint32]*Motor, len(cur))
	for id, m := range cur {
		out[id] = m
	}
	return out
}

// Motors returns the registered motors in ascending master id order.
func (c *MotorControl) Motors() []*Motor {
	cur := *c.registry.Load()
	out := make([]*Motor, 0, len(cur))
	for _, m := range cur {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MasterID < out[j].MasterID })
	return out
}

func (c *MotorControl) EnableMotor(ctx context.Context, m *Motor) error {
	return c.sendCommand(ctx, m, cmdEnable, c.pacing.Enable)
}

func (c *MotorControl) DisableMotor(ctx context.Context, m *Motor) error {
	return c.sendCommand(ctx, m, cmdDisable, c.pacing.Disable)
}

// SaveZeroPosition makes the motor's current position its zero.
func (c *MotorControl) SaveZeroPosition(ctx context.Context, m *Motor) error {
	return c.sendCommand(ctx, m, cmdSaveZero, c.pacing.SaveZero)
}

// PosVelControl moves to pos (rad) limited to vel (rad/s). The motor must be
// in POS_VEL mode.
func (c *MotorControl) PosVelControl(ctx context.Context, m *Motor, pos, vel float64) error {
	return c.sendInMode(ctx, m, ModePosVel, posVelFrame(m, pos, vel), c.pacing.PosVel)
}

func (c *MotorControl) VelControl(ctx context.Context, m *Motor, vel float64) error {
	return c.sendInMode(ctx, m, ModeVel, velFrame(m, vel), 0)
}

func (c *MotorControl) MITControl(ctx context.Context, m *Motor, pos, vel, kp, kd, torque float64) error {
	return c.sendInMode(ctx, m, ModeMIT, mitFrame(m, pos, vel, kp, kd, torque), 0)
}

// WriteMotorParam writes a 4 byte value into register rid.
func (c *MotorControl) WriteMotorParam(ctx context.Context, m *Motor, rid uint8, data [4]byte) error {
	return c.send(ctx, paramFrame(m, rid, data), c.pacing.WriteParam)
}

// SwitchControlMode sets the local mode and writes it to the drive in one
// step. The local mode is restored if the write fails.
func (c *MotorControl) SwitchControlMode(ctx context.Context, m *Motor, mode ControlMode) error {
	if err := c.ready(); err != nil {
		return err
	}
	if mode.ModeID() == 0 && mode != ModeMIT {
		return fmt.Errorf("%w: %s", errs.ErrInvalidState, mode)
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	prev := m.ControlMode()
	m.setMode(mode)

	msg := paramFrame(m, RegControlMode, [4]byte{mode.RegisterValue()})
	if err := c.transmit(ctx, msg, c.pacing.WriteParam); err != nil {
		m.setMode(prev)
		return err
	}

	log.WithFields(logrus.Fields{"motor": m, "mode": mode}).Info("control mode switched")
	return nil
}

// RefreshMotorStatus polls the drive and waits for the answer. It returns
// ErrStaleFeedback if no newer feedback arrives within the refresh timeout.
func (c *MotorControl) RefreshMotorStatus(ctx context.Context, m *Motor) error {
	after := m.Seq()
	if err := c.send(ctx, refreshFrame(m), c.pacing.Refresh); err != nil {
		return err
	}

	wctx, cancel := context.WithTimeout(ctx, c.refreshTimeout)
	defer cancel()

	if _, err := m.WaitFeedback(wctx, after); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("motor 0x%02x: %w", m.MasterID, errs.ErrStaleFeedback)
	}
	return nil
}

func (c *MotorControl) EnableAllMotors(ctx context.Context) error {
	return c.forAll("enable", func(m *Motor) error { return c.EnableMotor(ctx, m) })
}

func (c *MotorControl) DisableAllMotors(ctx context.Context) error {
	return c.forAll("disable", func(m *Motor) error { return c.DisableMotor(ctx, m) })
}

func (c *MotorControl) forAll(action string, fn func(m *Motor) error) (err error) {
	for _, m := range c.Motors() {
		if e := fn(m); e != nil {
			log.WithError(e).WithField("motor", m).Errorf("unable to %s motor", action)
			err = multierr.Append(err, fmt.Errorf("%s 0x%02x: %w", action, m.MasterID, e))
		}
	}
	return
}

func (c *MotorControl) ready() error {
	if !c.initialized.Load() {
		return errs.ErrNotInitialized
	}
	return nil
}

func (c *MotorControl) send(ctx context.Context, msg canbus.CANMsg, pace time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	return c.transmit(ctx, msg, pace)
}

// sendCommand addresses the frame from the motor's mode under the lock, so a
// concurrent mode switch cannot leave it on the old id.
func (c *MotorControl) sendCommand(ctx context.Context, m *Motor, cmd byte, pace time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	return c.transmit(ctx, commandFrame(m, cmd), pace)
}

func (c *MotorControl) sendInMode(ctx context.Context, m *Motor, want ControlMode, msg canbus.CANMsg, pace time.Duration) error {
	if err := c.ready(); err != nil {
		return err
	}

	c.lock.Lock()
	defer c.lock.Unlock()

	if have := m.ControlMode(); have != want {
		return errs.InvalidModeError{MasterID: m.MasterID, Want: want.String(), Have: have.String()}
	}
	return c.transmit(ctx, msg, pace)
}

// transmit must be called with lock held. The pacing delay is spent holding
// it so the next frame waits too.
func (c *MotorControl) transmit(ctx context.Context, msg canbus.CANMsg, pace time.Duration) error {
	if !c.initialized.Load() {
		return errs.ErrNotInitialized
	}

	tctx, cancel := context.WithTimeout(ctx, c.txTimeout)
	defer cancel()

	log.Debugf("tx %s", msg)
	if err := c.bus.SendMsg(tctx, msg); err != nil {
		log.WithError(err).Errorf("unable to send %s", msg)
		return errs.TransmitError{ID: msg.ID, Err: err}
	}

	if pace > 0 {
		t := time.NewTimer(pace)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
		}
	}
	return nil
}
