package hardware

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type MotorType int

const (
	DM4310 MotorType = iota
	DM4310_48V
	DM4340
	DM4340_48V
	DM6006
	DM8006
	DM8009
	DM10010L
	DM10010
	DMH3510
	DMH6215
	DMG6220
)

// Limits are the drive's configured maximum angle (rad), speed (rad/s) and
// torque (N·m).
type Limits struct {
	PMax, VMax, TMax float64
}

var motorTypes = [...]struct {
	name   string
	limits Limits
}{
	DM4310:     {"DM4310", Limits{12.5, 30, 10}},
	DM4310_48V: {"DM4310_48V", Limits{12.5, 50, 10}},
	DM4340:     {"DM4340", Limits{12.5, 8, 28}},
	DM4340_48V: {"DM4340_48V", Limits{12.5, 10, 28}},
	DM6006:     {"DM6006", Limits{12.5, 45, 20}},
	DM8006:     {"DM8006", Limits{12.5, 45, 40}},
	DM8009:     {"DM8009", Limits{12.5, 45, 54}},
	DM10010L:   {"DM10010L", Limits{12.5, 25, 200}},
	DM10010:    {"DM10010", Limits{12.5, 20, 200}},
	DMH3510:    {"DMH3510", Limits{12.5, 280, 1}},
	DMH6215:    {"DMH6215", Limits{12.5, 45, 10}},
	DMG6220:    {"DMG6220", Limits{12.5, 45, 10}},
}

func (t MotorType) Limits() Limits {
	if t < 0 || int(t) >= len(motorTypes) {
		return Limits{}
	}
	return motorTypes[t].limits
}

func (t MotorType) String() string {
	if t < 0 || int(t) >= len(motorTypes) {
		return fmt.Sprintf("MotorType(%d)", int(t))
	}
	return motorTypes[t].name
}

func ParseMotorType(name string) (MotorType, error) {
	for i, mt := range motorTypes {
		if strings.EqualFold(mt.name, name) {
			return MotorType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown motor type %q", name)
}

// ControlMode values double as the drive's register 10 setting.
type ControlMode uint8

const (
	ModeMIT      ControlMode = 1
	ModePosVel   ControlMode = 2
	ModeVel      ControlMode = 3
	ModePosForce ControlMode = 4
)

// ModeID is the offset added to the slave id for this mode's command frames.
func (m ControlMode) ModeID() uint32 {
	switch m {
	case ModeMIT:
		return 0x000
	case ModePosVel:
		return 0x100
	case ModeVel:
		return 0x200
	case ModePosForce:
		return 0x300
	}
	return 0
}

func (m ControlMode) RegisterValue() uint8 {
	return uint8(m)
}

func (m ControlMode) String() string {
	switch m {
	case ModeMIT:
		return "MIT"
	case ModePosVel:
		return "POS_VEL"
	case ModeVel:
		return "VEL"
	case ModePosForce:
		return "POS_FORCE"
	}
	return fmt.Sprintf("ControlMode(%d)", uint8(m))
}

func ParseControlMode(name string) (ControlMode, error) {
	switch strings.ToUpper(strings.ReplaceAll(name, "-", "_")) {
	case "MIT":
		return ModeMIT, nil
	case "POS_VEL", "POSVEL":
		return ModePosVel, nil
	case "VEL":
		return ModeVel, nil
	case "POS_FORCE", "POSFORCE":
		return ModePosForce, nil
	}
	return 0, fmt.Errorf("unknown control mode %q", name)
}

// State is the drive status nibble reported in feedback byte 0.
type State uint8

const (
	StateDisabled     State = 0x0
	StateEnabled      State = 0x1
	StateOverVoltage  State = 0x8
	StateUnderVoltage State = 0x9
	StateOverCurrent  State = 0xA
	StateMOSOverTemp  State = 0xB
	StateCoilOverTemp State = 0xC
	StateCommLost     State = 0xD
	StateOverload     State = 0xE
)

func (s State) Fault() bool {
	return s >= StateOverVoltage && s <= StateOverload
}

func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabled:
		return "enabled"
	case StateOverVoltage:
		return "over-voltage"
	case StateUnderVoltage:
		return "under-voltage"
	case StateOverCurrent:
		return "over-current"
	case StateMOSOverTemp:
		return "MOS over-temperature"
	case StateCoilOverTemp:
		return "coil over-temperature"
	case StateCommLost:
		return "communication lost"
	case StateOverload:
		return "overload"
	}
	return fmt.Sprintf("state 0x%x", uint8(s))
}

type Feedback struct {
	State       State
	Position    float64 // rad
	Velocity    float64 // rad/s
	Torque      float64 // N·m
	TemperMOS   uint8   // °C
	TemperRotor uint8   // °C

	// Seq counts decoded frames for this motor, starting at 1.
	Seq uint64
}

// Motor is one drive on the bus. The ids are fixed at construction; mode and
// feedback are guarded so the dispatcher and callers can share it.
type Motor struct {
	SlaveID  uint32
	MasterID uint32
	Type     MotorType

	mu    sync.Mutex
	mode  ControlMode
	fb    Feedback
	fresh chan struct{}
}

// NewMotor returns a motor in POS_VEL mode.
func NewMotor(t MotorType, slaveID, masterID uint32) *Motor {
	return &Motor{
		SlaveID:  slaveID,
		MasterID: masterID,
		Type:     t,
		mode:     ModePosVel,
		fresh:    make(chan struct{}),
	}
}

func (m *Motor) ControlMode() ControlMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

func (m *Motor) ModeID() uint32 {
	return m.ControlMode().ModeID()
}

func (m *Motor) Limits() Limits {
	return m.Type.Limits()
}

// Feedback returns a snapshot of the last decoded status.
func (m *Motor) Feedback() Feedback {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fb
}

func (m *Motor) Seq() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fb.Seq
}

// WaitFeedback blocks until feedback newer than sequence after arrives or ctx
// is done.
func (m *Motor) WaitFeedback(ctx context.Context, after uint64) (Feedback, error) {
	for {
		m.mu.Lock()
		fb, fresh := m.fb, m.fresh
		m.mu.Unlock()

		if fb.Seq > after {
			return fb, nil
		}

		select {
		case <-fresh:
		case <-ctx.Done():
			return fb, ctx.Err()
		}
	}
}

func (m *Motor) String() string {
	return fmt.Sprintf("%s slave=0x%02x master=0x%02x", m.Type, m.SlaveID, m.MasterID)
}

func (m *Motor) setMode(mode ControlMode) {
	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()
}

func (m *Motor) update(fb Feedback) Feedback {
	m.mu.Lock()
	defer m.mu.Unlock()

	fb.Seq = m.fb.Seq + 1
	m.fb = fb

	close(m.fresh)
	m.fresh = make(chan struct{})
	return fb
}
