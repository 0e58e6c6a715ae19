package onboard

import (
	"encoding/binary"
	"math"
	"sync"

	"github.com/CodedInternet/panthera/onboard/canbus"
	"github.com/CodedInternet/panthera/onboard/hardware"
)

const SIM_TEMPERATURE = 30

// DriveState is what a simulated drive currently reports.
type DriveState struct {
	Enabled  bool
	Mode     hardware.ControlMode
	Position float64
	Velocity float64
	Torque   float64
	Fault    hardware.State
}

type simulatedDrive struct {
	DriveState
	slave, master uint32
}

func (d *simulatedDrive) feedback() canbus.CANMsg {
	state := hardware.StateDisabled
	if d.Enabled {
		state = hardware.StateEnabled
	}
	if d.Fault != 0 {
		state = d.Fault
	}

	msg := hardware.EncodeFeedback(d.slave, hardware.Feedback{
		State:       state,
		Position:    d.Position,
		Velocity:    d.Velocity,
		Torque:      d.Torque,
		TemperMOS:   SIM_TEMPERATURE,
		TemperRotor: SIM_TEMPERATURE,
	})
	msg.ID = d.master
	return msg
}

// SimulatedDrives answers on a VirtualBus the way a set of DM drives would.
// Moves complete instantly.
type SimulatedDrives struct {
	bus    *canbus.VirtualBus
	lock   sync.Mutex
	drives map[uint32]*simulatedDrive // by slave id
}

func NewSimulatedDrives(bus *canbus.VirtualBus) *SimulatedDrives {
	s := &SimulatedDrives{
		bus:    bus,
		drives: make(map[uint32]*simulatedDrive),
	}
	bus.OnSend(s.handle)
	return s
}

// AddDrive adds a drive in POS_VEL mode.
func (s *SimulatedDrives) AddDrive(slave, master uint32) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.drives[slave] = &simulatedDrive{
		DriveState: DriveState{Mode: hardware.ModePosVel},
		slave:      slave,
		master:     master,
	}
}

// AddArm adds a drive for every motor in config.
func (s *SimulatedDrives) AddArm(config *ArmConfig) {
	for _, m := range config.Motors {
		s.AddDrive(m.Slave, m.Master)
	}
}

func (s *SimulatedDrives) Drive(slave uint32) (DriveState, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	d, ok := s.drives[slave]
	if !ok {
		return DriveState{}, false
	}
	return d.DriveState, true
}

// SetFault makes the drive report state until it is cleared with 0.
func (s *SimulatedDrives) SetFault(slave uint32, state hardware.State) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if d, ok := s.drives[slave]; ok {
		d.Fault = state
	}
}

func (s *SimulatedDrives) handle(msg canbus.CANMsg) {
	reply, ok := s.process(msg)
	if ok {
		s.bus.Inject(reply)
	}
}

func (s *SimulatedDrives) process(msg canbus.CANMsg) (canbus.CANMsg, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if msg.ID == canbus.BroadcastID {
		if msg.Len < 4 {
			return msg, false
		}
		d, ok := s.drives[uint32(binary.LittleEndian.Uint16(msg.Data[0:2]))]
		if !ok {
			return msg, false
		}

		switch msg.Data[2] {
		case 0x55:
			if msg.Data[3] == hardware.RegControlMode {
				d.Mode = hardware.ControlMode(msg.Data[4])
			}
			return msg, false
		case 0xCC:
			return d.feedback(), true
		}
		return msg, false
	}

	d, ok := s.drives[msg.ID&0xFF]
	if !ok {
		return msg, false
	}
	offset := msg.ID &^ 0xFF

	if msg.Len == 8 && isCommand(msg.Data) {
		switch msg.Data[7] {
		case 0xFC:
			d.Enabled = true
		case 0xFD:
			d.Enabled = false
			d.Velocity = 0
		case 0xFE:
			d.Position = 0
		}
		return d.feedback(), true
	}

	// drives ignore commands for a mode they are not in
	if offset != d.Mode.ModeID() || !d.Enabled {
		return msg, false
	}

	switch d.Mode {
	case hardware.ModePosVel:
		d.Position = float64(math.Float32frombits(binary.LittleEndian.Uint32(msg.Data[0:4])))
		d.Velocity = 0
	case hardware.ModeVel:
		d.Velocity = float64(math.Float32frombits(binary.LittleEndian.Uint32(msg.Data[0:4])))
	case hardware.ModeMIT:
		p := uint32(msg.Data[0])<<8 | uint32(msg.Data[1])
		v := uint32(msg.Data[2])<<4 | uint32(msg.Data[3])>>4
		t := uint32(msg.Data[6]&0xF)<<8 | uint32(msg.Data[7])
		d.Position = hardware.UintToFloat(p, hardware.PMin, hardware.PMax, 16)
		d.Velocity = hardware.UintToFloat(v, hardware.VMin, hardware.VMax, 12)
		d.Torque = hardware.UintToFloat(t, hardware.TMin, hardware.TMax, 12)
	default:
		return msg, false
	}
	return d.feedback(), true
}

func isCommand(data [8]byte) bool {
	for _, b := range data[:7] {
		if b != 0xFF {
			return false
		}
	}
	return data[7] >= 0xFC
}
