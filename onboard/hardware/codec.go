package hardware

import (
	"encoding/binary"
	"errors"
	"math"

	"github.com/CodedInternet/panthera/onboard/canbus"
)

// Fixed point ranges used on the wire. They match the drive defaults and are
// independent of the motor type table.
const (
	PMin, PMax   = -12.5, 12.5
	VMin, VMax   = -30.0, 30.0
	TMin, TMax   = -10.0, 10.0
	KpMin, KpMax = 0.0, 500.0
	KdMin, KdMax = 0.0, 5.0
)

const (
	cmdEnable   = 0xFC
	cmdDisable  = 0xFD
	cmdSaveZero = 0xFE

	paramWrite = 0x55
	paramPoll  = 0xCC

	RegControlMode = 10

	feedbackLen = 8
)

var ErrShortFeedback = errors.New("feedback frame shorter than 8 bytes")

// FloatToUint maps x in [min, max] onto an unsigned integer of the given bit
// width, rounding to nearest and clamping to the representable range.
func FloatToUint(x, min, max float64, bits uint) uint32 {
	top := float64(uint32(1)<<bits - 1)
	v := math.Round((x - min) * top / (max - min))
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > top {
		return uint32(top)
	}
	return uint32(v)
}

func UintToFloat(u uint32, min, max float64, bits uint) float64 {
	top := float64(uint32(1)<<bits - 1)
	return float64(u)*(max-min)/top + min
}

// EncodeMIT packs an impedance command in argument order: 16 bit position,
// 12 bit velocity, then 12 bit kp, kd and feed forward torque.
func EncodeMIT(pos, vel, kp, kd, torque float64) (data [8]byte) {
	p := FloatToUint(pos, PMin, PMax, 16)
	v := FloatToUint(vel, VMin, VMax, 12)
	k := FloatToUint(kp, KpMin, KpMax, 12)
	d := FloatToUint(kd, KdMin, KdMax, 12)
	t := FloatToUint(torque, TMin, TMax, 12)

	data[0] = byte(p >> 8)
	data[1] = byte(p)
	data[2] = byte(v >> 4)
	data[3] = byte((v&0xF)<<4 | k>>8)
	data[4] = byte(k)
	data[5] = byte(d >> 4)
	data[6] = byte((d&0xF)<<4 | t>>8)
	data[7] = byte(t)
	return
}

func mitFrame(m *Motor, pos, vel, kp, kd, torque float64) canbus.CANMsg {
	return canbus.CANMsg{
		ID:   m.SlaveID + ModeMIT.ModeID(),
		Len:  8,
		Data: EncodeMIT(pos, vel, kp, kd, torque),
	}
}

func posVelFrame(m *Motor, pos, vel float64) canbus.CANMsg {
	msg := canbus.CANMsg{
		ID:  m.SlaveID + ModePosVel.ModeID(),
		Len: 8,
	}
	binary.LittleEndian.PutUint32(msg.Data[0:4], math.Float32bits(float32(pos)))
	binary.LittleEndian.PutUint32(msg.Data[4:8], math.Float32bits(float32(vel)))
	return msg
}

func velFrame(m *Motor, vel float64) canbus.CANMsg {
	msg := canbus.CANMsg{
		ID:  m.SlaveID + ModeVel.ModeID(),
		Len: 4,
	}
	binary.LittleEndian.PutUint32(msg.Data[0:4], math.Float32bits(float32(vel)))
	return msg
}

// commandFrame is the FF*7 + cmd frame used for enable, disable and save zero.
// It goes to the id of the motor's current mode.
func commandFrame(m *Motor, cmd byte) canbus.CANMsg {
	msg := canbus.CANMsg{
		ID:   m.SlaveID + m.ModeID(),
		Len:  8,
		Data: [8]byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, cmd},
	}
	return msg
}

func paramFrame(m *Motor, rid uint8, data [4]byte) canbus.CANMsg {
	return canbus.CANMsg{
		ID:  canbus.BroadcastID,
		Len: 8,
		Data: [8]byte{
			byte(m.SlaveID), byte(m.SlaveID >> 8), paramWrite, rid,
			data[0], data[1], data[2], data[3],
		},
	}
}

func refreshFrame(m *Motor) canbus.CANMsg {
	return canbus.CANMsg{
		ID:   canbus.BroadcastID,
		Len:  4,
		Data: [8]byte{byte(m.SlaveID), byte(m.SlaveID >> 8), paramPoll, 0x00},
	}
}

// DecodeFeedback unpacks a drive status frame. Seq is left zero.
func DecodeFeedback(msg canbus.CANMsg) (fb Feedback, err error) {
	if msg.Len < feedbackLen {
		return fb, ErrShortFeedback
	}
	d := msg.Data

	p := uint32(d[1])<<8 | uint32(d[2])
	v := uint32(d[3])<<4 | uint32(d[4])>>4
	t := uint32(d[4]&0xF)<<8 | uint32(d[5])

	fb.State = State(d[0] >> 4)
	fb.Position = UintToFloat(p, PMin, PMax, 16)
	fb.Velocity = UintToFloat(v, VMin, VMax, 12)
	fb.Torque = UintToFloat(t, TMin, TMax, 12)
	fb.TemperMOS = d[6]
	fb.TemperRotor = d[7]
	return fb, nil
}

// EncodeFeedback is the drive side of DecodeFeedback. The low nibble of byte
// 0 carries the low bits of the slave id.
func EncodeFeedback(slaveID uint32, fb Feedback) canbus.CANMsg {
	p := FloatToUint(fb.Position, PMin, PMax, 16)
	v := FloatToUint(fb.Velocity, VMin, VMax, 12)
	t := FloatToUint(fb.Torque, TMin, TMax, 12)

	return canbus.CANMsg{
		Len: 8,
		Data: [8]byte{
			byte(fb.State)<<4 | byte(slaveID&0xF),
			byte(p >> 8), byte(p),
			byte(v >> 4), byte((v&0xF)<<4 | t>>8), byte(t),
			fb.TemperMOS, fb.TemperRotor,
		},
	}
}
