package canbus

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	msgMaxLength = 8
	canMTU       = 16 // sizeof(struct can_frame)

	BroadcastID = 0x7FF

	CAN_EFF_FLAG = 0x80000000
	CAN_RTR_FLAG = 0x40000000
	CAN_ERR_FLAG = 0x20000000
	CAN_SFF_MASK = 0x7ff
	CAN_EFF_MASK = 0x1fffffff
)

// errors
var (
	ERR_DATA_TOO_LONG = errors.New("data length exceeds 8 bytes")
	ERR_BAD_ID        = errors.New("identifier exceeds 29 bits")
	ERR_SHORT_FRAME   = errors.New("raw frame shorter than can_frame")
	ERR_ERROR_FRAME   = errors.New("controller error frame")
)

// CANMsg is a classic CAN frame. It is a plain value; Data is an array so a
// copy of the struct carries its payload with it.
type CANMsg struct {
	ID       uint32 // 11 bit unless Extended
	Extended bool
	Len      uint8 // DLC, 0..8
	Data     [msgMaxLength]byte
}

// NewCANMsg builds a frame for id carrying data. Identifiers above 0x7ff are
// sent as extended frames.
func NewCANMsg(id uint32, data []byte) (msg CANMsg, err error) {
	if len(data) > msgMaxLength {
		return msg, ERR_DATA_TOO_LONG
	}
	if id > CAN_EFF_MASK {
		return msg, ERR_BAD_ID
	}

	msg.ID = id
	msg.Extended = id > CAN_SFF_MASK
	msg.Len = uint8(len(data))
	copy(msg.Data[:], data)
	return msg, nil
}

// Payload returns the first Len bytes of Data.
func (msg CANMsg) Payload() []byte {
	n := msg.Len
	if n > msgMaxLength {
		n = msgMaxLength
	}
	return msg.Data[:n]
}

func (msg CANMsg) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "0x%03x [%d]", msg.ID, msg.Len)
	for _, b := range msg.Payload() {
		fmt.Fprintf(&sb, " %02x", b)
	}
	return sb.String()
}

// toByteArray encodes the frame in the linux struct can_frame layout:
// id+flags (LE) | dlc | 3 pad | 8 data.
func (msg *CANMsg) toByteArray() (raw []byte, err error) {
	if msg.Len > msgMaxLength {
		return nil, ERR_DATA_TOO_LONG
	}

	raw = make([]byte, canMTU)

	oid := msg.ID
	if msg.Extended || oid != oid&CAN_SFF_MASK {
		if oid != oid&CAN_EFF_MASK {
			return nil, ERR_BAD_ID
		}
		oid |= CAN_EFF_FLAG
	}
	binary.LittleEndian.PutUint32(raw[0:4], oid)

	raw[4] = msg.Len
	copy(raw[8:], msg.Data[:])

	return
}

func msgFromByteArray(raw []byte) (msg CANMsg, err error) {
	if len(raw) < canMTU {
		return msg, ERR_SHORT_FRAME
	}

	oid := binary.LittleEndian.Uint32(raw[0:4])
	if oid&CAN_ERR_FLAG != 0 {
		return msg, ERR_ERROR_FRAME
	}
	if oid&CAN_EFF_FLAG != 0 {
		msg.ID = oid & CAN_EFF_MASK
		msg.Extended = true
	} else {
		msg.ID = oid & CAN_SFF_MASK
	}

	msg.Len = raw[4]
	if msg.Len > msgMaxLength {
		return msg, ERR_DATA_TOO_LONG
	}
	copy(msg.Data[:], raw[8:16])

	return msg, nil
}
