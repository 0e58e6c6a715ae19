package canbus

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"go.bug.st/serial"
)

const slcanBaud = 115200

var (
	ErrBadBitrate   = errors.New("bitrate not supported by slcan")
	ErrSLCANCommand = errors.New("slcan adapter rejected command")
	errSLCANLine    = errors.New("malformed slcan frame")
)

var slcanBitrates = map[int]byte{
	10000:   '0',
	20000:   '1',
	50000:   '2',
	100000:  '3',
	125000:  '4',
	250000:  '5',
	500000:  '6',
	800000:  '7',
	1000000: '8',
}

// SLCAN drives a serial line CAN adapter speaking the Lawicel ASCII protocol.
type SLCAN struct {
	port io.ReadWriteCloser
	w    *writer
	cfg  Config

	mu      sync.Mutex
	rx      RxCallback
	enabled bool
	done    sync.WaitGroup
}

func NewSLCAN(cfg Config) (*SLCAN, error) {
	cfg = cfg.withDefaults()

	mode := &serial.Mode{
		BaudRate: slcanBaud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Interface, mode)
	if err != nil {
		return nil, err
	}

	log.WithField("port", cfg.Interface).Info("slcan adapter opened")
	return newSLCAN(port, cfg), nil
}

func newSLCAN(port io.ReadWriteCloser, cfg Config) *SLCAN {
	bus := &SLCAN{
		port: port,
		cfg:  cfg.withDefaults(),
	}
	bus.w = newWriter(bus.cfg, bus.write)
	return bus
}

// Enable sets the bitrate, opens the channel and starts the reader.
func (s *SLCAN) Enable(rx RxCallback) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.enabled {
		return ErrAlreadyEnabled
	}

	code, ok := slcanBitrates[s.cfg.Bitrate]
	if !ok {
		return fmt.Errorf("%w: %d", ErrBadBitrate, s.cfg.Bitrate)
	}
	for _, cmd := range []string{"C\r", "S" + string(code) + "\r", "O\r"} {
		if _, err := io.WriteString(s.port, cmd); err != nil {
			return err
		}
	}

	s.rx = rx
	s.enabled = true

	s.done.Add(2)
	go func() {
		defer s.done.Done()
		s.w.run()
	}()
	go func() {
		defer s.done.Done()
		s.reader()
	}()

	return nil
}

func (s *SLCAN) SendMsg(ctx context.Context, msg CANMsg) error {
	s.mu.Lock()
	enabled := s.enabled
	s.mu.Unlock()
	if !enabled {
		return ErrNotEnabled
	}

	return s.w.send(ctx, msg)
}

func (s *SLCAN) Close() error {
	s.w.close()
	io.WriteString(s.port, "C\r")
	err := s.port.Close()
	s.done.Wait()
	return err
}

func (s *SLCAN) write(msg CANMsg) error {
	line, err := encodeSLCAN(msg)
	if err != nil {
		return err
	}
	_, err = s.port.Write(line)
	return err
}

func (s *SLCAN) reader() {
	r := bufio.NewReader(s.port)
	for {
		line, err := r.ReadBytes('\r')
		if err != nil {
			select {
			case <-s.w.closed:
			default:
				log.WithError(err).Warn("slcan read failed")
			}
			return
		}

		line = line[:len(line)-1]
		if len(line) == 0 {
			continue
		}
		switch line[0] {
		case '\a':
			log.Warn(ErrSLCANCommand)
			continue
		case 'z', 'Z':
			continue
		}

		msg, err := decodeSLCAN(line)
		if err != nil {
			log.WithError(err).Debugf("discarding %q", line)
			continue
		}
		if !s.rx(msg) {
			log.Debugf("receiver dropped %s", msg)
		}
	}
}

// encodeSLCAN renders msg as a t (11 bit) or T (29 bit) line including the
// trailing carriage return.
func encodeSLCAN(msg CANMsg) ([]byte, error) {
	if msg.Len > msgMaxLength {
		return nil, ERR_DATA_TOO_LONG
	}

	var line string
	if msg.Extended || msg.ID > CAN_SFF_MASK {
		if msg.ID > CAN_EFF_MASK {
			return nil, ERR_BAD_ID
		}
		line = fmt.Sprintf("T%08X%d", msg.ID, msg.Len)
	} else {
		line = fmt.Sprintf("t%03X%d", msg.ID, msg.Len)
	}
	for _, b := range msg.Payload() {
		line += fmt.Sprintf("%02X", b)
	}

	return []byte(line + "\r"), nil
}

// decodeSLCAN parses a t or T line without its carriage return.
func decodeSLCAN(line []byte) (msg CANMsg, err error) {
	if len(line) == 0 {
		return msg, errSLCANLine
	}

	idLen := 3
	switch line[0] {
	case 't':
	case 'T':
		idLen = 8
		msg.Extended = true
	default:
		return msg, errSLCANLine
	}
	if len(line) < 2+idLen {
		return msg, errSLCANLine
	}

	id, err := strconv.ParseUint(string(line[1:1+idLen]), 16, 32)
	if err != nil {
		return msg, errSLCANLine
	}
	msg.ID = uint32(id)

	dlc := line[1+idLen]
	if dlc < '0' || dlc > '8' {
		return msg, errSLCANLine
	}
	msg.Len = dlc - '0'

	data := line[2+idLen:]
	if len(data) < int(msg.Len)*2 {
		return msg, errSLCANLine
	}
	if _, err = hex.Decode(msg.Data[:msg.Len], data[:int(msg.Len)*2]); err != nil {
		return msg, errSLCANLine
	}

	return msg, nil
}
