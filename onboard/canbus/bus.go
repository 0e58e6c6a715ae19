package canbus

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

const (
	DefaultBitrate      = 1000000
	DefaultRetryCount   = 10
	DefaultTxQueueDepth = 10
)

var (
	ErrBusClosed      = errors.New("bus is closed")
	ErrNotEnabled     = errors.New("bus is not enabled")
	ErrAlreadyEnabled = errors.New("bus is already enabled")
	ErrUnknownDriver  = errors.New("unknown bus driver")
)

var log = logrus.WithField("pkg", "canbus")

// SetLogger replaces the package logger. Passing nil mutes it.
func SetLogger(entry *logrus.Entry) {
	if entry == nil {
		l := logrus.New()
		l.SetLevel(logrus.PanicLevel)
		entry = logrus.NewEntry(l)
	}
	log = entry
}

// RxCallback receives every inbound frame. It is called from the bus reader
// goroutine and must not block; the return value reports whether the frame
// was accepted.
type RxCallback func(msg CANMsg) bool

type CANBusInterface interface {
	// Enable starts delivering received frames to rx and accepting sends.
	Enable(rx RxCallback) error
	// SendMsg queues msg for transmission and waits until it has been written
	// or ctx is done.
	SendMsg(ctx context.Context, msg CANMsg) error
	Close() error
}

type Config struct {
	Driver       string `yaml:"driver"`    // socketcan, slcan or virtual
	Interface    string `yaml:"interface"` // can0, /dev/ttyACM0, ...
	Bitrate      int    `yaml:"bitrate"`
	RetryCount   int    `yaml:"retries"`
	TxQueueDepth int    `yaml:"tx_queue"`
}

// DefaultConfig is the node setup used by the follower: 1 Mbit/s, ten
// retries and a ten deep transmit queue.
func DefaultConfig() Config {
	return Config{
		Driver:       "socketcan",
		Interface:    "can0",
		Bitrate:      DefaultBitrate,
		RetryCount:   DefaultRetryCount,
		TxQueueDepth: DefaultTxQueueDepth,
	}
}

func (c Config) withDefaults() Config {
	if c.Bitrate == 0 {
		c.Bitrate = DefaultBitrate
	}
	if c.RetryCount <= 0 {
		c.RetryCount = DefaultRetryCount
	}
	if c.TxQueueDepth <= 0 {
		c.TxQueueDepth = DefaultTxQueueDepth
	}
	return c
}

// Open creates the bus named by cfg.Driver. The bus is not enabled yet.
func Open(cfg Config) (CANBusInterface, error) {
	cfg = cfg.withDefaults()

	switch cfg.Driver {
	case "", "socketcan":
		bus, err := NewSocketCAN(cfg)
		if err != nil {
			return nil, err
		}
		return bus, nil
	case "slcan":
		bus, err := NewSLCAN(cfg)
		if err != nil {
			return nil, err
		}
		return bus, nil
	case "virtual":
		return NewVirtualBus(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

type txRequest struct {
	msg  CANMsg
	done chan error
}

// writer owns the transmit queue shared by the hardware backed buses. Frames
// are written one at a time and retried up to retries times.
type writer struct {
	tx      chan txRequest
	retries int
	write   func(msg CANMsg) error
	closed  chan struct{}
}

func newWriter(cfg Config, write func(msg CANMsg) error) *writer {
	return &writer{
		tx:      make(chan txRequest, cfg.TxQueueDepth),
		retries: cfg.RetryCount,
		write:   write,
		closed:  make(chan struct{}),
	}
}

func (w *writer) run() {
	for {
		select {
		case req := <-w.tx:
			var err error
			for i := 0; i < w.retries; i++ {
				if err = w.write(req.msg); err == nil {
					break
				}
			}
			if err != nil {
				log.WithError(err).Errorf("dropping %s after %d attempts", req.msg, w.retries)
			}
			req.done <- err

		case <-w.closed:
			return
		}
	}
}

func (w *writer) send(ctx context.Context, msg CANMsg) error {
	select {
	case <-w.closed:
		return ErrBusClosed
	default:
	}

	req := txRequest{
		msg:  msg,
		done: make(chan error, 1),
	}

	select {
	case w.tx <- req:
	case <-w.closed:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.done:
		return err
	case <-w.closed:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *writer) close() {
	select {
	case <-w.closed:
	default:
		close(w.closed)
	}
}
