//go:build linux

package canbus

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// readTimeout bounds each blocking read so the reader notices Close.
const readTimeout = 100 * time.Millisecond

// SocketCAN is a raw CAN_RAW socket bound to one linux CAN interface.
type SocketCAN struct {
	fd int
	w  *writer

	mu      sync.Mutex
	rx      RxCallback
	enabled bool
	done    sync.WaitGroup
}

func NewSocketCAN(cfg Config) (bus *SocketCAN, err error) {
	cfg = cfg.withDefaults()

	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, err
	}

	// our own frames are not feedback
	if err = unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_LOOPBACK, 0); err != nil {
		unix.Close(fd)
		return nil, err
	}
	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err = unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err = unix.Bind(fd, &unix.SockaddrCAN{Ifindex: iface.Index}); err != nil {
		unix.Close(fd)
		return nil, err
	}

	bus = &SocketCAN{fd: fd}
	bus.w = newWriter(cfg, bus.write)

	log.WithField("iface", cfg.Interface).Info("socketcan bound")
	return bus, nil
}

func (c *SocketCAN) Enable(rx RxCallback) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.enabled {
		return ErrAlreadyEnabled
	}
	c.rx = rx
	c.enabled = true

	c.done.Add(2)
	go func() {
		defer c.done.Done()
		c.w.run()
	}()
	go func() {
		defer c.done.Done()
		c.reader()
	}()

	return nil
}

func (c *SocketCAN) SendMsg(ctx context.Context, msg CANMsg) error {
	c.mu.Lock()
	enabled := c.enabled
	c.mu.Unlock()
	if !enabled {
		return ErrNotEnabled
	}

	return c.w.send(ctx, msg)
}

func (c *SocketCAN) Close() error {
	c.w.close()
	c.done.Wait()
	return unix.Close(c.fd)
}

func (c *SocketCAN) write(msg CANMsg) error {
	raw, err := msg.toByteArray()
	if err != nil {
		return err
	}

	_, err = unix.Write(c.fd, raw)
	return err
}

func (c *SocketCAN) reader() {
	raw := make([]byte, canMTU)
	for {
		select {
		case <-c.w.closed:
			return
		default:
		}

		n, err := unix.Read(c.fd, raw)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			log.WithError(err).Warn("read failed")
			continue
		}

		msg, err := msgFromByteArray(raw[:n])
		if err != nil {
			log.WithError(err).Debug("discarding frame")
			continue
		}
		if !c.rx(msg) {
			log.Debugf("receiver dropped %s", msg)
		}
	}
}
