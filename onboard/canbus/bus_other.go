//go:build !linux

package canbus

import (
	"context"
	"errors"
)

var errNoSocketCAN = errors.New("socketcan is only available on linux")

// SocketCAN is unavailable off linux; use the slcan or virtual drivers.
type SocketCAN struct{}

func NewSocketCAN(cfg Config) (*SocketCAN, error) {
	return nil, errNoSocketCAN
}

func (c *SocketCAN) Enable(rx RxCallback) error                    { return errNoSocketCAN }
func (c *SocketCAN) SendMsg(ctx context.Context, msg CANMsg) error { return errNoSocketCAN }
func (c *SocketCAN) Close() error                                  { return nil }
