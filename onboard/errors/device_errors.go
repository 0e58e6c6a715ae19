package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotInitialized = errors.New("motor control not initialized")
	ErrNotFound       = errors.New("motor not found")
	ErrInvalidState   = errors.New("invalid state")
	ErrTransmit       = errors.New("transmit failed")
	ErrNoMemory       = errors.New("unable to allocate driver resources")
	ErrStaleFeedback  = errors.New("no fresh feedback")
	ErrDuplicateMotor = errors.New("motor already registered")
	ErrInvalidMotorID = errors.New("master id 0 is reserved")
)

type MotorNotFoundError struct {
	MasterID uint32
}

func (err MotorNotFoundError) Error() string {
	return fmt.Sprintf("no motor with master id 0x%02x", err.MasterID)
}

func (err MotorNotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

type InvalidModeError struct {
	MasterID   uint32
	Want, Have string
}

func (err InvalidModeError) Error() string {
	if len(err.Have) == 0 {
		err.Have = "UNKNOWN"
	}

	return fmt.Sprintf("invalid state; motor 0x%02x is in %s mode, need %s", err.MasterID, err.Have, err.Want)
}

func (err InvalidModeError) Is(target error) bool {
	return target == ErrInvalidState
}

// TransmitError wraps the bus or timeout error behind a failed send.
type TransmitError struct {
	ID  uint32
	Err error
}

func (err TransmitError) Error() string {
	return fmt.Sprintf("transmit 0x%03x: %v", err.ID, err.Err)
}

func (err TransmitError) Is(target error) bool {
	return target == ErrTransmit
}

func (err TransmitError) Unwrap() error {
	return err.Err
}
