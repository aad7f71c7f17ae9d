package bootloader

import (
	"errors"
	"fmt"
)

// ErrTimeout is returned when the device does not answer in time.
var ErrTimeout = errors.New("device did not answer in time")

// DeviceMismatchError indicates that the device product ID doesn't match the
// expected one.
type DeviceMismatchError struct {
	Expected uint16
	Actual   uint16
}

func (e *DeviceMismatchError) Error() string {
	return fmt.Sprintf("device mismatch: expected product ID 0x%04X, device has 0x%04X",
		e.Expected, e.Actual)
}

// SegmentOutOfRangeError indicates that an image segment lies outside the
// device flash.
type SegmentOutOfRangeError struct {
	Address uint32
	Size    int
}

func (e *SegmentOutOfRangeError) Error() string {
	return fmt.Sprintf("segment 0x%08X (+%d bytes) is outside flash", e.Address, e.Size)
}

// VerifyMismatchError indicates that read-back data differs from the image.
type VerifyMismatchError struct {
	Address  uint32
	Expected byte
	Actual   byte
}

func (e *VerifyMismatchError) Error() string {
	return fmt.Sprintf("verify mismatch at 0x%08X: expected 0x%02X, got 0x%02X",
		e.Address, e.Expected, e.Actual)
}
