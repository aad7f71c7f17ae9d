package flash

import (
	"errors"
	"fmt"
)

var (
	// ErrProtectionLocked is returned when the committed readout level is
	// FullyProtected.
	ErrProtectionLocked = errors.New("flash protection is locked at level 2")

	// ErrInvalidBank is returned by MassErase for unknown bank codes.
	ErrInvalidBank = errors.New("invalid bank erase code")

	// ErrInvalidPayload is returned for truncated or empty payloads.
	ErrInvalidPayload = errors.New("invalid payload")

	// ErrInvalidAddress is returned for writes that do not start where the
	// region expects them.
	ErrInvalidAddress = errors.New("invalid address")
)

// HardwareError reports error flags raised by the controller.
type HardwareError struct {
	Op    string
	Addr  uint32
	Flags ErrorFlags
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("flash %s at 0x%08X failed: %s", e.Op, e.Addr, e.Flags)
}

// EraseError aggregates page erase failures.
type EraseError struct {
	Failed    int
	Attempted int
}

func (e *EraseError) Error() string {
	return fmt.Sprintf("page erase failed for %d of %d pages", e.Failed, e.Attempted)
}
