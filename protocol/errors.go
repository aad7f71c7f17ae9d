package protocol

import (
	"errors"
	"fmt"
)

// ErrChecksum is returned when a received frame fails its XOR or complement check.
var ErrChecksum = errors.New("checksum mismatch")

// ProtocolError represents a rejection returned by the bootloader.
// Contains the byte received in place of the expected ACK.
type ProtocolError struct {
	// Operation is the command that failed
	Operation string

	// Phase is the command phase that was rejected (e.g. "command", "address")
	Phase string

	// Response is the byte the device answered with
	Response byte
}

func (e *ProtocolError) Error() string {
	name := getResponseName(e.Response)
	if e.Phase != "" {
		return fmt.Sprintf("%s failed at %s phase: %s (0x%02X)", e.Operation, e.Phase, name, e.Response)
	}
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Operation, name, e.Response)
}

// IsProtocolError returns true if the error is a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsNack returns true if err is a ProtocolError carrying a NACK.
func IsNack(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Response == NackByte
}

// getResponseName returns a human-readable name for a response byte.
func getResponseName(b byte) string {
	switch b {
	case AckByte:
		return "ack"
	case NackByte:
		return "nack"
	case BusyByte:
		return "busy"
	case SPIBusyByte:
		return "spi busy"
	default:
		return fmt.Sprintf("unexpected byte 0x%02X", b)
	}
}
