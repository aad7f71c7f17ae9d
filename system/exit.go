package system

import (
	"errors"
	"fmt"
)

// ExitReason tells why the command loop ended.
type ExitReason int

const (
	ExitReset ExitReason = iota // device reset
	ExitJump                    // control handed to the application
	ExitHalt                    // simulated device stopped by its host
)

func (r ExitReason) String() string {
	switch r {
	case ExitReset:
		return "reset"
	case ExitJump:
		return "jump"
	case ExitHalt:
		return "halt"
	default:
		return fmt.Sprintf("ExitReason(%d)", int(r))
	}
}

// Exit describes the end of a boot session. On hardware a session never
// ends; the simulator observes it as an *Exit returned from the run loop.
type Exit struct {
	Reason  ExitReason
	Address uint32
	Cause   string
}

func (e *Exit) Error() string {
	switch e.Reason {
	case ExitJump:
		return fmt.Sprintf("jump to 0x%08X", e.Address)
	case ExitHalt:
		return fmt.Sprintf("halt: %s", e.Cause)
	}
	return fmt.Sprintf("reset: %s", e.Cause)
}

// IsExit reports whether err is an *Exit with the given reason.
func IsExit(err error, reason ExitReason) bool {
	var e *Exit
	return errors.As(err, &e) && e.Reason == reason
}

// Catch runs fn and converts an exit raised by Reset or Jump into an error.
// Other panics propagate.
func Catch(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Exit)
			if !ok {
				panic(r)
			}
			err = e
		}
	}()
	fn()
	return nil
}
