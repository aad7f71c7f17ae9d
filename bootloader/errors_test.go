package bootloader

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/moffa90/go-openbl/protocol"
)

func TestDeviceMismatchError(t *testing.T) {
	err := &DeviceMismatchError{
		Expected: 0x0482,
		Actual:   0x0469,
	}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "device mismatch") {
		t.Errorf("error message should contain 'device mismatch', got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "0x0482") {
		t.Errorf("error message should contain expected ID, got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "0x0469") {
		t.Errorf("error message should contain actual ID, got: %s", errMsg)
	}
}

func TestSegmentOutOfRangeError(t *testing.T) {
	err := &SegmentOutOfRangeError{Address: 0x20000000, Size: 16}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "0x20000000") {
		t.Errorf("error message should contain address, got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "outside flash") {
		t.Errorf("error message should contain 'outside flash', got: %s", errMsg)
	}
}

func TestVerifyMismatchError(t *testing.T) {
	err := &VerifyMismatchError{
		Address:  0x08000010,
		Expected: 0xAB,
		Actual:   0xCD,
	}

	errMsg := err.Error()

	for _, want := range []string{"0x08000010", "0xAB", "0xCD"} {
		if !strings.Contains(errMsg, want) {
			t.Errorf("error message should contain %s, got: %s", want, errMsg)
		}
	}
}

func TestErrorTypes(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
	}{
		{
			name: "wrapped device mismatch",
			err:  fmt.Errorf("program: %w", &DeviceMismatchError{}),
			check: func(err error) bool {
				var target *DeviceMismatchError
				return errors.As(err, &target)
			},
		},
		{
			name: "wrapped verify mismatch",
			err:  fmt.Errorf("verify: %w", &VerifyMismatchError{}),
			check: func(err error) bool {
				var target *VerifyMismatchError
				return errors.As(err, &target)
			},
		},
		{
			name:  "wrapped timeout",
			err:   fmt.Errorf("get id command: %w", ErrTimeout),
			check: func(err error) bool { return errors.Is(err, ErrTimeout) },
		},
		{
			name: "wrapped nack",
			err:  fmt.Errorf("write: %w", &protocol.ProtocolError{Operation: "write memory", Response: protocol.NackByte}),
			check: protocol.IsNack,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("%v not recognised", tt.err)
			}
		})
	}
}
