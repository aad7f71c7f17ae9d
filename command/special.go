package command

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-openbl/protocol"
)

// SpecialKind distinguishes the two special command families.
type SpecialKind uint8

const (
	// Special answers with a data block and a status block.
	Special SpecialKind = iota

	// ExtendedSpecial answers with a status block only.
	ExtendedSpecial
)

func (k SpecialKind) String() string {
	if k == ExtendedSpecial {
		return "extended special"
	}
	return "special"
}

// SpecialCommand is a special command accepted by the dispatcher and handed
// to the transport that received it.
type SpecialCommand struct {
	Opcode uint16
	Kind   SpecialKind

	// Data is the first host data block.
	Data []byte

	// Extra is the second host data block of an extended special command.
	Extra []byte
}

// SpecialFunc computes the answer to a special command. Transports put the
// answer on the wire in the shape its kind requires.
type SpecialFunc func(cmd SpecialCommand) protocol.SpecialResponse

// DefaultSpecial answers every command with empty data and status blocks.
func DefaultSpecial(SpecialCommand) protocol.SpecialResponse {
	return protocol.SpecialResponse{}
}

// SpecialProcessor is implemented by links able to answer special commands.
type SpecialProcessor interface {
	ProcessSpecial(cmd SpecialCommand)
}

// ErrSpecialListFull is returned when a special command list is at capacity.
var ErrSpecialListFull = errors.New("special command list full")

// SpecialList is a fixed-capacity list of accepted sub-opcodes.
type SpecialList struct {
	capacity int
	opcodes  []uint16
}

// NewSpecialList creates a list holding up to capacity sub-opcodes, seeded
// with opcodes.
func NewSpecialList(capacity int, opcodes ...uint16) (*SpecialList, error) {
	l := &SpecialList{capacity: capacity}
	for _, op := range opcodes {
		if err := l.Add(op); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// DefaultSpecialLists returns the special and extended special lists each
// holding protocol.SpecialCmdDefault.
func DefaultSpecialLists() (special, extended *SpecialList) {
	special, _ = NewSpecialList(protocol.SpecialCmdMaxNumber, protocol.SpecialCmdDefault)
	extended, _ = NewSpecialList(protocol.ExtendedSpecialCmdMaxNumber, protocol.SpecialCmdDefault)
	return special, extended
}

// Add appends op. Adding an opcode already present is a no-op.
func (l *SpecialList) Add(op uint16) error {
	if l.Contains(op) {
		return nil
	}
	if len(l.opcodes) >= l.capacity {
		return fmt.Errorf("%w: 0x%04X", ErrSpecialListFull, op)
	}
	l.opcodes = append(l.opcodes, op)
	return nil
}

// Contains reports whether op is accepted.
func (l *SpecialList) Contains(op uint16) bool {
	if l == nil {
		return false
	}
	for _, o := range l.opcodes {
		if o == op {
			return true
		}
	}
	return false
}

// Opcodes returns the accepted sub-opcodes.
func (l *SpecialList) Opcodes() []uint16 {
	return append([]uint16(nil), l.opcodes...)
}
