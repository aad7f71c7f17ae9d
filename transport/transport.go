// Package transport defines the capability every bootloader channel
// implements and the registry that arbitrates between them.
//
// Exactly one transport survives detection. Every other registered transport
// is deinitialized once so shared pins and clocks are released.
package transport

import (
	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/system"
)

// Transport abstracts one physical channel.
//
// All blocking operations wait through system.WaitFor, so they refresh the
// watchdog on every poll and reset the device when their bound expires.
type Transport interface {
	// Name identifies the transport in logs ("usart", "i2c", ...).
	Name() string

	// Configure acquires clocks and pins. It is idempotent.
	Configure()

	// DeInit releases the peripheral. It is safe on a transport that never
	// won detection.
	DeInit()

	// Detect polls for the transport's sync pattern without blocking. It may
	// consume and acknowledge the sync pattern, nothing else.
	Detect() bool

	// GetCommandOpcode blocks for an opcode and its complement and returns
	// protocol.ErrorCommand when they do not match.
	GetCommandOpcode() byte

	// SendByte writes one byte with transport framing.
	SendByte(b byte)

	// SendAcknowledge writes an ACK or NACK with transport framing.
	SendAcknowledge(b byte)
}

// BusySender is implemented by transports that emit busy bytes while flash
// hardware is working.
type BusySender = system.BusySender

// Server is implemented by transports that have no opcode table and run
// their own protocol (USB DFU). Serve handles at most one request.
type Server interface {
	Serve()
}

// Handler processes one command on the transport it arrived on.
type Handler func(Transport)

// Command binds an opcode to its handler.
type Command struct {
	Opcode  byte
	Handler Handler
}

// CommandTable is an immutable opcode table.
type CommandTable struct {
	cmds   map[byte]Handler
	order  []byte
	reject Handler
}

// NewCommandTable builds a table from cmds. reject answers opcodes that are
// not in the table, including protocol.ErrorCommand; when nil a NACK is sent.
// Panics on duplicate opcodes or on an entry for protocol.ErrorCommand.
func NewCommandTable(reject Handler, cmds ...Command) *CommandTable {
	t := &CommandTable{
		cmds:   make(map[byte]Handler, len(cmds)),
		reject: reject,
	}
	for _, c := range cmds {
		if c.Opcode == protocol.ErrorCommand {
			panic("transport: ErrorCommand cannot be bound to a handler")
		}
		if _, dup := t.cmds[c.Opcode]; dup {
			panic("transport: duplicate opcode in command table")
		}
		t.cmds[c.Opcode] = c.Handler
		t.order = append(t.order, c.Opcode)
	}
	if t.reject == nil {
		t.reject = func(tr Transport) { tr.SendAcknowledge(protocol.NackByte) }
	}
	return t
}

// Lookup returns the handler for op, or nil.
func (t *CommandTable) Lookup(op byte) Handler {
	return t.cmds[op]
}

// Reject answers an unknown or malformed opcode.
func (t *CommandTable) Reject(tr Transport) {
	t.reject(tr)
}

// Opcodes returns the supported opcodes in registration order.
func (t *CommandTable) Opcodes() []byte {
	return append([]byte(nil), t.order...)
}

// Handle pairs a transport with its command table and detection flag.
type Handle struct {
	Transport Transport
	Commands  *CommandTable
	detected  bool
}

// NewHandle creates a handle. cmds may be nil for transports implementing
// Server.
func NewHandle(t Transport, cmds *CommandTable) *Handle {
	return &Handle{Transport: t, Commands: cmds}
}

// Detected reports whether this handle won detection.
func (h *Handle) Detected() bool {
	return h.detected
}
