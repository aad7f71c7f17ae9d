// Package fdcan implements the FDCAN bootloader transport (AN5405).
//
// Commands arrive as FD frames whose identifier carries the opcode in its
// low byte and whose payload carries the command parameters. Responses are
// sent with the identifier of the command being served. The bus CRC protects
// every frame, so no XOR checksums are exchanged.
package fdcan

import (
	"log/slog"

	"github.com/moffa90/go-openbl/command"
	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/system"
)

// Name is the transport name.
const Name = "fdcan"

// Frame is a CAN FD frame with a standard identifier.
type Frame struct {
	ID   uint32
	Data []byte
}

// Peripheral is the FDCAN driver.
type Peripheral interface {
	Init()
	DeInit()

	// RxPending returns the fill level of receive FIFO 0.
	RxPending() int
	Receive() (Frame, error)

	// TxFree reports room in the transmit FIFO and TxEmpty that every
	// queued frame has been sent.
	TxFree() bool
	Transmit(f Frame) error
	TxEmpty() bool
}

// FDCAN is the FDCAN transport.
type FDCAN struct {
	p          Peripheral
	sys        *system.System
	log        *slog.Logger
	timeout    int
	special    command.SpecialFunc
	configured bool

	txID    uint32
	payload []byte
}

// Option configures an FDCAN transport.
type Option func(*FDCAN)

// WithTimeout bounds every wait to n polls. Zero waits forever.
func WithTimeout(n int) Option {
	return func(f *FDCAN) {
		f.timeout = n
	}
}

// WithSpecial sets the special command processor.
func WithSpecial(fn command.SpecialFunc) Option {
	return func(f *FDCAN) {
		if fn != nil {
			f.special = fn
		}
	}
}

// New creates an FDCAN transport on p.
func New(p Peripheral, sys *system.System, opts ...Option) *FDCAN {
	f := &FDCAN{
		p:       p,
		sys:     sys,
		log:     sys.Log(system.ComponentFDCAN),
		special: command.DefaultSpecial,
		txID:    protocol.FDCANIdentifier,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name returns "fdcan".
func (f *FDCAN) Name() string { return Name }

// Configure initializes the peripheral once.
func (f *FDCAN) Configure() {
	if f.configured {
		return
	}
	f.p.Init()
	f.configured = true
}

// DeInit releases the peripheral.
func (f *FDCAN) DeInit() {
	f.p.DeInit()
	f.configured = false
}

// Detect reports a pending frame. The frame is left in the FIFO; it is the
// first command.
func (f *FDCAN) Detect() bool {
	return f.p.RxPending() > 0
}

// GetCommandOpcode waits for a command frame and returns the low byte of its
// identifier. The payload is kept for the handler.
func (f *FDCAN) GetCommandOpcode() byte {
	fr, ok := f.receive(0)
	if !ok {
		f.payload = nil
		return protocol.ErrorCommand
	}
	f.txID = fr.ID
	f.payload = fr.Data
	return byte(fr.ID)
}

// Payload returns the payload of the last command frame.
func (f *FDCAN) Payload() []byte {
	return f.payload
}

// ReadByte returns the first byte of the next frame.
func (f *FDCAN) ReadByte() byte {
	fr, ok := f.receive(f.timeout)
	if !ok || len(fr.Data) == 0 {
		return 0
	}
	return fr.Data[0]
}

// ReadBytes copies the next frame into buf and returns the number of bytes
// copied.
func (f *FDCAN) ReadBytes(buf []byte) int {
	fr, ok := f.receive(f.timeout)
	if !ok {
		return 0
	}
	return copy(buf, fr.Data)
}

// SendByte sends a one-byte frame.
func (f *FDCAN) SendByte(b byte) {
	f.send([]byte{b})
}

// SendBytes sends data in frames of at most protocol.FDCANMaxPayload bytes.
func (f *FDCAN) SendBytes(data []byte) {
	for len(data) > 0 {
		n := min(len(data), protocol.FDCANMaxPayload)
		f.send(data[:n])
		data = data[n:]
	}
}

// SendAcknowledge sends an ACK or NACK frame.
func (f *FDCAN) SendAcknowledge(b byte) {
	f.SendByte(b)
}

// ProcessSpecial answers a special command in a single frame.
func (f *FDCAN) ProcessSpecial(cmd command.SpecialCommand) {
	resp := f.special(cmd)
	f.SendBytes(protocol.EncodeSpecialResponse(resp, cmd.Kind == command.Special))
}

func (f *FDCAN) receive(limit int) (Frame, bool) {
	f.sys.WaitFor(func() bool { return f.p.RxPending() > 0 }, limit, "fdcan rx timeout")
	fr, err := f.p.Receive()
	if err != nil {
		f.log.Warn("receive failed", "err", err)
		return Frame{}, false
	}
	return fr, true
}

func (f *FDCAN) send(data []byte) {
	f.sys.WaitFor(f.p.TxFree, f.timeout, "fdcan tx fifo full")
	if err := f.p.Transmit(Frame{ID: f.txID, Data: append([]byte(nil), data...)}); err != nil {
		f.log.Warn("transmit failed", "err", err)
		return
	}
	f.sys.WaitFor(f.p.TxEmpty, f.timeout, "fdcan tx timeout")
}
