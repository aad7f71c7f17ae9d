// Package usart implements the USART bootloader transport (AN3155).
//
// The line runs 8 data bits plus even parity (a 9-bit frame) with one stop
// bit. The host opens the session with 0x7F, from which the peripheral
// measures the baud rate; the device answers with ACK.
package usart

import (
	"log/slog"

	"github.com/moffa90/go-openbl/command"
	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/system"
)

// Name is the transport name.
const Name = "usart"

// Parity of the line.
type Parity uint8

const (
	ParityNone Parity = iota
	ParityEven
	ParityOdd
)

// Config is the line configuration applied by Configure.
type Config struct {
	DataBits int
	Parity   Parity
	StopBits int
	AutoBaud bool
}

// DefaultConfig is the AN3155 line configuration.
var DefaultConfig = Config{DataBits: 9, Parity: ParityEven, StopBits: 1, AutoBaud: true}

// Peripheral is the USART driver.
type Peripheral interface {
	Init(cfg Config)
	DeInit()

	// AutoBaudDetected reports that an autobaud frame (0x7F) completed.
	AutoBaudDetected() bool

	RxReady() bool
	Read() byte
	TxReady() bool
	Write(b byte)
}

// USART is the USART transport.
type USART struct {
	p          Peripheral
	sys        *system.System
	log        *slog.Logger
	cfg        Config
	timeout    int
	special    command.SpecialFunc
	configured bool
}

// Option configures a USART.
type Option func(*USART)

// WithTimeout bounds every byte wait to n polls. Zero waits forever.
func WithTimeout(n int) Option {
	return func(u *USART) {
		u.timeout = n
	}
}

// WithConfig replaces the line configuration.
func WithConfig(cfg Config) Option {
	return func(u *USART) {
		u.cfg = cfg
	}
}

// WithSpecial sets the special command processor.
func WithSpecial(fn command.SpecialFunc) Option {
	return func(u *USART) {
		if fn != nil {
			u.special = fn
		}
	}
}

// New creates a USART transport on p.
func New(p Peripheral, sys *system.System, opts ...Option) *USART {
	u := &USART{
		p:       p,
		sys:     sys,
		log:     sys.Log(system.ComponentUSART),
		cfg:     DefaultConfig,
		special: command.DefaultSpecial,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Name returns "usart".
func (u *USART) Name() string { return Name }

// Configure initializes the peripheral once.
func (u *USART) Configure() {
	if u.configured {
		return
	}
	u.p.Init(u.cfg)
	u.configured = true
}

// DeInit releases the peripheral.
func (u *USART) DeInit() {
	u.p.DeInit()
	u.configured = false
}

// Detect reports a completed autobaud frame. The sync byte is flushed and
// acknowledged.
func (u *USART) Detect() bool {
	if !u.p.AutoBaudDetected() {
		return false
	}
	u.ReadByte()
	u.SendByte(protocol.AckByte)
	u.log.Debug("autobaud detected")
	return true
}

// GetCommandOpcode reads an opcode and its complement.
func (u *USART) GetCommandOpcode() byte {
	op := u.ReadByte()
	if !protocol.CheckComplement(op, u.ReadByte()) {
		return protocol.ErrorCommand
	}
	return op
}

// ReadByte blocks for one byte.
func (u *USART) ReadByte() byte {
	u.sys.WaitFor(u.p.RxReady, u.timeout, "usart rx timeout")
	return u.p.Read()
}

// ReadBytes fills buf.
func (u *USART) ReadBytes(buf []byte) int {
	for i := range buf {
		buf[i] = u.ReadByte()
	}
	return len(buf)
}

// SendByte writes one byte.
func (u *USART) SendByte(b byte) {
	u.sys.WaitFor(u.p.TxReady, u.timeout, "usart tx timeout")
	u.p.Write(b)
}

// SendBytes writes data.
func (u *USART) SendBytes(data []byte) {
	for _, b := range data {
		u.SendByte(b)
	}
}

// SendAcknowledge writes an ACK or NACK.
func (u *USART) SendAcknowledge(b byte) {
	u.SendByte(b)
}

// ProcessSpecial answers a special command.
func (u *USART) ProcessSpecial(cmd command.SpecialCommand) {
	resp := u.special(cmd)
	u.SendBytes(protocol.EncodeSpecialResponse(resp, cmd.Kind == command.Special))
}
