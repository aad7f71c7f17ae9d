// Package spi implements the SPI bootloader transport (AN4286).
//
// Every host frame starts with 0x5A. The device acknowledges with a dummy
// byte followed by ACK, then waits for the host to clock 0x79 back. When the
// device has nothing to transmit the peripheral's underrun pattern register
// sends BUSY (0xA5), so busy signalling needs no software transmission.
//
// Received bytes are signalled by the receive interrupt through a single
// flag: the interrupt handler sets it and masks itself, ReadByte clears it
// and unmasks the interrupt.
package spi

import (
	"log/slog"
	"sync/atomic"

	"github.com/moffa90/go-openbl/command"
	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/system"
)

// Name is the transport name.
const Name = "spi"

// Peripheral is the SPI slave driver.
type Peripheral interface {
	// Init configures the peripheral and installs isr as the receive
	// interrupt handler.
	Init(isr func())
	DeInit()

	// SetUnderrunPattern sets the byte sent when the transmit FIFO is empty.
	SetUnderrunPattern(b byte)

	EnableRxInterrupt()
	DisableRxInterrupt()

	RxReady() bool
	Read() byte
	TxReady() bool
	Write(b byte)

	// Overrun reports and ClearOverrun clears the overrun flag.
	Overrun() bool
	ClearOverrun()
}

// SPI is the SPI transport.
type SPI struct {
	p          Peripheral
	sys        *system.System
	log        *slog.Logger
	timeout    int
	special    command.SpecialFunc
	configured bool

	rxNotEmpty atomic.Bool
}

// Option configures an SPI transport.
type Option func(*SPI)

// WithTimeout bounds every wait to n polls. Zero waits forever.
func WithTimeout(n int) Option {
	return func(s *SPI) {
		s.timeout = n
	}
}

// WithSpecial sets the special command processor.
func WithSpecial(fn command.SpecialFunc) Option {
	return func(s *SPI) {
		if fn != nil {
			s.special = fn
		}
	}
}

// New creates an SPI transport on p.
func New(p Peripheral, sys *system.System, opts ...Option) *SPI {
	s := &SPI{
		p:       p,
		sys:     sys,
		log:     sys.Log(system.ComponentSPI),
		special: command.DefaultSpecial,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns "spi".
func (s *SPI) Name() string { return Name }

// Configure initializes the peripheral once.
func (s *SPI) Configure() {
	if s.configured {
		return
	}
	s.p.Init(s.IRQHandler)
	s.p.SetUnderrunPattern(protocol.SPIBusyByte)
	s.configured = true
}

// DeInit releases the peripheral.
func (s *SPI) DeInit() {
	s.p.DisableRxInterrupt()
	s.p.DeInit()
	s.configured = false
}

// Detect polls for the sync byte. On a match the receive interrupt is
// enabled and the device answers with the sync byte and an ACK.
func (s *SPI) Detect() bool {
	if !s.p.RxReady() {
		return false
	}
	if s.p.Read() != protocol.SPISyncByte {
		return false
	}
	s.p.EnableRxInterrupt()
	s.SendByte(protocol.SPISyncByte)
	s.SendAcknowledge(protocol.AckByte)
	s.log.Debug("sync received")
	return true
}

// IRQHandler is the receive interrupt service routine.
func (s *SPI) IRQHandler() {
	if s.p.Overrun() {
		s.p.ClearOverrun()
		return
	}
	if s.p.RxReady() {
		s.rxNotEmpty.Store(true)
		s.p.DisableRxInterrupt()
	}
}

// GetCommandOpcode skips to the next sync byte, then reads an opcode and its
// complement.
func (s *SPI) GetCommandOpcode() byte {
	for s.ReadByte() != protocol.SPISyncByte {
	}
	op := s.ReadByte()
	if !protocol.CheckComplement(op, s.ReadByte()) {
		return protocol.ErrorCommand
	}
	return op
}

// ReadByte blocks until the interrupt signals a byte.
func (s *SPI) ReadByte() byte {
	s.waitRx()
	b := s.p.Read()
	s.p.EnableRxInterrupt()
	return b
}

// ReadBytes fills buf.
func (s *SPI) ReadBytes(buf []byte) int {
	for i := range buf {
		buf[i] = s.ReadByte()
	}
	return len(buf)
}

// SendByte queues one byte for the next host clock.
func (s *SPI) SendByte(b byte) {
	s.sys.WaitFor(s.p.TxReady, s.timeout, "spi tx timeout")
	s.p.Write(b)
}

// SendBytes queues data.
func (s *SPI) SendBytes(data []byte) {
	for _, b := range data {
		s.SendByte(b)
	}
}

// SendAcknowledge sends an ACK (preceded by a dummy byte) or a NACK, then
// waits for the host ACK sync.
func (s *SPI) SendAcknowledge(b byte) {
	if b == protocol.AckByte {
		s.SendByte(protocol.SPIDummyByte)
	}
	s.SendByte(b)
	for s.ReadByte() != protocol.AckByte {
	}
}

// SendBusyByte lets one host clock pass while the underrun pattern answers
// with BUSY.
func (s *SPI) SendBusyByte() {
	s.waitRx()
	s.p.ClearOverrun()
	s.p.EnableRxInterrupt()
}

// ProcessSpecial answers a special command.
func (s *SPI) ProcessSpecial(cmd command.SpecialCommand) {
	resp := s.special(cmd)
	s.SendBytes(protocol.EncodeSpecialResponse(resp, cmd.Kind == command.Special))
}

func (s *SPI) waitRx() {
	s.sys.WaitFor(s.rxNotEmpty.Load, s.timeout, "spi rx timeout")
	s.rxNotEmpty.Store(false)
}
