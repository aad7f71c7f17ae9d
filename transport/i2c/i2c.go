// Package i2c implements the I2C bootloader transport (AN4221).
//
// The device is a slave at a 7-bit address. Every host write and every host
// read is a separate transaction: address match, data, then stop (a read
// additionally ends with the host NACKing the last byte). The bootloader
// runs in no-stretch mode, so while flash is busy it answers host reads
// with BUSY (0x76) instead of holding the clock.
package i2c

import (
	"encoding/binary"
	"log/slog"

	"github.com/moffa90/go-openbl/command"
	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/system"
)

// Name is the transport name.
const Name = "i2c"

// DefaultAddress is the 7-bit slave address.
const DefaultAddress = 0x5A

// DefaultTimeout bounds every I2C wait, in polls.
const DefaultTimeout = 0x00FFFFFF

// Peripheral is the I2C slave driver.
type Peripheral interface {
	Init(addr uint8)
	DeInit()

	// AddressMatched reports a pending address match (ADDR flag).
	AddressMatched() bool
	ClearAddress()

	RxReady() bool
	Read() byte
	TxReady() bool
	Write(b byte)

	NackReceived() bool
	ClearNack()
	StopDetected() bool
	ClearStop()
}

// I2C is the I2C transport.
type I2C struct {
	p          Peripheral
	sys        *system.System
	log        *slog.Logger
	addr       uint8
	timeout    int
	special    command.SpecialFunc
	configured bool

	// rx is set while a host write transaction is being read.
	rx bool
}

// Option configures an I2C transport.
type Option func(*I2C)

// WithAddress sets the 7-bit slave address.
func WithAddress(addr uint8) Option {
	return func(i *I2C) {
		i.addr = addr & 0x7F
	}
}

// WithTimeout bounds every wait to n polls. Zero waits forever.
func WithTimeout(n int) Option {
	return func(i *I2C) {
		i.timeout = n
	}
}

// WithSpecial sets the special command processor.
func WithSpecial(fn command.SpecialFunc) Option {
	return func(i *I2C) {
		if fn != nil {
			i.special = fn
		}
	}
}

// New creates an I2C transport on p.
func New(p Peripheral, sys *system.System, opts ...Option) *I2C {
	i := &I2C{
		p:       p,
		sys:     sys,
		log:     sys.Log(system.ComponentI2C),
		addr:    DefaultAddress,
		timeout: DefaultTimeout,
		special: command.DefaultSpecial,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Name returns "i2c".
func (i *I2C) Name() string { return Name }

// Configure initializes the peripheral once.
func (i *I2C) Configure() {
	if i.configured {
		return
	}
	i.p.Init(i.addr)
	i.configured = true
}

// DeInit releases the peripheral.
func (i *I2C) DeInit() {
	i.p.DeInit()
	i.configured = false
}

// Detect reports an address match. The match itself is consumed by the
// first GetCommandOpcode.
func (i *I2C) Detect() bool {
	return i.p.AddressMatched()
}

// GetCommandOpcode waits, without bound, for the host write transaction
// carrying an opcode and its complement.
func (i *I2C) GetCommandOpcode() byte {
	i.endRx()
	i.waitAddress(0)
	i.rx = true
	op := i.readData()
	comp := i.readData()
	i.endRx()
	if !protocol.CheckComplement(op, comp) {
		return protocol.ErrorCommand
	}
	return op
}

// ReadByte reads one byte of a host write transaction, waiting for the
// address match when no transaction is open.
func (i *I2C) ReadByte() byte {
	if i.rx && i.p.StopDetected() && !i.p.RxReady() {
		i.p.ClearStop()
		i.rx = false
	}
	if !i.rx {
		i.waitAddress(i.timeout)
		i.rx = true
	}
	return i.readData()
}

// ReadBytes fills buf.
func (i *I2C) ReadBytes(buf []byte) int {
	for n := range buf {
		buf[n] = i.ReadByte()
	}
	return len(buf)
}

// SendByte writes one byte in the current transaction.
func (i *I2C) SendByte(b byte) {
	i.sys.WaitFor(i.p.TxReady, i.timeout, "i2c tx timeout")
	i.p.Write(b)
}

// SendBytes answers one host read transaction with data.
func (i *I2C) SendBytes(data []byte) {
	i.endRx()
	i.waitAddress(i.timeout)
	for _, b := range data {
		i.SendByte(b)
	}
	i.waitNack()
	i.waitStop()
}

// SendAcknowledge answers one host read transaction with an ACK or NACK.
func (i *I2C) SendAcknowledge(b byte) {
	i.SendBytes([]byte{b})
}

// SendBusyByte answers a pending host read with BUSY. It does nothing when
// the host is not polling.
func (i *I2C) SendBusyByte() {
	i.endRx()
	if !i.p.AddressMatched() {
		return
	}
	i.p.ClearAddress()
	i.SendByte(protocol.BusyByte)
	i.waitNack()
	i.waitStop()
}

// ProcessSpecial answers a special command. The data block and the status
// block of a special command travel in two host reads.
func (i *I2C) ProcessSpecial(cmd command.SpecialCommand) {
	resp := i.special(cmd)
	if cmd.Kind == command.Special {
		data := binary.BigEndian.AppendUint16(nil, uint16(len(resp.Data)))
		i.SendBytes(append(data, resp.Data...))
	}
	i.SendBytes(protocol.EncodeSpecialResponse(protocol.SpecialResponse{Status: resp.Status}, false))
}

func (i *I2C) readData() byte {
	i.sys.WaitFor(i.p.RxReady, i.timeout, "i2c rx timeout")
	return i.p.Read()
}

// endRx closes an open host write transaction.
func (i *I2C) endRx() {
	if !i.rx {
		return
	}
	i.rx = false
	i.waitStop()
}

func (i *I2C) waitAddress(limit int) {
	i.sys.WaitFor(i.p.AddressMatched, limit, "i2c address timeout")
	i.p.ClearAddress()
}

func (i *I2C) waitNack() {
	i.sys.WaitFor(i.p.NackReceived, i.timeout, "i2c nack timeout")
	i.p.ClearNack()
}

func (i *I2C) waitStop() {
	i.sys.WaitFor(i.p.StopDetected, i.timeout, "i2c stop timeout")
	i.p.ClearStop()
}
