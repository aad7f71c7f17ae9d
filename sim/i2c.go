package sim

import (
	"sync"

	"github.com/moffa90/go-openbl/protocol"
)

// i2cTxn is one host transaction.
type i2cTxn struct {
	read      bool
	data      []byte // write: bytes to deliver
	pos       int
	want      int    // read: bytes the host clocks
	got       []byte // read: bytes received
	poll      bool   // read: retried while the device answers BUSY
	addressed bool
	nacked    bool
}

func (t *i2cTxn) busy() bool {
	return t.poll && len(t.got) == 1 && t.got[0] == protocol.BusyByte
}

// I2C is a simulated I2C slave driven by a scripted host. The host queues
// write and read transactions; the peripheral plays them in order.
type I2C struct {
	Address uint8
	Enabled bool
	Inits   int
	DeInits int

	mu       sync.Mutex
	txns     []*i2cTxn
	closed   bool
	received []byte
	busy     int
}

// NewI2C returns an idle bus.
func NewI2C() *I2C {
	return &I2C{}
}

// HostWrite queues a write transaction.
func (b *I2C) HostWrite(data ...byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txns = append(b.txns, &i2cTxn{data: append([]byte(nil), data...)})
}

// HostRead queues a read transaction of n bytes.
func (b *I2C) HostRead(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txns = append(b.txns, &i2cTxn{read: true, want: n})
}

// HostPoll queues a one-byte read that the host repeats while the device
// answers BUSY.
func (b *I2C) HostPoll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.txns = append(b.txns, &i2cTxn{read: true, want: 1, poll: true})
}

// HostClose ends the script.
func (b *I2C) HostClose() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
}

// Received returns the bytes read by the host, BUSY answers excluded.
func (b *I2C) Received() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.received...)
}

// BusyBytes returns the number of BUSY answers the host received.
func (b *I2C) BusyBytes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.busy
}

// Drained reports that the script is over.
func (b *I2C) Drained() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed && len(b.txns) == 0
}

func (b *I2C) cur() *i2cTxn {
	if !b.Enabled || len(b.txns) == 0 {
		return nil
	}
	return b.txns[0]
}

// Init enables the slave at addr.
func (b *I2C) Init(addr uint8) {
	b.Address = addr
	b.Enabled = true
	b.Inits++
}

// DeInit disables the slave.
func (b *I2C) DeInit() {
	b.Enabled = false
	b.DeInits++
}

// AddressMatched reports that the head transaction addressed the slave.
func (b *I2C) AddressMatched() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.cur()
	return t != nil && !t.addressed
}

// ClearAddress acknowledges the address match.
func (b *I2C) ClearAddress() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if t := b.cur(); t != nil {
		t.addressed = true
	}
}

// RxReady reports a byte of a write transaction.
func (b *I2C) RxReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.cur()
	return t != nil && !t.read && t.addressed && t.pos < len(t.data)
}

// Read returns the next byte of the write transaction.
func (b *I2C) Read() byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.cur()
	if t == nil || t.read || t.pos >= len(t.data) {
		return 0
	}
	v := t.data[t.pos]
	t.pos++
	return v
}

// TxReady reports that the host is clocking a read.
func (b *I2C) TxReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.cur()
	return t != nil && t.read && t.addressed && !t.nacked && len(t.got) < t.want
}

// Write hands a byte to the reading host. The host NACKs the last byte it
// wants.
func (b *I2C) Write(v byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.cur()
	if t == nil || !t.read {
		return
	}
	t.got = append(t.got, v)
	if t.busy() {
		b.busy++
	} else {
		b.received = append(b.received, v)
	}
	if len(t.got) >= t.want {
		t.nacked = true
	}
}

// NackReceived reports the host NACK ending a read.
func (b *I2C) NackReceived() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.cur()
	return t != nil && t.read && t.nacked
}

// ClearNack is a no-op; the stop condition follows the NACK.
func (b *I2C) ClearNack() {}

// StopDetected reports the stop condition ending the head transaction.
func (b *I2C) StopDetected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.cur()
	if t == nil || !t.addressed {
		return false
	}
	if t.read {
		return t.nacked
	}
	return t.pos >= len(t.data)
}

// ClearStop retires the head transaction. A polling read that got BUSY is
// restarted instead.
func (b *I2C) ClearStop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := b.cur()
	if t == nil {
		return
	}
	if t.busy() {
		t.got, t.addressed, t.nacked = nil, false, false
		return
	}
	b.txns = b.txns[1:]
}
