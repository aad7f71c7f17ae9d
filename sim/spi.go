package sim

import (
	"sync"
)

// SPI is a simulated SPI slave. Every byte the host clocks in shifts one
// byte out: the head of the transmit FIFO or, when it is empty, the underrun
// pattern.
type SPI struct {
	Pattern byte
	Enabled bool
	Inits   int
	DeInits int

	rx *queue

	mu         sync.Mutex
	isr        func()
	irq        bool
	fifo       []byte
	sent       []byte
	miso       []byte
	overruns   int
	interrupts int
}

// NewSPI returns an idle slave.
func NewSPI() *SPI {
	return &SPI{rx: newQueue()}
}

// HostWrite clocks bytes into the device.
func (s *SPI) HostWrite(b ...byte) { s.rx.push(b...) }

// HostClose ends the host session.
func (s *SPI) HostClose() { s.rx.close() }

// Sent returns every byte the device queued for transmission.
func (s *SPI) Sent() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.sent...)
}

// MISO returns the bytes shifted out while the device read host bytes.
func (s *SPI) MISO() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.miso...)
}

// Interrupts returns the number of receive interrupts taken.
func (s *SPI) Interrupts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interrupts
}

// Drained reports that the host closed and every byte was consumed.
func (s *SPI) Drained() bool { return s.rx.drained() }

// Service runs the receive interrupt when it is enabled and a byte waits.
func (s *SPI) Service() {
	s.mu.Lock()
	fire := s.Enabled && s.irq && s.isr != nil && s.rx.len() > 0
	isr := s.isr
	if fire {
		s.interrupts++
	}
	s.mu.Unlock()
	if fire {
		isr()
	}
}

// Init enables the slave and installs the receive interrupt handler.
func (s *SPI) Init(isr func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.isr = isr
	s.Enabled = true
	s.Inits++
}

// DeInit disables the slave.
func (s *SPI) DeInit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Enabled = false
	s.irq = false
	s.DeInits++
}

// SetUnderrunPattern sets the byte sent on underrun.
func (s *SPI) SetUnderrunPattern(b byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Pattern = b
}

// EnableRxInterrupt unmasks the receive interrupt.
func (s *SPI) EnableRxInterrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irq = true
}

// DisableRxInterrupt masks the receive interrupt.
func (s *SPI) DisableRxInterrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.irq = false
}

// RxReady reports a received byte.
func (s *SPI) RxReady() bool {
	return s.Enabled && s.rx.len() > 0
}

// Read returns the next host byte and shifts one byte out.
func (s *SPI) Read() byte {
	b, _ := s.rx.pop()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.Pattern
	if len(s.fifo) > 0 {
		out = s.fifo[0]
		s.fifo = s.fifo[1:]
	}
	s.miso = append(s.miso, out)
	return b
}

// TxReady always reports room.
func (s *SPI) TxReady() bool { return true }

// Write queues a byte for transmission.
func (s *SPI) Write(b byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fifo = append(s.fifo, b)
	s.sent = append(s.sent, b)
}

// Overrun never occurs in simulation.
func (s *SPI) Overrun() bool { return false }

// ClearOverrun counts the clear.
func (s *SPI) ClearOverrun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.overruns++
}
