package sim

import (
	"context"
	"errors"
	"io"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/transport/usart"
)

// USART is a simulated USART with autobaud.
type USART struct {
	// Idle is how long an empty receive poll waits for host data. Zero
	// polls without waiting.
	Idle time.Duration

	Config  usart.Config
	Enabled bool
	Inits   int
	DeInits int

	rx    *queue
	tx    *queue
	bauds bool
}

// NewUSART returns a USART with empty queues.
func NewUSART() *USART {
	return &USART{rx: newQueue(), tx: newQueue()}
}

// HostWrite sends bytes to the device.
func (u *USART) HostWrite(b ...byte) { u.rx.push(b...) }

// HostClose closes the host connection.
func (u *USART) HostClose() { u.rx.close() }

// HostRead returns and clears everything the device has sent.
func (u *USART) HostRead() []byte { return u.tx.take() }

// Drained reports that the host closed and the device consumed every byte.
func (u *USART) Drained() bool { return u.rx.drained() }

// Init enables the peripheral.
func (u *USART) Init(cfg usart.Config) {
	u.Config = cfg
	u.Enabled = true
	u.Inits++
}

// DeInit disables the peripheral.
func (u *USART) DeInit() {
	u.Enabled = false
	u.DeInits++
}

// AutoBaudDetected reports an autobaud frame at the head of the receive
// queue. Any other byte fails the measurement and is dropped.
func (u *USART) AutoBaudDetected() bool {
	if !u.Enabled || u.bauds {
		return false
	}
	b, ok := u.rx.peek()
	if !ok {
		return false
	}
	if b != protocol.SyncByte {
		u.rx.pop()
		return false
	}
	u.bauds = true
	return true
}

// RxReady reports a received byte.
func (u *USART) RxReady() bool {
	if u.rx.len() > 0 {
		return true
	}
	u.rx.wait(u.Idle)
	return u.rx.len() > 0
}

// Read returns the next received byte.
func (u *USART) Read() byte {
	b, _ := u.rx.pop()
	return b
}

// TxReady always reports room.
func (u *USART) TxReady() bool { return true }

// Write transmits one byte.
func (u *USART) Write(b byte) { u.tx.push(b) }

// Pump connects the USART to a byte stream until ctx is done or the stream
// fails. Bytes read from rw reach the device; device output is written back
// to rw. The host side is closed when rw reports EOF.
func (u *USART) Pump(ctx context.Context, rw io.ReadWriter) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer u.HostClose()
		buf := make([]byte, 512)
		for {
			n, err := rw.Read(buf)
			if n > 0 {
				u.HostWrite(buf[:n]...)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			if err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	})

	g.Go(func() error {
		for {
			if out := u.HostRead(); len(out) > 0 {
				if _, err := rw.Write(out); err != nil {
					return err
				}
				continue
			}
			if ctx.Err() != nil {
				if out := u.HostRead(); len(out) > 0 {
					_, _ = rw.Write(out)
				}
				return nil
			}
			u.tx.wait(10 * time.Millisecond)
		}
	})

	return g.Wait()
}
