package sim

import (
	"errors"
	"fmt"
	"sync"

	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/transport/fdcan"
)

// ErrFIFOEmpty is returned by Receive on an empty FIFO.
var ErrFIFOEmpty = errors.New("rx fifo empty")

// FDCAN is a simulated FDCAN controller.
type FDCAN struct {
	Enabled bool
	Inits   int
	DeInits int

	mu     sync.Mutex
	rx     []fdcan.Frame
	tx     []fdcan.Frame
	closed bool
}

// NewFDCAN returns an idle controller.
func NewFDCAN() *FDCAN {
	return &FDCAN{}
}

// HostSend puts a frame on the bus.
func (c *FDCAN) HostSend(id uint32, data ...byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rx = append(c.rx, fdcan.Frame{ID: id, Data: append([]byte(nil), data...)})
}

// HostCommand sends a command frame: the opcode in the identifier and the
// parameters in the payload.
func (c *FDCAN) HostCommand(op byte, params ...byte) {
	c.HostSend(uint32(op), params...)
}

// HostClose ends the host session.
func (c *FDCAN) HostClose() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

// Frames returns the frames the device transmitted.
func (c *FDCAN) Frames() []fdcan.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]fdcan.Frame(nil), c.tx...)
}

// Drained reports that the host closed and every frame was received.
func (c *FDCAN) Drained() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed && len(c.rx) == 0
}

// Init enables the controller.
func (c *FDCAN) Init() {
	c.Enabled = true
	c.Inits++
}

// DeInit disables the controller.
func (c *FDCAN) DeInit() {
	c.Enabled = false
	c.DeInits++
}

// RxPending returns the number of frames waiting.
func (c *FDCAN) RxPending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.Enabled {
		return 0
	}
	return len(c.rx)
}

// Receive pops the oldest frame.
func (c *FDCAN) Receive() (fdcan.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rx) == 0 {
		return fdcan.Frame{}, ErrFIFOEmpty
	}
	f := c.rx[0]
	c.rx = c.rx[1:]
	return f, nil
}

// TxFree always reports room.
func (c *FDCAN) TxFree() bool { return true }

// Transmit sends a frame.
func (c *FDCAN) Transmit(f fdcan.Frame) error {
	if len(f.Data) > protocol.FDCANMaxPayload {
		return fmt.Errorf("frame payload %d exceeds %d bytes", len(f.Data), protocol.FDCANMaxPayload)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tx = append(c.tx, f)
	return nil
}

// TxEmpty always reports the FIFO sent.
func (c *FDCAN) TxEmpty() bool { return true }
