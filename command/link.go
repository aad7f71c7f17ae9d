package command

import (
	"github.com/moffa90/go-openbl/transport"
)

// Link is a transport with the data primitives command handlers need.
//
// On byte-stream transports ReadBytes fills buf completely. On frame-based
// transports it reads one frame and returns its length.
type Link interface {
	transport.Transport

	// ReadByte blocks for one byte.
	ReadByte() byte

	// ReadBytes blocks for data and returns the number of bytes stored.
	ReadBytes(buf []byte) int

	// SendBytes writes a response block.
	SendBytes(data []byte)
}

// FrameLink is a frame-based link whose command frames carry their
// parameters in the frame payload (FDCAN).
type FrameLink interface {
	Link

	// Payload returns the payload of the frame that carried the last opcode.
	Payload() []byte
}
