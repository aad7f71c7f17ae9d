package flash

import (
	"fmt"

	"github.com/moffa90/go-openbl/memory"
)

// OptionBytes is the option byte area.
type OptionBytes struct {
	b *Backend
}

// OptionBytes returns the option byte region backed by b.
func (b *Backend) OptionBytes() *OptionBytes {
	return &OptionBytes{b: b}
}

// Descriptor returns the option bytes descriptor.
func (ob *OptionBytes) Descriptor() *memory.Descriptor {
	return memory.NewDescriptor("option bytes", memory.KindOptionBytes,
		memory.OptionBytesStart, memory.OptionBytesSize, ob)
}

// Read returns a byte of the option byte image.
func (ob *OptionBytes) Read(addr uint32) byte {
	img := ob.b.ctrl.Options().Image()
	return img[addr-memory.OptionBytesStart]
}

// Write programs the option registers from a payload starting at the OPTR
// register, then stages the option byte launch.
func (ob *OptionBytes) Write(addr uint32, data []byte) error {
	if addr != memory.OptionBytesStart {
		return fmt.Errorf("%w: option bytes are written from 0x%08X", ErrInvalidAddress, uint32(memory.OptionBytesStart))
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty option byte payload", ErrInvalidPayload)
	}
	if ob.b.committed == memory.ProtectionFull {
		return ErrProtectionLocked
	}
	return ob.b.programOptions(func(o *OptionRegisters) {
		o.Apply(data)
	})
}

// OTP is a one-time programmable area. It is programmed by quad-words like
// flash but has no erase; the controller refuses to program a quad-word
// twice.
type OTP struct {
	b     *Backend
	name  string
	kind  memory.Kind
	start uint32
	size  uint32
}

// OTP returns a one-time programmable region.
func (b *Backend) OTP(name string, kind memory.Kind, start, size uint32) *OTP {
	return &OTP{b: b, name: name, kind: kind, start: start, size: size}
}

// Descriptor returns the region descriptor.
func (o *OTP) Descriptor() *memory.Descriptor {
	return memory.NewDescriptor(o.name, o.kind, o.start, o.size, o)
}

// Read returns the byte at addr.
func (o *OTP) Read(addr uint32) byte {
	return o.b.ctrl.Read(addr)
}

// Write programs data at addr, padding to a quad-word.
func (o *OTP) Write(addr uint32, data []byte) error {
	return o.b.Write(addr, data)
}
