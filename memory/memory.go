// Package memory describes the addressable regions a bootloader can reach
// and resolves host addresses to the region that owns them.
package memory

import (
	"errors"
	"fmt"
)

// Kind identifies the type of a memory region.
type Kind uint8

// Memory kinds.
const (
	KindFlash Kind = iota
	KindRAM
	KindOptionBytes
	KindOTP
	KindICP
	KindEngiBytes
)

func (k Kind) String() string {
	switch k {
	case KindFlash:
		return "flash"
	case KindRAM:
		return "ram"
	case KindOptionBytes:
		return "option bytes"
	case KindOTP:
		return "otp"
	case KindICP:
		return "icp"
	case KindEngiBytes:
		return "engi bytes"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// ProtectionLevel is the readout protection level, ordered from weakest to
// strongest. FullyProtected is terminal.
type ProtectionLevel uint8

const (
	ProtectionNone ProtectionLevel = iota
	ProtectionRead
	ProtectionFull
)

func (l ProtectionLevel) String() string {
	switch l {
	case ProtectionNone:
		return "none"
	case ProtectionRead:
		return "read protected"
	case ProtectionFull:
		return "fully protected"
	default:
		return fmt.Sprintf("ProtectionLevel(%d)", uint8(l))
	}
}

// Region is the minimum every memory implements.
type Region interface {
	// Read returns the byte at addr.
	Read(addr uint32) byte

	// Write stores data at addr.
	Write(addr uint32, data []byte) error
}

// Eraser is implemented by regions supporting page erase. payload is the
// little-endian page list received from the host.
type Eraser interface {
	Erase(payload []byte) error
}

// MassEraser is implemented by regions supporting bank or mass erase.
// payload holds big-endian bank codes.
type MassEraser interface {
	MassErase(payload []byte) error
}

// ReadoutProtector is implemented by regions that manage readout protection.
type ReadoutProtector interface {
	ReadoutProtection() ProtectionLevel
	SetReadoutProtection(level ProtectionLevel) error
}

// WriteProtector is implemented by regions that manage write protection.
// pages holds start/end page pairs, one pair per protected area.
type WriteProtector interface {
	SetWriteProtection(enable bool, pages []byte) error
}

// Jumper is implemented by the region application code runs from.
// JumpTo never returns.
type Jumper interface {
	JumpTo(addr uint32)
}

// Bounded is implemented by regions backed by a fixed address range.
type Bounded interface {
	Bounds() (base, size uint32)
}

// Covers reports whether r can serve [start, start+size-1]. Regions that do
// not report their bounds are trusted.
func Covers(r Region, start, size uint32) bool {
	b, ok := r.(Bounded)
	if !ok {
		return true
	}
	base, n := b.Bounds()
	return start >= base && uint64(start)+uint64(size) <= uint64(base)+uint64(n)
}

// ErrReadOnly is returned when writing to a read-only region.
var ErrReadOnly = errors.New("memory region is read-only")

// Descriptor describes one registered region.
type Descriptor struct {
	Name   string
	Start  uint32
	End    uint32 // inclusive
	Size   uint32
	Kind   Kind
	Region Region
}

// NewDescriptor builds a descriptor covering size bytes from start.
func NewDescriptor(name string, kind Kind, start, size uint32, r Region) *Descriptor {
	return &Descriptor{
		Name:   name,
		Start:  start,
		End:    start + size - 1,
		Size:   size,
		Kind:   kind,
		Region: r,
	}
}

// Contains reports whether [addr, addr+n-1] lies inside the descriptor.
func (d *Descriptor) Contains(addr uint32, n int) bool {
	if n <= 0 || addr < d.Start {
		return false
	}
	last := uint64(addr) + uint64(n) - 1
	return last <= uint64(d.End)
}

func (d *Descriptor) validate() error {
	if d.Region == nil {
		return fmt.Errorf("%w: %s has no region", ErrMalformed, d.Name)
	}
	if d.Start > d.End {
		return fmt.Errorf("%w: %s start 0x%08X after end 0x%08X", ErrMalformed, d.Name, d.Start, d.End)
	}
	if uint64(d.Size) != uint64(d.End)-uint64(d.Start)+1 {
		return fmt.Errorf("%w: %s size %d does not match range 0x%08X-0x%08X",
			ErrMalformed, d.Name, d.Size, d.Start, d.End)
	}
	return nil
}

func (d *Descriptor) overlaps(o *Descriptor) bool {
	return d.Start <= o.End && o.Start <= d.End
}

func (d *Descriptor) String() string {
	return fmt.Sprintf("%s [0x%08X-0x%08X]", d.Name, d.Start, d.End)
}
