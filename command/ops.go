package command

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-openbl/memory"
)

var (
	// ErrNotSupported is returned when no registered region offers the
	// requested capability.
	ErrNotSupported = errors.New("operation not supported by any memory region")

	// ErrNotExecutable is returned by Go for an address outside a region
	// application code can start from.
	ErrNotExecutable = errors.New("address is not executable")
)

// Ops adapts the memory registry to the operations commands perform. Every
// access is resolved first; ranges that miss or span regions are rejected.
type Ops struct {
	mem *memory.Registry
}

// NewOps returns memory operations over mem.
func NewOps(mem *memory.Registry) *Ops {
	return &Ops{mem: mem}
}

// Registry returns the underlying memory registry.
func (o *Ops) Registry() *memory.Registry {
	return o.mem
}

// Valid reports whether a single region covers [addr, addr+n-1].
func (o *Ops) Valid(addr uint32, n int) bool {
	return o.mem.Resolve(addr, n) != nil
}

// Read fills buf from addr.
func (o *Ops) Read(addr uint32, buf []byte) error {
	_, err := o.mem.ReadAt(addr, buf)
	return err
}

// Write stores data at addr.
func (o *Ops) Write(addr uint32, data []byte) error {
	_, err := o.mem.WriteAt(addr, data)
	return err
}

// Protection returns the committed readout protection level, or
// ProtectionNone when no region manages readout protection.
func (o *Ops) Protection() memory.ProtectionLevel {
	if rp, ok := find[memory.ReadoutProtector](o.mem); ok {
		return rp.ReadoutProtection()
	}
	return memory.ProtectionNone
}

// ReadProtected reports whether readout protection is active.
func (o *Ops) ReadProtected() bool {
	return o.Protection() != memory.ProtectionNone
}

// Erase erases the pages listed in payload.
func (o *Ops) Erase(payload []byte) error {
	e, ok := find[memory.Eraser](o.mem)
	if !ok {
		return fmt.Errorf("erase: %w", ErrNotSupported)
	}
	return e.Erase(payload)
}

// MassErase erases the banks listed in payload.
func (o *Ops) MassErase(payload []byte) error {
	e, ok := find[memory.MassEraser](o.mem)
	if !ok {
		return fmt.Errorf("mass erase: %w", ErrNotSupported)
	}
	return e.MassErase(payload)
}

// SetReadoutProtection changes the readout protection level.
func (o *Ops) SetReadoutProtection(level memory.ProtectionLevel) error {
	rp, ok := find[memory.ReadoutProtector](o.mem)
	if !ok {
		return fmt.Errorf("readout protection: %w", ErrNotSupported)
	}
	return rp.SetReadoutProtection(level)
}

// SetWriteProtection enables protection of pages or disables it.
func (o *Ops) SetWriteProtection(enable bool, pages []byte) error {
	wp, ok := find[memory.WriteProtector](o.mem)
	if !ok {
		return fmt.Errorf("write protection: %w", ErrNotSupported)
	}
	return wp.SetWriteProtection(enable, pages)
}

// CanJump reports whether addr lies in a region application code starts from.
func (o *Ops) CanJump(addr uint32) bool {
	d := o.mem.Resolve(addr, 8)
	if d == nil {
		return false
	}
	_, ok := d.Region.(memory.Jumper)
	return ok
}

// Jump starts the application at addr. It returns only on error.
func (o *Ops) Jump(addr uint32) error {
	d := o.mem.Resolve(addr, 8)
	if d == nil {
		return &memory.RangeError{Addr: addr, Len: 8}
	}
	j, ok := d.Region.(memory.Jumper)
	if !ok {
		return fmt.Errorf("%w: 0x%08X in %s", ErrNotExecutable, addr, d.Name)
	}
	j.JumpTo(addr)
	return nil
}

// find returns the first registered region implementing T.
func find[T any](mem *memory.Registry) (T, bool) {
	for _, d := range mem.Descriptors() {
		if v, ok := d.Region.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}
