package memory

import (
	"errors"
	"fmt"
)

// DefaultCapacity is the descriptor count of the reference memory map.
const DefaultCapacity = 6

var (
	// ErrRegistryFull is returned when the registry is at capacity.
	ErrRegistryFull = errors.New("memory registry full")

	// ErrMalformed is returned for inconsistent descriptors.
	ErrMalformed = errors.New("malformed memory descriptor")

	// ErrOverlap is returned when a descriptor overlaps a registered one.
	ErrOverlap = errors.New("memory descriptor overlaps")
)

// RangeError reports an access that no single region covers.
type RangeError struct {
	Addr uint32
	Len  int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("no memory region covers 0x%08X+%d", e.Addr, e.Len)
}

// Registry holds the registered descriptors. Descriptors are added at boot
// and never removed.
type Registry struct {
	capacity int
	descs    []*Descriptor
}

// NewRegistry creates a registry accepting up to capacity descriptors.
// A capacity below one selects DefaultCapacity.
func NewRegistry(capacity int) *Registry {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Registry{capacity: capacity}
}

// Register adds d after checking it is well formed and disjoint from every
// registered descriptor.
func (r *Registry) Register(d *Descriptor) error {
	if d == nil {
		return fmt.Errorf("%w: nil descriptor", ErrMalformed)
	}
	if err := d.validate(); err != nil {
		return err
	}
	if len(r.descs) >= r.capacity {
		return ErrRegistryFull
	}
	for _, o := range r.descs {
		if d.overlaps(o) {
			return fmt.Errorf("%w: %s and %s", ErrOverlap, d, o)
		}
	}
	r.descs = append(r.descs, d)
	return nil
}

// Resolve returns the descriptor containing [addr, addr+n-1], or nil when
// the range matches none or spans several.
func (r *Registry) Resolve(addr uint32, n int) *Descriptor {
	for _, d := range r.descs {
		if d.Contains(addr, n) {
			return d
		}
	}
	return nil
}

// ByKind returns the first descriptor of kind k, or nil.
func (r *Registry) ByKind(k Kind) *Descriptor {
	for _, d := range r.descs {
		if d.Kind == k {
			return d
		}
	}
	return nil
}

// Descriptors returns the registered descriptors in registration order.
func (r *Registry) Descriptors() []*Descriptor {
	return append([]*Descriptor(nil), r.descs...)
}

// ReadAt copies len(buf) bytes starting at addr. It fails with a
// *RangeError when no single region covers the range.
func (r *Registry) ReadAt(addr uint32, buf []byte) (*Descriptor, error) {
	d := r.Resolve(addr, len(buf))
	if d == nil {
		return nil, &RangeError{Addr: addr, Len: len(buf)}
	}
	for i := range buf {
		buf[i] = d.Region.Read(addr + uint32(i))
	}
	return d, nil
}

// WriteAt stores data at addr through the owning region.
func (r *Registry) WriteAt(addr uint32, data []byte) (*Descriptor, error) {
	d := r.Resolve(addr, len(data))
	if d == nil {
		return nil, &RangeError{Addr: addr, Len: len(data)}
	}
	if err := d.Region.Write(addr, data); err != nil {
		return d, fmt.Errorf("write %s: %w", d.Name, err)
	}
	return d, nil
}
