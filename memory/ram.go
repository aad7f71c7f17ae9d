package memory

// Bytes is a byte-addressed region backed by a slice. It serves RAM and,
// when read-only, system memory.
type Bytes struct {
	base     uint32
	data     []byte
	readOnly bool
}

// NewRAM returns a zeroed writable region of size bytes at base.
func NewRAM(base, size uint32) *Bytes {
	return &Bytes{base: base, data: make([]byte, size)}
}

// NewROM returns a read-only region at base holding a copy of contents.
func NewROM(base uint32, contents []byte) *Bytes {
	return &Bytes{base: base, data: append([]byte(nil), contents...), readOnly: true}
}

// Read returns the byte at addr.
func (b *Bytes) Read(addr uint32) byte {
	return b.data[addr-b.base]
}

// Write copies data to addr.
func (b *Bytes) Write(addr uint32, data []byte) error {
	if b.readOnly {
		return ErrReadOnly
	}
	copy(b.data[addr-b.base:], data)
	return nil
}

// Bounds returns the base address and size.
func (b *Bytes) Bounds() (base, size uint32) {
	return b.base, uint32(len(b.data))
}

// Len returns the region size.
func (b *Bytes) Len() int {
	return len(b.data)
}
