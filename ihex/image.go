package ihex

// Image is a parsed Intel HEX firmware image.
type Image struct {
	// Segments holds the data, sorted by address and pairwise disjoint
	Segments []*Segment

	// StartAddress is the entry point from a start address record
	StartAddress uint32

	// HasStart reports whether the file carried a start address record
	HasStart bool
}

// Size returns the number of data bytes in the image.
func (img *Image) Size() int {
	n := 0
	for _, s := range img.Segments {
		n += len(s.Data)
	}
	return n
}

// Segment is a contiguous block of image data.
type Segment struct {
	// Address is the absolute address of the first byte
	Address uint32

	// Data is the segment content
	Data []byte
}

// End returns the address following the last byte of the segment.
func (s *Segment) End() uint64 {
	return uint64(s.Address) + uint64(len(s.Data))
}
