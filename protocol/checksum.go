package protocol

// Complement returns the bitwise complement used to frame an opcode or count.
func Complement(b byte) byte {
	return ^b
}

// CheckComplement reports whether c is the complement of b.
// This is the framing check every transport applies to an opcode pair.
func CheckComplement(b, c byte) bool {
	return b^c == 0xFF
}

// Checksum computes the XOR of all bytes.
//
// AN3155 frames addresses, page lists and data blocks with this checksum.
// A single byte is framed by its complement instead (see Complement).
func Checksum(data ...byte) byte {
	var x byte
	for _, b := range data {
		x ^= b
	}
	return x
}

// ValidChecksum reports whether the trailing byte of frame is the XOR of the rest.
// A frame shorter than two bytes is never valid.
func ValidChecksum(frame []byte) bool {
	if len(frame) < 2 {
		return false
	}
	return Checksum(frame[:len(frame)-1]...) == frame[len(frame)-1]
}
