// Package ihex provides parsing for Intel HEX firmware images.
//
// # Intel HEX Format
//
// Every line is a record:
//
//	:[LEN(2)][ADDR(4)][TYPE(2)][DATA(2*LEN)][CHECKSUM(2)]
//
// The checksum is the two's complement of the sum of all other record bytes.
// Supported record types:
//
//	00  data
//	01  end of file
//	02  extended segment address (base = value << 4)
//	03  start segment address (CS:IP)
//	04  extended linear address (base = value << 16)
//	05  start linear address
//
// Consecutive data records are merged into contiguous segments.
//
// # Usage
//
// Parse a .hex file from disk:
//
//	img, err := ihex.Parse("firmware.hex")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for _, seg := range img.Segments {
//	    fmt.Printf("0x%08X: %d bytes\n", seg.Address, len(seg.Data))
//	}
//
// # Error Handling
//
// Parse returns detailed errors for invalid files, with line numbers:
//   - Missing start code or invalid hex encoding
//   - Record length and checksum mismatches
//   - Unknown record types
//   - Overlapping data
package ihex
