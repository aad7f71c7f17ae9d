package protocol

import (
	"encoding/binary"
	"fmt"
)

// BuildCommandFrame constructs the two-byte opcode frame sent by the host.
//
// Frame structure:
//
//	[OPCODE][~OPCODE]
func BuildCommandFrame(op byte) []byte {
	return []byte{op, Complement(op)}
}

// BuildAddressFrame constructs an address frame.
//
// Frame structure:
//
//	[A31..24][A23..16][A15..8][A7..0][XOR]
func BuildAddressFrame(addr uint32) []byte {
	frame := make([]byte, 0, AddressFrameSize)
	frame = binary.BigEndian.AppendUint32(frame, addr)
	frame = append(frame, Checksum(frame...))
	return frame
}

// DecodeAddressFrame extracts the address from a received address frame.
// Returns ErrChecksum if the XOR check fails.
func DecodeAddressFrame(frame []byte) (uint32, error) {
	if len(frame) != AddressFrameSize {
		return 0, fmt.Errorf("address frame must be %d bytes, got %d", AddressFrameSize, len(frame))
	}
	if !ValidChecksum(frame) {
		return 0, ErrChecksum
	}
	return binary.BigEndian.Uint32(frame[:4]), nil
}

// BuildReadCountFrame constructs the byte count frame of Read Memory.
// The count is sent N-1 encoded followed by its complement.
//
// Frame structure:
//
//	[N-1][~(N-1)]
func BuildReadCountFrame(n int) ([]byte, error) {
	if n < 1 || n > MaxDataSize {
		return nil, fmt.Errorf("read length must be 1-%d bytes, got %d", MaxDataSize, n)
	}
	c := byte(n - 1)
	return []byte{c, Complement(c)}, nil
}

// BuildWriteDataFrame constructs the data frame of Write Memory.
//
// Frame structure:
//
//	[N-1][DATA(N)][XOR]
//
// The XOR covers N-1 and all data bytes.
func BuildWriteDataFrame(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}
	if len(data) > MaxDataSize {
		return nil, fmt.Errorf("data length %d exceeds maximum %d bytes", len(data), MaxDataSize)
	}

	frame := make([]byte, 0, len(data)+2)
	frame = append(frame, byte(len(data)-1))
	frame = append(frame, data...)
	frame = append(frame, Checksum(frame...))

	return frame, nil
}

// BuildEraseFrame constructs the page list frame of Extended Erase.
//
// Frame structure:
//
//	[N-1 MSB][N-1 LSB][PAGE MSB][PAGE LSB]...[XOR]
func BuildEraseFrame(pages []uint16) ([]byte, error) {
	if len(pages) == 0 {
		return nil, fmt.Errorf("page list cannot be empty")
	}
	if len(pages) >= int(EraseSpecialMask) {
		return nil, fmt.Errorf("page list too long: %d pages", len(pages))
	}

	frame := make([]byte, 0, 2+2*len(pages)+1)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(pages)-1))
	for _, p := range pages {
		frame = binary.BigEndian.AppendUint16(frame, p)
	}
	frame = append(frame, Checksum(frame...))

	return frame, nil
}

// BuildSpecialEraseFrame constructs a mass or bank erase request.
//
// Frame structure:
//
//	[0xFF][0xFx][XOR]
func BuildSpecialEraseFrame(code uint16) ([]byte, error) {
	if code&EraseSpecialMask != EraseSpecialMask {
		return nil, fmt.Errorf("0x%04X is not a special erase code", code)
	}
	frame := binary.BigEndian.AppendUint16(nil, code)
	return append(frame, Checksum(frame...)), nil
}

// BuildWriteProtectFrame constructs the sector list frame of Write Protect.
//
// Frame structure:
//
//	[N-1][SECTOR...][XOR]
func BuildWriteProtectFrame(sectors []byte) ([]byte, error) {
	if len(sectors) == 0 {
		return nil, fmt.Errorf("sector list cannot be empty")
	}
	if len(sectors) > MaxWriteProtectPages {
		return nil, fmt.Errorf("sector list length %d exceeds maximum %d", len(sectors), MaxWriteProtectPages)
	}
	frame := make([]byte, 0, len(sectors)+2)
	frame = append(frame, byte(len(sectors)-1))
	frame = append(frame, sectors...)
	return append(frame, Checksum(frame...)), nil
}

// BuildSpecialOpcodeFrame constructs the sub-opcode frame of a special command.
//
// Frame structure:
//
//	[OPCODE MSB][OPCODE LSB][XOR]
func BuildSpecialOpcodeFrame(opcode uint16) []byte {
	frame := binary.BigEndian.AppendUint16(nil, opcode)
	return append(frame, Checksum(frame...))
}

// BuildSizedDataFrame constructs a size-prefixed data block used by special commands.
//
// Frame structure:
//
//	[SIZE MSB][SIZE LSB][DATA...][XOR]
func BuildSizedDataFrame(data []byte, max int) ([]byte, error) {
	if len(data) > max {
		return nil, fmt.Errorf("data length %d exceeds maximum %d bytes", len(data), max)
	}
	frame := make([]byte, 0, len(data)+3)
	frame = binary.BigEndian.AppendUint16(frame, uint16(len(data)))
	frame = append(frame, data...)
	return append(frame, Checksum(frame...)), nil
}
