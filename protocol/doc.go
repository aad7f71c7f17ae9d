// Package protocol implements the wire framing of the STM32 system bootloader
// protocol family (AN3155 USART, AN4221 I2C, AN4286 SPI, AN5405 FDCAN).
//
// # Protocol Overview
//
// Every command starts with an opcode byte followed by its complement:
//
//	Command: [OPCODE][~OPCODE]
//	Reply:   [ACK 0x79] or [NACK 0x1F]
//
// A pair whose XOR is not 0xFF is never dispatched. Transports report it as
// ErrorCommand, which every command table rejects with a NACK.
//
// Multi-byte fields are big-endian and terminated by an XOR checksum:
//
//	Address: [A31..24][A23..16][A15..8][A7..0][XOR]
//	Data:    [N-1][DATA...][XOR]
//	Pages:   [N-1 MSB][N-1 LSB][PAGE MSB][PAGE LSB]...[XOR]
//
// # Frame Builders
//
// Host tools use the Build* functions to create frames:
//
//	frame := protocol.BuildCommandFrame(protocol.CmdReadMemory)
//	addr := protocol.BuildAddressFrame(0x08000000)
//	count, err := protocol.BuildReadCountFrame(256)
//
// # Response Parsers
//
// Parse* functions decode the data returned by Get, Get Version and Get ID:
//
//	cmds, err := protocol.ParseGetResponse(data)
//	if !cmds.Supports(protocol.CmdExtendedErase) {
//	    // fall back
//	}
//
// # Error Handling
//
// A NACK received in place of an ACK is reported as a ProtocolError:
//
//	err := &protocol.ProtocolError{Operation: "write memory", Phase: "address", Response: b}
//	// err.Error() returns: "write memory failed at address phase: nack (0x1F)"
//
// # Reference
//
// ST application notes AN3155, AN4221, AN4286, AN5405 and AN3156 (DFU).
package protocol
