package protocol

import (
	"encoding/binary"
	"fmt"
)

// ParseGetResponse parses the Get command response body.
//
// Data format:
//
//	[N][VERSION][OPCODE...]
//
// N is the number of bytes that follow minus one.
func ParseGetResponse(data []byte) (*Commands, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("invalid data length for Get response: got %d bytes, expected at least 2", len(data))
	}
	n := int(data[0]) + 1
	if len(data)-1 != n {
		return nil, fmt.Errorf("Get response length mismatch: header says %d bytes, got %d", n, len(data)-1)
	}
	return &Commands{
		Version: data[1],
		Opcodes: append([]byte(nil), data[2:]...),
	}, nil
}

// ParseGetVersionResponse parses the Get Version response body.
//
// Data format (3 bytes):
//
//	[VERSION][OPTION1][OPTION2]
func ParseGetVersionResponse(data []byte) (*VersionInfo, error) {
	if len(data) != 3 {
		return nil, fmt.Errorf("invalid data length for Get Version response: got %d bytes, expected 3", len(data))
	}
	return &VersionInfo{Version: data[0], Option1: data[1], Option2: data[2]}, nil
}

// ParseGetIDResponse parses the Get ID response body.
//
// Data format:
//
//	[N][PID MSB][PID LSB]
func ParseGetIDResponse(data []byte) (uint16, error) {
	if len(data) != 3 {
		return 0, fmt.Errorf("invalid data length for Get ID response: got %d bytes, expected 3", len(data))
	}
	if data[0] != 1 {
		return 0, fmt.Errorf("Get ID response announces %d bytes, expected 2", int(data[0])+1)
	}
	return binary.BigEndian.Uint16(data[1:3]), nil
}

// EncodeGetResponse builds the Get response body sent by the device.
func EncodeGetResponse(version byte, opcodes []byte) []byte {
	out := make([]byte, 0, len(opcodes)+2)
	out = append(out, byte(len(opcodes)))
	out = append(out, version)
	return append(out, opcodes...)
}

// EncodeGetIDResponse builds the Get ID response body sent by the device.
func EncodeGetIDResponse(pid uint16) []byte {
	return binary.BigEndian.AppendUint16([]byte{0x01}, pid)
}

// EncodeSpecialResponse builds the device answer to a special command.
//
// Special:          [DATA SIZE(2)][DATA][STATUS SIZE(2)][STATUS]
// Extended special: [STATUS SIZE(2)][STATUS]
//
// The data size field is only present when withData is true.
func EncodeSpecialResponse(resp SpecialResponse, withData bool) []byte {
	out := make([]byte, 0, 4+len(resp.Data)+len(resp.Status))
	if withData {
		out = binary.BigEndian.AppendUint16(out, uint16(len(resp.Data)))
		out = append(out, resp.Data...)
	}
	out = binary.BigEndian.AppendUint16(out, uint16(len(resp.Status)))
	return append(out, resp.Status...)
}
