package protocol

// ProtocolVersion is the bootloader protocol version reported by Get and GetVersion.
const ProtocolVersion = 0x31

// Handshake and response bytes shared by every byte-stream transport.
const (
	// AckByte acknowledges a command phase (0x79)
	AckByte = 0x79

	// NackByte rejects a command phase (0x1F)
	NackByte = 0x1F

	// BusyByte is sent by I2C in no-stretch mode while flash is busy (0x76)
	BusyByte = 0x76

	// SyncByte is the USART autobaud frame (0x7F)
	SyncByte = 0x7F
)

// SPI framing bytes (AN4286).
const (
	// SPISyncByte starts every SPI command frame (0x5A)
	SPISyncByte = 0x5A

	// SPIBusyByte is injected by the underrun pattern register (0xA5)
	SPIBusyByte = 0xA5

	// SPIDummyByte precedes every transmitted ACK (0x00)
	SPIDummyByte = 0x00
)

// FDCAN framing constants (AN5405).
const (
	// FDCANIdentifier is the standard identifier used in both directions
	FDCANIdentifier = 0x111

	// FDCANMaxPayload is the largest FD frame payload
	FDCANMaxPayload = 64
)

// ErrorCommand is returned by GetCommandOpcode when the complement check fails.
// No command uses this value.
const ErrorCommand = 0xFF

// Command opcodes (AN3155, AN4221, AN4286, AN5405).
const (
	CmdGet                byte = 0x00
	CmdGetVersion         byte = 0x01
	CmdGetID              byte = 0x02
	CmdReadMemory         byte = 0x11
	CmdGo                 byte = 0x21
	CmdWriteMemory        byte = 0x31
	CmdExtendedErase      byte = 0x44
	CmdSpecial            byte = 0x50
	CmdExtendedSpecial    byte = 0x51
	CmdWriteProtect       byte = 0x63
	CmdWriteUnprotect     byte = 0x73
	CmdReadoutProtect     byte = 0x82
	CmdReadoutUnprotect   byte = 0x92
	CmdNSWriteMemory      byte = 0x32
	CmdNSExtendedErase    byte = 0x45
	CmdNSWriteProtect     byte = 0x64
	CmdNSWriteUnprotect   byte = 0x74
	CmdNSReadoutProtect   byte = 0x83
	CmdNSReadoutUnprotect byte = 0x93
)

// Extended erase special page counts.
const (
	EraseMass  uint16 = 0xFFFF
	EraseBank1 uint16 = 0xFFFE
	EraseBank2 uint16 = 0xFFFD

	// EraseSpecialMask selects the special erase codes
	EraseSpecialMask uint16 = 0xFFF0
)

// Special command defaults.
const (
	// SpecialCmdDefault is the sub-opcode registered out of the box
	SpecialCmdDefault uint16 = 0x0000

	// SpecialCmdMaxNumber is the capacity of the special command list
	SpecialCmdMaxNumber = 16

	// ExtendedSpecialCmdMaxNumber is the capacity of the extended list
	ExtendedSpecialCmdMaxNumber = 16

	// SpecialCmdMaxDataSize bounds the first data block of a special command
	SpecialCmdMaxDataSize = 128

	// ExtendedSpecialCmdMaxDataSize bounds the second data block of an extended special command
	ExtendedSpecialCmdMaxDataSize = 1024
)

// Transfer limits.
const (
	// MaxDataSize is the largest read or write block (N-1 encoded in one byte)
	MaxDataSize = 256

	// MaxWriteProtectPages bounds the write protect page list
	MaxWriteProtectPages = 256

	// AddressFrameSize is address(4) + checksum(1)
	AddressFrameSize = 5
)

// DFU block-0 commands (AN3156), used by the USB transport.
const (
	DFUCmdGetCommands    byte = 0x00
	DFUCmdSetAddress     byte = 0x21
	DFUCmdErase          byte = 0x41
	DFUCmdWriteProtect   byte = 0x63
	DFUCmdWriteUnprotect byte = 0x73
	DFUCmdReadProtect    byte = 0x82
	DFUCmdReadUnprotect  byte = 0x92

	// DFUTransferSize is the control transfer block size
	DFUTransferSize = 1024
)
