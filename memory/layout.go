package memory

// STM32U5 (2 MiB dual bank) memory map.
const (
	FlashStart = 0x08000000
	FlashSize  = 0x00200000
	FlashEnd   = FlashStart + FlashSize - 1

	RAMStart = 0x20000000
	RAMSize  = 0x000C0000

	OptionBytesStart = 0x40022040
	OptionBytesSize  = 48

	OTPStart = 0x0BFA0000
	OTPSize  = 512

	ICPStart = 0x0BF90000
	ICPSize  = 0x00008000

	EngiBytesStart = 0x0BFA0500
	EngiBytesSize  = 0x00000300
)

// Flash geometry.
const (
	PageSize     = 0x2000 // 8 KiB
	PageCount    = FlashSize / PageSize
	BankPages    = PageCount / 2
	ProgramWidth = 16 // quad-word
)
