package flash

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// Bank selects a flash bank.
type Bank uint8

const (
	Bank1    Bank = 1
	Bank2    Bank = 2
	BankBoth Bank = Bank1 | Bank2
)

// ErrorFlags mirrors the flash status register error bits.
type ErrorFlags uint32

const (
	ErrFlagOperation   ErrorFlags = 1 << 1  // OPERR
	ErrFlagProgram     ErrorFlags = 1 << 3  // PROGERR
	ErrFlagWRP         ErrorFlags = 1 << 4  // WRPERR
	ErrFlagAlignment   ErrorFlags = 1 << 5  // PGAERR
	ErrFlagSize        ErrorFlags = 1 << 6  // SIZERR
	ErrFlagSequence    ErrorFlags = 1 << 7  // PGSERR
	ErrFlagOptionWrite ErrorFlags = 1 << 13 // OPTWERR
)

var flagNames = []struct {
	flag ErrorFlags
	name string
}{
	{ErrFlagOperation, "OPERR"},
	{ErrFlagProgram, "PROGERR"},
	{ErrFlagWRP, "WRPERR"},
	{ErrFlagAlignment, "PGAERR"},
	{ErrFlagSize, "SIZERR"},
	{ErrFlagSequence, "PGSERR"},
	{ErrFlagOptionWrite, "OPTWERR"},
}

func (f ErrorFlags) String() string {
	if f == 0 {
		return "none"
	}
	var names []string
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}
	if len(names) == 0 {
		return fmt.Sprintf("0x%08X", uint32(f))
	}
	return strings.Join(names, "|")
}

// Controller is the flash interface hardware. A real implementation drives
// the FLASH peripheral registers; sim.Flash emulates it.
//
// Program, ErasePage, EraseBank and ProgramOptions start an operation and
// return immediately. Busy reports whether it is still running and
// TakeErrors returns, then clears, the error flags it raised.
type Controller interface {
	Unlock() error
	Lock() error
	UnlockOptions() error

	Busy() bool
	TakeErrors() ErrorFlags

	// Read returns the byte at addr from the memory-mapped array.
	Read(addr uint32) byte

	// Program writes one quad-word (16 bytes) at addr.
	Program(addr uint32, quad []byte)

	// ErasePage erases page (0-127) of bank.
	ErasePage(bank Bank, page int)

	// EraseBank erases bank1, bank2 or both.
	EraseBank(bank Bank)

	// Options returns the option registers.
	Options() OptionRegisters

	// ProgramOptions writes the option registers. The values take effect at
	// the next LaunchOptions.
	ProgramOptions(o OptionRegisters)

	// LaunchOptions reloads option bytes, which resets the device.
	LaunchOptions()
}

// OptionRegisters holds the non-secure option byte registers.
type OptionRegisters struct {
	OPTR       uint32
	NSBootAdd0 uint32
	NSBootAdd1 uint32
	WRP1A      uint32
	WRP1B      uint32
	WRP2A      uint32
	WRP2B      uint32
}

// Readout protection byte values (OPTR bits 7:0).
const (
	RDPLevel0 byte = 0xAA
	RDPLevel1 byte = 0xBB
	RDPLevel2 byte = 0xCC
)

// WRPDisabled is the register value of an unused write protection area:
// start page 0x7F after end page 0x00.
const WRPDisabled uint32 = 0x0000007F

// DefaultOptions returns the factory option byte configuration.
func DefaultOptions() OptionRegisters {
	return OptionRegisters{
		OPTR:       0x1FEFF800 | uint32(RDPLevel0),
		NSBootAdd0: 0x08000000,
		NSBootAdd1: 0x0BF90000,
		WRP1A:      WRPDisabled,
		WRP1B:      WRPDisabled,
		WRP2A:      WRPDisabled,
		WRP2B:      WRPDisabled,
	}
}

// RDP returns the readout protection byte.
func (o OptionRegisters) RDP() byte {
	return byte(o.OPTR)
}

// SetRDP replaces the readout protection byte.
func (o *OptionRegisters) SetRDP(b byte) {
	o.OPTR = o.OPTR&^0xFF | uint32(b)
}

// Level decodes the readout protection level.
func (o OptionRegisters) Level() ProtectionLevel {
	return LevelFromRDP(o.RDP())
}

// WRPArea encodes a write protection area covering pages start to end of a bank.
func WRPArea(start, end byte) uint32 {
	return uint32(start&0x7F) | uint32(end&0x7F)<<16
}

// WRPRange decodes an area register. ok is false when the area is disabled.
func WRPRange(reg uint32) (start, end int, ok bool) {
	start = int(reg & 0x7F)
	end = int(reg >> 16 & 0x7F)
	return start, end, start <= end
}

// Protected reports whether page of bank lies in an enabled WRP area.
func (o OptionRegisters) Protected(bank Bank, page int) bool {
	areas := [2]uint32{o.WRP1A, o.WRP1B}
	if bank == Bank2 {
		areas = [2]uint32{o.WRP2A, o.WRP2B}
	}
	for _, a := range areas {
		if s, e, ok := WRPRange(a); ok && page >= s && page <= e {
			return true
		}
	}
	return false
}

// Image renders the registers as the 48-byte option byte area.
// Secure registers are not accessible and read as 0xFF.
func (o OptionRegisters) Image() [48]byte {
	var img [48]byte
	for i := range img {
		img[i] = 0xFF
	}
	le := binary.LittleEndian
	le.PutUint32(img[0:], o.OPTR)
	le.PutUint32(img[4:], o.NSBootAdd0)
	le.PutUint32(img[8:], o.NSBootAdd1)
	le.PutUint32(img[24:], o.WRP1A)
	le.PutUint32(img[28:], o.WRP1B)
	le.PutUint32(img[40:], o.WRP2A)
	le.PutUint32(img[44:], o.WRP2B)
	return img
}

// Apply updates the registers from a host option byte payload. Each field is
// written only when the payload reaches its end.
func (o *OptionRegisters) Apply(payload []byte) {
	le := binary.LittleEndian
	n := len(payload)
	if n >= 1 {
		o.SetRDP(payload[0])
	}
	if n >= 4 {
		o.OPTR = le.Uint32(payload[0:4])
	}
	if n >= 8 {
		o.NSBootAdd0 = le.Uint32(payload[4:8])
	}
	if n >= 12 {
		o.NSBootAdd1 = le.Uint32(payload[8:12])
	}
	if n >= 28 {
		o.WRP1A = le.Uint32(payload[24:28])
	}
	if n >= 32 {
		o.WRP1B = le.Uint32(payload[28:32])
	}
	if n >= 44 {
		o.WRP2A = le.Uint32(payload[40:44])
	}
	if n >= 48 {
		o.WRP2B = le.Uint32(payload[44:48])
	}
}
