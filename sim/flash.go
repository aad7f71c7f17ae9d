package sim

import (
	"errors"
	"time"

	"github.com/moffa90/go-openbl/flash"
	"github.com/moffa90/go-openbl/memory"
)

// Errors returned by the simulated controller.
var (
	ErrLocked = errors.New("flash control register locked")
)

// Flash timing, counted in Busy polls.
const (
	DefaultProgramPolls   = 4
	DefaultPageErasePolls = 64
	DefaultBankErasePolls = 512
	DefaultOptionPolls    = 16
	DefaultPollTime       = 10 * time.Microsecond
)

// Flash emulates the flash interface, the OTP area and the engineering bytes.
type Flash struct {
	Array     []byte
	OTPArea   []byte
	EngiBytes []byte

	// Registers holds the option registers as last written. Loaded holds
	// the values in effect since the last option byte launch.
	Registers flash.OptionRegisters
	Loaded    flash.OptionRegisters

	ProgramPolls   int
	PageErasePolls int
	BankErasePolls int
	OptionPolls    int
	PollTime       time.Duration

	// Stuck keeps the controller busy forever.
	Stuck bool

	// Operation log.
	Programs    int
	PageErases  []int // absolute page numbers
	BankErases  []flash.Bank
	Launches    int
	LockCalls   int
	UnlockCalls int

	clock     *Clock
	locked    bool
	optLocked bool
	busyFor   int
	errs      flash.ErrorFlags
}

// NewFlash returns an erased device with factory option bytes.
func NewFlash(clock *Clock) *Flash {
	f := &Flash{
		Array:          fill(make([]byte, memory.FlashSize)),
		OTPArea:        fill(make([]byte, memory.OTPSize)),
		EngiBytes:      fill(make([]byte, memory.EngiBytesSize)),
		Registers:      flash.DefaultOptions(),
		Loaded:         flash.DefaultOptions(),
		ProgramPolls:   DefaultProgramPolls,
		PageErasePolls: DefaultPageErasePolls,
		BankErasePolls: DefaultBankErasePolls,
		OptionPolls:    DefaultOptionPolls,
		PollTime:       DefaultPollTime,
		clock:          clock,
		locked:         true,
		optLocked:      true,
	}
	return f
}

func fill(b []byte) []byte {
	for i := range b {
		b[i] = 0xFF
	}
	return b
}

// Unlock unlocks the control register.
func (f *Flash) Unlock() error {
	f.UnlockCalls++
	f.locked = false
	return nil
}

// Lock locks the control and option registers.
func (f *Flash) Lock() error {
	f.LockCalls++
	f.locked = true
	f.optLocked = true
	return nil
}

// Locked reports whether the control register is locked.
func (f *Flash) Locked() bool {
	return f.locked
}

// UnlockOptions unlocks the option registers.
func (f *Flash) UnlockOptions() error {
	if f.locked {
		return ErrLocked
	}
	f.optLocked = false
	return nil
}

// Busy advances the clock by one poll and reports whether an operation is
// in progress.
func (f *Flash) Busy() bool {
	if f.clock != nil {
		f.clock.Advance(f.PollTime)
	}
	if f.Stuck {
		return true
	}
	if f.busyFor > 0 {
		f.busyFor--
		return true
	}
	return false
}

// Working reports an operation in progress without advancing the clock.
func (f *Flash) Working() bool {
	return f.Stuck || f.busyFor > 0
}

// TakeErrors returns and clears the error flags.
func (f *Flash) TakeErrors() flash.ErrorFlags {
	e := f.errs
	f.errs = 0
	return e
}

// Read returns a byte from flash, OTP or engineering bytes.
func (f *Flash) Read(addr uint32) byte {
	if b, ok := f.slice(addr); ok {
		return b[0]
	}
	return 0xFF
}

func (f *Flash) slice(addr uint32) ([]byte, bool) {
	switch {
	case addr >= memory.FlashStart && addr <= memory.FlashEnd:
		return f.Array[addr-memory.FlashStart:], true
	case addr >= memory.OTPStart && addr < memory.OTPStart+memory.OTPSize:
		return f.OTPArea[addr-memory.OTPStart:], true
	case addr >= memory.EngiBytesStart && addr < memory.EngiBytesStart+memory.EngiBytesSize:
		return f.EngiBytes[addr-memory.EngiBytesStart:], true
	}
	return nil, false
}

// Program writes a quad-word. The target must be erased and, in flash, not
// write protected.
func (f *Flash) Program(addr uint32, quad []byte) {
	f.Programs++
	f.busyFor = f.ProgramPolls
	if f.locked {
		f.errs |= flash.ErrFlagSequence
		return
	}
	if addr%memory.ProgramWidth != 0 || len(quad) != memory.ProgramWidth {
		f.errs |= flash.ErrFlagAlignment
		return
	}
	dst, ok := f.slice(addr)
	if !ok || len(dst) < memory.ProgramWidth {
		f.errs |= flash.ErrFlagProgram
		return
	}
	if addr <= memory.FlashEnd && addr >= memory.FlashStart {
		page := int(addr-memory.FlashStart) / memory.PageSize
		if f.protected(page) {
			f.errs |= flash.ErrFlagWRP
			return
		}
	}
	for _, b := range dst[:memory.ProgramWidth] {
		if b != 0xFF {
			f.errs |= flash.ErrFlagProgram
			return
		}
	}
	copy(dst, quad)
}

func (f *Flash) protected(page int) bool {
	bank, idx := flash.Bank1, page
	if page >= memory.BankPages {
		bank, idx = flash.Bank2, page-memory.BankPages
	}
	return f.Loaded.Protected(bank, idx)
}

// ErasePage erases one page.
func (f *Flash) ErasePage(bank flash.Bank, page int) {
	f.busyFor = f.PageErasePolls
	abs := page
	if bank == flash.Bank2 {
		abs += memory.BankPages
	}
	f.PageErases = append(f.PageErases, abs)
	if f.locked {
		f.errs |= flash.ErrFlagSequence
		return
	}
	if f.protected(abs) {
		f.errs |= flash.ErrFlagWRP
		return
	}
	fill(f.Array[abs*memory.PageSize : (abs+1)*memory.PageSize])
}

// EraseBank erases one or both banks. A bank holding a protected page is
// left untouched.
func (f *Flash) EraseBank(bank flash.Bank) {
	f.busyFor = f.BankErasePolls
	f.BankErases = append(f.BankErases, bank)
	if f.locked {
		f.errs |= flash.ErrFlagSequence
		return
	}
	for _, b := range []flash.Bank{flash.Bank1, flash.Bank2} {
		if bank&b == 0 {
			continue
		}
		first := 0
		if b == flash.Bank2 {
			first = memory.BankPages
		}
		for p := first; p < first+memory.BankPages; p++ {
			if f.protected(p) {
				f.errs |= flash.ErrFlagWRP
				return
			}
		}
		fill(f.Array[first*memory.PageSize : (first+memory.BankPages)*memory.PageSize])
	}
}

// Options returns the option registers.
func (f *Flash) Options() flash.OptionRegisters {
	return f.Registers
}

// ProgramOptions writes the option registers.
func (f *Flash) ProgramOptions(o flash.OptionRegisters) {
	f.busyFor = f.OptionPolls
	if f.optLocked {
		f.errs |= flash.ErrFlagOptionWrite
		return
	}
	f.Registers = o
}

// LaunchOptions loads the option registers. Leaving readout protection
// level 1 for level 0 mass erases the flash, as the hardware does.
func (f *Flash) LaunchOptions() {
	f.Launches++
	if f.Loaded.Level() != memory.ProtectionNone && f.Registers.Level() == memory.ProtectionNone {
		fill(f.Array)
	}
	f.Loaded = f.Registers
}

// Boot reloads the registers from the loaded option bytes, as a power-on
// reset does.
func (f *Flash) Boot() {
	f.Registers = f.Loaded
	f.locked = true
	f.optLocked = true
	f.busyFor = 0
	f.errs = 0
}
