// Package flash implements the flash memory backend: quad-word programming,
// page and bank erase, readout and write protection through option bytes,
// and the OTP and option byte regions.
//
// Every hardware wait goes through system.WaitBusy, so the watchdog is
// refreshed while the controller is busy and busy bytes are sent to the host
// when the busy state is enabled.
package flash

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/moffa90/go-openbl/memory"
	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/system"
)

// ProtectionLevel is the readout protection level.
type ProtectionLevel = memory.ProtectionLevel

// DefaultProgramTimeout bounds every busy wait, in polls.
const DefaultProgramTimeout = 0x00FFFFFF

// LevelFromRDP decodes an RDP byte.
func LevelFromRDP(b byte) ProtectionLevel {
	switch b {
	case RDPLevel0:
		return memory.ProtectionNone
	case RDPLevel2:
		return memory.ProtectionFull
	default:
		return memory.ProtectionRead
	}
}

// RDPFromLevel encodes a level as an RDP byte.
func RDPFromLevel(l ProtectionLevel) byte {
	switch l {
	case memory.ProtectionNone:
		return RDPLevel0
	case memory.ProtectionFull:
		return RDPLevel2
	default:
		return RDPLevel1
	}
}

// Backend drives the flash controller on behalf of the memory registry.
type Backend struct {
	ctrl      Controller
	sys       *system.System
	log       *slog.Logger
	timeout   int
	committed ProtectionLevel
}

// Option configures a Backend.
type Option func(*Backend)

// WithProgramTimeout bounds every busy wait to n polls.
func WithProgramTimeout(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.timeout = n
		}
	}
}

// New creates a backend. The committed readout level is sampled from the
// option registers, which hold the values loaded at boot.
func New(ctrl Controller, sys *system.System, opts ...Option) *Backend {
	if ctrl == nil {
		panic("flash: controller cannot be nil")
	}
	b := &Backend{
		ctrl:    ctrl,
		sys:     sys,
		log:     sys.Log(system.ComponentFlash),
		timeout: DefaultProgramTimeout,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.committed = ctrl.Options().Level()
	return b
}

// Descriptor returns the flash descriptor for the memory registry.
func (b *Backend) Descriptor() *memory.Descriptor {
	return memory.NewDescriptor("flash", memory.KindFlash, memory.FlashStart, memory.FlashSize, b)
}

// Read returns the byte at addr.
func (b *Backend) Read(addr uint32) byte {
	return b.ctrl.Read(addr)
}

// Write programs data at addr. The tail is padded with 0xFF to a whole
// quad-word. The controller is relocked on every path.
func (b *Backend) Write(addr uint32, data []byte) (err error) {
	if len(data) == 0 {
		return nil
	}
	if err := b.unlock(); err != nil {
		return err
	}
	defer b.relock(&err)

	for off := 0; off < len(data); off += memory.ProgramWidth {
		var quad [memory.ProgramWidth]byte
		n := copy(quad[:], data[off:])
		for i := n; i < len(quad); i++ {
			quad[i] = 0xFF
		}
		a := addr + uint32(off)
		b.ctrl.Program(a, quad[:])
		if err := b.wait("program", a); err != nil {
			return err
		}
	}
	return nil
}

// Erase erases the pages listed in payload:
//
//	[COUNT LSB][COUNT MSB][PAGE LSB][PAGE MSB]...
//
// Every page is attempted. Pages outside both banks and pages the hardware
// fails to erase are counted, and a non-zero count is reported as an
// *EraseError once all pages have been tried.
func (b *Backend) Erase(payload []byte) (err error) {
	if len(payload) < 2 {
		return fmt.Errorf("%w: page erase needs a page count", ErrInvalidPayload)
	}
	count := int(binary.LittleEndian.Uint16(payload))

	if err := b.unlock(); err != nil {
		return err
	}
	defer b.relock(&err)
	b.ctrl.TakeErrors()

	failed, attempted := 0, 0
	for i := 0; i < count && 2+2*i+1 < len(payload); i++ {
		page := int(binary.LittleEndian.Uint16(payload[2+2*i:]))
		attempted++

		bank, idx, ok := pageBank(page)
		if !ok {
			b.log.Warn("invalid page", "page", page)
			failed++
			continue
		}
		b.ctrl.ErasePage(bank, idx)
		if werr := b.wait("page erase", pageAddress(page)); werr != nil {
			b.log.Warn("page erase failed", "page", page, "err", werr)
			failed++
		}
	}

	if failed > 0 {
		return &EraseError{Failed: failed, Attempted: attempted}
	}
	return nil
}

// MassErase erases the banks named by payload, a list of big-endian codes
// (0xFFFF both banks, 0xFFFE bank 1, 0xFFFD bank 2). The whole list is
// validated before the controller is touched.
func (b *Backend) MassErase(payload []byte) (err error) {
	if len(payload) < 2 || len(payload)%2 != 0 {
		return fmt.Errorf("%w: bank list length %d", ErrInvalidPayload, len(payload))
	}
	banks := make([]Bank, 0, len(payload)/2)
	for i := 0; i < len(payload); i += 2 {
		code := binary.BigEndian.Uint16(payload[i:])
		bank, ok := bankFromCode(code)
		if !ok {
			return fmt.Errorf("%w: 0x%04X", ErrInvalidBank, code)
		}
		banks = append(banks, bank)
	}

	if err := b.unlock(); err != nil {
		return err
	}
	defer b.relock(&err)

	for _, bank := range banks {
		b.ctrl.EraseBank(bank)
		if err := b.wait("bank erase", memory.FlashStart); err != nil {
			return err
		}
	}
	return nil
}

// JumpTo starts the application whose vector table is at addr.
// It never returns.
func (b *Backend) JumpTo(addr uint32) {
	sp := b.read32(addr)
	pc := b.read32(addr + 4)
	b.sys.Jump(addr, sp, pc)
}

func (b *Backend) read32(addr uint32) uint32 {
	var w [4]byte
	for i := range w {
		w[i] = b.ctrl.Read(addr + uint32(i))
	}
	return binary.LittleEndian.Uint32(w[:])
}

func (b *Backend) unlock() error {
	// The previous operation must be finished before the next one starts.
	b.sys.WaitFor(func() bool { return !b.ctrl.Busy() }, b.timeout, "flash busy before unlock")
	if err := b.ctrl.Unlock(); err != nil {
		return fmt.Errorf("flash unlock: %w", err)
	}
	return nil
}

func (b *Backend) relock(err *error) {
	if lerr := b.ctrl.Lock(); lerr != nil && *err == nil {
		*err = fmt.Errorf("flash lock: %w", lerr)
	}
}

// wait blocks until the controller is idle and collects its error flags.
func (b *Backend) wait(op string, addr uint32) error {
	b.sys.WaitBusy(b.ctrl.Busy, b.timeout, "flash "+op+" timeout")
	if flags := b.ctrl.TakeErrors(); flags != 0 {
		return &HardwareError{Op: op, Addr: addr, Flags: flags}
	}
	return nil
}

func pageBank(page int) (Bank, int, bool) {
	switch {
	case page < 0 || page >= memory.PageCount:
		return 0, 0, false
	case page < memory.BankPages:
		return Bank1, page, true
	default:
		return Bank2, page - memory.BankPages, true
	}
}

func pageAddress(page int) uint32 {
	return memory.FlashStart + uint32(page)*memory.PageSize
}

func bankFromCode(code uint16) (Bank, bool) {
	switch code {
	case protocol.EraseMass:
		return BankBoth, true
	case protocol.EraseBank1:
		return Bank1, true
	case protocol.EraseBank2:
		return Bank2, true
	default:
		return 0, false
	}
}
