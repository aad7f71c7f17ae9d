package flash

import (
	"fmt"

	"github.com/moffa90/go-openbl/memory"
)

// ReadoutProtection returns the readout level committed at boot.
func (b *Backend) ReadoutProtection() ProtectionLevel {
	return b.committed
}

// SetReadoutProtection writes the RDP byte for level and stages the option
// byte launch. It is refused, before any register write, when level 2 is
// committed.
func (b *Backend) SetReadoutProtection(level ProtectionLevel) error {
	if b.committed == memory.ProtectionFull {
		return ErrProtectionLocked
	}
	b.log.Info("set readout protection", "from", b.committed, "to", level)
	return b.programOptions(func(o *OptionRegisters) {
		o.SetRDP(RDPFromLevel(level))
	})
}

// SetWriteProtection enables protection of the areas listed in pages, given
// as start/end page pairs (bank 1 area A, bank 1 area B, bank 2 area A,
// bank 2 area B), or disables protection of all four areas.
func (b *Backend) SetWriteProtection(enable bool, pages []byte) error {
	if b.committed == memory.ProtectionFull {
		return ErrProtectionLocked
	}
	if enable && len(pages) < 2 {
		return fmt.Errorf("%w: write protection needs a start/end pair", ErrInvalidPayload)
	}
	b.log.Info("set write protection", "enable", enable, "pages", pages)
	return b.programOptions(func(o *OptionRegisters) {
		if !enable {
			o.WRP1A, o.WRP1B, o.WRP2A, o.WRP2B = WRPDisabled, WRPDisabled, WRPDisabled, WRPDisabled
			return
		}
		areas := []*uint32{&o.WRP1A, &o.WRP1B, &o.WRP2A, &o.WRP2B}
		for i, area := range areas {
			if len(pages) < 2*i+2 {
				break
			}
			*area = WRPArea(pages[2*i], pages[2*i+1])
		}
	})
}

// programOptions applies update to the option registers and stages the
// launch that makes them effective.
func (b *Backend) programOptions(update func(*OptionRegisters)) (err error) {
	if err := b.unlock(); err != nil {
		return err
	}
	defer b.relock(&err)
	if err := b.ctrl.UnlockOptions(); err != nil {
		return fmt.Errorf("option bytes unlock: %w", err)
	}

	o := b.ctrl.Options()
	update(&o)
	b.ctrl.ProgramOptions(o)
	if err := b.wait("option program", memory.OptionBytesStart); err != nil {
		return err
	}

	b.sys.Stage("option bytes launch", b.launch)
	return nil
}

func (b *Backend) launch() {
	b.ctrl.LaunchOptions()
	b.sys.Reset("option bytes launch")
}
