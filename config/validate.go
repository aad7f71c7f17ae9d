package config

import (
	"fmt"

	"github.com/moffa90/go-openbl/memory"
	"github.com/moffa90/go-openbl/protocol"
)

// span is an inclusive address range.
type span struct {
	name  string
	start uint32
	end   uint32
}

// fixed is the memory map registered by every bootloader.
var fixed = []span{
	{"flash", memory.FlashStart, memory.FlashEnd},
	{"option bytes", memory.OptionBytesStart, memory.OptionBytesStart + memory.OptionBytesSize - 1},
	{"otp", memory.OTPStart, memory.OTPStart + memory.OTPSize - 1},
	{"icp", memory.ICPStart, memory.ICPStart + memory.ICPSize - 1},
	{"engi bytes", memory.EngiBytesStart, memory.EngiBytesStart + memory.EngiBytesSize - 1},
}

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}

	// ------------------------------------------------------------
	// DEVICE
	// ------------------------------------------------------------

	if cfg.Device.LogLevel != "" {
		if _, ok := logLevels[cfg.Device.LogLevel]; !ok {
			return fmt.Errorf("device: unknown log_level %q", cfg.Device.LogLevel)
		}
	}

	// ------------------------------------------------------------
	// TRANSPORTS
	// ------------------------------------------------------------

	t := cfg.Transports
	if !t.USART.Enabled && !t.I2C.Enabled && !t.SPI.Enabled && !t.FDCAN.Enabled && !t.USB.Enabled {
		return fmt.Errorf("transports: at least one transport must be enabled")
	}

	if t.I2C.Enabled {
		// 0x00-0x07 and 0x78-0x7F are reserved by the I2C specification
		if t.I2C.Address <= 0x07 || t.I2C.Address >= 0x78 {
			return fmt.Errorf("transports.i2c: address 0x%02X is not a 7-bit slave address", t.I2C.Address)
		}
	}

	timeouts := []struct {
		name  string
		value int
	}{
		{"transports.usart.timeout", t.USART.Timeout},
		{"transports.i2c.timeout", t.I2C.Timeout},
		{"transports.spi.timeout", t.SPI.Timeout},
		{"transports.fdcan.timeout", t.FDCAN.Timeout},
		{"flash.program_timeout", cfg.Flash.ProgramTimeout},
		{"sim.idle_limit", cfg.Sim.IdleLimit},
		{"sim.watchdog_ms", cfg.Sim.WatchdogMs},
	}
	for _, to := range timeouts {
		if to.value < 0 {
			return fmt.Errorf("%s: must not be negative, got %d", to.name, to.value)
		}
	}

	// ------------------------------------------------------------
	// MEMORY GEOMETRY
	// ------------------------------------------------------------

	spans := append([]span(nil), fixed...)
	regions := append([]RegionConfig{cfg.Memory.RAM}, cfg.Memory.Extras...)

	for i, r := range regions {
		label := r.Name
		if label == "" {
			label = fmt.Sprintf("memory region %d", i)
		}
		if r.Size == 0 {
			return fmt.Errorf("%s: size must be positive", label)
		}
		if uint64(r.Start)+uint64(r.Size) > 1<<32 {
			return fmt.Errorf("%s: 0x%08X+0x%X exceeds the address space", label, r.Start, r.Size)
		}

		start, end := r.Start, r.End()
		for _, s := range spans {
			// overlap check (inclusive)
			if !(end < s.start || start > s.end) {
				return fmt.Errorf(
					"memory overlap: %s range=0x%08X-0x%08X overlaps with %s range=0x%08X-0x%08X",
					label, start, end, s.name, s.start, s.end,
				)
			}
		}
		spans = append(spans, span{name: label, start: start, end: end})
	}

	// ------------------------------------------------------------
	// SPECIAL COMMAND LISTS
	// ------------------------------------------------------------

	if err := validateSpecial("special.special", cfg.Special.Special, protocol.SpecialCmdMaxNumber); err != nil {
		return err
	}
	if err := validateSpecial("special.extended", cfg.Special.Extended, protocol.ExtendedSpecialCmdMaxNumber); err != nil {
		return err
	}

	return nil
}

func validateSpecial(name string, ops []uint16, capacity int) error {
	if len(ops) > capacity {
		return fmt.Errorf("%s: %d opcodes exceed the capacity of %d", name, len(ops), capacity)
	}
	seen := make(map[uint16]bool, len(ops))
	for _, op := range ops {
		if seen[op] {
			return fmt.Errorf("%s: duplicate opcode 0x%04X", name, op)
		}
		seen[op] = true
	}
	return nil
}
