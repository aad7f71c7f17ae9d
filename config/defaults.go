package config

import (
	"log/slog"

	"github.com/moffa90/go-openbl/memory"
	"github.com/moffa90/go-openbl/protocol"
)

// Defaults.
const (
	DefaultProductID  = 0x0482
	DefaultI2CAddress = 0x5A
	DefaultI2CTimeout = 0x00FFFFFF // USART, SPI and FDCAN wait for the host forever
	DefaultWatchdogMs = 100
	DefaultLogLevel   = "info"
	DefaultRAMName    = "ram"
	DefaultFlashPolls = 0x00FFFFFF
)

// Default returns the reference configuration: every transport enabled on
// the STM32U5 memory map.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ProductID: DefaultProductID,
			LogLevel:  DefaultLogLevel,
		},
		Transports: TransportsConfig{
			USART: USARTConfig{Enabled: true},
			I2C:   I2CConfig{Enabled: true, Address: DefaultI2CAddress, Timeout: DefaultI2CTimeout},
			SPI:   SPIConfig{Enabled: true},
			FDCAN: FDCANConfig{Enabled: true},
			USB:   USBConfig{Enabled: true},
		},
		Flash: FlashConfig{ProgramTimeout: DefaultFlashPolls},
		Memory: MemoryConfig{
			RAM: RegionConfig{Name: DefaultRAMName, Start: memory.RAMStart, Size: memory.RAMSize},
		},
		Special: SpecialConfig{
			Special:  []uint16{protocol.SpecialCmdDefault},
			Extended: []uint16{protocol.SpecialCmdDefault},
		},
		Sim: SimConfig{WatchdogMs: DefaultWatchdogMs},
	}
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Level returns the configured log level, LevelInfo when unset.
func (d DeviceConfig) Level() slog.Level {
	if l, ok := logLevels[d.LogLevel]; ok {
		return l
	}
	return slog.LevelInfo
}
