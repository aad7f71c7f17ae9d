// Package config loads the bootloader configuration from YAML.
//
// Load starts from Default, so a file only needs the settings it changes.
// Validate performs declarative checks and never mutates; Normalize fills
// the values a valid configuration may leave out.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Device     DeviceConfig     `yaml:"device"`
	Transports TransportsConfig `yaml:"transports"`
	Flash      FlashConfig      `yaml:"flash"`
	Memory     MemoryConfig     `yaml:"memory"`
	Special    SpecialConfig    `yaml:"special"`
	Sim        SimConfig        `yaml:"sim"`
}

// ---- DEVICE ----

type DeviceConfig struct {
	ProductID uint16 `yaml:"product_id"`
	LogLevel  string `yaml:"log_level"` // debug, info, warn, error
}

// ---- TRANSPORTS ----

type TransportsConfig struct {
	USART USARTConfig `yaml:"usart"`
	I2C   I2CConfig   `yaml:"i2c"`
	SPI   SPIConfig   `yaml:"spi"`
	FDCAN FDCANConfig `yaml:"fdcan"`
	USB   USBConfig   `yaml:"usb"`
}

// Timeouts are counted in watchdog-refreshing polls; zero waits forever.

type USARTConfig struct {
	Enabled bool `yaml:"enabled"`
	Timeout int  `yaml:"timeout"`
}

type I2CConfig struct {
	Enabled bool  `yaml:"enabled"`
	Address uint8 `yaml:"address"`
	Timeout int   `yaml:"timeout"`
}

type SPIConfig struct {
	Enabled bool `yaml:"enabled"`
	Timeout int  `yaml:"timeout"`
}

type FDCANConfig struct {
	Enabled bool `yaml:"enabled"`
	Timeout int  `yaml:"timeout"`
}

type USBConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ---- FLASH ----

type FlashConfig struct {
	ProgramTimeout int `yaml:"program_timeout"`
}

// ---- MEMORY ----

type MemoryConfig struct {
	RAM    RegionConfig   `yaml:"ram"`
	Extras []RegionConfig `yaml:"extras"` // additional RAM regions
}

type RegionConfig struct {
	Name  string `yaml:"name"`
	Start uint32 `yaml:"start"`
	Size  uint32 `yaml:"size"`
}

// End returns the last address of the region.
func (r RegionConfig) End() uint32 {
	return r.Start + r.Size - 1
}

// ---- SPECIAL COMMANDS ----

type SpecialConfig struct {
	Special  []uint16 `yaml:"special"`
	Extended []uint16 `yaml:"extended"`
}

// ---- SIMULATOR ----

type SimConfig struct {
	StateFile  string `yaml:"state_file"`  // CBOR snapshot of the non-volatile memories
	IdleLimit  int    `yaml:"idle_limit"`  // refreshes before a closed host halts the device
	WatchdogMs int    `yaml:"watchdog_ms"` // watchdog period
}

// Load reads the YAML file at path over Default, then validates and
// normalizes the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over Default, then validates and normalizes the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	Normalize(cfg)
	return cfg, nil
}
