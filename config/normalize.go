package config

import "fmt"

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	if cfg.Device.LogLevel == "" {
		cfg.Device.LogLevel = DefaultLogLevel
	}
	if cfg.Device.ProductID == 0 {
		cfg.Device.ProductID = DefaultProductID
	}
	if cfg.Transports.I2C.Address == 0 {
		cfg.Transports.I2C.Address = DefaultI2CAddress
	}
	if cfg.Flash.ProgramTimeout == 0 {
		cfg.Flash.ProgramTimeout = DefaultFlashPolls
	}
	if cfg.Sim.WatchdogMs == 0 {
		cfg.Sim.WatchdogMs = DefaultWatchdogMs
	}

	if cfg.Memory.RAM.Name == "" {
		cfg.Memory.RAM.Name = DefaultRAMName
	}
	for i := range cfg.Memory.Extras {
		if cfg.Memory.Extras[i].Name == "" {
			cfg.Memory.Extras[i].Name = fmt.Sprintf("%s%d", DefaultRAMName, i+1)
		}
	}
}
