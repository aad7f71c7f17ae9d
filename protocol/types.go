package protocol

// Commands contains the answer to the Get command.
type Commands struct {
	// Version is the bootloader protocol version (0x31 = 3.1)
	Version byte

	// Opcodes lists the supported command opcodes
	Opcodes []byte
}

// Supports reports whether op is listed.
func (c *Commands) Supports(op byte) bool {
	for _, o := range c.Opcodes {
		if o == op {
			return true
		}
	}
	return false
}

// VersionInfo contains the answer to the Get Version command.
type VersionInfo struct {
	// Version is the bootloader protocol version
	Version byte

	// Option1 and Option2 are kept for compatibility (always zero)
	Option1 byte
	Option2 byte
}

// SpecialResponse is the answer to a Special or Extended Special command.
// Data is always empty for Extended Special commands.
type SpecialResponse struct {
	Data   []byte
	Status []byte
}
