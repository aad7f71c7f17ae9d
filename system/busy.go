package system

// BusyState tells blocking flash waits whether to emit busy bytes on the
// active transport. Only the command loop touches it.
type BusyState struct {
	enabled bool
}

// Enable turns busy-byte signalling on.
func (b *BusyState) Enable() { b.enabled = true }

// Disable turns busy-byte signalling off.
func (b *BusyState) Disable() { b.enabled = false }

// Enabled reports whether busy-byte signalling is on.
func (b *BusyState) Enabled() bool { return b.enabled }

// String returns "enabled" or "disabled".
func (b *BusyState) String() string {
	if b.enabled {
		return "enabled"
	}
	return "disabled"
}

// BusySender is implemented by transports that can tell the host the device
// is still working (I2C no-stretch mode, SPI).
type BusySender interface {
	SendBusyByte()
}
