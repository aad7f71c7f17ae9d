package sim

import (
	"time"

	"github.com/moffa90/go-openbl/memory"
)

// DefaultWatchdogPeriod is the watchdog period of a new Device.
const DefaultWatchdogPeriod = 100 * time.Millisecond

// Device is a complete simulated target: the platform, flash, SRAM and one
// peripheral per transport. Every host connection is watched, so a session
// ends once the host closes the connection it used.
type Device struct {
	Clock    *Clock
	Platform *Platform
	Flash    *Flash
	RAM      *memory.Bytes
	ICP      *memory.Bytes // system memory holding the bootloader

	USART *USART
	I2C   *I2C
	SPI   *SPI
	FDCAN *FDCAN
	USB   *USB
}

// NewDevice returns a powered-up device with erased flash.
func NewDevice() *Device {
	clock := &Clock{}
	d := &Device{
		Clock:    clock,
		Platform: NewPlatform(clock, DefaultWatchdogPeriod),
		Flash:    NewFlash(clock),
		RAM:      memory.NewRAM(memory.RAMStart, memory.RAMSize),
		ICP:      memory.NewROM(memory.ICPStart, fill(make([]byte, memory.ICPSize))),
	}
	d.Platform.Track(d.Flash)
	d.connect()
	return d
}

// Reboot models a power-on reset after a session ended: flash reloads its
// option bytes and every host connection starts fresh. Flash, OTP and SRAM
// contents are kept.
func (d *Device) Reboot() {
	d.Flash.Boot()
	p := d.Platform
	p.idle = 0
	p.halted.Store(false)
	p.hosts = nil
	p.interrupts = nil
	d.connect()
}

func (d *Device) connect() {
	d.USART = NewUSART()
	d.I2C = NewI2C()
	d.SPI = NewSPI()
	d.FDCAN = NewFDCAN()
	d.USB = NewUSB()
	for _, h := range []Drainer{d.USART, d.I2C, d.SPI, d.FDCAN, d.USB} {
		d.Platform.Watch(h)
	}
	d.Platform.AddInterrupt(d.SPI.Service)
}
