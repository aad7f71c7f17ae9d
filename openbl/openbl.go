// Package openbl assembles a bootloader: it registers the memory map and
// the enabled transports, then runs interface detection followed by the
// command loop.
//
// Basic usage on the simulator:
//
//	dev := sim.NewDevice()
//	bl, err := openbl.New(openbl.SimHardware(dev))
//	if err != nil {
//		return err
//	}
//	err = bl.Run(ctx) // *system.Exit once the session ends
package openbl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/moffa90/go-openbl/command"
	"github.com/moffa90/go-openbl/config"
	"github.com/moffa90/go-openbl/flash"
	"github.com/moffa90/go-openbl/memory"
	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/sim"
	"github.com/moffa90/go-openbl/system"
	"github.com/moffa90/go-openbl/transport"
	"github.com/moffa90/go-openbl/transport/fdcan"
	"github.com/moffa90/go-openbl/transport/i2c"
	"github.com/moffa90/go-openbl/transport/spi"
	"github.com/moffa90/go-openbl/transport/usart"
	"github.com/moffa90/go-openbl/transport/usb"
)

// ErrRegionBounds is returned by New when a configured range does not fit
// the hardware region backing it.
var ErrRegionBounds = errors.New("configured range exceeds the hardware region")

// Hardware is the target the bootloader runs on. Platform and Flash are
// required. A nil peripheral leaves its transport out; a nil RAM or ICP is
// replaced by an empty region.
type Hardware struct {
	Platform system.Platform
	Flash    flash.Controller
	RAM      memory.Region
	ICP      memory.Region

	USART usart.Peripheral
	I2C   i2c.Peripheral
	SPI   spi.Peripheral
	FDCAN fdcan.Peripheral
	USB   usb.Peripheral
}

// SimHardware returns the hardware of a simulated device.
func SimHardware(d *sim.Device) Hardware {
	return Hardware{
		Platform: d.Platform,
		Flash:    d.Flash,
		RAM:      d.RAM,
		ICP:      d.ICP,
		USART:    d.USART,
		I2C:      d.I2C,
		SPI:      d.SPI,
		FDCAN:    d.FDCAN,
		USB:      d.USB,
	}
}

// Bootloader is one boot session.
type Bootloader struct {
	session uuid.UUID
	cfg     *config.Config
	log     *slog.Logger

	sys   *system.System
	flash *flash.Backend
	mem   *memory.Registry
	ops   *command.Ops
	set   *command.Set
	reg   *transport.Registry
	disp  *command.Dispatcher
}

type options struct {
	cfg     *config.Config
	logger  *slog.Logger
	special command.SpecialFunc
}

// Option configures a Bootloader.
type Option func(*options)

// WithConfig replaces the default configuration. The configuration must be
// valid.
func WithConfig(cfg *config.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.cfg = cfg
		}
	}
}

// WithLogger sets the logger. Every record carries the session id.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithSpecial sets the processor answering accepted special commands on
// every transport.
func WithSpecial(fn command.SpecialFunc) Option {
	return func(o *options) {
		o.special = fn
	}
}

// New assembles a bootloader on hw.
func New(hw Hardware, opts ...Option) (*Bootloader, error) {
	o := options{cfg: config.Default(), logger: system.DefaultLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if hw.Platform == nil || hw.Flash == nil {
		return nil, fmt.Errorf("openbl: platform and flash controller are required")
	}
	if err := config.Validate(o.cfg); err != nil {
		return nil, fmt.Errorf("openbl: %w", err)
	}
	cfg := o.cfg

	b := &Bootloader{
		session: uuid.New(),
		cfg:     cfg,
	}
	b.log = o.logger.With("session", b.session.String())
	b.sys = system.New(hw.Platform, system.WithLogger(b.log))
	b.flash = flash.New(hw.Flash, b.sys, flash.WithProgramTimeout(cfg.Flash.ProgramTimeout))

	if err := b.registerMemories(hw); err != nil {
		return nil, err
	}
	b.ops = command.NewOps(b.mem)

	special, err := command.NewSpecialList(protocol.SpecialCmdMaxNumber, cfg.Special.Special...)
	if err != nil {
		return nil, fmt.Errorf("openbl: special commands: %w", err)
	}
	extended, err := command.NewSpecialList(protocol.ExtendedSpecialCmdMaxNumber, cfg.Special.Extended...)
	if err != nil {
		return nil, fmt.Errorf("openbl: extended special commands: %w", err)
	}
	b.set = command.NewSet(b.sys, b.ops,
		command.WithProductID(cfg.Device.ProductID),
		command.WithSpecialLists(special, extended),
	)

	b.reg = transport.NewRegistry(b.sys, transport.DefaultCapacity)
	if err := b.registerInterfaces(hw, o.special); err != nil {
		return nil, err
	}
	b.disp = command.NewDispatcher(b.sys, b.reg)
	return b, nil
}

func (b *Bootloader) registerMemories(hw Hardware) error {
	cfg := b.cfg.Memory
	b.mem = memory.NewRegistry(memory.DefaultCapacity + len(cfg.Extras))

	ram := hw.RAM
	if ram == nil {
		ram = memory.NewRAM(cfg.RAM.Start, cfg.RAM.Size)
	}
	icp := hw.ICP
	if icp == nil {
		icp = memory.NewROM(memory.ICPStart, make([]byte, memory.ICPSize))
	}

	if !memory.Covers(ram, cfg.RAM.Start, cfg.RAM.Size) {
		return fmt.Errorf("openbl: %w: %s 0x%08X+0x%X", ErrRegionBounds, cfg.RAM.Name, cfg.RAM.Start, cfg.RAM.Size)
	}
	if !memory.Covers(icp, memory.ICPStart, memory.ICPSize) {
		return fmt.Errorf("openbl: %w: icp", ErrRegionBounds)
	}

	descs := []*memory.Descriptor{
		b.flash.Descriptor(),
		memory.NewDescriptor(cfg.RAM.Name, memory.KindRAM, cfg.RAM.Start, cfg.RAM.Size, ram),
		b.flash.OptionBytes().Descriptor(),
		b.flash.OTP("otp", memory.KindOTP, memory.OTPStart, memory.OTPSize).Descriptor(),
		memory.NewDescriptor("icp", memory.KindICP, memory.ICPStart, memory.ICPSize, icp),
		b.flash.OTP("engi bytes", memory.KindEngiBytes, memory.EngiBytesStart, memory.EngiBytesSize).Descriptor(),
	}
	for _, r := range cfg.Extras {
		descs = append(descs, memory.NewDescriptor(r.Name, memory.KindRAM, r.Start, r.Size, memory.NewRAM(r.Start, r.Size)))
	}
	for _, d := range descs {
		if err := b.mem.Register(d); err != nil {
			return fmt.Errorf("openbl: register %s: %w", d.Name, err)
		}
	}
	return nil
}

// registerInterfaces registers the enabled transports in detection order.
func (b *Bootloader) registerInterfaces(hw Hardware, special command.SpecialFunc) error {
	t := b.cfg.Transports
	var handles []*transport.Handle

	if t.USART.Enabled && hw.USART != nil {
		u := usart.New(hw.USART, b.sys, usart.WithTimeout(t.USART.Timeout), usart.WithSpecial(special))
		handles = append(handles, transport.NewHandle(u, b.set.USART(u)))
	}
	if t.I2C.Enabled && hw.I2C != nil {
		i := i2c.New(hw.I2C, b.sys,
			i2c.WithAddress(t.I2C.Address), i2c.WithTimeout(t.I2C.Timeout), i2c.WithSpecial(special))
		handles = append(handles, transport.NewHandle(i, b.set.I2C(i)))
	}
	if t.FDCAN.Enabled && hw.FDCAN != nil {
		f := fdcan.New(hw.FDCAN, b.sys, fdcan.WithTimeout(t.FDCAN.Timeout), fdcan.WithSpecial(special))
		handles = append(handles, transport.NewHandle(f, b.set.FDCAN(f)))
	}
	if t.SPI.Enabled && hw.SPI != nil {
		s := spi.New(hw.SPI, b.sys, spi.WithTimeout(t.SPI.Timeout), spi.WithSpecial(special))
		handles = append(handles, transport.NewHandle(s, b.set.SPI(s)))
	}
	if t.USB.Enabled && hw.USB != nil {
		handles = append(handles, transport.NewHandle(usb.New(hw.USB, b.sys, b.ops), nil))
	}

	if len(handles) == 0 {
		return fmt.Errorf("openbl: %w", transport.ErrNoInterfaces)
	}
	for _, h := range handles {
		if err := b.reg.Register(h); err != nil {
			return fmt.Errorf("openbl: register %s: %w", h.Transport.Name(), err)
		}
	}
	return nil
}

// Run configures every transport, detects the host interface and serves
// commands. It returns the *system.Exit ending the session, or the context
// error when ctx is done first.
func (b *Bootloader) Run(ctx context.Context) error {
	b.log.Info("bootloader started",
		"interfaces", len(b.reg.Handles()),
		"memories", len(b.mem.Descriptors()),
		"protection", b.ops.Protection(),
	)
	b.reg.ConfigureAll()
	err := b.disp.Run(ctx)
	b.log.Info("session ended", "err", err)
	return err
}

// Session returns the boot session id.
func (b *Bootloader) Session() uuid.UUID {
	return b.session
}

// System returns the system services.
func (b *Bootloader) System() *system.System {
	return b.sys
}

// Memory returns the memory registry.
func (b *Bootloader) Memory() *memory.Registry {
	return b.mem
}

// Interfaces returns the interface registry.
func (b *Bootloader) Interfaces() *transport.Registry {
	return b.reg
}

// Dispatcher returns the command dispatcher.
func (b *Bootloader) Dispatcher() *command.Dispatcher {
	return b.disp
}
