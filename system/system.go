// Package system provides the cross-cutting services every bootloader
// component relies on: watchdog refresh, bounded busy-waiting, device reset,
// jumps to application code, the flash busy state, and deferred commits that
// run once the current response has been sent.
//
// The engine is single threaded. None of the types in this package are safe
// for concurrent use.
package system

import (
	"log/slog"
)

// Platform is the hardware behind a System.
//
// On a device Reset and Jump never return. A simulated platform records the
// request and returns; System then unwinds the command loop with an *Exit.
type Platform interface {
	// RefreshWatchdog reloads the independent watchdog counter.
	RefreshWatchdog()

	// Reset performs a system reset, reloading option bytes.
	Reset()

	// EnableInterrupts re-enables interrupts before a jump.
	EnableInterrupts()

	// Jump loads the main stack pointer with sp and branches to pc.
	Jump(sp, pc uint32)
}

// System bundles the platform, the busy state and the commit queue.
type System struct {
	platform Platform
	logger   *slog.Logger
	busy     BusyState
	sender   BusySender
	deinit   func()
	staged   []staged
	nextTok  Token
}

// Option configures a System.
type Option func(*System)

// WithLogger sets the logger used by the system and handed out through Log.
func WithLogger(l *slog.Logger) Option {
	return func(s *System) {
		if l != nil {
			s.logger = l
		}
	}
}

// New creates a System on top of platform.
// Panics if platform is nil.
func New(platform Platform, opts ...Option) *System {
	if platform == nil {
		panic("system: platform cannot be nil")
	}
	s := &System{
		platform: platform,
		logger:   DefaultLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Log returns the system logger tagged with component.
func (s *System) Log(component Component) *slog.Logger {
	return s.logger.With("component", string(component))
}

// RefreshWatchdog reloads the watchdog.
func (s *System) RefreshWatchdog() {
	s.platform.RefreshWatchdog()
}

// Busy returns the flash busy state.
func (s *System) Busy() *BusyState {
	return &s.busy
}

// Reset resets the device. It never returns.
func (s *System) Reset(cause string) {
	s.Log(ComponentSystem).Warn("system reset", "cause", cause)
	s.platform.Reset()
	panic(&Exit{Reason: ExitReset, Cause: cause})
}

// Attach records the transport that won detection: deinit releases it
// before a jump and sender, when non-nil, emits busy bytes.
func (s *System) Attach(deinit func(), sender BusySender) {
	s.deinit = deinit
	s.sender = sender
}

// Jump deinitializes the active transport and transfers control to the
// application whose vector table starts at addr, with initial stack pointer
// sp and reset handler pc. It never returns.
func (s *System) Jump(addr, sp, pc uint32) {
	if s.deinit != nil {
		s.deinit()
	}
	s.Log(ComponentSystem).Info("jump to application", "addr", addr, "sp", sp, "pc", pc)
	s.platform.EnableInterrupts()
	s.platform.Jump(sp, pc)
	panic(&Exit{Reason: ExitJump, Address: addr, Cause: "go"})
}

// WaitBusy spins while busy reports true. When the busy state is enabled
// each spin also sends a busy byte on the active transport. The watchdog is
// refreshed and the limit enforced as in WaitFor.
func (s *System) WaitBusy(busy func() bool, limit int, cause string) {
	s.WaitFor(func() bool {
		if !busy() {
			return true
		}
		if s.busy.Enabled() && s.sender != nil {
			s.sender.SendBusyByte()
		}
		return false
	}, limit, cause)
}

// WaitFor polls ready until it reports true, refreshing the watchdog before
// every poll. When limit is positive and ready has been polled limit times
// without success the device is reset with cause.
func (s *System) WaitFor(ready func() bool, limit int, cause string) {
	for n := 0; ; n++ {
		s.platform.RefreshWatchdog()
		if ready() {
			return
		}
		if limit > 0 && n+1 >= limit {
			s.Reset(cause)
		}
	}
}
