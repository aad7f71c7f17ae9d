// Package sim provides in-memory hardware for running and testing the
// bootloader: a clock, an independent watchdog, a flash controller and a
// peripheral for every transport.
//
// Host-side methods (named Host*) may be called from another goroutine than
// the one running the engine.
package sim

import (
	"sync/atomic"
	"time"
)

// DefaultIdleLimit is the number of watchdog refreshes a device keeps
// polling a drained host before it halts.
const DefaultIdleLimit = 1 << 16

// Clock is a simulated monotonic clock advanced by hardware polls.
type Clock struct {
	now time.Duration
}

// Now returns the elapsed simulated time.
func (c *Clock) Now() time.Duration { return c.now }

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) { c.now += d }

// Watchdog records refreshes and the largest gap between two of them.
type Watchdog struct {
	Period    time.Duration
	Refreshes int
	MaxGap    time.Duration
	last      time.Duration
}

// Refresh reloads the watchdog at time now.
func (w *Watchdog) Refresh(now time.Duration) {
	if gap := now - w.last; gap > w.MaxGap {
		w.MaxGap = gap
	}
	w.last = now
	w.Refreshes++
}

// Expired reports whether a refresh ever came later than Period.
func (w *Watchdog) Expired() bool {
	return w.Period > 0 && w.MaxGap > w.Period
}

// Drainer is a host connection that can be exhausted: closed by the host
// with everything it sent consumed.
type Drainer interface {
	Drained() bool
}

// Worker is hardware that can keep the device busy without host traffic.
type Worker interface {
	Working() bool
}

// Platform implements system.Platform on simulated hardware.
//
// Every watchdog refresh also services the registered interrupt sources.
// Once a watched host is drained and the device has kept polling for
// IdleLimit refreshes, the refresh halts the device with an ExitHalt.
// Refreshes made while a tracked worker is busy are not idle.
type Platform struct {
	Clock    *Clock
	Watchdog *Watchdog

	Resets     int
	IRQEnabled bool
	JumpSP     uint32
	JumpPC     uint32

	IdleLimit int

	interrupts []func()
	hosts      []Drainer
	workers    []Worker
	idle       int
	halted     atomic.Bool
}

// NewPlatform returns a platform whose watchdog expires after period.
func NewPlatform(clock *Clock, period time.Duration) *Platform {
	return &Platform{
		Clock:     clock,
		Watchdog:  &Watchdog{Period: period},
		IdleLimit: DefaultIdleLimit,
	}
}

// AddInterrupt registers an interrupt source serviced on every refresh.
func (p *Platform) AddInterrupt(service func()) {
	p.interrupts = append(p.interrupts, service)
}

// Watch registers a host connection whose exhaustion halts the device.
func (p *Platform) Watch(h Drainer) {
	p.hosts = append(p.hosts, h)
}

// Track registers hardware whose operations suspend the idle count.
func (p *Platform) Track(w Worker) {
	p.workers = append(p.workers, w)
}

// Halt stops the device at its next watchdog refresh. It is safe to call
// from any goroutine.
func (p *Platform) Halt() {
	p.halted.Store(true)
}

// RefreshWatchdog reloads the watchdog.
func (p *Platform) RefreshWatchdog() {
	p.Watchdog.Refresh(p.Clock.Now())
	for _, service := range p.interrupts {
		service()
	}
	if p.halted.Load() {
		panic(halt("stopped"))
	}
	if p.drained() && !p.working() {
		p.idle++
		limit := p.IdleLimit
		if limit <= 0 {
			limit = DefaultIdleLimit
		}
		if p.idle >= limit {
			panic(halt("host closed"))
		}
	} else {
		p.idle = 0
	}
}

func (p *Platform) working() bool {
	for _, w := range p.workers {
		if w.Working() {
			return true
		}
	}
	return false
}

func (p *Platform) drained() bool {
	for _, h := range p.hosts {
		if h.Drained() {
			return true
		}
	}
	return false
}

// Reset counts the reset.
func (p *Platform) Reset() {
	p.Resets++
}

// EnableInterrupts records that interrupts were enabled.
func (p *Platform) EnableInterrupts() {
	p.IRQEnabled = true
}

// Jump records the application entry point.
func (p *Platform) Jump(sp, pc uint32) {
	p.JumpSP, p.JumpPC = sp, pc
}
