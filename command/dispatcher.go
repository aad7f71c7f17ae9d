// Package command implements the bootloader command engine: the dispatcher
// that runs interface detection and then the command loop, the handlers of
// the AN3155 command family for every transport, special commands, and the
// memory operations the handlers perform.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/system"
	"github.com/moffa90/go-openbl/transport"
)

// State is the dispatcher phase.
type State int

const (
	// Detecting polls the registered transports for a host.
	Detecting State = iota

	// Processing serves commands on the detected transport. It is terminal.
	Processing
)

func (s State) String() string {
	switch s {
	case Detecting:
		return "detecting"
	case Processing:
		return "processing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrNoCommands is returned when the detected transport has neither a
// command table nor its own request loop.
var ErrNoCommands = errors.New("detected transport has no command table")

// Dispatcher drives one boot session.
type Dispatcher struct {
	sys    *system.System
	reg    *transport.Registry
	log    *slog.Logger
	state  State
	winner *transport.Handle
}

// NewDispatcher creates a dispatcher over the interfaces in reg.
func NewDispatcher(sys *system.System, reg *transport.Registry) *Dispatcher {
	return &Dispatcher{
		sys: sys,
		reg: reg,
		log: sys.Log(system.ComponentDispatcher),
	}
}

// State returns the current phase.
func (d *Dispatcher) State() State {
	return d.state
}

// Winner returns the detected handle, or nil while detecting.
func (d *Dispatcher) Winner() *transport.Handle {
	return d.winner
}

// Detect runs interface detection and enters Processing. The winner is
// attached to the system so that jumps release it and flash waits can send
// busy bytes through it.
func (d *Dispatcher) Detect(ctx context.Context) error {
	if d.state == Processing {
		return nil
	}
	h, err := d.reg.RunDetection(ctx)
	if err != nil {
		return err
	}
	if h.Commands == nil {
		if _, ok := h.Transport.(transport.Server); !ok {
			return fmt.Errorf("%w: %s", ErrNoCommands, h.Transport.Name())
		}
	}

	var sender system.BusySender
	if bs, ok := h.Transport.(system.BusySender); ok {
		sender = bs
	}
	d.sys.Attach(h.Transport.DeInit, sender)
	d.winner = h
	d.state = Processing
	d.log.Info("processing commands", "interface", h.Transport.Name())
	return nil
}

// Step serves one command, then runs the commits it staged. It must only be
// called in Processing.
func (d *Dispatcher) Step() {
	h := d.winner
	if h.Commands == nil {
		h.Transport.(transport.Server).Serve()
		d.sys.Flush()
		return
	}

	t := h.Transport
	op := t.GetCommandOpcode()
	handler := h.Commands.Lookup(op)
	if op == protocol.ErrorCommand || handler == nil {
		d.log.Debug("command rejected", "opcode", op)
		h.Commands.Reject(t)
	} else {
		d.log.Debug("command", "opcode", op)
		handler(t)
	}
	d.sys.Flush()
}

// Run detects the host interface and serves commands until ctx is done or
// the session ends. A reset or a jump ends the session; Run then returns the
// *system.Exit describing it.
func (d *Dispatcher) Run(ctx context.Context) error {
	var runErr error
	err := system.Catch(func() {
		if runErr = d.Detect(ctx); runErr != nil {
			return
		}
		for {
			if runErr = ctx.Err(); runErr != nil {
				return
			}
			d.Step()
		}
	})
	if err != nil {
		return err
	}
	return runErr
}
