package transport

import (
	"context"
	"errors"
	"log/slog"

	"github.com/moffa90/go-openbl/system"
)

// DefaultCapacity is the number of interfaces a registry accepts by default.
const DefaultCapacity = 6

var (
	// ErrRegistryFull is returned when a registry is at capacity.
	ErrRegistryFull = errors.New("interface registry full")

	// ErrRegistryFrozen is returned when registering after detection.
	ErrRegistryFrozen = errors.New("interface registry frozen after detection")

	// ErrInvalidHandle is returned for a nil handle or transport.
	ErrInvalidHandle = errors.New("invalid interface handle")

	// ErrNoInterfaces is returned by RunDetection on an empty registry.
	ErrNoInterfaces = errors.New("no interfaces registered")
)

// Registry holds the registered interfaces and runs detection.
type Registry struct {
	sys      *system.System
	log      *slog.Logger
	capacity int
	handles  []*Handle
	winner   *Handle
}

// NewRegistry creates a registry accepting up to capacity handles.
// A capacity below one selects DefaultCapacity.
func NewRegistry(sys *system.System, capacity int) *Registry {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Registry{
		sys:      sys,
		log:      sys.Log(system.ComponentDetector),
		capacity: capacity,
	}
}

// Register adds h to the registry.
func (r *Registry) Register(h *Handle) error {
	if h == nil || h.Transport == nil {
		return ErrInvalidHandle
	}
	if r.winner != nil {
		return ErrRegistryFrozen
	}
	if len(r.handles) >= r.capacity {
		return ErrRegistryFull
	}
	r.handles = append(r.handles, h)
	r.log.Debug("interface registered", "name", h.Transport.Name())
	return nil
}

// Handles returns the registered handles in registration order.
func (r *Registry) Handles() []*Handle {
	return append([]*Handle(nil), r.handles...)
}

// ConfigureAll configures every registered transport.
func (r *Registry) ConfigureAll() {
	for _, h := range r.handles {
		h.Transport.Configure()
	}
}

// Winner returns the detected handle, or nil before detection.
func (r *Registry) Winner() *Handle {
	return r.winner
}

// RunDetection polls every transport until one detects its sync pattern,
// then deinitializes all others. Only ctx cancellation makes it return an
// error once interfaces are registered; it runs once per boot and returns the
// same winner on later calls.
func (r *Registry) RunDetection(ctx context.Context) (*Handle, error) {
	if r.winner != nil {
		return r.winner, nil
	}
	if len(r.handles) == 0 {
		return nil, ErrNoInterfaces
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.sys.RefreshWatchdog()

		for _, h := range r.handles {
			if !h.Transport.Detect() {
				continue
			}
			h.detected = true
			r.winner = h
			r.log.Info("interface detected", "name", h.Transport.Name())

			for _, other := range r.handles {
				if other != h {
					other.Transport.DeInit()
				}
			}
			return h, nil
		}
	}
}
