package command_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-openbl/command"
	"github.com/moffa90/go-openbl/flash"
	"github.com/moffa90/go-openbl/memory"
	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/sim"
	"github.com/moffa90/go-openbl/system"
	"github.com/moffa90/go-openbl/transport"
)

// pipeLink is a byte-stream link fed from a script. Detection succeeds on
// the first poll without touching the line.
type pipeLink struct {
	sys     *system.System
	in      []byte
	out     []byte
	closed  bool
	deinits int

	// resetAt records len(out) when the device reset.
	resetAt int
}

func (l *pipeLink) Name() string { return "pipe" }
func (l *pipeLink) Configure()   {}
func (l *pipeLink) DeInit()      { l.deinits++ }
func (l *pipeLink) Detect() bool { return true }

func (l *pipeLink) GetCommandOpcode() byte {
	op := l.ReadByte()
	if !protocol.CheckComplement(op, l.ReadByte()) {
		return protocol.ErrorCommand
	}
	return op
}

func (l *pipeLink) ReadByte() byte {
	l.sys.WaitFor(func() bool { return len(l.in) > 0 }, 0, "pipe rx")
	b := l.in[0]
	l.in = l.in[1:]
	return b
}

func (l *pipeLink) ReadBytes(buf []byte) int {
	for i := range buf {
		buf[i] = l.ReadByte()
	}
	return len(buf)
}

func (l *pipeLink) SendByte(b byte)        { l.out = append(l.out, b) }
func (l *pipeLink) SendBytes(data []byte)  { l.out = append(l.out, data...) }
func (l *pipeLink) SendAcknowledge(b byte) { l.SendByte(b) }
func (l *pipeLink) Drained() bool          { return l.closed && len(l.in) == 0 }

// resetPlatform records the output length when the device resets.
type resetPlatform struct {
	*sim.Platform
	link *pipeLink
}

func (p resetPlatform) Reset() {
	p.link.resetAt = len(p.link.out)
	p.Platform.Reset()
}

type rig struct {
	platform *sim.Platform
	hw       *sim.Flash
	sys      *system.System
	backend  *flash.Backend
	ram      *memory.Bytes
	ops      *command.Ops
	set      *command.Set
	link     *pipeLink
	disp     *command.Dispatcher
}

func newRig(t *testing.T, opts ...command.Option) *rig {
	t.Helper()
	clock := &sim.Clock{}
	r := &rig{
		platform: sim.NewPlatform(clock, 100*time.Millisecond),
		hw:       sim.NewFlash(clock),
		ram:      memory.NewRAM(memory.RAMStart, 0x1000),
		link:     &pipeLink{resetAt: -1},
	}
	r.platform.IdleLimit = 4
	r.platform.Watch(r.link)
	r.platform.Track(r.hw)
	r.boot(t, opts...)
	return r
}

// boot builds the engine on the current hardware state.
func (r *rig) boot(t *testing.T, opts ...command.Option) {
	t.Helper()
	r.sys = system.New(resetPlatform{r.platform, r.link}, system.WithLogger(system.DiscardLogger()))
	r.link.sys = r.sys
	r.backend = flash.New(r.hw, r.sys)

	mem := memory.NewRegistry(0)
	require.NoError(t, mem.Register(r.backend.Descriptor()))
	require.NoError(t, mem.Register(memory.NewDescriptor("ram", memory.KindRAM, memory.RAMStart, 0x1000, r.ram)))
	require.NoError(t, mem.Register(r.backend.OptionBytes().Descriptor()))
	r.ops = command.NewOps(mem)
	r.set = command.NewSet(r.sys, r.ops, opts...)

	reg := transport.NewRegistry(r.sys, 0)
	require.NoError(t, reg.Register(transport.NewHandle(r.link, r.set.USART(r.link))))
	r.disp = command.NewDispatcher(r.sys, reg)
}

// reboot reloads the option bytes and rebuilds the engine, as a reset does.
func (r *rig) reboot(t *testing.T, opts ...command.Option) {
	t.Helper()
	r.hw.Boot()
	r.link.out, r.link.resetAt = nil, -1
	r.boot(t, opts...)
}

// run feeds script to the device and serves commands until the script is
// exhausted or the session ends. It returns the device output.
func (r *rig) run(t *testing.T, script ...byte) ([]byte, error) {
	t.Helper()
	r.link.in = append(r.link.in, script...)
	r.link.out = nil
	r.link.closed = true
	err := r.disp.Run(context.Background())
	r.link.closed = false
	return r.link.out, err
}

// frame helpers

func opFrame(op byte) []byte {
	return protocol.BuildCommandFrame(op)
}

func addrFrame(addr uint32) []byte {
	return protocol.BuildAddressFrame(addr)
}

func join(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func mustFrame(t *testing.T) func([]byte, error) []byte {
	return func(b []byte, err error) []byte {
		t.Helper()
		require.NoError(t, err)
		return b
	}
}
