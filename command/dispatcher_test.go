package command_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-openbl/command"
	"github.com/moffa90/go-openbl/memory"
	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/system"
)

var usartOpcodes = []byte{
	protocol.CmdGet, protocol.CmdGetVersion, protocol.CmdGetID,
	protocol.CmdReadMemory, protocol.CmdGo, protocol.CmdWriteMemory,
	protocol.CmdExtendedErase, protocol.CmdSpecial, protocol.CmdExtendedSpecial,
	protocol.CmdWriteProtect, protocol.CmdWriteUnprotect,
	protocol.CmdReadoutProtect, protocol.CmdReadoutUnprotect,
}

func TestDispatcherStates(t *testing.T) {
	r := newRig(t)
	assert.Equal(t, command.Detecting, r.disp.State())
	assert.Nil(t, r.disp.Winner())

	_, err := r.run(t)
	assert.True(t, system.IsExit(err, system.ExitHalt), "got %v", err)
	assert.Equal(t, command.Processing, r.disp.State())
	require.NotNil(t, r.disp.Winner())
	assert.Equal(t, "pipe", r.disp.Winner().Transport.Name())
}

func TestDispatcherContextCancel(t *testing.T) {
	r := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.disp.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

// Every (opcode, complement) pair: mismatches and unknown opcodes get a
// single NACK; supported opcodes start with ACK.
func TestFramingGrid(t *testing.T) {
	r := newRig(t)
	_, err := r.run(t)
	require.True(t, system.IsExit(err, system.ExitHalt))

	supported := make(map[byte]bool)
	for _, op := range usartOpcodes {
		supported[op] = true
	}

	r.link.closed = true
	for pair := 0; pair <= 0xFFFF; pair++ {
		op, comp := byte(pair>>8), byte(pair)
		r.link.in = []byte{op, comp}
		r.link.out = nil

		system.Catch(r.disp.Step)
		r.link.in = nil

		valid := protocol.CheckComplement(op, comp) && supported[op]
		if !valid {
			if !bytes.Equal(r.link.out, []byte{protocol.NackByte}) {
				t.Fatalf("pair %02X %02X: got % X, want single NACK", op, comp, r.link.out)
			}
			continue
		}
		if len(r.link.out) == 0 || r.link.out[0] != protocol.AckByte {
			t.Fatalf("pair %02X %02X: got % X, want leading ACK", op, comp, r.link.out)
		}
	}
}

func TestGet(t *testing.T) {
	r := newRig(t)
	out, _ := r.run(t, opFrame(protocol.CmdGet)...)

	want := join(
		[]byte{protocol.AckByte, byte(len(usartOpcodes)), protocol.ProtocolVersion},
		usartOpcodes,
		[]byte{protocol.AckByte},
	)
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("Get mismatch (-want +got):\n%s", diff)
	}

	cmds, err := protocol.ParseGetResponse(out[1 : len(out)-1])
	require.NoError(t, err)
	assert.True(t, cmds.Supports(protocol.CmdExtendedErase))
}

func TestGetVersionAndID(t *testing.T) {
	r := newRig(t, command.WithProductID(0x0481))
	out, _ := r.run(t, join(opFrame(protocol.CmdGetVersion), opFrame(protocol.CmdGetID))...)

	assert.Equal(t, []byte{
		protocol.AckByte, protocol.ProtocolVersion, 0x00, 0x00, protocol.AckByte,
		protocol.AckByte, 0x01, 0x04, 0x81, protocol.AckByte,
	}, out)
}

func TestWriteThenReadMemory(t *testing.T) {
	r := newRig(t)
	f := mustFrame(t)
	addr := uint32(memory.FlashStart + 0x100)
	data := []byte("openbootloader!") // 15 bytes, not a quad-word

	out, _ := r.run(t, join(
		opFrame(protocol.CmdWriteMemory), addrFrame(addr), f(protocol.BuildWriteDataFrame(data)),
		opFrame(protocol.CmdReadMemory), addrFrame(addr), f(protocol.BuildReadCountFrame(len(data))),
	)...)

	want := join(
		[]byte{protocol.AckByte, protocol.AckByte, protocol.AckByte},
		[]byte{protocol.AckByte, protocol.AckByte, protocol.AckByte},
		data,
	)
	assert.Equal(t, want, out)
}

func TestWriteMemoryRAM(t *testing.T) {
	r := newRig(t)
	f := mustFrame(t)
	out, _ := r.run(t, join(
		opFrame(protocol.CmdWriteMemory), addrFrame(memory.RAMStart+8), f(protocol.BuildWriteDataFrame([]byte{1, 2, 3})),
	)...)
	assert.Equal(t, []byte{protocol.AckByte, protocol.AckByte, protocol.AckByte}, out)
	assert.Equal(t, byte(2), r.ram.Read(memory.RAMStart+9))
}

func TestReadMemoryRejections(t *testing.T) {
	tests := []struct {
		name   string
		script []byte
		want   []byte
	}{
		{
			name:   "bad address checksum",
			script: join(opFrame(protocol.CmdReadMemory), []byte{0x08, 0, 0, 0, 0x00}),
			want:   []byte{protocol.AckByte, protocol.NackByte},
		},
		{
			name:   "unmapped address",
			script: join(opFrame(protocol.CmdReadMemory), addrFrame(0x10000000)),
			want:   []byte{protocol.AckByte, protocol.NackByte},
		},
		{
			name:   "bad count complement",
			script: join(opFrame(protocol.CmdReadMemory), addrFrame(memory.FlashStart), []byte{0x0F, 0x0F}),
			want:   []byte{protocol.AckByte, protocol.AckByte, protocol.NackByte},
		},
		{
			name:   "range crosses the end of ram",
			script: join(opFrame(protocol.CmdReadMemory), addrFrame(memory.RAMStart+0xFF0), []byte{0x1F, 0xE0}),
			want:   []byte{protocol.AckByte, protocol.AckByte, protocol.NackByte},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			out, _ := r.run(t, tt.script...)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestWriteMemoryBadChecksum(t *testing.T) {
	r := newRig(t)
	frame := mustFrame(t)(protocol.BuildWriteDataFrame([]byte{1, 2, 3, 4}))
	frame[len(frame)-1] ^= 0x55

	out, _ := r.run(t, join(opFrame(protocol.CmdWriteMemory), addrFrame(memory.FlashStart), frame)...)
	assert.Equal(t, []byte{protocol.AckByte, protocol.AckByte, protocol.NackByte}, out)
	assert.Zero(t, r.hw.Programs, "nothing programmed")
}

func TestExtendedErase(t *testing.T) {
	r := newRig(t)
	f := mustFrame(t)
	require.NoError(t, r.backend.Write(memory.FlashStart+3*memory.PageSize, []byte{0, 0, 0, 0}))
	require.NoError(t, r.backend.Write(memory.FlashStart+130*memory.PageSize, []byte{0, 0, 0, 0}))

	out, _ := r.run(t, join(opFrame(protocol.CmdExtendedErase), f(protocol.BuildEraseFrame([]uint16{3, 130})))...)
	assert.Equal(t, []byte{protocol.AckByte, protocol.AckByte}, out)
	assert.Equal(t, []int{3, 130}, r.hw.PageErases)
	assert.Equal(t, byte(0xFF), r.backend.Read(memory.FlashStart+3*memory.PageSize))
	assert.Equal(t, byte(0xFF), r.backend.Read(memory.FlashStart+130*memory.PageSize))
}

func TestExtendedEraseInvalidPageNacks(t *testing.T) {
	r := newRig(t)
	f := mustFrame(t)
	out, _ := r.run(t, join(opFrame(protocol.CmdExtendedErase), f(protocol.BuildEraseFrame([]uint16{1, memory.PageCount})))...)
	assert.Equal(t, []byte{protocol.AckByte, protocol.NackByte}, out)
	assert.Equal(t, []int{1}, r.hw.PageErases, "valid pages are still erased")
}

func TestExtendedEraseSpecialCodes(t *testing.T) {
	f := mustFrame
	tests := []struct {
		code uint16
		want string
	}{
		{protocol.EraseMass, "both"},
		{protocol.EraseBank1, "bank1"},
		{protocol.EraseBank2, "bank2"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			r := newRig(t)
			out, _ := r.run(t, join(opFrame(protocol.CmdExtendedErase), f(t)(protocol.BuildSpecialEraseFrame(tt.code)))...)
			assert.Equal(t, []byte{protocol.AckByte, protocol.AckByte}, out)
			require.Len(t, r.hw.BankErases, 1)
		})
	}

	r := newRig(t)
	hdr := binary.BigEndian.AppendUint16(nil, 0xFFF5)
	out, _ := r.run(t, join(opFrame(protocol.CmdExtendedErase), hdr, []byte{protocol.Checksum(hdr...)})...)
	assert.Equal(t, []byte{protocol.AckByte, protocol.NackByte}, out, "reserved code")
	assert.Empty(t, r.hw.BankErases)
}

func TestGo(t *testing.T) {
	r := newRig(t)
	f := mustFrame(t)
	app := uint32(memory.FlashStart + 0x8000)
	vectors := binary.LittleEndian.AppendUint32(nil, 0x20008000)
	vectors = binary.LittleEndian.AppendUint32(vectors, app+0x1C1)

	out, err := r.run(t, join(
		opFrame(protocol.CmdWriteMemory), addrFrame(app), f(protocol.BuildWriteDataFrame(vectors)),
		opFrame(protocol.CmdGo), addrFrame(app),
	)...)

	var exit *system.Exit
	require.ErrorAs(t, err, &exit)
	assert.Equal(t, system.ExitJump, exit.Reason)
	assert.Equal(t, app, exit.Address)
	assert.Equal(t, uint32(0x20008000), r.platform.JumpSP)
	assert.Equal(t, app+0x1C1, r.platform.JumpPC)
	assert.Equal(t, 1, r.link.deinits, "transport released before the jump")
	assert.Equal(t, bytes.Repeat([]byte{protocol.AckByte}, 5), out)
}

func TestGoRejectsNonFlash(t *testing.T) {
	r := newRig(t)
	out, err := r.run(t, join(opFrame(protocol.CmdGo), addrFrame(memory.RAMStart))...)
	assert.True(t, system.IsExit(err, system.ExitHalt))
	assert.Equal(t, []byte{protocol.AckByte, protocol.NackByte}, out)
}

// The ACK of a protection change reaches the host before the option byte
// launch resets the device.
func TestDeferredCommitOrdering(t *testing.T) {
	r := newRig(t)
	out, err := r.run(t, opFrame(protocol.CmdReadoutProtect)...)

	require.True(t, system.IsExit(err, system.ExitReset), "got %v", err)
	assert.Equal(t, []byte{protocol.AckByte, protocol.AckByte}, out)
	assert.Equal(t, 2, r.link.resetAt, "reset after both ACKs")
	assert.Equal(t, 1, r.hw.Launches)
	assert.Zero(t, r.sys.Pending())
}

func TestReadoutProtectionGatesCommands(t *testing.T) {
	r := newRig(t)
	_, err := r.run(t, opFrame(protocol.CmdReadoutProtect)...)
	require.True(t, system.IsExit(err, system.ExitReset))
	r.reboot(t)
	require.True(t, r.ops.ReadProtected())

	gated := []byte{
		protocol.CmdReadMemory, protocol.CmdWriteMemory, protocol.CmdGo,
		protocol.CmdExtendedErase, protocol.CmdWriteProtect, protocol.CmdWriteUnprotect,
		protocol.CmdReadoutProtect,
	}
	for _, op := range gated {
		out, err := r.run(t, opFrame(op)...)
		assert.True(t, system.IsExit(err, system.ExitHalt))
		assert.Equal(t, []byte{protocol.NackByte}, out, "opcode 0x%02X", op)
	}

	// Get, Get Version and Get ID stay available.
	out, _ := r.run(t, opFrame(protocol.CmdGetID)...)
	assert.Equal(t, []byte{protocol.AckByte, 0x01, 0x04, 0x82, protocol.AckByte}, out)

	// Readout unprotect is always allowed; leaving level 1 wipes flash.
	r.hw.Array[0] = 0x12
	out, err = r.run(t, opFrame(protocol.CmdReadoutUnprotect)...)
	require.True(t, system.IsExit(err, system.ExitReset))
	assert.Equal(t, []byte{protocol.AckByte, protocol.AckByte}, out)
	r.reboot(t)
	assert.False(t, r.ops.ReadProtected())
	assert.Equal(t, byte(0xFF), r.hw.Array[0])
}

func TestWriteProtect(t *testing.T) {
	r := newRig(t)
	out, err := r.run(t, join(
		opFrame(protocol.CmdWriteProtect), []byte{0x01, 0x04, 0x07, protocol.Checksum(0x01, 0x04, 0x07)},
	)...)
	require.True(t, system.IsExit(err, system.ExitReset))
	assert.Equal(t, []byte{protocol.AckByte, protocol.AckByte}, out)

	r.reboot(t)
	f := mustFrame(t)
	out, _ = r.run(t, join(
		opFrame(protocol.CmdWriteMemory), addrFrame(memory.FlashStart+5*memory.PageSize), f(protocol.BuildWriteDataFrame([]byte{1})),
	)...)
	assert.Equal(t, []byte{protocol.AckByte, protocol.AckByte, protocol.NackByte}, out, "page 5 is protected")

	out, err = r.run(t, opFrame(protocol.CmdWriteUnprotect)...)
	require.True(t, system.IsExit(err, system.ExitReset))
	assert.Equal(t, []byte{protocol.AckByte, protocol.AckByte}, out)
}

func TestWriteProtectSinglePageRejected(t *testing.T) {
	r := newRig(t)
	out, err := r.run(t, join(opFrame(protocol.CmdWriteProtect), []byte{0x00, 0x04, protocol.Checksum(0x00, 0x04)})...)
	assert.True(t, system.IsExit(err, system.ExitHalt))
	assert.Equal(t, []byte{protocol.AckByte, protocol.NackByte}, out)
	assert.Zero(t, r.sys.Pending())
}

func TestOptionBytesWriteStagesLaunch(t *testing.T) {
	r := newRig(t)
	f := mustFrame(t)
	optr := []byte{0xAA, 0xF8, 0xEF, 0x1F}
	out, err := r.run(t, join(
		opFrame(protocol.CmdWriteMemory), addrFrame(memory.OptionBytesStart), f(protocol.BuildWriteDataFrame(optr)),
	)...)
	require.True(t, system.IsExit(err, system.ExitReset))
	assert.Equal(t, []byte{protocol.AckByte, protocol.AckByte, protocol.AckByte}, out)
	assert.Equal(t, 1, r.hw.Launches)
}
