package flash_test

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/moffa90/go-openbl/flash"
	"github.com/moffa90/go-openbl/memory"
	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/sim"
	"github.com/moffa90/go-openbl/system"
)

type rig struct {
	clock    *sim.Clock
	platform *sim.Platform
	hw       *sim.Flash
	sys      *system.System
	backend  *flash.Backend
}

func newRig(t *testing.T, opts ...flash.Option) *rig {
	t.Helper()
	clock := &sim.Clock{}
	r := &rig{
		clock:    clock,
		platform: sim.NewPlatform(clock, 100*time.Millisecond),
		hw:       sim.NewFlash(clock),
	}
	r.sys = system.New(r.platform, system.WithLogger(system.DiscardLogger()))
	r.backend = flash.New(r.hw, r.sys, opts...)
	return r
}

// reboot simulates a reset: the backend is rebuilt from the loaded options.
func (r *rig) reboot() {
	r.hw.Boot()
	r.sys = system.New(r.platform, system.WithLogger(system.DiscardLogger()))
	r.backend = flash.New(r.hw, r.sys)
}

func (r *rig) read(addr uint32, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = r.backend.Read(addr + uint32(i))
	}
	return out
}

func erasePayload(pages ...uint16) []byte {
	p := binary.LittleEndian.AppendUint16(nil, uint16(len(pages)))
	for _, pg := range pages {
		p = binary.LittleEndian.AppendUint16(p, pg)
	}
	return p
}

func TestWriteReadRoundTrip(t *testing.T) {
	for _, n := range []int{1, 7, 15, 16, 17, 31, 33, 100, 255, 256} {
		r := newRig(t)
		addr := uint32(memory.FlashStart + 0x4000)
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i*7 + 3)
		}

		require.NoError(t, r.backend.Write(addr, data), "len %d", n)
		assert.Equal(t, data, r.read(addr, n), "len %d", n)

		padded := (n + memory.ProgramWidth - 1) / memory.ProgramWidth * memory.ProgramWidth
		tail := r.read(addr+uint32(n), padded-n)
		assert.Equal(t, bytes.Repeat([]byte{0xFF}, padded-n), tail, "len %d tail", n)
		assert.Equal(t, padded/memory.ProgramWidth, r.hw.Programs)
		assert.True(t, r.hw.Locked())
	}
}

func TestWriteRelocksOnError(t *testing.T) {
	r := newRig(t)
	addr := uint32(memory.FlashStart)

	require.NoError(t, r.backend.Write(addr, []byte{0x00}))
	err := r.backend.Write(addr, []byte{0x01})

	var hwErr *flash.HardwareError
	require.ErrorAs(t, err, &hwErr)
	assert.Equal(t, flash.ErrFlagProgram, hwErr.Flags)
	assert.Equal(t, r.hw.UnlockCalls, r.hw.LockCalls)
	assert.True(t, r.hw.Locked())
}

func TestEraseAttemptsEveryPage(t *testing.T) {
	r := newRig(t)
	for _, page := range []int{1, 2, 200} {
		r.hw.Array[page*memory.PageSize] = 0x00
	}

	err := r.backend.Erase(erasePayload(1, 2, 0x0300, 200))

	var eraseErr *flash.EraseError
	require.ErrorAs(t, err, &eraseErr)
	assert.Equal(t, 1, eraseErr.Failed)
	assert.Equal(t, 4, eraseErr.Attempted)
	assert.Equal(t, []int{1, 2, 200}, r.hw.PageErases)
	for _, page := range []int{1, 2, 200} {
		assert.Equal(t, byte(0xFF), r.hw.Array[page*memory.PageSize], "page %d", page)
	}
	assert.True(t, r.hw.Locked())
}

func TestEraseSuccess(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.backend.Erase(erasePayload(0, 127, 128, 255)))
	assert.Equal(t, []int{0, 127, 128, 255}, r.hw.PageErases)

	assert.ErrorIs(t, r.backend.Erase([]byte{0x01}), flash.ErrInvalidPayload)
}

func TestMassEraseFailsBeforeHardware(t *testing.T) {
	r := newRig(t)
	r.hw.Array[0] = 0x00
	r.hw.Array[memory.FlashSize-1] = 0x00

	err := r.backend.MassErase([]byte{0xFF, 0xFE, 0x01, 0x2C})

	assert.ErrorIs(t, err, flash.ErrInvalidBank)
	assert.Empty(t, r.hw.BankErases)
	assert.Zero(t, r.hw.UnlockCalls, "controller must not be touched")
	assert.Equal(t, byte(0x00), r.hw.Array[0])
	assert.Equal(t, byte(0x00), r.hw.Array[memory.FlashSize-1])
}

func TestMassEraseBanks(t *testing.T) {
	tests := []struct {
		name   string
		code   uint16
		bank   flash.Bank
		first  byte
		second byte
	}{
		{"mass", protocol.EraseMass, flash.BankBoth, 0xFF, 0xFF},
		{"bank 1", protocol.EraseBank1, flash.Bank1, 0xFF, 0x00},
		{"bank 2", protocol.EraseBank2, flash.Bank2, 0x00, 0xFF},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			r.hw.Array[0] = 0x00
			r.hw.Array[memory.FlashSize-1] = 0x00

			require.NoError(t, r.backend.MassErase(binary.BigEndian.AppendUint16(nil, tt.code)))
			assert.Equal(t, []flash.Bank{tt.bank}, r.hw.BankErases)
			assert.Equal(t, tt.first, r.hw.Array[0])
			assert.Equal(t, tt.second, r.hw.Array[memory.FlashSize-1])
		})
	}
}

func TestMassEraseOddPayload(t *testing.T) {
	r := newRig(t)
	assert.ErrorIs(t, r.backend.MassErase([]byte{0xFF, 0xFF, 0xFF}), flash.ErrInvalidPayload)
	assert.ErrorIs(t, r.backend.MassErase(nil), flash.ErrInvalidPayload)
}

func TestWatchdogLivenessDuringLongErase(t *testing.T) {
	r := newRig(t)
	r.hw.BankErasePolls = 100000 // one second at 10us per poll

	require.NoError(t, r.backend.MassErase([]byte{0xFF, 0xFF}))

	wd := r.platform.Watchdog
	assert.GreaterOrEqual(t, r.clock.Now(), time.Second)
	assert.False(t, wd.Expired(), "max refresh gap %v", wd.MaxGap)
	assert.GreaterOrEqual(t, wd.Refreshes, int(r.clock.Now()/wd.Period))
}

func TestBusyTimeoutResets(t *testing.T) {
	r := newRig(t, flash.WithProgramTimeout(50))
	r.hw.Stuck = true

	err := system.Catch(func() {
		_ = r.backend.Write(memory.FlashStart, []byte{1, 2, 3})
	})

	assert.True(t, system.IsExit(err, system.ExitReset))
	assert.Equal(t, 1, r.platform.Resets)
}

type busyCounter struct{ n int }

func (b *busyCounter) SendBusyByte() { b.n++ }

func TestBusyBytesOnlyWhenEnabled(t *testing.T) {
	r := newRig(t)
	sender := &busyCounter{}
	r.sys.Attach(nil, sender)

	require.NoError(t, r.backend.Erase(erasePayload(3)))
	assert.Zero(t, sender.n)

	r.sys.Busy().Enable()
	require.NoError(t, r.backend.Erase(erasePayload(4)))
	r.sys.Busy().Disable()
	assert.Equal(t, r.hw.PageErasePolls, sender.n)
}

func TestJumpTo(t *testing.T) {
	r := newRig(t)
	vectors := []byte{0x00, 0x10, 0x00, 0x20, 0x99, 0x01, 0x00, 0x08}
	require.NoError(t, r.backend.Write(memory.FlashStart, vectors))

	deinit := 0
	r.sys.Attach(func() { deinit++ }, nil)
	err := system.Catch(func() { r.backend.JumpTo(memory.FlashStart) })

	assert.True(t, system.IsExit(err, system.ExitJump))
	assert.Equal(t, 1, deinit)
	assert.True(t, r.platform.IRQEnabled)
	assert.Equal(t, uint32(0x20001000), r.platform.JumpSP)
	assert.Equal(t, uint32(0x08000199), r.platform.JumpPC)
}

func TestReadoutProtectionDeferredCommit(t *testing.T) {
	r := newRig(t)

	require.NoError(t, r.backend.SetReadoutProtection(memory.ProtectionRead))
	assert.Equal(t, flash.RDPLevel1, r.hw.Registers.RDP(), "register written immediately")
	assert.Equal(t, memory.ProtectionNone, r.hw.Loaded.Level(), "not effective before launch")
	assert.Zero(t, r.hw.Launches)
	assert.Equal(t, 1, r.sys.Pending())

	err := system.Catch(r.sys.Flush)
	assert.True(t, system.IsExit(err, system.ExitReset))
	assert.Equal(t, 1, r.hw.Launches)
	assert.Equal(t, memory.ProtectionRead, r.hw.Loaded.Level())

	r.reboot()
	assert.Equal(t, memory.ProtectionRead, r.backend.ReadoutProtection())
}

func TestReadoutUnprotectWipesFlash(t *testing.T) {
	r := newRig(t)
	require.NoError(t, r.backend.Write(memory.FlashStart, []byte{0x12}))
	require.NoError(t, r.backend.SetReadoutProtection(memory.ProtectionRead))
	_ = system.Catch(r.sys.Flush)
	r.reboot()

	require.NoError(t, r.backend.SetReadoutProtection(memory.ProtectionNone))
	_ = system.Catch(r.sys.Flush)
	r.reboot()

	assert.Equal(t, memory.ProtectionNone, r.backend.ReadoutProtection())
	assert.Equal(t, byte(0xFF), r.hw.Array[0])
}

func TestProtectionMonotonicity(t *testing.T) {
	r := newRig(t)
	r.hw.Loaded.SetRDP(flash.RDPLevel2)
	r.reboot()
	before := r.hw.Registers
	unlocks := r.hw.UnlockCalls

	for _, level := range []memory.ProtectionLevel{memory.ProtectionNone, memory.ProtectionRead, memory.ProtectionFull} {
		assert.ErrorIs(t, r.backend.SetReadoutProtection(level), flash.ErrProtectionLocked)
	}
	assert.ErrorIs(t, r.backend.SetWriteProtection(false, nil), flash.ErrProtectionLocked)
	assert.ErrorIs(t, r.backend.OptionBytes().Write(memory.OptionBytesStart, []byte{flash.RDPLevel0}), flash.ErrProtectionLocked)

	assert.Equal(t, before, r.hw.Registers, "no register write")
	assert.Equal(t, unlocks, r.hw.UnlockCalls)
	assert.Zero(t, r.sys.Pending(), "no commit staged")
}

func TestWriteProtection(t *testing.T) {
	r := newRig(t)

	require.NoError(t, r.backend.SetWriteProtection(true, []byte{0, 1, 0x7F, 0x00, 2, 2}))
	assert.Equal(t, flash.WRPArea(0, 1), r.hw.Registers.WRP1A)
	assert.Equal(t, flash.WRPDisabled, r.hw.Registers.WRP1B)
	assert.Equal(t, flash.WRPArea(2, 2), r.hw.Registers.WRP2A)
	assert.Equal(t, flash.WRPDisabled, r.hw.Registers.WRP2B)
	_ = system.Catch(r.sys.Flush)
	r.reboot()

	err := r.backend.Write(memory.FlashStart+memory.PageSize, []byte{0x00})
	var hwErr *flash.HardwareError
	require.ErrorAs(t, err, &hwErr)
	assert.Equal(t, flash.ErrFlagWRP, hwErr.Flags)

	var eraseErr *flash.EraseError
	require.ErrorAs(t, r.backend.Erase(erasePayload(0, 5, 130)), &eraseErr)
	assert.Equal(t, 2, eraseErr.Failed)

	require.NoError(t, r.backend.SetWriteProtection(false, nil))
	_ = system.Catch(r.sys.Flush)
	r.reboot()
	require.NoError(t, r.backend.Write(memory.FlashStart+memory.PageSize, []byte{0x00}))

	assert.ErrorIs(t, r.backend.SetWriteProtection(true, []byte{1}), flash.ErrInvalidPayload)
}

func TestOptionBytesThresholds(t *testing.T) {
	payload := make([]byte, 48)
	for i := range payload {
		payload[i] = byte(0x10 + i)
	}
	le := binary.LittleEndian

	tests := []struct {
		n     int
		check func(t *testing.T, before, after flash.OptionRegisters)
	}{
		{1, func(t *testing.T, b, a flash.OptionRegisters) {
			assert.Equal(t, payload[0], a.RDP())
			assert.Equal(t, b.OPTR&^0xFF, a.OPTR&^0xFF)
			assert.Equal(t, b.NSBootAdd0, a.NSBootAdd0)
		}},
		{4, func(t *testing.T, b, a flash.OptionRegisters) {
			assert.Equal(t, le.Uint32(payload[0:]), a.OPTR)
			assert.Equal(t, b.NSBootAdd0, a.NSBootAdd0)
		}},
		{8, func(t *testing.T, b, a flash.OptionRegisters) {
			assert.Equal(t, le.Uint32(payload[4:]), a.NSBootAdd0)
			assert.Equal(t, b.NSBootAdd1, a.NSBootAdd1)
		}},
		{27, func(t *testing.T, b, a flash.OptionRegisters) {
			assert.Equal(t, le.Uint32(payload[8:]), a.NSBootAdd1)
			assert.Equal(t, b.WRP1A, a.WRP1A)
		}},
		{28, func(t *testing.T, b, a flash.OptionRegisters) {
			assert.Equal(t, le.Uint32(payload[24:]), a.WRP1A)
			assert.Equal(t, b.WRP1B, a.WRP1B)
		}},
		{43, func(t *testing.T, b, a flash.OptionRegisters) {
			assert.Equal(t, le.Uint32(payload[28:]), a.WRP1B)
			assert.Equal(t, b.WRP2A, a.WRP2A)
		}},
		{44, func(t *testing.T, b, a flash.OptionRegisters) {
			assert.Equal(t, le.Uint32(payload[40:]), a.WRP2A)
			assert.Equal(t, b.WRP2B, a.WRP2B)
		}},
		{48, func(t *testing.T, b, a flash.OptionRegisters) {
			assert.Equal(t, le.Uint32(payload[44:]), a.WRP2B)
		}},
	}

	for _, tt := range tests {
		r := newRig(t)
		before := r.hw.Registers
		ob := r.backend.OptionBytes()

		require.NoError(t, ob.Write(memory.OptionBytesStart, payload[:tt.n]), "len %d", tt.n)
		tt.check(t, before, r.hw.Registers)
		assert.Equal(t, 1, r.sys.Pending(), "len %d", tt.n)
	}
}

func TestOptionBytesImage(t *testing.T) {
	r := newRig(t)
	ob := r.backend.OptionBytes()

	assert.Equal(t, flash.RDPLevel0, ob.Read(memory.OptionBytesStart))
	assert.Equal(t, byte(0x7F), ob.Read(memory.OptionBytesStart+24))
	assert.Equal(t, byte(0xFF), ob.Read(memory.OptionBytesStart+12))

	err := ob.Write(memory.OptionBytesStart+4, []byte{1, 2, 3, 4})
	assert.ErrorIs(t, err, flash.ErrInvalidAddress)
}

func TestOTPProgramsOnce(t *testing.T) {
	r := newRig(t)
	otp := r.backend.OTP("otp", memory.KindOTP, memory.OTPStart, memory.OTPSize)
	d := otp.Descriptor()
	assert.Equal(t, uint32(memory.OTPStart+memory.OTPSize-1), d.End)

	require.NoError(t, otp.Write(memory.OTPStart, []byte("serial-0001")))
	assert.Equal(t, byte('s'), otp.Read(memory.OTPStart))

	err := otp.Write(memory.OTPStart, []byte("serial-0002"))
	var hwErr *flash.HardwareError
	require.ErrorAs(t, err, &hwErr)
	assert.Equal(t, flash.ErrFlagProgram, hwErr.Flags)
	assert.Equal(t, byte('1'), otp.Read(memory.OTPStart+10))
}
