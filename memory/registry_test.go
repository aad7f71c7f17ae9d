package memory

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func referenceMap(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(0)
	descs := []*Descriptor{
		NewDescriptor("flash", KindFlash, FlashStart, FlashSize, NewRAM(FlashStart, FlashSize)),
		NewDescriptor("ram", KindRAM, RAMStart, RAMSize, NewRAM(RAMStart, RAMSize)),
		NewDescriptor("ob", KindOptionBytes, OptionBytesStart, OptionBytesSize, NewRAM(OptionBytesStart, OptionBytesSize)),
		NewDescriptor("otp", KindOTP, OTPStart, OTPSize, NewRAM(OTPStart, OTPSize)),
		NewDescriptor("icp", KindICP, ICPStart, ICPSize, NewROM(ICPStart, make([]byte, ICPSize))),
		NewDescriptor("eb", KindEngiBytes, EngiBytesStart, EngiBytesSize, NewRAM(EngiBytesStart, EngiBytesSize)),
	}
	for _, d := range descs {
		require.NoError(t, r.Register(d), d.Name)
	}
	return r
}

func TestReferenceMapDisjoint(t *testing.T) {
	r := referenceMap(t)
	ds := r.Descriptors()
	require.Len(t, ds, DefaultCapacity)
	for i, a := range ds {
		assert.Equal(t, uint64(a.Size), uint64(a.End)-uint64(a.Start)+1, a.Name)
		for _, b := range ds[i+1:] {
			assert.False(t, a.overlaps(b), "%s overlaps %s", a, b)
		}
	}

	err := r.Register(NewDescriptor("extra", KindRAM, 0x30000000, 16, NewRAM(0x30000000, 16)))
	assert.ErrorIs(t, err, ErrRegistryFull)
}

func TestRegisterRejects(t *testing.T) {
	ram := NewRAM(0x1000, 0x100)

	tests := []struct {
		name string
		desc *Descriptor
		err  error
	}{
		{"nil", nil, ErrMalformed},
		{"no region", &Descriptor{Name: "x", Start: 0, End: 15, Size: 16}, ErrMalformed},
		{"start after end", &Descriptor{Name: "x", Start: 16, End: 0, Size: 1, Region: ram}, ErrMalformed},
		{"size mismatch", &Descriptor{Name: "x", Start: 0x3000, End: 0x300F, Size: 15, Region: ram}, ErrMalformed},
		{"overlap start", NewDescriptor("x", KindRAM, 0x0F00, 0x101, ram), ErrOverlap},
		{"overlap end", NewDescriptor("x", KindRAM, 0x10FF, 0x10, ram), ErrOverlap},
		{"contained", NewDescriptor("x", KindRAM, 0x1010, 0x10, ram), ErrOverlap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(0)
			require.NoError(t, r.Register(NewDescriptor("base", KindRAM, 0x1000, 0x100, ram)))
			err := r.Register(tt.desc)
			assert.True(t, errors.Is(err, tt.err), "err = %v, want %v", err, tt.err)
			assert.Len(t, r.Descriptors(), 1)
		})
	}
}

func TestRegisterAdjacent(t *testing.T) {
	r := NewRegistry(0)
	require.NoError(t, r.Register(NewDescriptor("a", KindRAM, 0x1000, 0x100, NewRAM(0x1000, 0x100))))
	require.NoError(t, r.Register(NewDescriptor("b", KindRAM, 0x1100, 0x100, NewRAM(0x1100, 0x100))))
}

func TestResolve(t *testing.T) {
	r := referenceMap(t)

	tests := []struct {
		name string
		addr uint32
		n    int
		want string
	}{
		{"flash first byte", FlashStart, 1, "flash"},
		{"flash whole", FlashStart, FlashSize, "flash"},
		{"flash last byte", FlashEnd, 1, "flash"},
		{"flash past end", FlashEnd, 2, ""},
		{"before flash", FlashStart - 1, 2, ""},
		{"ram block", RAMStart + 0x100, 256, "ram"},
		{"option bytes", OptionBytesStart, OptionBytesSize, "ob"},
		{"option bytes overrun", OptionBytesStart, OptionBytesSize + 1, ""},
		{"otp to engi gap", OTPStart + OTPSize - 1, 2, ""},
		{"engi bytes", EngiBytesStart, 16, "eb"},
		{"zero length", FlashStart, 0, ""},
		{"negative length", FlashStart, -1, ""},
		{"unmapped", 0x50000000, 1, ""},
		{"wraps address space", math.MaxUint32, 2, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := r.Resolve(tt.addr, tt.n)
			if tt.want == "" {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tt.want, d.Name)
		})
	}
}

func TestReadWriteAt(t *testing.T) {
	r := referenceMap(t)

	_, err := r.WriteAt(RAMStart+4, []byte{1, 2, 3})
	require.NoError(t, err)

	buf := make([]byte, 5)
	d, err := r.ReadAt(RAMStart+3, buf)
	require.NoError(t, err)
	assert.Equal(t, KindRAM, d.Kind)
	assert.Equal(t, []byte{0, 1, 2, 3, 0}, buf)

	_, err = r.WriteAt(ICPStart, []byte{1})
	assert.ErrorIs(t, err, ErrReadOnly)

	var rangeErr *RangeError
	_, err = r.ReadAt(FlashEnd, make([]byte, 2))
	require.ErrorAs(t, err, &rangeErr)
	assert.Equal(t, uint32(FlashEnd), rangeErr.Addr)

	assert.Equal(t, "flash", r.ByKind(KindFlash).Name)
	assert.Nil(t, NewRegistry(0).ByKind(KindOTP))
}

type unbounded struct{ Bytes }

func TestCovers(t *testing.T) {
	ram := NewRAM(RAMStart, 0x1000)
	tests := []struct {
		name        string
		start, size uint32
		want        bool
	}{
		{"exact", RAMStart, 0x1000, true},
		{"inside", RAMStart + 0x10, 0x20, true},
		{"too large", RAMStart, 0x1001, false},
		{"below", RAMStart - 1, 0x10, false},
		{"elsewhere", 0x30000000, 0x1000, false},
		{"wraps", math.MaxUint32, 2, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Covers(ram, tt.start, tt.size))
		})
	}
	assert.True(t, Covers(&unbounded{}, 0x30000000, 0x1000))
}
