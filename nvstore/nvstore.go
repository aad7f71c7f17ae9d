// Package nvstore persists the non-volatile state of a simulated device
// (flash array, OTP area, engineering bytes and loaded option bytes) as a
// CBOR document, so a simulator keeps its programmed image and protection
// across process restarts.
package nvstore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/moffa90/go-openbl/flash"
	"github.com/moffa90/go-openbl/memory"
	"github.com/moffa90/go-openbl/sim"
)

// FormatVersion is the version written to new snapshots.
const FormatVersion = 1

// ErrGeometry is returned when a snapshot does not fit the device.
var ErrGeometry = errors.New("snapshot geometry mismatch")

// ErrVersion is returned for snapshots of an unknown format.
var ErrVersion = errors.New("unsupported snapshot version")

// Snapshot is the persisted state.
type Snapshot struct {
	Version   int                   `cbor:"1,keyasint"`
	SavedAt   time.Time             `cbor:"2,keyasint"`
	Flash     []byte                `cbor:"3,keyasint"`
	OTP       []byte                `cbor:"4,keyasint"`
	EngiBytes []byte                `cbor:"5,keyasint"`
	Options   flash.OptionRegisters `cbor:"6,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:        cbor.SortCanonical,
		IndefLength: cbor.IndefLengthForbidden,
		Time:        cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create snapshot CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("failed to create snapshot CBOR decoder mode: %v", err))
	}
}

// Capture copies the non-volatile state of f. The option bytes captured are
// the ones in effect, not pending register writes.
func Capture(f *sim.Flash) *Snapshot {
	return &Snapshot{
		Version:   FormatVersion,
		SavedAt:   time.Now().UTC(),
		Flash:     append([]byte(nil), f.Array...),
		OTP:       append([]byte(nil), f.OTPArea...),
		EngiBytes: append([]byte(nil), f.EngiBytes...),
		Options:   f.Loaded,
	}
}

// Restore loads s into f and reboots it, so the restored option bytes are
// in effect.
func (s *Snapshot) Restore(f *sim.Flash) error {
	if s.Version != FormatVersion {
		return fmt.Errorf("%w: %d", ErrVersion, s.Version)
	}
	areas := []struct {
		name string
		dst  []byte
		src  []byte
		size int
	}{
		{"flash", f.Array, s.Flash, memory.FlashSize},
		{"otp", f.OTPArea, s.OTP, memory.OTPSize},
		{"engi bytes", f.EngiBytes, s.EngiBytes, memory.EngiBytesSize},
	}
	for _, a := range areas {
		if len(a.src) != a.size || len(a.dst) != a.size {
			return fmt.Errorf("%w: %s holds %d bytes, want %d", ErrGeometry, a.name, len(a.src), a.size)
		}
	}
	for _, a := range areas {
		copy(a.dst, a.src)
	}
	f.Loaded = s.Options
	f.Boot()
	return nil
}

// Encode writes s to w.
func Encode(w io.Writer, s *Snapshot) error {
	return encMode.NewEncoder(w).Encode(s)
}

// Decode reads a snapshot from r.
func Decode(r io.Reader) (*Snapshot, error) {
	var s Snapshot
	if err := decMode.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &s, nil
}

// Save captures f and writes it to path. The file is replaced atomically.
func Save(path string, f *sim.Flash) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			os.Remove(tmp.Name())
		}
	}()

	if err = Encode(tmp, Capture(f)); err != nil {
		tmp.Close()
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load restores f from the snapshot at path. A missing file returns an
// error wrapping os.ErrNotExist and leaves f untouched.
func Load(path string, f *sim.Flash) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	s, err := Decode(file)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	if err := s.Restore(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}
