package command

import (
	"encoding/binary"
	"log/slog"

	"github.com/moffa90/go-openbl/memory"
	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/system"
	"github.com/moffa90/go-openbl/transport"
)

// DefaultProductID is the device identifier returned by Get ID (STM32U5).
const DefaultProductID = 0x0482

// Set builds the command tables of the byte-oriented transports. Handlers
// are bound to the link they serve.
type Set struct {
	sys      *system.System
	ops      *Ops
	log      *slog.Logger
	pid      uint16
	version  byte
	special  *SpecialList
	extended *SpecialList
}

// Option configures a Set.
type Option func(*Set)

// WithProductID sets the identifier returned by Get ID.
func WithProductID(pid uint16) Option {
	return func(s *Set) {
		s.pid = pid
	}
}

// WithSpecialLists replaces the accepted special and extended special
// sub-opcodes.
func WithSpecialLists(special, extended *SpecialList) Option {
	return func(s *Set) {
		if special != nil {
			s.special = special
		}
		if extended != nil {
			s.extended = extended
		}
	}
}

// NewSet creates a command set operating on ops.
func NewSet(sys *system.System, ops *Ops, opts ...Option) *Set {
	s := &Set{
		sys:     sys,
		ops:     ops,
		log:     sys.Log(system.ComponentDispatcher),
		pid:     DefaultProductID,
		version: protocol.ProtocolVersion,
	}
	s.special, s.extended = DefaultSpecialLists()
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// stream holds the per-transport variations of the byte-stream protocol.
type stream struct {
	l Link

	// versionOptions adds the two compatibility bytes to Get Version.
	versionOptions bool
}

// USART returns the AN3155 command table bound to l.
func (s *Set) USART(l Link) *transport.CommandTable {
	st := &stream{l: l, versionOptions: true}
	return s.table(st.l, s.streamCommands(st)...)
}

// SPI returns the AN4286 command table bound to l.
func (s *Set) SPI(l Link) *transport.CommandTable {
	st := &stream{l: l}
	return s.table(st.l, s.streamCommands(st)...)
}

// I2C returns the AN4221 command table bound to l, including the no-stretch
// variants that emit busy bytes while flash is working.
func (s *Set) I2C(l Link) *transport.CommandTable {
	st := &stream{l: l}
	cmds := s.streamCommands(st)
	cmds = append(cmds,
		cmd(protocol.CmdNSWriteMemory, func() { s.writeMemory(st, true) }),
		cmd(protocol.CmdNSExtendedErase, func() { s.extendedErase(st, true) }),
		cmd(protocol.CmdNSWriteProtect, func() { s.writeProtect(st, true) }),
		cmd(protocol.CmdNSWriteUnprotect, func() { s.writeUnprotect(st, true) }),
		cmd(protocol.CmdNSReadoutProtect, func() { s.readoutProtect(st, true) }),
		cmd(protocol.CmdNSReadoutUnprotect, func() { s.readoutUnprotect(st, true) }),
	)
	return s.table(l, cmds...)
}

func (s *Set) streamCommands(st *stream) []transport.Command {
	return []transport.Command{
		cmd(protocol.CmdGet, nil), // bound in table
		cmd(protocol.CmdGetVersion, func() { s.getVersion(st) }),
		cmd(protocol.CmdGetID, func() { s.getID(st.l) }),
		cmd(protocol.CmdReadMemory, func() { s.readMemory(st) }),
		cmd(protocol.CmdGo, func() { s.goCmd(st) }),
		cmd(protocol.CmdWriteMemory, func() { s.writeMemory(st, false) }),
		cmd(protocol.CmdExtendedErase, func() { s.extendedErase(st, false) }),
		cmd(protocol.CmdSpecial, func() { s.specialCmd(st, Special) }),
		cmd(protocol.CmdExtendedSpecial, func() { s.specialCmd(st, ExtendedSpecial) }),
		cmd(protocol.CmdWriteProtect, func() { s.writeProtect(st, false) }),
		cmd(protocol.CmdWriteUnprotect, func() { s.writeUnprotect(st, false) }),
		cmd(protocol.CmdReadoutProtect, func() { s.readoutProtect(st, false) }),
		cmd(protocol.CmdReadoutUnprotect, func() { s.readoutUnprotect(st, false) }),
	}
}

func cmd(op byte, fn func()) transport.Command {
	c := transport.Command{Opcode: op}
	if fn != nil {
		c.Handler = func(transport.Transport) { fn() }
	}
	return c
}

// table builds the command table and binds Get, which lists the table's own
// opcodes.
func (s *Set) table(l Link, cmds ...transport.Command) *transport.CommandTable {
	opcodes := make([]byte, len(cmds))
	for i, c := range cmds {
		opcodes[i] = c.Opcode
	}
	for i := range cmds {
		if cmds[i].Opcode == protocol.CmdGet {
			cmds[i].Handler = func(transport.Transport) { s.get(l, opcodes) }
		}
	}
	return transport.NewCommandTable(nil, cmds...)
}

func ack(l Link, err error) {
	if err != nil {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)
}

// flash runs a flash operation, with busy bytes enabled for its duration
// when busy is set.
func (s *Set) flash(op string, busy bool, fn func() error) error {
	if busy {
		s.sys.Busy().Enable()
		defer s.sys.Busy().Disable()
	}
	err := fn()
	if err != nil {
		s.log.Warn("command failed", "op", op, "err", err)
	}
	return err
}

func (s *Set) get(l Link, opcodes []byte) {
	l.SendAcknowledge(protocol.AckByte)
	l.SendBytes(protocol.EncodeGetResponse(s.version, opcodes))
	l.SendAcknowledge(protocol.AckByte)
}

func (s *Set) getVersion(st *stream) {
	st.l.SendAcknowledge(protocol.AckByte)
	if st.versionOptions {
		st.l.SendBytes([]byte{s.version, 0x00, 0x00})
	} else {
		st.l.SendBytes([]byte{s.version})
	}
	st.l.SendAcknowledge(protocol.AckByte)
}

func (s *Set) getID(l Link) {
	l.SendAcknowledge(protocol.AckByte)
	l.SendBytes(protocol.EncodeGetIDResponse(s.pid))
	l.SendAcknowledge(protocol.AckByte)
}

func readAddress(l Link) (uint32, bool) {
	var frame [protocol.AddressFrameSize]byte
	l.ReadBytes(frame[:])
	addr, err := protocol.DecodeAddressFrame(frame[:])
	return addr, err == nil
}

func (s *Set) readMemory(st *stream) {
	l := st.l
	if s.ops.ReadProtected() {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)

	addr, ok := readAddress(l)
	if !ok || !s.ops.Valid(addr, 1) {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)

	n, c := l.ReadByte(), l.ReadByte()
	if !protocol.CheckComplement(n, c) {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	buf := make([]byte, int(n)+1)
	if err := s.ops.Read(addr, buf); err != nil {
		s.log.Warn("read rejected", "addr", addr, "len", len(buf), "err", err)
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)
	l.SendBytes(buf)
}

func (s *Set) writeMemory(st *stream, busy bool) {
	l := st.l
	if s.ops.ReadProtected() {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)

	addr, ok := readAddress(l)
	if !ok || !s.ops.Valid(addr, 1) {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)

	n := l.ReadByte()
	data := make([]byte, int(n)+1)
	l.ReadBytes(data)
	sum := l.ReadByte()
	if protocol.Checksum(n)^protocol.Checksum(data...) != sum {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	ack(l, s.flash("write memory", busy, func() error { return s.ops.Write(addr, data) }))
}

func (s *Set) goCmd(st *stream) {
	l := st.l
	if s.ops.ReadProtected() {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)

	addr, ok := readAddress(l)
	if !ok || !s.ops.CanJump(addr) {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)
	if err := s.ops.Jump(addr); err != nil {
		s.log.Error("jump failed", "addr", addr, "err", err)
	}
}

func (s *Set) extendedErase(st *stream, busy bool) {
	l := st.l
	if s.ops.ReadProtected() {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)

	var hdr [2]byte
	l.ReadBytes(hdr[:])
	n := binary.BigEndian.Uint16(hdr[:])

	if n&protocol.EraseSpecialMask == protocol.EraseSpecialMask {
		if l.ReadByte() != protocol.Checksum(hdr[:]...) {
			l.SendAcknowledge(protocol.NackByte)
			return
		}
		ack(l, s.flash("mass erase", busy, func() error { return s.ops.MassErase(hdr[:]) }))
		return
	}

	count := int(n) + 1
	pages := make([]byte, 2*count)
	l.ReadBytes(pages)
	if l.ReadByte() != protocol.Checksum(hdr[:]...)^protocol.Checksum(pages...) {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	payload := make([]byte, 0, 2+len(pages))
	payload = binary.LittleEndian.AppendUint16(payload, uint16(count))
	for i := 0; i < len(pages); i += 2 {
		payload = binary.LittleEndian.AppendUint16(payload, binary.BigEndian.Uint16(pages[i:]))
	}
	ack(l, s.flash("erase", busy, func() error { return s.ops.Erase(payload) }))
}

func (s *Set) writeProtect(st *stream, busy bool) {
	l := st.l
	if s.ops.ReadProtected() {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)

	n := l.ReadByte()
	pages := make([]byte, int(n)+1)
	l.ReadBytes(pages)
	if l.ReadByte() != protocol.Checksum(n)^protocol.Checksum(pages...) {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	ack(l, s.flash("write protect", busy, func() error { return s.ops.SetWriteProtection(true, pages) }))
}

func (s *Set) writeUnprotect(st *stream, busy bool) {
	l := st.l
	if s.ops.ReadProtected() {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)
	ack(l, s.flash("write unprotect", busy, func() error { return s.ops.SetWriteProtection(false, nil) }))
}

func (s *Set) readoutProtect(st *stream, busy bool) {
	l := st.l
	if s.ops.ReadProtected() {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)
	ack(l, s.flash("readout protect", busy, func() error {
		return s.ops.SetReadoutProtection(memory.ProtectionRead)
	}))
}

func (s *Set) readoutUnprotect(st *stream, busy bool) {
	l := st.l
	l.SendAcknowledge(protocol.AckByte)
	ack(l, s.flash("readout unprotect", busy, func() error {
		return s.ops.SetReadoutProtection(memory.ProtectionNone)
	}))
}

// readSized reads a [SIZE(2)][DATA][XOR] block of at most max bytes.
func readSized(l Link, max int) ([]byte, bool) {
	var hdr [2]byte
	l.ReadBytes(hdr[:])
	size := int(binary.BigEndian.Uint16(hdr[:]))
	if size > max {
		return nil, false
	}
	data := make([]byte, size)
	if size > 0 {
		l.ReadBytes(data)
	}
	if l.ReadByte() != protocol.Checksum(hdr[:]...)^protocol.Checksum(data...) {
		return nil, false
	}
	return data, true
}

func (s *Set) specialCmd(st *stream, kind SpecialKind) {
	l := st.l
	l.SendAcknowledge(protocol.AckByte)

	var op [3]byte
	l.ReadBytes(op[:])
	if !protocol.ValidChecksum(op[:]) {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	sc := SpecialCommand{Opcode: binary.BigEndian.Uint16(op[:]), Kind: kind}

	var ok bool
	if sc.Data, ok = readSized(l, protocol.SpecialCmdMaxDataSize); !ok {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	if kind == ExtendedSpecial {
		if sc.Extra, ok = readSized(l, protocol.ExtendedSpecialCmdMaxDataSize); !ok {
			l.SendAcknowledge(protocol.NackByte)
			return
		}
	}
	s.dispatchSpecial(l, sc)
}

// dispatchSpecial hands an accepted special command to the link and closes
// the exchange with an ACK. Sub-opcodes missing from the matching list are
// rejected.
func (s *Set) dispatchSpecial(l Link, sc SpecialCommand) {
	list := s.special
	if sc.Kind == ExtendedSpecial {
		list = s.extended
	}
	if !list.Contains(sc.Opcode) {
		s.log.Debug("special command rejected", "kind", sc.Kind, "opcode", sc.Opcode)
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	if p, ok := l.(SpecialProcessor); ok {
		p.ProcessSpecial(sc)
	} else {
		l.SendBytes(protocol.EncodeSpecialResponse(DefaultSpecial(sc), sc.Kind == Special))
	}
	l.SendAcknowledge(protocol.AckByte)
}
