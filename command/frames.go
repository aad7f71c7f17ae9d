package command

import (
	"encoding/binary"

	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/transport"
)

// FDCAN returns the AN5405 command table bound to l. Command parameters
// travel in the payload of the opcode frame and bulk data in the frames
// that follow. The bus CRC replaces the XOR checksums.
//
// Opcode frame payloads:
//
//	Read Memory, Write Memory  [A31..24][A23..16][A15..8][A7..0][N-1]
//	Go                         [A31..24][A23..16][A15..8][A7..0]
//	Extended Erase             [N-1 MSB][N-1 LSB]   (pages follow, 2 bytes each)
//	Write Protect              [N-1]                (pages follow)
//	Special                    [OP MSB][OP LSB][SIZE MSB][SIZE LSB]   (data follows)
//
// An extended special command sends its second block size in a frame of its
// own once the first block is complete.
func (s *Set) FDCAN(l FrameLink) *transport.CommandTable {
	cmds := []transport.Command{
		cmd(protocol.CmdGet, nil),
		cmd(protocol.CmdGetVersion, func() { s.getVersion(&stream{l: l, versionOptions: true}) }),
		cmd(protocol.CmdGetID, func() { s.getID(l) }),
		cmd(protocol.CmdReadMemory, func() { s.frameRead(l) }),
		cmd(protocol.CmdGo, func() { s.frameGo(l) }),
		cmd(protocol.CmdWriteMemory, func() { s.frameWrite(l) }),
		cmd(protocol.CmdExtendedErase, func() { s.frameErase(l) }),
		cmd(protocol.CmdSpecial, func() { s.frameSpecial(l, Special) }),
		cmd(protocol.CmdExtendedSpecial, func() { s.frameSpecial(l, ExtendedSpecial) }),
		cmd(protocol.CmdWriteProtect, func() { s.frameWriteProtect(l) }),
		cmd(protocol.CmdWriteUnprotect, func() { s.writeUnprotect(&stream{l: l}, false) }),
		cmd(protocol.CmdReadoutProtect, func() { s.readoutProtect(&stream{l: l}, false) }),
		cmd(protocol.CmdReadoutUnprotect, func() { s.readoutUnprotect(&stream{l: l}, false) }),
	}
	return s.table(l, cmds...)
}

// readFrames collects n bytes from consecutive data frames.
func readFrames(l Link, n int) []byte {
	buf := make([]byte, n)
	for got := 0; got < n; {
		got += l.ReadBytes(buf[got:])
	}
	return buf
}

func (s *Set) frameRead(l FrameLink) {
	p := l.Payload()
	if s.ops.ReadProtected() || len(p) < 5 {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	addr := binary.BigEndian.Uint32(p)
	buf := make([]byte, int(p[4])+1)
	if err := s.ops.Read(addr, buf); err != nil {
		s.log.Warn("read rejected", "addr", addr, "len", len(buf), "err", err)
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)
	l.SendBytes(buf)
	l.SendAcknowledge(protocol.AckByte)
}

func (s *Set) frameWrite(l FrameLink) {
	p := l.Payload()
	if s.ops.ReadProtected() || len(p) < 5 {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	addr := binary.BigEndian.Uint32(p)
	n := int(p[4]) + 1
	if !s.ops.Valid(addr, n) {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)

	data := readFrames(l, n)
	ack(l, s.flash("write memory", false, func() error { return s.ops.Write(addr, data) }))
}

func (s *Set) frameGo(l FrameLink) {
	p := l.Payload()
	if s.ops.ReadProtected() || len(p) < 4 {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	addr := binary.BigEndian.Uint32(p)
	if !s.ops.CanJump(addr) {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)
	if err := s.ops.Jump(addr); err != nil {
		s.log.Error("jump failed", "addr", addr, "err", err)
	}
}

func (s *Set) frameErase(l FrameLink) {
	p := l.Payload()
	if s.ops.ReadProtected() || len(p) < 2 {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	n := binary.BigEndian.Uint16(p)
	l.SendAcknowledge(protocol.AckByte)

	if n&protocol.EraseSpecialMask == protocol.EraseSpecialMask {
		ack(l, s.flash("mass erase", false, func() error { return s.ops.MassErase(p[:2]) }))
		return
	}

	count := int(n) + 1
	pages := readFrames(l, 2*count)
	payload := make([]byte, 0, 2+len(pages))
	payload = binary.LittleEndian.AppendUint16(payload, uint16(count))
	for i := 0; i < len(pages); i += 2 {
		payload = binary.LittleEndian.AppendUint16(payload, binary.BigEndian.Uint16(pages[i:]))
	}
	ack(l, s.flash("erase", false, func() error { return s.ops.Erase(payload) }))
}

func (s *Set) frameWriteProtect(l FrameLink) {
	p := l.Payload()
	if s.ops.ReadProtected() || len(p) < 1 {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)
	pages := readFrames(l, int(p[0])+1)
	ack(l, s.flash("write protect", false, func() error { return s.ops.SetWriteProtection(true, pages) }))
}

func (s *Set) frameSpecial(l FrameLink, kind SpecialKind) {
	p := l.Payload()
	if len(p) < 4 {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	sc := SpecialCommand{Opcode: binary.BigEndian.Uint16(p), Kind: kind}
	size := int(binary.BigEndian.Uint16(p[2:]))
	if size > protocol.SpecialCmdMaxDataSize {
		l.SendAcknowledge(protocol.NackByte)
		return
	}
	l.SendAcknowledge(protocol.AckByte)
	sc.Data = readFrames(l, size)

	if kind == ExtendedSpecial {
		var hdr [2]byte
		l.ReadBytes(hdr[:])
		extra := int(binary.BigEndian.Uint16(hdr[:]))
		if extra > protocol.ExtendedSpecialCmdMaxDataSize {
			l.SendAcknowledge(protocol.NackByte)
			return
		}
		sc.Extra = readFrames(l, extra)
	}
	s.dispatchSpecial(l, sc)
}
