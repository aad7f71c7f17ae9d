// Package usb implements the USB DFU bootloader transport (AN3156).
//
// DFU has no opcode table. Once the device is attached the transport serves
// class requests itself: block 0 downloads carry DFU commands (set address
// pointer, erase, protection changes), downloads and uploads from block 2
// move data relative to the address pointer, and a zero-length download
// leaves DFU mode by starting the application.
package usb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/moffa90/go-openbl/command"
	"github.com/moffa90/go-openbl/memory"
	"github.com/moffa90/go-openbl/protocol"
	"github.com/moffa90/go-openbl/system"
)

// Name is the transport name.
const Name = "usb"

// DefaultAppAddress is where Leave jumps when no address was set.
const DefaultAppAddress = memory.FlashStart

// RequestKind identifies a DFU class request.
type RequestKind uint8

const (
	Download RequestKind = iota
	Upload
)

func (k RequestKind) String() string {
	if k == Upload {
		return "upload"
	}
	return "download"
}

// Request is a DFU class request received on the control endpoint.
type Request struct {
	Kind  RequestKind
	Block uint16

	// Data is the download payload. It is empty for a leave request.
	Data []byte

	// Length is the number of bytes an upload asks for.
	Length int
}

// Status is the DFU bStatus reported after a request.
type Status uint8

// DFU status codes.
const (
	StatusOK         Status = 0x00
	StatusErrTarget  Status = 0x01
	StatusErrWrite   Status = 0x03
	StatusErrErase   Status = 0x04
	StatusErrAddress Status = 0x08
	StatusErrVendor  Status = 0x0B
	StatusErrUnknown Status = 0x0E
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusErrTarget:
		return "errTARGET"
	case StatusErrWrite:
		return "errWRITE"
	case StatusErrErase:
		return "errERASE"
	case StatusErrAddress:
		return "errADDRESS"
	case StatusErrVendor:
		return "errVENDOR"
	case StatusErrUnknown:
		return "errUNKNOWN"
	default:
		return fmt.Sprintf("Status(0x%02X)", uint8(s))
	}
}

// Commands lists the block 0 commands returned by an upload of block 0.
var Commands = []byte{
	protocol.DFUCmdGetCommands,
	protocol.DFUCmdSetAddress,
	protocol.DFUCmdErase,
	protocol.DFUCmdReadUnprotect,
}

// Peripheral is the USB device stack running the DFU class.
type Peripheral interface {
	Init()
	DeInit()

	// Attached reports that the host enumerated the device.
	Attached() bool

	// Poll returns the next class request, if any.
	Poll() (Request, bool)

	// Respond answers an upload.
	Respond(data []byte)

	// SetStatus reports the outcome of the last request.
	SetStatus(s Status)
}

var errProtected = errors.New("readout protection active")

// USB is the DFU transport.
type USB struct {
	p          Peripheral
	sys        *system.System
	ops        *command.Ops
	log        *slog.Logger
	configured bool

	addr uint32
}

// New creates a DFU transport serving requests through ops.
func New(p Peripheral, sys *system.System, ops *command.Ops) *USB {
	return &USB{
		p:   p,
		sys: sys,
		ops: ops,
		log: sys.Log(system.ComponentUSB),
	}
}

// Name returns "usb".
func (u *USB) Name() string { return Name }

// Configure starts the device stack once.
func (u *USB) Configure() {
	if u.configured {
		return
	}
	u.p.Init()
	u.configured = true
}

// DeInit stops the device stack.
func (u *USB) DeInit() {
	u.p.DeInit()
	u.configured = false
}

// Detect reports that the host attached the device.
func (u *USB) Detect() bool {
	return u.p.Attached()
}

// GetCommandOpcode always returns protocol.ErrorCommand; DFU is served by
// Serve.
func (u *USB) GetCommandOpcode() byte { return protocol.ErrorCommand }

// SendByte is a no-op; DFU answers through the control endpoint.
func (u *USB) SendByte(byte) {}

// SendAcknowledge is a no-op.
func (u *USB) SendAcknowledge(byte) {}

// Address returns the address pointer.
func (u *USB) Address() uint32 {
	return u.addr
}

// Serve waits for one class request and handles it.
func (u *USB) Serve() {
	var req Request
	u.sys.WaitFor(func() bool {
		var ok bool
		req, ok = u.p.Poll()
		return ok
	}, 0, "usb")

	switch {
	case req.Kind == Upload:
		u.upload(req)
	case len(req.Data) == 0:
		u.leave()
	case req.Block == 0:
		u.p.SetStatus(u.command(req.Data))
	default:
		u.p.SetStatus(u.download(req))
	}
}

// blockAddress returns the memory address of a data block.
func (u *USB) blockAddress(block uint16) uint32 {
	return uint32(block-2)*protocol.DFUTransferSize + u.addr
}

func (u *USB) upload(req Request) {
	if req.Block == 0 {
		u.p.Respond(Commands)
		u.p.SetStatus(StatusOK)
		return
	}
	if req.Block < 2 || u.ops.ReadProtected() {
		u.p.Respond(nil)
		u.p.SetStatus(StatusErrTarget)
		return
	}
	buf := make([]byte, req.Length)
	if err := u.ops.Read(u.blockAddress(req.Block), buf); err != nil {
		u.log.Warn("upload failed", "block", req.Block, "err", err)
		u.p.Respond(nil)
		u.p.SetStatus(StatusErrAddress)
		return
	}
	u.p.Respond(buf)
	u.p.SetStatus(StatusOK)
}

func (u *USB) download(req Request) Status {
	if req.Block < 2 {
		return StatusErrUnknown
	}
	if u.ops.ReadProtected() {
		return StatusErrTarget
	}
	addr := u.blockAddress(req.Block)
	if err := u.ops.Write(addr, req.Data); err != nil {
		u.log.Warn("download failed", "addr", addr, "err", err)
		return StatusErrWrite
	}
	return StatusOK
}

// command executes a block 0 download.
//
//	[0x21][A7..0][A15..8][A23..16][A31..24]  set address pointer
//	[0x41]                                   mass erase
//	[0x41][A7..0][A15..8][A23..16][A31..24]  erase the page holding the address
//	[0x63][N][PAGES...]                      write protect
//	[0x73] [0x82] [0x92]                     write unprotect, readout protect, readout unprotect
func (u *USB) command(data []byte) Status {
	var err error
	status := StatusErrVendor

	switch data[0] {
	case protocol.DFUCmdSetAddress:
		if len(data) < 5 {
			return StatusErrAddress
		}
		u.addr = binary.LittleEndian.Uint32(data[1:])
		return StatusOK
	case protocol.DFUCmdErase:
		status = StatusErrErase
		err = u.erase(data[1:])
	case protocol.DFUCmdWriteProtect:
		if len(data) < 2 || len(data) < 2+int(data[1]) {
			return StatusErrUnknown
		}
		err = u.ops.SetWriteProtection(true, data[2:2+int(data[1])])
	case protocol.DFUCmdWriteUnprotect:
		err = u.ops.SetWriteProtection(false, nil)
	case protocol.DFUCmdReadProtect:
		err = u.ops.SetReadoutProtection(memory.ProtectionRead)
	case protocol.DFUCmdReadUnprotect:
		err = u.ops.SetReadoutProtection(memory.ProtectionNone)
	default:
		return StatusErrUnknown
	}
	if err != nil {
		u.log.Warn("dfu command failed", "cmd", data[0], "err", err)
		return status
	}
	return StatusOK
}

func (u *USB) erase(arg []byte) error {
	if u.ops.ReadProtected() {
		return errProtected
	}
	if len(arg) < 4 {
		return u.ops.MassErase(binary.BigEndian.AppendUint16(nil, protocol.EraseMass))
	}
	u.addr = binary.LittleEndian.Uint32(arg)
	if u.addr < memory.FlashStart || u.addr > memory.FlashEnd {
		return &memory.RangeError{Addr: u.addr, Len: 1}
	}
	page := (u.addr - memory.FlashStart) / memory.PageSize
	payload := binary.LittleEndian.AppendUint16(nil, 1)
	payload = binary.LittleEndian.AppendUint16(payload, uint16(page))
	return u.ops.Erase(payload)
}

// leave starts the application at the address pointer, or at
// DefaultAppAddress when none was set. It returns only when the address is
// not executable.
func (u *USB) leave() {
	addr := u.addr
	if addr == 0 {
		addr = DefaultAppAddress
	}
	u.p.SetStatus(StatusOK)
	if err := u.ops.Jump(addr); err != nil {
		u.log.Error("leave failed", "addr", addr, "err", err)
		u.p.SetStatus(StatusErrAddress)
	}
}
