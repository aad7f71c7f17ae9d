package bootloader

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/moffa90/go-openbl/ihex"
	"github.com/moffa90/go-openbl/protocol"
)

// maxErasePages bounds the page list of one Extended Erase command.
const maxErasePages = 128

// Programmer drives an STM32 bootloader over a USART byte stream. It handles
// the complete programming sequence including erase, verification and
// progress tracking.
//
// A Programmer is not safe for concurrent use: the protocol is strictly
// one command at a time.
type Programmer struct {
	device io.ReadWriter
	config Config
}

// deadliner is implemented by connections that bound blocking reads, such
// as net.Conn.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// New creates a new Programmer with the given device and options.
// The device must implement io.ReadWriter for communication with the
// bootloader. When it also implements SetReadDeadline, reads are bounded by
// the configured timeouts; otherwise a read returning no data counts as a
// poll and is retried until the timeout elapses.
//
// Example:
//
//	port, _ := serial.Open(&serial.Config{Address: "/dev/ttyUSB0", BaudRate: 115200, Parity: "E"})
//	prog := bootloader.New(port,
//	    bootloader.WithProgressCallback(progressFunc),
//	    bootloader.WithTimeout(2*time.Second),
//	)
func New(device io.ReadWriter, opts ...Option) *Programmer {
	if device == nil {
		panic("device cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Programmer{
		device: device,
		config: cfg,
	}
}

// Program performs the complete firmware programming sequence:
//  1. Synchronise with the bootloader
//  2. Check the product ID when one is configured
//  3. Erase every flash page the image touches
//  4. Write the image in chunks with progress tracking
//  5. Read back and compare, when verification is enabled
//  6. Start the application, when enabled
//
// The operation can be cancelled via context between commands.
//
// Example:
//
//	img, _ := ihex.Parse("firmware.hex")
//	err := prog.Program(context.Background(), img)
func (p *Programmer) Program(ctx context.Context, img *ihex.Image) error {
	if img == nil || len(img.Segments) == 0 {
		return fmt.Errorf("image cannot be empty")
	}
	for _, s := range img.Segments {
		if !p.inFlash(s.Address, len(s.Data)) {
			return &SegmentOutOfRangeError{Address: s.Address, Size: len(s.Data)}
		}
	}

	start := time.Now()
	total := p.countChunks(img)

	// Phase 1: connect
	p.reportProgress(Progress{Phase: PhaseConnecting, TotalBlocks: total})
	if err := p.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	// Phase 2: product ID
	pid, err := p.GetID(ctx)
	if err != nil {
		return fmt.Errorf("get id: %w", err)
	}
	p.logDebug("device connected", "pid", fmt.Sprintf("0x%04X", pid))
	if p.config.ProductID != 0 && pid != p.config.ProductID {
		return &DeviceMismatchError{Expected: p.config.ProductID, Actual: pid}
	}

	// Phase 3: erase
	pages := p.pagesOf(img)
	p.reportProgress(Progress{Phase: PhaseErasing, TotalBlocks: len(pages), Percentage: 2, ElapsedTime: time.Since(start)})
	for i := 0; i < len(pages); i += maxErasePages {
		end := min(i+maxErasePages, len(pages))
		if err := p.EraseMemory(ctx, pages[i:end]); err != nil {
			return fmt.Errorf("erase pages %d-%d: %w", pages[i], pages[end-1], err)
		}
		p.reportProgress(Progress{
			Phase:        PhaseErasing,
			CurrentBlock: end,
			TotalBlocks:  len(pages),
			Percentage:   2 + 8*float64(end)/float64(len(pages)),
			ElapsedTime:  time.Since(start),
		})
	}
	p.logDebug("flash erased", "pages", len(pages))

	// Phase 4: write
	written, done := 0, 0
	err = p.eachChunk(img, func(addr uint32, chunk []byte) error {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}
		if err := p.WriteMemory(ctx, addr, chunk); err != nil {
			p.logError("write failed", "address", fmt.Sprintf("0x%08X", addr), "error", err)
			return fmt.Errorf("write 0x%08X: %w", addr, err)
		}
		written += len(chunk)
		done++
		p.reportProgress(Progress{
			Phase:        PhaseProgramming,
			CurrentBlock: done,
			TotalBlocks:  total,
			Percentage:   10 + p.share()*float64(done)/float64(total),
			BytesWritten: written,
			ElapsedTime:  time.Since(start),
		})
		return nil
	})
	if err != nil {
		return err
	}

	// Phase 5: verify
	if p.config.VerifyAfterProgram {
		done = 0
		err = p.eachChunk(img, func(addr uint32, chunk []byte) error {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("cancelled: %w", err)
			}
			if err := p.verifyChunk(ctx, addr, chunk); err != nil {
				return err
			}
			done++
			p.reportProgress(Progress{
				Phase:        PhaseVerifying,
				CurrentBlock: done,
				TotalBlocks:  total,
				Percentage:   10 + p.share() + (90-p.share())*float64(done)/float64(total),
				BytesWritten: written,
				ElapsedTime:  time.Since(start),
			})
			return nil
		})
		if err != nil {
			return err
		}
	}

	// Phase 6: start
	if p.config.StartAfterProgram {
		p.reportProgress(Progress{Phase: PhaseStarting, CurrentBlock: total, TotalBlocks: total, Percentage: 100, BytesWritten: written, ElapsedTime: time.Since(start)})
		if err := p.Go(ctx, img.Segments[0].Address); err != nil {
			return fmt.Errorf("go: %w", err)
		}
	}

	p.reportProgress(Progress{
		Phase:        PhaseComplete,
		CurrentBlock: total,
		TotalBlocks:  total,
		Percentage:   100,
		BytesWritten: written,
		ElapsedTime:  time.Since(start),
	})
	p.logInfo("programming complete", "bytes", written, "duration", time.Since(start))
	return nil
}

// share is the percentage span of the write phase.
func (p *Programmer) share() float64 {
	if p.config.VerifyAfterProgram {
		return 45
	}
	return 90
}

func (p *Programmer) inFlash(addr uint32, n int) bool {
	end := uint64(p.config.FlashBase) + uint64(p.config.FlashSize)
	return addr >= p.config.FlashBase && uint64(addr)+uint64(n) <= end
}

// pagesOf returns the sorted flash pages covered by img.
func (p *Programmer) pagesOf(img *ihex.Image) []uint16 {
	seen := make(map[uint16]bool)
	var pages []uint16
	for _, s := range img.Segments {
		first := (s.Address - p.config.FlashBase) / p.config.PageSize
		last := (s.Address + uint32(len(s.Data)) - 1 - p.config.FlashBase) / p.config.PageSize
		for pg := first; pg <= last; pg++ {
			if !seen[uint16(pg)] {
				seen[uint16(pg)] = true
				pages = append(pages, uint16(pg))
			}
		}
	}
	sort.Slice(pages, func(i, j int) bool { return pages[i] < pages[j] })
	return pages
}

func (p *Programmer) countChunks(img *ihex.Image) int {
	n := 0
	for _, s := range img.Segments {
		n += (len(s.Data) + p.config.ChunkSize - 1) / p.config.ChunkSize
	}
	return n
}

// eachChunk calls fn for every ChunkSize slice of the image.
func (p *Programmer) eachChunk(img *ihex.Image, fn func(addr uint32, chunk []byte) error) error {
	for _, s := range img.Segments {
		for off := 0; off < len(s.Data); off += p.config.ChunkSize {
			end := min(off+p.config.ChunkSize, len(s.Data))
			if err := fn(s.Address+uint32(off), s.Data[off:end]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Programmer) verifyChunk(ctx context.Context, addr uint32, want []byte) error {
	got, err := p.ReadMemory(ctx, addr, len(want))
	if err != nil {
		return fmt.Errorf("verify read 0x%08X: %w", addr, err)
	}
	for i := range want {
		if got[i] != want[i] {
			return &VerifyMismatchError{Address: addr + uint32(i), Expected: want[i], Actual: got[i]}
		}
	}
	return nil
}

// Connect sends the synchronisation byte until the bootloader answers.
// A NACK means the bootloader already synchronised on an earlier attempt
// and is accepted.
func (p *Programmer) Connect(ctx context.Context) error {
	var err error
	for attempt := 0; attempt <= p.config.Retries; attempt++ {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err = p.write([]byte{protocol.SyncByte}); err != nil {
			return err
		}
		var b byte
		b, err = p.readByte(ctx, p.config.ReadTimeout)
		switch {
		case err == nil && (b == protocol.AckByte || b == protocol.NackByte):
			p.logDebug("synchronised", "attempt", attempt+1, "answer", fmt.Sprintf("0x%02X", b))
			return nil
		case err == nil:
			err = &protocol.ProtocolError{Operation: "connect", Response: b}
		case !errors.Is(err, ErrTimeout):
			return err
		}
		p.logDebug("sync attempt failed", "attempt", attempt+1, "error", err)
	}
	return err
}

// Get returns the protocol version and the supported command opcodes.
func (p *Programmer) Get(ctx context.Context) (*protocol.Commands, error) {
	body, err := p.query(ctx, "get", protocol.CmdGet)
	if err != nil {
		return nil, err
	}
	return protocol.ParseGetResponse(body)
}

// GetVersion returns the protocol version and the option bytes sent with it.
func (p *Programmer) GetVersion(ctx context.Context) (*protocol.VersionInfo, error) {
	if err := p.command(ctx, "get version", protocol.CmdGetVersion); err != nil {
		return nil, err
	}
	body := make([]byte, 3)
	if err := p.readFull(ctx, body, p.config.ReadTimeout); err != nil {
		return nil, err
	}
	if err := p.expectAck(ctx, "get version", "end", p.config.ReadTimeout); err != nil {
		return nil, err
	}
	return protocol.ParseGetVersionResponse(body)
}

// GetID returns the product ID.
func (p *Programmer) GetID(ctx context.Context) (uint16, error) {
	body, err := p.query(ctx, "get id", protocol.CmdGetID)
	if err != nil {
		return 0, err
	}
	return protocol.ParseGetIDResponse(body)
}

// query runs a command answered by [N][N+1 bytes] and an ACK, and returns
// the whole body including N.
func (p *Programmer) query(ctx context.Context, op string, code byte) ([]byte, error) {
	if err := p.command(ctx, op, code); err != nil {
		return nil, err
	}
	n, err := p.readByte(ctx, p.config.ReadTimeout)
	if err != nil {
		return nil, err
	}
	body := make([]byte, int(n)+2)
	body[0] = n
	if err := p.readFull(ctx, body[1:], p.config.ReadTimeout); err != nil {
		return nil, err
	}
	if err := p.expectAck(ctx, op, "end", p.config.ReadTimeout); err != nil {
		return nil, err
	}
	return body, nil
}

// ReadMemory reads n bytes (1-256) starting at addr.
func (p *Programmer) ReadMemory(ctx context.Context, addr uint32, n int) ([]byte, error) {
	count, err := protocol.BuildReadCountFrame(n)
	if err != nil {
		return nil, err
	}

	var data []byte
	err = p.retry(ctx, "read memory", func() error {
		if err := p.command(ctx, "read memory", protocol.CmdReadMemory); err != nil {
			return err
		}
		if err := p.send(ctx, "read memory", "address", protocol.BuildAddressFrame(addr), p.config.ReadTimeout); err != nil {
			return err
		}
		if err := p.send(ctx, "read memory", "count", count, p.config.ReadTimeout); err != nil {
			return err
		}
		data = make([]byte, n)
		return p.readFull(ctx, data, p.config.ReadTimeout)
	})
	return data, err
}

// WriteMemory writes 1-256 bytes at addr.
func (p *Programmer) WriteMemory(ctx context.Context, addr uint32, data []byte) error {
	frame, err := protocol.BuildWriteDataFrame(data)
	if err != nil {
		return err
	}
	if err := p.command(ctx, "write memory", protocol.CmdWriteMemory); err != nil {
		return err
	}
	if err := p.send(ctx, "write memory", "address", protocol.BuildAddressFrame(addr), p.config.ReadTimeout); err != nil {
		return err
	}
	return p.send(ctx, "write memory", "data", frame, p.config.EraseTimeout)
}

// ReadRange reads n bytes starting at addr, split into ChunkSize commands.
func (p *Programmer) ReadRange(ctx context.Context, addr uint32, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for off := 0; off < n; off += p.config.ChunkSize {
		size := min(p.config.ChunkSize, n-off)
		chunk, err := p.ReadMemory(ctx, addr+uint32(off), size)
		if err != nil {
			return nil, fmt.Errorf("read 0x%08X: %w", addr+uint32(off), err)
		}
		out = append(out, chunk...)
	}
	return out, nil
}

// WriteRange writes data starting at addr, split into ChunkSize commands.
func (p *Programmer) WriteRange(ctx context.Context, addr uint32, data []byte) error {
	for off := 0; off < len(data); off += p.config.ChunkSize {
		end := min(off+p.config.ChunkSize, len(data))
		if err := p.WriteMemory(ctx, addr+uint32(off), data[off:end]); err != nil {
			return fmt.Errorf("write 0x%08X: %w", addr+uint32(off), err)
		}
	}
	return nil
}

// EraseMemory erases the listed flash pages.
func (p *Programmer) EraseMemory(ctx context.Context, pages []uint16) error {
	frame, err := protocol.BuildEraseFrame(pages)
	if err != nil {
		return err
	}
	if err := p.command(ctx, "extended erase", protocol.CmdExtendedErase); err != nil {
		return err
	}
	return p.send(ctx, "extended erase", "pages", frame, p.config.EraseTimeout)
}

// MassErase erases both banks, or one bank with protocol.EraseBank1 or
// protocol.EraseBank2.
func (p *Programmer) MassErase(ctx context.Context, code uint16) error {
	frame, err := protocol.BuildSpecialEraseFrame(code)
	if err != nil {
		return err
	}
	if err := p.command(ctx, "extended erase", protocol.CmdExtendedErase); err != nil {
		return err
	}
	return p.send(ctx, "extended erase", "mass", frame, p.config.EraseTimeout)
}

// Go starts the application whose vector table is at addr. The bootloader
// does not answer once it has jumped.
func (p *Programmer) Go(ctx context.Context, addr uint32) error {
	if err := p.command(ctx, "go", protocol.CmdGo); err != nil {
		return err
	}
	return p.send(ctx, "go", "address", protocol.BuildAddressFrame(addr), p.config.ReadTimeout)
}

// WriteProtect enables write protection on the listed sectors. The device
// resets once the option bytes are applied.
func (p *Programmer) WriteProtect(ctx context.Context, sectors []byte) error {
	frame, err := protocol.BuildWriteProtectFrame(sectors)
	if err != nil {
		return err
	}
	if err := p.command(ctx, "write protect", protocol.CmdWriteProtect); err != nil {
		return err
	}
	return p.send(ctx, "write protect", "sectors", frame, p.config.EraseTimeout)
}

// WriteUnprotect removes write protection from all of flash. The device
// resets once the option bytes are applied.
func (p *Programmer) WriteUnprotect(ctx context.Context) error {
	return p.twoAck(ctx, "write unprotect", protocol.CmdWriteUnprotect)
}

// ReadoutProtect enables readout protection. The device resets once the
// option bytes are applied.
func (p *Programmer) ReadoutProtect(ctx context.Context) error {
	return p.twoAck(ctx, "readout protect", protocol.CmdReadoutProtect)
}

// ReadoutUnprotect removes readout protection, which wipes flash. The device
// resets once the option bytes are applied.
func (p *Programmer) ReadoutUnprotect(ctx context.Context) error {
	return p.twoAck(ctx, "readout unprotect", protocol.CmdReadoutUnprotect)
}

func (p *Programmer) twoAck(ctx context.Context, op string, code byte) error {
	if err := p.command(ctx, op, code); err != nil {
		return err
	}
	return p.expectAck(ctx, op, "end", p.config.EraseTimeout)
}

// Special runs a special command and returns its data and status.
func (p *Programmer) Special(ctx context.Context, opcode uint16, data []byte) (*protocol.SpecialResponse, error) {
	return p.special(ctx, "special", protocol.CmdSpecial, opcode, data, nil)
}

// ExtendedSpecial runs an extended special command and returns its status.
func (p *Programmer) ExtendedSpecial(ctx context.Context, opcode uint16, data, extra []byte) (*protocol.SpecialResponse, error) {
	return p.special(ctx, "extended special", protocol.CmdExtendedSpecial, opcode, data, extra)
}

func (p *Programmer) special(ctx context.Context, op string, code byte, opcode uint16, data, extra []byte) (*protocol.SpecialResponse, error) {
	frame, err := protocol.BuildSizedDataFrame(data, protocol.SpecialCmdMaxDataSize)
	if err != nil {
		return nil, err
	}
	payload := append(protocol.BuildSpecialOpcodeFrame(opcode), frame...)
	extended := code == protocol.CmdExtendedSpecial
	if extended {
		second, err := protocol.BuildSizedDataFrame(extra, protocol.ExtendedSpecialCmdMaxDataSize)
		if err != nil {
			return nil, err
		}
		payload = append(payload, second...)
	}

	if err := p.command(ctx, op, code); err != nil {
		return nil, err
	}
	if err := p.write(payload); err != nil {
		return nil, err
	}

	resp := &protocol.SpecialResponse{}
	if !extended {
		if resp.Data, err = p.readSized(ctx, op); err != nil {
			return nil, err
		}
	}
	if resp.Status, err = p.readSized(ctx, op); err != nil {
		return nil, err
	}
	if err := p.expectAck(ctx, op, "end", p.config.ReadTimeout); err != nil {
		return nil, err
	}
	return resp, nil
}

// readSized reads a [SIZE(2)][DATA] block. A rejected command answers with
// a NACK in place of the size.
func (p *Programmer) readSized(ctx context.Context, op string) ([]byte, error) {
	first, err := p.readByte(ctx, p.config.ReadTimeout)
	if err != nil {
		return nil, err
	}
	if first == protocol.NackByte {
		return nil, &protocol.ProtocolError{Operation: op, Phase: "data", Response: first}
	}
	second, err := p.readByte(ctx, p.config.ReadTimeout)
	if err != nil {
		return nil, err
	}
	out := make([]byte, binary.BigEndian.Uint16([]byte{first, second}))
	if err := p.readFull(ctx, out, p.config.ReadTimeout); err != nil {
		return nil, err
	}
	return out, nil
}

// command sends an opcode frame and waits for its ACK.
func (p *Programmer) command(ctx context.Context, op string, code byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.send(ctx, op, "command", protocol.BuildCommandFrame(code), p.config.ReadTimeout)
}

// send writes frame and waits up to timeout for its ACK.
func (p *Programmer) send(ctx context.Context, op, phase string, frame []byte, timeout time.Duration) error {
	if err := p.write(frame); err != nil {
		return err
	}
	return p.expectAck(ctx, op, phase, timeout)
}

func (p *Programmer) expectAck(ctx context.Context, op, phase string, timeout time.Duration) error {
	b, err := p.readByte(ctx, timeout)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, phase, err)
	}
	if b != protocol.AckByte {
		return &protocol.ProtocolError{Operation: op, Phase: phase, Response: b}
	}
	return nil
}

// retry runs fn up to Retries more times while it times out.
func (p *Programmer) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= p.config.Retries; attempt++ {
		if err = fn(); err == nil || !errors.Is(err, ErrTimeout) || ctx.Err() != nil {
			return err
		}
		p.logDebug("retrying", "operation", op, "attempt", attempt+1, "error", err)
	}
	return err
}

func (p *Programmer) write(b []byte) error {
	if _, err := p.device.Write(b); err != nil {
		return fmt.Errorf("write command: %w", err)
	}
	return nil
}

func (p *Programmer) readByte(ctx context.Context, timeout time.Duration) (byte, error) {
	var b [1]byte
	err := p.readFull(ctx, b[:], timeout)
	return b[0], err
}

// readFull fills buf within timeout.
func (p *Programmer) readFull(ctx context.Context, buf []byte, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	if d, ok := p.device.(deadliner); ok {
		if err := d.SetReadDeadline(deadline); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
	}

	for n := 0; n < len(buf); {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := p.device.Read(buf[n:])
		n += m
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return ErrTimeout
		case err != nil:
			return fmt.Errorf("read response: %w", err)
		case m == 0 && time.Now().After(deadline):
			return ErrTimeout
		}
	}
	return nil
}

// reportProgress calls the progress callback if configured.
func (p *Programmer) reportProgress(progress Progress) {
	if p.config.ProgressCallback != nil {
		p.config.ProgressCallback(progress)
	}
}

// logDebug logs a debug message if a logger is configured.
func (p *Programmer) logDebug(msg string, keysAndValues ...interface{}) {
	if p.config.Logger != nil {
		p.config.Logger.Debug(msg, keysAndValues...)
	}
}

// logInfo logs an info message if a logger is configured.
func (p *Programmer) logInfo(msg string, keysAndValues ...interface{}) {
	if p.config.Logger != nil {
		p.config.Logger.Info(msg, keysAndValues...)
	}
}

// logError logs an error message if a logger is configured.
func (p *Programmer) logError(msg string, keysAndValues ...interface{}) {
	if p.config.Logger != nil {
		p.config.Logger.Error(msg, keysAndValues...)
	}
}
