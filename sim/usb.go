package sim

import (
	"sync"

	"github.com/moffa90/go-openbl/transport/usb"
)

// USB is a simulated USB device running the DFU class.
type USB struct {
	Enabled bool
	Inits   int
	DeInits int

	mu       sync.Mutex
	attached bool
	reqs     []usb.Request
	closed   bool
	uploads  [][]byte
	statuses []usb.Status
}

// NewUSB returns a detached device.
func NewUSB() *USB {
	return &USB{}
}

// HostAttach enumerates the device.
func (d *USB) HostAttach() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attached = true
}

// HostDownload queues a DFU_DNLOAD of data to block.
func (d *USB) HostDownload(block uint16, data ...byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqs = append(d.reqs, usb.Request{Kind: usb.Download, Block: block, Data: append([]byte(nil), data...)})
}

// HostUpload queues a DFU_UPLOAD of n bytes from block.
func (d *USB) HostUpload(block uint16, n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reqs = append(d.reqs, usb.Request{Kind: usb.Upload, Block: block, Length: n})
}

// HostLeave queues the zero-length download that leaves DFU mode.
func (d *USB) HostLeave() {
	d.HostDownload(0)
}

// HostClose ends the host session.
func (d *USB) HostClose() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

// Uploads returns the data returned by every upload.
func (d *USB) Uploads() [][]byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]byte(nil), d.uploads...)
}

// Statuses returns the status reported after every request.
func (d *USB) Statuses() []usb.Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]usb.Status(nil), d.statuses...)
}

// Drained reports that the host closed and every request was served.
func (d *USB) Drained() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed && len(d.reqs) == 0
}

// Init starts the device stack.
func (d *USB) Init() {
	d.Enabled = true
	d.Inits++
}

// DeInit stops the device stack.
func (d *USB) DeInit() {
	d.Enabled = false
	d.DeInits++
}

// Attached reports enumeration.
func (d *USB) Attached() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Enabled && d.attached
}

// Poll pops the next request.
func (d *USB) Poll() (usb.Request, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.Enabled || len(d.reqs) == 0 {
		return usb.Request{}, false
	}
	r := d.reqs[0]
	d.reqs = d.reqs[1:]
	return r, true
}

// Respond records upload data.
func (d *USB) Respond(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.uploads = append(d.uploads, append([]byte(nil), data...))
}

// SetStatus records a status.
func (d *USB) SetStatus(s usb.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append(d.statuses, s)
}
