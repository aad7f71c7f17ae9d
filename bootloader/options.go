package bootloader

import (
	"time"

	"github.com/moffa90/go-openbl/memory"
	"github.com/moffa90/go-openbl/protocol"
)

// Config holds the programmer configuration.
type Config struct {
	// ProgressCallback is called during programming to report progress (optional)
	ProgressCallback ProgressCallback

	// Logger is used for logging operations (optional)
	Logger Logger

	// ReadTimeout bounds the wait for every device answer
	ReadTimeout time.Duration

	// EraseTimeout bounds the wait for the answer to an erase or a
	// protection change
	EraseTimeout time.Duration

	// ChunkSize is the maximum data size per Write Memory / Read Memory command
	// Default is 256 bytes (the protocol maximum)
	ChunkSize int

	// Retries is the number of extra attempts for synchronisation and for
	// memory reads that time out
	Retries int

	// VerifyAfterProgram enables read-back verification of every segment
	VerifyAfterProgram bool

	// StartAfterProgram sends Go once the image is programmed
	StartAfterProgram bool

	// ProductID is the expected Get ID answer. Zero accepts any device.
	ProductID uint16

	// FlashBase, FlashSize and PageSize describe the flash layout. Program
	// rejects images outside it and erases the pages the image covers.
	FlashBase uint32
	FlashSize uint32
	PageSize  uint32
}

// defaultConfig returns the default configuration.
func defaultConfig() Config {
	return Config{
		ReadTimeout:        time.Second,
		EraseTimeout:       30 * time.Second,
		ChunkSize:          protocol.MaxDataSize,
		Retries:            3,
		VerifyAfterProgram: true,
		StartAfterProgram:  true,
		FlashBase:          memory.FlashStart,
		FlashSize:          memory.FlashSize,
		PageSize:           memory.PageSize,
	}
}

// Option is a functional option for configuring the Programmer.
type Option func(*Config)

// WithProgressCallback sets a callback function to track programming progress.
//
// Example:
//
//	prog := bootloader.New(port,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("%.1f%% complete\n", p.Percentage)
//	    }),
//	)
func WithProgressCallback(callback ProgressCallback) Option {
	return func(c *Config) {
		c.ProgressCallback = callback
	}
}

// WithLogger sets a logger for the programmer operations.
//
// Example:
//
//	prog := bootloader.New(port, bootloader.WithLogger(bootloader.NewSlogLogger(slog.Default())))
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithTimeout sets the read timeout.
//
// Example:
//
//	prog := bootloader.New(port, bootloader.WithTimeout(2*time.Second))
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.ReadTimeout = timeout
		}
	}
}

// WithEraseTimeout sets the timeout of erase and protection commands.
func WithEraseTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.EraseTimeout = timeout
		}
	}
}

// WithChunkSize sets the maximum data size per memory command.
// Values outside 1-256 are ignored.
//
// Example:
//
//	prog := bootloader.New(port, bootloader.WithChunkSize(128))
func WithChunkSize(size int) Option {
	return func(c *Config) {
		if size > 0 && size <= protocol.MaxDataSize {
			c.ChunkSize = size
		}
	}
}

// WithRetries sets the number of retry attempts.
//
// Example:
//
//	prog := bootloader.New(port, bootloader.WithRetries(5))
func WithRetries(retries int) Option {
	return func(c *Config) {
		if retries >= 0 {
			c.Retries = retries
		}
	}
}

// WithVerifyAfterProgram enables or disables read-back verification.
// Default is true.
func WithVerifyAfterProgram(verify bool) Option {
	return func(c *Config) {
		c.VerifyAfterProgram = verify
	}
}

// WithStartAfterProgram enables or disables starting the application once
// programming completes. Default is true.
func WithStartAfterProgram(start bool) Option {
	return func(c *Config) {
		c.StartAfterProgram = start
	}
}

// WithProductID makes Program refuse devices whose Get ID answer differs
// from pid.
func WithProductID(pid uint16) Option {
	return func(c *Config) {
		c.ProductID = pid
	}
}

// WithFlashLayout sets the flash base address, size and page size.
func WithFlashLayout(base, size, pageSize uint32) Option {
	return func(c *Config) {
		if size > 0 && pageSize > 0 {
			c.FlashBase, c.FlashSize, c.PageSize = base, size, pageSize
		}
	}
}
