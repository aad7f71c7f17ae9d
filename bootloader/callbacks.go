package bootloader

import (
	"context"
	"log/slog"
	"time"
)

// Programming phases reported in Progress.
const (
	PhaseConnecting  = "connecting"
	PhaseErasing     = "erasing"
	PhaseProgramming = "programming"
	PhaseVerifying   = "verifying"
	PhaseStarting    = "starting"
	PhaseComplete    = "complete"
)

// Progress contains information about the programming progress.
// Passed to ProgressCallback during programming operations.
type Progress struct {
	// Phase is one of the Phase* constants
	Phase string

	// CurrentBlock is the number of blocks processed in this phase
	CurrentBlock int

	// TotalBlocks is the number of blocks in this phase
	TotalBlocks int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// BytesWritten is the total number of bytes written so far
	BytesWritten int

	// ElapsedTime is the time elapsed since programming started
	ElapsedTime time.Duration
}

// ProgressCallback is called periodically during programming to report progress.
// Implementations should return quickly to avoid blocking the programming operation.
//
// Example:
//
//	prog := bootloader.New(port,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - Block %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentBlock, p.TotalBlocks)
//	    }),
//	)
type ProgressCallback func(Progress)

// Logger is an optional logging interface that can be provided to the programmer.
// This allows integration with any logging framework.
type Logger interface {
	// Debug logs a debug message with optional key-value pairs
	Debug(msg string, keysAndValues ...interface{})

	// Info logs an info message with optional key-value pairs
	Info(msg string, keysAndValues ...interface{})

	// Error logs an error message with optional key-value pairs
	Error(msg string, keysAndValues ...interface{})
}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	l *slog.Logger
}

// NewSlogLogger returns a Logger writing to l, or to slog.Default when l is
// nil.
func NewSlogLogger(l *slog.Logger) *SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SlogLogger{l: l}
}

func (s *SlogLogger) Debug(msg string, kv ...interface{}) {
	s.l.Log(context.Background(), slog.LevelDebug, msg, kv...)
}

func (s *SlogLogger) Info(msg string, kv ...interface{}) {
	s.l.Log(context.Background(), slog.LevelInfo, msg, kv...)
}

func (s *SlogLogger) Error(msg string, kv ...interface{}) {
	s.l.Log(context.Background(), slog.LevelError, msg, kv...)
}

var _ Logger = (*SlogLogger)(nil)
