package system

import (
	"io"
	"log/slog"
	"os"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Bootloader component identifiers.
const (
	ComponentSystem     Component = "system"
	ComponentDetector   Component = "detector"
	ComponentDispatcher Component = "dispatcher"
	ComponentMemory     Component = "memory"
	ComponentFlash      Component = "flash"
	ComponentUSART      Component = "usart"
	ComponentI2C        Component = "i2c"
	ComponentSPI        Component = "spi"
	ComponentFDCAN      Component = "fdcan"
	ComponentUSB        Component = "usb"
)

var (
	defaultLogger *slog.Logger
	logLevel      = new(slog.LevelVar)
	logMutex      sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// SetLogLevel sets the minimum level of the default logger.
func SetLogLevel(level slog.Level) {
	logLevel.Set(level)
}

// SetDefaultLogger replaces the logger used by systems created without WithLogger.
func SetDefaultLogger(l *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	defaultLogger = l
}

// DefaultLogger returns the package default logger.
func DefaultLogger() *slog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return defaultLogger
}

// NewLogger creates a text logger writing to w at the given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewJSONLogger creates a JSON logger writing to w at the given level.
func NewJSONLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
