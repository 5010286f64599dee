// Package log provides structured logging shared across the xhci driver.
//
// It wraps the standard library's [log/slog] package the same way a
// hosted USB stack would, except the sink is supplied by the embedding
// kernel (e.g. a serial console writer) instead of assumed to be
// os.Stderr, since a freestanding kernel has no such thing by default.
package log

import (
	"context"
	"io"
	"log/slog"
	"sync"
)

// Component identifies a driver subsystem for log filtering.
type Component string

// Driver component identifiers.
const (
	ComponentMMIO       Component = "mmio"
	ComponentRing       Component = "ring"
	ComponentController Component = "controller"
	ComponentPort       Component = "port"
	ComponentTransfer   Component = "transfer"
	ComponentEvent      Component = "event"
	ComponentUSB        Component = "usb"
)

var (
	// defaultLogger is the logger used when the driver is not given one
	// explicitly. It discards output until SetOutput or SetLogger is
	// called, since a freestanding kernel has no stderr to default to.
	defaultLogger *slog.Logger

	level = new(slog.LevelVar)
	mu    sync.RWMutex
)

func init() {
	level.Set(slog.LevelWarn)
	defaultLogger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: level}))
}

// SetLevel sets the minimum log level for all driver logging.
func SetLevel(l slog.Level) {
	mu.Lock()
	defer mu.Unlock()
	level.Set(l)
}

// Level returns the current minimum log level.
func Level() slog.Level {
	mu.RLock()
	defer mu.RUnlock()
	return level.Level()
}

// SetOutput points the default logger at w, e.g. a kernel serial console.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// SetLogger replaces the default logger with a caller-supplied logger.
func SetLogger(l *slog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// Debug logs a debug message tagged with component.
func Debug(component Component, msg string, args ...any) {
	logAt(slog.LevelDebug, component, msg, args...)
}

// Info logs an info message tagged with component.
func Info(component Component, msg string, args ...any) {
	logAt(slog.LevelInfo, component, msg, args...)
}

// Warn logs a warning message tagged with component.
func Warn(component Component, msg string, args ...any) {
	logAt(slog.LevelWarn, component, msg, args...)
}

// Error logs an error message tagged with component.
func Error(component Component, msg string, args ...any) {
	logAt(slog.LevelError, component, msg, args...)
}

func logAt(level slog.Level, component Component, msg string, args ...any) {
	mu.RLock()
	logger := defaultLogger
	mu.RUnlock()
	logger.Log(context.Background(), level, msg, append([]any{"component", string(component)}, args...)...)
}
