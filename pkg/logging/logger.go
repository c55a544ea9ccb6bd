// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Component names used across the engine.
const (
	ComponentEngine       = "engine"
	ComponentCache        = "cache"
	ComponentFetch        = "fetch"
	ComponentRetryQueue   = "retryqueue"
	ComponentLifecycle    = "lifecycle"
	ComponentPrecache     = "precache"
	ComponentConnectivity = "connectivity"
	ComponentServer       = "server"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration. Pretty output is
// enabled when stderr is attached to a terminal.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: IsTerminal(os.Stderr),
		Output: os.Stderr,
	}
}

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(ParseLevel(string(cfg.Level)))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel converts a level name to zerolog.Level. Unknown names map to info.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Nop returns a disabled logger, handy for tests.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}

// Log Level Guidelines:
//
// Debug: strategy decisions, cache hit/miss/stale, dedup joins, persistence writes
// Info: startup, partition cutover, precache summary, drains that delivered items
// Warn: retry attempts, soft persistence failures, dropped queue items, offline fallbacks
// Error: configuration errors, backend unavailability
//
// Context Fields:
//   - method, url: request identity
//   - partition, strategy: policy resolution
//   - attempt, delay, error_class, status: origin fetch
//   - item_id, attempts: retry queue
//   - version: build version during cutover
