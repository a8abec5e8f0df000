// Package logging configures structured logging with zerolog.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
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

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer

	// Version is attached to every entry when set.
	Version string
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	ctx := zerolog.New(output).With().Timestamp().Str("service", "whatsnews-mirror")
	if cfg.Version != "" {
		ctx = ctx.Str("version", cfg.Version)
	}
	logger := ctx.Logger()

	log.Logger = logger
	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
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

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Count probes and page fetches
//   - Per-page completion
//   - Checkpoint hits
//
// Info: Normal operation events
//   - Run start and finish with counters
//   - Partition planned and complete
//   - Migrations applied, database connected
//   - Writes that succeeded after retry
//
// Warn: Warning conditions that don't prevent operation
//   - Write contention (retry scheduled)
//   - Checkpoint or run state failures
//   - Database connection attempts that failed
//   - Scheduled runs that were skipped
//
// Error: Error conditions requiring attention
//   - Failed runs
//   - Upstream request failures
//
// Context Fields:
//   - run_id: Id of the current run
//   - partition: directory/tag of a partition
//   - page: Page index
//   - source_id: Upstream item id
//   - attempt: Retry attempt number
//   - backoff: Delay before the next attempt
//   - error_class: transient_contention or fatal
