// Package logging builds the structured zerolog logger shared by every
// component of the client core.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level names accepted by Config.Level.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Format names accepted by Config.Format.
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
)

// Config controls the logger New builds.
type Config struct {
	Level   string
	Format  string
	Service string
}

// New builds a zerolog.Logger with a timestamp, caller, and service field,
// formatted either as JSON (the default, suitable for log aggregation) or
// as a human-readable console writer for local development.
func New(cfg Config) zerolog.Logger {
	var output io.Writer = os.Stdout

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	if cfg.Format == FormatPretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	service := cfg.Service
	if service == "" {
		service = "tradeapi-go"
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", service).
		Logger()
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
