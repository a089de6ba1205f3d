// Package logging constructs the component loggers used across the engine.
// Log format: structured JSON to stdout, one logger per component.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a structured JSON logger tagged with the component name.
func New(component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("component", component).
		Logger()
}

// ParseLevel maps a config string to a zerolog level. Empty means info.
func ParseLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "info", "":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
