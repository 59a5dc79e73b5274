// Package logging builds the process-wide zerolog logger used by every
// other package, in the style of ws/internal/shared/monitoring/logger.go.
package logging

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New builds a base logger configured by level/format and tagged with the
// instance id so every log line is attributable to one hub process.
func New(level, format, instanceID string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	var writer = os.Stdout
	var logger zerolog.Logger
	if format == "pretty" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}).
			Level(lvl).
			With().
			Timestamp().
			Str("instance", instanceID).
			Logger()
	} else {
		logger = zerolog.New(writer).
			Level(lvl).
			With().
			Timestamp().
			Str("instance", instanceID).
			Logger()
	}

	return logger
}

// Component returns a child logger scoped to a named subsystem, matching
// the `.With().Str("component", ...)` convention used throughout the
// teacher's ws/ variant.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
