// Package logging centralizes zerolog setup: a console writer for
// humans, one named "component" sub-logger per subsystem.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. debug raises the level; json
// switches from the human console writer to structured JSON lines
// (used when the engine runs as a supervised daemon rather than an
// interactive CLI).
func Init(debug bool, json bool) {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	if json {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	output := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: time.DateTime,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// Component returns a sub-logger tagged with its subsystem name, e.g.
// logging.Component("store") or logging.Component("chunk").
func Component(name string) zerolog.Logger {
	return log.With().Str("component", name).Logger()
}

// SetOutput redirects the global logger, used by tests that want to
// assert on log output instead of writing to stderr.
func SetOutput(w io.Writer) {
	output := zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}
