// Package logging does one thing: build the root zerolog.Logger cmd/kiosk
// passes down to every component. There is no global logger anywhere in
// this module — every driver, the coordinator, the command router, and the
// notifier each receive their own *sub*-logger (via `.With().Str(...)`)
// from whoever constructs them, per spec.md §9's no-globals note. The
// repository takes no logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's levels so cmd/kiosk doesn't need to import
// zerolog itself just to pick one.
type Level = zerolog.Level

const (
	LevelDebug = zerolog.DebugLevel
	LevelInfo  = zerolog.InfoLevel
	LevelWarn  = zerolog.WarnLevel
	LevelError = zerolog.ErrorLevel
)

// New builds the root logger on stderr: human-readable console output when
// pretty is set (the common case during development), structured JSON
// lines otherwise (the common case under a process supervisor).
func New(level Level, pretty bool) zerolog.Logger {
	var w io.Writer = os.Stderr
	if pretty {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(level).With().Timestamp().Str("service", "cash-system").Logger()
}
