// Package packlog provides the structured logger used by the CLI (the pack
// builder core does not log), replacing the teacher project's bare fmt.Printf
// progress lines (see internal/objects/packfile.go, internal/maintenance/gc.go)
// with leveled, structured output in the style the richer repos in the
// example corpus use (alexander-storage and flow-dps both build their
// logger on rs/zerolog).
package packlog

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// New returns a console-friendly zerolog.Logger writing to w (os.Stderr by
// default when w is nil).
func New(w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}).
		With().
		Timestamp().
		Logger()
}

// Nop returns a logger that discards everything, for a caller that doesn't
// care about pack builder diagnostics.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
