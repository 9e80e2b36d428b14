// Package logging configures the process-wide zerolog logger.
//
// Grounded on gsoultan-Hermod's pkg/engine/logger.go: stderr output,
// timestamped, structured key/value pairs. This server does not need the
// teacher's log-sampling knob (Hermod samples noisy per-message warnings
// across many CDC sources; this server logs one line per closed connection
// or discarded batch, which is already low-volume), so it is dropped.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New returns a logger writing structured, leveled lines to stderr, per
// spec.md §6's process contract ("Stderr receives human-oriented logs").
func New(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}
