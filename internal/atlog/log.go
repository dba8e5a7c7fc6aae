// Package atlog sets up the engine's structured logger. Grounded on
// malbeclabs-doublezero's use of lmittmann/tint as a tinted slog.Handler
// for readable terminal output, adopted here since the teacher repo
// (amken3d-gopper) runs on bare-metal TinyGo and has no logging library to
// carry forward for the host side of this engine.
package atlog

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// New returns a slog.Logger writing tinted, human-readable lines to w
// (os.Stderr in production, a bytes.Buffer in tests that assert on log
// output).
func New(w io.Writer, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	h := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	})
	return slog.New(h)
}

// Default returns the package-wide logger used when callers don't wire
// their own, at info level to stderr.
func Default() *slog.Logger {
	return New(os.Stderr, slog.LevelInfo)
}
