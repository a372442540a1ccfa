package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. Components receive it by
// reference through their constructors; nothing in the engine logs through a
// package-level default.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, nil))
}

// Discard returns a logger that drops everything, for tests that do not
// assert on log output.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
