package logger

import (
	"log/slog"
	"os"
)

// New returns the process logger: JSON to stdout so log pipelines can index
// fields. Handlers and services receive it by injection; there is no global.
func New() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}
