package logger

import (
	"log/slog"
	"os"
)

// Setup initializes the process-wide logger. Logs go to stderr so the
// per-session audit blocks own stdout.
func Setup(level slog.Level) *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
