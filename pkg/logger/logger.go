package logger

import (
	"io"
	"log/slog"
	"os"
)

// New returns JSON logger writing to w (stderr when nil). Level is taken
// from level, then PLUGKIT_LOG_LEVEL, default info.
func New(level string, w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(level)})
	return slog.New(h)
}

// ParseLevel returns the slog level for level or PLUGKIT_LOG_LEVEL.
func ParseLevel(level string) slog.Level {
	if level == "" {
		level = os.Getenv("PLUGKIT_LOG_LEVEL")
	}
	parsed := slog.LevelInfo
	if level != "" {
		var l slog.Level
		if err := l.UnmarshalText([]byte(level)); err == nil {
			parsed = l
		}
	}
	return parsed
}

// Discard returns logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
