package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds the process logger from config values. format is "json" or
// "text"; anything else means json. An invalid level means info. Every
// record carries the service name.
func New(service, level, format string) *slog.Logger {
	return NewWithWriter(os.Stdout, level, format).With(slog.String("service", service))
}

// NewWithWriter is New without the service attribute and with an explicit
// destination.
func NewWithWriter(w io.Writer, level, format string) *slog.Logger {
	lvl := new(slog.LevelVar)
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl.Set(slog.LevelInfo)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	if strings.EqualFold(format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// Discard returns a logger that drops all output.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}
