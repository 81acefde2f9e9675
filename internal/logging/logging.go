// Package logging builds the [log/slog] loggers used by the server and yomuctl.
//
// The server logs JSON so log shippers can index request ids and components.
// yomuctl defaults to text on stderr, keeping stdout free for command output.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects the handler. The zero value logs JSON at info level to
// stderr.
type Options struct {
	Level  string
	Format string
	Writer io.Writer
}

// New builds a logger from opts. An unknown Format falls back to JSON and an
// unknown Level to info.
func New(opts Options) *slog.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var h slog.Handler
	if strings.EqualFold(strings.TrimSpace(opts.Format), "text") {
		h = slog.NewTextHandler(w, handlerOpts)
	} else {
		h = slog.NewJSONHandler(w, handlerOpts)
	}
	return slog.New(h)
}

// Discard returns a logger that drops every record.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// Component tags logger with the subsystem writing to it. A nil logger is
// replaced with [Discard].
func Component(logger *slog.Logger, name string) *slog.Logger {
	if logger == nil {
		logger = Discard()
	}
	return logger.With(slog.String("component", name))
}

// ParseLevel maps debug, info, warn (or warning) and error to a [slog.Level],
// ignoring case and surrounding space. Anything else is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
