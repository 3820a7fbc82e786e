package utils

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
)

func logLevel(level string) slog.Level {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}

	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger returns a tint backed logger writing to stderr.
func NewLogger(level string, colorize bool) *slog.Logger {
	return newLogger(os.Stderr, level, colorize)
}

func newLogger(w io.Writer, level string, colorize bool) *slog.Logger {
	if os.Getenv("LOG_COLORIZE") != "" {
		colorize = true
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      logLevel(level),
		TimeFormat: "15:04:05",
		NoColor:    !colorize,
	}))
}

// NopLogger drops every record.
func NopLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
