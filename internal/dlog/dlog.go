// Package dlog provides structured logging for the dupedog pipeline.
// It wraps log/slog with a package-level default logger configurable by
// level and output format, so every phase logs consistently without
// threading a *slog.Logger through every constructor.
package dlog

import (
	"io"
	"log/slog"
	"os"
)

var (
	defaultLogger *slog.Logger
	logLevel      slog.Level = slog.LevelInfo
)

// Init configures the default logger. level is one of
// debug/info/warn/error (unrecognized values fall back to info).
// format "json" selects slog.JSONHandler; anything else selects
// slog.TextHandler. A nil output defaults to os.Stderr.
func Init(level, format string, output io.Writer) {
	if output == nil {
		output = os.Stderr
	}

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	defaultLogger = slog.New(handler)
}

// Logger returns the default logger, initializing it with safe defaults
// (info level, text format, stderr) if Init has not been called yet.
func Logger() *slog.Logger {
	if defaultLogger == nil {
		Init("info", "text", nil)
	}
	return defaultLogger
}

// Debug logs a debug-level message with optional key-value pairs.
func Debug(msg string, args ...any) { Logger().Debug(msg, args...) }

// Info logs an info-level message with optional key-value pairs.
func Info(msg string, args ...any) { Logger().Info(msg, args...) }

// Warn logs a warn-level message with optional key-value pairs.
func Warn(msg string, args ...any) { Logger().Warn(msg, args...) }

// Error logs an error-level message with optional key-value pairs.
func Error(msg string, args ...any) { Logger().Error(msg, args...) }

// With returns a logger carrying the given key-value pairs in its context,
// for phases that want every subsequent log line tagged (e.g. with a phase
// name or root path).
func With(args ...any) *slog.Logger { return Logger().With(args...) }
