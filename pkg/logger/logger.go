package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pion/logging"
)

var (
	// Default is the default logger instance
	Default *slog.Logger
)

func init() {
	Default = New("info", os.Stdout)
}

// ParseLevel maps a textual level to a slog level. Unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// New creates a new structured JSON logger with the specified level and output
func New(level string, output io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// NewText creates a new text-formatted logger (useful for interactive runs)
func NewText(level string, output io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(output, &slog.HandlerOptions{Level: ParseLevel(level)}))
}

// NewWithFormat picks the handler by name: "text" or anything else for JSON.
func NewWithFormat(format, level string, output io.Writer) *slog.Logger {
	if strings.EqualFold(format, "text") {
		return NewText(level, output)
	}
	return New(level, output)
}

// SetDefault sets the default logger
func SetDefault(logger *slog.Logger) {
	Default = logger
	slog.SetDefault(logger)
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	Default.Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	Default.Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	Default.Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	Default.Error(msg, args...)
}

// With returns a logger with additional attributes
func With(args ...any) *slog.Logger {
	return Default.With(args...)
}

// ForRun returns a logger carrying the attributes every run log line needs.
func ForRun(runID, mode string, iteration int) *slog.Logger {
	return Default.With("run_id", runID, "mode", mode, "iteration", iteration)
}

// PionFactory returns a pion logging factory whose level follows the harness level.
// Pion components write to output through their own formatter.
func PionFactory(level string, output io.Writer) logging.LoggerFactory {
	f := logging.NewDefaultLoggerFactory()
	f.Writer = output
	switch ParseLevel(level) {
	case slog.LevelDebug:
		f.DefaultLogLevel = logging.LogLevelDebug
	case slog.LevelWarn:
		f.DefaultLogLevel = logging.LogLevelWarn
	case slog.LevelError:
		f.DefaultLogLevel = logging.LogLevelError
	default:
		f.DefaultLogLevel = logging.LogLevelInfo
	}
	return f
}
