package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"vote-spin/src/models"
)

// -----------------------------------------------------------------------------

// Logger provides leveled, printf-style logging on top of slog.
type Logger struct {
	name   string
	base   *slog.Logger
	logger *slog.Logger
	level  slog.Level
}

// -----------------------------------------------------------------------------

// NewLogger creates a Logger writing to stdout at the configured log level.
// A nil config logs at INFO.
func NewLogger(cfg *models.MConfig, name string) *Logger {
	level := "INFO"
	if cfg != nil && cfg.LogLevel != "" {
		level = cfg.LogLevel
	}
	return NewLoggerWithWriter(os.Stdout, level, name)
}

// -----------------------------------------------------------------------------

// NewLoggerWithWriter creates a Logger writing to w.
func NewLoggerWithWriter(w io.Writer, level string, name string) *Logger {
	lvl := ParseLevel(level)
	base := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
	return &Logger{
		name:   name,
		base:   base,
		logger: base.With("component", name),
		level:  lvl,
	}
}

// -----------------------------------------------------------------------------

// ParseLevel maps the config names (DEBUG, INFO, WARNING, ERROR) onto slog levels.
func ParseLevel(level string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARNING", "WARN":
		return slog.LevelWarn
	case "ERROR", "CRITICAL":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// -----------------------------------------------------------------------------

// Named returns a child logger sharing the same handler.
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		name:   name,
		base:   l.base,
		logger: l.base.With("component", name),
		level:  l.level,
	}
}

// -----------------------------------------------------------------------------

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level slog.Level) bool {
	return l.logger.Enabled(context.Background(), level)
}

// -----------------------------------------------------------------------------

func (l *Logger) Debug(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

func (l *Logger) Info(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

func (l *Logger) Warning(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

func (l *Logger) Error(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...), "severity", "CRITICAL")
	os.Exit(1)
}
