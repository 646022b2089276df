// Package logging wraps log/slog with the router's configuration and a
// process-wide default logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"dns-router/pkg/config"
)

// Logger wraps slog.Logger with router specific helpers
type Logger struct {
	*slog.Logger
	cfg    *config.LoggingConfig
	closer io.Closer // log file, nil for stdout/stderr
}

// New creates a new logger from configuration
func New(cfg *config.LoggingConfig) (*Logger, error) {
	switch cfg.Output {
	case "stderr":
		return NewWriter(os.Stderr, cfg), nil
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		l := NewWriter(f, cfg)
		l.closer = f
		return l, nil
	default:
		return NewWriter(os.Stdout, cfg), nil
	}
}

// Close releases the log file opened by New. Loggers derived with
// WithField or Component do not own it.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

// NewWriter creates a logger writing to output, ignoring cfg.Output.
func NewWriter(output io.Writer, cfg *config.LoggingConfig) *Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		cfg:    cfg,
	}
}

// NewDefault creates a logger with sensible defaults (info level, text format, stdout)
func NewDefault() *Logger {
	return NewWriter(os.Stdout, &config.LoggingConfig{
		Level:  "info",
		Format: "text",
		Output: "stdout",
	})
}

// NewDiscard returns a logger that drops everything. Handy in tests.
func NewDiscard() *Logger {
	return NewWriter(io.Discard, &config.LoggingConfig{
		Level:  "error",
		Format: "text",
		Output: "discard",
	})
}

// WithFields creates a new logger with additional fields
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{
		Logger: l.Logger.With(args...),
		cfg:    l.cfg,
	}
}

// WithField creates a new logger with an additional field
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{
		Logger: l.Logger.With(key, value),
		cfg:    l.cfg,
	}
}

// Component tags every record with the emitting component.
func (l *Logger) Component(name string) *Logger {
	return l.WithField("component", name)
}

// parseLevel converts string level to slog.Level
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var global *Logger

func init() {
	global = NewDefault()
}

// SetGlobal sets the global logger
func SetGlobal(logger *Logger) {
	global = logger
	slog.SetDefault(logger.Logger)
}

// Global returns the global logger
func Global() *Logger {
	return global
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	global.Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	global.Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	global.Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	global.Error(msg, args...)
}
