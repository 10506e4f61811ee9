// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Config controls logger output and verbosity.
type Config struct {
	Level     string // "debug", "info", "warn", "error"
	Format    string // "text" or "json"
	Output    io.Writer
	Component string
}

// DefaultConfig returns the standard logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: "text",
		Output: os.Stderr,
	}
}

// Logger is a structured key/value logger.
type Logger struct {
	sl        *slog.Logger
	component string
}

var (
	defaultOnce sync.Once
	defaultLog  *Logger
)

// Default returns the process-wide default logger.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLog = New(DefaultConfig())
	})
	return defaultLog
}

// New creates a logger from the given configuration.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}

	l := &Logger{sl: slog.New(handler)}
	if cfg.Component != "" {
		return l.WithComponent(cfg.Component)
	}
	return l
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// WithComponent returns a logger that tags every record with the component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		sl:        l.sl.With("component", name),
		component: name,
	}
}

// With returns a logger with additional key/value context attached.
func (l *Logger) With(kv ...any) *Logger {
	return &Logger{sl: l.sl.With(kv...), component: l.component}
}

func (l *Logger) Debug(msg string, kv ...any) { l.sl.Debug(msg, kv...) }
func (l *Logger) Info(msg string, kv ...any)  { l.sl.Info(msg, kv...) }
func (l *Logger) Warn(msg string, kv ...any)  { l.sl.Warn(msg, kv...) }
func (l *Logger) Error(msg string, kv ...any) { l.sl.Error(msg, kv...) }
