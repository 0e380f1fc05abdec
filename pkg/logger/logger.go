// Package logger provides structured logging using slog with hostname tracking
// and short source file paths, shared by the webhook, store, and feed packages.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// Fields represents structured log fields.
type Fields map[string]any

var (
	// defaultLogger is the global logger instance.
	defaultLogger *slog.Logger
	// level is shared by every logger built with New so SetLevel applies globally.
	level = new(slog.LevelVar)
	// hostname is cached on init.
	hostname string
)

func init() {
	var err error
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	level.Set(slog.LevelInfo)
	defaultLogger = New(os.Stderr)
}

// New creates a new slog logger with hostname and short source paths.
func New(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: true,
		Level:     level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			// Shorten source file paths to just basename:line
			if a.Key == slog.SourceKey {
				if source, ok := a.Value.Any().(*slog.Source); ok {
					source.File = filepath.Base(source.File)
					source.Function = ""
				}
			}
			return a
		},
	}

	return slog.New(slog.NewTextHandler(w, opts)).With("instance", hostname)
}

// SetDefault sets the default logger.
func SetDefault(l *slog.Logger) {
	defaultLogger = l
}

// Default returns the default logger.
func Default() *slog.Logger {
	return defaultLogger
}

// SetDebug switches every logger created by New between debug and info level.
func SetDebug(enabled bool) {
	if enabled {
		level.Set(slog.LevelDebug)
		return
	}
	level.Set(slog.LevelInfo)
}

// Hostname returns the cached hostname.
func Hostname() string {
	return hostname
}

// Info logs an info message with optional fields.
func Info(msg string, fields Fields) {
	defaultLogger.LogAttrs(context.Background(), slog.LevelInfo, msg, attrsFromFields(fields)...)
}

// Warn logs a warning message with optional fields.
func Warn(msg string, fields Fields) {
	defaultLogger.LogAttrs(context.Background(), slog.LevelWarn, msg, attrsFromFields(fields)...)
}

// Error logs an error message with optional fields. A nil err is allowed.
func Error(msg string, err error, fields Fields) {
	attrs := attrsFromFields(fields)
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	defaultLogger.LogAttrs(context.Background(), slog.LevelError, msg, attrs...)
}

// Debug logs a debug message with optional fields.
func Debug(msg string, fields Fields) {
	defaultLogger.LogAttrs(context.Background(), slog.LevelDebug, msg, attrsFromFields(fields)...)
}

// attrsFromFields converts Fields to a slog.Attr slice in key order,
// so the same fields always print the same way.
func attrsFromFields(fields Fields) []slog.Attr {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(fields)+1)
	for _, k := range keys {
		attrs = append(attrs, slog.Any(k, fields[k]))
	}
	return attrs
}
