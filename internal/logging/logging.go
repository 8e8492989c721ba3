// Package logging is the process-wide logger. Everything goes to stderr:
// stdout belongs to the MCP stdio transport.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

var (
	level  = new(slog.LevelVar)
	logger = newLogger(os.Stderr)
)

func newLogger(w io.Writer) *slog.Logger {
	noColor := true
	if f, ok := w.(*os.File); ok {
		noColor = !isatty.IsTerminal(f.Fd()) && !isatty.IsCygwinTerminal(f.Fd())
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	}))
}

// Init installs the logger as the slog default.
func Init() {
	slog.SetDefault(logger)
}

// SetOutput redirects all logging to w. Used by tests.
func SetOutput(w io.Writer) {
	logger = newLogger(w)
	slog.SetDefault(logger)
}

// ParseLevel accepts debug, info, warn/warning and error (case-insensitive).
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// SetLevel changes the minimum level at runtime.
func SetLevel(s string) error {
	lvl, err := ParseLevel(s)
	if err != nil {
		return err
	}
	level.Set(lvl)
	return nil
}

// Level returns the current minimum level.
func Level() slog.Level {
	return level.Level()
}

// Disable turns off everything below error+4, i.e. all logging.
func Disable() {
	level.Set(slog.LevelError + 4)
}

// For returns a logger tagged with a component name.
func For(component string) *slog.Logger {
	return logger.With("component", component)
}

// Info logs an info message
func Info(msg string, args ...any) {
	logger.Info(msg, args...)
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	logger.Info(fmt.Sprintf(format, v...))
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	logger.Warn(msg, args...)
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	logger.Warn(fmt.Sprintf(format, v...))
}

// Error logs an error message
func Error(msg string, args ...any) {
	logger.Error(msg, args...)
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	logger.Error(fmt.Sprintf(format, v...))
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	logger.Debug(msg, args...)
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) {
	logger.Debug(fmt.Sprintf(format, v...))
}
