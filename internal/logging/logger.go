// Package logging wraps charmbracelet/log into the gateway's global logger,
// always writing to stderr so it never interferes with stdout-piped tooling.
package logging

import (
	"os"

	"github.com/charmbracelet/log"
)

var global *log.Logger

// Initialize sets up the global logger at the given level ("debug", "info",
// "warn", "error") and format ("text" or "json").
func Initialize(level, format string) {
	opts := log.Options{
		ReportTimestamp: true,
	}
	if format == "json" {
		opts.Formatter = log.JSONFormatter
	}
	l := log.NewWithOptions(os.Stderr, opts)
	if lvl, err := log.ParseLevel(level); err == nil {
		l.SetLevel(lvl)
	}
	global = l
}

// Get returns the global logger, initializing a default info-level text
// logger if Initialize has not been called yet.
func Get() *log.Logger {
	if global == nil {
		Initialize("info", "text")
	}
	return global
}

// With returns a child logger carrying the given structured fields, e.g.
// logging.With("task_id", taskID, "state", state).
func With(keyvals ...any) *log.Logger {
	return Get().With(keyvals...)
}

func Info(msg string, keyvals ...any)  { Get().Info(msg, keyvals...) }
func Debug(msg string, keyvals ...any) { Get().Debug(msg, keyvals...) }
func Warn(msg string, keyvals ...any)  { Get().Warn(msg, keyvals...) }
func Error(msg string, keyvals ...any) { Get().Error(msg, keyvals...) }
