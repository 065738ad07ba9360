// Package slog adapts a log/slog logger to cache.Logger.
package slog

import (
	stdslog "log/slog"

	"github.com/fengzhizi715/multi-level-cache/cache"
)

var _ cache.Logger = Logger{}

type Logger struct{ L *stdslog.Logger }

// New wraps l, or slog.Default() when l is nil.
func New(l *stdslog.Logger) Logger {
	if l == nil {
		l = stdslog.Default()
	}
	return Logger{L: l}
}

func (s Logger) Debug(msg string, args ...any) { s.L.Debug(msg, args...) }
func (s Logger) Info(msg string, args ...any)  { s.L.Info(msg, args...) }
func (s Logger) Warn(msg string, args ...any)  { s.L.Warn(msg, args...) }
func (s Logger) Error(msg string, args ...any) { s.L.Error(msg, args...) }
