// Package zap adapts a zap logger to cache.Logger.
package zap

import (
	"go.uber.org/zap"

	"github.com/fengzhizi715/multi-level-cache/cache"
)

var _ cache.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.SugaredLogger }

// New wraps l.
func New(l *zap.Logger) ZapLogger { return ZapLogger{L: l.Sugar()} }

func (z ZapLogger) Debug(msg string, args ...any) { z.L.Debugw(msg, args...) }
func (z ZapLogger) Info(msg string, args ...any)  { z.L.Infow(msg, args...) }
func (z ZapLogger) Warn(msg string, args ...any)  { z.L.Warnw(msg, args...) }
func (z ZapLogger) Error(msg string, args ...any) { z.L.Errorw(msg, args...) }
