package zap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerLevelsAndFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := New(zap.New(core))

	l.Debug("local miss", "key", "user:1")
	l.Info("coordinator ready", "pod", "pod-a")
	l.Warn("local write rejected", "key", "big", "size", 42)
	l.Error("remote failure", "op", "get")

	entries := logs.AllUntimed()
	require.Len(t, entries, 4)

	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "local miss", entries[0].Message)
	assert.Equal(t, "user:1", entries[0].ContextMap()["key"])

	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, int64(42), entries[2].ContextMap()["size"])

	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "get", entries[3].ContextMap()["op"])
}
