package logrus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogrusLoggerLevelsAndFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Debug("local miss", "key", "user:1")
	l.Info("coordinator ready")
	l.Warn("local write rejected", "key", "big", "size", 42)
	l.Error("remote failure", "op")

	entries := hook.AllEntries()
	require.Len(t, entries, 4)

	assert.Equal(t, logrus.DebugLevel, entries[0].Level)
	assert.Equal(t, "user:1", entries[0].Data["key"])

	assert.Empty(t, entries[1].Data)

	assert.Equal(t, logrus.WarnLevel, entries[2].Level)
	assert.Equal(t, 42, entries[2].Data["size"])

	assert.Equal(t, logrus.ErrorLevel, entries[3].Level)
	assert.Equal(t, "op", entries[3].Data["!BADKEY"])
}

func TestFieldsNonStringKey(t *testing.T) {
	f := fields([]any{7, "seven"})
	assert.Equal(t, "seven", f["7"])
}
