package cache

import (
	"bytes"
	"strings"
	"testing"
)

func TestNoOpLogger(t *testing.T) {
	logger := NewNoOpLogger()
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}

	// These should not panic
	logger.Debug("test message", "key", "value")
	logger.Info("test message")
	logger.Warn("test message", nil)
	logger.Error("test message", "key")
}

func TestConsoleLoggerLevels(t *testing.T) {
	tests := []struct {
		level string
		log   func(Logger, string, ...any)
	}{
		{"[DEBUG]", Logger.Debug},
		{"[INFO]", Logger.Info},
		{"[WARN]", Logger.Warn},
		{"[ERROR]", Logger.Error},
	}
	for _, test := range tests {
		var buf bytes.Buffer
		logger := NewWriterLogger(&buf, "TestPrefix")

		test.log(logger, "test message", "key", "value", "n", 3)

		output := buf.String()
		for _, want := range []string{test.level, "TestPrefix", "test message", "key=value", "n=3"} {
			if !strings.Contains(output, want) {
				t.Errorf("Expected %q in output, got: %s", want, output)
			}
		}
		if !strings.HasSuffix(output, "\n") {
			t.Errorf("Expected a trailing newline, got: %q", output)
		}
	}
}

func TestConsoleLoggerOddArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "p")

	logger.Info("msg", "key", "value", "dangling")

	if !strings.Contains(buf.String(), "key=value dangling") {
		t.Errorf("Unexpected output: %s", buf.String())
	}
}

func TestConsoleLoggerWithoutArgs(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, "p")

	logger.Warn("plain")

	if got := buf.String(); got != "[WARN] p: plain\n" {
		t.Errorf("Unexpected output: %q", got)
	}
}
