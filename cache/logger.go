package cache

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// NoOpLogger is a logger that does nothing.
type NoOpLogger struct{}

// Debug logs a debug message (no-op).
func (n *NoOpLogger) Debug(msg string, args ...any) {}

// Info logs an info message (no-op).
func (n *NoOpLogger) Info(msg string, args ...any) {}

// Warn logs a warning message (no-op).
func (n *NoOpLogger) Warn(msg string, args ...any) {}

// Error logs an error message (no-op).
func (n *NoOpLogger) Error(msg string, args ...any) {}

// NewNoOpLogger creates a new no-op logger.
func NewNoOpLogger() Logger {
	return &NoOpLogger{}
}

// ConsoleLogger writes one line per message: level, prefix, message and the
// key/value pairs as key=value.
type ConsoleLogger struct {
	mu     sync.Mutex
	out    io.Writer
	prefix string
}

// Debug logs a debug message to console.
func (cl *ConsoleLogger) Debug(msg string, args ...any) { cl.write("DEBUG", msg, args) }

// Info logs an info message to console.
func (cl *ConsoleLogger) Info(msg string, args ...any) { cl.write("INFO", msg, args) }

// Warn logs a warning message to console.
func (cl *ConsoleLogger) Warn(msg string, args ...any) { cl.write("WARN", msg, args) }

// Error logs an error message to console.
func (cl *ConsoleLogger) Error(msg string, args ...any) { cl.write("ERROR", msg, args) }

func (cl *ConsoleLogger) write(level, msg string, args []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", level, cl.prefix, msg)
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		} else {
			fmt.Fprintf(&b, " %v", args[i])
		}
	}
	b.WriteByte('\n')

	cl.mu.Lock()
	defer cl.mu.Unlock()
	_, _ = io.WriteString(cl.out, b.String())
}

// NewConsoleLogger creates a new console logger writing to stdout.
func NewConsoleLogger(prefix string) Logger {
	return NewWriterLogger(os.Stdout, prefix)
}

// NewWriterLogger creates a console-format logger writing to w.
func NewWriterLogger(w io.Writer, prefix string) Logger {
	return &ConsoleLogger{out: w, prefix: prefix}
}
