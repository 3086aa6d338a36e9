package config

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// Logger provides structured logging for engine operations.
// This interface allows callers to plug in their own logging implementation.
type Logger interface {
	// Debug logs debug-level messages with optional key-value pairs.
	Debug(msg string, keysAndValues ...interface{})

	// Info logs info-level messages with optional key-value pairs.
	Info(msg string, keysAndValues ...interface{})

	// Warn logs warning-level messages with optional key-value pairs.
	Warn(msg string, keysAndValues ...interface{})

	// Error logs error-level messages with optional key-value pairs.
	Error(msg string, keysAndValues ...interface{})
}

// noopLogger is a Logger implementation that does nothing.
// This is the default logger used when none is provided.
type noopLogger struct{}

func (n *noopLogger) Debug(msg string, keysAndValues ...interface{}) {}
func (n *noopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (n *noopLogger) Warn(msg string, keysAndValues ...interface{})  {}
func (n *noopLogger) Error(msg string, keysAndValues ...interface{}) {}

// NopLogger returns a logger that discards everything.
func NopLogger() Logger {
	return &noopLogger{}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return NopLogger()
	}
	return l
}

// WriterLogger writes "level msg key=value ..." lines to an io.Writer.
// Debug lines are only written when Verbose is set. Credentials are
// redacted from every line.
type WriterLogger struct {
	mu      sync.Mutex
	w       io.Writer
	Verbose bool
}

// NewWriterLogger creates a logger writing to w.
func NewWriterLogger(w io.Writer, verbose bool) *WriterLogger {
	return &WriterLogger{w: w, Verbose: verbose}
}

func (l *WriterLogger) Debug(msg string, keysAndValues ...interface{}) {
	if l.Verbose {
		l.write("debug", msg, keysAndValues)
	}
}

func (l *WriterLogger) Info(msg string, keysAndValues ...interface{}) {
	l.write("info", msg, keysAndValues)
}

func (l *WriterLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.write("warn", msg, keysAndValues)
}

func (l *WriterLogger) Error(msg string, keysAndValues ...interface{}) {
	l.write("error", msg, keysAndValues)
}

func (l *WriterLogger) write(level, msg string, kv []interface{}) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteByte(' ')
	b.WriteString(msg)
	for i := 0; i < len(kv); i += 2 {
		b.WriteByte(' ')
		if i+1 < len(kv) {
			fmt.Fprintf(&b, "%v=%v", kv[i], kv[i+1])
		} else {
			fmt.Fprintf(&b, "%v=<missing>", kv[i])
		}
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, Redact(b.String()))
}
