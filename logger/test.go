package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

type TestLogEntry struct {
	Severity  string
	Message   string
	Arguments []interface{}
}

// TestLogger captures log entries for assertions in tests. It is safe for
// concurrent use since cache workers log from multiple goroutines.
type TestLogger struct {
	mu   sync.Mutex
	logs []TestLogEntry
}

var _ Logger = (*TestLogger)(nil)

// NewTestLogger returns a new Logger instance useful for testing
func NewTestLogger() *TestLogger {
	return &TestLogger{}
}

// Logs returns a copy of the captured entries.
func (c *TestLogger) Logs() []TestLogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TestLogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

// Contains reports whether any captured entry's formatted message contains substr.
func (c *TestLogger) Contains(substr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, entry := range c.logs {
		if strings.Contains(fmt.Sprintf(entry.Message, entry.Arguments...), substr) {
			return true
		}
	}
	return false
}

func (c *TestLogger) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{}, len(metadata))
	for k, v := range metadata {
		kv[k] = v
	}
	return &testLoggerView{parent: c, metadata: kv}
}

func (c *TestLogger) WithPrefix(prefix string) Logger {
	return c
}

func (c *TestLogger) IsLevelEnabled(level LogLevel) bool {
	return true
}

func (c *TestLogger) log(level string, msg string, args ...interface{}) {
	c.mu.Lock()
	c.logs = append(c.logs, TestLogEntry{level, msg, args})
	c.mu.Unlock()
}

func (c *TestLogger) Trace(msg string, args ...interface{}) {
	c.log("TRACE", msg, args...)
}

func (c *TestLogger) Debug(msg string, args ...interface{}) {
	c.log("DEBUG", msg, args...)
}

func (c *TestLogger) Info(msg string, args ...interface{}) {
	c.log("INFO", msg, args...)
}

func (c *TestLogger) Warn(msg string, args ...interface{}) {
	c.log("WARNING", msg, args...)
}

func (c *TestLogger) Error(msg string, args ...interface{}) {
	c.log("ERROR", msg, args...)
}

func (c *TestLogger) Fatal(msg string, args ...interface{}) {
	c.log("FATAL", msg, args...)
	os.Exit(1)
}

// testLoggerView forwards to the parent TestLogger so entries logged through
// a With() child still land in the parent's capture buffer.
type testLoggerView struct {
	parent   *TestLogger
	metadata map[string]interface{}
}

var _ Logger = (*testLoggerView)(nil)

func (v *testLoggerView) With(metadata map[string]interface{}) Logger {
	kv := make(map[string]interface{})
	for k, val := range v.metadata {
		kv[k] = val
	}
	for k, val := range metadata {
		kv[k] = val
	}
	return &testLoggerView{parent: v.parent, metadata: kv}
}

func (v *testLoggerView) WithPrefix(prefix string) Logger             { return v }
func (v *testLoggerView) IsLevelEnabled(level LogLevel) bool          { return true }
func (v *testLoggerView) Trace(msg string, args ...interface{})       { v.parent.Trace(msg, args...) }
func (v *testLoggerView) Debug(msg string, args ...interface{})       { v.parent.Debug(msg, args...) }
func (v *testLoggerView) Info(msg string, args ...interface{})        { v.parent.Info(msg, args...) }
func (v *testLoggerView) Warn(msg string, args ...interface{})        { v.parent.Warn(msg, args...) }
func (v *testLoggerView) Error(msg string, args ...interface{})       { v.parent.Error(msg, args...) }
func (v *testLoggerView) Fatal(msg string, args ...interface{})       { v.parent.Fatal(msg, args...) }
