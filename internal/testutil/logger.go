// Package testutil holds shared featureprep test fixtures: Titanic-like
// feature tables, and slog loggers that write through testing.TB so pipeline
// logs only show for failing tests or with -v.
package testutil

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// NewTestLogger returns a debug-level logger that writes to t.Log.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t: t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

// LogCapture is a test logger that also keeps every record it writes, for
// tests that assert on what a component logged.
type LogCapture struct {
	*slog.Logger

	mu      sync.Mutex
	records []string
}

// NewLogCapture returns a debug-level capturing logger that also writes to
// t.Log.
func NewLogCapture(t testing.TB) *LogCapture {
	t.Helper()
	c := &LogCapture{}
	c.Logger = slog.New(slog.NewTextHandler(testWriter{t: t, capture: c}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	return c
}

// Records returns the captured records in write order.
func (c *LogCapture) Records() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.records...)
}

// Contains reports whether any captured record contains every one of parts.
func (c *LogCapture) Contains(parts ...string) bool {
	for _, r := range c.Records() {
		matched := true
		for _, p := range parts {
			if !strings.Contains(r, p) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

type testWriter struct {
	t       testing.TB
	capture *LogCapture
}

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Helper()
	line := string(bytes.TrimRight(p, "\n"))
	if w.capture != nil {
		w.capture.mu.Lock()
		w.capture.records = append(w.capture.records, line)
		w.capture.mu.Unlock()
	}
	w.t.Log(line)
	return len(p), nil
}
