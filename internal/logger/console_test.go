package logger

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

// TestLevelFiltering verifies messages below the minimum level are dropped
func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "warn")

	log.Debugf("debug message")
	log.Infof("info message")
	log.Warnf("warn message")
	log.Errorf("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("messages below warn leaked through:\n%s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("warn/error missing:\n%s", out)
	}
}

// TestLogFormat verifies the timestamped tag layout
func TestLogFormat(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "info")

	log.Infof("iteration %d: task %s", 3, "t1")

	out := buf.String()
	if !strings.Contains(out, "[INFO] iteration 3: task t1") {
		t.Errorf("unexpected format: %q", out)
	}
	if !strings.HasPrefix(out, "[") {
		t.Errorf("missing timestamp prefix: %q", out)
	}
}

// TestUnknownLevelDefaultsToInfo verifies the fallback
func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "chatty")

	log.Debugf("hidden")
	log.Infof("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("fallback level wrong:\n%s", out)
	}
}

// TestLogRateLimitWait verifies the countdown announcement
func TestLogRateLimitWait(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "info")

	resume := time.Now().Add(90 * time.Second)
	log.LogRateLimitWait(90*time.Second, resume)

	if !strings.Contains(buf.String(), "rate limit") {
		t.Errorf("countdown missing: %q", buf.String())
	}
}
