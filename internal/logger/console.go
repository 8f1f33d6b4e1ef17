// Package logger provides the leveled console logger used across the
// iteration loop. Output is prefixed with [HH:MM:SS] timestamps; colored
// level tags are enabled automatically when writing to a TTY.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Log level constants for filtering.
const (
	levelDebug int = iota
	levelInfo
	levelWarn
	levelError
)

// ConsoleLogger is a thread-safe leveled logger.
type ConsoleLogger struct {
	writer   io.Writer
	minLevel int
	mutex    sync.Mutex
	colored  bool
}

// NewConsoleLogger creates a logger writing to w. Valid levels: debug,
// info, warn, error (case-insensitive); empty or unknown defaults to
// "info". Color is enabled only when w is a terminal.
func NewConsoleLogger(w io.Writer, level string) *ConsoleLogger {
	return &ConsoleLogger{
		writer:   w,
		minLevel: levelToInt(level),
		colored:  isTerminal(w),
	}
}

// isTerminal reports whether the writer is a TTY that supports color.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	if color.NoColor {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func levelToInt(level string) int {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return levelDebug
	case "warn":
		return levelWarn
	case "error":
		return levelError
	default:
		return levelInfo
	}
}

var (
	debugColor = color.New(color.FgHiBlack)
	infoColor  = color.New(color.FgCyan)
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed, color.Bold)
)

// Debugf logs a debug-level message.
func (cl *ConsoleLogger) Debugf(format string, args ...interface{}) {
	cl.logf(levelDebug, "DEBUG", debugColor, format, args...)
}

// Infof logs an info-level message.
func (cl *ConsoleLogger) Infof(format string, args ...interface{}) {
	cl.logf(levelInfo, "INFO", infoColor, format, args...)
}

// Warnf logs a warning-level message.
func (cl *ConsoleLogger) Warnf(format string, args ...interface{}) {
	cl.logf(levelWarn, "WARN", warnColor, format, args...)
}

// Errorf logs an error-level message.
func (cl *ConsoleLogger) Errorf(format string, args ...interface{}) {
	cl.logf(levelError, "ERROR", errorColor, format, args...)
}

// Bannerf writes an undecorated line regardless of level, for iteration
// banners and summaries.
func (cl *ConsoleLogger) Bannerf(format string, args ...interface{}) {
	if cl.writer == nil {
		return
	}
	cl.mutex.Lock()
	defer cl.mutex.Unlock()
	fmt.Fprintf(cl.writer, format+"\n", args...)
}

// LogRateLimitWait implements the rate limiter's countdown interface.
func (cl *ConsoleLogger) LogRateLimitWait(remaining time.Duration, resumeAt time.Time) {
	cl.Warnf("rate limit window full; resuming in %s (at %s)",
		remaining.Round(time.Second), resumeAt.Format("15:04:05"))
}

func (cl *ConsoleLogger) logf(level int, tag string, c *color.Color, format string, args ...interface{}) {
	if cl.writer == nil || level < cl.minLevel {
		return
	}
	cl.mutex.Lock()
	defer cl.mutex.Unlock()

	ts := time.Now().Format("15:04:05")
	msg := fmt.Sprintf(format, args...)
	if cl.colored {
		fmt.Fprintf(cl.writer, "[%s] %s %s\n", ts, c.Sprintf("[%s]", tag), msg)
	} else {
		fmt.Fprintf(cl.writer, "[%s] [%s] %s\n", ts, tag, msg)
	}
}
