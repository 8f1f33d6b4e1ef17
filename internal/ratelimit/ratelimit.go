// Package ratelimit caps agent invocations per rolling window. This is
// advisory backpressure against the provider's own usage limits, not a
// hard quota.
package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/krazyuniks/ralph-hybrid-sub003/internal/filelock"
)

// Defaults for the fixed window.
const (
	DefaultLimit  = 100
	DefaultWindow = time.Hour
)

// ErrQuotaExhausted indicates the window is full and the limiter is
// configured to abort rather than wait. Mapped to exit code 2.
var ErrQuotaExhausted = errors.New("invocation quota exhausted for the current window")

// State is the persisted fixed-window counter.
type State struct {
	CallCount   int       `json:"call_count"`
	WindowStart time.Time `json:"window_start"`
}

// Logger receives countdown notifications while the limiter blocks.
type Logger interface {
	LogRateLimitWait(remaining time.Duration, resumeAt time.Time)
}

// Limiter is a fixed-window invocation limiter with state persisted
// across runs.
type Limiter struct {
	path   string        // State file location
	limit  int           // Calls allowed per window
	window time.Duration // Window length
	abort  bool          // Abort instead of waiting when the window is full
	logger Logger        // Optional countdown logger

	now   func() time.Time // Injectable clock for tests
	state State
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithAbort makes Acquire return ErrQuotaExhausted instead of blocking.
func WithAbort() Option {
	return func(l *Limiter) { l.abort = true }
}

// WithLogger sets the countdown logger.
func WithLogger(logger Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// WithClock injects a clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a limiter persisting state at path. Non-positive limit or
// window fall back to the defaults. Existing state is loaded; a missing
// or corrupt state file starts a fresh window.
func New(path string, limit int, window time.Duration, opts ...Option) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		path:   path,
		limit:  limit,
		window: window,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.load()
	return l
}

// load reads persisted state; corrupt or missing files start fresh.
func (l *Limiter) load() {
	data, err := os.ReadFile(l.path)
	if err != nil {
		l.state = State{WindowStart: l.now()}
		return
	}
	if err := json.Unmarshal(data, &l.state); err != nil || l.state.WindowStart.IsZero() {
		l.state = State{WindowStart: l.now()}
	}
}

// save persists the state; failures are non-fatal (the limiter degrades
// to in-memory counting for this run).
func (l *Limiter) save() {
	data, err := json.MarshalIndent(&l.state, "", "  ")
	if err != nil {
		return
	}
	filelock.AtomicWrite(l.path, data)
}

// rollWindow resets the counter when the current time has crossed the
// window boundary.
func (l *Limiter) rollWindow() {
	if l.now().Sub(l.state.WindowStart) >= l.window {
		l.state = State{CallCount: 0, WindowStart: l.now()}
	}
}

// Remaining returns how many calls are left in the current window.
func (l *Limiter) Remaining() int {
	l.rollWindow()
	left := l.limit - l.state.CallCount
	if left < 0 {
		return 0
	}
	return left
}

// State returns a copy of the current window state.
func (l *Limiter) State() State {
	l.rollWindow()
	return l.state
}

// Acquire consumes one invocation slot. If the window is full it blocks
// until the window resets (logging a countdown), or returns
// ErrQuotaExhausted when configured to abort. Returns the context error
// if cancelled while waiting.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.rollWindow()

	if l.state.CallCount >= l.limit {
		resumeAt := l.state.WindowStart.Add(l.window)
		if l.abort {
			return fmt.Errorf("%w: %d calls since %s, window resets at %s",
				ErrQuotaExhausted, l.state.CallCount,
				l.state.WindowStart.Format(time.RFC3339), resumeAt.Format(time.RFC3339))
		}
		if err := l.waitUntil(ctx, resumeAt); err != nil {
			return err
		}
		l.rollWindow()
	}

	l.state.CallCount++
	l.save()
	return nil
}

// waitUntil blocks until resumeAt with periodic countdown announcements.
func (l *Limiter) waitUntil(ctx context.Context, resumeAt time.Time) error {
	if l.logger != nil {
		l.logger.LogRateLimitWait(time.Until(resumeAt), resumeAt)
	}

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		remaining := resumeAt.Sub(l.now())
		if remaining <= 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if l.logger != nil {
				l.logger.LogRateLimitWait(resumeAt.Sub(l.now()), resumeAt)
			}
		case <-time.After(remaining):
			return nil
		}
	}
}
