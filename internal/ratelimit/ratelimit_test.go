package ratelimit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestAcquireWithinLimit verifies calls inside the window succeed
func TestAcquireWithinLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.json")
	l := New(path, 3, time.Hour)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.Acquire(context.Background()), "call %d", i+1)
	}
	assert.Equal(t, 0, l.Remaining())
	assert.Equal(t, 3, l.State().CallCount)
}

// TestAcquireAbortsWhenExhausted verifies the abort configuration
func TestAcquireAbortsWhenExhausted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.json")
	l := New(path, 2, time.Hour, WithAbort())

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))

	err := l.Acquire(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuotaExhausted))
}

// TestWindowRollover verifies the counter resets after the window
func TestWindowRollover(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.json")

	current := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l := New(path, 2, time.Hour, WithAbort(), WithClock(func() time.Time { return current }))

	require.NoError(t, l.Acquire(context.Background()))
	require.NoError(t, l.Acquire(context.Background()))
	require.Error(t, l.Acquire(context.Background()))

	// Crossing the window boundary frees the whole budget.
	current = current.Add(time.Hour + time.Minute)
	assert.Equal(t, 2, l.Remaining())
	require.NoError(t, l.Acquire(context.Background()))
	assert.Equal(t, 1, l.State().CallCount)
}

// TestStatePersistsAcrossLimiters verifies restarts keep the window
func TestStatePersistsAcrossLimiters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.json")

	first := New(path, 5, time.Hour)
	require.NoError(t, first.Acquire(context.Background()))
	require.NoError(t, first.Acquire(context.Background()))

	second := New(path, 5, time.Hour)
	assert.Equal(t, 3, second.Remaining(), "state must survive a restart")
}

// TestCorruptStateStartsFresh verifies corrupt files are not fatal
func TestCorruptStateStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	l := New(path, 5, time.Hour)
	assert.Equal(t, 5, l.Remaining())
	require.NoError(t, l.Acquire(context.Background()))
}

// TestAcquireCancelledWhileWaiting verifies context cancellation wins
func TestAcquireCancelledWhileWaiting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ratelimit.json")
	l := New(path, 1, time.Hour)
	require.NoError(t, l.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := l.Acquire(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

// TestDetectQuotaExhausted verifies provider quota detection
func TestDetectQuotaExhausted(t *testing.T) {
	cases := []struct {
		name      string
		lines     []string
		want      bool
		wantReset bool
	}{
		{
			name:  "nothing",
			lines: []string{"TASK_COMPLETE: t1", "all good"},
			want:  false,
		},
		{
			name:      "unix reset timestamp",
			lines:     []string{"Claude usage limit reached|1767225600"},
			want:      true,
			wantReset: true,
		},
		{
			name:  "generic exceeded",
			lines: []string{"API error: usage limit exceeded for this billing period"},
			want:  true,
		},
		{
			name:  "http 429",
			lines: []string{"request failed with status 429"},
			want:  true,
		},
		{
			name:  "quoted message is not a hit",
			lines: []string{`the docs say "usage limit reached" means you must wait`},
			want:  false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := DetectQuotaExhausted(tc.lines)
			if !tc.want {
				assert.Nil(t, info)
				return
			}
			require.NotNil(t, info)
			assert.Equal(t, tc.wantReset, !info.ResetAt.IsZero())
			if tc.wantReset {
				assert.Equal(t, int64(1767225600), info.ResetAt.Unix())
			}
		})
	}
}
