// Package agent invokes the external code-generation agent as a bounded
// child process. Each invocation gets a clean context: continuity lives in
// the workspace files carried by the prompt, never in agent memory.
package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// TimeoutError indicates the agent exceeded its invocation bound. The
// process group was forcibly terminated; the iteration counts as
// no-progress.
type TimeoutError struct {
	Bound time.Duration
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("agent invocation exceeded %v bound and was terminated", e.Bound)
}

// Unwrap returns context.DeadlineExceeded to support error wrapping.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// IsTimeout checks if the error is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Invoker launches the configured agent command. Create once, use per
// iteration.
type Invoker struct {
	// Command is the agent binary (e.g. "claude").
	Command string

	// Args are baseline arguments prepended to every invocation.
	Args []string

	// Timeout bounds each invocation. Zero means no bound.
	Timeout time.Duration

	// WorkDir is the working directory for the agent process.
	WorkDir string
}

// Request holds per-invocation parameters.
type Request struct {
	Prompt       string   // Assembled prompt payload (required)
	Model        string   // Per-task model override (optional)
	AllowedTools []string // Per-task tool allowlist (optional)
}

// Response is the raw outcome of an invocation. Stdout and stderr are
// combined: the transcript is the only completion/error channel.
type Response struct {
	Transcript string
	Duration   time.Duration
}

// Invoke runs the agent once, bounded by the invoker's timeout. The child
// is placed in its own process group; on timeout or cancellation the whole
// group is killed so no descendant is ever left running. The partial
// transcript is returned alongside the error for logging.
func (inv *Invoker) Invoke(ctx context.Context, req Request) (*Response, error) {
	if req.Prompt == "" {
		return nil, errors.New("prompt is required")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if inv.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
		defer cancel()
	}

	args := append([]string{}, inv.Args...)
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if len(req.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(req.AllowedTools, ","))
	}
	args = append(args, "-p", req.Prompt)

	cmd := exec.Command(inv.Command, args...)
	cmd.Dir = inv.WorkDir
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	// Own process group so a timeout kill reaches every descendant.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start agent %q: %w", inv.Command, err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-runCtx.Done():
		killGroup(cmd)
		<-done // Reap; the group is already dead.
		resp := &Response{Transcript: output.String(), Duration: time.Since(start)}
		if ctx.Err() != nil {
			// Parent cancellation (user interrupt), not the bound.
			return resp, ctx.Err()
		}
		return resp, &TimeoutError{Bound: inv.Timeout}

	case err := <-done:
		resp := &Response{Transcript: output.String(), Duration: time.Since(start)}
		if err != nil {
			return resp, fmt.Errorf("agent exited with error: %w", err)
		}
		return resp, nil
	}
}

// killGroup forcibly terminates the child's entire process group.
func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid addresses the group. Fall back to the direct child if
	// the group signal fails.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		cmd.Process.Kill()
	}
}
