package loop

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// CommandRunner executes shell commands. It exists so that tests can
// substitute a fake instead of spawning real processes.
type CommandRunner interface {
	Run(ctx context.Context, dir, command string) (output string, err error)
}

// ShellCommandRunner runs commands through sh -c in a given directory.
// The shell gets its own process group so that a timeout kill reaches
// every descendant the command spawned, not just the shell itself.
type ShellCommandRunner struct {
	Timeout time.Duration
}

// NewShellCommandRunner returns a runner with a 5 minute timeout.
func NewShellCommandRunner() *ShellCommandRunner {
	return &ShellCommandRunner{Timeout: 5 * time.Minute}
}

// Run executes command via the shell and returns its combined output.
// On timeout or cancellation the whole process group is killed; the
// partial output is returned alongside the error.
func (r *ShellCommandRunner) Run(ctx context.Context, dir, command string) (string, error) {
	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("command failed to start: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-runCtx.Done():
		killCommandGroup(cmd)
		<-done // Reap; the group is already dead.
		output := strings.TrimSpace(buf.String())
		if ctx.Err() != nil {
			return output, ctx.Err()
		}
		return output, fmt.Errorf("command timed out after %s: %s", r.Timeout, command)

	case err := <-done:
		output := strings.TrimSpace(buf.String())
		if err != nil {
			return output, fmt.Errorf("command failed: %w", err)
		}
		return output, nil
	}
}

// killCommandGroup forcibly terminates the shell's entire process group.
func killCommandGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	// Negative pid addresses the group. Fall back to the direct child if
	// the group signal fails.
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		cmd.Process.Kill()
	}
}
