// Package loop is the iteration controller: it drives the
// preflight-validate, invoke, detect, record cycle until a terminal
// status is reached. The agent gets a clean context every iteration;
// every piece of continuity flows through the workspace files.
package loop

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/krazyuniks/ralph-hybrid-sub003/internal/agent"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/archive"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/breaker"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/config"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/exitdetect"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/filelock"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/history"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/logger"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/models"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/preflight"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/ratelimit"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/specdoc"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/store"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/workspace"
)

// AgentInvoker abstracts the external agent process so tests can script
// transcripts instead of spawning children.
type AgentInvoker interface {
	Invoke(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// Options configures a Controller. Zero-value fields get production
// defaults; tests inject fakes.
type Options struct {
	Workspace *workspace.Workspace
	Config    *config.Config
	Logger    *logger.ConsoleLogger

	// Invoker runs the agent. Defaults to a process-spawning agent.Invoker
	// built from the config.
	Invoker AgentInvoker

	// Runner executes the verify command. Defaults to ShellCommandRunner.
	Runner CommandRunner

	// Limiter throttles invocations. Defaults to a limiter persisted in
	// the workspace state dir.
	Limiter *ratelimit.Limiter

	// History records per-iteration rows. Optional; nil disables it.
	History *history.Store

	// Force lets a run start despite preflight errors.
	Force bool

	// DryRun validates, reports the next task and stops before invoking.
	DryRun bool
}

// Controller owns one run of the iteration loop.
type Controller struct {
	ws      *workspace.Workspace
	cfg     *config.Config
	log     *logger.ConsoleLogger
	invoker AgentInvoker
	runner  CommandRunner
	limiter *ratelimit.Limiter
	hist    *history.Store
	brk     *breaker.Breaker
	force   bool
	dryRun  bool

	// feedback carries verification failure text into the next
	// iteration's prompt. Cleared once consumed.
	feedback string
}

// NewController wires a controller from options.
func NewController(opts Options) *Controller {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	log := opts.Logger
	if log == nil {
		log = logger.NewConsoleLogger(os.Stderr, cfg.LogLevel)
	}
	c := &Controller{
		ws:      opts.Workspace,
		cfg:     cfg,
		log:     log,
		invoker: opts.Invoker,
		runner:  opts.Runner,
		limiter: opts.Limiter,
		hist:    opts.History,
		force:   opts.Force,
		dryRun:  opts.DryRun,
		brk:     breaker.New(cfg.Breaker.NoProgressThreshold, cfg.Breaker.SameErrorThreshold),
	}
	if c.invoker == nil {
		c.invoker = &agent.Invoker{
			Command: cfg.AgentCommand,
			Args:    cfg.AgentArgs,
			Timeout: cfg.IterationTimeout,
			WorkDir: opts.Workspace.Root,
		}
	}
	if c.runner == nil {
		c.runner = NewShellCommandRunner()
	}
	return c
}

// Run executes the loop until a terminal status. The returned Result is
// always valid; err carries setup failures that prevented the loop from
// starting at all.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	if err := c.ws.EnsureStateDir(); err != nil {
		return nil, fmt.Errorf("failed to prepare state dir: %w", err)
	}
	if err := store.InitProgressLog(c.ws.ProgressPath()); err != nil {
		return nil, err
	}

	lease := filelock.NewLease(c.ws.LockPath())
	if err := lease.Acquire(); err != nil {
		return nil, err
	}
	defer lease.Release()
	c.log.Debugf("acquired run lease %s", lease.RunID)

	report := preflight.NewValidator(c.ws).Run()
	for _, f := range report.Findings {
		if f.Severity == preflight.SeverityError {
			c.log.Errorf("%s", f.String())
		} else {
			c.log.Warnf("%s", f.String())
		}
	}
	if report.HasErrors() {
		if !c.force {
			return nil, fmt.Errorf("preflight failed with %d error(s); fix the findings above or re-run with --force", len(report.Errors()))
		}
		c.log.Bannerf("PREFLIGHT ERRORS OVERRIDDEN BY --force; proceeding on a workspace that failed validation")
	}

	ts := report.TaskSet
	spec := report.Spec
	if ts == nil || spec == nil {
		// Force cannot conjure missing artifacts.
		return nil, errors.New("cannot run without a loadable task set and specification")
	}

	// Criteria changed in the spec invalidate prior completions.
	if reset := ts.ReconcileCompleted(spec.Projection()); len(reset) > 0 {
		c.log.Warnf("acceptance criteria changed; reset completed flag for: %s", strings.Join(reset, ", "))
		if err := store.SaveTaskSet(c.ws.TaskSetPath(), ts); err != nil {
			return nil, err
		}
	}

	if c.limiter == nil {
		opts := []ratelimit.Option{ratelimit.WithLogger(c.log)}
		if c.cfg.RateLimit.AbortWhenExhausted {
			opts = append(opts, ratelimit.WithAbort())
		}
		c.limiter = ratelimit.New(c.ws.RateStatePath(), c.cfg.RateLimit.Limit, c.cfg.RateLimit.Window, opts...)
	}

	if c.dryRun {
		return c.dryRunResult(ts)
	}

	startIteration, err := store.LastIteration(c.ws.ProgressPath())
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for i := 1; i <= c.cfg.MaxIterations; i++ {
		iteration := startIteration + i

		if ctx.Err() != nil {
			res.Status = StatusUserInterrupt
			break
		}
		if reason := c.brk.Tripped(); reason != breaker.TripNone {
			c.log.Errorf("circuit breaker tripped (%s): %s", reason, c.brk.Describe())
			res.Status = StatusBreakerTripped
			break
		}

		if err := c.limiter.Acquire(ctx); err != nil {
			switch {
			case errors.Is(err, ratelimit.ErrQuotaExhausted):
				c.log.Errorf("%v", err)
				res.Status = StatusQuotaExhausted
			case errors.Is(err, context.Canceled):
				res.Status = StatusUserInterrupt
			default:
				c.log.Errorf("rate limiter: %v", err)
				res.Status = StatusUserInterrupt
			}
			break
		}

		status, err := c.runIteration(ctx, iteration, lease.RunID)
		if err != nil {
			return res, err
		}
		res.Iterations = i
		if status != "" {
			res.Status = status
			break
		}
	}

	if res.Status == "" {
		c.log.Errorf("reached max iterations (%d) without completing all tasks", c.cfg.MaxIterations)
		res.Status = StatusMaxIterations
	}
	res.Breaker = c.brk.State()

	if res.Status == StatusComplete {
		archiver := archive.NewArchiver(c.cfg.ArchiveRoot)
		dest, err := archiver.Archive(c.ws, lease.RunID)
		if err != nil {
			// Live workspace is intact; completion without archival is
			// still completion.
			c.log.Errorf("archival failed, workspace left in place: %v", err)
		} else {
			res.ArchivePath = dest
			c.log.Infof("workspace archived to %s", dest)
		}
	}

	c.log.Bannerf("run finished: %s after %d iteration(s)", res.Status, res.Iterations)
	return res, nil
}

// runIteration executes one full cycle. A non-empty status ends the run;
// an error aborts it with state already persisted.
func (c *Controller) runIteration(ctx context.Context, iteration int, runID string) (TerminalStatus, error) {
	// Reload so external edits between iterations are honored.
	ts, err := store.LoadTaskSet(c.ws.TaskSetPath())
	if err != nil {
		return "", err
	}
	spec, err := loadSpec(c.ws)
	if err != nil {
		return "", err
	}

	task := ts.NextIncomplete()
	if task == nil {
		c.log.Infof("no incomplete tasks remain")
		return StatusComplete, nil
	}
	before := ts.CompletionVector()

	excerpt, err := store.RenderRecent(c.ws.ProgressPath(), c.cfg.ProgressContext)
	if err != nil {
		return "", err
	}
	prompt := agent.BuildPrompt(agent.PromptInput{
		Spec:            spec,
		TaskSet:         ts,
		Task:            task,
		ProgressExcerpt: excerpt,
		Feedback:        c.feedback,
	})
	c.feedback = ""

	req := agent.Request{Prompt: prompt}
	if task.Overrides != nil {
		req.Model = task.Overrides.Model
		req.AllowedTools = task.Overrides.AllowedTools
	}

	c.log.Infof("iteration %d: task %s (%s)", iteration, task.ID, task.Title)
	started := time.Now()
	resp, invokeErr := c.invoker.Invoke(ctx, req)

	if invokeErr != nil && ctx.Err() != nil && !agent.IsTimeout(invokeErr) {
		// User interrupt: persist nothing from the aborted invocation.
		return StatusUserInterrupt, nil
	}

	transcript := ""
	duration := time.Since(started)
	if resp != nil {
		transcript = resp.Transcript
		duration = resp.Duration
	}
	det := exitdetect.Analyze(transcript)

	if quota := ratelimit.DetectQuotaExhausted(exitdetect.NarratedLines(transcript)); quota != nil {
		c.log.Errorf("provider quota exhausted: %s", quota.RawLine)
		if !quota.ResetAt.IsZero() {
			c.log.Errorf("quota resets at %s", quota.ResetAt.Format(time.RFC3339))
		}
		return StatusQuotaExhausted, nil
	}

	rec := &models.ProgressRecord{
		Iteration: iteration,
		Timestamp: time.Now(),
		TaskID:    task.ID,
		Status:    models.IterationNoProgress,
		Files:     det.Files,
		Learnings: strings.Join(det.Learnings, "; "),
	}
	fingerprint := det.Fingerprint

	switch {
	case agent.IsTimeout(invokeErr):
		c.log.Warnf("iteration %d timed out: %v", iteration, invokeErr)
		rec.Status = models.IterationTimeout
		fingerprint = ""

	case invokeErr != nil:
		c.log.Warnf("iteration %d: %v", iteration, invokeErr)
		if fingerprint == "" {
			fingerprint = exitdetect.Fingerprint(invokeErr.Error())
		}

	case len(det.CompletedTasks) > 0:
		flipped := c.applyCompletions(ts, det.CompletedTasks)
		if len(flipped) > 0 {
			if err := store.SaveTaskSet(c.ws.TaskSetPath(), ts); err != nil {
				return "", err
			}
			rec.Status = models.IterationCompleted
		}

	case det.Fingerprint != "":
		c.log.Warnf("iteration %d narrated a failure: %s", iteration, firstLine(det.FailureText))
		if det.Feedback != "" {
			c.feedback = det.Feedback
		}
	}

	if err := store.AppendRecord(c.ws.ProgressPath(), rec); err != nil {
		return "", err
	}

	// Post-iteration quality gate: a failed verify undoes the completion
	// transition and feeds the output back into the next prompt.
	if rec.Status == models.IterationCompleted && c.cfg.VerifyCommand != "" {
		output, verifyErr := c.runner.Run(ctx, c.ws.Root, c.cfg.VerifyCommand)
		if verifyErr != nil {
			c.log.Warnf("verification failed: %v", verifyErr)
			if err := c.revertCompletion(ts, det.CompletedTasks, rec, output, verifyErr); err != nil {
				return "", err
			}
			rec.Status = models.IterationVerifyFailed
			fingerprint = exitdetect.Fingerprint("VERIFICATION_FAILED: " + output)
		}
	}

	// Progress means the completion vector changed; a verify rollback
	// restores the vector and therefore does not count.
	after := ts.CompletionVector()
	progressed := !vectorsEqual(before, after)
	tripReason := c.brk.Observe(progressed, fingerprint)

	c.recordHistory(history.Iteration{
		RunID:       runID,
		Iteration:   iteration,
		TaskID:      task.ID,
		Status:      string(rec.Status),
		Fingerprint: fingerprint,
		Duration:    duration,
		StartedAt:   started,
	})

	if progressed {
		c.log.Infof("iteration %d: %d/%d tasks complete", iteration, countTrue(after), len(after))
	}

	// Either completion signal alone ends the run: the literal marker, or
	// a fully completed task set.
	if exitdetect.OverallComplete(det, ts) {
		if det.MarkerPresent && !ts.AllCompleted() {
			c.log.Warnf("completion marker emitted with %d task(s) still incomplete", countFalse(ts.CompletionVector()))
		}
		c.log.Infof("run complete")
		return StatusComplete, nil
	}
	if tripReason != breaker.TripNone {
		c.log.Errorf("circuit breaker tripped (%s): %s", tripReason, c.brk.Describe())
		return StatusBreakerTripped, nil
	}
	return "", nil
}

// applyCompletions flips the completed flag for narrated task ids that
// exist and are not already complete. Unknown ids are logged and ignored.
func (c *Controller) applyCompletions(ts *models.TaskSet, ids []string) []string {
	var flipped []string
	for _, id := range ids {
		t := ts.FindTask(id)
		if t == nil {
			c.log.Warnf("agent declared unknown task %q complete; ignoring", id)
			continue
		}
		if !t.Completed {
			t.Completed = true
			flipped = append(flipped, id)
		}
	}
	return flipped
}

// revertCompletion rolls back the optimistic completion after a failed
// verification: un-flips the flags, removes the last progress record, and
// writes a verification_failed record in its place.
func (c *Controller) revertCompletion(ts *models.TaskSet, ids []string, rec *models.ProgressRecord, output string, verifyErr error) error {
	for _, id := range ids {
		if t := ts.FindTask(id); t != nil {
			t.Completed = false
		}
	}
	if err := store.SaveTaskSet(c.ws.TaskSetPath(), ts); err != nil {
		return err
	}
	if err := store.RollbackLast(c.ws.ProgressPath()); err != nil {
		return err
	}
	failed := *rec
	failed.Status = models.IterationVerifyFailed
	failed.Learnings = fmt.Sprintf("verification command failed: %v", verifyErr)
	if err := store.AppendRecord(c.ws.ProgressPath(), &failed); err != nil {
		return err
	}
	feedback := output
	if feedback == "" {
		feedback = verifyErr.Error()
	}
	c.feedback = "The verification command failed after your last change:\n" + feedback
	return nil
}

func (c *Controller) recordHistory(it history.Iteration) {
	if c.hist == nil {
		return
	}
	if err := c.hist.Record(it); err != nil {
		c.log.Debugf("history record failed: %v", err)
	}
}

// dryRunResult reports what the first iteration would do, then stops.
// The loop never ran, so the result carries no terminal status.
func (c *Controller) dryRunResult(ts *models.TaskSet) (*Result, error) {
	task := ts.NextIncomplete()
	if task == nil {
		c.log.Infof("dry run: all tasks already complete")
		return &Result{Status: StatusComplete}, nil
	}
	vec := ts.CompletionVector()
	c.log.Infof("dry run: %d/%d tasks complete, %d invocation(s) left in the current window",
		countTrue(vec), len(vec), c.limiter.Remaining())
	c.log.Infof("dry run: next task would be %s (%s)", task.ID, task.Title)
	return &Result{}, nil
}

func loadSpec(ws *workspace.Workspace) (*specdoc.Document, error) {
	return specdoc.NewParser().ParseFile(ws.SpecPath())
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func countTrue(v []bool) int {
	n := 0
	for _, b := range v {
		if b {
			n++
		}
	}
	return n
}

func countFalse(v []bool) int {
	return len(v) - countTrue(v)
}

func vectorsEqual(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
