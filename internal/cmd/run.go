package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/krazyuniks/ralph-hybrid-sub003/internal/config"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/history"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/logger"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/loop"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/workspace"
	"github.com/spf13/cobra"
)

// ExitError carries a specific process exit code out of a command.
// main inspects it so that terminal statuses map onto the documented
// codes (1 failure, 2 quota exhaustion, 130 interrupt).
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [workspace-dir]",
		Short: "Run the iteration loop against a feature workspace",
		Long: `Run the iteration loop: validate the workspace, then repeatedly invoke
the agent on the highest-priority incomplete task until every task is
complete, the circuit breaker trips, the iteration bound is reached, or
the run is interrupted.

The workspace directory must contain spec.md, tasks.yaml, and
progress.md (created on first run). Loop state lives under .ralph/.
Configuration is loaded from .ralph/config.yaml if present; CLI flags
override configuration file settings.

Examples:
  ralph run                          # Current directory is the workspace
  ralph run features/login/          # Explicit workspace
  ralph run --max-iterations 20      # Tighter iteration bound
  ralph run --timeout 30m            # Longer per-invocation bound
  ralph run --dry-run                # Validate and report the next task
  ralph run --force                  # Start despite preflight errors

Exit codes: 0 all tasks complete, 1 breaker trip or iteration bound,
2 quota exhaustion, 130 user interrupt.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().String("config", "", "Path to config file (default: <workspace>/.ralph/config.yaml)")
	cmd.Flags().Int("max-iterations", 0, "Maximum iterations for this run (0 = use config)")
	cmd.Flags().String("timeout", "", "Per-invocation timeout (e.g. 10m, 1h)")
	cmd.Flags().String("log-level", "", "Console verbosity: debug, info, warn, error")
	cmd.Flags().String("archive-root", "", "Directory for completed-workspace archives")
	cmd.Flags().Bool("dry-run", false, "Validate the workspace and report the next task without invoking the agent")
	cmd.Flags().Bool("force", false, "Start the loop despite preflight errors")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	ws := workspace.New(".")
	if len(args) == 1 {
		ws = workspace.New(args[0])
	}

	cfg, err := loadRunConfig(cmd, ws)
	if err != nil {
		return err
	}

	force, _ := cmd.Flags().GetBool("force")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	log := logger.NewConsoleLogger(cmd.ErrOrStderr(), cfg.LogLevel)

	var hist *history.Store
	if !dryRun {
		if err := ws.EnsureStateDir(); err != nil {
			return fmt.Errorf("failed to prepare state dir: %w", err)
		}
		hist, err = history.NewStore(ws.HistoryPath())
		if err != nil {
			log.Warnf("iteration history disabled: %v", err)
		} else {
			defer hist.Close()
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	controller := loop.NewController(loop.Options{
		Workspace: ws,
		Config:    cfg,
		Logger:    log,
		History:   hist,
		Force:     force,
		DryRun:    dryRun,
	})

	result, err := controller.Run(ctx)
	if err != nil {
		return err
	}
	if dryRun {
		return nil
	}

	switch result.Status {
	case loop.StatusComplete:
		return nil
	default:
		return &ExitError{
			Code:    result.Status.ExitCode(),
			Message: fmt.Sprintf("run ended with status %s", result.Status),
		}
	}
}

// loadRunConfig loads the workspace config overlay and merges CLI flags.
func loadRunConfig(cmd *cobra.Command, ws *workspace.Workspace) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		configPath = ws.ConfigPath()
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}

	var maxIterationsPtr *int
	if cmd.Flags().Changed("max-iterations") {
		v, _ := cmd.Flags().GetInt("max-iterations")
		maxIterationsPtr = &v
	}

	var timeoutPtr *time.Duration
	if cmd.Flags().Changed("timeout") {
		s, _ := cmd.Flags().GetString("timeout")
		timeout, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout format %q: %w", s, err)
		}
		timeoutPtr = &timeout
	}

	var logLevelPtr *string
	if cmd.Flags().Changed("log-level") {
		v, _ := cmd.Flags().GetString("log-level")
		logLevelPtr = &v
	}

	var archiveRootPtr *string
	if cmd.Flags().Changed("archive-root") {
		v, _ := cmd.Flags().GetString("archive-root")
		archiveRootPtr = &v
	}

	cfg.MergeWithFlags(maxIterationsPtr, timeoutPtr, logLevelPtr, archiveRootPtr)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
