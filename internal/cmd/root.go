package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for ralph
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ralph",
		Short: "Iteration controller for a code-generation agent",
		Long: `Ralph repeatedly invokes a code-generation agent against a feature
workspace until every task is complete or a safety mechanism stops it.

Each iteration gets a clean agent context: continuity lives entirely in
the workspace files (spec.md, tasks.yaml, progress.md), which ralph
re-reads, validates, and updates between invocations. A circuit breaker
halts stagnating runs, a rate limiter caps invocations per window, and
completed workspaces are verified and archived.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())
	cmd.AddCommand(NewStatusCommand())
	cmd.AddCommand(NewArchiveCommand())

	return cmd
}
