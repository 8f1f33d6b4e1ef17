package cmd

import (
	"fmt"
	"io"

	"github.com/krazyuniks/ralph-hybrid-sub003/internal/preflight"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/workspace"
	"github.com/spf13/cobra"
)

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [workspace-dir]",
		Short: "Validate a feature workspace without running the loop",
		Long: `Run the preflight checks a loop run would perform, report every
finding, and stop. Checks include:
  - Execution context: git repository reachable, current branch not protected
  - Required artifacts: spec.md and tasks.yaml present
  - Task set schema: parseable YAML, unique ids, well-formed criteria
  - Specification structure: title, problem statement, success criteria, task blocks
  - Synchronization: spec task blocks and task set entries match by id

Exit code: 0 if valid, 1 if errors found`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := workspace.New(".")
			if len(args) == 1 {
				ws = workspace.New(args[0])
			}
			return validateWorkspace(ws, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	return cmd
}

// validateWorkspace runs the preflight validator and prints its findings.
func validateWorkspace(ws *workspace.Workspace, output io.Writer) error {
	report := preflight.NewValidator(ws).Run()

	if len(report.Findings) == 0 {
		fmt.Fprintf(output, "Workspace %s is valid\n", ws.Root)
		if report.TaskSet != nil {
			done := 0
			for _, t := range report.TaskSet.Tasks {
				if t.Completed {
					done++
				}
			}
			fmt.Fprintf(output, "  %d task(s), %d complete\n", len(report.TaskSet.Tasks), done)
		}
		return nil
	}

	for _, f := range report.Findings {
		fmt.Fprintf(output, "%s\n", f.String())
	}
	if report.HasErrors() {
		return fmt.Errorf("validation failed with %d error(s)", len(report.Errors()))
	}
	fmt.Fprintf(output, "Workspace %s is valid (%d warning(s))\n", ws.Root, len(report.Findings))
	return nil
}
