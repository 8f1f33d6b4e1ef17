package cmd

import (
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/krazyuniks/ralph-hybrid-sub003/internal/history"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/store"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/workspace"
	"github.com/spf13/cobra"
)

// NewStatusCommand creates and returns the status subcommand
func NewStatusCommand() *cobra.Command {
	var recent int

	cmd := &cobra.Command{
		Use:   "status [workspace-dir]",
		Short: "Show task progress and recent iteration history",
		Long: `Show the workspace's task completion state and, when an iteration
history database exists under .ralph/, a per-status summary and the most
recent iterations.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := workspace.New(".")
			if len(args) == 1 {
				ws = workspace.New(args[0])
			}
			return showStatus(ws, recent, cmd.OutOrStdout())
		},
		SilenceUsage: true,
	}

	cmd.Flags().IntVar(&recent, "recent", 10, "Number of recent iterations to show")

	return cmd
}

func showStatus(ws *workspace.Workspace, recent int, output io.Writer) error {
	ts, err := store.LoadTaskSet(ws.TaskSetPath())
	if err != nil {
		return err
	}

	done := 0
	for _, t := range ts.Tasks {
		if t.Completed {
			done++
		}
	}
	fmt.Fprintf(output, "Workspace: %s\n", ws.Root)
	fmt.Fprintf(output, "Tasks: %d/%d complete\n", done, len(ts.Tasks))
	for _, t := range ts.Tasks {
		mark := " "
		if t.Completed {
			mark = "x"
		}
		fmt.Fprintf(output, "  [%s] %s: %s\n", mark, t.ID, t.Title)
	}
	if next := ts.NextIncomplete(); next != nil {
		fmt.Fprintf(output, "Next: %s (%s)\n", next.ID, next.Title)
	}

	if _, err := os.Stat(ws.HistoryPath()); err != nil {
		return nil // No runs recorded yet.
	}
	hist, err := history.NewStore(ws.HistoryPath())
	if err != nil {
		return fmt.Errorf("failed to open iteration history: %w", err)
	}
	defer hist.Close()

	summary, err := hist.Summary()
	if err != nil {
		return err
	}
	if len(summary) > 0 {
		fmt.Fprintf(output, "\nIteration summary:\n")
		statuses := make([]string, 0, len(summary))
		for s := range summary {
			statuses = append(statuses, s)
		}
		sort.Strings(statuses)
		for _, s := range statuses {
			fmt.Fprintf(output, "  %s: %d\n", s, summary[s])
		}
	}

	iterations, err := hist.Recent(recent)
	if err != nil {
		return err
	}
	if len(iterations) > 0 {
		fmt.Fprintf(output, "\nRecent iterations:\n")
		for _, it := range iterations {
			fmt.Fprintf(output, "  #%d %s %s (%s, %s)\n",
				it.Iteration, it.TaskID, it.Status,
				it.Duration.Round(time.Second),
				it.StartedAt.Local().Format("2006-01-02 15:04"))
		}
	}
	return nil
}
