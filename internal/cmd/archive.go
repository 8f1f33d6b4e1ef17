package cmd

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/archive"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/store"
	"github.com/krazyuniks/ralph-hybrid-sub003/internal/workspace"
	"github.com/spf13/cobra"
)

// NewArchiveCommand creates and returns the archive subcommand
func NewArchiveCommand() *cobra.Command {
	var dest string
	var force bool

	cmd := &cobra.Command{
		Use:   "archive [workspace-dir]",
		Short: "Archive a completed workspace",
		Long: `Copy the workspace into the archive directory, verify every file
against its source digest, write a manifest, and remove the live
workspace. Refuses to archive a workspace with incomplete tasks unless
--force is given.

The loop archives automatically on completion; this command covers runs
that completed but failed to archive (e.g. a full disk).`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws := workspace.New(".")
			if len(args) == 1 {
				ws = workspace.New(args[0])
			}

			if !force {
				ts, err := store.LoadTaskSet(ws.TaskSetPath())
				if err != nil {
					return err
				}
				if !ts.AllCompleted() {
					return fmt.Errorf("workspace has incomplete tasks; finish the run or use --force")
				}
			}

			archiver := archive.NewArchiver(dest)
			path, err := archiver.Archive(ws, uuid.NewString())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Archived to %s\n", path)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&dest, "dest", "archive", "Archive root directory")
	cmd.Flags().BoolVar(&force, "force", false, "Archive even when tasks are incomplete")

	return cmd
}
