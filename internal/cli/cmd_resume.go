package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apexhq/apex/internal/orchestrator"
)

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Resume a paused task",
		Long: `Resume a paused task from its latest checkpoint, or from a specific
one with --checkpoint.

Example:
  apex resume task_1724500000000_a1b2c3d4
  apex resume task_1724500000000_a1b2c3d4 --checkpoint cp_001`,
		Args: cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			checkpoint, _ := cmd.Flags().GetString("checkpoint")

			resumed, err := o.ResumeTask(cmd.Context(), args[0], checkpoint)
			if err != nil {
				return err
			}
			if useJSON() {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"task_id": args[0],
					"resumed": resumed,
				})
			}
			if resumed {
				fmt.Fprintf(cmd.OutOrStdout(), "Resumed %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not resumed\n", args[0])
			}
			return nil
		}),
	}

	cmd.Flags().String("checkpoint", "", "checkpoint ID to resume from")
	return cmd
}
