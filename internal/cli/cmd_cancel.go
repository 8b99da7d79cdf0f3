package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apexhq/apex/internal/orchestrator"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a task",
		Long: `Cancel a task. Completed, failed, and already-cancelled tasks are
left untouched.

Example:
  apex cancel task_1724500000000_a1b2c3d4`,
		Args: cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			cancelled, err := o.CancelTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if useJSON() {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"task_id":   args[0],
					"cancelled": cancelled,
				})
			}
			if cancelled {
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already finished\n", args[0])
			}
			return nil
		}),
	}
}
