package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apexhq/apex/internal/orchestrator"
)

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <task-id>",
		Short: "Pause a task",
		Long: `Pause a task. Running tasks checkpoint at the next stage boundary;
queued and pending tasks pause immediately.

Example:
  apex pause task_1724500000000_a1b2c3d4`,
		Args: cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			t, err := o.PauseTask(args[0])
			if err != nil {
				return err
			}
			if useJSON() {
				return printJSON(cmd.OutOrStdout(), t)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Paused %s\n", t.ID)
			return nil
		}),
	}
}
