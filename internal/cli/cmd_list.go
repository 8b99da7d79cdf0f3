package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/apexhq/apex/internal/orchestrator"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
)

func newListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tasks",
		Long: `List tasks in the current project.

Example:
  apex list
  apex list --status in-progress
  apex list --queue --limit 10`,
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt("limit")
			byQueue, _ := cmd.Flags().GetBool("queue")

			if status != "" && !task.IsValidStatus(task.Status(status)) {
				return fmt.Errorf("invalid status %q", status)
			}

			tasks, err := o.ListTasks(store.ListOptions{
				Status:          task.Status(status),
				OrderByPriority: byQueue,
				Limit:           limit,
			})
			if err != nil {
				return err
			}

			if useJSON() {
				return printJSON(cmd.OutOrStdout(), tasks)
			}

			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), `No tasks. Create one with: apex new "Your task"`)
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tSTAGE\tCOST\tDESCRIPTION")
			for _, t := range tasks {
				stage := t.CurrentStage
				if stage == "" {
					stage = "-"
				}
				fmt.Fprintf(w, "%s\t%s %s\t%s\t%s\t%s\t%s\n",
					t.ID, statusGlyph(t.Status), t.Status, t.GetPriority(), stage,
					formatCost(t.Usage.EstimatedCost), truncate(t.Description, 48))
			}
			return w.Flush()
		}),
	}

	cmd.Flags().StringP("status", "s", "", "filter by status")
	cmd.Flags().IntP("limit", "n", 0, "maximum tasks to list")
	cmd.Flags().Bool("queue", false, "order by queue priority")
	return cmd
}
