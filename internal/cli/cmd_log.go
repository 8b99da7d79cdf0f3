package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apexhq/apex/internal/orchestrator"
)

func newLogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log <task-id>",
		Short: "Show a task's execution log",
		Long: `Print the stored execution log for a task, oldest first.

Example:
  apex log task_1724500000000_a1b2c3d4
  apex log task_1724500000000_a1b2c3d4 --limit 20`,
		Args: cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			limit, _ := cmd.Flags().GetInt("limit")

			logs, err := o.GetLogs(args[0], limit)
			if err != nil {
				return err
			}

			if useJSON() {
				return printJSON(cmd.OutOrStdout(), logs)
			}

			if len(logs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No log entries.")
				return nil
			}
			for _, entry := range logs {
				scope := entry.Component
				if entry.Stage != "" {
					scope = entry.Stage
					if entry.Agent != "" {
						scope += "/" + entry.Agent
					}
				}
				if scope != "" {
					scope = " [" + scope + "]"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-5s%s %s\n",
					entry.Timestamp.Format("15:04:05"), entry.Level, scope, entry.Message)
			}
			return nil
		}),
	}

	cmd.Flags().IntP("limit", "n", 100, "maximum entries to show")
	return cmd
}
