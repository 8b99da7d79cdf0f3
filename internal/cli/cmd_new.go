package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apexhq/apex/internal/orchestrator"
	"github.com/apexhq/apex/internal/task"
)

func newNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new <description>",
		Short: "Create a task",
		Long: `Create a task and queue it for the daemon.

The workflow defaults to the first definition under .apex/workflows;
autonomy and retry limits default from .apex/config.yaml.

Use --from-template to start from a saved template:
  apex new --from-template tmpl_bugfix "Fix token refresh race"

Example:
  apex new "Fix login timeout"
  apex new "Add CSV export" --workflow feature --priority high
  apex new "Migrate sessions table" --criteria "all tests green" --depends-on task_123
  apex new "Investigate flaky CI" --no-queue`,
		Args: cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			workflow, _ := cmd.Flags().GetString("workflow")
			criteria, _ := cmd.Flags().GetString("criteria")
			autonomy, _ := cmd.Flags().GetString("autonomy")
			priority, _ := cmd.Flags().GetString("priority")
			dependsOn, _ := cmd.Flags().GetStringSlice("depends-on")
			maxRetries, _ := cmd.Flags().GetInt("max-retries")
			templateID, _ := cmd.Flags().GetString("from-template")
			noQueue, _ := cmd.Flags().GetBool("no-queue")

			var (
				t   *task.Task
				err error
			)
			if templateID != "" {
				overrides := &task.Task{
					Description:        args[0],
					AcceptanceCriteria: criteria,
					Workflow:           workflow,
					Autonomy:           task.Autonomy(autonomy),
					Priority:           task.Priority(priority),
					DependsOn:          dependsOn,
					MaxRetries:         maxRetries,
				}
				t, err = o.CreateTaskFromTemplate(templateID, overrides)
			} else {
				t, err = o.CreateTask(orchestrator.CreateTaskOptions{
					Description:        args[0],
					AcceptanceCriteria: criteria,
					Workflow:           workflow,
					Autonomy:           task.Autonomy(autonomy),
					Priority:           task.Priority(priority),
					DependsOn:          dependsOn,
					MaxRetries:         maxRetries,
				})
			}
			if err != nil {
				return err
			}

			if !noQueue {
				if t, err = o.QueueTask(t.ID, t.Priority); err != nil {
					return err
				}
			}

			if useJSON() {
				return printJSON(cmd.OutOrStdout(), t)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s, %s)\n", t.ID, t.Status, t.BranchName)
			return nil
		}),
	}

	cmd.Flags().StringP("workflow", "w", "", "workflow definition to run")
	cmd.Flags().StringP("criteria", "c", "", "acceptance criteria")
	cmd.Flags().StringP("autonomy", "a", "", "autonomy level (full, review-before-merge, manual)")
	cmd.Flags().StringP("priority", "p", "", "priority (urgent, high, normal, low)")
	cmd.Flags().StringSlice("depends-on", nil, "task IDs that must complete first")
	cmd.Flags().Int("max-retries", 0, "retry cap for transient failures")
	cmd.Flags().StringP("from-template", "t", "", "template ID to create from")
	cmd.Flags().Bool("no-queue", false, "create as pending without queueing")
	return cmd
}
