package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/apexhq/apex/internal/orchestrator"
)

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show task details",
		Long: `Show a task: status, workflow position, usage, checkpoints, gates,
and the pull request when one exists.

Example:
  apex show task_1724500000000_a1b2c3d4`,
		Args: cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			t, err := o.GetTask(args[0])
			if err != nil {
				return err
			}

			if useJSON() {
				return printJSON(cmd.OutOrStdout(), t)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			row := func(label, value string) {
				if value != "" {
					fmt.Fprintf(w, "%s:\t%s\n", label, value)
				}
			}

			row("ID", t.ID)
			row("Description", t.Description)
			row("Criteria", t.AcceptanceCriteria)
			row("Status", fmt.Sprintf("%s %s", statusGlyph(t.Status), t.Status))
			row("Workflow", t.Workflow)
			row("Stage", t.CurrentStage)
			row("Autonomy", string(t.Autonomy))
			row("Priority", string(t.GetPriority()))
			row("Branch", t.BranchName)
			if len(t.DependsOn) > 0 {
				row("Depends on", fmt.Sprint(t.DependsOn))
			}
			if len(t.BlockedBy) > 0 {
				row("Blocked by", fmt.Sprint(t.BlockedBy))
			}
			row("Usage", fmt.Sprintf("%s tokens, %s",
				formatTokens(t.Usage.TotalTokens), formatCost(t.Usage.EstimatedCost)))
			if t.RetryCount > 0 {
				row("Retries", fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetries))
			}
			if t.PauseReason != "" {
				row("Pause reason", string(t.PauseReason))
			}
			row("Error", t.Error)
			if t.PRURL != "" {
				row("PR", fmt.Sprintf("%s (%s)", t.PRURL, t.PRStatus))
			}
			row("Created", t.CreatedAt.Format(time.RFC3339))
			if t.CompletedAt != nil {
				row("Completed", t.CompletedAt.Format(time.RFC3339))
			}

			if cps, err := o.ListCheckpoints(t.ID); err == nil && len(cps) > 0 {
				row("Checkpoints", fmt.Sprintf("%d (latest %s)", len(cps), cps[0].CheckpointID))
			}
			if gates, err := o.ListGates(t.ID); err == nil && len(gates) > 0 {
				for _, g := range gates {
					row("Gate "+g.Name, string(g.Status))
				}
			}
			return w.Flush()
		}),
	}
}
