package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apexhq/apex/internal/orchestrator"
)

func newPRCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pr",
		Short: "Pull request operations",
		Long: `Create and inspect pull requests for tasks.

Example:
  apex pr create task_1724500000000_a1b2c3d4
  apex pr create task_1724500000000_a1b2c3d4 --draft
  apex pr push task_1724500000000_a1b2c3d4
  apex pr status task_1724500000000_a1b2c3d4`,
	}

	cmd.AddCommand(newPRCreateCmd())
	cmd.AddCommand(newPRPushCmd())
	cmd.AddCommand(newPRStatusCmd())
	return cmd
}

func newPRCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <task-id>",
		Short: "Open a pull request for a task",
		Long: `Open a pull request for a task's branch via the gh CLI. The title
and body are generated from the task unless overridden.`,
		Args: cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			title, _ := cmd.Flags().GetString("title")
			body, _ := cmd.Flags().GetString("body")
			draft, _ := cmd.Flags().GetBool("draft")

			url, err := o.CreatePullRequest(args[0], orchestrator.PROptions{
				Title: title,
				Body:  body,
				Draft: draft,
			})
			if err != nil {
				return err
			}
			if useJSON() {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"task_id": args[0],
					"pr_url":  url,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), url)
			return nil
		}),
	}

	cmd.Flags().String("title", "", "override the generated title")
	cmd.Flags().String("body", "", "override the generated body")
	cmd.Flags().Bool("draft", false, "open as a draft")
	return cmd
}

func newPRPushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "push <task-id>",
		Short: "Push a task's branch to origin",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			result, err := o.PushBranch(args[0])
			if err != nil {
				return err
			}
			if useJSON() {
				return printJSON(cmd.OutOrStdout(), result)
			}
			if result.Success {
				fmt.Fprintf(cmd.OutOrStdout(), "Pushed %s\n", result.RemoteBranch)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Push failed: %s\n", result.Error)
			}
			return nil
		}),
	}
}

func newPRStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task's pull request status",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			t, err := o.GetTask(args[0])
			if err != nil {
				return err
			}
			if useJSON() {
				return printJSON(cmd.OutOrStdout(), map[string]string{
					"task_id":   t.ID,
					"pr_url":    t.PRURL,
					"pr_status": t.PRStatus,
				})
			}
			if t.PRURL == "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%s has no pull request\n", t.ID)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", t.PRURL, t.PRStatus)
			return nil
		}),
	}
}
