package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/apexhq/apex/internal/orchestrator"
	"github.com/apexhq/apex/internal/store"
	"github.com/apexhq/apex/internal/task"
)

func newTemplateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "template",
		Aliases: []string{"tmpl"},
		Short:   "Manage task templates",
		Long: `Manage reusable task templates. Create tasks from them with
'apex new --from-template <id> "..."'.

Example:
  apex template list
  apex template save --name bugfix --workflow oneshot --priority high
  apex template show tmpl_bugfix
  apex template delete tmpl_bugfix`,
	}

	cmd.AddCommand(newTemplateListCmd())
	cmd.AddCommand(newTemplateSaveCmd())
	cmd.AddCommand(newTemplateShowCmd())
	cmd.AddCommand(newTemplateDeleteCmd())
	return cmd
}

func newTemplateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List templates",
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			templates, err := o.ListTemplates()
			if err != nil {
				return err
			}
			if useJSON() {
				return printJSON(cmd.OutOrStdout(), templates)
			}
			if len(templates) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No templates.")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tWORKFLOW\tPRIORITY\tTAGS")
			for _, tpl := range templates {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					tpl.ID, tpl.Name, tpl.Workflow, tpl.Priority, strings.Join(tpl.Tags, ","))
			}
			return w.Flush()
		}),
	}
}

func newTemplateSaveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a template",
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			id, _ := cmd.Flags().GetString("id")
			name, _ := cmd.Flags().GetString("name")
			description, _ := cmd.Flags().GetString("description")
			workflow, _ := cmd.Flags().GetString("workflow")
			priority, _ := cmd.Flags().GetString("priority")
			criteria, _ := cmd.Flags().GetString("criteria")
			tags, _ := cmd.Flags().GetStringSlice("tag")

			if name == "" {
				return fmt.Errorf("--name is required")
			}

			tpl := &store.Template{
				ID:                 id,
				Name:               name,
				Description:        description,
				Workflow:           workflow,
				Priority:           task.Priority(priority),
				AcceptanceCriteria: criteria,
				Tags:               tags,
			}
			if err := o.SaveTemplate(tpl); err != nil {
				return err
			}
			if useJSON() {
				return printJSON(cmd.OutOrStdout(), tpl)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved template %s\n", tpl.ID)
			return nil
		}),
	}

	cmd.Flags().String("id", "", "template ID (new ID assigned when empty)")
	cmd.Flags().String("name", "", "template name")
	cmd.Flags().String("description", "", "default task description")
	cmd.Flags().StringP("workflow", "w", "", "default workflow")
	cmd.Flags().StringP("priority", "p", "", "default priority")
	cmd.Flags().StringP("criteria", "c", "", "default acceptance criteria")
	cmd.Flags().StringSlice("tag", nil, "template tags")
	return cmd
}

func newTemplateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <template-id>",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			tpl, err := o.GetTemplate(args[0])
			if err != nil {
				return err
			}
			if useJSON() {
				return printJSON(cmd.OutOrStdout(), tpl)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "ID:\t%s\n", tpl.ID)
			fmt.Fprintf(w, "Name:\t%s\n", tpl.Name)
			if tpl.Description != "" {
				fmt.Fprintf(w, "Description:\t%s\n", tpl.Description)
			}
			if tpl.Workflow != "" {
				fmt.Fprintf(w, "Workflow:\t%s\n", tpl.Workflow)
			}
			if tpl.Priority != "" {
				fmt.Fprintf(w, "Priority:\t%s\n", tpl.Priority)
			}
			if tpl.AcceptanceCriteria != "" {
				fmt.Fprintf(w, "Criteria:\t%s\n", tpl.AcceptanceCriteria)
			}
			if len(tpl.Tags) > 0 {
				fmt.Fprintf(w, "Tags:\t%s\n", strings.Join(tpl.Tags, ","))
			}
			return w.Flush()
		}),
	}
}

func newTemplateDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <template-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a template",
		Args:    cobra.ExactArgs(1),
		RunE: run(func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error {
			if err := o.DeleteTemplate(args[0]); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted template %s\n", args[0])
			}
			return nil
		}),
	}
}
