package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apexhq/apex/internal/wizard"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive configuration",
		Long: `Walk through the apex configuration (budget, concurrency, autonomy,
working hours, hosting) and write .apex/config.yaml. Re-running edits
the current values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := wizard.Run(projectPath); err != nil {
				return err
			}
			if !quiet {
				fmt.Fprintln(cmd.OutOrStdout(), "Wrote .apex/config.yaml")
			}
			return nil
		},
	}
}
