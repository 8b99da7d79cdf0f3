package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/apexhq/apex/internal/orchestrator"
	"github.com/apexhq/apex/internal/task"
)

// useJSON reports whether output should be machine-readable: either
// requested with --json or because stdout is not a terminal.
func useJSON() bool {
	return jsonOut || !isatty.IsTerminal(os.Stdout.Fd())
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// openOrchestrator initializes an orchestrator for the project. The
// returned cleanup closes the store.
func openOrchestrator(ctx context.Context) (*orchestrator.Orchestrator, func(), error) {
	o := orchestrator.New(projectPath, orchestrator.WithLogger(cliLogger()))
	if err := o.Initialize(ctx); err != nil {
		return nil, nil, err
	}
	return o, func() { _ = o.Close() }, nil
}

// run wraps a command body with orchestrator setup and teardown.
func run(fn func(cmd *cobra.Command, args []string, o *orchestrator.Orchestrator) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		o, cleanup, err := openOrchestrator(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()
		return fn(cmd, args, o)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

// statusGlyph marks a task status in table output.
func statusGlyph(s task.Status) string {
	switch s {
	case task.StatusInProgress, task.StatusPlanning:
		return "»"
	case task.StatusCompleted:
		return "✓"
	case task.StatusFailed:
		return "✗"
	case task.StatusPaused, task.StatusWaitingApproval:
		return "∥"
	case task.StatusCancelled:
		return "⊘"
	default:
		return "·"
	}
}

// formatTokens renders a token count with thousands separators.
func formatTokens(n int) string {
	s := strconv.Itoa(n)
	if len(s) <= 3 {
		return s
	}
	var out []byte
	for i, c := range []byte(s) {
		if i > 0 && (len(s)-i)%3 == 0 {
			out = append(out, ',')
		}
		out = append(out, c)
	}
	return string(out)
}

func formatCost(c float64) string {
	return fmt.Sprintf("$%.2f", c)
}
