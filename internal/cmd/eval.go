package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/codeflow/internal/eval"
)

// NewEvalCommand creates the eval command
func NewEvalCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eval <task-id>...",
		Short: "Run several tasks and report the success rate",
		Long: `Run each task through the pipeline in dry-run mode, one after another,
and write a JSON report to <home>/runs/eval_<timestamp>.json.

Examples:
  codeflow eval DEMO-001 DEMO-002
  codeflow eval PROJ-1 PROJ-2 --live --yes   # Real patches and pull requests`,
		Args: cobra.MinimumNArgs(1),
		RunE: evalCommand,
	}
	cmd.Flags().Bool("live", false, "Run in normal mode instead of dry-run")
	cmd.Flags().BoolP("yes", "y", false, "Confirm side-effecting stages without prompting")
	cmd.Flags().String("repo", "", "Path to the target repository")
	return cmd
}

func evalCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	live, _ := cmd.Flags().GetBool("live")
	h := eval.NewHarness(a.engine, filepath.Join(a.home, "runs"))
	h.DryRun = !live

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := h.Run(ctx, args)
	a.writeMetrics()
	if report != nil {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "\nEvaluated %d of %d task(s): %d succeeded, %d failed (%.0f%%)\n",
			len(report.Results), len(report.Tickets), report.Successes, report.Failures, report.SuccessRate*100)
		for _, r := range report.Results {
			fmt.Fprintf(out, "  %-12s %-8s %s\n", r.TicketID, r.Status, r.RunID)
		}
		if report.Path != "" {
			fmt.Fprintf(out, "Evaluation report saved to %s\n", report.Path)
		}
	}
	return err
}
