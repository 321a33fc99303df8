package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harrison/codeflow/internal/models"
)

// NewRunCommand creates the run command
func NewRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <task-id>",
		Short: "Run one task through the pipeline",
		Long: `Run one task through the pipeline and persist its run record.

The task is fetched from Jira when jira.base_url, jira.email and
jira.api_token are configured, otherwise from the built-in stub source
(try DEMO-001). Before the code and publish stages you are asked to
confirm; --yes grants both without asking.

Configuration is loaded from .codeflow/config.yaml if present.
CLI flags override configuration file settings.

Examples:
  codeflow run DEMO-001 --dry-run        # Simulate patching and publishing
  codeflow run PROJ-42 --yes             # No confirmation prompts
  codeflow run PROJ-42 --repo ../service # Target another checkout
  codeflow run PROJ-42 --timeout 20m     # Default per-stage timeout`,
		Args: cobra.ExactArgs(1),
		RunE: runCommand,
	}

	cmd.Flags().Bool("dry-run", false, "Simulate side-effecting stages")
	cmd.Flags().BoolP("yes", "y", false, "Confirm side-effecting stages without prompting")
	cmd.Flags().String("repo", "", "Path to the target repository")
	cmd.Flags().Duration("timeout", 0, "Default per-stage timeout (e.g. 10m)")

	return cmd
}

// runCommand implements the run command logic
func runCommand(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	mode := models.ModeNormal
	if dryRun, _ := cmd.Flags().GetBool("dry-run"); dryRun {
		mode = models.ModeDryRun
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	record, err := a.engine.Run(ctx, args[0], mode)
	a.writeMetrics()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Run log: %s\n", a.file.Path())
	return runError(record)
}

// runError turns a non-successful record into the command's error so the
// process exits non-zero.
func runError(record *models.RunRecord) error {
	if record.Status == models.RunSucceeded {
		return nil
	}
	if record.Failure != nil {
		return fmt.Errorf("run %s %s: %s", record.RunID, record.Status, record.Failure)
	}
	return fmt.Errorf("run %s %s", record.RunID, record.Status)
}

// contextOrBackground tolerates commands executed without a context.
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
