package cmd

import (
	"github.com/spf13/cobra"
)

// Version is injected at build time via -ldflags
var Version = "dev"

// NewRootCommand creates and returns the root cobra command for codeflow
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codeflow",
		Short: "Guarded ticket-to-pull-request workflow engine",
		Long: `Codeflow takes a task from the tracker and drives it through a fixed
pipeline: fetch the task, analyze the repository, design, code, test,
review, publish a pull request and record notes.

Failed tests and rejected reviews send the run back to the coding stage
with feedback. Applying a patch and publishing require confirmation unless
--yes is given, and --dry-run simulates both without side effects.`,
		Version: Version,
		// Silence usage on errors to avoid duplicate help text
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "Path to config file (default: .codeflow/config.yaml)")
	cmd.PersistentFlags().String("log-level", "", "Log level: trace, debug, info, warn, error")

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewRunsCommand())
	cmd.AddCommand(NewEvalCommand())
	cmd.AddCommand(NewValidateCommand())

	return cmd
}
