package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/codeflow/internal/display"
	"github.com/harrison/codeflow/internal/models"
	"github.com/harrison/codeflow/internal/runstore"
)

// NewRunsCommand creates the runs command group
func NewRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect persisted run records",
	}
	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			asJSON, _ := cmd.Flags().GetBool("json")

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			var unreadable []string
			summaries, err := runstore.CollectReadable(store.List(contextOrBackground(cmd)), limit, func(re *runstore.RecordError) {
				unreadable = append(unreadable, re.Error())
			})
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			if len(unreadable) > 0 {
				display.Warnings(cmd.ErrOrStderr(), []display.Warning{{
					Title:   fmt.Sprintf("Skipped %d unreadable run record(s)", len(unreadable)),
					Details: unreadable,
				}})
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), summaries)
			}
			printSummaries(cmd.OutOrStdout(), summaries)
			return nil
		},
	}
	cmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to show (0 = all)")
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asJSON, _ := cmd.Flags().GetBool("json")

			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			record, err := store.Get(contextOrBackground(cmd), args[0])
			if errors.Is(err, runstore.ErrNotFound) {
				return fmt.Errorf("no run with id %s", args[0])
			}
			if err != nil {
				return fmt.Errorf("load run %s: %w", args[0], err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), record)
			}
			printRecord(cmd.OutOrStdout(), record)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "Print the full record as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printSummaries(w io.Writer, summaries []models.RunSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No runs recorded yet.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	fmt.Fprintf(tw, "RUN ID\tTASK\tMODE\tSTATUS\tSTARTED\tDURATION\tFAILURE\n")
	for _, s := range summaries {
		failure := "-"
		if s.FailureKind != "" {
			failure = fmt.Sprintf("%s at %s", s.FailureKind, s.FailureStage)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.RunID, s.TaskID, s.Mode, s.Status,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			s.Duration().Round(time.Millisecond), failure)
	}
}

func printRecord(w io.Writer, r *models.RunRecord) {
	fmt.Fprintf(w, "Run:      %s\n", r.RunID)
	fmt.Fprintf(w, "Task:     %s\n", r.TaskID)
	fmt.Fprintf(w, "Mode:     %s\n", r.Mode)
	fmt.Fprintf(w, "Status:   %s\n", strings.ToUpper(string(r.Status)))
	fmt.Fprintf(w, "Started:  %s\n", r.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(w, "Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.Failure != nil {
		fmt.Fprintf(w, "Failure:  %s\n", r.Failure)
	}

	fmt.Fprintf(w, "\nStages:\n")
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, a := range r.StageResults {
		note := a.PayloadSummary
		if a.Outcome != models.OutcomeSuccess {
			note = fmt.Sprintf("%s: %s", a.Kind, models.FirstLine(a.Detail))
		}
		fmt.Fprintf(tw, "  %s\t#%d\t%s\t%s\t%s\n", a.Stage, a.Attempt, a.Outcome, a.Duration().Round(time.Millisecond), note)
	}
	tw.Flush()

	if len(r.RetryCounts) > 0 {
		fmt.Fprintf(w, "\nRetries:\n")
		for _, stage := range models.Pipeline() {
			if n := r.RetryCounts[stage]; n > 0 {
				fmt.Fprintf(w, "  %s: %d\n", stage, n)
			}
		}
	}

	if len(r.GuardrailDecisions) > 0 {
		fmt.Fprintf(w, "\nGuardrail:\n")
		for _, d := range r.GuardrailDecisions {
			verdict := "denied"
			if d.Granted {
				verdict = "granted"
			}
			fmt.Fprintf(w, "  %s %s via %s: %s\n", d.Stage, verdict, d.Source, d.Description)
		}
	}
}
