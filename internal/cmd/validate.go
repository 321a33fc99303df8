package cmd

import (
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harrison/codeflow/internal/config"
	"github.com/harrison/codeflow/internal/display"
	"github.com/harrison/codeflow/internal/vcs"
)

// NewValidateCommand creates and returns the validate subcommand
func NewValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check configuration, repository and tooling before a run",
		Long: `Load the configuration the way "codeflow run" does and check that a run
can proceed:
  - Configuration values are valid
  - The target repository exists and can be analyzed
  - git and the test command are on PATH
  - The agent CLI is on PATH when reasoner.provider is agent
  - The run store can be opened

Missing Jira or GitHub credentials are reported as warnings since codeflow
falls back to the stub task source and local-only publishing.

Exit code: 0 if valid, 1 if errors found`,
		Args: cobra.NoArgs,
		RunE: validateCommand,
	}
	cmd.Flags().String("repo", "", "Path to the target repository")
	return cmd
}

// lookPath is replaced in tests
var lookPath = exec.LookPath

func validateCommand(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, home, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Home:       %s\n", home)

	problems, warnings := validateEnvironment(cmd, cfg, out)

	if len(warnings) > 0 {
		fmt.Fprintln(out)
		display.Warnings(out, warnings)
	}
	if len(problems) > 0 {
		fmt.Fprintf(out, "\nFound %d problem(s):\n", len(problems))
		for _, p := range problems {
			fmt.Fprintf(out, "  - %s\n", p)
		}
		return fmt.Errorf("validation failed with %d problem(s)", len(problems))
	}
	fmt.Fprintln(out, "\nConfiguration is valid.")
	return nil
}

func validateEnvironment(cmd *cobra.Command, cfg *config.Config, out io.Writer) ([]string, []display.Warning) {
	var problems []string
	var warnings []display.Warning

	repoPath, err := filepath.Abs(cfg.Repo.Path)
	if err != nil {
		problems = append(problems, fmt.Sprintf("resolve repository path: %v", err))
	} else {
		analyzer := vcs.NewAnalyzer(vcs.RepoDefaults{
			MainLanguage:  cfg.Repo.MainLanguage,
			TestCommand:   cfg.Repo.TestCommand,
			DefaultBranch: cfg.Repo.DefaultBranch,
			RemoteURL:     cfg.Repo.URL,
		})
		summary, err := analyzer.Summarize(contextOrBackground(cmd), repoPath)
		if err != nil {
			problems = append(problems, fmt.Sprintf("repository: %v", err))
		} else {
			fmt.Fprintf(out, "Repository: %s\n", summary.Summary())
			if summary.HeadCommit == "" {
				warnings = append(warnings, display.Warning{
					Title:      "Repository has no git history",
					Message:    repoPath + " is not a git repository or has no commits",
					Suggestion: "Publishing needs a committed git checkout",
				})
			}
		}
	}

	if _, err := lookPath("git"); err != nil {
		problems = append(problems, "git not found on PATH (needed to apply patches)")
	}
	if fields := strings.Fields(cfg.Repo.TestCommand); len(fields) > 0 {
		if _, err := lookPath(fields[0]); err != nil {
			warnings = append(warnings, display.Warning{
				Title:      fmt.Sprintf("Test command %q not found on PATH", fields[0]),
				Suggestion: "Set repo.test_command or TEST_COMMAND",
			})
		}
	}

	fmt.Fprintf(out, "Reasoner:   %s\n", cfg.Reasoner.Provider)
	if cfg.Reasoner.Provider == config.ProviderAgent {
		if _, err := lookPath(cfg.Reasoner.AgentPath); err != nil {
			problems = append(problems, fmt.Sprintf("agent CLI %q not found on PATH", cfg.Reasoner.AgentPath))
		}
	}

	if cfg.Jira.Enabled() {
		fmt.Fprintf(out, "Tasks:      Jira at %s\n", cfg.Jira.BaseURL)
	} else {
		fmt.Fprintln(out, "Tasks:      stub source")
		warnings = append(warnings, display.Warning{
			Title:      "Jira not configured",
			Message:    "Tasks come from the built-in stub source",
			Suggestion: "Set JIRA_BASE_URL, JIRA_EMAIL and JIRA_API_TOKEN",
		})
	}

	if cfg.GitHub.Enabled() {
		fmt.Fprintf(out, "Publishing: pull requests on %s\n", cfg.GitHub.Repo)
	} else {
		fmt.Fprintln(out, "Publishing: local branch only")
		warnings = append(warnings, display.Warning{
			Title:      "GitHub not configured",
			Message:    "Publishing creates a local branch and commit without a pull request",
			Suggestion: "Set GITHUB_TOKEN and GITHUB_REPO",
		})
	}

	store, err := openStore(cfg)
	if err != nil {
		problems = append(problems, err.Error())
	} else {
		store.Close()
		fmt.Fprintf(out, "Run store:  %s\n", cfg.Store.Backend)
	}

	return problems, warnings
}
