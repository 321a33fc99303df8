package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/harrison/codeflow/internal/agent"
	"github.com/harrison/codeflow/internal/config"
	"github.com/harrison/codeflow/internal/jira"
	"github.com/harrison/codeflow/internal/logger"
	"github.com/harrison/codeflow/internal/metrics"
	"github.com/harrison/codeflow/internal/prompt"
	"github.com/harrison/codeflow/internal/publisher"
	"github.com/harrison/codeflow/internal/reasoner"
	"github.com/harrison/codeflow/internal/runstore"
	"github.com/harrison/codeflow/internal/stages"
	"github.com/harrison/codeflow/internal/vcs"
	"github.com/harrison/codeflow/internal/workflow"
)

// app holds everything a command needs for one invocation
type app struct {
	cfg      *config.Config
	home     string
	store    runstore.Store
	console  *logger.ConsoleLogger
	file     *logger.FileLogger
	recorder *metrics.Recorder
	engine   *workflow.Engine
}

// loadConfig resolves configuration for cmd: .env, YAML, environment, then the
// flags the user actually set.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, home, err := config.Load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config: %w", err)
	}

	var repo, level *string
	var timeout *time.Duration
	var yes *bool
	flags := cmd.Flags()
	if flags.Changed("repo") {
		v, _ := flags.GetString("repo")
		repo = &v
	}
	if flags.Changed("log-level") {
		v, _ := flags.GetString("log-level")
		level = &v
	}
	if flags.Changed("timeout") {
		v, _ := flags.GetDuration("timeout")
		timeout = &v
	}
	if flags.Changed("yes") {
		v, _ := flags.GetBool("yes")
		yes = &v
	}
	cfg.MergeWithFlags(repo, timeout, level, yes)

	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, home, nil
}

func openStore(cfg *config.Config) (runstore.Store, error) {
	store, err := runstore.Open(runstore.Options{
		Backend: cfg.Store.Backend,
		Dir:     cfg.Store.Dir,
		DBPath:  cfg.Store.DBPath,
	})
	if err != nil {
		return nil, fmt.Errorf("open run store: %w", err)
	}
	return store, nil
}

// newApp wires the engine and its collaborators from configuration.
func newApp(cmd *cobra.Command) (*app, error) {
	cfg, home, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		home:     home,
		console:  logger.NewConsoleLogger(cmd.OutOrStdout(), cfg.LogLevel),
		recorder: metrics.NewRecorder(),
	}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if a.store, err = openStore(cfg); err != nil {
		return nil, err
	}
	if a.file, err = logger.NewFileLoggerWithLevel(cfg.LogDir, cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("create run log: %w", err)
	}

	repoPath, err := filepath.Abs(cfg.Repo.Path)
	if err != nil {
		return nil, fmt.Errorf("resolve repository path: %w", err)
	}

	deps := stages.Deps{
		Analyzer: vcs.NewAnalyzer(vcs.RepoDefaults{
			MainLanguage:  cfg.Repo.MainLanguage,
			TestCommand:   cfg.Repo.TestCommand,
			DefaultBranch: cfg.Repo.DefaultBranch,
			RemoteURL:     cfg.Repo.URL,
		}),
		RepoPath: repoPath,
	}

	if cfg.Jira.Enabled() {
		client := jira.NewClient(jira.Config{
			BaseURL:  cfg.Jira.BaseURL,
			Email:    cfg.Jira.Email,
			APIToken: cfg.Jira.APIToken,
			Timeout:  cfg.Jira.Timeout,
		})
		deps.Tasks, deps.Comments = client, client
	} else {
		a.console.LogDebug("Jira is not configured; using the stub task source")
		deps.Tasks = jira.NewStubSource()
	}

	if deps.Reasoner, err = newReasoner(cfg.Reasoner); err != nil {
		return nil, err
	}

	runner := vcs.NewShellCommandRunner()
	deps.Applier = vcs.NewGitApplier(runner)
	deps.Tests = vcs.NewShellTestRunner(runner)

	pub, err := newPublisher(cfg.GitHub)
	if err != nil {
		return nil, err
	}
	if !pub.Remote() {
		a.console.LogDebug("GitHub token not configured; publishing creates a local branch only")
	}
	deps.Publisher = pub

	all, err := stages.New(deps)
	if err != nil {
		return nil, err
	}

	retry := workflow.DefaultRetryTable()
	for kind, n := range cfg.Workflow.MaxAttempts {
		retry = retry.WithMaxAttempts(kind, n)
	}

	a.engine, err = workflow.NewEngine(workflow.Config{
		Stages:        all,
		Store:         a.store,
		Prompt:        newPrompt(cmd),
		AutoConfirm:   cfg.Workflow.AutoConfirm,
		Retry:         retry,
		StageTimeout:  cfg.Workflow.StageTimeout,
		StageTimeouts: cfg.Workflow.StageTimeouts,
		Logger:        multiLogger{a.console, a.file},
		Recorder:      a.recorder,
	})
	if err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func newReasoner(cfg config.ReasonerConfig) (stages.Reasoner, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		c, err := reasoner.NewOpenAICompleter(cfg.APIKey, cfg.Model, cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("create openai reasoner: %w", err)
		}
		return reasoner.NewLLM(reasoner.WithTimeout(c, cfg.Timeout)), nil
	case config.ProviderAgent:
		return reasoner.NewLLM(reasoner.WithTimeout(agent.NewInvoker(cfg.AgentPath), cfg.Timeout)), nil
	default:
		return reasoner.NewStub(), nil
	}
}

func newPublisher(cfg config.GitHubConfig) (*publisher.Publisher, error) {
	opts := publisher.Options{Token: cfg.Token, BaseURL: cfg.BaseURL}
	if cfg.Repo != "" {
		owner, name, err := cfg.OwnerRepo()
		if err != nil {
			return nil, err
		}
		opts.Owner, opts.Repo = owner, name
	}
	pub, err := publisher.New(opts)
	if err != nil {
		return nil, fmt.Errorf("create publisher: %w", err)
	}
	return pub, nil
}

// newPrompt asks on stderr. Input other than a real file (tests) is treated as interactive.
func newPrompt(cmd *cobra.Command) workflow.ConfirmationPrompt {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok {
		return prompt.NewTerminal(f, cmd.ErrOrStderr())
	}
	return prompt.New(in, cmd.ErrOrStderr(), true)
}

// writeMetrics exports the recorder when a textfile is configured. Failures are
// reported but never fail the command.
func (a *app) writeMetrics() {
	if a.cfg.Metrics.Textfile == "" {
		return
	}
	if err := a.recorder.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.console.LogWarn(err.Error())
	}
}

// Close releases the store and the run log.
func (a *app) Close() error {
	var errs []error
	if a.file != nil {
		errs = append(errs, a.file.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
