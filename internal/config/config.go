package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/harrison/codeflow/internal/logger"
	"github.com/harrison/codeflow/internal/models"
)

// Reasoner providers
const (
	ProviderStub   = "stub"
	ProviderOpenAI = "openai"
	ProviderAgent  = "agent"
)

// Run store backends
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// RepoConfig describes the target repository
type RepoConfig struct {
	Path          string `yaml:"path"`
	MainLanguage  string `yaml:"main_language"`
	TestCommand   string `yaml:"test_command"`
	DefaultBranch string `yaml:"default_branch"`
	URL           string `yaml:"url"`
}

// JiraConfig holds tracker credentials. An empty BaseURL selects the stub task source.
type JiraConfig struct {
	BaseURL  string        `yaml:"base_url"`
	Email    string        `yaml:"email"`
	APIToken string        `yaml:"api_token"`
	Timeout  time.Duration `yaml:"-"`
}

// Enabled reports whether enough is configured to call Jira.
func (j JiraConfig) Enabled() bool {
	return j.BaseURL != "" && j.Email != "" && j.APIToken != ""
}

// GitHubConfig holds pull request publishing settings. Without a token the
// publisher only creates the local branch and commit.
type GitHubConfig struct {
	Token   string `yaml:"token"`
	Repo    string `yaml:"repo"`     // owner/name
	BaseURL string `yaml:"base_url"` // GitHub Enterprise API URL (optional)
}

// Enabled reports whether pull requests can be opened.
func (g GitHubConfig) Enabled() bool {
	return g.Token != "" && g.Repo != ""
}

// OwnerRepo splits Repo into owner and name.
func (g GitHubConfig) OwnerRepo() (string, string, error) {
	owner, name, ok := strings.Cut(g.Repo, "/")
	if !ok || owner == "" || name == "" || strings.Contains(name, "/") {
		return "", "", fmt.Errorf("github.repo must be owner/name, got %q", g.Repo)
	}
	return owner, name, nil
}

// ReasonerConfig selects the language model backend
type ReasonerConfig struct {
	Provider  string        `yaml:"provider"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	APIKey    string        `yaml:"api_key"`
	AgentPath string        `yaml:"agent_path"` // CLI binary for the agent provider
	Timeout   time.Duration `yaml:"-"`
}

// WorkflowConfig tunes the engine
type WorkflowConfig struct {
	// MaxAttempts overrides the attempt budget per recoverable failure kind
	MaxAttempts map[models.FailureKind]int `yaml:"max_attempts"`

	// StageTimeout bounds every stage unless overridden in StageTimeouts
	StageTimeout time.Duration `yaml:"-"`

	// StageTimeouts holds per-stage overrides
	StageTimeouts map[models.StageName]time.Duration `yaml:"-"`

	// AutoConfirm grants side-effecting stages without prompting
	AutoConfirm bool `yaml:"auto_confirm"`
}

// StoreConfig selects where run records are kept. Empty paths resolve under the home directory.
type StoreConfig struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	DBPath  string `yaml:"db_path"`
}

// MetricsConfig enables the Prometheus textfile export
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// Config represents codeflow configuration options
type Config struct {
	Repo     RepoConfig     `yaml:"repo"`
	Jira     JiraConfig     `yaml:"jira"`
	GitHub   GitHubConfig   `yaml:"github"`
	Reasoner ReasonerConfig `yaml:"reasoner"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Store    StoreConfig    `yaml:"store"`
	Metrics  MetricsConfig  `yaml:"metrics"`

	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs are written; empty means <home>/logs
	LogDir string `yaml:"log_dir"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Repo: RepoConfig{
			Path:          ".",
			MainLanguage:  "Python",
			TestCommand:   "pytest",
			DefaultBranch: "main",
		},
		Jira: JiraConfig{
			Timeout: 30 * time.Second,
		},
		Reasoner: ReasonerConfig{
			Provider:  ProviderStub,
			Model:     "gpt-4o-mini",
			AgentPath: "claude",
			Timeout:   5 * time.Minute,
		},
		Workflow: WorkflowConfig{
			MaxAttempts:   map[models.FailureKind]int{},
			StageTimeout:  10 * time.Minute,
			StageTimeouts: map[models.StageName]time.Duration{},
		},
		Store: StoreConfig{
			Backend: StoreFile,
		},
		LogLevel: "info",
	}
}

// yamlConfig mirrors Config with duration fields as strings
type yamlConfig struct {
	Repo     RepoConfig `yaml:"repo"`
	Jira     struct {
		JiraConfig `yaml:",inline"`
		Timeout    string `yaml:"timeout"`
	} `yaml:"jira"`
	GitHub   GitHubConfig `yaml:"github"`
	Reasoner struct {
		ReasonerConfig `yaml:",inline"`
		Timeout        string `yaml:"timeout"`
	} `yaml:"reasoner"`
	Workflow struct {
		MaxAttempts   map[string]int    `yaml:"max_attempts"`
		StageTimeout  string            `yaml:"stage_timeout"`
		StageTimeouts map[string]string `yaml:"stage_timeouts"`
		AutoConfirm   *bool             `yaml:"auto_confirm"`
	} `yaml:"workflow"`
	Store    StoreConfig   `yaml:"store"`
	Metrics  MetricsConfig `yaml:"metrics"`
	LogLevel string        `yaml:"log_level"`
	LogDir   string        `yaml:"log_dir"`
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply non-zero values from file (merging with defaults)
	mergeString(&cfg.Repo.Path, y.Repo.Path)
	mergeString(&cfg.Repo.MainLanguage, y.Repo.MainLanguage)
	mergeString(&cfg.Repo.TestCommand, y.Repo.TestCommand)
	mergeString(&cfg.Repo.DefaultBranch, y.Repo.DefaultBranch)
	mergeString(&cfg.Repo.URL, y.Repo.URL)

	mergeString(&cfg.Jira.BaseURL, y.Jira.BaseURL)
	mergeString(&cfg.Jira.Email, y.Jira.Email)
	mergeString(&cfg.Jira.APIToken, y.Jira.APIToken)
	if err := mergeDuration(&cfg.Jira.Timeout, "jira.timeout", y.Jira.Timeout); err != nil {
		return nil, err
	}

	mergeString(&cfg.GitHub.Token, y.GitHub.Token)
	mergeString(&cfg.GitHub.Repo, y.GitHub.Repo)
	mergeString(&cfg.GitHub.BaseURL, y.GitHub.BaseURL)

	mergeString(&cfg.Reasoner.Provider, y.Reasoner.Provider)
	mergeString(&cfg.Reasoner.Model, y.Reasoner.Model)
	mergeString(&cfg.Reasoner.BaseURL, y.Reasoner.BaseURL)
	mergeString(&cfg.Reasoner.APIKey, y.Reasoner.APIKey)
	mergeString(&cfg.Reasoner.AgentPath, y.Reasoner.AgentPath)
	if err := mergeDuration(&cfg.Reasoner.Timeout, "reasoner.timeout", y.Reasoner.Timeout); err != nil {
		return nil, err
	}

	for kind, n := range y.Workflow.MaxAttempts {
		cfg.Workflow.MaxAttempts[models.FailureKind(kind)] = n
	}
	if err := mergeDuration(&cfg.Workflow.StageTimeout, "workflow.stage_timeout", y.Workflow.StageTimeout); err != nil {
		return nil, err
	}
	for stage, raw := range y.Workflow.StageTimeouts {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid workflow.stage_timeouts.%s %q: %w", stage, raw, err)
		}
		cfg.Workflow.StageTimeouts[models.StageName(stage)] = d
	}
	// auto_confirm is explicitly set if present in YAML
	if y.Workflow.AutoConfirm != nil {
		cfg.Workflow.AutoConfirm = *y.Workflow.AutoConfirm
	}

	mergeString(&cfg.Store.Backend, y.Store.Backend)
	mergeString(&cfg.Store.Dir, y.Store.Dir)
	mergeString(&cfg.Store.DBPath, y.Store.DBPath)
	mergeString(&cfg.Metrics.Textfile, y.Metrics.Textfile)
	mergeString(&cfg.LogLevel, y.LogLevel)
	mergeString(&cfg.LogDir, y.LogDir)

	return cfg, nil
}

func mergeString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func mergeDuration(dst *time.Duration, field, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s format %q: %w", field, raw, err)
	}
	*dst = d
	return nil
}

// LoadConfigFromDir loads configuration from .codeflow/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, HomeDirName, "config.yaml"))
}

// ApplyEnv overrides configuration from environment variables. lookup is
// normally os.LookupEnv.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	str("REPO_PATH", &c.Repo.Path)
	str("TEST_COMMAND", &c.Repo.TestCommand)
	str("REPO_URL", &c.Repo.URL)
	str("GITHUB_DEFAULT_BRANCH", &c.Repo.DefaultBranch)
	str("GITHUB_TOKEN", &c.GitHub.Token)
	str("GITHUB_REPO", &c.GitHub.Repo)
	str("JIRA_BASE_URL", &c.Jira.BaseURL)
	str("JIRA_EMAIL", &c.Jira.Email)
	str("JIRA_API_TOKEN", &c.Jira.APIToken)
	str("OPENAI_API_KEY", &c.Reasoner.APIKey)

	if v, ok := lookup("CODEFLOW_AUTO_CONFIRM"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid CODEFLOW_AUTO_CONFIRM %q: %w", v, err)
		}
		c.Workflow.AutoConfirm = b
	}
	return nil
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
// This allows CLI flags to take precedence over config file settings
func (c *Config) MergeWithFlags(repoPath *string, stageTimeout *time.Duration, logLevel *string, autoConfirm *bool) {
	if repoPath != nil {
		c.Repo.Path = *repoPath
	}
	if stageTimeout != nil {
		c.Workflow.StageTimeout = *stageTimeout
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if autoConfirm != nil {
		c.Workflow.AutoConfirm = *autoConfirm
	}
}

// ResolvePaths fills empty store and log locations under home.
func (c *Config) ResolvePaths(home string) {
	if c.Store.Dir == "" {
		c.Store.Dir = filepath.Join(home, "runs")
	}
	if c.Store.DBPath == "" {
		c.Store.DBPath = filepath.Join(home, "runs.db")
	}
	if c.LogDir == "" {
		c.LogDir = filepath.Join(home, "logs")
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	if !logger.ValidLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if strings.TrimSpace(c.Repo.Path) == "" {
		return fmt.Errorf("repo.path cannot be empty")
	}
	if strings.TrimSpace(c.Repo.TestCommand) == "" {
		return fmt.Errorf("repo.test_command cannot be empty")
	}

	switch c.Reasoner.Provider {
	case ProviderStub, ProviderAgent:
	case ProviderOpenAI:
		if c.Reasoner.APIKey == "" {
			return fmt.Errorf("reasoner.provider %q requires OPENAI_API_KEY or reasoner.api_key", ProviderOpenAI)
		}
	default:
		return fmt.Errorf("invalid reasoner.provider %q, must be one of: stub, openai, agent", c.Reasoner.Provider)
	}

	switch c.Store.Backend {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("invalid store.backend %q, must be one of: file, sqlite", c.Store.Backend)
	}

	if c.GitHub.Repo != "" {
		if _, _, err := c.GitHub.OwnerRepo(); err != nil {
			return err
		}
	}

	for kind, n := range c.Workflow.MaxAttempts {
		if kind != models.KindTestFailed && kind != models.KindReviewRejected {
			return fmt.Errorf("workflow.max_attempts: %q is not a retryable failure kind", kind)
		}
		if n < 1 {
			return fmt.Errorf("workflow.max_attempts.%s must be >= 1, got %d", kind, n)
		}
	}

	// Timeouts can be 0 (use the default) or positive, negative is invalid
	if c.Workflow.StageTimeout < 0 {
		return fmt.Errorf("workflow.stage_timeout must be >= 0, got %v", c.Workflow.StageTimeout)
	}
	for stage, d := range c.Workflow.StageTimeouts {
		if !stage.Valid() {
			return fmt.Errorf("workflow.stage_timeouts: unknown stage %q", stage)
		}
		if d < 0 {
			return fmt.Errorf("workflow.stage_timeouts.%s must be >= 0, got %v", stage, d)
		}
	}
	if c.Jira.Timeout < 0 || c.Reasoner.Timeout < 0 {
		return fmt.Errorf("timeouts must be >= 0")
	}

	return nil
}
