package vcs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/spf13/afero"

	"github.com/harrison/codeflow/internal/models"
	"github.com/harrison/codeflow/internal/workflow"
)

const maxTopFiles = 40

var languageByExt = map[string]string{
	".go":   "Go",
	".py":   "Python",
	".ts":   "TypeScript",
	".tsx":  "TypeScript",
	".js":   "JavaScript",
	".java": "Java",
	".rb":   "Ruby",
	".rs":   "Rust",
	".kt":   "Kotlin",
	".cs":   "C#",
	".php":  "PHP",
}

// RepoDefaults are configured values the analyzer cannot discover.
type RepoDefaults struct {
	MainLanguage  string // Detected from file extensions when empty
	TestCommand   string
	DefaultBranch string
	RemoteURL     string // Used when the repository has no origin remote
}

// Analyzer summarizes a repository with go-git. Directories that are not git
// repositories are summarized from the filesystem alone.
type Analyzer struct {
	defaults RepoDefaults
	fs       afero.Fs
}

// NewAnalyzer creates an analyzer reading the host filesystem.
func NewAnalyzer(defaults RepoDefaults) *Analyzer {
	return &Analyzer{defaults: defaults, fs: afero.NewOsFs()}
}

// Summarize describes the repository at repoPath.
func (a *Analyzer) Summarize(ctx context.Context, repoPath string) (models.RepoSummary, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return models.RepoSummary{}, fmt.Errorf("resolve repository path: %w", err)
	}
	if info, err := a.fs.Stat(abs); err != nil || !info.IsDir() {
		return models.RepoSummary{}, workflow.NewStageError(models.KindStageError, "repository path "+abs+" is not a directory", err)
	}

	summary := models.RepoSummary{
		Path:          abs,
		MainLanguage:  a.defaults.MainLanguage,
		TestCommand:   a.defaults.TestCommand,
		DefaultBranch: a.defaults.DefaultBranch,
		RemoteURL:     a.defaults.RemoteURL,
	}

	files, err := a.gitFiles(ctx, abs, &summary)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		files, err = a.walkFiles(ctx, abs)
	}
	if err != nil {
		return models.RepoSummary{}, err
	}

	sort.Strings(files)
	summary.FileCount = len(files)
	if summary.MainLanguage == "" {
		summary.MainLanguage = detectLanguage(files)
	}
	if len(files) > maxTopFiles {
		files = files[:maxTopFiles]
	}
	summary.TopFiles = files
	return summary, nil
}

// gitFiles fills branch, head and remote details and lists the files tracked at HEAD.
func (a *Analyzer) gitFiles(ctx context.Context, path string, summary *models.RepoSummary) ([]string, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, err
	}

	if remote, err := repo.Remote("origin"); err == nil && len(remote.Config().URLs) > 0 {
		summary.RemoteURL = remote.Config().URLs[0]
	}

	head, err := repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		// Repository without commits
		return nil, nil
	}
	if err != nil {
		return nil, workflow.NewStageError(models.KindStageError, "read HEAD of "+path, err)
	}
	if head.Name().IsBranch() {
		summary.CurrentBranch = head.Name().Short()
	}
	summary.HeadCommit = head.Hash().String()

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, workflow.NewStageError(models.KindStageError, "read HEAD commit", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, workflow.NewStageError(models.KindStageError, "read HEAD tree", err)
	}

	var files []string
	err = tree.Files().ForEach(func(f *object.File) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		files = append(files, f.Name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list tracked files: %w", err)
	}
	return files, nil
}

// walkFiles lists regular files under root, skipping hidden directories.
func (a *Analyzer) walkFiles(ctx context.Context, root string) ([]string, error) {
	var files []string
	err := afero.Walk(a.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.IsDir() {
			if p != root && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

// detectLanguage returns the language with the most source files, or "unknown".
func detectLanguage(files []string) string {
	counts := map[string]int{}
	for _, f := range files {
		if lang, ok := languageByExt[strings.ToLower(filepath.Ext(f))]; ok {
			counts[lang]++
		}
	}
	best, bestCount := "unknown", 0
	for lang, n := range counts {
		if n > bestCount || (n == bestCount && lang < best) {
			best, bestCount = lang, n
		}
	}
	return best
}
