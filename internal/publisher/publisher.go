// Package publisher commits the applied change to a feature branch, pushes it and
// opens a pull request on GitHub.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/harrison/codeflow/internal/models"
	"github.com/harrison/codeflow/internal/workflow"
)

// Request describes one publication.
type Request struct {
	RepoPath      string
	Branch        string
	Base          string
	CommitMessage string
	Title         string
	Body          string
}

// Options configures a Publisher.
type Options struct {
	Token   string // GitHub token; without it publication stays local
	Owner   string
	Repo    string
	BaseURL string // API root for GitHub Enterprise, e.g. https://ghe.example.com/api/v3/
	Remote  string // Defaults to origin
}

// Publisher creates the branch and commit locally with go-git and, when a token
// is configured, pushes and opens the pull request with go-github.
type Publisher struct {
	opts   Options
	gh     *github.Client
	author object.Signature
	clock  func() time.Time
}

// New creates a Publisher.
func New(opts Options) (*Publisher, error) {
	if opts.Remote == "" {
		opts.Remote = "origin"
	}
	p := &Publisher{
		opts:   opts,
		author: object.Signature{Name: "codeflow", Email: "codeflow@localhost"},
		clock:  time.Now,
	}
	if opts.Token == "" {
		return p, nil
	}
	if opts.Owner == "" || opts.Repo == "" {
		return nil, fmt.Errorf("github owner and repo are required when a token is set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token})
	p.gh = github.NewClient(oauth2.NewClient(context.Background(), ts))
	if opts.BaseURL != "" {
		base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}
		p.gh.BaseURL = base
	}
	return p, nil
}

// Remote reports whether Publish pushes and opens pull requests.
func (p *Publisher) Remote() bool {
	return p.gh != nil
}

// Publish commits every change in the working tree to req.Branch and, for a
// remote publisher, pushes the branch and opens a pull request against req.Base.
// Failures are classified PublishFailed.
func (p *Publisher) Publish(ctx context.Context, req Request) (models.PublishedRef, error) {
	ref := models.PublishedRef{
		Branch: req.Branch,
		Base:   req.Base,
		Title:  req.Title,
		Body:   req.Body,
	}

	repo, err := git.PlainOpenWithOptions(req.RepoPath, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ref, publishFailed("open repository "+req.RepoPath, err)
	}

	sha, err := p.commitToBranch(repo, req)
	if err != nil {
		return ref, err
	}
	ref.CommitSHA = sha

	if p.gh == nil {
		return ref, nil
	}

	if err := p.push(ctx, repo, req.Branch); err != nil {
		return ref, err
	}

	pr, err := p.openPullRequest(ctx, req)
	if err != nil {
		return ref, err
	}
	ref.PRNumber = pr.GetNumber()
	ref.PRURL = pr.GetHTMLURL()
	return ref, nil
}

func (p *Publisher) commitToBranch(repo *git.Repository, req Request) (string, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return "", publishFailed("open worktree", err)
	}

	branchRef := plumbing.NewBranchReferenceName(req.Branch)
	_, err = repo.Reference(branchRef, true)
	exists := err == nil
	if err != nil && !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", publishFailed("look up branch "+req.Branch, err)
	}

	if err := wt.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: !exists, Keep: true}); err != nil {
		return "", publishFailed("checkout "+req.Branch, err)
	}
	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return "", publishFailed("stage changes", err)
	}

	author := p.signature(repo)
	hash, err := wt.Commit(req.CommitMessage, &git.CommitOptions{
		Author:            &author,
		AllowEmptyCommits: true,
	})
	if err != nil {
		return "", publishFailed("commit on "+req.Branch, err)
	}
	return hash.String(), nil
}

// signature uses the configured git identity when there is one.
func (p *Publisher) signature(repo *git.Repository) object.Signature {
	sig := p.author
	if cfg, err := repo.ConfigScoped(config.GlobalScope); err == nil && cfg.User.Name != "" && cfg.User.Email != "" {
		sig.Name = cfg.User.Name
		sig.Email = cfg.User.Email
	}
	sig.When = p.clock()
	return sig
}

func (p *Publisher) push(ctx context.Context, repo *git.Repository, branch string) error {
	remote, err := repo.Remote(p.opts.Remote)
	if err != nil {
		return publishFailed("find remote "+p.opts.Remote, err)
	}

	var auth transport.AuthMethod
	if urls := remote.Config().URLs; len(urls) > 0 && strings.HasPrefix(urls[0], "http") {
		auth = &githttp.BasicAuth{Username: "x-access-token", Password: p.opts.Token}
	}

	spec := config.RefSpec(fmt.Sprintf("refs/heads/%s:refs/heads/%s", branch, branch))
	err = repo.PushContext(ctx, &git.PushOptions{
		RemoteName: p.opts.Remote,
		RefSpecs:   []config.RefSpec{spec},
		Auth:       auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		if ctx.Err() != nil {
			return fmt.Errorf("push %s: %w", branch, ctx.Err())
		}
		return publishFailed("push "+branch+" to "+p.opts.Remote, err)
	}
	return nil
}

// openPullRequest creates the pull request, reusing an open one for the same branch.
func (p *Publisher) openPullRequest(ctx context.Context, req Request) (*github.PullRequest, error) {
	pr, _, err := p.gh.PullRequests.Create(ctx, p.opts.Owner, p.opts.Repo, &github.NewPullRequest{
		Title: github.String(req.Title),
		Head:  github.String(req.Branch),
		Base:  github.String(req.Base),
		Body:  github.String(req.Body),
	})
	if err == nil {
		return pr, nil
	}
	if ctx.Err() != nil {
		return nil, fmt.Errorf("create pull request: %w", ctx.Err())
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusUnprocessableEntity {
		existing, _, listErr := p.gh.PullRequests.List(ctx, p.opts.Owner, p.opts.Repo, &github.PullRequestListOptions{
			Head:  p.opts.Owner + ":" + req.Branch,
			State: "open",
		})
		if listErr == nil && len(existing) > 0 {
			return existing[0], nil
		}
	}
	return nil, publishFailed(fmt.Sprintf("create pull request %s -> %s", req.Branch, req.Base), err)
}

func publishFailed(msg string, err error) error {
	return workflow.NewStageError(models.KindPublishFailed, msg, err)
}
