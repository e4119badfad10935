// internal/gitops/gitops.go
// Branch isolation for code modification. Read-side queries go through
// go-git; mutations shell out to the git CLI so merge and checkout semantics
// match what a developer would get by hand.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"
)

// Repo wraps one working tree. The branch checked out at construction time is
// treated as the trunk for the lifetime of the Repo.
type Repo struct {
	root   string
	trunk  string
	logger *zap.Logger

	repo *git.Repository
}

// Open attaches to an existing repository at root. Fails when root is not
// inside a git working tree or HEAD is detached.
func Open(root string, logger *zap.Logger) (*Repo, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	repo, err := git.PlainOpenWithOptions(root, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("gitops: open %s: %w", root, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("gitops: resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return nil, errors.New("gitops: HEAD is detached, need a branch checkout")
	}

	return &Repo{
		root:   root,
		trunk:  head.Name().Short(),
		logger: logger.Named("gitops"),
		repo:   repo,
	}, nil
}

// Trunk returns the branch treated as the merge target.
func (r *Repo) Trunk() string { return r.trunk }

// CurrentBranch returns the branch HEAD points at.
func (r *Repo) CurrentBranch() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("gitops: resolve HEAD: %w", err)
	}
	if !head.Name().IsBranch() {
		return "", errors.New("gitops: HEAD is detached")
	}
	return head.Name().Short(), nil
}

// BranchExists reports whether a local branch exists.
func (r *Repo) BranchExists(name string) bool {
	_, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	return err == nil
}

// CreateBranch creates and checks out a new branch from the current HEAD.
func (r *Repo) CreateBranch(ctx context.Context, name string) error {
	if _, err := r.run(ctx, "checkout", "-b", name); err != nil {
		return fmt.Errorf("gitops: create branch %s: %w", name, err)
	}
	r.logger.Debug("created branch", zap.String("branch", name))
	return nil
}

// DiscardBranch abandons a branch and its commits. Calling it for a branch
// that does not exist is a successful no-op.
func (r *Repo) DiscardBranch(ctx context.Context, name string) error {
	if !r.BranchExists(name) {
		return nil
	}

	current, err := r.CurrentBranch()
	if err != nil {
		return err
	}
	if current == name {
		// Drop uncommitted edits so the checkout cannot carry them over.
		if _, err := r.run(ctx, "checkout", "--", "."); err != nil {
			return fmt.Errorf("gitops: restore working tree: %w", err)
		}
		if _, err := r.run(ctx, "checkout", r.trunk); err != nil {
			return fmt.Errorf("gitops: checkout %s: %w", r.trunk, err)
		}
	}

	if _, err := r.run(ctx, "branch", "-D", name); err != nil {
		return fmt.Errorf("gitops: delete branch %s: %w", name, err)
	}
	r.logger.Info("discarded branch", zap.String("branch", name))
	return nil
}

// MergeToTrunk merges a branch into the trunk with a merge commit. A missing
// branch is a successful no-op.
func (r *Repo) MergeToTrunk(ctx context.Context, name, message string) error {
	if !r.BranchExists(name) {
		return nil
	}

	if _, err := r.run(ctx, "checkout", r.trunk); err != nil {
		return fmt.Errorf("gitops: checkout %s: %w", r.trunk, err)
	}
	if message == "" {
		message = "Merge branch '" + name + "'"
	}
	if _, err := r.run(ctx, "merge", "--no-ff", name, "-m", message); err != nil {
		return fmt.Errorf("gitops: merge %s: %w", name, err)
	}
	r.logger.Info("merged branch", zap.String("branch", name), zap.String("trunk", r.trunk))
	return nil
}

// Commit stages one path and commits it, returning the short commit hash.
func (r *Repo) Commit(ctx context.Context, path, message string) (string, error) {
	if _, err := r.run(ctx, "add", path); err != nil {
		return "", fmt.Errorf("gitops: stage %s: %w", path, err)
	}
	if _, err := r.run(ctx, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("gitops: commit: %w", err)
	}
	out, err := r.run(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("gitops: resolve commit: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// run executes one git subcommand in the repo root. Non-zero exit becomes an
// error carrying the combined output.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.root
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}
