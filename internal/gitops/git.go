// Package gitops wraps the git operations apex performs on task branches
// and worktrees. Every command goes through a CommandRunner so tests can
// substitute a mock.
package gitops

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// WorktreeDirName is the directory under .apex holding task worktrees.
const WorktreeDirName = "worktrees"

// Git performs git operations rooted at a repository path.
type Git struct {
	repoPath string
	runner   CommandRunner
	logger   *slog.Logger

	// mu serialises worktree add/prune, which git refuses to run
	// concurrently against one repository.
	mu sync.Mutex
}

// Option configures a Git.
type Option func(*Git)

// WithRunner substitutes the command runner.
func WithRunner(r CommandRunner) Option {
	return func(g *Git) { g.runner = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Git) { g.logger = l }
}

// New creates a Git rooted at repoPath.
func New(repoPath string, opts ...Option) *Git {
	g := &Git{
		repoPath: repoPath,
		runner:   NewExecRunner(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RepoPath returns the repository root.
func (g *Git) RepoPath() string {
	return g.repoPath
}

func (g *Git) run(args ...string) (string, error) {
	return g.runner.Run(g.repoPath, "git", args...)
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch() (string, error) {
	return g.run("rev-parse", "--abbrev-ref", "HEAD")
}

// RemoteURL returns the URL of the origin remote.
func (g *Git) RemoteURL() (string, error) {
	return g.run("remote", "get-url", "origin")
}

// IsClean reports whether the working tree has no uncommitted changes.
func (g *Git) IsClean() (bool, error) {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// CreateBranch creates a branch at HEAD without switching to it.
// An already-existing branch is not an error.
func (g *Git) CreateBranch(name string) error {
	if _, err := g.run("branch", name); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			return nil
		}
		return fmt.Errorf("create branch %s: %w", name, err)
	}
	return nil
}

// SwitchBranch checks out a branch.
func (g *Git) SwitchBranch(name string) error {
	if _, err := g.run("checkout", name); err != nil {
		return fmt.Errorf("switch to branch %s: %w", name, err)
	}
	return nil
}

// Push pushes a branch to origin, setting the upstream on first push.
func (g *Git) Push(branch string) error {
	if _, err := g.run("push", "--set-upstream", "origin", branch); err != nil {
		return fmt.Errorf("push %s: %w", branch, err)
	}
	return nil
}

// WorktreePath returns where a task's worktree lives.
func (g *Git) WorktreePath(taskID string) string {
	return filepath.Join(g.repoPath, ".apex", WorktreeDirName, taskID)
}

// CreateWorktree creates an isolated worktree for a task on the given
// branch, pruning stale registrations and retrying once when the first
// attempt fails. Returns the worktree path.
func (g *Git) CreateWorktree(taskID, branch string) (string, error) {
	path := g.WorktreePath(taskID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create worktrees dir: %w", err)
	}

	if err := g.tryAddWorktree(branch, path); err != nil {
		return "", fmt.Errorf("create worktree for %s: %w", taskID, err)
	}
	g.logger.Debug("created worktree", "task", taskID, "path", path, "branch", branch)
	return path, nil
}

// tryAddWorktree adds a worktree, handling the existing-branch case and
// stale worktree registrations left by deleted directories.
func (g *Git) tryAddWorktree(branch, path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	// New branch first, then existing branch.
	if _, err := g.run("worktree", "add", "-b", branch, path); err == nil {
		return nil
	}
	if _, err := g.run("worktree", "add", path, branch); err == nil {
		return nil
	}

	// Prune stale registrations and retry both forms once.
	_, _ = g.run("worktree", "prune")

	if _, err := g.run("worktree", "add", "-b", branch, path); err == nil {
		return nil
	}
	_, err := g.run("worktree", "add", path, branch)
	return err
}

// RemoveWorktree removes a task's worktree and its directory.
func (g *Git) RemoveWorktree(taskID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	path := g.WorktreePath(taskID)
	if _, err := g.run("worktree", "remove", "--force", path); err != nil {
		// The registration may already be gone; clear the directory and
		// prune either way.
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("remove worktree %s: %w", taskID, err)
		}
	}
	_, _ = g.run("worktree", "prune")
	return nil
}

// PruneWorktrees clears stale worktree registrations.
func (g *Git) PruneWorktrees() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.run("worktree", "prune")
	return err
}
