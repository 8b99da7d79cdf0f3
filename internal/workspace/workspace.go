// Package workspace manages per-task working directories. The local
// implementation backs workspaces with git worktrees so tasks never touch
// the main checkout.
package workspace

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/apexhq/apex/internal/gitops"
)

// Workspace is where a task's agent runs.
type Workspace struct {
	TaskID string `json:"task_id"`
	// Path is the working directory handed to the agent process.
	Path string `json:"path"`
	// ContainerID is set when the workspace runs inside a container.
	// The local manager leaves it empty.
	ContainerID string `json:"container_id,omitempty"`
}

// Manager provisions and releases task workspaces.
type Manager interface {
	// Acquire provisions (or returns the existing) workspace for a task.
	Acquire(taskID, branch string) (*Workspace, error)
	// Get returns the task's workspace, or nil when none is provisioned.
	Get(taskID string) *Workspace
	// Cleanup removes the task's workspace after completion.
	Cleanup(taskID string) error
	// Release frees the workspace without deleting work in progress,
	// used on cancellation.
	Release(taskID string) error
}

// LocalManager implements Manager with git worktrees under
// <repo>/.apex/worktrees/<taskID>.
type LocalManager struct {
	git    *gitops.Git
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*Workspace
}

// Option configures a LocalManager.
type Option func(*LocalManager)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *LocalManager) { m.logger = l }
}

// NewLocalManager creates a worktree-backed manager for a repository.
func NewLocalManager(git *gitops.Git, opts ...Option) *LocalManager {
	m := &LocalManager{
		git:    git,
		logger: slog.Default(),
		active: make(map[string]*Workspace),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Acquire creates the task worktree on the given branch, or returns the
// already-provisioned workspace.
func (m *LocalManager) Acquire(taskID, branch string) (*Workspace, error) {
	m.mu.Lock()
	if ws, ok := m.active[taskID]; ok {
		m.mu.Unlock()
		return ws, nil
	}
	m.mu.Unlock()

	path, err := m.git.CreateWorktree(taskID, branch)
	if err != nil {
		return nil, fmt.Errorf("acquire workspace for %s: %w", taskID, err)
	}

	ws := &Workspace{TaskID: taskID, Path: path}
	m.mu.Lock()
	m.active[taskID] = ws
	m.mu.Unlock()

	m.logger.Debug("workspace acquired", "task", taskID, "path", path)
	return ws, nil
}

// Get returns the provisioned workspace, nil when absent.
func (m *LocalManager) Get(taskID string) *Workspace {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[taskID]
}

// Cleanup removes the task's worktree and forgets the workspace.
func (m *LocalManager) Cleanup(taskID string) error {
	m.mu.Lock()
	delete(m.active, taskID)
	m.mu.Unlock()

	if err := m.git.RemoveWorktree(taskID); err != nil {
		return fmt.Errorf("cleanup workspace for %s: %w", taskID, err)
	}
	m.logger.Debug("workspace cleaned up", "task", taskID)
	return nil
}

// Release forgets the workspace but keeps the worktree on disk so work in
// progress survives a cancellation.
func (m *LocalManager) Release(taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, taskID)
	return nil
}
