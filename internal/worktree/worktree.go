// Package worktree creates and removes git worktrees that back worker
// sessions spawned with --worktree.
package worktree

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hal9000-dev/hal9000/internal/util"
)

// Dir is the directory, relative to the repository root, that holds
// managed worktrees.
const Dir = ".hal9000/worktrees"

// Manager handles git worktree operations for one repository.
type Manager struct {
	repoDir string
	git     string
	runner  util.Runner
}

// FindGitRoot finds the root of the git repository by traversing up from startDir.
// It returns the directory containing .git (either a directory or a file for worktrees).
func FindGitRoot(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("not a git repository (or any parent up to mount point): %s", startDir)
		}
		dir = parent
	}
}

// New creates a Manager for the repository containing repoDir.
func New(repoDir string, runner util.Runner) (*Manager, error) {
	root, err := FindGitRoot(repoDir)
	if err != nil {
		return nil, err
	}
	if runner == nil {
		runner = &util.ExecRunner{}
	}
	return &Manager{repoDir: root, git: "git", runner: runner}, nil
}

// Root returns the repository root.
func (m *Manager) Root() string { return m.repoDir }

// PathFor returns where the managed worktree for name lives.
func (m *Manager) PathFor(name string) string {
	return filepath.Join(m.repoDir, filepath.FromSlash(Dir), name)
}

func (m *Manager) run(ctx context.Context, args ...string) (string, error) {
	return m.runner.Run(ctx, m.git, append([]string{"-C", m.repoDir}, args...)...)
}

// BranchExists reports whether a local branch exists.
func (m *Manager) BranchExists(ctx context.Context, branch string) (bool, error) {
	_, err := m.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	if err == nil {
		return true, nil
	}
	if util.IsExitCode(err, 1) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check branch %s: %w", branch, err)
}

// Create adds a worktree at path on branch. The branch is created from HEAD
// when it does not exist yet.
func (m *Manager) Create(ctx context.Context, path, branch string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create worktree parent: %w", err)
	}

	exists, err := m.BranchExists(ctx, branch)
	if err != nil {
		return err
	}
	args := []string{"worktree", "add", "-b", branch, path}
	if exists {
		args = []string{"worktree", "add", path, branch}
	}
	if _, err := m.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to create worktree: %w", err)
	}
	return nil
}

// Remove removes the worktree at path. When git refuses, the directory is
// deleted and stale worktree records are pruned; the original error is
// still returned.
func (m *Manager) Remove(ctx context.Context, path string) error {
	if _, err := m.run(ctx, "worktree", "remove", "--force", path); err != nil {
		_ = os.RemoveAll(path)
		_, _ = m.run(ctx, "worktree", "prune")
		return fmt.Errorf("failed to remove worktree cleanly: %w", err)
	}
	return nil
}

// List returns the paths of all worktrees of the repository.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	out, err := m.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	var worktrees []string
	for _, line := range strings.Split(out, "\n") {
		if path, ok := strings.CutPrefix(line, "worktree "); ok {
			worktrees = append(worktrees, path)
		}
	}
	return worktrees, nil
}
