package filestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNothingToCommit is returned when the worktree has no changes.
var ErrNothingToCommit = errors.New("nothing to commit")

// GitVersioner commits kept edits to the git repository holding the theme.
type GitVersioner struct {
	repo   *git.Repository
	author string
	email  string
}

// NewGitVersioner opens the repository at root.
func NewGitVersioner(root string) (*GitVersioner, error) {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return nil, fmt.Errorf("opening git repository at %s: %w", root, err)
	}
	return &GitVersioner{repo: repo, author: "themeagent", email: "themeagent@localhost"}, nil
}

// Commit stages the given paths and records a commit. Deleted paths are
// removed from the index. It returns the new commit hash.
func (v *GitVersioner) Commit(ctx context.Context, message string, paths []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	wt, err := v.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("opening worktree: %w", err)
	}
	for _, p := range paths {
		if _, err := wt.Add(p); err != nil {
			if _, rmErr := wt.Remove(p); rmErr != nil {
				return "", fmt.Errorf("staging %s: %w", p, err)
			}
		}
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("reading worktree status: %w", err)
	}
	staged := false
	for _, p := range paths {
		if s, ok := status[p]; ok && s.Staging != git.Unmodified && s.Staging != git.Untracked {
			staged = true
			break
		}
	}
	if !staged {
		return "", ErrNothingToCommit
	}
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{Name: v.author, Email: v.email, When: time.Now()},
	})
	if err != nil {
		return "", fmt.Errorf("committing: %w", err)
	}
	return hash.String(), nil
}
