// Package gitsource keeps the asset root in sync with a remote git repository.
package gitsource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// Source mirrors one branch of a remote into a local directory.
type Source struct {
	dir    string
	url    string
	branch string
}

// New returns a source cloning url into dir. An empty branch follows the
// remote HEAD.
func New(dir, url, branch string) *Source {
	return &Source{dir: dir, url: url, branch: branch}
}

// Sync clones the remote when dir holds no repository yet, and pulls
// otherwise. changed reports whether the checked out commit moved.
func (s *Source) Sync(ctx context.Context) (changed bool, err error) {
	repo, err := gogit.PlainOpen(s.dir)
	if errors.Is(err, gogit.ErrRepositoryNotExists) {
		return true, s.clone(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("failed to open %s: %w", s.dir, err)
	}
	before, err := repo.Head()
	if err != nil {
		return false, fmt.Errorf("failed to read HEAD: %w", err)
	}
	w, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("failed to get worktree: %w", err)
	}
	opts := &gogit.PullOptions{RemoteName: "origin", SingleBranch: true}
	if s.branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(s.branch)
	} else {
		opts.ReferenceName = before.Name()
	}
	if err := w.PullContext(ctx, opts); err != nil {
		if errors.Is(err, gogit.NoErrAlreadyUpToDate) {
			return false, nil
		}
		return false, fmt.Errorf("failed to pull %s: %w", s.url, err)
	}
	after, err := repo.Head()
	if err != nil {
		return false, fmt.Errorf("failed to read HEAD: %w", err)
	}
	return after.Hash() != before.Hash(), nil
}

func (s *Source) clone(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil { //nolint:gosec // G301: content is world readable
		return fmt.Errorf("failed to create %s: %w", s.dir, err)
	}
	opts := &gogit.CloneOptions{URL: s.url, SingleBranch: true}
	if s.branch != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(s.branch)
	}
	if _, err := gogit.PlainCloneContext(ctx, s.dir, false, opts); err != nil {
		return fmt.Errorf("failed to clone %s: %w", s.url, err)
	}
	slog.InfoContext(ctx, "Cloned content repository", "url", s.url, "dir", s.dir)
	return nil
}

// Run pulls every interval until ctx is canceled and calls onChange after
// each pull that moved the checkout. Failures are logged and retried on the
// next tick.
func (s *Source) Run(ctx context.Context, interval time.Duration, onChange func(context.Context) error) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			changed, err := s.Sync(ctx)
			if err != nil {
				if ctx.Err() == nil {
					slog.WarnContext(ctx, "Failed to sync content repository", "url", s.url, "err", err)
				}
				continue
			}
			if !changed {
				continue
			}
			slog.InfoContext(ctx, "Content repository updated", "url", s.url)
			if onChange != nil {
				if err := onChange(ctx); err != nil {
					slog.WarnContext(ctx, "Failed to apply content update", "err", err)
				}
			}
		}
	}
}
