package gitsource

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// remote is a local repository acting as the upstream.
type remote struct {
	dir  string
	repo *gogit.Repository
}

func newRemote(t *testing.T) *remote {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "remote")
	repo, err := gogit.PlainInit(dir, false)
	if err != nil {
		t.Fatal(err)
	}
	return &remote{dir: dir, repo: repo}
}

func (r *remote) commit(t *testing.T, name, data string) {
	t.Helper()
	full := filepath.Join(r.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	w, err := r.repo.Worktree()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Add(name); err != nil {
		t.Fatal(err)
	}
	sig := &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()}
	if _, err := w.Commit("add "+name, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		t.Fatal(err)
	}
}

func requireGit(t *testing.T) {
	t.Helper()
	// Local clones go through git-upload-pack.
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestSync(t *testing.T) {
	requireGit(t)
	r := newRemote(t)
	r.commit(t, "go/intro.md", "# Hello\n")

	dir := filepath.Join(t.TempDir(), "content")
	s := New(dir, r.dir, "")
	changed, err := s.Sync(t.Context())
	if err != nil {
		t.Fatalf("Sync() clone error = %v", err)
	}
	if !changed {
		t.Error("clone should report a change")
	}
	if _, err := os.Stat(filepath.Join(dir, "go", "intro.md")); err != nil {
		t.Fatalf("cloned file missing: %v", err)
	}

	changed, err = s.Sync(t.Context())
	if err != nil {
		t.Fatalf("Sync() up to date error = %v", err)
	}
	if changed {
		t.Error("up to date pull should not report a change")
	}

	r.commit(t, "rust/ownership.md", "# Ownership\n")
	changed, err = s.Sync(t.Context())
	if err != nil {
		t.Fatalf("Sync() pull error = %v", err)
	}
	if !changed {
		t.Error("pull should report a change")
	}
	if _, err := os.Stat(filepath.Join(dir, "rust", "ownership.md")); err != nil {
		t.Fatalf("pulled file missing: %v", err)
	}
}

func TestSyncBadRemote(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "content")
	s := New(dir, filepath.Join(t.TempDir(), "nope"), "main")
	if _, err := s.Sync(t.Context()); err == nil {
		t.Error("Sync() should fail for a missing remote")
	}
}

func TestRun(t *testing.T) {
	requireGit(t)
	r := newRemote(t)
	r.commit(t, "go/intro.md", "# Hello\n")
	dir := filepath.Join(t.TempDir(), "content")
	s := New(dir, r.dir, "")
	if _, err := s.Sync(t.Context()); err != nil {
		t.Fatal(err)
	}
	r.commit(t, "go/more.md", "# More\n")

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx, 10*time.Millisecond, func(context.Context) error {
			calls.Add(1)
			cancel()
			return nil
		})
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		cancel()
		<-done
		t.Fatal("Run did not observe the new commit")
	}
	if calls.Load() != 1 {
		t.Errorf("onChange calls = %d, want 1", calls.Load())
	}
}
