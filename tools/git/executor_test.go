package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// setupTestRepo creates a temporary git repository for testing.
func setupTestRepo(t *testing.T) string {
	t.Helper()

	tmpDir := t.TempDir()
	run(t, tmpDir, "git", "init", "-q", "-b", "main")
	run(t, tmpDir, "git", "config", "user.email", "test@example.com")
	run(t, tmpDir, "git", "config", "user.name", "Test User")

	testFile := filepath.Join(tmpDir, "initial.txt")
	if err := os.WriteFile(testFile, []byte("initial"), 0644); err != nil {
		t.Fatalf("write initial file: %v", err)
	}
	run(t, tmpDir, "git", "add", ".")
	run(t, tmpDir, "git", "commit", "-q", "-m", "feat: initial commit")

	return tmpDir
}

func run(t *testing.T, dir string, name string, args ...string) string {
	t.Helper()
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("%s %v failed: %v\n%s", name, args, err, out)
	}
	return string(out)
}

func TestValidateConventionalCommit(t *testing.T) {
	tests := []struct {
		message string
		valid   bool
	}{
		{"feat: add coupon redemption spec", true},
		{"docs(specs): update rounding rule", true},
		{"fix: repoint shared reference", true},
		{"update stuff", false},
		{"feat:missing space", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			if got := ValidateConventionalCommit(tt.message); got != tt.valid {
				t.Errorf("ValidateConventionalCommit(%q) = %v, want %v", tt.message, got, tt.valid)
			}
		})
	}
}

func TestExecutor_IsRepo(t *testing.T) {
	repo := setupTestRepo(t)
	if !NewExecutor(repo).IsRepo() {
		t.Error("expected IsRepo true for initialized repo")
	}
	if NewExecutor(t.TempDir()).IsRepo() {
		t.Error("expected IsRepo false for plain directory")
	}
}

func TestExecutor_StageAndCommit(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)
	e := NewExecutor(repo)

	path := filepath.Join(repo, "coupon-redemption.md")
	if err := os.WriteFile(path, []byte("# Coupon redemption\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := e.Stage(ctx, []string{"coupon-redemption.md"}); err != nil {
		t.Fatalf("Stage failed: %v", err)
	}

	staged, err := e.StagedFiles(ctx)
	if err != nil {
		t.Fatalf("StagedFiles failed: %v", err)
	}
	if len(staged) != 1 || staged[0] != "coupon-redemption.md" {
		t.Errorf("StagedFiles = %v", staged)
	}

	hash, err := e.Commit(ctx, "docs: add coupon redemption spec")
	if err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if hash == "" {
		t.Error("expected non-empty commit hash")
	}
}

func TestExecutor_Commit_RequiresConventionalFormat(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)
	e := NewExecutor(repo)

	if _, err := e.Commit(ctx, "free-form message"); err == nil {
		t.Error("expected rejection of non-conventional message")
	}
}

func TestExecutor_Commit_NothingStaged(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)
	e := NewExecutor(repo)

	_, err := e.Commit(ctx, "docs: empty commit attempt")
	if !errors.Is(err, ErrNothingToCommit) {
		t.Errorf("expected ErrNothingToCommit, got %v", err)
	}
}

func TestExecutor_ResetIndex(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)
	e := NewExecutor(repo)

	path := filepath.Join(repo, "staged.md")
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := e.Stage(ctx, []string{"staged.md"}); err != nil {
		t.Fatal(err)
	}
	if err := e.ResetIndex(ctx); err != nil {
		t.Fatalf("ResetIndex failed: %v", err)
	}
	staged, err := e.StagedFiles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(staged) != 0 {
		t.Errorf("StagedFiles after reset = %v, want empty", staged)
	}
}

// setupRemote wires the repo to a bare remote so pushes succeed.
func setupRemote(t *testing.T, repo string) string {
	t.Helper()
	remote := t.TempDir()
	run(t, remote, "git", "init", "-q", "--bare", "-b", "main")
	run(t, repo, "git", "remote", "add", "origin", remote)
	run(t, repo, "git", "push", "-q", "-u", "origin", "main")
	return remote
}

func TestExecutor_Push(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)
	setupRemote(t, repo)
	e := NewExecutor(repo)

	path := filepath.Join(repo, "doc.md")
	if err := os.WriteFile(path, []byte("content"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := e.Stage(ctx, []string{"doc.md"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Commit(ctx, "docs: add doc"); err != nil {
		t.Fatal(err)
	}
	if err := e.Push(ctx); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
}

func TestExecutor_Push_RejectedOnDivergence(t *testing.T) {
	ctx := context.Background()
	repo := setupTestRepo(t)
	remote := setupRemote(t, repo)

	// A second clone pushes first, diverging the remote.
	other := t.TempDir()
	run(t, other, "git", "clone", "-q", remote, ".")
	run(t, other, "git", "config", "user.email", "other@example.com")
	run(t, other, "git", "config", "user.name", "Other User")
	if err := os.WriteFile(filepath.Join(other, "theirs.md"), []byte("theirs"), 0644); err != nil {
		t.Fatal(err)
	}
	run(t, other, "git", "add", ".")
	run(t, other, "git", "commit", "-q", "-m", "docs: their change")
	run(t, other, "git", "push", "-q")

	e := NewExecutor(repo)
	if err := os.WriteFile(filepath.Join(repo, "ours.md"), []byte("ours"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := e.Stage(ctx, []string{"ours.md"}); err != nil {
		t.Fatal(err)
	}
	hash, err := e.Commit(ctx, "docs: our change")
	if err != nil {
		t.Fatal(err)
	}

	err = e.Push(ctx)
	if !errors.Is(err, ErrPushRejected) {
		t.Fatalf("expected ErrPushRejected, got %v", err)
	}

	// Local commit preserved for a caller-driven retry.
	head, err := e.Head(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if head == "" || hash == "" {
		t.Fatal("expected commit hashes")
	}
	short := run(t, repo, "git", "rev-parse", "--short", "HEAD")
	if got := short; got[:len(hash)] != hash {
		t.Errorf("HEAD = %s, want local commit %s preserved", got, hash)
	}
}
