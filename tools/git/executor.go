// Package git is the version-control boundary: staging, commit, and push,
// with their success and failure signals. It shells out to the git binary
// in the corpus repository.
package git

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
)

// Boundary errors.
var (
	// ErrNotARepo indicates the configured root is not a git repository.
	ErrNotARepo = errors.New("not a git repository")
	// ErrNothingToCommit indicates no staged changes exist.
	ErrNothingToCommit = errors.New("nothing to commit")
	// ErrPushRejected indicates the remote refused the push, usually
	// because it has diverged. The local commit is left intact.
	ErrPushRejected = errors.New("push rejected by remote")
)

// conventionalCommitPattern matches conventional commit format.
var conventionalCommitPattern = regexp.MustCompile(`^(feat|fix|docs|style|refactor|test|chore|perf|ci|build|revert)(\([a-zA-Z0-9_-]+\))?: .+`)

// ValidateConventionalCommit checks if a message follows conventional
// commit format.
func ValidateConventionalCommit(message string) bool {
	return conventionalCommitPattern.MatchString(message)
}

// Executor runs git operations against one repository root.
type Executor struct {
	repoRoot string
	logger   *slog.Logger
}

// NewExecutor creates a git executor with the given repository root.
func NewExecutor(repoRoot string) *Executor {
	return &Executor{repoRoot: repoRoot, logger: slog.Default()}
}

// WithLogger sets the logger.
func (e *Executor) WithLogger(logger *slog.Logger) *Executor {
	e.logger = logger
	return e
}

// IsRepo checks if the repo root is a git repository.
func (e *Executor) IsRepo() bool {
	cmd := exec.Command("git", "rev-parse", "--git-dir")
	cmd.Dir = e.repoRoot
	return cmd.Run() == nil
}

// Head returns the current HEAD commit hash.
func (e *Executor) Head(ctx context.Context) (string, error) {
	out, err := e.runGit(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Stage adds the given paths to the index.
func (e *Executor) Stage(ctx context.Context, paths []string) error {
	if !e.IsRepo() {
		return ErrNotARepo
	}
	if len(paths) == 0 {
		return nil
	}
	args := append([]string{"add", "--"}, paths...)
	if _, err := e.runGit(ctx, args...); err != nil {
		return fmt.Errorf("stage %d paths: %w", len(paths), err)
	}
	return nil
}

// StagedFiles returns the paths currently staged.
func (e *Executor) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := e.runGit(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return nil, fmt.Errorf("list staged files: %w", err)
	}
	var files []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// ResetIndex unstages everything, leaving the working tree untouched.
func (e *Executor) ResetIndex(ctx context.Context) error {
	if _, err := e.runGit(ctx, "reset", "--quiet"); err != nil {
		return fmt.Errorf("reset index: %w", err)
	}
	return nil
}

// Commit commits staged changes and returns the short hash. The message
// must follow conventional commit format.
func (e *Executor) Commit(ctx context.Context, message string) (string, error) {
	if !e.IsRepo() {
		return "", ErrNotARepo
	}
	if message == "" {
		return "", fmt.Errorf("commit message is required")
	}
	if !ValidateConventionalCommit(message) {
		return "", fmt.Errorf("commit message does not follow conventional commit format: %s", message)
	}

	staged, err := e.StagedFiles(ctx)
	if err != nil {
		return "", err
	}
	if len(staged) == 0 {
		return "", ErrNothingToCommit
	}

	if _, err := e.runGit(ctx, "commit", "-m", message); err != nil {
		return "", fmt.Errorf("commit failed: %w", err)
	}

	hash, err := e.runGit(ctx, "rev-parse", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("resolve commit hash: %w", err)
	}
	hash = strings.TrimSpace(hash)

	e.logger.Info("committed",
		slog.String("hash", hash),
		slog.Int("files", len(staged)))
	return hash, nil
}

// Push pushes the current branch to its upstream. A remote rejection
// surfaces as ErrPushRejected with the local commit preserved; the caller
// resolves and retries. No auto-merge, no force-push.
func (e *Executor) Push(ctx context.Context) error {
	if !e.IsRepo() {
		return ErrNotARepo
	}
	out, err := e.runGit(ctx, "push")
	if err != nil {
		if isPushRejection(out) {
			return fmt.Errorf("%w: %s", ErrPushRejected, strings.TrimSpace(out))
		}
		return fmt.Errorf("push failed: %w", err)
	}
	return nil
}

func isPushRejection(output string) bool {
	lower := strings.ToLower(output)
	return strings.Contains(lower, "rejected") ||
		strings.Contains(lower, "non-fast-forward") ||
		strings.Contains(lower, "fetch first")
}

// runGit executes a git command in the repo directory.
func (e *Executor) runGit(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = e.repoRoot

	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("%w: %s", err, string(output))
	}
	return string(output), nil
}
