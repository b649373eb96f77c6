// Package publish sequences validation checks, staging, commit, and push
// as one atomic unit of work.
package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/c360studio/speccorpus/corpus"
	"github.com/c360studio/speccorpus/tools/git"
)

// ErrPublishConflict indicates the remote rejected the push. The local
// commit is preserved; the caller must resolve and retry. The gate never
// auto-merges or force-pushes.
var ErrPublishConflict = errors.New("publish conflict")

// NotReadyError refuses a batch containing members that are not in
// validated state. Nothing from the batch is staged.
type NotReadyError struct {
	// Members maps refused topic IDs to their current status.
	Members map[string]corpus.Status
}

func (e *NotReadyError) Error() string {
	parts := make([]string, 0, len(e.Members))
	for id, status := range e.Members {
		parts = append(parts, fmt.Sprintf("%s (%s)", id, status))
	}
	return "batch not ready to publish: " + strings.Join(parts, ", ")
}

// VCS is the version-control surface the gate drives. *git.Executor
// satisfies it.
type VCS interface {
	Stage(ctx context.Context, paths []string) error
	Commit(ctx context.Context, message string) (string, error)
	Push(ctx context.Context) error
	ResetIndex(ctx context.Context) error
}

// TopicStore is the registry surface the gate needs.
type TopicStore interface {
	Topic(id string) (*corpus.Topic, error)
	SetStatus(ctx context.Context, id string, status corpus.Status) error
}

// Paths resolves a document to its repository-relative file path.
type Paths interface {
	DocumentRelPath(doc *corpus.Document) string
}

// Result reports a completed publish.
type Result struct {
	// CommitHash is empty when nothing needed committing.
	CommitHash string
	// Files are the repository-relative paths in the commit.
	Files []string
	// Topics are the topic IDs transitioned to published.
	Topics []string
}

// Gate performs atomic batch publishes. It is globally serialized: only
// one publish may be in flight system-wide, since interleaving two could
// commit a half-staged graph state.
type Gate struct {
	mu     sync.Mutex
	vcs    VCS
	topics TopicStore
	paths  Paths
	logger *slog.Logger
}

// NewGate creates a publish gate.
func NewGate(vcs VCS, topics TopicStore, paths Paths, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{vcs: vcs, topics: topics, paths: paths, logger: logger}
}

// Publish stages every document in the batch, commits once with a summary
// of the topics involved, and pushes. Preconditions are checked before
// anything is staged; a batch with any non-validated member is refused
// whole.
func (g *Gate) Publish(ctx context.Context, batch []*corpus.Document) (*Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(batch) == 0 {
		return &Result{}, nil
	}

	notReady := make(map[string]corpus.Status)
	for _, doc := range batch {
		topic, err := g.topics.Topic(doc.TopicID)
		if err != nil {
			return nil, fmt.Errorf("load topic %q: %w", doc.TopicID, err)
		}
		if topic.Status != corpus.StatusValidated {
			notReady[topic.ID] = topic.Status
		}
	}
	if len(notReady) > 0 {
		return nil, &NotReadyError{Members: notReady}
	}

	paths := make([]string, 0, len(batch))
	ids := make([]string, 0, len(batch))
	for _, doc := range batch {
		paths = append(paths, g.paths.DocumentRelPath(doc))
		ids = append(ids, doc.TopicID)
	}

	if err := g.vcs.Stage(ctx, paths); err != nil {
		return nil, fmt.Errorf("stage batch: %w", err)
	}

	hash, err := g.vcs.Commit(ctx, commitMessage(ids))
	if err != nil {
		if errors.Is(err, git.ErrNothingToCommit) {
			// Idempotent republish of unchanged documents: no commit.
			g.logger.Info("publish found no document changes",
				slog.Int("batch", len(batch)))
			return &Result{Topics: ids}, nil
		}
		// Leave the working tree as it was before the gate ran.
		if resetErr := g.vcs.ResetIndex(ctx); resetErr != nil {
			g.logger.Warn("reset after failed commit",
				slog.String("error", resetErr.Error()))
		}
		return nil, fmt.Errorf("commit batch: %w", err)
	}

	if err := g.vcs.Push(ctx); err != nil {
		if errors.Is(err, git.ErrPushRejected) {
			// Local commit intact for a caller-driven retry.
			return nil, fmt.Errorf("%w: %w", ErrPublishConflict, err)
		}
		return nil, fmt.Errorf("push batch: %w", err)
	}

	for _, id := range ids {
		if err := g.topics.SetStatus(ctx, id, corpus.StatusPublished); err != nil {
			return nil, fmt.Errorf("mark %q published: %w", id, err)
		}
	}

	g.logger.Info("batch published",
		slog.String("commit", hash),
		slog.Int("topics", len(ids)))
	return &Result{CommitHash: hash, Files: paths, Topics: ids}, nil
}

// commitMessage summarizes which topics a publish touches.
func commitMessage(topicIDs []string) string {
	var b strings.Builder
	if len(topicIDs) == 1 {
		fmt.Fprintf(&b, "docs(specs): publish %s", topicIDs[0])
	} else {
		fmt.Fprintf(&b, "docs(specs): publish %d topics", len(topicIDs))
	}
	b.WriteString("\n\n")
	for _, id := range topicIDs {
		fmt.Fprintf(&b, "- %s\n", id)
	}
	return b.String()
}
