// Package graph tracks shared-behavior dependencies between spec
// documents. Edges run from a consuming document to the one canonical
// document that is authoritative for a reused behavior; when a canonical's
// content changes, its consumers are marked stale one hop at a time.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360studio/speccorpus/corpus"
)

// StatusStore is the registry surface the graph needs: read a topic's
// lifecycle status and transition it. *registry.Registry satisfies it.
type StatusStore interface {
	Topic(id string) (*corpus.Topic, error)
	SetStatus(ctx context.Context, id string, status corpus.Status) error
}

// CyclicReferenceError reports a rejected edge that would let a canonical
// depend, transitively, on one of its own consumers.
type CyclicReferenceError struct {
	Consumer  string
	Canonical string
	Path      []string
}

func (e *CyclicReferenceError) Error() string {
	return fmt.Sprintf("shared reference %s -> %s would create a cycle (path %v)",
		e.Consumer, e.Canonical, e.Path)
}

// Graph is the directed consumer-to-canonical edge set, an adjacency list
// keyed by canonical identifier. It is owned by the orchestrator process
// and passed explicitly; mutation runs under an exclusive section.
type Graph struct {
	mu sync.RWMutex
	// consumers maps canonical ID to the set of consumer IDs.
	consumers map[string]map[string]bool
	// canonicals maps consumer ID to the set of canonical IDs it uses.
	canonicals map[string]map[string]bool

	topics StatusStore
	logger *slog.Logger
}

// New creates an empty graph over the given status store.
func New(topics StatusStore, logger *slog.Logger) *Graph {
	if logger == nil {
		logger = slog.Default()
	}
	return &Graph{
		consumers:  make(map[string]map[string]bool),
		canonicals: make(map[string]map[string]bool),
		topics:     topics,
		logger:     logger,
	}
}

// AddReference records that consumer inlines behavior from canonical.
// Chains are permitted; cycles are rejected and the edge is not added.
// Adding an existing edge is a no-op.
func (g *Graph) AddReference(consumerID, canonicalID string) error {
	if consumerID == canonicalID {
		return &CyclicReferenceError{
			Consumer:  consumerID,
			Canonical: canonicalID,
			Path:      []string{consumerID},
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// Reject if the canonical already depends, transitively, on the
	// consumer: a path canonical -> ... -> consumer exists through
	// canonical edges.
	if path := g.pathLocked(canonicalID, consumerID); path != nil {
		return &CyclicReferenceError{
			Consumer:  consumerID,
			Canonical: canonicalID,
			Path:      path,
		}
	}

	if g.consumers[canonicalID] == nil {
		g.consumers[canonicalID] = make(map[string]bool)
	}
	if g.canonicals[consumerID] == nil {
		g.canonicals[consumerID] = make(map[string]bool)
	}
	g.consumers[canonicalID][consumerID] = true
	g.canonicals[consumerID][canonicalID] = true

	g.logger.Debug("shared reference added",
		slog.String("consumer", consumerID),
		slog.String("canonical", canonicalID))
	return nil
}

// pathLocked returns a path from "from" to "to" following consumer ->
// canonical edges, or nil. Caller holds the lock.
func (g *Graph) pathLocked(from, to string) []string {
	if from == to {
		return []string{from}
	}
	visited := map[string]bool{from: true}
	var walk func(node string, trail []string) []string
	walk = func(node string, trail []string) []string {
		for next := range g.canonicals[node] {
			if next == to {
				return append(trail, next)
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if found := walk(next, append(trail, next)); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(from, []string{from})
}

// RemoveReference deletes the consumer -> canonical edge if present.
func (g *Graph) RemoveReference(consumerID, canonicalID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.consumers[canonicalID], consumerID)
	delete(g.canonicals[consumerID], canonicalID)
}

// RepointReference moves a consumer's edge from one canonical to another,
// used when a canonical topic is retired into a successor. Cycle rules
// apply to the new edge.
func (g *Graph) RepointReference(consumerID, oldCanonicalID, newCanonicalID string) error {
	g.RemoveReference(consumerID, oldCanonicalID)
	if err := g.AddReference(consumerID, newCanonicalID); err != nil {
		// Restore the old edge; the repoint is all-or-nothing.
		g.mu.Lock()
		if g.consumers[oldCanonicalID] == nil {
			g.consumers[oldCanonicalID] = make(map[string]bool)
		}
		if g.canonicals[consumerID] == nil {
			g.canonicals[consumerID] = make(map[string]bool)
		}
		g.consumers[oldCanonicalID][consumerID] = true
		g.canonicals[consumerID][oldCanonicalID] = true
		g.mu.Unlock()
		return err
	}
	return nil
}

// ConsumersOf returns the direct consumers of a canonical, sorted.
func (g *Graph) ConsumersOf(canonicalID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.consumers[canonicalID]))
	for id := range g.consumers[canonicalID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// CanonicalsOf returns the canonicals a consumer references, sorted.
func (g *Graph) CanonicalsOf(consumerID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.canonicals[consumerID]))
	for id := range g.canonicals[consumerID] {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// HasConsumers reports whether any consumer still points at a canonical.
// Retirement of a canonical is refused while this is true.
func (g *Graph) HasConsumers(canonicalID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.consumers[canonicalID]) > 0
}

// OnCanonicalChanged marks every direct consumer of the canonical stale
// and returns their identifiers. Propagation is one hop; a consumer that
// is itself canonical for others propagates again when its own content is
// re-validated. Re-running against an already-stale consumer is a no-op.
func (g *Graph) OnCanonicalChanged(ctx context.Context, canonicalID string) ([]string, error) {
	var marked []string
	for _, consumerID := range g.ConsumersOf(canonicalID) {
		topic, err := g.topics.Topic(consumerID)
		if err != nil {
			return marked, fmt.Errorf("load consumer %q: %w", consumerID, err)
		}
		switch topic.Status {
		case corpus.StatusStale, corpus.StatusRetired:
			continue // Idempotent against repeated propagation.
		case corpus.StatusValidated, corpus.StatusPublished:
			if err := g.topics.SetStatus(ctx, consumerID, corpus.StatusStale); err != nil {
				return marked, fmt.Errorf("mark %q stale: %w", consumerID, err)
			}
			marked = append(marked, consumerID)
			g.logger.Info("consumer marked stale",
				slog.String("canonical", canonicalID),
				slog.String("consumer", consumerID))
		default:
			// Consumers mid-pipeline pick up the new canonical hash at
			// validation time; no transition needed.
		}
	}
	return marked, nil
}
