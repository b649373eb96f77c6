// Package orchestrate runs the corpus control loop: admit a topic
// statement, dispatch its investigation, merge the result into the
// registry, propagate canonical changes through the shared-behavior
// graph, and hand validated documents to the publish gate.
package orchestrate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360studio/speccorpus/corpus"
	"github.com/c360studio/speccorpus/dispatch"
	"github.com/c360studio/speccorpus/graph"
	"github.com/c360studio/speccorpus/library"
	"github.com/c360studio/speccorpus/notes"
	"github.com/c360studio/speccorpus/publish"
	"github.com/c360studio/speccorpus/registry"
	"github.com/c360studio/speccorpus/validate"
)

// ErrRetired is returned when processing a retired topic.
var ErrRetired = errors.New("topic is retired")

// HashRecorder receives the content hash of documents the orchestrator
// writes, so the file watcher can distinguish its own writes from
// out-of-band edits.
type HashRecorder interface {
	SetHash(fileName, hash string)
}

// Outcome describes one topic's trip through the pipeline.
type Outcome struct {
	Topic      *corpus.Topic
	Document   *corpus.Document
	Validation *validate.Result
	// StaleConsumers lists topics marked stale by this pass because
	// their canonical's content changed. RunBatch feeds them back
	// through revalidation before publishing.
	StaleConsumers []string
}

// Orchestrator wires the registry, graph, dispatcher, validator, and
// publish gate into the control loop.
type Orchestrator struct {
	registry  *registry.Registry
	dedup     *registry.Dedup
	graph     *graph.Graph
	pool      *dispatch.Pool
	validator *validate.Validator
	gate      *publish.Gate
	library   *library.Manager

	reviewer corpus.Reviewer
	planning *notes.Planning
	hashes   HashRecorder
	source   corpus.SourceRef
	logger   *slog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithReviewer sets the statement admission reviewer.
func WithReviewer(r corpus.Reviewer) Option {
	return func(o *Orchestrator) { o.reviewer = r }
}

// WithPlanningNotes enables planning-notes bookkeeping around
// investigations.
func WithPlanningNotes(p *notes.Planning) Option {
	return func(o *Orchestrator) { o.planning = p }
}

// WithHashRecorder reports written document hashes to the file watcher.
func WithHashRecorder(h HashRecorder) Option {
	return func(o *Orchestrator) { o.hashes = h }
}

// WithSource sets the source corpus handle passed to investigations.
func WithSource(src corpus.SourceRef) Option {
	return func(o *Orchestrator) { o.source = src }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an orchestrator over the given components.
func New(reg *registry.Registry, gr *graph.Graph, pool *dispatch.Pool, val *validate.Validator, gate *publish.Gate, lib *library.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:  reg,
		dedup:     registry.NewDedup(reg),
		graph:     gr,
		pool:      pool,
		validator: val,
		gate:      gate,
		library:   lib,
		reviewer:  &corpus.StatementReviewer{},
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ProcessTopic takes a topic statement through one pipeline pass. A
// statement with no registered topic is investigated and registered; a
// statement matching an existing topic is re-investigated and its
// document validated, patched on drift.
func (o *Orchestrator) ProcessTopic(ctx context.Context, statement string) (*Outcome, error) {
	if o.reviewer != nil {
		if err := o.reviewer.Review(statement); err != nil {
			return nil, err
		}
	}

	if candidate := o.dedup.FindCandidate(statement); candidate != nil {
		o.logger.Info("statement matches existing topic, revalidating",
			slog.String("topic_id", candidate.TopicID))
		return o.Revalidate(ctx, candidate.TopicID)
	}

	return o.processNew(ctx, statement)
}

func (o *Orchestrator) processNew(ctx context.Context, statement string) (*Outcome, error) {
	topic, err := o.registry.Register(ctx, statement)
	if err != nil {
		if errors.Is(err, registry.ErrAlreadyExists) {
			// Lost a registration race; the winner's document is
			// authoritative.
			if doc, lookupErr := o.registry.Lookup(statement); lookupErr == nil {
				return o.Revalidate(ctx, doc.TopicID)
			}
		}
		return nil, err
	}

	if err := o.registry.SetStatus(ctx, topic.ID, corpus.StatusInvestigating); err != nil {
		return nil, err
	}

	o.consultPlanning(topic.ID)

	trace, err := o.investigate(ctx, topic, dispatch.PhaseSourceStudy)
	if err != nil {
		// Investigation failed; drop the topic back so a later pass can
		// pick it up.
		if stErr := o.registry.SetStatus(ctx, topic.ID, corpus.StatusDiscovered); stErr != nil {
			o.logger.Warn("failed to reset topic after failed investigation",
				slog.String("topic_id", topic.ID),
				slog.String("error", stErr.Error()))
		}
		return nil, fmt.Errorf("investigate %q: %w", topic.ID, err)
	}

	var doc *corpus.Document
	err = o.registry.WithTopicLock(topic.ID, func() error {
		fileName := o.registry.Normalizer().FileName(statement)
		doc = corpus.HydrateDocument(topic, fileName, trace)

		if err := o.registry.PutDocument(ctx, doc); err != nil {
			return err
		}
		if err := o.registry.SetStatus(ctx, topic.ID, corpus.StatusDrafted); err != nil {
			return err
		}
		if err := o.linkReferences(topic.ID, doc); err != nil {
			return err
		}
		drafted, err := o.registry.Topic(topic.ID)
		if err != nil {
			return err
		}
		if err := o.writeDocument(doc, drafted); err != nil {
			return err
		}
		return o.registry.SetStatus(ctx, topic.ID, corpus.StatusValidated)
	})
	if err != nil {
		return nil, err
	}

	o.updatePlanning(topic.ID, fmt.Sprintf("Investigated and drafted at revision %s.", doc.Revision))

	refreshed, _ := o.registry.Topic(topic.ID)
	return &Outcome{
		Topic:      refreshed,
		Document:   doc,
		Validation: &validate.Result{Kind: validate.KindNew},
	}, nil
}

// Revalidate re-investigates an existing topic and reconciles its
// document against the fresh trace. When a drifted document has
// consumers, they are marked stale before this call returns, so their
// own revalidation reads the updated canonical hash.
func (o *Orchestrator) Revalidate(ctx context.Context, topicID string) (*Outcome, error) {
	topic, err := o.registry.Topic(topicID)
	if err != nil {
		return nil, err
	}
	if topic.Status == corpus.StatusRetired {
		return nil, fmt.Errorf("revalidate %q: %w", topicID, ErrRetired)
	}

	doc, err := o.registry.Document(topicID)
	if err != nil {
		return nil, err
	}
	oldHash := doc.ContentHash()

	o.consultPlanning(topicID)

	trace, err := o.investigate(ctx, topic, dispatch.PhaseSpecStudy)
	if err != nil {
		return nil, fmt.Errorf("investigate %q: %w", topicID, err)
	}

	var result *validate.Result
	var final *corpus.Document
	var staleConsumers []string
	err = o.registry.WithTopicLock(topicID, func() error {
		result = o.validator.Validate(doc, trace)

		switch result.Kind {
		case validate.KindIdentical:
			final = doc.Clone()
			final.Revision = trace.Revision
			if err := o.registry.PutDocument(ctx, final); err != nil {
				return err
			}
			return o.advanceToValidated(ctx, topicID, false)

		case validate.KindDrifted:
			final = result.Patched
			if err := o.registry.PutDocument(ctx, final); err != nil {
				return err
			}
			if err := o.writeDocument(final, topic); err != nil {
				return err
			}
			if err := o.advanceToValidated(ctx, topicID, true); err != nil {
				return err
			}
			if final.ContentHash() != oldHash && o.graph.HasConsumers(topicID) {
				stale, err := o.graph.OnCanonicalChanged(ctx, topicID)
				if err != nil {
					return err
				}
				staleConsumers = stale
				o.logger.Info("canonical changed, consumers marked stale",
					slog.String("canonical", topicID),
					slog.Int("consumers", len(stale)))
			}
			return nil

		default:
			return fmt.Errorf("unexpected validation kind %q for %q", result.Kind, topicID)
		}
	})
	if err != nil {
		return nil, err
	}

	o.updatePlanning(topicID, fmt.Sprintf("Revalidated at revision %s: %s.", final.Revision, result.Kind))

	refreshed, _ := o.registry.Topic(topicID)
	return &Outcome{
		Topic:          refreshed,
		Document:       final,
		Validation:     result,
		StaleConsumers: staleConsumers,
	}, nil
}

// Retire removes a topic and destroys its document. A canonical with
// consumers requires a replacement: every consumer is re-pointed to it
// and marked stale so the next validation inlines the replacement's
// content.
func (o *Orchestrator) Retire(ctx context.Context, topicID, repointTo string) error {
	consumers := o.graph.ConsumersOf(topicID)
	if len(consumers) > 0 {
		if repointTo == "" {
			return fmt.Errorf("retire %q: %d consumers still reference it and no replacement given", topicID, len(consumers))
		}
		if _, err := o.registry.Topic(repointTo); err != nil {
			return fmt.Errorf("retire %q: replacement: %w", topicID, err)
		}
		if _, err := o.graph.OnCanonicalChanged(ctx, topicID); err != nil {
			return err
		}
		for _, consumer := range consumers {
			if err := o.graph.RepointReference(consumer, topicID, repointTo); err != nil {
				return fmt.Errorf("repoint %q from %q to %q: %w", consumer, topicID, repointTo, err)
			}
		}
	}

	doc, err := o.registry.Document(topicID)
	if err == nil {
		if archiveErr := o.library.ArchiveDocument(doc); archiveErr != nil {
			o.logger.Warn("failed to archive retired document",
				slog.String("topic_id", topicID),
				slog.String("error", archiveErr.Error()))
		}
	}

	return o.registry.Retire(ctx, topicID)
}

// BatchResult reports a RunBatch run.
type BatchResult struct {
	// Outcomes holds the successful pipeline passes keyed by statement.
	Outcomes map[string]*Outcome
	// Failures holds the per-statement errors; a failed statement never
	// blocks the rest of the batch.
	Failures map[string]error
	// Publish is the gate result for the validated documents, nil when
	// nothing reached validated state.
	Publish *publish.Result
}

// RunBatch runs the pipeline for each statement, isolating per-topic
// failures. Consumers marked stale by canonical drift during the batch
// are fed back through revalidation, then every document whose topic
// reached validated state goes out in a single gated commit.
func (o *Orchestrator) RunBatch(ctx context.Context, statements []string) (*BatchResult, error) {
	result := &BatchResult{
		Outcomes: make(map[string]*Outcome),
		Failures: make(map[string]error),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, statement := range statements {
		wg.Add(1)
		go func(statement string) {
			defer wg.Done()
			outcome, err := o.ProcessTopic(ctx, statement)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failures[statement] = err
				return
			}
			result.Outcomes[statement] = outcome
		}(statement)
	}
	wg.Wait()

	o.requeueStale(ctx, result)

	// Status is re-read at assembly time; a topic that went stale after
	// its own pass must not slip into the commit.
	var batch []*corpus.Document
	for _, outcome := range result.Outcomes {
		topic, err := o.registry.Topic(outcome.Topic.ID)
		if err != nil || topic.Status != corpus.StatusValidated {
			continue
		}
		doc, err := o.registry.Document(topic.ID)
		if err != nil {
			continue
		}
		batch = append(batch, doc)
	}
	if len(batch) == 0 {
		return result, nil
	}

	pub, err := o.gate.Publish(ctx, batch)
	if err != nil {
		return result, fmt.Errorf("publish batch: %w", err)
	}
	result.Publish = pub
	return result, nil
}

// requeueStale revalidates every consumer the batch marked stale,
// following further propagation until it settles. Each topic is
// re-queued at most once per batch so a propagation loop cannot spin.
func (o *Orchestrator) requeueStale(ctx context.Context, result *BatchResult) {
	requeued := make(map[string]bool)
	pending := collectStale(result.Outcomes, requeued)

	for len(pending) > 0 {
		var next []string
		for _, topicID := range pending {
			if requeued[topicID] {
				continue
			}
			requeued[topicID] = true
			topic, err := o.registry.Topic(topicID)
			if err != nil {
				continue
			}
			outcome, err := o.Revalidate(ctx, topicID)
			if err != nil {
				result.Failures[topic.Statement] = err
				continue
			}
			result.Outcomes[topic.Statement] = outcome
			for _, id := range outcome.StaleConsumers {
				if !requeued[id] {
					next = append(next, id)
				}
			}
		}
		pending = next
	}
}

func collectStale(outcomes map[string]*Outcome, requeued map[string]bool) []string {
	var out []string
	seen := make(map[string]bool)
	for _, outcome := range outcomes {
		for _, id := range outcome.StaleConsumers {
			if !requeued[id] && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out
}

// investigate submits a job and waits for its trace.
func (o *Orchestrator) investigate(ctx context.Context, topic *corpus.Topic, phase dispatch.Phase) (*corpus.Trace, error) {
	future, err := o.pool.Submit(&dispatch.Request{
		Phase:     phase,
		TopicID:   topic.ID,
		Statement: topic.Statement,
		Source:    o.source,
	})
	if err != nil {
		return nil, err
	}
	return future.Wait(ctx)
}

// linkReferences registers graph edges for a document's shared
// references. Duplicate edges are no-ops; a cycle fails the pass.
func (o *Orchestrator) linkReferences(topicID string, doc *corpus.Document) error {
	for _, ref := range doc.References {
		if err := o.graph.AddReference(topicID, ref.CanonicalID); err != nil {
			return fmt.Errorf("link %q -> %q: %w", topicID, ref.CanonicalID, err)
		}
	}
	return nil
}

// writeDocument renders the document to the library and records its
// hash so the watcher ignores the write.
func (o *Orchestrator) writeDocument(doc *corpus.Document, topic *corpus.Topic) error {
	if o.library == nil {
		return nil
	}
	if err := o.library.WriteDocument(doc, topic); err != nil {
		return err
	}
	if o.hashes != nil {
		o.hashes.SetHash(doc.FileName, hashRendered(doc, topic))
	}
	return nil
}

func hashRendered(doc *corpus.Document, topic *corpus.Topic) string {
	sum := sha256.Sum256([]byte(library.RenderMarkdown(doc, topic)))
	return hex.EncodeToString(sum[:])
}

// advanceToValidated walks the topic to validated state along legal
// lifecycle transitions. A published topic that validated identically
// stays published; one that drifted goes back through stale so the
// patched document reaches the next publish.
func (o *Orchestrator) advanceToValidated(ctx context.Context, topicID string, drifted bool) error {
	topic, err := o.registry.Topic(topicID)
	if err != nil {
		return err
	}
	status := topic.Status
	if status == corpus.StatusValidated {
		return nil
	}
	if status == corpus.StatusPublished {
		if !drifted {
			return nil
		}
		if err := o.registry.SetStatus(ctx, topicID, corpus.StatusStale); err != nil {
			return err
		}
		status = corpus.StatusStale
	}

	path, ok := statusPath(status, corpus.StatusValidated)
	if !ok {
		return fmt.Errorf("no lifecycle path from %s to validated for %q", status, topicID)
	}
	for _, status := range path {
		if err := o.registry.SetStatus(ctx, topicID, status); err != nil {
			return err
		}
	}
	return nil
}

// statusPath finds the shortest legal transition sequence between two
// statuses by breadth-first search over the lifecycle.
func statusPath(from, to corpus.Status) ([]corpus.Status, bool) {
	all := []corpus.Status{
		corpus.StatusDiscovered,
		corpus.StatusInvestigating,
		corpus.StatusDrafted,
		corpus.StatusValidated,
		corpus.StatusPublished,
		corpus.StatusStale,
	}

	prev := map[corpus.Status]corpus.Status{from: from}
	queue := []corpus.Status{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			var path []corpus.Status
			for s := to; s != from; s = prev[s] {
				path = append([]corpus.Status{s}, path...)
			}
			return path, true
		}
		for _, next := range all {
			if _, seen := prev[next]; seen {
				continue
			}
			if corpus.CanTransition(cur, next) {
				prev[next] = cur
				queue = append(queue, next)
			}
		}
	}
	return nil, false
}

func (o *Orchestrator) consultPlanning(topicID string) {
	if o.planning == nil {
		return
	}
	note, err := o.planning.Read(topicID)
	if err != nil {
		o.logger.Warn("failed to read planning notes",
			slog.String("topic_id", topicID),
			slog.String("error", err.Error()))
		return
	}
	if note != "" {
		o.logger.Debug("planning notes consulted",
			slog.String("topic_id", topicID))
	}
}

func (o *Orchestrator) updatePlanning(topicID, entry string) {
	if o.planning == nil {
		return
	}
	if err := o.planning.Update(topicID, entry); err != nil {
		o.logger.Warn("failed to update planning notes",
			slog.String("topic_id", topicID),
			slog.String("error", err.Error()))
	}
}
