// Package registry is the authoritative map from topic identity to spec
// document. All other components query it rather than keeping their own
// copies; it is the enforcement point for the one-document-per-topic
// invariant.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/c360studio/speccorpus/corpus"
)

// Store persists registry state. The registry writes through on every
// mutation; reads are served from memory.
type Store interface {
	SaveTopic(ctx context.Context, topic *corpus.Topic) error
	SaveDocument(ctx context.Context, doc *corpus.Document) error
	DeleteDocument(ctx context.Context, topicID string) error
	LoadAll(ctx context.Context) ([]*corpus.Topic, []*corpus.Document, error)
}

// Registry owns topic and document state for one orchestrator process.
// It is passed explicitly, never held as an ambient singleton.
type Registry struct {
	mu     sync.RWMutex
	topics map[string]*corpus.Topic
	docs   map[string]*corpus.Document

	// lockMu guards locks; each entry serializes mutation for one topic
	// identifier so unrelated topics never contend.
	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	store  Store
	norm   *corpus.Normalizer
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithNormalizer sets the statement normalizer.
func WithNormalizer(n *corpus.Normalizer) Option {
	return func(r *Registry) { r.norm = n }
}

// New creates a registry backed by the given store and loads any persisted
// state into memory.
func New(ctx context.Context, store Store, opts ...Option) (*Registry, error) {
	r := &Registry{
		topics: make(map[string]*corpus.Topic),
		docs:   make(map[string]*corpus.Document),
		locks:  make(map[string]*sync.Mutex),
		store:  store,
		norm:   corpus.NewNormalizer(nil),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}

	topics, docs, err := store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registry state: %w", err)
	}
	for _, t := range topics {
		r.topics[t.ID] = t.Clone()
	}
	for _, d := range docs {
		r.docs[d.TopicID] = d.Clone()
	}
	if len(topics) > 0 {
		r.logger.Info("registry loaded",
			slog.Int("topics", len(topics)),
			slog.Int("documents", len(docs)))
	}
	return r, nil
}

// Normalizer returns the registry's statement normalizer.
func (r *Registry) Normalizer() *corpus.Normalizer {
	return r.norm
}

// topicLock returns the mutex serializing mutation for one identifier.
func (r *Registry) topicLock(id string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	m, ok := r.locks[id]
	if !ok {
		m = &sync.Mutex{}
		r.locks[id] = m
	}
	return m
}

// WithTopicLock runs fn while holding the exclusive section for one topic
// identifier. Merge steps after an investigation completes run under this
// lock so two completions for related work never interleave.
func (r *Registry) WithTopicLock(id string, fn func() error) error {
	m := r.topicLock(id)
	m.Lock()
	defer m.Unlock()
	return fn()
}

// Register admits a new topic. It fails with ErrAlreadyExists when the
// statement's normalized identifier collides with an existing topic.
func (r *Registry) Register(ctx context.Context, statement string) (*corpus.Topic, error) {
	id := r.norm.Identifier(statement)
	if id == "" {
		return nil, fmt.Errorf("statement %q normalizes to an empty identifier", statement)
	}

	lock := r.topicLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	if _, ok := r.topics[id]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("register %q: %w", id, ErrAlreadyExists)
	}
	now := time.Now()
	topic := &corpus.Topic{
		ID:        id,
		Statement: statement,
		Status:    corpus.StatusDiscovered,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.topics[id] = topic
	r.mu.Unlock()

	if err := r.store.SaveTopic(ctx, topic.Clone()); err != nil {
		r.mu.Lock()
		delete(r.topics, id)
		r.mu.Unlock()
		return nil, fmt.Errorf("persist topic %q: %w", id, err)
	}

	r.logger.Info("topic registered", slog.String("topic", id))
	return topic.Clone(), nil
}

// Topic returns the topic for an identifier. The caller gets a copy;
// registry state only changes through SetStatus and Retire.
func (r *Registry) Topic(id string) (*corpus.Topic, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.topics[id]
	if !ok {
		return nil, fmt.Errorf("topic %q: %w", id, ErrNotFound)
	}
	return t.Clone(), nil
}

// Lookup resolves a statement or identifier to its document. A raw
// identifier is tried first, then the normalized form of the input.
func (r *Registry) Lookup(statementOrID string) (*corpus.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if d, ok := r.docs[statementOrID]; ok {
		return d.Clone(), nil
	}
	id := r.norm.Identifier(statementOrID)
	if d, ok := r.docs[id]; ok {
		return d.Clone(), nil
	}
	return nil, fmt.Errorf("lookup %q: %w", statementOrID, ErrNotFound)
}

// Document returns the document for a topic identifier.
func (r *Registry) Document(id string) (*corpus.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %q: %w", id, ErrNotFound)
	}
	return d.Clone(), nil
}

// CanonicalHash returns the current content hash of a topic's document.
// Validators call this at validation time to check shared-reference
// freshness.
func (r *Registry) CanonicalHash(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.docs[id]
	if !ok {
		return "", false
	}
	return d.ContentHash(), true
}

// TopicByFileName returns the topic whose document is stored under the
// given library file name.
func (r *Registry) TopicByFileName(name string) (*corpus.Topic, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, d := range r.docs {
		if d.FileName == name {
			return r.topics[id].Clone(), true
		}
	}
	return nil, false
}

// PutDocument stores the document for its topic, creating or replacing.
// The topic must already be registered. The registry keeps its own copy,
// so later mutation of the argument does not leak into registry state.
func (r *Registry) PutDocument(ctx context.Context, doc *corpus.Document) error {
	doc.UpdatedAt = time.Now()
	stored := doc.Clone()

	r.mu.Lock()
	if _, ok := r.topics[doc.TopicID]; !ok {
		r.mu.Unlock()
		return fmt.Errorf("put document %q: %w", doc.TopicID, ErrNotFound)
	}
	r.docs[doc.TopicID] = stored
	r.mu.Unlock()

	if err := r.store.SaveDocument(ctx, stored); err != nil {
		return fmt.Errorf("persist document %q: %w", doc.TopicID, err)
	}
	return nil
}

// SetStatus transitions a topic's lifecycle status, enforcing the
// transition table.
func (r *Registry) SetStatus(ctx context.Context, id string, status corpus.Status) error {
	r.mu.Lock()
	t, ok := r.topics[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("set status %q: %w", id, ErrNotFound)
	}
	if err := t.Transition(status); err != nil {
		r.mu.Unlock()
		return err
	}
	snapshot := t.Clone()
	r.mu.Unlock()

	if err := r.store.SaveTopic(ctx, snapshot); err != nil {
		return fmt.Errorf("persist topic %q: %w", id, err)
	}
	r.logger.Debug("topic status changed",
		slog.String("topic", id),
		slog.String("status", string(status)))
	return nil
}

// List returns documents whose topic matches the status filter, sorted by
// topic identifier. An empty status returns every document.
func (r *Registry) List(status corpus.Status) []*corpus.Document {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*corpus.Document
	for id, d := range r.docs {
		t, ok := r.topics[id]
		if !ok {
			continue
		}
		if status == "" || t.Status == status {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TopicID < out[j].TopicID })
	return out
}

// Topics returns all topics, sorted by identifier.
func (r *Registry) Topics() []*corpus.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*corpus.Topic, 0, len(r.topics))
	for _, t := range r.topics {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Retire destroys a topic's document and marks the topic retired. The
// caller is responsible for re-pointing any shared references first; the
// graph rejects retirement while consumers still point here.
func (r *Registry) Retire(ctx context.Context, id string) error {
	lock := r.topicLock(id)
	lock.Lock()
	defer lock.Unlock()

	r.mu.Lock()
	t, ok := r.topics[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("retire %q: %w", id, ErrNotFound)
	}
	if err := t.Transition(corpus.StatusRetired); err != nil {
		r.mu.Unlock()
		return err
	}
	delete(r.docs, id)
	snapshot := t.Clone()
	r.mu.Unlock()

	if err := r.store.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("delete document %q: %w", id, err)
	}
	if err := r.store.SaveTopic(ctx, snapshot); err != nil {
		return fmt.Errorf("persist topic %q: %w", id, err)
	}
	r.logger.Info("topic retired", slog.String("topic", id))
	return nil
}
