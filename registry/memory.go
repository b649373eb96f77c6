package registry

import (
	"context"
	"sync"

	"github.com/c360studio/speccorpus/corpus"
)

// MemoryStore is an in-process Store with no durability. Used in tests and
// for single-shot runs that publish before exiting.
type MemoryStore struct {
	mu     sync.Mutex
	topics map[string]*corpus.Topic
	docs   map[string]*corpus.Document
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		topics: make(map[string]*corpus.Topic),
		docs:   make(map[string]*corpus.Document),
	}
}

// SaveTopic stores a copy of the topic.
func (s *MemoryStore) SaveTopic(_ context.Context, topic *corpus.Topic) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *topic
	s.topics[topic.ID] = &cp
	return nil
}

// SaveDocument stores a copy of the document.
func (s *MemoryStore) SaveDocument(_ context.Context, doc *corpus.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.TopicID] = doc.Clone()
	return nil
}

// DeleteDocument removes the document for a topic.
func (s *MemoryStore) DeleteDocument(_ context.Context, topicID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, topicID)
	return nil
}

// LoadAll returns all persisted topics and documents.
func (s *MemoryStore) LoadAll(_ context.Context) ([]*corpus.Topic, []*corpus.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	topics := make([]*corpus.Topic, 0, len(s.topics))
	for _, t := range s.topics {
		cp := *t
		topics = append(topics, &cp)
	}
	docs := make([]*corpus.Document, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d.Clone())
	}
	return topics, docs, nil
}
