package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/speccorpus/corpus"
)

// Bucket names for registry persistence.
const (
	BucketTopics    = "SPECCORPUS_TOPICS"
	BucketDocuments = "SPECCORPUS_DOCUMENTS"
)

// KVStore persists registry state in NATS JetStream key-value buckets.
type KVStore struct {
	topics jetstream.KeyValue
	docs   jetstream.KeyValue
}

// NewKVStore creates a KV-backed store, creating the buckets if needed.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	topics, err := getOrCreateBucket(ctx, js, BucketTopics)
	if err != nil {
		return nil, fmt.Errorf("create topics bucket: %w", err)
	}
	docs, err := getOrCreateBucket(ctx, js, BucketDocuments)
	if err != nil {
		return nil, fmt.Errorf("create documents bucket: %w", err)
	}
	return &KVStore{topics: topics, docs: docs}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Speccorpus %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

// SaveTopic persists the topic keyed by its identifier.
func (s *KVStore) SaveTopic(ctx context.Context, topic *corpus.Topic) error {
	data, err := json.Marshal(topic)
	if err != nil {
		return fmt.Errorf("marshal topic: %w", err)
	}
	if _, err := s.topics.Put(ctx, topic.ID, data); err != nil {
		return fmt.Errorf("store topic: %w", err)
	}
	return nil
}

// SaveDocument persists the document keyed by topic identifier.
func (s *KVStore) SaveDocument(ctx context.Context, doc *corpus.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if _, err := s.docs.Put(ctx, doc.TopicID, data); err != nil {
		return fmt.Errorf("store document: %w", err)
	}
	return nil
}

// DeleteDocument removes the document for a topic.
func (s *KVStore) DeleteDocument(ctx context.Context, topicID string) error {
	if err := s.docs.Delete(ctx, topicID); err != nil && !isNotFound(err) {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// LoadAll reads all persisted topics and documents.
func (s *KVStore) LoadAll(ctx context.Context) ([]*corpus.Topic, []*corpus.Document, error) {
	topics, err := loadBucket[corpus.Topic](ctx, s.topics)
	if err != nil {
		return nil, nil, fmt.Errorf("load topics: %w", err)
	}
	docs, err := loadBucket[corpus.Document](ctx, s.docs)
	if err != nil {
		return nil, nil, fmt.Errorf("load documents: %w", err)
	}
	return topics, docs, nil
}

func loadBucket[T any](ctx context.Context, kv jetstream.KeyValue) ([]*T, error) {
	keys, err := kv.Keys(ctx)
	if err != nil {
		if err == jetstream.ErrNoKeysFound {
			return nil, nil
		}
		return nil, fmt.Errorf("list keys: %w", err)
	}

	out := make([]*T, 0, len(keys))
	for _, key := range keys {
		entry, err := kv.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var v T
		if err := json.Unmarshal(entry.Value(), &v); err != nil {
			continue
		}
		out = append(out, &v)
	}
	return out, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	return err != nil && strings.Contains(err.Error(), "key not found")
}
