package registry

import (
	"errors"

	"github.com/c360studio/speccorpus/corpus"
)

// Dedup answers "does a spec for this topic already exist" before any
// write. Matching is by normalized topic identity only; a materially
// different statement is a distinct topic even when behavior overlaps —
// overlap is handled through shared references, not merged identity.
type Dedup struct {
	registry *Registry
}

// NewDedup creates a dedup service over the registry.
func NewDedup(r *Registry) *Dedup {
	return &Dedup{registry: r}
}

// FindCandidate returns the existing document for a proposed statement, or
// nil when the topic is new. Pure read; safe to run concurrently with
// other reads.
func (d *Dedup) FindCandidate(proposedStatement string) *corpus.Document {
	doc, err := d.registry.Lookup(proposedStatement)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return nil
	}
	return doc
}
