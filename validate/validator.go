// Package validate compares a spec document's asserted behavior against a
// freshly produced trace and classifies drift.
package validate

import (
	"fmt"
	"log/slog"

	"github.com/c360studio/speccorpus/corpus"
)

// Kind classifies a validation outcome.
type Kind string

const (
	// KindIdentical means the document matches the trace; only the
	// last-validated revision marker advances.
	KindIdentical Kind = "identical"
	// KindDrifted means one or more behavior nodes changed; a minimal
	// patch carries the updated document.
	KindDrifted Kind = "drifted"
	// KindNew means no prior document existed.
	KindNew Kind = "new"
)

// Result is the outcome of diffing a document against a trace.
type Result struct {
	Kind Kind
	// ChangedPaths lists the behavior nodes that differ, as
	// slash-separated name paths, plus "ref:<name>" entries for shared
	// references whose canonical content moved.
	ChangedPaths []string
	// Patched is the minimally patched document; set only on drift.
	// Unaffected behavior nodes, boundaries, and shared references are
	// preserved verbatim.
	Patched *corpus.Document
}

// CanonicalResolver reports the current content hash of a canonical
// document. Validation reads the canonical's hash at validation time, not
// at job-submission time; that ordering keeps a consumer from reaching
// validated state against an outdated canonical.
type CanonicalResolver interface {
	CanonicalHash(id string) (string, bool)
}

// Validator performs structural comparison over behavior trees.
type Validator struct {
	canonicals CanonicalResolver
	logger     *slog.Logger
}

// Option configures a Validator.
type Option func(*Validator)

// WithCanonicalResolver enables shared-reference freshness checks.
func WithCanonicalResolver(r CanonicalResolver) Option {
	return func(v *Validator) { v.canonicals = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) { v.logger = logger }
}

// New creates a validator.
func New(opts ...Option) *Validator {
	v := &Validator{logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate diffs a document's asserted behavior against a fresh trace. A
// nil document yields KindNew. A behavior node counts as changed if its
// described effect, its order relative to siblings, or its notable or
// unreachable classification differs from the trace.
func (v *Validator) Validate(doc *corpus.Document, trace *corpus.Trace) *Result {
	if doc == nil {
		return &Result{Kind: KindNew}
	}

	merged, changed := diffBehaviors(doc.Behaviors, trace.Behaviors, "")
	changed = append(changed, v.staleReferences(doc)...)

	if len(changed) == 0 {
		return &Result{Kind: KindIdentical}
	}

	patched := doc.Clone()
	patched.Behaviors = merged
	patched.Revision = trace.Revision
	patched.References = mergeReferences(patched.References, trace.References)

	v.logger.Info("drift detected",
		slog.String("topic", doc.TopicID),
		slog.Int("changed_nodes", len(changed)))
	return &Result{Kind: KindDrifted, ChangedPaths: changed, Patched: patched}
}

// staleReferences flags shared references whose inlined canonical content
// no longer matches the canonical's current hash.
func (v *Validator) staleReferences(doc *corpus.Document) []string {
	if v.canonicals == nil {
		return nil
	}
	var changed []string
	for _, ref := range doc.References {
		current, ok := v.canonicals.CanonicalHash(ref.CanonicalID)
		if !ok {
			continue
		}
		if ref.InlinedHash != "" && ref.InlinedHash != current {
			changed = append(changed, "ref:"+ref.Name)
		}
	}
	return changed
}

// mergeReferences refreshes the inlined hash of references the trace
// re-observed with the same canonical. References the trace doesn't
// mention are preserved verbatim; re-pointing is a retirement concern,
// not a validation one.
func mergeReferences(existing, fresh []corpus.SharedReference) []corpus.SharedReference {
	for _, f := range fresh {
		for i, e := range existing {
			if e.Name == f.Name && e.CanonicalID == f.CanonicalID {
				existing[i].InlinedHash = f.InlinedHash
			}
		}
	}
	return existing
}

// diffBehaviors merges the trace's behavior order over the document's
// nodes, preserving unchanged document nodes verbatim. It returns the
// merged tree and the paths of changed nodes.
func diffBehaviors(old, fresh []corpus.Behavior, prefix string) ([]corpus.Behavior, []string) {
	oldByName := make(map[string]int, len(old))
	for i, b := range old {
		oldByName[b.Name] = i
	}

	var changed []string
	merged := make([]corpus.Behavior, 0, len(fresh))

	for i, fb := range fresh {
		path := joinPath(prefix, fb.Name)
		oi, existed := oldByName[fb.Name]
		if !existed {
			// New node observed in the trace.
			merged = append(merged, fb)
			changed = append(changed, path)
			continue
		}

		ob := old[oi]
		children, childChanges := diffBehaviors(ob.Children, fb.Children, path)
		nodeChanged := ob.Effect != fb.Effect ||
			ob.Notable != fb.Notable ||
			ob.Unreachable != fb.Unreachable ||
			oi != i // Ordering relative to siblings moved.

		if nodeChanged {
			next := fb
			next.Children = children
			merged = append(merged, next)
			changed = append(changed, path)
		} else {
			// Preserve the document's node verbatim, with any child
			// patches folded in.
			next := ob
			next.Children = children
			merged = append(merged, next)
		}
		changed = append(changed, childChanges...)
	}

	// Nodes absent from the trace are dropped; record them as changed.
	freshNames := make(map[string]bool, len(fresh))
	for _, fb := range fresh {
		freshNames[fb.Name] = true
	}
	for _, ob := range old {
		if !freshNames[ob.Name] {
			changed = append(changed, joinPath(prefix, ob.Name))
		}
	}

	return merged, changed
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return fmt.Sprintf("%s/%s", prefix, name)
}
