// Package corpus defines the data model for the specification corpus:
// topics, spec documents, behavior trees, and investigation traces.
package corpus

import (
	"fmt"
	"time"
)

// Status represents the current state of a topic in its lifecycle.
type Status string

const (
	// StatusDiscovered indicates the topic has been admitted but not yet investigated.
	StatusDiscovered Status = "discovered"
	// StatusInvestigating indicates an investigation job is pending or running.
	StatusInvestigating Status = "investigating"
	// StatusDrafted indicates a document exists but has not been validated.
	StatusDrafted Status = "drafted"
	// StatusValidated indicates the document matches the latest trace.
	StatusValidated Status = "validated"
	// StatusPublished indicates the document is committed and pushed.
	StatusPublished Status = "published"
	// StatusStale indicates the document no longer reflects the live source
	// or an updated canonical dependency.
	StatusStale Status = "stale"
	// StatusRetired indicates the topic was merged into another topic and
	// its document destroyed.
	StatusRetired Status = "retired"
)

// validTransitions maps each status to the statuses it may move to.
var validTransitions = map[Status][]Status{
	StatusDiscovered:    {StatusInvestigating, StatusRetired},
	StatusInvestigating: {StatusDrafted, StatusDiscovered, StatusRetired},
	StatusDrafted:       {StatusValidated, StatusInvestigating, StatusRetired},
	StatusValidated:     {StatusPublished, StatusStale, StatusRetired},
	StatusPublished:     {StatusStale, StatusRetired},
	StatusStale:         {StatusInvestigating, StatusRetired},
	StatusRetired:       {},
}

// CanTransition reports whether a topic may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Topic is a single, independently-variable capability chosen as the unit
// of documentation.
type Topic struct {
	// ID is the normalized identifier derived from the statement.
	ID string `json:"id"`
	// Statement is the one-sentence description of the capability.
	Statement string `json:"statement"`
	// Status is the topic's position in the lifecycle.
	Status Status `json:"status"`
	// CreatedAt records when the topic was admitted.
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt records the last status change.
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a copy of the topic. All fields are value types, so a
// shallow copy is complete.
func (t *Topic) Clone() *Topic {
	out := *t
	return &out
}

// Transition moves the topic to a new status, enforcing the lifecycle.
func (t *Topic) Transition(to Status) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("invalid topic transition %s -> %s for %q", t.Status, to, t.ID)
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return nil
}
