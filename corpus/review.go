package corpus

import (
	"fmt"
	"strings"
)

// Reviewer checks a proposed topic statement before admission. A statement
// must describe a single capability; one that joins two capabilities that
// could vary independently is rejected.
type Reviewer interface {
	Review(statement string) error
}

// AmbiguousTopicError indicates a statement joined two independently
// variable capabilities. The caller must split and resubmit.
type AmbiguousTopicError struct {
	Statement string
	Reason    string
}

func (e *AmbiguousTopicError) Error() string {
	return fmt.Sprintf("ambiguous topic %q: %s", e.Statement, e.Reason)
}

// StatementReviewer is the default admission check. It flags statements
// that conjoin two verb phrases, the common shape of a compound topic
// ("validates tokens and sends email notifications").
type StatementReviewer struct{}

// capability verbs that, appearing on both sides of a conjunction, signal
// two independent capabilities in one statement.
var capabilityVerbs = map[string]bool{
	"accepts": true, "applies": true, "builds": true, "calculates": true,
	"checks": true, "computes": true, "creates": true, "deletes": true,
	"emits": true, "enforces": true, "generates": true, "handles": true,
	"issues": true, "loads": true, "notifies": true, "parses": true,
	"persists": true, "processes": true, "publishes": true, "reads": true,
	"records": true, "redeems": true, "rejects": true, "renders": true,
	"resolves": true, "retries": true, "returns": true, "rounds": true,
	"saves": true, "schedules": true, "sends": true, "stores": true,
	"syncs": true, "tracks": true, "updates": true, "validates": true,
	"verifies": true, "writes": true,
}

var conjunctions = []string{" and ", " then ", "; ", " as well as ", " plus "}

// Review rejects a statement whose halves around a conjunction each carry
// their own capability verb.
func (r *StatementReviewer) Review(statement string) error {
	s := strings.ToLower(strings.TrimSpace(statement))
	if s == "" {
		return &AmbiguousTopicError{Statement: statement, Reason: "empty statement"}
	}

	for _, conj := range conjunctions {
		idx := strings.Index(s, conj)
		if idx < 0 {
			continue
		}
		left := s[:idx]
		right := s[idx+len(conj):]
		if hasCapabilityVerb(left) && hasCapabilityVerb(right) {
			return &AmbiguousTopicError{
				Statement: statement,
				Reason:    fmt.Sprintf("joins two capabilities around %q; split into separate topics", strings.TrimSpace(conj)),
			}
		}
	}
	return nil
}

func hasCapabilityVerb(phrase string) bool {
	for _, w := range strings.Fields(phrase) {
		w = strings.Trim(w, ".,;:")
		if capabilityVerbs[w] {
			return true
		}
	}
	return false
}
