package corpus

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Behavior is a named, ordered step of observable behavior. Steps may nest.
type Behavior struct {
	// Name identifies the step among its siblings.
	Name string `json:"name"`
	// Effect describes what observably happens at this step.
	Effect string `json:"effect"`
	// Notable marks behavior that is surprising or inconsistent.
	Notable bool `json:"notable,omitempty"`
	// Unreachable marks behavior present in source with no live path to it.
	Unreachable bool `json:"unreachable,omitempty"`
	// Shared marks behavior inlined from a canonical document.
	Shared bool `json:"shared,omitempty"`
	// Children are nested sub-steps, in order.
	Children []Behavior `json:"children,omitempty"`
}

// Boundary declares an interface to an adjacent concern. It never describes
// the other side's internals.
type Boundary struct {
	// Name identifies the adjacent concern.
	Name string `json:"name"`
	// Sends describes what crosses the boundary outward.
	Sends string `json:"sends"`
	// Receives describes what comes back.
	Receives string `json:"receives"`
	// Assumption is what this topic assumes about the response.
	Assumption string `json:"assumption,omitempty"`
}

// SharedReference links a consuming document to the one canonical document
// that is authoritative for a reused behavior. The canonical content is
// inlined in the consumer, so the reference exists only for maintenance
// propagation.
type SharedReference struct {
	// Name identifies the reused behavior.
	Name string `json:"name"`
	// CanonicalID is the topic ID of the canonical document.
	CanonicalID string `json:"canonical_id"`
	// InlinedHash is the canonical content hash at the time of inlining.
	InlinedHash string `json:"inlined_hash,omitempty"`
}

// Document is the persisted artifact for one topic.
type Document struct {
	// TopicID is the normalized topic identifier, 1:1 with the topic.
	TopicID string `json:"topic_id"`
	// FileName is derived deterministically from the topic statement,
	// at most three significant words, kebab-cased.
	FileName string `json:"file_name"`
	// Behaviors is the ordered tree of observable behavior.
	Behaviors []Behavior `json:"behaviors"`
	// Boundaries are declared interfaces to adjacent concerns.
	Boundaries []Boundary `json:"boundaries,omitempty"`
	// References link to canonical documents for inlined shared behavior.
	References []SharedReference `json:"references,omitempty"`
	// Revision is the source corpus revision the document was last
	// validated against.
	Revision string `json:"revision"`
	// UpdatedAt records the last content change or revision advance.
	UpdatedAt time.Time `json:"updated_at"`
}

// ContentHash returns the hash of the document's asserted behavior. Only
// behavior content participates; the revision marker and timestamps do not,
// so advancing the revision on an identical validation leaves the hash
// unchanged.
func (d *Document) ContentHash() string {
	payload := struct {
		Behaviors  []Behavior        `json:"behaviors"`
		Boundaries []Boundary        `json:"boundaries"`
		References []SharedReference `json:"references"`
	}{d.Behaviors, d.Boundaries, d.References}

	data, err := json.Marshal(payload)
	if err != nil {
		// Marshal of these concrete types cannot fail; keep the
		// signature simple.
		panic(fmt.Sprintf("hash document %s: %v", d.TopicID, err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Clone returns a deep copy of the document.
func (d *Document) Clone() *Document {
	out := *d
	out.Behaviors = cloneBehaviors(d.Behaviors)
	out.Boundaries = append([]Boundary(nil), d.Boundaries...)
	out.References = append([]SharedReference(nil), d.References...)
	return &out
}

func cloneBehaviors(src []Behavior) []Behavior {
	if src == nil {
		return nil
	}
	out := make([]Behavior, len(src))
	for i, b := range src {
		out[i] = b
		out[i].Children = cloneBehaviors(b.Children)
	}
	return out
}

// FindReference returns the shared reference pointing at the given
// canonical topic ID, or nil.
func (d *Document) FindReference(canonicalID string) *SharedReference {
	for i := range d.References {
		if d.References[i].CanonicalID == canonicalID {
			return &d.References[i]
		}
	}
	return nil
}
