package corpus

import "time"

// EntryPoint is a way into the traced behavior from outside the topic.
type EntryPoint struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// SideEffect records an externally observable effect found during
// investigation.
type SideEffect struct {
	Target      string `json:"target"`
	Description string `json:"description"`
}

// DataShape describes the shape of data crossing the topic's edges.
type DataShape struct {
	Name   string `json:"name"`
	Fields string `json:"fields,omitempty"`
}

// Trace is the structured result of investigating a topic against a source
// corpus. The orchestrator never interprets the corpus itself; the
// investigation collaborator returns this.
type Trace struct {
	// TopicID is the topic the trace answers for.
	TopicID string `json:"topic_id"`
	// Revision is the corpus revision the trace was produced against.
	Revision string `json:"revision"`
	// EntryPoints are the live ways into the behavior.
	EntryPoints []EntryPoint `json:"entry_points,omitempty"`
	// Behaviors is the observed behavior tree, in execution order.
	Behaviors []Behavior `json:"behaviors"`
	// Boundaries are the adjacent concerns the behavior touches.
	Boundaries []Boundary `json:"boundaries,omitempty"`
	// References identify behaviors inlined from canonical topics.
	References []SharedReference `json:"references,omitempty"`
	// SideEffects are observable effects outside the topic.
	SideEffects []SideEffect `json:"side_effects,omitempty"`
	// DataShapes describe data crossing the topic's edges.
	DataShapes []DataShape `json:"data_shapes,omitempty"`
	// ProducedAt records when the collaborator returned the trace.
	ProducedAt time.Time `json:"produced_at"`
}

// HydrateDocument builds a fresh document from a trace. Used when dedup
// lookup found no prior document for the topic.
func HydrateDocument(topic *Topic, fileName string, trace *Trace) *Document {
	return &Document{
		TopicID:    topic.ID,
		FileName:   fileName,
		Behaviors:  cloneBehaviors(trace.Behaviors),
		Boundaries: append([]Boundary(nil), trace.Boundaries...),
		References: append([]SharedReference(nil), trace.References...),
		Revision:   trace.Revision,
		UpdatedAt:  time.Now(),
	}
}
