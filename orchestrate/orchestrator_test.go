package orchestrate

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/c360studio/speccorpus/corpus"
	"github.com/c360studio/speccorpus/dispatch"
	"github.com/c360studio/speccorpus/graph"
	"github.com/c360studio/speccorpus/library"
	"github.com/c360studio/speccorpus/publish"
	"github.com/c360studio/speccorpus/registry"
	"github.com/c360studio/speccorpus/validate"
)

// fakeInvestigator serves programmed traces keyed by topic ID.
type fakeInvestigator struct {
	mu     sync.Mutex
	traces map[string]*corpus.Trace
	calls  map[string]int
}

func newFakeInvestigator() *fakeInvestigator {
	return &fakeInvestigator{
		traces: make(map[string]*corpus.Trace),
		calls:  make(map[string]int),
	}
}

func (f *fakeInvestigator) set(topicID string, trace *corpus.Trace) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traces[topicID] = trace
}

func (f *fakeInvestigator) callCount(topicID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[topicID]
}

func (f *fakeInvestigator) Investigate(_ context.Context, req dispatch.Request) (*corpus.Trace, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.TopicID]++
	trace, ok := f.traces[req.TopicID]
	if !ok {
		return nil, errors.New("no trace programmed for " + req.TopicID)
	}
	copied := *trace
	copied.TopicID = req.TopicID
	return &copied, nil
}

// fakeVCS accepts every publish operation.
type fakeVCS struct {
	mu      sync.Mutex
	commits []string
	pushes  int
}

func (v *fakeVCS) Stage(context.Context, []string) error { return nil }

func (v *fakeVCS) Commit(_ context.Context, message string) (string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.commits = append(v.commits, message)
	return "abc1234", nil
}

func (v *fakeVCS) Push(context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.pushes++
	return nil
}

func (v *fakeVCS) ResetIndex(context.Context) error { return nil }

type testHarness struct {
	orch         *Orchestrator
	registry     *registry.Registry
	graph        *graph.Graph
	investigator *fakeInvestigator
	vcs          *fakeVCS
	library      *library.Manager
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	ctx := context.Background()

	reg, err := registry.New(ctx, registry.NewMemoryStore())
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}

	inv := newFakeInvestigator()
	pool := dispatch.NewPool(inv, dispatch.Config{
		SpecStudyCap:   4,
		SourceStudyCap: 4,
		JobTimeout:     5 * time.Second,
	})
	t.Cleanup(pool.Close)

	gr := graph.New(reg, nil)
	val := validate.New(validate.WithCanonicalResolver(reg))
	lib := library.NewManager(t.TempDir())
	vcs := &fakeVCS{}
	gate := publish.NewGate(vcs, reg, lib, nil)

	orch := New(reg, gr, pool, val, gate, lib)
	return &testHarness{
		orch:         orch,
		registry:     reg,
		graph:        gr,
		investigator: inv,
		vcs:          vcs,
		library:      lib,
	}
}

func couponTrace(effect string) *corpus.Trace {
	return &corpus.Trace{
		Revision: "rev-1",
		Behaviors: []corpus.Behavior{
			{Name: "redeem", Effect: effect},
		},
	}
}

func TestProcessTopicNewStatement(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	topicID := h.registry.Normalizer().Identifier("Redeeming an expired coupon")
	h.investigator.set(topicID, couponTrace("rejects the coupon"))

	outcome, err := h.orch.ProcessTopic(ctx, "Redeeming an expired coupon")
	if err != nil {
		t.Fatalf("ProcessTopic() error = %v", err)
	}
	if outcome.Validation.Kind != validate.KindNew {
		t.Errorf("validation kind = %q, want new", outcome.Validation.Kind)
	}
	if outcome.Topic.Status != corpus.StatusValidated {
		t.Errorf("topic status = %q, want validated", outcome.Topic.Status)
	}

	doc, err := h.registry.Document(topicID)
	if err != nil {
		t.Fatalf("Document() error = %v", err)
	}
	if len(doc.Behaviors) != 1 || doc.Behaviors[0].Effect != "rejects the coupon" {
		t.Errorf("unexpected document behaviors: %+v", doc.Behaviors)
	}
}

func TestProcessTopicIdenticalRerun(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	topicID := h.registry.Normalizer().Identifier("Redeeming an expired coupon")
	h.investigator.set(topicID, couponTrace("rejects the coupon"))

	if _, err := h.orch.ProcessTopic(ctx, "Redeeming an expired coupon"); err != nil {
		t.Fatalf("first ProcessTopic() error = %v", err)
	}
	before, _ := h.registry.Document(topicID)
	hashBefore := before.ContentHash()

	// Same content at a later corpus revision.
	next := couponTrace("rejects the coupon")
	next.Revision = "rev-2"
	h.investigator.set(topicID, next)

	outcome, err := h.orch.ProcessTopic(ctx, "Redeeming an expired coupon")
	if err != nil {
		t.Fatalf("second ProcessTopic() error = %v", err)
	}
	if outcome.Validation.Kind != validate.KindIdentical {
		t.Errorf("validation kind = %q, want identical", outcome.Validation.Kind)
	}
	if outcome.Document.Revision != "rev-2" {
		t.Errorf("revision = %q, want rev-2", outcome.Document.Revision)
	}
	if outcome.Document.ContentHash() != hashBefore {
		t.Error("content hash changed on identical revalidation")
	}
}

func TestProcessTopicAmbiguousStatement(t *testing.T) {
	h := newHarness(t)

	_, err := h.orch.ProcessTopic(context.Background(), "Validates coupon codes and sends confirmation email")
	var ambiguous *corpus.AmbiguousTopicError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("expected AmbiguousTopicError, got %v", err)
	}
	if len(h.registry.Topics()) != 0 {
		t.Error("ambiguous statement should not register a topic")
	}
}

func TestCanonicalDriftPropagatesToConsumers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	canonicalID := h.registry.Normalizer().Identifier("Monetary rounding of line items")
	h.investigator.set(canonicalID, &corpus.Trace{
		Revision: "rev-1",
		Behaviors: []corpus.Behavior{
			{Name: "round", Effect: "rounds half up to cents"},
		},
	})
	if _, err := h.orch.ProcessTopic(ctx, "Monetary rounding of line items"); err != nil {
		t.Fatalf("canonical ProcessTopic() error = %v", err)
	}
	canonicalHash, _ := h.registry.CanonicalHash(canonicalID)

	consumerID := h.registry.Normalizer().Identifier("Calculating order discounts")
	h.investigator.set(consumerID, &corpus.Trace{
		Revision: "rev-1",
		Behaviors: []corpus.Behavior{
			{Name: "discount", Effect: "applies percentage discount"},
			{Name: "round", Effect: "rounds half up to cents", Shared: true},
		},
		References: []corpus.SharedReference{
			{Name: "round", CanonicalID: canonicalID, InlinedHash: canonicalHash},
		},
	})
	if _, err := h.orch.ProcessTopic(ctx, "Calculating order discounts"); err != nil {
		t.Fatalf("consumer ProcessTopic() error = %v", err)
	}

	// The canonical's rounding rule changes.
	h.investigator.set(canonicalID, &corpus.Trace{
		Revision: "rev-2",
		Behaviors: []corpus.Behavior{
			{Name: "round", Effect: "rounds half to even"},
		},
	})
	outcome, err := h.orch.Revalidate(ctx, canonicalID)
	if err != nil {
		t.Fatalf("canonical Revalidate() error = %v", err)
	}
	if outcome.Validation.Kind != validate.KindDrifted {
		t.Fatalf("canonical validation kind = %q, want drifted", outcome.Validation.Kind)
	}

	consumer, err := h.registry.Topic(consumerID)
	if err != nil {
		t.Fatalf("Topic(consumer) error = %v", err)
	}
	if consumer.Status != corpus.StatusStale {
		t.Errorf("consumer status = %q, want stale", consumer.Status)
	}

	// Consumer revalidation picks up the new inlined text and fresh hash.
	newHash, _ := h.registry.CanonicalHash(canonicalID)
	h.investigator.set(consumerID, &corpus.Trace{
		Revision: "rev-2",
		Behaviors: []corpus.Behavior{
			{Name: "discount", Effect: "applies percentage discount"},
			{Name: "round", Effect: "rounds half to even", Shared: true},
		},
		References: []corpus.SharedReference{
			{Name: "round", CanonicalID: canonicalID, InlinedHash: newHash},
		},
	})
	consumerOutcome, err := h.orch.Revalidate(ctx, consumerID)
	if err != nil {
		t.Fatalf("consumer Revalidate() error = %v", err)
	}
	if consumerOutcome.Topic.Status != corpus.StatusValidated {
		t.Errorf("consumer status after revalidation = %q, want validated", consumerOutcome.Topic.Status)
	}
}

func TestRunBatchPublishesValidated(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	statements := []string{
		"Redeeming an expired coupon",
		"Calculating order discounts",
	}
	for _, s := range statements {
		h.investigator.set(h.registry.Normalizer().Identifier(s), couponTrace("effect for "+s))
	}

	result, err := h.orch.RunBatch(ctx, statements)
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", result.Failures)
	}
	if result.Publish == nil {
		t.Fatal("expected a publish result")
	}
	if len(result.Publish.Topics) != 2 {
		t.Errorf("published topics = %v", result.Publish.Topics)
	}
	if len(h.vcs.commits) != 1 {
		t.Errorf("commits = %d, want a single batch commit", len(h.vcs.commits))
	}

	for _, s := range statements {
		topic, err := h.registry.Topic(h.registry.Normalizer().Identifier(s))
		if err != nil {
			t.Fatalf("Topic(%q) error = %v", s, err)
		}
		if topic.Status != corpus.StatusPublished {
			t.Errorf("topic %q status = %q, want published", s, topic.Status)
		}
	}
}

func TestDriftedPublishedTopicRepublishes(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	statement := "Redeeming an expired coupon"
	topicID := h.registry.Normalizer().Identifier(statement)
	h.investigator.set(topicID, couponTrace("rejects the coupon"))

	if _, err := h.orch.RunBatch(ctx, []string{statement}); err != nil {
		t.Fatalf("first RunBatch() error = %v", err)
	}
	topic, _ := h.registry.Topic(topicID)
	if topic.Status != corpus.StatusPublished {
		t.Fatalf("topic status = %q, want published", topic.Status)
	}

	// The source behavior changes under the published document.
	drifted := couponTrace("accepts the coupon within a grace period")
	drifted.Revision = "rev-2"
	h.investigator.set(topicID, drifted)

	outcome, err := h.orch.Revalidate(ctx, topicID)
	if err != nil {
		t.Fatalf("Revalidate() error = %v", err)
	}
	if outcome.Validation.Kind != validate.KindDrifted {
		t.Fatalf("validation kind = %q, want drifted", outcome.Validation.Kind)
	}
	if outcome.Topic.Status != corpus.StatusValidated {
		t.Errorf("drifted published topic status = %q, want validated for republish", outcome.Topic.Status)
	}

	result, err := h.orch.RunBatch(ctx, []string{statement})
	if err != nil {
		t.Fatalf("second RunBatch() error = %v", err)
	}
	if result.Publish == nil || len(result.Publish.Topics) != 1 {
		t.Fatalf("expected the patched document republished, got %+v", result.Publish)
	}
	if len(h.vcs.commits) != 2 {
		t.Errorf("commits = %d, want a second commit carrying the patch", len(h.vcs.commits))
	}
	topic, _ = h.registry.Topic(topicID)
	if topic.Status != corpus.StatusPublished {
		t.Errorf("topic status after republish = %q, want published", topic.Status)
	}
}

func TestRunBatchRevalidatesStaleConsumers(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	canonicalStmt := "Monetary rounding of line items"
	consumerStmt := "Calculating order discounts"
	canonicalID := h.registry.Normalizer().Identifier(canonicalStmt)
	consumerID := h.registry.Normalizer().Identifier(consumerStmt)

	h.investigator.set(canonicalID, &corpus.Trace{
		Revision: "rev-1",
		Behaviors: []corpus.Behavior{
			{Name: "round", Effect: "rounds half up to cents"},
		},
	})
	if _, err := h.orch.ProcessTopic(ctx, canonicalStmt); err != nil {
		t.Fatalf("canonical ProcessTopic() error = %v", err)
	}
	oldHash, _ := h.registry.CanonicalHash(canonicalID)

	h.investigator.set(consumerID, &corpus.Trace{
		Revision: "rev-1",
		Behaviors: []corpus.Behavior{
			{Name: "discount", Effect: "applies percentage discount"},
			{Name: "round", Effect: "rounds half up to cents", Shared: true},
		},
		References: []corpus.SharedReference{
			{Name: "round", CanonicalID: canonicalID, InlinedHash: oldHash},
		},
	})
	if _, err := h.orch.ProcessTopic(ctx, consumerStmt); err != nil {
		t.Fatalf("consumer ProcessTopic() error = %v", err)
	}

	// Program both re-investigations against the changed rounding rule,
	// then drive only the canonical through the batch.
	newCanonicalHash := (&corpus.Document{
		Behaviors: []corpus.Behavior{
			{Name: "round", Effect: "rounds half to even"},
		},
	}).ContentHash()
	h.investigator.set(canonicalID, &corpus.Trace{
		Revision: "rev-2",
		Behaviors: []corpus.Behavior{
			{Name: "round", Effect: "rounds half to even"},
		},
	})
	h.investigator.set(consumerID, &corpus.Trace{
		Revision: "rev-2",
		Behaviors: []corpus.Behavior{
			{Name: "discount", Effect: "applies percentage discount"},
			{Name: "round", Effect: "rounds half to even", Shared: true},
		},
		References: []corpus.SharedReference{
			{Name: "round", CanonicalID: canonicalID, InlinedHash: newCanonicalHash},
		},
	})

	consumerCallsBefore := h.investigator.callCount(consumerID)
	result, err := h.orch.RunBatch(ctx, []string{canonicalStmt})
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("unexpected failures: %v", result.Failures)
	}

	// The stale consumer was re-investigated inside the batch.
	if got := h.investigator.callCount(consumerID); got != consumerCallsBefore+1 {
		t.Errorf("consumer investigations = %d, want %d", got, consumerCallsBefore+1)
	}
	if _, ok := result.Outcomes[consumerStmt]; !ok {
		t.Errorf("expected an outcome recorded for the re-queued consumer, got %v", result.Outcomes)
	}

	// Both documents go out in the same commit.
	if result.Publish == nil || len(result.Publish.Topics) != 2 {
		t.Fatalf("expected canonical and consumer published together, got %+v", result.Publish)
	}
	for _, id := range []string{canonicalID, consumerID} {
		topic, err := h.registry.Topic(id)
		if err != nil {
			t.Fatalf("Topic(%q) error = %v", id, err)
		}
		if topic.Status != corpus.StatusPublished {
			t.Errorf("topic %q status = %q, want published", id, topic.Status)
		}
	}
	doc, _ := h.registry.Document(consumerID)
	if ref := doc.FindReference(canonicalID); ref == nil || ref.InlinedHash != newCanonicalHash {
		t.Errorf("consumer reference not refreshed: %+v", ref)
	}
}

func TestRunBatchIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	good := "Redeeming an expired coupon"
	bad := "Reconciling nightly settlements"
	h.investigator.set(h.registry.Normalizer().Identifier(good), couponTrace("rejects the coupon"))
	// No trace programmed for the bad statement: its investigation fails.

	result, err := h.orch.RunBatch(ctx, []string{good, bad})
	if err != nil {
		t.Fatalf("RunBatch() error = %v", err)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("failures = %v, want exactly the failed statement", result.Failures)
	}
	if _, ok := result.Failures[bad]; !ok {
		t.Errorf("expected failure recorded for %q", bad)
	}
	if result.Publish == nil || len(result.Publish.Topics) != 1 {
		t.Errorf("expected the good topic published, got %+v", result.Publish)
	}

	badTopic, err := h.registry.Topic(h.registry.Normalizer().Identifier(bad))
	if err != nil {
		t.Fatalf("Topic(bad) error = %v", err)
	}
	if badTopic.Status != corpus.StatusDiscovered {
		t.Errorf("failed topic status = %q, want discovered for a later pass", badTopic.Status)
	}
}

func TestRetireWithRepoint(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	oldCanonical := h.registry.Normalizer().Identifier("Monetary rounding of line items")
	newCanonical := h.registry.Normalizer().Identifier("Banker rounding of line items")
	consumerID := h.registry.Normalizer().Identifier("Calculating order discounts")

	for _, s := range []string{"Monetary rounding of line items", "Banker rounding of line items"} {
		h.investigator.set(h.registry.Normalizer().Identifier(s), couponTrace("rounds"))
		if _, err := h.orch.ProcessTopic(ctx, s); err != nil {
			t.Fatalf("ProcessTopic(%q) error = %v", s, err)
		}
	}

	hash, _ := h.registry.CanonicalHash(oldCanonical)
	h.investigator.set(consumerID, &corpus.Trace{
		Revision: "rev-1",
		Behaviors: []corpus.Behavior{
			{Name: "round", Effect: "rounds", Shared: true},
		},
		References: []corpus.SharedReference{
			{Name: "round", CanonicalID: oldCanonical, InlinedHash: hash},
		},
	})
	if _, err := h.orch.ProcessTopic(ctx, "Calculating order discounts"); err != nil {
		t.Fatalf("consumer ProcessTopic() error = %v", err)
	}

	// A retirement with live consumers needs a replacement.
	if err := h.orch.Retire(ctx, oldCanonical, ""); err == nil {
		t.Fatal("expected error retiring a canonical with consumers and no replacement")
	}

	if err := h.orch.Retire(ctx, oldCanonical, newCanonical); err != nil {
		t.Fatalf("Retire() error = %v", err)
	}

	topic, err := h.registry.Topic(oldCanonical)
	if err != nil {
		t.Fatalf("Topic(old) error = %v", err)
	}
	if topic.Status != corpus.StatusRetired {
		t.Errorf("retired topic status = %q", topic.Status)
	}
	if _, err := h.registry.Document(oldCanonical); err == nil {
		t.Error("retired topic's document should be destroyed")
	}

	canonicals := h.graph.CanonicalsOf(consumerID)
	if len(canonicals) != 1 || canonicals[0] != newCanonical {
		t.Errorf("consumer canonicals = %v, want re-pointed to %q", canonicals, newCanonical)
	}
	consumer, _ := h.registry.Topic(consumerID)
	if consumer.Status != corpus.StatusStale {
		t.Errorf("consumer status = %q, want stale after repoint", consumer.Status)
	}
}
