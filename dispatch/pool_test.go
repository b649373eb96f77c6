package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/c360studio/speccorpus/corpus"
)

// blockingInvestigator tracks concurrent calls and holds each one until
// released.
type blockingInvestigator struct {
	mu          sync.Mutex
	running     int
	maxRunning  int
	release     chan struct{}
	calls       atomic.Int64
	startedOrds []string
}

func newBlockingInvestigator() *blockingInvestigator {
	return &blockingInvestigator{release: make(chan struct{})}
}

func (b *blockingInvestigator) Investigate(ctx context.Context, req Request) (*corpus.Trace, error) {
	b.calls.Add(1)
	b.mu.Lock()
	b.running++
	if b.running > b.maxRunning {
		b.maxRunning = b.running
	}
	b.startedOrds = append(b.startedOrds, req.TopicID)
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.running--
		b.mu.Unlock()
	}()

	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &corpus.Trace{
		TopicID:   req.TopicID,
		Revision:  req.Source.Revision,
		Behaviors: []corpus.Behavior{{Name: "step", Effect: "does the thing"}},
	}, nil
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestPool_BoundedConcurrency(t *testing.T) {
	inv := newBlockingInvestigator()
	pool := NewPool(inv, Config{SourceStudyCap: 5, SpecStudyCap: 2, JobTimeout: time.Minute})
	defer pool.Close()

	const submitted = 12
	futures := make([]*Future, 0, submitted)
	for i := 0; i < submitted; i++ {
		f, err := pool.Submit(&Request{
			Phase:   PhaseSourceStudy,
			TopicID: fmt.Sprintf("topic-%02d", i),
		})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		futures = append(futures, f)
	}

	// Cap running, the rest queued.
	waitFor(t, time.Second, func() bool { return pool.Running(PhaseSourceStudy) == 5 })
	if depth := pool.QueueDepth(PhaseSourceStudy); depth != submitted-5 {
		t.Errorf("QueueDepth = %d, want %d", depth, submitted-5)
	}

	close(inv.release)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			t.Fatalf("future %d failed: %v", i, err)
		}
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	if inv.maxRunning > 5 {
		t.Errorf("maxRunning = %d, cap is 5", inv.maxRunning)
	}
	if got := inv.calls.Load(); got != submitted {
		t.Errorf("calls = %d, want %d", got, submitted)
	}
}

func TestPool_FIFOAdmission(t *testing.T) {
	inv := newBlockingInvestigator()
	pool := NewPool(inv, Config{SourceStudyCap: 1, SpecStudyCap: 1, JobTimeout: time.Minute})
	defer pool.Close()

	var futures []*Future
	for i := 0; i < 4; i++ {
		f, err := pool.Submit(&Request{Phase: PhaseSourceStudy, TopicID: fmt.Sprintf("topic-%d", i)})
		if err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
		futures = append(futures, f)
	}

	close(inv.release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, f := range futures {
		if _, err := f.Wait(ctx); err != nil {
			t.Fatalf("future failed: %v", err)
		}
	}

	inv.mu.Lock()
	defer inv.mu.Unlock()
	for i, id := range inv.startedOrds {
		want := fmt.Sprintf("topic-%d", i)
		if id != want {
			t.Errorf("start order[%d] = %s, want %s", i, id, want)
		}
	}
}

func TestPool_PhasesCappedIndependently(t *testing.T) {
	inv := newBlockingInvestigator()
	pool := NewPool(inv, Config{SourceStudyCap: 3, SpecStudyCap: 2, JobTimeout: time.Minute})
	defer pool.Close()

	for i := 0; i < 6; i++ {
		if _, err := pool.Submit(&Request{Phase: PhaseSourceStudy, TopicID: fmt.Sprintf("src-%d", i)}); err != nil {
			t.Fatal(err)
		}
		if _, err := pool.Submit(&Request{Phase: PhaseSpecStudy, TopicID: fmt.Sprintf("spec-%d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	waitFor(t, time.Second, func() bool {
		return pool.Running(PhaseSourceStudy) == 3 && pool.Running(PhaseSpecStudy) == 2
	})
	if depth := pool.QueueDepth(PhaseSourceStudy); depth != 3 {
		t.Errorf("source queue depth = %d, want 3", depth)
	}
	if depth := pool.QueueDepth(PhaseSpecStudy); depth != 4 {
		t.Errorf("spec queue depth = %d, want 4", depth)
	}

	close(inv.release)
}

type failingInvestigator struct {
	calls atomic.Int64
}

func (f *failingInvestigator) Investigate(context.Context, Request) (*corpus.Trace, error) {
	f.calls.Add(1)
	return nil, errors.New("collaborator exploded")
}

func TestPool_FailureResolvesFuture_NoRetry(t *testing.T) {
	inv := &failingInvestigator{}
	pool := NewPool(inv, Config{SourceStudyCap: 1, SpecStudyCap: 1})
	defer pool.Close()

	f, err := pool.Submit(&Request{Phase: PhaseSourceStudy, TopicID: "doomed"})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = f.Wait(ctx)
	if !errors.Is(err, ErrInvestigationFailed) {
		t.Fatalf("expected ErrInvestigationFailed, got %v", err)
	}

	// No automatic retry: exactly one attempt.
	time.Sleep(20 * time.Millisecond)
	if got := inv.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1 (no retry)", got)
	}
}

type emptyTraceInvestigator struct{}

func (emptyTraceInvestigator) Investigate(context.Context, Request) (*corpus.Trace, error) {
	return &corpus.Trace{}, nil
}

func TestPool_MalformedTraceIsFailure(t *testing.T) {
	pool := NewPool(emptyTraceInvestigator{}, Config{SourceStudyCap: 1, SpecStudyCap: 1})
	defer pool.Close()

	f, err := pool.Submit(&Request{Phase: PhaseSourceStudy, TopicID: "empty"})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, ErrInvestigationFailed) {
		t.Fatalf("expected ErrInvestigationFailed for empty trace, got %v", err)
	}
}

func TestPool_CancelQueued(t *testing.T) {
	inv := newBlockingInvestigator()
	pool := NewPool(inv, Config{SourceStudyCap: 1, SpecStudyCap: 1, JobTimeout: time.Minute})
	defer pool.Close()

	running, err := pool.Submit(&Request{Phase: PhaseSourceStudy, TopicID: "running"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return pool.Running(PhaseSourceStudy) == 1 })

	queuedReq := &Request{Phase: PhaseSourceStudy, TopicID: "queued"}
	queued, err := pool.Submit(queuedReq)
	if err != nil {
		t.Fatal(err)
	}

	pool.Cancel(queuedReq.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := queued.Wait(ctx); !errors.Is(err, ErrJobCancelled) {
		t.Fatalf("expected ErrJobCancelled, got %v", err)
	}
	if depth := pool.QueueDepth(PhaseSourceStudy); depth != 0 {
		t.Errorf("queue depth = %d after cancel, want 0", depth)
	}

	close(inv.release)
	if _, err := running.Wait(ctx); err != nil {
		t.Fatalf("running job failed: %v", err)
	}

	// The cancelled job never ran.
	if got := inv.calls.Load(); got != 1 {
		t.Errorf("calls = %d, want 1", got)
	}
}

func TestPool_CancelCountsOnce(t *testing.T) {
	inv := newBlockingInvestigator()
	pool := NewPool(inv, Config{SourceStudyCap: 1, SpecStudyCap: 1, JobTimeout: time.Minute})
	defer pool.Close()

	running, err := pool.Submit(&Request{Phase: PhaseSourceStudy, TopicID: "running"})
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return pool.Running(PhaseSourceStudy) == 1 })

	queuedReq := &Request{Phase: PhaseSourceStudy, TopicID: "queued"}
	queued, err := pool.Submit(queuedReq)
	if err != nil {
		t.Fatal(err)
	}

	pool.Cancel(queuedReq.ID)
	// A repeated cancel of a settled job is a no-op.
	pool.Cancel(queuedReq.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := queued.Wait(ctx); !errors.Is(err, ErrJobCancelled) {
		t.Fatalf("expected ErrJobCancelled, got %v", err)
	}

	close(inv.release)
	if _, err := running.Wait(ctx); err != nil {
		t.Fatalf("running job failed: %v", err)
	}

	got := testutil.ToFloat64(pool.metrics.cancelled.WithLabelValues(string(PhaseSourceStudy)))
	if got != 1 {
		t.Errorf("cancelled counter = %v, want exactly 1", got)
	}
}

func TestPool_CancelInFlight_DiscardsResult(t *testing.T) {
	inv := newBlockingInvestigator()
	pool := NewPool(inv, Config{SourceStudyCap: 1, SpecStudyCap: 1, JobTimeout: time.Minute})
	defer pool.Close()

	req := &Request{Phase: PhaseSourceStudy, TopicID: "in-flight"}
	f, err := pool.Submit(req)
	if err != nil {
		t.Fatal(err)
	}
	waitFor(t, time.Second, func() bool { return pool.Running(PhaseSourceStudy) == 1 })

	pool.Cancel(req.ID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := f.Wait(ctx); !errors.Is(err, ErrJobCancelled) {
		t.Fatalf("expected ErrJobCancelled, got %v", err)
	}
}

func TestPool_UnknownPhase(t *testing.T) {
	pool := NewPool(newBlockingInvestigator(), DefaultConfig())
	defer pool.Close()

	if _, err := pool.Submit(&Request{Phase: "mystery"}); !errors.Is(err, ErrUnknownPhase) {
		t.Fatalf("expected ErrUnknownPhase, got %v", err)
	}
}
