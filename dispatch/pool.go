// Package dispatch runs investigation jobs through a bounded worker pool.
// Two phases are capped independently: jobs that study existing specs and
// jobs that study source material. Requests beyond a phase's cap queue in
// submission order; there is no priority beyond FIFO.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360studio/speccorpus/corpus"
)

// Phase distinguishes the two independently-capped job kinds.
type Phase string

const (
	// PhaseSpecStudy covers jobs that study existing spec documents,
	// used while learning the corpus.
	PhaseSpecStudy Phase = "spec-study"
	// PhaseSourceStudy covers jobs that study source material, used
	// while tracing a topic.
	PhaseSourceStudy Phase = "source-study"
)

// Dispatch errors.
var (
	// ErrInvestigationFailed wraps collaborator errors, timeouts, and
	// malformed traces. Reported per topic; the pool never retries.
	ErrInvestigationFailed = errors.New("investigation failed")
	// ErrJobCancelled resolves the future of a cancelled job.
	ErrJobCancelled = errors.New("job cancelled")
	// ErrUnknownPhase is returned for a request with no configured phase.
	ErrUnknownPhase = errors.New("unknown dispatch phase")
)

// Investigator is the black-box collaborator that accepts a topic and a
// corpus handle and returns a structured trace.
type Investigator interface {
	Investigate(ctx context.Context, req Request) (*corpus.Trace, error)
}

// Request describes one investigation job.
type Request struct {
	// ID is assigned by the pool on submit.
	ID string
	// Phase selects which cap the job counts against.
	Phase Phase
	// TopicID and Statement identify what to investigate.
	TopicID   string
	Statement string
	// Source is the corpus handle the collaborator reads.
	Source corpus.SourceRef
	// Timeout bounds the job; zero uses the pool default.
	Timeout time.Duration
}

// Config holds pool capacity settings.
type Config struct {
	// SpecStudyCap bounds concurrent spec-study jobs.
	SpecStudyCap int
	// SourceStudyCap bounds concurrent source-study jobs.
	SourceStudyCap int
	// JobTimeout is the per-job default timeout.
	JobTimeout time.Duration
}

// DefaultConfig returns the pool defaults.
func DefaultConfig() Config {
	return Config{
		SpecStudyCap:   250,
		SourceStudyCap: 500,
		JobTimeout:     10 * time.Minute,
	}
}

type job struct {
	req       Request
	future    *Future
	cancelled atomic.Bool
	cancel    context.CancelFunc // set while running
}

// phaseQueue is one phase's bounded lane: a FIFO admission queue and a
// running count against the cap.
type phaseQueue struct {
	mu      sync.Mutex
	cap     int
	running int
	queue   []*job
}

// Pool is the concurrency dispatcher. Jobs are independent and stateless
// with respect to each other; they only return a trace, and all registry
// or graph mutation happens afterward, serialized by the caller.
type Pool struct {
	investigator Investigator
	config       Config
	logger       *slog.Logger
	metrics      *Metrics

	mu     sync.Mutex
	phases map[Phase]*phaseQueue
	jobs   map[string]*job

	closed bool
	wg     sync.WaitGroup
}

// Option configures a Pool.
type Option func(*Pool)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pool) { p.logger = logger }
}

// WithMetricsRegisterer registers pool metrics with reg.
func WithMetricsRegisterer(reg prometheus.Registerer) Option {
	return func(p *Pool) { p.metrics = NewMetrics(reg) }
}

// NewPool creates a dispatcher over the given investigator.
func NewPool(investigator Investigator, config Config, opts ...Option) *Pool {
	if config.SpecStudyCap <= 0 {
		config.SpecStudyCap = DefaultConfig().SpecStudyCap
	}
	if config.SourceStudyCap <= 0 {
		config.SourceStudyCap = DefaultConfig().SourceStudyCap
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = DefaultConfig().JobTimeout
	}
	p := &Pool{
		investigator: investigator,
		config:       config,
		logger:       slog.Default(),
		phases: map[Phase]*phaseQueue{
			PhaseSpecStudy:   {cap: config.SpecStudyCap},
			PhaseSourceStudy: {cap: config.SourceStudyCap},
		},
		jobs: make(map[string]*job),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics(nil)
	}
	return p
}

// Submit queues an investigation job and returns its future. The request's
// ID field is assigned here; use it for Cancel.
func (p *Pool) Submit(req *Request) (*Future, error) {
	pq, ok := p.phases[req.Phase]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPhase, req.Phase)
	}

	req.ID = uuid.New().String()
	j := &job{req: *req, future: newFuture()}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("pool is closed")
	}
	p.jobs[req.ID] = j
	p.mu.Unlock()

	pq.mu.Lock()
	pq.queue = append(pq.queue, j)
	p.metrics.queued.WithLabelValues(string(req.Phase)).Inc()
	pq.mu.Unlock()

	p.admit(req.Phase, pq)
	return j.future, nil
}

// admit starts queued jobs while the phase has free capacity.
func (p *Pool) admit(phase Phase, pq *phaseQueue) {
	for {
		pq.mu.Lock()
		if pq.running >= pq.cap || len(pq.queue) == 0 {
			pq.mu.Unlock()
			return
		}
		j := pq.queue[0]
		pq.queue = pq.queue[1:]
		p.metrics.queued.WithLabelValues(string(phase)).Dec()
		pq.running++
		p.metrics.running.WithLabelValues(string(phase)).Inc()
		pq.mu.Unlock()

		p.wg.Add(1)
		go p.run(phase, pq, j)
	}
}

func (p *Pool) run(phase Phase, pq *phaseQueue, j *job) {
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), p.jobTimeout(j.req))
	defer cancel()

	p.mu.Lock()
	j.cancel = cancel
	p.mu.Unlock()
	discarded := j.cancelled.Load()

	var trace *corpus.Trace
	var err error
	if !discarded {
		trace, err = p.investigator.Investigate(ctx, j.req)
	}

	pq.mu.Lock()
	pq.running--
	p.metrics.running.WithLabelValues(string(phase)).Dec()
	pq.mu.Unlock()

	discarded = discarded || j.cancelled.Load()
	p.mu.Lock()
	delete(p.jobs, j.req.ID)
	p.mu.Unlock()

	switch {
	case discarded:
		// A cancelled in-flight job's eventual result is discarded.
		p.metrics.cancelled.WithLabelValues(string(phase)).Inc()
		j.future.resolve(nil, ErrJobCancelled)
	case err != nil:
		p.metrics.failed.WithLabelValues(string(phase)).Inc()
		p.logger.Warn("investigation failed",
			slog.String("topic", j.req.TopicID),
			slog.String("job", j.req.ID),
			slog.String("error", err.Error()))
		j.future.resolve(nil, fmt.Errorf("%w: topic %q: %w", ErrInvestigationFailed, j.req.TopicID, err))
	case trace == nil || len(trace.Behaviors) == 0:
		p.metrics.failed.WithLabelValues(string(phase)).Inc()
		j.future.resolve(nil, fmt.Errorf("%w: topic %q: collaborator returned an empty trace", ErrInvestigationFailed, j.req.TopicID))
	default:
		p.metrics.completed.WithLabelValues(string(phase)).Inc()
		j.future.resolve(trace, nil)
	}

	p.admit(phase, pq)
}

func (p *Pool) jobTimeout(req Request) time.Duration {
	if req.Timeout > 0 {
		return req.Timeout
	}
	return p.config.JobTimeout
}

// Cancel cancels a job by ID. A still-queued job is dropped at no cost;
// an admitted job keeps running but its result is discarded when it
// resolves. Cancelling an unknown or finished job is a no-op.
func (p *Pool) Cancel(id string) {
	p.mu.Lock()
	j, ok := p.jobs[id]
	p.mu.Unlock()
	if !ok {
		return
	}

	// Queue membership, checked under the queue lock, decides which side
	// resolves the future and counts the cancellation. admit removes the
	// job under the same lock, so a job found here is not (and will not
	// be) running; a job not found is admitted and run settles it.
	pq := p.phases[j.req.Phase]
	pq.mu.Lock()
	j.cancelled.Store(true)
	queued := false
	for i, q := range pq.queue {
		if q == j {
			pq.queue = append(pq.queue[:i], pq.queue[i+1:]...)
			p.metrics.queued.WithLabelValues(string(j.req.Phase)).Dec()
			queued = true
			break
		}
	}
	pq.mu.Unlock()

	if queued {
		p.mu.Lock()
		delete(p.jobs, id)
		p.mu.Unlock()

		p.metrics.cancelled.WithLabelValues(string(j.req.Phase)).Inc()
		j.future.resolve(nil, ErrJobCancelled)
		return
	}

	p.mu.Lock()
	if j.cancel != nil {
		j.cancel()
	}
	p.mu.Unlock()
}

// QueueDepth returns the number of jobs waiting for admission in a phase.
func (p *Pool) QueueDepth(phase Phase) int {
	pq, ok := p.phases[phase]
	if !ok {
		return 0
	}
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return len(pq.queue)
}

// Running returns the number of jobs currently running in a phase.
func (p *Pool) Running(phase Phase) int {
	pq, ok := p.phases[phase]
	if !ok {
		return 0
	}
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.running
}

// Close refuses new submissions and waits for in-flight jobs to resolve.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
