package dispatch

import (
	"context"
	"sync"

	"github.com/c360studio/speccorpus/corpus"
)

// Future resolves to an investigation trace or a failure. A future
// resolves exactly once; later resolutions are dropped.
type Future struct {
	done  chan struct{}
	once  sync.Once
	trace *corpus.Trace
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(trace *corpus.Trace, err error) {
	f.once.Do(func() {
		f.trace = trace
		f.err = err
		close(f.done)
	})
}

// Done returns a channel closed when the future resolves.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future resolves or the context ends.
func (f *Future) Wait(ctx context.Context) (*corpus.Trace, error) {
	select {
	case <-f.done:
		return f.trace, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
