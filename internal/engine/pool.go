package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/mcp-dispatch-go/mcperr"
)

const (
	jobQueued int32 = iota
	jobClaimed
	jobAbandoned
)

// job is one blocking invocation waiting for a worker. Exactly one of claim
// and abandon succeeds.
type job struct {
	run   func()
	done  chan struct{}
	state atomic.Int32
}

// claim marks the job as taken by a worker.
func (j *job) claim() bool { return j.state.CompareAndSwap(jobQueued, jobClaimed) }

// abandon withdraws a job no worker has taken yet.
func (j *job) abandon() bool { return j.state.CompareAndSwap(jobQueued, jobAbandoned) }

// pool is a fixed set of workers fed by a bounded queue. Submissions beyond
// the queue depth fail with CodeOverloaded instead of waiting.
type pool struct {
	jobs chan *job
	wg   sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newPool(workers, depth int) *pool {
	p := &pool{jobs: make(chan *job, depth)}
	p.wg.Add(workers)
	for range workers {
		go p.work()
	}
	return p
}

func (p *pool) work() {
	defer p.wg.Done()
	for j := range p.jobs {
		if j.claim() {
			j.run()
		}
		close(j.done)
	}
}

// submit queues fn. The job's done channel is closed once fn has returned or
// a worker has dropped the abandoned job.
func (p *pool) submit(fn func()) (*job, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, mcperr.New(mcperr.CodeInternal, "worker pool is closed")
	}
	j := &job{run: fn, done: make(chan struct{})}
	select {
	case p.jobs <- j:
		return j, nil
	default:
		return nil, mcperr.New(mcperr.CodeOverloaded, "worker queue is full (%d queued)", cap(p.jobs))
	}
}

// queued returns the number of jobs waiting for a worker.
func (p *pool) queued() int { return len(p.jobs) }

// close stops accepting jobs and waits for queued and running jobs to finish
// or for ctx to end.
func (p *pool) close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
