// ABOUTME: In-process reference scheduler running units on a fixed set of resident workers
// ABOUTME: Drains lower stages first and finishes when nothing is queued or running

package work

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
	"golang.org/x/sync/errgroup"

	"github.com/prateek/heapbridge/internal/logging"
)

// DefaultWorkers is the worker count used when none is configured.
const DefaultWorkers = 4

// Launcher starts a resident worker. run blocks for the life of the worker
// and returns once the pool is closed.
type Launcher func(w *Worker, run func())

// GoLauncher runs every worker on its own goroutine.
func GoLauncher(_ *Worker, run func()) { go run() }

// resident is a started worker waiting for phases.
type resident struct {
	w    *Worker
	jobs chan func()
}

// Pool is a Scheduler that runs units on a fixed number of resident workers.
// Units may schedule further units while running; Run returns once the
// queues are empty and no unit is in flight.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queues  [StageRelease + 1][]Unit
	pending int // queued + running
	stopped bool

	workers   int
	residents []*resident
	startOnce sync.Once
	closed    bool
	log       *slog.Logger

	// executed counts units run per stage, for reports.
	executed [StageRelease + 1]int
}

// NewPool creates a pool with n workers (DefaultWorkers if n <= 0).
func NewPool(n int, l *slog.Logger) *Pool {
	if n <= 0 {
		n = DefaultWorkers
	}
	p := &Pool{workers: n, log: logging.OrDiscard(l)}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Workers returns the number of workers.
func (p *Pool) Workers() int {
	return p.workers
}

// Schedule queues u in stage. Safe to call from within a running unit.
func (p *Pool) Schedule(stage Stage, u Unit) {
	if stage < StageRoots || stage > StageRelease {
		stage = StageClosure
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queues[stage] = append(p.queues[stage], u)
	p.pending++
	p.cond.Signal()
}

// next blocks until a unit is available or the phase is over.
func (p *Pool) next() (Unit, Stage, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.stopped {
			return nil, 0, false
		}
		for s := range p.queues {
			q := p.queues[s]
			if n := len(q); n > 0 {
				u := q[n-1]
				q[n-1] = nil
				p.queues[s] = q[:n-1]
				return u, Stage(s), true
			}
		}
		if p.pending == 0 {
			p.stopped = true
			p.cond.Broadcast()
			return nil, 0, false
		}
		p.cond.Wait()
	}
}

func (p *Pool) done(stage Stage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	p.executed[stage]++
	if p.pending == 0 {
		p.cond.Broadcast()
	}
}

func (p *Pool) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.cond.Broadcast()
}

// Start launches the resident workers through launch. Only the first call
// has an effect; Run starts the workers on goroutines if nobody did.
func (p *Pool) Start(launch Launcher) {
	p.startOnce.Do(func() {
		p.residents = make([]*resident, p.workers)
		for i := range p.residents {
			p.residents[i] = &resident{w: &Worker{ID: i}, jobs: make(chan func())}
		}
		for _, r := range p.residents {
			r := r
			launch(r.w, func() {
				for job := range r.jobs {
					job()
				}
			})
		}
		p.log.Debug("workers started", slog.Int("workers", p.workers))
	})
}

// Close stops the resident workers once they finish their current phase.
// The pool cannot run again afterwards.
func (p *Pool) Close() {
	p.Start(func(*Worker, func()) {})
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, r := range p.residents {
		close(r.jobs)
	}
}

// Run executes queued units until the transitive closure is exhausted, or
// until a unit fails or ctx is cancelled. The pool can be reused afterwards.
func (p *Pool) Run(ctx context.Context) error {
	p.Start(GoLauncher)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		panic(errors.AssertionFailedf("work: pool run after Close"))
	}
	p.stopped = false
	p.mu.Unlock()

	parent := ctx
	g, ctx := errgroup.WithContext(parent)

	// Wake idle workers when the caller cancels the phase.
	watchDone := make(chan struct{})
	watchExited := make(chan struct{})
	go func() {
		defer close(watchExited)
		select {
		case <-parent.Done():
			p.stop()
		case <-watchDone:
		}
	}()

	for _, r := range p.residents {
		r := r
		g.Go(func() error {
			errc := make(chan error, 1)
			r.jobs <- func() { errc <- p.drain(ctx, r.w) }
			return <-errc
		})
	}
	err := g.Wait()
	close(watchDone)
	<-watchExited
	p.reset()
	if err == nil {
		err = parent.Err()
	}
	return err
}

// drain runs units on w until the phase is over.
func (p *Pool) drain(ctx context.Context, w *Worker) error {
	for {
		u, stage, ok := p.next()
		if !ok {
			return nil
		}
		err := u.Do(ctx, w)
		p.done(stage)
		if err != nil {
			p.log.Error("work unit failed",
				slog.Int("worker", w.ID),
				slog.String("stage", stage.String()),
				slog.Any("error", err))
			p.stop()
			return err
		}
	}
}

// reset drops anything left queued after a failed or cancelled phase.
func (p *Pool) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for s := range p.queues {
		p.pending -= len(p.queues[s])
		p.queues[s] = nil
	}
}

// Executed returns how many units ran in stage since the pool was created.
func (p *Pool) Executed(stage Stage) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executed[stage]
}
