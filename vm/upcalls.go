// ABOUTME: Reference Upcalls for runtimes embedded in the same Go process
// ABOUTME: Implements the stop-the-world handshake with a mutex and condition variable

package vm

import (
	"sync"

	"golang.org/x/exp/slog"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/internal/logging"
)

// LocalUpcalls implements Upcalls for an in-process runtime. Mutators call
// BlockForGC to park until ResumeMutators runs; worker contexts run on
// goroutines.
type LocalUpcalls struct {
	mu         sync.Mutex
	cond       *sync.Cond
	inProgress bool

	log *slog.Logger

	// OnRelocate, when set, is called for every relocation.
	OnRelocate func(from, to address.Address, size uintptr)

	wg sync.WaitGroup
}

// NewLocalUpcalls creates upcalls logging to l (nil discards).
func NewLocalUpcalls(l *slog.Logger) *LocalUpcalls {
	u := &LocalUpcalls{log: logging.OrDiscard(l)}
	u.cond = sync.NewCond(&u.mu)
	return u
}

func (u *LocalUpcalls) StopAllMutators(tls Thread) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inProgress = true
	u.log.Debug("mutators stopped", slog.Any("tls", tls))
}

func (u *LocalUpcalls) ResumeMutators(tls Thread) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inProgress = false
	u.cond.Broadcast()
	u.log.Debug("mutators resumed", slog.Any("tls", tls))
}

// BlockForGC waits until the current collection, if any, has finished.
func (u *LocalUpcalls) BlockForGC(tls Thread) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for u.inProgress {
		u.cond.Wait()
	}
}

// InProgress reports whether mutators are currently stopped.
func (u *LocalUpcalls) InProgress() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.inProgress
}

func (u *LocalUpcalls) SpawnWorkerThread(tls Thread, ctx WorkerContext) {
	if ctx == nil {
		// The reference collector drives collections from the caller's
		// goroutine, so there is no separate controller to start.
		u.log.Debug("controller thread requested")
		return
	}
	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		ctx.Run()
	}()
}

// Wait blocks until every spawned worker context has returned.
func (u *LocalUpcalls) Wait() {
	u.wg.Wait()
}

func (u *LocalUpcalls) ObjectRelocated(from, to address.Address, size uintptr) {
	if u.OnRelocate != nil {
		u.OnRelocate(from, to, size)
	}
}
