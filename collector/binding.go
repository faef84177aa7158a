// ABOUTME: Binding is the explicit GC-subsystem context shared by the runtime and the collector
// ABOUTME: Owns the live object index, the object model and the worker pool

package collector

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/internal/logging"
	"github.com/prateek/heapbridge/liveindex"
	"github.com/prateek/heapbridge/objectmodel"
	"github.com/prateek/heapbridge/scan"
	"github.com/prateek/heapbridge/vm"
	"github.com/prateek/heapbridge/work"
)

// Binding connects one runtime to one collector core. The runtime holds the
// binding from New until Close; every method panics after Close.
type Binding struct {
	rt      vm.Runtime
	upcalls vm.Upcalls
	core    Core
	index   *liveindex.Index
	model   *objectmodel.Model
	pool    *work.Pool

	capacity int
	growth   int
	workers  int
	tls      vm.Thread
	log      *slog.Logger

	// collectMu serialises collections.
	collectMu sync.Mutex
	cycles    atomic.Int64
	closed    atomic.Bool
}

// Option configures a Binding.
type Option func(*Binding)

// WithWorkers sets the number of collector workers.
func WithWorkers(n int) Option {
	return func(b *Binding) { b.workers = n }
}

// WithFlushCapacity sets the scan buffer flush threshold.
func WithFlushCapacity(n int) Option {
	return func(b *Binding) { b.capacity = n }
}

// WithIndexGrowth sets the growth step of the live object index.
func WithIndexGrowth(n int) Option {
	return func(b *Binding) { b.growth = n }
}

// WithThread sets the thread handle passed to upcalls.
func WithThread(tls vm.Thread) Option {
	return func(b *Binding) { b.tls = tls }
}

// WithLogger sets the logger shared by every component of the binding.
func WithLogger(l *slog.Logger) Option {
	return func(b *Binding) { b.log = l }
}

// New creates a binding and asks the runtime to start the collector's
// controller thread and one thread per worker.
func New(rt vm.Runtime, upcalls vm.Upcalls, core Core, opts ...Option) *Binding {
	b := &Binding{
		rt:       rt,
		upcalls:  upcalls,
		core:     core,
		capacity: scan.DefaultCapacity,
		growth:   liveindex.DefaultGrowth,
		workers:  work.DefaultWorkers,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logging.OrDiscard(b.log)
	b.index = liveindex.New(liveindex.WithLogger(b.log), liveindex.WithGrowth(b.growth))
	b.model = objectmodel.New(rt, b.index, upcalls)
	b.pool = work.NewPool(b.workers, b.log)

	b.upcalls.SpawnWorkerThread(b.tls, nil)
	b.pool.Start(b.spawnWorker)
	b.log.Info("collector initialized",
		slog.String("plan", core.Name()),
		slog.Int("workers", b.pool.Workers()),
		slog.Int("flush_capacity", b.capacity))
	return b
}

// gcWorker is the context the runtime runs on each collector thread.
type gcWorker struct {
	id  int
	run func()
}

func (g gcWorker) Run() { g.run() }

// spawnWorker asks the runtime for a thread to host a resident pool worker.
func (b *Binding) spawnWorker(w *work.Worker, run func()) {
	b.upcalls.SpawnWorkerThread(b.tls, gcWorker{id: w.ID, run: run})
}

func (b *Binding) checkOpen() {
	if b.closed.Load() {
		panic(errors.AssertionFailedf("collector: binding used after Close"))
	}
}

// Close ends the runtime's ownership of the binding. The collector threads
// return once Close has been called.
func (b *Binding) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		panic(errors.AssertionFailedf("collector: binding closed twice"))
	}
	b.collectMu.Lock()
	b.pool.Close()
	b.collectMu.Unlock()
	b.log.Info("collector closed", slog.Int64("collections", b.cycles.Load()))
}

// Core returns the collector core.
func (b *Binding) Core() Core {
	b.checkOpen()
	return b.core
}

// Index returns the live object index.
func (b *Binding) Index() *liveindex.Index {
	b.checkOpen()
	return b.index
}

// Model returns the object model.
func (b *Binding) Model() *objectmodel.Model {
	b.checkOpen()
	return b.model
}

// Collections returns how many collections have completed.
func (b *Binding) Collections() int {
	return int(b.cycles.Load())
}

// Insert registers a newly allocated object.
func (b *Binding) Insert(addr, owner address.Address, space liveindex.Space) error {
	b.checkOpen()
	return b.index.Insert(addr, owner, space)
}

// Remove unregisters an object the runtime released itself.
func (b *Binding) Remove(addr address.Address) {
	b.checkOpen()
	b.index.Remove(addr)
}

// InnerToObject maps an interior pointer to the object containing it.
func (b *Binding) InnerToObject(inner address.Address) address.Address {
	b.checkOpen()
	return b.index.InnerToObject(inner)
}

// ObjectToSpace returns the space of the object containing addr.
func (b *Binding) ObjectToSpace(addr address.Address) liveindex.Space {
	b.checkOpen()
	return b.index.ObjectToSpace(addr)
}

// ResetIterator rewinds the whole-heap walk.
func (b *Binding) ResetIterator() {
	b.checkOpen()
	b.index.ResetIterator()
}

// NextObject steps the whole-heap walk.
func (b *Binding) NextObject() (address.Address, bool) {
	b.checkOpen()
	return b.index.NextObject()
}

// readOnly reports whether obj is a tracked read-only object.
func (b *Binding) readOnly(obj address.Address) bool {
	return b.index.Contains(obj) && b.index.ObjectToSpace(obj) == liveindex.SpaceReadOnly
}

// IsLive reports whether the object behind a tagged reference survived the
// most recent collection. Read-only objects are always live.
func (b *Binding) IsLive(ref address.Address) bool {
	b.checkOpen()
	obj := address.Canonical(ref)
	if b.readOnly(obj) {
		return true
	}
	return b.core.IsReachable(obj)
}

// IsMovable reports whether the core may relocate the object behind ref.
func (b *Binding) IsMovable(ref address.Address) bool {
	b.checkOpen()
	return b.core.IsMovable(b.index.ObjectToSpace(address.Canonical(ref)))
}

// ForwardedObject returns the new location of the object behind a tagged
// reference, carrying over the reference's tag, or false when the object has
// not moved.
func (b *Binding) ForwardedObject(ref address.Address) (address.Address, bool) {
	b.checkOpen()
	obj, tag := address.Strip(ref)
	to, ok := b.core.Forwarded(obj)
	if !ok {
		return address.Zero, false
	}
	return address.Reattach(to, tag), true
}

// CollectorCount is not supported by this runtime integration.
func (b *Binding) CollectorCount() int {
	vm.Unimplemented("collector count")
	return 0
}

// NumberOfMutators is not supported by this runtime integration.
func (b *Binding) NumberOfMutators() int {
	vm.Unimplemented("number of mutators")
	return 0
}
