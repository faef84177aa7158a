// ABOUTME: Bridges the runtime's pull-style enumeration callbacks to the collector's work units
// ABOUTME: Traces each edge, rewrites moved slots and batches newly discovered objects

// Package scan drives the root- and object-scanning phase of a collection.
// The runtime enumerates edges through callbacks it controls; every edge goes
// through the same protocol: strip the tag, trace through the collector core,
// rewrite the slot if the object moved, and buffer newly discovered objects
// until a full buffer is flushed as a new unit of closure work.
package scan

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/internal/logging"
	"github.com/prateek/heapbridge/vm"
	"github.com/prateek/heapbridge/work"
)

// DefaultCapacity is the number of discovered objects buffered before a
// flush.
const DefaultCapacity = 4096

// Outcome is the result of tracing one object.
type Outcome struct {
	// Object is the object's canonical address after tracing, which differs
	// from the traced address when the object has been forwarded.
	Object address.Address
	// Discovered is true the first time this collection reaches Object.
	Discovered bool
}

// Tracer is the edge-processing capability of one collector policy.
// Implementations must be safe for concurrent use by all workers.
type Tracer interface {
	// Trace marks obj live, copying or forwarding it as the policy demands.
	Trace(obj address.Address) Outcome
	// RewritesSlots reports whether stale slots must be overwritten with the
	// traced address. Copying collectors do; non-moving ones don't.
	RewritesSlots() bool
}

// Stats counts what a bridge has done so far.
type Stats struct {
	Edges      int64 // non-null edges traced
	Discovered int64 // objects newly reached
	Rewritten  int64 // slots overwritten with a forwarded address
	Batches    int64 // object batches submitted as closure work
	EdgeUnits  int64 // runtime-collected edge buffers scheduled
}

// Bridge runs the per-edge protocol for one collection.
type Bridge struct {
	rt       vm.Runtime
	tracer   Tracer
	dispatch *work.Dispatcher
	capacity int
	log      *slog.Logger

	// One staging buffer per worker; only its worker touches it.
	mu      sync.Mutex
	buffers map[int]*buffer

	edges      atomic.Int64
	discovered atomic.Int64
	rewritten  atomic.Int64
	batches    atomic.Int64
	edgeUnits  atomic.Int64
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithCapacity sets the flush threshold of the scan buffers.
func WithCapacity(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.capacity = n
		}
	}
}

// WithLogger sets the bridge logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) {
		b.log = l
	}
}

// New creates a bridge and installs its object-scanning unit as d's factory.
func New(rt vm.Runtime, tracer Tracer, d *work.Dispatcher, opts ...Option) *Bridge {
	b := &Bridge{
		rt:       rt,
		tracer:   tracer,
		dispatch: d,
		capacity: DefaultCapacity,
		buffers:  make(map[int]*buffer),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.log = logging.OrDiscard(b.log)
	d.SetFactory(b.Objects)
	return b
}

// Capacity returns the flush threshold.
func (b *Bridge) Capacity() int {
	return b.capacity
}

// Stats returns a snapshot of the bridge counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Edges:      b.edges.Load(),
		Discovered: b.discovered.Load(),
		Rewritten:  b.rewritten.Load(),
		Batches:    b.batches.Load(),
		EdgeUnits:  b.edgeUnits.Load(),
	}
}

// acquire returns w's staging buffer. A buffer must start every scan
// invocation empty; leftover objects would be lost work from an earlier run.
func (b *Bridge) acquire(w *work.Worker) *buffer {
	b.mu.Lock()
	defer b.mu.Unlock()
	buf, ok := b.buffers[w.ID]
	if !ok {
		buf = &buffer{owner: w.ID}
		b.buffers[w.ID] = buf
	}
	if len(buf.objects) != 0 {
		panic(errors.AssertionFailedf("scan: worker %d buffer holds %d unflushed objects",
			w.ID, len(buf.objects)))
	}
	return buf
}

// Finish checks that every staging buffer has been flushed.
func (b *Bridge) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, buf := range b.buffers {
		if len(buf.objects) != 0 {
			panic(errors.AssertionFailedf("scan: worker %d finished with %d unflushed objects",
				id, len(buf.objects)))
		}
	}
}

// processEdge applies the per-edge protocol to slot.
func (b *Bridge) processEdge(buf *buffer, slot vm.Slot) {
	obj, tag := address.Strip(slot.Load())
	if obj.IsZero() {
		return
	}
	b.edges.Add(1)

	out := b.tracer.Trace(obj)
	if b.tracer.RewritesSlots() && out.Object != obj {
		slot.Store(address.Reattach(out.Object, tag))
		b.rewritten.Add(1)
	}
	if !out.Discovered {
		return
	}
	b.discovered.Add(1)
	buf.objects = append(buf.objects, out.Object)
	if len(buf.objects) >= b.capacity {
		b.flush(buf)
	}
}

// flush hands the buffered objects to the dispatcher. The buffer is swapped
// for a fresh one before the dispatcher runs, so a flush that re-enters
// enumeration on this worker starts from an empty buffer.
func (b *Bridge) flush(buf *buffer) {
	if len(buf.objects) == 0 {
		return
	}
	batch := buf.objects
	buf.objects = make([]address.Address, 0, b.capacity)
	b.batches.Add(1)
	b.log.Debug("flushing scan buffer",
		slog.Int("worker", buf.owner),
		slog.Int("objects", len(batch)))
	b.dispatch.Submit(batch)
}

// buffer is a worker's staging area for discovered objects.
type buffer struct {
	owner   int
	objects []address.Address
}
