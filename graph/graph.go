// ABOUTME: Graph interface and the in-memory Heap implementation
// ABOUTME: Stores objects keyed by canonical address plus the root slots

package graph

import (
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/internal/logging"
)

// Graph is a read view of a heap object graph
type Graph interface {
	// GetObject retrieves an object by canonical address
	GetObject(addr address.Address) *Object

	// NumObjects returns the total number of objects
	NumObjects() int

	// ForEachObject iterates over all objects in ascending address order
	ForEachObject(fn func(*Object))

	// Roots returns a copy of the root slots
	Roots() []address.Address
}

// Heap is an in-memory managed heap. It plays the runtime's part in a
// collection: it enumerates roots and fields, reports sizes, moves objects
// and clears weak slots.
type Heap struct {
	mu      sync.RWMutex
	objects map[address.Address]*Object
	roots   []address.Address

	// edgeBuffer > 0 makes ScanObjects collect fields into buffers of this
	// size and hand them back instead of tracing them one by one.
	edgeBuffer int

	log *slog.Logger
}

// NewHeap creates an empty heap logging to l (nil discards)
func NewHeap(l *slog.Logger) *Heap {
	return &Heap{
		objects: make(map[address.Address]*Object),
		log:     logging.OrDiscard(l),
	}
}

// AddObject adds an object to the heap, replacing any object at the same
// address. obj.Addr must be canonical.
func (h *Heap) AddObject(obj *Object) {
	if !obj.Addr.IsCanonical() || obj.Addr.IsZero() {
		panic(errors.AssertionFailedf("graph: object at non-canonical address %s", obj.Addr))
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.objects[obj.Addr] = obj
}

// GetObject retrieves an object by address, ignoring tag bits
func (h *Heap) GetObject(addr address.Address) *Object {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.objects[address.Canonical(addr)]
}

// NumObjects returns the total number of objects
func (h *Heap) NumObjects() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.objects)
}

// TotalSize returns the summed size of every object
func (h *Heap) TotalSize() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var n uint64
	for _, obj := range h.objects {
		n += obj.Size
	}
	return n
}

// ForEachObject iterates over all objects in ascending address order
func (h *Heap) ForEachObject(fn func(*Object)) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, addr := range h.sortedLocked() {
		fn(h.objects[addr])
	}
}

func (h *Heap) sortedLocked() []address.Address {
	addrs := make([]address.Address, 0, len(h.objects))
	for addr := range h.objects {
		addrs = append(addrs, addr)
	}
	slices.Sort(addrs)
	return addrs
}

// SetRoots replaces the root slots. Roots are tagged words.
func (h *Heap) SetRoots(roots []address.Address) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.roots = append([]address.Address(nil), roots...)
}

// Roots returns a copy of the root slots
func (h *Heap) Roots() []address.Address {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]address.Address(nil), h.roots...)
}

// SetEdgeBuffer makes ScanObjects hand fields back in buffers of n slots.
// Zero restores per-field tracing.
func (h *Heap) SetEdgeBuffer(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.edgeBuffer = n
}
