// ABOUTME: Interfaces the managed runtime implements for the collector bridge
// ABOUTME: Root and object enumeration, object introspection and lifecycle upcalls

// Package vm describes everything heapbridge needs from the managed runtime.
// The runtime owns its roots and object layouts; the bridge only sees slots
// holding tagged words and canonical object addresses.
package vm

import (
	"io"

	"github.com/prateek/heapbridge/address"
)

// Slot is a memory location holding a tagged word, such as an object field
// or a root.
type Slot interface {
	Load() address.Address
	Store(address.Address)
}

// WordSlot is a Slot backed by a Go variable.
type WordSlot struct {
	P *address.Address
}

// SlotOf returns a Slot that reads and writes *p.
func SlotOf(p *address.Address) WordSlot {
	return WordSlot{P: p}
}

func (s WordSlot) Load() address.Address {
	return *s.P
}

func (s WordSlot) Store(a address.Address) {
	*s.P = a
}

// TraceFunc processes a single edge.
type TraceFunc func(slot Slot)

// FlushFunc hands a buffer of edges the runtime collected itself to the
// collector as a new unit of work. The runtime must not touch the buffer
// afterwards.
type FlushFunc func(slots []Slot)

// Retainer answers liveness questions while weak references are processed.
type Retainer interface {
	// RetainAs returns the post-collection address of obj and whether it
	// survived.
	RetainAs(obj address.Address) (address.Address, bool)
}

// Runtime is the enumeration and introspection surface of the managed
// runtime.
type Runtime interface {
	// ScanRoots calls trace once per root edge. trace may re-enter ScanRoots.
	ScanRoots(trace TraceFunc)

	// ScanObjects visits every strong field of each object, either calling
	// trace for it directly or collecting it into a buffer handed to flush.
	ScanObjects(objects []address.Address, flush FlushFunc, trace TraceFunc)

	// ObjectSize returns the current size of obj in bytes.
	ObjectSize(obj address.Address) uintptr

	// DumpObject writes a diagnostic description of obj.
	DumpObject(w io.Writer, obj address.Address)

	// ProcessWeakRefs clears or updates weak references once the transitive
	// closure is complete.
	ProcessWeakRefs(r Retainer)
}

// Mover is implemented by runtimes that let the collector relocate objects.
type Mover interface {
	// MoveObject copies size bytes of the object at from to to.
	MoveObject(from, to address.Address, size uintptr)
}

// Sweeper is implemented by runtimes that release the storage of dead and
// moved-from objects themselves once a collection is complete.
type Sweeper interface {
	// Sweep releases every object r does not retain at its current address
	// and returns the number of objects and bytes released.
	Sweep(r Retainer) (int, uint64)
}

// Thread identifies the calling thread to the runtime.
type Thread uintptr

// WorkerContext is handed to SpawnWorkerThread. Run blocks for the life of
// the worker.
type WorkerContext interface {
	Run()
}

// Upcalls are the notifications the bridge sends into the runtime.
type Upcalls interface {
	StopAllMutators(tls Thread)
	ResumeMutators(tls Thread)
	// BlockForGC blocks the calling mutator until the collection finishes.
	BlockForGC(tls Thread)
	// SpawnWorkerThread starts a native thread running ctx. A nil ctx asks
	// for the controller thread.
	SpawnWorkerThread(tls Thread, ctx WorkerContext)
	ObjectRelocated(from, to address.Address, size uintptr)
}
