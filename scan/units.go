// ABOUTME: Schedulable units for root scanning, object scanning and runtime-collected edge buffers
// ABOUTME: Every unit funnels its edges through the bridge and flushes before completing

package scan

import (
	"context"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/vm"
	"github.com/prateek/heapbridge/work"
)

// Roots returns the unit that scans the runtime's roots. It is meant to be
// scheduled in work.StageRoots.
func (b *Bridge) Roots() work.Unit {
	return rootsWork{b: b}
}

// Objects returns the unit that scans the fields of batch.
func (b *Bridge) Objects(batch []address.Address) work.Unit {
	return objectsWork{b: b, objects: batch}
}

// Edges returns the unit that processes a buffer of slots collected by the
// runtime.
func (b *Bridge) Edges(slots []vm.Slot) work.Unit {
	return edgesWork{b: b, slots: slots}
}

type rootsWork struct {
	b *Bridge
}

func (r rootsWork) Do(ctx context.Context, w *work.Worker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := r.b.acquire(w)
	r.b.rt.ScanRoots(func(slot vm.Slot) {
		r.b.processEdge(buf, slot)
	})
	r.b.flush(buf)
	return nil
}

type objectsWork struct {
	b       *Bridge
	objects []address.Address
}

func (o objectsWork) Do(ctx context.Context, w *work.Worker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := o.b.acquire(w)
	o.b.rt.ScanObjects(o.objects, o.b.scheduleEdges, func(slot vm.Slot) {
		o.b.processEdge(buf, slot)
	})
	o.b.flush(buf)
	return nil
}

// scheduleEdges is the vm.FlushFunc given to the runtime.
func (b *Bridge) scheduleEdges(slots []vm.Slot) {
	if len(slots) == 0 {
		return
	}
	b.edgeUnits.Add(1)
	b.dispatch.Schedule(b.Edges(slots))
}

type edgesWork struct {
	b     *Bridge
	slots []vm.Slot
}

func (e edgesWork) Do(ctx context.Context, w *work.Worker) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	buf := e.b.acquire(w)
	for _, slot := range e.slots {
		e.b.processEdge(buf, slot)
	}
	e.b.flush(buf)
	return nil
}
