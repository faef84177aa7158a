// ABOUTME: Heap's side of the collector protocol: enumeration, moves, weak slots and sweeping
// ABOUTME: Implements vm.Runtime, vm.Mover and vm.Sweeper

package graph

import (
	"fmt"
	"io"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/vm"
)

var (
	_ vm.Runtime = (*Heap)(nil)
	_ vm.Mover   = (*Heap)(nil)
	_ vm.Sweeper = (*Heap)(nil)
)

// ScanRoots calls trace for every root slot. Only one worker scans roots, so
// the slots are written without the heap lock.
func (h *Heap) ScanRoots(trace vm.TraceFunc) {
	h.mu.RLock()
	roots := h.roots
	h.mu.RUnlock()
	for i := range roots {
		trace(vm.SlotOf(&roots[i]))
	}
}

// ScanObjects visits the strong slots of each object. Objects missing from
// the heap are skipped with a warning.
func (h *Heap) ScanObjects(objects []address.Address, flush vm.FlushFunc, trace vm.TraceFunc) {
	h.mu.RLock()
	bufSize := h.edgeBuffer
	h.mu.RUnlock()

	var pending []vm.Slot
	for _, addr := range objects {
		obj := h.GetObject(addr)
		if obj == nil {
			h.log.Warn("scanning unknown object", slog.String("object", addr.String()))
			continue
		}
		for i := range obj.Ptrs {
			slot := vm.SlotOf(&obj.Ptrs[i])
			if bufSize <= 0 {
				trace(slot)
				continue
			}
			pending = append(pending, slot)
			if len(pending) == bufSize {
				flush(pending)
				pending = make([]vm.Slot, 0, bufSize)
			}
		}
	}
	if len(pending) > 0 {
		flush(pending)
	}
}

// ObjectSize returns the size of obj, or 0 when it is not in the heap
func (h *Heap) ObjectSize(obj address.Address) uintptr {
	if o := h.GetObject(obj); o != nil {
		return uintptr(o.Size)
	}
	return 0
}

// DumpObject writes a one-line description of obj
func (h *Heap) DumpObject(w io.Writer, obj address.Address) {
	o := h.GetObject(obj)
	if o == nil {
		fmt.Fprintf(w, "%s <unknown>\n", obj)
		return
	}
	fmt.Fprintf(w, "%s %s size=%d space=%s owner=%s ptrs=%d weak=%d\n",
		o.Addr, o.Type, o.Size, o.Space, o.Owner, len(o.Ptrs), len(o.Weak))
}

// MoveObject copies the object at from to to. The original stays in place
// until the heap is swept.
func (h *Heap) MoveObject(from, to address.Address, size uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objects[from]
	if !ok {
		panic(errors.AssertionFailedf("graph: moving unknown object %s", from))
	}
	if _, taken := h.objects[to]; taken {
		panic(errors.AssertionFailedf("graph: moving %s onto live object %s", from, to))
	}
	if uintptr(obj.Size) != size {
		panic(errors.AssertionFailedf("graph: moving %s with size %d, object has %d", from, size, obj.Size))
	}
	h.objects[to] = obj.clone(to)
}

// survives reports whether the object at addr is the surviving copy.
func survives(r vm.Retainer, addr address.Address) bool {
	to, ok := r.RetainAs(addr)
	return ok && to == addr
}

// ProcessWeakRefs updates the weak slots of surviving objects, clearing the
// ones whose referent died.
func (h *Heap) ProcessWeakRefs(r vm.Retainer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cleared := 0
	for _, addr := range h.sortedLocked() {
		obj := h.objects[addr]
		if len(obj.Weak) == 0 || !survives(r, addr) {
			continue
		}
		for i, word := range obj.Weak {
			target, tag := address.Strip(word)
			if target.IsZero() {
				continue
			}
			if to, ok := r.RetainAs(target); ok {
				obj.Weak[i] = address.Reattach(to, tag)
				continue
			}
			obj.Weak[i] = address.Zero
			cleared++
		}
	}
	if cleared > 0 {
		h.log.Debug("weak references cleared", slog.Int("count", cleared))
	}
}

// Sweep drops every object that is not the surviving copy and returns how
// many objects and bytes were released.
func (h *Heap) Sweep(r vm.Retainer) (int, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var n int
	var bytes uint64
	for addr, obj := range h.objects {
		if survives(r, addr) {
			continue
		}
		delete(h.objects, addr)
		n++
		bytes += obj.Size
	}
	return n, bytes
}
