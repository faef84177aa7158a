// ABOUTME: Tests for the heap's runtime side of the collector protocol
// ABOUTME: Covers enumeration, buffered edges, moves, weak slot clearing and sweeping

package graph

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/liveindex"
	"github.com/prateek/heapbridge/vm"
)

// mapRetainer retains the keys of its map at the mapped address.
type mapRetainer map[address.Address]address.Address

func (m mapRetainer) RetainAs(obj address.Address) (address.Address, bool) {
	to, ok := m[obj]
	return to, ok
}

func sampleHeap() *Heap {
	h := NewHeap(nil)
	h.AddObject(&Object{Addr: 0x100, Type: "root", Size: 16, Ptrs: ptrs(0x201, 0x300)})
	h.AddObject(&Object{Addr: 0x200, Type: "a", Size: 24, Ptrs: ptrs(0x300, 0, 0x100)})
	h.AddObject(&Object{Addr: 0x300, Type: "b", Size: 32, Weak: ptrs(0x401, 0x200)})
	h.AddObject(&Object{Addr: 0x400, Type: "c", Size: 40})
	h.SetRoots(ptrs(0x101, 0))
	return h
}

func TestScanRootsWritesThrough(t *testing.T) {
	h := sampleHeap()
	var seen []address.Address
	h.ScanRoots(func(slot vm.Slot) {
		seen = append(seen, slot.Load())
		if slot.Load() != 0 {
			slot.Store(0x901)
		}
	})
	assert.Equal(t, ptrs(0x101, 0), seen)
	assert.Equal(t, ptrs(0x901, 0), h.Roots())
}

func TestScanObjectsTracesFields(t *testing.T) {
	h := sampleHeap()
	var seen []address.Address
	h.ScanObjects(ptrs(0x100, 0x200, 0x777), func([]vm.Slot) {
		t.Fatal("unexpected flush")
	}, func(slot vm.Slot) {
		seen = append(seen, slot.Load())
	})
	assert.Equal(t, ptrs(0x201, 0x300, 0x300, 0, 0x100), seen)
}

func TestScanObjectsBuffersFields(t *testing.T) {
	h := sampleHeap()
	h.SetEdgeBuffer(2)
	var sizes []int
	h.ScanObjects(ptrs(0x100, 0x200), func(slots []vm.Slot) {
		sizes = append(sizes, len(slots))
		for _, s := range slots {
			s.Store(address.Canonical(s.Load()))
		}
	}, func(vm.Slot) {
		t.Fatal("unexpected trace")
	})
	assert.Equal(t, []int{2, 2, 1}, sizes)
	assert.Equal(t, ptrs(0x200, 0x300), h.GetObject(0x100).Ptrs)
}

func TestMoveObject(t *testing.T) {
	h := sampleHeap()
	h.MoveObject(0x300, 0x9000, 32)

	moved := h.GetObject(0x9000)
	require.NotNil(t, moved)
	assert.Equal(t, "b", moved.Type)
	assert.Equal(t, ptrs(0x401, 0x200), moved.Weak)
	assert.NotNil(t, h.GetObject(0x300), "original stays until swept")

	assert.Panics(t, func() { h.MoveObject(0x777, 0xa000, 8) })
	assert.Panics(t, func() { h.MoveObject(0x100, 0x200, 16) })
	assert.Panics(t, func() { h.MoveObject(0x100, 0xb000, 99) })
}

func TestProcessWeakRefs(t *testing.T) {
	h := sampleHeap()
	h.MoveObject(0x200, 0x9000, 24)

	// 0x300 survives in place, 0x200 moved, 0x400 died.
	r := mapRetainer{0x100: 0x100, 0x200: 0x9000, 0x9000: 0x9000, 0x300: 0x300}
	h.ProcessWeakRefs(r)

	assert.Equal(t, ptrs(0, 0x9000), h.GetObject(0x300).Weak)
}

func TestProcessWeakRefsSkipsDeadHolders(t *testing.T) {
	h := sampleHeap()
	h.ProcessWeakRefs(mapRetainer{0x200: 0x200})
	assert.Equal(t, ptrs(0x401, 0x200), h.GetObject(0x300).Weak)
}

func TestSweep(t *testing.T) {
	h := sampleHeap()
	h.MoveObject(0x200, 0x9000, 24)
	r := mapRetainer{0x100: 0x100, 0x200: 0x9000, 0x9000: 0x9000}

	n, freed := h.Sweep(r)
	assert.Equal(t, 3, n)
	assert.Equal(t, uint64(24+32+40), freed)
	assert.Equal(t, 2, h.NumObjects())
	assert.NotNil(t, h.GetObject(0x9000))
	assert.Nil(t, h.GetObject(0x200))
}

func TestDumpObject(t *testing.T) {
	h := sampleHeap()
	h.GetObject(0x300).Space = liveindex.SpaceReadOnly

	var buf bytes.Buffer
	h.DumpObject(&buf, 0x300|1)
	assert.Equal(t, "0x300 b size=32 space=readonly owner=0x0 ptrs=0 weak=2\n", buf.String())

	buf.Reset()
	h.DumpObject(&buf, 0x5000)
	assert.Equal(t, "0x5000 <unknown>\n", buf.String())
}
