// ABOUTME: Integration tests for the complete heapbridge system
// ABOUTME: Loads JSON snapshots, runs collections with both plans and checks the resulting heap

package heapbridge_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/heapbridge"
	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/config"
	"github.com/prateek/heapbridge/graph"
	"github.com/prateek/heapbridge/heapdump"
	"github.com/prateek/heapbridge/liveindex"
)

func TestEndToEndSnapshotParsing(t *testing.T) {
	h, err := heapdump.OpenFile("testdata/simple.json")
	require.NoError(t, err)

	assert.Equal(t, 8, h.NumObjects())
	obj := h.GetObject(0x1000)
	require.NotNil(t, obj)
	assert.Equal(t, "JSGlobalObject", obj.Type)
	assert.Equal(t, []address.Address{0x1001, 0}, h.Roots())

	// Retention paths, shortest first.
	paths := graph.PathsToRoots(h, 0x4000, 5)
	require.Len(t, paths, 2)
	assert.Equal(t, []address.Address{0x4000, 0x2000, 0x1000}, paths[0].Addrs)
	assert.Equal(t, []address.Address{0x4000, 0x5000, 0x2000, 0x1000}, paths[1].Addrs)
}

func TestEndToEndMarkSweep(t *testing.T) {
	s, err := heapbridge.OpenSnapshot(config.Default(), "testdata/simple.json", nil)
	require.NoError(t, err)
	defer s.Close()

	rep, err := s.Binding.Collect(context.Background())
	require.NoError(t, err)

	var live []address.Address
	s.Binding.ResetIterator()
	for obj, ok := s.Binding.NextObject(); ok; obj, ok = s.Binding.NextObject() {
		live = append(live, obj)
	}
	assert.Equal(t, []address.Address{0x1000, 0x2000, 0x3000, 0x4000, 0x5000, 0x7000, 0x8000}, live)
	assert.Equal(t, int64(7), rep.Scan.Edges)
	assert.Equal(t, 1, rep.Prune.Pruned)
	assert.Equal(t, 1, rep.FreedObjects)
	assert.Equal(t, uint64(64), rep.FreedBytes)

	// The weak reference to the dead object is cleared, the live one kept.
	assert.Equal(t, []address.Address{0, 0x3000}, s.Heap.GetObject(0x8000).Weak)
	assert.Nil(t, s.Heap.GetObject(0x6000))
	assert.Equal(t, map[uint64]int{0x10: 4, 0x20: 2, 0: 1}, countByOwner(s))
}

func TestEndToEndSemiSpace(t *testing.T) {
	cfg, err := config.Load("testdata/heapbridge.yaml")
	require.NoError(t, err)
	require.Equal(t, "semispace", cfg.Plan)

	s, err := heapbridge.OpenSnapshot(cfg, "testdata/simple.json", nil)
	require.NoError(t, err)
	defer s.Close()

	var relocated int
	s.Upcalls.OnRelocate = func(from, to address.Address, size uintptr) {
		relocated++
	}

	rep, err := s.Binding.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Prune.Moved)
	assert.Equal(t, 1, rep.Prune.Pruned)
	assert.Equal(t, 5, relocated)

	fwd := func(obj address.Address) address.Address {
		to, ok := s.Binding.ForwardedObject(obj)
		require.True(t, ok, "%s should have moved", obj)
		return to
	}
	g, a, str, num, weak := fwd(0x1000), fwd(0x2000), fwd(0x3000), fwd(0x4000), fwd(0x8000)
	_, moved := s.Binding.ForwardedObject(0x5000)
	assert.False(t, moved, "code objects do not move")

	// Every slot now refers to the new copies, tags intact.
	assert.Equal(t, []address.Address{g | 1, 0}, s.Heap.Roots())
	assert.Equal(t, []address.Address{a | 1, str, weak | 1}, s.Heap.GetObject(g).Ptrs)
	assert.Equal(t, []address.Address{num, 0x5001}, s.Heap.GetObject(a).Ptrs)
	assert.Equal(t, []address.Address{num}, s.Heap.GetObject(0x5000).Ptrs)
	assert.Equal(t, []address.Address{0, str}, s.Heap.GetObject(weak).Weak)

	entries := s.Binding.Index().Entries()
	require.Len(t, entries, 7)
	for _, e := range entries {
		assert.NotNil(t, s.Heap.GetObject(e.Addr), "index entry %s has no object", e.Addr)
		if e.Space == liveindex.SpaceDefault {
			assert.True(t, s.Binding.IsMovable(e.Addr))
		}
	}
	assert.Equal(t, 7, s.Heap.NumObjects())

	// A second collection moves everything into the other half and keeps
	// the graph intact.
	_, err = s.Binding.Collect(context.Background())
	require.NoError(t, err)
	paths := graph.PathsToRoots(s.Heap, fwd(num), 1)
	require.Len(t, paths, 1)
	assert.Len(t, paths[0].Addrs, 3)
	assert.Equal(t, 7, s.Binding.Index().Len())
	assert.Equal(t, 2, s.Binding.Collections())
}
