// ABOUTME: Tests for the object model against the in-memory heap
// ABOUTME: Covers sizes, copying with relocation notices and interior pointer resolution

package objectmodel

import (
	"bytes"
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/graph"
	"github.com/prateek/heapbridge/liveindex"
	"github.com/prateek/heapbridge/vm"
)

func setup(t *testing.T) (*graph.Heap, *liveindex.Index, *vm.LocalUpcalls) {
	t.Helper()
	h := graph.NewHeap(nil)
	idx := liveindex.New()
	for _, obj := range []*graph.Object{
		{Addr: 0x1000, Type: "Map", Size: 64, Space: liveindex.SpaceReadOnly},
		{Addr: 0x2000, Type: "String", Size: 48},
		{Addr: 0x3000, Type: "Code", Size: 128, Space: liveindex.SpaceCode},
	} {
		h.AddObject(obj)
		require.NoError(t, idx.Insert(obj.Addr, 0, obj.Space))
	}
	return h, idx, vm.NewLocalUpcalls(nil)
}

func TestSizes(t *testing.T) {
	h, idx, up := setup(t)
	m := New(h, idx, up)

	assert.Equal(t, uintptr(48), m.CurrentSize(0x2000))
	assert.Equal(t, uintptr(48), m.CurrentSize(0x2000|1))
	assert.Equal(t, uintptr(128), m.SizeWhenCopied(0x3000))
	assert.Equal(t, uintptr(0), m.CurrentSize(0x9000))
}

func TestCopyNotifiesRuntime(t *testing.T) {
	h, idx, up := setup(t)
	var moves [][3]uintptr
	up.OnRelocate = func(from, to address.Address, size uintptr) {
		moves = append(moves, [3]uintptr{uintptr(from), uintptr(to), size})
	}
	m := New(h, idx, up)
	require.True(t, m.CanMove())

	size, err := m.Copy(0x2000|1, 0x8000)
	require.NoError(t, err)
	assert.Equal(t, uintptr(48), size)
	assert.Equal(t, [][3]uintptr{{0x2000, 0x8000, 48}}, moves)
	assert.Equal(t, "String", h.GetObject(0x8000).Type)
}

// fixedRuntime can describe objects but not move them.
type fixedRuntime struct{}

func (fixedRuntime) ScanRoots(vm.TraceFunc) {}
func (fixedRuntime) ScanObjects([]address.Address, vm.FlushFunc, vm.TraceFunc) {}
func (fixedRuntime) ObjectSize(address.Address) uintptr { return 8 }
func (fixedRuntime) DumpObject(w io.Writer, obj address.Address) { io.WriteString(w, obj.String()) }
func (fixedRuntime) ProcessWeakRefs(vm.Retainer) {}

func TestCopyWithoutMover(t *testing.T) {
	_, idx, _ := setup(t)
	m := New(fixedRuntime{}, idx, nil)
	assert.False(t, m.CanMove())
	_, err := m.Copy(0x2000, 0x8000)
	assert.True(t, errors.Is(err, ErrNotMovable))

	var buf bytes.Buffer
	m.DumpObject(&buf, 0x2002)
	assert.Equal(t, "0x2000", buf.String())
}

func TestObjectStartRef(t *testing.T) {
	h, idx, up := setup(t)
	m := New(h, idx, up)

	tests := []struct {
		name string
		ref  address.Address
		want address.Address
	}{
		{"exact", 0x2000, 0x2000},
		{"interior", 0x2010, 0x2000},
		{"tagged interior", 0x2011, 0x2000},
		{"past last object", 0x9000, 0x3000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.ObjectStartRef(tt.ref))
		})
	}

	assert.Equal(t, address.Address(0x2000), m.RefToAddress(0x2003))
	assert.Equal(t, liveindex.SpaceReadOnly, m.Space(0x1008))
	assert.Equal(t, liveindex.SpaceCode, m.Space(0x3000))
	assert.True(t, m.Tracked(0x2001))
	assert.False(t, m.Tracked(0x2008))
	assert.Panics(t, func() { m.ObjectStartRef(0x10) })
}
