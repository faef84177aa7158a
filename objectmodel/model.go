// ABOUTME: Object model queries the collector core needs: sizes, copying and object starts
// ABOUTME: Combines the runtime's introspection with the live object index

// Package objectmodel answers layout questions about runtime objects on
// behalf of collector cores.
package objectmodel

import (
	"io"

	"github.com/cockroachdb/errors"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/liveindex"
	"github.com/prateek/heapbridge/vm"
)

// ErrNotMovable is returned by Copy when the runtime cannot relocate objects.
var ErrNotMovable = errors.New("runtime does not support moving objects")

// Model is the object model of one runtime.
type Model struct {
	rt      vm.Runtime
	index   *liveindex.Index
	upcalls vm.Upcalls
	mover   vm.Mover
}

// New creates a model. upcalls may be nil when nothing needs relocation
// notices.
func New(rt vm.Runtime, index *liveindex.Index, upcalls vm.Upcalls) *Model {
	m := &Model{rt: rt, index: index, upcalls: upcalls}
	if mv, ok := rt.(vm.Mover); ok {
		m.mover = mv
	}
	return m
}

// CanMove reports whether Copy is supported.
func (m *Model) CanMove() bool {
	return m.mover != nil
}

// CurrentSize returns the size of obj in bytes.
func (m *Model) CurrentSize(obj address.Address) uintptr {
	return m.rt.ObjectSize(address.Canonical(obj))
}

// SizeWhenCopied returns the number of bytes a copy of obj occupies.
func (m *Model) SizeWhenCopied(obj address.Address) uintptr {
	return m.CurrentSize(obj)
}

// Copy moves obj to to and tells the runtime about the relocation. It
// returns the copied size.
func (m *Model) Copy(from, to address.Address) (uintptr, error) {
	if m.mover == nil {
		return 0, ErrNotMovable
	}
	from = address.Canonical(from)
	size := m.SizeWhenCopied(from)
	m.mover.MoveObject(from, to, size)
	if m.upcalls != nil {
		m.upcalls.ObjectRelocated(from, to, size)
	}
	return size, nil
}

// ObjectStartRef returns the start of the tracked object containing addr,
// which may be an interior or tagged pointer.
func (m *Model) ObjectStartRef(addr address.Address) address.Address {
	return m.index.InnerToObject(addr)
}

// RefToAddress converts a reference into the address of the object start.
func (m *Model) RefToAddress(ref address.Address) address.Address {
	return address.Canonical(ref)
}

// Space returns the space of the tracked object containing obj.
func (m *Model) Space(obj address.Address) liveindex.Space {
	return m.index.ObjectToSpace(obj)
}

// Tracked reports whether obj is the start of a tracked object.
func (m *Model) Tracked(obj address.Address) bool {
	return m.index.Contains(obj)
}

// DumpObject writes the runtime's description of obj to w.
func (m *Model) DumpObject(w io.Writer, obj address.Address) {
	m.rt.DumpObject(w, address.Canonical(obj))
}
