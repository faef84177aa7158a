// ABOUTME: Core data types for the simulated runtime heap
// ABOUTME: Defines Object with its tagged strong and weak slots

package graph

import (
	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/liveindex"
)

// Object represents a single heap object
type Object struct {
	Addr  address.Address   // Canonical address of the object start
	Type  string            // Type name (e.g. "JSArray", "FixedArray")
	Size  uint64            // Size in bytes
	Owner address.Address   // Owning context
	Space liveindex.Space   // Allocation space
	Ptrs  []address.Address // Strong slots, tagged words
	Weak  []address.Address // Weak slots, tagged words
}

// clone returns a copy of o placed at to. Slot contents are copied, not
// shared.
func (o *Object) clone(to address.Address) *Object {
	c := *o
	c.Addr = to
	c.Ptrs = append([]address.Address(nil), o.Ptrs...)
	c.Weak = append([]address.Address(nil), o.Weak...)
	return &c
}
