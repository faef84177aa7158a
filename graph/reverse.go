// ABOUTME: Builds reverse edges for graph traversal
// ABOUTME: Maps objects to their referrers for paths-to-roots

package graph

import "github.com/prateek/heapbridge/address"

// ReverseEdges maps each object to the objects whose strong slots point to it
type ReverseEdges map[address.Address][]address.Address

// BuildReverseEdges creates a map of reverse edges. Tag bits and null slots
// are ignored; a referrer is listed once per target.
func BuildReverseEdges(g Graph) ReverseEdges {
	reverse := make(ReverseEdges)

	g.ForEachObject(func(obj *Object) {
		for _, word := range obj.Ptrs {
			target := address.Canonical(word)
			if target.IsZero() {
				continue
			}
			refs := reverse[target]
			if n := len(refs); n > 0 && refs[n-1] == obj.Addr {
				continue
			}
			reverse[target] = append(refs, obj.Addr)
		}
	})

	return reverse
}
