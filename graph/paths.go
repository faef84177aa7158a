// ABOUTME: BFS over reverse edges explaining why an object is still retained
// ABOUTME: Finds up to K shortest referrer chains from an object back to a root slot

package graph

import (
	"slices"

	"github.com/prateek/heapbridge/address"
)

// Path is a referrer chain from an object to an object held by a root slot
type Path struct {
	Addrs []address.Address // Sequence of objects from target to root
}

// PathsToRoots finds up to maxPaths referrer chains from the object at from
// back to a root, shortest first. from may carry tag bits but must be the
// start of an object; interior pointers are not resolved.
func PathsToRoots(g Graph, from address.Address, maxPaths int) []Path {
	if maxPaths <= 0 {
		return nil
	}
	from = address.Canonical(from)

	reverse := BuildReverseEdges(g)
	rootSet := make(map[address.Address]bool)
	for _, word := range g.Roots() {
		if obj := address.Canonical(word); !obj.IsZero() {
			rootSet[obj] = true
		}
	}

	if rootSet[from] {
		return []Path{{Addrs: []address.Address{from}}}
	}

	type searchNode struct {
		addr address.Address
		path []address.Address
	}

	var result []Path
	queue := []searchNode{{addr: from, path: []address.Address{from}}}

	for len(queue) > 0 && len(result) < maxPaths {
		node := queue[0]
		queue = queue[1:]

		for _, referrer := range reverse[node.addr] {
			// A chain never revisits an object.
			if slices.Contains(node.path, referrer) {
				continue
			}
			path := append(slices.Clip(node.path), referrer)

			if rootSet[referrer] {
				result = append(result, Path{Addrs: path})
				if len(result) >= maxPaths {
					break
				}
				continue
			}
			queue = append(queue, searchNode{addr: referrer, path: path})
		}
	}

	return result
}
