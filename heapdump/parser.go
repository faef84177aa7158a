// ABOUTME: Parser interface for heap snapshot formats
// ABOUTME: Defines the contract for pluggable snapshot parsers

// Package heapdump loads heap snapshots into the in-memory runtime heap.
package heapdump

import (
	"io"

	"github.com/prateek/heapbridge/graph"
)

// Parser is the interface for heap snapshot parsers
type Parser interface {
	// CanParse checks if this parser can handle the given snapshot format.
	// The reader holds a bounded preview of the snapshot; implementations
	// must decide from it without expecting the whole stream.
	CanParse(r io.Reader) bool

	// Parse reads the whole snapshot, positioned at its start, and builds
	// a heap
	Parse(r io.Reader) (*graph.Heap, error)
}
