// ABOUTME: Registry for heap snapshot parsers
// ABOUTME: Manages parser plugins and selects the first one that recognises a snapshot

package heapdump

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/prateek/heapbridge/graph"
)

// previewSize is how much of a snapshot parsers see when detecting formats.
const previewSize = 4096

// ErrNoParser is returned when no parser can handle the snapshot format
var ErrNoParser = errors.New("no parser found for snapshot format")

type parserRegistry struct {
	mu      sync.RWMutex
	parsers []Parser
}

var registry = &parserRegistry{}

// Register adds a parser to the registry. Parsers are tried in registration
// order.
func Register(p Parser) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.parsers = append(registry.parsers, p)
}

// Open reads a snapshot with the first registered parser that recognises it
func Open(r io.Reader) (*graph.Heap, error) {
	br := bufio.NewReaderSize(r, previewSize)
	preview, err := br.Peek(previewSize)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, errors.Wrap(err, "reading snapshot preview")
	}

	registry.mu.RLock()
	defer registry.mu.RUnlock()

	for _, parser := range registry.parsers {
		if parser.CanParse(bytes.NewReader(preview)) {
			return parser.Parse(br)
		}
	}

	return nil, ErrNoParser
}

// OpenFile opens the snapshot at path
func OpenFile(path string) (*graph.Heap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening snapshot")
	}
	defer f.Close()

	h, err := Open(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return h, nil
}
