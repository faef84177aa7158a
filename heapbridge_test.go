// ABOUTME: Tests for the root heapbridge package, verifying version and session wiring
// ABOUTME: Sessions must register every heap object with the collector

package heapbridge_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prateek/heapbridge"
	"github.com/prateek/heapbridge/config"
	"github.com/prateek/heapbridge/graph"
	"github.com/prateek/heapbridge/liveindex"
)

func TestVersion(t *testing.T) {
	if heapbridge.Version == "" {
		t.Error("Version constant should not be empty")
	}

	expectedPrefix := "0."
	if len(heapbridge.Version) < len(expectedPrefix) || heapbridge.Version[:len(expectedPrefix)] != expectedPrefix {
		t.Errorf("Version should start with %q, got %q", expectedPrefix, heapbridge.Version)
	}
}

func TestNewSessionRegistersObjects(t *testing.T) {
	h := graph.NewHeap(nil)
	h.AddObject(&graph.Object{Addr: 0x2000, Owner: 0x10, Space: liveindex.SpaceCode})
	h.AddObject(&graph.Object{Addr: 0x1000, Owner: 0x10})

	s, err := heapbridge.NewSession(config.Default(), h, nil)
	require.NoError(t, err)
	defer s.Close()

	entries := s.Binding.Index().Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, liveindex.Entry{Addr: 0x1000, Owner: 0x10, Space: liveindex.SpaceDefault}, entries[0])
	assert.Equal(t, liveindex.Entry{Addr: 0x2000, Owner: 0x10, Space: liveindex.SpaceCode}, entries[1])
	assert.Equal(t, map[uint64]int{0x10: 2}, countByOwner(s))
}

func countByOwner(s *heapbridge.Session) map[uint64]int {
	out := make(map[uint64]int)
	for owner, n := range s.Binding.Index().CountByOwner() {
		out[uint64(owner)] = n
	}
	return out
}

func TestNewSessionRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 0
	_, err := heapbridge.NewSession(cfg, graph.NewHeap(nil), nil)
	assert.True(t, errors.Is(err, config.ErrInvalid))
}
