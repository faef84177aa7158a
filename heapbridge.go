// ABOUTME: Root heapbridge package wiring a runtime heap, its upcalls and a collector binding
// ABOUTME: Builds sessions from configuration and heap snapshots

// Package heapbridge connects a managed runtime's heap to a tracing
// collector. The runtime registers objects in a live object index, exposes
// its roots and fields through enumeration callbacks, and receives moved
// addresses back with its pointer tags intact.
package heapbridge

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/prateek/heapbridge/collector"
	"github.com/prateek/heapbridge/config"
	"github.com/prateek/heapbridge/graph"
	"github.com/prateek/heapbridge/heapdump"
	"github.com/prateek/heapbridge/internal/logging"
	"github.com/prateek/heapbridge/vm"
)

// Version is the semantic version of heapbridge
const Version = "0.1.0-dev"

// Session is an in-memory heap attached to a collector.
type Session struct {
	Heap    *graph.Heap
	Upcalls *vm.LocalUpcalls
	Binding *collector.Binding
}

// NewSession builds the collector described by cfg for h and registers
// every object of h with it.
func NewSession(cfg config.Config, h *graph.Heap, l *slog.Logger) (*Session, error) {
	l = logging.OrDiscard(l)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	heapBytes, err := cfg.HeapBytes()
	if err != nil {
		return nil, err
	}
	core, err := collector.NewCore(cfg.Plan, heapBytes, l)
	if err != nil {
		return nil, err
	}

	up := vm.NewLocalUpcalls(l)
	b := collector.New(h, up, core,
		collector.WithWorkers(cfg.Workers),
		collector.WithFlushCapacity(cfg.FlushCapacity),
		collector.WithIndexGrowth(cfg.IndexGrowth),
		collector.WithLogger(l))

	var regErr error
	h.ForEachObject(func(obj *graph.Object) {
		if regErr != nil {
			return
		}
		if err := b.Insert(obj.Addr, obj.Owner, obj.Space); err != nil {
			regErr = errors.Wrapf(err, "registering %s", obj.Addr)
		}
	})
	if regErr != nil {
		b.Close()
		return nil, regErr
	}

	l.Debug("session ready",
		slog.Int("objects", b.Index().Len()),
		slog.Int("roots", len(h.Roots())))
	return &Session{Heap: h, Upcalls: up, Binding: b}, nil
}

// OpenSnapshot loads the snapshot at path and builds a session for it.
func OpenSnapshot(cfg config.Config, path string, l *slog.Logger) (*Session, error) {
	h, err := heapdump.OpenFile(path)
	if err != nil {
		return nil, err
	}
	return NewSession(cfg, h, l)
}

// Close releases the binding and waits for worker contexts the runtime
// started.
func (s *Session) Close() {
	s.Binding.Close()
	s.Upcalls.Wait()
}
