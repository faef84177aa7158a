// ABOUTME: Non-moving mark-sweep collector core
// ABOUTME: Marks reached objects in place; nothing is ever forwarded

package collector

import (
	"sync"

	"golang.org/x/exp/slog"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/internal/logging"
	"github.com/prateek/heapbridge/liveindex"
	"github.com/prateek/heapbridge/objectmodel"
	"github.com/prateek/heapbridge/scan"
)

// MarkSweep marks every reached object in place.
type MarkSweep struct {
	mu    sync.RWMutex
	marks map[address.Address]struct{}
	log   *slog.Logger
}

// NewMarkSweep creates a mark-sweep core.
func NewMarkSweep(l *slog.Logger) *MarkSweep {
	return &MarkSweep{
		marks: make(map[address.Address]struct{}),
		log:   logging.OrDiscard(l),
	}
}

func (ms *MarkSweep) Name() string { return PlanMarkSweep }

// Prepare clears the marks of the previous collection.
func (ms *MarkSweep) Prepare() {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.marks = make(map[address.Address]struct{}, len(ms.marks))
}

func (ms *MarkSweep) NewTracer(*objectmodel.Model) scan.Tracer {
	return markTracer{ms}
}

// mark sets the mark bit of obj and reports whether it was clear.
func (ms *MarkSweep) mark(obj address.Address) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if _, ok := ms.marks[obj]; ok {
		return false
	}
	ms.marks[obj] = struct{}{}
	return true
}

func (ms *MarkSweep) IsReachable(obj address.Address) bool {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	_, ok := ms.marks[obj]
	return ok
}

func (ms *MarkSweep) Forwarded(obj address.Address) (address.Address, bool) {
	return obj, false
}

func (ms *MarkSweep) IsMovable(liveindex.Space) bool { return false }

func (ms *MarkSweep) Release() {
	ms.log.Debug("mark-sweep released", slog.Int("marked", ms.Stats().Marked))
}

func (ms *MarkSweep) Stats() CoreStats {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return CoreStats{Marked: len(ms.marks)}
}

type markTracer struct {
	ms *MarkSweep
}

func (t markTracer) Trace(obj address.Address) scan.Outcome {
	return scan.Outcome{Object: obj, Discovered: t.ms.mark(obj)}
}

func (markTracer) RewritesSlots() bool { return false }
