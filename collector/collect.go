// ABOUTME: One stop-the-world collection from root scanning to index pruning
// ABOUTME: Produces a Report with scan, prune and sweep figures

package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/inhies/go-bytesize"
	"golang.org/x/exp/slog"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/liveindex"
	"github.com/prateek/heapbridge/scan"
	"github.com/prateek/heapbridge/vm"
	"github.com/prateek/heapbridge/work"
)

// Report summarises one collection.
type Report struct {
	Cycle    int
	Plan     string
	Duration time.Duration

	Scan  scan.Stats
	Prune liveindex.PruneStats
	Core  CoreStats

	FreedObjects int
	FreedBytes   uint64
	LiveObjects  int
	LiveBytes    uint64
}

func (r Report) String() string {
	return fmt.Sprintf("gc #%d (%s): %d live (%s), %d freed (%s), %d pruned, %d moved, %d edges in %s",
		r.Cycle, r.Plan,
		r.LiveObjects, bytesize.New(float64(r.LiveBytes)),
		r.FreedObjects, bytesize.New(float64(r.FreedBytes)),
		r.Prune.Pruned, r.Prune.Moved, r.Scan.Edges, r.Duration.Round(time.Microsecond))
}

// retainer answers weak-reference and sweep queries once the closure is
// complete.
type retainer struct {
	b *Binding
}

func (r retainer) RetainAs(obj address.Address) (address.Address, bool) {
	if to, ok := r.b.core.Forwarded(obj); ok {
		return to, true
	}
	if r.b.core.IsReachable(obj) || r.b.readOnly(obj) {
		return obj, true
	}
	return address.Zero, false
}

// Collect runs a full collection with every mutator stopped. A context
// that is already done fails the collection before anything is traced. Once
// tracing starts the collection runs to completion, so the heap and the
// index always agree on where every object lives.
func (b *Binding) Collect(ctx context.Context) (Report, error) {
	b.checkOpen()
	b.collectMu.Lock()
	defer b.collectMu.Unlock()

	cycle := int(b.cycles.Load()) + 1
	if err := ctx.Err(); err != nil {
		return Report{}, errors.Wrapf(err, "collection %d", cycle)
	}
	start := time.Now()
	b.upcalls.StopAllMutators(b.tls)
	defer b.upcalls.ResumeMutators(b.tls)

	b.core.Prepare()
	bridge := scan.New(b.rt, b.core.NewTracer(b.model), work.NewDispatcher(b.pool, nil),
		scan.WithCapacity(b.capacity),
		scan.WithLogger(b.log))
	b.pool.Schedule(work.StageRoots, bridge.Roots())
	if err := b.pool.Run(context.WithoutCancel(ctx)); err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "collector: collection %d failed while tracing", cycle))
	}
	bridge.Finish()

	r := retainer{b}
	b.rt.ProcessWeakRefs(r)
	prune := b.index.RelocateAndPrune(b.core.IsReachable, b.core.Forwarded, liveindex.SpaceReadOnly)

	rep := Report{
		Cycle: cycle,
		Plan:  b.core.Name(),
		Scan:  bridge.Stats(),
		Prune: prune,
	}
	if sw, ok := b.rt.(vm.Sweeper); ok {
		rep.FreedObjects, rep.FreedBytes = sw.Sweep(r)
	}
	b.core.Release()
	rep.Core = b.core.Stats()

	for _, e := range b.index.Entries() {
		rep.LiveObjects++
		rep.LiveBytes += uint64(b.model.CurrentSize(e.Addr))
	}
	rep.Duration = time.Since(start)
	b.cycles.Add(1)

	b.log.Info("collection finished",
		slog.Int("cycle", cycle),
		slog.String("plan", rep.Plan),
		slog.Int("live", rep.LiveObjects),
		slog.String("live_bytes", bytesize.New(float64(rep.LiveBytes)).String()),
		slog.Int("pruned", prune.Pruned),
		slog.Int("moved", prune.Moved),
		slog.Int64("edges", rep.Scan.Edges),
		slog.Duration("duration", rep.Duration))
	return rep, nil
}
