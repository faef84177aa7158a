// ABOUTME: Units of collector work and the dispatcher that hands discovered objects to the scheduler
// ABOUTME: Defines pipeline stages and the Scheduler contract of the collector core

// Package work connects the scan bridge to the collector core's scheduler.
package work

import (
	"context"

	"github.com/prateek/heapbridge/address"
)

// Stage is a pipeline stage of one collection. Lower stages drain first.
type Stage int

const (
	// StageRoots scans the runtime's roots.
	StageRoots Stage = iota
	// StageClosure traces objects discovered so far ("do more tracing").
	StageClosure
	// StageRelease runs after the closure is complete.
	StageRelease
)

func (s Stage) String() string {
	switch s {
	case StageRoots:
		return "roots"
	case StageClosure:
		return "closure"
	case StageRelease:
		return "release"
	}
	return "unknown"
}

// Worker identifies the collector worker running a unit. Anything a unit
// hangs off its Worker is confined to that worker for the unit's lifetime.
type Worker struct {
	ID int
}

// Unit is a self-contained piece of collector work.
type Unit interface {
	Do(ctx context.Context, w *Worker) error
}

// UnitFunc adapts a function to Unit.
type UnitFunc func(ctx context.Context, w *Worker) error

func (f UnitFunc) Do(ctx context.Context, w *Worker) error {
	return f(ctx, w)
}

// Scheduler accepts units of work. The collector core guarantees every
// scheduled unit runs before the phase is considered complete.
type Scheduler interface {
	Schedule(stage Stage, u Unit)
}

// Factory turns a batch of discovered objects into a unit of closure work.
type Factory func(batch []address.Address) Unit

// Dispatcher submits batches of discovered objects as closure work.
type Dispatcher struct {
	sched   Scheduler
	factory Factory
}

// NewDispatcher creates a Dispatcher. The factory may be set later with
// SetFactory when it depends on the dispatcher itself.
func NewDispatcher(sched Scheduler, factory Factory) *Dispatcher {
	return &Dispatcher{sched: sched, factory: factory}
}

// SetFactory replaces the unit factory.
func (d *Dispatcher) SetFactory(f Factory) {
	d.factory = f
}

// Schedule hands an already built unit to the closure stage.
func (d *Dispatcher) Schedule(u Unit) {
	d.sched.Schedule(StageClosure, u)
}

// Submit schedules batch as a new closure-stage unit. Ownership of batch
// passes to the unit. Empty batches are dropped.
func (d *Dispatcher) Submit(batch []address.Address) {
	if len(batch) == 0 {
		return
	}
	d.sched.Schedule(StageClosure, d.factory(batch))
}
