// ABOUTME: Collector core contract and plan selection
// ABOUTME: A core decides reachability, forwarding and movability for one collection policy

// Package collector hosts the reference collector cores and the Binding that
// ties a runtime, a core and the live object index together.
package collector

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/liveindex"
	"github.com/prateek/heapbridge/objectmodel"
	"github.com/prateek/heapbridge/scan"
)

// Plan names accepted by NewCore.
const (
	PlanMarkSweep = "marksweep"
	PlanSemiSpace = "semispace"
)

// ErrUnknownPlan is returned by NewCore for an unrecognised plan name.
var ErrUnknownPlan = errors.New("unknown collection plan")

// Core is one collection policy.
//
// Prepare and Release bracket every collection. Between them the tracer
// returned by NewTracer is used concurrently by all workers. IsReachable and
// Forwarded answer for the most recent collection until the next Prepare.
type Core interface {
	Name() string
	Prepare()
	NewTracer(m *objectmodel.Model) scan.Tracer
	IsReachable(obj address.Address) bool
	Forwarded(obj address.Address) (address.Address, bool)
	IsMovable(space liveindex.Space) bool
	Release()
	Stats() CoreStats
}

// CoreStats describes the most recent collection of a core.
type CoreStats struct {
	Marked      int    // objects reached in place
	Copied      int    // objects evacuated
	CopiedBytes uint64 // bytes evacuated
}

// NewCore builds the core for plan. heapSize bounds each semispace and is
// ignored by mark-sweep.
func NewCore(plan string, heapSize uintptr, l *slog.Logger) (Core, error) {
	switch plan {
	case "", PlanMarkSweep:
		return NewMarkSweep(l), nil
	case PlanSemiSpace:
		return NewSemiSpace(heapSize, l)
	}
	return nil, errors.Wrapf(ErrUnknownPlan, "%q", plan)
}
