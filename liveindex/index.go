// ABOUTME: Ordered registry of every heap object the runtime has exposed to the collector
// ABOUTME: Supports floor lookups, explicit removal and the per-collection prune/relocate pass

// Package liveindex keeps the sorted set of canonical object addresses the
// runtime has registered, together with the owning context and the space
// classifier of each object.
package liveindex

import (
	"cmp"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/internal/logging"
)

// DefaultGrowth is the number of slots reserved each time the backing
// vectors run out of capacity.
const DefaultGrowth = 1024

// ErrDuplicate is returned by Insert when the object is already tracked.
var ErrDuplicate = errors.New("object already tracked")

// Entry is one tracked object.
type Entry struct {
	Addr  address.Address // canonical address
	Owner address.Address // owning context, used for attribution only
	Space Space
}

// PruneStats summarises one RelocateAndPrune pass.
type PruneStats struct {
	Before    int // entries before the pass
	Kept      int // entries after the pass
	Pruned    int // entries dropped as unreachable
	Moved     int // survivors whose address changed
	Collapsed int // survivors merged into an earlier survivor at the same address
}

// Forwarder reports where an object was moved to, if it was.
type Forwarder func(obj address.Address) (address.Address, bool)

// Index is the live-object index. The three vectors are index-aligned and
// addrs is strictly ascending.
type Index struct {
	mu     sync.RWMutex
	addrs  []address.Address
	owners []address.Address
	spaces []Space

	growth int
	log    *slog.Logger

	// Single best-effort cursor for whole-heap walks.
	iterPos int
	iterLen int
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger used for warnings and pass summaries.
func WithLogger(l *slog.Logger) Option {
	return func(x *Index) {
		x.log = l
	}
}

// WithGrowth sets how many slots are reserved when capacity runs out.
func WithGrowth(n int) Option {
	return func(x *Index) {
		if n > 0 {
			x.growth = n
		}
	}
}

// New creates an empty index.
func New(opts ...Option) *Index {
	x := &Index{growth: DefaultGrowth}
	for _, opt := range opts {
		opt(x)
	}
	x.log = logging.OrDiscard(x.log)
	return x
}

// Insert starts tracking the object at addr. Tag bits are stripped first.
// A duplicate registration is logged and rejected without touching the index.
func (x *Index) Insert(addr, owner address.Address, space Space) error {
	obj := address.Canonical(addr)

	x.mu.Lock()
	defer x.mu.Unlock()

	i, found := slices.BinarySearch(x.addrs, obj)
	if found {
		x.log.Warn("duplicate object registration",
			slog.String("object", obj.String()),
			slog.String("owner", owner.String()),
			slog.String("space", space.String()))
		return errors.Wrapf(ErrDuplicate, "%s", obj)
	}

	x.reserve()
	x.addrs = slices.Insert(x.addrs, i, obj)
	x.owners = slices.Insert(x.owners, i, owner)
	x.spaces = slices.Insert(x.spaces, i, space)
	return nil
}

// reserve grows the vectors by x.growth slots once they are full.
func (x *Index) reserve() {
	if len(x.addrs) < cap(x.addrs) {
		return
	}
	x.addrs = slices.Grow(x.addrs, x.growth)
	x.owners = slices.Grow(x.owners, x.growth)
	x.spaces = slices.Grow(x.spaces, x.growth)
}

// Remove stops tracking the object at addr. Removing an object that is not
// tracked is a protocol violation and panics.
func (x *Index) Remove(addr address.Address) {
	obj := address.Canonical(addr)

	x.mu.Lock()
	defer x.mu.Unlock()

	i, found := slices.BinarySearch(x.addrs, obj)
	if !found {
		panic(errors.AssertionFailedf("liveindex: remove of untracked object %s (%d tracked)",
			obj, len(x.addrs)))
	}
	x.addrs = slices.Delete(x.addrs, i, i+1)
	x.owners = slices.Delete(x.owners, i, i+1)
	x.spaces = slices.Delete(x.spaces, i, i+1)
}

// floor returns the position of the greatest tracked address <= a.
// Callers must hold x.mu.
func (x *Index) floor(a address.Address) int {
	if len(x.addrs) == 0 {
		panic(errors.AssertionFailedf("liveindex: lookup of %s in an empty index", a))
	}
	i, found := slices.BinarySearch(x.addrs, a)
	if found {
		return i
	}
	if i == 0 {
		panic(errors.AssertionFailedf("liveindex: %s is below the first tracked object %s",
			a, x.addrs[0]))
	}
	return i - 1
}

// InnerToObject maps a possibly-interior address to the object containing it.
// The address must not be below the first tracked object.
func (x *Index) InnerToObject(inner address.Address) address.Address {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.addrs[x.floor(inner)]
}

// ObjectToSpace returns the space classifier of the object containing addr.
func (x *Index) ObjectToSpace(addr address.Address) Space {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.spaces[x.floor(addr)]
}

// OwnerOf returns the owning context of the object containing addr.
func (x *Index) OwnerOf(addr address.Address) address.Address {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.owners[x.floor(addr)]
}

// Contains reports whether addr (tag stripped) is exactly a tracked object.
func (x *Index) Contains(addr address.Address) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	_, found := slices.BinarySearch(x.addrs, address.Canonical(addr))
	return found
}

// Len returns the number of tracked objects.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.addrs)
}

// Entries returns a sorted copy of the index contents.
func (x *Index) Entries() []Entry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Entry, len(x.addrs))
	for i := range x.addrs {
		out[i] = Entry{Addr: x.addrs[i], Owner: x.owners[i], Space: x.spaces[i]}
	}
	return out
}

// CountByOwner returns how many tracked objects each owning context holds.
func (x *Index) CountByOwner() map[address.Address]int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	counts := make(map[address.Address]int)
	for _, o := range x.owners {
		counts[o]++
	}
	return counts
}

// RelocateAndPrune rewrites the index after a collection. An entry survives
// when isReachable reports it live or its space is retained; a survivor takes
// its forwarded address when forward reports one. Survivors that land on the
// same address collapse into the first one in scan order, which keeps its
// owner and space.
//
// The caller guarantees no mutator registers or removes objects meanwhile.
func (x *Index) RelocateAndPrune(isReachable func(address.Address) bool, forward Forwarder, retained Space) PruneStats {
	x.mu.Lock()
	defer x.mu.Unlock()

	stats := PruneStats{Before: len(x.addrs)}
	kept := make([]Entry, 0, len(x.addrs))
	for i, obj := range x.addrs {
		if !isReachable(obj) && x.spaces[i] != retained {
			stats.Pruned++
			continue
		}
		to := obj
		if f, ok := forward(obj); ok {
			if !f.IsCanonical() {
				panic(errors.AssertionFailedf("liveindex: %s forwarded to tagged address %s", obj, f))
			}
			if f != obj {
				stats.Moved++
			}
			to = f
		}
		kept = append(kept, Entry{Addr: to, Owner: x.owners[i], Space: x.spaces[i]})
	}

	// Stable, so equal addresses stay in scan order for the collapse below.
	slices.SortStableFunc(kept, func(a, b Entry) int {
		return cmp.Compare(a.Addr, b.Addr)
	})

	n := len(kept)
	x.addrs = make([]address.Address, 0, n+x.growth)
	x.owners = make([]address.Address, 0, n+x.growth)
	x.spaces = make([]Space, 0, n+x.growth)
	for _, e := range kept {
		if last := len(x.addrs) - 1; last >= 0 && x.addrs[last] == e.Addr {
			stats.Collapsed++
			x.log.Debug("collapsed forwarded duplicate",
				slog.String("object", e.Addr.String()),
				slog.String("dropped_owner", e.Owner.String()))
			continue
		}
		x.addrs = append(x.addrs, e.Addr)
		x.owners = append(x.owners, e.Owner)
		x.spaces = append(x.spaces, e.Space)
	}
	stats.Kept = len(x.addrs)

	x.log.Debug("live object index updated",
		slog.Int("before", stats.Before),
		slog.Int("kept", stats.Kept),
		slog.Int("pruned", stats.Pruned),
		slog.Int("moved", stats.Moved),
		slog.Int("collapsed", stats.Collapsed))
	return stats
}

// ResetIterator rewinds the walk cursor to the first object.
func (x *Index) ResetIterator() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.iterPos = 0
	x.iterLen = len(x.addrs)
}

// NextObject returns the next object of the walk, or (address.Zero, false)
// once the walk is exhausted. If the index changed size since the last step
// a warning is logged and the walk continues from its current position.
func (x *Index) NextObject() (address.Address, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.iterLen != len(x.addrs) {
		x.log.Warn("live object index changed during walk",
			slog.Int("from", x.iterLen),
			slog.Int("to", len(x.addrs)),
			slog.Int("position", x.iterPos))
		x.iterLen = len(x.addrs)
	}
	if x.iterPos < len(x.addrs) {
		obj := x.addrs[x.iterPos]
		x.iterPos++
		return obj, true
	}
	return address.Zero, false
}
