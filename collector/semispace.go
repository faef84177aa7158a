// ABOUTME: Copying semispace collector core with bump allocation into the to-space
// ABOUTME: Evacuates default-space objects and marks objects of non-moving spaces in place

package collector

import (
	"sync"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"

	"github.com/prateek/heapbridge/address"
	"github.com/prateek/heapbridge/internal/logging"
	"github.com/prateek/heapbridge/liveindex"
	"github.com/prateek/heapbridge/objectmodel"
	"github.com/prateek/heapbridge/scan"
)

// Semispace layout. The two halves sit above the addresses runtimes hand out
// for their initial heap.
const (
	SemiSpaceLow  address.Address = 0x4000_0000
	SemiSpaceHigh address.Address = 0x6000_0000

	// MaxSemiSpaceExtent is the largest extent that keeps the halves apart.
	MaxSemiSpaceExtent = uintptr(SemiSpaceHigh - SemiSpaceLow)

	// copyAlign keeps every copy's low bits free for tags.
	copyAlign = 16
)

// ErrSemiSpaceExtent is returned for an extent of zero or one larger than
// MaxSemiSpaceExtent.
var ErrSemiSpaceExtent = errors.New("invalid semispace extent")

// SemiSpace evacuates reachable default-space objects into the current
// to-space and flips the halves on every collection.
type SemiSpace struct {
	mu     sync.Mutex
	extent uintptr
	toHigh bool
	cursor address.Address
	limit  address.Address

	forwarded map[address.Address]address.Address
	copies    map[address.Address]struct{}
	marks     map[address.Address]struct{}
	copied    uint64

	log *slog.Logger
}

// NewSemiSpace creates a semispace core whose halves hold extent bytes each.
func NewSemiSpace(extent uintptr, l *slog.Logger) (*SemiSpace, error) {
	if extent == 0 || extent > MaxSemiSpaceExtent {
		return nil, errors.Wrapf(ErrSemiSpaceExtent, "%d bytes (max %d)", extent, MaxSemiSpaceExtent)
	}
	return &SemiSpace{
		extent:    extent,
		toHigh:    true,
		forwarded: make(map[address.Address]address.Address),
		copies:    make(map[address.Address]struct{}),
		marks:     make(map[address.Address]struct{}),
		log:       logging.OrDiscard(l),
	}, nil
}

func (s *SemiSpace) Name() string { return PlanSemiSpace }

// Prepare flips the halves and forgets the previous collection.
func (s *SemiSpace) Prepare() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toHigh = !s.toHigh
	s.cursor = SemiSpaceLow
	if s.toHigh {
		s.cursor = SemiSpaceHigh
	}
	s.limit = s.cursor.Add(s.extent)
	s.forwarded = make(map[address.Address]address.Address)
	s.copies = make(map[address.Address]struct{})
	s.marks = make(map[address.Address]struct{})
	s.copied = 0
}

// ToSpace returns the bounds of the current to-space.
func (s *SemiSpace) ToSpace() (start, end address.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit - address.Address(s.extent), s.limit
}

func (s *SemiSpace) NewTracer(m *objectmodel.Model) scan.Tracer {
	return copyTracer{s: s, m: m}
}

// alloc bumps the to-space cursor. Callers must hold s.mu.
func (s *SemiSpace) alloc(size uintptr) address.Address {
	n := (size + copyAlign - 1) &^ (copyAlign - 1)
	if n == 0 {
		n = copyAlign
	}
	if uintptr(s.limit-s.cursor) < n {
		panic(errors.AssertionFailedf("semispace: to-space exhausted allocating %d bytes (%d of %d used)",
			size, s.extent-uintptr(s.limit-s.cursor), s.extent))
	}
	to := s.cursor
	s.cursor = s.cursor.Add(n)
	return to
}

func (s *SemiSpace) IsReachable(obj address.Address) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.forwarded[obj]; ok {
		return true
	}
	if _, ok := s.copies[obj]; ok {
		return true
	}
	_, ok := s.marks[obj]
	return ok
}

func (s *SemiSpace) Forwarded(obj address.Address) (address.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	to, ok := s.forwarded[obj]
	return to, ok
}

// IsMovable reports whether objects of space are evacuated. Only the default
// space moves.
func (s *SemiSpace) IsMovable(space liveindex.Space) bool {
	return space == liveindex.SpaceDefault
}

func (s *SemiSpace) Release() {
	st := s.Stats()
	s.log.Debug("semispace released",
		slog.Int("copied", st.Copied),
		slog.Uint64("copied_bytes", st.CopiedBytes),
		slog.Int("marked", st.Marked))
}

func (s *SemiSpace) Stats() CoreStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return CoreStats{Marked: len(s.marks), Copied: len(s.forwarded), CopiedBytes: s.copied}
}

type copyTracer struct {
	s *SemiSpace
	m *objectmodel.Model
}

func (t copyTracer) Trace(obj address.Address) scan.Outcome {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if to, ok := s.forwarded[obj]; ok {
		return scan.Outcome{Object: to}
	}
	if _, ok := s.copies[obj]; ok {
		return scan.Outcome{Object: obj}
	}
	if _, ok := s.marks[obj]; ok {
		return scan.Outcome{Object: obj}
	}

	if !t.m.CanMove() || !t.m.Tracked(obj) || !s.IsMovable(t.m.Space(obj)) {
		s.marks[obj] = struct{}{}
		return scan.Outcome{Object: obj, Discovered: true}
	}

	to := s.alloc(t.m.SizeWhenCopied(obj))
	size, err := t.m.Copy(obj, to)
	if err != nil {
		panic(errors.NewAssertionErrorWithWrappedErrf(err, "semispace: copying %s", obj))
	}
	s.forwarded[obj] = to
	s.copies[to] = struct{}{}
	s.copied += uint64(size)
	return scan.Outcome{Object: to, Discovered: true}
}

func (copyTracer) RewritesSlots() bool { return true }
