package media

import (
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/jmylchreest/abrplay/internal/playerr"
)

// timeTolerance absorbs rounding in manifest-derived timestamps.
const timeTolerance = 1e-3

// SegmentIndex is an ordered collection of SegmentReferences for one stream.
// Positions returned by Find stay valid across EvictBefore: they count
// evicted references too.
type SegmentIndex struct {
	mu          sync.RWMutex
	refs        []*SegmentReference
	evicted     int
	windowStart float64
	inits       map[*InitSegmentReference]int
	released    bool
	logger      *slog.Logger
}

// NewSegmentIndex builds an index from refs, sorting them by start time.
func NewSegmentIndex(refs []*SegmentReference) *SegmentIndex {
	idx := &SegmentIndex{
		inits:  make(map[*InitSegmentReference]int),
		logger: slog.Default().With(slog.String("component", "segment_index")),
	}
	idx.Merge(refs)
	return idx
}

// SetLogger replaces the logger used for invariant reports.
func (i *SegmentIndex) SetLogger(logger *slog.Logger) {
	i.mu.Lock()
	i.logger = logger
	i.mu.Unlock()
}

// Len returns the number of live (non-evicted) references.
func (i *SegmentIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.refs)
}

// Find returns the position of the reference containing t, or of the first
// reference starting after t when t falls in a gap. ok is false for an empty
// index and for t at or past the end of the last reference.
func (i *SegmentIndex) Find(t float64) (pos int, ok bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.released || len(i.refs) == 0 {
		return 0, false
	}
	n := sort.Search(len(i.refs), func(k int) bool {
		return i.refs[k].endTime > t
	})
	if n == len(i.refs) {
		return 0, false
	}
	return i.evicted + n, true
}

// Get returns the reference at pos, or nil when evicted or out of range.
func (i *SegmentIndex) Get(pos int) *SegmentReference {
	i.mu.RLock()
	defer i.mu.RUnlock()
	k := pos - i.evicted
	if k < 0 || k >= len(i.refs) {
		return nil
	}
	return i.refs[k]
}

// Lookup combines Find and Get.
func (i *SegmentIndex) Lookup(t float64) *SegmentReference {
	pos, ok := i.Find(t)
	if !ok {
		return nil
	}
	return i.Get(pos)
}

// First returns the earliest live reference.
func (i *SegmentIndex) First() *SegmentReference {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if len(i.refs) == 0 {
		return nil
	}
	return i.refs[0]
}

// Last returns the latest reference.
func (i *SegmentIndex) Last() *SegmentReference {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if len(i.refs) == 0 {
		return nil
	}
	return i.refs[len(i.refs)-1]
}

// IsLast reports whether pos is the final reference currently known.
func (i *SegmentIndex) IsLast(pos int) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.refs) > 0 && pos-i.evicted == len(i.refs)-1
}

// Snapshot returns a copy of the live references.
func (i *SegmentIndex) Snapshot() []*SegmentReference {
	i.mu.RLock()
	defer i.mu.RUnlock()
	out := make([]*SegmentReference, len(i.refs))
	copy(out, i.refs)
	return out
}

// Merge folds refs into the index. References starting before the window
// start are dropped, references sharing a start time with an existing one
// replace it, and later references are appended.
func (i *SegmentIndex) Merge(refs []*SegmentReference) {
	if len(refs) == 0 {
		return
	}
	incoming := make([]*SegmentReference, 0, len(refs))
	for _, r := range refs {
		if r != nil {
			incoming = append(incoming, r)
		}
	}
	sort.SliceStable(incoming, func(a, b int) bool {
		return incoming[a].startTime < incoming[b].startTime
	})

	i.mu.Lock()
	defer i.mu.Unlock()
	if i.released {
		return
	}

	kept := incoming[:0]
	for _, r := range incoming {
		if r.startTime < i.windowStart-timeTolerance {
			continue
		}
		kept = append(kept, r)
	}
	if len(kept) == 0 {
		return
	}

	// Existing references before the first incoming start survive; from that
	// point on the incoming list is authoritative.
	cut := sort.Search(len(i.refs), func(k int) bool {
		return i.refs[k].startTime >= kept[0].startTime-timeTolerance
	})
	merged := make([]*SegmentReference, 0, cut+len(kept))
	merged = append(merged, i.refs[:cut]...)
	for _, r := range i.refs[cut:] {
		i.releaseInitLocked(r.init)
	}

	for _, r := range kept {
		if n := len(merged); n > 0 {
			prev := merged[n-1]
			if math.Abs(prev.startTime-r.startTime) < timeTolerance {
				i.releaseInitLocked(prev.init)
				merged = merged[:n-1]
				prev = nil
				if n-1 > 0 {
					prev = merged[n-2]
				}
			}
			if prev != nil && !playerr.Assert(r.endTime >= prev.endTime-timeTolerance, i.logger,
				"segment end times must not decrease: %s after %s", r, prev) {
				continue
			}
		}
		merged = append(merged, r)
		if r.init != nil {
			i.inits[r.init]++
		}
	}
	i.refs = merged
}

// EvictBefore drops every reference ending at or before t and returns how
// many were removed. Later merges ignore references starting before t.
func (i *SegmentIndex) EvictBefore(t float64) int {
	i.mu.Lock()
	defer i.mu.Unlock()
	if t > i.windowStart {
		i.windowStart = t
	}
	n := sort.Search(len(i.refs), func(k int) bool {
		return i.refs[k].endTime > t
	})
	for _, r := range i.refs[:n] {
		i.releaseInitLocked(r.init)
	}
	i.refs = append([]*SegmentReference(nil), i.refs[n:]...)
	i.evicted += n
	return n
}

// InitReferenceCount returns how many live references share init.
func (i *SegmentIndex) InitReferenceCount(init *InitSegmentReference) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.inits[init]
}

// Release empties the index; later calls become no-ops.
func (i *SegmentIndex) Release() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.refs = nil
	i.inits = make(map[*InitSegmentReference]int)
	i.released = true
}

func (i *SegmentIndex) releaseInitLocked(init *InitSegmentReference) {
	if init == nil {
		return
	}
	if i.inits[init] <= 1 {
		delete(i.inits, init)
		return
	}
	i.inits[init]--
}
