package media

import (
	"math"
	"sync"
	"time"
)

// PresentationTimeline tracks the seekable and available ranges of a
// presentation. One instance is shared by a whole session.
type PresentationTimeline struct {
	mu sync.RWMutex

	// presentationStart anchors presentation time 0 to wall-clock time for
	// live content. Zero when unknown.
	presentationStart time.Time
	duration          float64
	availability      float64
	delay             float64
	minSeekRange      float64
	static            bool
	segmentEnds       map[ContentType]float64
	maxSegmentDur     float64
	now               func() time.Time
}

// TimelineOption customizes a PresentationTimeline.
type TimelineOption func(*PresentationTimeline)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) TimelineOption {
	return func(t *PresentationTimeline) { t.now = now }
}

// WithMinSeekRange sets the smallest live seek range kept after the
// presentation delay is applied.
func WithMinSeekRange(seconds float64) TimelineOption {
	return func(t *PresentationTimeline) { t.minSeekRange = seconds }
}

// NewStaticTimeline returns a VOD timeline of the given duration.
func NewStaticTimeline(duration float64, opts ...TimelineOption) *PresentationTimeline {
	t := &PresentationTimeline{
		duration:     duration,
		availability: math.Inf(1),
		static:       true,
		segmentEnds:  make(map[ContentType]float64),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewLiveTimeline returns a dynamic timeline. start may be zero when the
// presentation has no wall-clock anchor; window <= 0 means the whole
// presentation stays available.
func NewLiveTimeline(start time.Time, window, delay float64, opts ...TimelineOption) *PresentationTimeline {
	if window <= 0 {
		window = math.Inf(1)
	}
	t := &PresentationTimeline{
		presentationStart: start,
		duration:          math.Inf(1),
		availability:      window,
		delay:             delay,
		segmentEnds:       make(map[ContentType]float64),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// IsLive reports whether the presentation is still growing.
func (t *PresentationTimeline) IsLive() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return !t.static && math.IsInf(t.duration, 1)
}

// IsStatic reports whether the presentation was declared static.
func (t *PresentationTimeline) IsStatic() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.static
}

// SetStatic marks a live presentation as ended (or back to dynamic).
func (t *PresentationTimeline) SetStatic(static bool) {
	t.mu.Lock()
	t.static = static
	t.mu.Unlock()
}

// Duration returns the presentation duration, +Inf when unknown.
func (t *PresentationTimeline) Duration() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.duration
}

// SetDuration updates the duration. Setting the same value twice is a no-op.
func (t *PresentationTimeline) SetDuration(d float64) {
	if math.IsNaN(d) || d < 0 {
		return
	}
	t.mu.Lock()
	t.duration = d
	t.mu.Unlock()
}

// PresentationDelay returns the configured distance from the live edge.
func (t *PresentationTimeline) PresentationDelay() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.delay
}

// SetPresentationDelay changes the distance kept from the live edge.
func (t *PresentationTimeline) SetPresentationDelay(delay float64) {
	t.mu.Lock()
	t.delay = math.Max(0, delay)
	t.mu.Unlock()
}

// SetAvailabilityWindow changes the window size; <= 0 means unbounded.
func (t *PresentationTimeline) SetAvailabilityWindow(window float64) {
	if window <= 0 {
		window = math.Inf(1)
	}
	t.mu.Lock()
	t.availability = window
	t.mu.Unlock()
}

// MaxSegmentDuration returns the longest segment seen via NotifySegments.
func (t *PresentationTimeline) MaxSegmentDuration() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.maxSegmentDur
}

// NotifySegmentsUpdated records the newest known segment end for a type.
func (t *PresentationTimeline) NotifySegmentsUpdated(ct ContentType, newEnd float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.segmentEnds[ct]; !ok || newEnd > cur {
		t.segmentEnds[ct] = newEnd
	}
}

// NotifySegments records the end of the last reference in refs and tracks
// the longest segment duration.
func (t *PresentationTimeline) NotifySegments(ct ContentType, refs []*SegmentReference) {
	if len(refs) == 0 {
		return
	}
	t.mu.Lock()
	for _, r := range refs {
		t.maxSegmentDur = math.Max(t.maxSegmentDur, r.Duration())
	}
	t.mu.Unlock()
	t.NotifySegmentsUpdated(ct, refs[len(refs)-1].EndTime())
}

// liveEdgeLocked returns the latest presentation time every type can serve.
func (t *PresentationTimeline) liveEdgeLocked() float64 {
	edge := math.Inf(1)
	if !t.presentationStart.IsZero() {
		edge = t.now().Sub(t.presentationStart).Seconds()
	}
	if len(t.segmentEnds) > 0 {
		minEnd := math.Inf(1)
		for _, end := range t.segmentEnds {
			minEnd = math.Min(minEnd, end)
		}
		edge = math.Min(edge, minEnd)
	}
	if math.IsInf(edge, 1) {
		return 0
	}
	return math.Max(0, edge)
}

// AvailabilityStart is the earliest time whose segments are still available.
func (t *PresentationTimeline) AvailabilityStart() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.availabilityStartLocked()
}

func (t *PresentationTimeline) availabilityStartLocked() float64 {
	if t.static || !math.IsInf(t.duration, 1) {
		return 0
	}
	if math.IsInf(t.availability, 1) {
		return 0
	}
	return math.Max(0, t.liveEdgeLocked()-t.availability)
}

// AvailabilityEnd is the latest available presentation time.
func (t *PresentationTimeline) AvailabilityEnd() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.static || !math.IsInf(t.duration, 1) {
		return t.duration
	}
	return t.liveEdgeLocked()
}

// SeekRangeStart returns the earliest seekable time.
func (t *PresentationTimeline) SeekRangeStart() float64 {
	start, _ := t.SeekRange()
	return start
}

// SeekRangeEnd returns the latest seekable time.
func (t *PresentationTimeline) SeekRangeEnd() float64 {
	_, end := t.SeekRange()
	return end
}

// SeekRange returns both ends under one lock so they are consistent.
func (t *PresentationTimeline) SeekRange() (start, end float64) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.static || !math.IsInf(t.duration, 1) {
		return 0, t.duration
	}
	edge := t.liveEdgeLocked()
	start = t.availabilityStartLocked()
	end = math.Max(start, edge-t.delay)
	if end-start < t.minSeekRange {
		end = math.Min(edge, start+t.minSeekRange)
	}
	return start, end
}

// SafeSeekRangeStart returns SeekRangeStart moved forward by offset, never
// beyond the seek range end.
func (t *PresentationTimeline) SafeSeekRangeStart(offset float64) float64 {
	start, end := t.SeekRange()
	return math.Min(start+offset, end)
}

// IsInSeekRange reports whether time lies in the seek range.
func (t *PresentationTimeline) IsInSeekRange(time float64) bool {
	start, end := t.SeekRange()
	return time >= start && time <= end
}

// Clamp moves time into the seek range.
func (t *PresentationTimeline) Clamp(time float64) float64 {
	start, end := t.SeekRange()
	return math.Max(start, math.Min(time, end))
}
