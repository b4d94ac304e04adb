package media

import (
	"math"
	"sort"
)

// TimeRange is a half-open [Start, End) span of presentation time in seconds.
type TimeRange struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns End - Start.
func (r TimeRange) Duration() float64 {
	return r.End - r.Start
}

// Contains reports whether t lies in the range, allowing tolerance at both ends.
func (r TimeRange) Contains(t, tolerance float64) bool {
	return t >= r.Start-tolerance && t < r.End+tolerance
}

// NormalizeRanges sorts ranges and coalesces those closer than tolerance.
func NormalizeRanges(ranges []TimeRange, tolerance float64) []TimeRange {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]TimeRange, 0, len(ranges))
	for _, r := range ranges {
		if r.End > r.Start {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Start < sorted[b].Start })

	out := sorted[:0]
	for _, r := range sorted {
		if n := len(out); n > 0 && r.Start <= out[n-1].End+tolerance {
			out[n-1].End = math.Max(out[n-1].End, r.End)
			continue
		}
		out = append(out, r)
	}
	return out
}

// IntersectRanges returns the spans covered by every input list. Each list
// must already be normalized.
func IntersectRanges(lists ...[]TimeRange) []TimeRange {
	if len(lists) == 0 {
		return nil
	}
	acc := lists[0]
	for _, next := range lists[1:] {
		var out []TimeRange
		i, j := 0, 0
		for i < len(acc) && j < len(next) {
			start := math.Max(acc[i].Start, next[j].Start)
			end := math.Min(acc[i].End, next[j].End)
			if end > start {
				out = append(out, TimeRange{Start: start, End: end})
			}
			if acc[i].End < next[j].End {
				i++
			} else {
				j++
			}
		}
		acc = out
	}
	return acc
}

// BufferedEnd returns the end of the range containing t, or ok=false when t
// is not buffered.
func BufferedEnd(ranges []TimeRange, t, tolerance float64) (end float64, ok bool) {
	for _, r := range ranges {
		if r.Contains(t, tolerance) {
			return r.End, true
		}
	}
	return 0, false
}

// BufferedAhead returns how many seconds are buffered contiguously from t.
func BufferedAhead(ranges []TimeRange, t, tolerance float64) float64 {
	end, ok := BufferedEnd(ranges, t, tolerance)
	if !ok || end <= t {
		return 0
	}
	return end - t
}

// NextRangeStart returns the start of the first range beginning after t.
func NextRangeStart(ranges []TimeRange, t float64) (start float64, ok bool) {
	for _, r := range ranges {
		if r.Start > t {
			return r.Start, true
		}
	}
	return 0, false
}
