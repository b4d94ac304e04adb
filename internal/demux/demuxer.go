// Package demux parses fetched segments into timed samples so the streaming
// engine knows exactly which presentation range an append covers.
package demux

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"mime"
	"sort"
	"strings"
	"sync"

	"github.com/jmylchreest/abrplay/internal/playerr"
)

// TrackKind classifies a demuxed track.
type TrackKind string

const (
	TrackVideo TrackKind = "video"
	TrackAudio TrackKind = "audio"
	TrackText  TrackKind = "text"
)

// Track describes one elementary stream found in a segment.
type Track struct {
	ID        int
	Kind      TrackKind
	Codec     string
	TimeScale uint32
}

// Sample is one access unit (or cue) on the presentation timeline.
type Sample struct {
	Track    int
	Kind     TrackKind
	PTS      float64
	DTS      float64
	Duration float64
	Keyframe bool
	Data     []byte
}

// End returns PTS + Duration.
func (s Sample) End() float64 {
	return s.PTS + s.Duration
}

// Caption is a decoded closed-caption line.
type Caption struct {
	Channel int
	Start   float64
	End     float64
	Text    string
}

// Input is one segment to demux.
type Input struct {
	Init []byte
	Data []byte
	// TimestampOffset is added to every media timestamp.
	TimestampOffset float64
	// Samples starting outside [WindowStart, WindowEnd) are dropped.
	WindowStart float64
	WindowEnd   float64
	// SegmentStart and SegmentEnd are the reference's nominal times; used
	// when the payload carries no timing of its own.
	SegmentStart float64
	SegmentEnd   float64
}

func (in Input) windowEnd() float64 {
	if in.WindowEnd <= 0 {
		return math.Inf(1)
	}
	return in.WindowEnd
}

// Result is what one Demux call produced.
type Result struct {
	Tracks   []Track
	Samples  []Sample
	Captions []Caption
	// Start and End bound the primary track's kept samples.
	Start float64
	End   float64
	Bytes int
	// Dropped counts samples removed by the append window.
	Dropped int
}

// Empty reports whether no samples survived.
func (r *Result) Empty() bool {
	return len(r.Samples) == 0
}

// Demuxer parses segments of one container format.
type Demuxer interface {
	Demux(ctx context.Context, in Input) (*Result, error)
}

// Factory creates a demuxer instance; instances may cache parsed init data
// and are not shared across streams.
type Factory func(logger *slog.Logger) Demuxer

// Registry maps container MIME types to demuxer factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with the built-in demuxers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	mp4 := func(logger *slog.Logger) Demuxer { return NewMP4Demuxer(logger) }
	ts := func(logger *slog.Logger) Demuxer { return NewTSDemuxer(logger) }
	vtt := func(logger *slog.Logger) Demuxer { return NewVTTDemuxer(logger) }
	r.Register("video/mp4", mp4)
	r.Register("audio/mp4", mp4)
	r.Register("application/mp4", mp4)
	r.Register("video/mp2t", ts)
	r.Register("audio/mp2t", ts)
	r.Register("text/vtt", vtt)
	return r
}

// Register adds or replaces the factory for a MIME type.
func (r *Registry) Register(mimeType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalizeMIME(mimeType)] = f
}

// New creates a demuxer for mimeType; parameters such as codecs are ignored.
func (r *Registry) New(mimeType string, logger *slog.Logger) (Demuxer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r.mu.RLock()
	f, ok := r.factories[normalizeMIME(mimeType)]
	r.mu.RUnlock()
	if !ok {
		return nil, playerr.New(playerr.Critical, playerr.CategoryMedia, playerr.CodeUnsupportedCodec,
			fmt.Sprintf("no demuxer for %q", mimeType))
	}
	return f(logger), nil
}

// Supports reports whether a demuxer is registered for mimeType.
func (r *Registry) Supports(mimeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalizeMIME(mimeType)]
	return ok
}

// MIMETypes lists the registered types.
func (r *Registry) MIMETypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func normalizeMIME(s string) string {
	if mt, _, err := mime.ParseMediaType(s); err == nil {
		return mt
	}
	base, _, _ := strings.Cut(s, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func containerError(msg string, err error) error {
	return playerr.Wrap(playerr.Recoverable, playerr.CategoryMedia, playerr.CodeContainerParse, msg, err)
}

// finish applies the append window, orders samples and computes the range
// of the primary track (video when present, otherwise the first kind seen).
func finish(res *Result, in Input) *Result {
	start, end := in.WindowStart, in.windowEnd()
	const eps = 1e-6

	kept := res.Samples[:0]
	for _, s := range res.Samples {
		if s.PTS < start-eps || s.PTS >= end {
			res.Dropped++
			continue
		}
		if s.End() > end {
			s.Duration = end - s.PTS
		}
		kept = append(kept, s)
	}
	res.Samples = kept

	sort.SliceStable(res.Samples, func(i, j int) bool {
		return res.Samples[i].DTS < res.Samples[j].DTS
	})

	primary := TrackKind("")
	for _, s := range res.Samples {
		if s.Kind == TrackVideo {
			primary = TrackVideo
			break
		}
		if primary == "" {
			primary = s.Kind
		}
	}

	first := true
	for _, s := range res.Samples {
		res.Bytes += len(s.Data)
		if s.Kind != primary {
			continue
		}
		if first {
			res.Start, res.End = s.PTS, s.End()
			first = false
			continue
		}
		res.Start = min(res.Start, s.PTS)
		res.End = max(res.End, s.End())
	}

	for i := range res.Captions {
		if res.Captions[i].End <= res.Captions[i].Start {
			res.Captions[i].End = res.End
		}
	}
	return res
}
