// Package sink provides an in-memory media buffer and a virtual playhead so
// the streaming engine can run without a real decoder attached.
package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v4/mem"

	"github.com/jmylchreest/abrplay/internal/demux"
	"github.com/jmylchreest/abrplay/internal/media"
	"github.com/jmylchreest/abrplay/internal/playerr"
)

// Sink errors.
var (
	ErrClosed       = errors.New("sink closed")
	ErrNoInit       = errors.New("media appended before init segment")
	ErrInvalidRange = errors.New("invalid remove range")
)

// Defaults.
const (
	DefaultMemoryFraction = 0.25
	DefaultMergeTolerance = 0.05
	minSystemQuota        = 64 << 20
)

// Config configures a MemorySink.
type Config struct {
	// Quota caps buffered bytes across all types. Zero derives it from the
	// system's available memory.
	Quota int64

	// MemoryFraction is the share of available memory used when Quota is zero.
	MemoryFraction float64

	// MergeTolerance coalesces buffered ranges separated by less than this
	// many seconds.
	MergeTolerance float64
}

// Stats holds buffer statistics.
type Stats struct {
	Quota       int64                           `json:"quota"`
	CurrentSize int64                           `json:"current_size"`
	TotalBytes  uint64                          `json:"total_bytes"`
	Types       map[media.ContentType]TypeStats `json:"types"`
}

// TypeStats holds per-type statistics.
type TypeStats struct {
	MimeType string            `json:"mime_type"`
	Segments int               `json:"segments"`
	Samples  int               `json:"samples"`
	Bytes    int64             `json:"bytes"`
	Buffered []media.TimeRange `json:"buffered"`
	Ended    bool              `json:"ended"`
}

// entry is one appended segment, possibly trimmed by Remove.
type entry struct {
	start   float64
	end     float64
	size    int64
	samples []demux.Sample
}

type track struct {
	mimeType string
	init     []byte
	entries  []entry
	bytes    int64
	ended    bool
}

// MemorySink holds demuxed samples per content type and reports their
// buffered ranges.
type MemorySink struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.RWMutex
	tracks map[media.ContentType]*track
	closed bool

	totalBytes  atomic.Uint64
	currentSize atomic.Int64

	// changed is closed and replaced whenever buffered ranges change.
	changed chan struct{}
}

// NewMemorySink creates a sink. When cfg.Quota is zero the quota is a
// fraction of the memory currently available.
func NewMemorySink(cfg Config, logger *slog.Logger) *MemorySink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MemoryFraction <= 0 || cfg.MemoryFraction > 1 {
		cfg.MemoryFraction = DefaultMemoryFraction
	}
	if cfg.MergeTolerance <= 0 {
		cfg.MergeTolerance = DefaultMergeTolerance
	}
	logger = logger.With(slog.String("component", "memory_sink"))
	if cfg.Quota <= 0 {
		cfg.Quota = systemQuota(cfg.MemoryFraction, logger)
	}
	return &MemorySink{
		cfg:     cfg,
		logger:  logger,
		tracks:  make(map[media.ContentType]*track),
		changed: make(chan struct{}),
	}
}

func systemQuota(fraction float64, logger *slog.Logger) int64 {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		logger.Warn("reading system memory failed, using minimum quota", slog.String("error", err.Error()))
		return minSystemQuota
	}
	return max(int64(float64(vm.Available)*fraction), minSystemQuota)
}

// Quota returns the byte limit.
func (s *MemorySink) Quota() int64 {
	return s.cfg.Quota
}

// Changed returns a channel closed at the next change of buffered ranges.
func (s *MemorySink) Changed() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.changed
}

func (s *MemorySink) notifyLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *MemorySink) trackLocked(ct media.ContentType) *track {
	t, ok := s.tracks[ct]
	if !ok {
		t = &track{}
		s.tracks[ct] = t
	}
	return t
}

// AppendInit installs the initialization segment for a type. Appending the
// same bytes again is a no-op.
func (s *MemorySink) AppendInit(_ context.Context, ct media.ContentType, mimeType string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	t := s.trackLocked(ct)
	if t.mimeType != "" && t.mimeType != mimeType {
		s.logger.Debug("container changed",
			slog.String("content_type", ct.String()),
			slog.String("from", t.mimeType),
			slog.String("to", mimeType))
	}
	t.mimeType = mimeType
	if data == nil {
		data = []byte{}
	}
	t.init = data
	return nil
}

// AppendMedia stores a demuxed segment. The stored span is the result's
// sample range, or the reference's clipped to its append window when the
// segment carries no timing.
func (s *MemorySink) AppendMedia(_ context.Context, ct media.ContentType, ref *media.SegmentReference, res *demux.Result) error {
	start, end := res.Start, res.End
	if res.Empty() && end <= start {
		ws, we := ref.AppendWindow()
		start = max(ref.StartTime(), ws)
		end = min(ref.EndTime(), we)
	}
	if end <= start {
		return nil
	}
	size := int64(res.Bytes)
	if size == 0 {
		for _, smp := range res.Samples {
			size += int64(len(smp.Data))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	t := s.trackLocked(ct)
	if t.init == nil {
		return playerr.Wrap(playerr.Critical, playerr.CategoryBuffer, playerr.CodeAppendFailed,
			fmt.Sprintf("append of %s", ref), ErrNoInit).WithContentType(ct.String())
	}
	// the new segment replaces whatever it overlaps
	kept := subtract(t.entries, start, end)
	freed := t.bytes - entriesSize(kept)
	if current := s.currentSize.Load() - freed; current+size > s.cfg.Quota {
		return playerr.New(playerr.Recoverable, playerr.CategoryBuffer, playerr.CodeQuotaExceeded,
			fmt.Sprintf("buffer holds %d of %d bytes, segment needs %d", current, s.cfg.Quota, size)).
			WithContentType(ct.String())
	}

	t.entries = insertEntry(kept, entry{start: start, end: end, size: size, samples: res.Samples})
	t.ended = false
	s.recountLocked(t)
	s.totalBytes.Add(uint64(size))
	s.notifyLocked()
	return nil
}

// insertEntry keeps entries sorted by start. entries must not overlap e.
func insertEntry(entries []entry, e entry) []entry {
	pos := len(entries)
	for i, cur := range entries {
		if cur.start > e.start {
			pos = i
			break
		}
	}
	entries = append(entries, entry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = e
	return entries
}

// subtract removes [start, end) from entries, splitting partially covered
// ones. Sizes of split entries follow their remaining samples, or the
// remaining duration when they hold none.
func subtract(entries []entry, start, end float64) []entry {
	out := entries[:0:0]
	for _, e := range entries {
		if e.end <= start || e.start >= end {
			out = append(out, e)
			continue
		}
		if e.start < start {
			out = append(out, e.slice(e.start, start))
		}
		if e.end > end {
			out = append(out, e.slice(end, e.end))
		}
	}
	return out
}

func (e entry) slice(start, end float64) entry {
	part := entry{start: start, end: end}
	if len(e.samples) == 0 {
		part.size = int64(float64(e.size) * (end - start) / (e.end - e.start))
		return part
	}
	for _, smp := range e.samples {
		if smp.PTS >= start && smp.PTS < end {
			part.samples = append(part.samples, smp)
			part.size += int64(len(smp.Data))
		}
	}
	return part
}

// Remove drops buffered media of a type in [start, end).
func (s *MemorySink) Remove(_ context.Context, ct media.ContentType, start, end float64) error {
	if !(end > start) {
		return fmt.Errorf("%w: [%g, %g)", ErrInvalidRange, start, end)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	t, ok := s.tracks[ct]
	if !ok {
		return nil
	}
	t.entries = subtract(t.entries, start, end)
	s.recountLocked(t)
	s.notifyLocked()
	return nil
}

// Clear drops everything buffered for a type, keeping its init segment.
func (s *MemorySink) Clear(_ context.Context, ct media.ContentType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	t, ok := s.tracks[ct]
	if !ok {
		return nil
	}
	t.entries = nil
	t.ended = false
	s.recountLocked(t)
	s.notifyLocked()
	return nil
}

func entriesSize(entries []entry) int64 {
	var size int64
	for _, e := range entries {
		size += e.size
	}
	return size
}

func (s *MemorySink) recountLocked(t *track) {
	size := entriesSize(t.entries)
	s.currentSize.Add(size - t.bytes)
	t.bytes = size
}

// Buffered returns the normalized buffered ranges of a type.
func (s *MemorySink) Buffered(ct media.ContentType) []media.TimeRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bufferedLocked(ct)
}

func (s *MemorySink) bufferedLocked(ct media.ContentType) []media.TimeRange {
	t, ok := s.tracks[ct]
	if !ok {
		return nil
	}
	ranges := make([]media.TimeRange, 0, len(t.entries))
	for _, e := range t.entries {
		ranges = append(ranges, media.TimeRange{Start: e.start, End: e.end})
	}
	return media.NormalizeRanges(ranges, s.cfg.MergeTolerance)
}

// BufferedAll returns the ranges buffered for every audio and video type
// that has an init segment; text never limits playback.
func (s *MemorySink) BufferedAll() []media.TimeRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var lists [][]media.TimeRange
	for _, ct := range []media.ContentType{media.ContentTypeVideo, media.ContentTypeAudio} {
		if t, ok := s.tracks[ct]; ok && t.init != nil {
			lists = append(lists, s.bufferedLocked(ct))
		}
	}
	return media.IntersectRanges(lists...)
}

// EndOfStream marks a type as complete.
func (s *MemorySink) EndOfStream(_ context.Context, ct media.ContentType) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.trackLocked(ct).ended = true
	s.notifyLocked()
	return nil
}

// Ended reports whether every audio and video type present has reached end of stream.
func (s *MemorySink) Ended() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	present := false
	for _, ct := range []media.ContentType{media.ContentTypeVideo, media.ContentTypeAudio} {
		t, ok := s.tracks[ct]
		if !ok || t.init == nil {
			continue
		}
		if !t.ended {
			return false
		}
		present = true
	}
	return present
}

// Samples returns a copy of the samples buffered for a type in [start, end).
func (s *MemorySink) Samples(ct media.ContentType, start, end float64) []demux.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracks[ct]
	if !ok {
		return nil
	}
	var out []demux.Sample
	for _, e := range t.entries {
		if e.end <= start || e.start >= end {
			continue
		}
		for _, smp := range e.samples {
			if smp.PTS >= start && smp.PTS < end {
				out = append(out, smp)
			}
		}
	}
	return out
}

// Stats returns buffer statistics.
func (s *MemorySink) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Quota:       s.cfg.Quota,
		CurrentSize: s.currentSize.Load(),
		TotalBytes:  s.totalBytes.Load(),
		Types:       make(map[media.ContentType]TypeStats, len(s.tracks)),
	}
	for ct, t := range s.tracks {
		ts := TypeStats{
			MimeType: t.mimeType,
			Segments: len(t.entries),
			Bytes:    t.bytes,
			Buffered: s.bufferedLocked(ct),
			Ended:    t.ended,
		}
		for _, e := range t.entries {
			ts.Samples += len(e.samples)
		}
		st.Types[ct] = ts
	}
	return st
}

// Close releases every buffer. Further appends fail with ErrClosed.
func (s *MemorySink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.tracks = make(map[media.ContentType]*track)
	s.currentSize.Store(0)
	s.notifyLocked()
}
