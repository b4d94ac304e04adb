package streaming

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/jmylchreest/abrplay/internal/media"
)

// TypeStats counts activity of one content type.
type TypeStats struct {
	State       string  `json:"state"`
	StreamID    int     `json:"stream_id"`
	Segments    int64   `json:"segments"`
	Bytes       int64   `json:"bytes"`
	Skipped     int64   `json:"skipped"`
	AppendPos   float64 `json:"append_position"`
	Ended       bool    `json:"ended"`
	Disabled    bool    `json:"disabled,omitempty"`
	QuotaErrors int64   `json:"quota_errors,omitempty"`
}

// Stats is a snapshot of session statistics.
type Stats struct {
	ActiveVariantID int                                     `json:"active_variant_id"`
	TextStreamID    int                                     `json:"text_stream_id"`
	Playhead        float64                                 `json:"playhead"`
	BufferedAhead   float64                                 `json:"buffered_ahead"`
	Buffering       bool                                    `json:"buffering"`
	BufferingTime   time.Duration                           `json:"buffering_time"`
	PlaybackRate    float64                                 `json:"playback_rate"`
	GapsJumped      int64                                   `json:"gaps_jumped"`
	Stalls          int64                                   `json:"stalls"`
	LiveCatchUps    int64                                   `json:"live_catch_ups"`
	LatencyP50      time.Duration                           `json:"latency_p50"`
	LatencyP95      time.Duration                           `json:"latency_p95"`
	Types           map[media.ContentType]TypeStats         `json:"types"`
	Buffered        map[media.ContentType][]media.TimeRange `json:"buffered"`
}

// statsCollector accumulates counters across loops. The digest is not safe
// for concurrent use, so everything sits behind one mutex.
type statsCollector struct {
	mu             sync.Mutex
	latency        *tdigest.TDigest
	types          map[media.ContentType]*TypeStats
	gapsJumped     int64
	stalls         int64
	liveCatchUps   int64
	bufferingTime  time.Duration
	bufferingSince time.Time
}

func newStatsCollector() *statsCollector {
	return &statsCollector{
		latency: tdigest.NewWithCompression(100),
		types:   make(map[media.ContentType]*TypeStats),
	}
}

func (c *statsCollector) typeLocked(ct media.ContentType) *TypeStats {
	ts, ok := c.types[ct]
	if !ok {
		ts = &TypeStats{}
		c.types[ct] = ts
	}
	return ts
}

func (c *statsCollector) segmentFetched(ct media.ContentType, bytes int, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.typeLocked(ct)
	ts.Segments++
	ts.Bytes += int64(bytes)
	if latency > 0 {
		c.latency.Add(float64(latency.Nanoseconds()), 1)
	}
}

func (c *statsCollector) segmentSkipped(ct media.ContentType) {
	c.mu.Lock()
	c.typeLocked(ct).Skipped++
	c.mu.Unlock()
}

func (c *statsCollector) quotaExceeded(ct media.ContentType) {
	c.mu.Lock()
	c.typeLocked(ct).QuotaErrors++
	c.mu.Unlock()
}

func (c *statsCollector) gapJumped() {
	c.mu.Lock()
	c.gapsJumped++
	c.mu.Unlock()
}

func (c *statsCollector) stallDetected() {
	c.mu.Lock()
	c.stalls++
	c.mu.Unlock()
}

func (c *statsCollector) liveCatchUp() {
	c.mu.Lock()
	c.liveCatchUps++
	c.mu.Unlock()
}

func (c *statsCollector) buffering(on bool, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case on && c.bufferingSince.IsZero():
		c.bufferingSince = now
	case !on && !c.bufferingSince.IsZero():
		c.bufferingTime += now.Sub(c.bufferingSince)
		c.bufferingSince = time.Time{}
	}
}

func (c *statsCollector) fill(s *Stats, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.GapsJumped = c.gapsJumped
	s.Stalls = c.stalls
	s.LiveCatchUps = c.liveCatchUps
	s.BufferingTime = c.bufferingTime
	if !c.bufferingSince.IsZero() {
		s.BufferingTime += now.Sub(c.bufferingSince)
	}
	if c.latency.Count() > 0 {
		s.LatencyP50 = time.Duration(c.latency.Quantile(0.5))
		s.LatencyP95 = time.Duration(c.latency.Quantile(0.95))
	}
	s.Types = make(map[media.ContentType]TypeStats, len(c.types))
	for ct, ts := range c.types {
		s.Types[ct] = *ts
	}
}
