// Package abr implements bandwidth estimation and adaptive variant selection.
package abr

import (
	"math"
	"sync"
	"time"
)

const (
	// DefaultFastHalfLife reacts quickly to throughput drops.
	DefaultFastHalfLife = 2 * time.Second

	// DefaultSlowHalfLife smooths out short bursts.
	DefaultSlowHalfLife = 5 * time.Second

	// DefaultMinTotalBytes must be sampled before estimates replace the default.
	DefaultMinTotalBytes = 128_000

	// DefaultMinBytes is the smallest download that counts as a sample.
	DefaultMinBytes = 16_000

	// DefaultMinDuration is the shortest download that counts as a sample.
	DefaultMinDuration = 5 * time.Millisecond
)

// EstimatorConfig tunes a BandwidthEstimator.
type EstimatorConfig struct {
	FastHalfLife  time.Duration
	SlowHalfLife  time.Duration
	MinTotalBytes int64
	MinBytes      int64
	MinDuration   time.Duration
}

// DefaultEstimatorConfig returns the standard tuning.
func DefaultEstimatorConfig() EstimatorConfig {
	return EstimatorConfig{
		FastHalfLife:  DefaultFastHalfLife,
		SlowHalfLife:  DefaultSlowHalfLife,
		MinTotalBytes: DefaultMinTotalBytes,
		MinBytes:      DefaultMinBytes,
		MinDuration:   DefaultMinDuration,
	}
}

func (c EstimatorConfig) withDefaults() EstimatorConfig {
	d := DefaultEstimatorConfig()
	if c.FastHalfLife <= 0 {
		c.FastHalfLife = d.FastHalfLife
	}
	if c.SlowHalfLife <= 0 {
		c.SlowHalfLife = d.SlowHalfLife
	}
	if c.MinTotalBytes <= 0 {
		c.MinTotalBytes = d.MinTotalBytes
	}
	if c.MinBytes <= 0 {
		c.MinBytes = d.MinBytes
	}
	if c.MinDuration <= 0 {
		c.MinDuration = d.MinDuration
	}
	return c
}

// BandwidthEstimator combines a fast and a slow EWMA of download throughput
// and reports the more pessimistic of the two.
type BandwidthEstimator struct {
	mu           sync.Mutex
	cfg          EstimatorConfig
	fast         *ewma
	slow         *ewma
	bytesSampled int64
	samples      int
}

// NewBandwidthEstimator creates an estimator. Zero fields take defaults.
func NewBandwidthEstimator(cfg EstimatorConfig) *BandwidthEstimator {
	cfg = cfg.withDefaults()
	return &BandwidthEstimator{
		cfg:  cfg,
		fast: newEWMA(cfg.FastHalfLife.Seconds()),
		slow: newEWMA(cfg.SlowHalfLife.Seconds()),
	}
}

// Sample records a completed download. Samples below the duration or size
// noise thresholds are ignored; the return value reports whether the sample
// was used.
//
// Each sample weighs as much as its download time, so the half-lives are
// seconds of transfer. At a given throughput a download of more bytes takes
// longer and carries proportionally more weight.
func (b *BandwidthEstimator) Sample(duration time.Duration, numBytes int64) bool {
	if duration < b.cfg.MinDuration || duration <= 0 || numBytes < b.cfg.MinBytes || numBytes <= 0 {
		return false
	}
	seconds := duration.Seconds()
	bitsPerSecond := float64(numBytes) * 8 / seconds

	b.mu.Lock()
	defer b.mu.Unlock()
	b.fast.sample(seconds, bitsPerSecond)
	b.slow.sample(seconds, bitsPerSecond)
	b.bytesSampled += numBytes
	b.samples++
	return true
}

// Estimate returns the bandwidth estimate in bits per second, or
// defaultEstimate until enough data has been sampled.
func (b *BandwidthEstimator) Estimate(defaultEstimate int64) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bytesSampled < b.cfg.MinTotalBytes || b.samples == 0 {
		return defaultEstimate
	}
	return int64(math.Round(math.Min(b.fast.value(), b.slow.value())))
}

// HasGoodEstimate reports whether enough data has been sampled for Estimate
// to stop returning the default.
func (b *BandwidthEstimator) HasGoodEstimate() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.samples > 0 && b.bytesSampled >= b.cfg.MinTotalBytes
}

// BytesSampled returns the total bytes accepted so far.
func (b *BandwidthEstimator) BytesSampled() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bytesSampled
}

// Reset forgets every sample.
func (b *BandwidthEstimator) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.fast = newEWMA(b.cfg.FastHalfLife.Seconds())
	b.slow = newEWMA(b.cfg.SlowHalfLife.Seconds())
	b.bytesSampled = 0
	b.samples = 0
}
