package abr

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrplay/internal/media"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type switchRecorder struct {
	mu       sync.Mutex
	variants []*media.Variant
}

func (r *switchRecorder) onSwitch(v *media.Variant, _ bool, _ time.Duration) {
	r.mu.Lock()
	r.variants = append(r.variants, v)
	r.mu.Unlock()
}

func (r *switchRecorder) all() []*media.Variant {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*media.Variant(nil), r.variants...)
}

func newTestManager(t *testing.T, variants []*media.Variant) (*Manager, *manualClock, *switchRecorder) {
	t.Helper()
	clock := &manualClock{now: time.Unix(1_700_000_000, 0)}
	rec := &switchRecorder{}
	m := NewManager(DefaultConfig(), nil)
	m.SetClock(clock.Now)
	m.Init(rec.onSwitch)
	m.SetVariants(variants)
	return m, clock, rec
}

func TestManager_SwitchesAfterGoodEstimate(t *testing.T) {
	low := variant(0, 500_000, 640, 360)
	mid := variant(1, 1_000_000, 1280, 720)
	high := variant(2, 2_000_000, 1920, 1080)
	m, clock, rec := newTestManager(t, []*media.Variant{low, mid, high})

	// Disabled managers only sample.
	m.SegmentDownloaded(4*time.Second, 1_500_000)
	assert.Empty(t, rec.all())

	m.Enable()
	m.SegmentDownloaded(4*time.Second, 1_500_000) // 3 Mbit/s
	require.Equal(t, []*media.Variant{high}, rec.all())

	// Throughput collapses, but the switch interval holds the choice.
	for range 5 {
		m.SegmentDownloaded(4*time.Second, 300_000) // 600 kbit/s
	}
	require.Len(t, rec.all(), 1)

	clock.Advance(DefaultSwitchInterval + time.Second)
	m.SegmentDownloaded(4*time.Second, 300_000)
	assert.Equal(t, []*media.Variant{high, low}, rec.all())

	stats := m.Stats()
	assert.Equal(t, low.ID, stats.ActiveVariantID)
	require.Len(t, stats.Switches, 2)
	assert.True(t, stats.Switches[1].FromABR)
}

func TestManager_StartupGracePeriod(t *testing.T) {
	low := variant(0, 500_000, 640, 360)
	high := variant(1, 2_000_000, 1920, 1080)
	m, clock, rec := newTestManager(t, []*media.Variant{low, high})
	m.Enable()

	// 32 KB is not enough for a trusted estimate and the grace period has
	// not elapsed, so nothing happens.
	m.SegmentDownloaded(time.Second, 32_000)
	assert.Empty(t, rec.all())

	clock.Advance(DefaultStartupInterval)
	m.SegmentDownloaded(time.Second, 32_000)
	// Default estimate of 1 Mbit/s only affords the low variant.
	assert.Equal(t, []*media.Variant{low}, rec.all())
}

func TestManager_LowBufferBlocksUpgrade(t *testing.T) {
	low := variant(0, 500_000, 640, 360)
	high := variant(1, 2_000_000, 1920, 1080)

	cfg := DefaultConfig()
	cfg.UpgradeBufferThreshold = 2 * time.Second
	cfg.DefaultBandwidthEstimate = 10_000_000
	m := NewManager(cfg, nil)
	m.SetVariants([]*media.Variant{low, high})
	m.SetActive(low)

	buffered := 1.0
	m.SetBufferHealth(func() float64 { return buffered })
	assert.Same(t, low, m.ChooseVariant())

	buffered = 5
	assert.Same(t, high, m.ChooseVariant())
}

func TestManager_SetActiveIsNotABRSwitch(t *testing.T) {
	low := variant(0, 500_000, 640, 360)
	m, _, rec := newTestManager(t, []*media.Variant{low})

	m.SetActive(low)
	m.SetActive(low)

	assert.Empty(t, rec.all())
	stats := m.Stats()
	require.Len(t, stats.Switches, 1)
	assert.False(t, stats.Switches[0].FromABR)
}

func TestManager_DefaultEstimateSeed(t *testing.T) {
	m := NewManager(DefaultConfig(), nil)
	assert.Equal(t, int64(DefaultBandwidthEstimate), m.BandwidthEstimate())

	m.SetDefaultEstimate(4_000_000)
	assert.Equal(t, int64(4_000_000), m.BandwidthEstimate())

	m.SetDefaultEstimate(0)
	assert.Equal(t, int64(4_000_000), m.BandwidthEstimate())
}

func TestManager_RunStopsWithContext(t *testing.T) {
	low := variant(0, 500_000, 640, 360)
	cfg := DefaultConfig()
	cfg.StartupInterval = 10 * time.Millisecond
	m := NewManager(cfg, nil)
	m.SetVariants([]*media.Variant{low})

	switched := make(chan *media.Variant, 1)
	m.Init(func(v *media.Variant, _ bool, _ time.Duration) { switched <- v })
	m.Enable()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	select {
	case v := <-switched:
		assert.Same(t, low, v)
	case <-time.After(2 * time.Second):
		t.Fatal("no switch after startup interval")
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
