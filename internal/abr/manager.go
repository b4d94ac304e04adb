package abr

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jmylchreest/abrplay/internal/media"
)

const (
	DefaultUpgradeTarget   = 1.15
	DefaultDowngradeTarget = 0.9
	DefaultSwitchInterval  = 8 * time.Second
	DefaultStartupInterval = 2 * time.Second

	// DefaultBandwidthEstimate is used until the estimator has enough data (1 Mbit/s).
	DefaultBandwidthEstimate = 1_000_000

	maxSwitchHistory = 64
)

// Config controls a Manager.
type Config struct {
	Enabled                  bool
	UpgradeTarget            float64
	DowngradeTarget          float64
	SwitchInterval           time.Duration
	StartupInterval          time.Duration
	DefaultBandwidthEstimate int64
	Restrictions             Restrictions
	ClearBufferSwitch        bool
	SafeMarginSwitch         time.Duration
	UpgradeBufferThreshold   time.Duration
	PreferredAudioLanguage   string
	Estimator                EstimatorConfig
}

// DefaultConfig returns an enabled configuration with standard targets.
func DefaultConfig() Config {
	return Config{
		Enabled:                  true,
		UpgradeTarget:            DefaultUpgradeTarget,
		DowngradeTarget:          DefaultDowngradeTarget,
		SwitchInterval:           DefaultSwitchInterval,
		StartupInterval:          DefaultStartupInterval,
		DefaultBandwidthEstimate: DefaultBandwidthEstimate,
		Estimator:                DefaultEstimatorConfig(),
	}
}

// SwitchFunc asks the streaming engine to move to a variant.
type SwitchFunc func(v *media.Variant, clearBuffer bool, safeMargin time.Duration)

// Switch records one variant change.
type Switch struct {
	Time      time.Time `json:"time"`
	VariantID int       `json:"variant_id"`
	Bandwidth int64     `json:"bandwidth"`
	Estimate  int64     `json:"estimate"`
	FromABR   bool      `json:"from_abr"`
}

// Stats is a point-in-time view of a Manager.
type Stats struct {
	Enabled         bool     `json:"enabled"`
	Estimate        int64    `json:"estimate_bps"`
	HasGoodEstimate bool     `json:"has_good_estimate"`
	BytesSampled    int64    `json:"bytes_sampled"`
	ActiveVariantID int      `json:"active_variant_id"`
	PlaybackRate    float64  `json:"playback_rate"`
	Switches        []Switch `json:"switches"`
}

// Manager decides which variant should be playing. It never returns errors:
// when nothing fits it falls back to the lowest variant.
type Manager struct {
	mu              sync.Mutex
	cfg             Config
	estimator       *BandwidthEstimator
	variants        []*media.Variant
	active          *media.Variant
	enabled         bool
	enabledAt       time.Time
	startupComplete bool
	lastSwitch      time.Time
	playbackRate    float64
	bufferHealth    func() float64
	onSwitch        SwitchFunc
	history         []Switch
	now             func() time.Time
	logger          *slog.Logger
}

// NewManager creates a disabled manager; call Enable to start adapting.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:          cfg,
		estimator:    NewBandwidthEstimator(cfg.Estimator),
		playbackRate: 1,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "abr")),
	}
}

// SetClock overrides the wall clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

// Init registers the switch callback.
func (m *Manager) Init(onSwitch SwitchFunc) {
	m.mu.Lock()
	m.onSwitch = onSwitch
	m.mu.Unlock()
}

// Configure replaces the configuration. Estimator tuning only applies to
// managers created afterwards; accumulated samples are kept.
func (m *Manager) Configure(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
}

// Estimator exposes the bandwidth estimator.
func (m *Manager) Estimator() *BandwidthEstimator {
	return m.estimator
}

// SetVariants replaces the candidate set.
func (m *Manager) SetVariants(variants []*media.Variant) {
	m.mu.Lock()
	m.variants = slices.Clone(variants)
	m.mu.Unlock()
}

// SetActive records the variant the engine is actually playing.
func (m *Manager) SetActive(v *media.Variant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v == m.active {
		return
	}
	m.active = v
	m.lastSwitch = m.now()
	m.recordLocked(v, false)
}

// SetPlaybackRate scales variant bandwidth by |rate| during trick play.
func (m *Manager) SetPlaybackRate(rate float64) {
	m.mu.Lock()
	m.playbackRate = rate
	m.mu.Unlock()
}

// SetBufferHealth installs a source of buffered-ahead seconds used to hold
// back upgrades while the buffer is low.
func (m *Manager) SetBufferHealth(fn func() float64) {
	m.mu.Lock()
	m.bufferHealth = fn
	m.mu.Unlock()
}

// SetDefaultEstimate changes the estimate used before enough data arrives.
func (m *Manager) SetDefaultEstimate(bps int64) {
	if bps <= 0 {
		return
	}
	m.mu.Lock()
	m.cfg.DefaultBandwidthEstimate = bps
	m.mu.Unlock()
}

// Enable starts adapting.
func (m *Manager) Enable() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.enabled {
		return
	}
	m.enabled = true
	m.enabledAt = m.now()
	m.startupComplete = false
}

// Disable stops adapting; the estimator keeps sampling.
func (m *Manager) Disable() {
	m.mu.Lock()
	m.enabled = false
	m.mu.Unlock()
}

// Enabled reports whether adaptation is active.
func (m *Manager) Enabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.enabled
}

// BandwidthEstimate returns the current estimate in bits per second.
func (m *Manager) BandwidthEstimate() int64 {
	m.mu.Lock()
	def := m.cfg.DefaultBandwidthEstimate
	m.mu.Unlock()
	return m.estimator.Estimate(def)
}

// ChooseVariant returns the variant that fits the current conditions
// without switching to it.
func (m *Manager) ChooseVariant() *media.Variant {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chooseLocked()
}

func (m *Manager) chooseLocked() *media.Variant {
	candidates := PreferLanguage(m.variants, m.cfg.PreferredAudioLanguage)
	estimate := m.estimator.Estimate(m.cfg.DefaultBandwidthEstimate)
	chosen := Choose(candidates, estimate, m.cfg.Restrictions, m.active, Targets{
		Downgrade:    m.cfg.DowngradeTarget,
		Upgrade:      m.cfg.UpgradeTarget,
		PlaybackRate: m.playbackRate,
	})
	if chosen == nil || m.active == nil || chosen.Bandwidth <= m.active.Bandwidth {
		return chosen
	}
	if m.bufferHealth != nil && m.cfg.UpgradeBufferThreshold > 0 &&
		m.bufferHealth() < m.cfg.UpgradeBufferThreshold.Seconds() && contains(candidates, m.active) {
		return m.active
	}
	return chosen
}

// SegmentDownloaded feeds a completed download to the estimator and, when
// allowed, re-evaluates the choice.
func (m *Manager) SegmentDownloaded(duration time.Duration, numBytes int64) {
	m.estimator.Sample(duration, numBytes)
	m.evaluate(false)
}

// Suggest re-evaluates immediately, ignoring the switch interval.
func (m *Manager) Suggest() {
	m.evaluate(true)
}

func (m *Manager) evaluate(force bool) {
	m.mu.Lock()
	if !m.enabled || len(m.variants) == 0 {
		m.mu.Unlock()
		return
	}
	now := m.now()
	if !force {
		if !m.startupComplete {
			if !m.estimator.HasGoodEstimate() && now.Sub(m.enabledAt) < m.cfg.StartupInterval {
				m.mu.Unlock()
				return
			}
			m.startupComplete = true
		} else if !m.lastSwitch.IsZero() && now.Sub(m.lastSwitch) < m.cfg.SwitchInterval {
			m.mu.Unlock()
			return
		}
	}

	chosen := m.chooseLocked()
	if chosen == nil || chosen == m.active {
		m.mu.Unlock()
		return
	}
	previous := m.active
	m.active = chosen
	m.lastSwitch = now
	m.recordLocked(chosen, true)
	cb := m.onSwitch
	clearBuffer := m.cfg.ClearBufferSwitch
	margin := m.cfg.SafeMarginSwitch
	estimate := m.estimator.Estimate(m.cfg.DefaultBandwidthEstimate)
	m.mu.Unlock()

	attrs := []any{
		slog.Int("variant_id", chosen.ID),
		slog.Int64("bandwidth", chosen.Bandwidth),
		slog.Int64("estimate", estimate),
	}
	if previous != nil {
		attrs = append(attrs, slog.Int("previous_variant_id", previous.ID))
	}
	m.logger.Info("switching variant", attrs...)
	if cb != nil {
		cb(chosen, clearBuffer, margin)
	}
}

func (m *Manager) recordLocked(v *media.Variant, fromABR bool) {
	if v == nil {
		return
	}
	m.history = append(m.history, Switch{
		Time:      m.now(),
		VariantID: v.ID,
		Bandwidth: v.Bandwidth,
		Estimate:  m.estimator.Estimate(m.cfg.DefaultBandwidthEstimate),
		FromABR:   fromABR,
	})
	if len(m.history) > maxSwitchHistory {
		m.history = m.history[len(m.history)-maxSwitchHistory:]
	}
}

// Run evaluates once after the startup interval and then every switch
// interval until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	startup := m.cfg.StartupInterval
	interval := m.cfg.SwitchInterval
	m.mu.Unlock()
	if interval <= 0 {
		interval = DefaultSwitchInterval
	}
	if startup <= 0 {
		startup = time.Millisecond
	}

	startupTimer := time.NewTimer(startup)
	defer startupTimer.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-startupTimer.C:
			m.evaluate(false)
		case <-ticker.C:
			m.evaluate(false)
		}
	}
}

// Stats returns a snapshot for reporting.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Stats{
		Enabled:         m.enabled,
		Estimate:        m.estimator.Estimate(m.cfg.DefaultBandwidthEstimate),
		HasGoodEstimate: m.estimator.HasGoodEstimate(),
		BytesSampled:    m.estimator.BytesSampled(),
		PlaybackRate:    m.playbackRate,
		Switches:        slices.Clone(m.history),
	}
	if m.active != nil {
		s.ActiveVariantID = m.active.ID
	}
	return s
}
