// Package player ties a manifest parser, the adaptation manager, the
// streaming engine and a buffer sink into one playback session.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/jmylchreest/abrplay/internal/abr"
	"github.com/jmylchreest/abrplay/internal/config"
	"github.com/jmylchreest/abrplay/internal/demux"
	"github.com/jmylchreest/abrplay/internal/manifest"
	"github.com/jmylchreest/abrplay/internal/media"
	"github.com/jmylchreest/abrplay/internal/netfetch"
	"github.com/jmylchreest/abrplay/internal/observability"
	"github.com/jmylchreest/abrplay/internal/playerr"
	"github.com/jmylchreest/abrplay/internal/sink"
	"github.com/jmylchreest/abrplay/internal/store"
	"github.com/jmylchreest/abrplay/internal/streaming"
)

// Session errors.
var (
	ErrUnknownVariant    = errors.New("unknown variant")
	ErrUnknownTextStream = errors.New("unknown text stream")
	ErrClosed            = errors.New("session closed")
)

// historyMaxAge limits how old a stored estimate may be to seed a session.
const historyMaxAge = 24 * time.Hour

// Fetcher serves both manifest and segment requests.
type Fetcher interface {
	Fetch(ctx context.Context, req *netfetch.Request) (*netfetch.Response, error)
}

// Options wires a Session. Fetcher, Manifests and Demuxers default to the
// standard registries; History and Sessions are optional.
type Options struct {
	Config    *config.Config
	Fetcher   Fetcher
	Manifests *manifest.Registry
	Demuxers  *demux.Registry
	History   *store.BandwidthHistory
	Sessions  *store.Sessions
	Logger    *slog.Logger
	Now       func() time.Time
}

// Session is one playback of one manifest.
type Session struct {
	id        string
	uri       string
	cfgMu     sync.Mutex
	cfg       *config.Config
	parser    manifest.Parser
	manifest  *media.Manifest
	abr       *abr.Manager
	sink      *sink.MemorySink
	playhead  *sink.VirtualPlayhead
	engine    *streaming.Engine
	// updates receives manifest refreshes once the engine exists
	updates   atomic.Pointer[streaming.Engine]
	history   *store.BandwidthHistory
	sessions  *store.Sessions
	logger    *slog.Logger
	now       func() time.Time
	startedAt time.Time
	seeded    int64

	cancel    context.CancelFunc
	ended     chan struct{}
	endedOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

// Open loads the manifest at uri and prepares a session. Nothing is
// fetched beyond the manifest until Start.
func Open(ctx context.Context, uri string, opts Options) (*Session, error) {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Manifests == nil {
		opts.Manifests = manifest.DefaultRegistry()
	}
	if opts.Demuxers == nil {
		opts.Demuxers = demux.DefaultRegistry()
	}
	if opts.Fetcher == nil {
		client, err := netfetch.NewFromConfig(opts.Config.Network, opts.Logger)
		if err != nil {
			return nil, fmt.Errorf("creating network client: %w", err)
		}
		opts.Fetcher = client
	}

	id := uuid.NewString()
	logger := observability.WithSession(opts.Logger, id)
	s := &Session{
		id:       id,
		uri:      uri,
		cfg:      opts.Config,
		history:  opts.History,
		sessions: opts.Sessions,
		logger:   logger,
		now:      opts.Now,
		ended:    make(chan struct{}),
	}

	parser, err := opts.Manifests.New(uri, "", manifest.Options{
		Fetcher: opts.Fetcher,
		Config:  opts.Config.Manifest,
		Logger:  logger,
		Now:     opts.Now,
	})
	if err != nil {
		return nil, err
	}
	s.parser = parser
	m, err := parser.Start(context.WithoutCancel(ctx), uri, manifest.HandlerFuncs{
		OnUpdate: func() {
			logger.Debug("manifest updated")
			if e := s.updates.Load(); e != nil {
				e.ManifestUpdated()
			}
		},
		OnError: func(err error) {
			observability.WithError(logger, err).Warn("manifest update failed")
		},
	})
	if err != nil {
		return nil, err
	}
	s.manifest = m
	if len(m.AllowedVariants()) == 0 {
		parser.Stop()
		return nil, playerr.New(playerr.Critical, playerr.CategoryManifest, playerr.CodeManifestNoVariants,
			"manifest has no playable variants")
	}

	s.abr = abr.NewManager(abrConfig(opts.Config.ABR), logger)
	s.abr.SetVariants(m.AllowedVariants())
	s.seedEstimate(ctx)

	s.sink = sink.NewMemorySink(sink.Config{Quota: opts.Config.Streaming.BufferQuota.Bytes()}, logger)
	s.playhead = sink.NewVirtualPlayhead(s.sink, 0)
	s.playhead.SetClock(opts.Now)

	s.engine, err = streaming.New(streaming.Options{
		Config:    opts.Config.Streaming,
		Manifest:  m,
		Fetcher:   opts.Fetcher,
		Demuxers:  opts.Demuxers,
		Sink:      s.sink,
		Playhead:  s.playhead,
		Bandwidth: s.abr,
		OnEvent:   s.onEvent,
		Logger:    logger,
		Now:       opts.Now,
	})
	if err != nil {
		parser.Stop()
		s.sink.Close()
		return nil, err
	}
	s.updates.Store(s.engine)
	s.abr.Init(s.engine.ApplyAdaptation)
	s.abr.SetBufferHealth(s.engine.BufferedAhead)

	logger.Info("session opened",
		slog.String("uri", uri),
		slog.Bool("live", m.Timeline.IsLive()),
		slog.Int("variants", len(m.Variants)),
		slog.Int("text_streams", len(m.TextStreams)))
	return s, nil
}

func abrConfig(c config.ABRConfig) abr.Config {
	return abr.Config{
		Enabled:                  c.Enabled,
		UpgradeTarget:            c.BandwidthUpgradeTarget,
		DowngradeTarget:          c.BandwidthDowngradeTarget,
		SwitchInterval:           c.SwitchInterval,
		StartupInterval:          c.StartupInterval,
		DefaultBandwidthEstimate: c.DefaultBandwidthEstimate.BitsPerSecond(),
		ClearBufferSwitch:        c.ClearBufferSwitch,
		SafeMarginSwitch:         c.SafeMarginSwitch,
		UpgradeBufferThreshold:   c.UpgradeBufferThreshold,
		PreferredAudioLanguage:   c.PreferredAudioLanguage,
		Restrictions: abr.Restrictions{
			MinWidth:     c.Restrictions.MinWidth,
			MaxWidth:     c.Restrictions.MaxWidth,
			MinHeight:    c.Restrictions.MinHeight,
			MaxHeight:    c.Restrictions.MaxHeight,
			MinPixels:    c.Restrictions.MinPixels,
			MaxPixels:    c.Restrictions.MaxPixels,
			MinFrameRate: c.Restrictions.MinFrameRate,
			MaxFrameRate: c.Restrictions.MaxFrameRate,
			MinBandwidth: c.Restrictions.MinBandwidth.BitsPerSecond(),
			MaxBandwidth: c.Restrictions.MaxBandwidth.BitsPerSecond(),
		},
		Estimator: abr.EstimatorConfig{
			FastHalfLife:  c.Estimator.FastHalfLife,
			SlowHalfLife:  c.Estimator.SlowHalfLife,
			MinTotalBytes: c.Estimator.MinTotalBytes.Bytes(),
			MinBytes:      c.Estimator.MinBytes.Bytes(),
			MinDuration:   c.Estimator.MinDuration,
		},
	}
}

func (s *Session) seedEstimate(ctx context.Context) {
	if s.history == nil {
		return
	}
	est, err := s.history.Estimate(ctx, store.HostOf(s.uri), historyMaxAge)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return
	case err != nil:
		observability.WithError(s.logger, err).Warn("failed to load bandwidth history")
		return
	}
	s.seeded = est
	s.abr.SetDefaultEstimate(est)
	s.logger.Info("seeded bandwidth estimate from history", slog.Int64("estimate", est))
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// URI returns the manifest URI.
func (s *Session) URI() string { return s.uri }

// Manifest returns the parsed presentation.
func (s *Session) Manifest() *media.Manifest { return s.manifest }

// Engine exposes the streaming engine.
func (s *Session) Engine() *streaming.Engine { return s.engine }

// Sink exposes the buffer sink.
func (s *Session) Sink() *sink.MemorySink { return s.sink }

// Ended is closed when every stream reached its end.
func (s *Session) Ended() <-chan struct{} { return s.ended }

// Done is closed when streaming stops for any reason.
func (s *Session) Done() <-chan struct{} { return s.engine.Done() }

// Start begins playback at startTime, or at the live edge when startTime
// is NaN for a live presentation.
func (s *Session) Start(ctx context.Context, startTime float64) error {
	if math.IsNaN(startTime) {
		startTime = 0
		if s.manifest.Timeline.IsLive() {
			startTime = math.Inf(1)
		}
	}
	variant := s.abr.ChooseVariant()
	if variant == nil {
		return playerr.New(playerr.Critical, playerr.CategoryStreaming, playerr.CodeNoVariant, "no variant fits the restrictions")
	}
	s.abr.SetActive(variant)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s.cancel = cancel
	s.startedAt = s.now()
	if err := s.engine.Start(ctx, variant, startTime); err != nil {
		cancel()
		return err
	}
	s.playhead.Play()

	s.cfgMu.Lock()
	enabled := s.cfg.ABR.Enabled
	s.cfgMu.Unlock()
	if enabled {
		s.abr.Enable()
	}
	go func() {
		if err := s.abr.Run(runCtx); err != nil {
			observability.WithError(s.logger, err).Warn("adaptation loop stopped")
		}
	}()
	return nil
}

func (s *Session) onEvent(ev streaming.Event) {
	switch ev.Type {
	case streaming.EventVariantChanged:
		if ev.Variant != nil {
			s.abr.SetActive(ev.Variant)
		}
	case streaming.EventEnded:
		s.endedOnce.Do(func() { close(s.ended) })
	case streaming.EventStallDetected:
		s.logger.Warn("playback stalled at a gap",
			slog.String("content_type", ev.ContentType.String()),
			slog.Float64("from", ev.From),
			slog.Float64("to", ev.To))
	case streaming.EventError:
		level := slog.LevelWarn
		if playerr.IsCritical(ev.Err) {
			level = slog.LevelError
		}
		s.logger.Log(context.Background(), level, "playback error", slog.Any("error", ev.Err))
	}
}

// Seek moves playback to t.
func (s *Session) Seek(t float64) error {
	return s.engine.Seek(t)
}

// SelectVariant plays the variant with id and turns adaptation off.
func (s *Session) SelectVariant(id int, clearBuffer bool, safeMargin time.Duration) error {
	v := s.manifest.VariantByID(id)
	if v == nil || !v.Allowed {
		return fmt.Errorf("%w: %d", ErrUnknownVariant, id)
	}
	s.abr.Disable()
	return s.engine.SelectVariantTrack(v, clearBuffer, safeMargin)
}

// SetAdaptation turns automatic variant selection on or off.
func (s *Session) SetAdaptation(enabled bool) {
	if enabled {
		s.abr.Enable()
		s.abr.Suggest()
		return
	}
	s.abr.Disable()
}

// SelectTextStream streams the text stream with id; a negative id turns
// text off.
func (s *Session) SelectTextStream(id int) error {
	if id < 0 {
		return s.engine.SelectTextTrack(nil)
	}
	ts := s.manifest.TextStreamByID(id)
	if ts == nil {
		return fmt.Errorf("%w: %d", ErrUnknownTextStream, id)
	}
	return s.engine.SelectTextTrack(ts)
}

// TrickPlay changes the playback rate.
func (s *Session) TrickPlay(rate float64) error {
	return s.engine.TrickPlay(rate)
}

// CancelTrickPlay restores normal-rate playback.
func (s *Session) CancelTrickPlay() error {
	return s.engine.CancelTrickPlay()
}

// Pause stops the playhead; buffering continues up to the goal.
func (s *Session) Pause() { s.playhead.Pause() }

// Resume restarts the playhead.
func (s *Session) Resume() { s.playhead.Play() }

// Configure applies dotted-key updates such as
// {"streaming.buffering_goal": "20s"} and returns the resulting config.
func (s *Session) Configure(updates map[string]any) (*config.Config, error) {
	s.cfgMu.Lock()
	next, err := config.Patch(s.cfg, updates)
	if err != nil {
		s.cfgMu.Unlock()
		return nil, err
	}
	s.cfg = next
	s.cfgMu.Unlock()

	s.engine.Configure(next.Streaming)
	s.abr.Configure(abrConfig(next.ABR))
	s.abr.SetDefaultEstimate(s.seeded)
	if next.ABR.Enabled {
		s.abr.Enable()
	} else {
		s.abr.Disable()
	}
	s.logger.Info("session reconfigured", slog.Int("keys", len(updates)))
	return next, nil
}

// Config returns the active configuration.
func (s *Session) Config() *config.Config {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	return s.cfg
}

// Stats is a snapshot of a whole session.
type Stats struct {
	ID             string          `json:"id"`
	URI            string          `json:"uri"`
	Live           bool            `json:"live"`
	Paused         bool            `json:"paused"`
	SeekRangeStart float64         `json:"seek_range_start"`
	SeekRangeEnd   float64         `json:"seek_range_end"`
	Streaming      streaming.Stats `json:"streaming"`
	ABR            abr.Stats       `json:"abr"`
	Buffer         sink.Stats      `json:"buffer"`
}

// Stats returns a snapshot of the session.
func (s *Session) Stats() Stats {
	start, end := s.manifest.Timeline.SeekRange()
	return Stats{
		ID:             s.id,
		URI:            s.uri,
		Live:           s.manifest.Timeline.IsLive(),
		Paused:         s.playhead.Paused(),
		SeekRangeStart: start,
		SeekRangeEnd:   end,
		Streaming:      s.engine.Stats(),
		ABR:            s.abr.Stats(),
		Buffer:         s.sink.Stats(),
	}
}

// Close stops playback, persists the bandwidth estimate and session
// summary, and releases every resource.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if err := s.engine.Stop(ctx); err != nil {
			s.closeErr = err
		}
		s.persist(ctx)
		s.engine.Destroy()
		s.parser.Stop()
		s.sink.Close()
		s.logger.Info("session closed")
	})
	return s.closeErr
}

func (s *Session) persist(ctx context.Context) {
	stats := s.abr.Stats()
	if s.history != nil && stats.HasGoodEstimate {
		if err := s.history.Record(ctx, store.HostOf(s.uri), stats.Estimate, stats.BytesSampled); err != nil {
			observability.WithError(s.logger, err).Warn("failed to record bandwidth history")
		}
	}
	if s.sessions == nil || s.startedAt.IsZero() {
		return
	}
	st := s.engine.Stats()
	rec := &store.SessionRecord{
		SessionID:      s.id,
		ManifestURI:    s.uri,
		Live:           s.manifest.Timeline.IsLive(),
		FinalVariantID: st.ActiveVariantID,
		Bandwidth:      stats.Estimate,
		Switches:       len(stats.Switches),
		BufferingTime:  st.BufferingTime,
		GapsJumped:     st.GapsJumped,
		Stalls:         st.Stalls,
		StartedAt:      s.startedAt,
		EndedAt:        s.now(),
	}
	if err := s.engine.Err(); err != nil {
		rec.Error = err.Error()
	}
	if err := s.sessions.Save(ctx, rec); err != nil {
		observability.WithError(s.logger, err).Warn("failed to save session record")
	}
}
