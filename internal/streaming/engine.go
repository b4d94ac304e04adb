// Package streaming runs the per-content-type fetch loops that keep a media
// buffer filled ahead of the playhead, switching streams on request and
// recovering from gaps, stale live positions and failed segments.
package streaming

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/abrplay/internal/config"
	"github.com/jmylchreest/abrplay/internal/demux"
	"github.com/jmylchreest/abrplay/internal/media"
	"github.com/jmylchreest/abrplay/internal/netfetch"
	"github.com/jmylchreest/abrplay/internal/playerr"
)

// Engine errors.
var (
	ErrAlreadyStarted      = errors.New("engine already started")
	ErrNotStarted          = errors.New("engine not started")
	ErrMissingCollaborator = errors.New("missing collaborator")
	ErrInvalidPlaybackRate = errors.New("playback rate must be non-zero")
	ErrUnknownStream       = errors.New("stream is not part of the manifest")
)

// State is the phase of one content type's loop.
type State string

const (
	StateIdle         State = "idle"
	StateInitializing State = "initializing"
	StateFetching     State = "fetching"
	StateSeeking      State = "seeking"
	StateSwitching    State = "switching"
	StateStalled      State = "stalled"
	StateEnded        State = "ended"
	StateDisabled     State = "disabled"
)

const (
	positionTolerance = 1e-3
	maxQuotaRetries   = 3
	quotaGoalFactor   = 0.8
	// stallThreshold is how little buffer ahead of the playhead starts buffering.
	stallThreshold = 0.5
	minTick        = 10 * time.Millisecond
	maxTick        = 250 * time.Millisecond
)

// Options wires an Engine to its collaborators. DRM and Bandwidth are
// optional.
type Options struct {
	Config    config.StreamingConfig
	Manifest  *media.Manifest
	Fetcher   Fetcher
	Demuxers  DemuxerProvider
	Sink      MediaBufferSink
	Playhead  Playhead
	DRM       DRMGate
	Bandwidth BandwidthObserver
	// OnEvent is called inline for every event, after subscribers.
	OnEvent func(Event)
	Logger  *slog.Logger
	Now     func() time.Time
}

// switchRequest is picked up by a loop at its next checkpoint.
type switchRequest struct {
	stream      *media.Stream
	clearBuffer bool
	safeMargin  float64
}

// typeState is the per-content-type loop state. Fields above the marker are
// guarded by Engine.mu; the rest belong to the loop goroutine.
type typeState struct {
	ct     media.ContentType
	logger *slog.Logger
	wake   chan struct{}

	state      State
	stream     *media.Stream
	pending    *switchRequest
	seek       *float64
	generation uint64
	appendPos  float64
	ended      bool
	disabled   bool
	stalledAt  float64
	stalled    bool
	running    bool

	// loop-owned
	demuxer     demux.Demuxer
	demuxerMIME string
	init        *media.InitSegmentReference
	initData    []byte
	initMIME    string
	initDone    bool
}

func (ts *typeState) signal() {
	select {
	case ts.wake <- struct{}{}:
	default:
	}
}

// Engine keeps the sink filled for the active variant and text stream.
type Engine struct {
	manifest   *media.Manifest
	timeline   *media.PresentationTimeline
	fetcher    Fetcher
	demuxers   DemuxerProvider
	sink       MediaBufferSink
	playhead   Playhead
	controller PlayheadController
	drm        DRMGate
	bandwidth  BandwidthObserver
	logger     *slog.Logger
	now        func() time.Time
	events     *eventBus
	stats      *statsCollector

	active atomic.Pointer[media.Variant]

	mu         sync.Mutex
	cfg        config.StreamingConfig
	retry      netfetch.RetryParameters
	types      map[media.ContentType]*typeState
	textStream *media.Stream
	rate       float64
	goalScale  float64
	buffering  bool
	endedFired bool
	started    bool
	destroyed  bool
	group      *errgroup.Group
	groupCtx   context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	err        error
	startErr   error
}

// New validates opts and returns an idle engine.
func New(opts Options) (*Engine, error) {
	switch {
	case opts.Manifest == nil || opts.Manifest.Timeline == nil:
		return nil, fmt.Errorf("%w: manifest with timeline", ErrMissingCollaborator)
	case opts.Fetcher == nil:
		return nil, fmt.Errorf("%w: fetcher", ErrMissingCollaborator)
	case opts.Demuxers == nil:
		return nil, fmt.Errorf("%w: demuxer provider", ErrMissingCollaborator)
	case opts.Sink == nil:
		return nil, fmt.Errorf("%w: sink", ErrMissingCollaborator)
	case opts.Playhead == nil:
		return nil, fmt.Errorf("%w: playhead", ErrMissingCollaborator)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DRM == nil {
		opts.DRM = readyGate{}
	}
	if opts.Bandwidth == nil {
		opts.Bandwidth = nopObserver{}
	}
	logger := opts.Logger.With(slog.String("component", "streaming_engine"))
	e := &Engine{
		manifest:  opts.Manifest,
		timeline:  opts.Manifest.Timeline,
		fetcher:   opts.Fetcher,
		demuxers:  opts.Demuxers,
		sink:      opts.Sink,
		playhead:  opts.Playhead,
		drm:       opts.DRM,
		bandwidth: opts.Bandwidth,
		logger:    logger,
		now:       opts.Now,
		events:    newEventBus(opts.OnEvent, logger, opts.Now),
		stats:     newStatsCollector(),
		types:     make(map[media.ContentType]*typeState),
		rate:      1,
		goalScale: 1,
		done:      make(chan struct{}),
	}
	if c, ok := opts.Playhead.(PlayheadController); ok {
		e.controller = c
	}
	e.configureLocked(opts.Config)
	return e, nil
}

func (e *Engine) configureLocked(cfg config.StreamingConfig) {
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = time.Second
	}
	if cfg.BufferingGoal <= 0 {
		cfg.BufferingGoal = 10 * time.Second
	}
	if cfg.RebufferingGoal <= 0 {
		cfg.RebufferingGoal = 2 * time.Second
	}
	e.cfg = cfg
	e.retry = netfetch.RetryFromConfig(cfg.Retry)
}

// Configure replaces the streaming configuration; loops pick it up on their
// next iteration.
func (e *Engine) Configure(cfg config.StreamingConfig) {
	e.mu.Lock()
	e.configureLocked(cfg)
	e.goalScale = 1
	e.mu.Unlock()
	e.wakeAll()
	e.logger.Debug("streaming configuration updated",
		slog.Duration("buffering_goal", cfg.BufferingGoal),
		slog.Duration("rebuffering_goal", cfg.RebufferingGoal))
}

// Subscribe returns a subscriber that receives events until Unsubscribe.
func (e *Engine) Subscribe() *Subscriber {
	return e.events.subscribe()
}

// Unsubscribe closes a subscriber's channel.
func (e *Engine) Unsubscribe(id string) {
	e.events.unsubscribe(id)
}

// ActiveVariant returns the variant currently streamed.
func (e *Engine) ActiveVariant() *media.Variant {
	return e.active.Load()
}

// TextStream returns the selected text stream, or nil.
func (e *Engine) TextStream() *media.Stream {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.textStream
}

// Done is closed once every loop has exited.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Err returns the error that tore the session down, if any.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

func (e *Engine) destroyedError() error {
	return playerr.New(playerr.Critical, playerr.CategoryStreaming, playerr.CodeEngineDestroyed, "engine destroyed")
}

func (e *Engine) newTypeState(ct media.ContentType, stream *media.Stream, pos float64) *typeState {
	ts := &typeState{
		ct:        ct,
		logger:    e.logger.With(slog.String("content_type", ct.String())),
		wake:      make(chan struct{}, 1),
		state:     StateIdle,
		stream:    stream,
		appendPos: pos,
	}
	e.types[ct] = ts
	return ts
}

// Start initializes every type of variant (and the text stream when
// configured), appends their init segments, then starts the fetch loops at
// startTime. Live presentations clamp startTime into the seek range; pass
// +Inf to start at the live edge.
//
// An Engine starts once. When Start fails, Done is closed and every later
// Start returns the same error.
func (e *Engine) Start(ctx context.Context, variant *media.Variant, startTime float64) error {
	e.mu.Lock()
	switch {
	case e.destroyed:
		e.mu.Unlock()
		return e.destroyedError()
	case e.startErr != nil:
		err := e.startErr
		e.mu.Unlock()
		return err
	case e.started:
		e.mu.Unlock()
		return ErrAlreadyStarted
	case variant == nil:
		e.mu.Unlock()
		return playerr.New(playerr.Critical, playerr.CategoryStreaming, playerr.CodeNoVariant, "no variant to start with")
	}
	e.started = true
	startTime = e.startPositionLocked(startTime)
	e.active.Store(variant)
	for _, s := range variant.Streams() {
		e.newTypeState(s.Type, s, startTime)
	}
	if e.textStream == nil && e.cfg.AlwaysStreamText && len(e.manifest.TextStreams) > 0 {
		e.textStream = e.manifest.TextStreams[0]
	}
	if e.textStream != nil {
		e.newTypeState(media.ContentTypeText, e.textStream, startTime)
	}
	states := e.typeStatesLocked()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.cancel = cancel
	e.mu.Unlock()

	e.logger.Info("starting streaming",
		slog.Int("variant_id", variant.ID),
		slog.Int64("bandwidth", variant.Bandwidth),
		slog.Float64("start_time", startTime),
		slog.Bool("live", e.timeline.IsLive()))

	if e.controller != nil {
		e.controller.Jump(startTime)
	}
	e.setBuffering(true)

	if err := e.initialize(ctx, states, startTime); err != nil {
		cancel()
		e.mu.Lock()
		e.err = err
		e.startErr = err
		e.mu.Unlock()
		close(e.done)
		e.events.emit(Event{Type: EventError, Err: err})
		return err
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	e.mu.Lock()
	e.group = group
	e.groupCtx = groupCtx
	for _, ts := range states {
		// a text stream whose init failed stays disabled until reselected
		if !ts.disabled {
			e.launchLocked(ts)
		}
	}
	e.mu.Unlock()
	group.Go(func() error { return e.runPlayhead(groupCtx) })

	go e.wait(group)
	return nil
}

func (e *Engine) startPositionLocked(t float64) float64 {
	if math.IsNaN(t) {
		t = 0
	}
	if e.timeline.IsLive() {
		t = e.timeline.Clamp(t)
		return math.Max(t, e.timeline.SafeSeekRangeStart(e.cfg.SafeSeekOffset.Seconds()))
	}
	return e.timeline.Clamp(t)
}

func (e *Engine) typeStatesLocked() []*typeState {
	out := make([]*typeState, 0, len(e.types))
	for _, ct := range media.ContentTypes {
		if ts, ok := e.types[ct]; ok {
			out = append(out, ts)
		}
	}
	return out
}

// launchLocked starts the loop goroutine for ts.
func (e *Engine) launchLocked(ts *typeState) {
	if ts.running || e.group == nil || e.groupCtx.Err() != nil {
		return
	}
	ts.running = true
	ctx := e.groupCtx
	e.group.Go(func() error {
		err := e.runLoop(ctx, ts)
		e.mu.Lock()
		ts.running = false
		e.mu.Unlock()
		return err
	})
}

// initialize fetches and appends the init segment of every type before any
// media is appended.
func (e *Engine) initialize(ctx context.Context, states []*typeState, startTime float64) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, ts := range states {
		g.Go(func() error {
			e.setState(ts, StateInitializing)
			ref := ts.stream.Index.Lookup(startTime)
			if ref == nil {
				ref = ts.stream.Index.First()
			}
			var init *media.InitSegmentReference
			if ref != nil {
				init = ref.Init()
			}
			err := e.ensureInit(gctx, ts, ts.stream, init)
			if err == nil {
				return nil
			}
			if ts.ct == media.ContentTypeText {
				e.disableText(ts, err)
				return nil
			}
			return err
		})
	}
	return g.Wait()
}

func (e *Engine) wait(group *errgroup.Group) {
	err := group.Wait()
	e.mu.Lock()
	if err != nil && e.err == nil {
		e.err = err
	}
	e.mu.Unlock()
	if err != nil {
		e.logger.Error("streaming stopped", slog.Any("error", err))
		e.events.emit(Event{Type: EventError, Err: err})
	}
	e.stats.buffering(false, e.now())
	close(e.done)
}

// Stop cancels every fetch and waits for the loops to exit.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	cancel := e.cancel
	started := e.started
	e.mu.Unlock()
	if !started {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Destroy stops the engine and releases every segment index. Later calls to
// the engine fail.
func (e *Engine) Destroy() {
	_ = e.Stop(context.Background())
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.types = make(map[media.ContentType]*typeState)
	e.mu.Unlock()
	e.manifest.Release()
	e.events.closeAll()
}

// ManifestUpdated wakes idle loops after a manifest refresh merged new
// references, so they are fetched without waiting out the idle interval.
func (e *Engine) ManifestUpdated() {
	e.wakeAll()
}

func (e *Engine) wakeAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ts := range e.types {
		ts.signal()
	}
}

func (e *Engine) setState(ts *typeState, s State) {
	e.mu.Lock()
	ts.state = s
	e.mu.Unlock()
}

// bufferingGoalLocked scales the goal with trick-play speed and shrinks it
// after quota errors.
func (e *Engine) bufferingGoalLocked() float64 {
	goal := e.cfg.BufferingGoal.Seconds() * math.Max(1, math.Abs(e.rate)) * e.goalScale
	return math.Max(goal, e.cfg.RebufferingGoal.Seconds())
}

// Seek moves every loop to t. Buffered content containing t is kept;
// otherwise the type's buffer is cleared. In-flight fetches complete and are
// discarded.
func (e *Engine) Seek(t float64) error {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return e.destroyedError()
	}
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	t = e.startPositionLocked(t)
	for _, ts := range e.types {
		target := t
		ts.seek = &target
		ts.generation++
		ts.stalled = false
	}
	e.endedFired = false
	e.mu.Unlock()

	e.logger.Debug("seeking", slog.Float64("position", t))
	if e.controller != nil {
		e.controller.Jump(t)
	}
	e.wakeAll()
	return nil
}

// SelectVariantTrack switches to variant at each loop's next segment
// boundary. With clearBuffer, content beyond playhead+safeMargin is removed
// and in-flight results are dropped.
func (e *Engine) SelectVariantTrack(variant *media.Variant, clearBuffer bool, safeMargin time.Duration) error {
	return e.switchVariant(variant, clearBuffer, safeMargin, EventVariantChanged)
}

// ApplyAdaptation is the adaptation manager's switch callback.
func (e *Engine) ApplyAdaptation(variant *media.Variant, clearBuffer bool, safeMargin time.Duration) {
	if err := e.switchVariant(variant, clearBuffer, safeMargin, EventAdaptation); err != nil {
		e.logger.Debug("adaptation ignored", slog.String("error", err.Error()))
	}
}

func (e *Engine) switchVariant(variant *media.Variant, clearBuffer bool, safeMargin time.Duration, evType EventType) error {
	if variant == nil {
		return playerr.New(playerr.Recoverable, playerr.CategoryStreaming, playerr.CodeNoVariant, "no variant")
	}
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return e.destroyedError()
	}
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	previous := e.active.Swap(variant)
	if previous == variant {
		e.mu.Unlock()
		return nil
	}
	for _, ct := range []media.ContentType{media.ContentTypeVideo, media.ContentTypeAudio} {
		stream := variant.Stream(ct)
		ts, ok := e.types[ct]
		switch {
		case stream == nil && ok:
			e.logger.Warn("variant lacks a stream type that is playing; keeping the current stream",
				slog.String("content_type", ct.String()), slog.Int("variant_id", variant.ID))
			continue
		case stream == nil:
			continue
		case !ok:
			ts = e.newTypeState(ct, stream, e.playhead.Time())
			e.launchLocked(ts)
			continue
		}
		if ct == media.ContentTypeVideo && e.rate != 1 && stream.TrickMode != nil {
			stream = stream.TrickMode
		}
		if ts.stream == stream && ts.pending == nil {
			continue
		}
		ts.pending = &switchRequest{stream: stream, clearBuffer: clearBuffer, safeMargin: safeMargin.Seconds()}
		ts.signal()
	}
	e.mu.Unlock()

	attrs := []any{slog.Int("variant_id", variant.ID), slog.Int64("bandwidth", variant.Bandwidth), slog.Bool("clear_buffer", clearBuffer)}
	if previous != nil {
		attrs = append(attrs, slog.Int("previous_variant_id", previous.ID))
	}
	e.logger.Info("variant selected", attrs...)
	e.events.emit(Event{Type: evType, Variant: variant})
	return nil
}

// SelectTextTrack streams s as the text track; nil disables text.
func (e *Engine) SelectTextTrack(s *media.Stream) error {
	if s != nil && e.manifest.TextStreamByID(s.ID) != s {
		return ErrUnknownStream
	}
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return e.destroyedError()
	}
	e.textStream = s
	ts, ok := e.types[media.ContentTypeText]
	switch {
	case s == nil && ok:
		ts.disabled = true
		ts.pending = nil
		ts.signal()
	case s == nil:
	case !ok:
		ts = e.newTypeState(media.ContentTypeText, s, e.playhead.Time())
		e.launchLocked(ts)
	case !ts.running:
		ts.stream = s
		ts.appendPos = e.playhead.Time()
		ts.ended = false
		ts.disabled = false
		ts.pending = nil
		ts.initDone = false
		e.launchLocked(ts)
	default:
		ts.disabled = false
		ts.pending = &switchRequest{stream: s, clearBuffer: true}
		ts.generation++
		ts.signal()
	}
	e.mu.Unlock()

	e.events.emit(Event{Type: EventTracksChanged, ContentType: media.ContentTypeText})
	return nil
}

// TrickPlay plays at rate, switching video to its trick-mode stream when
// the manifest has one. Rate 1 restores normal playback.
func (e *Engine) TrickPlay(rate float64) error {
	if rate == 0 || math.IsNaN(rate) {
		return ErrInvalidPlaybackRate
	}
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return e.destroyedError()
	}
	if !e.started {
		e.mu.Unlock()
		return ErrNotStarted
	}
	e.rate = rate
	if ts, ok := e.types[media.ContentTypeVideo]; ok {
		if normal := e.active.Load().Video; normal != nil {
			target := normal
			if rate != 1 && normal.TrickMode != nil {
				target = normal.TrickMode
			}
			current := ts.stream
			if ts.pending != nil {
				current = ts.pending.stream
			}
			if current != target {
				ts.pending = &switchRequest{stream: target, clearBuffer: true}
				ts.signal()
			}
		}
	}
	e.mu.Unlock()

	e.bandwidth.SetPlaybackRate(rate)
	if e.controller != nil {
		e.controller.SetRate(rate)
	}
	e.logger.Debug("playback rate changed", slog.Float64("rate", rate))
	e.wakeAll()
	return nil
}

// CancelTrickPlay returns to normal-rate playback.
func (e *Engine) CancelTrickPlay() error {
	return e.TrickPlay(1)
}

// PlaybackRate returns the current trick-play rate.
func (e *Engine) PlaybackRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// Buffering reports whether playback is waiting for data.
func (e *Engine) Buffering() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.buffering
}

// BufferedAhead returns seconds buffered contiguously past the playhead
// across audio and video.
func (e *Engine) BufferedAhead() float64 {
	return media.BufferedAhead(e.bufferedAll(), e.playhead.Time(), positionTolerance)
}

// bufferedAll intersects the buffered ranges of the audio and video loops.
func (e *Engine) bufferedAll() []media.TimeRange {
	e.mu.Lock()
	var cts []media.ContentType
	for _, ct := range []media.ContentType{media.ContentTypeVideo, media.ContentTypeAudio} {
		if ts, ok := e.types[ct]; ok && !ts.disabled {
			cts = append(cts, ct)
		}
	}
	e.mu.Unlock()
	lists := make([][]media.TimeRange, 0, len(cts))
	for _, ct := range cts {
		lists = append(lists, e.sink.Buffered(ct))
	}
	return media.IntersectRanges(lists...)
}

// Stats returns a snapshot of session statistics.
func (e *Engine) Stats() Stats {
	playhead := e.playhead.Time()
	s := Stats{Playhead: playhead, BufferedAhead: e.BufferedAhead()}
	e.stats.fill(&s, e.now())

	e.mu.Lock()
	if v := e.active.Load(); v != nil {
		s.ActiveVariantID = v.ID
	}
	s.TextStreamID = -1
	if e.textStream != nil {
		s.TextStreamID = e.textStream.ID
	}
	s.Buffering = e.buffering
	s.PlaybackRate = e.rate
	s.Buffered = make(map[media.ContentType][]media.TimeRange, len(e.types))
	for ct, ts := range e.types {
		t := s.Types[ct]
		t.State = string(ts.state)
		t.StreamID = ts.stream.ID
		t.AppendPos = ts.appendPos
		t.Ended = ts.ended
		t.Disabled = ts.disabled
		s.Types[ct] = t
	}
	cts := make([]media.ContentType, 0, len(e.types))
	for ct := range e.types {
		cts = append(cts, ct)
	}
	e.mu.Unlock()

	for _, ct := range cts {
		s.Buffered[ct] = e.sink.Buffered(ct)
	}
	return s
}

// setBuffering records a buffering transition and notifies the playhead.
func (e *Engine) setBuffering(on bool) {
	e.mu.Lock()
	changed := e.buffering != on
	e.buffering = on
	e.mu.Unlock()
	if !changed {
		return
	}
	e.stats.buffering(on, e.now())
	if e.controller != nil {
		e.controller.SetBuffering(on)
	}
	e.logger.Debug("buffering changed", slog.Bool("buffering", on))
	e.events.emit(Event{Type: EventBuffering, Buffering: on})
}

// disableText stops the text loop after a failure; playback continues.
func (e *Engine) disableText(ts *typeState, cause error) {
	e.mu.Lock()
	ts.disabled = true
	ts.state = StateDisabled
	e.mu.Unlock()
	err := playerr.Wrap(playerr.Recoverable, playerr.CategoryStreaming, playerr.CodeStreamDisabled,
		"text stream disabled", cause).WithContentType(ts.ct.String())
	ts.logger.Warn("text stream disabled", slog.Any("error", err))
	e.events.emit(Event{Type: EventError, ContentType: ts.ct, Err: err})
}

// checkEnded fires the ended event once every running type has ended.
func (e *Engine) checkEnded() {
	e.mu.Lock()
	all, active := true, 0
	for _, ts := range e.types {
		if ts.disabled {
			continue
		}
		active++
		if !ts.ended {
			all = false
			break
		}
	}
	all = all && active > 0
	fire := all && !e.endedFired
	if fire {
		e.endedFired = true
	}
	e.mu.Unlock()
	if fire {
		e.logger.Info("end of stream reached")
		e.events.emit(Event{Type: EventEnded})
	}
}

func (e *Engine) allMediaEnded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	present := false
	for _, ct := range []media.ContentType{media.ContentTypeVideo, media.ContentTypeAudio} {
		ts, ok := e.types[ct]
		if !ok || ts.disabled {
			continue
		}
		if !ts.ended {
			return false
		}
		present = true
	}
	return present
}
