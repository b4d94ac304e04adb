package streaming

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/jmylchreest/abrplay/internal/demux"
	"github.com/jmylchreest/abrplay/internal/media"
	"github.com/jmylchreest/abrplay/internal/netfetch"
	"github.com/jmylchreest/abrplay/internal/playerr"
)

var (
	// errStopLoop ends a loop without failing the session.
	errStopLoop = errors.New("stop loop")
	// errStale marks a fetched segment made obsolete by a seek or switch.
	errStale = errors.New("segment result is stale")
)

// runLoop drives one content type until ctx ends, the type is disabled, or
// a critical error occurs.
func (e *Engine) runLoop(ctx context.Context, ts *typeState) error {
	ts.logger.Debug("streaming loop started", slog.Int("stream_id", ts.stream.ID))
	defer ts.logger.Debug("streaming loop exited")

	for {
		wait, err := e.step(ctx, ts)
		if errors.Is(err, errStopLoop) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil || netfetch.IsAborted(err) {
				return nil
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if !wait {
			continue
		}
		e.mu.Lock()
		idle := e.cfg.IdleInterval
		e.mu.Unlock()
		timer := time.NewTimer(idle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-ts.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// step runs one iteration. wait reports whether the loop has nothing to do
// until woken or the idle interval passes.
func (e *Engine) step(ctx context.Context, ts *typeState) (wait bool, err error) {
	e.mu.Lock()
	disabled := ts.disabled
	seek := ts.seek
	ts.seek = nil
	pending := ts.pending
	ts.pending = nil
	cfg := e.cfg
	goal := e.bufferingGoalLocked()
	e.mu.Unlock()

	if disabled {
		e.setState(ts, StateDisabled)
		if err := e.sink.Clear(ctx, ts.ct); err != nil {
			ts.logger.Warn("failed to clear disabled stream", slog.String("error", err.Error()))
		}
		return false, errStopLoop
	}
	if seek != nil {
		if err := e.applySeek(ctx, ts, *seek); err != nil {
			return false, err
		}
	}
	if pending != nil {
		if err := e.applySwitch(ctx, ts, pending); err != nil {
			return false, err
		}
	}

	playhead := e.playhead.Time()
	if err := e.evictBehind(ctx, ts, playhead, cfg.BufferBehind.Seconds()); err != nil {
		return false, err
	}

	e.mu.Lock()
	if ts.appendPos < playhead-positionTolerance && !ts.ended {
		ts.appendPos = playhead
	}
	pos := ts.appendPos
	ended := ts.ended
	gen := ts.generation
	stream := ts.stream
	e.mu.Unlock()

	if ended {
		e.setState(ts, StateEnded)
		return true, nil
	}
	if pos-playhead >= goal {
		e.setState(ts, StateIdle)
		return true, nil
	}

	idx := stream.Index
	p, ok := idx.Find(pos)
	if !ok {
		if e.timeline.IsLive() {
			// wait for the next manifest update
			e.setState(ts, StateIdle)
			return true, nil
		}
		return true, e.markEnded(ctx, ts, gen)
	}
	ref := idx.Get(p)
	if ref == nil {
		return true, nil
	}
	if gap := ref.StartTime() - pos; gap > positionTolerance {
		return e.handleGap(ts, pos, ref.StartTime(), gen, cfg.GapDetectionThreshold.Seconds())
	}

	e.mu.Lock()
	retry := e.retry
	e.mu.Unlock()
	if err := e.fetchAndAppend(ctx, ts, stream, ref, gen, retry); err != nil {
		return false, e.handleFailure(ctx, ts, ref, gen, err)
	}

	e.mu.Lock()
	if ts.generation == gen {
		ts.appendPos = ref.EndTime()
		ts.stalled = false
	}
	e.mu.Unlock()
	if idx.IsLast(p) && !e.timeline.IsLive() {
		return false, e.markEnded(ctx, ts, gen)
	}
	return false, nil
}

func (e *Engine) applySeek(ctx context.Context, ts *typeState, t float64) error {
	e.setState(ts, StateSeeking)
	pos := t
	end, ok := media.BufferedEnd(e.sink.Buffered(ts.ct), t, positionTolerance)
	if ok && ts.ct != media.ContentTypeText {
		if err := e.sink.Remove(ctx, ts.ct, end, math.Inf(1)); err != nil {
			return err
		}
		pos = end
	} else if err := e.sink.Clear(ctx, ts.ct); err != nil {
		return err
	}
	ts.logger.Debug("seek applied",
		slog.Float64("position", t),
		slog.Bool("kept_buffer", pos != t),
		slog.Float64("append_position", pos))

	e.mu.Lock()
	ts.appendPos = pos
	ts.ended = false
	ts.stalled = false
	e.mu.Unlock()
	return nil
}

func (e *Engine) applySwitch(ctx context.Context, ts *typeState, req *switchRequest) error {
	e.setState(ts, StateSwitching)
	e.mu.Lock()
	previous := ts.stream
	ts.stream = req.stream
	e.mu.Unlock()
	ts.initDone = false

	if req.clearBuffer {
		playhead := e.playhead.Time()
		from := playhead + req.safeMargin
		var err error
		if ts.ct == media.ContentTypeText {
			err = e.sink.Clear(ctx, ts.ct)
			from = playhead
		} else {
			err = e.sink.Remove(ctx, ts.ct, from, math.Inf(1))
		}
		if err != nil {
			return err
		}
		e.mu.Lock()
		ts.appendPos = math.Min(ts.appendPos, from)
		ts.ended = false
		e.mu.Unlock()
	}
	ts.logger.Info("stream switched",
		slog.Int("from_stream_id", previous.ID),
		slog.Int("to_stream_id", req.stream.ID),
		slog.Bool("clear_buffer", req.clearBuffer))
	return nil
}

// evictBehind removes content more than behind seconds before the playhead.
func (e *Engine) evictBehind(ctx context.Context, ts *typeState, playhead, behind float64) error {
	if behind < 0 {
		return nil
	}
	cutoff := playhead - behind
	buffered := e.sink.Buffered(ts.ct)
	if len(buffered) == 0 || buffered[0].Start >= cutoff-positionTolerance {
		return nil
	}
	return e.sink.Remove(ctx, ts.ct, buffered[0].Start, cutoff)
}

func (e *Engine) handleGap(ts *typeState, pos, next float64, gen uint64, threshold float64) (bool, error) {
	gap := next - pos
	if gap < threshold {
		e.mu.Lock()
		if ts.generation == gen {
			ts.appendPos = next
		}
		e.mu.Unlock()
		ts.logger.Debug("skipping gap in segment index",
			slog.Float64("from", pos), slog.Float64("to", next))
		e.stats.gapJumped()
		e.events.emit(Event{Type: EventGapJumped, ContentType: ts.ct, From: pos, To: next})
		return false, nil
	}

	e.mu.Lock()
	first := !ts.stalled
	ts.stalled = true
	ts.stalledAt = pos
	ts.state = StateStalled
	e.mu.Unlock()
	if first {
		ts.logger.Warn("gap too large to skip, waiting for a seek",
			slog.Float64("from", pos), slog.Float64("to", next),
			slog.Float64("threshold", threshold))
		e.stats.stallDetected()
		e.events.emit(Event{Type: EventStallDetected, ContentType: ts.ct, From: pos, To: next})
	}
	return true, nil
}

func (e *Engine) markEnded(ctx context.Context, ts *typeState, gen uint64) error {
	e.mu.Lock()
	if ts.generation != gen || ts.ended {
		e.mu.Unlock()
		return nil
	}
	ts.ended = true
	ts.state = StateEnded
	e.mu.Unlock()
	if err := e.sink.EndOfStream(ctx, ts.ct); err != nil {
		return err
	}
	ts.logger.Debug("stream ended")
	e.checkEnded()
	return nil
}

// stale reports whether a result fetched under gen must be discarded.
func (e *Engine) stale(ts *typeState, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ts.generation != gen || ts.seek != nil || (ts.pending != nil && ts.pending.clearBuffer)
}

func (e *Engine) fetchAndAppend(ctx context.Context, ts *typeState, stream *media.Stream, ref *media.SegmentReference, gen uint64, retry netfetch.RetryParameters) error {
	if err := e.ensureInit(ctx, ts, stream, ref.Init()); err != nil {
		return err
	}
	e.setState(ts, StateFetching)

	req := netfetch.NewRequest(netfetch.RequestSegment, ref.URIs(), retry)
	if ref.StartByte() > 0 || ref.EndByte() >= 0 {
		req.WithRange(ref.StartByte(), ref.EndByte())
	}
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	if !resp.FromCache {
		e.bandwidth.SegmentDownloaded(resp.Duration, int64(len(resp.Data)))
	}
	e.stats.segmentFetched(ts.ct, len(resp.Data), resp.Duration)
	if e.stale(ts, gen) {
		return errStale
	}

	windowStart, windowEnd := ref.AppendWindow()
	if math.IsInf(windowEnd, 1) {
		windowEnd = 0
	}
	res, err := ts.demuxer.Demux(ctx, demux.Input{
		Init:            ts.initData,
		Data:            resp.Data,
		TimestampOffset: ref.TimestampOffset(),
		WindowStart:     windowStart,
		WindowEnd:       windowEnd,
		SegmentStart:    ref.StartTime(),
		SegmentEnd:      ref.EndTime(),
	})
	if err != nil {
		return err
	}
	if err := e.drm.WaitReady(ctx, ts.ct); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return playerr.Wrap(playerr.Critical, playerr.CategoryStreaming, playerr.CodeDRMNotReady,
			"decryption keys not available", err)
	}
	if e.stale(ts, gen) {
		return errStale
	}
	return e.appendWithQuota(ctx, ts, ref, res)
}

// ensureInit makes sure the sink holds the init segment for stream and init,
// creating a demuxer when the container type changes.
func (e *Engine) ensureInit(ctx context.Context, ts *typeState, stream *media.Stream, init *media.InitSegmentReference) error {
	if ts.demuxer == nil || ts.demuxerMIME != stream.MimeType {
		d, err := e.demuxers.New(stream.MimeType, ts.logger)
		if err != nil {
			return err
		}
		ts.demuxer = d
		ts.demuxerMIME = stream.MimeType
		ts.initDone = false
	}
	if ts.initDone && ts.init.Equal(init) && ts.initMIME == stream.MimeType {
		return nil
	}

	var data []byte
	if init != nil {
		if uris := init.URIs(); len(uris) == 0 {
			data = init.Metadata()
		} else {
			e.mu.Lock()
			retry := e.retry
			e.mu.Unlock()
			req := netfetch.NewRequest(netfetch.RequestSegment, uris, retry)
			if init.StartByte() > 0 || init.EndByte() >= 0 {
				req.WithRange(init.StartByte(), init.EndByte())
			}
			resp, err := e.fetcher.Fetch(ctx, req)
			if err != nil {
				return err
			}
			data = resp.Data
		}
	}
	if err := e.sink.AppendInit(ctx, ts.ct, stream.MimeType, data); err != nil {
		return err
	}
	ts.init = init
	ts.initData = data
	ts.initMIME = stream.MimeType
	ts.initDone = true
	ts.logger.Debug("init segment appended",
		slog.Int("stream_id", stream.ID),
		slog.String("mime_type", stream.MimeType),
		slog.Int("bytes", len(data)))
	return nil
}

// appendWithQuota appends res, evicting played content and shrinking the
// buffering goal when the sink is full.
func (e *Engine) appendWithQuota(ctx context.Context, ts *typeState, ref *media.SegmentReference, res *demux.Result) error {
	var err error
	for attempt := 0; attempt <= maxQuotaRetries; attempt++ {
		err = e.sink.AppendMedia(ctx, ts.ct, ref, res)
		if playerr.CodeOf(err) != playerr.CodeQuotaExceeded {
			return err
		}
		e.stats.quotaExceeded(ts.ct)
		e.mu.Lock()
		e.goalScale *= quotaGoalFactor
		goal := e.bufferingGoalLocked()
		idle := e.cfg.IdleInterval
		e.mu.Unlock()
		ts.logger.Warn("buffer quota exceeded, shrinking buffering goal",
			slog.Int("attempt", attempt+1),
			slog.Float64("buffering_goal", goal))

		playhead := e.playhead.Time()
		buffered := e.sink.Buffered(ts.ct)
		if len(buffered) > 0 && buffered[0].Start < playhead-positionTolerance {
			if rerr := e.sink.Remove(ctx, ts.ct, buffered[0].Start, playhead); rerr != nil {
				return rerr
			}
			continue
		}
		timer := time.NewTimer(idle)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

// handleFailure decides whether a failed segment skips, disables the
// stream, or ends the session.
func (e *Engine) handleFailure(ctx context.Context, ts *typeState, ref *media.SegmentReference, gen uint64, err error) error {
	if errors.Is(err, errStale) {
		return nil
	}
	if ctx.Err() != nil || netfetch.IsAborted(err) {
		return err
	}
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	if ts.ct == media.ContentTypeText {
		if cfg.IgnoreTextStreamFailures {
			e.skipSegment(ts, ref, gen, err)
			return nil
		}
		e.disableText(ts, err)
		return errStopLoop
	}

	pe, ok := playerr.As(err)
	if cfg.SkipCorruptSegments && ok && pe.Category == playerr.CategoryMedia {
		e.skipSegment(ts, ref, gen, err)
		return nil
	}
	if !ok {
		pe = playerr.Wrap(playerr.Critical, playerr.CategoryStreaming, playerr.CodeStreamingFailed,
			"segment failed", err)
	}
	return pe.WithSeverity(playerr.Critical).
		WithContentType(ts.ct.String()).
		WithData("segment", ref.String())
}

func (e *Engine) skipSegment(ts *typeState, ref *media.SegmentReference, gen uint64, cause error) {
	e.mu.Lock()
	if ts.generation == gen {
		ts.appendPos = ref.EndTime()
	}
	e.mu.Unlock()
	e.stats.segmentSkipped(ts.ct)
	err := playerr.Wrap(playerr.Recoverable, playerr.CategoryStreaming, playerr.CodeStreamingFailed,
		"segment skipped", cause).WithContentType(ts.ct.String())
	ts.logger.Warn("skipping failed segment",
		slog.Float64("start", ref.StartTime()),
		slog.Float64("end", ref.EndTime()),
		slog.Any("error", err))
	e.events.emit(Event{Type: EventError, ContentType: ts.ct, Err: err})
}

// runPlayhead watches the playhead to drive buffering state, jump small
// gaps in the buffer, keep live playback inside the window and wake loops
// as the playhead moves.
func (e *Engine) runPlayhead(ctx context.Context) error {
	e.mu.Lock()
	tick := max(minTick, min(maxTick, e.cfg.IdleInterval/4))
	e.mu.Unlock()
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	last := math.NaN()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		playhead := e.trackPlayhead()
		if playhead != last {
			last = playhead
			e.wakeAll()
		}
	}
}

// trackPlayhead runs one tracker iteration and returns the playhead.
func (e *Engine) trackPlayhead() float64 {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	if e.timeline.IsLive() {
		e.catchUpLive(cfg.SafeSeekOffset.Seconds(), cfg.MaxLiveLag.Seconds())
		e.evictManifest()
	}

	playhead := e.playhead.Time()
	buffered := e.bufferedAll()
	ended := e.allMediaEnded()

	if media.BufferedAhead(buffered, playhead, positionTolerance) <= positionTolerance {
		if next, ok := media.NextRangeStart(buffered, playhead); ok && next-playhead < cfg.GapDetectionThreshold.Seconds() {
			e.logger.Debug("jumping buffer gap", slog.Float64("from", playhead), slog.Float64("to", next))
			if e.controller != nil {
				e.controller.Jump(next)
			}
			e.stats.gapJumped()
			e.events.emit(Event{Type: EventGapJumped, From: playhead, To: next})
			playhead = next
		}
	}

	ahead := media.BufferedAhead(buffered, playhead, positionTolerance)
	rebuffer := cfg.RebufferingGoal.Seconds()
	e.mu.Lock()
	buffering := e.buffering
	e.mu.Unlock()
	switch {
	case buffering && (ended || ahead >= rebuffer):
		e.setBuffering(false)
	case !buffering && !ended && ahead < math.Min(stallThreshold, rebuffer):
		e.setBuffering(true)
	}
	return playhead
}

// catchUpLive seeks back into the availability window when the playhead
// fell out of it, or forward when it lags the live edge by too much.
func (e *Engine) catchUpLive(safeOffset, maxLag float64) {
	playhead := e.playhead.Time()
	start, end := e.timeline.SeekRange()
	var target float64
	switch {
	case playhead < start-positionTolerance:
		target = e.timeline.SafeSeekRangeStart(safeOffset)
	case maxLag > 0 && end-playhead > maxLag:
		target = end
	default:
		return
	}
	e.logger.Info("live playhead outside window, catching up",
		slog.Float64("playhead", playhead),
		slog.Float64("target", target),
		slog.Float64("seek_range_start", start),
		slog.Float64("seek_range_end", end))
	e.stats.liveCatchUp()
	if err := e.Seek(target); err != nil {
		e.logger.Debug("live catch-up seek failed", slog.String("error", err.Error()))
	}
}

// evictManifest drops references that left the availability window.
func (e *Engine) evictManifest() {
	start := e.timeline.AvailabilityStart()
	seen := make(map[*media.SegmentIndex]bool)
	evict := func(s *media.Stream) {
		for ; s != nil; s = s.TrickMode {
			if s.Index != nil && !seen[s.Index] {
				seen[s.Index] = true
				s.Index.EvictBefore(start)
			}
		}
	}
	for _, v := range e.manifest.Variants {
		evict(v.Video)
		evict(v.Audio)
	}
	for _, s := range e.manifest.TextStreams {
		evict(s)
	}
}
