package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
	"golang.org/x/sync/errgroup"

	"github.com/jmylchreest/abrplay/internal/demux"
	"github.com/jmylchreest/abrplay/internal/media"
	"github.com/jmylchreest/abrplay/internal/netfetch"
	"github.com/jmylchreest/abrplay/internal/observability"
	"github.com/jmylchreest/abrplay/internal/playerr"
)

// maxConcurrentPlaylistFetches bounds the initial media playlist downloads.
const maxConcurrentPlaylistFetches = 4

// hlsStream is one media playlist and the stream built from it.
type hlsStream struct {
	uri       string
	stream    *media.Stream
	preloaded *playlist.Media

	startRead     bool
	mediaStart    float64
	hasMediaStart bool
	offset        float64
	offsetKnown   bool
	inits         map[string]*media.InitSegmentReference

	targetDuration float64
	ended          bool
}

// HLSParser parses HLS multivariant and media playlists.
type HLSParser struct {
	opts    Options
	logger  *slog.Logger
	refresh refresher

	mu       sync.Mutex
	streams  []*hlsStream
	seqTimes map[int]float64
	timeline *media.PresentationTimeline
}

// NewHLSParser creates an HLS parser.
func NewHLSParser(opts Options) *HLSParser {
	opts = opts.withDefaults()
	return &HLSParser{
		opts:     opts,
		logger:   observability.WithComponent(opts.Logger, "hls_parser"),
		seqTimes: make(map[int]float64),
	}
}

// Start implements Parser.
func (p *HLSParser) Start(ctx context.Context, uri string, handler Handler) (*media.Manifest, error) {
	if p.opts.Fetcher == nil {
		return nil, manifestInvalid("no fetcher configured", nil)
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	data, finalURI, err := fetchManifest(ctx, p.opts.Fetcher, uri, p.opts.retry())
	if err != nil {
		return nil, err
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, manifestInvalid("parsing HLS playlist", err)
	}

	m := &media.Manifest{URI: finalURI}
	switch pl := pl.(type) {
	case *playlist.Multivariant:
		p.buildMultivariant(finalURI, pl, m)
	case *playlist.Media:
		s := p.newStream(finalURI, media.ContentTypeVideo, nil, 0, nil)
		s.preloaded = pl
		m.Variants = []*media.Variant{{ID: 0, Video: s.stream, Allowed: true}}
		p.classifyStandalone(s, pl, m)
	default:
		return nil, manifestInvalid(fmt.Sprintf("unsupported playlist type %T", pl), nil)
	}

	playlists, err := p.fetchMediaPlaylists(ctx)
	if err != nil {
		return nil, err
	}

	live := false
	for _, mp := range playlists {
		if !mp.Endlist {
			live = true
		}
	}

	refs := make([][]*media.SegmentReference, len(p.streams))
	for i, s := range p.streams {
		if err := p.detectOffset(ctx, s, playlists[i]); err != nil {
			p.logger.Warn("could not read segment timestamps, assuming zero offset",
				slog.String("playlist", s.uri), slog.String("error", err.Error()))
		}
		refs[i] = p.references(s, playlists[i])
		s.stream.Index = media.NewSegmentIndex(refs[i])
		s.stream.Index.SetLogger(p.logger)
		s.ended = playlists[i].Endlist
	}

	p.timeline = p.newTimeline(live, playlists, refs)
	m.Timeline = p.timeline
	for i, s := range p.streams {
		if s.stream.Type != media.ContentTypeText {
			p.timeline.NotifySegments(s.stream.Type, refs[i])
		}
	}

	if len(m.Variants) == 0 {
		return nil, manifestNoVariants()
	}

	if live {
		for _, s := range p.streams {
			if !s.ended {
				p.refresh.start(ctx, func(ctx context.Context) {
					p.refreshLoop(ctx, s, handler)
				})
			}
		}
	}

	p.logger.Info("loaded HLS presentation",
		slog.String("uri", finalURI),
		slog.Int("variants", len(m.Variants)),
		slog.Int("text_streams", len(m.TextStreams)),
		slog.Bool("live", live))
	return m, nil
}

// Stop implements Parser.
func (p *HLSParser) Stop() {
	p.refresh.stop()
}

func (p *HLSParser) newStream(uri string, ct media.ContentType, codecs []string, bandwidth int64, v *playlist.MultivariantVariant) *hlsStream {
	s := &hlsStream{
		uri: uri,
		stream: &media.Stream{
			ID:        len(p.streams) + 1,
			Type:      ct,
			Codecs:    strings.Join(codecs, ","),
			Bandwidth: bandwidth,
		},
		inits: make(map[string]*media.InitSegmentReference),
	}
	if v != nil {
		s.stream.Width, s.stream.Height = parseResolution(v.Resolution)
		if v.FrameRate != nil {
			s.stream.FrameRate = *v.FrameRate
		}
	}
	p.streams = append(p.streams, s)
	return s
}

func (p *HLSParser) buildMultivariant(base string, mv *playlist.Multivariant, m *media.Manifest) {
	audioGroups := make(map[string][]*playlist.MultivariantRendition)
	for _, r := range mv.Renditions {
		if r == nil || r.URI == nil || *r.URI == "" {
			continue
		}
		switch r.Type {
		case playlist.MultivariantRenditionTypeAudio:
			audioGroups[r.GroupID] = append(audioGroups[r.GroupID], r)
		case playlist.MultivariantRenditionTypeSubtitles:
			s := p.newStream(resolveURI(base, *r.URI), media.ContentTypeText, nil, 0, nil)
			s.stream.MimeType = "text/vtt"
			s.stream.Language = r.Language
			s.stream.Label = r.Name
			s.stream.Kind = "subtitle"
			m.TextStreams = append(m.TextStreams, s.stream)
		}
	}

	videoByURI := make(map[string]*media.Stream)
	audioByURI := make(map[string]*media.Stream)

	for _, v := range mv.Variants {
		if v == nil || v.URI == "" {
			continue
		}
		videoCodecs, audioCodecs := splitCodecs(v.Codecs)
		uri := resolveURI(base, v.URI)
		renditions := audioGroups[v.Audio]

		hasVideo := len(videoCodecs) > 0 || v.Resolution != ""
		ct := media.ContentTypeVideo
		codecs := v.Codecs
		if !hasVideo {
			ct = media.ContentTypeAudio
		} else if len(renditions) > 0 {
			codecs = videoCodecs
		}

		main, ok := videoByURI[uri]
		if !ok {
			main = p.newStream(uri, ct, codecs, int64(v.Bandwidth), v).stream
			videoByURI[uri] = main
		}

		if ct == media.ContentTypeAudio || len(renditions) == 0 {
			variant := &media.Variant{ID: len(m.Variants), Bandwidth: int64(v.Bandwidth), Allowed: true}
			if ct == media.ContentTypeAudio {
				variant.Audio = main
			} else {
				variant.Video = main
			}
			m.Variants = append(m.Variants, variant)
			continue
		}

		for _, r := range renditions {
			audioURI := resolveURI(base, *r.URI)
			audio, ok := audioByURI[audioURI]
			if !ok {
				audio = p.newStream(audioURI, media.ContentTypeAudio, audioCodecs, 0, nil).stream
				audio.Language = r.Language
				audio.Label = r.Name
				audioByURI[audioURI] = audio
			}
			m.Variants = append(m.Variants, &media.Variant{
				ID:        len(m.Variants),
				Bandwidth: int64(v.Bandwidth),
				Video:     main,
				Audio:     audio,
				Language:  r.Language,
				Allowed:   true,
			})
		}
	}
}

// classifyStandalone detects audio-only bare media playlists.
func (p *HLSParser) classifyStandalone(s *hlsStream, pl *playlist.Media, m *media.Manifest) {
	if len(pl.Segments) == 0 || pl.Segments[0] == nil {
		return
	}
	switch extensionOf(pl.Segments[0].URI) {
	case "aac", "m4a", "mp3", "ac3", "ec3":
		s.stream.Type = media.ContentTypeAudio
		m.Variants[0].Video, m.Variants[0].Audio = nil, s.stream
	}
}

func (p *HLSParser) fetchMediaPlaylists(ctx context.Context) ([]*playlist.Media, error) {
	out := make([]*playlist.Media, len(p.streams))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentPlaylistFetches)
	for i, s := range p.streams {
		g.Go(func() error {
			pl, err := p.fetchMedia(gctx, s)
			if err != nil {
				return err
			}
			out[i] = pl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *HLSParser) fetchMedia(ctx context.Context, s *hlsStream) (*playlist.Media, error) {
	if mp := s.preloaded; mp != nil {
		s.preloaded = nil
		p.adopt(s, mp, s.uri)
		return mp, nil
	}
	data, finalURI, err := fetchManifest(ctx, p.opts.Fetcher, s.uri, p.opts.retry())
	if err != nil {
		return nil, err
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, manifestInvalid(fmt.Sprintf("parsing media playlist %s", s.uri), err)
	}
	mp, ok := pl.(*playlist.Media)
	if !ok {
		return nil, manifestInvalid(fmt.Sprintf("%s is not a media playlist", s.uri), nil)
	}
	p.adopt(s, mp, finalURI)
	return mp, nil
}

func (p *HLSParser) adopt(s *hlsStream, mp *playlist.Media, finalURI string) {
	s.uri = finalURI
	if mp.TargetDuration > 0 {
		s.targetDuration = float64(mp.TargetDuration)
	}
	if s.stream.MimeType == "" {
		s.stream.MimeType = mediaPlaylistMIME(mp, s.stream.Type)
	}
}

func mediaPlaylistMIME(mp *playlist.Media, ct media.ContentType) string {
	if mp.Map != nil {
		if ct == media.ContentTypeAudio {
			return "audio/mp4"
		}
		return "video/mp4"
	}
	for _, seg := range mp.Segments {
		if seg != nil {
			if mt := guessMIME(seg.URI, ct); mt != "" {
				return mt
			}
		}
	}
	return "video/mp2t"
}

// detectOffset fetches the first segment once per stream and records the
// container timestamp it starts at.
func (p *HLSParser) detectOffset(ctx context.Context, s *hlsStream, pl *playlist.Media) error {
	if s.startRead || len(pl.Segments) == 0 || pl.Segments[0] == nil {
		return nil
	}
	s.startRead = true

	var readStart func(seg []byte) (float64, error)
	switch s.stream.MimeType {
	case "video/mp2t", "audio/mp2t":
		readStart = func(seg []byte) (float64, error) { return demux.ProbeTSStartTime(ctx, seg) }
	case "video/mp4", "audio/mp4":
		if pl.Map == nil {
			return nil
		}
		initReq := netfetch.NewRequest(netfetch.RequestSegment, []string{resolveURI(s.uri, pl.Map.URI)}, p.opts.retry())
		applyByteRange(initReq, pl.Map.ByteRangeStart, pl.Map.ByteRangeLength)
		initResp, err := p.opts.Fetcher.Fetch(ctx, initReq)
		if err != nil {
			return err
		}
		readStart = func(seg []byte) (float64, error) { return demux.ProbeFMP4StartTime(initResp.Data, seg) }
	default:
		return nil
	}

	first := pl.Segments[0]
	req := netfetch.NewRequest(netfetch.RequestSegment, []string{resolveURI(s.uri, first.URI)}, p.opts.retry())
	applyByteRange(req, first.ByteRangeStart, first.ByteRangeLength)
	resp, err := p.opts.Fetcher.Fetch(ctx, req)
	if err != nil {
		return err
	}
	start, err := readStart(resp.Data)
	if err != nil {
		return err
	}
	s.mediaStart = start
	s.hasMediaStart = true
	p.logger.Debug("read segment start time",
		slog.String("playlist", s.uri),
		slog.Float64("media_start", start))
	return nil
}

func applyByteRange(req *netfetch.Request, start, length *uint64) {
	if length == nil {
		return
	}
	var from uint64
	if start != nil {
		from = *start
	}
	req.WithRange(int64(from), int64(from+*length)-1)
}

// references converts a media playlist into segment references. Segments
// are placed on the presentation timeline through their media sequence
// numbers so that audio and video playlists line up.
func (p *HLSParser) references(s *hlsStream, pl *playlist.Media) []*media.SegmentReference {
	p.mu.Lock()
	defer p.mu.Unlock()

	durations := make([]float64, len(pl.Segments))
	for i, seg := range pl.Segments {
		if seg != nil {
			durations[i] = seg.Duration.Seconds()
		}
	}

	anchorIdx, anchorTime := 0, 0.0
	anchored := false
	for i := range pl.Segments {
		if t, ok := p.seqTimes[pl.MediaSequence+i]; ok {
			anchorIdx, anchorTime, anchored = i, t, true
			break
		}
	}
	if !anchored && s.stream.Index != nil {
		if last := s.stream.Index.Last(); last != nil {
			anchorTime = last.EndTime()
		}
	}
	start := anchorTime
	for i := range anchorIdx {
		start -= durations[i]
	}

	// The first segment read fixes the mapping from container timestamps
	// to presentation time for the lifetime of the stream.
	if s.hasMediaStart && !s.offsetKnown {
		s.offset = start - s.mediaStart
		s.offsetKnown = true
	}

	var (
		refs    []*media.SegmentReference
		prevURI string
		prevEnd int64
	)
	for i, seg := range pl.Segments {
		segStart := start
		start += durations[i]
		if seg == nil || durations[i] <= 0 {
			continue
		}
		p.seqTimes[pl.MediaSequence+i] = segStart

		uri := resolveURI(s.uri, seg.URI)
		opts := media.SegmentOptions{
			Init:            p.initReference(s, pl.Map),
			TimestampOffset: s.offset,
		}
		if seg.ByteRangeLength != nil {
			var from int64
			switch {
			case seg.ByteRangeStart != nil:
				from = int64(*seg.ByteRangeStart)
			case uri == prevURI:
				from = prevEnd
			}
			opts.StartByte = from
			opts.EndByte = from + int64(*seg.ByteRangeLength) - 1
			prevURI, prevEnd = uri, opts.EndByte+1
		}

		ref, err := media.NewSegmentReference(segStart, segStart+durations[i], []string{uri}, opts)
		if err != nil {
			p.logger.Warn("skipping invalid segment", slog.String("uri", uri), slog.String("error", err.Error()))
			continue
		}
		refs = append(refs, ref)
	}

	p.pruneSeqTimes(pl.MediaSequence)
	return refs
}

// pruneSeqTimes drops sequence numbers far behind the live window.
func (p *HLSParser) pruneSeqTimes(oldestLive int) {
	const keepBehind = 1024
	for seq := range p.seqTimes {
		if seq < oldestLive-keepBehind {
			delete(p.seqTimes, seq)
		}
	}
}

func (p *HLSParser) initReference(s *hlsStream, m *playlist.MediaMap) *media.InitSegmentReference {
	if m == nil || m.URI == "" {
		return nil
	}
	uri := resolveURI(s.uri, m.URI)
	var start, end int64 = 0, -1
	if m.ByteRangeLength != nil {
		if m.ByteRangeStart != nil {
			start = int64(*m.ByteRangeStart)
		}
		end = start + int64(*m.ByteRangeLength) - 1
	}
	key := fmt.Sprintf("%s|%d|%d", uri, start, end)
	if ref, ok := s.inits[key]; ok {
		return ref
	}
	ref, err := media.NewInitSegmentReference([]string{uri}, start, end)
	if err != nil {
		p.logger.Warn("invalid init segment", slog.String("uri", uri), slog.String("error", err.Error()))
		return nil
	}
	s.inits[key] = ref
	return ref
}

func (p *HLSParser) newTimeline(live bool, playlists []*playlist.Media, refs [][]*media.SegmentReference) *media.PresentationTimeline {
	opts := p.opts.timelineOptions()

	if !live {
		duration := 0.0
		for _, rs := range refs {
			if n := len(rs); n > 0 {
				duration = math.Max(duration, rs[n-1].EndTime())
			}
		}
		return media.NewStaticTimeline(duration, opts...)
	}

	window := math.Inf(1)
	target := 0.0
	for i, pl := range playlists {
		if p.streams[i].stream.Type == media.ContentTypeText {
			continue
		}
		sum := 0.0
		for _, seg := range pl.Segments {
			if seg != nil {
				sum += seg.Duration.Seconds()
			}
		}
		window = math.Min(window, sum)
		target = math.Max(target, float64(pl.TargetDuration))
	}
	if p.opts.Config.AvailabilityWindowOverride > 0 {
		window = p.opts.Config.AvailabilityWindowOverride.Seconds()
	}
	delay := 3 * target
	if p.opts.Config.DefaultPresentationDelay > 0 {
		delay = p.opts.Config.DefaultPresentationDelay.Seconds()
	}
	return media.NewLiveTimeline(time.Time{}, window, delay, opts...)
}

func (p *HLSParser) refreshLoop(ctx context.Context, s *hlsStream, handler Handler) {
	logger := p.logger.With(slog.String("playlist", s.uri))
	for {
		period := p.opts.Config.UpdatePeriod
		if period <= 0 {
			period = time.Duration(math.Max(s.targetDuration, 1) * float64(time.Second))
		}
		if !sleepCtx(ctx, period) {
			return
		}

		pl, err := p.fetchMedia(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("media playlist refresh failed", slog.String("error", err.Error()))
			handler.ManifestError(manifestUpdateError(err))
			continue
		}

		refs := p.references(s, pl)
		s.stream.Index.Merge(refs)
		if s.stream.Type != media.ContentTypeText {
			p.timeline.NotifySegments(s.stream.Type, refs)
		}
		logger.Log(ctx, observability.LevelTrace, "media playlist refreshed",
			slog.Int("segments", len(refs)),
			slog.Int("media_sequence", pl.MediaSequence))

		if pl.Endlist {
			p.finishIfEnded(s)
			handler.ManifestUpdated()
			return
		}
		handler.ManifestUpdated()
	}
}

// finishIfEnded turns the timeline static once every playlist has ended.
func (p *HLSParser) finishIfEnded(ended *hlsStream) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ended.ended = true
	end := 0.0
	for _, s := range p.streams {
		if !s.ended {
			return
		}
		if last := s.stream.Index.Last(); last != nil {
			end = math.Max(end, last.EndTime())
		}
	}
	p.timeline.SetDuration(end)
	p.timeline.SetStatic(true)
}

// splitCodecs separates a CODECS list into video and audio codecs.
func splitCodecs(codecs []string) (video, audio []string) {
	for _, c := range codecs {
		c = strings.TrimSpace(c)
		switch {
		case c == "":
		case isAudioCodec(c):
			audio = append(audio, c)
		case isTextCodec(c):
		default:
			video = append(video, c)
		}
	}
	return video, audio
}

func isAudioCodec(c string) bool {
	for _, prefix := range []string{"mp4a", "ac-3", "ec-3", "ac-4", "opus", "flac", "mp3", "dtsc", "alac"} {
		if strings.HasPrefix(strings.ToLower(c), prefix) {
			return true
		}
	}
	return false
}

func isTextCodec(c string) bool {
	c = strings.ToLower(c)
	return c == "wvtt" || c == "stpp" || strings.HasPrefix(c, "stpp.")
}

func parseResolution(res string) (w, h int) {
	if res == "" {
		return 0, 0
	}
	if _, err := fmt.Sscanf(res, "%dx%d", &w, &h); err != nil {
		return 0, 0
	}
	return w, h
}

func manifestNoVariants() error {
	return playerr.New(playerr.Critical, playerr.CategoryManifest, playerr.CodeManifestNoVariants,
		"presentation has no playable variants")
}
