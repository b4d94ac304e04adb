package manifest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/abrplay/internal/media"
	"github.com/jmylchreest/abrplay/internal/netfetch"
	"github.com/jmylchreest/abrplay/internal/observability"
)

const trickModeScheme = "http://dashif.org/guidelines/trickmode"

// dashRep is one Representation with its inherited segment information
// resolved.
type dashRep struct {
	key         string
	ct          media.ContentType
	set         *mpdAdaptationSet
	rep         *mpdRepresentation
	base        string
	template    *mpdSegmentTemplate
	list        *mpdSegmentList
	segBase     *mpdSegmentBase
	periodStart float64
	periodEnd   float64
	trickFor    string
}

// dashDocument is a parsed MPD plus the values derived from it.
type dashDocument struct {
	doc        *mpdDocument
	dynamic    bool
	ast        time.Time
	now        time.Time
	tsbd       float64
	duration   float64
	minBuffer  float64
	updateEach time.Duration
	delay      float64
	hasDelay   bool
	reps       []*dashRep
}

// DASHParser parses MPEG-DASH MPDs.
type DASHParser struct {
	opts    Options
	logger  *slog.Logger
	refresh refresher

	mu       sync.Mutex
	uri      string
	ids      idAllocator
	streams  map[string]*media.Stream
	timeline *media.PresentationTimeline
}

// NewDASHParser creates a DASH parser.
func NewDASHParser(opts Options) *DASHParser {
	opts = opts.withDefaults()
	return &DASHParser{
		opts:    opts,
		logger:  observability.WithComponent(opts.Logger, "dash_parser"),
		streams: make(map[string]*media.Stream),
	}
}

// Start implements Parser.
func (p *DASHParser) Start(ctx context.Context, uri string, handler Handler) (*media.Manifest, error) {
	if p.opts.Fetcher == nil {
		return nil, manifestInvalid("no fetcher configured", nil)
	}
	if handler == nil {
		handler = HandlerFuncs{}
	}

	dd, err := p.load(ctx, uri)
	if err != nil {
		return nil, err
	}

	m := &media.Manifest{URI: p.uri, MinBufferTime: dd.minBuffer}
	var videos, audios []*media.Stream
	tricks := make(map[string]*media.Stream)
	mainSets := make(map[*media.Stream]string)

	for _, r := range dd.reps {
		refs, err := p.references(ctx, dd, r)
		if err != nil {
			return nil, err
		}
		s := p.newStream(r)
		s.Index = media.NewSegmentIndex(refs)
		s.Index.SetLogger(p.logger)
		p.streams[r.key] = s

		switch {
		case r.trickFor != "":
			if _, ok := tricks[r.trickFor]; !ok {
				tricks[r.trickFor] = s
			}
		case r.ct == media.ContentTypeVideo:
			videos = append(videos, s)
			mainSets[s] = r.set.ID
		case r.ct == media.ContentTypeAudio:
			audios = append(audios, s)
		case r.ct == media.ContentTypeText:
			m.TextStreams = append(m.TextStreams, s)
		}
	}
	for _, v := range videos {
		if trick, ok := tricks[mainSets[v]]; ok && mainSets[v] != "" {
			v.TrickMode = trick
		}
	}

	m.Variants = combineVariants(videos, audios)
	if len(m.Variants) == 0 {
		return nil, manifestNoVariants()
	}

	p.timeline = p.newTimeline(dd)
	m.Timeline = p.timeline
	for _, s := range append(videos, audios...) {
		p.timeline.NotifySegments(s.Type, s.Index.Snapshot())
	}
	if !dd.dynamic && math.IsInf(dd.duration, 1) {
		end := 0.0
		for _, s := range append(videos, audios...) {
			if last := s.Index.Last(); last != nil {
				end = math.Max(end, last.EndTime())
			}
		}
		p.timeline.SetDuration(end)
	}

	if dd.dynamic {
		p.refresh.start(ctx, func(ctx context.Context) {
			p.refreshLoop(ctx, dd.updateEach, handler)
		})
	}

	p.logger.Info("loaded DASH presentation",
		slog.String("uri", p.uri),
		slog.Int("variants", len(m.Variants)),
		slog.Int("text_streams", len(m.TextStreams)),
		slog.Bool("live", dd.dynamic))
	return m, nil
}

// Stop implements Parser.
func (p *DASHParser) Stop() {
	p.refresh.stop()
}

// load fetches and interprets the MPD at uri.
func (p *DASHParser) load(ctx context.Context, uri string) (*dashDocument, error) {
	data, finalURI, err := fetchManifest(ctx, p.opts.Fetcher, uri, p.opts.retry())
	if err != nil {
		return nil, err
	}
	doc, err := parseMPD(data)
	if err != nil {
		return nil, manifestInvalid("parsing MPD", err)
	}
	p.uri = finalURI
	if doc.Location != "" {
		p.uri = resolveURI(finalURI, strings.TrimSpace(doc.Location))
	}
	return p.interpret(doc, finalURI)
}

func (p *DASHParser) interpret(doc *mpdDocument, uri string) (*dashDocument, error) {
	dd := &dashDocument{doc: doc, dynamic: doc.dynamic(), now: p.opts.Now(), tsbd: math.Inf(1)}

	var err error
	if dd.dynamic {
		if doc.AvailabilityStartTime == "" {
			return nil, manifestInvalid("dynamic MPD without availabilityStartTime", nil)
		}
		if dd.ast, err = time.Parse(time.RFC3339Nano, doc.AvailabilityStartTime); err != nil {
			return nil, manifestInvalid("parsing availabilityStartTime", err)
		}
		if v, ok, err := secondsAttr(doc.TimeShiftBufferDepth); err != nil {
			return nil, manifestInvalid("parsing timeShiftBufferDepth", err)
		} else if ok {
			dd.tsbd = v
		}
		if v, ok, err := secondsAttr(doc.MinimumUpdatePeriod); err != nil {
			return nil, manifestInvalid("parsing minimumUpdatePeriod", err)
		} else if ok {
			dd.updateEach = time.Duration(v * float64(time.Second))
		}
		if v, ok, err := secondsAttr(doc.SuggestedPresentationDelay); err != nil {
			return nil, manifestInvalid("parsing suggestedPresentationDelay", err)
		} else if ok {
			dd.delay, dd.hasDelay = v, true
		}
	}
	if dd.minBuffer, _, err = secondsAttr(doc.MinBufferTime); err != nil {
		return nil, manifestInvalid("parsing minBufferTime", err)
	}
	dd.duration = math.Inf(1)
	if v, ok, err := secondsAttr(doc.MediaPresentationDuration); err != nil {
		return nil, manifestInvalid("parsing mediaPresentationDuration", err)
	} else if ok {
		dd.duration = v
	}

	period, start, end, err := p.selectPeriod(dd)
	if err != nil {
		return nil, err
	}
	base := withBaseURL(withBaseURL(uri, doc.BaseURLs), period.BaseURLs)

	for si := range period.AdaptationSets {
		set := &period.AdaptationSets[si]
		setBase := withBaseURL(base, set.BaseURLs)
		trickFor := ""
		for _, prop := range set.EssentialProperties {
			if prop.SchemeIDURI == trickModeScheme {
				trickFor = prop.Value
			}
		}
		for ri := range set.Representations {
			rep := &set.Representations[ri]
			ct, ok := representationType(set, rep)
			if !ok {
				p.logger.Debug("ignoring representation of unknown type",
					slog.String("representation", rep.ID),
					slog.String("mime_type", firstNonEmpty(rep.MimeType, set.MimeType)))
				continue
			}
			repBase := withBaseURL(setBase, rep.BaseURLs)
			id := rep.ID
			if id == "" {
				id = fmt.Sprintf("%d.%d", si, ri)
			}
			dd.reps = append(dd.reps, &dashRep{
				key:         string(ct) + "/" + id,
				ct:          ct,
				set:         set,
				rep:         rep,
				base:        repBase,
				template:    mergeTemplates(mergeTemplates(period.SegmentTemplate, set.SegmentTemplate), rep.SegmentTemplate),
				list:        mergeLists(mergeLists(period.SegmentList, set.SegmentList), rep.SegmentList),
				segBase:     mergeBases(mergeBases(period.SegmentBase, set.SegmentBase), rep.SegmentBase),
				periodStart: start,
				periodEnd:   end,
				trickFor:    trickFor,
			})
		}
	}
	return dd, nil
}

// selectPeriod returns the first period of a static presentation and the
// latest started period of a dynamic one, with its start and end times.
func (p *DASHParser) selectPeriod(dd *dashDocument) (*mpdPeriod, float64, float64, error) {
	periods := dd.doc.Periods
	starts := make([]float64, len(periods))
	ends := make([]float64, len(periods))
	prevEnd := 0.0
	for i := range periods {
		start, ok, err := secondsAttr(periods[i].Start)
		if err != nil {
			return nil, 0, 0, manifestInvalid("parsing Period@start", err)
		}
		if !ok {
			start = prevEnd
		}
		starts[i] = start
		ends[i] = math.Inf(1)
		if d, ok, err := secondsAttr(periods[i].Duration); err != nil {
			return nil, 0, 0, manifestInvalid("parsing Period@duration", err)
		} else if ok {
			ends[i] = start + d
		}
		if i > 0 && math.IsInf(ends[i-1], 1) {
			ends[i-1] = start
		}
		prevEnd = ends[i]
	}
	last := len(periods) - 1
	if math.IsInf(ends[last], 1) && !math.IsInf(dd.duration, 1) {
		ends[last] = dd.duration
	}

	idx := 0
	if dd.dynamic {
		elapsed := dd.now.Sub(dd.ast).Seconds()
		for i := range periods {
			if starts[i] <= elapsed {
				idx = i
			}
		}
	}
	return &periods[idx], starts[idx], ends[idx], nil
}

func representationType(set *mpdAdaptationSet, rep *mpdRepresentation) (media.ContentType, bool) {
	mime := strings.ToLower(firstNonEmpty(rep.MimeType, set.MimeType))
	codecs := firstNonEmpty(rep.Codecs, set.Codecs)
	switch {
	case set.ContentType == "video" || strings.HasPrefix(mime, "video/"):
		return media.ContentTypeVideo, true
	case set.ContentType == "audio" || strings.HasPrefix(mime, "audio/"):
		return media.ContentTypeAudio, true
	case set.ContentType == "text" || strings.HasPrefix(mime, "text/") ||
		mime == "application/ttml+xml" || (mime == "application/mp4" && isTextCodec(codecs)):
		return media.ContentTypeText, true
	}
	return "", false
}

func (p *DASHParser) newStream(r *dashRep) *media.Stream {
	s := &media.Stream{
		ID:        p.ids.id(),
		Type:      r.ct,
		MimeType:  firstNonEmpty(r.rep.MimeType, r.set.MimeType),
		Codecs:    firstNonEmpty(r.rep.Codecs, r.set.Codecs),
		Bandwidth: r.rep.Bandwidth,
		Width:     firstNonZero(r.rep.Width, r.set.Width),
		Height:    firstNonZero(r.rep.Height, r.set.Height),
		FrameRate: parseFrameRate(firstNonEmpty(r.rep.FrameRate, r.set.FrameRate)),
		Language:  r.set.Lang,
		Label:     r.set.Label,
	}
	if s.MimeType == "" {
		s.MimeType = guessMIME(r.base, r.ct)
	}
	if r.ct == media.ContentTypeText {
		s.Kind = "subtitle"
		for _, role := range r.set.Roles {
			if role.Value == "caption" {
				s.Kind = "caption"
			}
		}
	}
	return s
}

// references builds the segment references of one representation.
func (p *DASHParser) references(ctx context.Context, dd *dashDocument, r *dashRep) ([]*media.SegmentReference, error) {
	var (
		refs []*media.SegmentReference
		err  error
	)
	switch {
	case r.template != nil && r.template.Media != "":
		refs, err = p.templateReferences(dd, r)
	case r.list != nil && len(r.list.SegmentURLs) > 0:
		refs, err = p.listReferences(r)
	case r.segBase != nil && r.segBase.IndexRange != "":
		refs, err = p.indexReferences(ctx, r)
	default:
		refs, err = p.singleReference(r)
	}
	if err != nil {
		return nil, manifestInvalid(fmt.Sprintf("representation %s", r.key), err)
	}
	return refs, nil
}

func (r *dashRep) windowOptions(offset float64, init *media.InitSegmentReference) media.SegmentOptions {
	opts := media.SegmentOptions{
		Init:              init,
		TimestampOffset:   offset,
		AppendWindowStart: r.periodStart,
	}
	if !math.IsInf(r.periodEnd, 1) {
		opts.AppendWindowEnd = r.periodEnd
	}
	return opts
}

type timelineEntry struct {
	t uint64
	d uint64
}

// expandTimeline unrolls S elements. limit is the media time negative
// repeats run up to; 0 when unknown.
func expandTimeline(tl *mpdSegmentTimeline, limit uint64) []timelineEntry {
	var (
		out  []timelineEntry
		next uint64
	)
	for i, s := range tl.S {
		t := next
		if s.T != nil {
			t = *s.T
		}
		if s.D == 0 {
			continue
		}
		repeat := s.R
		if repeat < 0 {
			end := limit
			if i+1 < len(tl.S) && tl.S[i+1].T != nil {
				end = *tl.S[i+1].T
			}
			repeat = 0
			if end > t {
				repeat = int64((end-t+s.D-1)/s.D) - 1
			}
		}
		for range repeat + 1 {
			out = append(out, timelineEntry{t: t, d: s.D})
			t += s.D
		}
		next = t
	}
	return out
}

func (p *DASHParser) templateReferences(dd *dashDocument, r *dashRep) ([]*media.SegmentReference, error) {
	t := r.template
	timescale := valueOr(t.Timescale, 1)
	if timescale == 0 {
		return nil, errors.New("timescale must be positive")
	}
	pto := valueOr(t.PresentationTimeOffset, 0)
	startNumber := valueOr(t.StartNumber, 1)
	offset := r.periodStart - float64(pto)/float64(timescale)
	ts := float64(timescale)

	var init *media.InitSegmentReference
	if t.Initialization != "" {
		uri := resolveURI(r.base, fillTemplate(t.Initialization, r.rep.ID, 0, 0, r.rep.Bandwidth))
		var err error
		if init, err = media.NewInitSegmentReference([]string{uri}, 0, -1); err != nil {
			return nil, err
		}
	}

	var refs []*media.SegmentReference
	add := func(number, mediaTime, duration uint64) error {
		start := r.periodStart + (float64(mediaTime)-float64(pto))/ts
		end := start + float64(duration)/ts
		uri := resolveURI(r.base, fillTemplate(t.Media, r.rep.ID, number, mediaTime, r.rep.Bandwidth))
		ref, err := media.NewSegmentReference(start, end, []string{uri}, r.windowOptions(offset, init))
		if err != nil {
			return err
		}
		refs = append(refs, ref)
		return nil
	}

	elapsed := math.Inf(1)
	if dd.dynamic {
		elapsed = dd.now.Sub(dd.ast).Seconds() - r.periodStart
	}
	periodLen := r.periodEnd - r.periodStart

	if t.Timeline != nil {
		var limit uint64
		switch {
		case !math.IsInf(periodLen, 1):
			limit = pto + uint64(math.Round(periodLen*ts))
		case dd.dynamic && elapsed > 0:
			limit = pto + uint64(math.Floor(elapsed*ts))
		}
		for i, e := range expandTimeline(t.Timeline, limit) {
			if err := add(startNumber+uint64(i), e.t, e.d); err != nil {
				return nil, err
			}
		}
		return refs, nil
	}

	duration := valueOr(t.Duration, 0)
	if duration == 0 {
		return nil, errors.New("SegmentTemplate needs a SegmentTimeline or a duration")
	}
	segDur := float64(duration) / ts

	first, last := int64(0), int64(-1)
	if !math.IsInf(periodLen, 1) {
		last = int64(math.Ceil(periodLen/segDur-1e-9)) - 1
	}
	if dd.dynamic {
		live := int64(math.Floor(elapsed/segDur)) - 1
		if last < 0 || live < last {
			last = live
		}
		if !math.IsInf(dd.tsbd, 1) {
			first = max(0, int64(math.Ceil((elapsed-dd.tsbd)/segDur))-1)
		}
	} else if last < 0 {
		return nil, errors.New("static SegmentTemplate without a known period duration")
	}

	for i := first; i <= last; i++ {
		n := uint64(i)
		if err := add(startNumber+n, pto+n*duration, duration); err != nil {
			return nil, err
		}
	}
	return refs, nil
}

func (p *DASHParser) listReferences(r *dashRep) ([]*media.SegmentReference, error) {
	l := r.list
	timescale := valueOr(l.Timescale, 1)
	if timescale == 0 {
		return nil, errors.New("timescale must be positive")
	}
	pto := valueOr(l.PresentationTimeOffset, 0)
	ts := float64(timescale)
	offset := r.periodStart - float64(pto)/ts

	init, err := urlInit(r.base, l.Initialization)
	if err != nil {
		return nil, err
	}

	var entries []timelineEntry
	if l.Timeline != nil {
		entries = expandTimeline(l.Timeline, 0)
	} else {
		duration := valueOr(l.Duration, 0)
		if duration == 0 {
			return nil, errors.New("SegmentList needs a SegmentTimeline or a duration")
		}
		for i := range l.SegmentURLs {
			entries = append(entries, timelineEntry{t: pto + uint64(i)*duration, d: duration})
		}
	}

	refs := make([]*media.SegmentReference, 0, len(l.SegmentURLs))
	for i, su := range l.SegmentURLs {
		if i >= len(entries) {
			break
		}
		uri := r.base
		if su.Media != "" {
			uri = resolveURI(r.base, su.Media)
		}
		start := r.periodStart + (float64(entries[i].t)-float64(pto))/ts
		end := start + float64(entries[i].d)/ts
		opts := r.windowOptions(offset, init)
		if su.MediaRange != "" {
			if opts.StartByte, opts.EndByte, err = parseByteRange(su.MediaRange); err != nil {
				return nil, err
			}
		}
		ref, err := media.NewSegmentReference(start, end, []string{uri}, opts)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (p *DASHParser) indexReferences(ctx context.Context, r *dashRep) ([]*media.SegmentReference, error) {
	b := r.segBase
	indexStart, indexEnd, err := parseByteRange(b.IndexRange)
	if err != nil {
		return nil, err
	}
	init, err := urlInit(r.base, b.Initialization)
	if err != nil {
		return nil, err
	}

	req := netfetch.NewRequest(netfetch.RequestSegment, []string{r.base}, p.opts.retry())
	req.WithRange(indexStart, indexEnd)
	resp, err := p.opts.Fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, err
	}
	timescale, entries, err := parseSidx(resp.Data, indexEnd+1)
	if err != nil {
		return nil, err
	}

	pto := valueOr(b.PresentationTimeOffset, 0)
	if b.Timescale != nil && *b.Timescale > 0 && *b.Timescale != timescale {
		pto = pto * timescale / *b.Timescale
	}
	ts := float64(timescale)
	offset := r.periodStart - float64(pto)/ts

	refs := make([]*media.SegmentReference, 0, len(entries))
	for _, e := range entries {
		start := r.periodStart + (float64(e.time)-float64(pto))/ts
		end := start + float64(e.duration)/ts
		opts := r.windowOptions(offset, init)
		opts.StartByte, opts.EndByte = e.startByte, e.endByte
		ref, err := media.NewSegmentReference(start, end, []string{r.base}, opts)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// singleReference covers the whole period with the representation's
// BaseURL, as used for sidecar subtitle files.
func (p *DASHParser) singleReference(r *dashRep) ([]*media.SegmentReference, error) {
	if math.IsInf(r.periodEnd, 1) {
		return nil, errors.New("no segment information and no period duration")
	}
	init, err := urlInit(r.base, nil)
	if err != nil {
		return nil, err
	}
	if r.segBase != nil {
		if init, err = urlInit(r.base, r.segBase.Initialization); err != nil {
			return nil, err
		}
	}
	ref, err := media.NewSegmentReference(r.periodStart, r.periodEnd, []string{r.base}, r.windowOptions(r.periodStart, init))
	if err != nil {
		return nil, err
	}
	return []*media.SegmentReference{ref}, nil
}

func urlInit(base string, u *mpdURL) (*media.InitSegmentReference, error) {
	if u == nil {
		return nil, nil
	}
	uri := base
	if u.SourceURL != "" {
		uri = resolveURI(base, u.SourceURL)
	}
	start, end := int64(0), int64(-1)
	if u.Range != "" {
		var err error
		if start, end, err = parseByteRange(u.Range); err != nil {
			return nil, err
		}
	}
	return media.NewInitSegmentReference([]string{uri}, start, end)
}

func (p *DASHParser) newTimeline(dd *dashDocument) *media.PresentationTimeline {
	opts := p.opts.timelineOptions()
	if !dd.dynamic {
		return media.NewStaticTimeline(dd.duration, opts...)
	}

	window := dd.tsbd
	if p.opts.Config.AvailabilityWindowOverride > 0 {
		window = p.opts.Config.AvailabilityWindowOverride.Seconds()
	}
	if math.IsInf(window, 1) {
		window = 0
	}
	delay := dd.delay
	switch {
	case dd.hasDelay:
	case p.opts.Config.DefaultPresentationDelay > 0:
		delay = p.opts.Config.DefaultPresentationDelay.Seconds()
	default:
		delay = 1.5 * dd.minBuffer
	}
	tl := media.NewLiveTimeline(dd.ast, window, delay, opts...)
	if !math.IsInf(dd.duration, 1) {
		tl.SetDuration(dd.duration)
	}
	return tl
}

func (p *DASHParser) refreshLoop(ctx context.Context, period time.Duration, handler Handler) {
	for {
		wait := period
		if p.opts.Config.UpdatePeriod > 0 {
			wait = p.opts.Config.UpdatePeriod
		}
		if wait <= 0 {
			wait = time.Duration(math.Max(p.timeline.MaxSegmentDuration(), 1) * float64(time.Second))
		}
		if !sleepCtx(ctx, wait) {
			return
		}

		p.mu.Lock()
		uri := p.uri
		p.mu.Unlock()

		dd, err := p.reload(ctx, uri)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("MPD refresh failed", slog.String("uri", uri), slog.String("error", err.Error()))
			handler.ManifestError(manifestUpdateError(err))
			continue
		}
		period = dd.updateEach

		if !dd.dynamic {
			p.finish(dd.duration)
			handler.ManifestUpdated()
			return
		}
		handler.ManifestUpdated()
	}
}

// finish freezes the timeline once the MPD turned static.
func (p *DASHParser) finish(duration float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if math.IsInf(duration, 1) {
		duration = 0
		for _, s := range p.streams {
			if last := s.Index.Last(); last != nil && s.Type != media.ContentTypeText {
				duration = math.Max(duration, last.EndTime())
			}
		}
	}
	p.timeline.SetDuration(duration)
	p.timeline.SetStatic(true)
}

// reload fetches the MPD again and merges new references into the
// existing streams.
func (p *DASHParser) reload(ctx context.Context, uri string) (*dashDocument, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	dd, err := p.load(ctx, uri)
	if err != nil {
		return nil, err
	}
	if dd.dynamic {
		window := dd.tsbd
		if p.opts.Config.AvailabilityWindowOverride > 0 {
			window = p.opts.Config.AvailabilityWindowOverride.Seconds()
		}
		if !math.IsInf(window, 1) {
			p.timeline.SetAvailabilityWindow(window)
		}
	}

	for _, r := range dd.reps {
		s, ok := p.streams[r.key]
		if !ok {
			p.logger.Debug("ignoring representation added by refresh", slog.String("representation", r.key))
			continue
		}
		refs, err := p.references(ctx, dd, r)
		if err != nil {
			return nil, err
		}
		s.Index.Merge(refs)
		if s.Type != media.ContentTypeText && r.trickFor == "" {
			p.timeline.NotifySegments(s.Type, refs)
		}
	}
	return dd, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonZero(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}

// withBaseURL resolves the first BaseURL element against base.
func withBaseURL(base string, urls []string) string {
	if len(urls) == 0 {
		return base
	}
	return resolveURI(base, strings.TrimSpace(urls[0]))
}
