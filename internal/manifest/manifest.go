// Package manifest turns HLS playlists and DASH MPDs into the presentation
// model used by the streaming engine, and keeps live presentations fresh by
// merging new segment references into the existing indexes.
package manifest

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/abrplay/internal/config"
	"github.com/jmylchreest/abrplay/internal/media"
	"github.com/jmylchreest/abrplay/internal/netfetch"
	"github.com/jmylchreest/abrplay/internal/playerr"
)

// Handler receives notifications from a running parser.
type Handler interface {
	// ManifestUpdated is called after new references were merged.
	ManifestUpdated()
	// ManifestError reports a failed refresh; the previous state stays valid.
	ManifestError(err error)
}

// HandlerFuncs adapts two functions to a Handler. Nil fields are ignored.
type HandlerFuncs struct {
	OnUpdate func()
	OnError  func(error)
}

func (h HandlerFuncs) ManifestUpdated() {
	if h.OnUpdate != nil {
		h.OnUpdate()
	}
}

func (h HandlerFuncs) ManifestError(err error) {
	if h.OnError != nil {
		h.OnError(err)
	}
}

// Parser loads one presentation.
type Parser interface {
	// Start fetches and parses uri. Live presentations keep refreshing until
	// ctx is done or Stop is called.
	Start(ctx context.Context, uri string, handler Handler) (*media.Manifest, error)
	// Stop ends background refreshes and waits for them.
	Stop()
}

// Fetcher is the subset of netfetch.Client parsers need.
type Fetcher interface {
	Fetch(ctx context.Context, req *netfetch.Request) (*netfetch.Response, error)
}

// Options configure a parser.
type Options struct {
	Fetcher Fetcher
	Config  config.ManifestConfig
	Logger  *slog.Logger
	// Now overrides the wall clock.
	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

func (o Options) retry() netfetch.RetryParameters {
	if o.Config.Retry.MaxAttempts == 0 {
		return netfetch.DefaultRetryParameters()
	}
	return netfetch.RetryFromConfig(o.Config.Retry)
}

func (o Options) timelineOptions() []media.TimelineOption {
	opts := []media.TimelineOption{media.WithClock(o.Now)}
	if o.Config.MinSeekRange > 0 {
		opts = append(opts, media.WithMinSeekRange(o.Config.MinSeekRange.Seconds()))
	}
	return opts
}

// Factory creates a parser.
type Factory func(opts Options) Parser

// Registry maps MIME types and file extensions to parser factories.
type Registry struct {
	mu          sync.RWMutex
	byMIME      map[string]Factory
	byExtension map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byMIME:      make(map[string]Factory),
		byExtension: make(map[string]Factory),
	}
}

// DefaultRegistry knows HLS and DASH.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	hls := func(opts Options) Parser { return NewHLSParser(opts) }
	dash := func(opts Options) Parser { return NewDASHParser(opts) }
	r.RegisterMIME("application/x-mpegurl", hls)
	r.RegisterMIME("application/vnd.apple.mpegurl", hls)
	r.RegisterMIME("audio/mpegurl", hls)
	r.RegisterExtension("m3u8", hls)
	r.RegisterMIME("application/dash+xml", dash)
	r.RegisterExtension("mpd", dash)
	return r
}

// RegisterMIME adds a factory for a MIME type.
func (r *Registry) RegisterMIME(mimeType string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byMIME[strings.ToLower(mimeType)] = f
}

// RegisterExtension adds a factory for a URI path extension (without dot).
func (r *Registry) RegisterExtension(ext string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byExtension[strings.ToLower(strings.TrimPrefix(ext, "."))] = f
}

// New picks a parser for uri. mimeType wins over the extension when set.
func (r *Registry) New(uri, mimeType string, opts Options) (Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if mimeType != "" {
		base, _, _ := strings.Cut(mimeType, ";")
		if f, ok := r.byMIME[strings.ToLower(strings.TrimSpace(base))]; ok {
			return f(opts), nil
		}
	}
	if f, ok := r.byExtension[extensionOf(uri)]; ok {
		return f(opts), nil
	}
	return nil, playerr.New(playerr.Critical, playerr.CategoryManifest, playerr.CodeManifestUnknownType,
		fmt.Sprintf("cannot determine manifest type of %q", uri)).
		WithData("mime_type", mimeType)
}

// MIMETypes lists the registered MIME types.
func (r *Registry) MIMETypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byMIME))
	for k := range r.byMIME {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func extensionOf(uri string) string {
	p := uri
	if u, err := url.Parse(uri); err == nil && u.Path != "" {
		p = u.Path
	}
	return strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
}

// resolveURI resolves ref against base; ref is returned unchanged when
// either does not parse.
func resolveURI(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// guessMIME maps a segment URI to a container MIME type.
func guessMIME(uri string, ct media.ContentType) string {
	switch extensionOf(uri) {
	case "ts", "m2ts", "mts":
		return "video/mp2t"
	case "vtt", "webvtt":
		return "text/vtt"
	case "aac":
		return "audio/aac"
	case "mp4", "m4s", "m4v", "m4a", "m4f", "cmfv", "cmfa", "cmft":
		if ct == media.ContentTypeAudio {
			return "audio/mp4"
		}
		return "video/mp4"
	}
	if ct == media.ContentTypeText {
		return "text/vtt"
	}
	return ""
}

func manifestInvalid(msg string, err error) error {
	return playerr.Wrap(playerr.Critical, playerr.CategoryManifest, playerr.CodeManifestInvalid, msg, err)
}

func manifestUpdateError(err error) error {
	return playerr.Wrap(playerr.Recoverable, playerr.CategoryManifest, playerr.CodeManifestUpdate,
		"manifest refresh failed", err)
}

// combineVariants builds the audio x video cross product. Streams of one
// kind alone become single-stream variants.
func combineVariants(videos, audios []*media.Stream) []*media.Variant {
	var out []*media.Variant
	add := func(video, audio *media.Stream) {
		v := &media.Variant{ID: len(out), Video: video, Audio: audio, Allowed: true}
		if video != nil {
			v.Bandwidth += video.Bandwidth
		}
		if audio != nil {
			v.Bandwidth += audio.Bandwidth
			v.Language = audio.Language
		}
		out = append(out, v)
	}

	switch {
	case len(videos) == 0:
		for _, a := range audios {
			add(nil, a)
		}
	case len(audios) == 0:
		for _, v := range videos {
			add(v, nil)
		}
	default:
		for _, v := range videos {
			for _, a := range audios {
				add(v, a)
			}
		}
	}
	return out
}

// idAllocator hands out stream IDs unique within one manifest.
type idAllocator struct {
	next int
}

func (a *idAllocator) id() int {
	a.next++
	return a.next
}

// fetchManifest fetches a playlist or MPD and returns its body and the URI
// it was finally served from.
func fetchManifest(ctx context.Context, f Fetcher, uri string, retry netfetch.RetryParameters) ([]byte, string, error) {
	resp, err := f.Fetch(ctx, netfetch.NewRequest(netfetch.RequestManifest, []string{uri}, retry))
	if err != nil {
		return nil, "", err
	}
	finalURI := resp.URI
	if finalURI == "" {
		finalURI = uri
	}
	return resp.Data, finalURI, nil
}

// refresher runs background refresh loops and waits for them on stop.
type refresher struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func (r *refresher) start(ctx context.Context, loop func(ctx context.Context)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ctx, cancel := context.WithCancel(ctx)
	prev := r.cancel
	r.cancel = func() {
		if prev != nil {
			prev()
		}
		cancel()
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		loop(ctx)
	}()
}

func (r *refresher) stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
