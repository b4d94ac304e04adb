package player

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrplay/internal/config"
	"github.com/jmylchreest/abrplay/internal/demux"
	"github.com/jmylchreest/abrplay/internal/netfetch"
	"github.com/jmylchreest/abrplay/internal/playerr"
	"github.com/jmylchreest/abrplay/internal/store"
)

const testBase = "https://cdn.example/show/"

const multivariant = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
low.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2500000,RESOLUTION=1280x720
high.m3u8
`

func mediaPlaylist(prefix string, segments int) string {
	out := "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:2\n#EXT-X-MEDIA-SEQUENCE:0\n"
	for i := range segments {
		out += fmt.Sprintf("#EXTINF:2.000,\n%s%d.ts\n", prefix, i)
	}
	return out + "#EXT-X-ENDLIST\n"
}

type fakeFetcher struct {
	mu       sync.Mutex
	files    map[string][]byte
	requests []string
}

func newFakeFetcher() *fakeFetcher {
	f := &fakeFetcher{files: map[string][]byte{
		testBase + "master.m3u8": []byte(multivariant),
		testBase + "low.m3u8":    []byte(mediaPlaylist("low", 5)),
		testBase + "high.m3u8":   []byte(mediaPlaylist("high", 5)),
	}}
	for i := range 5 {
		f.files[fmt.Sprintf("%slow%d.ts", testBase, i)] = make([]byte, 1000)
		f.files[fmt.Sprintf("%shigh%d.ts", testBase, i)] = make([]byte, 3000)
	}
	return f
}

func (f *fakeFetcher) Fetch(_ context.Context, req *netfetch.Request) (*netfetch.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	uri := req.URIs[0]
	f.requests = append(f.requests, uri)
	data, ok := f.files[uri]
	if !ok {
		return nil, playerr.New(playerr.Recoverable, playerr.CategoryNetwork, playerr.CodeBadHTTPStatus, "404 for "+uri)
	}
	return &netfetch.Response{URI: uri, OriginalURI: uri, Data: data, Status: 200, Duration: 10 * time.Millisecond}, nil
}

func (f *fakeFetcher) fetched(uri string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r == uri {
			return true
		}
	}
	return false
}

// wholeSegment reports every segment as one keyframe spanning its reference.
type wholeSegment struct{}

func (wholeSegment) Demux(_ context.Context, in demux.Input) (*demux.Result, error) {
	return &demux.Result{
		Start: in.SegmentStart,
		End:   in.SegmentEnd,
		Bytes: len(in.Data),
		Samples: []demux.Sample{{
			Kind:     demux.TrackVideo,
			PTS:      in.SegmentStart,
			DTS:      in.SegmentStart,
			Duration: in.SegmentEnd - in.SegmentStart,
			Keyframe: true,
			Data:     in.Data,
		}},
	}, nil
}

func testDemuxers() *demux.Registry {
	r := demux.NewRegistry()
	r.Register("video/mp2t", func(*slog.Logger) demux.Demuxer { return wholeSegment{} })
	return r
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Streaming.IdleInterval = 20 * time.Millisecond
	cfg.Streaming.BufferingGoal = 30 * time.Second
	cfg.Streaming.BufferQuota = config.ByteSize(64 << 20)
	cfg.ABR.Enabled = false
	cfg.ABR.DefaultBandwidthEstimate = config.Bitrate(1_000_000)
	return cfg
}

func openSession(t *testing.T, opts Options) (*Session, *fakeFetcher) {
	t.Helper()
	f := newFakeFetcher()
	opts.Fetcher = f
	opts.Demuxers = testDemuxers()
	if opts.Config == nil {
		opts.Config = testConfig()
	}
	s, err := Open(context.Background(), testBase+"master.m3u8", opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s, f
}

func TestSession_PlaysToEnd(t *testing.T) {
	s, f := openSession(t, Options{})
	require.Len(t, s.Manifest().Variants, 2)

	require.NoError(t, s.Start(context.Background(), math.NaN()))

	select {
	case <-s.Ended():
	case <-time.After(5 * time.Second):
		t.Fatal("session never ended")
	}

	// 1Mbps default estimate picks the 800k variant. The first segment of
	// every playlist is fetched once while probing timestamps.
	assert.True(t, f.fetched(testBase+"low4.ts"))
	assert.False(t, f.fetched(testBase+"high1.ts"))

	stats := s.Stats()
	assert.False(t, stats.Live)
	assert.InDelta(t, 10.0, stats.SeekRangeEnd, 1e-9)
	assert.Equal(t, s.Manifest().Variants[0].ID, stats.Streaming.ActiveVariantID)
	assert.Equal(t, s.ID(), stats.ID)
}

func TestSession_SelectVariantDisablesAdaptation(t *testing.T) {
	cfg := testConfig()
	cfg.ABR.Enabled = true
	s, f := openSession(t, Options{Config: cfg})
	require.NoError(t, s.Start(context.Background(), 0))
	assert.True(t, s.Stats().ABR.Enabled)

	high := s.Manifest().Variants[1]
	require.NoError(t, s.SelectVariant(high.ID, true, 0))
	assert.False(t, s.Stats().ABR.Enabled)

	assert.Eventually(t, func() bool {
		return f.fetched(testBase + "high4.ts")
	}, 5*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return s.Stats().ABR.ActiveVariantID == high.ID
	}, 5*time.Second, 10*time.Millisecond)

	err := s.SelectVariant(99, false, 0)
	assert.ErrorIs(t, err, ErrUnknownVariant)
	assert.ErrorIs(t, s.SelectTextStream(7), ErrUnknownTextStream)
}

func TestSession_Configure(t *testing.T) {
	s, _ := openSession(t, Options{})

	cfg, err := s.Configure(map[string]any{
		"streaming.buffering_goal": "20s",
		"abr.enabled":              true,
	})
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, cfg.Streaming.BufferingGoal)
	assert.Same(t, cfg, s.Config())
	assert.True(t, s.Stats().ABR.Enabled)

	_, err = s.Configure(map[string]any{"streaming.no_such_key": 1})
	assert.Error(t, err)
	assert.Equal(t, 20*time.Second, s.Config().Streaming.BufferingGoal)
}

func TestSession_HistorySeedsEstimateAndRecordsSession(t *testing.T) {
	ctx := context.Background()
	db, err := store.Open(ctx, config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:", LogLevel: "silent"}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	history := store.NewBandwidthHistory(db)
	sessions := store.NewSessions(db)
	require.NoError(t, history.Record(ctx, "cdn.example", 5_000_000, 100_000))

	f := newFakeFetcher()
	s, err := Open(ctx, testBase+"master.m3u8", Options{
		Config:   testConfig(),
		Fetcher:  f,
		Demuxers: testDemuxers(),
		History:  history,
		Sessions: sessions,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5_000_000), s.Stats().ABR.Estimate)

	require.NoError(t, s.Start(ctx, 0))
	select {
	case <-s.Ended():
	case <-time.After(5 * time.Second):
		t.Fatal("session never ended")
	}
	// The seeded estimate affords the 2.5M variant.
	assert.True(t, f.fetched(testBase+"high4.ts"))

	require.NoError(t, s.Close(ctx))
	rec, err := sessions.Get(ctx, s.ID())
	require.NoError(t, err)
	assert.Equal(t, testBase+"master.m3u8", rec.ManifestURI)
	assert.Equal(t, s.Manifest().Variants[1].ID, rec.FinalVariantID)
	assert.False(t, rec.EndedAt.Before(rec.StartedAt))
}

func TestSession_OpenErrors(t *testing.T) {
	_, err := Open(context.Background(), "https://cdn.example/movie.unknown", Options{
		Config:  testConfig(),
		Fetcher: newFakeFetcher(),
	})
	require.Error(t, err)
	assert.Equal(t, playerr.CodeManifestUnknownType, playerr.CodeOf(err))

	_, err = Open(context.Background(), testBase+"missing.m3u8", Options{
		Config:  testConfig(),
		Fetcher: newFakeFetcher(),
	})
	require.Error(t, err)
}
