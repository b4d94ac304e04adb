package manifest

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrplay/internal/config"
	"github.com/jmylchreest/abrplay/internal/media"
	"github.com/jmylchreest/abrplay/internal/playerr"
)

const hlsVOD = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:0
#EXTINF:4.000,
seg0.ts
#EXTINF:4.000,
seg1.ts
#EXTINF:2.500,
seg2.ts
#EXT-X-ENDLIST
`

func TestHLSParser_MediaPlaylistVOD(t *testing.T) {
	f := newFakeFetcher(map[string]string{"https://cdn.example/vod/index.m3u8": hlsVOD})
	p := NewHLSParser(Options{Fetcher: f})
	defer p.Stop()

	m, err := p.Start(context.Background(), "https://cdn.example/vod/index.m3u8", nil)
	require.NoError(t, err)

	require.Len(t, m.Variants, 1)
	video := m.Variants[0].Video
	require.NotNil(t, video)
	assert.Equal(t, "video/mp2t", video.MimeType)

	refs := video.Index.Snapshot()
	require.Len(t, refs, 3)
	assert.InDelta(t, 0.0, refs[0].StartTime(), 1e-9)
	assert.InDelta(t, 8.0, refs[2].StartTime(), 1e-9)
	assert.InDelta(t, 10.5, refs[2].EndTime(), 1e-9)
	assert.Equal(t, []string{"https://cdn.example/vod/seg1.ts"}, refs[1].URIs())

	assert.False(t, m.Timeline.IsLive())
	assert.InDelta(t, 10.5, m.Timeline.Duration(), 1e-9)
}

const hlsMultivariant = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aac",NAME="English",LANGUAGE="en",DEFAULT=YES,AUTOSELECT=YES,URI="audio/en.m3u8"
#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="aac",NAME="Deutsch",LANGUAGE="de",AUTOSELECT=YES,URI="audio/de.m3u8"
#EXT-X-MEDIA:TYPE=SUBTITLES,GROUP-ID="subs",NAME="English",LANGUAGE="en",AUTOSELECT=YES,URI="subs/en.m3u8"
#EXT-X-STREAM-INF:BANDWIDTH=1200000,CODECS="avc1.4d401f,mp4a.40.2",RESOLUTION=960x540,FRAME-RATE=25.000,AUDIO="aac",SUBTITLES="subs"
video/540.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=3500000,CODECS="avc1.640028,mp4a.40.2",RESOLUTION=1920x1080,FRAME-RATE=25.000,AUDIO="aac",SUBTITLES="subs"
video/1080.m3u8
`

const hlsFMP4Media = `#EXTM3U
#EXT-X-VERSION:6
#EXT-X-TARGETDURATION:2
#EXT-X-MAP:URI="init.mp4"
#EXTINF:2.000,
s0.m4s
#EXTINF:2.000,
s1.m4s
#EXT-X-ENDLIST
`

const hlsSubtitles = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXTINF:4.000,
en0.vtt
#EXT-X-ENDLIST
`

func TestHLSParser_Multivariant(t *testing.T) {
	base := "https://cdn.example/show/"
	f := newFakeFetcher(map[string]string{
		base + "master.m3u8":     hlsMultivariant,
		base + "video/540.m3u8":  hlsFMP4Media,
		base + "video/1080.m3u8": hlsFMP4Media,
		base + "audio/en.m3u8":   hlsFMP4Media,
		base + "audio/de.m3u8":   hlsFMP4Media,
		base + "subs/en.m3u8":    hlsSubtitles,
	})
	p := NewHLSParser(Options{Fetcher: f})
	defer p.Stop()

	m, err := p.Start(context.Background(), base+"master.m3u8", nil)
	require.NoError(t, err)

	require.Len(t, m.Variants, 4)
	first := m.Variants[0]
	require.NotNil(t, first.Video)
	require.NotNil(t, first.Audio)
	assert.Equal(t, int64(1_200_000), first.Bandwidth)
	assert.Equal(t, 960, first.Video.Width)
	assert.Equal(t, 540, first.Video.Height)
	assert.InDelta(t, 25.0, first.Video.FrameRate, 1e-9)
	assert.Equal(t, "avc1.4d401f", first.Video.Codecs)
	assert.Equal(t, "mp4a.40.2", first.Audio.Codecs)
	assert.Equal(t, "video/mp4", first.Video.MimeType)
	assert.Equal(t, "audio/mp4", first.Audio.MimeType)
	assert.Equal(t, "en", first.Language)
	assert.Equal(t, "de", m.Variants[1].Language)

	// Audio renditions are shared between the two video variants.
	assert.Same(t, m.Variants[0].Audio, m.Variants[2].Audio)
	assert.Same(t, m.Variants[0].Video, m.Variants[1].Video)

	require.Len(t, m.TextStreams, 1)
	assert.Equal(t, "en", m.TextStreams[0].Language)
	assert.Equal(t, "text/vtt", m.TextStreams[0].MimeType)

	refs := first.Video.Index.Snapshot()
	require.Len(t, refs, 2)
	require.NotNil(t, refs[0].Init())
	assert.Same(t, refs[0].Init(), refs[1].Init())
	assert.Equal(t, []string{base + "video/init.mp4"}, refs[0].Init().URIs())
	assert.Equal(t, 2, first.Video.Index.InitReferenceCount(refs[0].Init()))
}

func TestHLSParser_ByteRanges(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-VERSION:4
#EXT-X-TARGETDURATION:4
#EXTINF:4.000,
#EXT-X-BYTERANGE:1000@0
all.ts
#EXTINF:4.000,
#EXT-X-BYTERANGE:500
all.ts
#EXT-X-ENDLIST
`
	f := newFakeFetcher(map[string]string{"https://cdn.example/br.m3u8": playlist})
	p := NewHLSParser(Options{Fetcher: f})
	defer p.Stop()

	m, err := p.Start(context.Background(), "https://cdn.example/br.m3u8", nil)
	require.NoError(t, err)

	refs := m.Variants[0].Video.Index.Snapshot()
	require.Len(t, refs, 2)
	assert.Equal(t, int64(0), refs[0].StartByte())
	assert.Equal(t, int64(999), refs[0].EndByte())
	assert.Equal(t, int64(1000), refs[1].StartByte())
	assert.Equal(t, int64(1499), refs[1].EndByte())
}

func TestHLSParser_AudioOnlyPlaylist(t *testing.T) {
	playlist := `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXTINF:6.000,
a0.aac
#EXT-X-ENDLIST
`
	f := newFakeFetcher(map[string]string{"https://cdn.example/radio.m3u8": playlist})
	p := NewHLSParser(Options{Fetcher: f})
	defer p.Stop()

	m, err := p.Start(context.Background(), "https://cdn.example/radio.m3u8", nil)
	require.NoError(t, err)
	require.Len(t, m.Variants, 1)
	assert.Nil(t, m.Variants[0].Video)
	require.NotNil(t, m.Variants[0].Audio)
	assert.Equal(t, media.ContentTypeAudio, m.Variants[0].Audio.Type)
	assert.Equal(t, "audio/aac", m.Variants[0].Audio.MimeType)
}

func TestHLSParser_LiveRefresh(t *testing.T) {
	uri := "https://cdn.example/live/index.m3u8"
	f := newFakeFetcher(map[string]string{uri: `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:10
#EXTINF:4.000,
s10.ts
#EXTINF:4.000,
s11.ts
#EXTINF:4.000,
s12.ts
`})

	var updates atomic.Int32
	p := NewHLSParser(Options{
		Fetcher: f,
		Config:  config.ManifestConfig{UpdatePeriod: 10 * time.Millisecond},
	})
	defer p.Stop()

	m, err := p.Start(context.Background(), uri, HandlerFuncs{OnUpdate: func() { updates.Add(1) }})
	require.NoError(t, err)
	assert.True(t, m.Timeline.IsLive())
	assert.InDelta(t, 12.0, m.Timeline.PresentationDelay(), 1e-9)

	f.set(uri, `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:4
#EXT-X-MEDIA-SEQUENCE:11
#EXTINF:4.000,
s11.ts
#EXTINF:4.000,
s12.ts
#EXTINF:4.000,
s13.ts
#EXT-X-ENDLIST
`)

	index := m.Variants[0].Video.Index
	require.Eventually(t, func() bool { return index.Len() == 4 }, 2*time.Second, 5*time.Millisecond)
	assert.Positive(t, updates.Load())

	refs := index.Snapshot()
	assert.InDelta(t, 12.0, refs[3].StartTime(), 1e-9)
	assert.Equal(t, []string{"https://cdn.example/live/s13.ts"}, refs[3].URIs())

	assert.Eventually(t, func() bool { return !m.Timeline.IsLive() }, time.Second, 5*time.Millisecond)
	assert.InDelta(t, 16.0, m.Timeline.Duration(), 1e-9)
}

func TestHLSParser_RefreshErrorIsReported(t *testing.T) {
	uri := "https://cdn.example/live/err.m3u8"
	f := newFakeFetcher(map[string]string{uri: `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:2
#EXTINF:2.000,
s0.ts
`})

	errs := make(chan error, 8)
	p := NewHLSParser(Options{
		Fetcher: f,
		Config:  config.ManifestConfig{UpdatePeriod: 5 * time.Millisecond},
	})
	defer p.Stop()

	_, err := p.Start(context.Background(), uri, HandlerFuncs{OnError: func(err error) {
		select {
		case errs <- err:
		default:
		}
	}})
	require.NoError(t, err)

	f.set(uri, "not a playlist")
	select {
	case err := <-errs:
		assert.Equal(t, playerr.CodeManifestUpdate, playerr.CodeOf(err))
		assert.False(t, playerr.IsCritical(err))
	case <-time.After(2 * time.Second):
		t.Fatal("refresh error not reported")
	}
}

func TestHLSParser_Errors(t *testing.T) {
	f := newFakeFetcher(map[string]string{
		"https://cdn.example/bad.m3u8": "<html>nope</html>",
	})

	_, err := NewHLSParser(Options{Fetcher: f}).Start(context.Background(), "https://cdn.example/bad.m3u8", nil)
	require.Error(t, err)
	assert.Equal(t, playerr.CodeManifestInvalid, playerr.CodeOf(err))
	assert.True(t, playerr.IsCritical(err))

	_, err = NewHLSParser(Options{Fetcher: f}).Start(context.Background(), "https://cdn.example/missing.m3u8", nil)
	require.Error(t, err)
	assert.Equal(t, playerr.CodeBadHTTPStatus, playerr.CodeOf(err))
}

func TestSplitCodecs(t *testing.T) {
	video, audio := splitCodecs([]string{"avc1.64001f", " mp4a.40.2", "ec-3", "wvtt"})
	assert.Equal(t, []string{"avc1.64001f"}, video)
	assert.Equal(t, []string{"mp4a.40.2", "ec-3"}, audio)
}

func TestParseResolution(t *testing.T) {
	w, h := parseResolution("1280x720")
	assert.Equal(t, 1280, w)
	assert.Equal(t, 720, h)

	w, h = parseResolution("bogus")
	assert.Zero(t, w)
	assert.Zero(t, h)
}
