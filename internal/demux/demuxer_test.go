package demux

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrplay/internal/playerr"
)

func TestRegistry_Default(t *testing.T) {
	r := DefaultRegistry()

	tests := []struct {
		mime string
		want bool
	}{
		{"video/mp4", true},
		{`video/mp4; codecs="avc1.64001f"`, true},
		{"AUDIO/MP4", true},
		{"video/mp2t", true},
		{"text/vtt", true},
		{"application/ttml+xml", false},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Supports(tt.mime))
		})
	}

	d, err := r.New("video/mp2t", nil)
	require.NoError(t, err)
	assert.IsType(t, &TSDemuxer{}, d)

	_, err = r.New("application/ttml+xml", nil)
	require.Error(t, err)
	assert.Equal(t, playerr.CodeUnsupportedCodec, playerr.CodeOf(err))
	assert.True(t, playerr.IsCritical(err))
}

func TestRegistry_RegisterOverrides(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.MIMETypes())

	r.Register("text/vtt", func(_ *slog.Logger) Demuxer { return NewVTTDemuxer(nil) })
	r.Register("video/mp4", func(_ *slog.Logger) Demuxer { return NewMP4Demuxer(nil) })
	assert.Equal(t, []string{"text/vtt", "video/mp4"}, r.MIMETypes())
}

func TestFinish_AppendWindow(t *testing.T) {
	res := &Result{Samples: []Sample{
		{Kind: TrackVideo, PTS: 9.5, DTS: 9.5, Duration: 0.5, Data: []byte{1}},
		{Kind: TrackVideo, PTS: 10.5, DTS: 10.5, Duration: 0.5, Data: []byte{1, 2}},
		{Kind: TrackVideo, PTS: 10, DTS: 10, Duration: 0.5, Data: []byte{1, 2, 3}},
		{Kind: TrackAudio, PTS: 10, DTS: 10, Duration: 2, Data: []byte{1}},
		{Kind: TrackVideo, PTS: 11.8, DTS: 11.8, Duration: 0.5, Data: []byte{1}},
		{Kind: TrackVideo, PTS: 12, DTS: 12, Duration: 0.5, Data: []byte{1}},
	}}

	out := finish(res, Input{WindowStart: 10, WindowEnd: 12})

	require.Len(t, out.Samples, 4)
	assert.Equal(t, 2, out.Dropped)
	assert.InDelta(t, 10.0, out.Samples[0].DTS, 1e-9)
	assert.InDelta(t, 10.0, out.Start, 1e-9)
	assert.InDelta(t, 12.0, out.End, 1e-9, "last frame truncated at the window end")
	assert.Equal(t, 3+1+2+1, out.Bytes)
}

func TestFinish_AudioOnlyPrimary(t *testing.T) {
	res := &Result{
		Samples: []Sample{
			{Kind: TrackAudio, PTS: 4, DTS: 4, Duration: 2},
			{Kind: TrackAudio, PTS: 6, DTS: 6, Duration: 2},
		},
		Captions: []Caption{{Channel: 1, Start: 5, Text: "hi"}},
	}

	out := finish(res, Input{})
	assert.InDelta(t, 4.0, out.Start, 1e-9)
	assert.InDelta(t, 8.0, out.End, 1e-9)
	assert.InDelta(t, 8.0, out.Captions[0].End, 1e-9, "open caption closed at the segment end")
}

func TestCaptionExtractor_AddDrain(t *testing.T) {
	c := newCaptionExtractor()
	c.add(Caption{Channel: 1, Start: 1, Text: "first"})
	c.add(Caption{Channel: 2, Start: 1.5, Text: "other channel"})
	c.add(Caption{Channel: 1, Start: 3, Text: "second"})

	got := c.drain()
	require.Len(t, got, 3)
	assert.InDelta(t, 3.0, got[0].End, 1e-9)
	assert.Zero(t, got[1].End)
	assert.Zero(t, got[2].End)
	assert.Empty(t, c.drain())
}

func TestIsSEI(t *testing.T) {
	assert.True(t, isSEI([]byte{0x06, 0x04}, false))
	assert.False(t, isSEI([]byte{0x65, 0x88}, false))
	assert.True(t, isSEI([]byte{39 << 1, 0x01}, true))
	assert.False(t, isSEI([]byte{0x26, 0x01}, true))
	assert.False(t, isSEI([]byte{0x06}, false))
}
