package demux

import (
	"bytes"
	"context"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrplay/internal/playerr"
)

// buildTestTS muxes frames video frames at 30fps and frames AAC frames,
// starting at the given 90kHz timestamp.
func buildTestTS(t *testing.T, start int64, frames int) []byte {
	t.Helper()

	video := &mpegts.Track{PID: 256, Codec: &mpegts.CodecH264{}}
	audio := &mpegts.Track{PID: 257, Codec: &mpegts.CodecMPEG4Audio{
		Config: mpeg4audio.AudioSpecificConfig{
			Type:         mpeg4audio.ObjectTypeAACLC,
			SampleRate:   48000,
			ChannelCount: 2,
		},
	}}

	var buf bytes.Buffer
	w := &mpegts.Writer{W: &buf, Tracks: []*mpegts.Track{video, audio}}
	require.NoError(t, w.Initialize())

	for i := range frames {
		pts := start + int64(i)*3000
		au := [][]byte{{0x41, 0x9a, byte(i)}}
		if i == 0 {
			au = [][]byte{testSPS, testPPS, {0x65, 0x88, 0x84, 0x00}}
		}
		require.NoError(t, w.WriteH264(video, pts, pts, au))
		require.NoError(t, w.WriteMPEG4Audio(audio, start+int64(i)*1920, [][]byte{{0x21, 0x10, byte(i)}}))
	}
	return buf.Bytes()
}

func TestTSDemuxer_Demux(t *testing.T) {
	data := buildTestTS(t, 90000, 6)
	d := NewTSDemuxer(nil)

	res, err := d.Demux(context.Background(), Input{Data: data})
	require.NoError(t, err)

	require.Len(t, res.Tracks, 2)
	kinds := map[TrackKind]bool{}
	for _, tr := range res.Tracks {
		kinds[tr.Kind] = true
	}
	assert.True(t, kinds[TrackVideo])
	assert.True(t, kinds[TrackAudio])

	var video, audio []Sample
	for _, s := range res.Samples {
		switch s.Kind {
		case TrackVideo:
			video = append(video, s)
		case TrackAudio:
			audio = append(audio, s)
		}
	}
	require.GreaterOrEqual(t, len(video), 2)
	require.NotEmpty(t, audio)

	assert.True(t, video[0].Keyframe)
	assert.False(t, video[1].Keyframe)
	assert.InDelta(t, 1.0/30, video[1].PTS-video[0].PTS, 1e-6)
	assert.InDelta(t, 1.0/30, video[0].Duration, 1e-6)
	assert.InDelta(t, 1024.0/48000, audio[0].Duration, 1e-4)
	assert.InDelta(t, video[0].PTS, res.Start, 1e-9)
	assert.Greater(t, res.End, res.Start)
}

func TestTSDemuxer_TimestampOffset(t *testing.T) {
	data := buildTestTS(t, 90000, 4)

	base, err := NewTSDemuxer(nil).Demux(context.Background(), Input{Data: data})
	require.NoError(t, err)
	shifted, err := NewTSDemuxer(nil).Demux(context.Background(), Input{Data: data, TimestampOffset: -5})
	require.NoError(t, err)

	assert.InDelta(t, base.Start-5, shifted.Start, 1e-9)
}

func TestTSDemuxer_Errors(t *testing.T) {
	for name, data := range map[string][]byte{
		"empty":   nil,
		"garbage": bytes.Repeat([]byte{0x00}, 188*2),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewTSDemuxer(nil).Demux(context.Background(), Input{Data: data})
			require.Error(t, err)
			assert.Equal(t, playerr.CodeContainerParse, playerr.CodeOf(err))
			assert.False(t, playerr.IsCritical(err))
		})
	}
}

func TestProbeTSStartTime(t *testing.T) {
	start, err := ProbeTSStartTime(context.Background(), buildTestTS(t, 180000, 3))
	require.NoError(t, err)
	assert.InDelta(t, 2.0, start, 1e-9)

	_, err = ProbeTSStartTime(context.Background(), nil)
	require.Error(t, err)
}

func TestFillVideoDurations(t *testing.T) {
	samples := []Sample{
		{Track: 1, Kind: TrackVideo, DTS: 0},
		{Track: 1, Kind: TrackVideo, DTS: 0.04},
		{Track: 2, Kind: TrackAudio, DTS: 0.02, Duration: 0.021},
		{Track: 1, Kind: TrackVideo, DTS: 0.08},
	}
	fillVideoDurations(samples)

	assert.InDelta(t, 0.04, samples[0].Duration, 1e-9)
	assert.InDelta(t, 0.04, samples[1].Duration, 1e-9)
	assert.InDelta(t, 0.021, samples[2].Duration, 1e-9)
	assert.InDelta(t, 0.04, samples[3].Duration, 1e-9, "last frame reuses the previous duration")
}
