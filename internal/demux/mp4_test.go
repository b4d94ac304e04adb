package demux

import (
	"context"
	"testing"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/mpeg4audio"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4/seekablebuffer"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrplay/internal/playerr"
)

// Baseline profile, level 3.0, 640x480.
var (
	testSPS = []byte{0x67, 0x42, 0xc0, 0x1e, 0xd9, 0x00, 0x50, 0x1e, 0xd8, 0x08, 0x00, 0x00, 0x03, 0x00, 0x08, 0x00, 0x00, 0x03, 0x00, 0x3c, 0x8f, 0x16, 0x2d, 0x96}
	testPPS = []byte{0x68, 0xce, 0x06, 0xe2}
)

const (
	testVideoTrackID = 1
	testAudioTrackID = 2
)

func buildTestInit(t *testing.T) []byte {
	t.Helper()
	init := fmp4.Init{
		Tracks: []*fmp4.InitTrack{
			{
				ID:        testVideoTrackID,
				TimeScale: 90000,
				Codec:     &mp4.CodecH264{SPS: testSPS, PPS: testPPS},
			},
			{
				ID:        testAudioTrackID,
				TimeScale: 48000,
				Codec: &mp4.CodecMPEG4Audio{Config: mpeg4audio.AudioSpecificConfig{
					Type:         mpeg4audio.ObjectTypeAACLC,
					SampleRate:   48000,
					ChannelCount: 2,
				}},
			},
		},
	}
	var buf seekablebuffer.Buffer
	require.NoError(t, init.Marshal(&buf))
	return buf.Bytes()
}

func avcc(t *testing.T, nalus ...[]byte) []byte {
	t.Helper()
	b, err := h264.AVCC(nalus).Marshal()
	require.NoError(t, err)
	return b
}

// buildTestFragment writes three 1/30s video frames starting at 1s and two
// AAC frames starting at audioBase/48000.
func buildTestFragment(t *testing.T, audioBase uint64) []byte {
	t.Helper()
	part := fmp4.Part{
		SequenceNumber: 1,
		Tracks: []*fmp4.PartTrack{
			{
				ID:       testVideoTrackID,
				BaseTime: 90000,
				Samples: []*fmp4.Sample{
					{Duration: 3000, Payload: avcc(t, []byte{0x65, 0x88, 0x84, 0x00})},
					{Duration: 3000, IsNonSyncSample: true, Payload: avcc(t, []byte{0x41, 0x9a, 0x00})},
					{Duration: 3000, IsNonSyncSample: true, Payload: avcc(t, []byte{0x41, 0x9a, 0x01})},
				},
			},
			{
				ID:       testAudioTrackID,
				BaseTime: audioBase,
				Samples: []*fmp4.Sample{
					{Duration: 1024, Payload: []byte{0x21, 0x10, 0x04}},
					{Duration: 1024, Payload: []byte{0x21, 0x10, 0x05}},
				},
			},
		},
	}
	var buf seekablebuffer.Buffer
	require.NoError(t, part.Marshal(&buf))
	return buf.Bytes()
}

func TestMP4Demuxer_Demux(t *testing.T) {
	init := buildTestInit(t)
	data := buildTestFragment(t, 48000)
	d := NewMP4Demuxer(nil)

	res, err := d.Demux(context.Background(), Input{Init: init, Data: data, TimestampOffset: 10})
	require.NoError(t, err)

	require.Len(t, res.Tracks, 2)
	require.Len(t, res.Samples, 5)
	assert.InDelta(t, 11.0, res.Start, 1e-6)
	assert.InDelta(t, 11.1, res.End, 1e-6)

	var video []Sample
	for _, s := range res.Samples {
		if s.Kind == TrackVideo {
			video = append(video, s)
		}
	}
	require.Len(t, video, 3)
	assert.True(t, video[0].Keyframe)
	assert.False(t, video[1].Keyframe)
	assert.InDelta(t, 11.0+1.0/30, video[1].PTS, 1e-6)
	assert.InDelta(t, 1.0/30, video[1].Duration, 1e-6)
}

func TestMP4Demuxer_AppendWindow(t *testing.T) {
	d := NewMP4Demuxer(nil)
	res, err := d.Demux(context.Background(), Input{
		Init:            buildTestInit(t),
		Data:            buildTestFragment(t, 48000),
		TimestampOffset: 10,
		WindowStart:     11,
		WindowEnd:       11.05,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Dropped)
	assert.InDelta(t, 11.05, res.End, 1e-6)
}

func TestMP4Demuxer_ReusesParsedInit(t *testing.T) {
	init := buildTestInit(t)
	d := NewMP4Demuxer(nil)

	_, err := d.Demux(context.Background(), Input{Init: init, Data: buildTestFragment(t, 48000)})
	require.NoError(t, err)
	first := d.tracks

	_, err = d.Demux(context.Background(), Input{Init: append([]byte(nil), init...), Data: buildTestFragment(t, 48000)})
	require.NoError(t, err)
	assert.Equal(t, first, d.tracks)
}

func TestMP4Demuxer_Errors(t *testing.T) {
	init := buildTestInit(t)

	tests := []struct {
		name     string
		in       Input
		wantCode playerr.Code
		critical bool
	}{
		{"missing init", Input{Data: []byte{0, 0, 0, 8}}, playerr.CodeMissingInitSegment, true},
		{"corrupt init", Input{Init: []byte{0, 0, 0, 64, 'm', 'o', 'o', 'v'}, Data: []byte{1}}, playerr.CodeContainerParse, false},
		{"corrupt fragment", Input{Init: init, Data: []byte{0, 0, 0, 64, 'm', 'o', 'o', 'f'}}, playerr.CodeContainerParse, false},
		{"empty fragment", Input{Init: init}, playerr.CodeContainerParse, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMP4Demuxer(nil).Demux(context.Background(), tt.in)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, playerr.CodeOf(err))
			assert.Equal(t, tt.critical, playerr.IsCritical(err))
		})
	}
}

func TestProbeFMP4StartTime(t *testing.T) {
	start, err := ProbeFMP4StartTime(buildTestInit(t), buildTestFragment(t, 47040))
	require.NoError(t, err)
	assert.InDelta(t, 0.98, start, 1e-9)
}
