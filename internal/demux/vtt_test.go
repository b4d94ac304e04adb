package demux

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrplay/internal/playerr"
)

const testVTT = "\xef\xbb\xbfWEBVTT\r\n" +
	"\r\n" +
	"NOTE produced by the packager\r\n" +
	"\r\n" +
	"cue-1\r\n" +
	"00:00:10.000 --> 00:00:12.500 align:start\r\n" +
	"Hello\r\n" +
	"world\r\n" +
	"\r\n" +
	"00:13.000 --> 00:14.000\r\n" +
	"Second cue\r\n"

func TestVTTDemuxer_Cues(t *testing.T) {
	res, err := NewVTTDemuxer(nil).Demux(context.Background(), Input{Data: []byte(testVTT)})
	require.NoError(t, err)

	require.Len(t, res.Samples, 2)
	assert.InDelta(t, 10.0, res.Samples[0].PTS, 1e-9)
	assert.InDelta(t, 2.5, res.Samples[0].Duration, 1e-9)
	assert.Equal(t, "Hello\nworld", string(res.Samples[0].Data))
	assert.Equal(t, "Second cue", string(res.Samples[1].Data))
	assert.InDelta(t, 10.0, res.Start, 1e-9)
	assert.InDelta(t, 14.0, res.End, 1e-9)
}

func TestVTTDemuxer_TimestampMap(t *testing.T) {
	data := "WEBVTT\nX-TIMESTAMP-MAP=MPEGTS:900000,LOCAL:00:00:00.000\n\n00:00:01.000 --> 00:00:02.000\nx\n"

	res, err := NewVTTDemuxer(nil).Demux(context.Background(), Input{Data: []byte(data), TimestampOffset: -10})
	require.NoError(t, err)
	require.Len(t, res.Samples, 1)
	assert.InDelta(t, 1.0, res.Samples[0].PTS, 1e-9)
}

func TestVTTDemuxer_EmptySegmentCoversNominalRange(t *testing.T) {
	res, err := NewVTTDemuxer(nil).Demux(context.Background(), Input{
		Data:         []byte("WEBVTT\n\n"),
		SegmentStart: 20,
		SegmentEnd:   24,
	})
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.InDelta(t, 20.0, res.Start, 1e-9)
	assert.InDelta(t, 24.0, res.End, 1e-9)
}

func TestVTTDemuxer_Malformed(t *testing.T) {
	for name, data := range map[string]string{
		"no signature":     "00:00:01.000 --> 00:00:02.000\nx\n",
		"bad timestamp":    "WEBVTT\n\n00:00:aa.000 --> 00:00:02.000\nx\n",
		"end before start": "WEBVTT\n\n00:00:05.000 --> 00:00:02.000\nx\n",
		"no end":           "WEBVTT\n\n00:00:05.000 -->\nx\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := NewVTTDemuxer(nil).Demux(context.Background(), Input{Data: []byte(data)})
			require.Error(t, err)
			assert.Equal(t, playerr.CodeContainerParse, playerr.CodeOf(err))
		})
	}
}

func TestParseVTTTime(t *testing.T) {
	tests := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"00:00:01.500", 1.5, true},
		{"01:02:03.250", 3723.25, true},
		{"02:03.000", 123, true},
		{"1.5", 0, false},
		{"00:61:00.000", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseVTTTime(tt.in)
			if !tt.ok {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}
