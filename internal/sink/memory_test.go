package sink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrplay/internal/demux"
	"github.com/jmylchreest/abrplay/internal/media"
	"github.com/jmylchreest/abrplay/internal/playerr"
)

func segment(start, end float64, samples int, size int) (*media.SegmentReference, *demux.Result) {
	ref := media.MustSegmentReference(start, end, []string{"seg"}, media.SegmentOptions{})
	res := &demux.Result{Start: start, End: end}
	step := (end - start) / float64(samples)
	for i := range samples {
		res.Samples = append(res.Samples, demux.Sample{
			Kind:     demux.TrackVideo,
			PTS:      start + float64(i)*step,
			DTS:      start + float64(i)*step,
			Duration: step,
			Data:     make([]byte, size),
		})
	}
	return ref, res
}

func newSink(t *testing.T, quota int64) *MemorySink {
	t.Helper()
	s := NewMemorySink(Config{Quota: quota}, nil)
	t.Cleanup(s.Close)
	return s
}

func TestMemorySink_AppendAndBuffered(t *testing.T) {
	ctx := context.Background()
	s := newSink(t, 1<<20)
	require.NoError(t, s.AppendInit(ctx, media.ContentTypeVideo, "video/mp4", []byte("init")))

	for _, r := range [][2]float64{{0, 4}, {4, 8}, {10, 14}} {
		ref, res := segment(r[0], r[1], 4, 100)
		require.NoError(t, s.AppendMedia(ctx, media.ContentTypeVideo, ref, res))
	}

	assert.Equal(t, []media.TimeRange{{Start: 0, End: 8}, {Start: 10, End: 14}}, s.Buffered(media.ContentTypeVideo))
	assert.Equal(t, s.Buffered(media.ContentTypeVideo), s.BufferedAll())

	st := s.Stats()
	assert.Equal(t, int64(1200), st.CurrentSize)
	assert.Equal(t, 3, st.Types[media.ContentTypeVideo].Segments)
	assert.Equal(t, 12, st.Types[media.ContentTypeVideo].Samples)
}

func TestMemorySink_AppendBeforeInit(t *testing.T) {
	s := newSink(t, 1<<20)
	ref, res := segment(0, 4, 1, 10)

	err := s.AppendMedia(context.Background(), media.ContentTypeAudio, ref, res)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoInit)
	assert.Equal(t, playerr.CodeAppendFailed, playerr.CodeOf(err))
}

func TestMemorySink_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	s := newSink(t, 1000)
	require.NoError(t, s.AppendInit(ctx, media.ContentTypeVideo, "video/mp4", nil))

	ref, res := segment(0, 4, 4, 200)
	require.NoError(t, s.AppendMedia(ctx, media.ContentTypeVideo, ref, res))

	ref, res = segment(4, 8, 4, 200)
	err := s.AppendMedia(ctx, media.ContentTypeVideo, ref, res)
	require.Error(t, err)
	assert.Equal(t, playerr.CodeQuotaExceeded, playerr.CodeOf(err))
	assert.False(t, playerr.IsCritical(err))

	require.NoError(t, s.Remove(ctx, media.ContentTypeVideo, 0, 3))
	assert.Equal(t, int64(200), s.Stats().CurrentSize)
	require.NoError(t, s.AppendMedia(ctx, media.ContentTypeVideo, ref, res))
	assert.Equal(t, []media.TimeRange{{Start: 3, End: 8}}, s.Buffered(media.ContentTypeVideo))
}

func TestMemorySink_QuotaCountsReplacedSpan(t *testing.T) {
	ctx := context.Background()
	s := newSink(t, 1000)
	require.NoError(t, s.AppendInit(ctx, media.ContentTypeVideo, "video/mp4", nil))

	ref, res := segment(0, 4, 4, 200)
	require.NoError(t, s.AppendMedia(ctx, media.ContentTypeVideo, ref, res))

	// Re-appending the same span at a higher bitrate fits once the old
	// segment's bytes are released.
	ref, res = segment(0, 4, 4, 225)
	require.NoError(t, s.AppendMedia(ctx, media.ContentTypeVideo, ref, res))
	assert.Equal(t, int64(900), s.Stats().CurrentSize)

	// A partial overlap only releases the covered samples.
	ref, res = segment(2, 6, 4, 150)
	err := s.AppendMedia(ctx, media.ContentTypeVideo, ref, res)
	require.Error(t, err)
	assert.Equal(t, playerr.CodeQuotaExceeded, playerr.CodeOf(err))
	assert.Equal(t, int64(900), s.Stats().CurrentSize)
	assert.Equal(t, []media.TimeRange{{Start: 0, End: 4}}, s.Buffered(media.ContentTypeVideo))
}

func TestMemorySink_Remove(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		start, end float64
		want       []media.TimeRange
		wantSize   int64
	}{
		{name: "head", start: 0, end: 4, want: []media.TimeRange{{Start: 4, End: 8}}, wantSize: 400},
		{name: "middle splits", start: 2, end: 6, want: []media.TimeRange{{Start: 0, End: 2}, {Start: 6, End: 8}}, wantSize: 400},
		{name: "tail", start: 7, end: 100, want: []media.TimeRange{{Start: 0, End: 7}}, wantSize: 700},
		{name: "outside", start: 20, end: 30, want: []media.TimeRange{{Start: 0, End: 8}}, wantSize: 800},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSink(t, 1<<20)
			require.NoError(t, s.AppendInit(ctx, media.ContentTypeVideo, "video/mp4", nil))
			for _, r := range [][2]float64{{0, 4}, {4, 8}} {
				ref, res := segment(r[0], r[1], 4, 100)
				require.NoError(t, s.AppendMedia(ctx, media.ContentTypeVideo, ref, res))
			}

			require.NoError(t, s.Remove(ctx, media.ContentTypeVideo, tt.start, tt.end))
			assert.Equal(t, tt.want, s.Buffered(media.ContentTypeVideo))
			assert.Equal(t, tt.wantSize, s.Stats().CurrentSize)
		})
	}

	s := newSink(t, 1<<20)
	assert.ErrorIs(t, s.Remove(ctx, media.ContentTypeVideo, 5, 5), ErrInvalidRange)
}

func TestMemorySink_OverlappingAppendReplaces(t *testing.T) {
	ctx := context.Background()
	s := newSink(t, 1<<20)
	require.NoError(t, s.AppendInit(ctx, media.ContentTypeVideo, "video/mp4", nil))

	ref, res := segment(0, 4, 4, 100)
	require.NoError(t, s.AppendMedia(ctx, media.ContentTypeVideo, ref, res))
	ref, res = segment(2, 6, 4, 50)
	require.NoError(t, s.AppendMedia(ctx, media.ContentTypeVideo, ref, res))

	assert.Equal(t, []media.TimeRange{{Start: 0, End: 6}}, s.Buffered(media.ContentTypeVideo))
	assert.Equal(t, int64(400), s.Stats().CurrentSize)
	assert.Len(t, s.Samples(media.ContentTypeVideo, 0, 6), 6)
}

func TestMemorySink_EndOfStream(t *testing.T) {
	ctx := context.Background()
	s := newSink(t, 1<<20)
	require.NoError(t, s.AppendInit(ctx, media.ContentTypeVideo, "video/mp4", nil))
	require.NoError(t, s.AppendInit(ctx, media.ContentTypeAudio, "audio/mp4", nil))
	assert.False(t, s.Ended())

	require.NoError(t, s.EndOfStream(ctx, media.ContentTypeVideo))
	assert.False(t, s.Ended())
	require.NoError(t, s.EndOfStream(ctx, media.ContentTypeAudio))
	assert.True(t, s.Ended())

	require.NoError(t, s.Clear(ctx, media.ContentTypeAudio))
	assert.False(t, s.Ended())
}

func TestMemorySink_BufferedAllIntersectsAudioVideo(t *testing.T) {
	ctx := context.Background()
	s := newSink(t, 1<<20)
	for _, ct := range []media.ContentType{media.ContentTypeVideo, media.ContentTypeAudio, media.ContentTypeText} {
		require.NoError(t, s.AppendInit(ctx, ct, "x", nil))
	}
	ref, res := segment(0, 8, 1, 1)
	require.NoError(t, s.AppendMedia(ctx, media.ContentTypeVideo, ref, res))
	ref, res = segment(0, 6, 1, 1)
	require.NoError(t, s.AppendMedia(ctx, media.ContentTypeAudio, ref, res))

	assert.Equal(t, []media.TimeRange{{Start: 0, End: 6}}, s.BufferedAll())
}

func TestMemorySink_ChangedAndClose(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySink(Config{Quota: 1 << 20}, nil)
	require.NoError(t, s.AppendInit(ctx, media.ContentTypeVideo, "video/mp4", nil))

	changed := s.Changed()
	ref, res := segment(0, 4, 1, 1)
	require.NoError(t, s.AppendMedia(ctx, media.ContentTypeVideo, ref, res))
	select {
	case <-changed:
	case <-time.After(time.Second):
		t.Fatal("append did not signal a change")
	}

	s.Close()
	s.Close()
	assert.ErrorIs(t, s.AppendInit(ctx, media.ContentTypeVideo, "video/mp4", nil), ErrClosed)
	assert.Zero(t, s.Stats().CurrentSize)
}

func TestMemorySink_SystemQuota(t *testing.T) {
	s := NewMemorySink(Config{}, nil)
	defer s.Close()
	assert.GreaterOrEqual(t, s.Quota(), int64(minSystemQuota))
}
