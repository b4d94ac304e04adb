package demux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h265"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mpegts"
)

// tsClockRate is the MPEG-TS 90kHz clock.
const tsClockRate = 90000.0

// TSDemuxer demuxes MPEG-TS segments with mediacommon.
type TSDemuxer struct {
	logger   *slog.Logger
	captions *captionExtractor
}

// NewTSDemuxer creates an MPEG-TS demuxer.
func NewTSDemuxer(logger *slog.Logger) *TSDemuxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &TSDemuxer{logger: logger, captions: newCaptionExtractor()}
}

// tsCollector accumulates samples for one Demux call.
type tsCollector struct {
	in       Input
	res      *Result
	captions *captionExtractor
}

func (c *tsCollector) seconds(ticks int64) float64 {
	return float64(ticks)/tsClockRate + c.in.TimestampOffset
}

func (c *tsCollector) video(track int, pts, dts int64, au [][]byte, keyframe, hevc bool) {
	if len(au) == 0 {
		return
	}
	payload, err := h264.AnnexB(au).Marshal()
	if err != nil || len(payload) == 0 {
		return
	}
	c.captions.feed(c.seconds(pts), au, hevc)
	c.res.Samples = append(c.res.Samples, Sample{
		Track:    track,
		Kind:     TrackVideo,
		PTS:      c.seconds(pts),
		DTS:      c.seconds(dts),
		Keyframe: keyframe,
		Data:     payload,
	})
}

func (c *tsCollector) audio(track int, pts, frameTicks int64, frames [][]byte) {
	for _, frame := range frames {
		if len(frame) == 0 {
			continue
		}
		c.res.Samples = append(c.res.Samples, Sample{
			Track:    track,
			Kind:     TrackAudio,
			PTS:      c.seconds(pts),
			DTS:      c.seconds(pts),
			Duration: float64(frameTicks) / tsClockRate,
			Keyframe: true,
			Data:     frame,
		})
		pts += frameTicks
	}
}

// Demux implements Demuxer. Init is ignored; TS segments are self-contained.
func (d *TSDemuxer) Demux(ctx context.Context, in Input) (*Result, error) {
	if len(in.Data) == 0 {
		return nil, containerError("empty segment", nil)
	}

	reader := &mpegts.Reader{R: bytes.NewReader(in.Data)}
	if err := reader.Initialize(); err != nil {
		return nil, containerError("initializing mpegts reader", err)
	}

	c := &tsCollector{
		in:       in,
		res:      &Result{},
		captions: d.captions,
	}

	for _, track := range reader.Tracks() {
		d.setupTrack(reader, track, c)
	}
	if len(c.res.Tracks) == 0 {
		return nil, containerError("no supported elementary streams", nil)
	}

	var decodeErrors int
	reader.OnDecodeError(func(err error) {
		decodeErrors++
		d.logger.Debug("MPEG-TS decode error", slog.String("error", err.Error()))
	})

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := reader.Read(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, containerError("reading mpegts", err)
		}
	}

	fillVideoDurations(c.res.Samples)
	c.res.Captions = d.captions.drain()

	res := finish(c.res, in)
	if decodeErrors > 0 {
		d.logger.Debug("MPEG-TS segment demuxed with decode errors",
			slog.Int("decode_errors", decodeErrors),
			slog.Int("samples", len(res.Samples)))
	}
	return res, nil
}

// setupTrack registers a callback for a supported track.
func (d *TSDemuxer) setupTrack(reader *mpegts.Reader, track *mpegts.Track, c *tsCollector) {
	id := int(track.PID)

	switch codec := track.Codec.(type) {
	case *mpegts.CodecH264:
		c.res.Tracks = append(c.res.Tracks, Track{ID: id, Kind: TrackVideo, Codec: "h264", TimeScale: tsClockRate})
		reader.OnDataH264(track, func(pts, dts int64, au [][]byte) error {
			c.video(id, pts, dts, au, h264.IsRandomAccess(au), false)
			return nil
		})

	case *mpegts.CodecH265:
		c.res.Tracks = append(c.res.Tracks, Track{ID: id, Kind: TrackVideo, Codec: "h265", TimeScale: tsClockRate})
		reader.OnDataH265(track, func(pts, dts int64, au [][]byte) error {
			c.video(id, pts, dts, au, h265.IsRandomAccess(au), true)
			return nil
		})

	case *mpegts.CodecMPEG4Audio:
		sampleRate := codec.Config.SampleRate
		if sampleRate <= 0 {
			sampleRate = 48000
		}
		// AAC frames carry 1024 samples.
		frameTicks := int64(1024 * tsClockRate / float64(sampleRate))
		c.res.Tracks = append(c.res.Tracks, Track{ID: id, Kind: TrackAudio, Codec: "aac", TimeScale: tsClockRate})
		reader.OnDataMPEG4Audio(track, func(pts int64, aus [][]byte) error {
			c.audio(id, pts, frameTicks, aus)
			return nil
		})

	case *mpegts.CodecAC3:
		sampleRate := codec.SampleRate
		if sampleRate <= 0 {
			sampleRate = 48000
		}
		frameTicks := int64(1536 * tsClockRate / float64(sampleRate))
		c.res.Tracks = append(c.res.Tracks, Track{ID: id, Kind: TrackAudio, Codec: "ac-3", TimeScale: tsClockRate})
		reader.OnDataAC3(track, func(pts int64, frame []byte) error {
			c.audio(id, pts, frameTicks, [][]byte{frame})
			return nil
		})

	case *mpegts.CodecMPEG1Audio:
		// 1152 samples at 48kHz.
		frameTicks := int64(2160)
		c.res.Tracks = append(c.res.Tracks, Track{ID: id, Kind: TrackAudio, Codec: "mp3", TimeScale: tsClockRate})
		reader.OnDataMPEG1Audio(track, func(pts int64, frames [][]byte) error {
			c.audio(id, pts, frameTicks, frames)
			return nil
		})

	case *mpegts.CodecOpus:
		// 20ms packets.
		frameTicks := int64(1800)
		c.res.Tracks = append(c.res.Tracks, Track{ID: id, Kind: TrackAudio, Codec: "opus", TimeScale: tsClockRate})
		reader.OnDataOpus(track, func(pts int64, packets [][]byte) error {
			c.audio(id, pts, frameTicks, packets)
			return nil
		})

	default:
		d.logger.Debug("skipping unsupported MPEG-TS track",
			slog.Uint64("pid", uint64(track.PID)),
			slog.String("type", fmt.Sprintf("%T", track.Codec)))
	}
}

// fillVideoDurations derives each video frame's duration from the next
// frame's DTS; the last frame reuses its predecessor's duration.
func fillVideoDurations(samples []Sample) {
	byTrack := make(map[int][]int)
	for i, s := range samples {
		if s.Kind == TrackVideo {
			byTrack[s.Track] = append(byTrack[s.Track], i)
		}
	}
	for _, idx := range byTrack {
		var last float64
		for n, i := range idx {
			if n+1 < len(idx) {
				d := samples[idx[n+1]].DTS - samples[i].DTS
				if d > 0 {
					last = d
				}
			}
			samples[i].Duration = last
		}
		// Patch the first frames that preceded any positive delta.
		for _, i := range idx {
			if samples[i].Duration > 0 {
				break
			}
			samples[i].Duration = last
		}
	}
}
