package demux

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/fmp4"
	"github.com/bluenviron/mediacommon/v2/pkg/formats/mp4"

	"github.com/jmylchreest/abrplay/internal/playerr"
)

// mp4Track is a parsed init track.
type mp4Track struct {
	Track
	hevc bool
}

// MP4Demuxer demuxes fragmented MP4 media segments against an init segment.
type MP4Demuxer struct {
	logger   *slog.Logger
	captions *captionExtractor

	initBytes []byte
	tracks    map[int]mp4Track
}

// NewMP4Demuxer creates an fMP4 demuxer.
func NewMP4Demuxer(logger *slog.Logger) *MP4Demuxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &MP4Demuxer{logger: logger, captions: newCaptionExtractor()}
}

// parseInit parses init, reusing the previous result when the bytes match.
func (d *MP4Demuxer) parseInit(init []byte) (map[int]mp4Track, error) {
	if len(init) == 0 {
		return nil, playerr.New(playerr.Critical, playerr.CategoryMedia, playerr.CodeMissingInitSegment,
			"fMP4 media segment without an init segment")
	}
	if d.tracks != nil && bytes.Equal(d.initBytes, init) {
		return d.tracks, nil
	}

	var parsed fmp4.Init
	if err := parsed.Unmarshal(bytes.NewReader(init)); err != nil {
		return nil, containerError("parsing init segment", err)
	}

	tracks := make(map[int]mp4Track, len(parsed.Tracks))
	for _, t := range parsed.Tracks {
		tr := mp4Track{Track: Track{ID: t.ID, TimeScale: t.TimeScale}}
		switch t.Codec.(type) {
		case *mp4.CodecH264:
			tr.Kind, tr.Codec = TrackVideo, "h264"
		case *mp4.CodecH265:
			tr.Kind, tr.Codec, tr.hevc = TrackVideo, "h265", true
		case *mp4.CodecAV1:
			tr.Kind, tr.Codec = TrackVideo, "av1"
		case *mp4.CodecVP9:
			tr.Kind, tr.Codec = TrackVideo, "vp9"
		case *mp4.CodecMPEG4Audio:
			tr.Kind, tr.Codec = TrackAudio, "aac"
		case *mp4.CodecOpus:
			tr.Kind, tr.Codec = TrackAudio, "opus"
		case *mp4.CodecAC3:
			tr.Kind, tr.Codec = TrackAudio, "ac-3"
		case *mp4.CodecMPEG1Audio:
			tr.Kind, tr.Codec = TrackAudio, "mp3"
		default:
			d.logger.Debug("skipping unsupported fMP4 track", slog.Int("track_id", t.ID))
			continue
		}
		if tr.TimeScale == 0 {
			tr.TimeScale = 90000
		}
		tracks[t.ID] = tr
	}

	d.initBytes = bytes.Clone(init)
	d.tracks = tracks
	d.logger.Debug("parsed fMP4 init segment", slog.Int("tracks", len(tracks)))
	return tracks, nil
}

// Demux implements Demuxer.
func (d *MP4Demuxer) Demux(ctx context.Context, in Input) (*Result, error) {
	tracks, err := d.parseInit(in.Init)
	if err != nil {
		return nil, err
	}
	if len(in.Data) == 0 {
		return nil, containerError("empty segment", nil)
	}

	var parts fmp4.Parts
	if err := parts.Unmarshal(in.Data); err != nil {
		return nil, containerError("parsing media segment", err)
	}

	res := &Result{}
	seen := make(map[int]bool)
	for _, part := range parts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, pt := range part.Tracks {
			tr, ok := tracks[pt.ID]
			if !ok {
				continue
			}
			if !seen[pt.ID] {
				seen[pt.ID] = true
				res.Tracks = append(res.Tracks, tr.Track)
			}
			d.collect(res, tr, pt, in.TimestampOffset)
		}
	}

	res.Captions = d.captions.drain()
	return finish(res, in), nil
}

func (d *MP4Demuxer) collect(res *Result, tr mp4Track, pt *fmp4.PartTrack, offset float64) {
	scale := float64(tr.TimeScale)
	dts := pt.BaseTime
	for _, s := range pt.Samples {
		pts := int64(dts) + int64(s.PTSOffset)
		sample := Sample{
			Track:    tr.ID,
			Kind:     tr.Kind,
			PTS:      float64(pts)/scale + offset,
			DTS:      float64(dts)/scale + offset,
			Duration: float64(s.Duration) / scale,
			Keyframe: !s.IsNonSyncSample,
			Data:     s.Payload,
		}
		if tr.Kind == TrackAudio {
			sample.Keyframe = true
		}
		if tr.Codec == "h264" || tr.Codec == "h265" {
			var au h264.AVCC
			if err := au.Unmarshal(s.Payload); err == nil {
				d.captions.feed(sample.PTS, au, tr.hevc)
			}
		}
		res.Samples = append(res.Samples, sample)
		dts += uint64(s.Duration)
	}
}

// ProbeFMP4StartTime returns the earliest presentation time, in seconds, of
// a media segment. It is used to derive a stream's timestamp offset.
func ProbeFMP4StartTime(init, data []byte) (float64, error) {
	d := NewMP4Demuxer(slog.New(slog.DiscardHandler))
	tracks, err := d.parseInit(init)
	if err != nil {
		return 0, err
	}

	var parts fmp4.Parts
	if err := parts.Unmarshal(data); err != nil {
		return 0, containerError("parsing media segment", err)
	}

	best, found := 0.0, false
	for _, part := range parts {
		for _, pt := range part.Tracks {
			tr, ok := tracks[pt.ID]
			if !ok {
				continue
			}
			t := float64(pt.BaseTime) / float64(tr.TimeScale)
			if len(pt.Samples) > 0 {
				t += float64(pt.Samples[0].PTSOffset) / float64(tr.TimeScale)
			}
			if !found || t < best {
				best, found = t, true
			}
		}
	}
	if !found {
		return 0, containerError("no samples in media segment", nil)
	}
	return best, nil
}
