package demux

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// VTTDemuxer turns WebVTT segments into text samples, one per cue.
// Cues are not rendered; only their timing and payload are kept.
type VTTDemuxer struct {
	logger *slog.Logger
}

// NewVTTDemuxer creates a WebVTT demuxer.
func NewVTTDemuxer(logger *slog.Logger) *VTTDemuxer {
	if logger == nil {
		logger = slog.Default()
	}
	return &VTTDemuxer{logger: logger}
}

// Demux implements Demuxer. A segment without cues still covers its
// nominal range so the text loop can advance past it.
func (d *VTTDemuxer) Demux(ctx context.Context, in Input) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data := bytes.TrimPrefix(in.Data, []byte("\xef\xbb\xbf"))
	if !bytes.HasPrefix(data, []byte("WEBVTT")) {
		return nil, containerError("missing WEBVTT signature", nil)
	}

	cues, mapping, err := parseVTT(data)
	if err != nil {
		return nil, containerError("parsing WebVTT", err)
	}

	res := &Result{Tracks: []Track{{ID: 1, Kind: TrackText, Codec: "wvtt", TimeScale: 1000}}}
	for _, c := range cues {
		start := c.start + mapping + in.TimestampOffset
		end := c.end + mapping + in.TimestampOffset
		res.Samples = append(res.Samples, Sample{
			Track:    1,
			Kind:     TrackText,
			PTS:      start,
			DTS:      start,
			Duration: end - start,
			Keyframe: true,
			Data:     []byte(c.text),
		})
	}

	res = finish(res, in)
	if res.Empty() {
		res.Start, res.End = in.SegmentStart, in.SegmentEnd
	}
	return res, nil
}

type vttCue struct {
	start, end float64
	text       string
}

// parseVTT returns the cues and the X-TIMESTAMP-MAP shift (LOCAL to
// MPEGTS), in seconds.
func parseVTT(data []byte) ([]vttCue, float64, error) {
	var (
		cues    []vttCue
		shift   float64
		current *vttCue
		body    []string
	)

	flush := func() {
		if current != nil {
			current.text = strings.Join(body, "\n")
			cues = append(cues, *current)
		}
		current, body = nil, nil
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")

		switch {
		case strings.HasPrefix(line, "X-TIMESTAMP-MAP="):
			s, err := parseTimestampMap(strings.TrimPrefix(line, "X-TIMESTAMP-MAP="))
			if err != nil {
				return nil, 0, err
			}
			shift = s

		case strings.Contains(line, "-->"):
			flush()
			startStr, rest, _ := strings.Cut(line, "-->")
			endStr := strings.Fields(rest)
			if len(endStr) == 0 {
				return nil, 0, fmt.Errorf("cue timing %q has no end", line)
			}
			start, err := parseVTTTime(strings.TrimSpace(startStr))
			if err != nil {
				return nil, 0, err
			}
			end, err := parseVTTTime(endStr[0])
			if err != nil {
				return nil, 0, err
			}
			if end < start {
				return nil, 0, fmt.Errorf("cue ends before it starts: %q", line)
			}
			current = &vttCue{start: start, end: end}

		case line == "":
			flush()

		default:
			if current != nil {
				body = append(body, line)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, 0, err
	}
	flush()
	return cues, shift, nil
}

// parseTimestampMap handles "MPEGTS:900000,LOCAL:00:00:00.000".
func parseTimestampMap(v string) (float64, error) {
	var mpegts, local float64
	for field := range strings.SplitSeq(v, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(field), ":")
		if !ok {
			return 0, fmt.Errorf("malformed X-TIMESTAMP-MAP %q", v)
		}
		switch key {
		case "MPEGTS":
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("malformed MPEGTS value %q: %w", val, err)
			}
			mpegts = float64(n) / tsClockRate
		case "LOCAL":
			t, err := parseVTTTime(val)
			if err != nil {
				return 0, err
			}
			local = t
		}
	}
	return mpegts - local, nil
}

// parseVTTTime parses "hh:mm:ss.ttt" or "mm:ss.ttt".
func parseVTTTime(s string) (float64, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}

	secs, err := strconv.ParseFloat(parts[len(parts)-1], 64)
	if err != nil || secs < 0 || secs >= 60 {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}
	mins, err := strconv.Atoi(parts[len(parts)-2])
	if err != nil || mins < 0 || mins >= 60 {
		return 0, fmt.Errorf("malformed timestamp %q", s)
	}
	var hours int
	if len(parts) == 3 {
		hours, err = strconv.Atoi(parts[0])
		if err != nil || hours < 0 {
			return 0, fmt.Errorf("malformed timestamp %q", s)
		}
	}
	return float64(hours*3600+mins*60) + secs, nil
}
