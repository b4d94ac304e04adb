package demux

import (
	"bytes"
	"context"
	"errors"

	"github.com/asticode/go-astits"
)

// ProbeTSStartTime returns the lowest PES presentation timestamp, in
// seconds, found in an MPEG-TS segment. Only PES headers are inspected, so
// it is cheaper than a full demux.
func ProbeTSStartTime(ctx context.Context, data []byte) (float64, error) {
	dmx := astits.NewDemuxer(ctx, bytes.NewReader(data))

	var (
		best  int64
		found bool
	)
	for {
		d, err := dmx.NextData()
		if err != nil {
			if errors.Is(err, astits.ErrNoMorePackets) {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, ctxErr
			}
			return 0, containerError("probing mpegts timestamps", err)
		}
		if d == nil || d.PES == nil || d.PES.Header == nil || d.PES.Header.OptionalHeader == nil {
			continue
		}
		pts := d.PES.Header.OptionalHeader.PTS
		if pts == nil {
			continue
		}
		if !found || pts.Base < best {
			best, found = pts.Base, true
		}
	}

	if !found {
		return 0, containerError("no PES timestamps in segment", nil)
	}
	return float64(best) / tsClockRate, nil
}
