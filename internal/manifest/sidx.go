package manifest

import (
	"bytes"
	"errors"
	"fmt"

	gomp4 "github.com/abema/go-mp4"
)

// sidxEntry is one subsegment listed by a segment index box.
type sidxEntry struct {
	startByte int64
	endByte   int64
	time      uint64
	duration  uint64
}

// parseSidx reads the first sidx box in data. anchor is the file offset of
// the first byte after the box, which first_offset is relative to.
func parseSidx(data []byte, anchor int64) (timescale uint64, entries []sidxEntry, err error) {
	boxes, err := gomp4.ExtractBoxWithPayload(bytes.NewReader(data), nil, gomp4.BoxPath{gomp4.BoxTypeSidx()})
	if err != nil {
		return 0, nil, fmt.Errorf("reading segment index: %w", err)
	}
	if len(boxes) == 0 {
		return 0, nil, errors.New("segment index box not found")
	}
	sidx, ok := boxes[0].Payload.(*gomp4.Sidx)
	if !ok || sidx.Timescale == 0 {
		return 0, nil, errors.New("malformed segment index box")
	}

	offset := anchor + int64(sidx.GetFirstOffset())
	t := sidx.GetEarliestPresentationTime()
	entries = make([]sidxEntry, 0, len(sidx.References))
	for _, ref := range sidx.References {
		if ref.ReferenceType {
			return 0, nil, errors.New("hierarchical segment indexes are not supported")
		}
		entries = append(entries, sidxEntry{
			startByte: offset,
			endByte:   offset + int64(ref.ReferencedSize) - 1,
			time:      t,
			duration:  uint64(ref.SubsegmentDuration),
		})
		offset += int64(ref.ReferencedSize)
		t += uint64(ref.SubsegmentDuration)
	}
	return uint64(sidx.Timescale), entries, nil
}
