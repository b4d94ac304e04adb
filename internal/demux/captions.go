package demux

import (
	"github.com/zsiec/ccx"
)

const (
	h264NALTypeSEI       = 6
	h265NALTypeSEIPrefix = 39
)

// captionExtractor decodes CEA-608 captions carried in video SEI messages.
// One extractor lives per demuxer so decoder state spans segments.
type captionExtractor struct {
	decoders map[int]*ccx.CEA608Decoder
	pending  []Caption
}

func newCaptionExtractor() *captionExtractor {
	return &captionExtractor{
		decoders: map[int]*ccx.CEA608Decoder{
			1: ccx.NewCEA608Decoder(),
			2: ccx.NewCEA608Decoder(),
			3: ccx.NewCEA608Decoder(),
			4: ccx.NewCEA608Decoder(),
		},
	}
}

// feed inspects one access unit's NAL units.
func (c *captionExtractor) feed(pts float64, au [][]byte, hevc bool) {
	for _, nalu := range au {
		if !isSEI(nalu, hevc) {
			continue
		}
		cd := ccx.ExtractCaptions(nalu)
		if cd == nil {
			continue
		}
		for _, pair := range cd.CC608Pairs {
			dec := c.decoders[pair.Channel]
			if dec == nil {
				continue
			}
			if text := dec.Decode(pair.Data[0], pair.Data[1]); text != "" {
				c.add(Caption{Channel: pair.Channel, Start: pts, Text: text})
			}
		}
	}
}

// add closes the previous caption on the same channel at the new start.
func (c *captionExtractor) add(cc Caption) {
	for i := len(c.pending) - 1; i >= 0; i-- {
		if c.pending[i].Channel == cc.Channel {
			if c.pending[i].End == 0 {
				c.pending[i].End = cc.Start
			}
			break
		}
	}
	c.pending = append(c.pending, cc)
}

// drain returns the captions decoded since the last drain.
func (c *captionExtractor) drain() []Caption {
	out := c.pending
	c.pending = nil
	return out
}

func isSEI(nalu []byte, hevc bool) bool {
	if len(nalu) < 2 {
		return false
	}
	if hevc {
		return (nalu[0]>>1)&0x3F == h265NALTypeSEIPrefix
	}
	return nalu[0]&0x1F == h264NALTypeSEI
}
