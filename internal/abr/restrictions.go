package abr

import "github.com/jmylchreest/abrplay/internal/media"

// Restrictions limit which variants the adaptation logic may pick. Zero
// maximums are unbounded. Video limits are ignored for audio-only variants.
type Restrictions struct {
	MinWidth     int     `mapstructure:"min_width" json:"min_width"`
	MaxWidth     int     `mapstructure:"max_width" json:"max_width"`
	MinHeight    int     `mapstructure:"min_height" json:"min_height"`
	MaxHeight    int     `mapstructure:"max_height" json:"max_height"`
	MinPixels    int     `mapstructure:"min_pixels" json:"min_pixels"`
	MaxPixels    int     `mapstructure:"max_pixels" json:"max_pixels"`
	MinFrameRate float64 `mapstructure:"min_frame_rate" json:"min_frame_rate"`
	MaxFrameRate float64 `mapstructure:"max_frame_rate" json:"max_frame_rate"`
	MinBandwidth int64   `mapstructure:"min_bandwidth" json:"min_bandwidth"`
	MaxBandwidth int64   `mapstructure:"max_bandwidth" json:"max_bandwidth"`
}

// Allows reports whether v satisfies every restriction.
func (r Restrictions) Allows(v *media.Variant) bool {
	if v.Bandwidth < r.MinBandwidth || (r.MaxBandwidth > 0 && v.Bandwidth > r.MaxBandwidth) {
		return false
	}
	if v.Video == nil {
		return true
	}
	if !inRange(v.Width(), r.MinWidth, r.MaxWidth) ||
		!inRange(v.Height(), r.MinHeight, r.MaxHeight) ||
		!inRange(v.Pixels(), r.MinPixels, r.MaxPixels) {
		return false
	}
	fr := v.FrameRate()
	if fr > 0 {
		if fr < r.MinFrameRate || (r.MaxFrameRate > 0 && fr > r.MaxFrameRate) {
			return false
		}
	}
	return true
}

func inRange(value, lo, hi int) bool {
	return value >= lo && (hi <= 0 || value <= hi)
}

// Filter returns the variants that satisfy r. When none do, every input
// variant is returned so playback can continue.
func (r Restrictions) Filter(variants []*media.Variant) []*media.Variant {
	out := make([]*media.Variant, 0, len(variants))
	for _, v := range variants {
		if r.Allows(v) {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return variants
	}
	return out
}
