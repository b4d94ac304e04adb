package abr

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/abrplay/internal/media"
)

func variant(id int, bandwidth int64, width, height int) *media.Variant {
	v := &media.Variant{ID: id, Bandwidth: bandwidth, Allowed: true}
	if width > 0 {
		v.Video = &media.Stream{Type: media.ContentTypeVideo, Width: width, Height: height, Bandwidth: bandwidth}
	}
	return v
}

func defaultTargets() Targets {
	return Targets{Downgrade: DefaultDowngradeTarget, Upgrade: DefaultUpgradeTarget, PlaybackRate: 1}
}

// crossProduct builds one variant per audio/video pair.
func crossProduct(audioKbps, videoKbps []int64) []*media.Variant {
	var out []*media.Variant
	id := 0
	for _, a := range audioKbps {
		for _, v := range videoKbps {
			out = append(out, &media.Variant{
				ID:        id,
				Bandwidth: (a + v) * 1000,
				Allowed:   true,
				Audio:     &media.Stream{Type: media.ContentTypeAudio, Bandwidth: a * 1000},
				Video:     &media.Stream{Type: media.ContentTypeVideo, Bandwidth: v * 1000, Width: int(v), Height: int(v) / 2},
			})
			id++
		}
	}
	return out
}

func TestChoose_AudioVideoLadder(t *testing.T) {
	variants := crossProduct([]int64{400, 500, 600}, []int64{500, 1000, 2000, 3000})

	est := NewBandwidthEstimator(DefaultEstimatorConfig())
	for range 6 {
		require.True(t, est.Sample(4*time.Second, 1_388_889))
	}
	estimate := est.Estimate(DefaultBandwidthEstimate)
	require.Equal(t, int64(2_777_778), estimate)

	chosen := Choose(variants, estimate, Restrictions{}, nil, defaultTargets())
	require.NotNil(t, chosen)
	assert.Equal(t, int64(500_000), chosen.Audio.Bandwidth)
	assert.Equal(t, int64(2_000_000), chosen.Video.Bandwidth)
}

func TestChoose(t *testing.T) {
	low := variant(0, 500_000, 640, 360)
	mid := variant(1, 1_000_000, 1280, 720)
	high := variant(2, 2_000_000, 1920, 1080)
	all := []*media.Variant{low, mid, high}

	tests := []struct {
		name     string
		estimate int64
		active   *media.Variant
		r        Restrictions
		want     *media.Variant
	}{
		{name: "fits highest", estimate: 10_000_000, want: high},
		{name: "fits middle", estimate: 1_500_000, want: mid},
		{name: "nothing fits picks lowest", estimate: 100_000, want: low},
		{name: "upgrade needs headroom", estimate: 2_400_000, active: mid, want: mid},
		{name: "upgrade with headroom", estimate: 2_600_000, active: mid, want: high},
		{name: "upgrade skips to highest with headroom", estimate: 2_400_000, active: low, want: mid},
		{name: "downgrade when active no longer fits", estimate: 1_000_000, active: high, want: low},
		{name: "stay when active still fits", estimate: 1_200_000, active: mid, want: mid},
		{name: "restriction max height", estimate: 10_000_000, r: Restrictions{MaxHeight: 720}, want: mid},
		{name: "restriction max bandwidth", estimate: 10_000_000, r: Restrictions{MaxBandwidth: 600_000}, want: low},
		{name: "unsatisfiable restriction falls back", estimate: 10_000_000, r: Restrictions{MinWidth: 4000}, want: high},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Choose(all, tt.estimate, tt.r, tt.active, defaultTargets())
			assert.Same(t, tt.want, got)
		})
	}
}

func TestChoose_Idempotent(t *testing.T) {
	variants := crossProduct([]int64{64, 128}, []int64{300, 800, 1600, 4000})

	for _, estimate := range []int64{100_000, 900_000, 1_800_000, 3_100_000, 9_000_000} {
		first := Choose(variants, estimate, Restrictions{}, nil, defaultTargets())
		active := first
		for range 5 {
			next := Choose(variants, estimate, Restrictions{}, active, defaultTargets())
			assert.Same(t, first, next, "estimate %d", estimate)
			active = next
		}
	}
}

func TestChoose_TieBreaks(t *testing.T) {
	sd := variant(0, 1_000_000, 640, 360)
	hd := variant(1, 1_000_000, 1280, 720)
	hdDup := variant(2, 1_000_000, 1280, 720)

	got := Choose([]*media.Variant{sd, hd, hdDup}, 5_000_000, Restrictions{}, nil, defaultTargets())
	assert.Same(t, hd, got)
}

func TestChoose_TrickPlayScalesBandwidth(t *testing.T) {
	low := variant(0, 500_000, 640, 360)
	high := variant(1, 2_000_000, 1920, 1080)

	targets := defaultTargets()
	assert.Same(t, high, Choose([]*media.Variant{low, high}, 3_000_000, Restrictions{}, nil, targets))

	targets.PlaybackRate = -2
	assert.Same(t, low, Choose([]*media.Variant{low, high}, 3_000_000, Restrictions{}, nil, targets))
}

func TestChoose_SkipsDisallowed(t *testing.T) {
	low := variant(0, 500_000, 640, 360)
	high := variant(1, 2_000_000, 1920, 1080)
	high.Allowed = false

	assert.Same(t, low, Choose([]*media.Variant{low, high}, 10_000_000, Restrictions{}, nil, defaultTargets()))
	assert.Nil(t, Choose(nil, 10_000_000, Restrictions{}, nil, defaultTargets()))
}

func TestRestrictions_AudioOnlyIgnoresVideoLimits(t *testing.T) {
	audio := variant(0, 128_000, 0, 0)
	r := Restrictions{MinWidth: 640, MinHeight: 360}
	assert.True(t, r.Allows(audio))

	fps := variant(1, 1_000_000, 1280, 720)
	fps.Video.FrameRate = 60
	assert.False(t, Restrictions{MaxFrameRate: 30}.Allows(fps))
	assert.True(t, Restrictions{MaxFrameRate: 60}.Allows(fps))
}
