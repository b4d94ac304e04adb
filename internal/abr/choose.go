package abr

import (
	"math"

	"github.com/jmylchreest/abrplay/internal/media"
)

// Targets are the hysteresis factors applied by Choose.
type Targets struct {
	// Downgrade scales the estimate into the budget a variant must fit in.
	Downgrade float64
	// Upgrade is the extra headroom a higher variant needs before leaving
	// the active one.
	Upgrade float64
	// PlaybackRate multiplies each variant's bandwidth (trick play).
	PlaybackRate float64
}

// Choose picks a variant for the given bandwidth estimate (bits/s). The
// result is the highest-bandwidth variant that fits the downgrade budget;
// moving up from active additionally requires the upgrade headroom. When
// nothing fits the lowest variant is returned. Returns nil only for an
// empty input.
func Choose(variants []*media.Variant, estimate int64, r Restrictions, active *media.Variant, t Targets) *media.Variant {
	candidates := make([]*media.Variant, 0, len(variants))
	for _, v := range variants {
		if v.Allowed {
			candidates = append(candidates, v)
		}
	}
	if len(candidates) == 0 {
		candidates = variants
	}
	candidates = r.Filter(candidates)
	if len(candidates) == 0 {
		return nil
	}

	rate := math.Abs(t.PlaybackRate)
	if rate == 0 {
		rate = 1
	}
	downgrade := t.Downgrade
	if downgrade <= 0 {
		downgrade = 1
	}
	upgrade := t.Upgrade
	if upgrade <= 0 {
		upgrade = 1
	}
	budget := float64(estimate) * downgrade
	cost := func(v *media.Variant) float64 { return float64(v.Bandwidth) * rate }

	var best, lowest *media.Variant
	for _, v := range candidates {
		if lowest == nil || cost(v) < cost(lowest) ||
			(cost(v) == cost(lowest) && v.Pixels() > lowest.Pixels()) {
			lowest = v
		}
		if cost(v) <= budget && better(v, best) {
			best = v
		}
	}
	if best == nil {
		best = lowest
	}

	if active == nil || !contains(candidates, active) || cost(active) > budget {
		return best
	}
	if best.Bandwidth <= active.Bandwidth {
		return active
	}

	var up *media.Variant
	for _, v := range candidates {
		if v.Bandwidth > active.Bandwidth && cost(v)*upgrade <= budget && better(v, up) {
			up = v
		}
	}
	if up == nil {
		return active
	}
	return up
}

// better orders by bandwidth, then resolution. Equal variants keep the
// earlier candidate.
func better(v, than *media.Variant) bool {
	if than == nil {
		return true
	}
	if v.Bandwidth != than.Bandwidth {
		return v.Bandwidth > than.Bandwidth
	}
	return v.Pixels() > than.Pixels()
}

func contains(variants []*media.Variant, v *media.Variant) bool {
	for _, c := range variants {
		if c == v {
			return true
		}
	}
	return false
}
