package abr

import "math"

// ewma is an exponentially weighted moving average whose decay is expressed
// as a half-life in the same unit as the sample weights (seconds here).
type ewma struct {
	alpha       float64
	estimate    float64
	totalWeight float64
}

func newEWMA(halfLife float64) *ewma {
	return &ewma{alpha: math.Exp(math.Log(0.5) / halfLife)}
}

func (e *ewma) sample(weight, value float64) {
	adjAlpha := math.Pow(e.alpha, weight)
	next := value*(1-adjAlpha) + adjAlpha*e.estimate
	if math.IsNaN(next) || math.IsInf(next, 0) {
		return
	}
	e.estimate = next
	e.totalWeight += weight
}

// value corrects the zero-initialized bias of the average.
func (e *ewma) value() float64 {
	zeroFactor := 1 - math.Pow(e.alpha, e.totalWeight)
	if zeroFactor <= 0 {
		return 0
	}
	return e.estimate / zeroFactor
}
