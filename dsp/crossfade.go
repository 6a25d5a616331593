package dsp

import "math"

// EqualPowerGains returns the fade-out gain for the outgoing pipeline and
// the fade-in gain for the incoming one at the given progress in [0,1].
// out² + in² == 1 for all progress, so perceived loudness stays constant
// through the handover.
func EqualPowerGains(progress float64) (out, in float32) {
	if progress <= 0 {
		return 1, 0
	}
	if progress >= 1 {
		return 0, 1
	}
	angle := progress * math.Pi / 2
	return float32(math.Cos(angle)), float32(math.Sin(angle))
}

// Peak returns the largest absolute sample value in buf.
func Peak(buf []float32) float32 {
	var peak float32
	for _, v := range buf {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}
