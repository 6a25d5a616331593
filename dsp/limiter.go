package dsp

// DefaultLimiterThreshold is where the soft knee begins, in full scale.
const DefaultLimiterThreshold = 0.85

// SoftLimiter compresses overshoot above a threshold asymptotically toward
// a ceiling of 1.0. Below the threshold it is the identity. Sign is
// preserved. The gain processor engages it only when the composite gain can
// push samples past unity.
type SoftLimiter struct {
	threshold float32
	headroom  float32
}

// NewSoftLimiter creates a limiter with the given threshold in (0,1).
func NewSoftLimiter(threshold float32) SoftLimiter {
	if threshold <= 0 || threshold >= 1 {
		threshold = DefaultLimiterThreshold
	}
	return SoftLimiter{threshold: threshold, headroom: 1 - threshold}
}

// Apply limits a single sample.
func (l SoftLimiter) Apply(x float32) float32 {
	a := x
	neg := false
	if a < 0 {
		a = -a
		neg = true
	}
	if a <= l.threshold {
		return x
	}
	over := a - l.threshold
	y := l.threshold + l.headroom*over/(over+l.headroom)
	if neg {
		return -y
	}
	return y
}

// Threshold returns the knee position.
func (l SoftLimiter) Threshold() float32 { return l.threshold }
