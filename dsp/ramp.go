package dsp

import "math"

// DefaultRampSeconds is the time constant used for volume changes.
const DefaultRampSeconds = 0.030

// Ramper smooths a gain value toward a target with a one-pole exponential.
// Step advances one frame; the same stepped value is applied to every
// channel of that frame so stereo images do not skew during a ramp.
type Ramper struct {
	coeff   float32
	current float32
	target  float32
}

// NewRamper creates a ramper for the given sample rate and time constant.
// The coefficient is 1 - e^(-1/(sampleRate*rampSeconds)).
func NewRamper(sampleRate, rampSeconds float64) Ramper {
	if rampSeconds <= 0 {
		rampSeconds = DefaultRampSeconds
	}
	return Ramper{
		coeff: float32(1 - math.Exp(-1/(sampleRate*rampSeconds))),
	}
}

// SetTarget sets the value the ramp approaches.
func (r *Ramper) SetTarget(t float32) { r.target = t }

// Snap jumps current and target to v with no ramp.
func (r *Ramper) Snap(v float32) {
	r.current = v
	r.target = v
}

// Step advances the ramp by one frame and returns the new current value.
func (r *Ramper) Step() float32 {
	r.current += r.coeff * (r.target - r.current)
	return r.current
}

// Current returns the ramp's present value without advancing it.
func (r *Ramper) Current() float32 { return r.current }

// Target returns the value the ramp is approaching.
func (r *Ramper) Target() float32 { return r.target }

// Settled reports whether current is within eps of target.
func (r *Ramper) Settled(eps float32) bool {
	d := r.target - r.current
	if d < 0 {
		d = -d
	}
	return d <= eps
}
