package dsp

// GainProcessor combines the user volume (ramped), the crossfade multiplier,
// and the device-volume compensation into one per-frame gain and applies it
// in place. The soft limiter engages only when the composite gain can exceed
// unity.
type GainProcessor struct {
	ramp    Ramper
	limiter SoftLimiter
}

// NewGainProcessor creates a gain processor for the given sample rate.
// rampSeconds is the volume ramp time constant and limiterThreshold the
// soft limiter knee; out-of-range values fall back to the defaults.
func NewGainProcessor(sampleRate, rampSeconds float64, limiterThreshold float32) *GainProcessor {
	return &GainProcessor{
		ramp:    NewRamper(sampleRate, rampSeconds),
		limiter: NewSoftLimiter(limiterThreshold),
	}
}

// LimiterThreshold returns the soft limiter knee position.
func (g *GainProcessor) LimiterThreshold() float32 { return g.limiter.Threshold() }

// SetTarget sets the volume the ramp approaches.
func (g *GainProcessor) SetTarget(v float32) { g.ramp.SetTarget(v) }

// Snap jumps the ramped volume with no smoothing. Used by the destructive
// switch path to force immediate silence and by promotion to transfer the
// outgoing pipeline's level.
func (g *GainProcessor) Snap(v float32) { g.ramp.Snap(v) }

// Current returns the present ramped volume.
func (g *GainProcessor) Current() float32 { return g.ramp.Current() }

// Target returns the volume the ramp approaches.
func (g *GainProcessor) Target() float32 { return g.ramp.Target() }

// ApplyInterleaved scales frames of interleaved audio in place.
// fade is the crossfade multiplier, comp the device-volume compensation.
func (g *GainProcessor) ApplyInterleaved(buf []float32, frames, channels int, fade, comp float32) {
	limit := g.needsLimit(fade, comp)
	for i := 0; i < frames; i++ {
		gain := g.ramp.Step() * fade * comp
		base := i * channels
		for c := 0; c < channels; c++ {
			v := buf[base+c] * gain
			if limit {
				v = g.limiter.Apply(v)
			}
			buf[base+c] = v
		}
	}
}

// ApplyPlanar scales frames of planar audio in place. The ramp still steps
// once per frame: channels of one frame share a gain value.
func (g *GainProcessor) ApplyPlanar(buf []float32, frames, channels int, fade, comp float32) {
	limit := g.needsLimit(fade, comp)
	for i := 0; i < frames; i++ {
		gain := g.ramp.Step() * fade * comp
		for c := 0; c < channels; c++ {
			v := buf[c*frames+i] * gain
			if limit {
				v = g.limiter.Apply(v)
			}
			buf[c*frames+i] = v
		}
	}
}

// needsLimit reports whether any gain the ramp can produce this buffer,
// multiplied by fade and comp, can push a full-scale sample past unity.
func (g *GainProcessor) needsLimit(fade, comp float32) bool {
	peak := g.ramp.Current()
	if t := g.ramp.Target(); t > peak {
		peak = t
	}
	return peak*fade*comp > 1
}
