package dsp

import "math"

// NumBands is the band count of the graphic equalizer.
const NumBands = 10

// BandFrequencies are the fixed center frequencies in Hz, one octave apart.
var BandFrequencies = [NumBands]float64{
	31.25, 62.5, 125, 250, 500, 1000, 2000, 4000, 8000, 16000,
}

const eqBandQ = 1.41

// biquad holds normalized peaking-filter coefficients.
type biquad struct {
	b0, b1, b2, a1, a2 float32
}

// biquadState is one channel's direct-form-I delay line.
type biquadState struct {
	x1, x2, y1, y2 float32
}

// Equalizer is a 10-band graphic EQ: cascaded peaking biquads per channel
// with independent delay lines. Gain-only updates never reset the delay
// lines; a sample-rate change recomputes coefficients and resets them,
// since the stored samples would be at the wrong rate.
//
// An Equalizer instance is single-threaded. Orchestration publishes updates
// by building a new instance (carrying state over via CopyStateFrom for
// gain-only changes) and swapping an atomic pointer the callback reads.
type Equalizer struct {
	sampleRate float64
	enabled    bool
	gainsDB    [NumBands]float64
	coeffs     [NumBands]biquad
	state      [2][NumBands]biquadState
}

// NewEqualizer creates a flat, disabled equalizer.
func NewEqualizer(sampleRate float64) *Equalizer {
	eq := &Equalizer{sampleRate: sampleRate}
	eq.computeCoeffs()
	return eq
}

// SetEnabled toggles the EQ. Disabled processing is a pure copy (in-place:
// a no-op).
func (eq *Equalizer) SetEnabled(on bool) { eq.enabled = on }

// Enabled reports whether the EQ is active.
func (eq *Equalizer) Enabled() bool { return eq.enabled }

// SetGains updates the per-band gains in dB and recomputes coefficients.
// Delay lines are kept.
func (eq *Equalizer) SetGains(gainsDB [NumBands]float64) {
	eq.gainsDB = gainsDB
	eq.computeCoeffs()
}

// Gains returns the per-band gains in dB.
func (eq *Equalizer) Gains() [NumBands]float64 { return eq.gainsDB }

// SetSampleRate recomputes coefficients for a new rate and resets the delay
// lines.
func (eq *Equalizer) SetSampleRate(rate float64) {
	eq.sampleRate = rate
	eq.computeCoeffs()
	eq.Reset()
}

// Reset clears all delay lines.
func (eq *Equalizer) Reset() {
	eq.state = [2][NumBands]biquadState{}
}

// CopyStateFrom carries delay lines over from a previous instance. Only
// valid when both instances share a sample rate.
func (eq *Equalizer) CopyStateFrom(prev *Equalizer) {
	if prev == nil || prev.sampleRate != eq.sampleRate {
		return
	}
	eq.state = prev.state
}

// computeCoeffs builds RBJ peaking biquads for the current gains.
func (eq *Equalizer) computeCoeffs() {
	nyquist := eq.sampleRate / 2
	for b := 0; b < NumBands; b++ {
		f := BandFrequencies[b]
		if f >= nyquist*0.95 || eq.gainsDB[b] == 0 {
			// identity band
			eq.coeffs[b] = biquad{b0: 1}
			continue
		}
		a := math.Pow(10, eq.gainsDB[b]/40)
		w0 := 2 * math.Pi * f / eq.sampleRate
		alpha := math.Sin(w0) / (2 * eqBandQ)
		cosw0 := math.Cos(w0)

		a0 := 1 + alpha/a
		eq.coeffs[b] = biquad{
			b0: float32((1 + alpha*a) / a0),
			b1: float32(-2 * cosw0 / a0),
			b2: float32((1 - alpha*a) / a0),
			a1: float32(-2 * cosw0 / a0),
			a2: float32((1 - alpha/a) / a0),
		}
	}
}

// ProcessInterleaved runs the cascade over interleaved stereo in place.
// No-op when disabled.
func (eq *Equalizer) ProcessInterleaved(buf []float32, frames, channels int) {
	if !eq.enabled {
		return
	}
	if channels > 2 {
		channels = 2
	}
	for c := 0; c < channels; c++ {
		for b := 0; b < NumBands; b++ {
			co := &eq.coeffs[b]
			st := &eq.state[c][b]
			for i := 0; i < frames; i++ {
				idx := i*channels + c
				x := buf[idx]
				y := co.b0*x + co.b1*st.x1 + co.b2*st.x2 - co.a1*st.y1 - co.a2*st.y2
				st.x2, st.x1 = st.x1, x
				st.y2, st.y1 = st.y1, y
				buf[idx] = y
			}
		}
	}
}

// ProcessPlanar runs the cascade over planar audio in place.
func (eq *Equalizer) ProcessPlanar(buf []float32, frames, channels int) {
	if !eq.enabled {
		return
	}
	if channels > 2 {
		channels = 2
	}
	for c := 0; c < channels; c++ {
		plane := buf[c*frames : (c+1)*frames]
		for b := 0; b < NumBands; b++ {
			co := &eq.coeffs[b]
			st := &eq.state[c][b]
			for i := 0; i < frames; i++ {
				x := plane[i]
				y := co.b0*x + co.b1*st.x1 + co.b2*st.x2 - co.a1*st.y1 - co.a2*st.y2
				st.x2, st.x1 = st.x1, x
				st.y2, st.y1 = st.y1, y
				plane[i] = y
			}
		}
	}
}
