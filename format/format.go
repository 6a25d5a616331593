// Package format bridges arbitrary capture layouts to and from the canonical
// processing format (stereo, interleaved, 32-bit float). Conversion runs
// inside the real-time callback: all scratch space is allocated up front and
// any failure degrades to unmodified passthrough instead of corrupt output.
package format

import (
	"github.com/tapmix/tapmix/platform"
)

// Converter converts one capture stream to canonical and back out to the
// render layout. A converter is built per tap resource set and sized to the
// device buffer frame count.
type Converter struct {
	capture platform.StreamFormat
	render  platform.StreamFormat

	maxFrames int
	scratch   []float32 // canonical staging, maxFrames*2

	direct bool // both sides already canonical
}

// New creates a converter between capture and render formats with scratch
// sized for maxFrames frames per callback.
func New(capture, render platform.StreamFormat, maxFrames int) *Converter {
	return &Converter{
		capture:   capture,
		render:    render,
		maxFrames: maxFrames,
		scratch:   make([]float32, maxFrames*2),
		direct:    capture.IsCanonical() && render.IsCanonical(),
	}
}

// Passthrough reports whether no conversion is needed on either side.
func (c *Converter) Passthrough() bool { return c.direct }

// Import converts a capture buffer into canonical layout. The returned slice
// aliases in when the capture side is already canonical, otherwise the
// converter's scratch. ok is false when the conversion could not run; the
// caller must then treat the input as-is rather than drop audio.
func (c *Converter) Import(in []float32, frames int) (canon []float32, ok bool) {
	if c.capture.IsCanonical() {
		if frames*2 > len(in) {
			return in, false
		}
		return in[:frames*2], true
	}
	if frames > c.maxFrames || frames <= 0 {
		return in, false
	}
	ch := c.capture.Channels
	if ch < 1 || ch > 2 {
		return in, false
	}
	if frames*ch > len(in) {
		return in, false
	}
	dst := c.scratch[:frames*2]
	for i := 0; i < frames; i++ {
		var l, r float32
		if c.capture.Interleaved {
			l = in[i*ch]
			if ch == 2 {
				r = in[i*ch+1]
			} else {
				r = l // mono in: duplicate
			}
		} else {
			l = in[i]
			if ch == 2 {
				r = in[frames+i]
			} else {
				r = l
			}
		}
		dst[i*2] = l
		dst[i*2+1] = r
	}
	return dst, true
}

// Export writes a canonical buffer into out laid out per the render format.
// Returns false when the conversion could not run; the caller then copies
// the canonical samples raw, which for a canonical render side is identical.
func (c *Converter) Export(canon []float32, out []float32, frames int) bool {
	if c.render.IsCanonical() {
		n := copy(out, canon[:min(len(canon), frames*2)])
		return n == frames*2
	}
	if frames > c.maxFrames || frames <= 0 {
		return false
	}
	ch := c.render.Channels
	if ch < 1 || ch > 2 {
		return false
	}
	if frames*ch > len(out) || frames*2 > len(canon) {
		return false
	}
	for i := 0; i < frames; i++ {
		l := canon[i*2]
		r := canon[i*2+1]
		if c.render.Interleaved {
			out[i*ch] = l
			if ch == 2 {
				out[i*ch+1] = r
			}
			// mono out: take first channel
		} else {
			out[i] = l
			if ch == 2 {
				out[frames+i] = r
			}
		}
	}
	return true
}

const int16Scale = 32768

// ImportInt16 converts 16-bit integer capture samples into canonical floats.
// Layout handling matches Import.
func (c *Converter) ImportInt16(in []int16, frames int) (canon []float32, ok bool) {
	if frames > c.maxFrames || frames <= 0 {
		return nil, false
	}
	ch := c.capture.Channels
	if ch < 1 || ch > 2 || frames*ch > len(in) {
		return nil, false
	}
	dst := c.scratch[:frames*2]
	for i := 0; i < frames; i++ {
		var l, r float32
		if c.capture.Interleaved {
			l = float32(in[i*ch]) / int16Scale
			if ch == 2 {
				r = float32(in[i*ch+1]) / int16Scale
			} else {
				r = l
			}
		} else {
			l = float32(in[i]) / int16Scale
			if ch == 2 {
				r = float32(in[frames+i]) / int16Scale
			} else {
				r = l
			}
		}
		dst[i*2] = l
		dst[i*2+1] = r
	}
	return dst, true
}

// ExportInt16 writes canonical floats as clamped 16-bit render samples.
func (c *Converter) ExportInt16(canon []float32, out []int16, frames int) bool {
	if frames > c.maxFrames || frames <= 0 {
		return false
	}
	ch := c.render.Channels
	if ch < 1 || ch > 2 || frames*ch > len(out) || frames*2 > len(canon) {
		return false
	}
	for i := 0; i < frames; i++ {
		l := clampInt16(canon[i*2])
		r := clampInt16(canon[i*2+1])
		if c.render.Interleaved {
			out[i*ch] = l
			if ch == 2 {
				out[i*ch+1] = r
			}
		} else {
			out[i] = l
			if ch == 2 {
				out[frames+i] = r
			}
		}
	}
	return true
}

func clampInt16(v float32) int16 {
	s := v * int16Scale
	if s > 32767 {
		return 32767
	}
	if s < -32768 {
		return -32768
	}
	return int16(s)
}
