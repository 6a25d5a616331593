// Package dsp implements the sample transforms applied inside the real-time
// render callback: gain ramping, soft limiting, the graphic equalizer, and
// the equal-power crossfade curves.
//
// Everything here runs on the hot path. All state is pre-allocated and
// passed by reference; no function in this package allocates, locks, or
// performs IO. Buffers are 32-bit float, interleaved or planar, stereo at
// most.
package dsp
