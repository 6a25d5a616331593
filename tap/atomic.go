package tap

import (
	"math"
	"sync/atomic"
)

// AtomicFloat32 provides atomic operations for float32 values, bit-casting
// through a uint32.
type AtomicFloat32 struct {
	bits atomic.Uint32
}

// Load atomically loads and returns the float32 value.
func (af *AtomicFloat32) Load() float32 {
	return math.Float32frombits(af.bits.Load())
}

// Store atomically stores the given float32 value.
func (af *AtomicFloat32) Store(val float32) {
	af.bits.Store(math.Float32bits(val))
}

// AtomicFloat64 provides atomic operations for float64 values.
type AtomicFloat64 struct {
	bits atomic.Uint64
}

// Load atomically loads and returns the float64 value.
func (af *AtomicFloat64) Load() float64 {
	return math.Float64frombits(af.bits.Load())
}

// Store atomically stores the given float64 value.
func (af *AtomicFloat64) Store(val float64) {
	af.bits.Store(math.Float64bits(val))
}
