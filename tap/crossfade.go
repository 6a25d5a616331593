package tap

import "sync/atomic"

// Crossfade phases. The phase only advances forward within one switch.
const (
	PhaseIdle int32 = iota
	PhaseWarming
	PhaseFading
	PhaseDone
)

// Crossfade tracks the progress of a live handover between two concurrently
// running pipelines.
//
// Field ownership: orchestration writes phase and targetFrames; the
// incoming pipeline's render callback writes warmupFrames, elapsed, and
// progress. The outgoing pipeline's callback only reads progress. Progress
// is non-decreasing within one switch because elapsed only grows.
type Crossfade struct {
	phase        atomic.Int32
	targetFrames atomic.Int64
	warmupFrames atomic.Int64
	elapsed      atomic.Int64
	progress     AtomicFloat64
}

// Phase returns the current phase.
func (x *Crossfade) Phase() int32 { return x.phase.Load() }

// Active reports whether a handover is underway.
func (x *Crossfade) Active() bool {
	p := x.phase.Load()
	return p == PhaseWarming || p == PhaseFading
}

// Progress returns the fade position in [0,1].
func (x *Crossfade) Progress() float64 { return x.progress.Load() }

// WarmupFrames returns how many frames the incoming pipeline has processed
// since the switch began. The trust gate compares against this, not
// wall-clock time.
func (x *Crossfade) WarmupFrames() int64 { return x.warmupFrames.Load() }

// Begin arms the crossfade for a switch fading over targetFrames frames.
// Orchestration only.
func (x *Crossfade) Begin(targetFrames int64) {
	if targetFrames < 1 {
		targetFrames = 1
	}
	x.warmupFrames.Store(0)
	x.elapsed.Store(0)
	x.progress.Store(0)
	x.targetFrames.Store(targetFrames)
	x.phase.Store(PhaseWarming)
}

// StartFading moves warming → fading once the trust gate is met.
// Orchestration only.
func (x *Crossfade) StartFading() {
	x.phase.CompareAndSwap(PhaseWarming, PhaseFading)
}

// Finish marks the handover complete. Orchestration only.
func (x *Crossfade) Finish() {
	x.phase.Store(PhaseDone)
}

// Reset returns to idle after promotion. Orchestration only.
func (x *Crossfade) Reset() {
	x.phase.Store(PhaseIdle)
	x.warmupFrames.Store(0)
	x.elapsed.Store(0)
	x.progress.Store(0)
}

// advance is called by the incoming pipeline's render callback with the
// frame count of each buffer it processes.
func (x *Crossfade) advance(frames int) {
	switch x.phase.Load() {
	case PhaseWarming:
		x.warmupFrames.Add(int64(frames))
	case PhaseFading:
		x.warmupFrames.Add(int64(frames))
		elapsed := x.elapsed.Add(int64(frames))
		target := x.targetFrames.Load()
		p := float64(elapsed) / float64(target)
		if p > 1 {
			p = 1
		}
		x.progress.Store(p)
	}
}
