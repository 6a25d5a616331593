package engine

import "time"

// pauseTracker infers paused/playing from the smoothed input peak with
// asymmetric hysteresis: resuming is immediate (bounded only by the poll
// cadence), pausing requires the level to stay below the threshold for the
// configured hold time. Brief inter-track gaps never flap the state.
type pauseTracker struct {
	paused bool
	below  time.Time // first observation under the threshold; zero if above
}

// observe feeds one level sample and returns the inferred paused state.
func (p *pauseTracker) observe(level, threshold float64, hold time.Duration, now time.Time) bool {
	if level >= threshold {
		p.below = time.Time{}
		p.paused = false
		return false
	}
	if p.below.IsZero() {
		p.below = now
	}
	if !p.paused && now.Sub(p.below) >= hold {
		p.paused = true
	}
	return p.paused
}
