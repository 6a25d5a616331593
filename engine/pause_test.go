package engine

import (
	"testing"
	"time"
)

func TestPauseHysteresis(t *testing.T) {
	const (
		threshold = 0.001
		hold      = 1500 * time.Millisecond
		step      = 50 * time.Millisecond
	)

	feed := func(p *pauseTracker, start time.Time, level float64, d time.Duration) (bool, time.Time) {
		now := start
		paused := p.paused
		for elapsed := time.Duration(0); elapsed < d; elapsed += step {
			paused = p.observe(level, threshold, hold, now)
			now = now.Add(step)
		}
		return paused, now
	}

	t.Run("gap shorter than hold stays playing", func(t *testing.T) {
		var p pauseTracker
		now := time.Unix(0, 0)
		_, now = feed(&p, now, 0.5, 200*time.Millisecond)
		paused, _ := feed(&p, now, 0, 1400*time.Millisecond)
		if paused {
			t.Fatal("1.4s of silence flipped to paused before the hold time")
		}
	})

	t.Run("silence past hold pauses", func(t *testing.T) {
		var p pauseTracker
		now := time.Unix(0, 0)
		_, now = feed(&p, now, 0.5, 200*time.Millisecond)
		paused, _ := feed(&p, now, 0, 1600*time.Millisecond)
		if !paused {
			t.Fatal("1.6s of silence did not pause")
		}
	})

	t.Run("resume is immediate", func(t *testing.T) {
		var p pauseTracker
		now := time.Unix(0, 0)
		_, now = feed(&p, now, 0, 2*time.Second)
		if !p.paused {
			t.Fatal("setup: tracker should be paused")
		}
		// one loud sample flips back; the poll cadence alone bounds latency
		if p.observe(0.5, threshold, hold, now) {
			t.Fatal("level above threshold did not resume immediately")
		}
	})

	t.Run("track gap then music never pauses", func(t *testing.T) {
		var p pauseTracker
		now := time.Unix(0, 0)
		_, now = feed(&p, now, 0.5, 200*time.Millisecond)
		_, now = feed(&p, now, 0, 1000*time.Millisecond)
		paused, _ := feed(&p, now, 0.5, 200*time.Millisecond)
		if paused {
			t.Fatal("inter-track gap below hold reported paused")
		}
	})
}
