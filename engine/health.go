package engine

import (
	"context"

	"github.com/tapmix/tapmix/platform"
	"github.com/tapmix/tapmix/tap"
)

// Health classifies a tap from two successive diagnostics snapshots.
type Health int

const (
	// HealthOK: callbacks and output both advancing, or silence explained
	// by user intent.
	HealthOK Health = iota
	// HealthDead: no callback has ever arrived. Two consecutive dead cycles
	// trigger a reroute to the default device plus recreation.
	HealthDead
	// HealthStalled: callbacks arrived once but the counter stopped moving.
	HealthStalled
	// HealthBroken: callbacks advance but the output is flat and the tap
	// delivers mostly empty input. Typical of a silently revoked tap.
	HealthBroken
)

func (h Health) String() string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthDead:
		return "dead"
	case HealthStalled:
		return "stalled"
	case HealthBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// brokenEmptyShare is the fraction of empty-input callbacks in a cycle above
// which a flat output counts as broken rather than merely quiet.
const brokenEmptyShare = 0.8

// classify compares diagnostics across one health interval. It has no
// notion of user intent; the caller downgrades broken to ok when the tap is
// muted, paused, or at zero volume.
func classify(prev, cur tap.Snapshot) Health {
	if cur.Callbacks == 0 {
		return HealthDead
	}
	deltaCB := cur.Callbacks - prev.Callbacks
	if deltaCB == 0 {
		return HealthStalled
	}
	deltaOut := cur.OutputFrames - prev.OutputFrames
	deltaEmpty := cur.EmptyInput - prev.EmptyInput
	if deltaOut == 0 && float64(deltaEmpty) >= brokenEmptyShare*float64(deltaCB) {
		return HealthBroken
	}
	return HealthOK
}

// healthPass runs the coarse periodic check over every tap. Taps mid-switch
// are skipped; their counters are in flux by design.
func (e *Engine) healthPass(ctx context.Context) {
	for _, t := range e.taps {
		if t.switching > 0 || t.ctl.Switching() {
			t.prev = t.ctl.Diagnostics()
			continue
		}
		if t.ctl.State() == tap.StateInactive {
			// a previous recreation failed; keep retrying
			uid, fallback := e.resolveRoute(t)
			t.fallback = fallback
			e.recreate(ctx, t, uid)
			continue
		}
		if t.ctl.State() != tap.StateSteady {
			continue
		}

		// the device volume may have moved since the pipeline was built
		t.ctl.RefreshDeviceCompensation()

		cur := t.ctl.Diagnostics()
		h := classify(t.prev, cur)
		if h == HealthBroken && (t.ctl.Muted() || t.ctl.Volume() == 0 || t.pause.paused) {
			h = HealthOK
		}
		// recreate resets t.prev to a zero snapshot for the fresh pipeline;
		// the branches that call it must not overwrite that with the dead
		// pipeline's counters
		switch h {
		case HealthDead:
			t.deadStrikes++
			if t.deadStrikes >= 2 {
				e.log.Warn("tap dead, rerouting to default",
					"app", t.ctl.App().Name, "device", t.ctl.DeviceUID(), "default", e.defaultUID)
				t.fallback = !t.rec.FollowsDefault && t.rec.DeviceUID != e.defaultUID
				e.recreate(ctx, t, e.defaultUID)
				continue
			}
		case HealthStalled:
			e.log.Warn("tap stalled, recreating", "app", t.ctl.App().Name)
			e.recreate(ctx, t, t.ctl.DeviceUID())
			continue
		case HealthBroken:
			e.log.Warn("tap broken, recreating",
				"app", t.ctl.App().Name, "empty_input", cur.EmptyInput-t.prev.EmptyInput)
			e.recreate(ctx, t, t.ctl.DeviceUID())
			continue
		default:
			t.deadStrikes = 0
		}
		t.prev = cur
	}
}

// fastPass runs the post-creation permission probes. Until the OS tap
// permission is confirmed, taps leave the application's original route
// audible; confirmation upgrades them all to the muted behavior so audio is
// heard exactly once.
func (e *Engine) fastPass(ctx context.Context) {
	if e.permConfirmed || e.fastChecks <= 0 || len(e.taps) == 0 {
		return
	}
	e.fastChecks--

	for _, t := range e.taps {
		d := t.ctl.Diagnostics()
		if d.Callbacks < e.cfg.MinConfirmCallbacks || d.OutputFrames == 0 || d.InputHadData == 0 {
			continue
		}
		// with a clearly audible volume the output peak must register too
		if t.ctl.Volume() >= 0.01 && !t.ctl.Muted() && d.OutputPeak == 0 {
			continue
		}
		e.confirmPermission(ctx)
		return
	}
	if e.fastChecks == 0 {
		e.log.Warn("tap permission unconfirmed, keeping original routes audible")
	}
}

func (e *Engine) confirmPermission(ctx context.Context) {
	e.permConfirmed = true
	e.log.Info("tap permission confirmed, muting original routes")
	for _, t := range e.taps {
		if err := t.ctl.SetMuteBehavior(platform.MuteBehaviorMuted); err != nil {
			e.log.Warn("live mute upgrade failed, recreating",
				"app", t.ctl.App().Name, "error", err)
			e.recreate(ctx, t, t.ctl.DeviceUID())
		}
	}
}
