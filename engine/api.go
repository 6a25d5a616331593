package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/tapmix/tapmix/dsp"
	"github.com/tapmix/tapmix/internal/types"
	"github.com/tapmix/tapmix/platform"
	"github.com/tapmix/tapmix/settings"
)

// The API surface. Every method posts onto the run loop; none of them touch
// engine state from the caller's goroutine.

// Tap starts routing the application identified by pid, restoring its
// persisted settings or starting from defaults on the current default
// output.
func (e *Engine) Tap(ctx context.Context, pid int) error {
	var out error
	err := e.call(func() {
		if _, ok := e.taps[pid]; ok {
			return
		}
		app, ok := e.findApp(pid)
		if !ok {
			out = ErrAppNotFound
			return
		}
		rec, err := e.store.Get(ctx, app.PersistKey)
		if err != nil {
			if !errors.Is(err, settings.ErrNotFound) {
				e.log.Error("load settings", "app", app.Name, "error", err)
			}
			rec = settings.DefaultRecord()
			rec.DeviceUID = e.defaultUID
		}
		if err := e.createTap(ctx, app, rec); err != nil {
			out = err
			return
		}
		e.persist(ctx, e.taps[pid])
	})
	if err != nil {
		return err
	}
	return out
}

// Untap stops routing pid. The persisted record is kept so a later Tap
// restores the same state.
func (e *Engine) Untap(ctx context.Context, pid int) error {
	var out error
	err := e.call(func() {
		t, ok := e.taps[pid]
		if !ok {
			out = ErrNotTapped
			return
		}
		t.ctl.Invalidate()
		delete(e.taps, pid)
	})
	if err != nil {
		return err
	}
	return out
}

// SetVolume sets and persists the user volume for pid.
func (e *Engine) SetVolume(ctx context.Context, pid int, volume float32) error {
	return e.withTap(pid, func(t *tapState) error {
		if volume < 0 || volume > 4 {
			return fmt.Errorf("engine: volume %v out of range", volume)
		}
		t.ctl.SetVolume(volume)
		t.rec.Volume = volume
		e.persist(ctx, t)
		return nil
	})
}

// SetMuted sets and persists the mute flag for pid.
func (e *Engine) SetMuted(ctx context.Context, pid int, muted bool) error {
	return e.withTap(pid, func(t *tapState) error {
		t.ctl.SetMuted(muted)
		t.rec.Muted = muted
		e.persist(ctx, t)
		return nil
	})
}

// SetEQ sets and persists the equalizer for pid.
func (e *Engine) SetEQ(ctx context.Context, pid int, enabled bool, gains [dsp.NumBands]float64) error {
	return e.withTap(pid, func(t *tapState) error {
		t.ctl.SetEQ(enabled, gains)
		t.rec.EQEnabled = enabled
		t.rec.EQGains = gains
		e.persist(ctx, t)
		return nil
	})
}

// Route pins pid to the device identified by uid and persists the choice.
func (e *Engine) Route(ctx context.Context, pid int, uid string) error {
	var out error
	err := e.call(func() {
		t, ok := e.taps[pid]
		if !ok {
			out = ErrNotTapped
			return
		}
		if _, err := e.sys.DeviceByUID(uid); err != nil {
			out = fmt.Errorf("%w: %s", ErrDeviceUnknown, uid)
			return
		}
		t.rec.DeviceUID = uid
		t.rec.FollowsDefault = false
		t.fallback = false
		e.persist(ctx, t)
		e.startSwitch(ctx, t, uid)
	})
	if err != nil {
		return err
	}
	return out
}

// FollowDefault returns pid to tracking the system default output.
func (e *Engine) FollowDefault(ctx context.Context, pid int) error {
	return e.withTap(pid, func(t *tapState) error {
		t.rec.FollowsDefault = true
		t.fallback = false
		e.persist(ctx, t)
		e.startSwitch(ctx, t, e.defaultUID)
		return nil
	})
}

// RouteAll pins every tapped application to uid.
func (e *Engine) RouteAll(ctx context.Context, uid string) error {
	var out error
	err := e.call(func() {
		if _, err := e.sys.DeviceByUID(uid); err != nil {
			out = fmt.Errorf("%w: %s", ErrDeviceUnknown, uid)
			return
		}
		for _, t := range e.taps {
			t.rec.DeviceUID = uid
			t.rec.FollowsDefault = false
			t.fallback = false
			e.persist(ctx, t)
			if t.ctl.DeviceUID() == uid {
				continue // equality fast path; nothing to move
			}
			e.startSwitch(ctx, t, uid)
		}
	})
	if err != nil {
		return err
	}
	return out
}

// Level returns the smoothed input peak for pid.
func (e *Engine) Level(ctx context.Context, pid int) (float32, error) {
	var level float32
	err := e.withTap(pid, func(t *tapState) error {
		level = t.ctl.PeakLevel()
		return nil
	})
	return level, err
}

// Paused reports the inferred playback state for pid.
func (e *Engine) Paused(ctx context.Context, pid int) (bool, error) {
	var paused bool
	err := e.withTap(pid, func(t *tapState) error {
		paused = t.pause.paused
		return nil
	})
	return paused, err
}

// Apps returns a snapshot of every tapped application.
func (e *Engine) Apps(ctx context.Context) ([]types.AppStatus, error) {
	var out []types.AppStatus
	err := e.call(func() {
		out = make([]types.AppStatus, 0, len(e.taps))
		for pid, t := range e.taps {
			app := t.ctl.App()
			enabled, gains := t.ctl.EQ()
			out = append(out, types.AppStatus{
				PID:            pid,
				Name:           app.Name,
				PersistKey:     app.PersistKey,
				DeviceUID:      t.ctl.DeviceUID(),
				Volume:         t.ctl.Volume(),
				Muted:          t.ctl.Muted(),
				EQEnabled:      enabled,
				EQGains:        gains,
				FollowsDefault: t.rec.FollowsDefault,
				Paused:         t.pause.paused,
				Switching:      t.switching > 0 || t.ctl.Switching(),
				Level:          t.ctl.PeakLevel(),
			})
		}
	})
	return out, err
}

// Devices returns the current output device inventory.
func (e *Engine) Devices(ctx context.Context) ([]types.DeviceInfo, error) {
	var out []types.DeviceInfo
	err := e.call(func() {
		devs, err := e.sys.Devices()
		if err != nil {
			e.log.Error("list devices", "error", err)
			return
		}
		out = make([]types.DeviceInfo, 0, len(devs))
		for _, d := range devs {
			out = append(out, types.DeviceInfo{
				UID:       d.UID,
				Name:      d.Name,
				Transport: d.Transport.String(),
				Default:   d.UID == e.defaultUID,
			})
		}
	})
	return out, err
}

// Status returns the engine-wide snapshot.
func (e *Engine) Status(ctx context.Context) (types.EngineStatus, error) {
	var st types.EngineStatus
	err := e.call(func() {
		st = types.EngineStatus{
			Running:             true,
			PermissionConfirmed: e.permConfirmed,
			DefaultDeviceUID:    e.defaultUID,
			TappedApps:          len(e.taps),
		}
	})
	return st, err
}

func (e *Engine) withTap(pid int, fn func(*tapState) error) error {
	var out error
	err := e.call(func() {
		t, ok := e.taps[pid]
		if !ok {
			out = ErrNotTapped
			return
		}
		out = fn(t)
	})
	if err != nil {
		return err
	}
	return out
}

func (e *Engine) findApp(pid int) (platform.App, bool) {
	procs, err := e.sys.Processes()
	if err != nil {
		return platform.App{}, false
	}
	for _, app := range procs {
		if app.PID == pid {
			return app, true
		}
	}
	return platform.App{}, false
}
