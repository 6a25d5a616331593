// Package engine owns all routing state. A single run-loop goroutine holds
// every mutable field; external callers and background tickers post closures
// onto a command channel and never touch state directly. Blocking device
// switches run on their own goroutines and report back through the same
// channel.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/tapmix/tapmix/config"
	"github.com/tapmix/tapmix/crashguard"
	"github.com/tapmix/tapmix/platform"
	"github.com/tapmix/tapmix/settings"
	"github.com/tapmix/tapmix/tap"
)

var (
	// ErrStopped is returned by API calls after the engine has shut down.
	ErrStopped = errors.New("engine: stopped")
	// ErrAppNotFound means no running process matches the PID.
	ErrAppNotFound = errors.New("engine: application not found")
	// ErrNotTapped means the application has no active routing.
	ErrNotTapped = errors.New("engine: application not tapped")
	// ErrDeviceUnknown means the target device UID does not exist.
	ErrDeviceUnknown = errors.New("engine: unknown device")
)

// tapState is the run-loop-side bookkeeping for one routed application.
type tapState struct {
	ctl *tap.Controller
	key string // persistence key
	rec settings.Record

	prev        tap.Snapshot // diagnostics at the previous health cycle
	deadStrikes int
	pause       pauseTracker

	// fallback marks a tap pushed to the default output because its chosen
	// device vanished. The persisted record keeps the chosen device.
	fallback bool
	// switching counts in-flight switch goroutines for this tap.
	switching int
}

// Engine coordinates taps, devices, persistence, and recovery.
type Engine struct {
	sys   platform.AudioSystem
	cfg   *config.Config
	store settings.Store
	guard *crashguard.Guard
	log   *slog.Logger

	cmds    chan func()
	done    chan struct{}
	started atomic.Bool
	cancel  context.CancelFunc

	// everything below is owned by the run loop
	taps          map[int]*tapState
	defaultUID    string
	suppressUntil time.Time
	permConfirmed bool
	fastChecks    int // remaining permission probes; 0 disables the fast pass
}

// New creates an engine. store may be a memory store in tests; guard may be
// nil.
func New(sys platform.AudioSystem, cfg *config.Config, store settings.Store, guard *crashguard.Guard, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		sys:   sys,
		cfg:   cfg,
		store: store,
		guard: guard,
		log:   log,
		cmds:  make(chan func(), 32),
		done:  make(chan struct{}),
		taps:  make(map[int]*tapState),
	}
}

// Start sweeps orphaned aggregates from earlier crashed runs, restores
// persisted routing for running applications, and launches the run loop.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine: already started")
	}
	ctx, e.cancel = context.WithCancel(ctx)

	if n := crashguard.Sweep(e.sys, tap.AggregateNamePrefix, e.log); n > 0 {
		e.log.Info("swept orphaned aggregates", "count", n)
	}
	if uid, err := e.sys.DefaultDeviceUID(); err == nil {
		e.defaultUID = uid
	}

	go e.run(ctx)
	return nil
}

// Stop requests shutdown and returns immediately.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
}

// StopSync requests shutdown and waits for the run loop to finish tearing
// everything down. Safe from signal handlers; must not be called from a
// command executing on the run loop itself (internal code shuts down by
// cancelling the context instead).
func (e *Engine) StopSync() {
	e.Stop()
	if e.started.Load() {
		<-e.done
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	e.restore(ctx)

	health := time.NewTicker(e.cfg.HealthInterval)
	defer health.Stop()
	level := time.NewTicker(e.cfg.LevelPollInterval)
	defer level.Stop()
	fast := time.NewTicker(e.cfg.FastCheckInterval)
	defer fast.Stop()

	events := e.sys.Events()
	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case fn := <-e.cmds:
			fn()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			e.handleEvent(ctx, ev)
		case <-health.C:
			e.healthPass(ctx)
		case <-level.C:
			e.levelPass()
		case <-fast.C:
			e.fastPass(ctx)
		}
	}
}

func (e *Engine) shutdown() {
	for pid, t := range e.taps {
		t.ctl.Invalidate()
		t.ctl.Drain()
		delete(e.taps, pid)
	}
}

// do posts fn to the run loop without waiting for it.
func (e *Engine) do(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.done:
	}
}

// call posts fn to the run loop and waits for it to execute.
func (e *Engine) call(fn func()) error {
	ran := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(ran) }:
	case <-e.done:
		return ErrStopped
	}
	select {
	case <-ran:
		return nil
	case <-e.done:
		return ErrStopped
	}
}

// restore re-creates taps for running applications that have a persisted
// record. Applications without a record are left alone until the UI taps
// them.
func (e *Engine) restore(ctx context.Context) {
	records, err := e.store.All(ctx)
	if err != nil {
		e.log.Error("load persisted settings", "error", err)
		return
	}
	procs, err := e.sys.Processes()
	if err != nil {
		e.log.Error("list processes", "error", err)
		return
	}
	for _, app := range procs {
		rec, ok := records[app.PersistKey]
		if !ok {
			continue
		}
		if err := e.createTap(ctx, app, rec); err != nil {
			e.log.Error("restore tap", "app", app.Name, "error", err)
		}
	}
}

// createTap builds a controller for app and activates it per rec. The caller
// owns rec persistence.
func (e *Engine) createTap(ctx context.Context, app platform.App, rec settings.Record) error {
	if _, exists := e.taps[app.PID]; exists {
		return nil
	}
	ctl := tap.NewController(e.sys, e.cfg, e.log, e.guard, app)
	ctl.SetVolume(rec.Volume)
	ctl.SetMuted(rec.Muted)
	ctl.SetEQ(rec.EQEnabled, rec.EQGains)
	if e.permConfirmed {
		if err := ctl.SetMuteBehavior(platform.MuteBehaviorMuted); err != nil {
			return err
		}
	}

	t := &tapState{ctl: ctl, key: app.PersistKey, rec: rec}
	uid, fallback := e.resolveRoute(t)
	if err := ctl.Activate(ctx, uid); err != nil {
		return fmt.Errorf("activate %s: %w", app.Name, err)
	}
	t.fallback = fallback
	e.taps[app.PID] = t

	if !e.permConfirmed {
		e.fastChecks = e.cfg.FastCheckCount
	}
	return nil
}

// resolveRoute picks the device a tap should run on right now. Reports
// whether that choice is a fallback away from the persisted device.
func (e *Engine) resolveRoute(t *tapState) (uid string, fallback bool) {
	if t.rec.FollowsDefault || t.rec.DeviceUID == "" {
		return e.defaultUID, false
	}
	if _, err := e.sys.DeviceByUID(t.rec.DeviceUID); err != nil {
		return e.defaultUID, true
	}
	return t.rec.DeviceUID, false
}

// startSwitch dispatches a device switch to its own goroutine; the
// controller serializes concurrent requests itself and the newest one wins.
func (e *Engine) startSwitch(ctx context.Context, t *tapState, uid string) {
	if t.ctl.DeviceUID() == uid {
		return
	}
	t.switching++
	pid := t.ctl.App().PID
	name := t.ctl.App().Name
	go func() {
		err := t.ctl.SwitchDevice(ctx, uid)
		e.do(func() {
			if cur, ok := e.taps[pid]; ok && cur == t {
				t.switching--
			}
			if err != nil && !errors.Is(err, tap.ErrSuperseded) {
				e.log.Error("device switch failed", "app", name, "device", uid, "error", err)
			}
		})
	}()
}

// recreate tears a tap down and rebuilds it on uid, reapplying the stored
// user state. Used by health recovery and failed live mute upgrades.
func (e *Engine) recreate(ctx context.Context, t *tapState, uid string) {
	t.ctl.Invalidate()
	t.prev = tap.Snapshot{}
	t.deadStrikes = 0
	if err := t.ctl.Activate(ctx, uid); err != nil {
		// leave the controller inactive; the next health pass retries
		e.log.Error("recreate tap", "app", t.ctl.App().Name, "device", uid, "error", err)
	}
}

func (e *Engine) handleEvent(ctx context.Context, ev platform.Event) {
	switch ev := ev.(type) {
	case platform.DefaultDeviceChanged:
		e.defaultUID = ev.UID
		if time.Now().Before(e.suppressUntil) {
			e.log.Debug("default device change suppressed", "device", ev.UID)
			return
		}
		e.rerouteFollowers(ctx, ev.UID)
	case platform.DeviceListChanged:
		if time.Now().Before(e.suppressUntil) {
			e.log.Debug("device list change suppressed")
			return
		}
		e.reconcileDevices(ctx)
	case platform.ProcessListChanged:
		e.reconcileProcesses(ctx)
	case platform.ServiceRestarted:
		e.recoverFromRestart(ctx)
	}
}

// rerouteFollowers moves every follows-default tap to uid, skipping taps
// already there or mid-switch.
func (e *Engine) rerouteFollowers(ctx context.Context, uid string) {
	for _, t := range e.taps {
		if !t.rec.FollowsDefault || t.switching > 0 {
			continue
		}
		e.startSwitch(ctx, t, uid)
	}
}

// reconcileDevices handles disconnects and reconnects. A tap whose device
// vanished falls back to the default without persisting; when its persisted
// device returns it switches back.
func (e *Engine) reconcileDevices(ctx context.Context) {
	devs, err := e.sys.Devices()
	if err != nil {
		e.log.Error("list devices", "error", err)
		return
	}
	present := make(map[string]bool, len(devs))
	for _, d := range devs {
		present[d.UID] = true
	}
	if uid, err := e.sys.DefaultDeviceUID(); err == nil {
		e.defaultUID = uid
	}

	for _, t := range e.taps {
		if cur := t.ctl.DeviceUID(); cur != "" && !present[cur] {
			e.log.Info("device disconnected, falling back to default",
				"app", t.ctl.App().Name, "device", cur, "default", e.defaultUID)
			t.fallback = !t.rec.FollowsDefault
			e.startSwitch(ctx, t, e.defaultUID)
			continue
		}
		if t.fallback && !t.rec.FollowsDefault && present[t.rec.DeviceUID] {
			e.log.Info("device reconnected, restoring route",
				"app", t.ctl.App().Name, "device", t.rec.DeviceUID)
			t.fallback = false
			e.startSwitch(ctx, t, t.rec.DeviceUID)
		}
	}
}

// reconcileProcesses drops taps of exited applications and restores taps
// for newly seen applications with persisted records.
func (e *Engine) reconcileProcesses(ctx context.Context) {
	procs, err := e.sys.Processes()
	if err != nil {
		e.log.Error("list processes", "error", err)
		return
	}
	running := make(map[int]platform.App, len(procs))
	for _, app := range procs {
		running[app.PID] = app
	}

	for pid, t := range e.taps {
		if _, ok := running[pid]; ok {
			continue
		}
		e.log.Info("application exited", "app", t.ctl.App().Name, "pid", pid)
		t.ctl.Invalidate()
		delete(e.taps, pid)
	}
	for pid, app := range running {
		if _, ok := e.taps[pid]; ok || app.PersistKey == "" {
			continue
		}
		if rec, err := e.store.Get(ctx, app.PersistKey); err == nil {
			if err := e.createTap(ctx, app, rec); err != nil {
				e.log.Error("tap new process", "app", app.Name, "error", err)
			}
		}
	}
}

// recoverFromRestart rebuilds every tap after the OS audio service restarts.
// All previously issued object handles are invalid; device notifications
// stay suppressed through the stabilization window plus a trailing grace.
func (e *Engine) recoverFromRestart(ctx context.Context) {
	e.log.Warn("audio service restarted, rebuilding taps", "count", len(e.taps))
	e.suppressUntil = time.Now().Add(e.cfg.RestartStabilize + e.cfg.SuppressGrace)

	for _, t := range e.taps {
		t.ctl.Invalidate()
	}
	time.AfterFunc(e.cfg.RestartStabilize, func() {
		e.do(func() { e.rebuildAfterRestart(ctx) })
	})
}

func (e *Engine) rebuildAfterRestart(ctx context.Context) {
	if uid, err := e.sys.DefaultDeviceUID(); err == nil {
		e.defaultUID = uid
	}
	for _, t := range e.taps {
		uid, fallback := e.resolveRoute(t)
		t.fallback = fallback
		t.prev = tap.Snapshot{}
		t.deadStrikes = 0
		if err := t.ctl.Activate(ctx, uid); err != nil {
			e.log.Error("rebuild tap", "app", t.ctl.App().Name, "error", err)
		}
	}
	if !e.permConfirmed && len(e.taps) > 0 {
		e.fastChecks = e.cfg.FastCheckCount
	}
}

// levelPass feeds the pause inference from the smoothed input peaks.
func (e *Engine) levelPass() {
	now := time.Now()
	for _, t := range e.taps {
		t.pause.observe(float64(t.ctl.PeakLevel()), e.cfg.PauseThreshold, e.cfg.PauseAfter, now)
	}
}

// persist writes the tap's record, logging instead of failing: persistence
// errors degrade to defaults on the next run, they never break routing.
func (e *Engine) persist(ctx context.Context, t *tapState) {
	if err := e.store.Set(ctx, t.key, t.rec); err != nil {
		e.log.Error("persist settings", "app", t.ctl.App().Name, "error", err)
	}
}
