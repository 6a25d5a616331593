package tap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tapmix/tapmix/config"
	"github.com/tapmix/tapmix/crashguard"
	"github.com/tapmix/tapmix/dsp"
	"github.com/tapmix/tapmix/platform"
	"github.com/tapmix/tapmix/wavdump"
)

// ErrAlreadyActive is returned when activating a controller that is not
// inactive.
var ErrAlreadyActive = errors.New("tap: controller already active")

// ErrNotActive is returned when switching a controller with no live
// pipeline.
var ErrNotActive = errors.New("tap: controller not active")

// ErrSuperseded is returned from a switch that was cancelled by a newer
// request. Not a failure: the newer request owns the outcome, and the
// superseded one must not roll anything back.
var ErrSuperseded = errors.New("tap: switch superseded")

// ErrWarmupTimeout is returned when a secondary pipeline never processes
// enough samples to be trusted.
var ErrWarmupTimeout = errors.New("tap: secondary pipeline warm-up timed out")

// State is the controller lifecycle state.
type State int32

const (
	StateInactive State = iota
	StateActivating
	StateSteady
	StateSwitching
	StateInvalidating
)

func (s State) String() string {
	switch s {
	case StateInactive:
		return "inactive"
	case StateActivating:
		return "activating"
	case StateSteady:
		return "steady"
	case StateSwitching:
		return "switching"
	case StateInvalidating:
		return "invalidating"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// eqSettings is the EQ configuration published to the render callback. The
// callback applies it to its own Equalizer instance when the generation
// changes; gain-only updates therefore never reset delay lines.
type eqSettings struct {
	gen     int64
	enabled bool
	gains   [dsp.NumBands]float64
}

// Controller owns one application's routing pipeline.
type Controller struct {
	sys   platform.AudioSystem
	cfg   *config.Config
	log   *slog.Logger
	guard *crashguard.Guard
	app   platform.App

	state atomic.Int32

	mu           sync.Mutex // orchestration-side fields below
	primary      *pipeline
	secondary    *pipeline
	deviceUID    string
	cancelSwitch context.CancelFunc
	eqGen        int64

	switchMu  sync.Mutex // serializes switch execution
	switchGen atomic.Int64

	destroyWG sync.WaitGroup

	// Shared cells. Orchestration writes, render callbacks read.
	userVolume   AtomicFloat32
	targetVolume AtomicFloat32
	muted        atomic.Bool
	forceSilence atomic.Bool
	muteBehavior atomic.Int32
	eqCfg        atomic.Pointer[eqSettings]
	dump         atomic.Pointer[wavdump.Recorder]

	// Crossfade cells are shared between the two pipelines' callbacks and
	// orchestration; see Crossfade for per-field ownership.
	xfade Crossfade
}

// NewController creates an inactive controller for app. guard may be nil.
func NewController(sys platform.AudioSystem, cfg *config.Config, log *slog.Logger, guard *crashguard.Guard, app platform.App) *Controller {
	if log == nil {
		log = slog.Default()
	}
	c := &Controller{sys: sys, cfg: cfg, log: log, guard: guard, app: app}
	c.userVolume.Store(1)
	c.targetVolume.Store(1)
	c.muteBehavior.Store(int32(platform.MuteBehaviorUnmuted))
	return c
}

// App returns the application this controller owns. A copy, never a live
// reference.
func (c *Controller) App() platform.App { return c.app }

// State returns the lifecycle state.
func (c *Controller) State() State { return State(c.state.Load()) }

// Switching reports whether a device switch is in flight.
func (c *Controller) Switching() bool { return c.State() == StateSwitching }

// DeviceUID returns the device the primary pipeline renders to.
func (c *Controller) DeviceUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deviceUID
}

// ResourceSets returns how many live pipelines exist: 1 at steady state,
// up to 2 during a switch, 0 when inactive.
func (c *Controller) ResourceSets() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	if c.primary != nil {
		n++
	}
	if c.secondary != nil {
		n++
	}
	return n
}

// Activate builds and starts the pipeline on the device identified by
// deviceUID. Any failed step releases every partial resource.
func (c *Controller) Activate(ctx context.Context, deviceUID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !c.state.CompareAndSwap(int32(StateInactive), int32(StateActivating)) {
		return ErrAlreadyActive
	}
	p, err := c.buildPipeline(deviceUID, rolePrimary, 0)
	if err != nil {
		c.state.Store(int32(StateInactive))
		return fmt.Errorf("activate %s: %w", c.app.Name, err)
	}
	if err := c.startPipeline(p); err != nil {
		c.destroyAsync(p)
		c.state.Store(int32(StateInactive))
		return fmt.Errorf("activate %s: %w", c.app.Name, err)
	}
	c.mu.Lock()
	c.primary = p
	c.deviceUID = deviceUID
	c.mu.Unlock()
	c.state.Store(int32(StateSteady))
	c.log.Info("tap activated", "app", c.app.Name, "device", deviceUID, "format", p.tapRef.Format.String())
	return nil
}

// SwitchDevice moves the pipeline to a new output device. The primary path
// is a crossfade; on any crossfade failure the controller falls back to a
// destructive teardown/recreate switch. Concurrent requests are serialized:
// a newer request cancels the in-flight one, which returns ErrSuperseded
// without touching routing state.
func (c *Controller) SwitchDevice(ctx context.Context, deviceUID string) error {
	c.mu.Lock()
	if c.cancelSwitch != nil {
		c.cancelSwitch()
	}
	sctx, cancel := context.WithCancel(ctx)
	c.cancelSwitch = cancel
	gen := c.switchGen.Add(1)
	c.mu.Unlock()
	defer cancel()

	c.switchMu.Lock()
	defer c.switchMu.Unlock()

	if c.switchGen.Load() != gen {
		return ErrSuperseded
	}
	if err := sctx.Err(); err != nil {
		return ErrSuperseded
	}
	if c.State() != StateSteady {
		return ErrNotActive
	}
	c.mu.Lock()
	current := c.deviceUID
	c.mu.Unlock()
	if current == deviceUID {
		return nil
	}

	c.state.Store(int32(StateSwitching))
	defer c.state.CompareAndSwap(int32(StateSwitching), int32(StateSteady))

	err := c.crossfadeSwitch(sctx, deviceUID)
	if err == nil {
		c.log.Info("crossfade switch complete", "app", c.app.Name, "device", deviceUID)
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return ErrSuperseded
	}
	c.log.Warn("crossfade failed, using destructive switch",
		"app", c.app.Name, "device", deviceUID, "error", err)

	if err := c.destructiveSwitch(sctx, deviceUID); err != nil {
		if errors.Is(err, context.Canceled) {
			return ErrSuperseded
		}
		return fmt.Errorf("switch %s to %s: %w", c.app.Name, deviceUID, err)
	}
	c.log.Info("destructive switch complete", "app", c.app.Name, "device", deviceUID)
	return nil
}

// crossfadeSwitch runs the glitch-free handover: build a second full
// pipeline on the target, warm it up, fade sample-accurately, promote.
func (c *Controller) crossfadeSwitch(ctx context.Context, deviceUID string) error {
	dev, err := c.sys.DeviceByUID(deviceUID)
	if err != nil {
		return err
	}

	// the secondary starts at the user volume; the sine fade-in curve alone
	// shapes its entry, and promotion inherits the ramp level with no jump
	sec, err := c.buildPipeline(deviceUID, roleSecondary, c.targetVolume.Load())
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.secondary = sec
	c.mu.Unlock()

	fail := func(err error) error {
		c.mu.Lock()
		c.secondary = nil
		c.mu.Unlock()
		c.stopPipeline(sec)
		c.destroyAsync(sec)
		c.xfade.Reset()
		return err
	}

	targetFrames := int64(c.cfg.CrossfadeSeconds * sec.rate)
	c.xfade.Begin(targetFrames)
	if err := c.startPipeline(sec); err != nil {
		return fail(err)
	}

	// wall-clock warm-up floor, longer for wireless destinations
	if err := sleepCtx(ctx, c.cfg.Warmup(dev.Transport.Wireless())); err != nil {
		return fail(err)
	}
	// trust gate: the secondary must have processed real buffers; a sample
	// count, not time, proves the IO thread is alive
	trustDeadline := 2*c.cfg.Warmup(dev.Transport.Wireless()) + 3*time.Second
	err = waitUntil(ctx, 20*time.Millisecond, trustDeadline, func() bool {
		return c.xfade.WarmupFrames() >= int64(c.cfg.TrustFrames)
	})
	if err != nil {
		if errors.Is(err, errWaitTimeout) {
			return fail(ErrWarmupTimeout)
		}
		return fail(err)
	}

	c.xfade.StartFading()
	fadeDeadline := 3*time.Duration(c.cfg.CrossfadeSeconds*float64(time.Second)) + 3*time.Second
	err = waitUntil(ctx, 20*time.Millisecond, fadeDeadline, func() bool {
		return c.xfade.Progress() >= 1
	})
	if err != nil {
		if errors.Is(err, errWaitTimeout) {
			return fail(fmt.Errorf("crossfade stalled at %.2f", c.xfade.Progress()))
		}
		return fail(err)
	}
	c.xfade.Finish()

	// the outgoing primary renders at zero gain through the done phase;
	// stop it before the crossfade resets so no late callback can render
	// it at full volume again
	c.mu.Lock()
	old := c.primary
	c.mu.Unlock()
	c.stopPipeline(old)

	// promote: the secondary becomes primary, keeping its ramped volume.
	// Reset first so the promoted pipeline never reads a done-phase fade.
	c.xfade.Reset()
	sec.role.Store(rolePrimary)

	c.mu.Lock()
	c.primary = sec
	c.secondary = nil
	c.deviceUID = deviceUID
	c.mu.Unlock()

	c.destroyAsync(old)
	return nil
}

// destructiveSwitch forces silence, tears down, recreates on the target,
// and ramps back up in discrete steps.
func (c *Controller) destructiveSwitch(ctx context.Context, deviceUID string) error {
	c.forceSilence.Store(true)
	defer func() {
		c.forceSilence.Store(false)
		c.targetVolume.Store(c.userVolume.Load())
	}()

	if err := sleepCtx(ctx, c.cfg.SilenceSettle); err != nil {
		return err
	}

	c.mu.Lock()
	old := c.primary
	c.primary = nil
	c.mu.Unlock()
	c.stopPipeline(old)
	c.destroyAsync(old)

	p, err := c.buildPipeline(deviceUID, rolePrimary, 0)
	if err != nil {
		c.state.Store(int32(StateInactive))
		return err
	}
	c.targetVolume.Store(0)
	if err := c.startPipeline(p); err != nil {
		c.destroyAsync(p)
		c.state.Store(int32(StateInactive))
		return err
	}
	c.mu.Lock()
	c.primary = p
	c.deviceUID = deviceUID
	c.mu.Unlock()

	// brief hold at zero, then staged ramp back to the user volume
	c.forceSilence.Store(false)
	steps := c.cfg.DestructiveRampSteps
	for i := 1; i <= steps; i++ {
		if err := sleepCtx(ctx, c.cfg.DestructiveStepInterval); err != nil {
			return err
		}
		c.targetVolume.Store(c.userVolume.Load() * float32(i) / float32(steps))
	}
	return nil
}

// Invalidate stops callbacks and schedules resource destruction on worker
// goroutines. Idempotent; safe to call repeatedly and from a process-exit
// handler. Drain waits for the destruction workers.
func (c *Controller) Invalidate() {
	c.mu.Lock()
	if c.cancelSwitch != nil {
		c.cancelSwitch()
	}
	p, s := c.primary, c.secondary
	c.primary, c.secondary = nil, nil
	c.mu.Unlock()

	c.state.Store(int32(StateInvalidating))
	c.stopPipeline(p)
	c.stopPipeline(s)
	c.destroyAsync(p)
	c.destroyAsync(s)
	c.xfade.Reset()
	c.stopDumpLocked()
	c.state.Store(int32(StateInactive))
}

// Drain blocks until all scheduled resource destruction has finished.
func (c *Controller) Drain() {
	c.destroyWG.Wait()
}

// ---- shared-state setters (orchestration side) ----

// SetVolume sets the user volume target. The render callback ramps toward
// it over the configured time constant.
func (c *Controller) SetVolume(v float32) {
	if v < 0 {
		v = 0
	}
	c.userVolume.Store(v)
	c.targetVolume.Store(v)
	c.mu.Lock()
	if c.primary != nil {
		c.primary.diag.volume.Store(v)
	}
	c.mu.Unlock()
}

// Volume returns the user volume target.
func (c *Controller) Volume() float32 { return c.userVolume.Load() }

// SetMuted silences the output. Input metering keeps running while muted.
func (c *Controller) SetMuted(muted bool) {
	c.muted.Store(muted)
	c.mu.Lock()
	if c.primary != nil {
		c.primary.diag.muted.Store(muted)
	}
	c.mu.Unlock()
}

// Muted reports the user mute flag.
func (c *Controller) Muted() bool { return c.muted.Load() }

// SetForceSilence makes the callback emit zeros regardless of volume.
func (c *Controller) SetForceSilence(on bool) { c.forceSilence.Store(on) }

// SetEQ publishes equalizer settings to the render callback. Gain-only
// changes keep the filter delay lines; the callback's own Equalizer applies
// the update between buffers.
func (c *Controller) SetEQ(enabled bool, gains [dsp.NumBands]float64) {
	c.mu.Lock()
	c.eqGen++
	gen := c.eqGen
	c.mu.Unlock()
	c.eqCfg.Store(&eqSettings{gen: gen, enabled: enabled, gains: gains})
}

// EQ returns the last published equalizer settings.
func (c *Controller) EQ() (enabled bool, gains [dsp.NumBands]float64) {
	if s := c.eqCfg.Load(); s != nil {
		return s.enabled, s.gains
	}
	return false, gains
}

// SetMuteBehavior changes the tap mute policy on the live resource sets.
// An error means the live upgrade failed and the caller should recreate.
func (c *Controller) SetMuteBehavior(behavior platform.MuteBehavior) error {
	c.muteBehavior.Store(int32(behavior))
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range []*pipeline{c.primary, c.secondary} {
		if p == nil {
			continue
		}
		if err := c.sys.SetTapMuteBehavior(p.tapRef, behavior); err != nil {
			return fmt.Errorf("set tap mute behavior: %w", err)
		}
	}
	return nil
}

// MuteBehavior returns the current tap mute policy.
func (c *Controller) MuteBehavior() platform.MuteBehavior {
	return platform.MuteBehavior(c.muteBehavior.Load())
}

// Diagnostics returns the primary pipeline's counters, or a zero snapshot
// when inactive.
func (c *Controller) Diagnostics() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primary == nil {
		return Snapshot{}
	}
	return c.primary.diag.Snapshot()
}

// PeakLevel returns the smoothed input peak for metering. It reflects
// source activity even while the output is muted or silenced.
func (c *Controller) PeakLevel() float32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primary == nil {
		return 0
	}
	return c.primary.diag.inputPeak.Load()
}

// RefreshDeviceCompensation re-reads the device volume into the
// compensation cell. Called when the device's volume property changes.
func (c *Controller) RefreshDeviceCompensation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.primary == nil {
		return
	}
	if vol, err := c.sys.DeviceVolume(c.primary.device.ObjectID); err == nil && vol > 0 {
		c.primary.comp.Store(vol)
	}
}

// StartDump records the post-DSP output to a WAV file at path until
// StopDump. Diagnostic use only.
func (c *Controller) StartDump(path string) error {
	c.mu.Lock()
	rate := 48000.0
	if c.primary != nil {
		rate = c.primary.rate
	}
	c.mu.Unlock()
	rec, err := wavdump.Create(path, int(rate))
	if err != nil {
		return err
	}
	if old := c.dump.Swap(rec); old != nil {
		_ = old.Close()
	}
	return nil
}

// StopDump stops a running dump, if any.
func (c *Controller) StopDump() error {
	return c.stopDumpLocked()
}

func (c *Controller) stopDumpLocked() error {
	if rec := c.dump.Swap(nil); rec != nil {
		return rec.Close()
	}
	return nil
}

// ---- waiting helpers ----

var errWaitTimeout = errors.New("tap: wait timed out")

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func waitUntil(ctx context.Context, poll, timeout time.Duration, cond func() bool) error {
	deadline := time.Now().Add(timeout)
	for {
		if cond() {
			return nil
		}
		if time.Now().After(deadline) {
			return errWaitTimeout
		}
		if err := sleepCtx(ctx, poll); err != nil {
			return err
		}
	}
}
