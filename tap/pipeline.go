package tap

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/tapmix/tapmix/dsp"
	"github.com/tapmix/tapmix/format"
	"github.com/tapmix/tapmix/platform"
)

// AggregateNamePrefix marks every mixing group this process creates, so a
// later run can sweep orphans left by an abnormal exit.
const AggregateNamePrefix = "tapmix-"

const (
	rolePrimary int32 = iota
	roleSecondary
)

// pipeline is one tap resource set: capture tap, aggregate, IO proc, and
// the RT-side processing state bound to them. Exactly one primary pipeline
// exists at steady state; a secondary exists only during a switch.
type pipeline struct {
	ctl  *Controller
	role atomic.Int32 // orchestration writes on promotion, RT reads

	device platform.Device
	tapRef platform.TapRef
	agg    platform.AggregateRef
	proc   platform.IOProcRef

	rate      float64
	bufFrames int
	conv      *format.Converter
	gain      *dsp.GainProcessor // owned by the render callback
	eq        *dsp.Equalizer     // owned by the render callback
	eqGen     int64              // last applied eqSettings generation, RT only
	diag      *Diagnostics

	// comp is the device-volume compensation. Orchestration writes (rarely),
	// RT reads every buffer.
	comp AtomicFloat32

	started bool // orchestration only
}

func aggregateName(app platform.App) string {
	return fmt.Sprintf("%s%d-%s", AggregateNamePrefix, app.PID, uuid.NewString()[:8])
}

// buildPipeline creates the full resource set on the device identified by
// deviceUID. Any failed step unwinds everything already created.
func (c *Controller) buildPipeline(deviceUID string, role int32, initialGain float32) (*pipeline, error) {
	dev, err := c.sys.DeviceByUID(deviceUID)
	if err != nil {
		return nil, fmt.Errorf("resolve device %q: %w", deviceUID, err)
	}
	devFormat, err := c.sys.DeviceStreamFormat(dev.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("device stream format: %w", err)
	}
	bufFrames, err := c.sys.DeviceBufferFrames(dev.ObjectID)
	if err != nil {
		return nil, fmt.Errorf("device buffer frames: %w", err)
	}

	tapRef, err := c.sys.CreateProcessTap(c.app, platform.MuteBehavior(c.muteBehavior.Load()))
	if err != nil {
		return nil, fmt.Errorf("create process tap: %w", err)
	}
	agg, err := c.sys.CreateAggregate(aggregateName(c.app), uuid.NewString(), deviceUID, tapRef)
	if err != nil {
		_ = c.sys.DestroyTap(tapRef)
		return nil, fmt.Errorf("create aggregate: %w", err)
	}

	p := &pipeline{
		ctl:       c,
		device:    dev,
		tapRef:    tapRef,
		agg:       agg,
		rate:      devFormat.SampleRate,
		bufFrames: bufFrames,
		conv:      format.New(tapRef.Format, platform.Canonical(devFormat.SampleRate), bufFrames),
		gain:      dsp.NewGainProcessor(devFormat.SampleRate, c.cfg.RampSeconds, float32(c.cfg.LimiterThreshold)),
		eq:        dsp.NewEqualizer(devFormat.SampleRate),
		diag:      newDiagnostics(tapRef.Format),
	}
	p.role.Store(role)
	p.gain.Snap(initialGain)
	p.gain.SetTarget(c.targetVolume.Load())
	p.diag.volume.Store(c.targetVolume.Load())
	p.diag.muted.Store(c.muted.Load())

	if vol, err := c.sys.DeviceVolume(dev.ObjectID); err == nil && vol > 0 {
		p.comp.Store(vol)
	} else {
		p.comp.Store(1)
	}

	proc, err := c.sys.CreateIOProc(agg, p.render)
	if err != nil {
		_ = c.sys.DestroyAggregate(agg)
		_ = c.sys.DestroyTap(tapRef)
		return nil, fmt.Errorf("create io proc: %w", err)
	}
	p.proc = proc

	if c.guard != nil {
		c.guard.Register(agg.ID)
	}
	return p, nil
}

// start begins callback delivery.
func (c *Controller) startPipeline(p *pipeline) error {
	if err := c.sys.StartIOProc(p.proc); err != nil {
		return fmt.Errorf("start io proc: %w", err)
	}
	p.started = true
	return nil
}

// stopPipeline halts callback delivery. Quick, runs on orchestration.
func (c *Controller) stopPipeline(p *pipeline) {
	if p == nil || !p.started {
		return
	}
	if err := c.sys.StopIOProc(p.proc); err != nil {
		c.log.Error("stop io proc", "app", c.app.Name, "error", err)
	}
	p.started = false
}

// destroyAsync releases a pipeline's resources on a worker goroutine:
// aggregate destruction can block for hundreds of milliseconds and must not
// stall orchestration. The callback must already be stopped.
func (c *Controller) destroyAsync(p *pipeline) {
	if p == nil {
		return
	}
	c.destroyWG.Add(1)
	go func() {
		defer c.destroyWG.Done()
		if err := c.sys.DestroyIOProc(p.proc); err != nil {
			c.log.Debug("destroy io proc", "app", c.app.Name, "error", err)
		}
		if err := c.sys.DestroyTap(p.tapRef); err != nil {
			c.log.Debug("destroy tap", "app", c.app.Name, "error", err)
		}
		if err := c.sys.DestroyAggregate(p.agg); err != nil {
			c.log.Debug("destroy aggregate", "app", c.app.Name, "error", err)
		}
		if c.guard != nil {
			c.guard.Unregister(p.agg.ID)
		}
	}()
}

// render is the real-time callback. No allocation, no locks, no syscalls;
// it talks to orchestration only through atomic cells.
func (p *pipeline) render(in, out []float32, frames int) {
	ctl := p.ctl

	// measure input before any early return so metering reflects source
	// activity even while silenced
	inPeak := dsp.Peak(in)
	p.diag.noteCallback(inPeak)

	role := p.role.Load()
	if role == roleSecondary {
		ctl.xfade.advance(frames)
	}

	if ctl.forceSilence.Load() || ctl.muted.Load() {
		clear(out)
		p.diag.noteOutput(0, 0)
		return
	}

	canon, ok := p.conv.Import(in, frames)
	if !ok {
		// conversion failure degrades to passthrough of whatever fits;
		// the processed frame count must never index past the buffer
		canon = in
		if frames*2 > len(canon) {
			frames = len(canon) / 2
		}
	}

	p.gain.SetTarget(ctl.targetVolume.Load())
	// The outgoing primary keeps its cosine fade through the done phase,
	// so it stays at zero gain until orchestration stops it. A secondary
	// at idle renders at full gain: that is the post-promotion state
	// before the crossfade resets.
	fade := float32(1)
	phase := ctl.xfade.Phase()
	if phase != PhaseIdle {
		if role == roleSecondary {
			_, fade = dsp.EqualPowerGains(ctl.xfade.Progress())
		} else {
			fade, _ = dsp.EqualPowerGains(ctl.xfade.Progress())
		}
	}
	p.gain.ApplyInterleaved(canon, frames, 2, fade, p.comp.Load())

	// apply pending EQ settings between buffers; SetGains keeps the filter
	// delay lines, so gain-only changes never click
	if s := ctl.eqCfg.Load(); s != nil && s.gen != p.eqGen {
		p.eq.SetEnabled(s.enabled)
		p.eq.SetGains(s.gains)
		p.eqGen = s.gen
	}
	// EQ is bypassed mid-crossfade so the two pipelines can't render
	// different filter states of the same source
	if p.eq.Enabled() && phase == PhaseIdle {
		p.eq.ProcessInterleaved(canon, frames, 2)
	}

	if !p.conv.Export(canon, out, frames) {
		copy(out, canon)
	}

	n := frames * 2
	if n > len(out) {
		n = len(out)
	}
	outPeak := dsp.Peak(out[:n])
	written := frames
	if inPeak == 0 && outPeak == 0 {
		written = 0
	}
	p.diag.noteOutput(written, outPeak)

	if rec := ctl.dump.Load(); rec != nil && role == rolePrimary {
		rec.Push(canon)
	}
}
