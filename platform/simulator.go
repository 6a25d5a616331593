package platform

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"
)

// Simulator is an in-memory AudioSystem. Each simulated app is a sine
// source with a settable amplitude; started IO procs are invoked at a fixed
// cadence by Run, mirroring the OS render thread. Tests use the mutators to
// hotplug devices, restart the service, silence taps, or freeze callbacks.
type Simulator struct {
	interval  time.Duration
	bufFrames int
	rate      float64

	mu         sync.Mutex
	nextID     ObjectID
	devices    []Device
	defaultUID string
	devVolume  map[string]float32
	devMuted   map[string]bool
	apps       []App
	taps       map[ObjectID]*simTap
	aggs       map[ObjectID]*simAgg
	procs      map[ObjectID]*simProc
	levels     map[int]float64 // PID -> source amplitude
	silent     map[int]bool    // PID -> deliver empty input
	frozen     map[string]bool // aggregate UID -> never invoke proc
	capFormats map[int]StreamFormat
	failNext   map[string]error

	events chan Event
}

type simTap struct {
	ref  TapRef
	app  App
	mute MuteBehavior
	gone bool
}

type simAgg struct {
	ref       AggregateRef
	deviceUID string
	tapID     ObjectID
	gone      bool

	// render stats, for test assertions
	framesOut int64
	peakOut   float32
}

type simProc struct {
	ref     IOProcRef
	aggID   ObjectID
	fn      IOProc
	running bool
	gone    bool
	phase   float64
	in      []float32
	out     []float32
}

// SimOption configures a Simulator.
type SimOption func(*Simulator)

// WithTick sets the IO callback cadence. Default 10ms.
func WithTick(d time.Duration) SimOption {
	return func(s *Simulator) { s.interval = d }
}

// WithBufferFrames sets the device IO buffer size. Default 480.
func WithBufferFrames(n int) SimOption {
	return func(s *Simulator) { s.bufFrames = n }
}

// WithDevices seeds the device inventory; the first device is the default.
func WithDevices(devs ...Device) SimOption {
	return func(s *Simulator) {
		s.devices = append(s.devices, devs...)
		if len(devs) > 0 && s.defaultUID == "" {
			s.defaultUID = devs[0].UID
		}
	}
}

// WithApps seeds the process inventory.
func WithApps(apps ...App) SimOption {
	return func(s *Simulator) { s.apps = append(s.apps, apps...) }
}

// NewSimulator creates a Simulator. Call Run to start the IO clock.
func NewSimulator(opts ...SimOption) *Simulator {
	s := &Simulator{
		interval:   10 * time.Millisecond,
		bufFrames:  480,
		rate:       48000,
		nextID:     100,
		devVolume:  make(map[string]float32),
		devMuted:   make(map[string]bool),
		taps:       make(map[ObjectID]*simTap),
		aggs:       make(map[ObjectID]*simAgg),
		procs:      make(map[ObjectID]*simProc),
		levels:     make(map[int]float64),
		silent:     make(map[int]bool),
		frozen:     make(map[string]bool),
		capFormats: make(map[int]StreamFormat),
		failNext:   make(map[string]error),
		events:     make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(s)
	}
	for i := range s.devices {
		if s.devices[i].ObjectID == UnknownObject {
			s.devices[i].ObjectID = s.alloc()
		}
	}
	return s
}

// Run drives IO callbacks until ctx is cancelled.
func (s *Simulator) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

// Tick invokes every running IO proc once. Exposed for deterministic tests.
func (s *Simulator) Tick() { s.tick() }

func (s *Simulator) tick() {
	type job struct {
		proc *simProc
		agg  *simAgg
	}
	s.mu.Lock()
	jobs := make([]job, 0, len(s.procs))
	for _, p := range s.procs {
		if !p.running || p.gone {
			continue
		}
		agg, ok := s.aggs[p.aggID]
		if !ok || agg.gone || s.frozen[agg.ref.UID] {
			continue
		}
		s.fillInput(p, agg)
		jobs = append(jobs, job{proc: p, agg: agg})
	}
	s.mu.Unlock()

	for _, j := range jobs {
		clear(j.proc.out)
		j.proc.fn(j.proc.in, j.proc.out, s.bufFrames)
	}

	s.mu.Lock()
	for _, j := range jobs {
		j.agg.framesOut += int64(s.bufFrames)
		for _, v := range j.proc.out {
			if a := float32(math.Abs(float64(v))); a > j.agg.peakOut {
				j.agg.peakOut = a
			}
		}
	}
	s.mu.Unlock()
}

// fillInput synthesizes the tap's capture buffer. Caller holds s.mu.
func (s *Simulator) fillInput(p *simProc, agg *simAgg) {
	tap, ok := s.taps[agg.tapID]
	if !ok || tap.gone {
		clear(p.in)
		return
	}
	pid := tap.app.PID
	amp := s.levels[pid]
	if s.silent[pid] || amp == 0 {
		clear(p.in)
		return
	}
	f := tap.ref.Format
	step := 2 * math.Pi * 330 / f.SampleRate
	ch := f.Channels
	for i := 0; i < s.bufFrames; i++ {
		v := float32(amp * math.Sin(p.phase))
		p.phase += step
		if f.Interleaved {
			for c := 0; c < ch; c++ {
				p.in[i*ch+c] = v
			}
		} else {
			for c := 0; c < ch; c++ {
				p.in[c*s.bufFrames+i] = v
			}
		}
	}
	if p.phase > 2*math.Pi {
		p.phase = math.Mod(p.phase, 2*math.Pi)
	}
}

func (s *Simulator) emit(e Event) {
	select {
	case s.events <- e:
	default: // listener stalled; late notifications are tolerated
	}
}

func (s *Simulator) takeFailure(op string) error {
	if err, ok := s.failNext[op]; ok {
		delete(s.failNext, op)
		return err
	}
	return nil
}

// FailNext makes the next call of the named operation ("CreateProcessTap",
// "CreateAggregate", "CreateIOProc", "SetTapMuteBehavior") return err.
func (s *Simulator) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = err
}

// ---- AudioSystem: inventories and properties ----

func (s *Simulator) Devices() ([]Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Device, len(s.devices))
	copy(out, s.devices)
	return out, nil
}

func (s *Simulator) DeviceByUID(uid string) (Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.UID == uid {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, uid)
}

func (s *Simulator) DefaultDeviceUID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.defaultUID == "" {
		return "", ErrDeviceNotFound
	}
	return s.defaultUID, nil
}

func (s *Simulator) DeviceStreamFormat(id ObjectID) (StreamFormat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.ObjectID == id {
			return Canonical(s.rate), nil
		}
	}
	return StreamFormat{}, ErrInvalidObject
}

func (s *Simulator) DeviceBufferFrames(id ObjectID) (int, error) {
	return s.bufFrames, nil
}

func (s *Simulator) DeviceVolume(id ObjectID) (float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.ObjectID == id {
			if v, ok := s.devVolume[d.UID]; ok {
				return v, nil
			}
			return 1, nil
		}
	}
	return 0, ErrInvalidObject
}

func (s *Simulator) DeviceMuted(id ObjectID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.ObjectID == id {
			return s.devMuted[d.UID], nil
		}
	}
	return false, ErrInvalidObject
}

func (s *Simulator) Processes() ([]App, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]App, len(s.apps))
	copy(out, s.apps)
	return out, nil
}

// ---- AudioSystem: resource lifecycle ----

func (s *Simulator) CreateProcessTap(app App, mute MuteBehavior) (TapRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("CreateProcessTap"); err != nil {
		return TapRef{}, err
	}
	format, ok := s.capFormats[app.PID]
	if !ok {
		format = Canonical(s.rate)
	}
	id := s.alloc()
	ref := TapRef{ID: id, Format: format}
	s.taps[id] = &simTap{ref: ref, app: app, mute: mute}
	return ref, nil
}

func (s *Simulator) SetTapMuteBehavior(tap TapRef, mute MuteBehavior) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("SetTapMuteBehavior"); err != nil {
		return err
	}
	t, ok := s.taps[tap.ID]
	if !ok || t.gone {
		return ErrInvalidObject
	}
	t.mute = mute
	return nil
}

func (s *Simulator) DestroyTap(tap TapRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.taps[tap.ID]
	if !ok || t.gone {
		return ErrInvalidObject
	}
	t.gone = true
	delete(s.taps, tap.ID)
	return nil
}

func (s *Simulator) CreateAggregate(name, uid, deviceUID string, tap TapRef) (AggregateRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("CreateAggregate"); err != nil {
		return AggregateRef{}, err
	}
	found := false
	for _, d := range s.devices {
		if d.UID == deviceUID {
			found = true
			break
		}
	}
	if !found {
		return AggregateRef{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, deviceUID)
	}
	if _, ok := s.taps[tap.ID]; !ok {
		return AggregateRef{}, ErrInvalidObject
	}
	id := s.alloc()
	ref := AggregateRef{ID: id, Name: name, UID: uid}
	s.aggs[id] = &simAgg{ref: ref, deviceUID: deviceUID, tapID: tap.ID}
	return ref, nil
}

func (s *Simulator) DestroyAggregate(agg AggregateRef) error {
	return s.DestroyAggregateID(agg.ID)
}

func (s *Simulator) DestroyAggregateID(id ObjectID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.aggs[id]
	if !ok || a.gone {
		return ErrInvalidObject
	}
	a.gone = true
	delete(s.aggs, id)
	return nil
}

func (s *Simulator) AggregatesByPrefix(prefix string) ([]AggregateRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AggregateRef
	for _, a := range s.aggs {
		if len(a.ref.Name) >= len(prefix) && a.ref.Name[:len(prefix)] == prefix {
			out = append(out, a.ref)
		}
	}
	return out, nil
}

func (s *Simulator) CreateIOProc(agg AggregateRef, proc IOProc) (IOProcRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.takeFailure("CreateIOProc"); err != nil {
		return IOProcRef{}, err
	}
	a, ok := s.aggs[agg.ID]
	if !ok || a.gone {
		return IOProcRef{}, ErrInvalidObject
	}
	tap, ok := s.taps[a.tapID]
	if !ok {
		return IOProcRef{}, ErrInvalidObject
	}
	id := s.alloc()
	s.procs[id] = &simProc{
		ref:   IOProcRef{ID: id},
		aggID: agg.ID,
		fn:    proc,
		in:    make([]float32, s.bufFrames*tap.ref.Format.Channels),
		out:   make([]float32, s.bufFrames*2),
	}
	return IOProcRef{ID: id}, nil
}

func (s *Simulator) StartIOProc(ref IOProcRef) error {
	return s.setProcRunning(ref, true)
}

func (s *Simulator) StopIOProc(ref IOProcRef) error {
	return s.setProcRunning(ref, false)
}

func (s *Simulator) setProcRunning(ref IOProcRef, running bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[ref.ID]
	if !ok || p.gone {
		return ErrInvalidObject
	}
	p.running = running
	return nil
}

func (s *Simulator) DestroyIOProc(ref IOProcRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.procs[ref.ID]
	if !ok || p.gone {
		return ErrInvalidObject
	}
	p.gone = true
	delete(s.procs, ref.ID)
	return nil
}

func (s *Simulator) Events() <-chan Event { return s.events }

func (s *Simulator) alloc() ObjectID {
	id := s.nextID
	s.nextID++
	return id
}

// ---- test/demo mutators ----

// AddDevice hotplugs a device and emits DeviceListChanged.
func (s *Simulator) AddDevice(d Device) {
	s.mu.Lock()
	if d.ObjectID == UnknownObject {
		d.ObjectID = s.alloc()
	}
	s.devices = append(s.devices, d)
	s.mu.Unlock()
	s.emit(DeviceListChanged{})
}

// RemoveDevice unplugs a device. Emits DeviceListChanged, and
// DefaultDeviceChanged if the default moved.
func (s *Simulator) RemoveDevice(uid string) {
	s.mu.Lock()
	kept := s.devices[:0]
	for _, d := range s.devices {
		if d.UID != uid {
			kept = append(kept, d)
		}
	}
	s.devices = kept
	defaultMoved := ""
	if s.defaultUID == uid && len(s.devices) > 0 {
		s.defaultUID = s.devices[0].UID
		defaultMoved = s.defaultUID
	}
	s.mu.Unlock()
	s.emit(DeviceListChanged{})
	if defaultMoved != "" {
		s.emit(DefaultDeviceChanged{UID: defaultMoved})
	}
}

// SetDefaultDevice moves the system default and emits DefaultDeviceChanged.
func (s *Simulator) SetDefaultDevice(uid string) {
	s.mu.Lock()
	s.defaultUID = uid
	s.mu.Unlock()
	s.emit(DefaultDeviceChanged{UID: uid})
}

// SetProcesses replaces the process inventory and emits ProcessListChanged.
func (s *Simulator) SetProcesses(apps ...App) {
	s.mu.Lock()
	s.apps = append(s.apps[:0], apps...)
	s.mu.Unlock()
	s.emit(ProcessListChanged{})
}

// RestartService invalidates every live handle and emits ServiceRestarted.
func (s *Simulator) RestartService() {
	s.mu.Lock()
	for id, t := range s.taps {
		t.gone = true
		delete(s.taps, id)
	}
	for id, a := range s.aggs {
		a.gone = true
		delete(s.aggs, id)
	}
	for id, p := range s.procs {
		p.gone = true
		delete(s.procs, id)
	}
	s.mu.Unlock()
	s.emit(ServiceRestarted{})
}

// SetAppLevel sets the amplitude of an app's synthetic source.
func (s *Simulator) SetAppLevel(pid int, level float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[pid] = level
}

// SetTapSilent forces empty capture input for an app while its callbacks
// keep firing. Drives the "broken" health classification.
func (s *Simulator) SetTapSilent(pid int, silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent[pid] = silent
}

// FreezeAggregate stops invoking IO procs on the named aggregate without
// tearing anything down. Drives the "dead"/"stalled" classifications.
func (s *Simulator) FreezeAggregate(uid string, frozen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen[uid] = frozen
}

// SetCaptureFormat overrides the capture format future taps on pid report.
func (s *Simulator) SetCaptureFormat(pid int, f StreamFormat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capFormats[pid] = f
}

// SetDeviceVolume sets a device's hardware volume scalar.
func (s *Simulator) SetDeviceVolume(uid string, v float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devVolume[uid] = v
}

// InjectOrphanAggregate creates an aggregate with no owner, as left behind
// by an abnormal exit. Returns its object ID.
func (s *Simulator) InjectOrphanAggregate(name, uid string) ObjectID {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.alloc()
	s.aggs[id] = &simAgg{ref: AggregateRef{ID: id, Name: name, UID: uid}}
	return id
}

// TapCount returns the number of live taps. Test helper.
func (s *Simulator) TapCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.taps)
}

// AggregateCount returns the number of live aggregates. Test helper.
func (s *Simulator) AggregateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.aggs)
}

// RenderedFrames returns the frames rendered through the aggregate routed
// to deviceUID, summed over its IO procs. Test helper.
func (s *Simulator) RenderedFrames(deviceUID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, a := range s.aggs {
		if a.deviceUID == deviceUID {
			n += a.framesOut
		}
	}
	return n
}

// TapMuteBehavior reports the mute behavior of the live tap for pid.
func (s *Simulator) TapMuteBehavior(pid int) (MuteBehavior, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.taps {
		if t.app.PID == pid {
			return t.mute, true
		}
	}
	return MuteBehaviorUnmuted, false
}

// AggregateDeviceUIDs returns the device each live aggregate is attached to,
// keyed by aggregate UID. Test helper.
func (s *Simulator) AggregateDeviceUIDs() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.aggs))
	for _, a := range s.aggs {
		out[a.ref.UID] = a.deviceUID
	}
	return out
}
