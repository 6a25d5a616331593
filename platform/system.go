package platform

import "errors"

// Errors returned by AudioSystem implementations.
var (
	ErrDeviceNotFound  = errors.New("platform: device not found")
	ErrInvalidObject   = errors.New("platform: invalid audio object")
	ErrServiceRestart  = errors.New("platform: audio service restarted")
	ErrTapUnsupported  = errors.New("platform: process tap unsupported for app")
	ErrAggregateExists = errors.New("platform: aggregate already exists")
)

// MuteBehavior controls what happens to an application's original route
// while its tap is capturing.
type MuteBehavior int

const (
	// MuteBehaviorUnmuted leaves the original stream audible. Used until
	// tap permission is confirmed, so a kill mid-grant cannot permanently
	// silence the app.
	MuteBehaviorUnmuted MuteBehavior = iota

	// MuteBehaviorMuted silences the original route; only the re-emitted
	// stream is heard.
	MuteBehaviorMuted
)

// IOProc is the real-time render callback. in holds the tap's captured
// samples laid out per the tap's capture format; out is the aggregate's
// render buffer in canonical layout with the same frame count.
//
// The OS invokes it at fixed cadence on a high-priority thread. It must not
// block, allocate, or lock; it communicates with the rest of the process
// only through aligned scalar reads and writes.
type IOProc func(in, out []float32, frames int)

// TapRef is a live process-tap resource.
type TapRef struct {
	ID     ObjectID
	Format StreamFormat
}

// AggregateRef is a live private mixing group combining one real output
// device with a tap.
type AggregateRef struct {
	ID   ObjectID
	Name string
	UID  string
}

// IOProcRef is a registered render callback on an aggregate.
type IOProcRef struct {
	ID ObjectID
}

// AudioSystem is the platform audio layer consumed by the routing core.
// All calls may block briefly; DestroyAggregate in particular can take
// hundreds of milliseconds and is dispatched to worker goroutines by
// callers. Implementations must be safe for concurrent use.
type AudioSystem interface {
	// Devices returns the current output device inventory.
	Devices() ([]Device, error)
	// DeviceByUID resolves a durable UID to the live device.
	DeviceByUID(uid string) (Device, error)
	// DefaultDeviceUID returns the UID of the system default output.
	DefaultDeviceUID() (string, error)
	// DeviceStreamFormat returns the device's output stream format.
	DeviceStreamFormat(id ObjectID) (StreamFormat, error)
	// DeviceBufferFrames returns the device IO buffer size in frames.
	DeviceBufferFrames(id ObjectID) (int, error)
	// DeviceVolume returns the device output volume scalar in [0,1].
	DeviceVolume(id ObjectID) (float32, error)
	// DeviceMuted reports the device hardware mute state.
	DeviceMuted(id ObjectID) (bool, error)

	// Processes returns the audio-producing application inventory.
	Processes() ([]App, error)

	// CreateProcessTap captures app's audio before hardware render.
	CreateProcessTap(app App, mute MuteBehavior) (TapRef, error)
	// SetTapMuteBehavior changes the mute policy of a live tap.
	SetTapMuteBehavior(tap TapRef, mute MuteBehavior) error
	// DestroyTap releases a tap.
	DestroyTap(tap TapRef) error

	// CreateAggregate builds a private mixing group containing tap and the
	// device identified by deviceUID.
	CreateAggregate(name, uid, deviceUID string, tap TapRef) (AggregateRef, error)
	// DestroyAggregate tears down a mixing group. Slow.
	DestroyAggregate(agg AggregateRef) error
	// DestroyAggregateID tears down a mixing group by bare object ID.
	// Async-signal-safe in the CoreAudio binding; the crash handler calls it.
	DestroyAggregateID(id ObjectID) error
	// AggregatesByPrefix lists mixing groups whose name starts with prefix.
	// Used to sweep orphans left by a prior abnormal exit.
	AggregatesByPrefix(prefix string) ([]AggregateRef, error)

	// CreateIOProc registers proc as the render callback of agg.
	CreateIOProc(agg AggregateRef, proc IOProc) (IOProcRef, error)
	StartIOProc(ref IOProcRef) error
	StopIOProc(ref IOProcRef) error
	DestroyIOProc(ref IOProcRef) error

	// Events is the single notification dispatch channel.
	Events() <-chan Event
}
