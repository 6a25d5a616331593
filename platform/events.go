package platform

// Event is a change notification from the audio subsystem. Exactly one
// concrete variant is delivered per event; all notifications flow through a
// single dispatch channel so consumers can reason about ordering.
type Event interface {
	event()
}

// DeviceListChanged fires when an output device appears or disappears.
type DeviceListChanged struct{}

// DefaultDeviceChanged fires when the system default output changes.
// UID names the new default.
type DefaultDeviceChanged struct {
	UID string
}

// ServiceRestarted fires after the OS audio service restarts. Every ObjectID
// issued before this event is invalid.
type ServiceRestarted struct{}

// ProcessListChanged fires when the set of audio-producing processes changes.
type ProcessListChanged struct{}

func (DeviceListChanged) event()    {}
func (DefaultDeviceChanged) event() {}
func (ServiceRestarted) event()     {}
func (ProcessListChanged) event()   {}
